package adapters

import (
	"context"
	"fmt"

	nomadly "github.com/StrawberryAcai/Nomadly.backend"
	"github.com/ZanzyTHEbar/errbuilder-go"
)

// GoToolAdapter adapts a standard Go function to the nomadly.Tool interface.
type GoToolAdapter struct {
	toolFunc    func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
	name        string
	description string
	parameters  map[string]interface{}
	validator   func(map[string]interface{}) error
}

// ToolOption represents an option for configuring a GoToolAdapter.
type ToolOption func(*GoToolAdapter)

// WithValidator sets a custom validator function for the tool.
func WithValidator(validator func(map[string]interface{}) error) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.validator = validator
	}
}

// WithDescription sets the description shown to the model.
func WithDescription(description string) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.description = description
	}
}

// WithParameters sets the JSON schema of the tool's arguments.
func WithParameters(schema map[string]interface{}) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.parameters = schema
	}
}

// NewGoToolAdapter creates a new adapter for a Go function.
func NewGoToolAdapter(
	name string,
	toolFunc func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error),
	options ...ToolOption) *GoToolAdapter {

	adapter := &GoToolAdapter{
		toolFunc:   toolFunc,
		name:       name,
		parameters: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		validator: func(input map[string]interface{}) error {
			if input == nil {
				return errbuilder.GenericErr("input cannot be nil", nil)
			}
			return nil
		},
	}

	for _, option := range options {
		option(adapter)
	}

	return adapter
}

// Execute validates input and runs the wrapped function.
func (a *GoToolAdapter) Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if a.toolFunc == nil {
		return nil, errbuilder.GenericErr("tool function is nil", nil)
	}

	if err := a.Validate(input); err != nil {
		return nil, fmt.Errorf("input validation failed for %s: %w", a.name, err)
	}

	return a.toolFunc(ctx, input)
}

// Definition implements the nomadly.Tool interface.
func (a *GoToolAdapter) Definition() nomadly.ToolDefinition {
	return nomadly.ToolDefinition{
		Type: "function",
		Function: nomadly.FunctionDefinition{
			Name:        a.name,
			Description: a.description,
			Parameters:  a.parameters,
		},
	}
}

// Validate implements the nomadly.Tool interface.
func (a *GoToolAdapter) Validate(input map[string]interface{}) error {
	if a.validator != nil {
		return a.validator(input)
	}
	return nil
}

// Name implements the nomadly.Tool interface.
func (a *GoToolAdapter) Name() string {
	return a.name
}
