package nomadly

import "context"

// ModelClient sends a conversation to the language model and returns its raw response.
// Implementations keep no state between calls and never retry.
type ModelClient interface {
	CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Tool represents one external data operation the model may call.
type Tool interface {
	// Execute performs the tool's action with the model-supplied arguments.
	Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

	// Definition returns the declaration passed to the model.
	Definition() ToolDefinition

	// Validate checks the arguments against the tool's parameter rules.
	Validate(args map[string]interface{}) error

	// Name returns the tool's name.
	Name() string
}

// Cache memoizes tool results keyed by tool name and arguments.
type Cache interface {
	Get(ctx context.Context, name string, args map[string]interface{}) (interface{}, bool)
	Set(ctx context.Context, name string, args map[string]interface{}, value interface{})
}

// ToolSession runs the model's tool calls for a single plan run.
// It holds an external client and must be closed when the run ends.
type ToolSession interface {
	ConsumeToolCalls(ctx context.Context, msg Message) ([]Message, error)
	Close() error
}

// ToolSessionFactory opens a fresh ToolSession for each plan run.
type ToolSessionFactory func(ctx context.Context) (ToolSession, error)
