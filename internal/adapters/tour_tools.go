package adapters

import (
	"context"

	nomadly "github.com/StrawberryAcai/Nomadly.backend"
	"github.com/StrawberryAcai/Nomadly.backend/internal/tools"
)

// Fetcher performs one GET against the tour-data service.
type Fetcher interface {
	Get(ctx context.Context, path string, query map[string]string) (map[string]interface{}, error)
}

// NewTourTool binds a catalog entry to a fetcher. Arguments are checked
// against the entry's rules and turned into the upstream query in one pass
// before any request is made.
func NewTourTool(spec *tools.Spec, fetcher Fetcher) *GoToolAdapter {
	call := func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		query, err := spec.Validate(input)
		if err != nil {
			return nil, err
		}
		return fetcher.Get(ctx, spec.Path, query)
	}

	return NewGoToolAdapter(spec.Name, call,
		WithDescription(spec.Description),
		WithParameters(spec.Definition().Function.Parameters),
	)
}

// NewTourTools builds the tool registry for specs.
func NewTourTools(specs []*tools.Spec, fetcher Fetcher) map[string]nomadly.Tool {
	registry := make(map[string]nomadly.Tool, len(specs))
	for _, spec := range specs {
		registry[spec.Name] = NewTourTool(spec, fetcher)
	}
	return registry
}
