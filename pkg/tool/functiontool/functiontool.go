// Package functiontool wraps plain Go functions as callable tools.
//
// The argument schema is derived from the function's typed argument
// struct via reflection, so tools declare their parameters once as a
// struct with json and jsonschema tags.
//
// Example:
//
//	type readArgs struct {
//		Path string `json:"path" jsonschema:"required,description=Relative path to read"`
//	}
//
//	readFile := functiontool.New(functiontool.Config{
//		Name:        "read_file",
//		Description: "Read a file from the project",
//	}, func(ctx context.Context, args readArgs) (string, error) {
//		...
//	})
package functiontool

import (
	"context"
	"fmt"

	"github.com/autoagent/autoagent/pkg/tool"
)

// Config configures a function tool.
type Config struct {
	// Name identifies the tool.
	Name string

	// Description tells the model what the tool does.
	Description string
}

// Handler is the function executed when the tool is called.
type Handler[Args any] func(ctx context.Context, args Args) (string, error)

// Validator checks decoded arguments before the handler runs.
type Validator[Args any] func(args Args) error

type functionTool[Args any] struct {
	name        string
	description string
	schema      map[string]any
	validate    Validator[Args]
	handler     Handler[Args]
}

// New creates a callable tool from a typed handler function.
func New[Args any](cfg Config, handler Handler[Args]) tool.CallableTool {
	return &functionTool[Args]{
		name:        cfg.Name,
		description: cfg.Description,
		schema:      reflectSchema[Args](),
		handler:     handler,
	}
}

// NewWithValidation creates a callable tool whose arguments are checked
// by validate before the handler runs.
func NewWithValidation[Args any](cfg Config, validate Validator[Args], handler Handler[Args]) tool.CallableTool {
	return &functionTool[Args]{
		name:        cfg.Name,
		description: cfg.Description,
		schema:      reflectSchema[Args](),
		validate:    validate,
		handler:     handler,
	}
}

func (f *functionTool[Args]) Name() string {
	return f.name
}

func (f *functionTool[Args]) Description() string {
	return f.description
}

func (f *functionTool[Args]) Schema() map[string]any {
	return f.schema
}

func (f *functionTool[Args]) Call(ctx context.Context, args map[string]any) (string, error) {
	var typed Args
	if err := mapToStruct(args, &typed); err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", f.name, err)
	}
	if f.validate != nil {
		if err := f.validate(typed); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", f.name, err)
		}
	}
	return f.handler(ctx, typed)
}

var _ tool.CallableTool = (*functionTool[struct{}])(nil)
