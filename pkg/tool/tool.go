// Package tool defines the tool abstraction used by the agent loop.
//
// A tool is a named capability the model can invoke during a run. Tools
// receive their arguments as a decoded JSON object and return a plain
// string result that is fed back into the conversation. Execution
// failures are returned as errors and materialized into the result
// string by the caller, so a misbehaving tool never aborts a run.
package tool

import (
	"context"
)

// Tool is the minimal interface all tools implement.
type Tool interface {
	// Name returns the tool's unique name.
	Name() string

	// Description returns a human-readable description of the tool.
	Description() string
}

// CallableTool is a tool that can be invoked directly with arguments.
type CallableTool interface {
	Tool

	// Call invokes the tool with the given arguments and returns the
	// result text. The context carries the run's cancellation signal.
	Call(ctx context.Context, args map[string]any) (string, error)

	// Schema returns the JSON schema describing the tool's arguments.
	Schema() map[string]any
}

// Definition is the provider-facing description of a tool, sent to the
// LLM so it can emit structured tool calls.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToDefinition converts a callable tool into its wire definition.
func ToDefinition(t CallableTool) Definition {
	return Definition{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.Schema(),
	}
}

// readOnlyNames is the closed set of tools that may run concurrently
// and bypass operator approval. Membership is fixed here rather than
// self-reported by tools, so an external tool can never claim the
// read-only fast path by naming convention.
var readOnlyNames = map[string]bool{
	"read_file":      true,
	"search_code":    true,
	"glob_files":     true,
	"list_directory": true,
}

// IsReadOnly reports whether the named tool is in the closed read-only
// set. Everything else, including all MCP tools, is treated as mutating.
func IsReadOnly(name string) bool {
	return readOnlyNames[name]
}
