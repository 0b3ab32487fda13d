// Package tools provides the side-effecting actions agents may request:
// file I/O and shell execution. Tools are registered in a Registry and
// invoked by the action executor after the permission gate clears them.
package tools

import "context"

// Property describes a single parameter property for the tool's JSON
// argument schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
}

// Schema defines the JSON schema for tool arguments.
type Schema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc is the signature for tool execution.
type ExecuteFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool defines one invokable action.
type Tool struct {
	// Name is the unique identifier agents use in requested_actions.
	Name string

	// Description explains what the tool does, for prompts and docs.
	Description string

	// Sensitive marks tools that must clear the permission gate
	// immediately before every execution.
	Sensitive bool

	// ResourceKey derives the permission-gate key from the arguments.
	// Required for sensitive tools.
	ResourceKey func(args map[string]any) string

	// Execute runs the tool.
	Execute ExecuteFunc

	// Schema describes the expected arguments.
	Schema Schema
}

// Validate checks that a tool definition is usable.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrMissingName
	}
	if t.Execute == nil {
		return ErrMissingExecute
	}
	if t.Sensitive && t.ResourceKey == nil {
		return ErrMissingResourceKey
	}
	return nil
}
