package relm

import (
	"context"
)

// ParamType is the closed set of parameter types a tool may declare.
// Values produced by the parser are tagged with the corresponding Go types:
// string, float64, bool, []any, map[string]any.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
	ParamObject  ParamType = "object"
)

// Parameter describes a single tool parameter as advertised to the model.
type Parameter struct {
	// Name is the parameter's key in the tool-call block.
	Name string

	// Type is the declared parameter type.
	Type ParamType

	// Description is shown to the model in the tool catalog.
	Description string

	// Required marks the parameter as mandatory. Registry.Execute rejects
	// calls that omit a required parameter without invoking the tool.
	Required bool

	// Items is the element type when Type is ParamArray. Optional.
	Items ParamType
}

// ToolFunc is the execution capability of a tool. It receives the parsed
// parameter mapping and returns the tool's output or an error. Errors and
// panics are caught by the Registry and reported as failed results; they
// never abort the reconciliation loop.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool is a named, described capability the model may request invocation of.
//
// Responsibility design, mirrored from the prompt/parse split:
//   - Tool: accept a parameter mapping, execute logic, return raw output
//   - PromptBuilder: describe the tool and the exact call format to the model
//   - ResponseParser: turn the model's text back into ToolCall values
//
// Tools should focus on business logic only; parameter presence validation
// and error wrapping are handled by the Registry.
type Tool struct {
	// Name is the tool's identifier used in tool-call blocks.
	// Must be unique within a Registry and non-empty.
	Name string

	// Description is a human-readable description for the model.
	Description string

	// Parameters is the ordered parameter list.
	Parameters []Parameter

	// Execute runs the tool. Must not be nil.
	Execute ToolFunc
}

// NewTool creates a Tool from a function.
func NewTool(name, description string, params []Parameter, fn ToolFunc) *Tool {
	return &Tool{
		Name:        name,
		Description: description,
		Parameters:  params,
		Execute:     fn,
	}
}

// ToolCall is a parsed tool invocation request extracted from model output.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ToolResult is the terminal outcome of executing one tool call.
// It is never mutated after creation.
type ToolResult struct {
	// OK reports whether the tool executed successfully.
	OK bool

	// Data is the tool's output. Set only when OK is true.
	Data any

	// Err describes the failure. Set only when OK is false.
	Err string
}

// ToolCallRecord pairs a tool call with its execution result, in the order
// the calls appeared in the model's output.
type ToolCallRecord struct {
	Name   string
	Args   map[string]any
	Result ToolResult
}
