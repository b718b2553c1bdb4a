package relm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/relmkit/relm/schema"
)

// BuildInstructions renders the instruction block describing the available
// tools and, when a schema is supplied, the required shape of the final JSON
// answer. Tool instructions precede schema instructions; with both present
// the model is told to use tools first and then emit only the final JSON.
//
// Pure function of its inputs: no side effects, deterministic output.
func BuildInstructions(tools []*Tool, sch *schema.Schema) string {
	var sb strings.Builder

	if len(tools) > 0 {
		writeToolInstructions(&sb, tools)
	}
	if sch != nil {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		writeSchemaInstructions(&sb, sch)
	}
	if len(tools) > 0 && sch != nil {
		sb.WriteString("\nUse tools first if you need them. ")
		sb.WriteString("Once you have the tool results, reply with only the final JSON object.\n")
	}

	return sb.String()
}

func writeToolInstructions(sb *strings.Builder, tools []*Tool) {
	sb.WriteString("You have access to the following tools:\n")

	for _, t := range tools {
		fmt.Fprintf(sb, "\n- %s: %s\n", t.Name, t.Description)
		if len(t.Parameters) == 0 {
			continue
		}
		sb.WriteString("  parameters:\n")
		for _, p := range t.Parameters {
			fmt.Fprintf(sb, "    - %s (%s, %s)", p.Name, paramTypeLabel(p), requiredLabel(p.Required))
			if p.Description != "" {
				sb.WriteString(": ")
				sb.WriteString(p.Description)
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nTo invoke a tool, emit a block in exactly this format:\n\n")
	sb.WriteString("<tool>\nname: <tool name>\nparameters:\n  <param>: <value>\n</tool>\n")

	// Concrete example rendered from the first tool, so the model sees the
	// exact block the parser expects back.
	sb.WriteString("\nFor example:\n\n")
	sb.WriteString(RenderToolCall(exampleCall(tools[0])))
	sb.WriteString("\n")

	sb.WriteString("\nEmit one block per invocation. ")
	sb.WriteString("Do not abbreviate the format, rename its fields, or wrap it in any other markup.\n")
}

func writeSchemaInstructions(sb *strings.Builder, sch *schema.Schema) {
	sb.WriteString("Your final answer must be a single JSON object with these fields:\n\n")

	for _, f := range sch.Fields() {
		fmt.Fprintf(sb, "- %s (%s, %s)", f.Path, f.Type, requiredLabel(f.Required))
		if f.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(f.Description)
		}
		if len(f.Enum) > 0 {
			literals := make([]string, len(f.Enum))
			for i, v := range f.Enum {
				literals[i] = renderValue(v)
			}
			fmt.Fprintf(sb, " (must be one of: %s)", strings.Join(literals, ", "))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nOutput rules:\n")
	sb.WriteString("- Reply with exactly one JSON object, starting with { and ending with }.\n")
	sb.WriteString("- No prose, headings, or explanations before or after the object.\n")
	sb.WriteString("- No comments inside the object.\n")
	sb.WriteString("- Field types must match the list above exactly.\n")
}

// RenderToolCall renders a ToolCall as the delimited block the parser
// recognizes. RenderToolCall and ParseResponse round-trip: parsing the
// rendered block yields a call with the same name and parameter mapping.
func RenderToolCall(call ToolCall) string {
	var sb strings.Builder
	sb.WriteString("<tool>\nname: ")
	sb.WriteString(call.Name)
	sb.WriteString("\nparameters:\n")
	for _, key := range sortedKeys(call.Args) {
		fmt.Fprintf(&sb, "  %s: %s\n", key, renderValue(call.Args[key]))
	}
	sb.WriteString("</tool>")
	return sb.String()
}

// renderValue formats a parameter value so that CoerceValue recovers it.
// Strings that would coerce into another type are quoted.
func renderValue(v any) string {
	switch val := v.(type) {
	case string:
		if coerced, ok := CoerceValue(val).(string); ok && coerced == val {
			return val
		}
		return strconv.Quote(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(encoded)
	}
}

// exampleCall builds a sample invocation of t with placeholder values.
func exampleCall(t *Tool) ToolCall {
	call := ToolCall{Name: t.Name, Args: make(map[string]any)}
	for _, p := range t.Parameters {
		switch p.Type {
		case ParamNumber:
			call.Args[p.Name] = float64(42)
		case ParamBoolean:
			call.Args[p.Name] = true
		case ParamArray:
			call.Args[p.Name] = []any{"a", "b"}
		case ParamObject:
			call.Args[p.Name] = map[string]any{"key": "value"}
		default:
			call.Args[p.Name] = "example"
		}
	}
	return call
}

func paramTypeLabel(p Parameter) string {
	if p.Type == ParamArray && p.Items != "" {
		return fmt.Sprintf("array of %s", p.Items)
	}
	if p.Type == "" {
		return "any"
	}
	return string(p.Type)
}

func requiredLabel(required bool) string {
	if required {
		return "required"
	}
	return "optional"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Insertion order is not available on a map; sorted order keeps the
	// rendered block deterministic.
	sort.Strings(keys)
	return keys
}
