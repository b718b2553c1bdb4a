package relm

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// ParsedResponse is the typed view of one raw model response. All text
// heuristics live in this file; the rest of the system consumes only the
// typed results.
type ParsedResponse struct {
	// ToolCalls holds every recognized tool-call block, in order of
	// appearance.
	ToolCalls []ToolCall

	// JSONCandidate is the substring heuristically identified as the
	// model's structured answer, or "" when none was found.
	JSONCandidate string

	// Residual is the original text with all recognized tool-call blocks
	// removed and whitespace trimmed.
	Residual string
}

// toolBlockRe matches one delimited tool-call block. The block format is the
// wire protocol between PromptBuilder (which instructs the model to emit it)
// and this parser; see RenderToolCall for the canonical form.
var toolBlockRe = regexp.MustCompile(`(?s)<tool>\s*(.*?)\s*</tool>`)

// ParseResponse scans raw model output for tool-call blocks and a JSON
// object candidate. It is total: any input yields a ParsedResponse, never an
// error. Unrecognizable blocks are skipped, unparseable values fall back to
// strings.
func ParseResponse(raw string) *ParsedResponse {
	parsed := &ParsedResponse{}

	for _, match := range toolBlockRe.FindAllStringSubmatch(raw, -1) {
		call, ok := parseToolBlock(match[1])
		if ok {
			parsed.ToolCalls = append(parsed.ToolCalls, call)
		}
	}

	parsed.Residual = strings.TrimSpace(toolBlockRe.ReplaceAllString(raw, ""))
	parsed.JSONCandidate = extractJSONCandidate(parsed.Residual)
	return parsed
}

// parseToolBlock parses the inside of one <tool> block:
//
//	name: <tool name>
//	parameters:
//	  <param>: <value>
//
// Lines before "parameters:" may carry the name; lines after it are
// key: value pairs. Blocks without a name are ignored.
func parseToolBlock(body string) (ToolCall, bool) {
	call := ToolCall{Args: make(map[string]any)}
	inParams := false

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if !inParams {
			if trimmed == "parameters:" {
				inParams = true
				continue
			}
			if rest, ok := strings.CutPrefix(trimmed, "name:"); ok {
				call.Name = strings.TrimSpace(rest)
			}
			continue
		}

		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		call.Args[key] = CoerceValue(strings.TrimSpace(value))
	}

	if call.Name == "" {
		return ToolCall{}, false
	}
	return call, true
}

// CoerceValue converts a raw parameter value string into a typed value:
//
//   - a value wrapped in matching quotes: string with the quotes stripped
//   - "true"/"false" (case-insensitive): bool
//   - a numeric literal: float64
//   - a value starting with "[" or "{": parsed as JSON, falling back to the
//     raw string on failure
//   - anything else: the raw string unchanged
//
// The coercion is purely syntactic, deterministic, and total.
func CoerceValue(raw string) any {
	if len(raw) >= 2 {
		first, last := raw[0], raw[len(raw)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return raw[1 : len(raw)-1]
		}
	}

	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}

	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}

	if strings.HasPrefix(raw, "[") || strings.HasPrefix(raw, "{") {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v
		}
		return raw
	}

	return raw
}

// extractJSONCandidate locates the substring between the first "{" and the
// last "}" in the text.
//
// This is a deliberate heuristic, not a balanced-brace parser: a literal "}"
// inside a JSON string value followed by later prose can produce an incorrect
// span. The loop treats a bad span as a parse failure and retries with a
// corrective reminder, so the heuristic stays simple here.
func extractJSONCandidate(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
