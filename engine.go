package relm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/relmkit/relm/schema"
)

// Result is the terminal outcome of one reconciliation run. It is returned
// to the caller and never mutated afterwards.
type Result struct {
	// Text is the final response text. When a schema was supplied and
	// validation succeeded, Text is the matched JSON substring.
	Text string

	// Parsed is the validated JSON object. Set only when a schema was
	// supplied and validation succeeded.
	Parsed map[string]any

	// ValidationErr describes why validation ultimately failed. Set only
	// when a schema was supplied and the attempt budget was exhausted.
	ValidationErr string

	// ToolCalls records every dispatched tool call across all attempts,
	// in execution order.
	ToolCalls []ToolCallRecord

	// Usage is the token usage summed over every generation call made
	// during the run, when the transport reports it.
	Usage TokenUsage
}

// engine runs the reconciliation loop for a single call: build the prompt,
// generate, dispatch tool calls, re-prompt with tool results, and validate
// the JSON answer against the schema, retrying with corrective reminders up
// to the attempt budget.
//
// The loop is iterative rather than recursive: one accumulator (the Result
// plus the reminder list) is threaded through the attempts, keeping stack
// depth bounded and cancellation checks straightforward.
type engine struct {
	model    Model
	registry *Registry
	config   Config
	hooks    *Hooks
}

// run executes the loop. When sch is nil the raw response text is returned
// after tool dispatch; transport exhaustion is then an *ExecutionError.
// When sch is non-nil, every model-caused failure (transport, missing or
// malformed JSON, schema mismatch) is retried while attempts remain and
// reported via Result.ValidationErr once the budget is exhausted.
func (e *engine) run(ctx context.Context, prompt string, sch *schema.Schema) (*Result, error) {
	tools := e.registry.List()

	base := prompt
	if instructions := BuildInstructions(tools, sch); instructions != "" {
		base = prompt + "\n\n" + instructions
	}

	res := &Result{}

	// Corrective reminders accumulate across attempts; each retry appends,
	// never replaces, so the model keeps the full failure context.
	var reminders []string

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		full := base
		for _, r := range reminders {
			full += "\n\n" + r
		}

		resp, err := e.generate(ctx, full, attempt, res)
		if err != nil {
			terminal, xerr := e.generationFailed(ctx, err, attempt, res, sch, &reminders)
			if xerr != nil {
				return nil, xerr
			}
			if terminal {
				return res, nil
			}
			continue
		}

		parsed := ParseResponse(resp.Text)
		text := resp.Text

		// Tool dispatch. The results are folded into one follow-up
		// generation with tool use disabled, so a single turn can never
		// loop on tool invocations.
		if len(parsed.ToolCalls) > 0 && len(tools) > 0 {
			records := e.dispatch(ctx, parsed.ToolCalls, res)

			follow, ferr := e.generate(ctx, e.followUpPrompt(prompt, sch, records, reminders), attempt, res)
			if ferr != nil {
				terminal, xerr := e.generationFailed(ctx, ferr, attempt, res, sch, &reminders)
				if xerr != nil {
					return nil, xerr
				}
				if terminal {
					return res, nil
				}
				continue
			}
			text = follow.Text
			// Tool use is disabled for the follow-up; any markers the
			// model still emits are not dispatched.
			parsed = ParseResponse(text)
		}

		res.Text = text

		if sch == nil {
			return res, nil
		}

		retry, terminalErr := validate(parsed, sch, res)
		if terminalErr == "" && retry == "" {
			return res, nil
		}
		if attempt < e.config.MaxAttempts {
			reminders = append(reminders, retry)
			continue
		}
		res.ValidationErr = terminalErr
		return res, nil
	}

	return nil, fmt.Errorf("%w: %d", ErrMaxAttemptsExceeded, e.config.MaxAttempts)
}

// generate performs one generation call, firing hooks and accumulating
// token usage onto the result.
func (e *engine) generate(ctx context.Context, prompt string, attempt int, res *Result) (*GenerationResponse, error) {
	e.hooks.fireBeforeGenerate(attempt, prompt)

	resp, err := e.model.Generate(ctx, GenerationRequest{
		Prompt:      prompt,
		Model:       e.config.Model,
		Temperature: e.config.Temperature,
		MaxTokens:   e.config.MaxTokens,
	})

	e.hooks.fireAfterGenerate(attempt, resp, err)

	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("model returned an empty response")
	}
	res.Usage.add(resp.Usage)
	return resp, nil
}

// generationFailed decides what a transport failure means for the current
// attempt. Cancellation unwinds immediately as an *ExecutionError. While
// attempts remain the failure is appended as a reminder and retried
// (terminal=false). On exhaustion, schema runs report the failure on the
// result (terminal=true); raw runs return the error to the caller.
func (e *engine) generationFailed(
	ctx context.Context,
	err error,
	attempt int,
	res *Result,
	sch *schema.Schema,
	reminders *[]string,
) (bool, error) {
	if ctx.Err() != nil {
		return false, &ExecutionError{Op: "generate", Err: err}
	}
	if attempt < e.config.MaxAttempts {
		*reminders = append(*reminders, fmt.Sprintf(
			"The previous generation attempt failed (%v). Answer the original request again.", err))
		return false, nil
	}
	if sch == nil {
		return false, &ExecutionError{Op: "generate", Err: err}
	}
	res.ValidationErr = fmt.Sprintf("generation failed after %d attempts: %v", e.config.MaxAttempts, err)
	return true, nil
}

// dispatch executes the extracted tool calls sequentially, in order of
// appearance, bounded by MaxToolCallsPerTurn. Calls beyond the limit are
// silently dropped. Every outcome is recorded on the result; tool failures
// never abort the turn.
func (e *engine) dispatch(ctx context.Context, calls []ToolCall, res *Result) []ToolCallRecord {
	if limit := e.config.MaxToolCallsPerTurn; limit > 0 && len(calls) > limit {
		calls = calls[:limit]
	}

	records := make([]ToolCallRecord, 0, len(calls))
	for _, call := range calls {
		result := e.registry.Execute(ctx, call)
		e.hooks.fireAfterToolCall(call, result)

		rec := ToolCallRecord{Name: call.Name, Args: call.Args, Result: result}
		records = append(records, rec)
		res.ToolCalls = append(res.ToolCalls, rec)
	}
	return records
}

// followUpPrompt renders the prompt for the post-dispatch generation: the
// original prompt, schema instructions only (no tool catalog), the executed
// tool calls with their results, and any accumulated reminders.
func (e *engine) followUpPrompt(
	prompt string,
	sch *schema.Schema,
	records []ToolCallRecord,
	reminders []string,
) string {
	var sb strings.Builder
	sb.WriteString(prompt)

	if instructions := BuildInstructions(nil, sch); instructions != "" {
		sb.WriteString("\n\n")
		sb.WriteString(instructions)
	}

	sb.WriteString("\n\nThe tool calls you requested have been executed:\n")
	for _, rec := range records {
		fmt.Fprintf(&sb, "\n- %s(%s) -> %s", rec.Name, renderJSON(rec.Args), renderToolResult(rec.Result))
	}
	sb.WriteString("\n\nUse these results to answer. Do not request any more tool calls.")

	for _, r := range reminders {
		sb.WriteString("\n\n")
		sb.WriteString(r)
	}
	return sb.String()
}

// validate checks the parsed response against the schema. It returns either
// nothing (success: res.Parsed and res.Text are set), or the reminder to
// retry with paired with the terminal error to report if no attempts remain.
func validate(parsed *ParsedResponse, sch *schema.Schema, res *Result) (retry, terminal string) {
	if parsed.JSONCandidate == "" {
		return "Your previous response did not contain a JSON object. " +
				"Respond with a single JSON object, starting with { and ending with }.",
			"no JSON object found in response"
	}

	var value map[string]any
	if err := json.Unmarshal([]byte(parsed.JSONCandidate), &value); err != nil {
		return fmt.Sprintf("The JSON object in your previous response was malformed (%v). "+
				"Respond with a single well-formed JSON object.", err),
			fmt.Sprintf("response JSON failed to parse: %v", err)
	}

	fieldErrs := sch.Validate(value)
	if len(fieldErrs) > 0 {
		var sb strings.Builder
		sb.WriteString("Your previous response failed validation:\n")
		for _, fe := range fieldErrs {
			sb.WriteString("- ")
			sb.WriteString(fe.String())
			sb.WriteString("\n")
		}
		sb.WriteString("Correct every listed field and respond with only the JSON object.")
		return sb.String(), "schema validation failed: " + joinFieldErrors(fieldErrs)
	}

	res.Parsed = value
	res.Text = parsed.JSONCandidate
	return "", ""
}

func joinFieldErrors(errs []schema.FieldError) string {
	parts := make([]string, len(errs))
	for i, fe := range errs {
		parts[i] = fe.String()
	}
	return strings.Join(parts, "; ")
}

func renderToolResult(r ToolResult) string {
	if !r.OK {
		return "error: " + r.Err
	}
	return renderJSON(r.Data)
}

func renderJSON(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(encoded)
}
