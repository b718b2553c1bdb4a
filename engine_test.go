package relm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relmkit/relm/schema"
)

// scriptedModel replays a fixed sequence of responses. When the script runs
// out, the last entry repeats. It records every prompt it was sent.
type scriptedModel struct {
	script  []scriptedTurn
	prompts []string
}

type scriptedTurn struct {
	text string
	err  error
}

func (m *scriptedModel) Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.prompts = append(m.prompts, req.Prompt)

	i := len(m.prompts) - 1
	if i >= len(m.script) {
		i = len(m.script) - 1
	}
	turn := m.script[i]
	if turn.err != nil {
		return nil, turn.err
	}
	return &GenerationResponse{
		Text:  turn.text,
		Usage: &TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}

func (m *scriptedModel) calls() int {
	return len(m.prompts)
}

func respond(texts ...string) *scriptedModel {
	m := &scriptedModel{}
	for _, text := range texts {
		m.script = append(m.script, scriptedTurn{text: text})
	}
	return m
}

func personSchema(t *testing.T) *schema.Schema {
	t.Helper()
	return schema.MustCompile(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"age":  map[string]any{"type": "number"},
		},
		"required": []string{"name", "age"},
	})
}

func TestAgent_ValidationSucceedsFirstAttempt(t *testing.T) {
	model := respond(`{"name":"John","age":30}`)
	agent := New(model, Config{})

	res, err := agent.GenerateWithSchema(context.Background(), personSchema(t), Request{
		Prompt: "Describe John.",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, model.calls(), "a valid first answer needs exactly one generation call")
	assert.Empty(t, res.ValidationErr)
	assert.Equal(t, map[string]any{"name": "John", "age": float64(30)}, res.Parsed)
	assert.Equal(t, `{"name":"John","age":30}`, res.Text)
}

func TestAgent_RetryBudgetExhaustedOnNonJSON(t *testing.T) {
	for _, k := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("maxAttempts=%d", k), func(t *testing.T) {
			model := respond("I am unable to produce JSON today.")
			agent := New(model, Config{MaxAttempts: k})

			res, err := agent.GenerateWithSchema(context.Background(), personSchema(t), Request{
				Prompt: "Describe John.",
			})

			require.NoError(t, err)
			assert.Equal(t, k, model.calls(), "budget is inclusive of the first attempt")
			assert.Empty(t, res.Parsed)
			assert.Contains(t, res.ValidationErr, "no JSON object found")
		})
	}
}

func TestAgent_RemindersAccumulateAcrossAttempts(t *testing.T) {
	model := respond("not json")
	agent := New(model, Config{MaxAttempts: 3})

	_, err := agent.GenerateWithSchema(context.Background(), personSchema(t), Request{
		Prompt: "Describe John.",
	})
	require.NoError(t, err)
	require.Equal(t, 3, model.calls())

	reminder := "did not contain a JSON object"
	assert.NotContains(t, model.prompts[0], reminder)
	assert.Equal(t, 1, strings.Count(model.prompts[1], reminder))
	// Appended, never replaced: the third prompt carries both reminders.
	assert.Equal(t, 2, strings.Count(model.prompts[2], reminder))
	assert.Contains(t, model.prompts[2], "Describe John.")
}

func TestAgent_MalformedJSONRetried(t *testing.T) {
	model := respond(`{"name": }`, `{"name":"John","age":30}`)
	agent := New(model, Config{})

	res, err := agent.GenerateWithSchema(context.Background(), personSchema(t), Request{
		Prompt: "Describe John.",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, model.calls())
	assert.Empty(t, res.ValidationErr)
	assert.Equal(t, "John", res.Parsed["name"])
	assert.Contains(t, model.prompts[1], "malformed")
}

func TestAgent_SchemaErrorsListedInReminder(t *testing.T) {
	// First answer misses "age" and mistypes "name"; the reminder must
	// mention both fields, not just the first failure.
	model := respond(`{"name": 12}`, `{"name":"John","age":30}`)
	agent := New(model, Config{})

	res, err := agent.GenerateWithSchema(context.Background(), personSchema(t), Request{
		Prompt: "Describe John.",
	})

	require.NoError(t, err)
	require.Equal(t, 2, model.calls())
	assert.Empty(t, res.ValidationErr)

	reminder := model.prompts[1]
	assert.Contains(t, reminder, "failed validation")
	assert.Contains(t, reminder, "age")
	assert.Contains(t, reminder, "name")
}

func TestAgent_SchemaFailureTerminalAfterBudget(t *testing.T) {
	model := respond(`{"name": 12}`)
	agent := New(model, Config{MaxAttempts: 2})

	res, err := agent.GenerateWithSchema(context.Background(), personSchema(t), Request{
		Prompt: "Describe John.",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, model.calls())
	assert.Empty(t, res.Parsed)
	assert.Contains(t, res.ValidationErr, "schema validation failed")
}

func TestAgent_ToolDispatchThenFollowUp(t *testing.T) {
	toolBlock := "<tool>\nname: parse_customer_id\nparameters:\n  customerid: 1451\n</tool>"
	model := respond(toolBlock, `{"customer_id":"C0001451"}`)

	agent := New(model, Config{})
	require.NoError(t, agent.AddTools(NewTool(
		"parse_customer_id",
		"Normalize a raw customer id",
		[]Parameter{{Name: "customerid", Type: ParamNumber, Required: true}},
		func(ctx context.Context, args map[string]any) (any, error) {
			id, ok := args["customerid"].(float64)
			if !ok {
				return nil, errors.New("customerid must be a number")
			}
			return map[string]any{"customer_id": fmt.Sprintf("C%07d", int(id))}, nil
		},
	)))

	sch := schema.MustCompile(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_id": map[string]any{"type": "string"},
		},
		"required": []string{"customer_id"},
	})

	res, err := agent.GenerateWithSchema(context.Background(), sch, Request{
		Prompt: "Find the canonical id for customer 1451.",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, model.calls(), "one generation plus one follow-up")
	assert.Empty(t, res.ValidationErr)
	assert.Equal(t, "C0001451", res.Parsed["customer_id"])

	require.Len(t, res.ToolCalls, 1)
	rec := res.ToolCalls[0]
	assert.Equal(t, "parse_customer_id", rec.Name)
	assert.Equal(t, float64(1451), rec.Args["customerid"])
	assert.True(t, rec.Result.OK)

	// The follow-up prompt carries the tool result and disables tool use.
	follow := model.prompts[1]
	assert.Contains(t, follow, "C0001451")
	assert.Contains(t, follow, "Do not request any more tool calls")
	assert.NotContains(t, follow, "You have access to the following tools")
}

func TestAgent_RawToolDispatch(t *testing.T) {
	toolBlock := "<tool>\nname: current_time\nparameters:\n</tool>"
	model := respond(toolBlock, "It is noon.")

	agent := New(model, Config{})
	require.NoError(t, agent.AddTools(NewTool("current_time", "Get the time", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return "12:00", nil
		})))

	res, err := agent.Generate(context.Background(), Request{Prompt: "What time is it?"})

	require.NoError(t, err)
	assert.Equal(t, 2, model.calls())
	assert.Equal(t, "It is noon.", res.Text)
	assert.Nil(t, res.Parsed)
	require.Len(t, res.ToolCalls, 1)
	assert.True(t, res.ToolCalls[0].Result.OK)
}

func TestAgent_ToolCallsBeyondLimitDropped(t *testing.T) {
	blocks := strings.Repeat("<tool>\nname: echo\nparameters:\n  text: hi\n</tool>\n", 4)
	model := respond(blocks, "done")

	agent := New(model, Config{MaxToolCallsPerTurn: 2})
	executions := 0
	require.NoError(t, agent.AddTools(NewTool("echo", "Echo", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			executions++
			return args["text"], nil
		})))

	res, err := agent.Generate(context.Background(), Request{Prompt: "spam tools"})

	require.NoError(t, err)
	assert.Equal(t, 2, executions)
	assert.Len(t, res.ToolCalls, 2)
}

func TestAgent_FailedToolDoesNotAbortTurn(t *testing.T) {
	toolBlock := "<tool>\nname: flaky\nparameters:\n</tool>"
	model := respond(toolBlock, "Could not determine the value.")

	agent := New(model, Config{})
	require.NoError(t, agent.AddTools(NewTool("flaky", "Fails", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("upstream unavailable")
		})))

	res, err := agent.Generate(context.Background(), Request{Prompt: "try the tool"})

	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.False(t, res.ToolCalls[0].Result.OK)
	assert.Equal(t, "upstream unavailable", res.ToolCalls[0].Result.Err)
	// The failure is folded into the follow-up prompt.
	assert.Contains(t, model.prompts[1], "upstream unavailable")
}

func TestAgent_TransportFailureRetried(t *testing.T) {
	model := &scriptedModel{script: []scriptedTurn{
		{err: errors.New("connection refused")},
		{text: `{"name":"John","age":30}`},
	}}
	agent := New(model, Config{})

	res, err := agent.GenerateWithSchema(context.Background(), personSchema(t), Request{
		Prompt: "Describe John.",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, model.calls())
	assert.Empty(t, res.ValidationErr)
	assert.Equal(t, "John", res.Parsed["name"])
	assert.Contains(t, model.prompts[1], "connection refused")
}

func TestAgent_TransportExhaustionWithSchema(t *testing.T) {
	model := &scriptedModel{script: []scriptedTurn{{err: errors.New("connection refused")}}}
	agent := New(model, Config{MaxAttempts: 2})

	res, err := agent.GenerateWithSchema(context.Background(), personSchema(t), Request{
		Prompt: "Describe John.",
	})

	require.NoError(t, err, "schema calls report transport exhaustion on the result")
	assert.Equal(t, 2, model.calls())
	assert.Contains(t, res.ValidationErr, "generation failed")
	assert.Contains(t, res.ValidationErr, "connection refused")
}

func TestAgent_TransportExhaustionRaw(t *testing.T) {
	cause := errors.New("connection refused")
	model := &scriptedModel{script: []scriptedTurn{{err: cause}}}
	agent := New(model, Config{MaxAttempts: 2})

	res, err := agent.Generate(context.Background(), Request{Prompt: "hello"})

	require.Nil(t, res)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, cause)
}

func TestAgent_Cancellation(t *testing.T) {
	model := respond("never used")
	agent := New(model, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := agent.GenerateWithSchema(ctx, personSchema(t), Request{Prompt: "hello"})

	require.Nil(t, res)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAgent_UsageAccumulatesAcrossAttempts(t *testing.T) {
	model := respond("not json", `{"name":"John","age":30}`)
	agent := New(model, Config{})

	res, err := agent.GenerateWithSchema(context.Background(), personSchema(t), Request{
		Prompt: "Describe John.",
	})

	require.NoError(t, err)
	assert.Equal(t, 30, res.Usage.TotalTokens)
	assert.Equal(t, 20, res.Usage.InputTokens)
}

func TestAgent_PerRequestAttemptOverride(t *testing.T) {
	model := respond("not json")
	agent := New(model, Config{MaxAttempts: 3})

	_, err := agent.GenerateWithSchema(context.Background(), personSchema(t), Request{
		Prompt:      "Describe John.",
		MaxAttempts: 1,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, model.calls())
}

func TestAgent_PerCallTools(t *testing.T) {
	toolBlock := "<tool>\nname: extra\nparameters:\n</tool>"
	model := respond(toolBlock, "done")
	agent := New(model, Config{})

	res, err := agent.Generate(context.Background(), Request{
		Prompt: "use the extra tool",
		Tools: []*Tool{NewTool("extra", "Per-call tool", nil,
			func(ctx context.Context, args map[string]any) (any, error) {
				return "extra result", nil
			})},
	})

	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.True(t, res.ToolCalls[0].Result.OK)
	// The per-call tool does not leak into the shared registry.
	assert.Empty(t, agent.ListTools())
}

func TestAgent_PerCallToolDuplicate(t *testing.T) {
	model := respond("unused")
	agent := New(model, Config{})
	require.NoError(t, agent.AddTools(noopTool("shared")))

	_, err := agent.Generate(context.Background(), Request{
		Prompt: "hello",
		Tools:  []*Tool{noopTool("shared")},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateTool)
	assert.Zero(t, model.calls())
}

func TestAgent_NilSchemaRejected(t *testing.T) {
	agent := New(respond("unused"), Config{})

	_, err := agent.GenerateWithSchema(context.Background(), nil, Request{Prompt: "hello"})

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestAgent_HooksFire(t *testing.T) {
	toolBlock := "<tool>\nname: echo\nparameters:\n  text: hi\n</tool>"
	model := respond(toolBlock, "done")

	var generated, toolCalls int
	agent := New(model, Config{}).WithHooks(&Hooks{
		BeforeGenerate: func(attempt int, prompt string) { generated++ },
		AfterToolCall:  func(call ToolCall, result ToolResult) { toolCalls++ },
	})
	require.NoError(t, agent.AddTools(NewTool("echo", "Echo", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		})))

	_, err := agent.Generate(context.Background(), Request{Prompt: "hi"})

	require.NoError(t, err)
	assert.Equal(t, 2, generated)
	assert.Equal(t, 1, toolCalls)
}

func TestConfig_Defaults(t *testing.T) {
	agent := New(respond("unused"), Config{})

	cfg := agent.Config()
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, DefaultTemperature, cfg.Temperature)
	assert.Equal(t, DefaultMaxTokens, cfg.MaxTokens)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, DefaultMaxToolCallsPerTurn, cfg.MaxToolCallsPerTurn)
}
