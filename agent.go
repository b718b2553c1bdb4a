package relm

import (
	"context"
	"fmt"

	"github.com/relmkit/relm/schema"
)

// Default configuration values, merged in New for zero Config fields.
const (
	DefaultModel               = "llama3.1"
	DefaultTemperature         = 0.2
	DefaultMaxTokens           = 2048
	DefaultMaxAttempts         = 3
	DefaultMaxToolCallsPerTurn = 5
)

// Config holds the Agent's generation settings. Zero fields are replaced
// with defaults at construction time; the merged Config is never mutated
// afterwards.
type Config struct {
	// Model is the model identifier sent with every generation request.
	Model string

	// Temperature is the sampling temperature.
	Temperature float64

	// MaxTokens limits generated output length per call.
	MaxTokens int

	// MaxAttempts is the total generation attempt budget, inclusive of the
	// first attempt: up to MaxAttempts generation rounds per call.
	MaxAttempts int

	// MaxToolCallsPerTurn bounds how many tool calls are dispatched from a
	// single model response; calls beyond the limit are silently dropped.
	MaxToolCallsPerTurn int
}

// withDefaults returns c with zero fields replaced by the package defaults.
func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxToolCallsPerTurn == 0 {
		c.MaxToolCallsPerTurn = DefaultMaxToolCallsPerTurn
	}
	return c
}

// Request carries the per-call inputs for Generate and GenerateWithSchema.
type Request struct {
	// Prompt is the user's natural-language prompt.
	Prompt string

	// Tools are advertised and dispatchable for this call only, layered on
	// top of the Agent's registered tools.
	Tools []*Tool

	// MaxAttempts overrides the Agent's attempt budget for this call.
	// Zero keeps the configured value.
	MaxAttempts int
}

// Agent is the public entry point. It owns the configuration, the shared
// tool Registry, and the Model binding, and exposes generation with and
// without schema validation.
//
//	llm, _ := ollama.New(ollama.WithModel("llama3.1"))
//	agent := relm.New(models.NewLCG(llm), relm.Config{})
//	agent.AddTools(weatherTool)
//
//	res, err := agent.GenerateWithSchema(ctx, sch, relm.Request{
//	    Prompt: "What's the weather in Tokyo?",
//	})
//
// An Agent is safe for concurrent use; each call runs its own loop and the
// Registry is the only shared state.
type Agent struct {
	model    Model
	config   Config
	registry *Registry
	hooks    *Hooks
}

// New creates an Agent with the given model binding and configuration.
// Zero Config fields take the package defaults.
func New(model Model, config Config) *Agent {
	return &Agent{
		model:    model,
		config:   config.withDefaults(),
		registry: NewRegistry(),
	}
}

// WithHooks sets the observation hooks. Returns the agent for chaining.
func (a *Agent) WithHooks(h *Hooks) *Agent {
	a.hooks = h
	return a
}

// Config returns the merged, immutable configuration.
func (a *Agent) Config() Config {
	return a.config
}

// AddTools registers tools on the shared registry. The first registration
// failure is returned immediately; earlier tools in the slice stay
// registered.
func (a *Agent) AddTools(tools ...*Tool) error {
	for _, t := range tools {
		if err := a.registry.Add(t); err != nil {
			return err
		}
	}
	return nil
}

// RemoveTool unregisters a tool by name.
func (a *Agent) RemoveTool(name string) error {
	return a.registry.Remove(name)
}

// ListTools returns the registered tools in registration order.
func (a *Agent) ListTools() []*Tool {
	return a.registry.List()
}

// GenerateWithSchema runs the reconciliation loop until the model's answer
// validates against sch or the attempt budget is exhausted. On success
// Result.Parsed holds the validated object; on exhaustion the failure is
// reported via Result.ValidationErr, never as a returned error. A returned
// error means cancellation or a misuse of the API, wrapped as
// *ExecutionError.
func (a *Agent) GenerateWithSchema(ctx context.Context, sch *schema.Schema, req Request) (*Result, error) {
	if sch == nil {
		return nil, &ExecutionError{Op: "generate with schema", Err: fmt.Errorf("schema must not be nil")}
	}
	return a.run(ctx, req, sch)
}

// Generate runs the loop without schema validation: the raw response text
// (after tool dispatch) is returned as-is and Result.Parsed is never
// populated. Transport failures that outlive the attempt budget are
// returned as an *ExecutionError.
func (a *Agent) Generate(ctx context.Context, req Request) (*Result, error) {
	return a.run(ctx, req, nil)
}

func (a *Agent) run(ctx context.Context, req Request, sch *schema.Schema) (*Result, error) {
	registry := a.registry
	if len(req.Tools) > 0 {
		registry = a.registry.clone()
		for _, t := range req.Tools {
			if err := registry.Add(t); err != nil {
				return nil, &ExecutionError{Op: "register per-call tool", Err: err}
			}
		}
	}

	config := a.config
	if req.MaxAttempts > 0 {
		config.MaxAttempts = req.MaxAttempts
	}

	eng := &engine{
		model:    a.model,
		registry: registry,
		config:   config,
		hooks:    a.hooks,
	}
	return eng.run(ctx, req.Prompt, sch)
}
