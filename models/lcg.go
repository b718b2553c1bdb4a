// Package models binds relm's Model interface to LangChainGo, giving access
// to Ollama and every other provider LangChainGo supports.
package models

import (
	"context"
	"errors"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/relmkit/relm"
)

// LCG wraps an llms.Model and implements [relm.Model]. It applies the
// request's model name, temperature, and token limit as call options, and
// normalizes token usage across providers.
//
//	llm, _ := ollama.New(ollama.WithServerURL("http://localhost:11434"))
//	model := models.NewLCG(llm)
type LCG struct {
	llm llms.Model
}

// NewLCG creates an LCG wrapping the given llms.Model.
func NewLCG(llm llms.Model) *LCG {
	return &LCG{llm: llm}
}

// Unwrap returns the underlying llms.Model.
func (m *LCG) Unwrap() llms.Model {
	return m.llm
}

// Generate implements relm.Model.
func (m *LCG) Generate(ctx context.Context, req relm.GenerationRequest) (*relm.GenerationResponse, error) {
	opts := []llms.CallOption{
		llms.WithTemperature(req.Temperature),
	}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, req.Prompt),
	}

	resp, err := m.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("models: provider returned no choices")
	}

	choice := resp.Choices[0]
	return &relm.GenerationResponse{
		Text:  choice.Content,
		Usage: extractUsage(choice.GenerationInfo),
	}, nil
}

// extractUsage normalizes token counts from the provider-specific
// GenerationInfo map. Returns nil when the provider reports nothing.
func extractUsage(info map[string]any) *relm.TokenUsage {
	if info == nil {
		return nil
	}

	usage := &relm.TokenUsage{
		InputTokens:  firstInt(info, "PromptTokens", "InputTokens", "input_tokens"),
		OutputTokens: firstInt(info, "CompletionTokens", "OutputTokens", "output_tokens"),
	}
	usage.TotalTokens = firstInt(info, "TotalTokens", "total_tokens")
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	if usage.InputTokens == 0 && usage.OutputTokens == 0 && usage.TotalTokens == 0 {
		return nil
	}
	return usage
}

// firstInt returns the first key present in the map, handling the numeric
// types different providers put in GenerationInfo.
func firstInt(m map[string]any, keys ...string) int {
	for _, key := range keys {
		v, ok := m[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return n
		case int32:
			return int(n)
		case int64:
			return int(n)
		case float64:
			return int(n)
		case float32:
			return int(n)
		}
	}
	return 0
}
