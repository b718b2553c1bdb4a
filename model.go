package relm

import (
	"context"
)

// Model is the generation capability consumed by the reconciliation loop.
// It sends one rendered prompt and returns the generated text plus optional
// usage metadata. HTTP/JSON to a local inference server is one valid binding
// (see the models subpackage), not a requirement.
//
// Implementations must honor ctx cancellation; the loop surfaces a canceled
// generation as a cancellation error, never as a validation failure.
type Model interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)
}

// GenerationRequest is one generation call. Ephemeral; a new value is built
// for every attempt.
type GenerationRequest struct {
	// Prompt is the fully rendered prompt text, including tool and schema
	// instructions and any corrective reminders from earlier attempts.
	Prompt string

	// Model is the model identifier, e.g. "llama3.1".
	Model string

	// Temperature is the sampling temperature.
	Temperature float64

	// MaxTokens limits the generated output length. Zero means the
	// transport's default.
	MaxTokens int
}

// TokenUsage holds normalized token counts for one or more generation calls.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// add accumulates usage across retry attempts.
func (u *TokenUsage) add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// GenerationResponse is the result of one generation call.
type GenerationResponse struct {
	// Text is the raw generated text.
	Text string

	// Usage holds token counts when the transport reports them.
	Usage *TokenUsage
}
