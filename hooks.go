package relm

// Hooks holds optional observation callbacks fired by the reconciliation
// loop. All fields may be nil. Hooks observe; they cannot alter the loop's
// behavior, and they run synchronously on the calling goroutine.
type Hooks struct {
	// BeforeGenerate fires before every generation call with the attempt
	// number (1-based) and the fully rendered prompt.
	BeforeGenerate func(attempt int, prompt string)

	// AfterGenerate fires after every generation call with the response,
	// or the transport error when the call failed.
	AfterGenerate func(attempt int, resp *GenerationResponse, err error)

	// AfterToolCall fires after each dispatched tool call with its result.
	AfterToolCall func(call ToolCall, result ToolResult)
}

func (h *Hooks) fireBeforeGenerate(attempt int, prompt string) {
	if h != nil && h.BeforeGenerate != nil {
		h.BeforeGenerate(attempt, prompt)
	}
}

func (h *Hooks) fireAfterGenerate(attempt int, resp *GenerationResponse, err error) {
	if h != nil && h.AfterGenerate != nil {
		h.AfterGenerate(attempt, resp, err)
	}
}

func (h *Hooks) fireAfterToolCall(call ToolCall, result ToolResult) {
	if h != nil && h.AfterToolCall != nil {
		h.AfterToolCall(call, result)
	}
}
