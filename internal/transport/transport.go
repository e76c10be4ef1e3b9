package transport

import (
	"context"

	"github.com/openai/openai-go/v3"

	"github.com/janhq/jan-core/internal/provider"
	"github.com/janhq/jan-core/internal/threads"
)

// Request carries everything one completion round-trip needs.
type Request struct {
	// Provider supplies the endpoint and credentials.
	Provider *provider.Provider

	// ModelID is the model addressed within the provider.
	ModelID string

	// Messages is the full outgoing transcript in wire order.
	Messages []openai.ChatCompletionMessageParamUnion

	// Tools is the catalog offered for this round-trip. Empty means the
	// model is not offered any tools.
	Tools []openai.ChatCompletionToolUnionParam

	// Settings are the effective per-request settings (temperature,
	// max_tokens, ...) already merged by the caller.
	Settings map[string]any
}

// Delta is one streamed increment of assistant output.
type Delta struct {
	// Text contains the text content added by this chunk.
	Text string

	// ToolCalls is the full set of tool calls accumulated so far in the
	// stream, in declaration order. Arguments may still be partial.
	ToolCalls []threads.ToolCall
}

// Result is the outcome of one completed round-trip, streaming or not.
type Result struct {
	// Text is the assistant's accumulated text content.
	Text string

	// Refusal is the assistant's refusal content, if any.
	Refusal string

	// ToolCalls are the calls requested by the model, in declaration order,
	// all in the pending state.
	ToolCalls []threads.ToolCall

	// CompletionTokens from usage metadata (0 if the provider omitted it).
	CompletionTokens int

	// FinishReason reported by the provider.
	FinishReason string
}

// Transport issues completion requests against a provider.
type Transport interface {
	// Complete performs a single-shot (non-streaming) round-trip.
	Complete(ctx context.Context, req *Request) (*Result, error)

	// StreamCompletion performs a streaming round-trip, invoking onDelta for
	// every text increment before returning the accumulated result.
	StreamCompletion(ctx context.Context, req *Request, onDelta func(Delta)) (*Result, error)
}
