package transport

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/janhq/jan-core/internal/logging"
	"github.com/janhq/jan-core/internal/provider"
	"github.com/janhq/jan-core/internal/threads"
)

// ErrEmptyResponse is returned when the provider answers with no choices.
var ErrEmptyResponse = errors.New("empty response from model")

// OpenAI is a Transport for OpenAI-compatible chat completion endpoints
// (llama.cpp server, remote vendors, gateways).
type OpenAI struct{}

// NewOpenAI creates the OpenAI-compatible transport.
func NewOpenAI() *OpenAI {
	return &OpenAI{}
}

// client builds a request client from the provider's endpoint and key. The
// client is rebuilt per call because recovery policies may hand back a
// refreshed provider between attempts.
func (t *OpenAI) client(p *provider.Provider) openai.Client {
	var opts []option.RequestOption
	if p.APIKey != "" {
		opts = append(opts, option.WithAPIKey(p.APIKey))
	}
	if p.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.BaseURL))
	}
	return openai.NewClient(opts...)
}

// buildParams translates a Request into wire parameters. Known settings map
// to typed fields; anything else rides along as raw JSON body fields.
func (t *OpenAI) buildParams(req *Request) (openai.ChatCompletionNewParams, []option.RequestOption) {
	params := openai.ChatCompletionNewParams{
		Model:    req.ModelID,
		Messages: req.Messages,
	}
	if len(req.Tools) > 0 {
		params.Tools = req.Tools
	}

	var opts []option.RequestOption
	for key, value := range req.Settings {
		switch key {
		case provider.KeyTemperature:
			if f, ok := toFloat(value); ok {
				params.Temperature = openai.Float(f)
			}
		case provider.KeyMaxTokens:
			if f, ok := toFloat(value); ok {
				params.MaxTokens = openai.Int(int64(f))
			}
		case "top_p":
			if f, ok := toFloat(value); ok {
				params.TopP = openai.Float(f)
			}
		case provider.KeyStream:
			// Streaming is chosen by the caller, not by the wire body.
		default:
			opts = append(opts, option.WithJSONSet(key, value))
		}
	}
	return params, opts
}

// Complete performs a single-shot round-trip.
func (t *OpenAI) Complete(ctx context.Context, req *Request) (*Result, error) {
	params, opts := t.buildParams(req)
	client := t.client(req.Provider)

	resp, err := client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		return nil, wrapCompletionError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	result := &Result{
		Text:             choice.Message.Content,
		Refusal:          choice.Message.Refusal,
		ToolCalls:        convertToolCalls(choice.Message.ToolCalls),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		FinishReason:     string(choice.FinishReason),
	}
	logging.Debug("completion finished",
		"provider", req.Provider.Name,
		"model", req.ModelID,
		"tool_calls", len(result.ToolCalls),
	)
	return result, nil
}

// StreamCompletion performs a streaming round-trip, invoking onDelta for
// every text increment.
func (t *OpenAI) StreamCompletion(ctx context.Context, req *Request, onDelta func(Delta)) (*Result, error) {
	params, opts := t.buildParams(req)
	client := t.client(req.Provider)

	stream := client.Chat.Completions.NewStreaming(ctx, params, opts...)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if (delta.Content != "" || len(delta.ToolCalls) > 0) && onDelta != nil {
			var calls []threads.ToolCall
			if len(acc.Choices) > 0 {
				calls = convertToolCalls(acc.Choices[0].Message.ToolCalls)
			}
			onDelta(Delta{Text: delta.Content, ToolCalls: calls})
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapCompletionError(err)
	}
	if len(acc.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := acc.Choices[0]
	result := &Result{
		Text:             choice.Message.Content,
		Refusal:          choice.Message.Refusal,
		ToolCalls:        convertToolCalls(choice.Message.ToolCalls),
		CompletionTokens: int(acc.Usage.CompletionTokens),
		FinishReason:     string(choice.FinishReason),
	}
	logging.Debug("streamed completion finished",
		"provider", req.Provider.Name,
		"model", req.ModelID,
		"tool_calls", len(result.ToolCalls),
	)
	return result, nil
}

func convertToolCalls(calls []openai.ChatCompletionMessageToolCallUnion) []threads.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]threads.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, threads.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
			State:     threads.ToolCallPending,
		})
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
