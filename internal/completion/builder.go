package completion

import (
	"github.com/openai/openai-go/v3"

	"github.com/janhq/jan-core/internal/threads"
)

// MessageBuilder assembles the exact ordered message sequence sent to the
// completion API for one turn. Construction seeds it with the thread's
// history; entries are append-only and never reordered or deduplicated.
type MessageBuilder struct {
	messages []openai.ChatCompletionMessageParamUnion
}

// NewMessageBuilder creates a builder from the thread's historical messages
// (oldest first) and optional assistant instructions. Non-empty instructions
// become a single leading system entry.
func NewMessageBuilder(history []*threads.Message, instructions string) *MessageBuilder {
	b := &MessageBuilder{}
	if instructions != "" {
		b.messages = append(b.messages, openai.SystemMessage(instructions))
	}

	for _, m := range history {
		switch m.Role {
		case threads.RoleUser:
			b.AddUserMessage(m.Text)
		case threads.RoleAssistant:
			b.AddAssistantMessage(m.Text, "", m.ToolCalls)
			// Executed calls replay their recorded results so the wire
			// transcript stays call/response balanced.
			for _, tc := range m.ToolCalls {
				if tc.State == threads.ToolCallExecuted || tc.State == threads.ToolCallDenied {
					b.AddToolResult(tc.ID, tc.Result)
				}
			}
		case threads.RoleTool:
			// Tool turns are stored inline on their assistant message;
			// standalone tool rows have nothing to add here.
		case threads.RoleSystem:
			// Instructions come from the assistant configuration, not from
			// persisted history.
		}
	}
	return b
}

// AddUserMessage appends a user entry. Empty text is a no-op; the caller
// validates input before starting a turn.
func (b *MessageBuilder) AddUserMessage(text string) {
	if text == "" {
		return
	}
	b.messages = append(b.messages, openai.UserMessage(text))
}

// AddAssistantMessage appends an assistant entry carrying the accumulated
// text and any tool calls collected during the round-trip. Call it exactly
// once per round-trip, after the round-trip finishes.
func (b *MessageBuilder) AddAssistantMessage(text, refusal string, toolCalls []threads.ToolCall) {
	if len(toolCalls) == 0 && refusal == "" {
		b.messages = append(b.messages, openai.AssistantMessage(text))
		return
	}

	msg := openai.ChatCompletionAssistantMessageParam{}
	if text != "" {
		msg.Content.OfString = openai.String(text)
	}
	if refusal != "" {
		msg.Refusal = openai.String(refusal)
	}
	for _, tc := range toolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			},
		})
	}
	b.messages = append(b.messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
}

// AddToolResult appends a tool-role entry binding a result to its call.
func (b *MessageBuilder) AddToolResult(callID, content string) {
	b.messages = append(b.messages, openai.ToolMessage(content, callID))
}

// Messages returns the ordered sequence in wire format. It is side-effect
// free and callable any number of times.
func (b *MessageBuilder) Messages() []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, len(b.messages))
	copy(out, b.messages)
	return out
}

// Len returns the number of entries accumulated so far.
func (b *MessageBuilder) Len() int {
	return len(b.messages)
}
