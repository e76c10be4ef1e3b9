package threads

import (
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentType identifies the message payload shape.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
)

// ToolCallState tracks one tool invocation through its lifecycle.
type ToolCallState string

const (
	ToolCallPending  ToolCallState = "pending"
	ToolCallApproved ToolCallState = "approved"
	ToolCallDenied   ToolCallState = "denied"
	ToolCallExecuted ToolCallState = "executed"
)

// ToolCall is an in-flight or completed tool invocation within one
// assistant turn.
type ToolCall struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Arguments string        `json:"arguments"`
	State     ToolCallState `json:"state"`
	Result    string        `json:"result,omitempty"`
}

// TokenSpeed is throughput telemetry for one assistant turn.
type TokenSpeed struct {
	TokensPerSecond float64 `json:"tokens_per_second"`
	TokenCount      int     `json:"token_count"`
}

// Message is one turn in a thread. Messages are append-only; only trailing
// token-speed telemetry may be attached after a message is finalized.
type Message struct {
	ID         string
	ThreadID   string
	Role       Role
	Type       ContentType
	Text       string
	ImagePath  string
	ToolCalls  []ToolCall
	TokenSpeed *TokenSpeed
	CreatedAt  time.Time
}

// Thread is a persisted conversation.
type Thread struct {
	ID           string
	Title        string
	Favorite     bool
	ModelID      string
	ProviderName string
	AssistantID  string
	Order        int
	UpdatedAt    time.Time
}
