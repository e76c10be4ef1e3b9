package completion

import (
	"github.com/janhq/jan-core/internal/threads"
)

// Assistant is a reusable persona driving completions. It is read-only
// input to the loop.
type Assistant struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	Instructions string         `yaml:"instructions"`
	Parameters   map[string]any `yaml:"parameters,omitempty"`
}

// BoolParameter reads a boolean assistant parameter with a default.
func (a *Assistant) BoolParameter(key string, def bool) bool {
	if a == nil {
		return def
	}
	if v, ok := a.Parameters[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// StreamingContent is one live snapshot of the assistant turn in progress.
// Every published snapshot is an independent value so consumers relying on
// identity-based change detection observe each update.
type StreamingContent struct {
	ThreadID  string
	Text      string
	ToolCalls []threads.ToolCall
}
