package approval

import (
	"sync"
)

// Availability tracks which tools are disabled per thread. The catalog
// offered to the model is filtered through it before every request.
type Availability struct {
	disabled map[string]map[string]bool // threadID -> tool name -> disabled
	mu       sync.RWMutex
}

// NewAvailability creates an empty availability store.
func NewAvailability() *Availability {
	return &Availability{disabled: make(map[string]map[string]bool)}
}

// SetDisabled marks a tool as disabled (or re-enabled) for a thread.
func (a *Availability) SetDisabled(threadID, toolName string, disabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tools := a.disabled[threadID]
	if tools == nil {
		if !disabled {
			return
		}
		tools = make(map[string]bool)
		a.disabled[threadID] = tools
	}
	if disabled {
		tools[toolName] = true
	} else {
		delete(tools, toolName)
	}
}

// DisabledForThread returns the names of tools disabled for a thread.
func (a *Availability) DisabledForThread(threadID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tools := a.disabled[threadID]
	if len(tools) == 0 {
		return nil
	}
	out := make([]string, 0, len(tools))
	for name := range tools {
		out = append(out, name)
	}
	return out
}

// IsDisabled reports whether a tool is disabled for a thread.
func (a *Availability) IsDisabled(threadID, toolName string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.disabled[threadID][toolName]
}
