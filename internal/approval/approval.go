package approval

import (
	"context"
	"sync"
)

// Decision is the outcome of an approval prompt.
type Decision string

const (
	// DecisionAllow approves this single call.
	DecisionAllow Decision = "allow"
	// DecisionAllowThread approves the tool for the rest of the thread.
	DecisionAllowThread Decision = "allow_thread"
	// DecisionDeny rejects this single call.
	DecisionDeny Decision = "deny"
	// DecisionDenyThread rejects the tool for the rest of the thread.
	DecisionDenyThread Decision = "deny_thread"
)

// Request is what a prompt handler receives when user input is needed.
type Request struct {
	ThreadID string
	ToolName string
	Params   map[string]any
}

// PromptHandler asks the user to approve or deny a tool call. It may block
// until the user responds; a cancelled context resolves as denial.
type PromptHandler func(ctx context.Context, req *Request) (Decision, error)

// Manager gates tool execution on per-thread approvals, with a global
// allow-all override for users who have opted out of prompting.
type Manager struct {
	allowAll      bool
	decisions     map[string]Decision // threadID:toolName -> remembered decision
	promptHandler PromptHandler
	mu            sync.RWMutex
}

// NewManager creates an approval manager.
func NewManager(allowAll bool) *Manager {
	return &Manager{
		allowAll:  allowAll,
		decisions: make(map[string]Decision),
	}
}

// SetPromptHandler sets the function called when user input is needed.
func (m *Manager) SetPromptHandler(handler PromptHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptHandler = handler
}

// SetAllowAll toggles the global blanket-approval override.
func (m *Manager) SetAllowAll(allowAll bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowAll = allowAll
}

// AllowAll reports whether blanket approval is active.
func (m *Manager) AllowAll() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allowAll
}

// IsApproved reports whether the tool has a standing approval for the
// thread, either via the global override or a remembered thread decision.
func (m *Manager) IsApproved(threadID, toolName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.allowAll {
		return true
	}
	return m.decisions[cacheKey(threadID, toolName)] == DecisionAllowThread
}

// Check resolves whether a tool call may execute, prompting the user when no
// standing decision applies. It returns true for approved, false for denied.
func (m *Manager) Check(ctx context.Context, threadID, toolName string, params map[string]any) (bool, error) {
	m.mu.RLock()
	allowAll := m.allowAll
	decision, remembered := m.decisions[cacheKey(threadID, toolName)]
	handler := m.promptHandler
	m.mu.RUnlock()

	if allowAll {
		return true, nil
	}
	if remembered {
		switch decision {
		case DecisionAllowThread:
			return true, nil
		case DecisionDenyThread:
			return false, nil
		}
	}

	if handler == nil {
		// Headless with no handler wired: refuse rather than run unreviewed tools.
		return false, nil
	}

	decision, err := handler(ctx, &Request{ThreadID: threadID, ToolName: toolName, Params: params})
	if err != nil {
		// Includes context cancellation while the prompt was pending.
		return false, err
	}

	switch decision {
	case DecisionAllow:
		return true, nil
	case DecisionAllowThread:
		m.Remember(threadID, toolName, decision)
		return true, nil
	case DecisionDenyThread:
		m.Remember(threadID, toolName, decision)
		return false, nil
	default:
		return false, nil
	}
}

// Remember stores a thread-scoped decision.
func (m *Manager) Remember(threadID, toolName string, decision Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[cacheKey(threadID, toolName)] = decision
}

// Forget removes a thread-scoped decision.
func (m *Manager) Forget(threadID, toolName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.decisions, cacheKey(threadID, toolName))
}

// ClearThread removes every remembered decision for a thread.
func (m *Manager) ClearThread(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := threadID + ":"
	for key := range m.decisions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(m.decisions, key)
		}
	}
}

func cacheKey(threadID, toolName string) string {
	return threadID + ":" + toolName
}
