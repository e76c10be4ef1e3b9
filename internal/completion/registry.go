package completion

import (
	"context"
	"sync"
)

// abortRegistry enforces the one-outstanding-request-per-thread invariant.
// Registering a turn for a thread supersedes (cancels) any prior turn still
// registered for it.
type abortRegistry struct {
	active map[string]*abortEntry
	mu     sync.Mutex
}

type abortEntry struct {
	cancel context.CancelFunc
}

func newAbortRegistry() *abortRegistry {
	return &abortRegistry{active: make(map[string]*abortEntry)}
}

// register derives a cancellable context for a thread's turn. The returned
// release func must be called when the turn ends; it only deregisters the
// entry if it is still the active one.
func (r *abortRegistry) register(parent context.Context, threadID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	entry := &abortEntry{cancel: cancel}

	r.mu.Lock()
	if prior, ok := r.active[threadID]; ok {
		prior.cancel()
	}
	r.active[threadID] = entry
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		if r.active[threadID] == entry {
			delete(r.active, threadID)
		}
		r.mu.Unlock()
		cancel()
	}
	return ctx, release
}

// cancel aborts the active turn for a thread, if any.
func (r *abortRegistry) cancel(threadID string) {
	r.mu.Lock()
	entry, ok := r.active[threadID]
	r.mu.Unlock()

	if ok {
		entry.cancel()
	}
}
