package completion

import (
	"time"

	"github.com/janhq/jan-core/internal/threads"
)

// tokenSpeedTracker measures assistant output throughput across one
// round-trip. Streamed deltas approximate one token each until usage
// metadata supplies the real count.
type tokenSpeedTracker struct {
	start  time.Time
	tokens int
}

func newTokenSpeedTracker() *tokenSpeedTracker {
	return &tokenSpeedTracker{start: time.Now()}
}

func (t *tokenSpeedTracker) observe() {
	t.tokens++
}

// snapshot computes the current throughput. A non-zero reported count from
// usage metadata overrides the delta approximation.
func (t *tokenSpeedTracker) snapshot(reported int) threads.TokenSpeed {
	tokens := t.tokens
	if reported > 0 {
		tokens = reported
	}
	elapsed := time.Since(t.start).Seconds()
	if elapsed <= 0 {
		elapsed = 1e-9
	}
	return threads.TokenSpeed{
		TokensPerSecond: float64(tokens) / elapsed,
		TokenCount:      tokens,
	}
}
