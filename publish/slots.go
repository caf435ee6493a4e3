package publish

import (
	"context"
	"log/slog"
)

// slots limits concurrent uploads across all jobs.
type slots chan struct{}

func newSlots(n int) slots {
	if n < 1 {
		n = 1
	}
	slog.Info("upload concurrency limit initialized", slog.Int("max_concurrent", n), slog.String("component", "publish"))
	return make(slots, n)
}

// acquire blocks until a slot is free. Returns false if ctx is canceled first.
func (s slots) acquire(ctx context.Context) bool {
	select {
	case s <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s slots) release() {
	select {
	case <-s:
	default:
		slog.Warn("upload slot release called without corresponding acquire", slog.String("component", "publish"))
	}
}

func (s slots) active() int { return len(s) }
