// Package autosave coalesces rapid draft edits into delayed writes. Each key
// (user/project/field) holds at most one pending write; scheduling again
// replaces the value and restarts that key's timer.
package autosave

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/reconic/backend/store"
	"github.com/reconic/backend/telemetry"
)

// WriteFunc persists one debounced value.
type WriteFunc func(ctx context.Context) error

type entry struct {
	timer *time.Timer
	write WriteFunc
	gen   uint64
}

// Debouncer runs the last scheduled write for each key after its delay.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*entry
	gen     uint64
	timeout time.Duration
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewDebouncer() *Debouncer {
	return &Debouncer{
		pending: make(map[string]*entry),
		timeout: 10 * time.Second,
		logger:  slog.Default().With(slog.String("component", "autosave")),
	}
}

// Key builds the debounce key for a draft slot.
func Key(userID, projectID, field string) string {
	return userID + "/" + projectID + "/" + field
}

// Schedule replaces any pending write for key and runs fn after delay.
func (d *Debouncer) Schedule(key string, delay time.Duration, fn WriteFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.pending[key]; ok {
		e.timer.Stop()
	}
	d.gen++
	e := &entry{write: fn, gen: d.gen}
	gen := d.gen
	e.timer = time.AfterFunc(delay, func() { d.fire(key, gen) })
	d.pending[key] = e
	telemetry.SetPendingSaves(len(d.pending))
}

func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	e, ok := d.pending[key]
	if !ok || e.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	telemetry.SetPendingSaves(len(d.pending))
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	d.run(ctx, key, e.write)
}

func (d *Debouncer) run(ctx context.Context, key string, fn WriteFunc) error {
	err := fn(ctx)
	telemetry.RecordAutosave(key[strings.LastIndexByte(key, '/')+1:], err)
	if err != nil {
		d.logger.Warn("autosave write failed", slog.String("key", key), slog.Any("err", err))
		return err
	}
	return nil
}

// Cancel drops the pending write for key, if any.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.pending[key]; ok {
		e.timer.Stop()
		delete(d.pending, key)
	}
}

// Pending reports the number of writes waiting on their timers.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush runs every pending write now and waits for writes already in flight.
// It returns the first error encountered.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.mu.Lock()
	writes := make(map[string]WriteFunc, len(d.pending))
	for k, e := range d.pending {
		e.timer.Stop()
		writes[k] = e.write
	}
	clear(d.pending)
	telemetry.SetPendingSaves(0)
	d.mu.Unlock()

	var first error
	for k, fn := range writes {
		if err := d.run(ctx, k, fn); err != nil && first == nil {
			first = err
		}
	}
	d.wg.Wait()
	return first
}

// Delays holds the debounce interval per draft field.
type Delays struct {
	Notes  time.Duration
	Checks time.Duration
	Script time.Duration
}

// For returns the delay for a draft field.
func (d Delays) For(field string) time.Duration {
	switch field {
	case store.DraftBrollChecks:
		return d.Checks
	case store.DraftScript:
		return d.Script
	default:
		return d.Notes
	}
}
