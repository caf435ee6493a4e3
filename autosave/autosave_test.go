package autosave

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconic/backend/store"
)

type recorder struct {
	mu     sync.Mutex
	values []string
}

func (r *recorder) write(v string) WriteFunc {
	return func(ctx context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.values = append(r.values, v)
		return nil
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.values...)
}

func TestScheduleCoalesces(t *testing.T) {
	d := NewDebouncer()
	rec := &recorder{}
	key := Key("u", "p", store.DraftNotes)

	d.Schedule(key, 30*time.Millisecond, rec.write("a"))
	d.Schedule(key, 30*time.Millisecond, rec.write("ab"))
	d.Schedule(key, 30*time.Millisecond, rec.write("abc"))
	assert.Equal(t, 1, d.Pending())

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []string{"abc"}, rec.snapshot())
	assert.Equal(t, 0, d.Pending())
}

func TestScheduleResetsTimer(t *testing.T) {
	d := NewDebouncer()
	var calls atomic.Int32
	fn := func(ctx context.Context) error { calls.Add(1); return nil }

	for i := 0; i < 5; i++ {
		d.Schedule("k", 50*time.Millisecond, fn)
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, int32(0), calls.Load(), "write should wait for a quiet period")
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestKeysAreIndependent(t *testing.T) {
	d := NewDebouncer()
	rec := &recorder{}
	d.Schedule(Key("u", "p1", "notes"), 10*time.Millisecond, rec.write("one"))
	d.Schedule(Key("u", "p2", "notes"), 10*time.Millisecond, rec.write("two"))
	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"one", "two"}, rec.snapshot())
}

func TestFlushWritesPending(t *testing.T) {
	d := NewDebouncer()
	rec := &recorder{}
	d.Schedule("a", time.Hour, rec.write("a"))
	d.Schedule("b", time.Hour, rec.write("b"))

	require.NoError(t, d.Flush(context.Background()))
	assert.ElementsMatch(t, []string{"a", "b"}, rec.snapshot())
	assert.Equal(t, 0, d.Pending())
}

func TestFlushReturnsError(t *testing.T) {
	d := NewDebouncer()
	boom := errors.New("boom")
	d.Schedule("a", time.Hour, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, d.Flush(context.Background()), boom)
}

func TestCancel(t *testing.T) {
	d := NewDebouncer()
	var calls atomic.Int32
	d.Schedule("k", 20*time.Millisecond, func(ctx context.Context) error { calls.Add(1); return nil })
	d.Cancel("k")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 0, d.Pending())
}

func TestDelaysFor(t *testing.T) {
	d := Delays{Notes: 800 * time.Millisecond, Checks: 500 * time.Millisecond, Script: time.Second}
	assert.Equal(t, 800*time.Millisecond, d.For(store.DraftNotes))
	assert.Equal(t, 800*time.Millisecond, d.For(store.DraftEditorNotes))
	assert.Equal(t, 500*time.Millisecond, d.For(store.DraftBrollChecks))
	assert.Equal(t, time.Second, d.For(store.DraftScript))
}
