package searchcache

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyDeterministic(t *testing.T) {
	assert.Equal(t, Key("search", "video", "go"), Key("search", "video", "go"))
	assert.NotEqual(t, Key("search", "video", "go"), Key("search", "channel", "go"))
}

func TestGetSetL1(t *testing.T) {
	c := New(context.Background(), "", time.Minute, 10)
	ctx := context.Background()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	c.Set(ctx, "k", []byte("v"))
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(got))

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestExpiry(t *testing.T) {
	c := New(context.Background(), "", 20*time.Millisecond, 10)
	ctx := context.Background()
	c.Set(ctx, "k", []byte("v"))
	time.Sleep(40 * time.Millisecond)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestEviction(t *testing.T) {
	c := New(context.Background(), "", time.Minute, 2)
	ctx := context.Background()
	c.Set(ctx, "a", []byte("1"))
	time.Sleep(2 * time.Millisecond)
	c.Set(ctx, "b", []byte("2"))
	time.Sleep(2 * time.Millisecond)
	c.Set(ctx, "c", []byte("3"))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok, "oldest entry should be evicted")
}

func TestInvalidRedisURLDisablesL2(t *testing.T) {
	c := New(context.Background(), "not-a-url", time.Minute, 10)
	assert.Nil(t, c.rdb)
	assert.NoError(t, c.Close())
}

func TestFetch(t *testing.T) {
	c := New(context.Background(), "", time.Minute, 10)
	ctx := context.Background()
	var calls atomic.Int32
	fn := func(context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"a", "b"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := Fetch(ctx, c, "k", fn)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, got)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchErrorNotCached(t *testing.T) {
	c := New(context.Background(), "", time.Minute, 10)
	ctx := context.Background()
	boom := errors.New("quota exceeded")
	_, err := Fetch(ctx, c, "k", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestFetchNilCache(t *testing.T) {
	got, err := Fetch(context.Background(), nil, "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestFetchCoalescesConcurrentMisses(t *testing.T) {
	c := New(context.Background(), "", time.Minute, 10)
	ctx := context.Background()
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := Fetch(ctx, c, "k", fn)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestRedisL2(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	a := New(ctx, url, time.Minute, 10)
	defer a.Close()
	require.NotNil(t, a.rdb)
	key := Key("test", time.Now().String())
	a.Set(ctx, key, []byte("shared"))

	b := New(ctx, url, time.Minute, 10)
	defer b.Close()
	got, ok := b.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "shared", string(got))
	assert.Equal(t, 1, b.Len(), "L2 hit should populate L1")
}
