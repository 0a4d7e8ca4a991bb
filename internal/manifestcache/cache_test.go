package manifestcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudlog-io/archiver/internal/manifest"
	"github.com/cloudlog-io/archiver/internal/ntp"
)

func prepareAndPut(t *testing.T, c *Cache, bytes int64, offset ntp.Offset) {
	t.Helper()
	res, err := c.Prepare(context.Background(), bytes)
	require.NoError(t, err)
	require.NoError(t, c.Put(res, offset, manifest.New()))
}

// E5 — Materialized cache eviction.
func TestE5MaterializedCacheEviction(t *testing.T) {
	c := New(50, Config{})

	prepareAndPut(t, c, 20, 0)
	prepareAndPut(t, c, 20, 1)
	prepareAndPut(t, c, 20, 2)

	require.Equal(t, int64(40), c.SizeBytes())

	_, ok := c.Get(1)
	require.True(t, ok)
	_, ok = c.Get(2)
	require.True(t, ok)

	_, ok = c.Get(0)
	require.False(t, ok, "m0 must have been evicted")
}

// E6 — Cache eviction with pin.
func TestE6CacheEvictionWithPin(t *testing.T) {
	c := New(50, Config{})

	prepareAndPut(t, c, 20, 0)
	h0, ok := c.Get(0)
	require.True(t, ok)

	prepareAndPut(t, c, 20, 1)
	require.Equal(t, int64(40), c.SizeBytes())

	completed := make(chan Reservation, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := c.Prepare(context.Background(), 20)
		if err == nil {
			completed <- res
		}
	}()

	// The third prepare must not complete while h0 is live.
	select {
	case <-completed:
		t.Fatal("prepare completed while pinned entry was still live")
	case <-time.After(100 * time.Millisecond):
	}

	h0.Release()

	var res Reservation
	select {
	case res = <-completed:
	case <-time.After(time.Second):
		t.Fatal("prepare did not complete after pin release")
	}
	wg.Wait()

	require.NoError(t, c.Put(res, 2, manifest.New()))

	_, ok = c.Get(0)
	require.False(t, ok)
	_, ok = c.Get(1)
	require.True(t, ok)
	_, ok = c.Get(2)
	require.True(t, ok)
}

func TestPrepareTimeoutRestoresRollback(t *testing.T) {
	c := New(20, Config{})
	prepareAndPut(t, c, 20, 0)

	h0, ok := c.Get(0)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Prepare(ctx, 20)
	require.Error(t, err)

	h0.Release()
	require.Equal(t, int64(20), c.SizeBytes())
}

func TestRemovePinnedBecomesObsoleteOnRelease(t *testing.T) {
	c := New(100, Config{})
	prepareAndPut(t, c, 10, 0)

	h, ok := c.Get(0)
	require.True(t, ok)

	c.Remove(0)
	require.Equal(t, int64(10), c.SizeBytes(), "still live until release")

	h.Release()
	require.Equal(t, int64(0), c.SizeBytes())

	_, ok = c.Get(0)
	require.False(t, ok)
}

func TestSetCapacityShrinkEvicts(t *testing.T) {
	c := New(100, Config{})
	prepareAndPut(t, c, 30, 0)
	prepareAndPut(t, c, 30, 1)

	c.SetCapacity(40)
	require.LessOrEqual(t, c.SizeBytes(), int64(40))
}

// With WakeWaitersBeforeShrinkEvict, a Prepare that fits once the unpinned
// LRU tail is evicted completes without waiting, and the SetCapacity shrink
// that follows neither blocks it nor takes its reservation back.
func TestSetCapacityWakeWaitersBeforeShrinkEvict(t *testing.T) {
	c := New(100, Config{WakeWaitersBeforeShrinkEvict: true})
	prepareAndPut(t, c, 30, 0)
	prepareAndPut(t, c, 30, 1)

	waiting := make(chan struct{})
	done := make(chan Reservation, 1)
	go func() {
		close(waiting)
		res, err := c.Prepare(context.Background(), 50)
		if err == nil {
			done <- res
		}
	}()
	<-waiting
	time.Sleep(20 * time.Millisecond)

	c.SetCapacity(40)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("prepare did not complete")
	}
}
