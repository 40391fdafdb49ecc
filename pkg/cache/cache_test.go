package cache

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/zombiecoder/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func newTestCache(t *testing.T, m *metrics.Metrics) *Cache {
	t.Helper()
	return New(NewMemoryStore(100), Config{PollInterval: 5 * time.Millisecond}, m, testLogger())
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("coding_agent", "hello", "ctx")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint("coding_agent", "hello", "ctx"))
	assert.NotEqual(t, a, Fingerprint("virtual_sir", "hello", "ctx"))
	assert.NotEqual(t, a, Fingerprint("coding_agent", "hello", "other"))
	assert.NotEqual(t, Fingerprint("ab", "c", ""), Fingerprint("a", "bc", ""))
}

func TestCache_ClampTTL(t *testing.T) {
	c := New(NewMemoryStore(1), Config{DefaultTTL: time.Hour, MaxTTL: 2 * time.Hour}, nil, testLogger())

	assert.Equal(t, time.Hour, c.ClampTTL(0))
	assert.Equal(t, time.Second, c.ClampTTL(time.Millisecond))
	assert.Equal(t, time.Second, c.ClampTTL(-time.Minute))
	assert.Equal(t, 2*time.Hour, c.ClampTTL(48*time.Hour))
	assert.Equal(t, 90*time.Minute, c.ClampTTL(90*time.Minute))
}

func TestCache_MissThenHit(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	m := metrics.NewMetrics()
	c := newTestCache(t, m)
	fp := Fingerprint("coding_agent", "hello", "")

	calls := 0
	compute := func(context.Context) (Entry, error) {
		calls++
		return Entry{Text: "hi", ProviderID: "p1"}, nil
	}

	entry, cached, err := c.GetOrCompute(ctx, fp, time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, Entry{Text: "hi", ProviderID: "p1"}, entry)

	entry, cached, err = c.GetOrCompute(ctx, fp, time.Minute, compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "hi", entry.Text)
	assert.Equal(t, 1, calls)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues(ResultHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues(ResultMiss)))

	c.ResetStats()
	assert.Equal(t, Stats{}, c.Stats())
}

func TestCache_FailedComputeIsNotStored(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)
	fp := Fingerprint("coding_agent", "hello", "")
	boom := errors.New("boom")

	_, _, err := c.GetOrCompute(ctx, fp, time.Minute, func(context.Context) (Entry, error) {
		return Entry{}, boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok, err := c.Lookup(ctx, fp)
	require.NoError(t, err)
	assert.False(t, ok)

	// the lock was released, so the next caller computes immediately
	entry, cached, err := c.GetOrCompute(ctx, fp, time.Minute, func(context.Context) (Entry, error) {
		return Entry{Text: "ok"}, nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "ok", entry.Text)
}

func TestCache_ConcurrentCallersComputeOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	m := metrics.NewMetrics()
	c := newTestCache(t, m)
	fp := Fingerprint("coding_agent", "same question", "")

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (Entry, error) {
		calls.Add(1)
		<-release
		return Entry{Text: "answer", ProviderID: "p1"}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	var uncached atomic.Int32
	results := make(chan Entry, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, cached, err := c.GetOrCompute(ctx, fp, time.Minute, compute)
			if err != nil {
				t.Error(err)
				return
			}
			if !cached {
				uncached.Add(1)
			}
			results <- entry
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), uncached.Load(), "only the computing caller is uncached")
	for entry := range results {
		assert.Equal(t, "answer", entry.Text)
	}
}

func TestCache_FailureReachesEveryWaiter(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)
	fp := Fingerprint("coding_agent", "q", "")
	boom := errors.New("provider down")

	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(context.Context) (Entry, error) {
		calls.Add(1)
		<-release
		return Entry{}, boom
	}

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, _, err := c.GetOrCompute(ctx, fp, time.Minute, compute)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, <-errs, boom)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_CancelledWaiterDoesNotAffectOthers(t *testing.T) {
	c := newTestCache(t, nil)
	fp := Fingerprint("coding_agent", "q", "")

	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (Entry, error) {
		close(started)
		select {
		case <-release:
			return Entry{Text: "done"}, nil
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(leaderCtx, fp, time.Minute, compute)
		leaderErr <- err
	}()
	<-started

	type result struct {
		entry Entry
		err   error
	}
	other := make(chan result, 1)
	go func() {
		entry, _, err := c.GetOrCompute(context.Background(), fp, time.Minute, compute)
		other <- result{entry, err}
	}()

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	res := <-other
	require.NoError(t, res.err)
	assert.Equal(t, "done", res.entry.Text)
}

func TestCache_AbandonedComputationIsCancelled(t *testing.T) {
	c := newTestCache(t, nil)
	fp := Fingerprint("coding_agent", "q", "")

	started := make(chan struct{})
	stopped := make(chan error, 1)
	compute := func(ctx context.Context) (Entry, error) {
		close(started)
		<-ctx.Done()
		stopped <- ctx.Err()
		return Entry{}, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(ctx, fp, time.Minute, compute)
		done <- err
	}()
	<-started
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("computation kept running after its only caller left")
	}

	_, ok, _ := c.Lookup(context.Background(), fp)
	assert.False(t, ok)
}

func TestCache_WaitsForOtherProcess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(100)
	a := New(store, Config{PollInterval: 5 * time.Millisecond}, nil, testLogger())
	b := New(store, Config{PollInterval: 5 * time.Millisecond}, nil, testLogger())
	fp := Fingerprint("coding_agent", "q", "")

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := a.GetOrCompute(ctx, fp, time.Minute, func(context.Context) (Entry, error) {
			close(started)
			<-release
			return Entry{Text: "from a"}, nil
		})
		assert.NoError(t, err)
	}()
	<-started

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()

	entry, cached, err := b.GetOrCompute(ctx, fp, time.Minute, func(context.Context) (Entry, error) {
		return Entry{Text: "from b"}, nil
	})
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "from a", entry.Text)
	<-done
}

func TestCache_StaleLockExpires(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(100)
	c := New(store, Config{LockTTL: 50 * time.Millisecond, PollInterval: 5 * time.Millisecond}, nil, testLogger())
	fp := Fingerprint("coding_agent", "q", "")

	// a crashed process left its lock behind
	require.NoError(t, store.Set(ctx, c.lockKey(fp), []byte("dead"), time.Hour))

	entry, cached, err := c.GetOrCompute(ctx, fp, time.Minute, func(context.Context) (Entry, error) {
		return Entry{Text: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "fresh", entry.Text)
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)
	fp := Fingerprint("a", "b", "")

	require.NoError(t, c.Put(ctx, fp, Entry{Text: "x"}, time.Minute))
	_, ok, _ := c.Lookup(ctx, fp)
	assert.True(t, ok)

	require.NoError(t, c.Invalidate(ctx, fp))
	_, ok, _ = c.Lookup(ctx, fp)
	assert.False(t, ok)
}

func TestCache_InflightKeysAreGuarded(t *testing.T) {
	store := NewMemoryStore(1)
	c := New(store, Config{PollInterval: 5 * time.Millisecond}, nil, testLogger())
	fp := Fingerprint("a", "b", "")

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = c.GetOrCompute(context.Background(), fp, time.Minute, func(context.Context) (Entry, error) {
			close(started)
			<-release
			return Entry{Text: "x"}, nil
		})
	}()
	<-started

	assert.True(t, c.isInflight(c.lockKey(fp)))
	require.NoError(t, store.Set(context.Background(), "other", []byte("y"), 0))
	_, held, _ := store.Get(context.Background(), c.lockKey(fp))
	assert.True(t, held, "lock must survive eviction while computing")

	close(release)
	<-done
	assert.False(t, c.isInflight(c.lockKey(fp)))
}

type failingStore struct{ Store }

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store down")
}

func (failingStore) CompareAndSet(context.Context, string, []byte, []byte, time.Duration) (bool, error) {
	return false, errors.New("store down")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store down")
}

func TestCache_StoreErrorsDegradeToMiss(t *testing.T) {
	m := metrics.NewMetrics()
	c := New(failingStore{}, Config{}, m, testLogger())

	entry, cached, err := c.GetOrCompute(context.Background(), "fp", time.Minute, func(context.Context) (Entry, error) {
		return Entry{Text: "computed"}, nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "computed", entry.Text)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues(ResultError)))
	assert.GreaterOrEqual(t, c.Stats().Errors, int64(1))
}

func TestCache_LockReleaseLeavesOtherOwnersLock(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(100)
	c := New(store, Config{PollInterval: 5 * time.Millisecond}, nil, testLogger())
	fp := Fingerprint("coding_agent", "q", "")

	_, _, err := c.GetOrCompute(ctx, fp, time.Minute, func(context.Context) (Entry, error) {
		// our lock expired and another process took it over
		assert.NoError(t, store.Set(ctx, c.lockKey(fp), []byte("someone else"), time.Minute))
		return Entry{Text: "x"}, nil
	})
	require.NoError(t, err)

	owner, held, _ := store.Get(ctx, c.lockKey(fp))
	assert.True(t, held)
	assert.Equal(t, "someone else", string(owner))
}

func TestCache_GetOrComputeDeferred(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)
	fp := Fingerprint("coding_agent", "q", "")

	var calls atomic.Int32
	compute := func(context.Context) (Entry, error) {
		calls.Add(1)
		return Entry{Text: "draft", ProviderID: "p1"}, nil
	}

	entry, cached, err := c.GetOrComputeDeferred(ctx, fp, time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "draft", entry.Text)

	_, ok, _ := c.Lookup(ctx, fp)
	assert.False(t, ok, "deferred results are stored by the caller")
	_, held, _ := c.store.Get(ctx, c.lockKey(fp))
	assert.False(t, held)

	require.NoError(t, c.Put(ctx, fp, entry, time.Minute))
	entry, cached, err = c.GetOrComputeDeferred(ctx, fp, time.Minute, compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "draft", entry.Text)
	assert.Equal(t, int32(1), calls.Load())
}
