package router

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/zombiecoder/internal/metrics"
	"github.com/harun/zombiecoder/pkg/cache"
	"github.com/harun/zombiecoder/pkg/errs"
	"github.com/harun/zombiecoder/pkg/provider"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	id    string
	text  string
	err   error
	delay time.Duration
	calls atomic.Int32

	mu   sync.Mutex
	last provider.Request
}

func (f *fakeAdapter) ID() string { return f.id }

func (f *fakeAdapter) Call(ctx context.Context, req provider.Request) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeAdapter) lastRequest() provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestRouter(t *testing.T, health HealthConfig, withCache bool, adapters ...*fakeAdapter) (*Router, *metrics.Metrics, *fakeClock) {
	t.Helper()
	reg := provider.NewRegistry()
	for _, a := range adapters {
		require.NoError(t, reg.Register(provider.Descriptor{ID: a.id, MaxTokens: 2048, Timeout: time.Second}, a))
	}

	m := metrics.NewMetrics()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := Config{
		Providers: reg,
		Health:    health,
		Metrics:   m,
		Logger:    zerolog.New(io.Discard),
		Now:       clock.Now,
	}
	if withCache {
		cfg.Cache = cache.New(cache.NewMemoryStore(100), cache.Config{PollInterval: 5 * time.Millisecond}, m, zerolog.New(io.Discard))
	}
	return New(cfg), m, clock
}

func testRequest(prefs ...string) Request {
	return Request{
		AgentID:    "coding_agent",
		Preference: prefs,
		Prompt: provider.Prompt{
			System:   "You are helpful.",
			Messages: []provider.Message{{Role: provider.RoleUser, Content: "sort a list"}},
		},
	}
}

func TestResolve_FallsBackToNextProvider(t *testing.T) {
	p1 := &fakeAdapter{id: "p1", err: errors.New("503 service unavailable")}
	p2 := &fakeAdapter{id: "p2", text: "use sorted()"}
	r, m, _ := setupTestRouter(t, HealthConfig{}, false, p1, p2)

	res, err := r.Resolve(context.Background(), testRequest("p1", "p2"))
	require.NoError(t, err)

	assert.Equal(t, "use sorted()", res.Text)
	assert.Equal(t, "p2", res.ProviderID)
	assert.False(t, res.Cached)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, metrics.OutcomeError, res.Attempts[0].Outcome)
	assert.Equal(t, metrics.OutcomeSuccess, res.Attempts[1].Outcome)

	assert.Equal(t, int32(1), p1.calls.Load())
	assert.Equal(t, int32(1), p2.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderCalls.WithLabelValues("coding_agent", "p1", metrics.OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderCalls.WithLabelValues("coding_agent", "p2", metrics.OutcomeSuccess)))

	status := r.Status()
	require.Len(t, status, 2)
	assert.Equal(t, StateDegraded, status[0].State)
	assert.Equal(t, 1, status[0].ConsecutiveFailures)
	assert.Equal(t, int64(1), status[0].TotalFailures)
	assert.Equal(t, StateHealthy, status[1].State)
	assert.Equal(t, int64(1), status[1].TotalCalls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderState.WithLabelValues("p1")))
}

func TestResolve_AllProvidersFail(t *testing.T) {
	p1 := &fakeAdapter{id: "p1", err: errors.New("boom")}
	p2 := &fakeAdapter{id: "p2", err: errors.New("bang")}
	r, _, _ := setupTestRouter(t, HealthConfig{}, false, p1, p2)

	_, err := r.Resolve(context.Background(), testRequest("p1", "p2"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrProviderUnavailable))

	var e *errs.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "bang", e.Details["last_error"])
}

func TestResolve_EmptyPreference(t *testing.T) {
	r, _, _ := setupTestRouter(t, HealthConfig{}, false)

	_, err := r.Resolve(context.Background(), testRequest())
	assert.True(t, errors.Is(err, errs.ErrProviderUnavailable))
}

func TestResolve_SkipsUnregisteredProvider(t *testing.T) {
	p2 := &fakeAdapter{id: "p2", text: "ok"}
	r, _, _ := setupTestRouter(t, HealthConfig{}, false, p2)

	res, err := r.Resolve(context.Background(), testRequest("ghost", "p2"))
	require.NoError(t, err)
	assert.Equal(t, "p2", res.ProviderID)
	assert.Len(t, res.Attempts, 1)
}

func TestResolve_HealthEscalationAndRecovery(t *testing.T) {
	for _, hc := range []HealthConfig{
		{FailureThreshold: 1, Cooldown: 10 * time.Second},
		{FailureThreshold: 3, Cooldown: time.Minute},
		{FailureThreshold: 5, Cooldown: 5 * time.Minute},
	} {
		hc := hc
		t.Run(hc.Cooldown.String(), func(t *testing.T) {
			p1 := &fakeAdapter{id: "p1", err: errors.New("down")}
			p2 := &fakeAdapter{id: "p2", text: "fallback"}
			r, m, clock := setupTestRouter(t, hc, false, p1, p2)
			ctx := context.Background()

			for i := 0; i < hc.FailureThreshold; i++ {
				_, err := r.Resolve(ctx, testRequest("p1", "p2"))
				require.NoError(t, err)
			}
			assert.Equal(t, StateUnavailable, r.State("p1"))
			assert.Equal(t, 2.0, testutil.ToFloat64(m.ProviderState.WithLabelValues("p1")))
			assert.Equal(t, int32(hc.FailureThreshold), p1.calls.Load())

			// skipped while cooling down
			res, err := r.Resolve(ctx, testRequest("p1", "p2"))
			require.NoError(t, err)
			assert.Len(t, res.Attempts, 1)
			assert.Equal(t, int32(hc.FailureThreshold), p1.calls.Load())

			// eligible again after the cooldown, and a success resets it
			clock.Advance(hc.Cooldown)
			p1.err = nil
			p1.text = "primary"
			res, err = r.Resolve(ctx, testRequest("p1", "p2"))
			require.NoError(t, err)
			assert.Equal(t, "p1", res.ProviderID)
			assert.Equal(t, StateHealthy, r.State("p1"))
			assert.Equal(t, 0.0, testutil.ToFloat64(m.ProviderState.WithLabelValues("p1")))
		})
	}
}

func TestResolve_ReopenedProviderTripsOnFirstFailure(t *testing.T) {
	p1 := &fakeAdapter{id: "p1", err: errors.New("down")}
	p2 := &fakeAdapter{id: "p2", text: "fallback"}
	r, _, clock := setupTestRouter(t, HealthConfig{FailureThreshold: 2, Cooldown: time.Minute}, false, p1, p2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := r.Resolve(ctx, testRequest("p1", "p2"))
		require.NoError(t, err)
	}
	require.Equal(t, StateUnavailable, r.State("p1"))

	clock.Advance(time.Minute)
	_, err := r.Resolve(ctx, testRequest("p1", "p2"))
	require.NoError(t, err)
	assert.Equal(t, StateUnavailable, r.State("p1"))
	assert.Equal(t, int32(3), p1.calls.Load())
}

func TestResolve_DeterministicOrder(t *testing.T) {
	p1 := &fakeAdapter{id: "p1", text: "one"}
	p2 := &fakeAdapter{id: "p2", text: "two"}
	r, _, _ := setupTestRouter(t, HealthConfig{}, false, p1, p2)

	for i := 0; i < 5; i++ {
		res, err := r.Resolve(context.Background(), testRequest("p2", "p1"))
		require.NoError(t, err)
		assert.Equal(t, "p2", res.ProviderID)
	}
	assert.Equal(t, int32(0), p1.calls.Load())
}

func TestResolve_Budget(t *testing.T) {
	p1 := &fakeAdapter{id: "p1", text: "ok"}
	r, _, _ := setupTestRouter(t, HealthConfig{}, false, p1)

	req := testRequest("p1")
	req.Budget = Budget{MaxTokens: 512, Timeout: 200 * time.Millisecond}
	_, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	last := p1.lastRequest()
	assert.Equal(t, 512, last.MaxTokens)
	assert.Equal(t, 200*time.Millisecond, last.Timeout)

	req.Budget = Budget{MaxTokens: 100000}
	_, err = r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2048, p1.lastRequest().MaxTokens)
	assert.Equal(t, time.Second, p1.lastRequest().Timeout)
}

func TestResolve_CallerCancellationIsNotAProviderFailure(t *testing.T) {
	p1 := &fakeAdapter{id: "p1", text: "slow", delay: time.Second}
	r, _, _ := setupTestRouter(t, HealthConfig{}, false, p1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Resolve(ctx, testRequest("p1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTimeout))
	assert.Equal(t, StateHealthy, r.State("p1"))
}

func TestResolve_ProviderTimeoutFallsBack(t *testing.T) {
	slow := &fakeAdapter{id: "slow", text: "late", delay: time.Second}
	fast := &fakeAdapter{id: "fast", text: "quick"}
	r, m, _ := setupTestRouter(t, HealthConfig{}, false, slow, fast)

	req := testRequest("slow", "fast")
	req.Budget.Timeout = 20 * time.Millisecond
	res, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "fast", res.ProviderID)
	assert.Equal(t, StateDegraded, r.State("slow"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderCalls.WithLabelValues("coding_agent", "slow", metrics.OutcomeTimeout)))
}

func TestResolve_Cached(t *testing.T) {
	p1 := &fakeAdapter{id: "p1", text: "answer"}
	r, _, _ := setupTestRouter(t, HealthConfig{}, true, p1)
	ctx := context.Background()

	req := testRequest("p1")
	req.Fingerprint = cache.Fingerprint("coding_agent", "sort a list", "")

	res, err := r.Resolve(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.NotEmpty(t, res.Attempts)

	res, err = r.Resolve(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "p1", res.ProviderID)
	assert.Empty(t, res.Attempts)
	assert.Equal(t, int32(1), p1.calls.Load())
}

func TestResolve_DeferCacheUntilPublish(t *testing.T) {
	p1 := &fakeAdapter{id: "p1", text: "answer"}
	r, _, _ := setupTestRouter(t, HealthConfig{}, true, p1)
	ctx := context.Background()

	req := testRequest("p1")
	req.Fingerprint = cache.Fingerprint("coding_agent", "draft", "")
	req.DeferCache = true

	first, err := r.Resolve(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	again, err := r.Resolve(ctx, req)
	require.NoError(t, err)
	assert.False(t, again.Cached, "unpublished answers are not replayed")
	assert.Equal(t, int32(2), p1.calls.Load())

	require.NoError(t, r.Publish(ctx, first, nil))
	hit, err := r.Resolve(ctx, req)
	require.NoError(t, err)
	assert.True(t, hit.Cached)
	assert.Equal(t, "answer", hit.Text)
	assert.Equal(t, int32(2), p1.calls.Load())

	// cache hits and uncached resolutions are skipped
	require.NoError(t, r.Publish(ctx, hit))
	plain, err := r.Resolve(ctx, testRequest("p1"))
	require.NoError(t, err)
	require.NoError(t, r.Publish(ctx, plain))
}

func TestResolve_ConcurrentIdenticalRequestsWalkOnce(t *testing.T) {
	p1 := &fakeAdapter{id: "p1", text: "answer", delay: 50 * time.Millisecond}
	r, _, _ := setupTestRouter(t, HealthConfig{}, true, p1)

	req := testRequest("p1")
	req.Fingerprint = cache.Fingerprint("coding_agent", "same", "")

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), req)
			if assert.NoError(t, err) {
				assert.Equal(t, "answer", res.Text)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), p1.calls.Load())
}

func TestResolve_FailureIsNotCached(t *testing.T) {
	p1 := &fakeAdapter{id: "p1", err: errors.New("down")}
	r, _, _ := setupTestRouter(t, HealthConfig{FailureThreshold: 10}, true, p1)

	req := testRequest("p1")
	req.Fingerprint = cache.Fingerprint("coding_agent", "q", "")

	_, err := r.Resolve(context.Background(), req)
	require.Error(t, err)

	p1.err = nil
	p1.text = "recovered"
	res, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)
	assert.False(t, res.Cached)
}

func TestCallTimeout(t *testing.T) {
	assert.Equal(t, time.Duration(0), callTimeout(context.Background()))
	assert.Equal(t, time.Second, callTimeout(context.Background(), 0, time.Second))
	assert.Equal(t, time.Second, callTimeout(context.Background(), 5*time.Second, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.LessOrEqual(t, callTimeout(ctx, time.Minute), 100*time.Millisecond)
}
