// Package cache implements the response cache. Responses are keyed by a
// request fingerprint; identical concurrent requests, in this process or in
// other processes sharing the store, trigger a single computation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/harun/zombiecoder/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Lookup results reported to metrics.
const (
	ResultHit    = "hit"
	ResultMiss   = "miss"
	ResultShared = "shared"
	ResultError  = "error"
)

// lockReleaseTimeout bounds the lock release that runs after the caller's
// context has ended.
const lockReleaseTimeout = 2 * time.Second

// Config tunes the cache. Zero values select defaults.
type Config struct {
	Prefix       string
	DefaultTTL   time.Duration
	MaxTTL       time.Duration
	LockTTL      time.Duration
	PollInterval time.Duration
}

// DefaultConfig returns the cache defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:       "zombiecoder",
		DefaultTTL:   time.Hour,
		MaxTTL:       24 * time.Hour,
		LockTTL:      60 * time.Second,
		PollInterval: 50 * time.Millisecond,
	}
}

// Entry is a cached model response.
type Entry struct {
	Text       string `json:"text"`
	ProviderID string `json:"provider_id"`
}

// ComputeFunc produces the entry for a missing fingerprint.
type ComputeFunc func(ctx context.Context) (Entry, error)

// Stats are the cache counters since start or the last ResetStats.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// Cache is a fingerprint-keyed response cache over a Store.
type Cache struct {
	store   Store
	config  Config
	group   singleflight.Group
	owner   []byte
	metrics *metrics.Metrics
	logger  zerolog.Logger

	inflight sync.Map // store keys of running computations

	flightsMu sync.Mutex
	flights   map[string]*flight

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
	errors atomic.Int64
}

type flightResult struct {
	entry  Entry
	cached bool
}

// New creates a cache over store. m may be nil.
func New(store Store, config Config, m *metrics.Metrics, logger zerolog.Logger) *Cache {
	def := DefaultConfig()
	if config.Prefix == "" {
		config.Prefix = def.Prefix
	}
	if config.MaxTTL <= 0 {
		config.MaxTTL = def.MaxTTL
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = def.DefaultTTL
	}
	if config.LockTTL <= 0 {
		config.LockTTL = def.LockTTL
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}

	c := &Cache{
		store:   store,
		config:  config,
		owner:   []byte(uuid.New().String()),
		metrics: m,
		logger:  logger.With().Str("component", "cache").Logger(),
		flights: make(map[string]*flight),
	}
	if g, ok := store.(guardable); ok {
		g.SetEvictionGuard(c.isInflight)
	}
	return c
}

// Fingerprint identifies a request: the agent, the normalized input and the
// context that shapes the answer.
func Fingerprint(agentID, normalizedInput, context string) string {
	h := sha256.New()
	h.Write([]byte(agentID))
	h.Write([]byte{0})
	h.Write([]byte(normalizedInput))
	h.Write([]byte{0})
	h.Write([]byte(context))
	return hex.EncodeToString(h.Sum(nil))
}

// ClampTTL bounds ttl to [1s, MaxTTL]; zero selects DefaultTTL.
func (c *Cache) ClampTTL(ttl time.Duration) time.Duration {
	if ttl == 0 {
		ttl = c.config.DefaultTTL
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	if ttl > c.config.MaxTTL {
		ttl = c.config.MaxTTL
	}
	return ttl
}

func (c *Cache) valueKey(fp string) string {
	return c.config.Prefix + ":response:" + fp
}

func (c *Cache) lockKey(fp string) string {
	return c.config.Prefix + ":lock:" + fp
}

// Lookup returns the cached entry for fp.
func (c *Cache) Lookup(ctx context.Context, fp string) (Entry, bool, error) {
	entry, ok, err := c.get(ctx, fp)
	switch {
	case err != nil:
		c.errors.Add(1)
		c.metrics.RecordCache(ResultError)
	case ok:
		c.hits.Add(1)
		c.metrics.RecordCache(ResultHit)
	default:
		c.misses.Add(1)
		c.metrics.RecordCache(ResultMiss)
	}
	return entry, ok, err
}

// Put stores entry under fp.
func (c *Cache) Put(ctx context.Context, fp string, entry Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, c.valueKey(fp), data, c.ClampTTL(ttl)); err != nil {
		c.errors.Add(1)
		return err
	}
	c.sets.Add(1)
	return nil
}

// Invalidate removes the entry for fp.
func (c *Cache) Invalidate(ctx context.Context, fp string) error {
	return c.store.Delete(ctx, c.valueKey(fp))
}

// GetOrCompute returns the entry for fp, computing and storing it on a miss.
// Concurrent callers with the same fingerprint share one computation; cached
// reports whether this caller's answer came from the cache or a shared
// computation. A failed computation is not stored and every waiter receives
// its error. A caller whose ctx ends stops waiting without affecting the
// others; the computation is cancelled when no caller is left waiting. The
// computation does not inherit ctx's deadline.
func (c *Cache) GetOrCompute(ctx context.Context, fp string, ttl time.Duration, compute ComputeFunc) (Entry, bool, error) {
	return c.getOrCompute(ctx, fp, ttl, compute, true)
}

// GetOrComputeDeferred behaves like GetOrCompute but leaves the computed entry
// unstored. The caller publishes it with Put once the result is final.
func (c *Cache) GetOrComputeDeferred(ctx context.Context, fp string, ttl time.Duration, compute ComputeFunc) (Entry, bool, error) {
	return c.getOrCompute(ctx, fp, ttl, compute, false)
}

func (c *Cache) getOrCompute(ctx context.Context, fp string, ttl time.Duration, compute ComputeFunc, publish bool) (Entry, bool, error) {
	entry, ok, err := c.Lookup(ctx, fp)
	if err == nil && ok {
		return entry, true, nil
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("fingerprint", fp).Msg("Cache lookup failed, computing")
	}

	ttl = c.ClampTTL(ttl)
	detached := context.WithoutCancel(ctx)

	for {
		f := c.join(fp)

		// only the leader's closure runs; the channel send orders the write
		// before the read below
		leader := false
		ch := c.group.DoChan(fp, func() (interface{}, error) {
			leader = true
			fctx, cancel := context.WithCancel(detached)
			defer cancel()
			c.setCancel(f, cancel)
			return c.fill(fctx, fp, ttl, compute, publish)
		})

		select {
		case res := <-ch:
			c.leave(fp, f, false)
			if res.Err != nil {
				// joined a flight that every earlier waiter abandoned
				if !leader && errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
					continue
				}
				return Entry{}, false, res.Err
			}
			fr := res.Val.(flightResult)
			if !leader && !fr.cached {
				c.metrics.RecordCache(ResultShared)
				return fr.entry, true, nil
			}
			return fr.entry, fr.cached, nil
		case <-ctx.Done():
			c.leave(fp, f, true)
			return Entry{}, false, ctx.Err()
		}
	}
}

// flight counts the callers waiting on one fingerprint. The computation is
// cancelled once every waiter has abandoned it.
type flight struct {
	waiters int
	cancel  context.CancelFunc
}

func (c *Cache) join(fp string) *flight {
	c.flightsMu.Lock()
	defer c.flightsMu.Unlock()
	f, ok := c.flights[fp]
	if !ok {
		f = &flight{}
		c.flights[fp] = f
	}
	f.waiters++
	return f
}

func (c *Cache) setCancel(f *flight, cancel context.CancelFunc) {
	c.flightsMu.Lock()
	defer c.flightsMu.Unlock()
	f.cancel = cancel
	if f.waiters == 0 {
		cancel()
	}
}

func (c *Cache) leave(fp string, f *flight, abandoned bool) {
	c.flightsMu.Lock()
	defer c.flightsMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if c.flights[fp] == f {
		delete(c.flights, fp)
	}
	if abandoned && f.cancel != nil {
		f.cancel()
	}
}

// fill runs once per fingerprint in this process. It takes the cross-process
// lock, or waits for the holder of the lock to publish the value.
func (c *Cache) fill(ctx context.Context, fp string, ttl time.Duration, compute ComputeFunc, publish bool) (flightResult, error) {
	valueKey, lockKey := c.valueKey(fp), c.lockKey(fp)
	c.inflight.Store(valueKey, struct{}{})
	c.inflight.Store(lockKey, struct{}{})
	defer func() {
		c.inflight.Delete(valueKey)
		c.inflight.Delete(lockKey)
	}()

	deadline := time.Now().Add(c.config.LockTTL)
	for {
		if entry, ok, err := c.get(ctx, fp); err == nil && ok {
			return flightResult{entry: entry, cached: true}, nil
		}

		acquired, err := c.store.CompareAndSet(ctx, lockKey, nil, c.owner, c.config.LockTTL)
		if err != nil {
			c.errors.Add(1)
			c.logger.Warn().Err(err).Str("fingerprint", fp).Msg("Cache lock failed, computing without it")
			return c.compute(ctx, fp, ttl, compute, publish, false)
		}
		if acquired {
			return c.compute(ctx, fp, ttl, compute, publish, true)
		}

		if time.Now().After(deadline) {
			return c.compute(ctx, fp, ttl, compute, publish, false)
		}

		// another process holds the lock; wait for its value or its release
		if entry, ok, err := c.waitForValue(ctx, fp, deadline); err == nil && ok {
			return flightResult{entry: entry, cached: true}, nil
		}
	}
}

func (c *Cache) waitForValue(ctx context.Context, fp string, deadline time.Time) (Entry, bool, error) {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Entry{}, false, ctx.Err()
		case <-ticker.C:
		}

		if entry, ok, err := c.get(ctx, fp); err == nil && ok {
			return entry, true, nil
		}
		_, held, err := c.store.Get(ctx, c.lockKey(fp))
		if err != nil || !held || time.Now().After(deadline) {
			return Entry{}, false, err
		}
	}
}

func (c *Cache) compute(ctx context.Context, fp string, ttl time.Duration, compute ComputeFunc, publish, locked bool) (flightResult, error) {
	if locked {
		defer c.releaseLock(ctx, fp)
	}

	entry, err := compute(ctx)
	if err != nil {
		return flightResult{}, err
	}

	if publish {
		if err := c.Put(ctx, fp, entry, ttl); err != nil {
			c.logger.Warn().Err(err).Str("fingerprint", fp).Msg("Failed to store response")
		}
	}
	return flightResult{entry: entry}, nil
}

// releaseLock deletes the lock for fp if this cache still owns it. It runs
// even when ctx is already cancelled.
func (c *Cache) releaseLock(ctx context.Context, fp string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
	defer cancel()

	released, err := c.store.CompareAndDelete(ctx, c.lockKey(fp), c.owner)
	if err != nil {
		c.logger.Warn().Err(err).Str("fingerprint", fp).Msg("Failed to release cache lock")
		return
	}
	if !released {
		c.logger.Debug().Str("fingerprint", fp).Msg("Cache lock expired or taken over before release")
	}
}

func (c *Cache) get(ctx context.Context, fp string) (Entry, bool, error) {
	data, ok, err := c.store.Get(ctx, c.valueKey(fp))
	if err != nil || !ok {
		return Entry{}, false, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, errors.New("corrupt cache entry")
	}
	return entry, true, nil
}

func (c *Cache) isInflight(key string) bool {
	_, ok := c.inflight.Load(key)
	return ok
}

// Stats returns the counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
		Errors: c.errors.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// ResetStats zeroes the counters.
func (c *Cache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.sets.Store(0)
	c.errors.Store(0)
}

// Close closes the store.
func (c *Cache) Close() error {
	return c.store.Close()
}
