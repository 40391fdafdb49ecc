// Package router resolves which model provider answers a prompt. It walks an
// agent's provider preference order, skips providers that are cooling down,
// falls back on failure and shares answers through the response cache.
package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harun/zombiecoder/internal/metrics"
	"github.com/harun/zombiecoder/internal/tracing"
	"github.com/harun/zombiecoder/pkg/cache"
	"github.com/harun/zombiecoder/pkg/errs"
	"github.com/harun/zombiecoder/pkg/provider"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "zombiecoder.router"

// Budget bounds one resolution. Zero fields leave the provider's own limits in place.
type Budget struct {
	MaxTokens int
	Timeout   time.Duration
}

// Request is one resolution.
type Request struct {
	AgentID string
	// Preference lists provider ids in the order they are tried.
	Preference  []string
	Prompt      provider.Prompt
	Budget      Budget
	Temperature float64
	// Fingerprint keys the response cache. Empty disables caching.
	Fingerprint string
	CacheTTL    time.Duration
	// DeferCache leaves a computed answer out of the cache until it is
	// passed to Publish.
	DeferCache bool
}

// Attempt records one provider call made during a resolution.
type Attempt struct {
	ProviderID string        `json:"provider_id"`
	Outcome    string        `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Resolution is the answer to a Request.
type Resolution struct {
	Text       string
	ProviderID string
	Cached     bool
	// Attempts is empty when the answer came from the cache.
	Attempts []Attempt

	fingerprint string
	cacheTTL    time.Duration
}

// Config wires a Router.
type Config struct {
	Providers *provider.Registry
	// Cache may be nil.
	Cache   *cache.Cache
	Health  HealthConfig
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Router selects providers with fallback and tracks their health.
type Router struct {
	providers *provider.Registry
	cache     *cache.Cache
	health    HealthConfig
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	records map[string]*health
}

// New creates a router. Every registered provider starts healthy.
func New(cfg Config) *Router {
	def := DefaultHealthConfig()
	if cfg.Health.FailureThreshold <= 0 {
		cfg.Health.FailureThreshold = def.FailureThreshold
	}
	if cfg.Health.Cooldown <= 0 {
		cfg.Health.Cooldown = def.Cooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Providers == nil {
		cfg.Providers = provider.NewRegistry()
	}

	r := &Router{
		providers: cfg.Providers,
		cache:     cfg.Cache,
		health:    cfg.Health,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With().Str("component", "router").Logger(),
		now:       cfg.Now,
		records:   make(map[string]*health),
	}
	for _, id := range r.providers.IDs() {
		r.records[id] = newHealth()
		r.metrics.SetProviderHealth(id, StateHealthy.gaugeValue())
	}
	return r
}

// Resolve answers req. The cache is consulted first; on a miss the
// preference order is walked, calling each eligible provider at most once.
// Concurrent identical requests share a single walk.
func (r *Router) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	const op = "router.Resolve"

	ctx, span := tracing.StartSpan(ctx, tracerName, "router.resolve",
		attribute.String("agent_id", req.AgentID),
		attribute.Int("preference_count", len(req.Preference)),
	)
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	if r.cache == nil || req.Fingerprint == "" {
		var res *Resolution
		res, err = r.walk(ctx, req)
		return res, err
	}

	getOrCompute := r.cache.GetOrCompute
	if req.DeferCache {
		getOrCompute = r.cache.GetOrComputeDeferred
	}

	var attempts []Attempt
	entry, cached, err := getOrCompute(ctx, req.Fingerprint, req.CacheTTL, func(cctx context.Context) (cache.Entry, error) {
		res, err := r.walk(cctx, req)
		if err != nil {
			return cache.Entry{}, err
		}
		attempts = res.Attempts
		return cache.Entry{Text: res.Text, ProviderID: res.ProviderID}, nil
	})
	if err != nil {
		err = errs.FromContext(op, err)
		return nil, err
	}

	span.SetAttributes(attribute.Bool("cached", cached), attribute.String("provider_id", entry.ProviderID))
	res := &Resolution{Text: entry.Text, ProviderID: entry.ProviderID, Cached: cached}
	if !cached {
		res.Attempts = attempts
		if req.DeferCache {
			res.fingerprint, res.cacheTTL = req.Fingerprint, req.CacheTTL
		}
	}
	return res, nil
}

// Publish stores resolutions obtained with DeferCache. Answers that came from
// the cache, or were resolved without a fingerprint, are skipped.
func (r *Router) Publish(ctx context.Context, resolutions ...*Resolution) error {
	if r.cache == nil {
		return nil
	}
	var errList []error
	for _, res := range resolutions {
		if res == nil || res.fingerprint == "" {
			continue
		}
		entry := cache.Entry{Text: res.Text, ProviderID: res.ProviderID}
		if err := r.cache.Put(ctx, res.fingerprint, entry, res.cacheTTL); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// walk tries the preference order once.
func (r *Router) walk(ctx context.Context, req Request) (*Resolution, error) {
	const op = "router.Resolve"
	logger := tracing.LoggerFromContext(ctx, r.logger)

	var attempts []Attempt
	for _, id := range req.Preference {
		if err := ctx.Err(); err != nil {
			return nil, errs.FromContext(op, err)
		}

		adapter, desc, ok := r.providers.Get(id)
		if !ok {
			logger.Warn().Str("provider_id", id).Msg("Preferred provider is not registered, skipping")
			continue
		}

		rec := r.record(id)
		eligible, state, reopened := rec.eligible(r.now(), r.health)
		if reopened {
			r.metrics.SetProviderHealth(id, state.gaugeValue())
			logger.Info().Str("provider_id", id).Msg("Provider cooldown elapsed, retrying as degraded")
		}
		if !eligible {
			logger.Debug().Str("provider_id", id).Msg("Provider unavailable, skipping")
			continue
		}

		callReq := provider.Request{
			Prompt:      req.Prompt,
			MaxTokens:   minPositive(req.Budget.MaxTokens, desc.MaxTokens),
			Timeout:     callTimeout(ctx, desc.Timeout, req.Budget.Timeout),
			Temperature: req.Temperature,
		}
		if callReq.Temperature == 0 {
			callReq.Temperature = desc.Temperature
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if callReq.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, callReq.Timeout)
		}
		start := time.Now()
		text, err := adapter.Call(callCtx, callReq)
		elapsed := time.Since(start)
		cancel()

		// the caller gave up; this says nothing about the provider
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errs.FromContext(op, ctxErr)
		}

		if err != nil {
			outcome := metrics.OutcomeError
			if errors.Is(err, context.DeadlineExceeded) {
				outcome = metrics.OutcomeTimeout
			}
			newState := rec.recordFailure(r.now(), err, r.health)
			r.metrics.RecordProviderCall(req.AgentID, id, outcome, elapsed)
			r.metrics.SetProviderHealth(id, newState.gaugeValue())
			attempts = append(attempts, Attempt{ProviderID: id, Outcome: outcome, Error: err.Error(), Duration: elapsed})

			logger.Warn().Err(err).
				Str("provider_id", id).
				Str("state", string(newState)).
				Dur("duration", elapsed).
				Msg("Provider call failed, falling back")
			continue
		}

		rec.recordSuccess(r.now())
		r.metrics.RecordProviderCall(req.AgentID, id, metrics.OutcomeSuccess, elapsed)
		r.metrics.SetProviderHealth(id, StateHealthy.gaugeValue())
		attempts = append(attempts, Attempt{ProviderID: id, Outcome: metrics.OutcomeSuccess, Duration: elapsed})

		logger.Debug().Str("provider_id", id).Dur("duration", elapsed).Msg("Provider answered")
		return &Resolution{Text: text, ProviderID: id, Attempts: attempts}, nil
	}

	e := errs.New(errs.CodeProviderUnavailable, op, "no provider answered for agent %s after %d attempts", req.AgentID, len(attempts)).
		WithDetail("agent_id", req.AgentID)
	if len(attempts) > 0 {
		e.WithDetail("last_error", attempts[len(attempts)-1].Error)
	}
	return nil, e
}

func (r *Router) record(id string) *health {
	r.mu.RLock()
	h, ok := r.records[id]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.records[id]; !ok {
		h = newHealth()
		r.records[id] = h
	}
	return h
}

// Status returns the health of every registered provider, sorted by id.
func (r *Router) Status() []ProviderStatus {
	ids := r.providers.IDs()
	out := make([]ProviderStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.record(id).status(id))
	}
	return out
}

// PublishHealth sets the provider health gauge of every provider from its
// current state.
func (r *Router) PublishHealth() {
	for _, st := range r.Status() {
		r.metrics.SetProviderHealth(st.ID, st.State.gaugeValue())
	}
}

// State returns the current state of one provider.
func (r *Router) State(id string) State {
	return r.record(id).status(id).State
}

func minPositive(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	}
	return b
}

// callTimeout is the smallest of the provider timeout, the budget timeout and
// the time left before ctx's deadline.
func callTimeout(ctx context.Context, timeouts ...time.Duration) time.Duration {
	var out time.Duration
	for _, t := range timeouts {
		if t > 0 && (out == 0 || t < out) {
			out = t
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); out == 0 || left < out {
			out = left
		}
	}
	return out
}
