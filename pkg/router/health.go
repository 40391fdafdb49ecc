package router

import (
	"sync"
	"time"
)

// State is a provider health state.
type State string

const (
	StateHealthy     State = "healthy"
	StateDegraded    State = "degraded"
	StateUnavailable State = "unavailable"
)

// gaugeValue maps a state to its metric value.
func (s State) gaugeValue() float64 {
	switch s {
	case StateDegraded:
		return 1
	case StateUnavailable:
		return 2
	}
	return 0
}

// HealthConfig controls when failing providers are taken out of rotation.
type HealthConfig struct {
	// FailureThreshold consecutive failures make a provider unavailable.
	FailureThreshold int
	// Cooldown is how long an unavailable provider is skipped.
	Cooldown time.Duration
}

// DefaultHealthConfig returns the default thresholds.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		Cooldown:         60 * time.Second,
	}
}

// ProviderStatus is a point-in-time view of one provider's health.
type ProviderStatus struct {
	ID                  string    `json:"id"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CooldownUntil       time.Time `json:"cooldown_until,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	TotalCalls          int64     `json:"total_calls"`
	TotalFailures       int64     `json:"total_failures"`
}

// health is the mutable record of one provider. Each record has its own
// lock so unrelated providers never contend.
type health struct {
	mu            sync.Mutex
	state         State
	failures      int
	cooldownUntil time.Time
	lastError     string
	lastSuccess   time.Time
	calls         int64
	totalFailures int64
}

func newHealth() *health {
	return &health{state: StateHealthy}
}

// eligible reports whether the provider may be called at now. An unavailable
// provider whose cooldown has elapsed comes back as degraded, one failure
// away from unavailable again.
func (h *health) eligible(now time.Time, cfg HealthConfig) (bool, State, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateUnavailable {
		return true, h.state, false
	}
	if now.Before(h.cooldownUntil) {
		return false, h.state, false
	}
	h.state = StateDegraded
	h.failures = cfg.FailureThreshold - 1
	h.cooldownUntil = time.Time{}
	return true, h.state, true
}

func (h *health) recordSuccess(now time.Time) State {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls++
	h.state = StateHealthy
	h.failures = 0
	h.cooldownUntil = time.Time{}
	h.lastSuccess = now
	return h.state
}

func (h *health) recordFailure(now time.Time, err error, cfg HealthConfig) State {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls++
	h.totalFailures++
	h.failures++
	if err != nil {
		h.lastError = err.Error()
	}
	if h.failures >= cfg.FailureThreshold {
		h.state = StateUnavailable
		h.cooldownUntil = now.Add(cfg.Cooldown)
	} else {
		h.state = StateDegraded
	}
	return h.state
}

func (h *health) status(id string) ProviderStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return ProviderStatus{
		ID:                  id,
		State:               h.state,
		ConsecutiveFailures: h.failures,
		CooldownUntil:       h.cooldownUntil,
		LastError:           h.lastError,
		LastSuccess:         h.lastSuccess,
		TotalCalls:          h.calls,
		TotalFailures:       h.totalFailures,
	}
}
