package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/harun/zombiecoder/internal/metrics"
	"github.com/harun/zombiecoder/internal/tracing"
	"github.com/harun/zombiecoder/pkg/errs"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultTimeout bounds a single tool run.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxOutputBytes is where serialized output gets cut.
	DefaultMaxOutputBytes = 10 * 1024
	// DefaultSessionCallLimit caps invocations per session.
	DefaultSessionCallLimit = 20
)

// GatewayConfig tunes the gateway limits. Zero values select defaults.
type GatewayConfig struct {
	Timeout          time.Duration
	MaxOutputBytes   int
	SessionCallLimit int
}

// Gateway invokes registered tools under a permission set, a time budget and
// a per-session call limit.
type Gateway struct {
	registry *Registry
	config   GatewayConfig
	audit    AuditSink
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu    sync.Mutex
	calls map[string]int
}

// NewGateway creates a gateway over registry. audit and m may be nil.
func NewGateway(registry *Registry, config GatewayConfig, audit AuditSink, m *metrics.Metrics, logger zerolog.Logger) *Gateway {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if config.SessionCallLimit <= 0 {
		config.SessionCallLimit = DefaultSessionCallLimit
	}
	return &Gateway{
		registry: registry,
		config:   config,
		audit:    audit,
		metrics:  m,
		logger:   logger.With().Str("component", "tool_gateway").Logger(),
		calls:    make(map[string]int),
	}
}

// Registry returns the underlying registry.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Invoke runs call.ToolID if perms allows it. Every call, whatever the outcome,
// produces exactly one audit record.
func (g *Gateway) Invoke(ctx context.Context, call Call, perms PermissionSet) (*Result, error) {
	const op = "tools.Invoke"

	ctx, span := tracing.StartSpan(ctx, "zombiecoder.tools", "tool.invoke",
		attribute.String("tool_id", call.ToolID),
		attribute.String("session_id", call.SessionID),
	)

	inv := Invocation{
		ID:        newInvocationID(),
		ToolID:    call.ToolID,
		Args:      call.Args,
		SessionID: call.SessionID,
		AgentID:   call.AgentID,
		StartedAt: time.Now(),
	}

	result, outcome, err := g.invoke(ctx, op, call, perms, inv.ID)

	inv.CompletedAt = time.Now()
	inv.Outcome = outcome
	if err != nil {
		inv.Error = err.Error()
	}
	if g.audit != nil {
		g.audit.RecordInvocation(ctx, inv)
	}
	g.metrics.RecordToolInvocation(call.ToolID, outcome, inv.CompletedAt.Sub(inv.StartedAt))
	tracing.EndSpan(span, err)

	logger := tracing.LoggerFromContext(ctx, g.logger)
	if err != nil {
		logger.Warn().
			Str("tool_id", call.ToolID).
			Str("invocation_id", inv.ID).
			Str("outcome", outcome).
			Err(err).
			Msg("Tool invocation failed")
		return nil, err
	}

	logger.Debug().
		Str("tool_id", call.ToolID).
		Str("invocation_id", inv.ID).
		Dur("duration", inv.CompletedAt.Sub(inv.StartedAt)).
		Bool("truncated", result.Truncated).
		Msg("Tool invocation completed")

	result.StartedAt = inv.StartedAt
	result.CompletedAt = inv.CompletedAt
	return result, nil
}

func (g *Gateway) invoke(ctx context.Context, op string, call Call, perms PermissionSet, invocationID string) (*Result, string, error) {
	if !perms.Allows(call.ToolID) {
		return nil, metrics.OutcomeDenied, errs.New(errs.CodeToolNotPermitted, op,
			"tool %s is not in the permission set", call.ToolID).
			WithDetail("tool_id", call.ToolID).
			WithDetail("agent_id", call.AgentID)
	}

	tool, ok := g.registry.Get(call.ToolID)
	if !ok {
		return nil, metrics.OutcomeError, errs.New(errs.CodeToolExecutionFailed, op,
			"tool %s is not registered", call.ToolID).WithDetail("tool_id", call.ToolID)
	}

	if !g.reserve(call.SessionID) {
		return nil, metrics.OutcomeDenied, errs.New(errs.CodeToolExecutionFailed, op,
			"session %s reached the limit of %d tool calls", call.SessionID, g.config.SessionCallLimit).
			WithDetail("tool_id", call.ToolID)
	}

	if err := g.registry.Validate(call.ToolID, call.Args); err != nil {
		return nil, metrics.OutcomeError, errs.New(errs.CodeToolExecutionFailed, op,
			"invalid arguments: %v", err).WithDetail("tool_id", call.ToolID)
	}

	runCtx, cancel := context.WithTimeout(WithCall(ctx, call), g.config.Timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		v, err := tool.Run(runCtx, call.Args)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if ctx.Err() != nil {
				return nil, metrics.OutcomeError, errs.FromContext(op, ctx.Err())
			}
			return nil, metrics.OutcomeError, errs.Wrap(errs.CodeToolExecutionFailed, op, out.err).
				WithDetail("tool_id", call.ToolID)
		}
		output, truncated := truncateOutput(out.value, g.config.MaxOutputBytes)
		return &Result{
			InvocationID: invocationID,
			ToolID:       call.ToolID,
			Output:       output,
			Truncated:    truncated,
		}, metrics.OutcomeSuccess, nil

	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, metrics.OutcomeError, errs.FromContext(op, ctx.Err())
		}
		return nil, metrics.OutcomeTimeout, errs.New(errs.CodeToolExecutionFailed, op,
			"tool %s timed out after %v", call.ToolID, g.config.Timeout).WithDetail("tool_id", call.ToolID)
	}
}

func (g *Gateway) reserve(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.calls[sessionID] >= g.config.SessionCallLimit {
		return false
	}
	g.calls[sessionID]++
	return true
}

// CallCount returns how many invocations a session has used.
func (g *Gateway) CallCount(sessionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[sessionID]
}

// ResetSession forgets the call count of a session.
func (g *Gateway) ResetSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.calls, sessionID)
}

// truncateOutput cuts string output, or the JSON form of anything else, at
// max bytes without splitting a UTF-8 sequence.
func truncateOutput(output interface{}, max int) (interface{}, bool) {
	str, ok := output.(string)
	if !ok {
		data, err := json.Marshal(output)
		if err != nil || len(data) <= max {
			return output, false
		}
		str = string(data)
	} else if len(str) <= max {
		return str, false
	}
	return str[:cutPoint(str, max)] + "\n... (output truncated)", true
}

// cutPoint backs off from max to the start of the rune that straddles it.
func cutPoint(s string, max int) int {
	if max <= 0 {
		return 0
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return cut
}

func newInvocationID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("inv-%d", time.Now().UnixNano())
	}
	return "inv_" + id
}
