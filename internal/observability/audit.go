package observability

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/zombiecoder/internal/tracing"
	"github.com/harun/zombiecoder/pkg/tools"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent represents a structured event for the audit log
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"` // session or agent id
	Action    string                 `json:"action"`          // e.g. "tool:calculator", "session:expired"
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger writes audit events as JSON lines. It implements tools.AuditSink.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	closer io.Closer
}

var _ tools.AuditSink = (*AuditLogger)(nil)

// NewAuditLogger writes audit events to w.
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// OpenAuditLogger appends audit events to the file at path.
func OpenAuditLogger(path string) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	a := NewAuditLogger(file)
	a.closer = file
	return a, nil
}

// Record emits an audit event to the log and, when a span is active, as a span event.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	} else if id := tracing.GetTraceID(ctx); id != "" {
		event.TraceID = id
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status).
		Time("event_time", event.Timestamp)

	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry = entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// RecordInvocation records one tool invocation.
func (a *AuditLogger) RecordInvocation(ctx context.Context, inv tools.Invocation) {
	metadata := map[string]interface{}{
		"invocation_id": inv.ID,
		"agent_id":      inv.AgentID,
		"duration_ms":   inv.CompletedAt.Sub(inv.StartedAt).Milliseconds(),
	}
	if len(inv.Args) > 0 {
		metadata["args"] = inv.Args
	}
	if inv.Error != "" {
		metadata["error"] = inv.Error
	}

	a.Record(ctx, AuditEvent{
		Type:      "tool",
		Timestamp: inv.StartedAt,
		Actor:     inv.SessionID,
		Action:    "tool:" + inv.ToolID,
		Status:    inv.Outcome,
		Metadata:  metadata,
	})
}

// RecordSession records a session lifecycle event.
func (a *AuditLogger) RecordSession(ctx context.Context, sessionID, action string) {
	a.Record(ctx, AuditEvent{
		Type:   "session",
		Actor:  sessionID,
		Action: "session:" + action,
		Status: "success",
	})
}

// Close closes the underlying file, if any.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		err := a.closer.Close()
		a.closer = nil
		return err
	}
	return nil
}
