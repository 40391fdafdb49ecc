package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/harun/zombiecoder/internal/config"
	"github.com/harun/zombiecoder/internal/metrics"
	"github.com/harun/zombiecoder/pkg/agent"
	"github.com/harun/zombiecoder/pkg/cache"
	"github.com/harun/zombiecoder/pkg/commandqueue"
	"github.com/harun/zombiecoder/pkg/errs"
	"github.com/harun/zombiecoder/pkg/router"
)

// Status represents a point-in-time view of the daemon.
type Status struct {
	Running   bool                    `json:"running"`
	Uptime    time.Duration           `json:"uptime"`
	StartTime time.Time               `json:"start_time,omitempty"`
	PID       int                     `json:"pid"`
	Providers []router.ProviderStatus `json:"providers"`
	Cache     cache.Stats             `json:"cache"`
	Tools     []string                `json:"tools"`
	Agents    []string                `json:"agents"`
	Inactive  []string                `json:"inactive_agents,omitempty"`
	Sessions  int                     `json:"sessions"`
	Queue     []commandqueue.Stats    `json:"queue"`
	Indexed   int                     `json:"indexed_chunks"`
	Retrieval bool                    `json:"retrieval_enabled"`
}

// Ask runs one conversational turn.
func (d *Daemon) Ask(ctx context.Context, req agent.Request) (*agent.TurnResult, error) {
	return d.executor.RunTurn(ctx, req)
}

// IndexDir ingests every matching file under dir into the knowledge index
// and returns the number of files read.
func (d *Daemon) IndexDir(ctx context.Context, dir string) (int, error) {
	if d.pipeline == nil {
		return 0, errs.New(errs.CodeRetrievalUnavailable, "daemon.index", "knowledge index is not available")
	}
	if _, err := os.Stat(dir); err != nil {
		return 0, fmt.Errorf("knowledge directory: %w", err)
	}
	return d.pipeline.IngestDir(ctx, dir)
}

// CloseSession ends a conversation and records it in the audit log.
func (d *Daemon) CloseSession(ctx context.Context, sessionID string) error {
	d.executor.Abort(sessionID)
	if err := d.sessions.Close(ctx, sessionID); err != nil {
		return err
	}
	if d.audit != nil {
		d.audit.RecordSession(ctx, sessionID, "closed")
	}
	return nil
}

// ResetMetrics zeroes the metric series and the cache counters, then
// re-publishes the gauges that mirror live state.
func (d *Daemon) ResetMetrics() {
	d.metrics.Reset()
	d.cache.ResetStats()
	d.router.PublishHealth()
	d.sessions.PublishMetrics()
	d.log.Info().Msg("Metrics reset")
}

// InvalidateCache drops the cached response for fingerprint.
func (d *Daemon) InvalidateCache(ctx context.Context, fingerprint string) error {
	if fingerprint == "" {
		return errs.New(errs.CodeInvalidRequest, "daemon.invalidate_cache", "fingerprint is required")
	}
	if err := d.cache.Invalidate(ctx, fingerprint); err != nil {
		return fmt.Errorf("failed to invalidate cache entry: %w", err)
	}
	d.log.Info().Str("fingerprint", fingerprint).Msg("Cache entry invalidated")
	return nil
}

// Status returns the daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.RLock()
	status := Status{
		Running: d.running,
		PID:     os.Getpid(),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	d.mu.RUnlock()

	status.Providers = d.router.Status()
	status.Cache = d.cache.Stats()
	for _, t := range d.tools.List() {
		status.Tools = append(status.Tools, t.ID())
	}
	for _, def := range d.catalog.List() {
		status.Agents = append(status.Agents, def.ID)
	}
	if inactive := d.catalog.Inactive(); len(inactive) > 0 {
		status.Inactive = inactive
	}
	status.Sessions = d.sessions.Active()
	status.Queue = d.queue.Stats()

	if d.index != nil {
		status.Retrieval = true
		if n, err := d.index.Count(ctx); err == nil {
			status.Indexed = n
		}
	}
	return status
}

// Config returns the daemon configuration.
func (d *Daemon) Config() *config.Config {
	return d.config
}

// Executor returns the agent executor.
func (d *Daemon) Executor() *agent.Executor {
	return d.executor
}

// Metrics returns the daemon metrics.
func (d *Daemon) Metrics() *metrics.Metrics {
	return d.metrics
}

// Catalog returns the agent catalog.
func (d *Daemon) Catalog() *agent.Catalog {
	return d.catalog
}

// IsRunning reports whether Start has been called without a matching Stop.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}
