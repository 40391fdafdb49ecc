package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/harun/zombiecoder/internal/config"
	"github.com/harun/zombiecoder/internal/logger"
	"github.com/harun/zombiecoder/internal/metrics"
	"github.com/harun/zombiecoder/internal/observability"
	"github.com/harun/zombiecoder/internal/tracing"
	"github.com/harun/zombiecoder/pkg/agent"
	"github.com/harun/zombiecoder/pkg/cache"
	"github.com/harun/zombiecoder/pkg/commandqueue"
	"github.com/harun/zombiecoder/pkg/errs"
	"github.com/harun/zombiecoder/pkg/moderation"
	"github.com/harun/zombiecoder/pkg/notes"
	"github.com/harun/zombiecoder/pkg/provider"
	"github.com/harun/zombiecoder/pkg/retrieval"
	"github.com/harun/zombiecoder/pkg/router"
	"github.com/harun/zombiecoder/pkg/sandbox"
	"github.com/harun/zombiecoder/pkg/session"
	"github.com/harun/zombiecoder/pkg/tools"
	"github.com/harun/zombiecoder/pkg/tools/builtin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Daemon owns the engine components and their background workers.
type Daemon struct {
	config  *config.Config
	logger  *logger.Logger
	log     zerolog.Logger
	metrics *metrics.Metrics

	providers  *provider.Registry
	cacheStore cache.Store
	cache      *cache.Cache
	router     *router.Router
	sessions   *session.Store
	sweeper    *session.Sweeper
	queue      *commandqueue.CommandQueue
	filter     *moderation.Filter
	tools      *tools.Registry
	gateway    *tools.Gateway
	audit      *observability.AuditLogger
	notes      *notes.Store
	index      retrieval.Index
	pipeline   *retrieval.Pipeline
	watcher    *retrieval.Watcher
	catalog    *agent.Catalog
	executor   *agent.Executor

	metricsServer *http.Server
	lifecycle     *LifecycleManager

	ingestMu sync.Mutex
	agentsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	closed    bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// pinger is implemented by stores that live outside the process.
type pinger interface {
	Ping(ctx context.Context) error
}

// New builds every component. An unreachable redis cache is fatal; a
// knowledge index that cannot be opened only disables retrieval.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:  cfg,
		logger:  log,
		log:     log.Zerolog().With().Str("component", "daemon").Logger(),
		metrics: metrics.NewMetrics(),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := tracing.InitOpenTelemetry("zombiecoder"); err != nil {
		d.log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		d.tracingEnabled = true
	}

	if err := d.initializeCoreModules(ctx); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	d.lifecycle = NewLifecycleManager(cfg.DataDir, d.log)
	return d, nil
}

// initializeCoreModules builds the components in dependency order.
func (d *Daemon) initializeCoreModules(ctx context.Context) error {
	cfg := d.config
	base := d.logger.Zerolog()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	for _, id := range cfg.DisabledProviders() {
		d.log.Warn().Str("provider", id).Msg("Provider has no API key, skipping")
	}
	providers, err := provider.Build(cfg.ProviderSpecs())
	if err != nil {
		return fmt.Errorf("failed to build providers: %w", err)
	}
	d.providers = providers
	d.log.Info().Strs("providers", providers.IDs()).Msg("Providers initialized")

	switch cfg.Cache.Backend {
	case "redis":
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		store, err := cache.NewRedisStore(connectCtx, cfg.RedisURL())
		cancel()
		if err != nil {
			return fmt.Errorf("cache store unreachable: %w", err)
		}
		d.cacheStore = store
	default:
		d.cacheStore = cache.NewMemoryStore(cfg.Cache.Capacity)
	}
	d.cache = cache.New(d.cacheStore, cfg.CacheSettings(), d.metrics, base)
	d.log.Info().Str("backend", cfg.Cache.Backend).Msg("Response cache initialized")

	d.router = router.New(router.Config{
		Providers: providers,
		Cache:     d.cache,
		Health:    cfg.HealthConfig(),
		Metrics:   d.metrics,
		Logger:    base,
	})

	sessions, err := session.NewStore(session.Config{
		Dir:      cfg.Session.Dir,
		Archive:  cfg.Session.Archive,
		TTL:      cfg.Session.TTL,
		Metrics:  d.metrics,
		Logger:   base,
		OnRemove: d.sessionRemoved,
	})
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	d.sessions = sessions

	schedule := cfg.Session.SweepSchedule
	if schedule == "" {
		schedule = session.DefaultSweepSchedule
	}
	sweeper, err := session.NewSweeper(sessions, schedule, base)
	if err != nil {
		return fmt.Errorf("failed to create session sweeper: %w", err)
	}
	d.sweeper = sweeper
	d.log.Info().Int("restored", sessions.Len()).Msg("Session store initialized")

	policy, err := cfg.BusyPolicy()
	if err != nil {
		return err
	}
	d.queue = commandqueue.New(policy, base)

	filter, err := moderation.New(cfg.ModerationSettings())
	if err != nil {
		return fmt.Errorf("failed to create content filter: %w", err)
	}
	d.filter = filter

	if cfg.Retrieval.Enabled {
		if err := d.initializeRetrieval(); err != nil {
			d.log.Warn().Err(err).Msg("Knowledge index unavailable, continuing without retrieval")
		}
	}

	if err := d.initializeTools(); err != nil {
		return err
	}

	defs, err := cfg.AgentDefinitions()
	if err != nil {
		return err
	}
	catalog, err := agent.NewCatalog(defs...)
	if err != nil {
		return fmt.Errorf("failed to build agent catalog: %w", err)
	}
	d.catalog = catalog
	if err := d.loadAgentState(); err != nil {
		d.log.Warn().Err(err).Msg("Agent activation state unavailable, all agents active")
	}

	execCfg := agent.Config{
		Catalog:           catalog,
		Sessions:          sessions,
		Router:            d.router,
		Queue:             d.queue,
		Filter:            filter,
		Metrics:           d.metrics,
		Logger:            base,
		MaxToolIterations: cfg.Executor.MaxToolIterations,
		HistoryTurns:      cfg.Session.HistoryTurns,
		RetrievalTopK:     cfg.Retrieval.TopK,
		MaxContextChars:   cfg.Retrieval.MaxContextChars,
		TurnTimeout:       cfg.Executor.TurnTimeout,
		CacheTTL:          cfg.Executor.CacheTTL,
	}
	if cfg.Tools.Enabled {
		execCfg.Gateway = d.gateway
	}
	if d.pipeline != nil {
		execCfg.Retriever = d.pipeline
	}
	executor, err := agent.NewExecutor(execCfg)
	if err != nil {
		return fmt.Errorf("failed to create agent executor: %w", err)
	}
	d.executor = executor
	d.log.Info().Int("agents", len(defs)).Msg("Agent executor initialized")

	return nil
}

// sessionRemoved forgets per-session tool budgets when a session ends.
func (d *Daemon) sessionRemoved(id string) {
	if d.gateway != nil {
		d.gateway.ResetSession(id)
	}
}

func (d *Daemon) initializeRetrieval() error {
	cfg := d.config
	embedder := cfg.Embedder()
	index, err := retrieval.OpenSQLiteIndex(cfg.Retrieval.DBPath, embedder.Dimension())
	if err != nil {
		return err
	}
	d.index = index
	d.pipeline = retrieval.NewPipeline(embedder, index, cfg.RetrievalSettings(), d.metrics, d.logger.Zerolog())
	d.log.Info().Str("db_path", cfg.Retrieval.DBPath).Msg("Knowledge index opened")
	return nil
}

func (d *Daemon) initializeTools() error {
	cfg := d.config
	base := d.logger.Zerolog()

	d.tools = tools.NewRegistry()
	opts := cfg.BuiltinOptions()

	if cfg.Tools.WorkspaceDir != "" {
		sb, err := sandbox.NewHostSandbox(cfg.SandboxSettings(), base)
		if err != nil {
			return fmt.Errorf("failed to create sandbox: %w", err)
		}
		opts.Sandbox = sb
	}
	if d.pipeline != nil {
		opts.Retriever = d.pipeline
	}
	if cfg.Tools.NotesFile != "" {
		store, err := notes.Open(cfg.Tools.NotesFile)
		if err != nil {
			d.log.Warn().Err(err).Msg("Failed to open notes store, notes tool disabled")
		} else {
			d.notes = store
			opts.Notes = store
		}
	}
	if err := builtin.Register(d.tools, opts); err != nil {
		return err
	}

	var sink tools.AuditSink
	audit, err := observability.OpenAuditLogger(cfg.Tools.AuditFile)
	if err != nil {
		d.log.Warn().Err(err).Msg("Failed to open audit log, tool invocations will not be audited")
	} else {
		d.audit = audit
		sink = audit
	}

	d.gateway = tools.NewGateway(d.tools, cfg.GatewaySettings(), sink, d.metrics, base)
	d.log.Info().Int("tools", len(d.tools.List())).Msg("Tool gateway initialized")
	return nil
}

// Start runs the startup checks and the background workers.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("daemon is closed")
	}
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting zombiecoder daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.startupChecks(d.ctx); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return err
	}

	if err := d.sweeper.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start session sweeper")
	}

	if d.pipeline != nil && d.config.Retrieval.Watch {
		if err := os.MkdirAll(d.config.Retrieval.KnowledgeDir, 0755); err != nil {
			logger.Warn().Err(err).Msg("Failed to create knowledge directory")
		}
		watcher, err := retrieval.NewWatcher(
			d.config.Retrieval.KnowledgeDir,
			d.config.Retrieval.Extensions,
			d.config.Retrieval.WatchDebounce,
			d.logger.Zerolog(),
			d.reindexAsync,
		)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to watch knowledge directory")
		} else {
			d.watcher = watcher
		}
	}

	if addr := d.config.Metrics.Addr; addr != "" {
		d.startMetricsServer(addr)
	}

	logger.Info().Msg("Daemon started successfully")
	return nil
}

// startupChecks pings the external stores and syncs the knowledge
// directory concurrently. Only a failed store ping is fatal.
func (d *Daemon) startupChecks(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if p, ok := d.cacheStore.(pinger); ok {
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(gctx, 5*time.Second)
			defer cancel()
			if err := p.Ping(pingCtx); err != nil {
				return fmt.Errorf("cache store unreachable: %w", err)
			}
			return nil
		})
	}

	if d.pipeline != nil {
		g.Go(func() error {
			if _, err := os.Stat(d.config.Retrieval.KnowledgeDir); err != nil {
				return nil
			}
			n, err := d.IndexDir(gctx, d.config.Retrieval.KnowledgeDir)
			if err != nil {
				d.log.Warn().Err(err).Msg("Initial knowledge sync failed")
				return nil
			}
			d.log.Info().Int("files", n).Msg("Knowledge directory indexed")
			return nil
		})
	}

	return g.Wait()
}

func (d *Daemon) reindexAsync() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if !d.ingestMu.TryLock() {
			return
		}
		defer d.ingestMu.Unlock()

		n, err := d.pipeline.IngestDir(d.ctx, d.config.Retrieval.KnowledgeDir)
		if err != nil {
			d.log.Warn().Err(err).Msg("Knowledge re-index failed")
			return
		}
		d.log.Info().Int("files", n).Msg("Knowledge directory re-indexed")
	}()
}

// Operator endpoints served next to /metrics.
const (
	ResetMetricsPath    = "/admin/metrics/reset"
	InvalidateCachePath = "/admin/cache/invalidate"
	AgentActivePath     = "/admin/agents/active"
)

// metricsHandler serves the metrics, the health check and the operator
// actions. Operator actions accept POST only.
func (d *Daemon) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(ResetMetricsPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		d.ResetMetrics()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc(InvalidateCachePath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		err := d.InvalidateCache(r.Context(), r.URL.Query().Get("fingerprint"))
		switch {
		case errs.CodeOf(err) == errs.CodeInvalidRequest:
			http.Error(w, errs.UserMessage(err), http.StatusBadRequest)
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc(AgentActivePath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		active, err := strconv.ParseBool(q.Get("active"))
		if err != nil {
			http.Error(w, "active must be true or false", http.StatusBadRequest)
			return
		}
		err = d.SetAgentActive(q.Get("agent_id"), active)
		switch {
		case errs.CodeOf(err) == errs.CodeAgentNotFound:
			http.Error(w, errs.UserMessage(err), http.StatusNotFound)
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	return mux
}

func (d *Daemon) startMetricsServer(addr string) {
	d.metricsServer = &http.Server{Addr: addr, Handler: d.metricsHandler(), ReadHeaderTimeout: 5 * time.Second}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	d.log.Info().Str("addr", addr).Msg("Metrics server started")
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop stops the background workers and releases every component.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping zombiecoder daemon")

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop metrics server")
		}
		cancel()
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop knowledge watcher")
		}
	}

	d.sweeper.Stop()

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.Close()
	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// Close releases the components of a daemon that was never started, or
// finishes Stop. It is safe to call more than once.
func (d *Daemon) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.release()
}

// release tears components down in reverse construction order. It
// tolerates a partially built daemon.
func (d *Daemon) release() {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		d.log.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	// Close blocks until active turns finish; give them a bounded grace period.
	if d.queue != nil && d.queue.WaitForActive(5*time.Second) {
		if err := d.queue.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close command queue")
		}
	}
	if d.audit != nil {
		if err := d.audit.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close audit logger")
		}
	}
	if d.notes != nil {
		if err := d.notes.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close notes store")
		}
	}
	if d.index != nil {
		if err := d.index.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close knowledge index")
		}
	}
	if d.cache != nil {
		if err := d.cache.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close response cache")
		}
	} else if d.cacheStore != nil {
		if err := d.cacheStore.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close cache store")
		}
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			d.log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}
}

// Wait blocks until SIGINT or SIGTERM and then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.log.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.log.Error().Err(err).Msg("Failed to stop daemon")
	}
}
