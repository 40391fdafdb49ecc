package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/zombiecoder/internal/metrics"
	"github.com/harun/zombiecoder/internal/tracing"
	"github.com/harun/zombiecoder/pkg/cache"
	"github.com/harun/zombiecoder/pkg/commandqueue"
	"github.com/harun/zombiecoder/pkg/errs"
	"github.com/harun/zombiecoder/pkg/moderation"
	"github.com/harun/zombiecoder/pkg/provider"
	"github.com/harun/zombiecoder/pkg/retrieval"
	"github.com/harun/zombiecoder/pkg/router"
	"github.com/harun/zombiecoder/pkg/session"
	"github.com/harun/zombiecoder/pkg/tools"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tracerName = "zombiecoder.agent"

	// DefaultMaxToolIterations bounds the tool rounds of one turn.
	DefaultMaxToolIterations = 5
	// DefaultHistoryTurns is how many history entries go into the prompt.
	DefaultHistoryTurns = 6
	// DefaultRetrievalTopK is how many chunks a turn retrieves.
	DefaultRetrievalTopK = 5
	// DefaultMaxContextChars caps the retrieved context in the prompt.
	DefaultMaxContextChars = 4000
)

// Retriever is the part of the retrieval pipeline the executor needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.Result, error)
}

// Config wires an Executor.
type Config struct {
	Catalog  *Catalog
	Sessions *session.Store
	Router   *router.Router
	Queue    *commandqueue.CommandQueue
	// Gateway may be nil, which disables tools.
	Gateway *tools.Gateway
	// Retriever may be nil, which disables retrieval.
	Retriever Retriever
	// Filter may be nil, which disables input screening.
	Filter  *moderation.Filter
	Metrics *metrics.Metrics
	Logger  zerolog.Logger

	MaxToolIterations int
	HistoryTurns      int
	RetrievalTopK     int
	MaxContextChars   int
	// TurnTimeout bounds a whole turn, queue wait included. Zero means no bound.
	TurnTimeout time.Duration
	// CacheTTL is the lifetime of cached responses. Zero selects the cache default.
	CacheTTL time.Duration
}

// Executor runs conversational turns.
type Executor struct {
	catalog   *Catalog
	sessions  *session.Store
	router    *router.Router
	queue     *commandqueue.CommandQueue
	gateway   *tools.Gateway
	retriever Retriever
	filter    *moderation.Filter
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	maxToolIterations int
	historyTurns      int
	retrievalTopK     int
	maxContextChars   int
	turnTimeout       time.Duration
	cacheTTL          time.Duration

	// Active runs for abort capability
	runsMu     sync.Mutex
	activeRuns map[string]*activeRun
}

// NewExecutor creates an executor.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("agent catalog is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("model router is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = DefaultMaxToolIterations
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = DefaultHistoryTurns
	}
	if cfg.RetrievalTopK <= 0 {
		cfg.RetrievalTopK = DefaultRetrievalTopK
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = DefaultMaxContextChars
	}

	return &Executor{
		catalog:           cfg.Catalog,
		sessions:          cfg.Sessions,
		router:            cfg.Router,
		queue:             cfg.Queue,
		gateway:           cfg.Gateway,
		retriever:         cfg.Retriever,
		filter:            cfg.Filter,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger.With().Str("component", "agent").Logger(),
		maxToolIterations: cfg.MaxToolIterations,
		historyTurns:      cfg.HistoryTurns,
		retrievalTopK:     cfg.RetrievalTopK,
		maxContextChars:   cfg.MaxContextChars,
		turnTimeout:       cfg.TurnTimeout,
		cacheTTL:          cfg.CacheTTL,
		activeRuns:        make(map[string]*activeRun),
	}, nil
}

// Catalog returns the agent catalog.
func (e *Executor) Catalog() *Catalog {
	return e.catalog
}

// RunTurn runs one turn of req. A missing session id starts a new session.
// History gets the user and agent entries only when the turn succeeds.
func (e *Executor) RunTurn(ctx context.Context, req Request) (*TurnResult, error) {
	const op = "agent.RunTurn"
	start := time.Now()

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	ctx = tracing.NewTurnContext(ctx, req.AgentID, req.SessionID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.run_turn",
		attribute.String("agent_id", req.AgentID),
		attribute.String("session_id", req.SessionID),
		attribute.Bool("tools_enabled", req.ToolsEnabled),
	)
	logger := tracing.LoggerFromContext(ctx, e.logger)

	var (
		result *TurnResult
		err    error
	)
	defer func() {
		d := time.Since(start)
		agentLabel, providerID := req.AgentID, ""
		if errs.CodeOf(err) == errs.CodeAgentNotFound {
			if _, known := e.catalog.Get(req.AgentID); !known {
				agentLabel = "unknown"
			}
		}
		if result != nil {
			result.Duration = d
			providerID = result.ProviderID
			span.SetAttributes(attribute.Bool("cached", result.Cached), attribute.String("provider_id", providerID))
		}
		e.metrics.RecordTurn(agentLabel, providerID, turnOutcome(result, err), d)
		tracing.EndSpan(span, err)
	}()

	def, ok := e.catalog.Get(req.AgentID)
	if !ok {
		err = errs.New(errs.CodeAgentNotFound, op, "unknown agent %q", req.AgentID).WithDetail("agent_id", req.AgentID)
		logger.Warn().Msg("Unknown agent")
		return nil, err
	}
	if !e.catalog.IsActive(def.ID) {
		err = errs.New(errs.CodeAgentNotFound, op, "agent %q is deactivated", req.AgentID).
			WithDetail("agent_id", req.AgentID).
			WithDetail("inactive", "true")
		logger.Warn().Msg("Agent is deactivated")
		return nil, err
	}
	if verr := session.ValidateID(req.SessionID); verr != nil {
		err = errs.New(errs.CodeInvalidRequest, op, "%v", verr).WithDetail("session_id", req.SessionID)
		return nil, err
	}

	input := req.InputText
	if e.filter != nil {
		var screened moderation.Result
		screened, err = e.filter.Screen(input)
		if err != nil {
			logger.Warn().Err(err).Msg("Input rejected")
			return nil, err
		}
		if len(screened.Issues) > 0 {
			logger.Info().Strs("issues", screened.Issues).Msg("Input redacted")
		}
		input = screened.Text
	} else if strings.TrimSpace(input) == "" {
		err = errs.New(errs.CodeInvalidRequest, op, "input text cannot be empty")
		return nil, err
	}

	if e.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.turnTimeout)
		defer cancel()
	}

	value, qerr := e.queue.Enqueue(ctx, commandqueue.SessionLane(req.SessionID), func(taskCtx context.Context) (interface{}, error) {
		return e.execute(taskCtx, def, req, input)
	})
	if qerr != nil {
		err = errs.FromContext(op, qerr)
		logger.Warn().Err(err).Str("code", string(errs.CodeOf(err))).Msg("Turn failed")
		return nil, err
	}

	result = value.(*TurnResult)
	logger.Info().
		Str("provider_id", result.ProviderID).
		Bool("cached", result.Cached).
		Int("iterations", result.Iterations).
		Strs("tools_used", result.ToolsUsed).
		Bool("retrieval_used", result.RetrievalUsed).
		Msg("Turn completed")
	return result, nil
}

// execute runs the turn loop inside the session lane.
func (e *Executor) execute(ctx context.Context, def Definition, req Request, input string) (*TurnResult, error) {
	const op = "agent.RunTurn"
	logger := tracing.LoggerFromContext(ctx, e.logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	run := e.track(req.SessionID, cancel)
	defer e.untrack(req.SessionID, run)

	var history []session.Entry
	sess, err := e.sessions.Load(ctx, req.SessionID)
	switch {
	case err == nil:
		history = sess.Recent(e.historyTurns)
	case !errors.Is(err, session.ErrNotFound):
		return nil, err
	}

	toolLoop := req.ToolsEnabled && e.gateway != nil
	perms := tools.PermissionSet{}
	var available []tools.Tool
	if toolLoop {
		perms = tools.NewPermissionSet(def.AllowedTools...)
		for _, t := range e.gateway.Registry().List() {
			if perms.Allows(t.ID()) {
				available = append(available, t)
			}
		}
	}

	retrieved, retrievalUsed, err := e.retrieve(ctx, def, input)
	if err != nil {
		return nil, err
	}

	prompt := provider.Prompt{
		System:   buildSystemPrompt(def, available, retrieved),
		Messages: append(historyMessages(history), provider.Message{Role: provider.RoleUser, Content: input}),
	}
	normalized := retrieval.NormalizeQuery(input)

	var (
		st         = statePrompting
		iterations int
		transcript strings.Builder
		resolution *router.Resolution
		fp         string
		calls      []tools.ParsedCall
		toolsUsed  = []string{}
	)
	for st != stateFinalizing {
		switch st {
		case statePrompting:
			fp = cache.Fingerprint(def.ID, normalized, fingerprintContext(toolLoop, retrieved, transcript.String()))
			resolution, err = e.router.Resolve(ctx, router.Request{
				AgentID:     def.ID,
				Preference:  def.ProviderPreference,
				Prompt:      prompt,
				Budget:      router.Budget{MaxTokens: def.MaxTokens},
				Temperature: def.Temperature,
				Fingerprint: fp,
				CacheTTL:    e.cacheTTL,
				DeferCache:  true,
			})
			if err != nil {
				return nil, err
			}
			iterations++

			calls = nil
			if toolLoop {
				calls = tools.ParseCalls(resolution.Text)
			}
			if len(calls) == 0 {
				st = stateFinalizing
				continue
			}
			if iterations > e.maxToolIterations {
				return nil, errs.New(errs.CodeToolLoopExceeded, op,
					"no final answer after %d tool rounds", e.maxToolIterations).
					WithDetail("agent_id", def.ID)
			}
			st = stateAwaitingToolResult

		case stateAwaitingToolResult:
			prompt.Messages = append(prompt.Messages, provider.Message{Role: provider.RoleAssistant, Content: resolution.Text})
			for _, call := range calls {
				res, terr := e.gateway.Invoke(ctx, tools.Call{
					ToolID:    call.ToolID,
					Args:      call.Args,
					SessionID: req.SessionID,
					AgentID:   def.ID,
				}, perms)
				if terr != nil {
					if errs.CodeOf(terr) == errs.CodeToolNotPermitted {
						return nil, terr
					}
					if ctx.Err() != nil {
						return nil, errs.FromContext(op, ctx.Err())
					}
					logger.Debug().Err(terr).Str("tool_id", call.ToolID).Msg("Tool failed, reporting to model")
				}
				toolsUsed = appendUnique(toolsUsed, call.ToolID)

				msg := toolMessage(call.ToolID, res, terr)
				prompt.Messages = append(prompt.Messages, msg)
				fmt.Fprintf(&transcript, "%s\x1f%s\x1e", call.Raw, msg.Content)
			}
			st = statePrompting
		}
	}

	text := tools.StripCalls(resolution.Text)
	if e.filter != nil {
		text = e.filter.Sanitize(text)
	}

	user := session.Entry{Role: session.RoleUser, Text: input, Timestamp: req.Timestamp}
	reply := session.Entry{Role: session.RoleAgent, Text: text}
	if err := run.commit(ctx, func() error {
		return e.commit(ctx, req.SessionID, def.ID, user, reply)
	}); err != nil {
		if ctx.Err() != nil {
			return nil, errs.FromContext(op, err)
		}
		return nil, fmt.Errorf("failed to save turn: %w", err)
	}

	// only the final answer of a committed turn is replayable; responses
	// that requested tools never reach the cache
	if perr := e.router.Publish(ctx, resolution); perr != nil {
		logger.Warn().Err(perr).Msg("Failed to cache response")
	}

	return &TurnResult{
		ResponseText:  text,
		AgentName:     def.DisplayName(),
		SessionID:     req.SessionID,
		ToolsUsed:     toolsUsed,
		Cached:        resolution.Cached,
		ProviderID:    resolution.ProviderID,
		RetrievalUsed: retrievalUsed,
		Iterations:    iterations,
		Fingerprint:   fp,
	}, nil
}

// retrieve fetches context for input. Retrieval failures other than
// cancellation degrade to no context.
func (e *Executor) retrieve(ctx context.Context, def Definition, input string) (string, bool, error) {
	const op = "agent.RunTurn"
	if e.retriever == nil || !def.UseRetrieval {
		return "", false, nil
	}

	results, err := e.retriever.Retrieve(ctx, input, e.retrievalTopK)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, errs.FromContext(op, ctx.Err())
		}
		logger := tracing.LoggerFromContext(ctx, e.logger)
		logger.Warn().Err(err).Msg("Retrieval unavailable, continuing without context")
		return "", false, nil
	}
	if len(results) == 0 {
		return "", false, nil
	}
	return retrieval.FormatContext(results, e.maxContextChars), true, nil
}

// commit appends the turn, recreating the session if it expired or never existed.
func (e *Executor) commit(ctx context.Context, id, agentID string, user, reply session.Entry) error {
	err := e.sessions.AppendTurn(ctx, id, user, reply)
	if !errors.Is(err, session.ErrNotFound) {
		return err
	}
	if _, err := e.sessions.Create(ctx, id, agentID); err != nil {
		return err
	}
	return e.sessions.AppendTurn(ctx, id, user, reply)
}

// Abort cancels the running turn of a session. It reports whether one was
// running. A turn that is committing finishes its commit first; once Abort
// returns the turn can no longer write to the session.
func (e *Executor) Abort(sessionID string) bool {
	e.runsMu.Lock()
	r, exists := e.activeRuns[sessionID]
	delete(e.activeRuns, sessionID)
	e.runsMu.Unlock()
	if !exists {
		return false
	}

	e.logger.Info().Str("session_id", sessionID).Msg("Aborting turn")
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	return true
}

// IsRunning reports whether a turn is running for a session.
func (e *Executor) IsRunning(sessionID string) bool {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	_, exists := e.activeRuns[sessionID]
	return exists
}

// activeRun is a running turn. mu orders its commit against Abort.
type activeRun struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

// commit runs save unless the turn has been cancelled.
func (r *activeRun) commit(ctx context.Context, save func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return save()
}

func (e *Executor) track(sessionID string, cancel context.CancelFunc) *activeRun {
	r := &activeRun{cancel: cancel}
	e.runsMu.Lock()
	e.activeRuns[sessionID] = r
	e.runsMu.Unlock()
	return r
}

func (e *Executor) untrack(sessionID string, r *activeRun) {
	e.runsMu.Lock()
	if e.activeRuns[sessionID] == r {
		delete(e.activeRuns, sessionID)
	}
	e.runsMu.Unlock()
}

// fingerprintContext is the part of a cache key beyond agent and input.
// History is left out so a repeated question hits the cache.
func fingerprintContext(toolLoop bool, retrieved, transcript string) string {
	return fmt.Sprintf("tools=%t\x00%s\x00%s", toolLoop, retrieved, transcript)
}

func turnOutcome(result *TurnResult, err error) string {
	switch {
	case err == nil && result != nil && result.Cached:
		return metrics.OutcomeCached
	case err == nil:
		return metrics.OutcomeSuccess
	}
	switch errs.CodeOf(err) {
	case errs.CodeTimeout:
		return metrics.OutcomeTimeout
	case errs.CodeToolNotPermitted:
		return metrics.OutcomeDenied
	}
	return metrics.OutcomeError
}

func appendUnique(list []string, id string) []string {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}
