package commandqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/zombiecoder/internal/tracing"
	"github.com/harun/zombiecoder/pkg/errs"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "zombiecoder.commandqueue"

// Task is the unit of work run in a lane.
type Task func(ctx context.Context) (interface{}, error)

// Policy decides what happens to a task that arrives at a busy lane.
type Policy string

const (
	// PolicyWait queues the task behind the running one.
	PolicyWait Policy = "wait"
	// PolicyReject fails the task with SessionBusy.
	PolicyReject Policy = "reject"
)

// ParsePolicy parses a policy name. Empty selects PolicyWait.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyWait:
		return PolicyWait, nil
	case PolicyReject:
		return PolicyReject, nil
	}
	return "", fmt.Errorf("unknown busy policy %q (want wait or reject)", s)
}

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = fmt.Errorf("command queue is closed")

// SessionLane names the lane of a session.
func SessionLane(sessionID string) string {
	return "session:" + sessionID
}

// taskRecord is a task waiting for its turn.
type taskRecord struct {
	id         string
	enqueuedAt time.Time
	ready      chan struct{}
	// promoted is set under the queue lock when the record is handed the lane.
	promoted bool
}

// laneState tracks one lane. A lane exists only while it has a running task.
type laneState struct {
	running bool
	waiting []*taskRecord
}

// Stats describes one lane.
type Stats struct {
	Lane    string `json:"lane"`
	Running bool   `json:"running"`
	Waiting int    `json:"waiting"`
}

// CommandQueue provides lane-based task serialization.
type CommandQueue struct {
	policy Policy
	logger zerolog.Logger

	mu        sync.Mutex
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool
	wg        sync.WaitGroup
}

// New creates a queue applying policy to busy lanes.
func New(policy Policy, logger zerolog.Logger) *CommandQueue {
	if policy == "" {
		policy = PolicyWait
	}
	return &CommandQueue{
		policy: policy,
		logger: logger.With().Str("component", "commandqueue").Logger(),
		lanes:  make(map[string]*laneState),
	}
}

// Policy returns the busy policy.
func (cq *CommandQueue) Policy() Policy {
	return cq.policy
}

// Enqueue runs task in lane once every earlier task of the lane has finished,
// and returns its result. The task runs on the caller's goroutine with ctx.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task) (interface{}, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "commandqueue.enqueue", attribute.String("lane", lane))
	var err error
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, cq.logger).With().Str("lane", lane).Logger()

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		err = ErrClosed
		return nil, err
	}
	cq.taskIDSeq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, cq.taskIDSeq),
		enqueuedAt: time.Now(),
		ready:      make(chan struct{}),
	}

	ls, exists := cq.lanes[lane]
	if !exists {
		ls = &laneState{}
		cq.lanes[lane] = ls
	}

	if ls.running {
		if cq.policy == PolicyReject {
			cq.mu.Unlock()
			err = errs.New(errs.CodeSessionBusy, "commandqueue.Enqueue", "lane %s is busy", lane).
				WithDetail("lane", lane)
			logger.Debug().Msg("Lane busy, task rejected")
			return nil, err
		}
		ls.waiting = append(ls.waiting, record)
		queued := len(ls.waiting)
		cq.wg.Add(1)
		cq.mu.Unlock()

		logger.Debug().Str("taskId", record.id).Int("queueSize", queued).Msg("Task enqueued")

		select {
		case <-record.ready:
		case <-ctx.Done():
			if cq.abandon(ls, record) {
				cq.wg.Done()
				err = errs.FromContext("commandqueue.Enqueue", ctx.Err())
				logger.Debug().Str("taskId", record.id).Msg("Task left the queue before running")
				return nil, err
			}
			// promoted while leaving; run to release the lane in order
		}
		span.SetAttributes(attribute.Int64("wait_ms", time.Since(record.enqueuedAt).Milliseconds()))
	} else {
		ls.running = true
		cq.wg.Add(1)
		cq.mu.Unlock()
	}

	defer cq.wg.Done()
	defer cq.release(lane, ls)

	if ctxErr := ctx.Err(); ctxErr != nil {
		err = errs.FromContext("commandqueue.Enqueue", ctxErr)
		return nil, err
	}

	start := time.Now()
	var value interface{}
	value, err = cq.run(ctx, task)
	logger.Debug().Str("taskId", record.id).Dur("duration", time.Since(start)).Err(err).Msg("Task finished")
	return value, err
}

// run executes task, converting a panic into an error.
func (cq *CommandQueue) run(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// release hands the lane to the next waiting task, or drops the lane when none waits.
func (cq *CommandQueue) release(lane string, ls *laneState) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if len(ls.waiting) == 0 {
		ls.running = false
		if cq.lanes[lane] == ls {
			delete(cq.lanes, lane)
		}
		return
	}
	next := ls.waiting[0]
	ls.waiting = ls.waiting[1:]
	next.promoted = true
	close(next.ready)
}

// abandon removes a waiting record. It returns false when the record was
// already handed the lane.
func (cq *CommandQueue) abandon(ls *laneState, record *taskRecord) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if record.promoted {
		return false
	}
	for i, r := range ls.waiting {
		if r == record {
			ls.waiting = append(ls.waiting[:i], ls.waiting[i+1:]...)
			break
		}
	}
	return true
}

// Busy reports whether lane has a running task.
func (cq *CommandQueue) Busy(lane string) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	ls, ok := cq.lanes[lane]
	return ok && ls.running
}

// QueueSize returns the number of tasks waiting in lane.
func (cq *CommandQueue) QueueSize(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, ok := cq.lanes[lane]; ok {
		return len(ls.waiting)
	}
	return 0
}

// Stats returns every active lane, sorted by name.
func (cq *CommandQueue) Stats() []Stats {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	out := make([]Stats, 0, len(cq.lanes))
	for name, ls := range cq.lanes {
		out = append(out, Stats{Lane: name, Running: ls.running, Waiting: len(ls.waiting)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lane < out[j].Lane })
	return out
}

// WaitForActive waits until no task is running or waiting, or timeout elapses.
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		cq.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		cq.logger.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
		return false
	}
}

// Close rejects new tasks and waits for accepted ones to finish.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	cq.closed = true
	cq.mu.Unlock()
	cq.wg.Wait()
	return nil
}
