// Package queue implements the pull-based task/result exchange between the
// coordinator and untrusted workers. Workers poll for bounded SKU batches and
// push outcome batches back; a synchronous caller waits on the result sink
// with an explicit timeout and accepts partial results.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smazka/pricewatch/internal/metrics"
	"github.com/smazka/pricewatch/internal/model"
)

var ErrClosed = errors.New("coordinator is closed")

// DefaultPollInterval is how often an awaiting caller re-reads the sink.
const DefaultPollInterval = time.Second

// Task is one bounded batch handed to a worker pull.
type Task struct {
	ID   string   `json:"task_id"`
	SKUs []string `json:"skus"`
}

// ResultHook observes accepted result batches (event publish, history, cache).
type ResultHook func(taskID string, results []model.Outcome)

// Coordinator owns the pending queue and the result sink. All state is
// process-lifetime in-memory: a restart loses in-flight batches and the
// caller resubmits after its timeout.
type Coordinator struct {
	mu       sync.Mutex
	pending  []string
	taskID   string
	sink     map[string][]model.Outcome
	closed   bool
	hooks    []ResultHook
	logger   *slog.Logger
	metrics  *metrics.Metrics
	pollStep time.Duration
}

func NewCoordinator(logger *slog.Logger, m *metrics.Metrics) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		sink:     make(map[string][]model.Outcome),
		logger:   logger.With("component", "coordinator"),
		metrics:  m,
		pollStep: DefaultPollInterval,
	}
}

// OnResults registers a hook invoked after each accepted submit.
func (c *Coordinator) OnResults(h ResultHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

// Pending returns the number of targets waiting to be pulled.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// RequestTask atomically pops up to limit pending targets. The returned SKU
// list is empty (never nil) when the queue is idle; workers poll.
func (c *Coordinator) RequestTask(limit int) Task {
	if limit < 1 {
		limit = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	task := Task{ID: c.taskID, SKUs: make([]string, 0, limit)}
	if len(c.pending) == 0 {
		return task
	}

	n := limit
	if n > len(c.pending) {
		n = len(c.pending)
	}
	task.SKUs = append(task.SKUs, c.pending[:n]...)
	c.pending = c.pending[n:]
	c.metrics.SetQueueDepth(len(c.pending))

	c.logger.Info("task handed out", "task_id", task.ID, "skus", len(task.SKUs), "pending", len(c.pending))
	return task
}

// SubmitResults appends outcomes to the sink. Results are keyed by the
// submitted task identifier when given, else by the task active at call time;
// entries for rolled-over tasks are kept so slow stragglers are not lost.
// Never blocks on the awaiting caller.
func (c *Coordinator) SubmitResults(taskID string, results []model.Outcome) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if taskID == "" {
		taskID = c.taskID
	}
	c.sink[taskID] = append(c.sink[taskID], results...)
	hooks := make([]ResultHook, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.Unlock()

	c.logger.Info("results received", "task_id", taskID, "count", len(results))
	for _, r := range results {
		c.metrics.IncOutcome(string(r.Status))
	}
	for _, h := range hooks {
		h(taskID, results)
	}
	return nil
}

// EnqueueAndAwait seeds a fresh task with the de-duplicated targets, then
// polls the sink until every target has an outcome or the timeout elapses.
// Partial results are returned as-is; stale sink entries from earlier tasks
// are discarded so the coordinator can be reused immediately after a timeout.
//
// At most one batch is live at a time: a concurrent call supersedes the
// previous batch, replacing its pending targets and discarding its sink. The
// superseded caller still returns cleanly with whatever its task collected
// before the takeover. Callers that need every batch scraped must serialize.
func (c *Coordinator) EnqueueAndAwait(ctx context.Context, skus []string, timeout time.Duration) ([]model.Outcome, error) {
	targets := Dedupe(skus)
	if len(targets) == 0 {
		return []model.Outcome{}, nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	taskID := uuid.New().String()
	c.taskID = taskID
	c.pending = append([]string{}, targets...)
	// forget sinks of abandoned tasks
	for id := range c.sink {
		if id != taskID {
			delete(c.sink, id)
		}
	}
	c.metrics.SetQueueDepth(len(c.pending))
	poll := c.pollStep
	c.mu.Unlock()

	c.logger.Info("batch enqueued", "task_id", taskID, "targets", len(targets), "timeout", timeout)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.collect(taskID, targets), ctx.Err()
		case <-deadline.C:
			results := c.collect(taskID, targets)
			c.logger.Info("batch wait timed out", "task_id", taskID, "collected", len(results))
			return results, nil
		case <-ticker.C:
			if results, done := c.tryCollect(taskID, targets); done {
				return results, nil
			}
		}
	}
}

// collect returns one outcome per target in submission order, dropping
// duplicates from retried or double-submitted batches.
func (c *Coordinator) collect(taskID string, targets []string) []model.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return pickPerTarget(c.sink[taskID], targets)
}

func (c *Coordinator) tryCollect(taskID string, targets []string) ([]model.Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	results := pickPerTarget(c.sink[taskID], targets)
	return results, len(results) == len(targets)
}

func pickPerTarget(received []model.Outcome, targets []string) []model.Outcome {
	bySKU := make(map[string]model.Outcome, len(received))
	for _, r := range received {
		if _, seen := bySKU[r.SKU]; !seen {
			bySKU[r.SKU] = r
		}
	}
	out := make([]model.Outcome, 0, len(targets))
	for _, t := range targets {
		if r, ok := bySKU[t]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Dedupe trims, drops blanks and keeps first occurrence order.
func Dedupe(skus []string) []string {
	seen := make(map[string]struct{}, len(skus))
	out := make([]string, 0, len(skus))
	for _, s := range skus {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Close rejects further submits and drops queued work.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.pending = nil
}

// SetPollInterval shortens the sink poll step; used by tests.
func (c *Coordinator) SetPollInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.pollStep = d
	}
}
