package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/smazka/pricewatch/internal/browser"
	"github.com/smazka/pricewatch/internal/model"
	"github.com/smazka/pricewatch/internal/proxy"
)

// BatchRunner resolves a SKU batch to terminal outcomes.
type BatchRunner interface {
	Run(ctx context.Context, skus []string) []model.Outcome
}

// TaskSource is the coordinator-facing half of the protocol.
type TaskSource interface {
	GetTask(ctx context.Context) (taskID string, skus []string, err error)
	PushResults(ctx context.Context, taskID string, results []model.Outcome) error
}

// Loop polls for work and drives the runner. One loop per process; the
// sequential session model does not tolerate parallel batches.
type Loop struct {
	source       TaskSource
	runner       BatchRunner
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewLoop(source TaskSource, runner BatchRunner, pollInterval time.Duration, logger *slog.Logger) *Loop {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		source:       source,
		runner:       runner,
		pollInterval: pollInterval,
		logger:       logger.With("component", "worker"),
	}
}

// Run polls until the context is cancelled. Poll errors back off to the next
// tick; a reachable coordinator with an empty queue is the normal idle state.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("worker loop started", "poll_interval", l.pollInterval)

	for {
		if err := l.step(ctx); err != nil {
			l.logger.Warn("poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			l.logger.Info("worker loop stopped")
			return
		case <-time.After(l.pollInterval):
		}
	}
}

func (l *Loop) step(ctx context.Context) error {
	taskID, skus, err := l.source.GetTask(ctx)
	if err != nil {
		return err
	}
	if len(skus) == 0 {
		return nil
	}

	l.logger.Info("task received", "task_id", taskID, "targets", len(skus))
	results := l.runner.Run(ctx, skus)

	if err := l.source.PushResults(ctx, taskID, results); err != nil {
		l.logger.Error("failed to deliver results", "task_id", taskID, "error", err)
		return err
	}
	l.logger.Info("results delivered", "task_id", taskID, "count", len(results))
	return nil
}

// ClientSource adapts the HTTP client to the TaskSource interface.
type ClientSource struct {
	Client *Client
}

func (s ClientSource) GetTask(ctx context.Context) (string, []string, error) {
	task, err := s.Client.GetTask(ctx)
	if err != nil {
		return "", nil, err
	}
	return task.ID, task.SKUs, nil
}

func (s ClientSource) PushResults(ctx context.Context, taskID string, results []model.Outcome) error {
	return s.Client.PushResults(ctx, taskID, results)
}

// ProxiedSession binds the browser session to the proxy lease: every launch
// picks up the proxy settings current at that moment, so a rotation between
// sessions takes effect without restarting the worker.
type ProxiedSession struct {
	Session *browser.Session
	Proxy   *proxy.Client
}

func (p *ProxiedSession) Acquire(ctx context.Context) error {
	if p.Proxy != nil {
		p.Session.SetProxy(p.Proxy.Lease())
	}
	return p.Session.Acquire(ctx)
}

func (p *ProxiedSession) Release() {
	p.Session.Release()
}
