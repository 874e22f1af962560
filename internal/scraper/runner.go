package scraper

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/smazka/pricewatch/internal/metrics"
	"github.com/smazka/pricewatch/internal/model"
)

// State of the recovery/pacing loop, exposed for status reporting.
type State int32

const (
	StateRunning State = iota
	StateRetryWait
	StateCooldown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateRetryWait:
		return "retry_wait"
	case StateCooldown:
		return "cooldown"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// SessionController is the slice of the browser session the runner owns.
type SessionController interface {
	Acquire(ctx context.Context) error
	Release()
}

// TargetFetcher resolves one SKU against the live session.
type TargetFetcher interface {
	FetchPrice(ctx context.Context, sku string) model.Outcome
}

// Rotator switches the egress IP. Optional; failures are logged, not fatal.
type Rotator interface {
	CanRotate() bool
	Rotate(ctx context.Context) error
}

// PolicyConfig parameterizes the recovery and pacing state machine. The
// historical scraper variants were this struct with different constants.
type PolicyConfig struct {
	BatchSize            int
	RequestDelayMin      time.Duration
	RequestDelayMax      time.Duration
	BatchPause           time.Duration
	BlockCooldown        time.Duration
	RotateWaitMin        time.Duration
	RotateWaitMax        time.Duration
	CooldownPause        time.Duration
	MaxConsecutiveBlocks int
	RetriesPerTarget     int
}

// Normalize fills zero values and keeps the escalated cooldown strictly
// longer than the per-block backoff.
func (c PolicyConfig) Normalize() PolicyConfig {
	if c.BatchSize < 1 {
		c.BatchSize = 3
	}
	if c.RequestDelayMin <= 0 {
		c.RequestDelayMin = 12 * time.Second
	}
	if c.RequestDelayMax < c.RequestDelayMin {
		c.RequestDelayMax = c.RequestDelayMin
	}
	if c.BatchPause <= 0 {
		c.BatchPause = time.Minute
	}
	if c.BlockCooldown <= 0 {
		c.BlockCooldown = 30 * time.Second
	}
	if c.RotateWaitMin <= 0 {
		c.RotateWaitMin = 20 * time.Second
	}
	if c.RotateWaitMax < c.RotateWaitMin {
		c.RotateWaitMax = c.RotateWaitMin
	}
	if c.MaxConsecutiveBlocks < 1 {
		c.MaxConsecutiveBlocks = 4
	}
	if c.RetriesPerTarget < 0 {
		c.RetriesPerTarget = 0
	}
	if c.CooldownPause <= c.BlockCooldown {
		c.CooldownPause = 2 * c.BlockCooldown
	}
	return c
}

// Runner resolves a batch of SKUs sequentially through one session: one
// target is fully settled before the next starts, since concurrent requests
// from one fingerprint raise the block risk.
type Runner struct {
	cfg     PolicyConfig
	session SessionController
	fetcher TargetFetcher
	rotator Rotator
	metrics *metrics.Metrics
	logger  *slog.Logger
	rng     *rand.Rand
	sleep   func(ctx context.Context, d time.Duration)

	state  atomic.Int32
	blocks int
}

func NewRunner(cfg PolicyConfig, session SessionController, fetcher TargetFetcher, rotator Rotator, m *metrics.Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		cfg:     cfg.Normalize(),
		session: session,
		fetcher: fetcher,
		rotator: rotator,
		metrics: m,
		logger:  logger.With("component", "runner"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	r.sleep = r.ctxSleep
	return r
}

// State returns the current loop state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
}

// Run resolves every SKU to exactly one terminal outcome. The session is
// released on every exit path. A cancelled context marks the unvisited
// remainder as errors rather than dropping it.
func (r *Runner) Run(ctx context.Context, skus []string) []model.Outcome {
	defer r.session.Release()
	defer r.setState(StateStopped)

	started := time.Now()
	outcomes := make([]model.Outcome, 0, len(skus))

	for i, sku := range skus {
		if ctx.Err() != nil {
			for _, rest := range skus[i:] {
				outcomes = append(outcomes, model.Failed(rest, "runner", ctx.Err()))
			}
			break
		}

		// recycle the session between micro-batches even without a block:
		// a long-lived session accumulates an automation-looking fingerprint
		if i > 0 && i%r.cfg.BatchSize == 0 {
			r.setState(StateRetryWait)
			r.logger.Info("batch pause", "completed", i, "pause", r.cfg.BatchPause)
			r.session.Release()
			r.sleep(ctx, r.cfg.BatchPause)
		}
		r.setState(StateRunning)

		outcomes = append(outcomes, r.resolve(ctx, sku))

		if i < len(skus)-1 {
			r.sleep(ctx, r.jitter(r.cfg.RequestDelayMin, r.cfg.RequestDelayMax))
		}
	}

	r.metrics.ObserveBatch(time.Since(started))
	return outcomes
}

// resolve settles one target within the retry budget, recovering from blocks
// by tearing the session down, rotating the egress IP when possible, and
// escalating to a long cooldown after too many consecutive blocks.
func (r *Runner) resolve(ctx context.Context, sku string) model.Outcome {
	attempts := r.cfg.RetriesPerTarget + 1
	last := model.Blocked(sku, "")

	for attempt := 0; attempt < attempts; attempt++ {
		if err := r.session.Acquire(ctx); err != nil {
			return model.Failed(sku, "session", err)
		}

		out := r.fetcher.FetchPrice(ctx, sku)
		if out.Status != model.StatusBlocked {
			r.blocks = 0
			return out
		}

		last = out
		r.blocks++
		r.metrics.IncBlock()
		r.logger.Info("blocked, recovering",
			"sku", sku, "attempt", attempt+1, "consecutive_blocks", r.blocks)

		r.session.Release()
		if r.rotator != nil && r.rotator.CanRotate() {
			if err := r.rotator.Rotate(ctx); err != nil {
				r.metrics.IncRotation("error")
				r.logger.Warn("rotation failed, continuing", "error", err)
			} else {
				r.metrics.IncRotation("ok")
			}
			r.sleep(ctx, r.jitter(r.cfg.RotateWaitMin, r.cfg.RotateWaitMax))
		} else {
			r.sleep(ctx, r.cfg.BlockCooldown)
		}

		if r.blocks >= r.cfg.MaxConsecutiveBlocks {
			r.setState(StateCooldown)
			r.logger.Warn("too many consecutive blocks, cooling down",
				"blocks", r.blocks, "pause", r.cfg.CooldownPause)
			r.sleep(ctx, r.cfg.CooldownPause)
			r.blocks = 0
			r.setState(StateRunning)
		}

		if ctx.Err() != nil {
			return model.Failed(sku, "runner", ctx.Err())
		}
	}

	return model.BlockedAfterRetry(sku, last.Source)
}

// jitter draws a uniformly random delay; pacing is never fixed so the
// request train carries no periodic signature.
func (r *Runner) jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(r.rng.Int63n(int64(max-min)))
}

func (r *Runner) ctxSleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
