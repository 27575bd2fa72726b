// Package engine is the job admission, pricing and lifecycle core. It
// admits jobs against the credit ledger, hands them to a WorkerPool and
// drives them through the status machine as the execution layer reports
// back.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/compute/pricing"
	"github.com/cuongbtq/pyrx-compute/internal/compute/storage"
	"github.com/shopspring/decimal"
)

// WorkerPool is the execution layer. Enqueue hands off an admitted job;
// results come back through the engine's callback methods.
type WorkerPool interface {
	Enqueue(ctx context.Context, job *domain.Job) error
}

// Notifier is told about every committed status change.
type Notifier interface {
	JobChanged(ctx context.Context, job *domain.Job)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) JobChanged(context.Context, *domain.Job) {}

// Config tunes admission and deadlines.
type Config struct {
	// StarterCredits is granted to a wallet on its first submission.
	StarterCredits decimal.Decimal

	// ProcessingDeadline bounds PROCESSING for inference jobs.
	ProcessingDeadline time.Duration

	// TrainingDeadline bounds PROCESSING for training jobs.
	TrainingDeadline time.Duration

	// SweepInterval is how often RunSweeper looks for overdue and stuck jobs.
	SweepInterval time.Duration

	// RedispatchAfter is how long a job may stay PENDING before the sweeper
	// enqueues it again.
	RedispatchAfter time.Duration

	// SweepBatch caps the jobs handled per sweep and per recovery query.
	SweepBatch int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		StarterCredits:     decimal.NewFromInt(10),
		ProcessingDeadline: 5 * time.Minute,
		TrainingDeadline:   2 * time.Hour,
		SweepInterval:      30 * time.Second,
		RedispatchAfter:    time.Minute,
		SweepBatch:         100,
	}
}

// Deadline returns how long a job of category c may stay PROCESSING.
func (c Config) Deadline(category domain.JobCategory) time.Duration {
	if category.IsTraining() {
		return c.TrainingDeadline
	}
	return c.ProcessingDeadline
}

// Engine is safe for concurrent use.
type Engine struct {
	store     storage.Store
	estimator *pricing.Estimator
	pool      WorkerPool
	notifier  Notifier
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// Option customises an Engine.
type Option func(*Engine)

// WithNotifier sets the status change hook.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New wires an engine.
func New(store storage.Store, estimator *pricing.Estimator, pool WorkerPool, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		estimator: estimator,
		pool:      pool,
		notifier:  NopNotifier{},
		cfg:       DefaultConfig(),
		logger:    logger,
		now:       time.Now,
		timers:    make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.SweepBatch <= 0 {
		e.cfg.SweepBatch = 100
	}
	return e
}

// Estimator exposes the price list and estimator used for admission.
func (e *Engine) Estimator() *pricing.Estimator {
	return e.estimator
}

// clock returns the current time at the precision both SQL dialects keep.
func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

func (e *Engine) notify(ctx context.Context, job *domain.Job) {
	e.notifier.JobChanged(context.WithoutCancel(ctx), job.Clone())
}

// Close stops all deadline timers. Jobs keep their persisted deadlines and
// are picked up again by Recover or the sweeper.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}
