package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/pyrx-compute/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Source yields job deliveries. *rabbitmq.Client satisfies it.
type Source interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Source      Source
	Reporter    Reporter
	Executor    Executor
	WorkerID    string
	Concurrency int
	JobTimeout  time.Duration
}

// Worker claims queued jobs, executes them and reports back to the engine.
type Worker struct {
	logger      *slog.Logger
	source      Source
	reporter    Reporter
	executor    Executor
	workerID    string
	concurrency int
	jobTimeout  time.Duration

	reportBackoff time.Duration
	now           func() time.Time

	jobsChan chan *task
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// task is a decoded message together with the delivery that must be settled.
type task struct {
	msg      *domain.JobMessage
	delivery amqp.Delivery
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = domain.DefaultConcurrency
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = domain.DefaultJobTimeout
	}

	return &Worker{
		logger:        cfg.Logger,
		source:        cfg.Source,
		reporter:      cfg.Reporter,
		executor:      cfg.Executor,
		workerID:      cfg.WorkerID,
		concurrency:   concurrency,
		jobTimeout:    jobTimeout,
		reportBackoff: domain.ReportBackoff,
		now:           time.Now,
		jobsChan:      make(chan *task),
		stopChan:      make(chan struct{}),
	}
}

// Start consumes from the source and processes jobs until ctx is cancelled
// or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	return w.Serve(ctx, deliveries)
}

// Serve processes deliveries with the worker pool. It returns once the
// deliveries channel closes, ctx is done or Stop is called, after every
// in-flight job has been settled.
func (w *Worker) Serve(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)
	w.wg.Wait()

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	return nil
}

// Stop asks a running worker to stop taking new deliveries.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
}

func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	if w.source == nil {
		return nil, fmt.Errorf("worker has no delivery source")
	}

	deliveries, err := w.source.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("Consumer started",
		slog.String("consumer_tag", w.workerID),
	)
	return deliveries, nil
}
