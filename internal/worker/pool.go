package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/pyrx-compute/internal/worker/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop processes tasks until jobsChan is closed.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for t := range w.jobsChan {
		w.logger.Info("Worker received job",
			slog.String("worker_name", workerName),
			slog.String("job_id", t.msg.JobID),
			slog.Uint64("delivery_tag", t.msg.DeliveryTag),
		)

		err := w.processJob(ctx, t.msg)
		w.settle(t, err, workerName)
	}

	w.logger.Debug("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}

// settle acknowledges a delivery or hands it back to the queue.
func (w *Worker) settle(t *task, err error, workerName string) {
	if err == nil {
		if ackErr := t.delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", t.msg.JobID),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	requeue := shouldRequeueJob(err)
	level := slog.LevelWarn
	if !requeue && !errors.Is(err, domain.ErrJobUnavailable) && !errors.Is(err, domain.ErrDeadlineExceeded) {
		level = slog.LevelError
	}
	w.logger.Log(context.Background(), level, "Job not settled",
		slog.String("worker_name", workerName),
		slog.String("job_id", t.msg.JobID),
		slog.String("error", err.Error()),
		slog.Bool("requeue", requeue),
	)

	if requeue {
		if nackErr := t.delivery.Nack(false, true); nackErr != nil {
			w.logger.Error("Failed to NACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", t.msg.JobID),
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	// The engine owns the job's fate from here on; the message is done.
	if ackErr := t.delivery.Ack(false); ackErr != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", t.msg.JobID),
			slog.String("error", ackErr.Error()),
		)
	}
}

// shouldRequeueJob determines if a job should be requeued based on the error type
func shouldRequeueJob(err error) bool {
	if errors.Is(err, domain.ErrJobUnavailable) {
		return false
	}
	if errors.Is(err, domain.ErrDeadlineExceeded) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
