package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	computedomain "github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/worker/domain"
)

// processJob claims, executes and reports a single job. A nil error or a
// non-retryable one settles the message; a RetryableError requeues it.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	logger := w.logger.With(
		slog.String("job_id", msg.JobID),
		slog.String("worker_id", w.workerID),
	)

	// Step 1: claim (QUEUED -> ASSIGNED)
	var job *domain.Job
	err := w.report(ctx, func(ctx context.Context) error {
		var err error
		job, err = w.reporter.Assigned(ctx, msg.JobID, w.workerID)
		return err
	})
	if err != nil {
		return classifyReportError("assigned", err)
	}
	if job.WorkerRef != "" && job.WorkerRef != w.workerID {
		logger.Warn("Job claimed by another worker, skipping",
			slog.String("owner", job.WorkerRef),
		)
		return fmt.Errorf("%w: claimed by %s", domain.ErrJobUnavailable, job.WorkerRef)
	}

	// Step 2: start (ASSIGNED -> PROCESSING); arms the engine-side deadline
	err = w.report(ctx, func(ctx context.Context) error {
		var err error
		job, err = w.reporter.Started(ctx, msg.JobID)
		return err
	})
	if err != nil {
		return classifyReportError("started", err)
	}

	// Step 3: execute within the job's deadline
	timeout := w.jobTimeout
	if job.DeadlineAt != nil {
		if left := job.DeadlineAt.Sub(w.now()); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		logger.Warn("Job deadline already passed")
		return domain.ErrDeadlineExceeded
	}

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("Executing job",
		slog.String("type", job.Type),
		slog.String("model", job.Model),
		slog.Duration("timeout", timeout),
	)
	started := w.now()
	result, execErr := w.executor.Execute(jobCtx, job)

	if execErr != nil {
		switch {
		case ctx.Err() != nil:
			// shutting down; another delivery picks the job up again
			return domain.NewRetryableError(fmt.Errorf("execution interrupted: %w", ctx.Err()))
		case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
			logger.Warn("Job execution exceeded its deadline")
			return fmt.Errorf("%w: %v", domain.ErrDeadlineExceeded, execErr)
		}

		logger.Error("Job execution failed",
			slog.String("error", execErr.Error()),
		)
		err = w.report(ctx, func(ctx context.Context) error {
			return w.reporter.Failed(ctx, msg.JobID, execErr.Error())
		})
		if err != nil {
			return classifyReportError("failed", err)
		}
		return nil
	}

	// Step 4: complete (PROCESSING -> COMPLETED); the engine reconciles the cost
	err = w.report(ctx, func(ctx context.Context) error {
		return w.reporter.Completed(ctx, msg.JobID, result.Output, result.ActualCost)
	})
	if err != nil {
		return classifyReportError("completed", err)
	}

	logger.Info("Job completed",
		slog.String("actual_cost", result.ActualCost.String()),
		slog.Duration("elapsed", w.now().Sub(started)),
	)
	return nil
}

// report runs fn, retrying transport failures with exponential backoff.
// Answers carrying an engine verdict are returned at once.
func (w *Worker) report(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := w.reportBackoff
	var err error
	for attempt := 1; attempt <= domain.ReportAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !isTransient(err) || attempt == domain.ReportAttempts {
			return err
		}

		w.logger.Warn("Report failed, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// isTransient reports whether err is a transport or server failure rather
// than a decision of the engine.
func isTransient(err error) bool {
	var remote *RemoteError
	if errors.As(err, &remote) && remote.sentinel == nil {
		return remote.StatusCode >= 500 || remote.StatusCode == http.StatusTooManyRequests
	}
	return computedomain.ErrorCode(err) == computedomain.CodeInternal
}

// classifyReportError maps an engine answer to a settle decision.
func classifyReportError(event string, err error) error {
	switch {
	case errors.Is(err, computedomain.ErrJobNotReady):
		return domain.NewRetryableError(fmt.Errorf("%s report: %w", event, err))
	case errors.Is(err, computedomain.ErrJobTerminal),
		errors.Is(err, computedomain.ErrJobNotFound),
		errors.Is(err, computedomain.ErrInvalidTransition):
		return fmt.Errorf("%w: %s report: %v", domain.ErrJobUnavailable, event, err)
	case isTransient(err):
		return domain.NewRetryableError(fmt.Errorf("%s report: %w", event, err))
	default:
		return fmt.Errorf("%s report rejected: %w", event, err)
	}
}
