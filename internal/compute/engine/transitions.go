package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/compute/storage"
	"github.com/shopspring/decimal"
)

// costPrecision matches the ledger's micro-credit resolution.
const costPrecision = 6

// planFunc runs inside the transition's transaction once the move has been
// validated against cur. It applies ledger effects and returns the job
// mutation to persist with the new status.
type planFunc func(ctx context.Context, tx storage.Tx, cur *domain.Job) (storage.Mutation, error)

// advance moves jobID to "to" under the state machine's guards.
//
// It returns applied=false with a nil error when the job is already at or
// past "to" (a duplicate or stale report), ErrJobTerminal when the job
// ended in a different terminal state, and ErrInvalidTransition for moves
// that skip states.
func (e *Engine) advance(ctx context.Context, jobID string, to domain.JobStatus, plan planFunc) (*domain.Job, bool, error) {
	var (
		result  *domain.Job
		applied bool
	)

	err := e.store.InTx(ctx, e.clock(), func(tx storage.Tx) error {
		cur, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}

		// A claim that never started expires through PROCESSING.
		if to == domain.StatusTimeout && cur.Status == domain.StatusAssigned {
			if cur, err = tx.TransitionJob(ctx, jobID, []domain.JobStatus{domain.StatusAssigned}, domain.StatusProcessing, nil); err != nil {
				return err
			}
		}

		switch domain.CheckTransition(cur.Status, to) {
		case domain.TransitionDuplicate:
			result = cur
			return nil
		case domain.TransitionConflict:
			return fmt.Errorf("%w: job %s is %s", domain.ErrJobTerminal, jobID, cur.Status)
		case domain.TransitionInvalid:
			if cur.Status == domain.StatusPending && to == domain.StatusAssigned {
				return fmt.Errorf("%w: job %s", domain.ErrJobNotReady, jobID)
			}
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, cur.Status, to)
		}

		var mutate storage.Mutation
		if plan != nil {
			if mutate, err = plan(ctx, tx, cur); err != nil {
				return err
			}
		}

		next, err := tx.TransitionJob(ctx, jobID, []domain.JobStatus{cur.Status}, to, mutate)
		if err != nil {
			return err
		}
		result, applied = next, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if !applied {
		e.logger.Info("Ignoring duplicate status report",
			slog.String("job_id", jobID),
			slog.String("status", string(result.Status)),
			slog.String("reported", string(to)),
		)
		return result, false, nil
	}

	e.logger.Info("Job status changed",
		slog.String("job_id", jobID),
		slog.String("status", string(result.Status)),
	)

	switch {
	case result.Status == domain.StatusAssigned, result.Status == domain.StatusProcessing:
		e.armDeadline(result)
	case result.Status.IsTerminal():
		e.disarmDeadline(jobID)
	}
	e.notify(ctx, result)
	return result, true, nil
}

// Assigned records that a worker claimed a queued job. The claim expires
// after the category deadline if execution never starts.
//
// A job still ASSIGNED to another worker is handed over to workerRef: the
// queue redelivers a job message only after its previous holder released
// it or went away.
func (e *Engine) Assigned(ctx context.Context, jobID, workerRef string) (*domain.Job, error) {
	job, applied, err := e.advance(ctx, jobID, domain.StatusAssigned, e.claim(workerRef))
	if err != nil || applied || workerRef == "" {
		return job, err
	}
	if job.Status != domain.StatusAssigned || job.WorkerRef == workerRef {
		return job, nil
	}
	return e.reclaim(ctx, jobID, job.WorkerRef, workerRef)
}

func (e *Engine) claim(workerRef string) planFunc {
	return func(ctx context.Context, tx storage.Tx, cur *domain.Job) (storage.Mutation, error) {
		deadline := e.cfg.Deadline(cur.Category)
		return func(j *domain.Job) {
			due := j.UpdatedAt.Add(deadline)
			j.WorkerRef = workerRef
			j.DeadlineAt = &due
		}, nil
	}
}

// reclaim moves an unstarted claim from previous to workerRef.
func (e *Engine) reclaim(ctx context.Context, jobID, previous, workerRef string) (*domain.Job, error) {
	var (
		result  *domain.Job
		applied bool
	)
	err := e.store.InTx(ctx, e.clock(), func(tx storage.Tx) error {
		cur, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if cur.Status != domain.StatusAssigned || cur.WorkerRef != previous {
			result = cur
			return nil
		}
		mutate, err := e.claim(workerRef)(ctx, tx, cur)
		if err != nil {
			return err
		}
		next, err := tx.TransitionJob(ctx, jobID, []domain.JobStatus{domain.StatusAssigned}, domain.StatusAssigned, mutate)
		if err != nil {
			return err
		}
		result, applied = next, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if applied {
		e.logger.Info("Job reassigned",
			slog.String("job_id", jobID),
			slog.String("previous_worker", previous),
			slog.String("worker", workerRef),
		)
		e.armDeadline(result)
		e.notify(ctx, result)
	}
	return result, nil
}

// Started records that execution began and arms the job's deadline.
func (e *Engine) Started(ctx context.Context, jobID string) (*domain.Job, error) {
	job, _, err := e.advance(ctx, jobID, domain.StatusProcessing, func(ctx context.Context, tx storage.Tx, cur *domain.Job) (storage.Mutation, error) {
		deadline := e.cfg.Deadline(cur.Category)
		return func(j *domain.Job) {
			started := j.UpdatedAt
			due := started.Add(deadline)
			j.StartedAt = &started
			j.DeadlineAt = &due
		}, nil
	})
	return job, err
}

// Completed settles a successful job. The charge is the reported cost
// capped at the job's budget; the difference to the reservation is
// refunded or, when the budget allows more than the estimate, charged
// from the remaining balance.
func (e *Engine) Completed(ctx context.Context, jobID string, output json.RawMessage, actualCost decimal.Decimal) (*domain.Job, error) {
	if actualCost.IsNegative() {
		return nil, &domain.ValidationError{Field: "actual_cost", Reason: "actual cost must not be negative", Err: domain.ErrInvalidAmount}
	}
	actual := actualCost.Round(costPrecision)

	job, _, err := e.advance(ctx, jobID, domain.StatusCompleted, func(ctx context.Context, tx storage.Tx, cur *domain.Job) (storage.Mutation, error) {
		charged, err := e.reconcile(ctx, tx, cur, actual)
		if err != nil {
			return nil, err
		}
		if charged.LessThan(actual) {
			e.logger.Warn("Reported cost exceeds what could be charged",
				slog.String("job_id", cur.ID),
				slog.String("reported", actual.String()),
				slog.String("charged", charged.String()),
			)
		}
		return func(j *domain.Job) {
			done := j.UpdatedAt
			j.Output = output
			j.ActualCost = decimal.NewNullDecimal(charged)
			j.ReportedCost = decimal.NewNullDecimal(actual)
			j.CompletedAt = &done
		}, nil
	})
	return job, err
}

// reconcile settles the reservation of cur against the actual cost and
// returns the total charged for the job.
func (e *Engine) reconcile(ctx context.Context, tx storage.Tx, cur *domain.Job, actual decimal.Decimal) (decimal.Decimal, error) {
	estimate := cur.EstimatedCost
	charged := decimal.Min(actual, cur.ChargeCap())

	switch {
	case charged.LessThan(estimate):
		if err := tx.Refund(ctx, cur.Wallet, cur.ID, estimate.Sub(charged)); err != nil {
			return decimal.Zero, err
		}
	case charged.GreaterThan(estimate):
		extra, err := tx.ChargeUpTo(ctx, cur.Wallet, cur.ID, charged.Sub(estimate))
		if err != nil {
			return decimal.Zero, err
		}
		charged = estimate.Add(extra)
	}
	return charged, nil
}

// Failed records a worker reported failure and refunds the reservation.
func (e *Engine) Failed(ctx context.Context, jobID, reason string) (*domain.Job, error) {
	if reason == "" {
		reason = "worker reported failure"
	}
	job, _, err := e.advance(ctx, jobID, domain.StatusFailed, e.refundAll(reason))
	return job, err
}

// Timeout expires a job whose worker did not report within its deadline.
func (e *Engine) Timeout(ctx context.Context, jobID string) (*domain.Job, error) {
	job, applied, err := e.advance(ctx, jobID, domain.StatusTimeout, e.refundAll("no result reported before the deadline"))
	if applied {
		e.logger.Warn("Job timed out", slog.String("job_id", jobID))
	}
	return job, err
}

func (e *Engine) refundAll(reason string) planFunc {
	return func(ctx context.Context, tx storage.Tx, cur *domain.Job) (storage.Mutation, error) {
		if err := tx.Refund(ctx, cur.Wallet, cur.ID, cur.EstimatedCost); err != nil {
			return nil, err
		}
		return func(j *domain.Job) {
			done := j.UpdatedAt
			j.ActualCost = decimal.NewNullDecimal(decimal.Zero)
			j.ErrorMessage = reason
			j.CompletedAt = &done
		}, nil
	}
}

// Cancel cancels a job that has not been handed to a worker yet and
// refunds its reservation. Cancelling an already cancelled job is a no-op.
func (e *Engine) Cancel(ctx context.Context, wallet, jobID string) (*domain.Job, error) {
	wallet, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return nil, err
	}

	var (
		result  *domain.Job
		applied bool
	)
	err = e.store.InTx(ctx, e.clock(), func(tx storage.Tx) error {
		cur, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if cur.Wallet != wallet {
			return domain.ErrForbidden
		}
		if cur.Status == domain.StatusCancelled {
			result = cur
			return nil
		}
		if !cur.Status.Cancellable() {
			return fmt.Errorf("%w: job %s is %s", domain.ErrNotCancellable, jobID, cur.Status)
		}

		next, err := tx.TransitionJob(ctx, jobID, []domain.JobStatus{domain.StatusPending, domain.StatusQueued}, domain.StatusCancelled,
			func(j *domain.Job) {
				done := j.UpdatedAt
				j.ActualCost = decimal.NewNullDecimal(decimal.Zero)
				j.CompletedAt = &done
			})
		if errors.Is(err, domain.ErrInvalidTransition) {
			return fmt.Errorf("%w: job %s is %s", domain.ErrNotCancellable, jobID, next.Status)
		}
		if err != nil {
			return err
		}
		if err := tx.Refund(ctx, cur.Wallet, cur.ID, cur.EstimatedCost); err != nil {
			return err
		}
		result, applied = next, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if applied {
		e.logger.Info("Job cancelled",
			slog.String("job_id", jobID),
			slog.String("wallet", wallet),
			slog.String("refunded", result.EstimatedCost.String()),
		)
		e.notify(ctx, result)
	}
	return result, nil
}
