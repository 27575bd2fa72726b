package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/compute/pricing"
	"github.com/cuongbtq/pyrx-compute/internal/compute/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubmitRequest is a client's job request.
type SubmitRequest struct {
	Wallet string
	Type   string
	Model  string
	Input  json.RawMessage
}

// Quote is a priced but not admitted request.
type Quote struct {
	Wallet    string
	Category  domain.JobCategory
	Family    domain.Family
	Model     string
	Unit      pricing.Unit
	Rate      decimal.Decimal
	Estimated decimal.Decimal
	MaxBudget decimal.NullDecimal

	// Fallback is set when the model is not priced and the fallback cost
	// was used. Such requests are rejected by Submit.
	Fallback bool

	input json.RawMessage
}

// Estimate prices a request without side effects. Unknown models are
// quoted at the fallback cost; unknown job types and malformed inputs are
// validation errors.
func (e *Engine) Estimate(req SubmitRequest) (*Quote, error) {
	return e.quote(req, false)
}

func (e *Engine) quote(req SubmitRequest, strict bool) (*Quote, error) {
	category, err := domain.ParseCategory(req.Type)
	if err != nil {
		return nil, err
	}

	table := e.estimator.Table()
	if strict {
		if err := table.Validate(category, req.Model); err != nil {
			return nil, err
		}
	}

	params, in, err := pricing.ParseInput(category, req.Input)
	if err != nil {
		return nil, err
	}

	q := &Quote{
		Category:  category,
		Family:    category.Family(),
		Model:     req.Model,
		Unit:      pricing.UnitFor(category),
		Estimated: e.estimator.Estimate(category, req.Model, params),
		input:     req.Input,
	}
	if rate, ok := table.Lookup(category, req.Model); ok {
		q.Rate = rate.Amount
	} else {
		q.Fallback = true
	}
	if len(q.input) == 0 {
		q.input = json.RawMessage(`{}`)
	}

	if in.MaxBudget != nil {
		if !category.IsTraining() {
			return nil, &domain.ValidationError{
				Field:  "input.max_budget",
				Reason: "max_budget is only accepted for training jobs",
				Err:    domain.ErrInvalidInput,
			}
		}
		if in.MaxBudget.LessThan(q.Estimated) {
			return nil, &domain.ValidationError{
				Field:  "input.max_budget",
				Reason: fmt.Sprintf("max_budget %s is below the estimate %s", in.MaxBudget.String(), q.Estimated.String()),
				Err:    domain.ErrInvalidInput,
			}
		}
		q.MaxBudget = decimal.NewNullDecimal(*in.MaxBudget)
	}

	if req.Wallet != "" {
		wallet, err := domain.NormalizeWallet(req.Wallet)
		if err != nil {
			return nil, err
		}
		q.Wallet = wallet
	}

	return q, nil
}

// Submit admits a job: it validates the request, reserves the estimate
// and creates the job in PENDING as one transaction, then hands the job
// to the worker pool. The returned job is the admission record.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	wallet, err := domain.NormalizeWallet(req.Wallet)
	if err != nil {
		return nil, err
	}
	req.Wallet = wallet

	q, err := e.quote(req, true)
	if err != nil {
		e.logger.Debug("Submission rejected",
			slog.String("wallet", wallet),
			slog.Any("error", err),
		)
		return nil, err
	}

	now := e.clock()
	job := &domain.Job{
		ID:            uuid.New().String(),
		Wallet:        wallet,
		Category:      q.Category,
		Model:         q.Model,
		Input:         q.input,
		EstimatedCost: q.Estimated,
		MaxBudget:     q.MaxBudget,
		Status:        domain.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = e.store.InTx(ctx, now, func(tx storage.Tx) error {
		if err := tx.EnsureUser(ctx, wallet, e.cfg.StarterCredits); err != nil {
			return err
		}
		if err := tx.Deduct(ctx, wallet, job.ID, job.EstimatedCost); err != nil {
			return err
		}
		return tx.CreateJob(ctx, job)
	})
	if err != nil {
		var insufficient *domain.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			e.logger.Info("Admission rejected",
				slog.String("wallet", wallet),
				slog.String("required", insufficient.Required.String()),
				slog.String("available", insufficient.Available.String()),
			)
			return nil, err
		}
		e.logger.Error("Failed to admit job",
			slog.String("wallet", wallet),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to admit job: %w", err)
	}

	e.logger.Info("Job admitted",
		slog.String("job_id", job.ID),
		slog.String("wallet", wallet),
		slog.String("type", string(job.Category)),
		slog.String("model", job.Model),
		slog.String("estimated_cost", job.EstimatedCost.String()),
	)
	e.notify(ctx, job)

	admitted := job.Clone()
	e.dispatch(ctx, job)
	return admitted, nil
}

// dispatch enqueues a PENDING job and moves it to QUEUED. A failed enqueue
// leaves the job PENDING for the sweeper to retry.
func (e *Engine) dispatch(ctx context.Context, job *domain.Job) {
	if err := e.pool.Enqueue(ctx, job); err != nil {
		e.logger.Warn("Failed to enqueue job, leaving it pending",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}

	queued, applied, err := e.advance(ctx, job.ID, domain.StatusQueued, func(ctx context.Context, tx storage.Tx, cur *domain.Job) (storage.Mutation, error) {
		return func(j *domain.Job) {
			if j.QueuedAt == nil {
				at := j.UpdatedAt
				j.QueuedAt = &at
			}
		}, nil
	})
	if err != nil {
		// A fast worker may have claimed it already, or the user cancelled.
		e.logger.Debug("Job left PENDING before it was marked queued",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}
	if applied {
		e.logger.Debug("Job queued", slog.String("job_id", queued.ID))
	}
}
