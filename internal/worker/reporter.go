package worker

import (
	"context"
	"encoding/json"

	computedomain "github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/compute/engine"
	"github.com/cuongbtq/pyrx-compute/internal/worker/domain"
	"github.com/shopspring/decimal"
)

// Reporter delivers a worker's status reports to the engine. Errors wrap
// the engine's sentinel errors (ErrJobNotReady, ErrJobTerminal, ...).
type Reporter interface {
	Assigned(ctx context.Context, jobID, workerRef string) (*domain.Job, error)
	Started(ctx context.Context, jobID string) (*domain.Job, error)
	Completed(ctx context.Context, jobID string, output json.RawMessage, actualCost decimal.Decimal) error
	Failed(ctx context.Context, jobID, reason string) error
}

// EngineReporter calls an in-process engine directly.
type EngineReporter struct {
	engine *engine.Engine
}

var _ Reporter = (*EngineReporter)(nil)

// NewEngineReporter wraps e.
func NewEngineReporter(e *engine.Engine) *EngineReporter {
	return &EngineReporter{engine: e}
}

func (r *EngineReporter) Assigned(ctx context.Context, jobID, workerRef string) (*domain.Job, error) {
	job, err := r.engine.Assigned(ctx, jobID, workerRef)
	if err != nil {
		return nil, err
	}
	return fromComputeJob(job), nil
}

func (r *EngineReporter) Started(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := r.engine.Started(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return fromComputeJob(job), nil
}

func (r *EngineReporter) Completed(ctx context.Context, jobID string, output json.RawMessage, actualCost decimal.Decimal) error {
	_, err := r.engine.Completed(ctx, jobID, output, actualCost)
	return err
}

func (r *EngineReporter) Failed(ctx context.Context, jobID, reason string) error {
	_, err := r.engine.Failed(ctx, jobID, reason)
	return err
}

func fromComputeJob(j *computedomain.Job) *domain.Job {
	out := &domain.Job{
		JobID:         j.ID,
		Type:          string(j.Category),
		Model:         j.Model,
		Input:         j.Input,
		Status:        string(j.Status),
		WorkerRef:     j.WorkerRef,
		EstimatedCost: j.EstimatedCost,
		DeadlineAt:    j.DeadlineAt,
	}
	if j.MaxBudget.Valid {
		b := j.MaxBudget.Decimal
		out.MaxBudget = &b
	}
	return out
}
