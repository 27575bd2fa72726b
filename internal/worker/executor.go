package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	computedomain "github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/worker/domain"
	"github.com/shopspring/decimal"
)

// Executor runs a job and measures its cost.
type Executor interface {
	Execute(ctx context.Context, job *domain.Job) (*domain.Result, error)
}

// SimulatedExecutor stands in for GPU execution. It waits a per-family
// duration, charges a fixed ratio of the estimate and echoes the request.
// Inputs with "simulate_failure": true fail.
type SimulatedExecutor struct {
	InferenceDuration time.Duration
	TrainingDuration  time.Duration
	CostRatio         decimal.Decimal
}

// NewSimulatedExecutor returns an executor charging the full estimate.
func NewSimulatedExecutor(inference, training time.Duration) *SimulatedExecutor {
	return &SimulatedExecutor{
		InferenceDuration: inference,
		TrainingDuration:  training,
		CostRatio:         decimal.NewFromInt(1),
	}
}

type simulatedInput struct {
	Prompt          string `json:"prompt"`
	Text            string `json:"text"`
	NumImages       int    `json:"num_images"`
	Epochs          int    `json:"epochs"`
	SimulateFailure bool   `json:"simulate_failure"`
}

func (e *SimulatedExecutor) Execute(ctx context.Context, job *domain.Job) (*domain.Result, error) {
	var in simulatedInput
	if len(job.Input) > 0 {
		if err := json.Unmarshal(job.Input, &in); err != nil {
			return nil, fmt.Errorf("unreadable input: %w", err)
		}
	}

	category := computedomain.JobCategory(job.Type)
	wait := e.InferenceDuration
	if category.IsTraining() {
		wait = e.TrainingDuration
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	if in.SimulateFailure {
		return nil, fmt.Errorf("simulated failure on %s", job.Model)
	}

	output, err := json.Marshal(e.output(category, job, in))
	if err != nil {
		return nil, fmt.Errorf("failed to encode output: %w", err)
	}

	return &domain.Result{
		Output:     output,
		ActualCost: job.EstimatedCost.Mul(e.CostRatio).Round(6),
	}, nil
}

func (e *SimulatedExecutor) output(category computedomain.JobCategory, job *domain.Job, in simulatedInput) map[string]interface{} {
	out := map[string]interface{}{
		"model": job.Model,
		"type":  job.Type,
	}
	switch category {
	case computedomain.CategoryImage:
		n := in.NumImages
		if n <= 0 {
			n = 1
		}
		images := make([]string, n)
		for i := range images {
			images[i] = fmt.Sprintf("sim://%s/image-%d.png", job.JobID, i)
		}
		out["images"] = images
	case computedomain.CategoryEmbedding:
		out["dimensions"] = 1024
	case computedomain.CategoryFineTune, computedomain.CategoryTrain, computedomain.CategoryRLHF:
		epochs := in.Epochs
		if epochs <= 0 {
			epochs = 1
		}
		out["checkpoint"] = fmt.Sprintf("sim://%s/checkpoint-epoch-%d", job.JobID, epochs)
	default:
		out["text"] = "simulated response to: " + strings.TrimSpace(in.Prompt)
	}
	return out
}
