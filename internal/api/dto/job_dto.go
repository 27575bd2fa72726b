package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/compute/engine"
	"github.com/shopspring/decimal"
)

type SubmitJobRequest struct {
	WalletAddress string          `json:"wallet_address" binding:"required"`
	Type          string          `json:"type" binding:"required"`
	Model         string          `json:"model" binding:"required"`
	Input         json.RawMessage `json:"input"`
}

// EstimateRequest tolerates unknown models; they are quoted at the fallback cost.
type EstimateRequest struct {
	WalletAddress string          `json:"wallet_address"`
	Type          string          `json:"type" binding:"required"`
	Model         string          `json:"model"`
	Input         json.RawMessage `json:"input"`
}

type EstimateResponse struct {
	Type          string           `json:"type"`
	Family        string           `json:"family"`
	Model         string           `json:"model"`
	Unit          string           `json:"unit"`
	Rate          decimal.Decimal  `json:"rate"`
	EstimatedCost decimal.Decimal  `json:"estimated_cost"`
	MaxBudget     *decimal.Decimal `json:"max_budget,omitempty"`
	Fallback      bool             `json:"fallback"`
	Sufficient    *bool            `json:"sufficient,omitempty"`
}

type CancelJobRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
}

type GetJobRequest struct {
	Wallet string `form:"wallet" binding:"required"`
}

type ListJobsRequest struct {
	Wallet   string `form:"wallet" binding:"required"`
	Type     string `form:"type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID         string           `json:"job_id"`
	WalletAddress string           `json:"wallet_address"`
	Type          string           `json:"type"`
	Family        string           `json:"family"`
	Model         string           `json:"model"`
	Input         json.RawMessage  `json:"input,omitempty"`
	Output        json.RawMessage  `json:"output,omitempty"`
	Status        string           `json:"status"`
	EstimatedCost decimal.Decimal  `json:"estimated_cost"`
	ActualCost    *decimal.Decimal `json:"actual_cost,omitempty"`
	ReportedCost  *decimal.Decimal `json:"reported_cost,omitempty"`
	MaxBudget     *decimal.Decimal `json:"max_budget,omitempty"`
	WorkerRef     string           `json:"worker_ref,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	QueuedAt      *time.Time       `json:"queued_at,omitempty"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	DeadlineAt    *time.Time       `json:"deadline_at,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func nullable(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

// NewJobDTO renders a job for API responses.
func NewJobDTO(j *domain.Job) JobDTO {
	return JobDTO{
		JobID:         j.ID,
		WalletAddress: j.Wallet,
		Type:          string(j.Category),
		Family:        string(j.Category.Family()),
		Model:         j.Model,
		Input:         j.Input,
		Output:        j.Output,
		Status:        string(j.Status),
		EstimatedCost: j.EstimatedCost,
		ActualCost:    nullable(j.ActualCost),
		ReportedCost:  nullable(j.ReportedCost),
		MaxBudget:     nullable(j.MaxBudget),
		WorkerRef:     j.WorkerRef,
		ErrorMessage:  j.ErrorMessage,
		CreatedAt:     j.CreatedAt,
		QueuedAt:      j.QueuedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
		DeadlineAt:    j.DeadlineAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

// NewEstimateResponse renders a quote.
func NewEstimateResponse(q *engine.Quote) EstimateResponse {
	return EstimateResponse{
		Type:          string(q.Category),
		Family:        string(q.Family),
		Model:         q.Model,
		Unit:          string(q.Unit),
		Rate:          q.Rate,
		EstimatedCost: q.Estimated,
		MaxBudget:     nullable(q.MaxBudget),
		Fallback:      q.Fallback,
	}
}
