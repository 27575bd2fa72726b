package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Job is the engine's view of a job as seen by a worker
type Job struct {
	JobID         string           `json:"job_id"`
	Type          string           `json:"type"`
	Model         string           `json:"model"`
	Input         json.RawMessage  `json:"input"`
	Status        string           `json:"status"`
	WorkerRef     string           `json:"worker_ref,omitempty"`
	EstimatedCost decimal.Decimal  `json:"estimated_cost"`
	MaxBudget     *decimal.Decimal `json:"max_budget,omitempty"`
	DeadlineAt    *time.Time       `json:"deadline_at,omitempty"`
}

// Result is what an executor produced
type Result struct {
	Output     json.RawMessage
	ActualCost decimal.Decimal
}

// JobMessage represents a job message from RabbitMQ
type JobMessage struct {
	JobID       string `json:"job_id"`
	Type        string `json:"type"`
	DeliveryTag uint64 `json:"-"`
}
