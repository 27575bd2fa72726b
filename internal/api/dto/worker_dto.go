package dto

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type AssignedRequest struct {
	WorkerRef string `json:"worker_ref" binding:"required"`
}

type CompletedRequest struct {
	Output     json.RawMessage  `json:"output"`
	ActualCost *decimal.Decimal `json:"actual_cost" binding:"required"`
}

type FailedRequest struct {
	Reason string `json:"reason"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Field   string            `json:"field,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}
