package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// JobCategory is the tagged job type. It selects both the pricing record
// and the payload shape expected in Job.Input.
type JobCategory string

const (
	CategoryText      JobCategory = "text"
	CategoryImage     JobCategory = "image"
	CategoryEmbedding JobCategory = "embedding"
	CategoryAudio     JobCategory = "audio"
	CategoryCode      JobCategory = "code"
	CategoryVision    JobCategory = "vision"
	CategoryFineTune  JobCategory = "finetune"
	CategoryTrain     JobCategory = "train"
	CategoryRLHF      JobCategory = "rlhf"
)

// Family groups categories into the two product lines.
type Family string

const (
	FamilyCrucible Family = "crucible" // inference
	FamilyFoundry  Family = "foundry"  // training
)

var categories = []JobCategory{
	CategoryText,
	CategoryImage,
	CategoryEmbedding,
	CategoryAudio,
	CategoryCode,
	CategoryVision,
	CategoryFineTune,
	CategoryTrain,
	CategoryRLHF,
}

// Categories returns every known category in declaration order.
func Categories() []JobCategory {
	out := make([]JobCategory, len(categories))
	copy(out, categories)
	return out
}

// ParseCategory maps a client supplied type name onto a JobCategory.
// Matching is case-insensitive and accepts "fine-tune"/"fine_tune".
func ParseCategory(s string) (JobCategory, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "", "_", "").Replace(norm)
	for _, c := range categories {
		if string(c) == norm {
			return c, nil
		}
	}
	return "", &ValidationError{
		Field:  "type",
		Reason: fmt.Sprintf("unknown job type %q", s),
		Err:    ErrUnknownCategory,
	}
}

// Valid reports whether c is one of the declared categories.
func (c JobCategory) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// Family returns the product line the category belongs to.
func (c JobCategory) Family() Family {
	if c.IsTraining() {
		return FamilyFoundry
	}
	return FamilyCrucible
}

// IsTraining reports whether the category is billed per GPU-hour.
func (c JobCategory) IsTraining() bool {
	switch c {
	case CategoryFineTune, CategoryTrain, CategoryRLHF:
		return true
	}
	return false
}

// Job is the durable record of one compute request.
type Job struct {
	ID            string
	Wallet        string
	Category      JobCategory
	Model         string
	Input         json.RawMessage
	Output        json.RawMessage
	EstimatedCost decimal.Decimal
	ActualCost    decimal.NullDecimal
	ReportedCost  decimal.NullDecimal // worker reported cost before capping
	MaxBudget     decimal.NullDecimal
	Status        JobStatus
	WorkerRef     string
	ErrorMessage  string
	CreatedAt     time.Time
	QueuedAt      *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	DeadlineAt    *time.Time
	UpdatedAt     time.Time
}

// ChargeCap is the most a completed job may be charged in total.
// Without a max budget the reservation itself is the cap.
func (j *Job) ChargeCap() decimal.Decimal {
	if j.MaxBudget.Valid && j.MaxBudget.Decimal.GreaterThan(j.EstimatedCost) {
		return j.MaxBudget.Decimal
	}
	return j.EstimatedCost
}

// Clone returns a deep copy so callers can't mutate a stored job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Input = cloneRaw(j.Input)
	c.Output = cloneRaw(j.Output)
	c.QueuedAt = cloneTime(j.QueuedAt)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.DeadlineAt = cloneTime(j.DeadlineAt)
	return &c
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
