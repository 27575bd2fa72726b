package pricing

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/shopspring/decimal"
)

const (
	// CharsPerToken is the fixed prompt length approximation.
	CharsPerToken = 4
	// CharsPer1KEmbeddingTokens converts embedding text length to 1k-token units.
	CharsPer1KEmbeddingTokens = 4000
	// HoursPerEpoch is the declared training heuristic; it is not measured.
	HoursPerEpoch = "0.5"

	DefaultMaxTokens = 256
	MaxMaxTokens     = 32768
	MaxImages        = 10
	MaxEpochs        = 100

	// Estimates are rounded up to this many decimal places.
	EstimatePrecision = 2
)

var (
	thousand      = decimal.NewFromInt(1000)
	hoursPerEpoch = decimal.RequireFromString(HoursPerEpoch)
)

// Params are the metering inputs of a request.
type Params struct {
	PromptLength    int
	MaxTokens       int
	NumImages       int
	TextLength      int
	DurationMinutes decimal.Decimal
	Epochs          int
}

// Estimator computes admission estimates from a Table.
type Estimator struct {
	table *Table
}

// NewEstimator creates an estimator over table.
func NewEstimator(table *Table) *Estimator {
	return &Estimator{table: table}
}

// Table exposes the underlying price list.
func (e *Estimator) Table() *Table {
	return e.table
}

// Estimate returns the cost of a request. It is pure and total: unpriced
// (category, model) pairs cost the table's fallback.
func (e *Estimator) Estimate(category domain.JobCategory, model string, p Params) decimal.Decimal {
	rate, ok := e.table.Lookup(category, model)
	if !ok {
		return e.table.Fallback()
	}

	var cost decimal.Decimal
	switch category {
	case domain.CategoryText, domain.CategoryCode, domain.CategoryVision:
		promptTokens := (p.PromptLength + CharsPerToken - 1) / CharsPerToken
		tokens := decimal.NewFromInt(int64(promptTokens + p.MaxTokens))
		cost = tokens.Div(thousand).Mul(rate.Amount)
	case domain.CategoryImage:
		cost = decimal.NewFromInt(int64(p.NumImages)).Mul(rate.Amount)
	case domain.CategoryEmbedding:
		cost = decimal.NewFromInt(int64(p.TextLength)).
			Div(decimal.NewFromInt(CharsPer1KEmbeddingTokens)).
			Mul(rate.Amount)
	case domain.CategoryAudio:
		cost = p.DurationMinutes.Mul(rate.Amount)
	case domain.CategoryFineTune, domain.CategoryTrain, domain.CategoryRLHF:
		hours := decimal.NewFromInt(int64(p.Epochs)).Mul(hoursPerEpoch)
		cost = hours.Mul(rate.Amount)
	default:
		return e.table.Fallback()
	}
	return cost.RoundCeil(EstimatePrecision)
}

// Input is the union of the payload fields the estimator reads.
type Input struct {
	Prompt          string           `json:"prompt"`
	Text            string           `json:"text"`
	MaxTokens       *int             `json:"max_tokens"`
	NumImages       *int             `json:"num_images"`
	DurationMinutes *decimal.Decimal `json:"duration_minutes"`
	DurationSeconds *decimal.Decimal `json:"duration_seconds"`
	Epochs          *int             `json:"epochs"`
	MaxBudget       *decimal.Decimal `json:"max_budget"`
}

// ParseInput decodes a job payload and derives estimator parameters.
func ParseInput(category domain.JobCategory, raw json.RawMessage) (Params, *Input, error) {
	var in Input
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return Params{}, nil, invalid("input", fmt.Sprintf("input must be a JSON object: %v", err))
		}
	}

	var p Params
	switch category {
	case domain.CategoryText, domain.CategoryCode, domain.CategoryVision:
		if in.Prompt == "" {
			return Params{}, nil, invalid("input.prompt", "prompt is required")
		}
		p.PromptLength = utf8.RuneCountInString(in.Prompt)
		p.MaxTokens = DefaultMaxTokens
		if in.MaxTokens != nil {
			if *in.MaxTokens <= 0 || *in.MaxTokens > MaxMaxTokens {
				return Params{}, nil, invalid("input.max_tokens", fmt.Sprintf("max_tokens must be between 1 and %d", MaxMaxTokens))
			}
			p.MaxTokens = *in.MaxTokens
		}
	case domain.CategoryImage:
		if in.Prompt == "" {
			return Params{}, nil, invalid("input.prompt", "prompt is required")
		}
		p.NumImages = 1
		if in.NumImages != nil {
			if *in.NumImages <= 0 || *in.NumImages > MaxImages {
				return Params{}, nil, invalid("input.num_images", fmt.Sprintf("num_images must be between 1 and %d", MaxImages))
			}
			p.NumImages = *in.NumImages
		}
	case domain.CategoryEmbedding:
		text := in.Text
		if text == "" {
			text = in.Prompt
		}
		if text == "" {
			return Params{}, nil, invalid("input.text", "text is required")
		}
		p.TextLength = utf8.RuneCountInString(text)
	case domain.CategoryAudio:
		switch {
		case in.DurationMinutes != nil:
			p.DurationMinutes = *in.DurationMinutes
		case in.DurationSeconds != nil:
			p.DurationMinutes = in.DurationSeconds.Div(decimal.NewFromInt(60))
		default:
			return Params{}, nil, invalid("input.duration_minutes", "duration is required")
		}
		if !p.DurationMinutes.IsPositive() {
			return Params{}, nil, invalid("input.duration_minutes", "duration must be positive")
		}
	case domain.CategoryFineTune, domain.CategoryTrain, domain.CategoryRLHF:
		p.Epochs = 1
		if in.Epochs != nil {
			if *in.Epochs <= 0 || *in.Epochs > MaxEpochs {
				return Params{}, nil, invalid("input.epochs", fmt.Sprintf("epochs must be between 1 and %d", MaxEpochs))
			}
			p.Epochs = *in.Epochs
		}
	default:
		return Params{}, nil, &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown job type %q", category), Err: domain.ErrUnknownCategory}
	}

	return p, &in, nil
}

func invalid(field, reason string) error {
	return &domain.ValidationError{Field: field, Reason: reason, Err: domain.ErrInvalidInput}
}
