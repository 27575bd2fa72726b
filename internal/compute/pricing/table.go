// Package pricing holds the static price list and the cost estimator used
// at admission time.
package pricing

import (
	"fmt"
	"sort"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/shopspring/decimal"
)

// Unit is the billing unit of a rate. Each category has exactly one unit.
type Unit string

const (
	UnitPer1KTokens Unit = "per_1k_tokens"
	UnitPerImage    Unit = "per_image"
	UnitPerMinute   Unit = "per_minute"
	UnitPerGPUHour  Unit = "per_gpu_hour"
)

// UnitFor returns the billing unit used by a category.
func UnitFor(c domain.JobCategory) Unit {
	switch c {
	case domain.CategoryImage:
		return UnitPerImage
	case domain.CategoryAudio:
		return UnitPerMinute
	case domain.CategoryFineTune, domain.CategoryTrain, domain.CategoryRLHF:
		return UnitPerGPUHour
	default:
		return UnitPer1KTokens
	}
}

// Rate is the unit price of one model.
type Rate struct {
	Unit   Unit
	Amount decimal.Decimal
}

// ModelRate is a flattened row of the table, used for listing.
type ModelRate struct {
	Category domain.JobCategory
	Model    string
	Rate     Rate
}

// Table maps (category, model) to a rate. It is immutable after construction
// and safe for concurrent use.
type Table struct {
	rates    map[domain.JobCategory]map[string]Rate
	fallback decimal.Decimal
}

// Builder assembles a Table.
type Builder struct {
	rates    map[domain.JobCategory]map[string]Rate
	fallback decimal.Decimal
	err      error
}

// NewBuilder starts an empty table with the given fallback cost.
func NewBuilder(fallback decimal.Decimal) *Builder {
	return &Builder{
		rates:    make(map[domain.JobCategory]map[string]Rate),
		fallback: fallback,
	}
}

// Set prices model within category. The unit is derived from the category.
func (b *Builder) Set(category domain.JobCategory, model string, amount string) *Builder {
	if b.err != nil {
		return b
	}
	if !category.Valid() {
		b.err = fmt.Errorf("pricing: unknown category %q", category)
		return b
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		b.err = fmt.Errorf("pricing: %s/%s: %w", category, model, err)
		return b
	}
	if d.IsNegative() {
		b.err = fmt.Errorf("pricing: %s/%s: negative rate", category, model)
		return b
	}
	if b.rates[category] == nil {
		b.rates[category] = make(map[string]Rate)
	}
	b.rates[category][model] = Rate{Unit: UnitFor(category), Amount: d}
	return b
}

// Build returns the finished table.
func (b *Builder) Build() (*Table, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.fallback.IsNegative() {
		return nil, fmt.Errorf("pricing: negative fallback cost")
	}
	return &Table{rates: b.rates, fallback: b.fallback}, nil
}

// Lookup returns the rate for a model, if priced.
func (t *Table) Lookup(category domain.JobCategory, model string) (Rate, bool) {
	r, ok := t.rates[category][model]
	return r, ok
}

// Fallback is the cost charged for unpriced requests.
func (t *Table) Fallback() decimal.Decimal {
	return t.fallback
}

// WithFallback returns a copy of t charging fallback for unpriced requests.
func (t *Table) WithFallback(fallback decimal.Decimal) (*Table, error) {
	if fallback.IsNegative() {
		return nil, fmt.Errorf("pricing: negative fallback cost")
	}
	return &Table{rates: t.rates, fallback: fallback}, nil
}

// Validate is the submission time check that a model is priced for category.
func (t *Table) Validate(category domain.JobCategory, model string) error {
	if !category.Valid() {
		return &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown job type %q", category), Err: domain.ErrUnknownCategory}
	}
	if model == "" {
		return &domain.ValidationError{Field: "model", Reason: "model is required", Err: domain.ErrUnknownModel}
	}
	if _, ok := t.Lookup(category, model); !ok {
		return &domain.ValidationError{
			Field:  "model",
			Reason: fmt.Sprintf("model %q is not available for %s jobs", model, category),
			Err:    domain.ErrUnknownModel,
		}
	}
	return nil
}

// Models lists every priced model sorted by category then name.
func (t *Table) Models() []ModelRate {
	var out []ModelRate
	for _, c := range domain.Categories() {
		names := make([]string, 0, len(t.rates[c]))
		for m := range t.rates[c] {
			names = append(names, m)
		}
		sort.Strings(names)
		for _, m := range names {
			out = append(out, ModelRate{Category: c, Model: m, Rate: t.rates[c][m]})
		}
	}
	return out
}

// DefaultFallback is charged when a (category, model) pair is not priced.
var DefaultFallback = decimal.RequireFromString("0.05")

// Default returns the built-in price list.
func Default() *Table {
	t, err := NewBuilder(DefaultFallback).
		// Crucible
		Set(domain.CategoryText, "llama-3-8b", "0.75").
		Set(domain.CategoryText, "llama-3-70b", "2.40").
		Set(domain.CategoryText, "mistral-7b", "0.60").
		Set(domain.CategoryText, "mixtral-8x7b", "1.20").
		Set(domain.CategoryCode, "codellama-34b", "1.50").
		Set(domain.CategoryCode, "deepseek-coder-6.7b", "0.70").
		Set(domain.CategoryVision, "llava-1.6", "1.80").
		Set(domain.CategoryImage, "sdxl", "0.02").
		Set(domain.CategoryImage, "flux-schnell", "0.03").
		Set(domain.CategoryImage, "stable-diffusion-3", "0.05").
		Set(domain.CategoryEmbedding, "bge-large", "0.02").
		Set(domain.CategoryEmbedding, "e5-mistral-7b", "0.04").
		Set(domain.CategoryAudio, "whisper-large-v3", "0.06").
		Set(domain.CategoryAudio, "bark", "0.10").
		// Foundry
		Set(domain.CategoryFineTune, "llama-3-8b", "0.30").
		Set(domain.CategoryFineTune, "mistral-7b", "0.25").
		Set(domain.CategoryTrain, "gpt2-small", "0.20").
		Set(domain.CategoryTrain, "llama-3-8b", "0.80").
		Set(domain.CategoryRLHF, "llama-3-8b", "1.20").
		Build()
	if err != nil {
		panic(err)
	}
	return t
}
