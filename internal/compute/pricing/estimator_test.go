package pricing

import (
	"encoding/json"
	"testing"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestEstimate(t *testing.T) {
	est := NewEstimator(Default())

	tests := []struct {
		name     string
		category domain.JobCategory
		model    string
		params   Params
		want     string
	}{
		{
			name:     "text prompt of 20 chars with 100 max tokens",
			category: domain.CategoryText,
			model:    "llama-3-8b",
			params:   Params{PromptLength: 20, MaxTokens: 100},
			want:     "0.08",
		},
		{
			name:     "prompt tokens round up",
			category: domain.CategoryText,
			model:    "llama-3-70b",
			params:   Params{PromptLength: 4001, MaxTokens: 0},
			want:     "2.41", // 1001 tokens * 2.40 / 1000 = 2.4024
		},
		{
			name:     "code uses token pricing",
			category: domain.CategoryCode,
			model:    "codellama-34b",
			params:   Params{PromptLength: 400, MaxTokens: 900},
			want:     "1.5",
		},
		{
			name:     "three images",
			category: domain.CategoryImage,
			model:    "sdxl",
			params:   Params{NumImages: 3},
			want:     "0.06",
		},
		{
			name:     "embedding per 4000 chars",
			category: domain.CategoryEmbedding,
			model:    "bge-large",
			params:   Params{TextLength: 8000},
			want:     "0.04",
		},
		{
			name:     "audio per minute",
			category: domain.CategoryAudio,
			model:    "whisper-large-v3",
			params:   Params{DurationMinutes: dec("2.5")},
			want:     "0.15",
		},
		{
			name:     "fine-tune one epoch is half an hour",
			category: domain.CategoryFineTune,
			model:    "llama-3-8b",
			params:   Params{Epochs: 1},
			want:     "0.15",
		},
		{
			name:     "rlhf four epochs",
			category: domain.CategoryRLHF,
			model:    "llama-3-8b",
			params:   Params{Epochs: 4},
			want:     "2.4",
		},
		{
			name:     "unknown model falls back",
			category: domain.CategoryText,
			model:    "gpt-17",
			params:   Params{PromptLength: 20, MaxTokens: 100},
			want:     DefaultFallback.String(),
		},
		{
			name:     "unknown category falls back",
			category: domain.JobCategory("video"),
			model:    "sdxl",
			want:     DefaultFallback.String(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := est.Estimate(tt.category, tt.model, tt.params)
			assert.True(t, dec(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestEstimate_Deterministic(t *testing.T) {
	est := NewEstimator(Default())
	p := Params{PromptLength: 123, MaxTokens: 77}

	first := est.Estimate(domain.CategoryText, "mistral-7b", p)
	for i := 0; i < 100; i++ {
		assert.True(t, first.Equal(est.Estimate(domain.CategoryText, "mistral-7b", p)))
	}
}

func TestTable_Validate(t *testing.T) {
	table := Default()

	assert.NoError(t, table.Validate(domain.CategoryText, "llama-3-8b"))

	err := table.Validate(domain.CategoryImage, "llama-3-8b")
	assert.ErrorIs(t, err, domain.ErrUnknownModel)

	err = table.Validate(domain.CategoryText, "")
	assert.ErrorIs(t, err, domain.ErrUnknownModel)

	err = table.Validate(domain.JobCategory("video"), "sdxl")
	assert.ErrorIs(t, err, domain.ErrUnknownCategory)
}

func TestBuilder_RejectsBadRates(t *testing.T) {
	_, err := NewBuilder(DefaultFallback).Set(domain.CategoryText, "m", "abc").Build()
	assert.Error(t, err)

	_, err = NewBuilder(DefaultFallback).Set(domain.CategoryText, "m", "-1").Build()
	assert.Error(t, err)

	_, err = NewBuilder(DefaultFallback).Set(domain.JobCategory("video"), "m", "1").Build()
	assert.Error(t, err)
}

func TestTable_UnitsFollowCategory(t *testing.T) {
	for _, m := range Default().Models() {
		assert.Equal(t, UnitFor(m.Category), m.Rate.Unit, "%s/%s", m.Category, m.Model)
	}
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		name     string
		category domain.JobCategory
		input    string
		want     Params
		wantErr  error
	}{
		{
			name:     "text with explicit max tokens",
			category: domain.CategoryText,
			input:    `{"prompt":"aaaaaaaaaaaaaaaaaaaa","max_tokens":100}`,
			want:     Params{PromptLength: 20, MaxTokens: 100},
		},
		{
			name:     "text default max tokens",
			category: domain.CategoryVision,
			input:    `{"prompt":"describe"}`,
			want:     Params{PromptLength: 8, MaxTokens: DefaultMaxTokens},
		},
		{
			name:     "text missing prompt",
			category: domain.CategoryText,
			input:    `{}`,
			wantErr:  domain.ErrInvalidInput,
		},
		{
			name:     "too many images",
			category: domain.CategoryImage,
			input:    `{"prompt":"cat","num_images":11}`,
			wantErr:  domain.ErrInvalidInput,
		},
		{
			name:     "audio in seconds",
			category: domain.CategoryAudio,
			input:    `{"duration_seconds":90}`,
			want:     Params{DurationMinutes: dec("1.5")},
		},
		{
			name:     "training default epochs",
			category: domain.CategoryTrain,
			input:    `{"dataset":"s3://bucket/data"}`,
			want:     Params{Epochs: 1},
		},
		{
			name:     "not an object",
			category: domain.CategoryText,
			input:    `[1,2]`,
			wantErr:  domain.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := ParseInput(tt.category, json.RawMessage(tt.input))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.PromptLength, got.PromptLength)
			assert.Equal(t, tt.want.MaxTokens, got.MaxTokens)
			assert.Equal(t, tt.want.NumImages, got.NumImages)
			assert.Equal(t, tt.want.Epochs, got.Epochs)
			assert.True(t, tt.want.DurationMinutes.Equal(got.DurationMinutes))
		})
	}
}

func TestTable_WithFallback(t *testing.T) {
	table, err := Default().WithFallback(dec("0.10"))
	require.NoError(t, err)
	assert.Equal(t, "0.1", table.Fallback().String())
	assert.Equal(t, "0.05", Default().Fallback().String())

	_, ok := table.Lookup(domain.CategoryImage, "sdxl")
	assert.True(t, ok)

	_, err = Default().WithFallback(dec("-1"))
	assert.Error(t, err)
}
