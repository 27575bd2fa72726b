package dto

import (
	"time"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/compute/pricing"
	"github.com/shopspring/decimal"
)

type UserDTO struct {
	WalletAddress string          `json:"wallet_address"`
	Credits       decimal.Decimal `json:"credits"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func NewUserDTO(u *domain.User) UserDTO {
	return UserDTO{
		WalletAddress: u.Wallet,
		Credits:       u.Credits,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

type LedgerRequest struct {
	Limit int `form:"limit"`
}

type LedgerEntryDTO struct {
	EntryID      string          `json:"entry_id"`
	JobID        string          `json:"job_id,omitempty"`
	Kind         string          `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

type LedgerResponse struct {
	WalletAddress string           `json:"wallet_address"`
	Entries       []LedgerEntryDTO `json:"entries"`
}

func NewLedgerResponse(wallet string, entries []domain.LedgerEntry) LedgerResponse {
	out := LedgerResponse{WalletAddress: wallet, Entries: make([]LedgerEntryDTO, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, LedgerEntryDTO{
			EntryID:      e.ID,
			JobID:        e.JobID,
			Kind:         string(e.Kind),
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out
}

type GrantCreditsRequest struct {
	Amount *decimal.Decimal `json:"amount" binding:"required"`
}

type GrantCreditsResponse struct {
	WalletAddress string          `json:"wallet_address"`
	Granted       decimal.Decimal `json:"granted"`
	Credits       decimal.Decimal `json:"credits"`
}

type ModelPriceDTO struct {
	Type   string          `json:"type"`
	Family string          `json:"family"`
	Model  string          `json:"model"`
	Unit   string          `json:"unit"`
	Rate   decimal.Decimal `json:"rate"`
}

type PricingResponse struct {
	Models       []ModelPriceDTO `json:"models"`
	FallbackCost decimal.Decimal `json:"fallback_cost"`
}

func NewPricingResponse(t *pricing.Table) PricingResponse {
	models := t.Models()
	out := PricingResponse{Models: make([]ModelPriceDTO, 0, len(models)), FallbackCost: t.Fallback()}
	for _, m := range models {
		out.Models = append(out.Models, ModelPriceDTO{
			Type:   string(m.Category),
			Family: string(m.Category.Family()),
			Model:  m.Model,
			Unit:   string(m.Rate.Unit),
			Rate:   m.Rate.Amount,
		})
	}
	return out
}
