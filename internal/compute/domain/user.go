package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// User is a wallet with a spendable credit balance.
type User struct {
	Wallet    string
	Credits   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeWallet canonicalises a wallet address for use as a key.
func NormalizeWallet(wallet string) (string, error) {
	w := strings.ToLower(strings.TrimSpace(wallet))
	if w == "" {
		return "", &ValidationError{Field: "wallet_address", Reason: "wallet address is required", Err: ErrInvalidWallet}
	}
	if strings.ContainsAny(w, " \t\r\n") {
		return "", &ValidationError{Field: "wallet_address", Reason: "wallet address contains whitespace", Err: ErrInvalidWallet}
	}
	return w, nil
}

// LedgerKind classifies a balance mutation.
type LedgerKind string

const (
	LedgerGrant   LedgerKind = "grant"
	LedgerReserve LedgerKind = "reserve"
	LedgerRefund  LedgerKind = "refund"
	LedgerCharge  LedgerKind = "charge"
)

// LedgerEntry is one append-only record of a balance mutation. Amount is
// signed: reservations and charges are negative.
type LedgerEntry struct {
	ID           string
	Wallet       string
	JobID        string
	Kind         LedgerKind
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	CreatedAt    time.Time
}
