package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/compute/storage"
	"github.com/shopspring/decimal"
)

// GetJob returns a job by id.
func (e *Engine) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return e.store.GetJob(ctx, jobID)
}

// JobForWallet returns a job only if wallet owns it.
func (e *Engine) JobForWallet(ctx context.Context, wallet, jobID string) (*domain.Job, error) {
	wallet, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Wallet != wallet {
		return nil, domain.ErrForbidden
	}
	return job, nil
}

// ListJobs returns up to filter.PageSize+1 jobs, newest first.
func (e *Engine) ListJobs(ctx context.Context, filter storage.JobFilter) ([]*domain.Job, error) {
	if filter.Wallet != "" {
		wallet, err := domain.NormalizeWallet(filter.Wallet)
		if err != nil {
			return nil, err
		}
		filter.Wallet = wallet
	}
	return e.store.ListJobs(ctx, filter)
}

// Balance returns the wallet's account.
func (e *Engine) Balance(ctx context.Context, wallet string) (*domain.User, error) {
	wallet, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	return e.store.GetUser(ctx, wallet)
}

// CheckSufficient reports whether the wallet's committed balance covers amount.
func (e *Engine) CheckSufficient(ctx context.Context, wallet string, amount decimal.Decimal) (bool, error) {
	wallet, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return false, err
	}
	return e.store.CheckSufficient(ctx, wallet, amount)
}

// Ledger returns the wallet's most recent balance mutations.
func (e *Engine) Ledger(ctx context.Context, wallet string, limit int) ([]domain.LedgerEntry, error) {
	wallet, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	return e.store.ListLedger(ctx, wallet, limit)
}

// Grant tops up a wallet outside of any job and returns the new balance.
func (e *Engine) Grant(ctx context.Context, wallet string, amount decimal.Decimal) (decimal.Decimal, error) {
	wallet, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, &domain.ValidationError{Field: "amount", Reason: "amount must be positive", Err: domain.ErrInvalidAmount}
	}

	var balance decimal.Decimal
	err = e.store.InTx(ctx, e.clock(), func(tx storage.Tx) error {
		var err error
		balance, err = tx.Grant(ctx, wallet, amount.Round(costPrecision))
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to grant credits: %w", err)
	}

	e.logger.Info("Credits granted",
		slog.String("wallet", wallet),
		slog.String("amount", amount.String()),
		slog.String("balance", balance.String()),
	)
	return balance, nil
}

// Ping checks that the store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}
