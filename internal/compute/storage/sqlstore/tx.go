package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/compute/storage"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type sqlTx struct {
	tx  *sqlx.Tx
	s   *Store
	now time.Time
}

var _ storage.Tx = (*sqlTx)(nil)

func (t *sqlTx) EnsureUser(ctx context.Context, wallet string, starter decimal.Decimal) error {
	now := t.now
	query := t.tx.Rebind(`
		INSERT INTO users (wallet, credits, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (wallet) DO NOTHING`)

	res, err := t.tx.ExecContext(ctx, query, wallet, toMicros(starter), now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	created, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	if created == 1 && starter.IsPositive() {
		return t.appendLedger(ctx, wallet, "", domain.LedgerGrant, toMicros(starter), toMicros(starter))
	}
	return nil
}

func (t *sqlTx) Balance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	credits, err := t.lockBalance(ctx, wallet)
	if err != nil {
		return decimal.Zero, err
	}
	return fromMicros(credits), nil
}

// lockBalance reads the balance and, on PostgreSQL, locks the user row.
func (t *sqlTx) lockBalance(ctx context.Context, wallet string) (int64, error) {
	var credits int64
	query := t.tx.Rebind(`SELECT credits FROM users WHERE wallet = ?` + t.s.forUpdate())
	if err := t.tx.GetContext(ctx, &credits, query, wallet); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return credits, nil
}

// adjust adds delta to the balance and returns the new balance. The
// guard keeps the balance from going negative.
func (t *sqlTx) adjust(ctx context.Context, wallet string, delta int64) (int64, bool, error) {
	var after int64
	query := t.tx.Rebind(`
		UPDATE users SET credits = credits + ?, updated_at = ?
		WHERE wallet = ? AND credits + ? >= 0
		RETURNING credits`)

	err := t.tx.GetContext(ctx, &after, query, delta, t.now, wallet, delta)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to update balance: %w", err)
	}
	return after, true, nil
}

func (t *sqlTx) Deduct(ctx context.Context, wallet, jobID string, amount decimal.Decimal) error {
	micros := toMicros(amount)
	after, ok, err := t.adjust(ctx, wallet, -micros)
	if err != nil {
		return err
	}
	if !ok {
		available, err := t.lockBalance(ctx, wallet)
		if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
			return err
		}
		return &domain.InsufficientCreditsError{
			Wallet:    wallet,
			Required:  amount,
			Available: fromMicros(available),
		}
	}
	return t.appendLedger(ctx, wallet, jobID, domain.LedgerReserve, -micros, after)
}

func (t *sqlTx) Refund(ctx context.Context, wallet, jobID string, amount decimal.Decimal) error {
	micros := toMicros(amount)
	after, ok, err := t.adjust(ctx, wallet, micros)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrUserNotFound
	}
	return t.appendLedger(ctx, wallet, jobID, domain.LedgerRefund, micros, after)
}

func (t *sqlTx) ChargeUpTo(ctx context.Context, wallet, jobID string, amount decimal.Decimal) (decimal.Decimal, error) {
	available, err := t.lockBalance(ctx, wallet)
	if err != nil {
		return decimal.Zero, err
	}
	charge := toMicros(amount)
	if available < charge {
		charge = available
	}
	if charge <= 0 {
		return decimal.Zero, nil
	}

	after, ok, err := t.adjust(ctx, wallet, -charge)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, fmt.Errorf("balance of %s changed during charge", wallet)
	}
	if err := t.appendLedger(ctx, wallet, jobID, domain.LedgerCharge, -charge, after); err != nil {
		return decimal.Zero, err
	}
	return fromMicros(charge), nil
}

func (t *sqlTx) Grant(ctx context.Context, wallet string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := t.EnsureUser(ctx, wallet, decimal.Zero); err != nil {
		return decimal.Zero, err
	}
	micros := toMicros(amount)
	after, ok, err := t.adjust(ctx, wallet, micros)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, domain.ErrUserNotFound
	}
	if err := t.appendLedger(ctx, wallet, "", domain.LedgerGrant, micros, after); err != nil {
		return decimal.Zero, err
	}
	return fromMicros(after), nil
}

func (t *sqlTx) appendLedger(ctx context.Context, wallet, jobID string, kind domain.LedgerKind, amount, after int64) error {
	query := t.tx.Rebind(`
		INSERT INTO credit_ledger (entry_id, wallet, job_id, kind, amount, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err := t.tx.ExecContext(ctx, query, uuid.New().String(), wallet, jobID, string(kind), amount, after, t.now)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (t *sqlTx) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, wallet, category, model, input, output,
			estimated_cost, actual_cost, reported_cost, max_budget, status,
			worker_ref, error_message, created_at, queued_at,
			started_at, completed_at, deadline_at, updated_at
		) VALUES (
			:job_id, :wallet, :category, :model, :input, :output,
			:estimated_cost, :actual_cost, :reported_cost, :max_budget, :status,
			:worker_ref, :error_message, :created_at, :queued_at,
			:started_at, :completed_at, :deadline_at, :updated_at
		)`

	if _, err := t.tx.NamedExecContext(ctx, query, newJobRow(job)); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateJob
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (t *sqlTx) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return getJob(ctx, t.tx, t.tx.Rebind(selectJobSQL+" WHERE job_id = ?"+t.s.forUpdate()), jobID)
}

func (t *sqlTx) TransitionJob(ctx context.Context, jobID string, from []domain.JobStatus, to domain.JobStatus, mutate storage.Mutation) (*domain.Job, error) {
	cur, err := t.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !storage.StatusIn(cur.Status, from) {
		return cur, domain.ErrInvalidTransition
	}

	next := cur.Clone()
	next.Status = to
	next.UpdatedAt = t.now
	if mutate != nil {
		mutate(next)
	}

	query := t.tx.Rebind(`
		UPDATE jobs SET
			status = ?,
			output = ?,
			actual_cost = ?,
			reported_cost = ?,
			worker_ref = ?,
			error_message = ?,
			queued_at = ?,
			started_at = ?,
			completed_at = ?,
			deadline_at = ?,
			updated_at = ?
		WHERE job_id = ? AND status = ?`)

	row := newJobRow(next)
	res, err := t.tx.ExecContext(ctx, query,
		row.Status,
		row.Output,
		row.ActualCost,
		row.ReportedCost,
		row.WorkerRef,
		row.ErrorMessage,
		row.QueuedAt,
		row.StartedAt,
		row.CompletedAt,
		row.DeadlineAt,
		row.UpdatedAt,
		row.JobID,
		string(cur.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	if n != 1 {
		latest, err := t.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return latest, domain.ErrInvalidTransition
	}
	return next, nil
}
