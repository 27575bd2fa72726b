package sqlstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/shopspring/decimal"
)

// Credits are stored as integer micro-credits.
const microScale = 6

func toMicros(d decimal.Decimal) int64 {
	return d.Shift(microScale).Round(0).IntPart()
}

func fromMicros(m int64) decimal.Decimal {
	return decimal.New(m, -microScale)
}

func nullMicros(d decimal.NullDecimal) sql.NullInt64 {
	if !d.Valid {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(d.Decimal), Valid: true}
}

func fromNullMicros(n sql.NullInt64) decimal.NullDecimal {
	if !n.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(fromMicros(n.Int64))
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}

const selectJobSQL = `
	SELECT
		job_id, wallet, category, model, input, output,
		estimated_cost, actual_cost, reported_cost, max_budget, status,
		worker_ref, error_message, created_at, queued_at,
		started_at, completed_at, deadline_at, updated_at
	FROM jobs`

type jobRow struct {
	JobID         string         `db:"job_id"`
	Wallet        string         `db:"wallet"`
	Category      string         `db:"category"`
	Model         string         `db:"model"`
	Input         string         `db:"input"`
	Output        sql.NullString `db:"output"`
	EstimatedCost int64          `db:"estimated_cost"`
	ActualCost    sql.NullInt64  `db:"actual_cost"`
	ReportedCost  sql.NullInt64  `db:"reported_cost"`
	MaxBudget     sql.NullInt64  `db:"max_budget"`
	Status        string         `db:"status"`
	WorkerRef     string         `db:"worker_ref"`
	ErrorMessage  string         `db:"error_message"`
	CreatedAt     time.Time      `db:"created_at"`
	QueuedAt      sql.NullTime   `db:"queued_at"`
	StartedAt     sql.NullTime   `db:"started_at"`
	CompletedAt   sql.NullTime   `db:"completed_at"`
	DeadlineAt    sql.NullTime   `db:"deadline_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func newJobRow(j *domain.Job) jobRow {
	row := jobRow{
		JobID:         j.ID,
		Wallet:        j.Wallet,
		Category:      string(j.Category),
		Model:         j.Model,
		Input:         string(j.Input),
		EstimatedCost: toMicros(j.EstimatedCost),
		ActualCost:    nullMicros(j.ActualCost),
		ReportedCost:  nullMicros(j.ReportedCost),
		MaxBudget:     nullMicros(j.MaxBudget),
		Status:        string(j.Status),
		WorkerRef:     j.WorkerRef,
		ErrorMessage:  j.ErrorMessage,
		CreatedAt:     j.CreatedAt.UTC(),
		QueuedAt:      nullTime(j.QueuedAt),
		StartedAt:     nullTime(j.StartedAt),
		CompletedAt:   nullTime(j.CompletedAt),
		DeadlineAt:    nullTime(j.DeadlineAt),
		UpdatedAt:     j.UpdatedAt.UTC(),
	}
	if row.Input == "" {
		row.Input = "{}"
	}
	if len(j.Output) > 0 {
		row.Output = sql.NullString{String: string(j.Output), Valid: true}
	}
	return row
}

func (r jobRow) toDomain() *domain.Job {
	j := &domain.Job{
		ID:            r.JobID,
		Wallet:        r.Wallet,
		Category:      domain.JobCategory(r.Category),
		Model:         r.Model,
		Input:         json.RawMessage(r.Input),
		EstimatedCost: fromMicros(r.EstimatedCost),
		ActualCost:    fromNullMicros(r.ActualCost),
		ReportedCost:  fromNullMicros(r.ReportedCost),
		MaxBudget:     fromNullMicros(r.MaxBudget),
		Status:        domain.JobStatus(r.Status),
		WorkerRef:     r.WorkerRef,
		ErrorMessage:  r.ErrorMessage,
		CreatedAt:     r.CreatedAt.UTC(),
		QueuedAt:      timePtr(r.QueuedAt),
		StartedAt:     timePtr(r.StartedAt),
		CompletedAt:   timePtr(r.CompletedAt),
		DeadlineAt:    timePtr(r.DeadlineAt),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.Output.Valid {
		j.Output = json.RawMessage(r.Output.String)
	}
	return j
}

func toJobs(rows []jobRow) []*domain.Job {
	out := make([]*domain.Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

type userRow struct {
	Wallet    string    `db:"wallet"`
	Credits   int64     `db:"credits"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{
		Wallet:    r.Wallet,
		Credits:   fromMicros(r.Credits),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type ledgerRow struct {
	EntryID      string    `db:"entry_id"`
	Wallet       string    `db:"wallet"`
	JobID        string    `db:"job_id"`
	Kind         string    `db:"kind"`
	Amount       int64     `db:"amount"`
	BalanceAfter int64     `db:"balance_after"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r ledgerRow) toDomain() domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:           r.EntryID,
		Wallet:       r.Wallet,
		JobID:        r.JobID,
		Kind:         domain.LedgerKind(r.Kind),
		Amount:       fromMicros(r.Amount),
		BalanceAfter: fromMicros(r.BalanceAfter),
		CreatedAt:    r.CreatedAt.UTC(),
	}
}
