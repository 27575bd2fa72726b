// Package sqlstore implements storage.Store on top of sqlx for PostgreSQL
// (lib/pq) and SQLite (modernc.org/sqlite). Queries are written with "?"
// placeholders and rebound for the connected driver.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/compute/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
)

//go:embed schema/postgres.sql
var postgresSchema string

//go:embed schema/sqlite.sql
var sqliteSchema string

// Dialect distinguishes the SQL flavours the store speaks.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store is a sqlx backed storage.Store.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	logger  *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New wraps db. The dialect is taken from the driver name.
func New(db *sqlx.DB, logger *slog.Logger) (*Store, error) {
	var d Dialect
	switch db.DriverName() {
	case "postgres", "pgx":
		d = DialectPostgres
	case "sqlite", "sqlite3":
		d = DialectSQLite
	default:
		return nil, fmt.Errorf("unsupported driver %q", db.DriverName())
	}
	return &Store{db: db, dialect: d, logger: logger}, nil
}

// Dialect returns the SQL flavour in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if s.dialect == DialectSQLite {
		schema = sqliteSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	s.logger.Info("Schema applied", slog.String("dialect", string(s.dialect)))
	return nil
}

// forUpdate is appended to reads that must lock the row until commit.
// SQLite serialises writers at the database level and has no row locks.
func (s *Store) forUpdate() string {
	if s.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (s *Store) InTx(ctx context.Context, now time.Time, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&sqlTx{tx: tx, s: s, now: now.UTC()}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to rollback transaction", slog.Any("error", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return getJob(ctx, s.db, s.db.Rebind(selectJobSQL+" WHERE job_id = ?"), jobID)
}

func (s *Store) ListJobs(ctx context.Context, filter storage.JobFilter) ([]*domain.Job, error) {
	query := selectJobSQL + " WHERE 1=1"
	args := []interface{}{}

	if filter.Wallet != "" {
		query += " AND wallet = ?"
		args = append(args, filter.Wallet)
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, string(filter.Category))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND job_id < ?))"
		args = append(args, filter.Cursor.CreatedAt.UTC(), filter.Cursor.CreatedAt.UTC(), filter.Cursor.JobID)
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	if filter.PageSize > 0 {
		query += " LIMIT ?"
		args = append(args, filter.PageSize+1)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return toJobs(rows), nil
}

func (s *Store) GetUser(ctx context.Context, wallet string) (*domain.User, error) {
	var row userRow
	query := s.db.Rebind(`SELECT wallet, credits, created_at, updated_at FROM users WHERE wallet = ?`)
	if err := s.db.GetContext(ctx, &row, query, wallet); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) CheckSufficient(ctx context.Context, wallet string, amount decimal.Decimal) (bool, error) {
	var credits int64
	query := s.db.Rebind(`SELECT credits FROM users WHERE wallet = ?`)
	if err := s.db.GetContext(ctx, &credits, query, wallet); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read balance: %w", err)
	}
	return credits >= toMicros(amount), nil
}

func (s *Store) ListLedger(ctx context.Context, wallet string, limit int) ([]domain.LedgerEntry, error) {
	query := `
		SELECT entry_id, wallet, job_id, kind, amount, balance_after, created_at
		FROM credit_ledger
		WHERE wallet = ?
		ORDER BY seq DESC`
	args := []interface{}{wallet}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []ledgerRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}

	out := make([]domain.LedgerEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	query := selectJobSQL + " WHERE status = ? ORDER BY created_at ASC"
	args := []interface{}{string(status)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}
	return toJobs(rows), nil
}

func (s *Store) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	query := selectJobSQL + " WHERE status IN (?, ?) AND deadline_at IS NOT NULL AND deadline_at < ? ORDER BY deadline_at ASC"
	args := []interface{}{string(domain.StatusAssigned), string(domain.StatusProcessing), now.UTC()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list overdue jobs: %w", err)
	}
	return toJobs(rows), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure in either dialect.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		// primary result code SQLITE_CONSTRAINT
		return liteErr.Code()&0xff == 19
	}
	return false
}

type getter interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func getJob(ctx context.Context, q getter, query, jobID string) (*domain.Job, error) {
	var row jobRow
	if err := q.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain(), nil
}
