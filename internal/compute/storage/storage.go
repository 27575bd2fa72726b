// Package storage declares the persistence contracts of the compute engine.
// Implementations live in sqlstore (PostgreSQL/SQLite) and memstore.
package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/shopspring/decimal"
)

// CreditLedger mutates wallet balances. Every method must be applied inside
// a Tx so balance changes commit together with the job change that caused
// them.
type CreditLedger interface {
	// EnsureUser creates the wallet with starter credits if it does not exist.
	EnsureUser(ctx context.Context, wallet string, starter decimal.Decimal) error

	// Balance returns the committed balance as seen by this transaction.
	Balance(ctx context.Context, wallet string) (decimal.Decimal, error)

	// Deduct subtracts amount only if the balance covers it. On shortfall it
	// returns *domain.InsufficientCreditsError and changes nothing.
	Deduct(ctx context.Context, wallet, jobID string, amount decimal.Decimal) error

	// Refund adds amount back to the wallet.
	Refund(ctx context.Context, wallet, jobID string, amount decimal.Decimal) error

	// ChargeUpTo subtracts min(amount, balance) and returns what was taken.
	ChargeUpTo(ctx context.Context, wallet, jobID string, amount decimal.Decimal) (decimal.Decimal, error)

	// Grant credits a wallet outside of any job, creating it if needed.
	Grant(ctx context.Context, wallet string, amount decimal.Decimal) (decimal.Decimal, error)
}

// Mutation is applied to a job after its status CAS succeeded, before the
// row is written back.
type Mutation func(job *domain.Job)

// JobStore persists jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error

	// GetJob reads a job inside the transaction.
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)

	// TransitionJob moves a job to "to" only if its current status is one of
	// from. It returns the updated job, or domain.ErrInvalidTransition with
	// the current job when the guard did not match.
	TransitionJob(ctx context.Context, jobID string, from []domain.JobStatus, to domain.JobStatus, mutate Mutation) (*domain.Job, error)
}

// Tx is the all-or-nothing unit handed to Store.InTx.
type Tx interface {
	CreditLedger
	JobStore
}

// JobCursor is the keyset position of a listing page.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// JobFilter selects jobs for listing.
type JobFilter struct {
	Wallet   string
	Category domain.JobCategory
	Status   domain.JobStatus
	PageSize int
	Cursor   *JobCursor
}

// Store is the engine's persistence dependency.
type Store interface {
	// InTx runs fn in a transaction. fn's error rolls everything back.
	// Every row written in the transaction is stamped with now.
	InTx(ctx context.Context, now time.Time, fn func(tx Tx) error) error

	GetJob(ctx context.Context, jobID string) (*domain.Job, error)

	// ListJobs returns up to PageSize+1 jobs newest first, so callers can
	// tell whether another page exists.
	ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error)

	GetUser(ctx context.Context, wallet string) (*domain.User, error)

	// CheckSufficient reports whether the committed balance covers amount.
	// Unknown wallets have no balance.
	CheckSufficient(ctx context.Context, wallet string, amount decimal.Decimal) (bool, error)

	ListLedger(ctx context.Context, wallet string, limit int) ([]domain.LedgerEntry, error)

	// ListByStatus returns jobs in the given status, oldest first.
	ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error)

	// ListOverdue returns ASSIGNED or PROCESSING jobs whose deadline is
	// before now.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)

	Ping(ctx context.Context) error
}
