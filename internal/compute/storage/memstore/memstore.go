// Package memstore is an in-memory implementation of storage.Store used by
// tests and single-process demos. A single mutex serialises transactions;
// rollback replays an undo log.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/compute/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store keeps users, jobs and ledger entries in maps.
type Store struct {
	mu     sync.Mutex
	users  map[string]*domain.User
	jobs   map[string]*domain.Job
	ledger []domain.LedgerEntry
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users: make(map[string]*domain.User),
		jobs:  make(map[string]*domain.Job),
	}
}

// InTx runs fn while holding the store lock.
func (s *Store) InTx(ctx context.Context, now time.Time, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s, now: now}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *Store) ListJobs(ctx context.Context, f storage.JobFilter) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Job
	for _, j := range s.jobs {
		if f.Wallet != "" && j.Wallet != f.Wallet {
			continue
		}
		if f.Category != "" && j.Category != f.Category {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Cursor != nil && !before(j, f.Cursor) {
			continue
		}
		out = append(out, j.Clone())
	}

	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID > out[b].ID
	})

	if f.PageSize > 0 && len(out) > f.PageSize+1 {
		out = out[:f.PageSize+1]
	}
	return out, nil
}

// before reports whether j sorts strictly after the cursor in
// (created_at DESC, id DESC) order.
func before(j *domain.Job, c *storage.JobCursor) bool {
	if j.CreatedAt.Equal(c.CreatedAt) {
		return j.ID < c.JobID
	}
	return j.CreatedAt.Before(c.CreatedAt)
}

func (s *Store) GetUser(ctx context.Context, wallet string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[wallet]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) CheckSufficient(ctx context.Context, wallet string, amount decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[wallet]
	if !ok {
		return false, nil
	}
	return u.Credits.GreaterThanOrEqual(amount), nil
}

func (s *Store) ListLedger(ctx context.Context, wallet string, limit int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.LedgerEntry
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].Wallet != wallet {
			continue
		}
		out = append(out, s.ledger[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	return s.selectJobs(limit, func(j *domain.Job) bool { return j.Status == status })
}

func (s *Store) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	return s.selectJobs(limit, func(j *domain.Job) bool {
		return (j.Status == domain.StatusAssigned || j.Status == domain.StatusProcessing) && j.DeadlineAt != nil && j.DeadlineAt.Before(now)
	})
}

func (s *Store) selectJobs(limit int, keep func(*domain.Job) bool) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Job
	for _, j := range s.jobs {
		if keep(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// memTx applies changes directly to the maps and records how to undo them.
type memTx struct {
	s    *Store
	now  time.Time
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

func (t *memTx) EnsureUser(ctx context.Context, wallet string, starter decimal.Decimal) error {
	if _, ok := t.s.users[wallet]; ok {
		return nil
	}
	t.s.users[wallet] = &domain.User{Wallet: wallet, Credits: starter, CreatedAt: t.now, UpdatedAt: t.now}
	t.undo = append(t.undo, func() { delete(t.s.users, wallet) })
	if starter.IsPositive() {
		t.appendLedger(wallet, "", domain.LedgerGrant, starter, starter)
	}
	return nil
}

func (t *memTx) Balance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	u, ok := t.s.users[wallet]
	if !ok {
		return decimal.Zero, domain.ErrUserNotFound
	}
	return u.Credits, nil
}

func (t *memTx) Deduct(ctx context.Context, wallet, jobID string, amount decimal.Decimal) error {
	u, ok := t.s.users[wallet]
	if !ok {
		return &domain.InsufficientCreditsError{Wallet: wallet, Required: amount, Available: decimal.Zero}
	}
	if u.Credits.LessThan(amount) {
		return &domain.InsufficientCreditsError{Wallet: wallet, Required: amount, Available: u.Credits}
	}
	t.setCredits(u, u.Credits.Sub(amount))
	t.appendLedger(wallet, jobID, domain.LedgerReserve, amount.Neg(), u.Credits)
	return nil
}

func (t *memTx) Refund(ctx context.Context, wallet, jobID string, amount decimal.Decimal) error {
	u, ok := t.s.users[wallet]
	if !ok {
		return domain.ErrUserNotFound
	}
	t.setCredits(u, u.Credits.Add(amount))
	t.appendLedger(wallet, jobID, domain.LedgerRefund, amount, u.Credits)
	return nil
}

func (t *memTx) ChargeUpTo(ctx context.Context, wallet, jobID string, amount decimal.Decimal) (decimal.Decimal, error) {
	u, ok := t.s.users[wallet]
	if !ok {
		return decimal.Zero, domain.ErrUserNotFound
	}
	charged := decimal.Min(amount, u.Credits)
	if !charged.IsPositive() {
		return decimal.Zero, nil
	}
	t.setCredits(u, u.Credits.Sub(charged))
	t.appendLedger(wallet, jobID, domain.LedgerCharge, charged.Neg(), u.Credits)
	return charged, nil
}

func (t *memTx) Grant(ctx context.Context, wallet string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := t.EnsureUser(ctx, wallet, decimal.Zero); err != nil {
		return decimal.Zero, err
	}
	u := t.s.users[wallet]
	t.setCredits(u, u.Credits.Add(amount))
	t.appendLedger(wallet, "", domain.LedgerGrant, amount, u.Credits)
	return u.Credits, nil
}

func (t *memTx) setCredits(u *domain.User, credits decimal.Decimal) {
	prev, prevUpdated := u.Credits, u.UpdatedAt
	u.Credits = credits
	u.UpdatedAt = t.now
	t.undo = append(t.undo, func() {
		u.Credits = prev
		u.UpdatedAt = prevUpdated
	})
}

func (t *memTx) appendLedger(wallet, jobID string, kind domain.LedgerKind, amount, after decimal.Decimal) {
	t.s.ledger = append(t.s.ledger, domain.LedgerEntry{
		ID:           uuid.New().String(),
		Wallet:       wallet,
		JobID:        jobID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: after,
		CreatedAt:    t.now,
	})
	n := len(t.s.ledger) - 1
	t.undo = append(t.undo, func() { t.s.ledger = t.s.ledger[:n] })
}

func (t *memTx) CreateJob(ctx context.Context, job *domain.Job) error {
	if _, ok := t.s.jobs[job.ID]; ok {
		return storage.ErrDuplicateJob
	}
	t.s.jobs[job.ID] = job.Clone()
	t.undo = append(t.undo, func() { delete(t.s.jobs, job.ID) })
	return nil
}

func (t *memTx) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	j, ok := t.s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (t *memTx) TransitionJob(ctx context.Context, jobID string, from []domain.JobStatus, to domain.JobStatus, mutate storage.Mutation) (*domain.Job, error) {
	cur, ok := t.s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if !storage.StatusIn(cur.Status, from) {
		return cur.Clone(), domain.ErrInvalidTransition
	}

	next := cur.Clone()
	next.Status = to
	next.UpdatedAt = t.now
	if mutate != nil {
		mutate(next)
	}

	t.s.jobs[jobID] = next
	t.undo = append(t.undo, func() { t.s.jobs[jobID] = cur })
	return next.Clone(), nil
}
