package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
)

const deadlineCallTimeout = 30 * time.Second

// armDeadline schedules a TIMEOUT for an ASSIGNED or PROCESSING job at its
// deadline.
func (e *Engine) armDeadline(job *domain.Job) {
	if job.DeadlineAt == nil {
		return
	}
	delay := job.DeadlineAt.Sub(e.clock())
	if delay < 0 {
		delay = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	if t, ok := e.timers[job.ID]; ok {
		t.Stop()
	}
	jobID := job.ID
	e.timers[jobID] = time.AfterFunc(delay, func() { e.onDeadline(jobID) })
}

func (e *Engine) disarmDeadline(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.timers[jobID]; ok {
		t.Stop()
		delete(e.timers, jobID)
	}
}

// pendingDeadlines returns the number of armed timers.
func (e *Engine) pendingDeadlines() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

func (e *Engine) onDeadline(jobID string) {
	e.mu.Lock()
	delete(e.timers, jobID)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), deadlineCallTimeout)
	defer cancel()

	if _, err := e.Timeout(ctx, jobID); err != nil && !errors.Is(err, domain.ErrJobTerminal) {
		e.logger.Error("Failed to expire job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

// Recover restores in-memory state after a restart: deadlines of ASSIGNED
// and PROCESSING jobs are re-armed (overdue ones expire at once) and PENDING
// jobs are dispatched again.
func (e *Engine) Recover(ctx context.Context) error {
	var inFlight []*domain.Job
	for _, status := range []domain.JobStatus{domain.StatusAssigned, domain.StatusProcessing} {
		jobs, err := e.store.ListByStatus(ctx, status, 0)
		if err != nil {
			return fmt.Errorf("failed to list %s jobs: %w", status, err)
		}
		inFlight = append(inFlight, jobs...)
	}
	for _, job := range inFlight {
		if job.DeadlineAt == nil {
			start := job.UpdatedAt
			if job.StartedAt != nil {
				start = *job.StartedAt
			}
			due := start.Add(e.cfg.Deadline(job.Category))
			job.DeadlineAt = &due
		}
		e.armDeadline(job)
	}

	pending, err := e.store.ListByStatus(ctx, domain.StatusPending, e.cfg.SweepBatch)
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}
	for _, job := range pending {
		e.dispatch(ctx, job)
	}

	e.logger.Info("Engine state recovered",
		slog.Int("in_flight", len(inFlight)),
		slog.Int("redispatched", len(pending)),
	)
	return nil
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Expired      int
	Redispatched int
}

// Sweep expires overdue ASSIGNED and PROCESSING jobs and re-dispatches jobs stuck in
// PENDING for longer than RedispatchAfter. Timers cover the common case;
// the sweep catches deadlines missed while no process was running.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := e.clock()

	overdue, err := e.store.ListOverdue(ctx, now, e.cfg.SweepBatch)
	if err != nil {
		return res, fmt.Errorf("failed to list overdue jobs: %w", err)
	}
	for _, job := range overdue {
		_, applied, err := e.advance(ctx, job.ID, domain.StatusTimeout, e.refundAll("no result reported before the deadline"))
		if err != nil {
			if !errors.Is(err, domain.ErrJobTerminal) {
				e.logger.Error("Failed to expire job", slog.String("job_id", job.ID), slog.Any("error", err))
			}
			continue
		}
		if applied {
			res.Expired++
		}
	}

	pending, err := e.store.ListByStatus(ctx, domain.StatusPending, e.cfg.SweepBatch)
	if err != nil {
		return res, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	cutoff := now.Add(-e.cfg.RedispatchAfter)
	for _, job := range pending {
		if job.CreatedAt.After(cutoff) {
			continue
		}
		e.dispatch(ctx, job)
		res.Redispatched++
	}

	return res, nil
}

// RunSweeper calls Sweep every SweepInterval until ctx is cancelled.
func (e *Engine) RunSweeper(ctx context.Context) error {
	interval := e.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Sweeper started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Sweeper stopped")
			return nil
		case <-ticker.C:
			res, err := e.Sweep(ctx)
			if err != nil {
				e.logger.Error("Sweep failed", slog.Any("error", err))
				continue
			}
			if res.Expired > 0 || res.Redispatched > 0 {
				e.logger.Info("Sweep finished",
					slog.Int("expired", res.Expired),
					slog.Int("redispatched", res.Redispatched),
				)
			}
		}
	}
}
