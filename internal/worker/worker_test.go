package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	computedomain "github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ackRecord struct {
	tag     uint64
	acked   bool
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	records []ackRecord
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, acked: true})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) settled() []ackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackRecord(nil), a.records...)
}

type fakeReporter struct {
	mu sync.Mutex

	job          domain.Job
	assignedErrs []error
	startedErr   error
	completedErr error
	failedErr    error

	events     []string
	actualCost decimal.Decimal
	reason     string
}

func (r *fakeReporter) record(event string) {
	r.events = append(r.events, event)
}

func (r *fakeReporter) Assigned(ctx context.Context, jobID, workerRef string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("assigned")
	if len(r.assignedErrs) > 0 {
		err := r.assignedErrs[0]
		r.assignedErrs = r.assignedErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	job := r.job
	job.JobID = jobID
	if job.WorkerRef == "" {
		job.WorkerRef = workerRef
	}
	return &job, nil
}

func (r *fakeReporter) Started(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("started")
	if r.startedErr != nil {
		return nil, r.startedErr
	}
	job := r.job
	job.JobID = jobID
	return &job, nil
}

func (r *fakeReporter) Completed(ctx context.Context, jobID string, output json.RawMessage, actualCost decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("completed")
	r.actualCost = actualCost
	return r.completedErr
}

func (r *fakeReporter) Failed(ctx context.Context, jobID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("failed")
	r.reason = reason
	return r.failedErr
}

func (r *fakeReporter) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeExecutor struct {
	err   error
	cost  string
	block bool
}

func (e *fakeExecutor) Execute(ctx context.Context, job *domain.Job) (*domain.Result, error) {
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return &domain.Result{
		Output:     json.RawMessage(`{"text":"ok"}`),
		ActualCost: decimal.RequireFromString(e.cost),
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(reporter Reporter, executor Executor) *Worker {
	w := NewWorker(&Config{
		Logger:      discardLogger(),
		Reporter:    reporter,
		Executor:    executor,
		WorkerID:    "worker-test",
		Concurrency: 2,
		JobTimeout:  time.Second,
	})
	w.reportBackoff = time.Millisecond
	return w
}

func jobDelivery(ack amqp.Acknowledger, tag uint64, jobID string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		Body:         []byte(fmt.Sprintf(`{"job_id":%q,"type":"text","model":"llama-3-8b"}`, jobID)),
	}
}

// serveOne runs the worker over a single delivery and returns how it was settled.
func serveOne(t *testing.T, w *Worker, delivery amqp.Delivery) ackRecord {
	t.Helper()
	ack := delivery.Acknowledger.(*fakeAcknowledger)

	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- delivery
	close(deliveries)

	require.NoError(t, w.Serve(context.Background(), deliveries))

	settled := ack.settled()
	require.Len(t, settled, 1)
	return settled[0]
}

func queuedJob() domain.Job {
	return domain.Job{
		Type:          "text",
		Model:         "llama-3-8b",
		Status:        "QUEUED",
		EstimatedCost: decimal.RequireFromString("0.08"),
	}
}

func TestWorker_CompletesJob(t *testing.T) {
	reporter := &fakeReporter{job: queuedJob()}
	w := newTestWorker(reporter, &fakeExecutor{cost: "0.075"})

	got := serveOne(t, w, jobDelivery(&fakeAcknowledger{}, 7, uuid.NewString()))

	assert.Equal(t, ackRecord{tag: 7, acked: true}, got)
	assert.Equal(t, []string{"assigned", "started", "completed"}, reporter.recorded())
	assert.Equal(t, "0.075", reporter.actualCost.String())
}

func TestWorker_ReportsExecutionFailure(t *testing.T) {
	reporter := &fakeReporter{job: queuedJob()}
	w := newTestWorker(reporter, &fakeExecutor{err: errors.New("CUDA out of memory")})

	got := serveOne(t, w, jobDelivery(&fakeAcknowledger{}, 1, uuid.NewString()))

	assert.True(t, got.acked)
	assert.Equal(t, []string{"assigned", "started", "failed"}, reporter.recorded())
	assert.Equal(t, "CUDA out of memory", reporter.reason)
}

func TestWorker_RejectsMalformedMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{{`},
		{name: "missing job id", body: `{"type":"text"}`},
		{name: "job id not a uuid", body: `{"job_id":"job-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reporter := &fakeReporter{job: queuedJob()}
			w := newTestWorker(reporter, &fakeExecutor{cost: "0"})

			got := serveOne(t, w, amqp.Delivery{
				Acknowledger: &fakeAcknowledger{},
				DeliveryTag:  3,
				Body:         []byte(tt.body),
			})

			assert.Equal(t, ackRecord{tag: 3}, got)
			assert.Empty(t, reporter.recorded())
		})
	}
}

func TestWorker_SettlesByEngineAnswer(t *testing.T) {
	tests := []struct {
		name     string
		reporter *fakeReporter
		want     ackRecord
		events   []string
	}{
		{
			name:     "not queued yet is requeued",
			reporter: &fakeReporter{job: queuedJob(), assignedErrs: []error{computedomain.ErrJobNotReady}},
			want:     ackRecord{tag: 1, requeue: true},
			events:   []string{"assigned"},
		},
		{
			name:     "unknown job is dropped",
			reporter: &fakeReporter{job: queuedJob(), assignedErrs: []error{computedomain.ErrJobNotFound}},
			want:     ackRecord{tag: 1, acked: true},
			events:   []string{"assigned"},
		},
		{
			name:     "terminal at start is dropped",
			reporter: &fakeReporter{job: queuedJob(), startedErr: computedomain.ErrJobTerminal},
			want:     ackRecord{tag: 1, acked: true},
			events:   []string{"assigned", "started"},
		},
		{
			name:     "timed out before completion is dropped",
			reporter: &fakeReporter{job: queuedJob(), completedErr: fmt.Errorf("wrapped: %w", computedomain.ErrJobTerminal)},
			want:     ackRecord{tag: 1, acked: true},
			events:   []string{"assigned", "started", "completed"},
		},
		{
			name: "claimed by another worker is dropped",
			reporter: func() *fakeReporter {
				job := queuedJob()
				job.WorkerRef = "worker-other"
				return &fakeReporter{job: job}
			}(),
			want:   ackRecord{tag: 1, acked: true},
			events: []string{"assigned"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorker(tt.reporter, &fakeExecutor{cost: "0.01"})

			got := serveOne(t, w, jobDelivery(&fakeAcknowledger{}, 1, uuid.NewString()))

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.events, tt.reporter.recorded())
		})
	}
}

func TestWorker_RetriesTransientReports(t *testing.T) {
	reporter := &fakeReporter{
		job:          queuedJob(),
		assignedErrs: []error{errors.New("connection refused"), errors.New("connection refused")},
	}
	w := newTestWorker(reporter, &fakeExecutor{cost: "0.08"})

	got := serveOne(t, w, jobDelivery(&fakeAcknowledger{}, 2, uuid.NewString()))

	assert.True(t, got.acked)
	assert.Equal(t, []string{"assigned", "assigned", "assigned", "started", "completed"}, reporter.recorded())
}

func TestWorker_RequeuesWhenEngineUnreachable(t *testing.T) {
	down := errors.New("connection refused")
	reporter := &fakeReporter{job: queuedJob(), assignedErrs: []error{down, down, down}}
	w := newTestWorker(reporter, &fakeExecutor{cost: "0.08"})

	got := serveOne(t, w, jobDelivery(&fakeAcknowledger{}, 2, uuid.NewString()))

	assert.Equal(t, ackRecord{tag: 2, requeue: true}, got)
	assert.Len(t, reporter.recorded(), domain.ReportAttempts)
}

func TestWorker_DeadlineExceeded(t *testing.T) {
	t.Run("already passed", func(t *testing.T) {
		job := queuedJob()
		past := time.Now().Add(-time.Second)
		job.DeadlineAt = &past
		reporter := &fakeReporter{job: job}
		w := newTestWorker(reporter, &fakeExecutor{cost: "0.08"})

		got := serveOne(t, w, jobDelivery(&fakeAcknowledger{}, 4, uuid.NewString()))

		assert.True(t, got.acked)
		assert.Equal(t, []string{"assigned", "started"}, reporter.recorded())
	})

	t.Run("passes during execution", func(t *testing.T) {
		job := queuedJob()
		soon := time.Now().Add(20 * time.Millisecond)
		job.DeadlineAt = &soon
		reporter := &fakeReporter{job: job}
		w := newTestWorker(reporter, &fakeExecutor{block: true})

		got := serveOne(t, w, jobDelivery(&fakeAcknowledger{}, 5, uuid.NewString()))

		assert.True(t, got.acked)
		assert.Equal(t, []string{"assigned", "started"}, reporter.recorded())
	})
}

func TestWorker_StopEndsServe(t *testing.T) {
	reporter := &fakeReporter{job: queuedJob()}
	w := newTestWorker(reporter, &fakeExecutor{cost: "0"})

	deliveries := make(chan amqp.Delivery)
	done := make(chan error, 1)
	go func() { done <- w.Serve(context.Background(), deliveries) }()

	w.Stop()
	w.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Empty(t, reporter.recorded())
}

func TestWorker_StartWithoutSource(t *testing.T) {
	w := newTestWorker(&fakeReporter{}, &fakeExecutor{})
	assert.Error(t, w.Start(context.Background()))
}

func TestShouldRequeueJob(t *testing.T) {
	assert.True(t, shouldRequeueJob(domain.NewRetryableError(errors.New("broker down"))))
	assert.False(t, shouldRequeueJob(fmt.Errorf("%w: cancelled", domain.ErrJobUnavailable)))
	assert.False(t, shouldRequeueJob(domain.ErrDeadlineExceeded))
	assert.False(t, shouldRequeueJob(errors.New("rejected")))
}

func TestClassifyReportError(t *testing.T) {
	var retryable *domain.RetryableError

	assert.ErrorAs(t, classifyReportError("assigned", computedomain.ErrJobNotReady), &retryable)
	assert.ErrorAs(t, classifyReportError("completed", errors.New("timeout")), &retryable)
	assert.ErrorIs(t, classifyReportError("started", computedomain.ErrInvalidTransition), domain.ErrJobUnavailable)

	rejected := classifyReportError("completed", &computedomain.ValidationError{Field: "actual_cost", Reason: "negative"})
	assert.False(t, shouldRequeueJob(rejected))
	assert.NotErrorIs(t, rejected, domain.ErrJobUnavailable)
}
