// Package dispatch carries admitted jobs from the engine to the worker
// service over RabbitMQ.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/compute/engine"
	"github.com/cuongbtq/pyrx-compute/shared/rabbitmq"
)

// JobMessage is the queue payload. Workers read the full job through the
// callback API, so only routing data travels on the queue.
type JobMessage struct {
	JobID      string    `json:"job_id"`
	Type       string    `json:"type"`
	Model      string    `json:"model"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Decode parses and validates a queue payload.
func Decode(body []byte) (*JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode job message: %w", err)
	}
	if msg.JobID == "" {
		return nil, fmt.Errorf("job message without job_id")
	}
	return &msg, nil
}

// Publisher is the part of the RabbitMQ client the pool needs.
type Publisher interface {
	PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error
}

// QueuePool is the engine's WorkerPool backed by a message queue.
type QueuePool struct {
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

var _ engine.WorkerPool = (*QueuePool)(nil)

// NewQueuePool creates a pool publishing through publisher.
func NewQueuePool(publisher Publisher, logger *slog.Logger) *QueuePool {
	return &QueuePool{publisher: publisher, logger: logger, now: time.Now}
}

// Enqueue publishes the job for a worker to claim.
func (p *QueuePool) Enqueue(ctx context.Context, job *domain.Job) error {
	body, err := json.Marshal(JobMessage{
		JobID:      job.ID,
		Type:       string(job.Category),
		Model:      job.Model,
		EnqueuedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode job message: %w", err)
	}

	if err := p.publisher.PublishWithRetry(ctx, rabbitmq.Message{
		MessageID:   job.ID,
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		return err
	}

	p.logger.Debug("Job published",
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Category)),
	)
	return nil
}
