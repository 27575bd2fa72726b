// Package notify pushes job status changes to Redis so clients can follow
// a job without polling the API.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/internal/compute/engine"
	"github.com/redis/go-redis/v9"
)

// StatusTTL bounds how long the status hash of a job is kept.
const StatusTTL = 24 * time.Hour

// Event is published on the job and wallet channels.
type Event struct {
	Version       string `json:"version"`
	JobID         string `json:"job_id"`
	Wallet        string `json:"wallet"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	EstimatedCost string `json:"estimated_cost"`
	ActualCost    string `json:"actual_cost,omitempty"`
	Error         string `json:"error,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// JobChannel is the Pub/Sub channel of one job.
func JobChannel(jobID string) string {
	return fmt.Sprintf("pyrx:v1:job:%s", jobID)
}

// WalletChannel is the Pub/Sub channel of every job of a wallet.
func WalletChannel(wallet string) string {
	return fmt.Sprintf("pyrx:v1:wallet:%s", wallet)
}

// StatusKey is the hash holding a job's latest status.
func StatusKey(jobID string) string {
	return fmt.Sprintf("pyrx:job:%s:status", jobID)
}

// RedisNotifier implements engine.Notifier with Redis Pub/Sub.
type RedisNotifier struct {
	client *redis.Client
	logger *slog.Logger
}

var _ engine.Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier creates a notifier on client.
func NewRedisNotifier(client *redis.Client, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger}
}

// JobChanged stores and publishes the job's status. Failures are logged;
// notifications never affect the job itself.
func (n *RedisNotifier) JobChanged(ctx context.Context, job *domain.Job) {
	if err := n.publish(ctx, job); err != nil {
		n.logger.Warn("Failed to publish job status",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
			slog.Any("error", err),
		)
	}
}

func (n *RedisNotifier) publish(ctx context.Context, job *domain.Job) error {
	event := Event{
		Version:       "1.0",
		JobID:         job.ID,
		Wallet:        job.Wallet,
		Type:          string(job.Category),
		Status:        string(job.Status),
		EstimatedCost: job.EstimatedCost.String(),
		Error:         job.ErrorMessage,
		Timestamp:     job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if job.ActualCost.Valid {
		event.ActualCost = job.ActualCost.Decimal.String()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	fields := map[string]interface{}{
		"status":     event.Status,
		"updated_at": event.Timestamp,
	}
	if event.ActualCost != "" {
		fields["actual_cost"] = event.ActualCost
	}

	pipe := n.client.TxPipeline()
	pipe.HSet(ctx, StatusKey(job.ID), fields)
	pipe.Expire(ctx, StatusKey(job.ID), StatusTTL)
	pipe.Publish(ctx, JobChannel(job.ID), payload)
	pipe.Publish(ctx, WalletChannel(job.Wallet), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}
	return nil
}
