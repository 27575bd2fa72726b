package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/pyrx-compute/internal/compute/dispatch"
	"github.com/cuongbtq/pyrx-compute/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// decodeDelivery turns a queue delivery into a job message.
func decodeDelivery(delivery amqp.Delivery) (*domain.JobMessage, error) {
	msg, err := dispatch.Decode(delivery.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		return nil, fmt.Errorf("%w: job_id %q is not a UUID", domain.ErrInvalidMessage, msg.JobID)
	}

	return &domain.JobMessage{
		JobID:       msg.JobID,
		Type:        msg.Type,
		DeliveryTag: delivery.DeliveryTag,
	}, nil
}

// startMessageDispatcher hands deliveries to the worker pool until the
// channel closes, ctx is done or the worker is stopped.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - worker stopping")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("Delivery channel closed")
				return
			}

			msg, err := decodeDelivery(delivery)
			if err != nil {
				w.logger.Error("Dropping undecodable message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// malformed messages go to the dead letter exchange, if any
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			select {
			case w.jobsChan <- &task{msg: msg, delivery: delivery}:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.requeueOnShutdown(delivery, msg.JobID)
				return
			case <-w.stopChan:
				w.requeueOnShutdown(delivery, msg.JobID)
				return
			}
		}
	}
}

func (w *Worker) requeueOnShutdown(delivery amqp.Delivery, jobID string) {
	w.logger.Info("Message dispatcher stopped while dispatching job",
		slog.String("job_id", jobID),
	)
	if nackErr := delivery.Nack(false, true); nackErr != nil {
		w.logger.Error("Failed to NACK message on shutdown",
			slog.String("job_id", jobID),
			slog.String("error", nackErr.Error()),
		)
	}
}
