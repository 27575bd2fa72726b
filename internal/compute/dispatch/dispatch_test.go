package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/cuongbtq/pyrx-compute/shared/rabbitmq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	messages []rabbitmq.Message
	err      error
}

func (r *recordingPublisher) PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error {
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, msg)
	return nil
}

func TestQueuePool_Enqueue(t *testing.T) {
	pub := &recordingPublisher{}
	pool := NewQueuePool(pub, slog.New(slog.NewTextHandler(io.Discard, nil)))

	job := &domain.Job{ID: "job-1", Category: domain.CategoryImage, Model: "sdxl"}
	require.NoError(t, pool.Enqueue(context.Background(), job))

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "job-1", pub.messages[0].MessageID)
	assert.Equal(t, "application/json", pub.messages[0].ContentType)

	msg, err := Decode(pub.messages[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "job-1", msg.JobID)
	assert.Equal(t, "image", msg.Type)
	assert.Equal(t, "sdxl", msg.Model)
	assert.False(t, msg.EnqueuedAt.IsZero())
}

func TestQueuePool_EnqueueError(t *testing.T) {
	boom := errors.New("broker down")
	pool := NewQueuePool(&recordingPublisher{err: boom}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := pool.Enqueue(context.Background(), &domain.Job{ID: "job-1"})
	assert.ErrorIs(t, err, boom)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"job_id":"job-1","type":"text"}`},
		{name: "missing id", body: `{"type":"text"}`, wantErr: true},
		{name: "not json", body: `job-1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "job-1", msg.JobID)
		})
	}
}
