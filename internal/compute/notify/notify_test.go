package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupNotifier(t *testing.T) (*RedisNotifier, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisNotifier(client, slog.New(slog.NewTextHandler(io.Discard, nil))), client, mr
}

func completedJob() *domain.Job {
	return &domain.Job{
		ID:            "job-1",
		Wallet:        "0xabc",
		Category:      domain.CategoryText,
		Status:        domain.StatusCompleted,
		EstimatedCost: decimal.RequireFromString("0.08"),
		ActualCost:    decimal.NewNullDecimal(decimal.RequireFromString("0.075")),
		UpdatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestJobChanged_PublishesOnJobAndWalletChannels(t *testing.T) {
	n, client, _ := setupNotifier(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, JobChannel("job-1"), WalletChannel("0xabc"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n.JobChanged(ctx, completedJob())

	ch := sub.Channel()
	seen := map[string]Event{}
	for len(seen) < 2 {
		select {
		case msg := <-ch:
			var ev Event
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
			seen[msg.Channel] = ev
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of 2 events", len(seen))
		}
	}

	ev := seen[JobChannel("job-1")]
	assert.Equal(t, "COMPLETED", ev.Status)
	assert.Equal(t, "0.075", ev.ActualCost)
	assert.Equal(t, "0.08", ev.EstimatedCost)
	assert.Equal(t, "text", ev.Type)
	assert.Equal(t, ev, seen[WalletChannel("0xabc")])
}

func TestJobChanged_StoresStatusHash(t *testing.T) {
	n, _, mr := setupNotifier(t)

	n.JobChanged(context.Background(), completedJob())

	assert.Equal(t, "COMPLETED", mr.HGet(StatusKey("job-1"), "status"))
	assert.Equal(t, "0.075", mr.HGet(StatusKey("job-1"), "actual_cost"))
	assert.Equal(t, StatusTTL, mr.TTL(StatusKey("job-1")))
}

func TestJobChanged_RedisDownIsNotFatal(t *testing.T) {
	n, _, mr := setupNotifier(t)
	mr.Close()

	assert.NotPanics(t, func() {
		n.JobChanged(context.Background(), completedJob())
	})
}
