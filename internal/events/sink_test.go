package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/dropsminer/internal/miner"
	"github.com/kkkkikiki/dropsminer/internal/model"
)

func testEvent() model.ClaimEvent {
	return model.ClaimEvent{
		ID:         "ev-1",
		SessionID:  "alice",
		CampaignID: "c1",
		Attempt:    3,
		Success:    false,
		Reason:     "claim rejected",
		Exhausted:  true,
		OccurredAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLogSinkWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sink.RecordClaim(context.Background(), testEvent()))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "claim event", record["msg"])
	assert.Equal(t, "c1", record["campaign_id"])
	assert.Equal(t, true, record["exhausted"])
	assert.Equal(t, float64(3), record["attempt"])
}

func TestMultiCallsEverySink(t *testing.T) {
	var calls []string
	record := func(name string, err error) miner.EventSink {
		return miner.EventSinkFunc(func(context.Context, model.ClaimEvent) error {
			calls = append(calls, name)
			return err
		})
	}
	boom := errors.New("stream unavailable")

	sink := Multi{record("audit", boom), nil, record("log", nil)}
	err := sink.RecordClaim(context.Background(), testEvent())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"audit", "log"}, calls)
}

func TestStreamValues(t *testing.T) {
	values := streamValues(testEvent())

	assert.Equal(t, map[string]interface{}{
		"id":          "ev-1",
		"session_id":  "alice",
		"campaign_id": "c1",
		"attempt":     3,
		"success":     false,
		"reason":      "claim rejected",
		"exhausted":   true,
		"occurred_at": "2025-03-01T12:00:00Z",
	}, values)
}

func TestRedisSinkReportsUnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	sink := newRedisSink(client, "", 100)
	defer sink.Close()

	assert.Equal(t, "dropsminer:claims:stats:alice", sink.statsKey("alice"))

	err := sink.RecordClaim(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ev-1")
}
