package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kkkkikiki/dropsminer/internal/config"
	"github.com/kkkkikiki/dropsminer/internal/model"
)

// RedisSink appends claim events to a Redis stream and keeps per-session
// counters next to it, so dashboards outside the process can follow claims.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, cfg config.RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisSink(client, cfg.Stream, cfg.MaxLen), nil
}

func newRedisSink(client *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = "dropsminer:claims"
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

// RecordClaim implements miner.EventSink.
func (s *RedisSink) RecordClaim(ctx context.Context, event model.ClaimEvent) error {
	pipe := s.client.Pipeline()

	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: streamValues(event),
	})

	statsKey := s.statsKey(event.SessionID)
	pipe.HIncrBy(ctx, statsKey, "attempts", 1)
	switch {
	case event.Success:
		pipe.HIncrBy(ctx, statsKey, "claimed", 1)
	case event.Exhausted:
		pipe.HIncrBy(ctx, statsKey, "exhausted", 1)
	default:
		pipe.HIncrBy(ctx, statsKey, "failed", 1)
	}
	pipe.HSet(ctx, statsKey, "last_event_at", event.OccurredAt.UTC().Format(time.RFC3339))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish claim event %s: %w", event.ID, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

func (s *RedisSink) statsKey(sessionID string) string {
	return fmt.Sprintf("%s:stats:%s", s.stream, sessionID)
}

// streamValues flattens an event into stream entry fields.
func streamValues(event model.ClaimEvent) map[string]interface{} {
	return map[string]interface{}{
		"id":          event.ID,
		"session_id":  event.SessionID,
		"campaign_id": event.CampaignID,
		"attempt":     event.Attempt,
		"success":     event.Success,
		"reason":      event.Reason,
		"exhausted":   event.Exhausted,
		"occurred_at": event.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}
