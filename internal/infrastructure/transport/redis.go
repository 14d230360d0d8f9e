// Package transport moves event batches over Redis streams. Each session
// gets its own stream keyed by partition key, which preserves per-session
// order while letting sessions fan out across stream consumers.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/session-hub/session-hub/internal/domain/event"
)

// Redis sends outbound batches with one pipelined XADD per event.
type Redis struct {
	rdb          redis.UniversalClient
	streamPrefix string
	maxLen       int64
	logger       zerolog.Logger
}

// Options tunes the outbound transport.
type Options struct {
	// StreamPrefix is prepended to the partition key to form the stream
	// name. Default "session-events:".
	StreamPrefix string
	// MaxStreamLen caps each stream with approximate trimming. Zero means
	// no cap.
	MaxStreamLen int64
}

func NewRedis(rdb redis.UniversalClient, opts Options, logger zerolog.Logger) *Redis {
	if opts.StreamPrefix == "" {
		opts.StreamPrefix = "session-events:"
	}
	return &Redis{
		rdb:          rdb,
		streamPrefix: opts.StreamPrefix,
		maxLen:       opts.MaxStreamLen,
		logger:       logger.With().Str("component", "redis_transport").Logger(),
	}
}

// SendBatch appends the batch to the partition's stream in one pipeline.
func (t *Redis) SendBatch(ctx context.Context, partitionKey string, batch []event.Envelope) error {
	stream := t.streamPrefix + partitionKey
	pipe := t.rdb.Pipeline()
	for _, env := range batch {
		values, err := streamValues(env)
		if err != nil {
			return err
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			MaxLen: t.maxLen,
			Approx: true,
			Values: values,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd batch to %s: %w", stream, err)
	}
	return nil
}

// streamValues lays the envelope out as stream fields: the metadata keys
// travel out-of-band next to the serialized JSON body.
func streamValues(env event.Envelope) (map[string]interface{}, error) {
	body, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("serialize event %s: %w", env.Meta.ID, err)
	}
	return map[string]interface{}{
		"id":                           env.Meta.ID,
		"eventType":                    string(env.Meta.EventType),
		"gameId":                       env.Meta.GameID,
		"taskId":                       env.Meta.TaskID,
		"tournamentId":                 env.Meta.TournamentID,
		"source":                       env.Meta.Source,
		"groupId":                      env.Meta.GroupID,
		"agentSubscriptionFilterValue": env.Meta.AgentSubscriptionFilterValue,
		"roleId":                       env.Meta.RoleID,
		"producedAt":                   env.Meta.ProducedAt.Format(time.RFC3339Nano),
		"body":                         string(body),
	}, nil
}

func metaFromValues(values map[string]interface{}) event.Meta {
	str := func(key string) string {
		if v, ok := values[key].(string); ok {
			return v
		}
		return ""
	}
	producedAt, _ := time.Parse(time.RFC3339Nano, str("producedAt"))
	return event.Meta{
		ID:                           str("id"),
		EventType:                    event.Type(str("eventType")),
		GameID:                       str("gameId"),
		TaskID:                       str("taskId"),
		TournamentID:                 str("tournamentId"),
		Source:                       str("source"),
		GroupID:                      str("groupId"),
		AgentSubscriptionFilterValue: str("agentSubscriptionFilterValue"),
		RoleID:                       str("roleId"),
		ProducedAt:                   producedAt,
	}
}
