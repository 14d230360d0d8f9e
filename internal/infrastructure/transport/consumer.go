package transport

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/session-hub/session-hub/internal/domain/event"
)

// Relay hands a decoded inbound event over to the main loop.
type Relay interface {
	RunOnLoop(fn func())
}

// Handler processes one inbound event. Implementations run on the main
// loop; they never see transport concerns.
type Handler interface {
	HandleInbound(meta event.Meta, ev event.Event)
}

// Consumer tails the inbound stream on a background goroutine, decodes each
// message by its out-of-band type tag and relays it to the main loop. It
// reads from the stream tail: events produced before startup are not
// replayed.
type Consumer struct {
	rdb     redis.UniversalClient
	stream  string
	relay   Relay
	handler Handler
	logger  zerolog.Logger
}

func NewConsumer(rdb redis.UniversalClient, stream string, relay Relay, handler Handler, logger zerolog.Logger) *Consumer {
	return &Consumer{
		rdb:     rdb,
		stream:  stream,
		relay:   relay,
		handler: handler,
		logger:  logger.With().Str("component", "inbound_consumer").Str("stream", stream).Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	lastID := "$"
	c.logger.Info().Msg("inbound consumer started")
	for {
		if ctx.Err() != nil {
			c.logger.Info().Msg("inbound consumer stopped")
			return
		}
		res, err := c.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{c.stream, lastID},
			Count:   64,
			Block:   5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			c.logger.Warn().Err(err).Msg("inbound read failed")
			time.Sleep(time.Second)
			continue
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				c.dispatch(msg)
			}
		}
	}
}

func (c *Consumer) dispatch(msg redis.XMessage) {
	meta := metaFromValues(msg.Values)
	body, _ := msg.Values["body"].(string)
	ev, err := event.Decode(meta.EventType, []byte(body))
	if err != nil {
		c.logger.Warn().Err(err).Str("event_id", meta.ID).Str("event_type", string(meta.EventType)).Msg("dropping undecodable inbound event")
		return
	}
	c.relay.RunOnLoop(func() {
		c.handler.HandleInbound(meta, ev)
	})
}
