// Package publisher buffers session events and ships them to the outbound
// partitioned transport in per-session, size-bounded batches. Delivery is
// best-effort at-least-once; consumers are expected to be idempotent.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/session-hub/session-hub/internal/domain/event"
	"github.com/session-hub/session-hub/internal/domain/session"
)

// ErrEventTooLarge means a single serialized event exceeds the transport's
// maximum batch size. Retrying the same event cannot succeed, so this is
// fatal.
var ErrEventTooLarge = errors.New("publisher: single event exceeds transport batch capacity")

// Transport sends one batch of events sharing a partition key.
type Transport interface {
	SendBatch(ctx context.Context, partitionKey string, batch []event.Envelope) error
}

// Options tunes the publisher. Zero values use the defaults.
type Options struct {
	// DrainInterval is how often the background loop wakes. Default 500ms.
	DrainInterval time.Duration
	// MaxBatchBytes bounds one serialized batch. Default 1MB.
	MaxBatchBytes int
}

// Publisher owns the unbounded event queue and the background send loop.
// Publish may be called from any goroutine.
type Publisher struct {
	transport Transport
	logger    zerolog.Logger
	interval  time.Duration
	maxBytes  int
	now       func() time.Time

	mu    sync.Mutex
	queue []event.Envelope
}

func New(transport Transport, opts Options, logger zerolog.Logger) *Publisher {
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = 500 * time.Millisecond
	}
	if opts.MaxBatchBytes <= 0 {
		opts.MaxBatchBytes = 1 << 20
	}
	return &Publisher{
		transport: transport,
		logger:    logger.With().Str("service", "event_publisher").Logger(),
		interval:  opts.DrainInterval,
		maxBytes:  opts.MaxBatchBytes,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Publish enriches the payload with a fresh event id, a UTC timestamp and
// the session's routing identifiers, then queues it for the next drain.
func (p *Publisher) Publish(cfg *session.Config, roleID string, payload event.Event) {
	env := event.Envelope{
		Meta: event.Meta{
			ID:                           uuid.New().String(),
			EventType:                    payload.EventType(),
			GameID:                       cfg.GameID,
			TaskID:                       cfg.TaskID,
			TournamentID:                 cfg.TournamentID,
			Source:                       event.SourceOrchestrator,
			GroupID:                      cfg.GroupID,
			AgentSubscriptionFilterValue: cfg.AgentSubscriptionFilterValue,
			RoleID:                       roleID,
			ProducedAt:                   p.now(),
		},
		Payload: payload,
	}
	p.mu.Lock()
	p.queue = append(p.queue, env)
	p.mu.Unlock()
}

// Run drives the drain loop until ctx is cancelled, then performs a final
// flush so shutdown does not strand queued events.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Flush(context.Background())
			return
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Flush drains the whole queue, groups events by session preserving each
// session's relative order, and sends one or more batches per session.
func (p *Publisher) Flush(ctx context.Context) {
	p.mu.Lock()
	drained := p.queue
	p.queue = nil
	p.mu.Unlock()
	if len(drained) == 0 {
		return
	}

	bySession := make(map[string][]event.Envelope)
	var order []string
	for _, env := range drained {
		if _, seen := bySession[env.Meta.GameID]; !seen {
			order = append(order, env.Meta.GameID)
		}
		bySession[env.Meta.GameID] = append(bySession[env.Meta.GameID], env)
	}

	for _, gameID := range order {
		batches, err := splitIntoBatches(bySession[gameID], p.maxBytes)
		if err != nil {
			// A single event that can never fit is a data error, not a
			// transient condition. Nothing downstream can fix it.
			p.logger.Fatal().Err(err).Str("game_id", gameID).Msg("dropping undeliverable event batch")
			return
		}
		for _, batch := range batches {
			if err := p.transport.SendBatch(ctx, gameID, batch); err != nil {
				p.logger.Error().Err(err).Str("game_id", gameID).Int("batch_size", len(batch)).Msg("failed to send event batch")
			}
		}
	}
}

// Pending reports the number of queued, not-yet-drained events.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// splitIntoBatches packs events into size-bounded batches in order. Events
// are appended to the current batch until one no longer fits, which flushes
// the batch and starts a new one; an event that does not fit into an empty
// batch yields ErrEventTooLarge.
func splitIntoBatches(events []event.Envelope, maxBytes int) ([][]event.Envelope, error) {
	var batches [][]event.Envelope
	var current []event.Envelope
	currentBytes := 0

	for _, env := range events {
		size, err := envelopeSize(env)
		if err != nil {
			return nil, err
		}
		if size > maxBytes {
			return nil, fmt.Errorf("%w: event %s (%s) is %d bytes, max %d",
				ErrEventTooLarge, env.Meta.ID, env.Meta.EventType, size, maxBytes)
		}
		if currentBytes+size > maxBytes && len(current) > 0 {
			batches = append(batches, current)
			current = nil
			currentBytes = 0
		}
		current = append(current, env)
		currentBytes += size
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches, nil
}

func envelopeSize(env event.Envelope) (int, error) {
	body, err := json.Marshal(env.Payload)
	if err != nil {
		return 0, fmt.Errorf("serialize event %s: %w", env.Meta.ID, err)
	}
	meta, err := json.Marshal(env.Meta)
	if err != nil {
		return 0, fmt.Errorf("serialize event metadata %s: %w", env.Meta.ID, err)
	}
	return len(body) + len(meta), nil
}
