package publisher

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/session-hub/session-hub/internal/domain/event"
	"github.com/session-hub/session-hub/internal/domain/session"
)

type sentBatch struct {
	partitionKey string
	events       []event.Envelope
}

type fakeTransport struct {
	mu      sync.Mutex
	batches []sentBatch
	err     error
}

func (f *fakeTransport) SendBatch(_ context.Context, partitionKey string, batch []event.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := make([]event.Envelope, len(batch))
	copy(cp, batch)
	f.batches = append(f.batches, sentBatch{partitionKey: partitionKey, events: cp})
	return nil
}

func testConfig(gameID string) *session.Config {
	return &session.Config{
		GameID:                       gameID,
		TaskID:                       "task-1",
		TournamentID:                 "tourney-1",
		GroupID:                      "group-1",
		AgentSubscriptionFilterValue: "agent-svc",
	}
}

func chatEvent(gameID, msg string) event.PlayerChat {
	return event.PlayerChat{GameID: gameID, ParticipantID: "p1", RoleID: "builder", Message: msg}
}

func TestPublishEnrichesEnvelope(t *testing.T) {
	transport := &fakeTransport{}
	p := New(transport, Options{}, zerolog.Nop())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	p.Publish(testConfig("game-1"), "builder", chatEvent("game-1", "hi"))
	p.Flush(context.Background())

	require.Len(t, transport.batches, 1)
	require.Len(t, transport.batches[0].events, 1)
	meta := transport.batches[0].events[0].Meta
	assert.NotEmpty(t, meta.ID)
	assert.Equal(t, event.TypePlayerChat, meta.EventType)
	assert.Equal(t, "game-1", meta.GameID)
	assert.Equal(t, "task-1", meta.TaskID)
	assert.Equal(t, "tourney-1", meta.TournamentID)
	assert.Equal(t, event.SourceOrchestrator, meta.Source)
	assert.Equal(t, "group-1", meta.GroupID)
	assert.Equal(t, "agent-svc", meta.AgentSubscriptionFilterValue)
	assert.Equal(t, "builder", meta.RoleID)
	assert.Equal(t, fixed, meta.ProducedAt)
}

func TestPublishAssignsFreshIDs(t *testing.T) {
	transport := &fakeTransport{}
	p := New(transport, Options{}, zerolog.Nop())

	p.Publish(testConfig("game-1"), "builder", chatEvent("game-1", "one"))
	p.Publish(testConfig("game-1"), "builder", chatEvent("game-1", "two"))
	p.Flush(context.Background())

	require.Len(t, transport.batches, 1)
	events := transport.batches[0].events
	require.Len(t, events, 2)
	assert.NotEqual(t, events[0].Meta.ID, events[1].Meta.ID)
}

func TestFlushGroupsBySessionPreservingOrder(t *testing.T) {
	transport := &fakeTransport{}
	p := New(transport, Options{}, zerolog.Nop())

	p.Publish(testConfig("game-a"), "builder", chatEvent("game-a", "a1"))
	p.Publish(testConfig("game-b"), "builder", chatEvent("game-b", "b1"))
	p.Publish(testConfig("game-a"), "builder", chatEvent("game-a", "a2"))
	p.Flush(context.Background())

	require.Len(t, transport.batches, 2)
	byKey := map[string][]string{}
	for _, b := range transport.batches {
		for _, env := range b.events {
			byKey[b.partitionKey] = append(byKey[b.partitionKey], env.Payload.(event.PlayerChat).Message)
		}
	}
	assert.Equal(t, []string{"a1", "a2"}, byKey["game-a"])
	assert.Equal(t, []string{"b1"}, byKey["game-b"])
}

func TestFlushDrainsEntireQueue(t *testing.T) {
	transport := &fakeTransport{}
	p := New(transport, Options{}, zerolog.Nop())

	for i := 0; i < 10; i++ {
		p.Publish(testConfig("game-1"), "builder", chatEvent("game-1", "m"))
	}
	require.Equal(t, 10, p.Pending())
	p.Flush(context.Background())
	assert.Equal(t, 0, p.Pending())
}

func TestSplitIntoBatchesCoversAllEventsInOrder(t *testing.T) {
	cfg := testConfig("game-1")
	p := New(&fakeTransport{}, Options{}, zerolog.Nop())
	var events []event.Envelope
	for _, msg := range []string{"e1", "e2", "e3", "e4", "e5"} {
		p.Publish(cfg, "builder", chatEvent("game-1", msg))
	}
	p.mu.Lock()
	events = append(events, p.queue...)
	p.queue = nil
	p.mu.Unlock()

	single, err := envelopeSize(events[0])
	require.NoError(t, err)

	// Capacity for two events per batch: five events need three batches.
	batches, err := splitIntoBatches(events, single*2+1)
	require.NoError(t, err)
	require.Len(t, batches, 3)

	var got []string
	for _, b := range batches {
		assert.LessOrEqual(t, len(b), 2)
		for _, env := range b {
			got = append(got, env.Payload.(event.PlayerChat).Message)
		}
	}
	assert.Equal(t, []string{"e1", "e2", "e3", "e4", "e5"}, got)
}

func TestSplitIntoBatchesSingleOversizeEventIsFatal(t *testing.T) {
	cfg := testConfig("game-1")
	p := New(&fakeTransport{}, Options{}, zerolog.Nop())
	p.Publish(cfg, "builder", chatEvent("game-1", strings.Repeat("x", 4096)))
	p.mu.Lock()
	events := p.queue
	p.queue = nil
	p.mu.Unlock()

	_, err := splitIntoBatches(events, 512)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEventTooLarge)
}

func TestSplitIntoBatchesEmptyInput(t *testing.T) {
	batches, err := splitIntoBatches(nil, 1024)
	require.NoError(t, err)
	assert.Empty(t, batches)
}
