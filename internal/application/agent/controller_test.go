package agent

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/session-hub/session-hub/internal/application/scheduler"
	"github.com/session-hub/session-hub/internal/domain/action"
	"github.com/session-hub/session-hub/internal/domain/event"
	"github.com/session-hub/session-hub/internal/domain/geo"
	"github.com/session-hub/session-hub/internal/domain/session"
	"github.com/session-hub/session-hub/internal/domain/turn"
)

type scheduled struct {
	a  action.Action
	cb scheduler.Callback
}

type fakeScheduler struct {
	scheduled []scheduled
	cancelled []action.Action
}

func (f *fakeScheduler) Schedule(a action.Action, cb scheduler.Callback) {
	f.scheduled = append(f.scheduled, scheduled{a: a, cb: cb})
}

func (f *fakeScheduler) CancelAction(a action.Action) { f.cancelled = append(f.cancelled, a) }

// complete mimics the real scheduler resolving the most recently scheduled
// action: RUNNING, then terminal, then the completion callback.
func (f *fakeScheduler) complete(t *testing.T, terminal action.State) {
	t.Helper()
	require.NotEmpty(t, f.scheduled)
	s := f.scheduled[len(f.scheduled)-1]
	require.NoError(t, s.a.Transition(action.StateRunning))
	require.NoError(t, s.a.Transition(terminal))
	s.cb.OnEnd(s.a)
}

type fakePublisher struct {
	events []event.Event
}

func (f *fakePublisher) Publish(_ *session.Config, _ string, payload event.Event) {
	f.events = append(f.events, payload)
}

type fakeEntities struct {
	pathOK  bool
	reached bool
	said    []string
}

func (f *fakeEntities) Position(string) (geo.Position, bool)           { return geo.Position{}, true }
func (f *fakeEntities) StartPath(string, geo.Position) bool            { return f.pathOK }
func (f *fakeEntities) ReachedDestination(string, geo.Position) bool   { return f.reached }
func (f *fakeEntities) PlaceBlock(string, geo.Position, string) error  { return nil }
func (f *fakeEntities) RemoveBlock(string, geo.Position) error         { return nil }
func (f *fakeEntities) Say(_ string, msg string) error                 { f.said = append(f.said, msg); return nil }

type fakeDirectory struct {
	constraint *geo.Region
	positions  map[string]geo.Position
	engine     *turn.Engine
}

func (f *fakeDirectory) MovementConstraint(string) *geo.Region { return f.constraint }
func (f *fakeDirectory) SetLastPosition(pid string, pos geo.Position) {
	if f.positions == nil {
		f.positions = make(map[string]geo.Position)
	}
	f.positions[pid] = pos
}
func (f *fakeDirectory) Engine(string) (*turn.Engine, bool) { return f.engine, f.engine != nil }

type nopMessenger struct{}

func (nopMessenger) SendMessage(string, string) {}

type nopTeardown struct{}

func (nopTeardown) SessionEnds(*session.Config, session.CompletionReason) {}

type nopRearmer struct{}

func (nopRearmer) Rearm(string) {}

func newTestController() (*Controller, *fakeScheduler, *fakePublisher, *fakeDirectory) {
	sched := &fakeScheduler{}
	pub := &fakePublisher{}
	dir := &fakeDirectory{}
	cfg := &session.Config{
		GameID:    "game-1",
		RoleIDs:   []string{"role-a", "role-b"},
		AgentKeys: []string{"agent-1"},
	}
	c := NewController("agent-1", "role-b", cfg, sched, pub, &fakeEntities{pathOK: true}, dir, zerolog.Nop())
	return c, sched, pub, dir
}

func TestEnqueueMapsEventsToActions(t *testing.T) {
	c, _, _, _ := newTestController()

	c.Enqueue(&event.PlayerMove{To: geo.Position{X: 3}})
	c.Enqueue(&event.BlockPlace{Position: geo.Position{X: 1}, Material: "stone"})
	c.Enqueue(&event.BlockRemove{Position: geo.Position{X: 2}})
	c.Enqueue(&event.PlayerChat{Message: "hi"})

	require.Equal(t, 4, c.QueueLen())
	assert.IsType(t, &action.Move{}, c.queue[0])
	assert.IsType(t, &action.PlaceBlock{}, c.queue[1])
	assert.IsType(t, &action.RemoveBlock{}, c.queue[2])
	assert.IsType(t, &action.Chat{}, c.queue[3])
}

func TestEndTurnClosesQueueUntilRearm(t *testing.T) {
	c, _, _, _ := newTestController()

	c.Enqueue(&event.TurnChange{})
	require.Equal(t, 1, c.QueueLen())
	require.False(t, c.Accepting())

	c.Enqueue(&event.PlayerChat{Message: "too late"})
	assert.Equal(t, 1, c.QueueLen(), "enqueue after end-turn is dropped")

	c.Rearm()
	assert.True(t, c.Accepting())
	c.Enqueue(&event.PlayerChat{Message: "next turn"})
	assert.Equal(t, 2, c.QueueLen())
}

func TestMaybeScheduleNextEmptyQueueIsNoOp(t *testing.T) {
	c, sched, _, _ := newTestController()
	c.MaybeScheduleNext()
	assert.Empty(t, sched.scheduled)
}

func TestMaybeScheduleNextSchedulesReadyHeadOnce(t *testing.T) {
	c, sched, _, _ := newTestController()
	c.Enqueue(&event.PlayerChat{Message: "a"})
	c.Enqueue(&event.PlayerChat{Message: "b"})

	c.MaybeScheduleNext()
	require.Len(t, sched.scheduled, 1)

	// Head is now handed to the scheduler; simulate it being in flight.
	require.NoError(t, sched.scheduled[0].a.Transition(action.StateRunning))
	c.MaybeScheduleNext()
	assert.Len(t, sched.scheduled, 1, "in-flight head must not be scheduled again")
}

func TestCompletionPublishesResultAndDrainsNext(t *testing.T) {
	c, sched, pub, _ := newTestController()
	c.Enqueue(&event.PlayerChat{Message: "first"})
	c.Enqueue(&event.PlayerChat{Message: "second"})

	c.MaybeScheduleNext()
	sched.complete(t, action.StateSuccess)

	// First action produced its event and the second was scheduled.
	require.Len(t, pub.events, 1)
	chat := pub.events[0].(event.PlayerChat)
	assert.Equal(t, "first", chat.Message)
	assert.Equal(t, "agent-1", chat.ParticipantID)
	assert.Equal(t, "role-b", chat.RoleID)
	require.Len(t, sched.scheduled, 2)

	sched.complete(t, action.StateSuccess)
	require.Len(t, pub.events, 2)
	assert.Equal(t, "second", pub.events[1].(event.PlayerChat).Message)
	assert.Equal(t, 0, c.QueueLen(), "both actions fully drained")
}

func TestFailedActionProducesNoEventAndDrains(t *testing.T) {
	c, sched, pub, _ := newTestController()
	c.Enqueue(&event.PlayerChat{Message: "doomed"})
	c.Enqueue(&event.PlayerChat{Message: "next"})

	c.MaybeScheduleNext()
	sched.complete(t, action.StateFailure)

	assert.Empty(t, pub.events, "failures publish nothing")
	require.Len(t, sched.scheduled, 2, "queue keeps draining past the failure")
}

func TestMoveCompletionUpdatesLastPosition(t *testing.T) {
	c, sched, pub, dir := newTestController()
	c.Enqueue(&event.PlayerMove{To: geo.Position{X: 5, Z: 5}})

	c.MaybeScheduleNext()
	sched.complete(t, action.StateSuccess)

	require.Len(t, pub.events, 1)
	move := pub.events[0].(event.PlayerMove)
	assert.Equal(t, 5.0, move.To.X)
	assert.Equal(t, geo.Position{X: 5, Z: 5}, dir.positions["agent-1"])
}

func TestEndTurnCompletionAdvancesTurn(t *testing.T) {
	c, sched, pub, dir := newTestController()
	eng := turn.NewEngine(c.cfg, turn.Deps{
		Publisher: pub,
		Messenger: nopMessenger{},
		Rearmer:   nopRearmer{},
		Teardown:  nopTeardown{},
		Directory: &fakeDeps{},
	}, zerolog.Nop())
	require.NoError(t, eng.BindRole("role-a", "pa"))
	require.NoError(t, eng.BindRole("role-b", "agent-1"))
	dir.engine = eng

	c.Enqueue(&event.TurnChange{})
	c.MaybeScheduleNext()
	sched.complete(t, action.StateSuccess)

	assert.Equal(t, 1, eng.TurnsTaken())
	var changes []event.TurnChange
	for _, ev := range pub.events {
		if tc, ok := ev.(event.TurnChange); ok {
			changes = append(changes, tc)
		}
	}
	require.Len(t, changes, 1, "turn-change comes from the engine, not the controller")
	assert.Equal(t, event.TurnReasonEndTurn, changes[0].Reason)
}

type fakeDeps struct{}

func (fakeDeps) ParticipantConfig(string) (*session.ParticipantConfig, bool) { return nil, false }

func TestCancelInFlight(t *testing.T) {
	c, sched, _, _ := newTestController()
	c.Enqueue(&event.PlayerChat{Message: "x"})
	c.MaybeScheduleNext()

	c.CancelInFlight()

	require.Len(t, sched.cancelled, 1)
}
