package turn

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/session-hub/session-hub/internal/domain/event"
	"github.com/session-hub/session-hub/internal/domain/session"
)

type fakeDeps struct {
	published []event.Event
	messages  map[string][]string
	rearmed   []string
	teardowns []session.CompletionReason
	configs   map[string]*session.ParticipantConfig
}

func newFakeDeps() *fakeDeps {
	return &fakeDeps{
		messages: make(map[string][]string),
		configs:  make(map[string]*session.ParticipantConfig),
	}
}

func (f *fakeDeps) Publish(_ *session.Config, _ string, payload event.Event) {
	f.published = append(f.published, payload)
}

func (f *fakeDeps) SendMessage(participantID, text string) {
	f.messages[participantID] = append(f.messages[participantID], text)
}

func (f *fakeDeps) Rearm(agentKey string) { f.rearmed = append(f.rearmed, agentKey) }

func (f *fakeDeps) SessionEnds(_ *session.Config, reason session.CompletionReason) {
	f.teardowns = append(f.teardowns, reason)
}

func (f *fakeDeps) ParticipantConfig(participantID string) (*session.ParticipantConfig, bool) {
	pc, ok := f.configs[participantID]
	return pc, ok
}

func (f *fakeDeps) deps() Deps {
	return Deps{Publisher: f, Messenger: f, Rearmer: f, Teardown: f, Directory: f}
}

func (f *fakeDeps) turnChanges() []event.TurnChange {
	var out []event.TurnChange
	for _, ev := range f.published {
		if tc, ok := ev.(event.TurnChange); ok {
			out = append(out, tc)
		}
	}
	return out
}

func twoRoleEngine(t *testing.T, f *fakeDeps, cfg *session.Config) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = &session.Config{
			GameID:       "game-1",
			TaskID:       "task-1",
			TournamentID: "tourney-1",
			RoleIDs:      []string{"role-a", "role-b"},
		}
	}
	e := NewEngine(cfg, f.deps(), zerolog.Nop())
	require.NoError(t, e.BindRole("role-a", "pa"))
	require.NoError(t, e.BindRole("role-b", "pb"))
	return e
}

func TestStartAnnouncesFirstTurn(t *testing.T) {
	f := newFakeDeps()
	e := twoRoleEngine(t, f, nil)

	e.Start()

	changes := f.turnChanges()
	require.Len(t, changes, 1)
	assert.Empty(t, changes[0].PreviousRoleID)
	assert.Equal(t, "role-a", changes[0].NextRoleID)
	assert.Equal(t, event.TurnReasonSessionStart, changes[0].Reason)
}

func TestTakeTurnAdvancesOffsetByOne(t *testing.T) {
	f := newFakeDeps()
	e := twoRoleEngine(t, f, nil)
	e.Start()

	for i := 1; i <= 5; i++ {
		e.TakeTurn(event.TurnReasonEndTurn)
		assert.Equal(t, i, e.ActiveOffset())
		assert.Equal(t, i, e.TurnsTaken())
		active, ok := e.ActiveSlot()
		require.True(t, ok)
		want := []string{"role-a", "role-b"}[i%2]
		assert.Equal(t, want, active.RoleID)
	}
}

func TestTakeTurnRearmsAgent(t *testing.T) {
	f := newFakeDeps()
	cfg := &session.Config{
		GameID:    "game-1",
		RoleIDs:   []string{"role-a", "role-b"},
		AgentKeys: []string{"agent-b"},
		HumanIDs:  []string{"pa"},
	}
	e := NewEngine(cfg, f.deps(), zerolog.Nop())
	require.NoError(t, e.BindRole("role-a", "pa"))
	require.NoError(t, e.BindRole("role-b", "agent-b"))
	e.Start()

	e.TakeTurn(event.TurnReasonEndTurn)

	assert.Equal(t, []string{"agent-b"}, f.rearmed)
}

func TestRemovingParticipantBeforeActiveOffsetKeepsActive(t *testing.T) {
	f := newFakeDeps()
	e := twoRoleEngine(t, f, nil)
	e.Start()

	e.TakeTurn(event.TurnReasonEndTurn)
	active, ok := e.ActiveSlot()
	require.True(t, ok)
	require.Equal(t, "role-b", active.RoleID)

	// pa sits at bound position 0, at or before offset 1: offset decrements
	// and role-b stays active.
	e.UnbindParticipant("pa")

	assert.Equal(t, 0, e.ActiveOffset())
	active, ok = e.ActiveSlot()
	require.True(t, ok)
	assert.Equal(t, "role-b", active.RoleID)
}

func TestRemovingParticipantAfterActiveOffsetDoesNotDecrement(t *testing.T) {
	f := newFakeDeps()
	e := twoRoleEngine(t, f, nil)
	e.Start()

	active, ok := e.ActiveSlot()
	require.True(t, ok)
	require.Equal(t, "role-a", active.RoleID)

	// pb sits at bound position 1, after offset 0: no decrement, role-a
	// stays active.
	e.UnbindParticipant("pb")

	assert.Equal(t, 0, e.ActiveOffset())
	active, ok = e.ActiveSlot()
	require.True(t, ok)
	assert.Equal(t, "role-a", active.RoleID)
}

func threeRoleEngine(t *testing.T, f *fakeDeps) *Engine {
	t.Helper()
	cfg := &session.Config{
		GameID:  "game-1",
		RoleIDs: []string{"role-a", "role-b", "role-c"},
	}
	e := NewEngine(cfg, f.deps(), zerolog.Nop())
	require.NoError(t, e.BindRole("role-a", "pa"))
	require.NoError(t, e.BindRole("role-b", "pb"))
	require.NoError(t, e.BindRole("role-c", "pc"))
	return e
}

func TestRemovalBeforeActivePastFirstCycleKeepsActive(t *testing.T) {
	f := newFakeDeps()
	e := threeRoleEngine(t, f)
	e.Start()

	for i := 0; i < 4; i++ {
		e.TakeTurn(event.TurnReasonEndTurn)
	}
	active, ok := e.ActiveSlot()
	require.True(t, ok)
	require.Equal(t, "pb", active.ParticipantID, "offset 4 over three bound roles lands on the second")

	// pa sits before pb in the bound order; removing it must not shift the
	// active turn even though the raw counter has wrapped past the list.
	e.UnbindParticipant("pa")

	active, ok = e.ActiveSlot()
	require.True(t, ok)
	assert.Equal(t, "pb", active.ParticipantID)
}

func TestRemovalAfterActivePastFirstCycleKeepsActive(t *testing.T) {
	f := newFakeDeps()
	e := threeRoleEngine(t, f)
	e.Start()

	for i := 0; i < 4; i++ {
		e.TakeTurn(event.TurnReasonEndTurn)
	}

	e.UnbindParticipant("pc")

	active, ok := e.ActiveSlot()
	require.True(t, ok)
	assert.Equal(t, "pb", active.ParticipantID)
}

func TestUnbindUnknownParticipantIsNoOp(t *testing.T) {
	f := newFakeDeps()
	e := twoRoleEngine(t, f, nil)
	e.Start()

	e.UnbindParticipant("stranger")

	assert.Equal(t, 0, e.ActiveOffset())
	active, ok := e.ActiveSlot()
	require.True(t, ok)
	assert.Equal(t, "role-a", active.RoleID)
}

func TestCompletionIsIdempotentFirstReasonWins(t *testing.T) {
	f := newFakeDeps()
	e := twoRoleEngine(t, f, nil)
	e.Start()

	e.EndSessionAndNotify("pa", session.CompletionFinished)
	messagesAfterFirst := len(f.messages["pa"]) + len(f.messages["pb"])
	e.EndSessionAndNotify("pb", session.CompletionAbandoned)

	reason, done := e.Completed()
	require.True(t, done)
	assert.Equal(t, session.CompletionFinished, reason)
	assert.Equal(t, []session.CompletionReason{session.CompletionFinished}, f.teardowns, "teardown runs once")
	assert.Equal(t, messagesAfterFirst, len(f.messages["pa"])+len(f.messages["pb"]), "second completion sends nothing")
}

func TestCompletionNotifiesHumansWithConfirmationCode(t *testing.T) {
	f := newFakeDeps()
	e := twoRoleEngine(t, f, nil)
	e.Start()

	beforePA := len(f.messages["pa"])
	beforePB := len(f.messages["pb"])
	e.EndSessionAndNotify("pa", session.CompletionFinished)

	paMsgs := f.messages["pa"][beforePA:]
	pbMsgs := f.messages["pb"][beforePB:]
	require.Len(t, paMsgs, 2)
	assert.Equal(t, session.EndMessage(session.CompletionFinished), paMsgs[0])
	assert.Contains(t, paMsgs[1], "Confirmation code: ")
	require.Len(t, pbMsgs, 2)
	assert.NotEqual(t, paMsgs[1], pbMsgs[1], "codes embed each participant's own role")
}

func TestMaxTurnsCompletionStillAdvancesBookkeeping(t *testing.T) {
	f := newFakeDeps()
	cfg := &session.Config{
		GameID:   "game-1",
		RoleIDs:  []string{"role-a", "role-b"},
		MaxTurns: 2,
	}
	e := twoRoleEngine(t, f, cfg)
	e.Start()

	e.TakeTurn(event.TurnReasonEndTurn)
	e.TakeTurn(event.TurnReasonEndTurn)
	require.Equal(t, 2, e.TurnsTaken())
	_, done := e.Completed()
	require.False(t, done)

	e.TakeTurn(event.TurnReasonEndTurn)

	reason, done := e.Completed()
	require.True(t, done)
	assert.Equal(t, session.CompletionMaxTurns, reason)
	assert.Equal(t, 3, e.TurnsTaken(), "bookkeeping advances even though the session completed")
	assert.Equal(t, 3, e.ActiveOffset())
}

func TestTakeTurnOnCompletedSessionIsIgnored(t *testing.T) {
	f := newFakeDeps()
	e := twoRoleEngine(t, f, nil)
	e.Start()
	e.EndSessionAndNotify("pa", session.CompletionFinished)

	before := e.TurnsTaken()
	e.TakeTurn(event.TurnReasonEndTurn)
	assert.Equal(t, before, e.TurnsTaken())
}

func TestEndTurnIfOverMaxTime(t *testing.T) {
	f := newFakeDeps()
	f.configs["pa"] = &session.ParticipantConfig{ParticipantID: "pa", TurnLimit: 30 * time.Second}
	e := twoRoleEngine(t, f, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }
	e.Start()

	e.EndTurnIfOverMaxTime()
	assert.Equal(t, 0, e.TurnsTaken(), "limit not yet reached")

	e.now = func() time.Time { return base.Add(31 * time.Second) }
	e.EndTurnIfOverMaxTime()

	assert.Equal(t, 1, e.TurnsTaken())
	changes := f.turnChanges()
	require.NotEmpty(t, changes)
	assert.Equal(t, event.TurnReasonTimeout, changes[len(changes)-1].Reason)
}

func TestEndTurnWithoutLimitNeverForces(t *testing.T) {
	f := newFakeDeps()
	f.configs["pa"] = &session.ParticipantConfig{ParticipantID: "pa"}
	e := twoRoleEngine(t, f, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }
	e.Start()

	e.now = func() time.Time { return base.Add(24 * time.Hour) }
	e.EndTurnIfOverMaxTime()

	assert.Equal(t, 0, e.TurnsTaken())
}

func TestEndSessionIfOverMaxTime(t *testing.T) {
	f := newFakeDeps()
	cfg := &session.Config{
		GameID:      "game-1",
		RoleIDs:     []string{"role-a", "role-b"},
		MaxDuration: 10 * time.Minute,
	}
	e := twoRoleEngine(t, f, cfg)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }
	e.Start()

	e.EndSessionIfOverMaxTime()
	_, done := e.Completed()
	require.False(t, done)

	e.now = func() time.Time { return base.Add(11 * time.Minute) }
	e.EndSessionIfOverMaxTime()

	reason, done := e.Completed()
	require.True(t, done)
	assert.Equal(t, session.CompletionTimedOut, reason)
}

func TestBindRoleErrors(t *testing.T) {
	f := newFakeDeps()
	cfg := &session.Config{GameID: "game-1", RoleIDs: []string{"role-a"}}
	e := NewEngine(cfg, f.deps(), zerolog.Nop())

	require.NoError(t, e.BindRole("role-a", "pa"))
	assert.NoError(t, e.BindRole("role-a", "pa"), "re-binding the same participant is idempotent")
	assert.ErrorIs(t, e.BindRole("role-a", "px"), ErrRoleBound)
	assert.ErrorIs(t, e.BindRole("role-z", "px"), ErrUnknownRole)
}
