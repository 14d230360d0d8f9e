package action

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/session-hub/session-hub/internal/domain/geo"
)

func TestStateCanTransitionTo(t *testing.T) {
	tests := []struct {
		from  State
		to    State
		valid bool
	}{
		{StateReady, StateRunning, true},
		{StateRunning, StateSuccess, true},
		{StateRunning, StateFailure, true},
		{StateSuccess, StateEventProduced, true},

		{StateReady, StateSuccess, false},
		{StateReady, StateFailure, false},
		{StateReady, StateEventProduced, false},
		{StateRunning, StateReady, false},
		{StateRunning, StateEventProduced, false},
		{StateSuccess, StateReady, false},
		{StateSuccess, StateRunning, false},
		{StateSuccess, StateFailure, false},
		{StateFailure, StateReady, false},
		{StateFailure, StateEventProduced, false},
		{StateEventProduced, StateReady, false},
		{StateEventProduced, StateSuccess, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTransitionRejectsInvalid(t *testing.T) {
	b := NewBase("agent-1")
	require.NoError(t, b.Transition(StateRunning))
	err := b.Transition(StateEventProduced)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StateRunning, b.State(), "failed transition must not change state")
}

func TestFullLifecycleNoStateRevisited(t *testing.T) {
	b := NewBase("agent-1")
	seen := []State{b.State()}
	for _, next := range []State{StateRunning, StateSuccess, StateEventProduced} {
		require.NoError(t, b.Transition(next))
		for _, prev := range seen {
			assert.Error(t, (&Base{state: b.State()}).Transition(prev), "must not revisit %s from %s", prev, b.State())
		}
		seen = append(seen, next)
	}
}

func TestFinished(t *testing.T) {
	assert.False(t, StateReady.Finished())
	assert.False(t, StateRunning.Finished())
	assert.True(t, StateSuccess.Finished())
	assert.True(t, StateFailure.Finished())
	assert.False(t, StateEventProduced.Finished(), "EVENT_PRODUCED is past the scheduler's finish test")
}

type stubController struct {
	position  geo.Position
	havePos   bool
	pathOK    bool
	reached   bool
	placeErr  error
	removeErr error
	sayErr    error
	said      []string
}

func (s *stubController) Position(string) (geo.Position, bool) { return s.position, s.havePos }
func (s *stubController) StartPath(string, geo.Position) bool  { return s.pathOK }
func (s *stubController) ReachedDestination(string, geo.Position) bool {
	return s.reached
}
func (s *stubController) PlaceBlock(string, geo.Position, string) error { return s.placeErr }
func (s *stubController) RemoveBlock(string, geo.Position) error        { return s.removeErr }
func (s *stubController) Say(_ string, msg string) error {
	s.said = append(s.said, msg)
	return s.sayErr
}

func TestMoveFailsOutsideMovementRegion(t *testing.T) {
	ctrl := &stubController{havePos: true, pathOK: true}
	region := &geo.Region{Min: geo.Position{X: 0, Z: 0}, Max: geo.Position{X: 10, Z: 10}}
	a := NewMove("agent-1", ctrl, geo.Position{X: 50, Z: 50}, region)
	require.NoError(t, a.Transition(StateRunning))

	a.SetUp()
	assert.Equal(t, StateFailure, a.State())
}

func TestMoveFailsWhenUnreachable(t *testing.T) {
	ctrl := &stubController{havePos: true, pathOK: false}
	a := NewMove("agent-1", ctrl, geo.Position{X: 5, Z: 5}, nil)
	require.NoError(t, a.Transition(StateRunning))

	a.SetUp()
	assert.Equal(t, StateFailure, a.State())
}

func TestMoveSucceedsOnArrival(t *testing.T) {
	ctrl := &stubController{havePos: true, pathOK: true}
	a := NewMove("agent-1", ctrl, geo.Position{X: 5, Z: 5}, nil)
	require.NoError(t, a.Transition(StateRunning))

	a.SetUp()
	require.Equal(t, StateRunning, a.State())

	a.Execute()
	assert.Equal(t, StateRunning, a.State(), "still pathing")

	ctrl.reached = true
	a.Execute()
	assert.Equal(t, StateSuccess, a.State())
}

func TestMoveTimeout(t *testing.T) {
	ctrl := &stubController{havePos: true, pathOK: true}
	a := NewMove("agent-1", ctrl, geo.Position{X: 5, Z: 5}, nil)
	now := time.Now().UTC()
	a.MarkScheduled(now)

	assert.False(t, a.TimedOut(now.Add(19*time.Second)))
	assert.True(t, a.TimedOut(now.Add(21*time.Second)))
}

func TestPlaceBlockResolvesInSetUp(t *testing.T) {
	a := NewPlaceBlock("agent-1", &stubController{}, geo.Position{X: 1, Y: 2, Z: 3}, "stone")
	require.NoError(t, a.Transition(StateRunning))
	a.SetUp()
	assert.Equal(t, StateSuccess, a.State())
}

func TestPlaceBlockFailsOnControllerError(t *testing.T) {
	a := NewPlaceBlock("agent-1", &stubController{placeErr: errors.New("occupied")}, geo.Position{}, "stone")
	require.NoError(t, a.Transition(StateRunning))
	a.SetUp()
	assert.Equal(t, StateFailure, a.State())
}

func TestChatSendsMessage(t *testing.T) {
	ctrl := &stubController{}
	a := NewChat("agent-1", ctrl, "hello")
	require.NoError(t, a.Transition(StateRunning))
	a.SetUp()
	assert.Equal(t, StateSuccess, a.State())
	assert.Equal(t, []string{"hello"}, ctrl.said)
}

func TestEndTurnSucceedsOnFirstPoll(t *testing.T) {
	a := NewEndTurn("agent-1")
	require.NoError(t, a.Transition(StateRunning))
	a.SetUp()
	require.Equal(t, StateRunning, a.State())
	a.Execute()
	assert.Equal(t, StateSuccess, a.State())
}
