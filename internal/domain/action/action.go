package action

import (
	"errors"
	"time"

	"github.com/session-hub/session-hub/internal/domain/geo"
)

// State represents the lifecycle state of an autonomous action
type State string

const (
	StateReady         State = "READY"
	StateRunning       State = "RUNNING"
	StateSuccess       State = "SUCCESS"
	StateFailure       State = "FAILURE"
	StateEventProduced State = "EVENT_PRODUCED"
)

// ErrInvalidTransition marks an illegal state transition. It is a
// programming error: callers on the happy path never see it and do not
// recover from it.
var ErrInvalidTransition = errors.New("invalid action state transition")

var transitions = map[State][]State{
	StateReady:         {StateRunning},
	StateRunning:       {StateSuccess, StateFailure},
	StateSuccess:       {StateEventProduced},
	StateFailure:       {},
	StateEventProduced: {},
}

// CanTransitionTo checks if a transition to the target state is valid
func (s State) CanTransitionTo(target State) bool {
	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	for _, t := range allowed {
		if t == target {
			return true
		}
	}
	return false
}

// Finished reports whether the state is one the scheduler stops polling at.
// EVENT_PRODUCED is reached synchronously inside the completion callback
// and is deliberately not part of the finish test.
func (s State) Finished() bool {
	return s == StateSuccess || s == StateFailure
}

// Action is one unit of deferred autonomous work with an explicit
// lifecycle. SetUp runs once at scheduling time and may itself finish the
// action; Execute runs on every poll while RUNNING.
type Action interface {
	AgentKey() string
	State() State
	Transition(target State) error
	CreatedAt() time.Time
	// MarkScheduled records the instant timeout measurement starts from.
	MarkScheduled(now time.Time)
	SetUp()
	Execute()
	// PollInterval is the tick spacing between Execute calls.
	PollInterval() int64
	// TimedOut is evaluated on each poll against the scheduling time.
	TimedOut(now time.Time) bool
	// Name identifies the action type in logs.
	Name() string
}

// EntityController manipulates the world-side entity of an autonomous
// participant. It is an external collaborator; implementations must not be
// called off the main loop.
type EntityController interface {
	Position(agentKey string) (geo.Position, bool)
	// StartPath begins pathing toward dest. It returns false when no path
	// exists, which fails the action at set-up time.
	StartPath(agentKey string, dest geo.Position) bool
	ReachedDestination(agentKey string, dest geo.Position) bool
	PlaceBlock(agentKey string, pos geo.Position, material string) error
	RemoveBlock(agentKey string, pos geo.Position) error
	Say(agentKey, message string) error
}

// Base carries the state and bookkeeping shared by every action type.
type Base struct {
	agentKey    string
	state       State
	createdAt   time.Time
	scheduledAt time.Time
}

func NewBase(agentKey string) Base {
	return Base{
		agentKey:  agentKey,
		state:     StateReady,
		createdAt: time.Now().UTC(),
	}
}

func (b *Base) AgentKey() string     { return b.agentKey }
func (b *Base) State() State         { return b.state }
func (b *Base) CreatedAt() time.Time { return b.createdAt }

func (b *Base) MarkScheduled(now time.Time) { b.scheduledAt = now }

// ScheduledAt is the zero time until MarkScheduled is called.
func (b *Base) ScheduledAt() time.Time { return b.scheduledAt }

func (b *Base) Transition(target State) error {
	if !b.state.CanTransitionTo(target) {
		return ErrInvalidTransition
	}
	b.state = target
	return nil
}

// succeed and fail are for concrete action types resolving themselves from
// RUNNING (or READY at set-up time, passing through RUNNING first).
func (b *Base) succeed() {
	if b.state == StateReady {
		b.state = StateRunning
	}
	b.state = StateSuccess
}

func (b *Base) fail() {
	if b.state == StateReady {
		b.state = StateRunning
	}
	b.state = StateFailure
}

func (b *Base) elapsedSince(now time.Time) time.Duration {
	if b.scheduledAt.IsZero() {
		return 0
	}
	return now.Sub(b.scheduledAt)
}
