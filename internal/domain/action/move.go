package action

import (
	"time"

	"github.com/session-hub/session-hub/internal/domain/geo"
)

const (
	movePollIntervalTicks = 20
	moveTimeout           = 20 * time.Second
)

// Move walks an autonomous participant's entity to a destination. Set-up
// validates the destination against the participant's movement region and
// starts pathing; each poll checks arrival.
type Move struct {
	Base
	ctrl       EntityController
	dest       geo.Position
	constraint *geo.Region
	from       geo.Position
}

func NewMove(agentKey string, ctrl EntityController, dest geo.Position, constraint *geo.Region) *Move {
	return &Move{
		Base:       NewBase(agentKey),
		ctrl:       ctrl,
		dest:       dest,
		constraint: constraint,
	}
}

func (a *Move) Name() string { return "move" }

func (a *Move) SetUp() {
	if a.constraint != nil && !a.constraint.ContainsXZ(a.dest) {
		a.fail()
		return
	}
	pos, ok := a.ctrl.Position(a.AgentKey())
	if !ok {
		a.fail()
		return
	}
	a.from = pos
	if !a.ctrl.StartPath(a.AgentKey(), a.dest) {
		a.fail()
	}
}

func (a *Move) Execute() {
	if a.ctrl.ReachedDestination(a.AgentKey(), a.dest) {
		a.succeed()
	}
}

func (a *Move) PollInterval() int64 { return movePollIntervalTicks }

func (a *Move) TimedOut(now time.Time) bool {
	return a.elapsedSince(now) > moveTimeout
}

// From is the entity position captured at set-up, for the result event.
func (a *Move) From() geo.Position { return a.from }

func (a *Move) Destination() geo.Position { return a.dest }
