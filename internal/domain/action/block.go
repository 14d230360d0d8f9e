package action

import (
	"time"

	"github.com/session-hub/session-hub/internal/domain/geo"
)

const blockTimeout = 5 * time.Second

// PlaceBlock puts a block into the world at set-up time; the world edit is
// synchronous, so the action resolves inside SetUp.
type PlaceBlock struct {
	Base
	ctrl     EntityController
	pos      geo.Position
	material string
}

func NewPlaceBlock(agentKey string, ctrl EntityController, pos geo.Position, material string) *PlaceBlock {
	return &PlaceBlock{
		Base:     NewBase(agentKey),
		ctrl:     ctrl,
		pos:      pos,
		material: material,
	}
}

func (a *PlaceBlock) Name() string { return "place_block" }

func (a *PlaceBlock) SetUp() {
	if err := a.ctrl.PlaceBlock(a.AgentKey(), a.pos, a.material); err != nil {
		a.fail()
		return
	}
	a.succeed()
}

func (a *PlaceBlock) Execute()            {}
func (a *PlaceBlock) PollInterval() int64 { return 1 }

func (a *PlaceBlock) TimedOut(now time.Time) bool {
	return a.elapsedSince(now) > blockTimeout
}

func (a *PlaceBlock) Position() geo.Position { return a.pos }
func (a *PlaceBlock) Material() string       { return a.material }

// RemoveBlock clears a block from the world at set-up time.
type RemoveBlock struct {
	Base
	ctrl EntityController
	pos  geo.Position
}

func NewRemoveBlock(agentKey string, ctrl EntityController, pos geo.Position) *RemoveBlock {
	return &RemoveBlock{
		Base: NewBase(agentKey),
		ctrl: ctrl,
		pos:  pos,
	}
}

func (a *RemoveBlock) Name() string { return "remove_block" }

func (a *RemoveBlock) SetUp() {
	if err := a.ctrl.RemoveBlock(a.AgentKey(), a.pos); err != nil {
		a.fail()
		return
	}
	a.succeed()
}

func (a *RemoveBlock) Execute()            {}
func (a *RemoveBlock) PollInterval() int64 { return 1 }

func (a *RemoveBlock) TimedOut(now time.Time) bool {
	return a.elapsedSince(now) > blockTimeout
}

func (a *RemoveBlock) Position() geo.Position { return a.pos }
