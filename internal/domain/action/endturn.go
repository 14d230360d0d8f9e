package action

import "time"

const endTurnTimeout = 10 * time.Second

// EndTurn sits at the tail of an agent's queue and succeeds on its first
// poll. Its completion callback is what actually advances the turn; the
// action only marks the point in the queue past which no further work may
// run this turn.
type EndTurn struct {
	Base
}

func NewEndTurn(agentKey string) *EndTurn {
	return &EndTurn{Base: NewBase(agentKey)}
}

func (a *EndTurn) Name() string { return "end_turn" }

func (a *EndTurn) SetUp() {}

func (a *EndTurn) Execute() { a.succeed() }

// PollInterval of zero asks the scheduler for the soonest possible poll.
func (a *EndTurn) PollInterval() int64 { return 0 }

func (a *EndTurn) TimedOut(now time.Time) bool {
	return a.elapsedSince(now) > endTurnTimeout
}
