// Package agent drives autonomous participants: a per-agent controller
// owning the FIFO action queue, and a manager that registers agents into
// sessions and routes inbound action requests.
package agent

import (
	"github.com/rs/zerolog"

	"github.com/session-hub/session-hub/internal/application/scheduler"
	"github.com/session-hub/session-hub/internal/domain/action"
	"github.com/session-hub/session-hub/internal/domain/event"
	"github.com/session-hub/session-hub/internal/domain/geo"
	"github.com/session-hub/session-hub/internal/domain/session"
	"github.com/session-hub/session-hub/internal/domain/turn"
)

// Directory is the slice of the registry a controller reads and updates.
type Directory interface {
	MovementConstraint(participantID string) *geo.Region
	SetLastPosition(participantID string, pos geo.Position)
	Engine(gameID string) (*turn.Engine, bool)
}

// ActionScheduler polls the controller's in-flight action.
type ActionScheduler interface {
	Schedule(a action.Action, cb scheduler.Callback)
	CancelAction(a action.Action)
}

// Controller executes one autonomous participant's actions strictly
// sequentially, in submission order, one in flight at a time.
type Controller struct {
	agentKey  string
	roleID    string
	cfg       *session.Config
	sched     ActionScheduler
	publisher turn.Publisher
	entities  action.EntityController
	directory Directory
	logger    zerolog.Logger

	queue     []action.Action
	accepting bool
}

func NewController(agentKey, roleID string, cfg *session.Config, sched ActionScheduler, publisher turn.Publisher, entities action.EntityController, directory Directory, logger zerolog.Logger) *Controller {
	return &Controller{
		agentKey:  agentKey,
		roleID:    roleID,
		cfg:       cfg,
		sched:     sched,
		publisher: publisher,
		entities:  entities,
		directory: directory,
		logger:    logger.With().Str("service", "agent_controller").Str("agent_key", agentKey).Str("game_id", cfg.GameID).Logger(),
		accepting: true,
	}
}

// Enqueue translates an inbound domain event into an action at the queue
// tail. Once an end-turn has been queued, further enqueues are dropped
// until the controller is re-armed at the agent's next turn.
func (c *Controller) Enqueue(ev event.Event) {
	if !c.accepting {
		c.logger.Warn().Str("event_type", string(ev.EventType())).Msg("agent ended its turn, dropping enqueue")
		return
	}
	var a action.Action
	switch e := ev.(type) {
	case *event.PlayerMove:
		a = action.NewMove(c.agentKey, c.entities, e.To, c.directory.MovementConstraint(c.agentKey))
	case *event.BlockPlace:
		a = action.NewPlaceBlock(c.agentKey, c.entities, e.Position, e.Material)
	case *event.BlockRemove:
		a = action.NewRemoveBlock(c.agentKey, c.entities, e.Position)
	case *event.PlayerChat:
		a = action.NewChat(c.agentKey, c.entities, e.Message)
	case *event.TurnChange:
		a = action.NewEndTurn(c.agentKey)
		c.accepting = false
	default:
		c.logger.Warn().Str("event_type", string(ev.EventType())).Msg("no action mapping for inbound event, dropping")
		return
	}
	c.queue = append(c.queue, a)
}

// Rearm re-opens the queue at the start of the agent's next turn and drains
// anything already waiting.
func (c *Controller) Rearm() {
	c.accepting = true
	c.MaybeScheduleNext()
}

// QueueLen reports the number of queued actions.
func (c *Controller) QueueLen() int { return len(c.queue) }

// Accepting reports whether new enqueues are currently admitted.
func (c *Controller) Accepting() bool { return c.accepting }

// MaybeScheduleNext dequeues spent head actions and hands a READY head to
// the scheduler. RUNNING or SUCCESS heads are left alone: the first is
// still in flight, the second is awaiting its completion callback.
func (c *Controller) MaybeScheduleNext() {
	if len(c.queue) == 0 {
		return
	}
	head := c.queue[0]
	if head.State() == action.StateEventProduced || head.State() == action.StateFailure {
		c.queue = c.queue[1:]
		if len(c.queue) == 0 {
			return
		}
		head = c.queue[0]
	}
	switch head.State() {
	case action.StateRunning, action.StateSuccess:
		return
	case action.StateReady:
		c.sched.Schedule(head, &completionCallback{c: c})
	}
}

// CancelInFlight cancels the head action's poll, used at deregistration.
func (c *Controller) CancelInFlight() {
	if len(c.queue) > 0 {
		c.sched.CancelAction(c.queue[0])
	}
}

// completionCallback publishes the result event for a finished action,
// moves it to EVENT_PRODUCED and keeps the queue draining.
type completionCallback struct {
	c *Controller
}

func (cb *completionCallback) OnEnd(a action.Action) {
	c := cb.c
	if a.State() == action.StateFailure {
		c.logger.Warn().Str("action", a.Name()).Msg("agent action failed")
		c.MaybeScheduleNext()
		return
	}

	c.publishResult(a)
	if err := a.Transition(action.StateEventProduced); err != nil {
		c.logger.Panic().Err(err).Str("action", a.Name()).Msg("cannot finalize completed action")
	}
	if _, ok := a.(*action.EndTurn); ok {
		if eng, found := c.directory.Engine(c.cfg.GameID); found {
			eng.TakeTurn(event.TurnReasonEndTurn)
		}
	}
	c.MaybeScheduleNext()
}

func (cb *completionCallback) OnTimeout(a action.Action) {
	cb.c.logger.Warn().Str("action", a.Name()).Msg("agent action timed out")
	cb.c.MaybeScheduleNext()
}

func (c *Controller) publishResult(a action.Action) {
	switch act := a.(type) {
	case *action.Move:
		c.directory.SetLastPosition(c.agentKey, act.Destination())
		c.publisher.Publish(c.cfg, c.roleID, event.PlayerMove{
			GameID:        c.cfg.GameID,
			ParticipantID: c.agentKey,
			RoleID:        c.roleID,
			From:          act.From(),
			To:            act.Destination(),
		})
	case *action.PlaceBlock:
		c.publisher.Publish(c.cfg, c.roleID, event.BlockPlace{
			GameID:        c.cfg.GameID,
			ParticipantID: c.agentKey,
			RoleID:        c.roleID,
			Position:      act.Position(),
			Material:      act.Material(),
		})
	case *action.RemoveBlock:
		c.publisher.Publish(c.cfg, c.roleID, event.BlockRemove{
			GameID:        c.cfg.GameID,
			ParticipantID: c.agentKey,
			RoleID:        c.roleID,
			Position:      act.Position(),
		})
	case *action.Chat:
		c.publisher.Publish(c.cfg, c.roleID, event.PlayerChat{
			GameID:        c.cfg.GameID,
			ParticipantID: c.agentKey,
			RoleID:        c.roleID,
			Message:       act.Message(),
		})
	case *action.EndTurn:
		// The turn engine publishes the turn-change event itself.
	}
}
