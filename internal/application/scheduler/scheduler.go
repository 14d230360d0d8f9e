// Package scheduler polls in-flight autonomous actions on the main loop and
// reports completion or timeout to the owning controller.
package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/session-hub/session-hub/internal/domain/action"
	"github.com/session-hub/session-hub/internal/platform/mainloop"
)

// TickScheduler is the slice of the main loop the scheduler needs.
type TickScheduler interface {
	ScheduleRepeating(fn func(), delayTicks, intervalTicks int64) mainloop.TaskID
	Cancel(id mainloop.TaskID)
}

// Callback receives an action's terminal outcome. OnEnd fires for SUCCESS
// and FAILURE reached through SetUp or Execute; OnTimeout fires when the
// poll deadline forces FAILURE instead.
type Callback interface {
	OnEnd(a action.Action)
	OnTimeout(a action.Action)
}

// Scheduler drives action polling. It runs entirely on the main loop, so it
// holds no locks.
type Scheduler struct {
	loop   TickScheduler
	logger zerolog.Logger
	now    func() time.Time
	polls  map[action.Action]mainloop.TaskID
}

func New(loop TickScheduler, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		loop:   loop,
		logger: logger.With().Str("service", "action_scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		polls:  make(map[action.Action]mainloop.TaskID),
	}
}

// Schedule transitions the action to RUNNING, runs its set-up, and either
// reports a set-up-resolved action synchronously or registers a recurring
// poll. The first poll fires one base tick after scheduling; later polls
// follow the action's own interval.
func (s *Scheduler) Schedule(a action.Action, cb Callback) {
	if err := a.Transition(action.StateRunning); err != nil {
		// Scheduling a non-READY action is a programming error.
		s.logger.Panic().Err(err).Str("action", a.Name()).Str("state", string(a.State())).Msg("cannot schedule action")
	}
	a.MarkScheduled(s.now())
	a.SetUp()
	if a.State().Finished() {
		cb.OnEnd(a)
		return
	}

	interval := a.PollInterval()
	if interval < 1 {
		interval = 1
	}
	id := s.loop.ScheduleRepeating(func() { s.poll(a, cb) }, 1, interval)
	s.polls[a] = id
}

func (s *Scheduler) poll(a action.Action, cb Callback) {
	a.Execute()
	if a.State().Finished() {
		s.CancelAction(a)
		cb.OnEnd(a)
		return
	}
	if a.TimedOut(s.now()) {
		if err := a.Transition(action.StateFailure); err != nil {
			s.logger.Panic().Err(err).Str("action", a.Name()).Msg("cannot fail timed-out action")
		}
		s.CancelAction(a)
		s.logger.Warn().Str("action", a.Name()).Str("agent_key", a.AgentKey()).Msg("action timed out")
		cb.OnTimeout(a)
	}
}

// CancelAction removes the action's poll registration; a no-op when none
// exists.
func (s *Scheduler) CancelAction(a action.Action) {
	if id, ok := s.polls[a]; ok {
		s.loop.Cancel(id)
		delete(s.polls, a)
	}
}

// InFlight reports the number of actions with an active poll registration.
func (s *Scheduler) InFlight() int {
	return len(s.polls)
}
