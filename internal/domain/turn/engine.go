// Package turn holds the per-session turn-rotation and completion state
// machine. An Engine has exactly two states, in-progress and completed; the
// completion reason is write-once and its presence is the terminal marker.
package turn

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/session-hub/session-hub/internal/domain/event"
	"github.com/session-hub/session-hub/internal/domain/session"
)

var (
	ErrUnknownRole = errors.New("turn: role not part of session")
	ErrRoleBound   = errors.New("turn: role already bound")
)

// Publisher queues an enriched session event for outbound delivery.
type Publisher interface {
	Publish(cfg *session.Config, roleID string, payload event.Event)
}

// Messenger delivers human-readable in-session text to one participant.
type Messenger interface {
	SendMessage(participantID, text string)
}

// Rearmer re-opens an autonomous participant's action queue at the start of
// its turn.
type Rearmer interface {
	Rearm(agentKey string)
}

// Teardown is the registry's session-wide teardown entry point, invoked
// exactly once per session from the completion path.
type Teardown interface {
	SessionEnds(cfg *session.Config, reason session.CompletionReason)
}

// Directory resolves participant configs for per-turn limits.
type Directory interface {
	ParticipantConfig(participantID string) (*session.ParticipantConfig, bool)
}

// Deps are the engine's outgoing edges. They are all satisfied by
// main-loop-owned components; the engine itself runs only on the main loop.
type Deps struct {
	Publisher Publisher
	Messenger Messenger
	Rearmer   Rearmer
	Teardown  Teardown
	Directory Directory
}

// Slot is one position in the session's fixed turn order. ParticipantID is
// empty while the role is unbound; unbound roles keep their position for
// offset bookkeeping but are skipped when resolving the active participant.
type Slot struct {
	RoleID        string
	ParticipantID string
}

// Engine rotates the active turn among a session's bound roles and owns
// session completion.
type Engine struct {
	cfg    *session.Config
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time

	slots         []Slot
	activeOffset  int
	turnsTaken    int
	startedAt     time.Time
	turnStartedAt time.Time
	completion    *session.CompletionReason
}

func NewEngine(cfg *session.Config, deps Deps, logger zerolog.Logger) *Engine {
	slots := make([]Slot, len(cfg.RoleIDs))
	for i, roleID := range cfg.RoleIDs {
		slots[i] = Slot{RoleID: roleID}
	}
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With().Str("service", "turn_engine").Str("game_id", cfg.GameID).Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		slots:  slots,
	}
}

// Start marks session begin and announces the first turn. Called by the
// registry when the first participant joins.
func (e *Engine) Start() {
	now := e.now()
	e.startedAt = now
	e.turnStartedAt = now
	next, ok := e.activeSlot()
	if !ok {
		return
	}
	e.deps.Publisher.Publish(e.cfg, next.RoleID, event.TurnChange{
		GameID:     e.cfg.GameID,
		NextRoleID: next.RoleID,
		Reason:     event.TurnReasonSessionStart,
		TurnCount:  e.turnsTaken,
	})
	e.notifyTurn(next)
}

// BindRole assigns a participant to a role slot.
func (e *Engine) BindRole(roleID, participantID string) error {
	for i := range e.slots {
		if e.slots[i].RoleID != roleID {
			continue
		}
		if e.slots[i].ParticipantID != "" && e.slots[i].ParticipantID != participantID {
			return fmt.Errorf("%w: %s", ErrRoleBound, roleID)
		}
		e.slots[i].ParticipantID = participantID
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownRole, roleID)
}

// UnbindParticipant releases the participant's role. The offset is
// renormalized against the shrunken bound order so the currently active
// participant stays active rather than silently shifting: the raw counter
// collapses to the active index, minus one when the removed role sat at or
// before it.
func (e *Engine) UnbindParticipant(participantID string) {
	bound := e.boundSlots()
	boundIdx := -1
	for i, s := range bound {
		if s.ParticipantID == participantID {
			boundIdx = i
			break
		}
	}
	for i := range e.slots {
		if e.slots[i].ParticipantID == participantID {
			e.slots[i].ParticipantID = ""
		}
	}
	if boundIdx < 0 {
		return
	}
	activeIdx := e.activeOffset % len(bound)
	if activeIdx < 0 {
		activeIdx += len(bound)
	}
	if boundIdx <= activeIdx {
		activeIdx--
		if activeIdx < 0 {
			activeIdx = 0
		}
	}
	e.activeOffset = activeIdx
}

func (e *Engine) boundSlots() []Slot {
	var bound []Slot
	for _, s := range e.slots {
		if s.ParticipantID != "" {
			bound = append(bound, s)
		}
	}
	return bound
}

func (e *Engine) activeSlot() (Slot, bool) {
	bound := e.boundSlots()
	if len(bound) == 0 {
		return Slot{}, false
	}
	idx := e.activeOffset % len(bound)
	if idx < 0 {
		idx += len(bound)
	}
	return bound[idx], true
}

// ActiveSlot resolves the currently active role against the bound subset.
func (e *Engine) ActiveSlot() (Slot, bool) { return e.activeSlot() }

// ActiveOffset exposes the raw offset counter.
func (e *Engine) ActiveOffset() int { return e.activeOffset }

// TurnsTaken reports the number of completed turns.
func (e *Engine) TurnsTaken() int { return e.turnsTaken }

// Completed reports the terminal state and its reason.
func (e *Engine) Completed() (session.CompletionReason, bool) {
	if e.completion == nil {
		return "", false
	}
	return *e.completion, true
}

// TakeTurn hands the active turn to the next bound role. When the max-turn
// limit has been reached it completes the session first, then still
// advances the turn bookkeeping so the next-turn fields stay consistent on
// the completed session.
func (e *Engine) TakeTurn(reason string) {
	if reason, done := e.Completed(); done {
		e.logger.Warn().Str("completion_reason", string(reason)).Msg("takeTurn on completed session ignored")
		return
	}
	if e.cfg.MaxTurns > 0 && e.turnsTaken >= e.cfg.MaxTurns {
		e.EndSessionAndNotify("", session.CompletionMaxTurns)
		e.advanceBookkeeping()
		return
	}

	prev, _ := e.activeSlot()
	e.advanceBookkeeping()
	next, ok := e.activeSlot()
	if !ok {
		return
	}
	if e.cfg.HasAgent(next.ParticipantID) {
		e.deps.Rearmer.Rearm(next.ParticipantID)
	}
	e.deps.Publisher.Publish(e.cfg, next.RoleID, event.TurnChange{
		GameID:         e.cfg.GameID,
		PreviousRoleID: prev.RoleID,
		NextRoleID:     next.RoleID,
		Reason:         reason,
		TurnCount:      e.turnsTaken,
	})
	e.notifyTurn(next)
}

func (e *Engine) advanceBookkeeping() {
	e.turnsTaken++
	e.activeOffset++
	e.turnStartedAt = e.now()
}

func (e *Engine) notifyTurn(active Slot) {
	text := fmt.Sprintf("It is now %s's turn.", active.RoleID)
	for _, s := range e.boundSlots() {
		if e.cfg.HasAgent(s.ParticipantID) {
			continue
		}
		e.deps.Messenger.SendMessage(s.ParticipantID, text)
	}
}

// EndTurnIfOverMaxTime is a periodic check: when the active participant's
// per-turn limit has elapsed, the turn is forced over with a timeout
// reason.
func (e *Engine) EndTurnIfOverMaxTime() {
	if _, done := e.Completed(); done {
		return
	}
	active, ok := e.activeSlot()
	if !ok {
		return
	}
	pc, ok := e.deps.Directory.ParticipantConfig(active.ParticipantID)
	if !ok || pc.TurnLimit <= 0 {
		return
	}
	if e.now().Sub(e.turnStartedAt) <= pc.TurnLimit {
		return
	}
	e.logger.Info().Str("participant_id", active.ParticipantID).Str("role_id", active.RoleID).Msg("turn time limit reached, forcing end of turn")
	if !e.cfg.HasAgent(active.ParticipantID) {
		e.deps.Messenger.SendMessage(active.ParticipantID, "Your turn timed out.")
	}
	e.TakeTurn(event.TurnReasonTimeout)
}

// EndSessionIfOverMaxTime is a periodic check against the session's
// max-duration limit.
func (e *Engine) EndSessionIfOverMaxTime() {
	if _, done := e.Completed(); done {
		return
	}
	if e.cfg.MaxDuration <= 0 || e.startedAt.IsZero() {
		return
	}
	if e.now().Sub(e.startedAt) <= e.cfg.MaxDuration {
		return
	}
	e.logger.Info().Msg("session time limit reached, completing session")
	e.EndSessionAndNotify("", session.CompletionTimedOut)
}

// EndSessionAndNotify completes the session once. The first reason wins;
// later calls warn and change nothing, performing no notification and no
// second teardown. Each bound participant receives the completion message
// and a confirmation code for their own role, then teardown is delegated to
// the registry.
func (e *Engine) EndSessionAndNotify(causingParticipantID string, reason session.CompletionReason) {
	if existing, done := e.Completed(); done {
		e.logger.Warn().Str("existing_reason", string(existing)).Str("ignored_reason", string(reason)).Msg("session already completed, ignoring completion attempt")
		return
	}
	e.completion = &reason
	e.logger.Info().Str("reason", string(reason)).Str("participant_id", causingParticipantID).Msg("session completed")

	for _, s := range e.boundSlots() {
		if e.cfg.HasAgent(s.ParticipantID) {
			// Agents observe completion through the event stream.
			continue
		}
		e.deps.Messenger.SendMessage(s.ParticipantID, session.EndMessage(reason))
		code, err := session.ConfirmationCode(e.cfg, s.RoleID, "")
		if err != nil {
			e.logger.Fatal().Err(err).Str("role_id", s.RoleID).Msg("confirmation code exceeds size limit")
		}
		e.deps.Messenger.SendMessage(s.ParticipantID, "Confirmation code: "+code)
	}

	e.deps.Teardown.SessionEnds(e.cfg, reason)
}
