// Package registry is the process-wide directory of live sessions and
// participants. All of its maps are mutated only on the main loop, which is
// the single-writer discipline that lets it go lock-free.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"

	"github.com/session-hub/session-hub/internal/domain/event"
	"github.com/session-hub/session-hub/internal/domain/geo"
	"github.com/session-hub/session-hub/internal/domain/session"
	"github.com/session-hub/session-hub/internal/domain/turn"
	"github.com/session-hub/session-hub/internal/infrastructure/records"
	"github.com/session-hub/session-hub/internal/platform/mainloop"
)

// AgentManager is the slice of the agent subsystem the registry drives
// during turn changes and teardown.
type AgentManager interface {
	Rearm(agentKey string)
	Deregister(agentKey string)
}

// Relocator moves a human participant out of a session's world.
type Relocator interface {
	MoveToLobby(participantID string)
}

// MetadataClient persists session outcomes to the remote metadata service.
type MetadataClient interface {
	UpdateSessionCompletion(ctx context.Context, gameID string, reason session.CompletionReason) error
}

// RecordStore deletes session-scoped records from the KV directory.
type RecordStore interface {
	DeleteRecord(ctx context.Context, rec records.Record) error
}

// Options tunes the registry.
type Options struct {
	// CleanupDelay is how long after completion session state is kept so
	// the downstream pipeline can ingest the terminal events. Default 10s.
	CleanupDelay time.Duration
	// HashSalt salts the participant id hashes carried in join/leave
	// events.
	HashSalt string
}

// Registry owns the in-memory session directory and the per-session turn
// engines.
type Registry struct {
	loop      *mainloop.Loop
	publisher turn.Publisher
	messenger turn.Messenger
	store     RecordStore
	metadata  MetadataClient
	relocator Relocator
	agents    AgentManager
	logger    zerolog.Logger

	cleanupDelay time.Duration
	hashSalt     string

	participants  map[string]*session.ParticipantConfig
	sessions      map[string]*session.Config
	engines       map[string]*turn.Engine
	constraints   map[string]*geo.Region
	lastPositions map[string]geo.Position
	tearingDown   map[string]bool
}

func New(loop *mainloop.Loop, publisher turn.Publisher, messenger turn.Messenger, store RecordStore, metadata MetadataClient, relocator Relocator, opts Options, logger zerolog.Logger) *Registry {
	if opts.CleanupDelay <= 0 {
		opts.CleanupDelay = 10 * time.Second
	}
	return &Registry{
		loop:          loop,
		publisher:     publisher,
		messenger:     messenger,
		store:         store,
		metadata:      metadata,
		relocator:     relocator,
		logger:        logger.With().Str("service", "participant_registry").Logger(),
		cleanupDelay:  opts.CleanupDelay,
		hashSalt:      opts.HashSalt,
		participants:  make(map[string]*session.ParticipantConfig),
		sessions:      make(map[string]*session.Config),
		engines:       make(map[string]*turn.Engine),
		constraints:   make(map[string]*geo.Region),
		lastPositions: make(map[string]geo.Position),
		tearingDown:   make(map[string]bool),
	}
}

// SetAgentManager wires the agent subsystem in after construction; the two
// components reference each other.
func (r *Registry) SetAgentManager(agents AgentManager) { r.agents = agents }

// ParticipantJoins registers a participant, binding them to their role. A
// second join for the same participant warns and changes nothing. The first
// joiner starts the session's turn engine.
func (r *Registry) ParticipantJoins(participantID string, cfg *session.Config, pc *session.ParticipantConfig, initialPosition geo.Position) {
	if _, exists := r.participants[participantID]; exists {
		r.logger.Warn().Str("participant_id", participantID).Str("game_id", cfg.GameID).Msg("participant already registered, ignoring join")
		return
	}

	firstJoiner := false
	eng, ok := r.engines[cfg.GameID]
	if !ok {
		eng = turn.NewEngine(cfg, turn.Deps{
			Publisher: r.publisher,
			Messenger: r.messenger,
			Rearmer:   r.agents,
			Teardown:  r,
			Directory: r,
		}, r.logger)
		r.engines[cfg.GameID] = eng
		r.sessions[cfg.GameID] = cfg
		firstJoiner = true
	}

	if err := eng.BindRole(pc.RoleID, participantID); err != nil {
		r.logger.Error().Err(err).Str("participant_id", participantID).Str("role_id", pc.RoleID).Str("game_id", cfg.GameID).Msg("cannot bind participant to role")
		return
	}

	r.participants[participantID] = pc
	r.constraints[participantID] = pc.MovementRegion
	r.lastPositions[participantID] = initialPosition

	r.publisher.Publish(cfg, pc.RoleID, event.PlayerJoin{
		GameID:              cfg.GameID,
		HashedParticipantID: r.HashParticipantID(participantID),
		RoleID:              pc.RoleID,
		Spawn:               initialPosition,
	})
	r.logger.Info().Str("participant_id", participantID).Str("game_id", cfg.GameID).Str("role_id", pc.RoleID).Msg("participant joined")

	if firstJoiner {
		eng.Start()
	}
}

// ParticipantLeaves unbinds the participant's role and drops their
// ephemeral state. Leaving never auto-advances the turn: if the active
// participant leaves, the turn stays theirs until a timeout or completion
// check moves it along. A human leaving a live session abandons it: the
// session completes with the player-left reason and tears down.
func (r *Registry) ParticipantLeaves(participantID string) {
	pc, exists := r.participants[participantID]
	if !exists {
		r.logger.Warn().Str("participant_id", participantID).Msg("unknown participant leaving, ignoring")
		return
	}
	cfg := r.sessions[pc.GameID]
	if eng, ok := r.engines[pc.GameID]; ok {
		eng.UnbindParticipant(participantID)
	}
	if cfg != nil {
		r.publisher.Publish(cfg, pc.RoleID, event.PlayerLeave{
			GameID:              cfg.GameID,
			HashedParticipantID: r.HashParticipantID(participantID),
			RoleID:              pc.RoleID,
		})
	}
	r.dropParticipant(participantID)
	r.logger.Info().Str("participant_id", participantID).Str("game_id", pc.GameID).Msg("participant left")

	if cfg != nil && !cfg.HasAgent(participantID) && !r.tearingDown[cfg.GameID] {
		if eng, ok := r.engines[cfg.GameID]; ok {
			r.logger.Info().Str("participant_id", participantID).Str("game_id", cfg.GameID).Msg("human left a live session, completing it")
			eng.EndSessionAndNotify(participantID, session.CompletionAbandoned)
		}
	}
}

func (r *Registry) dropParticipant(participantID string) {
	delete(r.participants, participantID)
	delete(r.constraints, participantID)
	delete(r.lastPositions, participantID)
}

// SessionEnds is the single teardown entry point, reached through the turn
// engine's guarded completion. It redirects humans, deregisters agents,
// publishes the task-completed event, persists the outcome off-loop and
// schedules the delayed cleanup.
func (r *Registry) SessionEnds(cfg *session.Config, reason session.CompletionReason) {
	if r.tearingDown[cfg.GameID] {
		r.logger.Warn().Str("game_id", cfg.GameID).Msg("session already tearing down, ignoring")
		return
	}
	r.tearingDown[cfg.GameID] = true

	for _, pid := range cfg.HumanIDs {
		if _, ok := r.participants[pid]; ok {
			r.relocator.MoveToLobby(pid)
		}
	}
	for _, key := range cfg.AgentKeys {
		r.agents.Deregister(key)
	}

	r.publisher.Publish(cfg, "", event.TaskCompleted{GameID: cfg.GameID, Reason: string(reason)})

	gameID := cfg.GameID
	r.loop.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := r.metadata.UpdateSessionCompletion(ctx, gameID, reason)
		return func() {
			if err != nil {
				r.logger.Error().Err(err).Str("game_id", gameID).Msg("failed to persist session completion")
			}
		}
	})

	r.loop.ScheduleOnce(func() { r.cleanupSession(cfg, reason) }, r.loop.DurationToTicks(r.cleanupDelay))
	r.logger.Info().Str("game_id", cfg.GameID).Str("reason", string(reason)).Dur("cleanup_delay", r.cleanupDelay).Msg("session teardown started")
}

// cleanupSession reclaims everything session-scoped: KV records, registry
// entries and the turn engine, then emits the final session-ended event.
func (r *Registry) cleanupSession(cfg *session.Config, reason session.CompletionReason) {
	recs := []records.Record{&records.GameConfigRecord{Config: *cfg}}
	for pid, pc := range r.participants {
		if pc.GameID != cfg.GameID {
			continue
		}
		recs = append(recs, &records.PlayerConfigRecord{Config: *pc})
		r.dropParticipant(pid)
	}
	delete(r.engines, cfg.GameID)
	delete(r.sessions, cfg.GameID)
	delete(r.tearingDown, cfg.GameID)

	r.loop.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var firstErr error
		for _, rec := range recs {
			if err := r.store.DeleteRecord(ctx, rec); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return func() {
			if firstErr != nil {
				r.logger.Warn().Err(firstErr).Str("game_id", cfg.GameID).Msg("failed to delete session records")
			}
		}
	})

	r.publisher.Publish(cfg, "", event.SessionEnded{GameID: cfg.GameID, Reason: string(reason)})
	r.logger.Info().Str("game_id", cfg.GameID).Msg("session cleaned up")
}

// CheckTimeLimits runs the periodic turn and session time checks for every
// live session. Registered on the main loop at a fixed interval.
func (r *Registry) CheckTimeLimits() {
	for gameID, eng := range r.engines {
		if r.tearingDown[gameID] {
			continue
		}
		eng.EndTurnIfOverMaxTime()
		eng.EndSessionIfOverMaxTime()
	}
}

// ParticipantConfig implements turn.Directory.
func (r *Registry) ParticipantConfig(participantID string) (*session.ParticipantConfig, bool) {
	pc, ok := r.participants[participantID]
	return pc, ok
}

// SessionConfig looks up a live session by game id.
func (r *Registry) SessionConfig(gameID string) (*session.Config, bool) {
	cfg, ok := r.sessions[gameID]
	return cfg, ok
}

// Engine looks up a session's turn engine.
func (r *Registry) Engine(gameID string) (*turn.Engine, bool) {
	eng, ok := r.engines[gameID]
	return eng, ok
}

// MovementConstraint is the participant's cached movement region, nil when
// unconstrained.
func (r *Registry) MovementConstraint(participantID string) *geo.Region {
	return r.constraints[participantID]
}

// LastPosition is the participant's last known world position.
func (r *Registry) LastPosition(participantID string) (geo.Position, bool) {
	pos, ok := r.lastPositions[participantID]
	return pos, ok
}

// SetLastPosition caches a participant's position as movement events flow
// through.
func (r *Registry) SetLastPosition(participantID string, pos geo.Position) {
	if _, ok := r.participants[participantID]; ok {
		r.lastPositions[participantID] = pos
	}
}

// GameIDs lists the live sessions.
func (r *Registry) GameIDs() []string {
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// HashParticipantID salts and hashes a participant id for event payloads,
// so raw platform identities never leave the process.
func (r *Registry) HashParticipantID(participantID string) string {
	sum := sha256.Sum256([]byte(participantID + r.hashSalt))
	return hex.EncodeToString(sum[:])
}
