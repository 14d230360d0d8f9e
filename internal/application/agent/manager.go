package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/session-hub/session-hub/internal/application/registry"
	"github.com/session-hub/session-hub/internal/domain/action"
	"github.com/session-hub/session-hub/internal/domain/event"
	"github.com/session-hub/session-hub/internal/domain/geo"
	"github.com/session-hub/session-hub/internal/domain/session"
	"github.com/session-hub/session-hub/internal/domain/turn"
	"github.com/session-hub/session-hub/internal/infrastructure/records"
	"github.com/session-hub/session-hub/internal/platform/mainloop"
)

// Spawner creates and removes world entities for autonomous participants.
type Spawner interface {
	Spawn(agentKey string, at geo.Position)
	Despawn(agentKey string)
}

// EntityBackend is the full world-side surface an agent needs.
type EntityBackend interface {
	action.EntityController
	Spawner
}

// RecordLoader reads records from the KV directory.
type RecordLoader interface {
	LoadRecord(ctx context.Context, rec records.Record) (bool, error)
}

// ReadyQueue receives agent-ready announcements for pairing.
type ReadyQueue interface {
	RegisterReady(typeID, instanceID string, maxSessions int)
}

// DeriveAgentKey is the deterministic participant key for an agent bound to
// a role: both the pairing side and the inbound router derive the same key
// without coordination.
func DeriveAgentKey(gameID, roleID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("agent:"+gameID+":"+roleID)).String()
}

// Manager owns the per-agent controllers, spawns agents into sessions and
// routes inbound agent traffic. All methods run on the main loop.
type Manager struct {
	loop      *mainloop.Loop
	reg       *registry.Registry
	store     RecordLoader
	sched     ActionScheduler
	publisher turn.Publisher
	entities  EntityBackend
	ready     ReadyQueue
	logger    zerolog.Logger

	controllers map[string]*Controller
}

func NewManager(loop *mainloop.Loop, reg *registry.Registry, store RecordLoader, sched ActionScheduler, publisher turn.Publisher, entities EntityBackend, ready ReadyQueue, logger zerolog.Logger) *Manager {
	return &Manager{
		loop:        loop,
		reg:         reg,
		store:       store,
		sched:       sched,
		publisher:   publisher,
		entities:    entities,
		ready:       ready,
		logger:      logger.With().Str("service", "agent_manager").Logger(),
		controllers: make(map[string]*Controller),
	}
}

// Register spawns an agent into a session. Configs not already in memory
// are fetched from the KV directory off-loop; registration completes on a
// later tick.
func (m *Manager) Register(gameID, agentKey string) {
	if _, ok := m.controllers[agentKey]; ok {
		m.logger.Warn().Str("agent_key", agentKey).Str("game_id", gameID).Msg("agent already registered")
		return
	}

	if cfg, ok := m.reg.SessionConfig(gameID); ok {
		if pc, found := m.reg.ParticipantConfig(agentKey); found {
			m.finishRegister(cfg, pc, agentKey)
			return
		}
	}

	m.loop.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		gameRec := &records.GameConfigRecord{Config: session.Config{GameID: gameID}}
		foundGame, gameErr := m.store.LoadRecord(ctx, gameRec)
		playerRec := &records.PlayerConfigRecord{Config: session.ParticipantConfig{GameID: gameID, ParticipantID: agentKey}}
		foundPlayer, playerErr := m.store.LoadRecord(ctx, playerRec)
		return func() {
			if gameErr != nil || playerErr != nil {
				m.logger.Error().AnErr("game_err", gameErr).AnErr("player_err", playerErr).Str("agent_key", agentKey).Str("game_id", gameID).Msg("failed to load agent records")
				return
			}
			if !foundGame || !foundPlayer {
				m.logger.Warn().Str("agent_key", agentKey).Str("game_id", gameID).Bool("game_found", foundGame).Bool("player_found", foundPlayer).Msg("agent records absent, cannot register")
				return
			}
			cfg, ok := m.reg.SessionConfig(gameID)
			if !ok {
				cfg = &gameRec.Config
			}
			m.finishRegister(cfg, &playerRec.Config, agentKey)
		}
	})
}

// RegisterAgent spawns an agent whose configs are already in hand, skipping
// the KV directory round-trip. Pairing uses this at session start, before
// the records have necessarily been persisted.
func (m *Manager) RegisterAgent(cfg *session.Config, pc *session.ParticipantConfig) {
	if _, ok := m.controllers[pc.ParticipantID]; ok {
		m.logger.Warn().Str("agent_key", pc.ParticipantID).Str("game_id", cfg.GameID).Msg("agent already registered")
		return
	}
	m.finishRegister(cfg, pc, pc.ParticipantID)
}

func (m *Manager) finishRegister(cfg *session.Config, pc *session.ParticipantConfig, agentKey string) {
	if _, ok := m.controllers[agentKey]; ok {
		return
	}
	spawn := spawnPosition(pc)
	m.entities.Spawn(agentKey, spawn)
	m.reg.ParticipantJoins(agentKey, cfg, pc, spawn)
	m.controllers[agentKey] = NewController(agentKey, pc.RoleID, cfg, m.sched, m.publisher, m.entities, m.reg, m.logger)
	m.logger.Info().Str("agent_key", agentKey).Str("game_id", cfg.GameID).Str("role_id", pc.RoleID).Msg("agent registered")
}

// spawnPosition drops the agent at the center of its movement region, or at
// the origin when unconstrained.
func spawnPosition(pc *session.ParticipantConfig) geo.Position {
	if r := pc.MovementRegion; r != nil {
		return geo.Position{
			X: (r.Min.X + r.Max.X) / 2,
			Y: r.Max.Y,
			Z: (r.Min.Z + r.Max.Z) / 2,
		}
	}
	return geo.Position{}
}

// Deregister cancels any in-flight action, despawns the entity and removes
// the agent from the session.
func (m *Manager) Deregister(agentKey string) {
	ctrl, ok := m.controllers[agentKey]
	if !ok {
		return
	}
	ctrl.CancelInFlight()
	m.entities.Despawn(agentKey)
	m.reg.ParticipantLeaves(agentKey)
	delete(m.controllers, agentKey)
	m.logger.Info().Str("agent_key", agentKey).Msg("agent deregistered")
}

// Rearm implements the registry's AgentManager hook for turn starts.
func (m *Manager) Rearm(agentKey string) {
	if ctrl, ok := m.controllers[agentKey]; ok {
		ctrl.Rearm()
	}
}

// Controller exposes a registered controller, mainly for tests and the
// operator API.
func (m *Manager) Controller(agentKey string) (*Controller, bool) {
	ctrl, ok := m.controllers[agentKey]
	return ctrl, ok
}

// HandleInbound routes one decoded inbound event. Agent-ready announcements
// feed the pairing queue; agent action requests are enqueued on the owning
// controller, but only while it is that agent's turn.
func (m *Manager) HandleInbound(meta event.Meta, ev event.Event) {
	if ready, ok := ev.(*event.AgentReady); ok {
		m.ready.RegisterReady(ready.AgentTypeID, ready.AgentInstanceID, ready.MaxSessions)
		return
	}
	if meta.Source != event.SourceAgent {
		return
	}

	agentKey := DeriveAgentKey(meta.GameID, meta.RoleID)
	ctrl, ok := m.controllers[agentKey]
	if !ok {
		m.logger.Warn().Str("agent_key", agentKey).Str("game_id", meta.GameID).Msg("action request for unregistered agent, registering")
		m.Register(meta.GameID, agentKey)
		return
	}

	eng, ok := m.reg.Engine(meta.GameID)
	if !ok {
		m.logger.Warn().Str("game_id", meta.GameID).Msg("action request for unknown session, dropping")
		return
	}
	active, ok := eng.ActiveSlot()
	if !ok || active.ParticipantID != agentKey {
		m.logger.Warn().Str("agent_key", agentKey).Str("game_id", meta.GameID).Str("event_type", string(meta.EventType)).Msg("action request outside agent's turn, dropping")
		return
	}

	ctrl.Enqueue(ev)
	ctrl.MaybeScheduleNext()
}
