// Package pairing matches waiting autonomous agent instances with human
// join requests and bootstraps the resulting sessions.
package pairing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/session-hub/session-hub/internal/application/agent"
	"github.com/session-hub/session-hub/internal/application/registry"
	"github.com/session-hub/session-hub/internal/domain/geo"
	"github.com/session-hub/session-hub/internal/domain/session"
	"github.com/session-hub/session-hub/internal/domain/turn"
	"github.com/session-hub/session-hub/internal/infrastructure/records"
	"github.com/session-hub/session-hub/internal/infrastructure/serviceapi"
	"github.com/session-hub/session-hub/internal/platform/mainloop"
)

// MetadataClient is the slice of the metadata service pairing validates
// and creates sessions through.
type MetadataClient interface {
	GetTournament(ctx context.Context, id string) (*serviceapi.Tournament, error)
	GetChallenge(ctx context.Context, id string) (*serviceapi.Challenge, error)
	GetTask(ctx context.Context, id string) (*serviceapi.Task, error)
	CreateSession(ctx context.Context, req serviceapi.CreateSessionRequest) (string, error)
}

// RecordSaver persists session and participant records to the KV
// directory.
type RecordSaver interface {
	SaveRecord(ctx context.Context, rec records.Record) error
}

// Relocator moves a human participant into a session's world.
type Relocator interface {
	MoveToSession(participantID, gameID string)
}

// AgentRegistrar spawns a matched agent into its new session. The configs
// are handed over directly: at match time the KV records are still being
// persisted in the background, so a directory read could miss them.
type AgentRegistrar interface {
	RegisterAgent(cfg *session.Config, pc *session.ParticipantConfig)
}

// Entry is one ready agent instance waiting to be matched.
type Entry struct {
	TypeID      string
	InstanceID  string
	MaxSessions int
}

// Queue holds per-agent-type FIFO queues of ready instances. All methods
// run on the main loop.
type Queue struct {
	loop      *mainloop.Loop
	reg       *registry.Registry
	metadata  MetadataClient
	store     RecordSaver
	relocator Relocator
	messenger turn.Messenger
	agents    AgentRegistrar
	logger    zerolog.Logger

	queues map[string][]Entry
}

func New(loop *mainloop.Loop, reg *registry.Registry, metadata MetadataClient, store RecordSaver, relocator Relocator, messenger turn.Messenger, logger zerolog.Logger) *Queue {
	return &Queue{
		loop:      loop,
		reg:       reg,
		metadata:  metadata,
		store:     store,
		relocator: relocator,
		messenger: messenger,
		logger:    logger.With().Str("service", "pairing_queue").Logger(),
		queues:    make(map[string][]Entry),
	}
}

// SetAgentRegistrar wires the agent manager in after construction; the two
// components reference each other.
func (q *Queue) SetAgentRegistrar(agents AgentRegistrar) { q.agents = agents }

// RegisterReady queues a ready announcement. An instance may hold at most
// its own max-concurrent-sessions entries; excess announcements are dropped
// with a warning.
func (q *Queue) RegisterReady(typeID, instanceID string, maxSessions int) {
	count := 0
	for _, e := range q.queues[typeID] {
		if e.InstanceID == instanceID {
			count++
		}
	}
	if maxSessions > 0 && count >= maxSessions {
		q.logger.Warn().Str("agent_type", typeID).Str("agent_instance", instanceID).Int("max_sessions", maxSessions).Msg("agent instance at capacity, dropping ready announcement")
		return
	}
	q.queues[typeID] = append(q.queues[typeID], Entry{TypeID: typeID, InstanceID: instanceID, MaxSessions: maxSessions})
	q.logger.Info().Str("agent_type", typeID).Str("agent_instance", instanceID).Msg("agent ready for pairing")
}

// QueueLen reports the number of ready entries for an agent type.
func (q *Queue) QueueLen(typeID string) int { return len(q.queues[typeID]) }

// RequestMatch pops the head entry for the requested agent type and
// validates the join code's referents off-loop. Validation failure
// re-enqueues the entry; only a fully validated match creates a session.
func (q *Queue) RequestMatch(requesterID string, jc *JoinCode) {
	entries := q.queues[jc.AgentID]
	if len(entries) == 0 {
		q.messenger.SendMessage(requesterID, fmt.Sprintf("No agents of type %s are currently available. Try again later.", jc.AgentID))
		return
	}
	entry := entries[0]
	if len(entries) == 1 {
		delete(q.queues, jc.AgentID)
	} else {
		q.queues[jc.AgentID] = entries[1:]
	}

	q.loop.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		tournament, tErr := q.metadata.GetTournament(ctx, jc.TournamentID)
		challenge, cErr := q.metadata.GetChallenge(ctx, jc.ChallengeID)
		task, kErr := q.metadata.GetTask(ctx, jc.TaskID)
		return func() {
			q.finishValidation(requesterID, jc, entry, tournament, challenge, task, firstError(tErr, cErr, kErr))
		}
	})
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// requeue returns a popped entry to the front of its queue so a failed
// match does not cost the instance its place.
func (q *Queue) requeue(entry Entry) {
	q.queues[entry.TypeID] = append([]Entry{entry}, q.queues[entry.TypeID]...)
}

func (q *Queue) matchFailed(requesterID string, entry Entry, why string) {
	q.logger.Warn().Str("requester", requesterID).Str("agent_type", entry.TypeID).Str("reason", why).Msg("pairing failed, re-enqueueing agent")
	q.requeue(entry)
	q.messenger.SendMessage(requesterID, "Could not start the game: "+why)
}

func (q *Queue) finishValidation(requesterID string, jc *JoinCode, entry Entry, tournament *serviceapi.Tournament, challenge *serviceapi.Challenge, task *serviceapi.Task, err error) {
	switch {
	case err != nil:
		q.matchFailed(requesterID, entry, "the game service is unavailable")
		return
	case tournament == nil:
		q.matchFailed(requesterID, entry, "the tournament no longer exists")
		return
	case challenge == nil:
		q.matchFailed(requesterID, entry, "the challenge no longer exists")
		return
	case task == nil:
		q.matchFailed(requesterID, entry, "the task no longer exists")
		return
	case challenge.AgentID != jc.AgentID:
		q.matchFailed(requesterID, entry, "the challenge is not played by this agent")
		return
	case len(challenge.RoleIDs) != 2:
		q.matchFailed(requesterID, entry, "the challenge does not have exactly two roles")
		return
	}

	q.loop.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		gameID, createErr := q.metadata.CreateSession(ctx, serviceapi.CreateSessionRequest{
			TaskID:       jc.TaskID,
			TournamentID: jc.TournamentID,
			ChallengeID:  jc.ChallengeID,
			GroupID:      jc.GroupID(),
			RoleIDs:      challenge.RoleIDs,
		})
		return func() {
			if createErr != nil {
				q.matchFailed(requesterID, entry, "the game could not be created")
				return
			}
			q.startSession(requesterID, jc, entry, challenge, task, gameID)
		}
	})
}

// startSession assigns the two roles, persists the session records and
// moves the human in. The agent role is fixed by the challenge; the human
// takes the remaining role.
func (q *Queue) startSession(requesterID string, jc *JoinCode, entry Entry, challenge *serviceapi.Challenge, task *serviceapi.Task, gameID string) {
	agentRole := challenge.AgentRoleID
	if agentRole == "" {
		agentRole = challenge.RoleIDs[0]
	}
	humanRole := challenge.RoleIDs[0]
	if humanRole == agentRole {
		humanRole = challenge.RoleIDs[1]
	}
	agentKey := agent.DeriveAgentKey(gameID, agentRole)

	cfg := &session.Config{
		GameID:                       gameID,
		TaskID:                       jc.TaskID,
		TournamentID:                 jc.TournamentID,
		ChallengeID:                  jc.ChallengeID,
		ChallengeType:                ChallengeTypeAgent,
		RoleIDs:                      challenge.RoleIDs,
		HumanIDs:                     []string{requesterID},
		AgentKeys:                    []string{agentKey},
		GroupID:                      jc.GroupID(),
		AgentSubscriptionFilterValue: entry.InstanceID,
		MaxDuration:                  time.Duration(task.MaxDurationMs) * time.Millisecond,
		MaxTurns:                     task.MaxTurns,
	}
	humanPC := &session.ParticipantConfig{
		ParticipantID:   requesterID,
		GameID:          gameID,
		RoleID:          humanRole,
		RoleName:        humanRole,
		MovementMode:    session.MovementWalk,
		VisibleToOthers: true,
		CanPlace:        true,
		CanRemove:       true,
		CanChat:         true,
	}
	agentPC := &session.ParticipantConfig{
		ParticipantID:   agentKey,
		GameID:          gameID,
		RoleID:          agentRole,
		RoleName:        agentRole,
		MovementMode:    session.MovementWalk,
		VisibleToOthers: true,
		CanPlace:        true,
		CanRemove:       true,
		CanChat:         true,
	}

	recs := []records.Record{
		&records.GameConfigRecord{Config: *cfg},
		&records.PlayerConfigRecord{Config: *humanPC},
		&records.PlayerConfigRecord{Config: *agentPC},
	}
	q.loop.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		var firstErr error
		for _, rec := range recs {
			if err := q.store.SaveRecord(ctx, rec); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return func() {
			if firstErr != nil {
				q.logger.Warn().Err(firstErr).Str("game_id", gameID).Msg("failed to persist session records")
			}
		}
	})

	q.relocator.MoveToSession(requesterID, gameID)
	q.reg.ParticipantJoins(requesterID, cfg, humanPC, geo.Position{})
	q.agents.RegisterAgent(cfg, agentPC)
	q.messenger.SendMessage(requesterID, fmt.Sprintf("Matched with agent %s. Starting game %s.", entry.InstanceID, gameID))
	q.logger.Info().Str("game_id", gameID).Str("requester", requesterID).Str("agent_instance", entry.InstanceID).Msg("pairing matched, session started")
}
