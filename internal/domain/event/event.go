package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/session-hub/session-hub/internal/domain/geo"
)

// Type tags an event on the wire. The tag travels in transport metadata,
// out-of-band from the JSON body, so consumers can pick a decoder before
// touching the payload.
type Type string

const (
	TypePlayerMove    Type = "PlayerMoveEvent"
	TypeBlockPlace    Type = "BlockPlaceEvent"
	TypeBlockRemove   Type = "BlockRemoveEvent"
	TypePlayerChat    Type = "PlayerChatEvent"
	TypeTurnChange    Type = "TurnChangeEvent"
	TypePlayerJoin    Type = "PlayerJoinEvent"
	TypePlayerLeave   Type = "PlayerLeaveEvent"
	TypeTaskCompleted Type = "TaskCompletedEvent"
	TypeSessionEnded  Type = "SessionEndedEvent"
	TypeAgentReady    Type = "AgentReadyEvent"
)

// Source identifies which side of the pipeline produced an event.
const (
	SourceOrchestrator = "orchestrator"
	SourceAgent        = "agentService"
)

var ErrUnknownType = errors.New("event: unknown event type")

// Event is any typed session event payload.
type Event interface {
	EventType() Type
}

// SessionScoped is implemented by payloads that carry their session id.
// The publisher uses it to group drained events per session.
type SessionScoped interface {
	SessionID() string
}

// Meta is the transport metadata envelope carried alongside the JSON body.
// Optional fields are empty strings, never omitted keys.
type Meta struct {
	ID                           string    `json:"id"`
	EventType                    Type      `json:"eventType"`
	GameID                       string    `json:"gameId"`
	TaskID                       string    `json:"taskId"`
	TournamentID                 string    `json:"tournamentId"`
	Source                       string    `json:"source"`
	GroupID                      string    `json:"groupId"`
	AgentSubscriptionFilterValue string    `json:"agentSubscriptionFilterValue"`
	RoleID                       string    `json:"roleId"`
	ProducedAt                   time.Time `json:"producedAt"`
}

// Envelope pairs enriched metadata with a typed payload.
type Envelope struct {
	Meta    Meta
	Payload Event
}

type PlayerMove struct {
	GameID        string       `json:"gameId"`
	ParticipantID string       `json:"participantId"`
	RoleID        string       `json:"roleId"`
	From          geo.Position `json:"from"`
	To            geo.Position `json:"to"`
}

func (PlayerMove) EventType() Type     { return TypePlayerMove }
func (e PlayerMove) SessionID() string { return e.GameID }

type BlockPlace struct {
	GameID        string       `json:"gameId"`
	ParticipantID string       `json:"participantId"`
	RoleID        string       `json:"roleId"`
	Position      geo.Position `json:"position"`
	Material      string       `json:"material"`
}

func (BlockPlace) EventType() Type     { return TypeBlockPlace }
func (e BlockPlace) SessionID() string { return e.GameID }

type BlockRemove struct {
	GameID        string       `json:"gameId"`
	ParticipantID string       `json:"participantId"`
	RoleID        string       `json:"roleId"`
	Position      geo.Position `json:"position"`
}

func (BlockRemove) EventType() Type     { return TypeBlockRemove }
func (e BlockRemove) SessionID() string { return e.GameID }

type PlayerChat struct {
	GameID        string `json:"gameId"`
	ParticipantID string `json:"participantId"`
	RoleID        string `json:"roleId"`
	Message       string `json:"message"`
}

func (PlayerChat) EventType() Type     { return TypePlayerChat }
func (e PlayerChat) SessionID() string { return e.GameID }

// TurnChange announces an active-role handover. PreviousRoleID is empty on
// the session's very first turn.
type TurnChange struct {
	GameID         string `json:"gameId"`
	PreviousRoleID string `json:"previousRoleId"`
	NextRoleID     string `json:"nextRoleId"`
	Reason         string `json:"reason"`
	TurnCount      int    `json:"turnCount"`
}

func (TurnChange) EventType() Type     { return TypeTurnChange }
func (e TurnChange) SessionID() string { return e.GameID }

// Turn-change reasons.
const (
	TurnReasonSessionStart = "sessionStart"
	TurnReasonEndTurn      = "endTurn"
	TurnReasonTimeout      = "turnTimeout"
)

// PlayerJoin carries a salted hash of the participant id, never the raw id.
type PlayerJoin struct {
	GameID              string       `json:"gameId"`
	HashedParticipantID string       `json:"hashedParticipantId"`
	RoleID              string       `json:"roleId"`
	Spawn               geo.Position `json:"spawn"`
}

func (PlayerJoin) EventType() Type     { return TypePlayerJoin }
func (e PlayerJoin) SessionID() string { return e.GameID }

type PlayerLeave struct {
	GameID              string `json:"gameId"`
	HashedParticipantID string `json:"hashedParticipantId"`
	RoleID              string `json:"roleId"`
}

func (PlayerLeave) EventType() Type     { return TypePlayerLeave }
func (e PlayerLeave) SessionID() string { return e.GameID }

type TaskCompleted struct {
	GameID string `json:"gameId"`
	Reason string `json:"reason"`
}

func (TaskCompleted) EventType() Type     { return TypeTaskCompleted }
func (e TaskCompleted) SessionID() string { return e.GameID }

// SessionEnded is the final event for a session, emitted after the delayed
// cleanup reclaims its records.
type SessionEnded struct {
	GameID string `json:"gameId"`
	Reason string `json:"reason"`
}

func (SessionEnded) EventType() Type     { return TypeSessionEnded }
func (e SessionEnded) SessionID() string { return e.GameID }

// AgentReady is an inbound announcement that an autonomous participant
// instance is available for pairing.
type AgentReady struct {
	AgentTypeID     string `json:"agentTypeId"`
	AgentInstanceID string `json:"agentInstanceId"`
	MaxSessions     int    `json:"maxSessions"`
}

func (AgentReady) EventType() Type { return TypeAgentReady }

var decoders = map[Type]func() Event{
	TypePlayerMove:    func() Event { return &PlayerMove{} },
	TypeBlockPlace:    func() Event { return &BlockPlace{} },
	TypeBlockRemove:   func() Event { return &BlockRemove{} },
	TypePlayerChat:    func() Event { return &PlayerChat{} },
	TypeTurnChange:    func() Event { return &TurnChange{} },
	TypePlayerJoin:    func() Event { return &PlayerJoin{} },
	TypePlayerLeave:   func() Event { return &PlayerLeave{} },
	TypeTaskCompleted: func() Event { return &TaskCompleted{} },
	TypeSessionEnded:  func() Event { return &SessionEnded{} },
	TypeAgentReady:    func() Event { return &AgentReady{} },
}

// Decode unmarshals a JSON body into the payload type named by the
// out-of-band type tag.
func Decode(t Type, body []byte) (Event, error) {
	ctor, ok := decoders[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	ev := ctor()
	if err := json.Unmarshal(body, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return ev, nil
}
