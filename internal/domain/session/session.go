package session

import (
	"time"

	"github.com/session-hub/session-hub/internal/domain/geo"
)

// Config describes one multiplayer task session. It is created when the
// first participant joins and evicted from the registries (and the KV
// directory) by the delayed cleanup after completion.
type Config struct {
	GameID       string
	TaskID       string
	TournamentID string
	ChallengeID  string
	// ChallengeType distinguishes the pairing flavor the session came from,
	// e.g. "AGENT_CHALLENGE". Empty for sessions created outside pairing.
	ChallengeType string
	RoleIDs       []string
	HumanIDs      []string
	AgentKeys     []string
	GroupID       string
	// AgentSubscriptionFilterValue routes the event stream to a single
	// subscribed agent service instance. Empty when unused.
	AgentSubscriptionFilterValue string
	// MaxDuration limits total session wall-clock time. Zero means no limit.
	MaxDuration time.Duration
	// MaxTurns limits the number of turns taken. Zero means no limit.
	MaxTurns int
}

// HasAgent reports whether key is one of the session's autonomous
// participant keys.
func (c *Config) HasAgent(key string) bool {
	for _, k := range c.AgentKeys {
		if k == key {
			return true
		}
	}
	return false
}

// MovementMode is how a participant is allowed to traverse the world.
type MovementMode string

const (
	MovementWalk MovementMode = "WALK"
	MovementFly  MovementMode = "FLY"
)

// ParticipantConfig describes one role binding within a session.
type ParticipantConfig struct {
	ParticipantID   string
	GameID          string
	RoleID          string
	RoleName        string
	MovementMode    MovementMode
	MovementRegion  *geo.Region
	VisibleToOthers bool
	CanPlace        bool
	CanRemove       bool
	CanChat         bool
	CanEvaluate     bool
	CanToggleMode   bool
	// TurnLimit bounds a single turn for this participant. Zero means no
	// per-participant limit.
	TurnLimit time.Duration
}

// CompletionReason is the terminal marker of a session. Presence of a value
// means completed; the first writer wins.
type CompletionReason string

const (
	CompletionFinished        CompletionReason = "TASK_COMPLETED"
	CompletionMaxTurns        CompletionReason = "MAX_TURNS_REACHED"
	CompletionTimedOut        CompletionReason = "GAME_TIMED_OUT"
	CompletionAbandoned       CompletionReason = "PLAYER_LEFT"
	CompletionOperatorCommand CompletionReason = "OPERATOR_COMMAND"
)

// EndMessage is the human-readable notification for a completion reason.
func EndMessage(reason CompletionReason) string {
	switch reason {
	case CompletionFinished:
		return "The task is complete. Thanks for playing!"
	case CompletionMaxTurns:
		return "The game has ended: the maximum number of turns was reached."
	case CompletionTimedOut:
		return "The game has ended: the maximum game time was reached."
	case CompletionAbandoned:
		return "The game has ended: a player left the game."
	case CompletionOperatorCommand:
		return "The game was ended by an operator."
	default:
		return "The game has ended."
	}
}
