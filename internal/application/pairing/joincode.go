package pairing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ChallengeTypeAgent is the pairing flavor this queue serves.
const ChallengeTypeAgent = "AGENT_CHALLENGE"

var (
	ErrBadJoinCode     = errors.New("pairing: malformed join code")
	ErrJoinCodeExpired = errors.New("pairing: join code expired")
)

// JoinCode is the operator-facing ticket for joining a task with an agent:
// `{tournamentId}:{challengeId}:{taskId}:{agentId}[:{expirationEpochMs}]`.
type JoinCode struct {
	TournamentID string
	ChallengeID  string
	TaskID       string
	AgentID      string
	// ExpiresAt is zero when the code carries no expiry segment.
	ExpiresAt time.Time
}

// ParseJoinCode validates segment count and expiry against now. Rejection
// mutates no state; the caller surfaces the error text to the requester.
func ParseJoinCode(raw string, now time.Time) (*JoinCode, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 4 && len(parts) != 5 {
		return nil, fmt.Errorf("%w: want 4 or 5 segments, got %d", ErrBadJoinCode, len(parts))
	}
	for i, p := range parts[:4] {
		if p == "" {
			return nil, fmt.Errorf("%w: empty segment %d", ErrBadJoinCode, i+1)
		}
	}
	jc := &JoinCode{
		TournamentID: parts[0],
		ChallengeID:  parts[1],
		TaskID:       parts[2],
		AgentID:      parts[3],
	}
	if len(parts) == 5 {
		ms, err := strconv.ParseInt(parts[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad expiration %q", ErrBadJoinCode, parts[4])
		}
		jc.ExpiresAt = time.UnixMilli(ms).UTC()
		if !now.Before(jc.ExpiresAt) {
			return nil, ErrJoinCodeExpired
		}
	}
	return jc, nil
}

// GroupID derives the analytics grouping key for sessions created from this
// code.
func (jc *JoinCode) GroupID() string {
	return strings.ToLower(jc.TournamentID + ":" + ChallengeTypeAgent + ":" + jc.ChallengeID)
}
