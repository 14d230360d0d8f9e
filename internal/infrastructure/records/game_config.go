package records

import (
	"fmt"

	"github.com/session-hub/session-hub/internal/domain/session"
)

var gameConfigFields = []string{
	"taskId",
	"tournamentId",
	"challengeId",
	"challengeType",
	"roleIds",
	"humanIds",
	"agentKeys",
	"groupId",
	"agentSubscriptionFilterValue",
	"maxDurationMs",
	"maxTurns",
}

// GameConfigRecord persists a session.Config keyed by game id.
type GameConfigRecord struct {
	Config session.Config
}

func (r *GameConfigRecord) RecordType() string   { return TypeGameConfig }
func (r *GameConfigRecord) KeyValues() []string  { return []string{r.Config.GameID} }
func (r *GameConfigRecord) FieldNames() []string { return gameConfigFields }

func (r *GameConfigRecord) Field(name string) (string, error) {
	switch name {
	case "taskId":
		return r.Config.TaskID, nil
	case "tournamentId":
		return r.Config.TournamentID, nil
	case "challengeId":
		return r.Config.ChallengeID, nil
	case "challengeType":
		return r.Config.ChallengeType, nil
	case "roleIds":
		return joinList(r.Config.RoleIDs), nil
	case "humanIds":
		return joinList(r.Config.HumanIDs), nil
	case "agentKeys":
		return joinList(r.Config.AgentKeys), nil
	case "groupId":
		return r.Config.GroupID, nil
	case "agentSubscriptionFilterValue":
		return r.Config.AgentSubscriptionFilterValue, nil
	case "maxDurationMs":
		return formatDuration(r.Config.MaxDuration), nil
	case "maxTurns":
		return formatInt(r.Config.MaxTurns), nil
	}
	return "", fmt.Errorf("%w: %s.%s", ErrUnknownField, TypeGameConfig, name)
}

func (r *GameConfigRecord) SetField(name, value string) error {
	var err error
	switch name {
	case "taskId":
		r.Config.TaskID = value
	case "tournamentId":
		r.Config.TournamentID = value
	case "challengeId":
		r.Config.ChallengeID = value
	case "challengeType":
		r.Config.ChallengeType = value
	case "roleIds":
		r.Config.RoleIDs = splitList(value)
	case "humanIds":
		r.Config.HumanIDs = splitList(value)
	case "agentKeys":
		r.Config.AgentKeys = splitList(value)
	case "groupId":
		r.Config.GroupID = value
	case "agentSubscriptionFilterValue":
		r.Config.AgentSubscriptionFilterValue = value
	case "maxDurationMs":
		r.Config.MaxDuration, err = parseDuration(value)
	case "maxTurns":
		r.Config.MaxTurns, err = parseInt(value)
	default:
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, TypeGameConfig, name)
	}
	if err != nil {
		return fmt.Errorf("records: bad %s.%s value %q: %w", TypeGameConfig, name, value, err)
	}
	return nil
}
