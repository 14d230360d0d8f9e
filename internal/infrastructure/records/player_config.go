package records

import (
	"fmt"

	"github.com/session-hub/session-hub/internal/domain/session"
)

var playerConfigFields = []string{
	"roleId",
	"roleName",
	"movementMode",
	"movementRegion",
	"visibleToOthers",
	"canPlace",
	"canRemove",
	"canChat",
	"canEvaluate",
	"canToggleMode",
	"turnLimitMs",
}

// PlayerConfigRecord persists a session.ParticipantConfig keyed by game id
// and participant id.
type PlayerConfigRecord struct {
	Config session.ParticipantConfig
}

func (r *PlayerConfigRecord) RecordType() string { return TypePlayerConfig }
func (r *PlayerConfigRecord) KeyValues() []string {
	return []string{r.Config.GameID, r.Config.ParticipantID}
}
func (r *PlayerConfigRecord) FieldNames() []string { return playerConfigFields }

func (r *PlayerConfigRecord) Field(name string) (string, error) {
	switch name {
	case "roleId":
		return r.Config.RoleID, nil
	case "roleName":
		return r.Config.RoleName, nil
	case "movementMode":
		return string(r.Config.MovementMode), nil
	case "movementRegion":
		return formatRegion(r.Config.MovementRegion), nil
	case "visibleToOthers":
		return formatBool(r.Config.VisibleToOthers), nil
	case "canPlace":
		return formatBool(r.Config.CanPlace), nil
	case "canRemove":
		return formatBool(r.Config.CanRemove), nil
	case "canChat":
		return formatBool(r.Config.CanChat), nil
	case "canEvaluate":
		return formatBool(r.Config.CanEvaluate), nil
	case "canToggleMode":
		return formatBool(r.Config.CanToggleMode), nil
	case "turnLimitMs":
		return formatDuration(r.Config.TurnLimit), nil
	}
	return "", fmt.Errorf("%w: %s.%s", ErrUnknownField, TypePlayerConfig, name)
}

func (r *PlayerConfigRecord) SetField(name, value string) error {
	var err error
	switch name {
	case "roleId":
		r.Config.RoleID = value
	case "roleName":
		r.Config.RoleName = value
	case "movementMode":
		r.Config.MovementMode = session.MovementMode(value)
	case "movementRegion":
		r.Config.MovementRegion, err = parseRegion(value)
	case "visibleToOthers":
		r.Config.VisibleToOthers, err = parseBool(value)
	case "canPlace":
		r.Config.CanPlace, err = parseBool(value)
	case "canRemove":
		r.Config.CanRemove, err = parseBool(value)
	case "canChat":
		r.Config.CanChat, err = parseBool(value)
	case "canEvaluate":
		r.Config.CanEvaluate, err = parseBool(value)
	case "canToggleMode":
		r.Config.CanToggleMode, err = parseBool(value)
	case "turnLimitMs":
		r.Config.TurnLimit, err = parseDuration(value)
	default:
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, TypePlayerConfig, name)
	}
	if err != nil {
		return fmt.Errorf("records: bad %s.%s value %q: %w", TypePlayerConfig, name, value, err)
	}
	return nil
}
