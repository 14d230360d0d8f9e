// Package records maps domain config structs onto the flat key/value layout
// of the remote record directory. Every record field lives under its own
// key, `{TYPE}:{key-field...}:{field-name}`, with arrays comma-joined,
// scalars stringified and absent optionals stored as the empty string. The
// schema is explicit per type; nothing is derived by reflection.
package records

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/session-hub/session-hub/internal/domain/geo"
)

const (
	TypeGameConfig   = "GAME_CONFIG"
	TypePlayerConfig = "PLAYER_GAME_CONFIG"
)

var (
	ErrUnknownField  = errors.New("records: unknown field")
	ErrMissingKey    = errors.New("records: record key field is empty")
	ErrIncompleteSet = errors.New("records: incomplete value set")
)

// Record is one directory-persisted entity with an explicit field schema.
type Record interface {
	RecordType() string
	// KeyValues are the ordered key fields embedded in every record key.
	KeyValues() []string
	// FieldNames is the full expected field set, in a stable order.
	FieldNames() []string
	Field(name string) (string, error)
	SetField(name, value string) error
}

// Key builds the directory key for one field of a record.
func Key(r Record, field string) string {
	parts := make([]string, 0, len(r.KeyValues())+2)
	parts = append(parts, r.RecordType())
	parts = append(parts, r.KeyValues()...)
	parts = append(parts, field)
	return strings.Join(parts, ":")
}

// Keys lists every directory key of a record, ordered by FieldNames.
func Keys(r Record) ([]string, error) {
	for _, kv := range r.KeyValues() {
		if kv == "" {
			return nil, ErrMissingKey
		}
	}
	names := r.FieldNames()
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = Key(r, name)
	}
	return keys, nil
}

// Serialize flattens a record into its key→value map.
func Serialize(r Record) (map[string]string, error) {
	if _, err := Keys(r); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(r.FieldNames()))
	for _, name := range r.FieldNames() {
		val, err := r.Field(name)
		if err != nil {
			return nil, err
		}
		out[Key(r, name)] = val
	}
	return out, nil
}

// Hydrate populates a record from values fetched in FieldNames order. The
// caller is responsible for treating any missing key as a whole-record
// absence before calling; a short slice here is a programming error.
func Hydrate(r Record, values []string) error {
	names := r.FieldNames()
	if len(values) != len(names) {
		return fmt.Errorf("%w: got %d values, want %d", ErrIncompleteSet, len(values), len(names))
	}
	for i, name := range names {
		if err := r.SetField(name, values[i]); err != nil {
			return err
		}
	}
	return nil
}

func joinList(items []string) string {
	return strings.Join(items, ",")
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	return strings.Split(val, ",")
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}

func parseBool(val string) (bool, error) {
	if val == "" {
		return false, nil
	}
	return strconv.ParseBool(val)
}

// Durations are persisted as integral milliseconds; zero means unset and is
// stored as the empty string.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return strconv.FormatInt(d.Milliseconds(), 10)
}

func parseDuration(val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func formatInt(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func parseInt(val string) (int, error) {
	if val == "" {
		return 0, nil
	}
	return strconv.Atoi(val)
}

func formatRegion(r *geo.Region) string {
	if r == nil {
		return ""
	}
	coords := []float64{r.Min.X, r.Min.Y, r.Min.Z, r.Max.X, r.Max.Y, r.Max.Z}
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.FormatFloat(c, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func parseRegion(val string) (*geo.Region, error) {
	if val == "" {
		return nil, nil
	}
	parts := strings.Split(val, ",")
	if len(parts) != 6 {
		return nil, fmt.Errorf("records: region wants 6 coordinates, got %d", len(parts))
	}
	coords := make([]float64, 6)
	for i, p := range parts {
		c, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("records: bad region coordinate %q: %w", p, err)
		}
		coords[i] = c
	}
	return &geo.Region{
		Min: geo.Position{X: coords[0], Y: coords[1], Z: coords[2]},
		Max: geo.Position{X: coords[3], Y: coords[4], Z: coords[5]},
	}, nil
}
