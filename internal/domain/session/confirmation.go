package session

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// MaxConfirmationCodeLen caps the encoded confirmation code. Exceeding it is
// a data error in the session's identifiers, not a runtime condition, so it
// is surfaced as a non-retryable failure.
const MaxConfirmationCodeLen = 256

var ErrConfirmationCodeTooLong = errors.New("session: confirmation code exceeds maximum length")

// ConfirmationCode builds the end-of-session proof code handed to each
// participant: the session identifiers colon-joined (optional fields
// omitted entirely, never left as empty segments), gzip-compressed and
// base64-encoded.
func ConfirmationCode(cfg *Config, roleID, agentInstanceID string) (string, error) {
	fields := make([]string, 0, 7)
	fields = append(fields, cfg.TournamentID)
	if cfg.ChallengeType != "" {
		fields = append(fields, cfg.ChallengeType)
	}
	if cfg.ChallengeID != "" {
		fields = append(fields, cfg.ChallengeID)
	}
	fields = append(fields, cfg.TaskID, cfg.GameID, roleID)
	if agentInstanceID != "" {
		fields = append(fields, agentInstanceID)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(strings.Join(fields, ":"))); err != nil {
		return "", fmt.Errorf("compress confirmation code: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress confirmation code: %w", err)
	}

	code := base64.StdEncoding.EncodeToString(buf.Bytes())
	if len(code) > MaxConfirmationCodeLen {
		return "", fmt.Errorf("%w: %d chars", ErrConfirmationCodeTooLong, len(code))
	}
	return code, nil
}
