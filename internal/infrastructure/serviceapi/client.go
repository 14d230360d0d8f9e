// Package serviceapi is the HTTP client for the remote task/tournament
// metadata service. It is an external collaborator: every call runs off the
// main loop and results are relayed back by the caller.
package serviceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/session-hub/session-hub/internal/domain/session"
)

// Tournament is the metadata service's view of a tournament.
type Tournament struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Challenge describes an agent challenge: which agent type it runs and the
// two roles of its sessions.
type Challenge struct {
	ID           string   `json:"id"`
	TournamentID string   `json:"tournamentId"`
	AgentID      string   `json:"agentId"`
	AgentRoleID  string   `json:"agentRoleId"`
	RoleIDs      []string `json:"roleIds"`
}

// Task carries the per-session limits configured upstream.
type Task struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	MaxTurns      int    `json:"maxTurns"`
	MaxDurationMs int64  `json:"maxDurationMs"`
}

// CreateSessionRequest asks the service to mint a new session.
type CreateSessionRequest struct {
	TaskID       string   `json:"taskId"`
	TournamentID string   `json:"tournamentId"`
	ChallengeID  string   `json:"challengeId"`
	GroupID      string   `json:"groupId"`
	RoleIDs      []string `json:"roleIds"`
}

type createSessionResponse struct {
	GameID string `json:"gameId"`
}

// Client talks JSON over HTTP to the metadata service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  zerolog.Logger
}

func New(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "serviceapi").Logger(),
	}
}

// GetTournament returns (nil, nil) when the tournament does not exist.
func (c *Client) GetTournament(ctx context.Context, id string) (*Tournament, error) {
	var out Tournament
	found, err := c.get(ctx, "/api/tournaments/"+id, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// GetChallenge returns (nil, nil) when the challenge does not exist.
func (c *Client) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	var out Challenge
	found, err := c.get(ctx, "/api/challenges/"+id, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// GetTask returns (nil, nil) when the task does not exist.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var out Task
	found, err := c.get(ctx, "/api/tasks/"+id, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// CreateSession mints a session and returns its game id.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (string, error) {
	var out createSessionResponse
	if err := c.send(ctx, http.MethodPost, "/api/games", req, &out); err != nil {
		return "", err
	}
	if out.GameID == "" {
		return "", fmt.Errorf("serviceapi: create session returned no game id")
	}
	return out.GameID, nil
}

// UpdateSessionCompletion persists a session's terminal reason.
func (c *Client) UpdateSessionCompletion(ctx context.Context, gameID string, reason session.CompletionReason) error {
	body := map[string]string{"completionReason": string(reason)}
	return c.send(ctx, http.MethodPut, "/api/games/"+gameID+"/completion", body, nil)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("serviceapi: build request: %w", err)
	}
	c.auth(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("serviceapi: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("serviceapi: GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("serviceapi: decode %s: %w", path, err)
	}
	return true, nil
}

func (c *Client) send(ctx context.Context, method, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("serviceapi: encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("serviceapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("serviceapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("serviceapi: %s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("serviceapi: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
