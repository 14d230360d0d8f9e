// Package hub delivers in-session text and relocation commands to connected
// participant clients. Clients attach over a buffered channel; a full channel
// drops the message rather than blocking the caller.
package hub

import (
	"sync"

	"github.com/rs/zerolog"
)

// MessageKind distinguishes the two things the orchestrator pushes at a
// participant: chat-style text and a world relocation.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindRelocate MessageKind = "relocate"
)

// LobbyGameID is the relocation target for participants leaving a session.
const LobbyGameID = "lobby"

// Message is one unit of delivery to a participant client.
type Message struct {
	Kind   MessageKind `json:"kind"`
	Text   string      `json:"text,omitempty"`
	GameID string      `json:"gameId,omitempty"`
}

const clientBuffer = 64

// Client is one connected participant. Messages arrive on Ch until Close.
type Client struct {
	ParticipantID string
	Ch            chan Message

	closeOnce sync.Once
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Ch) })
}

// Hub tracks connected clients keyed by participant id. It is safe for
// concurrent use; delivery never blocks.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  zerolog.Logger
}

func New(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

// Register attaches a participant client, replacing any previous connection
// for the same participant.
func (h *Hub) Register(participantID string) *Client {
	client := &Client{ParticipantID: participantID, Ch: make(chan Message, clientBuffer)}
	h.mu.Lock()
	prev := h.clients[participantID]
	h.clients[participantID] = client
	h.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return client
}

// Unregister detaches a participant client and closes its channel. The
// client argument guards against closing a newer connection that replaced
// this one.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if h.clients[client.ParticipantID] == client {
		delete(h.clients, client.ParticipantID)
	}
	h.mu.Unlock()
	client.Close()
}

// ClientCount reports the number of connected participants.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendMessage pushes a line of text at a participant. Disconnected
// participants and full channels drop the message with a debug log.
func (h *Hub) SendMessage(participantID, text string) {
	h.deliver(participantID, Message{Kind: KindText, Text: text})
}

// MoveToSession relocates a participant into a session's world.
func (h *Hub) MoveToSession(participantID, gameID string) {
	h.deliver(participantID, Message{Kind: KindRelocate, GameID: gameID})
}

// MoveToLobby relocates a participant back to the lobby.
func (h *Hub) MoveToLobby(participantID string) {
	h.deliver(participantID, Message{Kind: KindRelocate, GameID: LobbyGameID})
}

func (h *Hub) deliver(participantID string, msg Message) {
	h.mu.RLock()
	client := h.clients[participantID]
	h.mu.RUnlock()
	if client == nil {
		h.logger.Debug().Str("participant", participantID).Str("kind", string(msg.Kind)).Msg("participant not connected, dropping message")
		return
	}
	select {
	case client.Ch <- msg:
	default:
		h.logger.Warn().Str("participant", participantID).Msg("client channel full, dropping message")
	}
}

// Stop closes every connected client.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}
