// Package httpapi is the operator-facing HTTP surface: session inspection,
// forced completion, pairing requests and the participant message stream.
// Handlers run off the main loop; anything touching loop-confined state is
// relayed onto it.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/session-hub/session-hub/internal/application/pairing"
	"github.com/session-hub/session-hub/internal/application/registry"
	"github.com/session-hub/session-hub/internal/domain/session"
	"github.com/session-hub/session-hub/internal/infrastructure/entity"
	"github.com/session-hub/session-hub/internal/infrastructure/hub"
	"github.com/session-hub/session-hub/internal/platform/mainloop"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	loop   *mainloop.Loop
	reg    *registry.Registry
	queue  *pairing.Queue
	hub    *hub.Hub
	world  *entity.World
	logger zerolog.Logger
	now    func() time.Time
}

func NewServer(loop *mainloop.Loop, reg *registry.Registry, queue *pairing.Queue, h *hub.Hub, world *entity.World, logger zerolog.Logger) *Server {
	return &Server{
		loop:   loop,
		reg:    reg,
		queue:  queue,
		hub:    h,
		world:  world,
		logger: logger.With().Str("component", "httpapi").Logger(),
		now:    time.Now,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Get("/{gameId}", s.getSession)
			r.Post("/{gameId}/finish", s.finishSession)
		})

		r.Post("/participants/{participantId}/leave", s.participantLeave)

		r.Route("/pairing", func(r chi.Router) {
			r.Post("/join", s.requestMatch)
			r.Get("/queues/{agentTypeId}", s.queueStatus)
		})

		r.Get("/world/chat", s.worldChat)
		r.Get("/stream", s.streamEndpoint)
	})

	return r
}

// onLoop runs fn on the main loop and blocks until it has run or the
// request is abandoned.
func (s *Server) onLoop(r *http.Request, fn func()) error {
	done := make(chan struct{})
	s.loop.RunOnLoop(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-r.Context().Done():
		return r.Context().Err()
	}
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

// Session handlers

type sessionSummary struct {
	GameID           string   `json:"gameId"`
	TaskID           string   `json:"taskId"`
	TournamentID     string   `json:"tournamentId"`
	RoleIDs          []string `json:"roleIds"`
	TurnsTaken       int      `json:"turnsTaken"`
	ActiveRoleID     string   `json:"activeRoleId,omitempty"`
	CompletionReason string   `json:"completionReason,omitempty"`
}

func (s *Server) summarize(gameID string) (*sessionSummary, bool) {
	cfg, ok := s.reg.SessionConfig(gameID)
	if !ok {
		return nil, false
	}
	out := &sessionSummary{
		GameID:       cfg.GameID,
		TaskID:       cfg.TaskID,
		TournamentID: cfg.TournamentID,
		RoleIDs:      cfg.RoleIDs,
	}
	if eng, ok := s.reg.Engine(gameID); ok {
		out.TurnsTaken = eng.TurnsTaken()
		if slot, ok := eng.ActiveSlot(); ok {
			out.ActiveRoleID = slot.RoleID
		}
		if reason, done := eng.Completed(); done {
			out.CompletionReason = string(reason)
		}
	}
	return out, true
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	var sessions []*sessionSummary
	err := s.onLoop(r, func() {
		sessions = make([]*sessionSummary, 0)
		for _, gameID := range s.reg.GameIDs() {
			if summary, ok := s.summarize(gameID); ok {
				sessions = append(sessions, summary)
			}
		}
	})
	if err != nil {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameId")
	var (
		summary *sessionSummary
		found   bool
	)
	if err := s.onLoop(r, func() { summary, found = s.summarize(gameID) }); err != nil {
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) finishSession(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameId")
	var found bool
	err := s.onLoop(r, func() {
		eng, ok := s.reg.Engine(gameID)
		if !ok {
			return
		}
		found = true
		eng.EndSessionAndNotify("", session.CompletionOperatorCommand)
	})
	if err != nil {
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"gameId": gameID, "status": string(session.CompletionOperatorCommand)})
}

// participantLeave removes a participant from their session; a human leaving
// a live session abandons it.
func (s *Server) participantLeave(w http.ResponseWriter, r *http.Request) {
	participantID := chi.URLParam(r, "participantId")
	var found bool
	err := s.onLoop(r, func() {
		if _, ok := s.reg.ParticipantConfig(participantID); !ok {
			return
		}
		found = true
		s.reg.ParticipantLeaves(participantID)
	})
	if err != nil {
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "participant not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"participantId": participantID, "status": "LEFT"})
}

// Pairing handlers

type joinRequest struct {
	ParticipantID string `json:"participantId"`
	JoinCode      string `json:"joinCode"`
}

func (s *Server) requestMatch(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.ParticipantID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "participantId required")
		return
	}
	jc, err := pairing.ParseJoinCode(req.JoinCode, s.now().UTC())
	if err != nil {
		if errors.Is(err, pairing.ErrJoinCodeExpired) {
			respondError(w, http.StatusGone, "JOIN_CODE_EXPIRED", "join code has expired")
			return
		}
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "malformed join code")
		return
	}
	s.loop.RunOnLoop(func() { s.queue.RequestMatch(req.ParticipantID, jc) })
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"status": "MATCHING"})
}

func (s *Server) queueStatus(w http.ResponseWriter, r *http.Request) {
	typeID := chi.URLParam(r, "agentTypeId")
	var length int
	if err := s.onLoop(r, func() { length = s.queue.QueueLen(typeID) }); err != nil {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"agentTypeId": typeID, "ready": length})
}

// World handlers

func (s *Server) worldChat(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"chat": s.world.RecentChat()})
}

// streamEndpoint attaches a participant to the hub and streams its text and
// relocation messages as server-sent events.
func (s *Server) streamEndpoint(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participantId")
	if participantID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "participantId required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	client := s.hub.Register(participantID)
	defer s.hub.Unregister(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	// Send an initial comment to flush headers and keep the connection alive.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, open := <-client.Ch:
			if !open {
				return
			}
			payload, _ := json.Marshal(msg)
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
