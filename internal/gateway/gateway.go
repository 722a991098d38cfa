// Package gateway exposes the orchestrator's consumer-facing API over HTTP
// JSON for the UI and bot layers.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/livedesk/livedesk/internal/chat"
	"github.com/livedesk/livedesk/internal/orchestrator"
)

// Server is the HTTP surface over the orchestrator.
type Server struct {
	orch *orchestrator.Orchestrator
	log  *slog.Logger
}

// New creates the gateway server.
func New(orch *orchestrator.Orchestrator, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{orch: orch, log: log}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.createSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.getSession)
	mux.HandleFunc("POST /api/sessions/{id}/assign", s.assignSpecialist)
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.sendMessage)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.recentMessages)
	mux.HandleFunc("POST /api/sessions/{id}/close", s.closeSession)
	mux.HandleFunc("POST /api/sessions/{id}/transfer", s.transferSession)
	mux.HandleFunc("GET /api/queue", s.queueStatus)
	mux.HandleFunc("GET /api/specialists", s.listSpecialists)
	mux.HandleFunc("POST /api/specialists", s.registerSpecialist)
	mux.HandleFunc("POST /api/specialists/{id}/status", s.updateSpecialistStatus)
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

type createSessionRequest struct {
	UserInfo chat.UserInfo        `json:"userInfo"`
	Context  chat.SessionContext  `json:"context"`
	Metadata chat.SessionMetadata `json:"metadata"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Metadata.UserAgent == "" {
		req.Metadata.UserAgent = r.UserAgent()
	}
	id, err := s.orch.CreateSession(r.Context(), req.UserInfo, req.Context, req.Metadata)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.orch.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) assignSpecialist(w http.ResponseWriter, r *http.Request) {
	specialistID, err := s.orch.AssignSpecialist(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"specialistId": specialistID,
		"assigned":     specialistID != "",
	})
}

type sendMessageRequest struct {
	Content    string `json:"content"`
	SenderID   string `json:"senderId"`
	SenderType string `json:"senderType"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, errors.New("empty content"))
		return
	}
	if req.SenderType == "" {
		req.SenderType = chat.SenderUser
	}
	id, err := s.orch.SendMessage(r.Context(), r.PathValue("id"), req.Content, req.SenderID, req.SenderType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"messageId": id})
}

func (s *Server) recentMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad limit: %w", err))
			return
		}
		limit = n
	}
	msgs, err := s.orch.RecentMessages(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type closeSessionRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	var req closeSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "user_ended"
	}
	if err := s.orch.EndSession(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) transferSession(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.TransferSession(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

func (s *Server) queueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.orch.QueueStatus(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) listSpecialists(w http.ResponseWriter, r *http.Request) {
	specialists, err := s.orch.Specialists(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"specialists": specialists})
}

func (s *Server) registerSpecialist(w http.ResponseWriter, r *http.Request) {
	var profile chat.Specialist
	if err := decodeBody(r, &profile); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.orch.RegisterSpecialist(r.Context(), &profile)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) updateSpecialistStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch req.Status {
	case chat.SpecialistOnline, chat.SpecialistBusy, chat.SpecialistOffline:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", req.Status))
		return
	}
	if err := s.orch.UpdateSpecialistStatus(r.Context(), r.PathValue("id"), req.Status); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

// fail maps orchestrator errors onto HTTP statuses. Raw store errors never
// reach the client body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Warn("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"):
		writeError(w, http.StatusNotFound, errors.New("not found"))
	case strings.Contains(msg, "closed"):
		writeError(w, http.StatusConflict, errors.New("session closed"))
	default:
		writeError(w, http.StatusInternalServerError, errors.New("operation failed"))
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
