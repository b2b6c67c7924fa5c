package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"clinicrew/internal/domain"
	"clinicrew/internal/usecase"
)

const maxBodyBytes = 4 << 20

type runRequest struct {
	Input string `json:"input"`
}

type directRequest struct {
	Subject    string `json:"subject"`
	Specialist string `json:"specialist,omitempty"`
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.Handle("GET /api/v1/sessions", s.authed(s.handleList))
	mux.Handle("POST /api/v1/sessions", s.authed(s.handleCreate))
	mux.Handle("DELETE /api/v1/sessions/{id}", s.authed(s.handleDelete))
	mux.Handle("POST /api/v1/sessions/{id}/run", s.authed(s.handleRun))
	mux.Handle("POST /api/v1/sessions/{id}/direct", s.authed(s.handleDirect))
	mux.Handle("POST /api/v1/sessions/{id}/reset", s.authed(s.handleReset))
	mux.Handle("GET /api/v1/sessions/{id}/history", s.authed(s.handleExport))
	mux.Handle("PUT /api/v1/sessions/{id}/history", s.authed(s.handleLoad))
}

func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.auth.Authenticate(requestToken(r)); err != nil {
			writeError(w, err)
			return
		}
		next(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Sessions:      len(s.sessions.List()),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.List())
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	id := usecase.NewSessionID()
	if _, err := s.sessions.GetOrCreate(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Reset(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	blob, err := s.sessions.Export(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	if !json.Valid(blob) {
		writeError(w, fmt.Errorf("%w: history is not valid JSON", domain.ErrInvalidInput))
		return
	}
	if err := s.sessions.Load(r.Context(), r.PathValue("id"), blob); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeError(w, fmt.Errorf("%w: input is required", domain.ErrInvalidInput))
		return
	}
	id := r.PathValue("id")
	s.streamSSE(w, r, id, s.sessions.Run(r.Context(), id, req.Input))
}

func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	var req directRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		writeError(w, fmt.Errorf("%w: subject is required", domain.ErrInvalidInput))
		return
	}
	id := r.PathValue("id")
	s.streamSSE(w, r, id, s.sessions.RunDirectTo(r.Context(), id, req.Specialist, req.Subject))
}

// streamSSE writes each message as an "event: message" record and closes
// with "event: done". The request context is the run context, so a client
// that disconnects abandons the run.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, id string, msgs iter.Seq[domain.AgentMessage]) {
	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc.Flush()

	n := 0
	for msg := range msgs {
		if err := writeEvent(w, EventMessage, msg); err != nil {
			s.logger.Debug("sse write failed", "session", id, "error", err)
			return
		}
		rc.Flush()
		n++
	}
	if r.Context().Err() != nil {
		s.logger.Info("sse client went away, run abandoned", "session", id, "messages", n)
		return
	}
	writeEvent(w, "done", runResult{Messages: n})
	rc.Flush()
}

func writeEvent(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorResponse{Error: err.Error(), Code: string(domain.ErrorCodeOf(err))})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrAuthInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrRPCInvalidPayload),
		errors.Is(err, domain.ErrHistoryDecode):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
