// Package server exposes the campaign thread lifecycle over HTTP. Turns are
// streamed to the client as Server-Sent Events.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dshills/questforge/campaign"
	"github.com/dshills/questforge/graph"
	"github.com/dshills/questforge/graph/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP handlers.
type Server struct {
	svc      *campaign.Service
	logger   *slog.Logger
	gatherer prometheus.Gatherer
}

// New creates a Server. A nil gatherer leaves /metrics unregistered.
func New(svc *campaign.Service, logger *slog.Logger, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{svc: svc, logger: logger, gatherer: gatherer}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.health)
	r.Post("/generate", s.generate)
	r.Route("/threads", func(r chi.Router) {
		r.Get("/", s.listThreads)
		r.Get("/{id}", s.getThread)
		r.Delete("/{id}", s.deleteThread)
		r.Patch("/{id}/archive", s.toggleArchive)
		r.Post("/{id}/chat", s.chat)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.DebugContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.svc.ListThreads(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

type threadResponse struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Paused    bool                `json:"isPaused"`
	Inputs    campaign.Inputs     `json:"inputs"`
	Plan      *campaign.Plan      `json:"plan"`
	Party     *campaign.Party     `json:"party"`
	Portraits map[string]string   `json:"portraits"`
	Narrative *campaign.Narrative `json:"narrative"`
	Chat      interface{}         `json:"chat_messages"`
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.svc.LatestState(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	paused, err := s.svc.Paused(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := threadResponse{
		ID:        id,
		Name:      campaign.Title(id, state),
		Paused:    paused,
		Inputs:    state.Inputs,
		Plan:      state.Plan,
		Party:     state.Party,
		Portraits: state.Portraits,
		Narrative: state.Narrative,
		Chat:      state.Chat,
	}
	if state.Chat == nil {
		resp.Chat = []struct{}{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) deleteThread(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Reset(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleArchive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	archived, err := s.svc.ToggleArchived(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "isArchived": archived})
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reply, history, err := s.svc.Chat(r.Context(), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"response": reply, "chat_messages": history})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrThreadBusy), errors.Is(err, graph.ErrNotPaused), errors.Is(err, graph.ErrPaused):
		return http.StatusConflict
	case errors.Is(err, campaign.ErrInvalidResume), errors.Is(err, campaign.ErrInvalidPatch),
		errors.Is(err, campaign.ErrInvalidInputs), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
