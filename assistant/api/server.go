// Package api exposes the assistant over HTTP: chat, direct dispatch,
// registry inspection, broadcast, and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	logx "github.com/verdantlabs/greencart/pkg/logger"
)

// Config for the HTTP endpoint.
type Config struct {
	Addr string `split_words:"true" default:":8080"`
}

// Service is the router surface the API depends on.
type Service interface {
	Chat(ctx context.Context, sessionID string, text string) (contractx.ChatResponse, error)
	Send(ctx context.Context, req contractx.SendRequest) (contractx.AggregatedResult, error)
}

// Server translates HTTP to router calls. All domain decisions stay in
// the router; this layer only decodes, dispatches, and maps errors to
// status codes.
type Server struct {
	service  Service
	registry contractx.Registry
	log      zerolog.Logger
}

func NewServer(service Service, registry contractx.Registry) (*Server, error) {
	if service == nil {
		return nil, errors.New("router service is required")
	}
	if registry == nil {
		return nil, errors.New("handler registry is required")
	}
	return &Server{
		service:  service,
		registry: registry,
		log:      logx.Component("api"),
	}, nil
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/chat", s.handleChat)
	r.Get("/agents", s.handleListAgents)
	r.Get("/agents/{name}/status", s.handleAgentStatus)
	r.Post("/send", s.handleSend)
	r.Post("/broadcast", s.handleBroadcast)
	r.Get("/health", s.handleHealth)

	return r
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req contractx.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", "validation_failed")
		return
	}

	resp, err := s.service.Chat(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"agents": s.registry.List()})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	card, err := s.registry.Get(name)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, card)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req contractx.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", "validation_failed")
		return
	}

	agg, err := s.service.Send(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agg)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req contractx.BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", "validation_failed")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is empty", "validation_failed")
		return
	}

	results := s.registry.Broadcast(r.Context(), req.Message, req.Exclude)
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleHealth aggregates registry health: per-status counts, the names
// that are not healthy, and an overall verdict.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cards := s.registry.List()

	counts := make(map[string]int, 4)
	var notHealthy []string
	for _, card := range cards {
		counts[string(card.Status)]++
		if card.Status != contractx.HealthHealthy {
			notHealthy = append(notHealthy, card.Name)
		}
	}

	overall := "ok"
	if len(notHealthy) > 0 {
		overall = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   overall,
		"handlers": counts,
		"degraded": notHealthy,
	})
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	kind := contractx.Kind(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("kind", kind).Msg("request failed")
	}
	respondError(w, status, err.Error(), kind)
}

func statusForKind(kind string) int {
	switch kind {
	case "validation_failed", "invalid_params":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "invalid_session_state":
		return http.StatusConflict
	case "no_capable_handler":
		return http.StatusServiceUnavailable
	case "timeout", "handler_timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message, kind string) {
	respondJSON(w, status, map[string]string{"error": message, "kind": kind})
}
