package server

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/transitlk/tracking/internal/pkg/errors"
	"github.com/transitlk/tracking/internal/registry"
	"github.com/transitlk/tracking/internal/tracking"
)

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		apperrors.WriteError(w, apperrors.InvalidRequestError("method not allowed"))
		return
	}

	s.mu.RLock()
	started := s.started
	startedAt := s.startedAt
	s.mu.RUnlock()

	status := "ok"
	uptime := time.Duration(0)
	if !started {
		status = "starting"
	} else {
		uptime = time.Since(startedAt).Round(time.Second)
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:  status,
		Version: s.version,
		Uptime:  uptime.String(),
	})
}

type statsResponse struct {
	Connections registry.Stats `json:"connections"`
	Tracking    tracking.Stats `json:"tracking"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		apperrors.WriteError(w, apperrors.InvalidRequestError("method not allowed"))
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Connections: s.reg.Stats(),
		Tracking:    s.coord.Stats(r.Context()),
	})
}

type announceRequest struct {
	Message string `json:"message"`
}

// handleAnnounce pushes a system announcement to every connected client.
// Internal endpoint: the admin service calls it, never end users.
func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apperrors.WriteError(w, apperrors.InvalidRequestError("method not allowed"))
		return
	}

	var req announceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		apperrors.WriteError(w, apperrors.ValidationError("message is required"))
		return
	}

	s.dispatcher.Announce(map[string]any{
		"message":   req.Message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

type disruptionRequest struct {
	RouteID string `json:"routeId"`
	Reason  string `json:"reason"`
}

// handleRouteDisruption pushes a disruption notice to a route's
// subscribers.
func (s *Server) handleRouteDisruption(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apperrors.WriteError(w, apperrors.InvalidRequestError("method not allowed"))
		return
	}

	var req disruptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RouteID == "" {
		apperrors.WriteError(w, apperrors.ValidationError("routeId is required"))
		return
	}

	s.dispatcher.AnnounceRouteDisruption(req.RouteID, map[string]any{
		"routeId":   req.RouteID,
		"reason":    req.Reason,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}
