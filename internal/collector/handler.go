// Package collector is a local development server speaking the tracking
// wire protocol. It validates request envelopes, records what it saw and
// can be paused to exercise the client's service-unavailable path.
package collector

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/felipemaragno/beacon/internal/observability"
	"github.com/felipemaragno/beacon/internal/transport"
)

type Handler struct {
	logger *slog.Logger

	mu       sync.Mutex
	paused   bool
	requests int
	events   int
	// Directives echoed back in the response payload; lets a client under
	// test exercise its response consumers.
	directives map[string]any
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		logger:     logger,
		directives: map[string]any{},
	}
}

// SetDirectives replaces the payload returned with every accepted batch.
func (h *Handler) SetDirectives(d map[string]any) {
	h.mu.Lock()
	h.directives = d
	h.mu.Unlock()
}

type trackResponse struct {
	Success  bool           `json:"success"`
	Status   int            `json:"status"`
	Response map[string]any `json:"response,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// TrackEvents accepts one batch envelope.
func (h *Handler) TrackEvents(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	paused := h.paused
	h.mu.Unlock()
	if paused {
		h.respondJSON(w, http.StatusServiceUnavailable, trackResponse{
			Status: http.StatusServiceUnavailable,
			Error:  "service paused",
		})
		return
	}

	var req transport.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondJSON(w, http.StatusBadRequest, trackResponse{
			Status: http.StatusBadRequest,
			Error:  "invalid request body",
		})
		return
	}
	if req.AppKey == "" || req.VisitorID == "" {
		h.respondJSON(w, http.StatusBadRequest, trackResponse{
			Status: http.StatusBadRequest,
			Error:  "app_key and visitor_id are required",
		})
		return
	}

	h.mu.Lock()
	h.requests++
	h.events += len(req.Events)
	directives := h.directives
	h.mu.Unlock()

	observability.LoggerFromContext(r.Context()).Info("batch received",
		"request_id", req.ID,
		"visitor_id", req.VisitorID,
		"scene_id", req.SceneID,
		"events", len(req.Events),
	)

	h.respondJSON(w, http.StatusOK, trackResponse{
		Success:  true,
		Status:   http.StatusOK,
		Response: directives,
	})
}

// Pause makes the collector answer 503 until resumed.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(true)
	w.WriteHeader(http.StatusNoContent)
}

// Resume lifts a pause.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setPaused(false)
	w.WriteHeader(http.StatusNoContent)
}

type statsResponse struct {
	Requests int  `json:"requests"`
	Events   int  `json:"events"`
	Paused   bool `json:"paused"`
}

// Stats reports what the collector has accepted so far.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	resp := statsResponse{Requests: h.requests, Events: h.events, Paused: h.paused}
	h.mu.Unlock()
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) setPaused(paused bool) {
	h.mu.Lock()
	h.paused = paused
	h.mu.Unlock()
	h.logger.Info("collector pause state changed", "paused", paused)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
