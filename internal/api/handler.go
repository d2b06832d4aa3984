// Package api provides HTTP handlers for the triage service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/triage-agents/internal/agentsvc"
	"github.com/ashureev/triage-agents/internal/clock"
	"github.com/ashureev/triage-agents/internal/domain"
	"github.com/ashureev/triage-agents/internal/poller"
	"github.com/ashureev/triage-agents/internal/store"
)

// Options carries the settings shared by the handlers.
type Options struct {
	// Endpoint is the project endpoint reported by the root route.
	Endpoint string
	Agents   domain.AgentSet
	Schedule poller.Schedule
	// Clock drives the websocket poller; nil means the wall clock.
	Clock  clock.Clock
	Logger *slog.Logger
	// MaxWatches caps concurrent run watches; zero means DefaultMaxWatches.
	MaxWatches int
	// OriginPatterns are the websocket origins accepted besides same-host.
	OriginPatterns []string
}

// DefaultMaxWatches is the default cap on concurrent run watches.
const DefaultMaxWatches = 32

// Handler provides common handler utilities.
type Handler struct {
	svc      agentsvc.Service
	repo     store.Repository
	endpoint string
	agents   domain.AgentSet
	schedule poller.Schedule
	clock    clock.Clock
	logger   *slog.Logger
	origins  []string
	watches  chan struct{}
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(svc agentsvc.Service, repo store.Repository, opts Options) *Handler {
	h := &Handler{
		svc:      svc,
		repo:     repo,
		endpoint: opts.Endpoint,
		agents:   opts.Agents,
		schedule: opts.Schedule.Normalize(),
		clock:    opts.Clock,
		logger:   opts.Logger,
		origins:  opts.OriginPatterns,
	}
	maxWatches := opts.MaxWatches
	if maxWatches <= 0 {
		maxWatches = DefaultMaxWatches
	}
	h.watches = make(chan struct{}, maxWatches)
	if h.clock == nil {
		h.clock = clock.Real{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
