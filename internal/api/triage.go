package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/triage-agents/internal/domain"
	"github.com/ashureev/triage-agents/internal/poller"
	"github.com/go-chi/chi/v5"
)

const (
	maxTicketBytes  = 64 << 10
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// TriageHandler submits tickets and exposes run history.
type TriageHandler struct {
	*Handler
	limit func(http.Handler) http.Handler
}

// NewTriageHandler creates a triage handler. limit, when non-nil, wraps the
// submit and watch routes.
func NewTriageHandler(base *Handler, limit func(http.Handler) http.Handler) *TriageHandler {
	return &TriageHandler{Handler: base, limit: limit}
}

// RegisterRoutes registers triage, history and watch routes.
func (h *TriageHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.limit != nil {
			r.Use(h.limit)
		}
		r.Post("/triage", h.Triage)
		r.Get("/ws/runs/{threadID}/{runID}", h.Watch)
	})
	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", h.ListRuns)
		r.Get("/{runID}", h.GetRun)
	})
}

type triageRequest struct {
	Ticket string `json:"ticket"`
}

type triageResponse struct {
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id"`
}

// Triage starts a run of the triage agent against the posted ticket.
func (h *TriageHandler) Triage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTicketBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ticket := strings.TrimSpace(req.Ticket)
	if ticket == "" {
		Error(w, http.StatusUnprocessableEntity, "ticket is required")
		return
	}

	agentID := h.agents.ID(domain.RoleTriage)
	if agentID == "" {
		Error(w, http.StatusInternalServerError, "No triage agent configured. Set "+domain.RoleTriage.EnvKey()+".")
		return
	}

	ctx := r.Context()
	run, err := poller.New(h.svc, poller.WithClock(h.clock), poller.WithLogger(h.logger)).Submit(ctx, agentID, ticket)
	if err != nil {
		h.logger.Error("Failed to triage ticket", "error", err)
		Error(w, http.StatusBadGateway, "Failed to triage ticket: "+err.Error())
		return
	}

	h.record(ctx, &domain.RunRecord{
		RunID:     run.ID,
		ThreadID:  run.ThreadID,
		AgentID:   agentID,
		Role:      domain.RoleTriage,
		Ticket:    ticket,
		Status:    string(run.Status),
		Error:     run.Error,
		CreatedAt: run.CreatedAt,
	})

	JSON(w, http.StatusOK, triageResponse{ThreadID: run.ThreadID, RunID: run.ID})
}

// ListRuns returns recent runs, newest first.
func (h *TriageHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list runs", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*domain.RunRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// GetRun returns one recorded run.
func (h *TriageHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := h.repo.GetRun(r.Context(), runID)
	if err != nil {
		h.logger.Error("Failed to get run", "error", err, "run_id", runID)
		Error(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		Error(w, http.StatusNotFound, "run not found")
		return
	}
	JSON(w, http.StatusOK, run)
}

// record persists a run; history is best effort and never fails the request.
func (h *Handler) record(ctx context.Context, rec *domain.RunRecord) {
	if h.repo == nil {
		return
	}
	if err := h.repo.RecordRun(context.WithoutCancel(ctx), rec); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("Failed to record run", "run_id", rec.RunID, "error", err)
	}
}
