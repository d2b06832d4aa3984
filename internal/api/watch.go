package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ashureev/triage-agents/internal/domain"
	"github.com/ashureev/triage-agents/internal/poller"
	"github.com/ashureev/triage-agents/internal/transcript"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

// Watch event types.
const (
	EventPoll   = "poll"
	EventResult = "result"
)

// WatchEvent is one frame of the run watch stream.
type WatchEvent struct {
	Type     string           `json:"type"`
	Run      poller.Run       `json:"run"`
	Messages []domain.Message `json:"messages,omitempty"`
	// NextDelay is the wait before the next poll, in milliseconds.
	NextDelay int64  `json:"next_delay_ms,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Error     string `json:"error,omitempty"`
	// Lines is the agent-authored transcript, sent with the result.
	Lines []string `json:"lines,omitempty"`
}

// Watch upgrades to a websocket, polls the run to a terminal state and streams
// each observation. The final frame has type "result".
func (h *TriageHandler) Watch(w http.ResponseWriter, r *http.Request) {
	threadID := strings.TrimSpace(chi.URLParam(r, "threadID"))
	runID := strings.TrimSpace(chi.URLParam(r, "runID"))

	select {
	case h.watches <- struct{}{}:
		defer func() { <-h.watches }()
	default:
		Error(w, http.StatusServiceUnavailable, "too many active watches")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Error("WebSocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "run finished")

	// CloseRead handles control frames and cancels ctx when the client goes away.
	ctx := ws.CloseRead(r.Context())

	rec := h.lookup(ctx, runID)
	if rec != nil && rec.Terminal() {
		// Already settled; replay the stored outcome without polling.
		if err := wsjson.Write(ctx, ws, recordedResult(rec)); err != nil {
			h.logger.Warn("Failed to send watch result", "run_id", runID, "error", err)
		}
		return
	}
	run := poller.Run{ID: runID, ThreadID: threadID, Status: poller.StatusQueued}
	if rec != nil {
		run.AgentID = rec.AgentID
		run.CreatedAt = rec.CreatedAt
	}

	p := poller.New(h.svc,
		poller.WithClock(h.clock),
		poller.WithLogger(h.logger),
		poller.WithObserver(func(ev poller.Event) {
			frame := WatchEvent{
				Type:      EventPoll,
				Run:       ev.Run,
				Messages:  ev.NewMessages,
				NextDelay: ev.NextDelay.Milliseconds(),
			}
			if ev.Err != nil {
				frame.Error = ev.Err.Error()
			}
			if err := wsjson.Write(ctx, ws, frame); err != nil {
				h.logger.Debug("Watch write failed", "run_id", runID, "error", err)
			}
		}),
	)

	h.logger.Info("Watching run", "run_id", runID, "thread_id", threadID)
	result, awaitErr := p.Await(ctx, run, h.schedule)
	if errors.Is(awaitErr, context.Canceled) && ctx.Err() != nil {
		h.logger.Info("Watch client disconnected", "run_id", runID)
		return
	}

	final := WatchEvent{Type: EventResult, Run: result.Run}
	var transcript []domain.Message
	if result.Transcript != nil {
		final.Lines = result.Transcript.AssistantLines()
		transcript = result.Transcript.Entries()
	}
	if awaitErr != nil {
		final.Kind = poller.Kind(awaitErr)
		final.Error = awaitErr.Error()
	}

	out := &domain.RunRecord{
		RunID:      result.Run.ID,
		ThreadID:   result.Run.ThreadID,
		AgentID:    result.Run.AgentID,
		Status:     string(result.Run.Status),
		Attempts:   result.Run.Attempts,
		Error:      final.Error,
		Transcript: transcript,
		CreatedAt:  result.Run.CreatedAt,
	}
	if rec != nil {
		out.Role = rec.Role
		out.Ticket = rec.Ticket
	}
	h.record(ctx, out)

	if err := wsjson.Write(ctx, ws, final); err != nil {
		h.logger.Warn("Failed to send watch result", "run_id", runID, "error", err)
	}
}

func (h *Handler) lookup(ctx context.Context, runID string) *domain.RunRecord {
	if h.repo == nil {
		return nil
	}
	rec, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		h.logger.Warn("Failed to load run record", "run_id", runID, "error", err)
		return nil
	}
	return rec
}

func recordedResult(rec *domain.RunRecord) WatchEvent {
	tr := transcript.New()
	_, _ = tr.Append(rec.Transcript...)
	ev := WatchEvent{
		Type: EventResult,
		Run: poller.Run{
			ID:        rec.RunID,
			ThreadID:  rec.ThreadID,
			AgentID:   rec.AgentID,
			Status:    poller.Status(rec.Status),
			CreatedAt: rec.CreatedAt,
			Attempts:  rec.Attempts,
			Error:     rec.Error,
		},
		Lines: tr.AssistantLines(),
		Error: rec.Error,
	}
	if ev.Run.Status != poller.StatusCompleted {
		ev.Kind = rec.Status
	}
	return ev
}
