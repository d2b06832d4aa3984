// Package harness runs every agent against one ticket and consolidates the results.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/triage-agents/internal/domain"
	"github.com/ashureev/triage-agents/internal/poller"
)

// ErrNoAgentID marks an agent role with no persisted identifier.
var ErrNoAgentID = errors.New("agent id is not configured")

// Runner performs one agent invocation. *poller.Poller satisfies it.
type Runner interface {
	SubmitAndAwait(ctx context.Context, agentID, ticket string, schedule poller.Schedule) (poller.Result, error)
}

var _ Runner = (*poller.Poller)(nil)

// Recorder persists run outcomes. *store.SQLiteStore satisfies it.
type Recorder interface {
	RecordRun(ctx context.Context, run *domain.RunRecord) error
}

// Outcome is the result of invoking one agent.
type Outcome struct {
	Role    domain.Role
	AgentID string
	Run     poller.Run
	// Lines holds the agent-authored transcript lines, or the whole transcript
	// when the agent wrote none.
	Lines []string
	// Transcript holds every transcript line.
	Transcript []string
	Err        error
}

// Succeeded reports whether the agent's run completed.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// Kind labels the failure: "failed", "cancelled", "expired", "missing" or "error".
func (o Outcome) Kind() string {
	if errors.Is(o.Err, ErrNoAgentID) {
		return "missing"
	}
	return poller.Kind(o.Err)
}

// Report is the consolidated result of a fan-out.
type Report struct {
	Ticket   string
	Outcomes []Outcome
	Elapsed  time.Duration
}

// Succeeded returns the number of agents whose run completed.
func (r Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

// Err joins the failures of every agent that did not complete, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s agent: %w", o.Role, o.Err))
		}
	}
	return errors.Join(errs...)
}

// Harness invokes the agents sequentially in role order.
type Harness struct {
	runner   Runner
	recorder Recorder
	logger   *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithRecorder persists every outcome.
func WithRecorder(r Recorder) Option {
	return func(h *Harness) { h.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New creates a harness.
func New(runner Runner, opts ...Option) *Harness {
	h := &Harness{runner: runner, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run invokes priority, team, effort and triage in turn. A failure is recorded
// against its agent and the remaining agents still run. Only a cancelled
// context stops the fan-out early; the skipped agents are reported with the
// context error.
func (h *Harness) Run(ctx context.Context, ticket string, agents domain.AgentSet, schedule poller.Schedule) Report {
	start := time.Now()
	report := Report{Ticket: ticket}

	for _, role := range domain.Roles {
		outcome := Outcome{Role: role, AgentID: agents.ID(role)}
		switch {
		case ctx.Err() != nil:
			outcome.Err = ctx.Err()
		case outcome.AgentID == "":
			outcome.Err = fmt.Errorf("%w: set %s", ErrNoAgentID, role.EnvKey())
		default:
			h.logger.Info("Running agent", "role", role, "agent_id", outcome.AgentID)
			result, err := h.runner.SubmitAndAwait(ctx, outcome.AgentID, ticket, schedule)
			outcome.Run = result.Run
			outcome.Err = err
			if result.Transcript != nil {
				outcome.Lines = result.Transcript.AssistantLines()
				outcome.Transcript = result.Transcript.Lines()
			}
			h.record(ctx, role, ticket, result, err)
		}

		if outcome.Err != nil {
			h.logger.Warn("Agent did not complete", "role", role, "kind", outcome.Kind(), "error", outcome.Err)
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	report.Elapsed = time.Since(start)
	return report
}

func (h *Harness) record(ctx context.Context, role domain.Role, ticket string, result poller.Result, runErr error) {
	if h.recorder == nil || result.Run.ID == "" {
		return
	}
	rec := &domain.RunRecord{
		RunID:     result.Run.ID,
		ThreadID:  result.Run.ThreadID,
		AgentID:   result.Run.AgentID,
		Role:      role,
		Ticket:    ticket,
		Status:    string(result.Run.Status),
		Attempts:  result.Run.Attempts,
		CreatedAt: result.Run.CreatedAt,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if result.Transcript != nil {
		rec.Transcript = result.Transcript.Entries()
	}
	if err := h.recorder.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		h.logger.Warn("Failed to record run", "run_id", rec.RunID, "error", err)
	}
}
