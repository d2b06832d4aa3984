// Package poller drives a single agent run from submission to a terminal state
// using bounded exponential backoff.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/triage-agents/internal/agentsvc"
	"github.com/ashureev/triage-agents/internal/clock"
	"github.com/ashureev/triage-agents/internal/domain"
	"github.com/ashureev/triage-agents/internal/transcript"
)

// Run is one agent invocation against one ticket.
type Run struct {
	ID           string    `json:"run_id"`
	ThreadID     string    `json:"thread_id"`
	AgentID      string    `json:"agent_id"`
	Status       Status    `json:"status"`
	RawStatus    string    `json:"raw_status,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastPolledAt time.Time `json:"last_polled_at"`
	Attempts     int       `json:"attempts"`
	Error        string    `json:"error,omitempty"`
}

// Ref returns the service handle for the run.
func (r Run) Ref() agentsvc.RunRef {
	return agentsvc.RunRef{ThreadID: r.ThreadID, RunID: r.ID}
}

func (r *Run) observe(snap agentsvc.RunSnapshot) {
	r.RawStatus = snap.Status
	r.Status = advance(r.Status, ParseStatus(snap.Status))
	if snap.LastError != nil {
		r.Error = snap.LastError.String()
	}
}

// Result is the outcome of awaiting a run.
type Result struct {
	Run        Run
	Transcript *transcript.Collector
}

// Event is emitted after every poll.
type Event struct {
	Run         Run
	NewMessages []domain.Message
	NextDelay   time.Duration
	Err         error
}

// Poller submits runs and polls them to completion.
type Poller struct {
	svc      agentsvc.Service
	clock    clock.Clock
	logger   *slog.Logger
	observer func(Event)
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock sets the clock used for sleeps and timestamps.
func WithClock(c clock.Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver registers a callback invoked synchronously after each poll.
func WithObserver(fn func(Event)) Option {
	return func(p *Poller) {
		p.observer = fn
	}
}

// New creates a poller over the agent service.
func New(svc agentsvc.Service, opts ...Option) *Poller {
	p := &Poller{
		svc:    svc,
		clock:  clock.Real{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit starts a run of agentID against the ticket. It is not retried.
func (p *Poller) Submit(ctx context.Context, agentID, ticket string) (Run, error) {
	snap, err := p.svc.SubmitRun(ctx, agentID, ticket)
	if err != nil {
		return Run{}, fmt.Errorf("submit run: %w", err)
	}

	run := Run{
		ID:        snap.Ref.RunID,
		ThreadID:  snap.Ref.ThreadID,
		AgentID:   agentID,
		Status:    StatusQueued,
		CreatedAt: snap.CreatedAt,
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = p.clock.Now()
	}
	run.observe(snap)

	p.logger.Info("Run submitted", "run_id", run.ID, "thread_id", run.ThreadID, "agent_id", agentID)
	return run, nil
}

// SubmitAndAwait submits a run and polls it to a terminal state.
func (p *Poller) SubmitAndAwait(ctx context.Context, agentID, ticket string, schedule Schedule) (Result, error) {
	run, err := p.Submit(ctx, agentID, ticket)
	if err != nil {
		return Result{}, err
	}
	return p.Await(ctx, run, schedule)
}

// Await polls run until it reaches a terminal status, the attempt budget is
// spent, or the wall-clock ceiling is reached. Completed runs return a nil
// error; failed, cancelled and expired runs return *RunFailedError,
// *RunCancelledError or *RunExpiredError alongside the result. Transient
// poll errors count as attempts and are retried; other poll errors abort.
func (p *Poller) Await(ctx context.Context, run Run, schedule Schedule) (Result, error) {
	schedule = schedule.Normalize()
	tr := transcript.New()
	start := p.clock.Now()
	deadline := start.Add(schedule.Ceiling())
	delay := schedule.InitialDelay

	var lastErr error
	for !run.Status.Terminal() && run.Attempts < schedule.MaxAttempts {
		if p.clock.Now().Add(delay).After(deadline) {
			p.logger.Warn("Run wall-clock ceiling reached", "run_id", run.ID, "ceiling", schedule.Ceiling())
			break
		}
		if err := p.clock.Sleep(ctx, delay); err != nil {
			tr.Seal()
			return Result{Run: run, Transcript: tr}, err
		}

		snap, err := p.svc.GetRun(ctx, run.Ref(), tr.Cursor())
		run.Attempts++
		run.LastPolledAt = p.clock.Now()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				tr.Seal()
				return Result{Run: run, Transcript: tr}, ctxErr
			}
			if !agentsvc.IsTransient(err) {
				tr.Seal()
				return Result{Run: run, Transcript: tr}, fmt.Errorf("poll run %s: %w", run.ID, err)
			}
			lastErr = err
			delay = schedule.Next(delay)
			p.logger.Warn("Transient poll error", "run_id", run.ID, "attempt", run.Attempts, "next_delay", delay, "error", err)
			p.notify(Event{Run: run, NextDelay: delay, Err: err})
			continue
		}

		lastErr = nil
		before := tr.Len()
		added, _ := tr.Append(snap.Messages...)
		run.observe(snap)
		if !run.Status.Terminal() {
			delay = schedule.Next(delay)
		}
		p.logger.Debug("Polled run",
			"run_id", run.ID,
			"status", run.Status,
			"raw_status", run.RawStatus,
			"attempt", run.Attempts,
			"new_messages", added,
		)
		p.notify(Event{Run: run, NewMessages: tr.Entries()[before:], NextDelay: delay})
	}

	tr.Seal()
	return p.finish(run, tr, start, lastErr)
}

func (p *Poller) finish(run Run, tr *transcript.Collector, start time.Time, lastErr error) (Result, error) {
	switch run.Status {
	case StatusCompleted:
		p.logger.Info("Run completed", "run_id", run.ID, "attempts", run.Attempts)
		return Result{Run: run, Transcript: tr}, nil
	case StatusFailed:
		p.logger.Warn("Run failed", "run_id", run.ID, "status", run.RawStatus, "error", run.Error)
		return Result{Run: run, Transcript: tr}, &RunFailedError{RunID: run.ID, RawStatus: run.RawStatus, Reason: run.Error}
	case StatusCancelled:
		p.logger.Warn("Run cancelled", "run_id", run.ID, "error", run.Error)
		return Result{Run: run, Transcript: tr}, &RunCancelledError{RunID: run.ID, Reason: run.Error}
	}

	expired := &RunExpiredError{
		RunID:      run.ID,
		LastStatus: run.Status,
		Attempts:   run.Attempts,
		Elapsed:    p.clock.Now().Sub(start),
		Err:        lastErr,
	}
	run.Status = StatusExpired
	if run.Error == "" {
		run.Error = expired.Error()
	}
	p.logger.Warn("Run expired", "run_id", run.ID, "attempts", run.Attempts, "elapsed", expired.Elapsed)
	return Result{Run: run, Transcript: tr}, expired
}

func (p *Poller) notify(ev Event) {
	if p.observer != nil {
		p.observer(ev)
	}
}
