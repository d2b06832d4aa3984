package harness

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/triage-agents/internal/domain"
	"github.com/ashureev/triage-agents/internal/poller"
	"github.com/ashureev/triage-agents/internal/transcript"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeRunner) SubmitAndAwait(_ context.Context, agentID, ticket string, _ poller.Schedule) (poller.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, agentID)
	f.mu.Unlock()

	tr := transcript.New()
	_, _ = tr.Append(
		domain.Message{ID: agentID + "_u", Role: domain.MessageRoleUser, Text: ticket},
		domain.Message{ID: agentID + "_a", Role: domain.MessageRoleAssistant, Text: "answer from " + agentID},
	)
	tr.Seal()

	run := poller.Run{ID: "run_" + agentID, ThreadID: "thread_" + agentID, AgentID: agentID, Status: poller.StatusCompleted, Attempts: 1}
	if err := f.fail[agentID]; err != nil {
		run.Status = poller.StatusFailed
		return poller.Result{Run: run, Transcript: tr}, err
	}
	return poller.Result{Run: run, Transcript: tr}, nil
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []*domain.RunRecord
}

func (f *fakeRecorder) RecordRun(_ context.Context, run *domain.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func fullSet() domain.AgentSet {
	return domain.AgentSet{
		domain.RolePriority: "asst_priority",
		domain.RoleTeam:     "asst_team",
		domain.RoleEffort:   "asst_effort",
		domain.RoleTriage:   "asst_triage",
	}
}

func TestRunContinuesAfterFailure(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{
		"asst_team": &poller.RunFailedError{RunID: "run_asst_team", Reason: "rate_limit_exceeded: slow down"},
	}}
	recorder := &fakeRecorder{}
	h := New(runner, WithRecorder(recorder))

	report := h.Run(context.Background(), "VPN outage affecting finance team", fullSet(), poller.DefaultSchedule())

	want := []string{"asst_priority", "asst_team", "asst_effort", "asst_triage"}
	if strings.Join(runner.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("expected all four invocations in order, got %v", runner.calls)
	}
	if report.Succeeded() != 3 {
		t.Fatalf("expected 3 successes, got %d", report.Succeeded())
	}
	team := report.Outcomes[1]
	if team.Role != domain.RoleTeam || team.Kind() != "failed" {
		t.Fatalf("expected team to be reported as failed, got %s (%v)", team.Kind(), team.Err)
	}
	if report.Err() == nil {
		t.Fatal("expected report error when an agent failed")
	}
	var failed *poller.RunFailedError
	if !errors.As(report.Err(), &failed) {
		t.Fatalf("expected RunFailedError in report error, got %v", report.Err())
	}
	if len(recorder.runs) != 4 {
		t.Fatalf("expected every run to be recorded, got %d", len(recorder.runs))
	}
	if recorder.runs[1].Status != "failed" || recorder.runs[1].Error == "" {
		t.Fatalf("unexpected recorded failure: %+v", recorder.runs[1])
	}
}

func TestRunReportsMissingAgentInline(t *testing.T) {
	runner := &fakeRunner{}
	set := fullSet()
	delete(set, domain.RoleEffort)

	report := New(runner).Run(context.Background(), "ticket", set, poller.DefaultSchedule())
	if len(runner.calls) != 3 {
		t.Fatalf("expected the other three agents to run, got %v", runner.calls)
	}
	effort := report.Outcomes[2]
	if !errors.Is(effort.Err, ErrNoAgentID) || effort.Kind() != "missing" {
		t.Fatalf("expected missing agent outcome, got %v", effort.Err)
	}
	if !strings.Contains(effort.Err.Error(), "EFFORT_AGENT_ID") {
		t.Fatalf("expected env key in error, got %v", effort.Err)
	}
}

func TestRunAllSucceeded(t *testing.T) {
	report := New(&fakeRunner{}).Run(context.Background(), "ticket", fullSet(), poller.DefaultSchedule())
	if err := report.Err(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got := report.Outcomes[3].Lines; len(got) != 1 || got[0] != "[assistant] answer from asst_triage" {
		t.Fatalf("expected agent-only lines, got %v", got)
	}
	if len(report.Outcomes[3].Transcript) != 2 {
		t.Fatalf("expected full transcript to be kept, got %v", report.Outcomes[3].Transcript)
	}
}

func TestRenderConsolidatedReport(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{
		"asst_effort": &poller.RunExpiredError{RunID: "run_asst_effort", LastStatus: poller.StatusInProgress, Attempts: 12},
	}}
	report := New(runner).Run(context.Background(), "ticket", fullSet(), poller.DefaultSchedule())

	var buf bytes.Buffer
	if err := Render(&buf, report); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		ReportHeader,
		"[PRIORITY]\n[assistant] answer from asst_priority",
		"[EFFORT]\nFAILED (expired):",
		"[TRIAGE]",
		"3/4 agents completed",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
	if strings.Index(out, "[PRIORITY]") > strings.Index(out, "[TEAM]") {
		t.Fatal("expected priority before team")
	}
}
