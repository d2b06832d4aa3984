package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/triage-agents/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "agents.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func agentsWithPrefix(prefix string) []domain.Agent {
	var agents []domain.Agent
	for _, role := range domain.Roles {
		agents = append(agents, domain.Agent{
			ID:           prefix + string(role),
			Role:         role,
			Name:         string(role),
			Model:        "gpt-4o",
			Instructions: "do " + string(role),
			CreatedAt:    time.Unix(1_700_000_000, 0),
		})
	}
	return agents
}

func TestReplaceAgentsOverwritesPreviousRegistry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceAgents(ctx, agentsWithPrefix("first_")); err != nil {
		t.Fatalf("ReplaceAgents(first) error = %v", err)
	}
	second := agentsWithPrefix("second_")[:3]
	if err := s.ReplaceAgents(ctx, second); err != nil {
		t.Fatalf("ReplaceAgents(second) error = %v", err)
	}

	got, err := s.GetAgents(ctx)
	if err != nil {
		t.Fatalf("GetAgents() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 agents after replacement, got %d", len(got))
	}
	for i, a := range got {
		if a.Role != domain.Roles[i] {
			t.Fatalf("expected role order, got %s at %d", a.Role, i)
		}
		if a.ID != "second_"+string(a.Role) {
			t.Fatalf("expected second registry, got %q", a.ID)
		}
	}
}

func TestRecordRunUpsertsByRunID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &domain.RunRecord{
		RunID:    "run_1",
		ThreadID: "thread_1",
		AgentID:  "asst_1",
		Role:     domain.RoleTriage,
		Ticket:   "VPN outage affecting finance team",
		Status:   "queued",
	}
	if err := s.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	update := &domain.RunRecord{
		RunID:    "run_1",
		ThreadID: "thread_1",
		AgentID:  "asst_1",
		Status:   "completed",
		Attempts: 3,
		Transcript: []domain.Message{
			{ID: "m1", Role: domain.MessageRoleAssistant, Text: "Priority: High"},
		},
	}
	if err := s.RecordRun(ctx, update); err != nil {
		t.Fatalf("RecordRun(update) error = %v", err)
	}

	got, err := s.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got == nil {
		t.Fatal("expected run to exist")
	}
	if got.Status != "completed" || got.Attempts != 3 {
		t.Fatalf("unexpected run: %+v", got)
	}
	if got.Ticket != run.Ticket || got.Role != domain.RoleTriage {
		t.Fatalf("expected ticket and role to be kept, got %+v", got)
	}
	if len(got.Transcript) != 1 || got.Transcript[0].Text != "Priority: High" {
		t.Fatalf("unexpected transcript: %+v", got.Transcript)
	}
	if !got.Terminal() {
		t.Fatal("expected completed run to be terminal")
	}
}

func TestGetRunMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetRun(context.Background(), "nope")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
}

func TestListRunsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"run_a", "run_b", "run_c"} {
		if err := s.RecordRun(ctx, &domain.RunRecord{RunID: id, ThreadID: "t", AgentID: "a", Status: "queued"}); err != nil {
			t.Fatalf("RecordRun(%s) error = %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestRecordRunRequiresID(t *testing.T) {
	s := newTestStore(t)
	if err := s.RecordRun(context.Background(), &domain.RunRecord{}); err == nil {
		t.Fatal("expected error for missing run id")
	}
}

func TestWithBusyRetry(t *testing.T) {
	calls := 0
	err := withBusyRetry(context.Background(), "op", func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second call, got %v after %d calls", err, calls)
	}

	calls = 0
	plain := errors.New("constraint failed")
	if err := withBusyRetry(context.Background(), "op", func() error { calls++; return plain }); !errors.Is(err, plain) || calls != 1 {
		t.Fatalf("expected non-conflict error to be returned immediately, got %v after %d calls", err, calls)
	}
}
