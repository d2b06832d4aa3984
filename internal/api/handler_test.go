//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/triage-agents/internal/agentsvc"
	"github.com/ashureev/triage-agents/internal/clock"
	"github.com/ashureev/triage-agents/internal/domain"
	"github.com/ashureev/triage-agents/internal/middleware"
	"github.com/ashureev/triage-agents/internal/poller"
	"github.com/ashureev/triage-agents/internal/store"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

type fakeService struct {
	mu        sync.Mutex
	submitErr error
	statuses  []string
	polls     int
	submitted []string
}

func (f *fakeService) CreateAgent(_ context.Context, spec agentsvc.AgentSpec) (domain.Agent, error) {
	return domain.Agent{ID: "asst_" + string(spec.Role), Role: spec.Role, Name: spec.Name}, nil
}

func (f *fakeService) SubmitRun(_ context.Context, agentID, ticket string) (agentsvc.RunSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return agentsvc.RunSnapshot{}, f.submitErr
	}
	f.submitted = append(f.submitted, agentID+":"+ticket)
	return agentsvc.RunSnapshot{
		Ref:     agentsvc.RunRef{ThreadID: "thread_1", RunID: "run_1"},
		AgentID: agentID,
		Status:  "queued",
	}, nil
}

func (f *fakeService) GetRun(_ context.Context, ref agentsvc.RunRef, after string) (agentsvc.RunSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.statuses[min(f.polls, len(f.statuses)-1)]
	f.polls++
	snap := agentsvc.RunSnapshot{Ref: ref, Status: status}
	if status == "completed" && after == "" {
		snap.Messages = []domain.Message{
			{ID: "msg_1", Role: domain.MessageRoleUser, Text: "VPN down"},
			{ID: "msg_2", Role: domain.MessageRoleAssistant, Text: "Priority: high"},
		}
	}
	return snap, nil
}

func newTestRouter(t *testing.T, svc agentsvc.Service, agents domain.AgentSet) (http.Handler, *store.SQLiteStore) {
	t.Helper()
	return newLimitedRouter(t, svc, agents, 0, nil)
}

func newLimitedRouter(t *testing.T, svc agentsvc.Service, agents domain.AgentSet, maxWatches int, limit func(http.Handler) http.Handler) (http.Handler, *store.SQLiteStore) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "agents.db"))
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	base := NewHandler(svc, repo, Options{
		Endpoint: "https://proj.example.com/api/projects/p1",
		Agents:   agents,
		Schedule: poller.Schedule{InitialDelay: time.Second, MaxDelay: 4 * time.Second, MaxAttempts: 5},
		Clock:    clock.NewFake(time.Unix(1_700_000_000, 0)),

		MaxWatches: maxWatches,
	})
	r := chi.NewRouter()
	NewHealthHandler(base).RegisterHealth(r)
	NewTriageHandler(base, limit).RegisterRoutes(r)
	return r, repo
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestRootReportsTriageAgent(t *testing.T) {
	router, _ := newTestRouter(t, &fakeService{}, domain.AgentSet{domain.RoleTriage: "asst_triage"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["status"] != "ok" || got["triage_agent_id"] != "asst_triage" {
		t.Fatalf("unexpected body: %v", got)
	}
	if got["endpoint"] != "https://proj.example.com/api/projects/p1" {
		t.Fatalf("expected endpoint to be reported, got %q", got["endpoint"])
	}
}

func TestHealthChecksDatabase(t *testing.T) {
	router, _ := newTestRouter(t, &fakeService{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTriageWithoutAgentReturns500(t *testing.T) {
	router, _ := newTestRouter(t, &fakeService{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/triage", strings.NewReader(`{"ticket":"VPN down"}`)))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "TRIAGE_AGENT_ID") {
		t.Fatalf("expected hint about TRIAGE_AGENT_ID, got %s", w.Body.String())
	}
}

func TestTriageRequiresTicket(t *testing.T) {
	router, _ := newTestRouter(t, &fakeService{}, domain.AgentSet{domain.RoleTriage: "asst_triage"})

	cases := map[string]int{
		`not json`:        http.StatusBadRequest,
		`{"ticket":"  "}`: http.StatusUnprocessableEntity,
	}
	for body, want := range cases {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/triage", strings.NewReader(body)))
		if w.Code != want {
			t.Fatalf("%q: expected %d, got %d", body, want, w.Code)
		}
	}
}

func TestTriageServiceFailureReturns502(t *testing.T) {
	svc := &fakeService{submitErr: errors.New("connection refused")}
	router, _ := newTestRouter(t, svc, domain.AgentSet{domain.RoleTriage: "asst_triage"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/triage", strings.NewReader(`{"ticket":"VPN down"}`)))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Failed to triage ticket") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestTriageSubmitsAndRecordsRun(t *testing.T) {
	svc := &fakeService{}
	router, repo := newTestRouter(t, svc, domain.AgentSet{domain.RoleTriage: "asst_triage"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/triage", strings.NewReader(`{"ticket":"VPN down"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var got triageResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ThreadID != "thread_1" || got.RunID != "run_1" {
		t.Fatalf("unexpected response: %+v", got)
	}
	if len(svc.submitted) != 1 || svc.submitted[0] != "asst_triage:VPN down" {
		t.Fatalf("unexpected submissions: %v", svc.submitted)
	}

	rec, err := repo.GetRun(context.Background(), "run_1")
	if err != nil || rec == nil {
		t.Fatalf("expected recorded run, got %v (%v)", rec, err)
	}
	if rec.Role != domain.RoleTriage || rec.Ticket != "VPN down" || rec.Status != "queued" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/run_1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for recorded run, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	var list struct {
		Runs []domain.RunRecord `json:"runs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Runs) != 1 || list.Runs[0].RunID != "run_1" {
		t.Fatalf("unexpected run list: %+v", list.Runs)
	}
}

func TestGetRunNotFound(t *testing.T) {
	router, _ := newTestRouter(t, &fakeService{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/run_missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListRunsRejectsBadLimit(t *testing.T) {
	router, _ := newTestRouter(t, &fakeService{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs?limit=-1", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestWatchStreamsUntilResult(t *testing.T) {
	svc := &fakeService{statuses: []string{"queued", "in_progress", "completed"}}
	router, repo := newTestRouter(t, svc, domain.AgentSet{domain.RoleTriage: "asst_triage"})
	if err := repo.RecordRun(context.Background(), &domain.RunRecord{
		RunID: "run_1", ThreadID: "thread_1", AgentID: "asst_triage",
		Role: domain.RoleTriage, Ticket: "VPN down", Status: "queued",
	}); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http")+"/ws/runs/thread_1/run_1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.CloseNow()

	var frames []WatchEvent
	for {
		var ev WatchEvent
		if err := wsjson.Read(ctx, ws, &ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		frames = append(frames, ev)
		if ev.Type == EventResult {
			break
		}
	}

	if len(frames) != 4 {
		t.Fatalf("expected 3 poll frames and a result, got %d", len(frames))
	}
	if frames[0].Run.Status != poller.StatusQueued || frames[1].Run.Status != poller.StatusInProgress {
		t.Fatalf("unexpected poll statuses: %s, %s", frames[0].Run.Status, frames[1].Run.Status)
	}
	if len(frames[2].Messages) != 2 {
		t.Fatalf("expected transcript messages with the completing poll, got %d", len(frames[2].Messages))
	}

	result := frames[3]
	if result.Run.Status != poller.StatusCompleted || result.Error != "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "[assistant] Priority: high" {
		t.Fatalf("unexpected result lines: %v", result.Lines)
	}

	rec, err := repo.GetRun(context.Background(), "run_1")
	if err != nil || rec == nil {
		t.Fatalf("expected recorded run, got %v (%v)", rec, err)
	}
	if rec.Status != "completed" || rec.Attempts != 3 || len(rec.Transcript) != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Ticket != "VPN down" || rec.Role != domain.RoleTriage {
		t.Fatalf("expected ticket and role to be kept, got %+v", rec)
	}
}

func TestWatchReportsExpiry(t *testing.T) {
	svc := &fakeService{statuses: []string{"in_progress"}}
	router, _ := newTestRouter(t, svc, nil)

	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http")+"/ws/runs/thread_9/run_9", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.CloseNow()

	for {
		var ev WatchEvent
		if err := wsjson.Read(ctx, ws, &ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Type != EventResult {
			continue
		}
		if ev.Kind != "expired" || ev.Run.Status != poller.StatusExpired {
			t.Fatalf("expected expired result, got %+v", ev)
		}
		return
	}
}

func watchURL(server *httptest.Server, threadID, runID string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/runs/" + threadID + "/" + runID
}

func TestWatchReplaysSettledRun(t *testing.T) {
	svc := &fakeService{statuses: []string{"in_progress"}}
	router, repo := newTestRouter(t, svc, nil)
	if err := repo.RecordRun(context.Background(), &domain.RunRecord{
		RunID: "run_1", ThreadID: "thread_1", AgentID: "asst_triage",
		Ticket: "VPN down", Status: "completed", Attempts: 3,
		Transcript: []domain.Message{
			{ID: "msg_1", Role: domain.MessageRoleUser, Text: "VPN down"},
			{ID: "msg_2", Role: domain.MessageRoleAssistant, Text: "Priority: high"},
		},
	}); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, watchURL(server, "thread_1", "run_1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.CloseNow()

	var ev WatchEvent
	if err := wsjson.Read(ctx, ws, &ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != EventResult || ev.Run.Status != poller.StatusCompleted || ev.Kind != "" {
		t.Fatalf("expected completed result as first frame, got %+v", ev)
	}
	if len(ev.Lines) != 1 || ev.Lines[0] != "[assistant] Priority: high" {
		t.Fatalf("expected recorded lines, got %v", ev.Lines)
	}

	svc.mu.Lock()
	polls := svc.polls
	svc.mu.Unlock()
	if polls != 0 {
		t.Fatalf("expected no polls for a settled run, got %d", polls)
	}
}

// stallingService holds every GetRun until released.
type stallingService struct {
	*fakeService
	started chan struct{}
	release chan struct{}
}

func (s *stallingService) GetRun(ctx context.Context, _ agentsvc.RunRef, _ string) (agentsvc.RunSnapshot, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return agentsvc.RunSnapshot{}, errors.New("released")
}

func TestWatchRejectsBeyondCap(t *testing.T) {
	svc := &stallingService{
		fakeService: &fakeService{},
		started:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	router, _ := newLimitedRouter(t, svc, nil, 1, nil)

	server := httptest.NewServer(router)
	defer server.Close()
	defer close(svc.release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first, _, err := websocket.Dial(ctx, watchURL(server, "thread_1", "run_1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.CloseNow()

	select {
	case <-svc.started:
	case <-ctx.Done():
		t.Fatalf("expected first watch to start polling")
	}

	_, resp, err := websocket.Dial(ctx, watchURL(server, "thread_2", "run_2"), nil)
	if err == nil {
		t.Fatalf("expected second watch to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", resp)
	}
}

func TestWatchIsRateLimited(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	limit := middleware.RateLimit(middleware.NewRateLimiter(ctx, 1, time.Minute))
	svc := &fakeService{statuses: []string{"completed"}}
	router, _ := newLimitedRouter(t, svc, domain.AgentSet{domain.RoleTriage: "asst_triage"}, 0, limit)

	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Post(server.URL+"/triage", "application/json", strings.NewReader(`{"ticket":"VPN down"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected first request to pass the limiter, got %d", resp.StatusCode)
	}

	_, wsResp, err := websocket.Dial(ctx, watchURL(server, "thread_1", "run_1"), nil)
	if err == nil {
		t.Fatalf("expected watch to be rate limited")
	}
	if wsResp == nil || wsResp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", wsResp)
	}
}
