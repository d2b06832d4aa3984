package agentsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/triage-agents/internal/domain"
	"github.com/google/uuid"
)

const (
	defaultAPIVersion  = "v1"
	defaultHTTPTimeout = 60 * time.Second
	emptyMessageText   = "<no text content>"
)

// RESTClient talks to the agents data-plane REST API of a project endpoint.
type RESTClient struct {
	endpoint   string
	apiVersion string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// RESTOption configures a RESTClient.
type RESTOption func(*RESTClient)

// WithAPIVersion sets the api-version query parameter.
func WithAPIVersion(version string) RESTOption {
	return func(c *RESTClient) {
		if v := strings.TrimSpace(version); v != "" {
			c.apiVersion = v
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) RESTOption {
	return func(c *RESTClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) RESTOption {
	return func(c *RESTClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewRESTClient creates a client for the project endpoint, authenticating with
// a bearer token when one is given.
func NewRESTClient(endpoint, token string, opts ...RESTOption) (*RESTClient, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("new rest client: endpoint is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("new rest client: parse endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("new rest client: endpoint must include scheme and host")
	}

	c := &RESTClient{
		endpoint:   strings.TrimRight(trimmed, "/"),
		apiVersion: defaultAPIVersion,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type restConnectedAgent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type restTool struct {
	Type           string              `json:"type"`
	ConnectedAgent *restConnectedAgent `json:"connected_agent,omitempty"`
}

type restCreateAgentRequest struct {
	Model        string     `json:"model"`
	Name         string     `json:"name"`
	Instructions string     `json:"instructions"`
	Tools        []restTool `json:"tools,omitempty"`
}

type restAgent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Model        string `json:"model"`
	Instructions string `json:"instructions"`
	CreatedAt    int64  `json:"created_at"`
}

type restThread struct {
	ID string `json:"id"`
}

type restCreateMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type restCreateRunRequest struct {
	AssistantID string `json:"assistant_id"`
}

type restRun struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"thread_id"`
	AssistantID string    `json:"assistant_id"`
	Status      string    `json:"status"`
	CreatedAt   int64     `json:"created_at"`
	LastError   *RunError `json:"last_error"`
}

type restMessageText struct {
	Value string `json:"value"`
}

type restMessageContent struct {
	Type string           `json:"type"`
	Text *restMessageText `json:"text,omitempty"`
}

type restMessage struct {
	ID        string               `json:"id"`
	Role      string               `json:"role"`
	CreatedAt int64                `json:"created_at"`
	Content   []restMessageContent `json:"content"`
}

type restMessageList struct {
	Data    []restMessage `json:"data"`
	HasMore bool          `json:"has_more"`
	LastID  string        `json:"last_id"`
}

// CreateAgent registers an agent.
func (c *RESTClient) CreateAgent(ctx context.Context, spec AgentSpec) (domain.Agent, error) {
	req := restCreateAgentRequest{
		Model:        spec.Model,
		Name:         spec.Name,
		Instructions: spec.Instructions,
	}
	for _, tool := range spec.Tools {
		req.Tools = append(req.Tools, restTool{
			Type: "connected_agent",
			ConnectedAgent: &restConnectedAgent{
				ID:          tool.ID,
				Name:        tool.Name,
				Description: tool.Description,
			},
		})
	}

	var created restAgent
	if err := c.doJSON(ctx, http.MethodPost, "/assistants", nil, req, &created); err != nil {
		return domain.Agent{}, fmt.Errorf("create agent %s: %w", spec.Name, err)
	}
	return domain.Agent{
		ID:           created.ID,
		Role:         spec.Role,
		Name:         created.Name,
		Instructions: created.Instructions,
		Model:        created.Model,
		CreatedAt:    unixTime(created.CreatedAt),
	}, nil
}

// SubmitRun creates a thread holding the ticket and starts a run on it.
func (c *RESTClient) SubmitRun(ctx context.Context, agentID, ticket string) (RunSnapshot, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return RunSnapshot{}, ErrAgentIDRequired
	}

	var thread restThread
	if err := c.doJSON(ctx, http.MethodPost, "/threads", nil, struct{}{}, &thread); err != nil {
		return RunSnapshot{}, fmt.Errorf("create thread: %w", err)
	}

	msgPath := "/threads/" + url.PathEscape(thread.ID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, msgPath, nil, restCreateMessageRequest{Role: "user", Content: ticket}, nil); err != nil {
		return RunSnapshot{}, fmt.Errorf("create message: %w", err)
	}

	var run restRun
	runPath := "/threads/" + url.PathEscape(thread.ID) + "/runs"
	if err := c.doJSON(ctx, http.MethodPost, runPath, nil, restCreateRunRequest{AssistantID: agentID}, &run); err != nil {
		return RunSnapshot{}, fmt.Errorf("create run: %w", err)
	}
	if run.ThreadID == "" {
		run.ThreadID = thread.ID
	}
	return run.snapshot(), nil
}

// GetRun fetches the run and any transcript messages after the cursor.
func (c *RESTClient) GetRun(ctx context.Context, ref RunRef, afterMessageID string) (RunSnapshot, error) {
	path, err := runPath(ref)
	if err != nil {
		return RunSnapshot{}, err
	}

	var run restRun
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &run); err != nil {
		return RunSnapshot{}, fmt.Errorf("get run: %w", err)
	}
	if run.ThreadID == "" {
		run.ThreadID = ref.ThreadID
	}
	snap := run.snapshot()

	messages, err := c.listMessages(ctx, ref.ThreadID, afterMessageID)
	if err != nil {
		return RunSnapshot{}, err
	}
	snap.Messages = messages
	return snap, nil
}

func (c *RESTClient) listMessages(ctx context.Context, threadID, after string) ([]domain.Message, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	var out []domain.Message
	for {
		query := url.Values{"order": {"asc"}}
		if after != "" {
			query.Set("after", after)
		}
		var page restMessageList
		if err := c.doJSON(ctx, http.MethodGet, path, query, nil, &page); err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range page.Data {
			out = append(out, m.toDomain())
		}
		if !page.HasMore || len(page.Data) == 0 {
			return out, nil
		}
		after = page.LastID
		if after == "" {
			after = page.Data[len(page.Data)-1].ID
		}
	}
}

func (r restRun) snapshot() RunSnapshot {
	return RunSnapshot{
		Ref:       RunRef{ThreadID: r.ThreadID, RunID: r.ID},
		AgentID:   r.AssistantID,
		Status:    r.Status,
		LastError: r.LastError,
		CreatedAt: unixTime(r.CreatedAt),
	}
}

func (m restMessage) toDomain() domain.Message {
	var parts []string
	for _, item := range m.Content {
		if item.Text != nil && item.Text.Value != "" {
			parts = append(parts, item.Text.Value)
		}
	}
	text := strings.Join(parts, "\n")
	if text == "" {
		text = emptyMessageText
	}
	return domain.Message{
		ID:        m.ID,
		Role:      domain.MessageRole(strings.ToLower(m.Role)),
		Text:      text,
		CreatedAt: unixTime(m.CreatedAt),
	}
}

func (c *RESTClient) doJSON(ctx context.Context, method, path string, query url.Values, payload any, out any) error {
	raw, err := c.doRaw(ctx, method, path, query, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %w", ErrDecodeResponse, err)
	}
	return nil
}

func (c *RESTClient) doRaw(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var bodyReader io.Reader
	if payload != nil {
		var encoded bytes.Buffer
		if err := json.NewEncoder(&encoded).Encode(payload); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncodeRequest, err)
		}
		bodyReader = &encoded
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", c.apiVersion)

	request, err := http.NewRequestWithContext(ctx, method, c.endpoint+path+"?"+query.Encode(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
	requestID := uuid.NewString()
	request.Header.Set("x-ms-client-request-id", requestID)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadResponse, err)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		c.logger.Debug("Agent service request failed",
			"method", method,
			"path", path,
			"status", response.StatusCode,
			"request_id", requestID,
		)
		return nil, mapRequestError(response.StatusCode, body)
	}
	return body, nil
}

func runPath(ref RunRef) (string, error) {
	threadID := strings.TrimSpace(ref.ThreadID)
	runID := strings.TrimSpace(ref.RunID)
	if threadID == "" || runID == "" {
		return "", ErrRunIDRequired
	}
	return "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID), nil
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
