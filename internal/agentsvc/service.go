// Package agentsvc is the client boundary to the remote agent-execution service.
package agentsvc

import (
	"context"
	"time"

	"github.com/ashureev/triage-agents/internal/domain"
)

// Service defines the operations consumed from the remote agent service.
// It is implemented by the REST and gRPC clients.
type Service interface {
	// CreateAgent registers an agent and returns it with its service-assigned id.
	CreateAgent(ctx context.Context, spec AgentSpec) (domain.Agent, error)

	// SubmitRun starts one invocation of agentID against the ticket text.
	SubmitRun(ctx context.Context, agentID, ticket string) (RunSnapshot, error)

	// GetRun returns the current run status and the transcript messages newer
	// than afterMessageID, oldest first.
	GetRun(ctx context.Context, ref RunRef, afterMessageID string) (RunSnapshot, error)
}

// Ensure both transports implement Service.
var (
	_ Service = (*RESTClient)(nil)
	_ Service = (*GrpcClient)(nil)
)

// AgentSpec describes an agent to create.
type AgentSpec struct {
	Role         domain.Role      `json:"role"`
	Name         string           `json:"name"`
	Model        string           `json:"model"`
	Instructions string           `json:"instructions"`
	Tools        []ConnectedAgent `json:"tools,omitempty"`
}

// ConnectedAgent lets an agent delegate to another agent as a tool.
type ConnectedAgent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RunRef addresses a run on the service.
type RunRef struct {
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id"`
}

// RunError is the failure detail the service reports for a run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RunError) String() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Code != "" && e.Message != "":
		return e.Code + ": " + e.Message
	case e.Message != "":
		return e.Message
	default:
		return e.Code
	}
}

// RunSnapshot is one observation of a run.
type RunSnapshot struct {
	Ref       RunRef           `json:"ref"`
	AgentID   string           `json:"agent_id"`
	Status    string           `json:"status"`
	LastError *RunError        `json:"last_error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Messages  []domain.Message `json:"messages,omitempty"`
}
