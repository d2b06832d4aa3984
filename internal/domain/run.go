package domain

import (
	"time"
)

// MessageRole identifies the author of a transcript entry.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is a single entry of a run transcript.
type Message struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"created_at"`
}

// IsAgent reports whether the entry was authored by the agent rather than the caller.
func (m Message) IsAgent() bool {
	return m.Role != MessageRoleUser
}

// RunRecord is the persisted summary of one agent invocation.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	ThreadID   string    `json:"thread_id"`
	AgentID    string    `json:"agent_id"`
	Role       Role      `json:"role,omitempty"`
	Ticket     string    `json:"ticket"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	Transcript []Message `json:"transcript,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Terminal reports whether the recorded status ends the run lifecycle.
func (r *RunRecord) Terminal() bool {
	switch r.Status {
	case "completed", "failed", "cancelled", "expired":
		return true
	default:
		return false
	}
}
