package poller

import "strings"

// Status is the normalised lifecycle state of a run.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	// StatusExpired is client-side: the poll budget ran out before the run ended.
	StatusExpired Status = "expired"
	// StatusUnknown is any status string the service reports that is not recognised.
	StatusUnknown Status = "unknown"
)

// ParseStatus folds the service's status vocabulary onto Status. Enum-style
// prefixes such as "RunStatus.IN_PROGRESS" and letter case are ignored.
// A remote "expired" or "incomplete" run is a remote failure, not StatusExpired.
func ParseStatus(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ReplaceAll(s, "-", "_")

	switch s {
	case "queued", "pending", "created":
		return StatusQueued
	case "in_progress", "inprogress", "running", "cancelling", "canceling", "requires_action":
		return StatusInProgress
	case "completed", "succeeded", "success":
		return StatusCompleted
	case "failed", "expired", "incomplete", "error":
		return StatusFailed
	case "cancelled", "canceled":
		return StatusCancelled
	default:
		return StatusUnknown
	}
}

// Terminal reports whether the status ends the run lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the run completed.
func (s Status) Succeeded() bool { return s == StatusCompleted }

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return 2
	default:
		return -1
	}
}

// advance returns the next state given an observation. Transitions only move
// forward: unknown statuses and regressions leave the current state in place,
// and a terminal state is final.
func advance(current, observed Status) Status {
	if current.Terminal() {
		return current
	}
	if observed.rank() <= current.rank() {
		return current
	}
	return observed
}
