package poller

import (
	"errors"
	"fmt"
	"time"
)

// RunFailedError reports a run the service declared failed.
type RunFailedError struct {
	RunID     string
	RawStatus string
	Reason    string
}

func (e *RunFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("run %s failed (status %s)", e.RunID, e.RawStatus)
	}
	return fmt.Sprintf("run %s failed: %s", e.RunID, e.Reason)
}

// RunCancelledError reports a run the service declared cancelled.
type RunCancelledError struct {
	RunID  string
	Reason string
}

func (e *RunCancelledError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("run %s was cancelled", e.RunID)
	}
	return fmt.Sprintf("run %s was cancelled: %s", e.RunID, e.Reason)
}

// RunExpiredError reports that polling gave up while the run was still active.
// It is a client-side timeout, not an agent failure.
type RunExpiredError struct {
	RunID      string
	LastStatus Status
	Attempts   int
	Elapsed    time.Duration
	// Err is the last transient poll error, if the final poll failed.
	Err error
}

func (e *RunExpiredError) Error() string {
	msg := fmt.Sprintf("run %s still %s after %d polls over %s", e.RunID, e.LastStatus, e.Attempts, e.Elapsed)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RunExpiredError) Unwrap() error { return e.Err }

// Kind labels an outcome error for reports: "failed", "cancelled", "expired" or "error".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var (
		failed    *RunFailedError
		cancelled *RunCancelledError
		expired   *RunExpiredError
	)
	switch {
	case errors.As(err, &failed):
		return string(StatusFailed)
	case errors.As(err, &cancelled):
		return string(StatusCancelled)
	case errors.As(err, &expired):
		return string(StatusExpired)
	default:
		return "error"
	}
}
