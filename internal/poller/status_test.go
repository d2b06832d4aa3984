package poller

import (
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"queued":                 StatusQueued,
		"RunStatus.IN_PROGRESS":  StatusInProgress,
		"requires_action":        StatusInProgress,
		"cancelling":             StatusInProgress,
		"Completed":              StatusCompleted,
		"succeeded":              StatusCompleted,
		"failed":                 StatusFailed,
		"expired":                StatusFailed,
		"incomplete":             StatusFailed,
		"canceled":               StatusCancelled,
		"RunStatus.CANCELLED":    StatusCancelled,
		"":                       StatusUnknown,
		"something_new_upstream": StatusUnknown,
	}
	for raw, want := range cases {
		if got := ParseStatus(raw); got != want {
			t.Errorf("ParseStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestAdvanceIsMonotonic(t *testing.T) {
	cases := []struct {
		current, observed, want Status
	}{
		{StatusQueued, StatusInProgress, StatusInProgress},
		{StatusInProgress, StatusQueued, StatusInProgress},
		{StatusInProgress, StatusUnknown, StatusInProgress},
		{StatusQueued, StatusCompleted, StatusCompleted},
		{StatusCompleted, StatusFailed, StatusCompleted},
		{StatusFailed, StatusInProgress, StatusFailed},
	}
	for _, tc := range cases {
		if got := advance(tc.current, tc.observed); got != tc.want {
			t.Errorf("advance(%s, %s) = %s, want %s", tc.current, tc.observed, got, tc.want)
		}
	}
}

func TestScheduleDelaysNonDecreasingAndCapped(t *testing.T) {
	schedules := []Schedule{
		{InitialDelay: time.Second, MaxDelay: 4 * time.Second, MaxAttempts: 3},
		{InitialDelay: 3 * time.Second, MaxDelay: 10 * time.Second, MaxAttempts: 8},
		{InitialDelay: 5 * time.Second, MaxDelay: time.Second, MaxAttempts: 4},
		{InitialDelay: time.Millisecond, MaxDelay: time.Hour, MaxAttempts: 64},
		{},
	}
	for _, s := range schedules {
		n := s.Normalize()
		delays := s.Delays()
		if len(delays) != n.MaxAttempts {
			t.Fatalf("%+v: expected %d delays, got %d", s, n.MaxAttempts, len(delays))
		}
		for i, d := range delays {
			if d > n.MaxDelay {
				t.Fatalf("%+v: delay %s exceeds max %s", s, d, n.MaxDelay)
			}
			if i > 0 && d < delays[i-1] {
				t.Fatalf("%+v: delays decreased at %d: %v", s, i, delays)
			}
		}
	}
}

func TestScheduleExample(t *testing.T) {
	s := Schedule{InitialDelay: time.Second, MaxDelay: 4 * time.Second, MaxAttempts: 3}
	got := s.Delays()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Delays() = %v, want %v", got, want)
		}
	}
	if s.Ceiling() != 12*time.Second {
		t.Fatalf("Ceiling() = %s", s.Ceiling())
	}
}

func TestScheduleValidate(t *testing.T) {
	if err := DefaultSchedule().Validate(); err != nil {
		t.Fatalf("default schedule invalid: %v", err)
	}
	bad := []Schedule{
		{InitialDelay: time.Second, MaxDelay: time.Second},
		{MaxDelay: time.Second, MaxAttempts: 1},
		{InitialDelay: 2 * time.Second, MaxDelay: time.Second, MaxAttempts: 1},
	}
	for _, s := range bad {
		if err := s.Validate(); err == nil {
			t.Fatalf("expected %+v to be invalid", s)
		}
	}
}
