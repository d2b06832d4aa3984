package poller

import (
	"errors"
	"time"
)

// Default schedule values.
const (
	DefaultMaxAttempts  = 12
	DefaultInitialDelay = 2 * time.Second
	DefaultMaxDelay     = 30 * time.Second
)

var errInvalidSchedule = errors.New("invalid backoff schedule")

// Schedule is the bounded exponential backoff governing a polling loop.
// The delay starts at InitialDelay, doubles after every non-terminal poll and
// is capped at MaxDelay. At most MaxAttempts polls are made.
type Schedule struct {
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	MaxAttempts  int           `json:"max_attempts"`
}

// DefaultSchedule returns the default schedule.
func DefaultSchedule() Schedule {
	return Schedule{
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		MaxAttempts:  DefaultMaxAttempts,
	}
}

// Validate rejects schedules that cannot make progress.
func (s Schedule) Validate() error {
	switch {
	case s.MaxAttempts <= 0:
		return errors.Join(errInvalidSchedule, errors.New("max attempts must be positive"))
	case s.InitialDelay <= 0:
		return errors.Join(errInvalidSchedule, errors.New("initial delay must be positive"))
	case s.MaxDelay < s.InitialDelay:
		return errors.Join(errInvalidSchedule, errors.New("max delay must not be below initial delay"))
	}
	return nil
}

// Normalize fills unset fields with defaults and raises MaxDelay to
// InitialDelay when it is lower.
func (s Schedule) Normalize() Schedule {
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.InitialDelay <= 0 {
		s.InitialDelay = DefaultInitialDelay
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = DefaultMaxDelay
	}
	if s.MaxDelay < s.InitialDelay {
		s.MaxDelay = s.InitialDelay
	}
	return s
}

// Next returns the delay that follows current.
func (s Schedule) Next(current time.Duration) time.Duration {
	if current >= s.MaxDelay || current > s.MaxDelay/2 {
		return s.MaxDelay
	}
	return current * 2
}

// Delays returns the sleep before each of the MaxAttempts polls.
func (s Schedule) Delays() []time.Duration {
	s = s.Normalize()
	delays := make([]time.Duration, 0, s.MaxAttempts)
	delay := s.InitialDelay
	for range s.MaxAttempts {
		delays = append(delays, delay)
		delay = s.Next(delay)
	}
	return delays
}

// Ceiling is the hard wall-clock limit for one run, MaxAttempts x MaxDelay.
func (s Schedule) Ceiling() time.Duration {
	s = s.Normalize()
	return time.Duration(s.MaxAttempts) * s.MaxDelay
}
