// Package readiness blocks until freshly provisioned endpoints become reachable.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/triage-agents/internal/clock"
)

const (
	// DefaultTimeout is the total DNS wait budget.
	DefaultTimeout = 900 * time.Second
	// DefaultInterval is the pause between resolution attempts.
	DefaultInterval = 10 * time.Second
)

var errEmptyHost = errors.New("hostname is required")

// Resolver resolves a hostname. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

var _ Resolver = (*net.Resolver)(nil)

// DNSTimeoutError is returned when a hostname did not resolve within the budget.
type DNSTimeoutError struct {
	Host     string
	Timeout  time.Duration
	Elapsed  time.Duration
	Attempts int
	Err      error
}

func (e *DNSTimeoutError) Error() string {
	return fmt.Sprintf("DNS name %s did not resolve within %s (elapsed %s, %d attempts): %v",
		e.Host, e.Timeout, e.Elapsed.Round(time.Millisecond), e.Attempts, e.Err)
}

func (e *DNSTimeoutError) Unwrap() error { return e.Err }

// Gate waits for hostnames to resolve, polling at a fixed interval.
type Gate struct {
	resolver Resolver
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewGate creates a readiness gate. Nil dependencies fall back to the system
// resolver, the wall clock and the default logger.
func NewGate(resolver Resolver, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Gate {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{resolver: resolver, clock: clk, interval: interval, logger: logger}
}

// Wait blocks until host resolves or timeout elapses. Individual resolution
// failures are retried; only exhausting the budget returns *DNSTimeoutError.
func (g *Gate) Wait(ctx context.Context, host string, timeout time.Duration) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return errEmptyHost
	}
	if timeout < 0 {
		timeout = 0
	}

	start := g.clock.Now()
	attempts := 0
	for {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, g.interval)
		_, err := g.resolver.LookupHost(attemptCtx, host)
		cancel()
		if err == nil {
			g.logger.Info("DNS name resolved", "host", host, "attempts", attempts)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		elapsed := g.clock.Now().Sub(start)
		if elapsed+g.interval > timeout {
			return &DNSTimeoutError{
				Host:     host,
				Timeout:  timeout,
				Elapsed:  elapsed,
				Attempts: attempts,
				Err:      err,
			}
		}

		g.logger.Info("Waiting for DNS propagation", "host", host, "attempt", attempts, "error", err)
		if err := g.clock.Sleep(ctx, g.interval); err != nil {
			return err
		}
	}
}

// WaitAny waits on each host in turn, moving to the next only when the previous
// one timed out. The last timeout is returned when none resolve.
func (g *Gate) WaitAny(ctx context.Context, timeout time.Duration, hosts ...string) error {
	var lastErr error = errEmptyHost
	seen := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		key := strings.ToLower(strings.TrimSpace(host))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		err := g.Wait(ctx, host, timeout)
		if err == nil {
			return nil
		}
		var timeoutErr *DNSTimeoutError
		if !errors.As(err, &timeoutErr) {
			return err
		}
		g.logger.Warn("DNS wait timed out, trying next host", "host", host, "error", err)
		lastErr = err
	}
	return lastErr
}

// HostFromEndpoint extracts the hostname from an endpoint URL. Bare hostnames
// are accepted and treated as https.
func HostFromEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", errEmptyHost
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("invalid endpoint %q: no hostname", endpoint)
	}
	return parsed.Hostname(), nil
}
