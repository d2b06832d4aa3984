// Package registry creates the cooperating agents on the remote service.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/triage-agents/internal/agentsvc"
	"github.com/ashureev/triage-agents/internal/domain"
	"github.com/ashureev/triage-agents/internal/readiness"
)

var errEndpointRequired = errors.New("project endpoint is required")

// AgentCreationError reports that the service rejected creating an agent.
// Bootstrap stops at the first one; agents created before it are left in place.
type AgentCreationError struct {
	Role domain.Role
	Name string
	Err  error
}

func (e *AgentCreationError) Error() string {
	return fmt.Sprintf("create %s agent %q: %v", e.Role, e.Name, e.Err)
}

func (e *AgentCreationError) Unwrap() error { return e.Err }

// BootstrapConfig is the input to Bootstrap.
type BootstrapConfig struct {
	// Endpoint is the project endpoint whose host must resolve before agents are created.
	Endpoint string
	// FallbackHost is waited on when the endpoint host times out.
	FallbackHost string
	DNSTimeout   time.Duration
	Definitions  Definitions
}

// Bootstrapped is the outcome of a bootstrap.
type Bootstrapped struct {
	Agents []domain.Agent
}

// Set returns the agent identifiers keyed by role.
func (b Bootstrapped) Set() domain.AgentSet {
	set := make(domain.AgentSet, len(b.Agents))
	for _, a := range b.Agents {
		set[a.Role] = a.ID
	}
	return set
}

// Bootstrapper waits for the project endpoint and creates the agents.
type Bootstrapper struct {
	svc    agentsvc.Service
	gate   *readiness.Gate
	logger *slog.Logger
}

// NewBootstrapper creates a bootstrapper. A nil gate skips the DNS wait.
func NewBootstrapper(svc agentsvc.Service, gate *readiness.Gate, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{svc: svc, gate: gate, logger: logger}
}

// Bootstrap creates the priority, team and effort agents, then the triage agent
// connected to the other three. Every call creates a fresh set.
func (b *Bootstrapper) Bootstrap(ctx context.Context, cfg BootstrapConfig) (Bootstrapped, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return Bootstrapped{}, errEndpointRequired
	}
	if err := b.waitForEndpoint(ctx, cfg); err != nil {
		return Bootstrapped{}, err
	}

	defs := cfg.Definitions
	if defs.Agents == nil {
		defs = DefaultDefinitions()
	}
	model := strings.TrimSpace(defs.Model)
	if model == "" {
		model = DefaultModel
	}
	b.logger.Info("Provisioning agents", "model", model)

	var out Bootstrapped
	var tools []agentsvc.ConnectedAgent
	for _, role := range domain.Roles {
		def := defs.For(role)
		spec := agentsvc.AgentSpec{
			Role:         role,
			Name:         def.Name,
			Model:        model,
			Instructions: def.Instructions,
		}
		if role == domain.RoleTriage {
			spec.Tools = tools
		}

		agent, err := b.svc.CreateAgent(ctx, spec)
		if err != nil {
			return Bootstrapped{}, &AgentCreationError{Role: role, Name: def.Name, Err: err}
		}
		agent.Role = role
		if agent.Model == "" {
			agent.Model = model
		}
		if agent.Instructions == "" {
			agent.Instructions = def.Instructions
		}
		out.Agents = append(out.Agents, agent)
		b.logger.Info("Agent created", "role", role, "agent_id", agent.ID)

		if role != domain.RoleTriage {
			tools = append(tools, agentsvc.ConnectedAgent{
				ID:          agent.ID,
				Name:        agent.Name,
				Description: def.Description,
			})
		}
	}
	return out, nil
}

func (b *Bootstrapper) waitForEndpoint(ctx context.Context, cfg BootstrapConfig) error {
	if b.gate == nil {
		return nil
	}
	host, err := readiness.HostFromEndpoint(cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid project endpoint: %w", err)
	}
	hosts := []string{host}
	if cfg.FallbackHost != "" {
		fallback, err := readiness.HostFromEndpoint(cfg.FallbackHost)
		if err != nil {
			return fmt.Errorf("invalid account host: %w", err)
		}
		hosts = append(hosts, fallback)
	}

	timeout := cfg.DNSTimeout
	if timeout <= 0 {
		timeout = readiness.DefaultTimeout
	}
	if err := b.gate.WaitAny(ctx, timeout, hosts...); err != nil {
		return fmt.Errorf("wait for project endpoint: %w", err)
	}
	return nil
}
