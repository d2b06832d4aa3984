// Package domain contains core domain types for the triage agents.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role names one of the cooperating agents.
type Role string

const (
	RolePriority Role = "priority"
	RoleTeam     Role = "team"
	RoleEffort   Role = "effort"
	RoleTriage   Role = "triage"
)

// Roles lists every agent role in bootstrap and invocation order.
var Roles = []Role{RolePriority, RoleTeam, RoleEffort, RoleTriage}

// ParseRole resolves a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown agent role %q", s)
}

// EnvKey returns the persisted environment key holding the agent id for the role.
func (r Role) EnvKey() string {
	return strings.ToUpper(string(r)) + "_AGENT_ID"
}

// Agent is a configured invocation target on the remote agent service.
type Agent struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	Name         string    `json:"name"`
	Instructions string    `json:"instructions"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
}

// AgentSet maps each role to its agent identifier.
type AgentSet map[Role]string

// ID returns the agent id for a role, or "" when unset.
func (s AgentSet) ID(r Role) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(s[r])
}

// Missing returns the roles that have no identifier, in invocation order.
func (s AgentSet) Missing() []Role {
	var missing []Role
	for _, r := range Roles {
		if s.ID(r) == "" {
			missing = append(missing, r)
		}
	}
	return missing
}

// EnvValues renders the set as persisted environment key/value pairs.
func (s AgentSet) EnvValues() map[string]string {
	values := make(map[string]string, len(Roles))
	for _, r := range Roles {
		if id := s.ID(r); id != "" {
			values[r.EnvKey()] = id
		}
	}
	return values
}

// AgentSetFromEnv extracts agent identifiers from persisted environment values.
func AgentSetFromEnv(values map[string]string) AgentSet {
	set := make(AgentSet, len(Roles))
	for _, r := range Roles {
		if id := strings.TrimSpace(values[r.EnvKey()]); id != "" {
			set[r] = id
		}
	}
	return set
}

// WithFallback returns a copy of s where roles without an identifier take the
// id of the matching agent in fallback.
func (s AgentSet) WithFallback(fallback []Agent) AgentSet {
	out := make(AgentSet, len(Roles))
	for role, id := range s {
		out[role] = id
	}
	for _, a := range fallback {
		if out.ID(a.Role) == "" && strings.TrimSpace(a.ID) != "" {
			out[a.Role] = a.ID
		}
	}
	return out
}
