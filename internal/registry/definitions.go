package registry

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/triage-agents/internal/domain"
	"gopkg.in/yaml.v3"
)

// DefaultModel is the model deployment used when none is configured.
const DefaultModel = "gpt-4o"

// Definition is the creation input for one agent role.
type Definition struct {
	Role         domain.Role `yaml:"role"`
	Name         string      `yaml:"name"`
	Instructions string      `yaml:"instructions"`
	// Description is shown to the triage agent when this agent is connected as a tool.
	Description string `yaml:"description"`
}

// Definitions holds the agent definitions for every role.
type Definitions struct {
	Model  string
	Agents map[domain.Role]Definition
}

type definitionsFile struct {
	Model  string       `yaml:"model"`
	Agents []Definition `yaml:"agents"`
}

// DefaultDefinitions returns the built-in instructions for the four agents.
func DefaultDefinitions() Definitions {
	return Definitions{
		Model: DefaultModel,
		Agents: map[domain.Role]Definition{
			domain.RolePriority: {
				Role:         domain.RolePriority,
				Name:         "priority",
				Instructions: "Return High/Medium/Low",
				Description:  "Assesses ticket priority",
			},
			domain.RoleTeam: {
				Role:         domain.RoleTeam,
				Name:         "team",
				Instructions: "Assign Frontend/Backend/Infra/Marketing",
				Description:  "Suggests responsible team",
			},
			domain.RoleEffort: {
				Role:         domain.RoleEffort,
				Name:         "effort",
				Instructions: "Estimate Small/Medium/Large",
				Description:  "Estimates effort required",
			},
			domain.RoleTriage: {
				Role:         domain.RoleTriage,
				Name:         "triage",
				Instructions: "Coordinate priority, team, and effort via connected agents.",
				Description:  "Consolidates priority, team and effort into one assessment",
			},
		},
	}
}

// ParseDefinitionsYAML decodes definitions and layers them over the defaults.
// Fields left empty in the file keep their default value.
func ParseDefinitionsYAML(data []byte) (Definitions, error) {
	defs := DefaultDefinitions()
	if len(bytes.TrimSpace(data)) == 0 {
		return Definitions{}, fmt.Errorf("registry: definitions payload is empty")
	}

	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Definitions{}, fmt.Errorf("registry: decode definitions: %w", err)
	}

	if m := strings.TrimSpace(file.Model); m != "" {
		defs.Model = m
	}
	for _, def := range file.Agents {
		role, err := domain.ParseRole(string(def.Role))
		if err != nil {
			return Definitions{}, fmt.Errorf("registry: %w", err)
		}
		merged := defs.Agents[role]
		if v := strings.TrimSpace(def.Name); v != "" {
			merged.Name = v
		}
		if v := strings.TrimSpace(def.Instructions); v != "" {
			merged.Instructions = v
		}
		if v := strings.TrimSpace(def.Description); v != "" {
			merged.Description = v
		}
		defs.Agents[role] = merged
	}
	return defs, nil
}

// LoadDefinitionsFile loads definitions from a YAML file. An empty path
// returns the defaults.
func LoadDefinitionsFile(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultDefinitions(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("registry: read %s: %w", path, err)
	}
	defs, err := ParseDefinitionsYAML(content)
	if err != nil {
		return Definitions{}, fmt.Errorf("registry: %s: %w", path, err)
	}
	return defs, nil
}

// For returns the definition for a role, falling back to the built-in one.
func (d Definitions) For(role domain.Role) Definition {
	if def, ok := d.Agents[role]; ok {
		return def
	}
	return DefaultDefinitions().Agents[role]
}
