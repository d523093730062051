// Package agents holds the sub-agent registry: canonical names, display
// metadata for the frontend, and the state keys each agent reads and writes.
package agents

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Canonical sub-agent names.
const (
	PatientDataAgent         = "patient_data_agent"
	MedicationInventoryAgent = "medication_inventory_agent"
	PBMDataAgent             = "pbm_data_agent"
	GoogleSearchAgent        = "google_search_agent"
)

// ToolMetadata describes how the frontend renders a sub-agent's results.
type ToolMetadata struct {
	DisplayName string `json:"display_name" yaml:"display_name"`
	Icon        string `json:"icon" yaml:"icon"`
	Color       string `json:"color" yaml:"color"`
	Description string `json:"description" yaml:"description"`
	Type        string `json:"type" yaml:"type"` // "agent" or "tool"
}

// AgentEntry is one registry row.
type AgentEntry struct {
	Metadata ToolMetadata `yaml:"metadata"`

	// OutputKey is the session key the agent's structured output is stored
	// under. ToolResponseKey is where the normalized field list accumulates.
	OutputKey       string `yaml:"output_key"`
	ToolResponseKey string `yaml:"tool_response_key"`
}

// Registry maps agent names to their entries.
type Registry struct {
	Agents map[string]AgentEntry `yaml:"agents"`
}

var (
	registry     *Registry
	registryOnce sync.Once
)

// GetRegistryPath returns the registry config path, checking env var first
func GetRegistryPath() string {
	if envPath := os.Getenv("AGENT_REGISTRY_CONFIG"); envPath != "" {
		return envPath
	}
	return "/app/config/agent_registry.yaml"
}

// LoadRegistry loads the agent registry from config, falling back to the
// built-in defaults when the file is absent or malformed.
func LoadRegistry() *Registry {
	registryOnce.Do(func() {
		registry = loadFromDisk()
	})
	return registry
}

func loadFromDisk() *Registry {
	configPath := GetRegistryPath()

	data, err := os.ReadFile(configPath)
	if err != nil {
		log.Printf("Warning: Failed to load agent registry from %s: %v. Using defaults.", configPath, err)
		return defaultRegistry()
	}

	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		log.Printf("Warning: Failed to parse agent registry from %s: %v. Using defaults.", configPath, err)
		return defaultRegistry()
	}
	if len(r.Agents) == 0 {
		return defaultRegistry()
	}
	return &r
}

// ReloadRegistry re-reads the registry config. Holders of the cached registry
// observe the update because the agent table is swapped on the same instance.
func ReloadRegistry() *Registry {
	current := LoadRegistry()
	current.Agents = loadFromDisk().Agents
	return current
}

// ResetRegistryForTest clears the cached registry so tests can reload with a
// different config path.
func ResetRegistryForTest() {
	registryOnce = sync.Once{}
	registry = nil
}

func defaultRegistry() *Registry {
	return &Registry{
		Agents: map[string]AgentEntry{
			PatientDataAgent: {
				Metadata: ToolMetadata{
					DisplayName: "Patient Clinical Data",
					Icon:        "medical_services",
					Color:       "blue",
					Description: "Patient encounters, diagnoses, medications, and vitals",
					Type:        "agent",
				},
				OutputKey:       "patient_agent_output",
				ToolResponseKey: "patient_data_agent_tool_response",
			},
			MedicationInventoryAgent: {
				Metadata: ToolMetadata{
					DisplayName: "Medication Inventory",
					Icon:        "medication",
					Color:       "green",
					Description: "Pharmacy stock levels and availability",
					Type:        "agent",
				},
				OutputKey:       "medication_agent_output",
				ToolResponseKey: "medication_data_agent_tool_response",
			},
			PBMDataAgent: {
				Metadata: ToolMetadata{
					DisplayName: "PBM Claims",
					Icon:        "payments",
					Color:       "purple",
					Description: "Insurance claims, copays, and coverage",
					Type:        "agent",
				},
				OutputKey:       "pbm_agent_output",
				ToolResponseKey: "pbm_data_agent_tool_response",
			},
			GoogleSearchAgent: {
				Metadata: ToolMetadata{
					DisplayName: "Google Search",
					Icon:        "search",
					Color:       "grey",
					Description: "Web search for healthcare information",
					Type:        "tool",
				},
				OutputKey:       "search_agent_output",
				ToolResponseKey: "google_search_agent_tool_response",
			},
		},
	}
}

// MetadataFor returns display metadata for a tool, synthesizing a generic
// entry for tools missing from the registry.
func (r *Registry) MetadataFor(toolName string) ToolMetadata {
	if entry, ok := r.Agents[toolName]; ok {
		return entry.Metadata
	}
	return ToolMetadata{
		DisplayName: titleCase(toolName),
		Icon:        "query_stats",
		Color:       "grey",
		Description: fmt.Sprintf("Results from %s", toolName),
		Type:        "tool",
	}
}

// OutputKey returns the session key an agent's structured output is stored
// under.
func (r *Registry) OutputKey(agentName string) string {
	if entry, ok := r.Agents[agentName]; ok && entry.OutputKey != "" {
		return entry.OutputKey
	}
	return agentName + "_output"
}

// ToolResponseKey returns the session key an agent's normalized field list
// accumulates under.
func (r *Registry) ToolResponseKey(agentName string) string {
	if entry, ok := r.Agents[agentName]; ok && entry.ToolResponseKey != "" {
		return entry.ToolResponseKey
	}
	return agentName + "_tool_response"
}

// Names returns the registered agent names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Agents))
	for name := range r.Agents {
		names = append(names, name)
	}
	return names
}

func titleCase(name string) string {
	parts := strings.Split(name, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
