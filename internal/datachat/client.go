package datachat

import (
	"context"
	"fmt"
)

// Client is the surface the orchestrator needs from the data chat backend.
// Implementations must be safe for concurrent use.
type Client interface {
	// CreateConversation registers a conversation under the given data agent.
	CreateConversation(ctx context.Context, agentID, conversationID string) error

	// Chat sends a user message within an existing conversation and returns
	// the full stream of system messages the backend produced.
	Chat(ctx context.Context, agentID, conversationID, message string) ([]Message, error)

	// DeleteDataAgent removes a data agent resource.
	DeleteDataAgent(ctx context.Context, agentID string) error

	// UpdateDataAgent applies a partial update to a data agent resource.
	UpdateDataAgent(ctx context.Context, agentID string, update AgentUpdate) error
}

// AgentUpdate is a partial update for a data agent. Empty fields are left
// untouched on the backend.
type AgentUpdate struct {
	Description       string       `json:"description,omitempty"`
	SystemInstruction string       `json:"systemInstruction,omitempty"`
	Datasources       []Datasource `json:"datasources,omitempty"`
}

// UpdateMask lists the field paths set on this update, in the form the
// backend's patch endpoint expects.
func (u AgentUpdate) UpdateMask() []string {
	var mask []string
	if u.Description != "" {
		mask = append(mask, "description")
	}
	if u.SystemInstruction != "" {
		mask = append(mask, "data_analytics_agent.published_context.system_instruction")
	}
	if len(u.Datasources) > 0 {
		mask = append(mask, "data_analytics_agent.published_context.datasource_references")
	}
	return mask
}

// Resource name helpers. The backend addresses everything by full resource
// path under a project and location.

func AgentName(project, location, agentID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/dataAgents/%s", project, location, agentID)
}

func ConversationName(project, location, conversationID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/conversations/%s", project, location, conversationID)
}

func LocationName(project, location string) string {
	return fmt.Sprintf("projects/%s/locations/%s", project, location)
}
