package session

import (
	"errors"
	"time"

	"github.com/nazanin90/adk-data-agent/internal/metadata"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session has expired
	ErrSessionExpired = errors.New("session expired")

	// ErrInvalidSession is returned when session data is invalid
	ErrInvalidSession = errors.New("invalid session")
)

// Session holds everything a user's conversation with the assistant
// accumulates across turns: per-agent backend conversation bindings, the
// current turn's tool ledger, and the last structured output per agent.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Bindings maps a sub-agent name to its backend conversation, created
	// lazily on first invocation and reused for the session's lifetime.
	Bindings map[string]*ConversationBinding `json:"bindings,omitempty"`

	// Tool ledger for the current turn, cleared at turn start.
	ToolCalls     []ToolCallRecord     `json:"tool_calls"`
	ToolResponses []ToolResponseRecord `json:"tool_responses"`

	// Outputs holds the last structured output per output key, e.g.
	// "patient_agent_output". Values survive across turns so sequential
	// agents can read their predecessors' results.
	Outputs map[string]interface{} `json:"outputs,omitempty"`

	// Grounding collected from search events during the current turn.
	Grounding *metadata.Grounding `json:"grounding_metadata,omitempty"`

	// History of user messages and assistant summaries.
	History []Message `json:"history,omitempty"`
}

// ConversationBinding ties a sub-agent to a backend conversation. Created is
// set only after the backend acknowledged the conversation, so a failed
// create is retried on the next invocation with the same id.
type ConversationBinding struct {
	ConversationID string `json:"conversation_id"`
	Created        bool   `json:"created"`
}

// ToolCallRecord is one entry in the turn's call ledger.
type ToolCallRecord struct {
	ToolName string `json:"tool_name"`
	Input    string `json:"input"`
}

// ToolResponseRecord is one entry in the turn's response ledger. Response is
// either a decoded JSON document or a fallback {"text": raw} map.
type ToolResponseRecord struct {
	ToolName string      `json:"tool_name"`
	Response interface{} `json:"response"`
}

// Message is one entry in the session history.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Binding returns the conversation binding for an agent, if present.
func (s *Session) Binding(agentName string) (*ConversationBinding, bool) {
	if s.Bindings == nil {
		return nil, false
	}
	b, ok := s.Bindings[agentName]
	return b, ok
}

// SetBinding records the conversation binding for an agent.
func (s *Session) SetBinding(agentName string, b *ConversationBinding) {
	if s.Bindings == nil {
		s.Bindings = make(map[string]*ConversationBinding)
	}
	s.Bindings[agentName] = b
	s.UpdatedAt = time.Now()
}

// SetOutput stores a structured output under its output key.
func (s *Session) SetOutput(key string, value interface{}) {
	if s.Outputs == nil {
		s.Outputs = make(map[string]interface{})
	}
	s.Outputs[key] = value
	s.UpdatedAt = time.Now()
}

// Output retrieves a stored structured output.
func (s *Session) Output(key string) (interface{}, bool) {
	if s.Outputs == nil {
		return nil, false
	}
	v, ok := s.Outputs[key]
	return v, ok
}

// ResetTurn clears per-turn state so a new turn starts fresh. Conversation
// bindings and outputs persist across turns.
func (s *Session) ResetTurn() {
	s.ToolCalls = []ToolCallRecord{}
	s.ToolResponses = []ToolResponseRecord{}
	s.Grounding = nil
	s.UpdatedAt = time.Now()
}

// AddHistory appends a message to the session history.
func (s *Session) AddHistory(role, content string) {
	s.History = append(s.History, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	s.UpdatedAt = time.Now()
}
