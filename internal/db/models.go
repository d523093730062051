package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// TurnExecution represents one completed assistant turn
type TurnExecution struct {
	ID        uuid.UUID `db:"id"`
	SessionID string    `db:"session_id"`
	UserID    string    `db:"user_id"`

	// Conversation content
	Message string `db:"message"`
	Summary string `db:"summary"`

	// Outcome
	Status       string  `db:"status"`
	ErrorMessage *string `db:"error_message"`

	// Shape of the turn
	Invocations    int  `db:"invocations"`
	GroupedResults int  `db:"grouped_results"`
	HasGrounding   bool `db:"has_grounding"`

	DurationMs int64     `db:"duration_ms"`
	CreatedAt  time.Time `db:"created_at"`
}

// AgentInvocation represents a single sub-agent call within a turn
type AgentInvocation struct {
	ID        uuid.UUID `db:"id"`
	SessionID string    `db:"session_id"`
	AgentName string    `db:"agent_name"`

	// Call details
	Input        string `db:"input"`
	Output       JSONB  `db:"output"`
	Status       string `db:"status"`
	ErrorMessage string `db:"error_message"`

	DurationMs int64     `db:"duration_ms"`
	CreatedAt  time.Time `db:"created_at"`
}

// TurnEvent represents a persisted streaming event row
type TurnEvent struct {
	ID        uuid.UUID `db:"id"`
	SessionID string    `db:"session_id"`
	Type      string    `db:"type"`
	AgentID   *string   `db:"agent_id"`
	Message   string    `db:"message"`
	Payload   JSONB     `db:"payload"`
	Timestamp time.Time `db:"timestamp"`
	Seq       uint64    `db:"seq"`
	CreatedAt time.Time `db:"created_at"`
}

// TurnFilter provides filtering options for turn history queries
type TurnFilter struct {
	SessionID string
	UserID    string
	Status    string
	Limit     int
	Offset    int
}
