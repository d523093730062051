package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SaveTurnEvent inserts a new turn_events row.
func (c *Client) SaveTurnEvent(ctx context.Context, e *TurnEvent) error {
	if e == nil {
		return nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, `
        INSERT INTO turn_events (
            id, session_id, type, agent_id, message, payload, timestamp, seq, created_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (session_id, type, seq) WHERE seq IS NOT NULL DO NOTHING
    `, e.ID, e.SessionID, e.Type, e.AgentID, e.Message, e.Payload, e.Timestamp, e.Seq, e.CreatedAt)
	return err
}

// RecordTurnEvent queues a streaming event for persistence. It satisfies the
// orchestrator's audit sink and never blocks the turn on database latency.
func (c *Client) RecordTurnEvent(ctx context.Context, sessionID, eventType, agentID, message string) error {
	event := &TurnEvent{
		SessionID: sessionID,
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now(),
	}
	if agentID != "" {
		event.AgentID = &agentID
	}
	return c.QueueWrite(WriteTypeTurnEvent, event, nil)
}

// SessionEvents returns persisted events for a session in insertion order.
func (c *Client) SessionEvents(ctx context.Context, sessionID string, limit int) ([]TurnEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []TurnEvent
	err := c.dbx.SelectContext(ctx, &events, `
        SELECT id, session_id, type, agent_id, message, payload, timestamp, seq, created_at
        FROM turn_events
        WHERE session_id = $1
        ORDER BY seq ASC, timestamp ASC
        LIMIT $2
    `, sessionID, limit)
	return events, err
}
