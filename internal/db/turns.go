package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveTurnExecution inserts a new turn_executions row.
func (c *Client) SaveTurnExecution(ctx context.Context, turn *TurnExecution) error {
	if turn == nil {
		return nil
	}
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, `
        INSERT INTO turn_executions (
            id, session_id, user_id, message, summary, status, error_message,
            invocations, grouped_results, has_grounding, duration_ms, created_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    `, turn.ID, turn.SessionID, turn.UserID, turn.Message, turn.Summary,
		turn.Status, turn.ErrorMessage, turn.Invocations, turn.GroupedResults,
		turn.HasGrounding, turn.DurationMs, turn.CreatedAt)
	return err
}

// SaveAgentInvocation inserts a new agent_invocations row.
func (c *Client) SaveAgentInvocation(ctx context.Context, inv *AgentInvocation) error {
	if inv == nil {
		return nil
	}
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, `
        INSERT INTO agent_invocations (
            id, session_id, agent_name, input, output, status, error_message,
            duration_ms, created_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    `, inv.ID, inv.SessionID, inv.AgentName, inv.Input, inv.Output,
		inv.Status, inv.ErrorMessage, inv.DurationMs, inv.CreatedAt)
	return err
}

// SessionTurns returns turns for a session, most recent first.
func (c *Client) SessionTurns(ctx context.Context, filter TurnFilter) ([]TurnExecution, error) {
	if filter.SessionID == "" && filter.UserID == "" {
		return nil, fmt.Errorf("turn filter requires a session or user id")
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := `
        SELECT id, session_id, user_id, message, summary, status, error_message,
               invocations, grouped_results, has_grounding, duration_ms, created_at
        FROM turn_executions
        WHERE 1=1`
	args := []interface{}{}
	arg := 1

	if filter.SessionID != "" {
		query += fmt.Sprintf(" AND session_id = $%d", arg)
		args = append(args, filter.SessionID)
		arg++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", arg)
		args = append(args, filter.UserID)
		arg++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", arg)
		args = append(args, filter.Status)
		arg++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", arg, arg+1)
	args = append(args, filter.Limit, filter.Offset)

	var turns []TurnExecution
	err := c.dbx.SelectContext(ctx, &turns, query, args...)
	return turns, err
}

// SessionInvocations returns sub-agent calls for a session in call order.
func (c *Client) SessionInvocations(ctx context.Context, sessionID string, limit int) ([]AgentInvocation, error) {
	if limit <= 0 {
		limit = 100
	}
	var invocations []AgentInvocation
	err := c.dbx.SelectContext(ctx, &invocations, `
        SELECT id, session_id, agent_name, input, output, status, error_message,
               duration_ms, created_at
        FROM agent_invocations
        WHERE session_id = $1
        ORDER BY created_at ASC
        LIMIT $2
    `, sessionID, limit)
	return invocations, err
}
