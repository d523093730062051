package db

import (
	"context"

	"github.com/nazanin90/adk-data-agent/internal/orchestrator"
)

// RecordTurn queues a turn_executions row. Together with RecordTurnEvent and
// RecordInvocation this makes Client satisfy orchestrator.AuditSink.
func (c *Client) RecordTurn(_ context.Context, rec orchestrator.TurnRecord) error {
	return c.QueueWrite(WriteTypeTurn, &TurnExecution{
		SessionID:      rec.SessionID,
		UserID:         rec.UserID,
		Message:        rec.Message,
		Summary:        rec.Summary,
		Status:         rec.Status,
		Invocations:    rec.Invocations,
		GroupedResults: rec.GroupedResults,
		HasGrounding:   rec.HasGrounding,
		DurationMs:     rec.DurationMs,
	}, nil)
}

// RecordInvocation queues an agent_invocations row.
func (c *Client) RecordInvocation(_ context.Context, rec orchestrator.InvocationRecord) error {
	return c.QueueWrite(WriteTypeInvocation, &AgentInvocation{
		SessionID:  rec.SessionID,
		AgentName:  rec.Agent,
		Input:      rec.Input,
		Status:     rec.Status,
		DurationMs: rec.DurationMs,
	}, nil)
}

var _ orchestrator.AuditSink = (*Client)(nil)
