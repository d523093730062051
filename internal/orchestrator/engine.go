// Package orchestrator runs assistant turns: it fans user questions out to
// sub-agents, records every invocation in the turn ledger, and assembles the
// structured output the frontend renders.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nazanin90/adk-data-agent/internal/agents"
	"github.com/nazanin90/adk-data-agent/internal/conversation"
	"github.com/nazanin90/adk-data-agent/internal/datachat"
	"github.com/nazanin90/adk-data-agent/internal/formatting"
	"github.com/nazanin90/adk-data-agent/internal/ledger"
	"github.com/nazanin90/adk-data-agent/internal/metadata"
	"github.com/nazanin90/adk-data-agent/internal/metrics"
	"github.com/nazanin90/adk-data-agent/internal/normalize"
	"github.com/nazanin90/adk-data-agent/internal/session"
	"github.com/nazanin90/adk-data-agent/internal/streaming"
	"github.com/nazanin90/adk-data-agent/internal/tracing"
	"github.com/nazanin90/adk-data-agent/internal/util"
)

// SessionStore is the slice of the session manager the engine needs.
type SessionStore interface {
	GetOrCreateSession(ctx context.Context, sessionID, userID string) (*session.Session, error)
	UpdateSession(ctx context.Context, sess *session.Session) error
}

// AuditSink persists turn records for offline inspection. Implementations may
// be nil when auditing is disabled.
type AuditSink interface {
	RecordTurnEvent(ctx context.Context, sessionID, eventType, agentID, message string) error
	RecordTurn(ctx context.Context, rec TurnRecord) error
	RecordInvocation(ctx context.Context, rec InvocationRecord) error
}

// TurnRecord summarizes one completed turn for the audit log.
type TurnRecord struct {
	SessionID      string
	UserID         string
	Message        string
	Summary        string
	Status         string
	Invocations    int
	GroupedResults int
	HasGrounding   bool
	DurationMs     int64
}

// InvocationRecord summarizes one sub-agent call for the audit log.
type InvocationRecord struct {
	SessionID  string
	Agent      string
	Input      string
	Status     string
	DurationMs int64
}

// Invocation is one sub-agent call within a turn, planned by the LLM runtime.
type Invocation struct {
	// Agent is the canonical sub-agent name.
	Agent string `json:"agent"`

	// Input is the raw argument string recorded in the ledger.
	Input string `json:"input"`

	// Question is the natural-language question for data agents. Falls back
	// to Input when empty.
	Question string `json:"question,omitempty"`

	// Response carries a pre-computed response for tool-type invocations the
	// runtime executed itself (e.g. web search). When set, the backend is
	// not called.
	Response string `json:"response,omitempty"`

	// Grounding holds grounding payloads from search events.
	Grounding []metadata.EventGrounding `json:"-"`
}

// TurnRequest describes one orchestrator turn.
type TurnRequest struct {
	SessionID   string       `json:"session_id"`
	UserID      string       `json:"user_id"`
	Message     string       `json:"message"`
	Summary     string       `json:"summary"`
	Invocations []Invocation `json:"invocations"`
}

// Engine executes turns.
type Engine struct {
	sessions SessionStore
	client   datachat.Client
	tracker  *conversation.Tracker
	merger   *formatting.Merger
	registry *agents.Registry
	streams  *streaming.Manager
	audit    AuditSink
	agentIDs map[string]string // sub-agent name -> backend data agent id
	logger   *zap.Logger
}

// Options configures an Engine.
type Options struct {
	Sessions SessionStore
	Client   datachat.Client
	Registry *agents.Registry
	Streams  *streaming.Manager
	Audit    AuditSink
	AgentIDs map[string]string
	Logger   *zap.Logger
}

func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger, _ = zap.NewProduction()
	}
	if opts.Registry == nil {
		opts.Registry = agents.LoadRegistry()
	}
	if opts.Streams == nil {
		opts.Streams = streaming.Get()
	}
	return &Engine{
		sessions: opts.Sessions,
		client:   opts.Client,
		tracker:  conversation.NewTracker(opts.Client, opts.Logger),
		merger:   formatting.NewMerger(opts.Registry, opts.Logger),
		registry: opts.Registry,
		streams:  opts.Streams,
		audit:    opts.Audit,
		agentIDs: opts.AgentIDs,
		logger:   opts.Logger,
	}
}

// RunTurn executes one turn end to end and returns the structured output.
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest) (*formatting.Output, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.turn")
	defer span.End()

	start := time.Now()
	metrics.TurnsStarted.Inc()

	sess, err := e.sessions.GetOrCreateSession(ctx, req.SessionID, req.UserID)
	if err != nil {
		metrics.RecordTurnMetrics("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("load session: %w", err)
	}

	// Each turn starts with a clean ledger; bindings and outputs persist.
	sess.ResetTurn()
	led := ledger.New(e.logger)

	e.publish(ctx, sess.ID, streaming.EventTurnStarted, "", util.TruncateString(req.Message, 200, true))
	if req.Message != "" {
		sess.AddHistory("user", req.Message)
	}

	var groundingEvents []metadata.EventGrounding
	for _, inv := range req.Invocations {
		groundingEvents = append(groundingEvents, e.runInvocation(ctx, sess, led, inv)...)
	}

	grounding := metadata.Collect(groundingEvents)
	sess.Grounding = grounding

	output := e.merger.BuildOutput(req.Summary, led.Calls(), led.Responses(), grounding)

	sess.ToolCalls = led.Calls()
	sess.ToolResponses = led.Responses()
	sess.SetOutput("agent_output", output)
	if req.Summary != "" {
		sess.AddHistory("assistant", req.Summary)
	}

	if err := e.sessions.UpdateSession(ctx, sess); err != nil {
		e.publish(ctx, sess.ID, streaming.EventTurnFailed, "", err.Error())
		metrics.RecordTurnMetrics("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("persist session: %w", err)
	}

	e.publish(ctx, sess.ID, streaming.EventTurnCompleted, "", "")
	metrics.RecordTurnMetrics("ok", time.Since(start).Seconds())

	if e.audit != nil {
		if err := e.audit.RecordTurn(ctx, TurnRecord{
			SessionID:      sess.ID,
			UserID:         sess.UserID,
			Message:        req.Message,
			Summary:        req.Summary,
			Status:         "ok",
			Invocations:    len(req.Invocations),
			GroupedResults: len(output.ToolResponse),
			HasGrounding:   grounding != nil,
			DurationMs:     time.Since(start).Milliseconds(),
		}); err != nil {
			e.logger.Warn("Failed to persist turn record",
				zap.String("session_id", sess.ID),
				zap.Error(err))
		}
	}

	e.logger.Info("Turn completed",
		zap.String("session_id", sess.ID),
		zap.Int("invocations", len(req.Invocations)),
		zap.Int("grouped_results", len(output.ToolResponse)),
		zap.Bool("has_grounding", grounding != nil))

	return &output, nil
}

// runInvocation executes one sub-agent call, records it in the ledger, and
// returns any grounding events it produced.
func (e *Engine) runInvocation(ctx context.Context, sess *session.Session, led *ledger.Ledger, inv Invocation) []metadata.EventGrounding {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.invoke."+inv.Agent)
	defer span.End()

	start := time.Now()
	led.RecordCall(inv.Agent, inv.Input)
	e.publish(ctx, sess.ID, streaming.EventAgentStarted, inv.Agent, "")

	// Tool-type invocations the runtime already executed, e.g. web search.
	if inv.Response != "" {
		led.RecordResponse(inv.Agent, inv.Response)
		sess.SetOutput(e.registry.OutputKey(inv.Agent), inv.Response)
		e.publish(ctx, sess.ID, streaming.EventAgentFinished, inv.Agent, "")
		metrics.RecordToolInvocation(inv.Agent, "ok", float64(time.Since(start).Milliseconds()))
		e.auditInvocation(ctx, sess.ID, inv, "ok", time.Since(start).Milliseconds())
		return inv.Grounding
	}

	fields, failed := e.chatDataAgent(ctx, sess, inv)

	// Store the field list and the structured output under the agent's
	// session keys so sequential agents can read them.
	sess.SetOutput(e.registry.ToolResponseKey(inv.Agent), fields)

	coll := normalize.Collection{Fields: fields, Merged: mergeFields(fields)}
	structured := map[string]interface{}{
		"summary":       summaryText(coll.Merged),
		"tool_response": listOfMaps(coll.Wrapped()),
	}
	sess.SetOutput(e.registry.OutputKey(inv.Agent), structured)
	led.RecordResponse(inv.Agent, structured)

	status := "ok"
	eventType := streaming.EventAgentFinished
	if failed {
		status = "error"
		eventType = streaming.EventAgentFailed
	}
	e.publish(ctx, sess.ID, eventType, inv.Agent, "")
	metrics.RecordToolInvocation(inv.Agent, status, float64(time.Since(start).Milliseconds()))
	e.auditInvocation(ctx, sess.ID, inv, status, time.Since(start).Milliseconds())
	return nil
}

func (e *Engine) auditInvocation(ctx context.Context, sessionID string, inv Invocation, status string, durationMs int64) {
	if e.audit == nil {
		return
	}
	if err := e.audit.RecordInvocation(ctx, InvocationRecord{
		SessionID:  sessionID,
		Agent:      inv.Agent,
		Input:      inv.Input,
		Status:     status,
		DurationMs: durationMs,
	}); err != nil {
		e.logger.Warn("Failed to persist invocation record",
			zap.String("session_id", sessionID),
			zap.String("agent", inv.Agent),
			zap.Error(err))
	}
}

// chatDataAgent calls the backend for a data agent and normalizes the stream.
// Backend failures surface as an error field list, never as a turn failure.
func (e *Engine) chatDataAgent(ctx context.Context, sess *session.Session, inv Invocation) ([]normalize.Field, bool) {
	agentID, ok := e.agentIDs[inv.Agent]
	if !ok {
		e.logger.Warn("No backend data agent configured",
			zap.String("agent", inv.Agent))
		return errorFields(fmt.Errorf("no backend data agent configured for %s", inv.Agent)), true
	}

	convID, err := e.tracker.Ensure(ctx, agentID, sess)
	if err != nil {
		e.logger.Error("Failed to ensure conversation",
			zap.String("agent", inv.Agent),
			zap.Error(err))
		return errorFields(err), true
	}

	question := inv.Question
	if question == "" {
		question = inv.Input
	}

	chatStart := time.Now()
	msgs, err := e.client.Chat(ctx, agentID, convID, question)
	metrics.RecordBackendRequest("chat", time.Since(chatStart).Seconds())
	if err != nil {
		e.logger.Error("Backend chat failed",
			zap.String("agent", inv.Agent),
			zap.String("conversation_id", convID),
			zap.Error(err))
		return errorFields(err), true
	}

	return normalize.Collect(msgs).Fields, false
}

func (e *Engine) publish(ctx context.Context, sessionID, eventType, agentID, message string) {
	e.streams.Publish(sessionID, streaming.Event{
		SessionID: sessionID,
		Type:      eventType,
		AgentID:   agentID,
		Message:   message,
		Timestamp: time.Now(),
	})
	if e.audit != nil {
		if err := e.audit.RecordTurnEvent(ctx, sessionID, eventType, agentID, message); err != nil {
			e.logger.Warn("Failed to persist turn event",
				zap.String("session_id", sessionID),
				zap.String("type", eventType),
				zap.Error(err))
		}
	}
}

// DeleteAgent removes a backend data agent. Errors are logged and swallowed,
// matching teardown semantics where a missing agent is not fatal.
func (e *Engine) DeleteAgent(ctx context.Context, agentName string) {
	agentID, ok := e.agentIDs[agentName]
	if !ok {
		return
	}
	if err := e.client.DeleteDataAgent(ctx, agentID); err != nil {
		e.logger.Warn("Failed to delete data agent",
			zap.String("agent", agentName),
			zap.Error(err))
	}
}

// UpdateAgent applies a partial update to a backend data agent. Unlike
// deletes, update failures are returned to the caller.
func (e *Engine) UpdateAgent(ctx context.Context, agentName string, update datachat.AgentUpdate) error {
	agentID, ok := e.agentIDs[agentName]
	if !ok {
		return fmt.Errorf("no backend data agent configured for %s", agentName)
	}
	return e.client.UpdateDataAgent(ctx, agentID, update)
}

func errorFields(err error) []normalize.Field {
	return []normalize.Field{{
		"status":        "error",
		"error_message": err.Error(),
	}}
}

func mergeFields(fields []normalize.Field) map[string]interface{} {
	merged := make(map[string]interface{})
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	return merged
}

func summaryText(merged map[string]interface{}) string {
	if text, ok := merged["text"].(string); ok {
		return text
	}
	return ""
}

func listOfMaps(in []map[string]interface{}) []interface{} {
	out := make([]interface{}, len(in))
	for i, m := range in {
		out[i] = m
	}
	return out
}
