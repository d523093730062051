// Package ledger records sub-agent tool calls and responses during a turn.
package ledger

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/nazanin90/adk-data-agent/internal/session"
)

// Ledger accumulates the call and response records of one turn. Sub-agents
// may run concurrently, so all access is mutex guarded.
type Ledger struct {
	mu        sync.Mutex
	calls     []session.ToolCallRecord
	responses []session.ToolResponseRecord
	logger    *zap.Logger
}

func New(logger *zap.Logger) *Ledger {
	return &Ledger{
		calls:     []session.ToolCallRecord{},
		responses: []session.ToolResponseRecord{},
		logger:    logger,
	}
}

// RecordCall appends a call record before the tool is invoked.
func (l *Ledger) RecordCall(toolName, input string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, session.ToolCallRecord{
		ToolName: toolName,
		Input:    input,
	})
}

// RecordResponse appends a response record. String responses are decoded as
// JSON when possible; a string that isn't JSON becomes {"text": raw} so
// text-only tools like web search still produce structured records.
func (l *Ledger) RecordResponse(toolName string, response interface{}) {
	structured := response
	if raw, ok := response.(string); ok {
		var decoded interface{}
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			structured = decoded
		} else {
			l.logger.Debug("Tool response is not valid JSON, storing as text",
				zap.String("tool_name", toolName))
			structured = map[string]interface{}{"text": raw}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.responses = append(l.responses, session.ToolResponseRecord{
		ToolName: toolName,
		Response: structured,
	})
}

// Reset clears all records for a new turn.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = []session.ToolCallRecord{}
	l.responses = []session.ToolResponseRecord{}
}

// Calls returns a copy of the call records in order.
func (l *Ledger) Calls() []session.ToolCallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]session.ToolCallRecord, len(l.calls))
	copy(out, l.calls)
	return out
}

// Responses returns a copy of the response records in order.
func (l *Ledger) Responses() []session.ToolResponseRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]session.ToolResponseRecord, len(l.responses))
	copy(out, l.responses)
	return out
}
