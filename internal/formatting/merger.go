// Package formatting assembles the structured turn output the frontend
// consumes: the summary, grouped per-tool results, and grounding metadata.
package formatting

import (
	"go.uber.org/zap"

	"github.com/nazanin90/adk-data-agent/internal/agents"
	"github.com/nazanin90/adk-data-agent/internal/metadata"
	"github.com/nazanin90/adk-data-agent/internal/session"
)

// Reserved keys always come from the call record, never from response data.
const (
	KeyToolName     = "tool_name"
	KeyToolInput    = "tool_input"
	KeyToolMetadata = "tool_metadata"
)

// GroupedResult is one tool's merged result: the reserved keys plus the
// response's data fields spread at the top level.
type GroupedResult = map[string]interface{}

// Output is the structured result of one turn.
type Output struct {
	Summary           string              `json:"summary"`
	ToolResponse      []GroupedResult     `json:"tool_response"`
	GroundingMetadata *metadata.Grounding `json:"grounding_metadata"`
}

// Merger pairs tool calls with their responses and folds response data into
// grouped results.
type Merger struct {
	registry *agents.Registry
	logger   *zap.Logger
}

func NewMerger(registry *agents.Registry, logger *zap.Logger) *Merger {
	return &Merger{registry: registry, logger: logger}
}

// BuildOutput pairs each call with the oldest unclaimed response for the
// same tool name, so duplicate invocations of one tool line up in order.
// Calls without a response are dropped with a warning.
func (m *Merger) BuildOutput(
	summary string,
	calls []session.ToolCallRecord,
	responses []session.ToolResponseRecord,
	grounding *metadata.Grounding,
) Output {
	// FIFO queue of response indices per tool name.
	queues := make(map[string][]int)
	for i, resp := range responses {
		queues[resp.ToolName] = append(queues[resp.ToolName], i)
	}

	grouped := make([]GroupedResult, 0, len(calls))
	for _, call := range calls {
		queue := queues[call.ToolName]
		if len(queue) == 0 {
			m.logger.Warn("No matching tool response found",
				zap.String("tool_name", call.ToolName))
			continue
		}
		respIdx := queue[0]
		queues[call.ToolName] = queue[1:]

		merged := m.mergeResponseData(call.ToolName, responses[respIdx].Response)

		result := GroupedResult{
			KeyToolName:     call.ToolName,
			KeyToolInput:    call.Input,
			KeyToolMetadata: m.registry.MetadataFor(call.ToolName),
		}
		for k, v := range merged {
			if k == KeyToolName || k == KeyToolInput || k == KeyToolMetadata {
				m.logger.Warn("Dropping response field colliding with reserved key",
					zap.String("tool_name", call.ToolName),
					zap.String("key", k))
				continue
			}
			result[k] = v
		}
		grouped = append(grouped, result)
	}

	return Output{
		Summary:           summary,
		ToolResponse:      grouped,
		GroundingMetadata: grounding,
	}
}

// mergeResponseData flattens one response record into a field map.
func (m *Merger) mergeResponseData(toolName string, response interface{}) map[string]interface{} {
	switch data := response.(type) {
	case string:
		// Only the web search tool returns plain strings. A string from any
		// other tool is an unrecognized shape and contributes nothing.
		if toolName == agents.GoogleSearchAgent {
			return map[string]interface{}{"text": data}
		}
		m.logger.Warn("Tool response has unrecognized shape",
			zap.String("tool_name", toolName))
		return map[string]interface{}{}
	case map[string]interface{}:
		if list, ok := data["tool_response"]; ok {
			return mergeList(list)
		}
		return data
	case []interface{}:
		return mergeItems(data)
	case []map[string]interface{}:
		merged := make(map[string]interface{})
		for _, item := range data {
			for k, v := range item {
				merged[k] = v
			}
		}
		return merged
	default:
		m.logger.Warn("Tool response has unrecognized shape",
			zap.String("tool_name", toolName))
		return map[string]interface{}{}
	}
}

func mergeList(list interface{}) map[string]interface{} {
	switch items := list.(type) {
	case []interface{}:
		return mergeItems(items)
	case []map[string]interface{}:
		merged := make(map[string]interface{})
		for _, item := range items {
			for k, v := range item {
				merged[k] = v
			}
		}
		return merged
	default:
		return map[string]interface{}{}
	}
}

func mergeItems(items []interface{}) map[string]interface{} {
	merged := make(map[string]interface{})
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			for k, v := range m {
				merged[k] = v
			}
		}
	}
	return merged
}
