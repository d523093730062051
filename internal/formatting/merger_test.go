package formatting

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nazanin90/adk-data-agent/internal/agents"
	"github.com/nazanin90/adk-data-agent/internal/metadata"
	"github.com/nazanin90/adk-data-agent/internal/session"
)

func newTestMerger(t *testing.T) *Merger {
	t.Helper()
	agents.ResetRegistryForTest()
	t.Setenv("AGENT_REGISTRY_CONFIG", "/nonexistent/registry.yaml")
	return NewMerger(agents.LoadRegistry(), zaptest.NewLogger(t))
}

func TestBuildOutputStructuredAgent(t *testing.T) {
	m := newTestMerger(t)

	calls := []session.ToolCallRecord{
		{ToolName: agents.PatientDataAgent, Input: `{"request":"patient ages"}`},
	}
	responses := []session.ToolResponseRecord{
		{ToolName: agents.PatientDataAgent, Response: map[string]interface{}{
			"summary": "Two patients found.",
			"tool_response": []interface{}{
				map[string]interface{}{
					"sql_generated": "SELECT name, age FROM patients",
					"data_retrieved": map[string]interface{}{
						"name": []interface{}{"alice", "bob"},
						"age":  []interface{}{30, 45},
					},
				},
			},
		}},
	}

	out := m.BuildOutput("Here are the patients.", calls, responses, nil)

	assert.Equal(t, "Here are the patients.", out.Summary)
	require.Len(t, out.ToolResponse, 1)

	result := out.ToolResponse[0]
	assert.Equal(t, agents.PatientDataAgent, result[KeyToolName])
	assert.Equal(t, `{"request":"patient ages"}`, result[KeyToolInput])
	assert.Equal(t, "SELECT name, age FROM patients", result["sql_generated"])

	data := result["data_retrieved"].(map[string]interface{})
	assert.Equal(t, []interface{}{30, 45}, data["age"])

	md := result[KeyToolMetadata].(agents.ToolMetadata)
	assert.Equal(t, "Patient Clinical Data", md.DisplayName)
}

func TestBuildOutputSearchAgentString(t *testing.T) {
	m := newTestMerger(t)

	calls := []session.ToolCallRecord{
		{ToolName: agents.GoogleSearchAgent, Input: `{"request":"flu season"}`},
	}
	responses := []session.ToolResponseRecord{
		{ToolName: agents.GoogleSearchAgent, Response: "Flu season peaks in winter."},
	}

	out := m.BuildOutput("Summary.", calls, responses, nil)
	require.Len(t, out.ToolResponse, 1)
	assert.Equal(t, "Flu season peaks in winter.", out.ToolResponse[0]["text"])
}

func TestBuildOutputNonSearchStringResponse(t *testing.T) {
	m := newTestMerger(t)

	calls := []session.ToolCallRecord{
		{ToolName: agents.PatientDataAgent, Input: `{"request":"ages"}`},
	}
	responses := []session.ToolResponseRecord{
		{ToolName: agents.PatientDataAgent, Response: "plain string"},
	}

	out := m.BuildOutput("Summary.", calls, responses, nil)
	require.Len(t, out.ToolResponse, 1)

	// A bare string from anything but the search tool contributes no fields.
	result := out.ToolResponse[0]
	assert.NotContains(t, result, "text")
	assert.Equal(t, agents.PatientDataAgent, result[KeyToolName])
}

func TestBuildOutputFIFOPairsDuplicateCalls(t *testing.T) {
	m := newTestMerger(t)

	calls := []session.ToolCallRecord{
		{ToolName: agents.PBMDataAgent, Input: "first input"},
		{ToolName: agents.PBMDataAgent, Input: "second input"},
	}
	responses := []session.ToolResponseRecord{
		{ToolName: agents.PBMDataAgent, Response: map[string]interface{}{"sql_generated": "first sql"}},
		{ToolName: agents.PBMDataAgent, Response: map[string]interface{}{"sql_generated": "second sql"}},
	}

	out := m.BuildOutput("", calls, responses, nil)
	require.Len(t, out.ToolResponse, 2)
	assert.Equal(t, "first input", out.ToolResponse[0][KeyToolInput])
	assert.Equal(t, "first sql", out.ToolResponse[0]["sql_generated"])
	assert.Equal(t, "second input", out.ToolResponse[1][KeyToolInput])
	assert.Equal(t, "second sql", out.ToolResponse[1]["sql_generated"])
}

func TestBuildOutputSkipsUnmatchedCalls(t *testing.T) {
	m := newTestMerger(t)

	calls := []session.ToolCallRecord{
		{ToolName: agents.PatientDataAgent, Input: "a"},
		{ToolName: agents.PBMDataAgent, Input: "b"},
	}
	responses := []session.ToolResponseRecord{
		{ToolName: agents.PBMDataAgent, Response: map[string]interface{}{"x": 1}},
	}

	out := m.BuildOutput("", calls, responses, nil)
	require.Len(t, out.ToolResponse, 1)
	assert.Equal(t, agents.PBMDataAgent, out.ToolResponse[0][KeyToolName])
}

func TestBuildOutputReservedKeysWin(t *testing.T) {
	m := newTestMerger(t)

	calls := []session.ToolCallRecord{
		{ToolName: agents.PatientDataAgent, Input: "real input"},
	}
	responses := []session.ToolResponseRecord{
		{ToolName: agents.PatientDataAgent, Response: map[string]interface{}{
			"tool_name":  "spoofed",
			"tool_input": "spoofed",
			"summary":    "kept",
		}},
	}

	out := m.BuildOutput("", calls, responses, nil)
	require.Len(t, out.ToolResponse, 1)
	result := out.ToolResponse[0]
	assert.Equal(t, agents.PatientDataAgent, result[KeyToolName])
	assert.Equal(t, "real input", result[KeyToolInput])
	assert.Equal(t, "kept", result["summary"])
}

func TestBuildOutputListResponse(t *testing.T) {
	m := newTestMerger(t)

	calls := []session.ToolCallRecord{
		{ToolName: agents.MedicationInventoryAgent, Input: "stock"},
	}
	responses := []session.ToolResponseRecord{
		{ToolName: agents.MedicationInventoryAgent, Response: []interface{}{
			map[string]interface{}{"query": "stock levels"},
			map[string]interface{}{"sql_generated": "SELECT * FROM stock"},
		}},
	}

	out := m.BuildOutput("", calls, responses, nil)
	require.Len(t, out.ToolResponse, 1)
	assert.Equal(t, "stock levels", out.ToolResponse[0]["query"])
	assert.Equal(t, "SELECT * FROM stock", out.ToolResponse[0]["sql_generated"])
}

func TestBuildOutputEmptyTurn(t *testing.T) {
	m := newTestMerger(t)

	out := m.BuildOutput("Just chatting.", nil, nil, nil)
	assert.Equal(t, "Just chatting.", out.Summary)
	assert.NotNil(t, out.ToolResponse)
	assert.Empty(t, out.ToolResponse)
	assert.Nil(t, out.GroundingMetadata)
}

func TestBuildOutputAttachesGrounding(t *testing.T) {
	m := newTestMerger(t)

	g := &metadata.Grounding{
		Sources:          []metadata.Source{{URI: "https://cdc.gov/flu", Domain: "cdc.gov"}},
		WebSearchQueries: []string{"flu"},
	}

	out := m.BuildOutput("", nil, nil, g)
	require.NotNil(t, out.GroundingMetadata)
	assert.Equal(t, "cdc.gov", out.GroundingMetadata.Sources[0].Domain)
}

func TestOutputJSONContract(t *testing.T) {
	m := newTestMerger(t)

	calls := []session.ToolCallRecord{
		{ToolName: agents.PatientDataAgent, Input: "in"},
	}
	responses := []session.ToolResponseRecord{
		{ToolName: agents.PatientDataAgent, Response: map[string]interface{}{"summary": "s"}},
	}

	out := m.BuildOutput("done", calls, responses, nil)
	raw, err := json.Marshal(out)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "summary")
	assert.Contains(t, decoded, "tool_response")
	assert.Contains(t, decoded, "grounding_metadata")

	tr := decoded["tool_response"].([]interface{})
	first := tr[0].(map[string]interface{})
	md := first["tool_metadata"].(map[string]interface{})
	assert.Equal(t, "Patient Clinical Data", md["display_name"])
}

func TestBuildOutputIdempotent(t *testing.T) {
	m := newTestMerger(t)

	calls := []session.ToolCallRecord{
		{ToolName: agents.PatientDataAgent, Input: "in"},
	}
	responses := []session.ToolResponseRecord{
		{ToolName: agents.PatientDataAgent, Response: map[string]interface{}{"summary": "s"}},
	}

	first := m.BuildOutput("done", calls, responses, nil)
	second := m.BuildOutput("done", calls, responses, nil)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}
