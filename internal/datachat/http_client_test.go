package datachat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewHTTPClient(HTTPClientOptions{
		BaseURL:  srv.URL,
		Project:  "test-project",
		Location: "global",
		Token:    StaticToken("test-token"),
	}, zaptest.NewLogger(t))
	return client, srv
}

func TestCreateConversation(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"name":"ok"}`))
	}))

	err := client.CreateConversation(context.Background(), "patient-agent", "conv-abc")
	require.NoError(t, err)

	assert.Equal(t, "/projects/test-project/locations/global/conversations?conversation_id=conv-abc", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	agents, ok := gotBody["agents"].([]interface{})
	require.True(t, ok)
	require.Len(t, agents, 1)
	assert.Equal(t, "projects/test-project/locations/global/dataAgents/patient-agent", agents[0])
}

func TestChatDecodesMessages(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "projects/test-project/locations/global", req.Parent)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "how many patients", req.Messages[0].UserMessage.Text)
		assert.Equal(t,
			"projects/test-project/locations/global/conversations/conv-1",
			req.ConvRef.Conversation)

		w.Write([]byte(`[
			{"systemMessage":{"text":{"parts":["There are ","42 patients."]}}},
			{"systemMessage":{"data":{"generatedSql":"SELECT COUNT(*) FROM patients"}}}
		]`))
	}))

	msgs, err := client.Chat(context.Background(), "patient-agent", "conv-1", "how many patients")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, KindText, msgs[0].Kind())
	assert.Equal(t, KindData, msgs[1].Kind())
	assert.Equal(t, "SELECT COUNT(*) FROM patients", msgs[1].SystemMessage.Data.GeneratedSQL)
}

func TestChatBackendError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"permission denied"}}`))
	}))

	_, err := client.Chat(context.Background(), "patient-agent", "conv-1", "hello")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Contains(t, apiErr.Body, "permission denied")
}

func TestDeleteDataAgent(t *testing.T) {
	var gotMethod, gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	}))

	require.NoError(t, client.DeleteDataAgent(context.Background(), "pbm-agent"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/projects/test-project/locations/global/dataAgents/pbm-agent", gotPath)
}

func TestUpdateDataAgent(t *testing.T) {
	var gotMask string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMask = r.URL.Query().Get("updateMask")
		w.Write([]byte(`{}`))
	}))

	err := client.UpdateDataAgent(context.Background(), "pbm-agent", AgentUpdate{
		SystemInstruction: "answer PBM claim questions",
	})
	require.NoError(t, err)
	assert.Equal(t, "data_analytics_agent.published_context.system_instruction", gotMask)
}

func TestUpdateDataAgentNoFields(t *testing.T) {
	called := false
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	require.NoError(t, client.UpdateDataAgent(context.Background(), "pbm-agent", AgentUpdate{}))
	assert.False(t, called)
}
