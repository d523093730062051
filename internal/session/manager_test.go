package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mgr := NewManagerWithClient(client, zaptest.NewLogger(t))
	t.Cleanup(func() { mgr.Close() })
	return mgr, mr
}

func TestCreateAndGetSession(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	s, err := mgr.CreateSessionWithID(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", s.ID)
	assert.Equal(t, "user-1", s.UserID)

	got, err := mgr.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestGetSessionNotFound(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionSurvivesCacheMiss(t *testing.T) {
	mgr, mr := newTestManager(t)
	ctx := context.Background()

	s, err := mgr.CreateSessionWithID(ctx, "sess-2", "user-1")
	require.NoError(t, err)
	s.SetBinding("patient_data_agent", &ConversationBinding{
		ConversationID: "conv-abc",
		Created:        true,
	})
	s.SetOutput("patient_agent_output", map[string]interface{}{"summary": "done"})
	require.NoError(t, mgr.UpdateSession(ctx, s))

	// Fresh manager over the same Redis forces the Redis read path.
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mgr2 := NewManagerWithClient(client, zaptest.NewLogger(t))
	defer mgr2.Close()

	got, err := mgr2.GetSession(ctx, "sess-2")
	require.NoError(t, err)

	binding, ok := got.Binding("patient_data_agent")
	require.True(t, ok)
	assert.Equal(t, "conv-abc", binding.ConversationID)
	assert.True(t, binding.Created)

	out, ok := got.Output("patient_agent_output")
	require.True(t, ok)
	assert.Equal(t, "done", out.(map[string]interface{})["summary"])
}

func TestCreateSessionWithIDReturnsExistingForSameUser(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.CreateSessionWithID(ctx, "sess-3", "user-1")
	require.NoError(t, err)

	again, err := mgr.CreateSessionWithID(ctx, "sess-3", "user-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestCreateSessionWithIDRejectsForeignUser(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateSessionWithID(ctx, "sess-4", "user-1")
	require.NoError(t, err)

	other, err := mgr.CreateSessionWithID(ctx, "sess-4", "user-2")
	require.NoError(t, err)
	assert.NotEqual(t, "sess-4", other.ID)
	assert.Equal(t, "user-2", other.UserID)
}

func TestGetOrCreateSession(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	s, err := mgr.GetOrCreateSession(ctx, "sess-5", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-5", s.ID)

	again, err := mgr.GetOrCreateSession(ctx, "sess-5", "user-1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, again.ID)
}

func TestExpiredSessionIsDeleted(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	s, err := mgr.CreateSessionWithID(ctx, "sess-6", "user-1")
	require.NoError(t, err)

	s.ExpiresAt = time.Now().Add(-time.Minute)
	mgr.mu.Lock()
	mgr.localCache[s.ID] = s
	mgr.mu.Unlock()

	_, err = mgr.GetSession(ctx, "sess-6")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestDeleteSession(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateSessionWithID(ctx, "sess-7", "user-1")
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteSession(ctx, "sess-7"))
	_, err = mgr.GetSession(ctx, "sess-7")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestResetTurnClearsLedgerAndGrounding(t *testing.T) {
	s := &Session{
		ToolCalls:     []ToolCallRecord{{ToolName: "patient_data_agent", Input: "{}"}},
		ToolResponses: []ToolResponseRecord{{ToolName: "patient_data_agent", Response: "x"}},
	}
	s.SetBinding("patient_data_agent", &ConversationBinding{ConversationID: "conv-1", Created: true})

	s.ResetTurn()

	assert.Empty(t, s.ToolCalls)
	assert.Empty(t, s.ToolResponses)
	assert.Nil(t, s.Grounding)

	// Bindings persist across turns.
	_, ok := s.Binding("patient_data_agent")
	assert.True(t, ok)
}

func TestGetUserSessions(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateSessionWithID(ctx, "a-1", "user-a")
	require.NoError(t, err)
	_, err = mgr.CreateSessionWithID(ctx, "a-2", "user-a")
	require.NoError(t, err)
	_, err = mgr.CreateSessionWithID(ctx, "b-1", "user-b")
	require.NoError(t, err)

	sessions, err := mgr.GetUserSessions(ctx, "user-a")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}
