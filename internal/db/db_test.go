package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nazanin90/adk-data-agent/internal/circuitbreaker"
	"github.com/nazanin90/adk-data-agent/internal/orchestrator"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	rawDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewClientWithDB(rawDB, zaptest.NewLogger(t)), mock
}

func TestSaveTurnExecution(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec(`INSERT INTO turn_executions`).
		WithArgs(sqlmock.AnyArg(), "sess-1", "user-1", "average copay", "The average copay is $12.",
			"ok", nil, 1, 1, false, int64(250), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := client.SaveTurnExecution(context.Background(), &TurnExecution{
		SessionID:      "sess-1",
		UserID:         "user-1",
		Message:        "average copay",
		Summary:        "The average copay is $12.",
		Status:         "ok",
		Invocations:    1,
		GroupedResults: 1,
		DurationMs:     250,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTurnEventIDDefaults(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec(`INSERT INTO turn_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	event := &TurnEvent{SessionID: "sess-1", Type: "TURN_STARTED"}
	require.NoError(t, client.SaveTurnEvent(context.Background(), event))

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.False(t, event.Timestamp.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTurnEventNil(t *testing.T) {
	client, mock := newMockClient(t)
	require.NoError(t, client.SaveTurnEvent(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTurnEventQueuesWrite(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec(`INSERT INTO turn_events`).
		WithArgs(sqlmock.AnyArg(), "sess-1", "AGENT_STARTED", "patient_data_agent", "",
			nil, sqlmock.AnyArg(), uint64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, client.RecordTurnEvent(context.Background(), "sess-1", "AGENT_STARTED", "patient_data_agent", ""))

	// The write is processed by a background worker.
	assert.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueueWriteInvokesCallback(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec(`INSERT INTO agent_invocations`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	done := make(chan error, 1)
	require.NoError(t, client.QueueWrite(WriteTypeInvocation, &AgentInvocation{
		SessionID: "sess-1",
		AgentName: "pbm_data_agent",
		Input:     "copay question",
		Status:    "ok",
	}, func(err error) { done <- err }))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("write callback not invoked")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionTurns(t *testing.T) {
	client, mock := newMockClient(t)

	rows := sqlmock.NewRows([]string{
		"id", "session_id", "user_id", "message", "summary", "status", "error_message",
		"invocations", "grouped_results", "has_grounding", "duration_ms", "created_at",
	}).AddRow(uuid.New(), "sess-1", "user-1", "q", "a", "ok", nil, 1, 1, false, int64(10), time.Now())

	mock.ExpectQuery(`SELECT .+ FROM turn_executions`).
		WithArgs("sess-1", 50, 0).
		WillReturnRows(rows)

	turns, err := client.SessionTurns(context.Background(), TurnFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "sess-1", turns[0].SessionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionTurnsRequiresFilter(t *testing.T) {
	client, _ := newMockClient(t)
	_, err := client.SessionTurns(context.Background(), TurnFilter{})
	assert.Error(t, err)
}

func TestSessionEvents(t *testing.T) {
	client, mock := newMockClient(t)

	agentID := "patient_data_agent"
	rows := sqlmock.NewRows([]string{
		"id", "session_id", "type", "agent_id", "message", "payload", "timestamp", "seq", "created_at",
	}).
		AddRow(uuid.New(), "sess-1", "TURN_STARTED", nil, "q", nil, time.Now(), uint64(1), time.Now()).
		AddRow(uuid.New(), "sess-1", "AGENT_STARTED", agentID, "", nil, time.Now(), uint64(2), time.Now())

	mock.ExpectQuery(`SELECT .+ FROM turn_events`).
		WithArgs("sess-1", 100).
		WillReturnRows(rows)

	events, err := client.SessionEvents(context.Background(), "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Nil(t, events[0].AgentID)
	require.NotNil(t, events[1].AgentID)
	assert.Equal(t, "patient_data_agent", *events[1].AgentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTurnQueuesWrite(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec(`INSERT INTO turn_executions`).
		WithArgs(sqlmock.AnyArg(), "sess-1", "user-1", "q", "a", "ok", nil,
			2, 2, true, int64(420), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, client.RecordTurn(context.Background(), orchestrator.TurnRecord{
		SessionID:      "sess-1",
		UserID:         "user-1",
		Message:        "q",
		Summary:        "a",
		Status:         "ok",
		Invocations:    2,
		GroupedResults: 2,
		HasGrounding:   true,
		DurationMs:     420,
	}))

	assert.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWithTransactionCommits(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO turn_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := client.WithTransaction(context.Background(), func(tx *circuitbreaker.TxWrapper) error {
		_, execErr := tx.ExecContext(context.Background(),
			"INSERT INTO turn_events (session_id) VALUES ($1)", "sess-1")
		return execErr
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := client.WithTransaction(context.Background(), func(tx *circuitbreaker.TxWrapper) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
