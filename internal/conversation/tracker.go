// Package conversation binds sub-agents to backend conversations, creating
// each conversation at most once per session.
package conversation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nazanin90/adk-data-agent/internal/datachat"
	"github.com/nazanin90/adk-data-agent/internal/metrics"
	"github.com/nazanin90/adk-data-agent/internal/session"
)

// Tracker lazily creates backend conversations for sub-agents. Bindings live
// on the session, so repeat invocations within a session reuse the same
// conversation and the backend keeps multi-turn context.
type Tracker struct {
	client datachat.Client
	logger *zap.Logger
}

func NewTracker(client datachat.Client, logger *zap.Logger) *Tracker {
	return &Tracker{client: client, logger: logger}
}

// Ensure returns the conversation id bound to agentID in this session,
// creating the backend conversation on first use. The created flag is only
// set after the backend acknowledges, so a failed create retries with the
// same id on the next call. The caller persists the session afterwards.
func (t *Tracker) Ensure(ctx context.Context, agentID string, sess *session.Session) (string, error) {
	binding, ok := sess.Binding(agentID)
	if !ok {
		binding = &session.ConversationBinding{
			ConversationID: fmt.Sprintf("conv-%s", uuid.New().String()),
		}
		sess.SetBinding(agentID, binding)
		t.logger.Info("Generated new conversation ID",
			zap.String("agent_id", agentID),
			zap.String("session_id", sess.ID),
			zap.String("conversation_id", binding.ConversationID))
	}

	if binding.Created {
		return binding.ConversationID, nil
	}

	if err := t.client.CreateConversation(ctx, agentID, binding.ConversationID); err != nil {
		return "", fmt.Errorf("ensure conversation for %s: %w", agentID, err)
	}
	binding.Created = true
	metrics.ConversationsCreated.WithLabelValues(agentID).Inc()

	return binding.ConversationID, nil
}
