package datachat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nazanin90/adk-data-agent/internal/circuitbreaker"
	"github.com/nazanin90/adk-data-agent/internal/tracing"
)

const defaultBaseURL = "https://geminidataanalytics.googleapis.com/v1beta"

// HTTPClient talks to the data chat backend over REST. Requests go through a
// circuit breaker and a client-side rate limiter so a misbehaving backend
// cannot stall every in-flight turn.
type HTTPClient struct {
	base     string
	project  string
	location string
	http     *circuitbreaker.HTTPWrapper
	limiter  *rate.Limiter
	token    TokenSource
	logger   *zap.Logger
}

// TokenSource supplies bearer tokens for backend requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource backed by a fixed string, used in tests and
// local development.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// HTTPClientOptions configures a backend client.
type HTTPClientOptions struct {
	BaseURL   string
	Project   string
	Location  string
	Token     TokenSource
	Timeout   time.Duration
	RateLimit rate.Limit
	Burst     int
}

// NewHTTPClient builds a backend client. Zero option fields get sensible
// defaults.
func NewHTTPClient(opts HTTPClientOptions, logger *zap.Logger) *HTTPClient {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = rate.Limit(10)
	}
	if opts.Burst == 0 {
		opts.Burst = 20
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	hc := &http.Client{Timeout: opts.Timeout}
	return &HTTPClient{
		base:     strings.TrimSuffix(opts.BaseURL, "/"),
		project:  opts.Project,
		location: opts.Location,
		http:     circuitbreaker.NewHTTPWrapper(hc, "datachat", "orchestrator", logger),
		limiter:  rate.NewLimiter(opts.RateLimit, opts.Burst),
		token:    opts.Token,
		logger:   logger,
	}
}

// CreateConversation registers a conversation scoped to a single data agent.
func (c *HTTPClient) CreateConversation(ctx context.Context, agentID, conversationID string) error {
	body := map[string]interface{}{
		"agents": []string{AgentName(c.project, c.location, agentID)},
	}
	path := fmt.Sprintf("/%s/conversations?conversation_id=%s",
		LocationName(c.project, c.location), url.QueryEscape(conversationID))

	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return fmt.Errorf("create conversation %s for agent %s: %w", conversationID, agentID, err)
	}
	c.logger.Debug("Created conversation",
		zap.String("agent_id", agentID),
		zap.String("conversation_id", conversationID))
	return nil
}

// chatRequest is the wire shape of a chat call against an existing
// conversation.
type chatRequest struct {
	Parent   string        `json:"parent"`
	Messages []userMessage `json:"messages"`
	ConvRef  convReference `json:"conversationReference"`
}

type userMessage struct {
	UserMessage struct {
		Text string `json:"text"`
	} `json:"userMessage"`
}

type convReference struct {
	Conversation     string `json:"conversation"`
	DataAgentContext struct {
		DataAgent string `json:"dataAgent"`
	} `json:"dataAgentContext"`
}

// Chat sends a message and decodes the streamed system messages. The backend
// returns the whole stream as a JSON array once the turn completes.
func (c *HTTPClient) Chat(ctx context.Context, agentID, conversationID, message string) ([]Message, error) {
	var req chatRequest
	req.Parent = LocationName(c.project, c.location)
	var um userMessage
	um.UserMessage.Text = message
	req.Messages = []userMessage{um}
	req.ConvRef.Conversation = ConversationName(c.project, c.location, conversationID)
	req.ConvRef.DataAgentContext.DataAgent = AgentName(c.project, c.location, agentID)

	path := fmt.Sprintf("/%s:chat", LocationName(c.project, c.location))

	var msgs []Message
	if err := c.do(ctx, http.MethodPost, path, req, &msgs); err != nil {
		return nil, fmt.Errorf("chat with agent %s: %w", agentID, err)
	}
	return msgs, nil
}

// DeleteDataAgent removes the agent resource.
func (c *HTTPClient) DeleteDataAgent(ctx context.Context, agentID string) error {
	path := "/" + AgentName(c.project, c.location, agentID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete data agent %s: %w", agentID, err)
	}
	return nil
}

// UpdateDataAgent patches the agent resource with the populated fields of
// update.
func (c *HTTPClient) UpdateDataAgent(ctx context.Context, agentID string, update AgentUpdate) error {
	mask := update.UpdateMask()
	if len(mask) == 0 {
		return nil
	}
	path := fmt.Sprintf("/%s?updateMask=%s",
		AgentName(c.project, c.location, agentID),
		url.QueryEscape(strings.Join(mask, ",")))
	if err := c.do(ctx, http.MethodPatch, path, update, nil); err != nil {
		return fmt.Errorf("update data agent %s: %w", agentID, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	ctx, span := tracing.StartHTTPSpan(ctx, method, c.base+path)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)
	if c.token != nil {
		tok, err := c.token.Token(ctx)
		if err != nil {
			return fmt.Errorf("fetch token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("Backend request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &APIError{Status: resp.StatusCode, Body: string(payload)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// APIError reports a non-2xx backend response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Body)
}
