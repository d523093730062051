package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nazanin90/adk-data-agent/internal/circuitbreaker"
	"github.com/nazanin90/adk-data-agent/internal/metrics"
)

// Manager handles session management with Redis backend
type Manager struct {
	client      *circuitbreaker.RedisWrapper
	logger      *zap.Logger
	ttl         time.Duration
	mu          sync.RWMutex
	localCache  map[string]*Session  // Local cache for performance
	cacheAccess map[string]time.Time // Track last access time for LRU
	maxSessions int
}

// NewManager creates a new session manager
func NewManager(redisAddr string, logger *zap.Logger) (*Manager, error) {
	redisPassword := os.Getenv("REDIS_PASSWORD")

	redisClient := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     redisPassword,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	client := circuitbreaker.NewRedisWrapper(redisClient, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Manager{
		client:      client,
		logger:      logger,
		ttl:         24 * time.Hour, // Default session TTL
		localCache:  make(map[string]*Session),
		cacheAccess: make(map[string]time.Time),
		maxSessions: 10000, // Max sessions to keep in local cache
	}, nil
}

// NewManagerWithClient creates a session manager over an existing Redis
// client, used in tests with miniredis.
func NewManagerWithClient(redisClient *redis.Client, logger *zap.Logger) *Manager {
	return &Manager{
		client:      circuitbreaker.NewRedisWrapper(redisClient, logger),
		logger:      logger,
		ttl:         24 * time.Hour,
		localCache:  make(map[string]*Session),
		cacheAccess: make(map[string]time.Time),
		maxSessions: 10000,
	}
}

// CreateSession creates a new session
func (m *Manager) CreateSession(ctx context.Context, userID string) (*Session, error) {
	sessionID := uuid.New().String()
	return m.CreateSessionWithID(ctx, sessionID, userID)
}

// CreateSessionWithID creates a new session with a specific ID. If the
// session already exists for the same user it is returned as-is; an existing
// session owned by another user gets a freshly generated id instead.
func (m *Manager) CreateSessionWithID(ctx context.Context, sessionID string, userID string) (*Session, error) {
	existing, _ := m.GetSession(ctx, sessionID)
	if existing != nil {
		if existing.UserID != userID {
			m.logger.Warn("Attempted to reuse session ID from different user, generating new ID",
				zap.String("requested_session_id", sessionID),
				zap.String("requesting_user", userID),
				zap.String("existing_owner", existing.UserID),
			)
			return m.CreateSession(ctx, userID)
		}
		return existing, nil
	}

	now := time.Now()
	session := &Session{
		ID:            sessionID,
		UserID:        userID,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(m.ttl),
		Bindings:      make(map[string]*ConversationBinding),
		ToolCalls:     []ToolCallRecord{},
		ToolResponses: []ToolResponseRecord{},
		Outputs:       make(map[string]interface{}),
	}

	if err := m.saveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.mu.Lock()
	m.localCache[sessionID] = session
	m.cacheAccess[sessionID] = time.Now()
	m.cleanupLocalCache()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("Created new session",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
	)
	metrics.SessionsCreated.Inc()

	return session, nil
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	// Check local cache first
	m.mu.RLock()
	if session, ok := m.localCache[sessionID]; ok {
		m.mu.RUnlock()
		metrics.SessionCacheHits.Inc()
		if session.IsExpired() {
			m.DeleteSession(ctx, sessionID)
			return nil, ErrSessionExpired
		}
		m.mu.Lock()
		m.cacheAccess[sessionID] = time.Now()
		m.mu.Unlock()
		return session, nil
	}
	m.mu.RUnlock()
	metrics.SessionCacheMisses.Inc()

	// Load from Redis
	key := m.sessionKey(sessionID)
	data, err := m.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	if session.IsExpired() {
		m.DeleteSession(ctx, sessionID)
		return nil, ErrSessionExpired
	}

	// Update local cache and track access time
	m.mu.Lock()
	m.localCache[sessionID] = &session
	m.cacheAccess[sessionID] = time.Now()
	m.cleanupLocalCache()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	return &session, nil
}

// GetOrCreateSession returns the session with the given id, creating it when
// absent or expired.
func (m *Manager) GetOrCreateSession(ctx context.Context, sessionID, userID string) (*Session, error) {
	session, err := m.GetSession(ctx, sessionID)
	if err == nil {
		return session, nil
	}
	if err != ErrSessionNotFound && err != ErrSessionExpired {
		return nil, err
	}
	return m.CreateSessionWithID(ctx, sessionID, userID)
}

// UpdateSession updates an existing session
func (m *Manager) UpdateSession(ctx context.Context, session *Session) error {
	if session == nil {
		return fmt.Errorf("session is nil")
	}

	session.UpdatedAt = time.Now()

	if err := m.saveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	m.mu.Lock()
	m.localCache[session.ID] = session
	m.mu.Unlock()

	return nil
}

// DeleteSession deletes a session
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	key := m.sessionKey(sessionID)
	if err := m.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	m.mu.Lock()
	delete(m.localCache, sessionID)
	delete(m.cacheAccess, sessionID)
	// Update cache size metric while holding the lock to avoid races
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("Deleted session", zap.String("session_id", sessionID))
	return nil
}

// ExtendSession extends the TTL of a session
func (m *Manager) ExtendSession(ctx context.Context, sessionID string, duration time.Duration) error {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	session.ExpiresAt = time.Now().Add(duration)
	return m.UpdateSession(ctx, session)
}

// GetUserSessions gets all sessions for a user
func (m *Manager) GetUserSessions(ctx context.Context, userID string) ([]*Session, error) {
	keys, err := m.client.Keys(ctx, "session:*").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var sessions []*Session
	for _, key := range keys {
		data, err := m.client.Get(ctx, key).Bytes()
		if err != nil {
			continue // Skip failed sessions
		}

		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}

		if session.UserID == userID && !session.IsExpired() {
			sessions = append(sessions, &session)
		}
	}

	return sessions, nil
}

// CleanupExpired removes expired sessions
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	keys, err := m.client.Keys(ctx, "session:*").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	cleaned := 0
	for _, key := range keys {
		data, err := m.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}

		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}

		if session.IsExpired() {
			if err := m.client.Del(ctx, key).Err(); err == nil {
				cleaned++
			}
		}
	}

	m.logger.Info("Cleaned up expired sessions", zap.Int("count", cleaned))
	return cleaned, nil
}

// Private methods

func (m *Manager) sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func (m *Manager) saveSession(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := m.sessionKey(session.ID)
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = m.ttl
	}

	return m.client.Set(ctx, key, data, ttl).Err()
}

func (m *Manager) cleanupLocalCache() {
	// Remove oldest entries if cache is too large using LRU
	if len(m.localCache) > m.maxSessions {
		type accessEntry struct {
			id   string
			time time.Time
		}

		entries := make([]accessEntry, 0, len(m.localCache))
		for id := range m.localCache {
			accessTime, exists := m.cacheAccess[id]
			if !exists {
				accessTime = time.Time{}
			}
			entries = append(entries, accessEntry{id: id, time: accessTime})
		}

		// Sort by access time (oldest first)
		for i := 0; i < len(entries)-1; i++ {
			for j := i + 1; j < len(entries); j++ {
				if entries[j].time.Before(entries[i].time) {
					entries[i], entries[j] = entries[j], entries[i]
				}
			}
		}

		// Remove the oldest half
		toRemove := m.maxSessions / 2
		for i := 0; i < toRemove && i < len(entries); i++ {
			delete(m.localCache, entries[i].id)
			delete(m.cacheAccess, entries[i].id)
			metrics.SessionCacheEvictions.Inc()
		}
	}
}

// Close closes the session manager
func (m *Manager) Close() error {
	return m.client.Close()
}

// RedisWrapper returns the underlying Redis circuit breaker wrapper for health checks and monitoring
func (m *Manager) RedisWrapper() *circuitbreaker.RedisWrapper {
	return m.client
}
