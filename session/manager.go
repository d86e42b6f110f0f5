package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/shopchat/config"
)

// ErrMaxSessions is returned when the session cap is reached
var ErrMaxSessions = errors.New("maximum sessions reached")

const cleanupInterval = time.Minute

// Manager manages all client sessions
type Manager struct {
	sessions    map[string]*ClientSession
	mu          sync.RWMutex
	redis       *redis.Client
	factory     BackendFactory
	maxSessions int
	timeout     time.Duration
}

// NewManager creates a session manager. The Redis registry is used when reachable.
func NewManager(cfg *config.Config, factory BackendFactory) *Manager {
	var redisClient *redis.Client

	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("component", "session").Str("addr", cfg.RedisURL).Msg("redis unavailable, registry disabled")
			_ = redisClient.Close()
			redisClient = nil
		}
	}

	return &Manager{
		sessions:    make(map[string]*ClientSession),
		redis:       redisClient,
		factory:     factory,
		maxSessions: cfg.MaxSessions,
		timeout:     cfg.SessionTimeout,
	}
}

// CreateSession opens a backend for sessionID. An existing session with the same id is
// replaced, which is what a reconnecting client expects.
func (sm *Manager) CreateSession(ctx context.Context, sessionID string, audio bool) (*ClientSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if old, ok := sm.sessions[sessionID]; ok {
		log.Info().Str("component", "session").Str("session_id", sessionID).Msg("replacing existing session")
		_ = old.Close()
		delete(sm.sessions, sessionID)
	}

	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		return nil, ErrMaxSessions
	}

	backendCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cs := newClientSession(sessionID, audio, cancel)

	backend, err := sm.factory(backendCtx, cs)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "open backend")
	}
	cs.mu.Lock()
	cs.backend = backend
	cs.mu.Unlock()

	sm.storeSession(ctx, cs)
	log.Info().Str("component", "session").Str("session_id", sessionID).Bool("audio", audio).Int("active", len(sm.sessions)).Msg("session created")
	return cs, nil
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, cs *ClientSession) {
	sm.sessions[cs.ID] = cs

	if sm.redis != nil {
		key := "session:" + cs.ID
		sm.redis.HSet(ctx, key, map[string]interface{}{
			"created_at":    cs.CreatedAt.Format(time.RFC3339),
			"last_activity": cs.LastActivity.Format(time.RFC3339),
			"status":        "active",
			"audio":         cs.Audio,
		})
		sm.redis.SAdd(ctx, "active_sessions", cs.ID)
		sm.redis.Expire(ctx, key, sm.timeout)
	}
}

func (sm *Manager) forget(ctx context.Context, id string) {
	delete(sm.sessions, id)
	if sm.redis != nil {
		sm.redis.Del(ctx, "session:"+id)
		sm.redis.SRem(ctx, "active_sessions", id)
	}
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	cs, exists := sm.sessions[sessionID]
	return cs, exists
}

// RemoveSession closes cs and unregisters it unless a newer session already took its id
func (sm *Manager) RemoveSession(ctx context.Context, cs *ClientSession) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	_ = cs.Close()
	if current, ok := sm.sessions[cs.ID]; ok && current == cs {
		sm.forget(ctx, cs.ID)
		log.Info().Str("component", "session").Str("session_id", cs.ID).Msg("session removed")
	}
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions idle longer than the timeout
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, cs := range sm.sessions {
		if now.Sub(cs.lastActivity()) > sm.timeout {
			_ = cs.Close()
			sm.forget(ctx, id)
			removed++
		}
	}
	if removed > 0 {
		log.Info().Str("component", "session").Int("removed", removed).Msg("cleaned up inactive sessions")
	}
	return removed
}

// StartCleanupRoutine runs the inactivity cleanup until ctx is done
func (sm *Manager) StartCleanupRoutine(ctx context.Context) error {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for id, cs := range sm.sessions {
		_ = cs.Close()
		delete(sm.sessions, id)
	}

	if sm.redis != nil {
		_ = sm.redis.Close()
	}
}
