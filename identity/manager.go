package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultKey is the fixed storage key holding the session id.
const DefaultKey = "chat_session_id"

// Manager resolves the session id, creating and persisting one on first use.
type Manager struct {
	store Store
	key   string
	newID func() string

	mu sync.Mutex
}

// Option customizes a Manager
type Option func(*Manager)

// WithKey overrides the storage key
func WithKey(key string) Option {
	return func(m *Manager) {
		if key != "" {
			m.key = key
		}
	}
}

// WithIDGenerator overrides token generation
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		key:   DefaultKey,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreateSessionID returns the stored id, or generates and stores a new one.
func (m *Manager) GetOrCreateSessionID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.store.Get(ctx, m.key)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", errors.Wrap(err, "load session id")
	}

	id = m.newID()
	if err := m.store.Set(ctx, m.key, id); err != nil {
		return "", errors.Wrap(err, "persist session id")
	}
	log.Info().Str("component", "identity").Str("session_id", id).Msg("created session id")
	return id, nil
}

// Reset forgets the stored id; the next GetOrCreateSessionID generates a new one.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Wrap(m.store.Delete(ctx, m.key), "clear session id")
}
