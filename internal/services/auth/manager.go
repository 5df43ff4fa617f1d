package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/interfaces"
	"github.com/ternarybob/jcx/internal/models"
)

// Manager produces live sessions per server identity. It is the process-scoped
// session registry: owned by the application and passed by reference to the
// components that need sessions.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	locks     map[string]*sync.Mutex
	providers map[models.AuthMethod]interfaces.AuthProvider
	store     interfaces.SecretStore
	now       func() time.Time
	logger    arbor.ILogger
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithStore persists sessions so later processes can skip re-authentication
func WithStore(store interfaces.SecretStore) ManagerOption {
	return func(m *Manager) {
		m.store = store
	}
}

// WithProvider registers the provider for its method
func WithProvider(provider interfaces.AuthProvider) ManagerOption {
	return func(m *Manager) {
		m.providers[provider.Method()] = provider
	}
}

// WithClock replaces the time source, used by tests
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a session manager
func NewManager(logger arbor.ILogger, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:  make(map[string]*models.Session),
		locks:     make(map[string]*sync.Mutex),
		providers: make(map[models.AuthMethod]interfaces.AuthProvider),
		now:       time.Now,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Acquire returns a live session for the profile. A cached or persisted
// session is reused until it expires; an expired session is refreshed once
// through the provider, otherwise a full authentication round runs.
// Concurrent callers for the same server share one authentication round.
func (m *Manager) Acquire(ctx context.Context, profile models.ServerProfile) (*models.Session, error) {
	provider, ok := m.providers[profile.AuthMethod]
	if !ok {
		return nil, models.NewError(models.KindInvalidCredentials, fmt.Sprintf("no provider for auth method %q", profile.AuthMethod))
	}

	identity := profile.Identity()
	lock := m.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	now := m.now()

	expired := m.cached(identity, profile.AuthMethod)
	if expired != nil && !expired.Expired(now) {
		return expired, nil
	}

	if expired == nil {
		persisted, err := m.load(ctx, profile)
		if err != nil {
			m.logger.Warn().Err(err).Str("server", identity).Msg("Could not load persisted session")
		}
		if persisted != nil && !persisted.Expired(now) {
			m.logger.Debug().Str("server", identity).Msg("Using persisted session")
			m.put(persisted)
			return persisted, nil
		}
		expired = persisted
	}

	var (
		session *models.Session
		err     error
	)
	if expired != nil {
		m.logger.Info().Str("server", identity).Str("method", string(profile.AuthMethod)).Msg("Session expired, refreshing")
		session, err = provider.Refresh(ctx, profile, expired)
	} else {
		m.logger.Info().Str("server", identity).Str("method", string(profile.AuthMethod)).Msg("Authenticating")
		session, err = provider.Authenticate(ctx, profile)
	}
	if err != nil {
		m.drop(identity)
		return nil, classifyProviderError(err)
	}

	m.normalize(session, profile)
	m.put(session)

	if err := m.persist(ctx, session); err != nil {
		m.logger.Warn().Err(err).Str("server", identity).Msg("Could not persist session")
	}

	m.logger.Info().
		Str("server", identity).
		Str("method", string(session.Method)).
		Str("expires_at", session.ExpiresAt.Format(time.RFC3339)).
		Msg("Session acquired")

	return session, nil
}

// Expire marks the held session expired without discarding it, so the next
// Acquire renews it through the provider's Refresh with the session's refresh
// material. With nothing held the next Acquire authenticates.
func (m *Manager) Expire(ctx context.Context, profile models.ServerProfile) error {
	identity := profile.Identity()
	lock := m.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	session := m.cached(identity, profile.AuthMethod)
	if session == nil {
		persisted, err := m.load(ctx, profile)
		if err != nil {
			m.logger.Warn().Err(err).Str("server", identity).Msg("Could not load persisted session")
		}
		session = persisted
	}
	if session == nil {
		return nil
	}

	// Callers may still hold the live pointer
	expired := *session
	expired.ExpiresAt = m.now()
	m.put(&expired)

	if err := m.persist(ctx, &expired); err != nil {
		return fmt.Errorf("failed to persist expired session: %w", err)
	}

	m.logger.Info().Str("server", identity).Msg("Session marked expired")
	return nil
}

// Invalidate discards the cached and persisted session for the profile.
// The next Acquire runs a new authentication round.
func (m *Manager) Invalidate(ctx context.Context, profile models.ServerProfile) error {
	identity := profile.Identity()
	lock := m.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	m.drop(identity)

	if m.store != nil {
		if err := m.store.Delete(ctx, storeKey(identity, profile.AuthMethod)); err != nil {
			return fmt.Errorf("failed to delete persisted session: %w", err)
		}
	}

	m.logger.Info().Str("server", identity).Msg("Session invalidated")
	return nil
}

// Status reports what the manager holds for the profile without authenticating
func (m *Manager) Status(ctx context.Context, profile models.ServerProfile) models.SessionStatus {
	identity := profile.Identity()
	status := models.SessionStatus{
		Identity: identity,
		Method:   profile.AuthMethod,
	}

	session := m.cached(identity, profile.AuthMethod)
	if session != nil {
		status.Cached = true
	}

	if persisted, err := m.load(ctx, profile); err == nil && persisted != nil {
		status.Persisted = true
		if session == nil {
			session = persisted
		}
	}

	if session != nil {
		status.CreatedAt = session.CreatedAt
		status.ExpiresAt = session.ExpiresAt
	}

	return status
}

// Stored reports every persisted session, including servers that are no
// longer configured
func (m *Manager) Stored(ctx context.Context) ([]models.SessionStatus, error) {
	if m.store == nil {
		return nil, nil
	}

	keys, err := m.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list persisted sessions: %w", err)
	}

	var out []models.SessionStatus
	for _, key := range keys {
		identity, method, ok := parseStoreKey(key)
		if !ok {
			continue
		}
		status := m.Status(ctx, models.ServerProfile{URL: identity, AuthMethod: method})
		if status.Persisted {
			out = append(out, status)
		}
	}
	return out, nil
}

// Close drops every cached session. Persisted sessions are kept.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*models.Session)
}

func (m *Manager) identityLock(identity string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[identity]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[identity] = lock
	}
	return lock
}

func (m *Manager) cached(identity string, method models.AuthMethod) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[identity]
	if !ok || session.Method != method {
		return nil
	}
	return session
}

func (m *Manager) put(session *models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.Identity] = session
}

func (m *Manager) drop(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, identity)
}

func (m *Manager) normalize(session *models.Session, profile models.ServerProfile) {
	now := m.now()
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	session.Identity = profile.Identity()
	session.Method = profile.AuthMethod
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = session.CreatedAt.Add(profile.TTL())
	}
}

func (m *Manager) load(ctx context.Context, profile models.ServerProfile) (*models.Session, error) {
	if m.store == nil {
		return nil, nil
	}

	blob, err := m.store.Get(ctx, storeKey(profile.Identity(), profile.AuthMethod))
	if errors.Is(err, interfaces.ErrSecretNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var session models.Session
	if err := json.Unmarshal(blob, &session); err != nil {
		return nil, fmt.Errorf("failed to decode persisted session: %w", err)
	}
	if session.Identity != profile.Identity() || session.Method != profile.AuthMethod {
		return nil, nil
	}
	return &session, nil
}

func (m *Manager) persist(ctx context.Context, session *models.Session) error {
	if m.store == nil {
		return nil
	}

	blob, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return m.store.Put(ctx, storeKey(session.Identity, session.Method), blob)
}

const storeKeyPrefix = "session:"

func storeKey(identity string, method models.AuthMethod) string {
	return storeKeyPrefix + string(method) + ":" + identity
}

func parseStoreKey(key string) (identity string, method models.AuthMethod, ok bool) {
	rest, ok := strings.CutPrefix(key, storeKeyPrefix)
	if !ok {
		return "", "", false
	}
	m, identity, ok := strings.Cut(rest, ":")
	if !ok || m == "" || identity == "" {
		return "", "", false
	}
	return identity, models.AuthMethod(m), true
}

// classifyProviderError keeps typed provider errors and treats anything else
// as the provider being unavailable, which callers may retry.
func classifyProviderError(err error) error {
	if models.KindOf(err).Category() == models.CategoryAuth {
		return err
	}
	return models.WrapError(models.KindProviderUnavailable, "authentication provider failed", err)
}
