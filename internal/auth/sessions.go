package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"web-gateway/internal/store"
)

const (
	sessionKeyPrefix = "sess:"

	DefaultSessionLifetime      = time.Hour
	DefaultStayLoggedInLifetime = 30 * 24 * time.Hour
)

// SessionManager keeps cookie sessions for form and Basic logins in the same
// store as the tokens.
type SessionManager struct {
	store   store.Store
	ttl     time.Duration
	stayTTL time.Duration
	now     func() time.Time
}

func NewSessionManager(st store.Store, ttl, stayTTL time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionLifetime
	}
	if stayTTL <= 0 {
		stayTTL = DefaultStayLoggedInLifetime
	}
	return &SessionManager{store: st, ttl: ttl, stayTTL: stayTTL, now: time.Now}
}

func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *SessionManager) Create(ctx context.Context, principal string, stayLoggedIn bool) (Session, error) {
	id, err := newTokenValue(rand.Reader)
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	session := Session{ID: id, User: principal, StayLoggedIn: stayLoggedIn}
	if err := m.save(ctx, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

func (m *SessionManager) Get(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, ErrSessionNotFound
	}

	raw, err := m.store.Get(ctx, sessionKeyPrefix+id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("%w: load session: %w", ErrStoreUnavailable, err)
	}

	var session Session
	if err := json.Unmarshal(raw, &session); err != nil || session.User == "" {
		return Session{}, ErrSessionNotFound
	}
	if !m.now().Before(session.ExpiresAt) {
		return Session{}, ErrSessionNotFound
	}
	session.ID = id
	return session, nil
}

// Prolong pushes the session expiry out by a full lifetime from now.
func (m *SessionManager) Prolong(ctx context.Context, id string) (Session, error) {
	session, err := m.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if err := m.save(ctx, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

func (m *SessionManager) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.store.Destroy(ctx, sessionKeyPrefix+id); err != nil {
		return fmt.Errorf("%w: destroy session: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (m *SessionManager) lifetime(stayLoggedIn bool) time.Duration {
	if stayLoggedIn {
		return m.stayTTL
	}
	return m.ttl
}

func (m *SessionManager) save(ctx context.Context, session *Session) error {
	ttl := m.lifetime(session.StayLoggedIn)
	session.ExpiresAt = m.now().UTC().Add(ttl)

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Set(ctx, sessionKeyPrefix+session.ID, payload, wholeSeconds(ttl)); err != nil {
		return fmt.Errorf("%w: save session: %w", ErrStoreUnavailable, err)
	}
	return nil
}

var ErrSessionNotFound = errors.New("session not found")
