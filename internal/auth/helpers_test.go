package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"web-gateway/internal/store"
	"web-gateway/internal/store/memory"
)

var errBackendDown = errors.New("backend down")

// flakyStore wraps a memory store and fails every call while down is set.
type flakyStore struct {
	*memory.Store
	mu   sync.Mutex
	down bool
}

func newFlakyStore(now func() time.Time) *flakyStore {
	return &flakyStore{Store: memory.NewWithClock(now)}
}

func (s *flakyStore) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func (s *flakyStore) isDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.isDown() {
		return nil, errBackendDown
	}
	return s.Store.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.isDown() {
		return errBackendDown
	}
	return s.Store.Set(ctx, key, value, ttl)
}

func (s *flakyStore) Destroy(ctx context.Context, key string) error {
	if s.isDown() {
		return errBackendDown
	}
	return s.Store.Destroy(ctx, key)
}

var _ store.Store = (*flakyStore)(nil)

// staticIdentity accepts the passwords in the map, keyed by normalized name.
func staticIdentity(passwords map[string]string) IdentityFunc {
	return func(_ context.Context, username, password string) (bool, error) {
		want, ok := passwords[username]
		return ok && want == password, nil
	}
}

type fixture struct {
	store    *flakyStore
	guard    *BruteForceGuard
	tokens   *TokenService
	sessions *SessionManager
	service  *Service
	settings Settings
}

func newFixture(passwords map[string]string) *fixture {
	st := newFlakyStore(time.Now)
	guard := NewBruteForceGuard(nil, nil)
	tokens := NewTokenService(st)
	sessions := NewSessionManager(st, time.Hour, 0)
	service := NewService(NewCredentialValidator(staticIdentity(passwords)), guard, tokens, sessions, nil, nil)

	return &fixture{
		store:    st,
		guard:    guard,
		tokens:   tokens,
		sessions: sessions,
		service:  service,
		settings: Settings{AuthEnabled: true, SessionCookie: "gateway.sid", LoginPath: "/login/index.html"},
	}
}

func (f *fixture) handler() *Handler {
	return NewHandler(f.service, f.settings, nil, nil)
}

func (f *fixture) chain(whitelist *WhitelistMatcher) *Chain {
	return NewChain(f.service, whitelist, f.settings, nil, nil)
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	var found *http.Cookie
	for _, c := range cookies {
		if c.Name == name {
			found = c
		}
	}
	return found
}
