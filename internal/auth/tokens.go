package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	"web-gateway/internal/store"
)

const (
	ClientID = "ioBroker"

	accessKeyPrefix  = "a:"
	refreshKeyPrefix = "r:"

	tokenEntropyBytes = 256

	DefaultAccessLifetime  = time.Hour
	DefaultRefreshLifetime = 30 * 24 * time.Hour
)

// TokenService issues opaque access/refresh pairs for the single built-in
// client and keeps them in a TTL store.
type TokenService struct {
	store      store.Store
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	random     io.Reader
}

func NewTokenService(st store.Store) *TokenService {
	return &TokenService{
		store:      st,
		accessTTL:  DefaultAccessLifetime,
		refreshTTL: DefaultRefreshLifetime,
		now:        time.Now,
		random:     rand.Reader,
	}
}

func (s *TokenService) WithLifetimes(accessTTL, refreshTTL time.Duration) *TokenService {
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
	return s
}

func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *TokenService) IssueTokens(ctx context.Context, principal string, stayLoggedIn bool) (TokenPair, error) {
	access, err := newTokenValue(s.random)
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate access token: %w", err)
	}
	refresh, err := newTokenValue(s.random)
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now().UTC()
	pair := TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  now.Add(s.accessTTL),
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: now.Add(s.refreshTTL),
		Principal:             principal,
		ClientID:              ClientID,
		StayLoggedIn:          stayLoggedIn,
	}

	payload, err := json.Marshal(pair)
	if err != nil {
		return TokenPair{}, fmt.Errorf("encode token record: %w", err)
	}

	if err := s.store.Set(ctx, accessKeyPrefix+access, payload, wholeSeconds(s.accessTTL)); err != nil {
		return TokenPair{}, fmt.Errorf("%w: save access token: %w", ErrStoreUnavailable, err)
	}
	if err := s.store.Set(ctx, refreshKeyPrefix+refresh, payload, wholeSeconds(s.refreshTTL)); err != nil {
		_ = s.store.Destroy(ctx, accessKeyPrefix+access)
		return TokenPair{}, fmt.Errorf("%w: save refresh token: %w", ErrStoreUnavailable, err)
	}

	return pair, nil
}

func (s *TokenService) GetAccessToken(ctx context.Context, value string) (Token, error) {
	pair, err := s.load(ctx, accessKeyPrefix, value)
	if err != nil {
		return Token{}, err
	}
	token := pair.access()
	if !s.now().Before(token.ExpiresAt) {
		return Token{}, ErrTokenNotFound
	}
	return token, nil
}

func (s *TokenService) GetRefreshToken(ctx context.Context, value string) (Token, error) {
	pair, err := s.load(ctx, refreshKeyPrefix, value)
	if err != nil {
		return Token{}, err
	}
	token := pair.refresh()
	if !s.now().Before(token.ExpiresAt) {
		return Token{}, ErrTokenNotFound
	}
	return token, nil
}

// Refresh mints a new pair for the owner of refreshValue and revokes the
// access token that was issued alongside it. The presented refresh token
// itself stays valid until it expires or is revoked.
func (s *TokenService) Refresh(ctx context.Context, refreshValue string) (TokenPair, error) {
	pair, err := s.load(ctx, refreshKeyPrefix, refreshValue)
	if err != nil {
		return TokenPair{}, err
	}
	if !s.now().Before(pair.RefreshTokenExpiresAt) {
		return TokenPair{}, ErrTokenNotFound
	}

	if err := s.Revoke(ctx, pair.access()); err != nil {
		return TokenPair{}, err
	}

	return s.IssueTokens(ctx, pair.Principal, pair.StayLoggedIn)
}

// Revoke deletes the key for token's kind. Revoking an unknown token is not
// an error.
func (s *TokenService) Revoke(ctx context.Context, token Token) error {
	if token.Value == "" {
		return nil
	}

	prefix := accessKeyPrefix
	if token.Kind == KindRefresh {
		prefix = refreshKeyPrefix
	}
	if err := s.store.Destroy(ctx, prefix+token.Value); err != nil {
		return fmt.Errorf("%w: revoke %s token: %w", ErrStoreUnavailable, token.Kind, err)
	}
	return nil
}

func (s *TokenService) AccessLifetime() time.Duration {
	return s.accessTTL
}

func (s *TokenService) load(ctx context.Context, prefix, value string) (TokenPair, error) {
	if value == "" {
		return TokenPair{}, ErrTokenNotFound
	}

	raw, err := s.store.Get(ctx, prefix+value)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, ErrTokenNotFound
		}
		return TokenPair{}, fmt.Errorf("%w: load token: %w", ErrStoreUnavailable, err)
	}

	var pair TokenPair
	if err := json.Unmarshal(raw, &pair); err != nil {
		return TokenPair{}, ErrTokenNotFound
	}
	return pair, nil
}

// newTokenValue hashes tokenEntropyBytes of randomness down to 64 hex chars.
func newTokenValue(random io.Reader) (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

func wholeSeconds(d time.Duration) time.Duration {
	d = d.Truncate(time.Second)
	if d < time.Second {
		return time.Second
	}
	return d
}

var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrStoreUnavailable = errors.New("session store unavailable")
)
