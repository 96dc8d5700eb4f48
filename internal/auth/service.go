package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"web-gateway/internal/observability"
)

// Service composes the credential check, the brute-force guard, tokens and
// sessions into the operations the HTTP layer needs.
type Service struct {
	validator *CredentialValidator
	guard     *BruteForceGuard
	tokens    *TokenService
	sessions  *SessionManager
	logger    *observability.Logger
	metrics   *observability.Metrics
}

func NewService(
	validator *CredentialValidator,
	guard *BruteForceGuard,
	tokens *TokenService,
	sessions *SessionManager,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Service {
	return &Service{
		validator: validator,
		guard:     guard,
		tokens:    tokens,
		sessions:  sessions,
		logger:    logger,
		metrics:   metrics,
	}
}

// Login checks credentials through the guard and returns the normalized
// principal.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", ErrInvalidCredentials
	}
	return s.guard.Login(ctx, s.validator, username, password)
}

func (s *Service) PasswordGrant(ctx context.Context, username, password string, stayLoggedIn bool) (TokenPair, error) {
	principal, err := s.Login(ctx, username, password)
	if err != nil {
		return TokenPair{}, err
	}

	pair, err := s.tokens.IssueTokens(ctx, principal, stayLoggedIn)
	if err != nil {
		return TokenPair{}, err
	}

	s.metrics.ObserveTokensIssued("password")
	s.logger.Info("tokens_issued", map[string]any{"user": principal, "grant": "password"})
	return pair, nil
}

func (s *Service) RefreshGrant(ctx context.Context, refreshToken string) (TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	pair, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	s.metrics.ObserveTokensIssued("refresh_token")
	s.logger.Debug("tokens_refreshed", map[string]any{"user": pair.Principal})
	return pair, nil
}

func (s *Service) CreateSession(ctx context.Context, principal string, stayLoggedIn bool) (Session, error) {
	return s.sessions.Create(ctx, principal, stayLoggedIn)
}

// Logout revokes whatever credentials the caller presented. Unknown values
// are ignored; only store failures are reported.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken, sessionID string) error {
	var errs []error
	if accessToken != "" {
		errs = append(errs, s.tokens.Revoke(ctx, Token{Value: accessToken, Kind: KindAccess}))
	}
	if refreshToken != "" {
		errs = append(errs, s.tokens.Revoke(ctx, Token{Value: refreshToken, Kind: KindRefresh}))
	}
	if sessionID != "" {
		errs = append(errs, s.sessions.Destroy(ctx, sessionID))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// UserUpserter is an identity store that can create or replace a user.
type UserUpserter interface {
	UpsertUser(ctx context.Context, username, plainPassword string) error
}

// BootstrapAdmin makes sure the configured admin exists. Both values or
// neither must be set.
func BootstrapAdmin(ctx context.Context, users UserUpserter, adminUsername, adminPassword string) error {
	adminUsername = NormalizePrincipal(adminUsername)
	adminPassword = strings.TrimSpace(adminPassword)

	if adminUsername == "" && adminPassword == "" {
		return nil
	}
	if adminUsername == "" || adminPassword == "" {
		return fmt.Errorf("admin_username and admin_password are required together")
	}

	return users.UpsertUser(ctx, adminUsername, adminPassword)
}
