package auth

import (
	"context"
	"regexp"
	"strings"
)

const userNamespace = "system.user."

var unsafePrincipalRunes = regexp.MustCompile(`[^\p{L}\p{N}_\-@]`)

// IdentityChecker is the user database: it answers whether a normalized
// principal owns the given secret.
type IdentityChecker interface {
	CheckPassword(ctx context.Context, username, password string) (bool, error)
}

type IdentityFunc func(ctx context.Context, username, password string) (bool, error)

func (f IdentityFunc) CheckPassword(ctx context.Context, username, password string) (bool, error) {
	return f(ctx, username, password)
}

type CredentialValidator struct {
	identity IdentityChecker
}

func NewCredentialValidator(identity IdentityChecker) *CredentialValidator {
	return &CredentialValidator{identity: identity}
}

// Validate normalizes principal and delegates to the identity checker.
// An error means the checker itself failed, not that the password was wrong.
func (v *CredentialValidator) Validate(ctx context.Context, principal, secret string) (bool, error) {
	name := NormalizePrincipal(principal)
	if name == "" || secret == "" {
		return false, nil
	}
	return v.identity.CheckPassword(ctx, name, secret)
}

// NormalizePrincipal maps "system.user.John Doe" to "john_doe". It is
// idempotent, so already-normalized names pass through unchanged.
func NormalizePrincipal(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, userNamespace)
	return unsafePrincipalRunes.ReplaceAllString(name, "_")
}
