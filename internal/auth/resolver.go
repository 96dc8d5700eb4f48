package auth

import (
	"errors"
	"net/http"
	"strings"
)

// resolver turns credentials already on a request (bearer header, token
// cookies, session cookie) into an AuthContext. It never checks passwords.
type resolver struct {
	service *Service
	cookies cookieJar
}

// resolve reports ok=false when nothing usable was presented. An error
// means the store failed and no decision could be made.
func (rv resolver) resolve(w http.ResponseWriter, r *http.Request) (AuthContext, bool, error) {
	ctx := r.Context()

	if value := presentedAccessToken(r); value != "" {
		token, err := rv.service.tokens.GetAccessToken(ctx, value)
		if err == nil {
			return AuthContext{
				Principal:        token.Principal,
				Via:              ViaToken,
				ExpiresAt:        token.ExpiresAt,
				RefreshExpiresAt: token.PairedExpiresAt,
			}, true, nil
		}
		if !errors.Is(err, ErrTokenNotFound) {
			return AuthContext{}, false, err
		}
	}

	// At most one silent refresh per request.
	if refresh := cookieValue(r, RefreshTokenCookie); refresh != "" {
		pair, err := rv.service.RefreshGrant(ctx, refresh)
		switch {
		case err == nil:
			rv.cookies.setTokens(w, r, pair)
			return AuthContext{
				Principal:        pair.Principal,
				Via:              ViaToken,
				ExpiresAt:        pair.AccessTokenExpiresAt,
				RefreshExpiresAt: pair.RefreshTokenExpiresAt,
			}, true, nil
		case errors.Is(err, ErrTokenNotFound):
			rv.cookies.clearTokens(w, r)
		default:
			return AuthContext{}, false, err
		}
	}

	if id := cookieValue(r, rv.cookies.sessionCookie); id != "" {
		session, err := rv.service.sessions.Get(ctx, id)
		switch {
		case err == nil:
			return AuthContext{
				Principal:        session.User,
				Via:              ViaSession,
				ExpiresAt:        session.ExpiresAt,
				RefreshExpiresAt: session.ExpiresAt,
			}, true, nil
		case !errors.Is(err, ErrSessionNotFound):
			return AuthContext{}, false, err
		}
	}

	return AuthContext{}, false, nil
}

func presentedAccessToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	return cookieValue(r, AccessTokenCookie)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
