package auth

import (
	"net/http"
	"time"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

type cookieJar struct {
	secure        bool
	sessionCookie string
}

func (j cookieJar) isSecure(r *http.Request) bool {
	return j.secure || r.TLS != nil
}

func (j cookieJar) set(w http.ResponseWriter, r *http.Request, name, value string, expires time.Time, persistent bool) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   j.isSecure(r),
		SameSite: http.SameSiteStrictMode,
	}
	if persistent {
		cookie.Expires = expires.UTC()
	}
	http.SetCookie(w, cookie)
}

func (j cookieJar) clear(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   j.isSecure(r),
		SameSite: http.SameSiteStrictMode,
	})
}

func (j cookieJar) setTokens(w http.ResponseWriter, r *http.Request, pair TokenPair) {
	j.set(w, r, AccessTokenCookie, pair.AccessToken, pair.AccessTokenExpiresAt, pair.StayLoggedIn)
	j.set(w, r, RefreshTokenCookie, pair.RefreshToken, pair.RefreshTokenExpiresAt, pair.StayLoggedIn)
}

func (j cookieJar) clearTokens(w http.ResponseWriter, r *http.Request) {
	j.clear(w, r, AccessTokenCookie)
	j.clear(w, r, RefreshTokenCookie)
}

func (j cookieJar) setSession(w http.ResponseWriter, r *http.Request, session Session) {
	j.set(w, r, j.sessionCookie, session.ID, session.ExpiresAt, session.StayLoggedIn)
}

func (j cookieJar) clearSession(w http.ResponseWriter, r *http.Request) {
	j.clear(w, r, j.sessionCookie)
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
