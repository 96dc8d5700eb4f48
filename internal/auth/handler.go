package auth

import (
	"errors"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"web-gateway/internal/observability"
)

const maxFormBodyBytes = 1 << 20

type Handler struct {
	service  *Service
	settings Settings
	cookies  cookieJar
	resolver resolver
	logger   *observability.Logger
	metrics  *observability.Metrics
}

func NewHandler(service *Service, settings Settings, logger *observability.Logger, metrics *observability.Metrics) *Handler {
	settings = settings.withDefaults()
	cookies := settings.cookieJar()
	return &Handler{
		service:  service,
		settings: settings,
		cookies:  cookies,
		resolver: resolver{service: service, cookies: cookies},
		logger:   logger,
		metrics:  metrics,
	}
}

type loginRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	StayLoggedIn bool   `json:"stayloggedin"`
}

// Token is the OAuth2 token endpoint for the password and refresh_token
// grants.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	if strings.TrimSpace(r.PostForm.Get("client_id")) == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", "client_id is required")
		return
	}

	var (
		pair TokenPair
		err  error
	)
	switch grantType := r.PostForm.Get("grant_type"); grantType {
	case "password":
		username := strings.TrimSpace(r.PostForm.Get("username"))
		password := r.PostForm.Get("password")
		if username == "" || password == "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
			return
		}
		pair, err = h.service.PasswordGrant(r.Context(), username, password, formBool(r.PostForm.Get("stayloggedin")))
	case "refresh_token":
		refreshToken := strings.TrimSpace(r.PostForm.Get("refresh_token"))
		if refreshToken == "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
			return
		}
		pair, err = h.service.RefreshGrant(r.Context(), refreshToken)
	case "":
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "grant_type is required")
		return
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be password or refresh_token")
		return
	}

	if err != nil {
		h.writeGrantError(w, r, err)
		return
	}

	h.cookies.setTokens(w, r, pair)
	now := h.service.tokens.now()
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:           pair.AccessToken,
		ExpiresIn:             secondsUntil(now, pair.AccessTokenExpiresAt),
		RefreshToken:          pair.RefreshToken,
		RefreshTokenExpiresIn: secondsUntil(now, pair.RefreshTokenExpiresAt),
		TokenType:             "Bearer",
	})
}

func (h *Handler) writeGrantError(w http.ResponseWriter, r *http.Request, err error) {
	var lockedErr ErrLoginLocked
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "invalid credentials")
	case errors.Is(err, ErrTokenNotFound):
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid or expired")
	case errors.As(err, &lockedErr):
		setRetryAfter(w, lockedErr)
		writeOAuthError(w, http.StatusTooManyRequests, "invalid_grant", lockedErr.Error())
	default:
		h.reportFailure(r, "token_grant_failed", err)
		writeOAuthError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "authentication service unavailable")
	}
}

// Login handles the browser form post and answers with redirects only.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	h.cookies.clear(w, r, AccessTokenCookie)

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, h.loginErrorURL("/"), http.StatusFound)
		return
	}
	origin := safeOrigin(r.PostForm.Get("origin"))

	principal, err := h.service.Login(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrLoginLocked{}) {
			http.Redirect(w, r, h.loginErrorURL(origin), http.StatusFound)
			return
		}
		h.reportFailure(r, "login_failed", err)
		writeError(w, http.StatusServiceUnavailable, "authentication service unavailable")
		return
	}

	session, err := h.service.CreateSession(r.Context(), principal, formBool(r.PostForm.Get("stayloggedin")))
	if err != nil {
		h.reportFailure(r, "session_create_failed", err)
		writeError(w, http.StatusServiceUnavailable, "authentication service unavailable")
		return
	}

	h.cookies.setSession(w, r, session)
	h.logger.Info("login_succeeded", map[string]any{"user": principal, "via": "form"})
	http.Redirect(w, r, origin, http.StatusFound)
}

// LoginApp is Login for clients that cannot follow redirects. It accepts a
// form or a JSON body.
func (h *Handler) LoginApp(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)

	var body loginRequest
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/json" {
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		body.Username = r.PostForm.Get("username")
		body.Password = r.PostForm.Get("password")
		body.StayLoggedIn = formBool(r.PostForm.Get("stayloggedin"))
	}

	principal, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		var lockedErr ErrLoginLocked
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.As(err, &lockedErr):
			setRetryAfter(w, lockedErr)
			writeError(w, http.StatusUnauthorized, lockedErr.Error())
		default:
			h.reportFailure(r, "login_failed", err)
			writeError(w, http.StatusServiceUnavailable, "authentication service unavailable")
		}
		return
	}

	session, err := h.service.CreateSession(r.Context(), principal, body.StayLoggedIn)
	if err != nil {
		h.reportFailure(r, "session_create_failed", err)
		writeError(w, http.StatusServiceUnavailable, "authentication service unavailable")
		return
	}

	h.cookies.setSession(w, r, session)
	h.logger.Info("login_succeeded", map[string]any{"user": principal, "via": "app"})
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok", "user": principal})
}

// Logout revokes the presented tokens and session, clears the cookies and
// hands the request to next for the actual response.
func (h *Handler) Logout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := h.service.Logout(
			r.Context(),
			presentedAccessToken(r),
			cookieValue(r, RefreshTokenCookie),
			cookieValue(r, h.settings.SessionCookie),
		)

		h.cookies.clearTokens(w, r)
		h.cookies.clearSession(w, r)

		if err != nil {
			h.reportFailure(r, "logout_failed", err)
			writeError(w, http.StatusServiceUnavailable, "authentication service unavailable")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) RedirectToLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.settings.LoginPath, http.StatusFound)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	if !h.settings.AuthEnabled {
		writeJSON(w, http.StatusOK, map[string]any{"expires": 0, "refreshExpires": 0, "user": h.settings.DefaultUser})
		return
	}

	ac, ok, err := h.resolver.resolve(w, r)
	if err != nil {
		h.reportFailure(r, "get_user_failed", err)
		writeError(w, http.StatusServiceUnavailable, "authentication service unavailable")
		return
	}
	if !ok {
		writeError(w, http.StatusNotImplemented, "not authenticated")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"expires":        ac.ExpiresAt.UnixMilli(),
		"refreshExpires": ac.RefreshExpiresAt.UnixMilli(),
		"user":           ac.Principal,
	})
}

func (h *Handler) ProlongSession(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	id := cookieValue(r, h.settings.SessionCookie)
	if id == "" {
		writeError(w, http.StatusNotImplemented, "no session")
		return
	}

	session, err := h.service.sessions.Prolong(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeError(w, http.StatusNotImplemented, "no session")
			return
		}
		h.reportFailure(r, "prolong_session_failed", err)
		writeError(w, http.StatusServiceUnavailable, "authentication service unavailable")
		return
	}

	h.cookies.setSession(w, r, session)
	writeJSON(w, http.StatusOK, map[string]any{"expires": session.ExpiresAt.UnixMilli(), "user": session.User})
}

func (h *Handler) AuthRequired(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"auth": h.settings.AuthEnabled})
}

func (h *Handler) loginErrorURL(origin string) string {
	return h.settings.LoginPath + "?error&href=" + url.QueryEscape(origin)
}

func (h *Handler) reportFailure(r *http.Request, event string, err error) {
	h.metrics.ObserveStoreError(event)
	observability.CaptureRequestError(r, err)
	h.logger.Error(event, map[string]any{
		"path":       r.URL.Path,
		"error":      err.Error(),
		"request_id": observability.RequestIDFromContext(r.Context()),
	})
}

// safeOrigin accepts only same-site relative paths as a post-login target.
func safeOrigin(raw string) string {
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	raw = strings.TrimSpace(raw)

	if raw == "" || !strings.HasPrefix(raw, "/") ||
		strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") ||
		strings.ContainsFunc(raw, isControlRune) {
		return "/"
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return "/"
	}
	return raw
}

func isControlRune(r rune) bool {
	return r < 0x20 || r == 0x7f
}

func formBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}

func secondsUntil(now, t time.Time) int64 {
	seconds := int64(math.Round(t.Sub(now).Seconds()))
	if seconds < 0 {
		return 0
	}
	return seconds
}

func setRetryAfter(w http.ResponseWriter, locked ErrLoginLocked) {
	w.Header().Set("Retry-After", strconv.Itoa(int(locked.RetryAfter().Seconds())))
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": description})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
