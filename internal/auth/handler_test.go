package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postForm(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "192.0.2.10:40000"
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func passwordGrant(username, password string) url.Values {
	return url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
		"client_id":  {ClientID},
	}
}

func TestTokenPasswordGrant(t *testing.T) {
	f := newFixture(map[string]string{"admin": "s3cret"})
	rec := httptest.NewRecorder()

	f.handler().Token(rec, postForm("/oauth/token", passwordGrant("admin", "s3cret")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	body := decodeBody(t, rec)
	assert.Equal(t, "Bearer", body["token_type"])
	assert.InDelta(t, 3600, body["expires_in"], 2)
	assert.InDelta(t, 30*24*3600, body["refresh_token_expires_in"], 2)

	access, _ := body["access_token"].(string)
	token, err := f.tokens.GetAccessToken(context.Background(), access)
	require.NoError(t, err)
	assert.Equal(t, "admin", token.Principal)

	cookies := rec.Result().Cookies()
	accessCookie := findCookie(cookies, AccessTokenCookie)
	require.NotNil(t, accessCookie)
	assert.Equal(t, access, accessCookie.Value)
	assert.True(t, accessCookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, accessCookie.SameSite)
	assert.False(t, accessCookie.Secure)
	assert.True(t, accessCookie.Expires.IsZero(), "session cookie without stayloggedin")
	require.NotNil(t, findCookie(cookies, RefreshTokenCookie))
}

func TestTokenExpiresInFollowsServiceClock(t *testing.T) {
	f := newFixture(map[string]string{"admin": "s3cret"})
	clock := newTestClock()
	f.tokens.WithClock(clock.Now)

	rec := httptest.NewRecorder()
	f.handler().Token(rec, postForm("/oauth/token", passwordGrant("admin", "s3cret")))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 3600, body["expires_in"])
	assert.EqualValues(t, 30*24*3600, body["refresh_token_expires_in"])
}

func TestTokenStayLoggedInPersistsCookies(t *testing.T) {
	f := newFixture(map[string]string{"admin": "s3cret"})
	f.settings.Secure = true
	values := passwordGrant("admin", "s3cret")
	values.Set("stayloggedin", "true")

	rec := httptest.NewRecorder()
	f.handler().Token(rec, postForm("/oauth/token", values))

	require.Equal(t, http.StatusOK, rec.Code)
	refresh := findCookie(rec.Result().Cookies(), RefreshTokenCookie)
	require.NotNil(t, refresh)
	assert.False(t, refresh.Expires.IsZero())
	assert.True(t, refresh.Secure)
}

func TestTokenRequestErrors(t *testing.T) {
	f := newFixture(map[string]string{"admin": "s3cret"})

	cases := []struct {
		name   string
		values url.Values
		status int
		code   string
	}{
		{"missing client", url.Values{"grant_type": {"password"}, "username": {"admin"}, "password": {"x"}}, http.StatusBadRequest, "invalid_client"},
		{"missing grant", url.Values{"client_id": {ClientID}}, http.StatusBadRequest, "invalid_request"},
		{"unsupported grant", url.Values{"client_id": {ClientID}, "grant_type": {"client_credentials"}}, http.StatusBadRequest, "unsupported_grant_type"},
		{"missing password", url.Values{"client_id": {ClientID}, "grant_type": {"password"}, "username": {"admin"}}, http.StatusBadRequest, "invalid_request"},
		{"wrong password", passwordGrant("admin", "nope"), http.StatusBadRequest, "invalid_grant"},
		{"unknown refresh", url.Values{"client_id": {ClientID}, "grant_type": {"refresh_token"}, "refresh_token": {"abc"}}, http.StatusBadRequest, "invalid_grant"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.handler().Token(rec, postForm("/oauth/token", tc.values))
			assert.Equal(t, tc.status, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tc.code, body["error"])
			assert.NotEmpty(t, body["error_description"])
		})
	}
}

func TestTokenLockedReturns429(t *testing.T) {
	f := newFixture(map[string]string{"admin": "s3cret"})
	h := f.handler()

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.Token(rec, postForm("/oauth/token", passwordGrant("admin", "wrong")))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.Token(rec, postForm("/oauth/token", passwordGrant("admin", "s3cret")))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, decodeBody(t, rec)["error_description"], "1 minute")
}

func TestTokenRefreshGrant(t *testing.T) {
	f := newFixture(map[string]string{"admin": "s3cret"})
	ctx := context.Background()
	original, err := f.tokens.IssueTokens(ctx, "admin", false)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.handler().Token(rec, postForm("/oauth/token", url.Values{
		"client_id":     {ClientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {original.RefreshToken},
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEqual(t, original.AccessToken, body["access_token"])

	_, err = f.tokens.GetAccessToken(ctx, original.AccessToken)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenStoreFailureIs503(t *testing.T) {
	f := newFixture(map[string]string{"admin": "s3cret"})
	f.store.SetDown(true)

	rec := httptest.NewRecorder()
	f.handler().Token(rec, postForm("/oauth/token", passwordGrant("admin", "s3cret")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "temporarily_unavailable", decodeBody(t, rec)["error"])
}

func TestFormLoginSuccessRedirectsToOrigin(t *testing.T) {
	f := newFixture(map[string]string{"admin": "s3cret"})
	rec := httptest.NewRecorder()

	f.handler().Login(rec, postForm("/login", url.Values{
		"username": {"admin"},
		"password": {"s3cret"},
		"origin":   {url.QueryEscape("/admin/index.html#tab-adapters")},
	}))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin/index.html#tab-adapters", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	cleared := findCookie(cookies, AccessTokenCookie)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)

	session := findCookie(cookies, "gateway.sid")
	require.NotNil(t, session)
	got, err := f.sessions.Get(context.Background(), session.Value)
	require.NoError(t, err)
	assert.Equal(t, "admin", got.User)
}

func TestFormLoginFailureRedirectsBackWithError(t *testing.T) {
	f := newFixture(map[string]string{"admin": "s3cret"})
	rec := httptest.NewRecorder()

	f.handler().Login(rec, postForm("/login", url.Values{
		"username": {"admin"},
		"password": {"wrong"},
		"origin":   {"/admin/"},
	}))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login/index.html?error&href=%2Fadmin%2F", rec.Header().Get("Location"))
	assert.Nil(t, findCookie(rec.Result().Cookies(), "gateway.sid"))
}

func TestSafeOrigin(t *testing.T) {
	cases := map[string]string{
		"":                       "/",
		"/vis/":                  "/vis/",
		"%2Fvis%2F":              "/vis/",
		"//evil.example":         "/",
		"https://evil.example/":  "/",
		"/\\evil.example":        "/",
		"/ok?x=1\r\nSet-Cookie:": "/",
		"%2F%09%2Fevil.example":  "/",
		"/\t/evil.example":       "/",
		"/a\x00b":                "/",
		"/a\x7fb":                "/",
		"/vis/?view=main#tab":    "/vis/?view=main#tab",
	}
	for in, want := range cases {
		assert.Equal(t, want, safeOrigin(in), "origin %q", in)
	}
}

func TestFormLoginRejectsControlCharacterOrigin(t *testing.T) {
	f := newFixture(map[string]string{"admin": "s3cret"})
	rec := httptest.NewRecorder()

	f.handler().Login(rec, postForm("/login", url.Values{
		"username": {"admin"},
		"password": {"s3cret"},
		"origin":   {"%2F%09%2Fevil.example"},
	}))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestLoginAppJSON(t *testing.T) {
	f := newFixture(map[string]string{"admin": "s3cret"})
	h := f.handler()

	req := httptest.NewRequest(http.MethodPost, "/loginApp", strings.NewReader(`{"username":"admin","password":"s3cret"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.LoginApp(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["result"])
	assert.Equal(t, "admin", body["user"])
	assert.NotNil(t, findCookie(rec.Result().Cookies(), "gateway.sid"))

	rec = httptest.NewRecorder()
	h.LoginApp(rec, postForm("/loginApp", url.Values{"username": {"admin"}, "password": {"bad"}}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", decodeBody(t, rec)["error"])
}

func TestLogoutRevokesAndCallsNext(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	pair, err := f.tokens.IssueTokens(ctx, "admin", false)
	require.NoError(t, err)
	session, err := f.sessions.Create(ctx, "admin", false)
	require.NoError(t, err)

	h := f.handler()
	handler := h.Logout(http.HandlerFunc(h.RedirectToLogin))

	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: pair.AccessToken})
	req.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: pair.RefreshToken})
	req.AddCookie(&http.Cookie{Name: "gateway.sid", Value: session.ID})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login/index.html", rec.Header().Get("Location"))

	_, err = f.tokens.GetAccessToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = f.tokens.GetRefreshToken(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = f.sessions.Get(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie, "gateway.sid"} {
		c := findCookie(rec.Result().Cookies(), name)
		require.NotNil(t, c, name)
		assert.Less(t, c.MaxAge, 0, name)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code, "logout is idempotent")
}

func TestGetUser(t *testing.T) {
	f := newFixture(nil)
	pair, err := f.tokens.IssueTokens(context.Background(), "alice", false)
	require.NoError(t, err)
	h := f.handler()

	req := httptest.NewRequest(http.MethodGet, "/getUser", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	h.GetUser(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "alice", body["user"])
	assert.EqualValues(t, pair.AccessTokenExpiresAt.UnixMilli(), body["expires"])
	assert.EqualValues(t, pair.RefreshTokenExpiresAt.UnixMilli(), body["refreshExpires"])

	rec = httptest.NewRecorder()
	h.GetUser(rec, httptest.NewRequest(http.MethodGet, "/getUser", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestProlongSession(t *testing.T) {
	f := newFixture(nil)
	h := f.handler()

	rec := httptest.NewRecorder()
	h.ProlongSession(rec, httptest.NewRequest(http.MethodGet, "/prolongSession", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	session, err := f.sessions.Create(context.Background(), "admin", false)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/prolongSession", nil)
	req.AddCookie(&http.Cookie{Name: "gateway.sid", Value: session.ID})
	rec = httptest.NewRecorder()
	h.ProlongSession(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "admin", body["user"])
	assert.GreaterOrEqual(t, int64(body["expires"].(float64)), session.ExpiresAt.UnixMilli())
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(nil)
	rec := httptest.NewRecorder()
	f.handler().AuthRequired(rec, httptest.NewRequest(http.MethodGet, "/auth", nil))
	assert.Equal(t, true, decodeBody(t, rec)["auth"])

	f.settings.AuthEnabled = false
	f.settings.DefaultUser = "admin"
	rec = httptest.NewRecorder()
	f.handler().AuthRequired(rec, httptest.NewRequest(http.MethodGet, "/auth", nil))
	assert.Equal(t, false, decodeBody(t, rec)["auth"])
}
