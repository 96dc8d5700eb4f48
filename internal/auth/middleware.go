package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/goccy/go-json"

	"web-gateway/internal/observability"
)

var errUnauthenticated = errors.New("unauthenticated")

// Chain decides, per request, who the caller is. The steps run in a fixed
// order and the first one that produces a principal wins.
type Chain struct {
	service   *Service
	whitelist *WhitelistMatcher
	settings  Settings
	resolver  resolver
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewChain builds the chain. whitelist may be nil when whitelisting is off.
func NewChain(service *Service, whitelist *WhitelistMatcher, settings Settings, logger *observability.Logger, metrics *observability.Metrics) *Chain {
	settings = settings.withDefaults()
	return &Chain{
		service:   service,
		whitelist: whitelist,
		settings:  settings,
		resolver:  resolver{service: service, cookies: settings.cookieJar()},
		logger:    logger,
		metrics:   metrics,
	}
}

func (c *Chain) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := c.Authorize(w, r)
		if err == nil {
			c.metrics.ObserveAuthDecision(string(ac.Via), "authenticated")
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
			return
		}

		var locked ErrLoginLocked
		switch {
		case errors.Is(err, errUnauthenticated):
			c.unauthenticated(w, r)
		case errors.As(err, &locked):
			c.metrics.ObserveAuthDecision(string(ViaBasic), "rejected")
			setRetryAfter(w, locked)
			writeError(w, http.StatusTooManyRequests, locked.Error())
		default:
			c.metrics.ObserveAuthDecision("none", "failed")
			c.metrics.ObserveStoreError("authorize")
			observability.CaptureRequestError(r, err)
			c.logger.Error("authorize_failed", map[string]any{"path": r.URL.Path, "error": err.Error()})
			writeError(w, http.StatusServiceUnavailable, "authentication service unavailable")
		}
	})
}

// Authorize runs the chain without writing a final response. It may set
// cookies on w (silent refresh, Basic login). The error is errUnauthenticated,
// an ErrLoginLocked, or an infrastructure failure.
func (c *Chain) Authorize(w http.ResponseWriter, r *http.Request) (AuthContext, error) {
	if !c.settings.AuthEnabled {
		return AuthContext{Principal: c.settings.DefaultUser, Via: ViaDefault}, nil
	}

	if entry, ok := c.whitelist.Resolve(ClientIP(r, c.settings.TrustProxy)); ok && entry.Bypass() {
		permissions := entry.Permissions
		return AuthContext{Principal: entry.User, Via: ViaWhitelist, Permissions: &permissions}, nil
	}

	ac, ok, err := c.resolver.resolve(w, r)
	if err != nil {
		return AuthContext{}, err
	}
	if ok {
		return ac, nil
	}

	if username, password, ok := r.BasicAuth(); ok {
		principal, err := c.service.Login(r.Context(), username, password)
		switch {
		case err == nil:
			session, err := c.service.CreateSession(r.Context(), principal, false)
			if err != nil {
				return AuthContext{}, err
			}
			c.resolver.cookies.setSession(w, r, session)
			return AuthContext{Principal: principal, Via: ViaBasic, ExpiresAt: session.ExpiresAt, RefreshExpiresAt: session.ExpiresAt}, nil
		case !errors.Is(err, ErrInvalidCredentials):
			return AuthContext{}, err
		}
	}

	return AuthContext{}, errUnauthenticated
}

func (c *Chain) unauthenticated(w http.ResponseWriter, r *http.Request) {
	switch strings.ToLower(path.Ext(r.URL.Path)) {
	case ".js", ".mjs":
		c.metrics.ObserveAuthDecision("none", "redirected")
		target, _ := json.Marshal(c.settings.LoginPath)
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		fmt.Fprintf(w, "window.location.href = %s + '?href=' + encodeURIComponent(window.location.pathname + window.location.search + window.location.hash);\n", target)
		return
	case ".css":
		c.metrics.ObserveAuthDecision("none", "redirected")
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		return
	}

	if c.settings.BasicAuth {
		c.metrics.ObserveAuthDecision("none", "challenged")
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q, charset=\"UTF-8\"", c.settings.Realm))
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	c.metrics.ObserveAuthDecision("none", "redirected")
	http.Redirect(w, r, c.settings.LoginPath+"?href="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
}
