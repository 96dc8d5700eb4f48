package app

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/goccy/go-json"

	"web-gateway/internal/auth"
	"web-gateway/internal/config"
	"web-gateway/internal/observability"
)

const (
	ForwardedUserHeader = "X-Forwarded-User"
	ForwardedViaHeader  = "X-Forwarded-Auth-Via"
)

// newDownstream returns what authorized requests are handed to: a reverse
// proxy when upstream_url is set, static files from static_dir, or a small
// identity echo otherwise.
func newDownstream(cfg config.Config, logger *observability.Logger) (http.Handler, error) {
	switch {
	case cfg.UpstreamURL != "":
		target, err := url.Parse(cfg.UpstreamURL)
		if err != nil {
			return nil, fmt.Errorf("parse upstream_url: %w", err)
		}
		return newReverseProxy(target, logger), nil
	case cfg.StaticDir != "":
		return http.FileServer(http.Dir(cfg.StaticDir)), nil
	default:
		return http.HandlerFunc(whoami), nil
	}
}

func newReverseProxy(target *url.URL, logger *observability.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()

			// Never trust identity headers sent by the client.
			pr.Out.Header.Del(ForwardedUserHeader)
			pr.Out.Header.Del(ForwardedViaHeader)
			if ac, ok := auth.FromContext(pr.In.Context()); ok {
				pr.Out.Header.Set(ForwardedUserHeader, ac.Principal)
				pr.Out.Header.Set(ForwardedViaHeader, string(ac.Via))
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			observability.CaptureRequestError(r, err)
			logger.Error("upstream_failed", map[string]any{
				"path":       r.URL.Path,
				"error":      err.Error(),
				"request_id": observability.RequestIDFromContext(r.Context()),
			})
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
		},
	}
}

func whoami(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        ac.Principal,
		"via":         ac.Via,
		"permissions": ac.Permissions,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
