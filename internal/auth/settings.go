package auth

import "strings"

// Settings are the request-time switches shared by the chain and the
// handlers.
type Settings struct {
	AuthEnabled   bool
	BasicAuth     bool
	DefaultUser   string
	Secure        bool
	SessionCookie string
	LoginPath     string
	Realm         string
	TrustProxy    bool
}

func (s Settings) withDefaults() Settings {
	if strings.TrimSpace(s.SessionCookie) == "" {
		s.SessionCookie = "gateway.sid"
	}
	if s.LoginPath == "" {
		s.LoginPath = "/login/index.html"
	}
	if s.Realm == "" {
		s.Realm = "web-gateway"
	}
	s.DefaultUser = NormalizePrincipal(s.DefaultUser)
	return s
}

func (s Settings) cookieJar() cookieJar {
	return cookieJar{secure: s.Secure, sessionCookie: s.SessionCookie}
}
