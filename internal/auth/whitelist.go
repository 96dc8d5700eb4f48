package auth

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"web-gateway/internal/observability"
)

const (
	WhitelistDefault  = "default"
	WhitelistAuthUser = "auth"

	loopbackAlias  = "localhost"
	wildcardProbe  = "111"
	wildcardSyntax = `[0-9A-Za-z-]+`
)

type wildcardEntry struct {
	entry   WhitelistEntry
	matcher *regexp.Regexp
}

// WhitelistMatcher maps a remote address to a configured entry. It is built
// once from configuration and read-only afterwards.
type WhitelistMatcher struct {
	exact     map[string]WhitelistEntry
	wildcards []wildcardEntry
	fallback  WhitelistEntry
}

// NewWhitelistMatcher keeps the configured order: literal patterns are
// looked up first, then wildcards are tried in the order given and the first
// match wins.
func NewWhitelistMatcher(entries []WhitelistEntry, logger *observability.Logger) *WhitelistMatcher {
	m := &WhitelistMatcher{exact: make(map[string]WhitelistEntry)}
	hasDefault := false

	for _, entry := range entries {
		entry.Pattern = strings.ToLower(strings.TrimSpace(entry.Pattern))
		entry.User = strings.TrimSpace(entry.User)
		if entry.User != WhitelistAuthUser && entry.User != "" {
			entry.User = NormalizePrincipal(entry.User)
		}

		if entry.Pattern == WhitelistDefault {
			m.fallback = entry
			hasDefault = true
			continue
		}

		if err := ValidatePattern(entry.Pattern); err != nil {
			logger.Warn("whitelist_pattern_invalid", map[string]any{"pattern": entry.Pattern, "error": err.Error()})
			continue
		}

		if !strings.Contains(entry.Pattern, "*") {
			key := canonicalRemote(entry.Pattern)
			if _, seen := m.exact[key]; !seen {
				m.exact[key] = entry
			}
			continue
		}
		m.wildcards = append(m.wildcards, wildcardEntry{entry: entry, matcher: compileWildcard(entry.Pattern)})
	}

	if !hasDefault {
		m.fallback = WhitelistEntry{Pattern: WhitelistDefault, User: WhitelistAuthUser}
		logger.Warn("whitelist_default_missing", map[string]any{"user": WhitelistAuthUser})
	}

	return m
}

// Resolve returns the entry for remote, falling back to the default entry.
// The bool is false only on a nil matcher (whitelisting disabled).
func (m *WhitelistMatcher) Resolve(remote string) (WhitelistEntry, bool) {
	if m == nil {
		return WhitelistEntry{}, false
	}

	addr := canonicalRemote(remote)
	if entry, ok := m.match(addr); ok {
		return entry, true
	}
	if addr == "::1" {
		if entry, ok := m.match(loopbackAlias); ok {
			return entry, true
		}
	}
	return m.fallback, true
}

func (m *WhitelistMatcher) match(addr string) (WhitelistEntry, bool) {
	if entry, ok := m.exact[addr]; ok {
		return entry, true
	}
	for _, candidate := range m.wildcards {
		if candidate.matcher.MatchString(addr) {
			return candidate.entry, true
		}
	}
	return WhitelistEntry{}, false
}

// ValidatePattern accepts literal IPs, hostnames and wildcard patterns that
// stay syntactically valid once each "*" stands for a single segment.
// Wildcards are not allowed in the first or last label of a hostname.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	if pattern == WhitelistDefault || pattern == loopbackAlias {
		return nil
	}

	probe := strings.ReplaceAll(pattern, "*", wildcardProbe)
	if _, err := netip.ParseAddr(probe); err == nil {
		return nil
	}

	if !isHostname(probe) {
		return fmt.Errorf("%w: %q is neither an address nor a hostname", ErrInvalidPattern, pattern)
	}
	if strings.Contains(pattern, "*") {
		labels := strings.Split(pattern, ".")
		if len(labels) < 3 || strings.Contains(labels[0], "*") || strings.Contains(labels[len(labels)-1], "*") {
			return fmt.Errorf("%w: %q wildcard may only replace an inner hostname label", ErrInvalidPattern, pattern)
		}
	}
	return nil
}

func compileWildcard(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("(?i)^" + strings.Join(parts, wildcardSyntax) + "$")
}

func isHostname(host string) bool {
	if len(host) == 0 || len(host) > 253 {
		return false
	}
	labels := strings.Split(host, ".")
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
				return false
			}
		}
	}
	last := labels[len(labels)-1]
	return strings.Trim(last, "0123456789") != ""
}

// canonicalRemote strips brackets and zones and unwraps IPv4-mapped IPv6.
func canonicalRemote(remote string) string {
	remote = strings.TrimSpace(remote)
	remote = strings.TrimSuffix(strings.TrimPrefix(remote, "["), "]")
	if addr, err := netip.ParseAddr(remote); err == nil {
		return addr.Unmap().WithZone("").String()
	}
	return strings.ToLower(remote)
}

var ErrInvalidPattern = errors.New("invalid whitelist pattern")
