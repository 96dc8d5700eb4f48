package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePattern(t *testing.T) {
	valid := []string{
		"10.0.0.5",
		"192.168.0.*",
		"192.168.*.*",
		"::1",
		"fe80::*",
		"localhost",
		"default",
		"host.example.com",
		"sub.*.example.com",
	}
	for _, pattern := range valid {
		assert.NoError(t, ValidatePattern(pattern), pattern)
	}

	invalid := []string{
		"",
		"*",
		"*.example.com",
		"example.*",
		"192.168.*",
		"192.168.0.1/24",
		"bad host",
		"-bad.example.com",
	}
	for _, pattern := range invalid {
		assert.ErrorIs(t, ValidatePattern(pattern), ErrInvalidPattern, pattern)
	}
}

func TestWildcardMatchesExactlyOneSegment(t *testing.T) {
	m := NewWhitelistMatcher([]WhitelistEntry{
		{Pattern: "192.168.0.*", User: "lan"},
		{Pattern: "default", User: "auth"},
	}, nil)

	entry, ok := m.Resolve("192.168.0.42")
	require.True(t, ok)
	assert.Equal(t, "lan", entry.User)

	entry, _ = m.Resolve("192.168.1.42")
	assert.Equal(t, WhitelistDefault, entry.Pattern)

	entry, _ = m.Resolve("192.168.0.42.evil")
	assert.Equal(t, WhitelistDefault, entry.Pattern)
}

func TestScenarioWhitelistBypassAndDefault(t *testing.T) {
	bob := WhitelistEntry{
		Pattern: "10.0.0.5",
		User:    "bob",
		Permissions: Permissions{
			State: AccessRights{Read: true, List: true},
		},
	}
	m := NewWhitelistMatcher([]WhitelistEntry{bob, {Pattern: "default", User: "auth"}}, nil)

	entry, ok := m.Resolve("10.0.0.5")
	require.True(t, ok)
	assert.True(t, entry.Bypass())
	assert.Equal(t, "bob", entry.User)
	assert.True(t, entry.Permissions.State.Read)
	assert.False(t, entry.Permissions.State.Write)

	entry, ok = m.Resolve("10.0.0.6")
	require.True(t, ok)
	assert.Equal(t, WhitelistDefault, entry.Pattern)
	assert.False(t, entry.Bypass())
}

func TestIPv4MappedAddressIsUnwrapped(t *testing.T) {
	m := NewWhitelistMatcher([]WhitelistEntry{{Pattern: "10.0.0.5", User: "bob"}}, nil)

	entry, _ := m.Resolve("::ffff:10.0.0.5")
	assert.Equal(t, "bob", entry.User)
}

func TestIPv6LoopbackTriesLocalhost(t *testing.T) {
	m := NewWhitelistMatcher([]WhitelistEntry{{Pattern: "localhost", User: "local"}}, nil)

	entry, _ := m.Resolve("::1")
	assert.Equal(t, "local", entry.User)

	entry, _ = m.Resolve("127.0.0.2")
	assert.Equal(t, WhitelistDefault, entry.Pattern)
}

func TestMissingDefaultIsSynthesized(t *testing.T) {
	m := NewWhitelistMatcher([]WhitelistEntry{{Pattern: "10.0.0.5", User: "bob"}}, nil)

	entry, ok := m.Resolve("172.16.0.1")
	require.True(t, ok)
	assert.Equal(t, WhitelistDefault, entry.Pattern)
	assert.Equal(t, WhitelistAuthUser, entry.User)
	assert.False(t, entry.Bypass())
}

func TestInvalidPatternsAreSkipped(t *testing.T) {
	m := NewWhitelistMatcher([]WhitelistEntry{
		{Pattern: "*.example.com", User: "wild"},
		{Pattern: "default", User: "guest"},
	}, nil)

	assert.Empty(t, m.wildcards)
	entry, _ := m.Resolve("a.example.com")
	assert.Equal(t, "guest", entry.User)
	assert.True(t, entry.Bypass())
}

func TestNilMatcherResolvesNothing(t *testing.T) {
	var m *WhitelistMatcher
	_, ok := m.Resolve("10.0.0.5")
	assert.False(t, ok)
}

func TestOverlappingWildcardsResolveInConfiguredOrder(t *testing.T) {
	m := NewWhitelistMatcher([]WhitelistEntry{
		{Pattern: "192.168.0.*", User: "bob"},
		{Pattern: "192.168.*.*", User: "auth"},
		{Pattern: "default", User: "auth"},
	}, nil)

	entry, _ := m.Resolve("192.168.0.7")
	assert.Equal(t, "192.168.0.*", entry.Pattern)
	assert.Equal(t, "bob", entry.User)

	entry, _ = m.Resolve("192.168.5.7")
	assert.Equal(t, "192.168.*.*", entry.Pattern)
	assert.False(t, entry.Bypass())
}

func TestFirstDuplicateLiteralWins(t *testing.T) {
	m := NewWhitelistMatcher([]WhitelistEntry{
		{Pattern: "10.0.0.5", User: "bob"},
		{Pattern: "10.0.0.5", User: "carol"},
	}, nil)

	entry, _ := m.Resolve("10.0.0.5")
	assert.Equal(t, "bob", entry.User)
}

func TestLiteralAddressPatternsAreCanonicalized(t *testing.T) {
	m := NewWhitelistMatcher([]WhitelistEntry{
		{Pattern: "0:0:0:0:0:0:0:1", User: "loop"},
		{Pattern: "::ffff:10.0.0.5", User: "bob"},
		{Pattern: "FE80::1", User: "link"},
	}, nil)

	entry, _ := m.Resolve("::1")
	assert.Equal(t, "loop", entry.User)

	entry, _ = m.Resolve("10.0.0.5")
	assert.Equal(t, "bob", entry.User)

	entry, _ = m.Resolve("[fe80::1%eth0]")
	assert.Equal(t, "link", entry.User)
}
