package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"web-gateway/internal/observability"
)

const (
	defaultGuardRetention = 24 * time.Hour
	defaultGuardMaxMemory = 5000
)

// Validator is what the guard wraps: anything that can check a secret.
type Validator interface {
	Validate(ctx context.Context, principal, secret string) (bool, error)
}

type bruteForceRecord struct {
	errorCount    int
	lastAttemptAt time.Time
}

// BruteForceGuard tracks consecutive failed logins per principal and refuses
// further attempts on an escalating schedule. A record is only cleared by a
// successful login or by Sweep once it is older than the retention.
type BruteForceGuard struct {
	mu        sync.Mutex
	records   map[string]*bruteForceRecord
	now       func() time.Time
	retention time.Duration
	maxMemory int
	logger    *observability.Logger
	metrics   *observability.Metrics
}

func NewBruteForceGuard(logger *observability.Logger, metrics *observability.Metrics) *BruteForceGuard {
	return &BruteForceGuard{
		records:   make(map[string]*bruteForceRecord),
		now:       time.Now,
		retention: defaultGuardRetention,
		maxMemory: defaultGuardMaxMemory,
		logger:    logger,
		metrics:   metrics,
	}
}

func (g *BruteForceGuard) WithClock(now func() time.Time) *BruteForceGuard {
	if now != nil {
		g.now = now
	}
	return g
}

func (g *BruteForceGuard) WithRetention(retention time.Duration, maxMemory int) *BruteForceGuard {
	if retention > 0 {
		g.retention = retention
	}
	if maxMemory > 0 {
		g.maxMemory = maxMemory
	}
	return g
}

// Check returns ErrLoginLocked when principal must wait before trying again.
func (g *BruteForceGuard) Check(principal string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, ok := g.records[principal]
	if !ok {
		return nil
	}
	if minutes, locked := lockoutRemaining(record.errorCount, g.now().Sub(record.lastAttemptAt)); locked {
		return ErrLoginLocked{Minutes: minutes}
	}
	return nil
}

// Record stores the outcome of a validation that actually ran.
func (g *BruteForceGuard) Record(principal string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if success {
		delete(g.records, principal)
		return
	}

	now := g.now()
	record, ok := g.records[principal]
	if !ok {
		record = &bruteForceRecord{}
		g.records[principal] = record
	}
	record.errorCount++
	record.lastAttemptAt = now

	if len(g.records) > g.maxMemory {
		g.sweepLocked(now)
	}
}

// Login runs check, validate and record for one attempt. Principal is
// normalized first so every path keys the same record.
func (g *BruteForceGuard) Login(ctx context.Context, validator Validator, principal, secret string) (string, error) {
	name := NormalizePrincipal(principal)

	if err := g.Check(name); err != nil {
		g.metrics.ObserveLoginAttempt("locked")
		g.logger.Warn("login_locked", map[string]any{"user": name, "error": err.Error()})
		return name, err
	}

	ok, err := validator.Validate(ctx, name, secret)
	if err != nil {
		return name, fmt.Errorf("validate credentials: %w", err)
	}

	g.Record(name, ok)
	if !ok {
		g.metrics.ObserveLoginAttempt("invalid")
		g.logger.Info("login_failed", map[string]any{"user": name, "errors": g.ErrorCount(name)})
		return name, ErrInvalidCredentials
	}

	g.metrics.ObserveLoginAttempt("success")
	return name, nil
}

func (g *BruteForceGuard) ErrorCount(principal string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if record, ok := g.records[principal]; ok {
		return record.errorCount
	}
	return 0
}

// Sweep drops records whose last failure is older than the retention and
// returns how many were removed.
func (g *BruteForceGuard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sweepLocked(g.now())
}

func (g *BruteForceGuard) sweepLocked(now time.Time) int {
	threshold := now.Add(-g.retention)
	removed := 0
	for key, record := range g.records {
		if record.lastAttemptAt.Before(threshold) {
			delete(g.records, key)
			removed++
		}
	}
	return removed
}

// lockoutRemaining applies the escalation ladder to an error count and the
// time since the last failure.
func lockoutRemaining(errorCount int, sinceLast time.Duration) (int, bool) {
	if sinceLast < 0 {
		sinceLast = 0
	}

	var window time.Duration
	switch {
	case errorCount <= 4:
		return 0, false
	case errorCount <= 6:
		if sinceLast < time.Minute {
			return 1, true
		}
		return 0, false
	case errorCount <= 9:
		window = 3 * time.Minute
	case errorCount <= 14:
		window = 10 * time.Minute
	default:
		window = time.Hour
	}

	if sinceLast >= window {
		return 0, false
	}
	remaining := window - sinceLast
	return int((remaining + time.Minute - 1) / time.Minute), true
}

var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrLoginLocked is returned while a principal is inside a lockout window.
// errors.Is(err, ErrLoginLocked{}) matches any lockout.
type ErrLoginLocked struct {
	Minutes int
}

func (e ErrLoginLocked) Error() string {
	if e.Minutes == 1 {
		return "Too many failed login attempts. Try again in 1 minute."
	}
	return fmt.Sprintf("Too many failed login attempts. Try again in %d minutes.", e.Minutes)
}

func (e ErrLoginLocked) Is(target error) bool {
	_, ok := target.(ErrLoginLocked)
	return ok
}

func (e ErrLoginLocked) RetryAfter() time.Duration {
	return time.Duration(e.Minutes) * time.Minute
}
