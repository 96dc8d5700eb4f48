package auth

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginRateLimiter caps login requests per client address with a token
// bucket that refills maxHits tokens per window.
type LoginRateLimiter struct {
	mu         sync.Mutex
	maxHits    int
	window     time.Duration
	byIP       map[string]*ipLimiter
	maxMemory  int
	trustProxy bool
	now        func() time.Time
}

func NewLoginRateLimiter(maxHits int, window time.Duration, trustProxy bool) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginRateLimiter{
		maxHits:    maxHits,
		window:     window,
		byIP:       make(map[string]*ipLimiter),
		maxMemory:  5000,
		trustProxy: trustProxy,
		now:        time.Now,
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.allow(ClientIP(r, l.trustProxy), l.now())
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *LoginRateLimiter) allow(ip string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byIP[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(rate.Every(l.window/time.Duration(l.maxHits)), l.maxHits)}
		l.byIP[ip] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		if delay < time.Second {
			delay = time.Second
		}
		return false, delay
	}

	if len(l.byIP) > l.maxMemory {
		l.sweepLocked(now)
	}
	return true, 0
}

// Sweep forgets addresses idle for longer than one window.
func (l *LoginRateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(l.now())
}

func (l *LoginRateLimiter) sweepLocked(now time.Time) int {
	threshold := now.Add(-l.window)
	removed := 0
	for ip, entry := range l.byIP {
		if entry.lastSeen.Before(threshold) {
			delete(l.byIP, ip)
			removed++
		}
	}
	return removed
}
