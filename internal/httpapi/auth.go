package httpapi

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	errPinRequired = errors.New("operator pin required")
	errPinInvalid  = errors.New("invalid operator pin")
	errPinThrottle = errors.New("too many pin attempts")
)

// PinGuard gates mutating endpoints behind an operator PIN checked against a
// bcrypt hash, so the gate keeps working with no network. An empty hash
// disables the guard (dev mode).
type PinGuard struct {
	hash    []byte
	limiter *attemptLimiter
}

func NewPinGuard(bcryptHash string) *PinGuard {
	return &PinGuard{
		hash:    []byte(bcryptHash),
		limiter: newAttemptLimiter(8, time.Minute),
	}
}

func (g *PinGuard) Enabled() bool {
	return g != nil && len(g.hash) > 0
}

// Verify throttles on failed attempts only. Capture runs at trade pace, so
// a cashier entering the correct PIN all day must never trip the limiter;
// it exists to slow down guessing, and a correct PIN clears the slate.
func (g *PinGuard) Verify(pin string, clientKey string) error {
	if !g.Enabled() {
		return nil
	}
	if g.limiter.Blocked(clientKey) {
		return errPinThrottle
	}
	if pin == "" {
		return errPinRequired
	}
	if bcrypt.CompareHashAndPassword(g.hash, []byte(pin)) != nil {
		g.limiter.Record(clientKey)
		return errPinInvalid
	}
	g.limiter.Reset(clientKey)
	return nil
}

// attemptLimiter tracks failed attempts per client within a sliding window.
type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Blocked(key string) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(key)) >= l.max
}

// Record notes one failed attempt.
func (l *attemptLimiter) Record(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = append(l.prune(key), time.Now())
}

// Reset clears the key's failure history.
func (l *attemptLimiter) Reset(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// prune drops entries older than the window. Caller holds the lock.
func (l *attemptLimiter) prune(key string) []time.Time {
	cutoff := time.Now().Add(-l.window)
	kept := make([]time.Time, 0, len(l.entries[key]))
	for _, ts := range l.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(l.entries, key)
		return nil
	}
	l.entries[key] = kept
	return kept
}
