// Package throttle provides fixed-window in-memory limits for attendance
// scanners and public certificate lookups.
package throttle

import (
	"context"
	"sync"
	"time"
)

type window struct {
	requests  int
	resetTime time.Time
}

// Limiter counts requests per user and per IP in fixed windows.
type Limiter struct {
	users map[uint]*window
	ips   map[string]*window
	mu    sync.Mutex

	userMax int
	ipMax   int
	span    time.Duration
	now     func() time.Time
}

// New creates a limiter allowing userMax requests per user and ipMax per IP
// in each span. A max of zero disables that dimension.
func New(userMax, ipMax int, span time.Duration) *Limiter {
	return &Limiter{
		users:   make(map[uint]*window),
		ips:     make(map[string]*window),
		userMax: userMax,
		ipMax:   ipMax,
		span:    span,
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// AllowUser records one request for userID and reports whether it fits.
func (l *Limiter) AllowUser(userID uint) bool {
	if l == nil || l.userMax <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return hit(l.users, userID, l.userMax, l.span, l.now())
}

// AllowIP records one request for ip and reports whether it fits.
func (l *Limiter) AllowIP(ip string) bool {
	if l == nil || l.ipMax <= 0 || ip == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return hit(l.ips, ip, l.ipMax, l.span, l.now())
}

func hit[K comparable](m map[K]*window, key K, max int, span time.Duration, now time.Time) bool {
	w, ok := m[key]
	if !ok || now.After(w.resetTime) {
		m[key] = &window{requests: 1, resetTime: now.Add(span)}
		return true
	}
	if w.requests >= max {
		return false
	}
	w.requests++
	return true
}

// UserRemaining returns the requests left for userID in its window.
func (l *Limiter) UserRemaining(userID uint) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.users[userID]
	if !ok || l.now().After(w.resetTime) {
		return l.userMax
	}
	if remaining := l.userMax - w.requests; remaining > 0 {
		return remaining
	}
	return 0
}

// Run evicts expired windows every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict()
		}
	}
}

func (l *Limiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, w := range l.users {
		if now.After(w.resetTime) {
			delete(l.users, k)
		}
	}
	for k, w := range l.ips {
		if now.After(w.resetTime) {
			delete(l.ips, k)
		}
	}
}

// Reset clears all windows.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.users = make(map[uint]*window)
	l.ips = make(map[string]*window)
}
