package middleware

import (
	"sync"
	"time"
)

// LoginRateLimiter applies per-username rate limiting to login attempts so a
// brute-force run against one operator account stalls before it exhausts the
// bcrypt budget.
type LoginRateLimiter struct {
	byUser      map[string]*accountWindow
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	stop        chan struct{}
}

type accountWindow struct {
	tries   int
	resetAt time.Time
}

// NewLoginRateLimiter creates a per-username login rate limiter and starts
// its sweep loop.
func NewLoginRateLimiter(maxAttempts int, window time.Duration) *LoginRateLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}

	l := &LoginRateLimiter{
		byUser:      make(map[string]*accountWindow),
		maxAttempts: maxAttempts,
		window:      window,
		stop:        make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow reports whether a login attempt for the given username may proceed.
// Failed and successful attempts both count; the window resets on expiry.
func (l *LoginRateLimiter) Allow(username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	win, ok := l.byUser[username]
	if !ok || now.After(win.resetAt) {
		l.byUser[username] = &accountWindow{
			tries:   1,
			resetAt: now.Add(l.window),
		}
		return true
	}

	if win.tries >= l.maxAttempts {
		return false
	}

	win.tries++
	return true
}

// Stop stops the sweep goroutine.
func (l *LoginRateLimiter) Stop() {
	close(l.stop)
}

func (l *LoginRateLimiter) sweepLoop() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *LoginRateLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for username, win := range l.byUser {
		if now.After(win.resetAt) {
			delete(l.byUser, username)
		}
	}
}
