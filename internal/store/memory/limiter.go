package memory

import (
	"context"
	"sync"
	"time"

	"github.com/openpredict/predictd/internal/domain"
)

// Limiter is a fixed-window in-process rate limiter for single-node
// deployments that run without Redis.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

var _ domain.RateLimiter = (*Limiter)(nil)

// NewLimiter creates an empty Limiter.
func NewLimiter() *Limiter {
	return &Limiter{windows: make(map[string]*window)}
}

// Allow counts the request against the key's current window and reports
// whether it stays within the limit.
func (l *Limiter) Allow(_ context.Context, key string, limit int, windowDur time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= windowDur {
		l.windows[key] = &window{start: now, count: 1}
		return true, nil
	}

	if w.count >= limit {
		return false, nil
	}
	w.count++
	return true, nil
}
