// Package lock provides an in-process implementation of domain.LockManager
// for single-node deployments and tests. Multi-node deployments use the
// Redis lock manager instead.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/openpredict/predictd/internal/domain"
)

// lease is one outstanding claim on a key. The token ties an unlock back to
// the acquire that produced it, matching the Redis lock's compare-and-delete.
type lease struct {
	token  uint64
	expiry time.Time
}

// Local hands out per-key leases backed by an in-process map. A lease that
// outlives its TTL is considered abandoned and can be reclaimed.
type Local struct {
	mu    sync.Mutex
	held  map[string]lease
	next  uint64
	clock func() time.Time
}

// NewLocal creates a Local lock manager.
func NewLocal() *Local {
	return &Local{
		held:  make(map[string]lease),
		clock: time.Now,
	}
}

// Acquire takes the lease for key, returning domain.ErrLockHeld when another
// holder owns an unexpired lease. The returned unlock function releases only
// this acquire's lease: a stale unlock after the TTL expired and the key was
// reclaimed leaves the new holder untouched. It is safe to call more than
// once.
func (l *Local) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expiry) {
		return nil, domain.ErrLockHeld
	}
	l.next++
	token := l.next
	l.held[key] = lease{token: token, expiry: now.Add(ttl)}

	released := false
	unlock := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if released {
			return
		}
		released = true
		if cur, ok := l.held[key]; ok && cur.token == token {
			delete(l.held, key)
		}
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*Local)(nil)
