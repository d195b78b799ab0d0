package session

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/exitguard/exitguard/internal/logging"
)

// FallbackStore wraps a primary store and degrades to an in-memory store
// when the primary is unreachable. Only connectivity-class failures trigger
// the fallback; data errors (bad payloads, constraint violations) surface
// to the caller unchanged.
//
// Tracking must keep answering while the database is down, so a degraded
// store never fails a user call for unavailability. The trade-off is that
// sessions written during an outage live only in process memory.
type FallbackStore struct {
	primary  Store
	memory   *MemoryStore
	degraded atomic.Bool
}

// NewFallbackStore wraps primary with an in-memory fallback.
func NewFallbackStore(primary Store, memory *MemoryStore) *FallbackStore {
	return &FallbackStore{primary: primary, memory: memory}
}

// Degraded reports whether the last primary operation failed with a
// connectivity error. Exposed to the health check and storage-mode gauge.
func (f *FallbackStore) Degraded() bool {
	return f.degraded.Load()
}

func (f *FallbackStore) Put(ctx context.Context, s *Session, ttl time.Duration) error {
	err := f.primary.Put(ctx, s, ttl)
	if err == nil {
		f.recover(ctx)
		return nil
	}
	if !isUnavailable(err) {
		return err
	}
	f.degrade(ctx, err)
	return f.memory.Put(ctx, s, ttl)
}

func (f *FallbackStore) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := f.primary.Get(ctx, id)
	if err == nil {
		f.recover(ctx)
		return sess, nil
	}
	if !isUnavailable(err) {
		return nil, err
	}
	f.degrade(ctx, err)
	return f.memory.Get(ctx, id)
}

func (f *FallbackStore) List(ctx context.Context) ([]*Session, error) {
	sessions, err := f.primary.List(ctx)
	if err == nil {
		f.recover(ctx)
		return sessions, nil
	}
	if !isUnavailable(err) {
		return nil, err
	}
	f.degrade(ctx, err)
	return f.memory.List(ctx)
}

func (f *FallbackStore) Ping(ctx context.Context) error {
	return f.primary.Ping(ctx)
}

func (f *FallbackStore) degrade(ctx context.Context, err error) {
	if f.degraded.CompareAndSwap(false, true) {
		logging.L(ctx).Warn("session store unreachable, serving from memory", "error", err)
	}
}

func (f *FallbackStore) recover(ctx context.Context) {
	if f.degraded.CompareAndSwap(true, false) {
		logging.L(ctx).Info("session store reachable again")
	}
}

// isUnavailable classifies an error as a connectivity failure.
func isUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08: connection exceptions.
		return pqErr.Code.Class() == "08"
	}
	return false
}
