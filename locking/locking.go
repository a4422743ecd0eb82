/*
Package locking provides per-key mutual exclusion for series operations.

PURPOSE:
  Regenerate, Stop and DeleteAll read a template's instances and then write
  a reconciliation. Two of them interleaving on the same template could
  delete rows the other just merged. Each takes the template's lock first and
  fails fast when it is already held.

  Locks with a TTL are extended with Refresh between write batches. A failed
  refresh means the lock was lost and the holder must stop writing.

IMPLEMENTATIONS:
  Memory: in-process, for a single server
  Redis:  github.com/bsm/redislock, for several servers sharing one database

SEE ALSO:
  - series/service.go: Takes the lock around every mutating series operation
*/
package locking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrNotObtained is returned when the key is already locked.
	ErrNotObtained = errors.New("lock not obtained")

	// ErrNotHeld is returned by Refresh once the lock has been released or
	// has expired.
	ErrNotHeld = errors.New("lock not held")
)

// Locker obtains exclusive, non-blocking locks on keys.
type Locker interface {
	// Obtain returns ErrNotObtained immediately if key is held.
	Obtain(ctx context.Context, key string) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	// Refresh extends the lock's lease. It returns ErrNotHeld if the lock
	// is gone.
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// =============================================================================
// MEMORY
// =============================================================================

type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

func (m *Memory) Obtain(_ context.Context, key string) (Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[key]; ok {
		return nil, ErrNotObtained
	}
	m.held[key] = struct{}{}
	return &memoryLock{parent: m, key: key}, nil
}

// Held reports whether key is currently locked.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}

type memoryLock struct {
	parent   *Memory
	key      string
	once     sync.Once
	released atomic.Bool
}

// Refresh is a no-op while held; in-process locks do not expire.
func (l *memoryLock) Refresh(context.Context) error {
	if l.released.Load() {
		return ErrNotHeld
	}
	return nil
}

// Release is idempotent.
func (l *memoryLock) Release(context.Context) error {
	l.once.Do(func() {
		l.released.Store(true)
		l.parent.mu.Lock()
		delete(l.parent.held, l.key)
		l.parent.mu.Unlock()
	})
	return nil
}
