package core

import (
	"context"
	"sync"
	"time"

	"tracecore/pkg/domain"
)

// lockTable serializes writers per container so concurrent anchors
// against the same container queue instead of interleaving. Entries are
// reference counted and removed once the last waiter releases.
type lockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{entries: make(map[string]*lockEntry)}
}

// acquire blocks until the container lock is held, the wait elapses, or
// ctx is done. On success the returned release function must be called
// exactly once.
func (t *lockTable) acquire(ctx context.Context, containerID string, wait time.Duration) (func(), error) {
	t.mu.Lock()
	entry, ok := t.entries[containerID]
	if !ok {
		entry = &lockEntry{ch: make(chan struct{}, 1)}
		t.entries[containerID] = entry
	}
	entry.refs++
	t.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case entry.ch <- struct{}{}:
		return func() {
			<-entry.ch
			t.put(containerID, entry)
		}, nil
	case <-timer.C:
		t.put(containerID, entry)
		return nil, domain.LockTimeoutError{ContainerID: containerID, Wait: wait}
	case <-ctx.Done():
		t.put(containerID, entry)
		return nil, ctx.Err()
	}
}

func (t *lockTable) put(containerID string, entry *lockEntry) {
	t.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(t.entries, containerID)
	}
	t.mu.Unlock()
}
