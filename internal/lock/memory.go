package lock

import (
	"context"
	"sync"
)

// MemoryLocker is a process-local Locker. Each key is a one-slot channel
// that exists only while someone holds or waits for it.
type MemoryLocker struct {
	mu   sync.Mutex
	keys map[string]*keyEntry
}

type keyEntry struct {
	slot chan struct{}
	refs int
}

var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker returns an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{keys: make(map[string]*keyEntry)}
}

// Lock blocks until every key is held or ctx is done.
func (l *MemoryLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := sortKeys(keys)
	held := make([]string, 0, len(ordered))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}

	for _, key := range ordered {
		if err := l.acquire(ctx, key); err != nil {
			release()
			return nil, lockError(err)
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *MemoryLocker) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	entry, ok := l.keys[key]
	if !ok {
		entry = &keyEntry{slot: make(chan struct{}, 1)}
		l.keys[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.dropRef(key, entry)
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *MemoryLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.keys[key]
	if !ok {
		return
	}
	<-entry.slot
	l.dropRef(key, entry)
}

func (l *MemoryLocker) dropRef(key string, entry *keyEntry) {
	entry.refs--
	if entry.refs == 0 {
		delete(l.keys, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (l *MemoryLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
