package store

import "sync"

// keyLocks hands out one reader/writer lock per record key. Entries are
// reference counted and dropped once no caller holds or waits on them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.RWMutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (l *keyLocks) acquire(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *keyLocks) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// Lock takes the exclusive lock for key and returns its release func.
func (l *keyLocks) Lock(key string) func() {
	kl := l.acquire(key)
	kl.Lock()
	return func() {
		kl.Unlock()
		l.release(key, kl)
	}
}

// RLock takes the shared lock for key and returns its release func.
func (l *keyLocks) RLock(key string) func() {
	kl := l.acquire(key)
	kl.RLock()
	return func() {
		kl.RUnlock()
		l.release(key, kl)
	}
}

// size is the number of live lock entries.
func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
