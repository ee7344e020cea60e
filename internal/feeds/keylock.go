package feeds

import "sync"

// keyedMutex serializes work per key without a global lock. Entries are
// dropped once nobody holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	l := k.ref(key)
	l.mu.Lock()
	return func() { k.release(key, l) }
}

// TryLock takes key only if nobody holds it.
func (k *keyedMutex) TryLock(key string) (func(), bool) {
	l := k.ref(key)
	if !l.mu.TryLock() {
		k.unref(key, l)
		return nil, false
	}
	return func() { k.release(key, l) }, true
}

func (k *keyedMutex) ref(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyedMutex) release(key string, l *keyLock) {
	l.mu.Unlock()
	k.unref(key, l)
}

func (k *keyedMutex) unref(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyedMutex) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
