package reminder

import "sync"

// keyedMutex serializes work per key. Reconciliations for the same
// (owner, day) namespace run one at a time; different namespaces never
// contend.
type keyedMutex struct {
	mu   sync.Mutex
	held map[string]*lockEntry
}

type lockEntry struct {
	refs int
	mu   sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{held: map[string]*lockEntry{}}
}

// lock blocks until the key is free and returns the release func.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	e := k.held[key]
	if e == nil {
		e = &lockEntry{}
		k.held[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.held, key)
		}
		k.mu.Unlock()
	}
}
