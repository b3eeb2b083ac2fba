// Package lock provides per-key mutual exclusion for read-modify-write cycles on entities.
package lock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex hands out one mutex per key and forgets keys nobody holds.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New creates an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{locks: map[string]*entry{}}
}

// Lock blocks until key is free and returns the function that releases it.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()

	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}

	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--

		if e.refs == 0 {
			delete(k.locks, key)
		}

		k.mu.Unlock()
	}
}

// Key joins parts into a lock key.
func Key(parts ...string) string {
	size := 0
	for _, part := range parts {
		size += len(part) + 1
	}

	buf := make([]byte, 0, size)

	for i, part := range parts {
		if i > 0 {
			buf = append(buf, '/')
		}

		buf = append(buf, part...)
	}

	return string(buf)
}

// Len returns how many keys are currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.locks)
}
