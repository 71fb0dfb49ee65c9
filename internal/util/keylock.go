package util

import (
	"sort"
	"sync"
)

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyLock provides one mutex per key. Entries are reference counted and
// dropped once nobody holds or waits on them.
type KeyLock struct {
	mu      sync.Mutex
	entries map[string]*keyLockEntry
}

// NewKeyLock creates an empty KeyLock
func NewKeyLock() *KeyLock {
	return &KeyLock{entries: make(map[string]*keyLockEntry)}
}

// Lock acquires the locks for all keys and returns the function releasing
// them. Keys are de-duplicated and taken in lexical order, so callers
// locking overlapping key sets cannot deadlock.
func (l *KeyLock) Lock(keys ...string) (unlock func()) {
	ordered := sortedUnique(keys)

	held := make([]*keyLockEntry, 0, len(ordered))
	for _, key := range ordered {
		e := l.acquire(key)
		e.mu.Lock()
		held = append(held, e)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				l.release(ordered[i])
			}
		})
	}
}

// Len returns the number of keys currently held or waited on
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *KeyLock) acquire(key string) *keyLockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &keyLockEntry{}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *KeyLock) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func sortedUnique(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
