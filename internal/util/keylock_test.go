package util

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestKeyLock_SerializesSameKey(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewKeyLock()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("c@x.com")
			defer unlock()

			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, l.Len(), "entries must be released")
}

func TestKeyLock_OppositeOrderDoesNotDeadlock(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewKeyLock()
	var wg sync.WaitGroup
	done := make(chan struct{})

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := l.Lock("a@x.com", "b@x.com")
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := l.Lock("b@x.com", "a@x.com")
			unlock()
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock ordering deadlocked")
	}
}

func TestKeyLock_DuplicateKeysAndDoubleUnlock(t *testing.T) {
	l := NewKeyLock()

	unlock := l.Lock("a@x.com", "a@x.com")
	assert.Equal(t, 1, l.Len())
	unlock()
	unlock()
	assert.Equal(t, 0, l.Len())

	// Still usable afterwards
	l.Lock("a@x.com")()
}

func TestKeyLock_IndependentKeysDoNotBlock(t *testing.T) {
	l := NewKeyLock()
	unlockA := l.Lock("a@x.com")
	defer unlockA()

	acquired := make(chan struct{})
	go func() {
		l.Lock("b@x.com")()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("independent key was blocked")
	}
}
