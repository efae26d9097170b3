package state

import (
	"sync"
	"time"
)

// rwTryMutex is an RWMutex whose write lock can be acquired with a bounded
// wait, so a contended mutation can fail instead of stalling the caller.
type rwTryMutex struct {
	sync.RWMutex
}

// LockTimeout acquires the write lock, giving up after d. Returns whether
// the lock was acquired.
func (m *rwTryMutex) LockTimeout(d time.Duration) bool {
	if m.TryLock() {
		return true
	}
	deadline := time.Now().Add(d)
	for {
		time.Sleep(time.Millisecond)
		if m.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
	}
}
