package ingest

import (
	"sync/atomic"
	"time"
)

// ImportLock admits one bulk import at a time without blocking the loser
type ImportLock struct {
	held    atomic.Bool
	started atomic.Int64 // UnixNano of the current holder's acquire
}

// TryAcquire takes the lock if it is free and reports whether it did
func (l *ImportLock) TryAcquire() bool {
	if !l.held.CompareAndSwap(false, true) {
		return false
	}
	l.started.Store(time.Now().UnixNano())
	return true
}

// Release frees the lock. Only the goroutine whose TryAcquire succeeded may call it.
func (l *ImportLock) Release() {
	l.started.Store(0)
	l.held.Store(false)
}

// Held reports whether an import is running
func (l *ImportLock) Held() bool {
	return l.held.Load()
}

// Since returns when the running import started, or the zero time
func (l *ImportLock) Since() time.Time {
	ns := l.started.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
