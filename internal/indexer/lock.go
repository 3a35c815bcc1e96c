package indexer

import "sync/atomic"

// IndexLock guards the single update session with non-blocking semantics:
// a second Begin fails immediately instead of queueing behind the first.
type IndexLock struct {
	state atomic.Int32 // 0 = idle, 1 = updating
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the session that acquired it.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether a session holds the lock
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}
