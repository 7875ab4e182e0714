package gardener

import "sync"

// Locker implements the Gardener's exclusive per-block_id lock: the
// Gardener acquires an exclusive lock on the target block_id so it cannot
// race with a resumption of that block. It is a sync.Map of chan struct{}
// semaphores keyed by block_id, one token per block.
type Locker struct {
	locks sync.Map // block_id -> chan struct{}
}

// NewLocker builds an empty Locker.
func NewLocker() *Locker {
	return &Locker{}
}

// TryAcquire attempts to take the exclusive lock for blockID. On success it
// returns a release function that must be called to free the lock. On
// failure (already locked) ok is false.
func (l *Locker) TryAcquire(blockID string) (release func(), ok bool) {
	sem := make(chan struct{}, 1)
	_, loaded := l.locks.LoadOrStore(blockID, sem)
	if loaded {
		return nil, false
	}
	return func() { l.locks.Delete(blockID) }, true
}

// IsLocked reports whether blockID is currently held. It satisfies
// governor.BlockLocker.
func (l *Locker) IsLocked(blockID string) bool {
	_, ok := l.locks.Load(blockID)
	return ok
}
