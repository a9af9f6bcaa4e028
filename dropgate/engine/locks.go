package engine

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// DropLockManager serializes claim transactions per drop inside the process.
// The database row lock on the drop record remains the authoritative guard;
// this keeps local claim bursts from piling up on the same row lock.
type DropLockManager struct {
	locks *xsync.MapOf[int64, *sync.Mutex]
}

func NewDropLockManager() *DropLockManager {
	return &DropLockManager{
		locks: xsync.NewMapOf[int64, *sync.Mutex](),
	}
}

// Acquire blocks until the caller holds the lock for dropID.
func (m *DropLockManager) Acquire(dropID int64) {
	mu, _ := m.locks.LoadOrCompute(dropID, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	mu.Lock()
}

// Release unlocks dropID. Must be paired with a prior Acquire.
func (m *DropLockManager) Release(dropID int64) {
	if mu, ok := m.locks.Load(dropID); ok {
		mu.Unlock()
	}
}

// Tracked returns how many drops currently have a lock allocated.
func (m *DropLockManager) Tracked() int {
	return m.locks.Size()
}
