package deployment

import "sync"

// LockManager manages per-target locks to prevent concurrent runs.
//
// The outer mutex protects the locks map; each target has its own mutex for
// the run itself, so different targets can deploy concurrently.
type LockManager struct {
	// mu protects the locks and held maps
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	held  map[string]bool
}

// NewLockManager creates a new lock manager
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
		held:  make(map[string]bool),
	}
}

// TryLock attempts to acquire the run lock for the given target.
//
// Returns false immediately if a run is already in progress for the target.
func (lm *LockManager) TryLock(target string) bool {
	lm.mu.Lock()
	lock, exists := lm.locks[target]
	if !exists {
		lock = &sync.Mutex{}
		lm.locks[target] = lock
	}
	lm.mu.Unlock()

	if !lock.TryLock() {
		return false
	}

	lm.mu.Lock()
	lm.held[target] = true
	lm.mu.Unlock()
	return true
}

// Unlock releases the run lock for the given target.
// Typically used with defer: defer locks.Unlock(target)
func (lm *LockManager) Unlock(target string) {
	lm.mu.Lock()
	lock := lm.locks[target]
	wasHeld := lm.held[target]
	delete(lm.held, target)
	lm.mu.Unlock()

	if lock != nil && wasHeld {
		lock.Unlock()
	}
}

// Locked reports whether a run currently holds the lock for target.
func (lm *LockManager) Locked(target string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	return lm.held[target]
}
