package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = ".storyteller.lock"

// Lock takes an exclusive, non-blocking lock on the batch storage root so
// only one process writes batch runs at a time. Release it with Unlock.
func (m *Manager) Lock() error {
	if err := os.MkdirAll(m.batchRoot, 0o755); err != nil {
		return newError(TierBatch, "lock", m.batchRoot, classify(err, ErrWrite), err)
	}
	path := filepath.Join(m.batchRoot, lockFileName)
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	if m.lock == nil {
		m.lock = flock.New(path)
	}
	ok, err := m.lock.TryLock()
	if err != nil {
		return newError(TierBatch, "lock", path, classify(err, ErrWrite), err)
	}
	if !ok {
		return newError(TierBatch, "lock", path, ErrLocked, fmt.Errorf("another storyteller run holds %s", path))
	}
	return nil
}

// Unlock releases the batch storage lock. It is a no-op when not locked.
func (m *Manager) Unlock() error {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	if m.lock == nil {
		return nil
	}
	return m.lock.Unlock()
}
