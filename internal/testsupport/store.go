package testsupport

import (
	"testing"
	"time"

	"github.com/tachyon-beep/storyteller/internal/config"
	"github.com/tachyon-beep/storyteller/internal/logging"
	"github.com/tachyon-beep/storyteller/internal/storage"
)

// FixedNow is the clock used by MustOpenStorage.
var FixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)

// MustOpenStorage builds a storage manager over the config's tiers with a
// fixed clock and registers cleanup of the batch lock.
func MustOpenStorage(t testing.TB, cfg *config.Config) *storage.Manager {
	t.Helper()

	manager, err := storage.New(storage.Options{
		BatchRoot:      cfg.Paths.BatchStorage,
		EphemeralRoot:  cfg.Paths.EphemeralStorage,
		OutputRoot:     cfg.Paths.OutputDir,
		RetryAttempts:  cfg.Storage.RetryAttempts,
		RetryBaseDelay: time.Millisecond,
		Logger:         logging.NewNop(),
		Now:            func() time.Time { return FixedNow },
	})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() {
		_ = manager.Unlock()
	})
	return manager
}
