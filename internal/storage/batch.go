package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/tachyon-beep/storyteller/internal/textutil"
)

// DatetimeLayout names the per-invocation folder under the batch root.
const DatetimeLayout = "20060102_150405"

// batchState tracks the active datetime folder and batch run folder.
type batchState struct {
	mu       *sync.Mutex
	root     string
	datetime string
	run      string
	now      func() time.Time
}

// startNewBatch creates the datetime folder on first use and keeps it for
// every later run of the same invocation.
func (b *batchState) startNewBatch() (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.datetime != "" {
		return b.datetime, false, nil
	}
	name := b.now().Format(DatetimeLayout)
	path := filepath.Join(b.root, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", false, newError(TierBatch, "start batch", path, classify(err, ErrWrite), err)
	}
	b.datetime = name
	b.run = ""
	return name, true, nil
}

// RunFolderName renders the batch run folder name for an id. The batch name
// is reduced to a lowercase filesystem-safe token.
func RunFolderName(batchName string, id int) string {
	return textutil.SanitizeToken(batchName) + "_" + strconv.Itoa(id)
}

func (b *batchState) createRun(batchName string, id int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.datetime == "" {
		return "", newError(TierBatch, "create batch run", "", ErrBatchRun, fmt.Errorf("start a batch before creating runs"))
	}
	run := RunFolderName(batchName, id)
	path := filepath.Join(b.root, b.datetime, run)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", newError(TierBatch, "create batch run", path, classify(err, ErrWrite), err)
	}
	b.run = run
	return run, nil
}

func (b *batchState) runDir() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.datetime == "" || b.run == "" {
		return "", newError(TierBatch, "resolve", "", ErrBatchRun, nil)
	}
	return filepath.Join(b.root, b.datetime, b.run), nil
}

func (b *batchState) current() (datetime, run string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.datetime, b.run
}
