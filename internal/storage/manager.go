package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/tachyon-beep/storyteller/internal/config"
	"github.com/tachyon-beep/storyteller/internal/content"
	"github.com/tachyon-beep/storyteller/internal/fileutil"
	"github.com/tachyon-beep/storyteller/internal/logging"
)

// Options configures a Manager.
type Options struct {
	BatchRoot      string
	EphemeralRoot  string
	OutputRoot     string
	RetryAttempts  int
	RetryBaseDelay time.Duration
	Logger         *slog.Logger
	// Now overrides the clock used for datetime folders and cleanup.
	Now func() time.Time
}

// Manager owns the three storage tiers and the batch run bookkeeping.
type Manager struct {
	batchRoot  string
	outputRoot string
	batch      *batchState
	tiers      map[Tier]*store
	now        func() time.Time
	logger     *slog.Logger

	lockMu sync.Mutex
	lock   *flock.Flock
}

// New validates the roots, creates them and returns a Manager.
func New(opts Options) (*Manager, error) {
	roots := map[Tier]string{
		TierBatch:     strings.TrimSpace(opts.BatchRoot),
		TierEphemeral: strings.TrimSpace(opts.EphemeralRoot),
		TierOutput:    strings.TrimSpace(opts.OutputRoot),
	}
	for tier, root := range roots {
		if root == "" {
			return nil, newError(tier, "init", "", ErrValidation, errors.New("root directory required"))
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, newError(tier, "init", root, classify(err, ErrWrite), err)
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := logging.NewComponentLogger(opts.Logger, "storage")
	policy := retryPolicy{attempts: opts.RetryAttempts, base: opts.RetryBaseDelay, logger: logger}

	batchMu := &sync.Mutex{}
	m := &Manager{
		batchRoot:  roots[TierBatch],
		outputRoot: roots[TierOutput],
		batch:      &batchState{mu: batchMu, root: roots[TierBatch], now: now},
		now:        now,
		logger:     logger,
	}
	ephemeralRoot := roots[TierEphemeral]
	m.tiers = map[Tier]*store{
		TierBatch: {tier: TierBatch, dir: m.batch.runDir, retry: policy, logger: logger, mu: &sync.Mutex{}},
		TierEphemeral: {tier: TierEphemeral, dir: func() (string, error) { return ephemeralRoot, nil },
			retry: policy, logger: logger, mu: &sync.Mutex{}},
		TierOutput: {tier: TierOutput, dir: m.outputDir, retry: policy, logger: logger, mu: &sync.Mutex{}},
	}
	return m, nil
}

// NewFromConfig builds a Manager from the paths and storage sections.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	return New(Options{
		BatchRoot:      cfg.Paths.BatchStorage,
		EphemeralRoot:  cfg.Paths.EphemeralStorage,
		OutputRoot:     cfg.Paths.OutputDir,
		RetryAttempts:  cfg.Storage.RetryAttempts,
		RetryBaseDelay: time.Duration(cfg.Storage.RetryBaseDelayMilli) * time.Millisecond,
		Logger:         logger,
	})
}

func (m *Manager) outputDir() (string, error) {
	datetime, run := m.batch.current()
	if datetime == "" || run == "" {
		return "", newError(TierOutput, "resolve", "", ErrBatchRun, nil)
	}
	return filepath.Join(m.outputRoot, datetime, run), nil
}

func (m *Manager) tier(t Tier, op string) (*store, error) {
	s, ok := m.tiers[t]
	if !ok {
		return nil, newError(t, op, "", ErrValidation, fmt.Errorf("unknown tier %q", t))
	}
	return s, nil
}

// StartNewBatch creates the datetime folder for this invocation. Later calls
// reuse it.
func (m *Manager) StartNewBatch() (string, error) {
	name, created, err := m.batch.startNewBatch()
	if err != nil {
		return "", err
	}
	if created {
		m.logger.Info("started new batch", logging.String("folder", name))
	}
	return name, nil
}

// CreateBatchRun creates and activates the folder for one batch run.
func (m *Manager) CreateBatchRun(batchName string, id int) (string, error) {
	run, err := m.batch.createRun(batchName, id)
	if err != nil {
		return "", err
	}
	m.logger.Info("created batch run folder", logging.String(logging.FieldBatchRun, run))
	return run, nil
}

// CurrentBatch returns the active datetime and batch run folder names.
func (m *Manager) CurrentBatch() (datetime, run string) {
	return m.batch.current()
}

// RunDir returns the directory of the active batch run.
func (m *Manager) RunDir() (string, error) {
	return m.batch.runDir()
}

// NewPacket builds a packet named by the storage naming contract.
func (m *Manager) NewPacket(text, stage, phase, plugin, identifier, ext string, metadata map[string]string) *content.Packet {
	return content.New(text, content.Identity{
		Stage:      stage,
		Phase:      phase,
		Plugin:     plugin,
		Identifier: identifier,
		Extension:  ext,
	}, metadata)
}

// Save writes the packet to a tier.
func (m *Manager) Save(ctx context.Context, t Tier, p *content.Packet) error {
	s, err := m.tier(t, "save")
	if err != nil {
		return err
	}
	return s.Save(ctx, p)
}

// SaveEphemeral writes the packet to ephemeral storage.
func (m *Manager) SaveEphemeral(ctx context.Context, p *content.Packet) error {
	return m.Save(ctx, TierEphemeral, p)
}

// SaveBatch writes the packet to the active batch run.
func (m *Manager) SaveBatch(ctx context.Context, p *content.Packet) error {
	return m.Save(ctx, TierBatch, p)
}

// Load reads the packet's content from a tier.
func (m *Manager) Load(ctx context.Context, t Tier, p *content.Packet) (*content.Packet, error) {
	s, err := m.tier(t, "load")
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, p)
}

// Exists reports whether the packet is stored in a tier.
func (m *Manager) Exists(ctx context.Context, t Tier, p *content.Packet) (bool, error) {
	s, err := m.tier(t, "exists")
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, p)
}

// Remove deletes the packet from a tier.
func (m *Manager) Remove(ctx context.Context, t Tier, p *content.Packet) error {
	s, err := m.tier(t, "remove")
	if err != nil {
		return err
	}
	return s.Remove(ctx, p)
}

// List returns the packets stored in a tier, optionally filtered.
func (m *Manager) List(ctx context.Context, t Tier, stage, phase string) ([]*content.Packet, error) {
	s, err := m.tier(t, "list")
	if err != nil {
		return nil, err
	}
	return s.List(ctx, stage, phase)
}

// Copy duplicates stored content from one tier to another with a verified copy.
func (m *Manager) Copy(ctx context.Context, from, to Tier, p *content.Packet) error {
	if from == to {
		return newError(to, "copy", "", ErrValidation, errors.New("source and target tiers are the same"))
	}
	src, err := m.tier(from, "copy")
	if err != nil {
		return err
	}
	dst, err := m.tier(to, "copy")
	if err != nil {
		return err
	}
	srcPath, err := src.path("copy", p)
	if err != nil {
		return err
	}
	dstPath, err := dst.path("copy", p)
	if err != nil {
		return err
	}
	return dst.retry.do(ctx, "copy", func() error {
		dst.mu.Lock()
		defer dst.mu.Unlock()
		if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
			return newError(to, "copy", dstPath, classify(err, ErrWrite), err)
		}
		if err := fileutil.CopyFileVerified(srcPath, dstPath); err != nil {
			return newError(to, "copy", srcPath, classify(err, ErrWrite), err)
		}
		return nil
	})
}

// Move copies stored content to another tier, then removes the source.
func (m *Manager) Move(ctx context.Context, from, to Tier, p *content.Packet) error {
	if err := m.Copy(ctx, from, to, p); err != nil {
		return err
	}
	return m.Remove(ctx, from, p)
}

// ClearEphemeral empties the scratch tier. Batch runs call it before each run.
func (m *Manager) ClearEphemeral() (int, error) {
	removed, err := m.tiers[TierEphemeral].clear()
	if err != nil {
		return removed, err
	}
	m.logger.Debug("cleared ephemeral storage", logging.Int("files", removed))
	return removed, nil
}

// Export writes the final packets of a run to the output tier. Story data
// already holds each plugin's serialized form, so it is written as is.
func (m *Manager) Export(ctx context.Context, packets []*content.Packet) error {
	for _, p := range packets {
		if err := m.Save(ctx, TierOutput, p); err != nil {
			return err
		}
	}
	return nil
}

// CleanupOldBatchRuns removes datetime folders outside the retention bounds.
// The active datetime folder is always kept.
func (m *Manager) CleanupOldBatchRuns(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	m.batch.mu.Lock()
	defer m.batch.mu.Unlock()
	return cleanupBatchRuns(ctx, m.batchRoot, m.batch.datetime, opts, m.now(), m.logger)
}

// Paths returns the root directory of each tier.
func (m *Manager) Paths() map[Tier]string {
	ephemeral, _ := m.tiers[TierEphemeral].dir()
	return map[Tier]string{
		TierBatch:     m.batchRoot,
		TierEphemeral: ephemeral,
		TierOutput:    m.outputRoot,
	}
}
