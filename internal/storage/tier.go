package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/tachyon-beep/storyteller/internal/content"
	"github.com/tachyon-beep/storyteller/internal/fileutil"
	"github.com/tachyon-beep/storyteller/internal/logging"
)

// Tier names one of the storage areas.
type Tier string

const (
	// TierBatch keeps accepted outputs of every batch run.
	TierBatch Tier = "batch"
	// TierEphemeral is per-run scratch space, cleared between runs.
	TierEphemeral Tier = "ephemeral"
	// TierOutput receives the exported story of each run.
	TierOutput Tier = "output"
)

// ParseTier validates a tier name.
func ParseTier(name string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(name))); t {
	case TierBatch, TierEphemeral, TierOutput:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown storage tier %q", ErrValidation, name)
	}
}

// store is one tier. Every tier behaves the same; they differ only in how
// the active directory is resolved. The mutex serializes each
// read/modify/write sequence against the directory.
type store struct {
	tier   Tier
	dir    func() (string, error)
	retry  retryPolicy
	logger *slog.Logger
	mu     *sync.Mutex
}

func (s *store) path(op string, p *content.Packet) (string, error) {
	if p == nil {
		return "", newError(s.tier, op, "", ErrValidation, fmt.Errorf("nil packet"))
	}
	name, err := p.FileName()
	if err != nil {
		return "", newError(s.tier, op, "", ErrValidation, err)
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", newError(s.tier, op, name, ErrValidation, fmt.Errorf("file name must not contain path separators"))
	}
	dir, err := s.dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Save writes the packet content atomically.
func (s *store) Save(ctx context.Context, p *content.Packet) error {
	path, err := s.path("save", p)
	if err != nil {
		return err
	}
	err = s.retry.do(ctx, "save", func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return newError(s.tier, "save", path, classify(err, ErrWrite), err)
		}
		if err := fileutil.WriteFileAtomic(path, []byte(p.Content), 0o644); err != nil {
			return newError(s.tier, "save", path, classify(err, ErrWrite), err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("content saved", logging.String("tier", string(s.tier)), logging.String("path", path))
	return nil
}

// Load returns a copy of p carrying the stored content.
func (s *store) Load(ctx context.Context, p *content.Packet) (*content.Packet, error) {
	path, err := s.path("load", p)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.retry.do(ctx, "load", func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		var rerr error
		data, rerr = os.ReadFile(path)
		if rerr != nil {
			return newError(s.tier, "load", path, classify(rerr, ErrRead), rerr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.WithContent(string(data)), nil
}

// Exists reports whether the packet has been stored.
func (s *store) Exists(_ context.Context, p *content.Packet) (bool, error) {
	path, err := s.path("exists", p)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, newError(s.tier, "exists", path, classify(err, ErrRead), err)
	}
	return true, nil
}

// Remove deletes the stored packet. Removing missing content is ErrNotFound.
func (s *store) Remove(ctx context.Context, p *content.Packet) error {
	path, err := s.path("remove", p)
	if err != nil {
		return err
	}
	return s.retry.do(ctx, "remove", func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := os.Remove(path); err != nil {
			return newError(s.tier, "remove", path, classify(err, ErrWrite), err)
		}
		return nil
	})
}

// List returns packets for stored files, optionally filtered by stage and
// phase. Content is not loaded. Files that do not follow the naming contract
// are skipped.
func (s *store) List(_ context.Context, stage, phase string) ([]*content.Packet, error) {
	dir, err := s.dir()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	entries, err := os.ReadDir(dir)
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, newError(s.tier, "list", dir, classify(err, ErrRead), err)
	}
	var out []*content.Packet
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		itemStage, itemPhase, _, _, ok := content.ParseFileName(entry.Name())
		if !ok {
			continue
		}
		if (stage != "" && itemStage != stage) || (phase != "" && itemPhase != phase) {
			continue
		}
		out = append(out, content.FromFile(entry.Name(), "", ""))
	}
	slices.SortFunc(out, func(a, b *content.Packet) int {
		an, _ := a.FileName()
		bn, _ := b.FileName()
		return strings.Compare(an, bn)
	})
	return out, nil
}

// clear removes every regular file in the tier directory.
func (s *store) clear() (int, error) {
	dir, err := s.dir()
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, newError(s.tier, "clear", dir, classify(err, ErrRead), err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			return removed, newError(s.tier, "clear", path, classify(err, ErrWrite), err)
		}
		removed++
	}
	return removed, nil
}
