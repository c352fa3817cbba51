package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/tachyon-beep/storyteller/internal/config"
)

type libraryEntry struct {
	tag             string
	values          []string
	count           int
	allowDuplicates bool
}

// Library holds the value pools behind library placeholders.
type Library struct {
	mu      sync.Mutex
	rng     *rand.Rand
	entries map[string]libraryEntry
	keys    []string
}

// NewLibrary loads every placeholder's data file. dataPath maps a source
// name to a file path. A nil rng uses a randomly seeded generator.
func NewLibrary(placeholders map[string]config.Placeholder, dataPath func(string) string, rng *rand.Rand) (*Library, error) {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	lib := &Library{rng: rng, entries: make(map[string]libraryEntry, len(placeholders))}
	var errs []error
	for key, entry := range placeholders {
		values, err := loadValues(dataPath(entry.Source))
		if err != nil {
			errs = append(errs, fmt.Errorf("placeholder %s: %w", key, err))
			continue
		}
		if len(values) == 0 {
			errs = append(errs, fmt.Errorf("placeholder %s: %s has no values", key, entry.Source))
			continue
		}
		if len(values) < entry.Count && !entry.AllowDuplicates {
			errs = append(errs, fmt.Errorf("placeholder %s: not enough values, expected %d, got %d", key, entry.Count, len(values)))
			continue
		}
		lib.entries[key] = libraryEntry{
			tag:             strings.Trim(strings.TrimSpace(entry.Tag), "{}[]"),
			values:          values,
			count:           entry.Count,
			allowDuplicates: entry.AllowDuplicates,
		}
		lib.keys = append(lib.keys, key)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	sort.Strings(lib.keys)
	return lib, nil
}

func loadValues(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Values []any `json:"values"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	values := make([]string, 0, len(doc.Values))
	for _, v := range doc.Values {
		text, ok := v.(string)
		if !ok {
			text = fmt.Sprint(v)
		}
		if text = strings.TrimSpace(text); text != "" {
			values = append(values, text)
		}
	}
	return values, nil
}

// Keys returns the configured placeholder keys in sorted order.
func (l *Library) Keys() []string {
	if l == nil {
		return nil
	}
	return append([]string(nil), l.keys...)
}

// Tag returns the bare tag for key.
func (l *Library) Tag(key string) (string, bool) {
	if l == nil {
		return "", false
	}
	entry, ok := l.entries[key]
	return entry.tag, ok
}

// Sample draws the configured number of values for key. Without
// duplicates the draw is a random subset in random order.
func (l *Library) Sample(key string) ([]string, error) {
	if l == nil {
		return nil, fmt.Errorf("placeholder %q: library not loaded", key)
	}
	entry, ok := l.entries[key]
	if !ok {
		return nil, fmt.Errorf("placeholder %q is not configured", key)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, entry.count)
	if entry.allowDuplicates {
		for range entry.count {
			out = append(out, entry.values[l.rng.IntN(len(entry.values))])
		}
		return out, nil
	}
	for _, idx := range l.rng.Perm(len(entry.values))[:min(entry.count, len(entry.values))] {
		out = append(out, entry.values[idx])
	}
	return out, nil
}
