package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tachyon-beep/storyteller/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config rooted in a per-test temp directory. Every
// path is absolute and every directory exists, so the result can be handed
// straight to the registries and the storage manager.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths = config.Paths{
		Root:             base,
		PromptsDir:       filepath.Join(base, "prompts"),
		SchemasDir:       filepath.Join(base, "schemas"),
		PluginsDir:       filepath.Join(base, "plugins"),
		DataDir:          filepath.Join(base, "data"),
		GuidanceDir:      filepath.Join(base, "guidance"),
		BatchStorage:     filepath.Join(base, "batch"),
		EphemeralStorage: filepath.Join(base, "ephemeral"),
		OutputDir:        filepath.Join(base, "output"),
		LogDir:           filepath.Join(base, "logs"),
	}
	cfgVal.LLM.APIKey = "test"
	cfgVal.Storage.RetryBaseDelayMilli = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range []string{
		cfgVal.Paths.PromptsDir, cfgVal.Paths.SchemasDir, cfgVal.Paths.PluginsDir,
		cfgVal.Paths.DataDir, cfgVal.Paths.GuidanceDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := cfgVal.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	return builder.cfg
}

// WithStages replaces the stage list.
func WithStages(stages ...config.Stage) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Stages = stages
	}
}

// WithPlugin adds or replaces one plugin entry.
func WithPlugin(name string, entry config.Plugin) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Plugins[name] = entry
	}
}

// WithPlaceholder adds a library placeholder entry.
func WithPlaceholder(key string, entry config.Placeholder) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.Placeholders == nil {
			b.cfg.Placeholders = map[string]config.Placeholder{}
		}
		b.cfg.Placeholders[key] = entry
	}
}

// WithBatch overrides the batch section.
func WithBatch(batch config.Batch) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Batch = batch
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return cfg.Paths.Root
}

// Enabled returns a pointer for the plugin and stage enabled fields.
func Enabled(v bool) *bool { return &v }
