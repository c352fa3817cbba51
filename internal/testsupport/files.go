package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tachyon-beep/storyteller/internal/config"
)

// WriteText writes text to path, creating parent directories.
func WriteText(t testing.TB, path, text string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WritePrompt writes a prompt template into the prompts directory.
func WritePrompt(t testing.TB, cfg *config.Config, name, text string) {
	t.Helper()
	WriteText(t, filepath.Join(cfg.Paths.PromptsDir, name), text)
}

// WriteSchema writes a schema file into the schemas directory.
func WriteSchema(t testing.TB, cfg *config.Config, name, text string) {
	t.Helper()
	WriteText(t, filepath.Join(cfg.Paths.SchemasDir, name), text)
}

// WriteGuidance writes a guidance file into the guidance directory.
func WriteGuidance(t testing.TB, cfg *config.Config, name, text string) {
	t.Helper()
	WriteText(t, filepath.Join(cfg.Paths.GuidanceDir, name), text)
}

// WritePluginResource writes a file into a plugin's resource directory.
func WritePluginResource(t testing.TB, cfg *config.Config, dir, name, text string) {
	t.Helper()
	WriteText(t, filepath.Join(cfg.Paths.PluginsDir, dir, name), text)
}

// WriteData writes a placeholder data file into the data directory.
func WriteData(t testing.TB, cfg *config.Config, name, text string) {
	t.Helper()
	WriteText(t, cfg.DataPath(name), text)
}
