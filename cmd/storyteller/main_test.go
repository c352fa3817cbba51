package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tachyon-beep/storyteller/internal/config"
	"github.com/tachyon-beep/storyteller/internal/services/llm"
)

type cannedModel struct {
	schemas []string
}

func (m *cannedModel) Initialize(context.Context) error { return nil }

func (m *cannedModel) SetSchema(schema string) error {
	m.schemas = append(m.schemas, schema)
	return nil
}

func (m *cannedModel) Generate(_ context.Context, prompt string, _ float64) (string, error) {
	return "A story about " + strings.TrimSpace(prompt), nil
}

type cliEnv struct {
	base       string
	configPath string
	model      *cannedModel
}

const testConfig = `
[paths]
root = %q

[llm]
type = "openrouter"
api_key = "test"

[batch]
size = 2
name = "tale"
starting_id = 1

[logging]
level = "error"

[[stages]]
name = "story"
order = 1

[[stages.phases]]
name = "draft"
prompt_file = "draft.txt"
plugin = "text"
temperature = 0.8
`

func setupCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	base := t.TempDir()
	for _, dir := range []string{"prompts", "schemas"} {
		if err := os.MkdirAll(filepath.Join(base, dir), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(base, "prompts", "draft.txt"), []byte("{BATCH_NAME} number {BATCH_ID}"), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	configPath := filepath.Join(base, "config.toml")
	if err := os.WriteFile(configPath, []byte(strings.Replace(testConfig, "%q", `"`+base+`"`, 1)), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	model := &cannedModel{}
	previous := newModel
	newModel = func(config.LLM, *slog.Logger) (llm.Adapter, error) { return model, nil }
	t.Cleanup(func() { newModel = previous })

	return &cliEnv{base: base, configPath: configPath, model: model}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func TestRunCommandExecutesBatch(t *testing.T) {
	env := setupCLIEnv(t)

	out, _, err := runCLI(t, []string{"run"}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "Completed 2 of 2 runs (default strategy)")
	requireContains(t, out, "tale_2")

	matches, err := filepath.Glob(filepath.Join(env.base, "output", "*", "tale_2", "story_draft_response.txt"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected exported draft, got %v (%v)", matches, err)
	}
	draft, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read draft: %v", err)
	}
	if string(draft) != "A story about tale number 2" {
		t.Fatalf("draft = %q", draft)
	}

	out, _, err = runCLI(t, []string{"runs"}, env.configPath)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if strings.Count(out, "completed") != 2 {
		t.Fatalf("expected two completed runs:\n%s", out)
	}
}

func TestRunCommandRejectsUnknownStrategy(t *testing.T) {
	env := setupCLIEnv(t)
	if _, _, err := runCLI(t, []string{"run", "--strategy", "shuffle"}, env.configPath); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestStagesAndPluginsCommands(t *testing.T) {
	env := setupCLIEnv(t)

	out, _, err := runCLI(t, []string{"stages"}, env.configPath)
	if err != nil {
		t.Fatalf("stages: %v", err)
	}
	requireContains(t, out, "draft")
	requireContains(t, out, "0.80")
	requireContains(t, out, "1 stages, 1 phases")

	out, _, err = runCLI(t, []string{"plugins"}, env.configPath)
	if err != nil {
		t.Fatalf("plugins: %v", err)
	}
	for _, name := range []string{"json", "text", "subtext", "list"} {
		requireContains(t, out, name)
	}
}

func TestCheckOffline(t *testing.T) {
	env := setupCLIEnv(t)
	out, _, err := runCLI(t, []string{"check", "--offline"}, env.configPath)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	requireContains(t, out, "Phase resources:")
	requireContains(t, out, "[OK] 1 phases ready")
}

func TestCheckReportsMissingPrompt(t *testing.T) {
	env := setupCLIEnv(t)
	if err := os.Remove(filepath.Join(env.base, "prompts", "draft.txt")); err != nil {
		t.Fatalf("remove prompt: %v", err)
	}
	out, _, err := runCLI(t, []string{"check", "--offline"}, env.configPath)
	if err == nil {
		t.Fatal("expected failing check")
	}
	requireContains(t, out, "[ERROR] missing story/draft: prompt draft.txt")
}

func TestCleanupRequiresBounds(t *testing.T) {
	env := setupCLIEnv(t)
	if _, _, err := runCLI(t, []string{"cleanup"}, env.configPath); err == nil {
		t.Fatal("expected error without retention bounds")
	}
	out, _, err := runCLI(t, []string{"cleanup", "--max-folders", "5"}, env.configPath)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	requireContains(t, out, "Removed 0, skipped 0, failed 0")
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLIEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Stages: 1 enabled")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected refusal to overwrite an existing config")
	}
}
