package preflight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tachyon-beep/storyteller/internal/config"
	"github.com/tachyon-beep/storyteller/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckReadableDirectory_Empty(t *testing.T) {
	if result := CheckReadableDirectory("prompts", ""); result.Passed {
		t.Fatal("expected failure for an unconfigured path")
	}
}

func modelServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		payload := map[string]any{"choices": []any{map[string]any{"message": map[string]any{"content": content}}}}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckLLM_OK(t *testing.T) {
	srv := modelServer(t, "OK")
	result := CheckLLM(context.Background(), "model", config.LLM{Type: "openrouter", APIKey: "good-key", BaseURL: srv.URL, Model: "demo"})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckLLM_BadKey(t *testing.T) {
	srv := modelServer(t, "OK")
	result := CheckLLM(context.Background(), "model", config.LLM{Type: "openrouter", APIKey: "bad-key", BaseURL: srv.URL, Model: "demo"})
	if result.Passed {
		t.Fatal("expected failure for bad key")
	}
}

func TestCheckLLM_MissingKey(t *testing.T) {
	result := CheckLLM(context.Background(), "model", config.LLM{Type: "openrouter"})
	if result.Passed || result.Detail != "API key missing" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCheckLLM_UnknownType(t *testing.T) {
	result := CheckLLM(context.Background(), "model", config.LLM{Type: "carrier-pigeon", APIKey: "k"})
	if result.Passed {
		t.Fatal("expected failure for unknown adapter type")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, Options{}); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ReadyConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStages(config.Stage{
		Name:   "concept",
		Phases: []config.Phase{{Name: "premise", PromptFile: "premise.txt", Schema: "premise.json"}},
	}))
	testsupport.WritePrompt(t, cfg, "premise.txt", "Invent a premise.")
	testsupport.WriteSchema(t, cfg, "premise.json", `{"type":"object"}`)

	results := RunAll(context.Background(), cfg, Options{})
	if failed := Failed(results); len(failed) > 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	for _, r := range results {
		if r.Name == "Model endpoint" {
			t.Fatal("model endpoint must only be pinged when requested")
		}
	}
}

func TestRunAll_ReportsMissingResources(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithStages(config.Stage{
			Name:   "concept",
			Phases: []config.Phase{{Name: "premise", PromptFile: "premise.txt", Schema: "premise.json"}},
		}),
		testsupport.WithPlaceholder("genre", config.Placeholder{Tag: "GENRE", Source: "genres.json", Count: 1}),
	)

	failed := Failed(RunAll(context.Background(), cfg, Options{}))
	names := make([]string, 0, len(failed))
	for _, r := range failed {
		names = append(names, r.Name)
	}
	if len(failed) != 2 {
		t.Fatalf("expected phase resources and placeholder data to fail, got %v", names)
	}
	if !strings.Contains(failed[0].Detail, "prompt premise.txt") || !strings.Contains(failed[0].Detail, "schema premise.json") {
		t.Fatalf("unexpected detail %q", failed[0].Detail)
	}
	if !strings.Contains(failed[1].Detail, "genre: genres.json") {
		t.Fatalf("unexpected detail %q", failed[1].Detail)
	}
}

func TestRunAll_PingsModelWhenAsked(t *testing.T) {
	srv := modelServer(t, "OK")
	cfg := testsupport.NewConfig(t, testsupport.WithStages(config.Stage{
		Name:   "concept",
		Phases: []config.Phase{{Name: "premise", PromptFile: "premise.txt"}},
	}))
	testsupport.WritePrompt(t, cfg, "premise.txt", "Invent a premise.")
	cfg.LLM.Type = "openrouter"
	cfg.LLM.APIKey = "good-key"
	cfg.LLM.BaseURL = srv.URL

	results := RunAll(context.Background(), cfg, Options{CheckModel: true})
	last := results[len(results)-1]
	if last.Name != "Model endpoint" || !last.Passed {
		t.Fatalf("unexpected model result %+v", last)
	}
}
