package plugins_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tachyon-beep/storyteller/internal/content"
	"github.com/tachyon-beep/storyteller/internal/plugins"
)

type scriptedGenerator struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
	temps     []float64
	deadline  bool
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	g.temps = append(g.temps, temperature)
	_, g.deadline = ctx.Deadline()
	if len(g.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	out := g.responses[0]
	g.responses = g.responses[1:]
	return out, nil
}

type memoryAudit struct {
	mu      sync.Mutex
	packets map[string]*content.Packet
}

func (m *memoryAudit) SaveEphemeral(_ context.Context, p *content.Packet) error {
	name, err := p.FileName()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.packets == nil {
		m.packets = map[string]*content.Packet{}
	}
	m.packets[name] = p
	return nil
}

func TestTextAttemptRepairAuditsAndValidates(t *testing.T) {
	p := mustPlugin(t, "text", plugins.Settings{RepairPrompt: "Fix: {CONTENT}\nRules: {SCHEMA}\nErrors: {VALIDATION_ERRORS}"})
	gen := &scriptedGenerator{responses: []string{"  a considerably longer answer  "}}
	store := &memoryAudit{}

	got, err := p.AttemptRepair(context.Background(), plugins.RepairRequest{
		Content:     "short",
		Schema:      `{"minLength":10}`,
		Stage:       "story",
		Phase:       "draft",
		Timeout:     time.Minute,
		Temperature: 0.2,
		Generator:   gen,
		Store:       store,
	})
	if err != nil {
		t.Fatalf("AttemptRepair: %v", err)
	}
	if got != "a considerably longer answer" {
		t.Fatalf("repaired content = %q", got)
	}
	if len(gen.prompts) != 1 || gen.temps[0] != 0.2 || !gen.deadline {
		t.Fatalf("unexpected generator calls prompts=%d temps=%v deadline=%v", len(gen.prompts), gen.temps, gen.deadline)
	}
	for _, want := range []string{"Fix: short", `Rules: {"minLength":10}`, "Text is too short. Minimum length: 10, Actual length: 5"} {
		if !strings.Contains(gen.prompts[0], want) {
			t.Fatalf("repair prompt %q missing %q", gen.prompts[0], want)
		}
	}
	prompt, ok := store.packets["story_draft_repair_prompt.txt"]
	if !ok || prompt.Content != gen.prompts[0] {
		t.Fatalf("repair prompt not audited: %v", store.packets)
	}
	if _, ok := store.packets["story_draft_repaired_content.txt"]; !ok {
		t.Fatalf("repaired content not audited: %v", store.packets)
	}
}

func TestJSONAttemptRepairStillInvalid(t *testing.T) {
	p := mustPlugin(t, "json", plugins.Settings{})
	gen := &scriptedGenerator{responses: []string{`{"name":"still no title"}`}}

	_, err := p.AttemptRepair(context.Background(), plugins.RepairRequest{
		Content:   `{"name":"x"}`,
		Schema:    titleSchema,
		Stage:     "concept",
		Phase:     "premise",
		Generator: gen,
	})
	if err == nil {
		t.Fatal("expected repair to fail")
	}
	if !plugins.IsInvalid(err) {
		t.Fatalf("expected wrapped validation error, got %v", err)
	}
	if !strings.Contains(gen.prompts[0], "%%% JSON START %%%") {
		t.Fatalf("expected built-in template, got %q", gen.prompts[0])
	}
}

func TestJSONAttemptRepairSucceeds(t *testing.T) {
	p := mustPlugin(t, "json", plugins.Settings{})
	gen := &scriptedGenerator{responses: []string{"%%% JSON START %%%\n{\"title\":\"Fixed\"}\n%%% JSON END %%%"}}
	store := &memoryAudit{}

	got, err := p.AttemptRepair(context.Background(), plugins.RepairRequest{
		Content:   `{"name":"x"}`,
		Schema:    titleSchema,
		Stage:     "concept",
		Phase:     "premise",
		Generator: gen,
		Store:     store,
	})
	if err != nil {
		t.Fatalf("AttemptRepair: %v", err)
	}
	if got != "{\n  \"title\": \"Fixed\"\n}" {
		t.Fatalf("repaired = %q", got)
	}
	if _, ok := store.packets["concept_premise_repaired_content.json"]; !ok {
		t.Fatalf("expected repaired content audit with json extension, got %v", store.packets)
	}
}

func TestAttemptRepairWithoutModelRepair(t *testing.T) {
	list := mustPlugin(t, "list", plugins.Settings{})
	if _, err := list.AttemptRepair(context.Background(), plugins.RepairRequest{Content: "a"}); !errors.Is(err, plugins.ErrRepairUnsupported) {
		t.Fatalf("expected ErrRepairUnsupported, got %v", err)
	}

	subtext := mustPlugin(t, "subtext", plugins.Settings{})
	got, err := subtext.AttemptRepair(context.Background(), plugins.RepairRequest{Content: "as is"})
	if err != nil || got != "as is" {
		t.Fatalf("subtext AttemptRepair = %q, %v", got, err)
	}
}
