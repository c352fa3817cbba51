package processor_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/tachyon-beep/storyteller/internal/content"
	"github.com/tachyon-beep/storyteller/internal/plugins"
	"github.com/tachyon-beep/storyteller/internal/processor"
	"github.com/tachyon-beep/storyteller/internal/services"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type flags struct{ repair, retry bool }

type fakePlugins struct {
	plugins map[string]plugins.Plugin
	flags   map[string]flags
}

func (f *fakePlugins) Get(name string) (plugins.Plugin, error) {
	p, ok := f.plugins[name]
	if !ok {
		return nil, services.Wrap(services.ErrPlugin, "", "get plugin", name, nil)
	}
	return p, nil
}

func (f *fakePlugins) RepairEnabled(name string) bool { return f.flags[name].repair }
func (f *fakePlugins) RetryEnabled(name string) bool  { return f.flags[name].retry }

type fakePhases struct {
	schemas map[string]string
	temps   map[string]float64
}

func (f *fakePhases) PhaseSchema(stageName, phaseName string) (string, bool, error) {
	schema, ok := f.schemas[stageName+"/"+phaseName]
	return schema, ok, nil
}

func (f *fakePhases) TemperatureFor(stageName, phaseName string) (float64, error) {
	temp, ok := f.temps[stageName+"/"+phaseName]
	if !ok {
		return 0.7, nil
	}
	return temp, nil
}

type call struct {
	prompt      string
	temperature float64
}

type scriptedGenerator struct {
	mu        sync.Mutex
	responses []string
	calls     []call
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string, temperature float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{prompt: prompt, temperature: temperature})
	if len(g.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	out := g.responses[0]
	g.responses = g.responses[1:]
	return out, nil
}

func (g *scriptedGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type memoryStore struct {
	mu      sync.Mutex
	packets map[string]*content.Packet
}

func (m *memoryStore) SaveEphemeral(_ context.Context, p *content.Packet) error {
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

func (m *memoryStore) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.packets))
	for name := range m.packets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *memoryStore) get(name string) (*content.Packet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.packets[name]
	return p, ok
}

func mustPlugin(t *testing.T, format string, s plugins.Settings) plugins.Plugin {
	t.Helper()
	if s.Name == "" {
		s.Name = format
	}
	p, err := plugins.Factories[format](s)
	if err != nil {
		t.Fatalf("build %s plugin: %v", format, err)
	}
	return p
}

type fixture struct {
	plugins *fakePlugins
	phases  *fakePhases
	gen     *scriptedGenerator
	store   *memoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		plugins: &fakePlugins{
			plugins: map[string]plugins.Plugin{
				"text": mustPlugin(t, "text", plugins.Settings{}),
				"json": mustPlugin(t, "json", plugins.Settings{}),
			},
			flags: map[string]flags{},
		},
		phases: &fakePhases{
			schemas: map[string]string{"story/draft": `{"minLength":10}`},
			temps:   map[string]float64{"story/draft": 0.9},
		},
		gen:   &scriptedGenerator{},
		store: &memoryStore{},
	}
}

func (f *fixture) build(t *testing.T, strategy processor.Strategy, maxRetries int) *processor.Processor {
	t.Helper()
	p, err := processor.New(f.plugins, f.phases, f.gen, f.store, processor.Options{
		Strategy:          strategy,
		MaxRetries:        maxRetries,
		RepairTemperature: 0.2,
		RepairTimeout:     time.Minute,
		Now:               func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local) },
	})
	if err != nil {
		t.Fatalf("processor.New: %v", err)
	}
	return p
}

func draftPacket(text string) *content.Packet {
	return content.New(text, content.Identity{
		Stage: "story", Phase: "draft", Plugin: "text", Identifier: content.IdentifierResponse, Extension: "txt",
	}, map[string]string{content.MetaPrompt: "Write the opening scene."})
}

func TestShortTextWithoutRecoveryFails(t *testing.T) {
	f := newFixture(t)
	proc := f.build(t, processor.StrategyDefault, 3)

	checked, valid, err := proc.Check(context.Background(), draftPacket("short"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if valid || checked.Content != "short" {
		t.Fatalf("Check = (%q, %v), want invalid short", checked.Content, valid)
	}

	_, err = proc.Process(context.Background(), draftPacket("short"))
	if !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected processing error, got %v", err)
	}
	if n := f.gen.count(); n != 0 {
		t.Fatalf("expected no model calls, got %d", n)
	}
	invalid, ok := f.store.get("story_draft_invalid_20260102_030405.txt")
	if !ok {
		t.Fatalf("invalid content not audited; saved %v", f.store.names())
	}
	if invalid.Metadata[content.MetaContentType] != content.ContentTypeInvalid {
		t.Fatalf("invalid audit metadata = %v", invalid.Metadata)
	}
	if _, ok := f.store.get("story_draft_response.txt"); ok {
		t.Fatal("rejected content must not be saved as the response")
	}
}

func TestValidContentIsSavedWithoutModelCalls(t *testing.T) {
	f := newFixture(t)
	proc := f.build(t, processor.StrategyDefault, 3)

	result, err := proc.Process(context.Background(), draftPacket("  a long enough opening  "))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Packet.Content != "a long enough opening" || result.Repaired || result.Retries != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	saved, ok := f.store.get("story_draft_response.txt")
	if !ok || saved.Content != "a long enough opening" {
		t.Fatalf("accepted content not saved: %v", f.store.names())
	}
	if f.gen.count() != 0 {
		t.Fatalf("unexpected model calls: %d", f.gen.count())
	}
}

func TestPhaseWithoutSchemaSkipsValidation(t *testing.T) {
	f := newFixture(t)
	delete(f.phases.schemas, "story/draft")
	proc := f.build(t, processor.StrategyDefault, 3)

	result, err := proc.Process(context.Background(), draftPacket("x"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Packet.Content != "x" {
		t.Fatalf("content = %q", result.Packet.Content)
	}
}

func TestPhaseSchemaOverridesPluginDefault(t *testing.T) {
	f := newFixture(t)
	f.plugins.plugins["text"] = mustPlugin(t, "text", plugins.Settings{DefaultSchema: `{"maxLength":3}`})
	f.phases.schemas["story/draft"] = `{"minLength":1}`
	proc := f.build(t, processor.StrategyDefault, 0)

	if _, valid, err := proc.Check(context.Background(), draftPacket("hello there")); err != nil || !valid {
		t.Fatalf("phase schema should win: valid=%v err=%v", valid, err)
	}

	delete(f.phases.schemas, "story/draft")
	if _, valid, err := proc.Check(context.Background(), draftPacket("hello there")); err != nil || valid {
		t.Fatalf("plugin default should apply: valid=%v err=%v", valid, err)
	}
}

func TestRepairSucceedsWithOneCall(t *testing.T) {
	f := newFixture(t)
	f.plugins.flags["text"] = flags{repair: true, retry: true}
	f.gen.responses = []string{"a repaired and longer draft"}
	proc := f.build(t, processor.StrategyDefault, 3)

	result, err := proc.Process(context.Background(), draftPacket("short"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !result.Repaired || result.Retries != 0 || result.Packet.Content != "a repaired and longer draft" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(f.gen.calls) != 1 || f.gen.calls[0].temperature != 0.2 {
		t.Fatalf("unexpected calls %+v", f.gen.calls)
	}
	for _, name := range []string{"story_draft_repair_prompt.txt", "story_draft_repaired_content.txt", "story_draft_response.txt"} {
		if _, ok := f.store.get(name); !ok {
			t.Fatalf("missing %s in %v", name, f.store.names())
		}
	}
}

func TestRepairRunsOnceBeforeRetry(t *testing.T) {
	f := newFixture(t)
	f.plugins.flags["text"] = flags{repair: true, retry: true}
	f.gen.responses = []string{"tiny", "nope", "finally a valid draft"}
	proc := f.build(t, processor.StrategyDefault, 3)

	result, err := proc.Process(context.Background(), draftPacket("short"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Repaired || result.Retries != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(f.gen.calls) != 3 {
		t.Fatalf("expected 3 model calls, got %d", len(f.gen.calls))
	}
	first := f.gen.calls[0]
	if first.temperature != 0.2 || !strings.Contains(first.prompt, "short") || first.prompt == "Write the opening scene." {
		t.Fatalf("first call should be the repair, got %+v", first)
	}
	for i, c := range f.gen.calls[1:] {
		if c.prompt != "Write the opening scene." || c.temperature != 0.9 {
			t.Fatalf("retry %d = %+v, want original prompt at phase temperature", i+1, c)
		}
	}
}

func TestRetryStopsAtMaxRetries(t *testing.T) {
	f := newFixture(t)
	f.plugins.flags["text"] = flags{retry: true}
	f.gen.responses = []string{"one", "two", "three", "a valid but too late draft"}
	proc := f.build(t, processor.StrategyDefault, 3)

	result, err := proc.Process(context.Background(), draftPacket("short"))
	if !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected processing error, got %v", err)
	}
	if !strings.Contains(err.Error(), "after 3 retries") {
		t.Fatalf("error should report the retry bound: %v", err)
	}
	if f.gen.count() != 3 || result.Retries != 3 {
		t.Fatalf("expected exactly 3 regenerations, got calls=%d retries=%d", f.gen.count(), result.Retries)
	}
}

func TestRetryCountsGeneratorFailures(t *testing.T) {
	f := newFixture(t)
	f.plugins.flags["text"] = flags{retry: true}
	proc := f.build(t, processor.StrategyDefault, 2)

	_, err := proc.Process(context.Background(), draftPacket("short"))
	if !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected processing error, got %v", err)
	}
	if !strings.Contains(err.Error(), "no scripted response") {
		t.Fatalf("expected last generator error in chain: %v", err)
	}
	if f.gen.count() != 2 {
		t.Fatalf("expected 2 attempts, got %d", f.gen.count())
	}
}

func TestRepairOnlyNeverRegenerates(t *testing.T) {
	f := newFixture(t)
	f.plugins.flags["text"] = flags{repair: true, retry: true}
	f.gen.responses = []string{"tiny", "a valid regenerated draft"}
	proc := f.build(t, processor.StrategyRepairOnly, 3)

	_, err := proc.Process(context.Background(), draftPacket("short"))
	if !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected processing error, got %v", err)
	}
	if f.gen.count() != 1 {
		t.Fatalf("repair_only made %d model calls, want 1", f.gen.count())
	}
}

func TestMalformedContentIsFatal(t *testing.T) {
	f := newFixture(t)
	f.plugins.flags["json"] = flags{repair: true, retry: true}
	f.phases.schemas["outline/plan"] = `{"type":"object"}`
	proc := f.build(t, processor.StrategyDefault, 3)

	packet := content.New(`{"title": `, content.Identity{
		Stage: "outline", Phase: "plan", Plugin: "json", Identifier: content.IdentifierResponse, Extension: "json",
	}, map[string]string{content.MetaPrompt: "plan it"})
	_, err := proc.Process(context.Background(), packet)
	if !errors.Is(err, services.ErrFormat) || !services.IsFatal(err) {
		t.Fatalf("expected fatal format error, got %v", err)
	}
	if f.gen.count() != 0 {
		t.Fatalf("format errors must not repair or retry; calls=%d", f.gen.count())
	}
}

func TestUnknownPluginIsPluginError(t *testing.T) {
	f := newFixture(t)
	proc := f.build(t, processor.StrategyDefault, 3)

	packet := content.New("x", content.Identity{
		Stage: "story", Phase: "draft", Plugin: "yaml", Identifier: content.IdentifierResponse, Extension: "yaml",
	}, nil)
	if _, err := proc.Process(context.Background(), packet); !errors.Is(err, services.ErrPlugin) {
		t.Fatalf("expected plugin error, got %v", err)
	}
}

func TestProcessBatch(t *testing.T) {
	f := newFixture(t)
	proc := f.build(t, processor.StrategyDefault, 0)

	var packets []*content.Packet
	for i := range 5 {
		packets = append(packets, content.New(fmt.Sprintf("draft number %d is long", i), content.Identity{
			Stage: "story", Phase: "draft", Plugin: "text", Identifier: fmt.Sprintf("response%d", i), Extension: "txt",
		}, nil))
	}
	results, err := proc.ProcessBatch(context.Background(), packets)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	for i, result := range results {
		if want := fmt.Sprintf("draft number %d is long", i); result.Packet.Content != want {
			t.Fatalf("result %d = %q, want %q", i, result.Packet.Content, want)
		}
	}

	packets = append(packets, draftPacket("short"))
	if _, err := proc.ProcessBatch(context.Background(), packets); !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("one failing packet should fail the batch, got %v", err)
	}
}

func TestParseStrategy(t *testing.T) {
	cases := map[string]processor.Strategy{
		"":            processor.StrategyDefault,
		"default":     processor.StrategyDefault,
		"Repair_Only": processor.StrategyRepairOnly,
	}
	for input, want := range cases {
		got, err := processor.ParseStrategy(input)
		if err != nil || got != want {
			t.Fatalf("ParseStrategy(%q) = %v, %v", input, got, err)
		}
	}
	if _, err := processor.ParseStrategy("retry_only"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
	if processor.StrategyRepairOnly.String() != "repair_only" {
		t.Fatalf("String() = %q", processor.StrategyRepairOnly.String())
	}
}
