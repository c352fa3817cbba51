package plugins_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tachyon-beep/storyteller/internal/plugins"
	"github.com/tachyon-beep/storyteller/internal/services"
)

const titleSchema = `{"type":"object","required":["title"],"properties":{"title":{"type":"string"}}}`

func mustPlugin(t *testing.T, format string, settings plugins.Settings) plugins.Plugin {
	t.Helper()
	factory, ok := plugins.Factories[format]
	if !ok {
		t.Fatalf("no factory for %q", format)
	}
	p, err := factory(settings)
	if err != nil {
		t.Fatalf("build %s plugin: %v", format, err)
	}
	return p
}

func TestJSONProcessPrettyPrintsAndValidates(t *testing.T) {
	p := mustPlugin(t, "json", plugins.Settings{})
	got, err := p.Process(`{"title":"x"}`)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := "{\n  \"title\": \"x\"\n}"
	if got != want {
		t.Fatalf("Process = %q, want %q", got, want)
	}
	if err := p.ValidateContent(got, titleSchema); err != nil {
		t.Fatalf("ValidateContent: %v", err)
	}
}

func TestJSONExtractContent(t *testing.T) {
	p := mustPlugin(t, "json", plugins.Settings{})
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "tagged", raw: "Here you go\n%%% JSON START %%%\n{\"a\":1}\n%%% JSON END %%%\nthanks", want: `{"a":1}`},
		{name: "fenced", raw: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare", raw: "  {\"a\":1}  ", want: `{"a":1}`},
		{name: "tags reversed", raw: "%%% JSON END %%% {\"a\":1} %%% JSON START %%%", want: "%%% JSON END %%% {\"a\":1} %%% JSON START %%%"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.ExtractContent(tc.raw); got != tc.want {
				t.Fatalf("ExtractContent = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestJSONProcessRejectsMalformedContent(t *testing.T) {
	p := mustPlugin(t, "json", plugins.Settings{})
	_, err := p.Process(`{"title": `)
	if err == nil {
		t.Fatal("expected format error")
	}
	if !errors.Is(err, services.ErrFormat) || !services.IsFatal(err) {
		t.Fatalf("expected fatal format error, got %v", err)
	}
}

func TestJSONValidateReportsSchemaViolations(t *testing.T) {
	p := mustPlugin(t, "json", plugins.Settings{})
	err := p.ValidateContent(`{"name":"x"}`, titleSchema)
	if !plugins.IsInvalid(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation marker, got %v", err)
	}

	err = p.ValidateContent(`{"title":"x"}`, `{"type": `)
	if err == nil || plugins.IsInvalid(err) {
		t.Fatalf("expected schema error distinct from invalid content, got %v", err)
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration marker, got %v", err)
	}
}

func TestJSONRepairFallsBackToEmptyObject(t *testing.T) {
	p := mustPlugin(t, "json", plugins.Settings{})
	got, err := p.Repair(`{"a":[1,2]}`)
	if err != nil || got != "{\n  \"a\": [\n    1,\n    2\n  ]\n}" {
		t.Fatalf("Repair valid = %q, %v", got, err)
	}
	got, err = p.Repair("not json")
	if err != nil || got != "{}" {
		t.Fatalf("Repair invalid = %q, %v", got, err)
	}
}

func TestJSONRejectsBadDefaultSchema(t *testing.T) {
	if _, err := plugins.Factories["json"](plugins.Settings{DefaultSchema: "{oops"}); err == nil {
		t.Fatal("expected bad default schema to fail construction")
	}
}

func TestTextValidateLengthBounds(t *testing.T) {
	p := mustPlugin(t, "text", plugins.Settings{})
	err := p.ValidateContent("short", `{"minLength":10}`)
	if err == nil || !strings.Contains(err.Error(), "Text is too short. Minimum length: 10, Actual length: 5") {
		t.Fatalf("unexpected error %v", err)
	}
	err = p.ValidateContent("far too long", `{"maxLength":3}`)
	if err == nil || !strings.Contains(err.Error(), "Text is too long. Maximum length: 3, Actual length: 12") {
		t.Fatalf("unexpected error %v", err)
	}
	// Length counts characters, not bytes.
	if err := p.ValidateContent("héllo", `{"maxLength":5}`); err != nil {
		t.Fatalf("expected multibyte text within bounds, got %v", err)
	}
}

func TestListProcessAndValidate(t *testing.T) {
	p := mustPlugin(t, "list", plugins.Settings{})
	raw := "Intro\n%%% LIST START %%%\nfirst\n\n  second\n\n%%% LIST END %%%"
	got, err := p.Process(raw)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got != "first\n  second" {
		t.Fatalf("Process = %q", got)
	}
	if err := p.ValidateContent(got, `{"minItems":3}`); !plugins.IsInvalid(err) {
		t.Fatalf("expected too few items, got %v", err)
	}
	if err := p.ValidateContent("", `{}`); !plugins.IsInvalid(err) {
		t.Fatalf("expected empty list to be invalid, got %v", err)
	}
	items, err := p.Deserialize(got)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if diff := cmp.Diff([]string{"first", "  second"}, items); diff != "" {
		t.Fatalf("Deserialize mismatch (-want +got):\n%s", diff)
	}
	if _, err := p.Repair(got); !errors.Is(err, plugins.ErrRepairUnsupported) {
		t.Fatalf("expected ErrRepairUnsupported, got %v", err)
	}
}

func TestSubtextExtractsTaggedContent(t *testing.T) {
	p := mustPlugin(t, "subtext", plugins.Settings{})
	got, err := p.Process("noise %%% SUBTEXT START %%% hidden motive %%% SUBTEXT END %%% noise")
	if err != nil || got != "hidden motive" {
		t.Fatalf("Process = %q, %v", got, err)
	}
	if got := p.ExtractContent("no tags here"); got != "no tags here" {
		t.Fatalf("ExtractContent = %q", got)
	}
}

func TestCustomTagChangesDelimiters(t *testing.T) {
	p := mustPlugin(t, "list", plugins.Settings{Tag: "names"})
	got, err := p.Process("%%% NAMES START %%%\nAda\nGrace\n%%% NAMES END %%%")
	if err != nil || got != "Ada\nGrace" {
		t.Fatalf("Process = %q, %v", got, err)
	}
}

func TestTextHonoursConfiguredTag(t *testing.T) {
	p := mustPlugin(t, "text", plugins.Settings{Tag: "story"})
	raw := "Here you go:\n%%% STORY START %%%\n  Once upon a time.  \n%%% STORY END %%%\nHope it helps."
	if got := p.ExtractContent(raw); got != "Once upon a time." {
		t.Fatalf("ExtractContent = %q", got)
	}
	if got := p.ExtractContent("  untagged reply "); got != "untagged reply" {
		t.Fatalf("ExtractContent without tags = %q", got)
	}

	untagged := mustPlugin(t, "text", plugins.Settings{})
	if got := untagged.ExtractContent(raw); got != strings.TrimSpace(raw) {
		t.Fatalf("text without a tag should keep the whole reply, got %q", got)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	inputs := map[string][]string{
		"json":    {`{"title":"x","tags":["a","b"],"n":{}}`, "%%% JSON START %%%\n[1, 2,3]\n%%% JSON END %%%", `"plain string"`, `{"unicode":"é✓"}`},
		"text":    {"  hello world  ", "line one\n\nline two", ""},
		"subtext": {"%%% SUBTEXT START %%% a %%% SUBTEXT END %%%", "untagged"},
		"list":    {"a\n\nb\n", "%%% LIST START %%%\nx\n\n y\n%%% LIST END %%%", "\n\n"},
	}
	for format, samples := range inputs {
		p := mustPlugin(t, format, plugins.Settings{})
		for _, sample := range samples {
			once, err := p.Process(p.ExtractContent(sample))
			if err != nil {
				t.Fatalf("%s: Process(%q): %v", format, sample, err)
			}
			twice, err := p.Process(p.ExtractContent(once))
			if err != nil {
				t.Fatalf("%s: reprocess(%q): %v", format, once, err)
			}
			if once != twice {
				t.Fatalf("%s: process not idempotent for %q: %q then %q", format, sample, once, twice)
			}
		}
	}
}

func TestNoSchemaAlwaysValid(t *testing.T) {
	for format := range plugins.Factories {
		p := mustPlugin(t, format, plugins.Settings{})
		for _, sample := range []string{"", "garbage {", "x"} {
			if err := p.ValidateContent(sample, ""); err != nil {
				t.Fatalf("%s: ValidateContent(%q, no schema) = %v", format, sample, err)
			}
			if !plugins.Valid(p, sample, "") {
				t.Fatalf("%s: Valid(%q) = false", format, sample)
			}
		}
	}
}

func TestBuildRepairPromptIsSinglePass(t *testing.T) {
	got := plugins.BuildRepairPrompt("fix {CONTENT} against {SCHEMA}: {VALIDATION_ERRORS}", "literal {SCHEMA}", "", "too short")
	want := "fix literal {SCHEMA} against No schema available: too short"
	if got != want {
		t.Fatalf("BuildRepairPrompt = %q, want %q", got, want)
	}
}

func TestSerializeRoundTripsEveryFormat(t *testing.T) {
	tests := map[string]struct {
		raw  string
		want any
	}{
		"json":    {raw: `{"title":"x","tags":["a"]}`, want: map[string]any{"title": "x", "tags": []any{"a"}}},
		"text":    {raw: "line one\r\nline two", want: "line one\r\nline two"},
		"subtext": {raw: "%%% SUBTEXT START %%%a motive\r\n%%% SUBTEXT END %%%", want: "a motive"},
		"list":    {raw: "first\n\nsecond", want: []string{"first", "second"}},
	}
	if len(tests) != len(plugins.Factories) {
		t.Fatalf("round trip cases cover %d of %d formats", len(tests), len(plugins.Factories))
	}
	for format, tt := range tests {
		t.Run(format, func(t *testing.T) {
			p := mustPlugin(t, format, plugins.Settings{})
			processed, err := p.Process(p.ExtractContent(tt.raw))
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			stored, err := p.Serialize(processed)
			if err != nil {
				t.Fatalf("Serialize: %v", err)
			}
			if again, err := p.Serialize(stored); err != nil || again != stored {
				t.Fatalf("Serialize not stable: %q, %v", again, err)
			}
			got, err := p.Deserialize(stored)
			if err != nil {
				t.Fatalf("Deserialize: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
