package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func writeCompletion(t *testing.T, w http.ResponseWriter, choice map[string]any) {
	t.Helper()
	payload := map[string]any{"choices": []any{choice}}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestClientHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(body.Messages) != 1 || body.Messages[0].Content != healthPrompt || body.ResponseFormat != nil {
			t.Errorf("unexpected health request %+v", body)
		}
		writeCompletion(t, w, map[string]any{"message": map[string]any{"content": "OK"}})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model", PassSchema: true})
	if err := client.SetSchema(`{"type":"object"}`); err != nil {
		t.Fatalf("SetSchema: %v", err)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckDoesNotRetry(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(time.Duration) {}),
	)
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail")
	}
	if calls != 1 {
		t.Fatalf("expected a single request, got %d", calls)
	}
}

func TestClientHealthCheckFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL, Model: "demo"})
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail")
	}
}

func TestClientGenerateSendsPromptAndTemperature(t *testing.T) {
	var got chatRequest
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writeCompletion(t, w, map[string]any{"message": map[string]any{"content": "Once upon a time"}})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "secret", BaseURL: server.URL, Model: "demo-model", Referer: "https://example.test", Title: "Storyteller"})
	text, err := client.Generate(context.Background(), "Tell a story", 0.4)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if text != "Once upon a time" {
		t.Fatalf("unexpected text %q", text)
	}
	if got.Model != "demo-model" || got.Temperature != 0.4 {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "Tell a story" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
	if got.ResponseFormat != nil {
		t.Fatalf("expected no response format without schema, got %v", got.ResponseFormat)
	}
	if headers.Get("Authorization") != "Bearer secret" || headers.Get("X-Title") != "Storyteller" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestClientSetSchemaControlsResponseFormat(t *testing.T) {
	var bodies []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		bodies = append(bodies, body)
		writeCompletion(t, w, map[string]any{"message": map[string]any{"content": `{"title":"x"}`}})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, Model: "m", PassSchema: true})
	if err := client.SetSchema(`{"type":"object"}`); err != nil {
		t.Fatalf("SetSchema: %v", err)
	}
	if _, err := client.Generate(context.Background(), "p", 0.1); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := client.SetSchema(""); err != nil {
		t.Fatalf("clear schema: %v", err)
	}
	if _, err := client.Generate(context.Background(), "p", 0.1); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	format, ok := bodies[0]["response_format"].(map[string]any)
	if !ok || format["type"] != "json_schema" {
		t.Fatalf("expected json_schema response format, got %v", bodies[0]["response_format"])
	}
	inner := format["json_schema"].(map[string]any)
	if schema := inner["schema"].(map[string]any); schema["type"] != "object" {
		t.Fatalf("unexpected schema payload %v", inner)
	}
	if _, present := bodies[1]["response_format"]; present {
		t.Fatalf("expected schema cleared, got %v", bodies[1]["response_format"])
	}

	if err := client.SetSchema("{not json"); err == nil {
		t.Fatal("expected invalid schema to be rejected")
	}
}

func TestClientSetSchemaIgnoredWithoutPassSchema(t *testing.T) {
	client := NewClient(Config{APIKey: "k", Model: "m"})
	if err := client.SetSchema(`{"type":"object"}`); err != nil {
		t.Fatalf("SetSchema: %v", err)
	}
	if schema := client.currentSchema(); schema != nil {
		t.Fatalf("expected schema to be ignored, got %s", schema)
	}
}

func TestClientInitializeRequiresKey(t *testing.T) {
	if err := NewClient(Config{Model: "m"}).Initialize(context.Background()); err == nil {
		t.Fatal("expected missing key error")
	}
	if err := NewClient(Config{APIKey: "k", Model: "m"}).Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

func TestClientGenerateToolCallsArguments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(t, w, map[string]any{
			"finish_reason": "tool_calls",
			"message": map[string]any{
				"content": "",
				"tool_calls": []any{
					map[string]any{
						"type": "function",
						"id":   "call_1",
						"function": map[string]any{
							"name":      "emit",
							"arguments": `{"title":"The Lighthouse"}`,
						},
					},
				},
			},
		})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	text, err := client.Generate(context.Background(), "title please", 0)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if !strings.Contains(text, "The Lighthouse") {
		t.Fatalf("expected tool call arguments, got %q", text)
	}
}

func TestClientGenerateEmptyContentHasSnippet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(t, w, map[string]any{"finish_reason": "stop", "message": map[string]any{"content": ""}})
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
	)
	_, err := client.Generate(context.Background(), "prompt", 0.5)
	if err == nil {
		t.Fatal("expected generate to fail")
	}
	if !strings.Contains(err.Error(), "empty content") || !strings.Contains(err.Error(), "response_snippet=") {
		t.Fatalf("expected empty-content error to include snippet, got %v", err)
	}
}

func TestClientGenerateDeltaAndLegacyText(t *testing.T) {
	choices := []map[string]any{
		{"delta": map[string]any{"content": "from delta"}},
		{"finish_reason": "stop", "text": "from text"},
	}
	for _, choice := range choices {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeCompletion(t, w, choice)
		}))
		client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
		text, err := client.Generate(context.Background(), "prompt", 0.5)
		server.Close()
		if err != nil {
			t.Fatalf("Generate returned error: %v", err)
		}
		if !strings.HasPrefix(text, "from ") {
			t.Fatalf("unexpected text %q", text)
		}
	}
}

func TestClientRetriesOnHTTP429(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
			return
		}
		writeCompletion(t, w, map[string]any{"message": map[string]any{"content": "done"}})
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(0, 10*time.Second),
		WithRetryMaxAttempts(5),
	)
	text, err := client.Generate(context.Background(), "prompt", 0.5)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if text != "done" {
		t.Fatalf("unexpected text %q", text)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected single sleep of 1s, got %v", slept)
	}
}

func TestClientRetriesOnEmptyContentThenSucceeds(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		content := ""
		if calls >= 3 {
			content = "third time lucky"
		}
		writeCompletion(t, w, map[string]any{"finish_reason": "stop", "message": map[string]any{"content": content}})
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
		WithRetryMaxAttempts(5),
	)
	text, err := client.Generate(context.Background(), "prompt", 0.5)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if text != "third time lucky" || calls != 3 {
		t.Fatalf("unexpected result %q after %d calls", text, calls)
	}
}

func TestStripCodeFence(t *testing.T) {
	if got := StripCodeFence("```json\n{\"a\":1}\n```"); got != `{"a":1}` {
		t.Fatalf("StripCodeFence = %q", got)
	}
	if got := StripCodeFence("  plain  "); got != "plain" {
		t.Fatalf("StripCodeFence = %q", got)
	}
}
