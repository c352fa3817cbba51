// Package llm provides the model adapters the story pipeline generates with.
//
// # Adapters
//
// Every adapter satisfies Adapter: Initialize prepares the backend,
// SetSchema sets or clears the structured-output schema for the calls that
// follow, and Generate sends one prompt at one temperature and returns the
// raw model text. New selects the adapter from the llm.type config value:
//
//   - openrouter, openai: Client, an OpenAI-compatible chat completions client
//   - gemini: Gemini, backed by the Google GenAI SDK
//
// A schema only reaches the provider when pass_schema is enabled. Callers
// clear it by passing an empty string before phases without a schema.
//
// # Retry Behaviour
//
// Client retries on HTTP 408/429/5xx errors, network timeouts and empty
// completions with exponential backoff (base 1s, max 10s, up to five
// attempts by default). Retry-After headers are honoured. Context
// cancellation aborts retries immediately. Gemini relies on the SDK's own
// transport and makes a single attempt.
//
// Content-level retries (invalid output, repairs) belong to the processor,
// not to this package.
package llm
