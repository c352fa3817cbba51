// Package config loads, normalizes, and validates storyteller configuration data.
//
// It supplies repository defaults, resolves every directory against
// paths.root (expanding tilde shortcuts), reads TOML or YAML files, and
// honours environment fallbacks such as OPENROUTER_API_KEY and
// GEMINI_API_KEY. The Config type carries the stage/phase definitions, plugin
// entries, and library placeholders the pipeline is built from, plus the
// file helpers (LoadSchema, LoadPrompt, LoadGuidance) that read resources
// relative to the configured directories.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
