// Package main hosts the storyteller CLI entrypoint and command graph.
//
// The Cobra command tree loads the configuration once, wires the pipeline
// (stage registry, plugins, prompt manager, content processor, storage,
// run ledger and model adapter) in buildEngine and exposes it through
// `run`, `stages`, `plugins`, `runs`, `cleanup`, `check` and `config`.
//
// Keep this package lean: behaviour belongs in internal packages and is
// surfaced here through commands and flags.
package main
