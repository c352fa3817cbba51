// Package services defines shared utilities consumed by the pipeline executors
// and the model adapters.
//
// Key responsibilities:
//   - Context helpers that stamp stage, phase, batch run, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that tag failures with
//     their stage and operation so callers can tell fatal format and plugin
//     errors apart from recoverable processing errors.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability) stays uniform across stages.
package services
