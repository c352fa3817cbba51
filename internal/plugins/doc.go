// Package plugins implements the format plugins that turn raw model output
// into stored content.
//
// A Plugin extracts the payload from a response, normalizes it with
// Process, validates it against an optional schema and offers two kinds of
// repair: Repair is a local fix with no I/O, AttemptRepair asks the model to
// correct the content using a repair prompt template. Formats without a local
// or model repair return ErrRepairUnsupported so callers can tell an absent
// capability from a failed repair.
//
// Process must be idempotent. The content processor re-processes model output
// on every retry and audit copies are re-read through the same path.
//
// Formats are selected through the static Factories map; the Registry builds
// one instance per enabled config entry after validating every entry first.
package plugins
