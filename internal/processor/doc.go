// Package processor turns raw model output into accepted content.
//
// A Processor extracts and normalizes a packet through its format plugin,
// validates it against the effective schema (the phase schema when one is
// configured, the plugin default otherwise) and, when validation fails,
// walks a fixed recovery ladder:
//
//   - one model-assisted repair at the repair temperature, when the plugin's
//     repair flag is set;
//   - up to MaxRetries regenerations from the originating prompt at the
//     phase temperature, when the plugin's retry flag is set and the
//     strategy allows it.
//
// Format errors from the first Process call are fatal and skip the ladder.
// Accepted packets are written to ephemeral storage before Process returns.
package processor
