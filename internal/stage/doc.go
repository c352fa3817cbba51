// Package stage holds the immutable stage/phase catalog (Registry) and the
// mutable run cursor with its completed-output map (Progress).
//
// Registry is built once from configuration and never mutated, so it can be
// shared freely. Progress is single-writer: the executors advance it
// sequentially and nothing else writes to it during a run.
package stage
