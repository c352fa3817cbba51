// Package workflow drives complete pipeline runs.
//
// The Coordinator walks the enabled stages in order and hands each one to a
// stage runner, moving the progress cursor to the next stage only when one
// exists. A stage failure stops the pipeline and is returned to the caller
// together with a RunResult describing how far the run got.
//
// The BatchRunner repeats the pipeline batch.size times. Runs are strictly
// sequential because they share the ephemeral scratch tier, which is cleared
// before each run. Every run gets its own batch run folder, fresh progress,
// an export of its story data to the output tier and a ledger entry.
package workflow
