// Package stageexec runs phases and stages.
//
// PhaseExecutor drives one phase end to end: prepare the prompt, audit it,
// set the schema on the model, generate once, hand the response to the
// content processor, persist the accepted packet to batch and ephemeral
// storage and record it as story data. StageExecutor runs a stage's phases
// in order and advances the progress cursor within the stage.
//
// Execution is strictly sequential. Later prompts read earlier outputs
// through story data, so phases never run concurrently.
package stageexec
