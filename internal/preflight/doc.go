// Package preflight provides readiness checks for the filesystem paths and
// model endpoint that storyteller depends on.
//
// These checks run in two contexts:
//   - `storyteller run` calls RunAll before the batch starts. Any failed
//     check aborts the run so a batch never dies halfway on a missing prompt.
//   - `storyteller check` prints every Result, including the model ping.
package preflight
