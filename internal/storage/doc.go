// Package storage persists content packets in three tiers.
//
// Batch storage keeps accepted phase outputs under
// <batch_root>/<YYYYmmdd_HHMMSS>/<batch_name>_<id>/. The datetime folder is
// created once per invocation and shared by every batch run it starts.
// Ephemeral storage is a flat scratch area for prompts, repair audits and
// invalid content; it is cleared before each batch run. Output storage
// receives the exported story of each run under the same datetime/run layout.
//
// Files are named <stage>_<phase>_<identifier>.<ext>. Writes go to a temp
// file and are renamed into place. A mutex per tier serializes each
// read/modify/write sequence, and the batch bookkeeping has its own lock.
// Transient failures are retried with base × 2^attempt backoff; missing
// content, permission and validation failures are returned immediately as
// *Error values whose kind matches with errors.Is.
//
// Manager.Lock takes a flock on the batch root so two processes never write
// the same batch storage at once.
package storage
