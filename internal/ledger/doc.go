// Package ledger records batch runs and phase outcomes in SQLite.
//
// Every batch run gets one row in batch_runs, opened when the run starts and
// closed with its final status. Each phase execution appends a row to
// phase_outcomes with its status, repair flag, retry count and error. The
// database lives at <log_dir>/ledger.db and backs the `storyteller runs`
// command.
//
// Schema changes bump schemaVersion in schema.go; an older database is
// rejected and must be deleted.
package ledger
