// Package journal keeps a durable record of enrollment runs in SQLite.
//
// The Recorder subscribes to the engine's progress stream and run status
// changes and writes them through a Repository. The API reads the same
// tables back to show past runs.
//
// The schema lives in the top-level migrations package.
package journal
