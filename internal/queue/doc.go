// Package queue persists pipeline state in SQLite and exposes the
// transactional operations every other component goes through.
//
// The Store owns the anime catalog, the job queue, the title-selection
// cache, and the worker registry. Jobs move queued → downloaded →
// transcribed with transient in-flight stages (downloading, transcribing)
// stamped atomically at claim time; commits are guarded by the expected
// transient stage so a double commit can never corrupt a job. Heartbeats on
// in-flight jobs let ReapOrphans revert work stranded by a crash to its
// predecessor stage.
//
// Treat this package as the single source of truth for queue semantics;
// when you add stages or metadata fields, update schema.sql and bump
// schemaVersion.
package queue
