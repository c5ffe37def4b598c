// Package eviction keeps the transcode cache within its TTL and size
// bounds.
//
// Manager.RunCleanup removes expired entries, orphaned Pending entries and
// stray files, then evicts least-recently-accessed Ready entries until the
// cache fits its quota. Entries owned by an in-flight job are never
// touched. Per-file failures are collected in the Result instead of
// aborting the sweep.
//
// Scheduler runs RunCleanup on a cron schedule.
package eviction
