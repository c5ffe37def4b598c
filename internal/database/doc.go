// Package database provides SQLite storage for the media vault.
//
// It holds:
//   - The media registry (media table) that maps media ids to source files
//   - The transcode cache index (transcode_cache table), an implementation
//     of cache.Index
//   - A small key/value metadata table for bookkeeping timestamps
//
// The database uses WAL mode for concurrent readers and applies its schema
// and migrations automatically on open.
package database
