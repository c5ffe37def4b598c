// Command cachectl inspects and maintains the transcode cache of a
// media-vault installation without going through the HTTP API.
//
// Usage:
//
//	cachectl [-o auto|table|json] <command>
//
// Commands:
//
//	stats    Cache occupancy, entry counts by status and registered media.
//	list     Cache entries, most recently used first. --status filters by
//	         pending, ready or failed; --limit bounds the output.
//	cleanup  One eviction pass: expired entries, orphaned pending entries,
//	         then least recently used entries until under CACHE_MAX_SIZE.
//	clear    Remove every rendition that is not being transcoded. Asks for
//	         confirmation on a terminal; requires --yes otherwise.
//	vacuum   Compact the SQLite database.
//
// Output is a table when stdout is a terminal and JSON otherwise, unless -o
// is given.
//
// Environment:
//
// cachectl reads CACHE_DIR, DATABASE_DIR, CACHE_INDEX_BACKEND,
// CACHE_MAX_SIZE, TRANSCODE_TIMEOUT and CONFIG_FILE exactly as the server
// does. The badger index holds a directory lock, so with that backend the
// server must be stopped first.
package main
