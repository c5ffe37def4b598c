// Package transcoder runs FFmpeg and FFprobe as supervised child processes.
//
// It provides:
//   - Probing of source media through ffprobe's JSON output
//   - Argument construction from the quality and format tables in package cache
//   - A typed parser for FFmpeg's -progress key=value stream
//   - Process-group termination with a bounded grace period on cancellation
//
// Output is written to a ".partial" sibling of the destination and renamed
// into place only after FFmpeg exits cleanly, so a failed or canceled run
// never leaves a file at the destination path.
//
// FFmpeg and FFprobe must be installed; their paths are configurable.
package transcoder
