// Package registry keeps the media table in step with the media directory.
//
// A Scanner walks MEDIA_DIR, classifies files by extension, assigns each a
// stable id derived from its relative path and a content hash derived from
// path, size and modification time, and upserts them in one transaction.
// Rows not seen during a scan are deleted. Because the content hash is part
// of every transcode cache key, an edited source file automatically misses
// the cache on its next request.
package registry
