// Package handlers provides the HTTP handlers of the media vault API.
//
// It includes handlers for:
//   - Streaming renditions, with on-demand transcoding and NDJSON progress
//   - Media info, poster frames and cloud backup
//   - Cache administration (stats, entries, cleanup, clear)
//   - Health checks and version information
package handlers
