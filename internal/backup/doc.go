// Package backup copies registered source files to an S3-compatible bucket.
//
// Any endpoint that speaks the S3 API works (AWS, R2, MinIO). Objects are
// keyed by the file's path relative to the media directory under an
// optional prefix, and carry the media id and content hash as metadata.
package backup
