/*
Package filesystem provides filesystem access with retry logic for NFS stale
file handle errors.

Media libraries are frequently mounted over NFS. When the server side
changes underneath a client, os.Stat and os.Open can fail with ESTALE even
though a second attempt would succeed. StatWithRetry and OpenWithRetry retry
only that error, with capped exponential backoff; every other error is
returned immediately.

	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())

Operations are labelled with a volume name ("media", "cache", "database")
resolved by longest-prefix match through a VolumeResolver, and reported to
the Observer installed with SetObserver.
*/
package filesystem
