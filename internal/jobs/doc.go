// Package jobs coordinates on-demand transcodes.
//
// A Coordinator owns a table of in-flight jobs keyed by cache.Key. The first
// request for a key that has no Ready cache entry becomes the job owner and
// starts exactly one Runner invocation; concurrent requests for the same key
// attach to the running job as subscribers and receive its progress events.
// On completion the job writes the cache index record, removes itself from
// the table, delivers a terminal event to every subscriber and closes their
// channels.
//
// Subscribers that fall behind lose the oldest progress events rather than
// stalling the job. Terminal events are always delivered.
package jobs
