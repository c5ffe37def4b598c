// Package cacheindex provides alternative cache.Index backends to the
// default SQLite table: an embedded Badger key/value store and an in-memory
// map. Open selects one from the CACHE_INDEX_BACKEND setting.
package cacheindex
