// Package cache defines the identity and on-disk layout of transcoded
// renditions.
//
// A rendition is identified by a Key made of the source content hash, a
// Quality tier and a container Format. Keys map deterministically to paths
// under a single cache root through Layout, and the lifecycle of each
// rendition (Pending, Ready, Failed) is recorded in an Index.
//
// Quality and Format are closed enumerations. Their encoder parameters are
// returned by exhaustive switches so that a new tier or container is a
// compile-time change rather than a lookup-table edit.
package cache
