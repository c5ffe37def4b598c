package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MaxErrorMessageLen bounds the diagnostic text stored on Failed entries.
const MaxErrorMessageLen = 1024

// Status is the lifecycle state of a cache entry.
type Status int

const (
	StatusPending Status = iota
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus parses the string form of a Status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "pending":
		return StatusPending, nil
	case "ready":
		return StatusReady, nil
	case "failed":
		return StatusFailed, nil
	default:
		return 0, fmt.Errorf("unknown cache status %q", s)
	}
}

// Entry is the persisted record of a rendition.
type Entry struct {
	Key            Key
	Status         Status
	FilePath       string
	SizeBytes      uint64
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time
	ErrorMessage   string
}

// IsExpired reports whether the entry has a TTL that has elapsed.
func (e *Entry) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// IsOrphaned reports whether a Pending entry has outlived any job that
// could still own it. A job stamps LastAccessedAt when it leaves the queue,
// so the timeout is measured from whichever of the two is later.
func (e *Entry) IsOrphaned(now time.Time, jobTimeout time.Duration) bool {
	if e.Status != StatusPending {
		return false
	}
	since := e.CreatedAt
	if e.LastAccessedAt.After(since) {
		since = e.LastAccessedAt
	}
	return now.Sub(since) > jobTimeout
}

// SameRecord reports whether o describes the same write of the entry as e.
// Cleanup uses it to avoid removing a record that was replaced after it
// was listed.
func (e *Entry) SameRecord(o *Entry) bool {
	return o != nil &&
		e.Key == o.Key &&
		e.Status == o.Status &&
		e.CreatedAt.Equal(o.CreatedAt) &&
		e.LastAccessedAt.Equal(o.LastAccessedAt) &&
		e.ExpiresAt.Equal(o.ExpiresAt)
}

// TruncateError shortens msg to MaxErrorMessageLen bytes without splitting
// a UTF-8 sequence.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	cut := MaxErrorMessageLen
	for cut > 0 && !utf8Start(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

// Index is the durable record of cache entries. Implementations are safe
// for concurrent use and apply mutations last-writer-wins.
type Index interface {
	// Get returns nil, nil when no entry exists for key.
	Get(ctx context.Context, key Key) (*Entry, error)
	// Put inserts or replaces the entry for e.Key.
	Put(ctx context.Context, e *Entry) error
	// Remove deletes the entry for key. Removing an absent key is not an error.
	Remove(ctx context.Context, key Key) error
	// Touch sets LastAccessedAt for key.
	Touch(ctx context.Context, key Key, at time.Time) error
	ListAll(ctx context.Context) ([]*Entry, error)
	// ListExpired returns entries whose ExpiresAt is before now, oldest first.
	ListExpired(ctx context.Context, now time.Time) ([]*Entry, error)
	// ListByLeastRecentlyAccessed returns Ready entries ordered by
	// LastAccessedAt ascending.
	ListByLeastRecentlyAccessed(ctx context.Context) ([]*Entry, error)
	// TotalSize sums SizeBytes over Ready entries.
	TotalSize(ctx context.Context) (uint64, error)
}
