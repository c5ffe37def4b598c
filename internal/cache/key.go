package cache

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyContentHash is returned by ResolveKey when the source has no identity.
var ErrEmptyContentHash = errors.New("source has no content hash")

// ErrInvalidKey is returned by ParseKey for malformed serialized keys.
var ErrInvalidKey = errors.New("invalid cache key")

// Source identifies a media file as resolved by the registry.
// ContentHash must change whenever the file contents change.
type Source struct {
	MediaID     string
	Path        string
	ContentHash string
}

// Key identifies a single rendition of a source.
type Key struct {
	SourceHash string
	Quality    Quality
	Format     Format
}

// String returns the serialized form "<hash>/<quality>/<format>".
func (k Key) String() string {
	return k.SourceHash + "/" + k.Quality.String() + "/" + k.Format.String()
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	i := strings.LastIndex(s, "/")
	if i <= 0 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	j := strings.LastIndex(s[:i], "/")
	if j <= 0 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}

	q, err := ParseQuality(s[j+1 : i])
	if err != nil || s[j+1:i] == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	f, err := ParseFormat(s[i+1:])
	if err != nil || s[i+1:] == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return Key{SourceHash: s[:j], Quality: q, Format: f}, nil
}

// ResolveKey builds the cache key for a rendition of src.
func ResolveKey(src Source, q Quality, f Format) (Key, error) {
	if src.ContentHash == "" {
		return Key{}, ErrEmptyContentHash
	}
	if !q.Valid() {
		return Key{}, fmt.Errorf("%w: %v", ErrUnknownQuality, q)
	}
	if !f.Valid() {
		return Key{}, fmt.Errorf("%w: %v", ErrUnknownFormat, f)
	}
	return Key{SourceHash: src.ContentHash, Quality: q, Format: f}, nil
}
