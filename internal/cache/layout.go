package cache

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Layout maps keys to files under a single cache root.
//
// Files live at <root>/<hh>/<hash>_<quality>.<ext> where <hh> is the first
// byte of blake2b-256(hash) in hex. Hashes containing anything other than
// [a-z0-9] are replaced by their blake2b digest so that distinct hashes
// never collapse to the same filename.
type Layout struct {
	Root string
}

// PathFor returns the path of the rendition identified by k. It does not
// touch the filesystem.
func (l Layout) PathFor(k Key) string {
	sum := blake2b.Sum256([]byte(k.SourceHash))
	digest := hex.EncodeToString(sum[:])

	name := k.SourceHash
	if name == "" || !isSafeName(name) {
		name = digest
	}

	file := name + "_" + k.Quality.String() + "." + k.Format.Params().Extension
	return filepath.Join(l.Root, digest[:2], file)
}

// PartialPath is the temporary path a rendition is written to before it is
// renamed into place.
func PartialPath(path string) string {
	return path + ".partial"
}

// EnsureDir creates the parent directory of k's path. Safe to call repeatedly.
func (l Layout) EnsureDir(k Key) error {
	dir := filepath.Dir(l.PathFor(k))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	return nil
}

// Contains reports whether path is inside the cache root.
func (l Layout) Contains(path string) bool {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isSafeName(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// ContentHash derives a source identity from the file's path, size and
// modification time. Any change to the file on disk produces a new hash.
func ContentHash(path string, size int64, modTime time.Time) string {
	h, _ := blake2b.New256(nil)
	_, _ = io.WriteString(h, path)
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, strconv.FormatInt(size, 10))
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, strconv.FormatInt(modTime.UnixNano(), 10))
	return hex.EncodeToString(h.Sum(nil))
}
