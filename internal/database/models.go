package database

import "time"

// MediaKind classifies a registered media file.
type MediaKind string

const (
	KindVideo    MediaKind = "video"
	KindAudio    MediaKind = "audio"
	KindImage    MediaKind = "image"
	KindDocument MediaKind = "document"
)

// MediaFile is a row of the media registry.
type MediaFile struct {
	ID          string    `json:"id"`
	Path        string    `json:"-"`
	RelPath     string    `json:"path"`
	Name        string    `json:"name"`
	Kind        MediaKind `json:"kind"`
	MimeType    string    `json:"mimeType,omitempty"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"modTime"`
	ContentHash string    `json:"-"`
}
