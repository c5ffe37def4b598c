package mediatypes

import (
	"path/filepath"
	"strings"

	"media-vault/internal/database"
)

type extInfo struct {
	kind database.MediaKind
	mime string
}

var extensions = map[string]extInfo{
	// Videos
	".mp4":  {database.KindVideo, "video/mp4"},
	".m4v":  {database.KindVideo, "video/x-m4v"},
	".mkv":  {database.KindVideo, "video/x-matroska"},
	".webm": {database.KindVideo, "video/webm"},
	".avi":  {database.KindVideo, "video/x-msvideo"},
	".mov":  {database.KindVideo, "video/quicktime"},
	".wmv":  {database.KindVideo, "video/x-ms-wmv"},
	".flv":  {database.KindVideo, "video/x-flv"},
	".mpeg": {database.KindVideo, "video/mpeg"},
	".mpg":  {database.KindVideo, "video/mpeg"},
	".3gp":  {database.KindVideo, "video/3gpp"},
	".ts":   {database.KindVideo, "video/mp2t"},

	// Audio
	".mp3":  {database.KindAudio, "audio/mpeg"},
	".m4a":  {database.KindAudio, "audio/mp4"},
	".aac":  {database.KindAudio, "audio/aac"},
	".flac": {database.KindAudio, "audio/flac"},
	".ogg":  {database.KindAudio, "audio/ogg"},
	".opus": {database.KindAudio, "audio/opus"},
	".wav":  {database.KindAudio, "audio/wav"},

	// Images
	".jpg":  {database.KindImage, "image/jpeg"},
	".jpeg": {database.KindImage, "image/jpeg"},
	".png":  {database.KindImage, "image/png"},
	".gif":  {database.KindImage, "image/gif"},
	".bmp":  {database.KindImage, "image/bmp"},
	".webp": {database.KindImage, "image/webp"},
	".tiff": {database.KindImage, "image/tiff"},
	".tif":  {database.KindImage, "image/tiff"},
	".heic": {database.KindImage, "image/heic"},

	// Documents
	".pdf":  {database.KindDocument, "application/pdf"},
	".txt":  {database.KindDocument, "text/plain"},
	".md":   {database.KindDocument, "text/markdown"},
	".epub": {database.KindDocument, "application/epub+zip"},
}

// Classify returns the media kind and MIME type for a file name.
func Classify(name string) (database.MediaKind, string, bool) {
	info, ok := extensions[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return "", "", false
	}
	return info.kind, info.mime, true
}

// IsTranscodable reports whether files of kind can be sent to ffmpeg.
func IsTranscodable(kind database.MediaKind) bool {
	return kind == database.KindVideo
}

// HasPoster reports whether a poster frame can be extracted for kind.
func HasPoster(kind database.MediaKind) bool {
	return kind == database.KindVideo || kind == database.KindImage
}
