package mediatypes

import (
	"testing"

	"media-vault/internal/database"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		wantKind database.MediaKind
		wantMime string
		wantOK   bool
	}{
		{"movie.mkv", database.KindVideo, "video/x-matroska", true},
		{"MOVIE.MP4", database.KindVideo, "video/mp4", true},
		{"dir/clip.webm", database.KindVideo, "video/webm", true},
		{"song.flac", database.KindAudio, "audio/flac", true},
		{"photo.JPEG", database.KindImage, "image/jpeg", true},
		{"scan.webp", database.KindImage, "image/webp", true},
		{"notes.pdf", database.KindDocument, "application/pdf", true},
		{"archive.zip", "", "", false},
		{"README", "", "", false},
		{".hidden", "", "", false},
	}
	for _, tt := range tests {
		kind, mime, ok := Classify(tt.name)
		if ok != tt.wantOK || kind != tt.wantKind || mime != tt.wantMime {
			t.Errorf("Classify(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.name, kind, mime, ok, tt.wantKind, tt.wantMime, tt.wantOK)
		}
	}
}

func TestKindCapabilities(t *testing.T) {
	if !IsTranscodable(database.KindVideo) {
		t.Error("video should be transcodable")
	}
	for _, k := range []database.MediaKind{database.KindAudio, database.KindImage, database.KindDocument} {
		if IsTranscodable(k) {
			t.Errorf("%s should not be transcodable", k)
		}
	}
	if !HasPoster(database.KindImage) || HasPoster(database.KindDocument) {
		t.Error("unexpected poster capability")
	}
}
