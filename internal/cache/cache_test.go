package cache

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseQuality(t *testing.T) {
	tests := []struct {
		input   string
		want    Quality
		wantErr bool
	}{
		{"480p", Q480p, false},
		{"720P", Q720p, false},
		{"1080p", Q1080p, false},
		{"1440p", Q1440p, false},
		{"2160p", Q2160p, false},
		{"original", QOriginal, false},
		{"", QOriginal, false},
		{"4k", 0, true},
		{"360p", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseQuality(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownQuality) {
					t.Fatalf("ParseQuality(%q) error = %v, want ErrUnknownQuality", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseQuality(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseQuality(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestQualityParamsTotal(t *testing.T) {
	prev := 0
	for _, q := range Qualities {
		p := q.Params()
		if p.AudioBitrate == "" {
			t.Errorf("%v: missing audio bitrate", q)
		}
		if q == QOriginal {
			if p.Height != 0 {
				t.Errorf("original should keep source height, got %d", p.Height)
			}
			continue
		}
		if p.Height <= prev {
			t.Errorf("%v: height %d not above previous tier %d", q, p.Height, prev)
		}
		if p.VideoBitrate == "" || p.MaxRate == "" || p.BufSize == "" {
			t.Errorf("%v: incomplete bitrate ladder %+v", q, p)
		}
		prev = p.Height
	}
}

func TestFormatParams(t *testing.T) {
	mp4 := FormatMP4.Params()
	if mp4.VideoCodec != "libx264" || mp4.AudioCodec != "aac" || mp4.ContentType != "video/mp4" {
		t.Errorf("unexpected mp4 params: %+v", mp4)
	}
	if !strings.Contains(strings.Join(mp4.ExtraArgs, " "), "+faststart") {
		t.Errorf("mp4 should enable faststart, got %v", mp4.ExtraArgs)
	}

	webm := FormatWebM.Params()
	if webm.VideoCodec != "libvpx-vp9" || webm.AudioCodec != "libopus" || webm.Extension != "webm" {
		t.Errorf("unexpected webm params: %+v", webm)
	}

	if _, err := ParseFormat("avi"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("ParseFormat(avi) error = %v, want ErrUnknownFormat", err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatMP4 {
		t.Errorf("ParseFormat(\"\") = %v, %v; want mp4", f, err)
	}
}

func TestResolveKey(t *testing.T) {
	src := Source{MediaID: "42", Path: "/media/a.mkv", ContentHash: "abc123"}

	k1, err := ResolveKey(src, Q720p, FormatMP4)
	if err != nil {
		t.Fatalf("ResolveKey failed: %v", err)
	}
	k2, _ := ResolveKey(src, Q720p, FormatMP4)
	if k1 != k2 {
		t.Errorf("ResolveKey not deterministic: %v != %v", k1, k2)
	}

	if _, err := ResolveKey(Source{Path: "/x"}, Q720p, FormatMP4); !errors.Is(err, ErrEmptyContentHash) {
		t.Errorf("expected ErrEmptyContentHash, got %v", err)
	}
	if _, err := ResolveKey(src, Quality(99), FormatMP4); !errors.Is(err, ErrUnknownQuality) {
		t.Errorf("expected ErrUnknownQuality, got %v", err)
	}
}

func TestKeyRoundTrip(t *testing.T) {
	keys := []Key{
		{SourceHash: "abc", Quality: Q480p, Format: FormatMP4},
		{SourceHash: "a/b/c", Quality: QOriginal, Format: FormatWebM},
	}
	for _, k := range keys {
		got, err := ParseKey(k.String())
		if err != nil {
			t.Fatalf("ParseKey(%q) failed: %v", k.String(), err)
		}
		if got != k {
			t.Errorf("ParseKey(%q) = %+v, want %+v", k.String(), got, k)
		}
	}

	for _, bad := range []string{"", "abc", "abc/720p", "/720p/mp4", "abc//mp4", "abc/720p/", "abc/9000p/mp4"} {
		if _, err := ParseKey(bad); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ParseKey(%q) error = %v, want ErrInvalidKey", bad, err)
		}
	}
}

func TestPathForDeterministicAndDistinct(t *testing.T) {
	l := Layout{Root: "/cache"}
	seen := make(map[string]Key)

	for _, hash := range []string{"abc123", "ABC123", "abc/123", "deadbeef"} {
		for _, q := range Qualities {
			for _, f := range Formats {
				k := Key{SourceHash: hash, Quality: q, Format: f}
				p := l.PathFor(k)
				if p != l.PathFor(k) {
					t.Fatalf("PathFor not deterministic for %v", k)
				}
				if other, ok := seen[p]; ok {
					t.Fatalf("path collision: %v and %v both map to %s", other, k, p)
				}
				seen[p] = k
				if !l.Contains(p) {
					t.Errorf("path %s escapes root", p)
				}
			}
		}
	}
}

func TestPathForShape(t *testing.T) {
	l := Layout{Root: "/cache"}
	p := l.PathFor(Key{SourceHash: "abc123", Quality: Q720p, Format: FormatWebM})

	if filepath.Base(p) != "abc123_720p.webm" {
		t.Errorf("unexpected filename %q", filepath.Base(p))
	}
	fan := filepath.Base(filepath.Dir(p))
	if len(fan) != 2 {
		t.Errorf("fan-out directory should be two hex chars, got %q", fan)
	}

	unsafe := l.PathFor(Key{SourceHash: "../../etc", Quality: Q720p, Format: FormatMP4})
	if strings.Contains(filepath.Base(unsafe), "..") || !l.Contains(unsafe) {
		t.Errorf("unsafe hash not sanitized: %s", unsafe)
	}
}

func TestEnsureDir(t *testing.T) {
	l := Layout{Root: t.TempDir()}
	k := Key{SourceHash: "abc", Quality: Q480p, Format: FormatMP4}
	for i := 0; i < 2; i++ {
		if err := l.EnsureDir(k); err != nil {
			t.Fatalf("EnsureDir call %d failed: %v", i, err)
		}
	}
}

func TestContentHash(t *testing.T) {
	mt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := ContentHash("/media/a.mkv", 100, mt)

	if a != ContentHash("/media/a.mkv", 100, mt) {
		t.Error("ContentHash not deterministic")
	}
	if a == ContentHash("/media/a.mkv", 101, mt) {
		t.Error("size change should change hash")
	}
	if a == ContentHash("/media/a.mkv", 100, mt.Add(time.Second)) {
		t.Error("mtime change should change hash")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestEntryPredicates(t *testing.T) {
	now := time.Now()

	e := &Entry{Status: StatusReady, CreatedAt: now.Add(-25 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	if !e.IsExpired(now) {
		t.Error("entry past ExpiresAt should be expired")
	}
	if (&Entry{}).IsExpired(now) {
		t.Error("zero ExpiresAt never expires")
	}

	p := &Entry{Status: StatusPending, CreatedAt: now.Add(-time.Hour)}
	if !p.IsOrphaned(now, 30*time.Minute) {
		t.Error("old pending entry should be orphaned")
	}
	if p.IsOrphaned(now, 2*time.Hour) {
		t.Error("pending entry within timeout is not orphaned")
	}
	if e.IsOrphaned(now, time.Minute) {
		t.Error("ready entries are never orphaned")
	}

	started := &Entry{Status: StatusPending, CreatedAt: now.Add(-time.Hour), LastAccessedAt: now.Add(-time.Minute)}
	if started.IsOrphaned(now, 30*time.Minute) {
		t.Error("pending entry whose job started recently is not orphaned")
	}
}

func TestEntrySameRecord(t *testing.T) {
	now := time.Now()
	key := Key{SourceHash: "abc", Quality: Q720p, Format: FormatMP4}
	e := &Entry{Key: key, Status: StatusReady, CreatedAt: now, LastAccessedAt: now, ExpiresAt: now.Add(time.Hour)}

	same := *e
	if !e.SameRecord(&same) {
		t.Error("identical copy should be the same record")
	}
	if e.SameRecord(nil) {
		t.Error("missing record is never the same")
	}

	replaced := *e
	replaced.Status = StatusPending
	replaced.CreatedAt = now.Add(time.Second)
	if e.SameRecord(&replaced) {
		t.Error("record rewritten by a new job should differ")
	}

	touched := *e
	touched.LastAccessedAt = now.Add(time.Second)
	if e.SameRecord(&touched) {
		t.Error("touched record should differ")
	}
}

func TestTruncateError(t *testing.T) {
	short := "boom"
	if TruncateError(short) != short {
		t.Error("short messages should be unchanged")
	}

	long := strings.Repeat("é", MaxErrorMessageLen)
	got := TruncateError(long)
	if len(got) > MaxErrorMessageLen {
		t.Errorf("truncated length %d exceeds limit", len(got))
	}
	if !strings.HasPrefix(long, got) || strings.ContainsRune(got, '�') {
		t.Error("truncation split a UTF-8 sequence")
	}
}

func TestStatusString(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusReady, StatusFailed} {
		got, err := ParseStatus(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStatus(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseStatus("gone"); err == nil {
		t.Error("expected error for unknown status")
	}
}

type sliceIndex struct {
	Index
	entries []*Entry
}

func (s sliceIndex) ListAll(context.Context) ([]*Entry, error) { return s.entries, nil }

func TestSummarize(t *testing.T) {
	idx := sliceIndex{entries: []*Entry{
		{Status: StatusReady, SizeBytes: 100},
		{Status: StatusReady, SizeBytes: 50},
		{Status: StatusPending, SizeBytes: 999},
		{Status: StatusFailed},
	}}

	got, err := Summarize(context.Background(), idx)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	want := Summary{Entries: 4, Pending: 1, Ready: 2, Failed: 1, ReadyBytes: 150}
	if got != want {
		t.Errorf("Summarize = %+v, want %+v", got, want)
	}
}
