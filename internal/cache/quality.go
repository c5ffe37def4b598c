package cache

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownQuality is returned when a quality string is not part of the ladder.
var ErrUnknownQuality = errors.New("unknown quality")

// ErrUnknownFormat is returned when a format string is not a supported container.
var ErrUnknownFormat = errors.New("unknown format")

// Quality is a named resolution and bitrate preset.
type Quality int

const (
	Q480p Quality = iota
	Q720p
	Q1080p
	Q1440p
	Q2160p
	QOriginal
)

// Qualities lists every tier in ascending order.
var Qualities = []Quality{Q480p, Q720p, Q1080p, Q1440p, Q2160p, QOriginal}

// QualityParams holds the encoder settings for a quality tier.
// Height is zero when the source resolution is kept.
type QualityParams struct {
	Height       int
	VideoBitrate string
	MaxRate      string
	BufSize      string
	AudioBitrate string
}

func (q Quality) String() string {
	switch q {
	case Q480p:
		return "480p"
	case Q720p:
		return "720p"
	case Q1080p:
		return "1080p"
	case Q1440p:
		return "1440p"
	case Q2160p:
		return "2160p"
	case QOriginal:
		return "original"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

// Params returns the encoder settings for q.
func (q Quality) Params() QualityParams {
	switch q {
	case Q480p:
		return QualityParams{Height: 480, VideoBitrate: "1200k", MaxRate: "1500k", BufSize: "2400k", AudioBitrate: "96k"}
	case Q720p:
		return QualityParams{Height: 720, VideoBitrate: "2500k", MaxRate: "3000k", BufSize: "5000k", AudioBitrate: "128k"}
	case Q1080p:
		return QualityParams{Height: 1080, VideoBitrate: "5000k", MaxRate: "6000k", BufSize: "10000k", AudioBitrate: "160k"}
	case Q1440p:
		return QualityParams{Height: 1440, VideoBitrate: "9000k", MaxRate: "11000k", BufSize: "18000k", AudioBitrate: "192k"}
	case Q2160p:
		return QualityParams{Height: 2160, VideoBitrate: "16000k", MaxRate: "20000k", BufSize: "32000k", AudioBitrate: "192k"}
	case QOriginal:
		return QualityParams{Height: 0, VideoBitrate: "", MaxRate: "", BufSize: "", AudioBitrate: "192k"}
	default:
		panic(fmt.Sprintf("cache: no parameters for %v", q))
	}
}

// Valid reports whether q is one of the defined tiers.
func (q Quality) Valid() bool {
	return q >= Q480p && q <= QOriginal
}

// ParseQuality parses the string form of a quality tier. The empty string
// selects QOriginal.
func ParseQuality(s string) (Quality, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return QOriginal, nil
	}
	for _, q := range Qualities {
		if q.String() == s {
			return q, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownQuality, s)
}

// Format is an output container.
type Format int

const (
	FormatMP4 Format = iota
	FormatWebM
)

// Formats lists every supported container.
var Formats = []Format{FormatMP4, FormatWebM}

// FormatParams holds the codec and container settings for a format.
type FormatParams struct {
	Extension   string
	ContentType string
	VideoCodec  string
	AudioCodec  string
	Muxer       string
	ExtraArgs   []string
}

func (f Format) String() string {
	switch f {
	case FormatMP4:
		return "mp4"
	case FormatWebM:
		return "webm"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Params returns the codec settings for f.
func (f Format) Params() FormatParams {
	switch f {
	case FormatMP4:
		return FormatParams{
			Extension:   "mp4",
			ContentType: "video/mp4",
			VideoCodec:  "libx264",
			AudioCodec:  "aac",
			Muxer:       "mp4",
			ExtraArgs:   []string{"-preset", "veryfast", "-profile:v", "high", "-pix_fmt", "yuv420p", "-movflags", "+faststart"},
		}
	case FormatWebM:
		return FormatParams{
			Extension:   "webm",
			ContentType: "video/webm",
			VideoCodec:  "libvpx-vp9",
			AudioCodec:  "libopus",
			Muxer:       "webm",
			ExtraArgs:   []string{"-deadline", "realtime", "-cpu-used", "8", "-row-mt", "1"},
		}
	default:
		panic(fmt.Sprintf("cache: no parameters for %v", f))
	}
}

// Valid reports whether f is a supported container.
func (f Format) Valid() bool {
	return f == FormatMP4 || f == FormatWebM
}

// ParseFormat parses a container name. The empty string selects FormatMP4.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FormatMP4, nil
	}
	for _, f := range Formats {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}
