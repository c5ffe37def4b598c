package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"media-vault/internal/cache"
	"media-vault/internal/metrics"
)

var errProbeDeadline = errors.New("ffprobe deadline exceeded")

// MediaInfo is the subset of ffprobe output the server needs.
type MediaInfo struct {
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	VideoCodec string  `json:"videoCodec"`
	AudioCodec string  `json:"audioCodec,omitempty"`
	Container  string  `json:"container"`
	BitRate    int64   `json:"bitRate,omitempty"`
	SizeBytes  int64   `json:"sizeBytes,omitempty"`
}

var formatCodecs = map[cache.Format]struct {
	containers map[string]bool
	video      map[string]bool
	audio      map[string]bool
}{
	cache.FormatMP4: {
		containers: map[string]bool{"mp4": true, "mov": true, "m4v": true},
		video:      map[string]bool{"h264": true},
		audio:      map[string]bool{"aac": true, "mp3": true, "": true},
	},
	cache.FormatWebM: {
		containers: map[string]bool{"webm": true, "matroska": true},
		video:      map[string]bool{"vp8": true, "vp9": true, "av1": true},
		audio:      map[string]bool{"opus": true, "vorbis": true, "": true},
	},
}

// PlayableAs reports whether the source can be served as-is for format f.
func (m *MediaInfo) PlayableAs(f cache.Format) bool {
	c, ok := formatCodecs[f]
	if !ok {
		return false
	}
	matched := false
	for _, name := range strings.Split(m.Container, ",") {
		if c.containers[strings.TrimSpace(name)] {
			matched = true
			break
		}
	}
	return matched && c.video[m.VideoCodec] && c.audio[m.AudioCodec]
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  string `json:"duration"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
	Size       string `json:"size"`
}

// ParseProbeOutput decodes ffprobe's -print_format json output.
func ParseProbeOutput(data []byte) (*MediaInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: invalid ffprobe output: %w", ErrProbeFailed, err)
	}

	info := &MediaInfo{Container: out.Format.FormatName}
	info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	info.BitRate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)
	info.SizeBytes, _ = strconv.ParseInt(out.Format.Size, 10, 64)

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec != "" {
				continue
			}
			info.VideoCodec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			if info.Duration <= 0 {
				info.Duration, _ = strconv.ParseFloat(s.Duration, 64)
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}

	if info.VideoCodec == "" && info.AudioCodec == "" {
		return nil, fmt.Errorf("%w: no audio or video streams", ErrProbeFailed)
	}
	return info, nil
}

// Probe returns media information for path. Concurrent probes of the same
// file share one ffprobe process, and results are memoized until the file
// changes. The shared process is bounded only by ProbeTimeout, so a caller
// that gives up gets ctx.Err() without failing the others.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	memoKey := path + "|" + strconv.FormatInt(stat.Size(), 10) + "|" + strconv.FormatInt(stat.ModTime().UnixNano(), 10)

	if info, ok := f.probeCache.Get(memoKey); ok {
		metrics.TranscoderProbeCacheHits.Inc()
		return info, nil
	}

	ch := f.probeGroup.DoChan(memoKey, func() (interface{}, error) {
		info, err := f.runProbe(context.WithoutCancel(ctx), path)
		if err != nil {
			return nil, err
		}
		f.probeCache.Add(memoKey, info)
		return info, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*MediaInfo), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *FFmpeg) runProbe(ctx context.Context, path string) (*MediaInfo, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeoutCause(ctx, f.cfg.ProbeTimeout, errProbeDeadline)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.cfg.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout bytes.Buffer
	stderr := newTailBuffer(stderrTailSize)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	metrics.TranscoderProbeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(context.Cause(ctx), errProbeDeadline) {
			return nil, fmt.Errorf("%w: %s: timed out after %v", ErrProbeFailed, filepath.Base(path), f.cfg.ProbeTimeout)
		}
		return nil, fmt.Errorf("%w: %s: %w: %s", ErrProbeFailed, filepath.Base(path), err, strings.TrimSpace(stderr.String()))
	}

	return ParseProbeOutput(stdout.Bytes())
}
