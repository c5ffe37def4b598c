package poster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/renameio/v2"
	"golang.org/x/sync/singleflight"

	"media-vault/internal/cache"
	"media-vault/internal/database"
	"media-vault/internal/logging"
	"media-vault/internal/mediatypes"
	"media-vault/internal/metrics"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var (
	// ErrUnsupported is returned for media kinds that have no poster.
	ErrUnsupported = errors.New("media kind has no poster")
	// ErrDisabled is returned when poster generation is turned off.
	ErrDisabled = errors.New("posters disabled")
)

// FrameExtractor pulls a representative frame out of a video file.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, path string) (image.Image, error)
}

// Config configures poster rendering.
type Config struct {
	Dir        string
	Width      int
	Height     int
	Quality    int
	Timeout    time.Duration
	FFmpegPath string
}

// DefaultConfig returns the default poster settings.
func DefaultConfig() Config {
	return Config{
		Width:      320,
		Height:     320,
		Quality:    80,
		Timeout:    30 * time.Second,
		FFmpegPath: "ffmpeg",
	}
}

// Generator renders posters on demand and caches them on disk.
type Generator struct {
	cfg     Config
	frames  FrameExtractor
	enabled bool
	group   singleflight.Group
}

// New creates a Generator. An empty Dir disables posters.
func New(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = def.Quality
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}

	g := &Generator{cfg: cfg, frames: &ffmpegFrames{path: cfg.FFmpegPath}}
	if cfg.Dir == "" {
		logging.Debug("Poster generator: disabled")
		return g
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		logging.Warn("Poster generator: failed to create %s: %v", cfg.Dir, err)
		return g
	}
	g.enabled = true
	return g
}

// SetFrameExtractor replaces the ffmpeg frame extractor.
func (g *Generator) SetFrameExtractor(fe FrameExtractor) {
	g.frames = fe
}

// Enabled reports whether posters can be generated.
func (g *Generator) Enabled() bool {
	return g.enabled
}

func (g *Generator) pathFor(src cache.Source) string {
	return filepath.Join(g.cfg.Dir, src.ContentHash+".jpg")
}

// Get returns the JPEG poster for src, rendering it on first use.
func (g *Generator) Get(ctx context.Context, src cache.Source, kind database.MediaKind) ([]byte, error) {
	if !g.enabled {
		return nil, ErrDisabled
	}
	if !mediatypes.HasPoster(kind) {
		return nil, ErrUnsupported
	}
	if src.ContentHash == "" {
		return nil, cache.ErrEmptyContentHash
	}

	path := g.pathFor(src)
	if data, err := os.ReadFile(path); err == nil {
		metrics.PosterCacheHits.Inc()
		return data, nil
	}

	v, err, _ := g.group.Do(src.ContentHash, func() (interface{}, error) {
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
		data, err := g.render(ctx, src.Path, kind)
		if err != nil {
			metrics.PosterGenerationsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.PosterGenerationsTotal.WithLabelValues("success").Inc()
		if err := renameio.WriteFile(path, data, 0o644); err != nil {
			logging.Warn("Failed to cache poster %s: %v", path, err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (g *Generator) render(ctx context.Context, path string, kind database.MediaKind) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	var (
		img image.Image
		err error
	)
	switch kind {
	case database.KindImage:
		img, err = imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			logging.Debug("imaging.Open failed for %s: %v, trying ffmpeg", path, err)
			img, err = g.frames.ExtractFrame(ctx, path)
		}
	case database.KindVideo:
		img, err = g.frames.ExtractFrame(ctx, path)
	default:
		return nil, ErrUnsupported
	}
	if err != nil {
		return nil, fmt.Errorf("poster for %s: %w", filepath.Base(path), err)
	}

	thumb := imaging.Fit(img, g.cfg.Width, g.cfg.Height, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(g.cfg.Quality)); err != nil {
		return nil, fmt.Errorf("encode poster: %w", err)
	}
	return buf.Bytes(), nil
}

// Remove deletes the cached poster for src, if any.
func (g *Generator) Remove(src cache.Source) error {
	if !g.enabled || src.ContentHash == "" {
		return nil
	}
	err := os.Remove(g.pathFor(src))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

type ffmpegFrames struct {
	path string
}

// ExtractFrame grabs a frame one second in, falling back to the first frame
// for clips shorter than that.
func (f *ffmpegFrames) ExtractFrame(ctx context.Context, path string) (image.Image, error) {
	img, err := f.grab(ctx, path, "1")
	if err == nil {
		return img, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	logging.Debug("ffmpeg seek extraction failed for %s: %v, retrying at start", path, err)
	return f.grab(ctx, path, "")
}

func (f *ffmpegFrames) grab(ctx context.Context, path, seek string) (image.Image, error) {
	args := []string{"-v", "error"}
	if seek != "" {
		args = append(args, "-ss", seek)
	}
	args = append(args,
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	cmd := exec.CommandContext(ctx, f.path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	if stdout.Len() == 0 {
		return nil, errors.New("ffmpeg produced no frame")
	}
	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode ffmpeg frame: %w", err)
	}
	return img, nil
}
