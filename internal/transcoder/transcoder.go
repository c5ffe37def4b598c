package transcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"media-vault/internal/cache"
	"media-vault/internal/logging"
	"media-vault/internal/metrics"
)

var (
	// ErrProbeFailed is returned when ffprobe cannot read the source.
	ErrProbeFailed = errors.New("probe failed")
	// ErrTimeout is returned when a transcode exceeds its deadline.
	ErrTimeout = errors.New("transcode timed out")
	// ErrCanceled is returned when a transcode is canceled by its caller.
	ErrCanceled = errors.New("transcode canceled")
)

// stderrTailSize is how much trailing stderr is kept for diagnostics.
const stderrTailSize = 4 * 1024

// TranscodeError reports a non-zero FFmpeg exit.
type TranscodeError struct {
	ExitCode   int
	StderrTail string
}

func (e *TranscodeError) Error() string {
	tail := strings.TrimSpace(e.StderrTail)
	if i := strings.LastIndexByte(tail, '\n'); i >= 0 {
		tail = tail[i+1:]
	}
	if tail == "" {
		return fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.ExitCode, tail)
}

// Request describes a single transcode.
type Request struct {
	InputPath  string
	OutputPath string
	Quality    cache.Quality
	Format     cache.Format
	// Duration of the source in seconds, used for percent calculation.
	// When zero the runner probes the input first.
	Duration float64
}

// Result describes a finished transcode.
type Result struct {
	OutputPath string
	SizeBytes  uint64
	Elapsed    time.Duration
}

// Runner is the contract the job coordinator drives.
type Runner interface {
	Probe(ctx context.Context, path string) (*MediaInfo, error)
	Transcode(ctx context.Context, req Request, onProgress func(Progress)) (*Result, error)
}

// Config configures the FFmpeg runner.
type Config struct {
	FFmpegPath   string
	FFprobePath  string
	ProbeTimeout time.Duration
	// KillGrace is how long a process group gets between SIGTERM and SIGKILL.
	KillGrace     time.Duration
	ProbeCacheLen int
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:    "ffmpeg",
		FFprobePath:   "ffprobe",
		ProbeTimeout:  30 * time.Second,
		KillGrace:     5 * time.Second,
		ProbeCacheLen: 512,
	}
}

// FFmpeg is a Runner backed by the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	cfg Config

	probeGroup singleflight.Group
	probeCache *lru.Cache[string, *MediaInfo]

	mu      sync.Mutex
	running map[*exec.Cmd]string
}

// New creates an FFmpeg runner. Zero fields in cfg take their defaults.
func New(cfg Config) *FFmpeg {
	def := DefaultConfig()
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = def.FFprobePath
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = def.KillGrace
	}
	if cfg.ProbeCacheLen <= 0 {
		cfg.ProbeCacheLen = def.ProbeCacheLen
	}

	probeCache, err := lru.New[string, *MediaInfo](cfg.ProbeCacheLen)
	if err != nil {
		// only fails for a non-positive size, which is excluded above
		panic(err)
	}

	return &FFmpeg{
		cfg:        cfg,
		probeCache: probeCache,
		running:    make(map[*exec.Cmd]string),
	}
}

// Transcode runs FFmpeg for req, reporting progress through onProgress.
// onProgress may be nil. It is called from a single goroutine.
func (f *FFmpeg) Transcode(ctx context.Context, req Request, onProgress func(Progress)) (*Result, error) {
	start := time.Now()

	info := &MediaInfo{Duration: req.Duration}
	if req.Duration <= 0 || req.Quality.Params().Height > 0 {
		probed, err := f.Probe(ctx, req.InputPath)
		if err != nil {
			return nil, err
		}
		info = probed
	}

	partial := cache.PartialPath(req.OutputPath)
	args := BuildArgs(Request{
		InputPath:  req.InputPath,
		OutputPath: partial,
		Quality:    req.Quality,
		Format:     req.Format,
	}, info)

	cmd := exec.Command(f.cfg.FFmpegPath, args...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	logging.Debug("Starting ffmpeg: %s %s", f.cfg.FFmpegPath, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	f.track(cmd, req.InputPath)
	defer f.untrack(cmd)

	tail := newTailBuffer(stderrTailSize)
	var drain sync.WaitGroup
	drain.Add(2)
	go func() {
		defer drain.Done()
		_, _ = io.Copy(tail, stderrPipe)
	}()
	go func() {
		defer drain.Done()
		parser := NewProgressParser(info.Duration)
		_ = parser.Scan(stdout, func(p Progress) {
			if onProgress != nil {
				onProgress(p)
			}
		})
	}()

	// Wait must not be called before the pipes are fully read.
	waitCh := make(chan error, 1)
	go func() {
		drain.Wait()
		waitCh <- cmd.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		logging.Info("Terminating ffmpeg for %s: %v", req.InputPath, ctx.Err())
		_ = terminate(cmd, waitCh, f.cfg.KillGrace)
		removePartial(partial)
		metrics.TranscoderProcessExits.WithLabelValues("killed").Inc()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ErrCanceled
	}

	if waitErr != nil {
		removePartial(partial)
		removePartial(req.OutputPath)
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		metrics.TranscoderProcessExits.WithLabelValues("error").Inc()
		return nil, &TranscodeError{ExitCode: exitCode, StderrTail: tail.String()}
	}

	stat, err := os.Stat(partial)
	if err != nil {
		metrics.TranscoderProcessExits.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	if err := os.Rename(partial, req.OutputPath); err != nil {
		removePartial(partial)
		metrics.TranscoderProcessExits.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to move output into place: %w", err)
	}
	metrics.TranscoderProcessExits.WithLabelValues("success").Inc()

	if onProgress != nil {
		onProgress(Progress{Percent: 100, Done: true})
	}

	return &Result{
		OutputPath: req.OutputPath,
		SizeBytes:  uint64(stat.Size()),
		Elapsed:    time.Since(start),
	}, nil
}

// Running returns the number of live FFmpeg processes.
func (f *FFmpeg) Running() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.running)
}

// Cleanup kills every running FFmpeg process group.
func (f *FFmpeg) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for cmd, input := range f.running {
		logging.Info("Killing transcoding process for: %s", input)
		if err := killGroup(cmd); err != nil {
			logging.Warn("failed to kill transcoding process for %s: %v", input, err)
		}
	}
}

func (f *FFmpeg) track(cmd *exec.Cmd, input string) {
	f.mu.Lock()
	f.running[cmd] = input
	f.mu.Unlock()
	metrics.TranscoderProcessesRunning.Inc()
}

func (f *FFmpeg) untrack(cmd *exec.Cmd) {
	f.mu.Lock()
	delete(f.running, cmd)
	f.mu.Unlock()
	metrics.TranscoderProcessesRunning.Dec()
}

func removePartial(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Warn("failed to remove partial output %s: %v", path, err)
	}
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	n   int
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.n; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
