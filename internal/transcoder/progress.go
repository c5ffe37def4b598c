package transcoder

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Progress is one completed block of ffmpeg's -progress output.
type Progress struct {
	// Percent is in [0, 100].
	Percent float64
	// Position is the output timestamp reached.
	Position time.Duration
	// Speed is the encode speed relative to realtime, 0 when unknown.
	Speed float64
	// ETA is the estimated remaining time, nil when it cannot be derived.
	ETA *time.Duration
	// Done is true for the final block (progress=end).
	Done bool
}

const maxMicros = int64(math.MaxInt64 / int64(time.Microsecond))

// ProgressParser turns ffmpeg's key=value progress stream into Progress
// values. A block ends with progress=continue or progress=end.
type ProgressParser struct {
	duration float64

	position    time.Duration
	hasPosition bool
	speed       float64
}

// NewProgressParser returns a parser for a source of the given duration in
// seconds. A non-positive duration yields Percent 0 until the final block.
func NewProgressParser(durationSeconds float64) *ProgressParser {
	if math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		durationSeconds = 0
	}
	return &ProgressParser{duration: durationSeconds}
}

// Feed consumes one line and returns a Progress when it completes a block.
// Malformed lines are ignored.
func (p *ProgressParser) Feed(line string) (Progress, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return Progress{}, false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	switch key {
	case "out_time_us", "out_time_ms":
		// both keys are microseconds in ffmpeg's output
		if p.hasPosition {
			return Progress{}, false
		}
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 && us <= maxMicros {
			p.position = time.Duration(us) * time.Microsecond
			p.hasPosition = true
		}
	case "out_time":
		if p.hasPosition {
			return Progress{}, false
		}
		if d, ok := parseClock(value); ok {
			p.position = d
			p.hasPosition = true
		}
	case "speed":
		v := strings.TrimSuffix(value, "x")
		if s, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && s > 0 && !math.IsInf(s, 0) {
			p.speed = s
		}
	case "progress":
		switch value {
		case "continue":
			return p.emit(false), true
		case "end":
			return p.emit(true), true
		}
	}
	return Progress{}, false
}

func (p *ProgressParser) emit(done bool) Progress {
	out := Progress{Position: p.position, Speed: p.speed, Done: done}

	if p.duration > 0 {
		pct := p.position.Seconds() / p.duration * 100
		out.Percent = math.Max(0, math.Min(100, pct))

		if p.speed > 0 && !done {
			remaining := p.duration - p.position.Seconds()
			if remaining < 0 {
				remaining = 0
			}
			eta := time.Duration(remaining / p.speed * float64(time.Second))
			out.ETA = &eta
		}
	}
	if done {
		out.Percent = 100
		zero := time.Duration(0)
		out.ETA = &zero
	}

	p.hasPosition = false
	return out
}

// Scan reads r line by line and calls fn for every completed block. It
// returns when r is exhausted.
func (p *ProgressParser) Scan(r io.Reader, fn func(Progress)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		if prog, ok := p.Feed(scanner.Text()); ok {
			fn(prog)
		}
	}
	return scanner.Err()
}

// parseClock parses HH:MM:SS.micro.
func parseClock(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || sec < 0 || sec >= 60 || math.IsNaN(sec) {
		return 0, false
	}
	total := float64(h)*3600 + float64(m)*60 + sec
	// well beyond any real media, and far from Duration overflow
	if total > 1e9 {
		return 0, false
	}
	return time.Duration(total * float64(time.Second)), true
}
