package jobs

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// IdlePolicy decides what happens to a job once every subscriber has
// detached before it finishes.
type IdlePolicy int

const (
	// RunToCompletion keeps the job running so the result is cached.
	RunToCompletion IdlePolicy = iota
	// CancelWhenIdle cancels the job after IdleGrace with no subscribers.
	CancelWhenIdle
)

func (p IdlePolicy) String() string {
	switch p {
	case RunToCompletion:
		return "run-to-completion"
	case CancelWhenIdle:
		return "cancel-when-idle"
	default:
		return fmt.Sprintf("idle-policy(%d)", int(p))
	}
}

// ParseIdlePolicy parses the TRANSCODE_IDLE_POLICY setting. Empty selects
// RunToCompletion.
func ParseIdlePolicy(s string) (IdlePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "run-to-completion":
		return RunToCompletion, nil
	case "cancel-when-idle":
		return CancelWhenIdle, nil
	default:
		return RunToCompletion, fmt.Errorf("unknown idle policy %q", s)
	}
}

// Config configures a Coordinator.
type Config struct {
	// Workers bounds the number of concurrent transcodes.
	Workers int
	// JobTimeout is the wall-clock budget of one transcode.
	JobTimeout time.Duration
	// TTL sets ExpiresAt on Ready entries. Zero disables expiry.
	TTL time.Duration
	// SlidingTTL refreshes ExpiresAt on every cache hit.
	SlidingTTL bool

	IdlePolicy IdlePolicy
	IdleGrace  time.Duration

	SubscriberBuffer  int
	ProgressRate      rate.Limit
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		Workers:           2,
		JobTimeout:        30 * time.Minute,
		TTL:               24 * time.Hour,
		IdlePolicy:        RunToCompletion,
		IdleGrace:         30 * time.Second,
		SubscriberBuffer:  64,
		ProgressRate:      4,
		HeartbeatInterval: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = def.JobTimeout
	}
	if c.TTL < 0 {
		c.TTL = 0
	}
	if c.IdleGrace <= 0 {
		c.IdleGrace = def.IdleGrace
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = def.SubscriberBuffer
	}
	if c.ProgressRate <= 0 {
		c.ProgressRate = def.ProgressRate
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	return c
}
