package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"media-vault/internal/cache"
	"media-vault/internal/metrics"
	"media-vault/internal/transcoder"
)

// ErrSubscriptionClosed is returned by Subscription.Wait when the channel
// closed without a terminal event.
var ErrSubscriptionClosed = errors.New("subscription closed before job finished")

// Job states reported in Status events and JobInfo.
const (
	stateStarting = "starting"
	stateQueued   = "queued"
	stateRunning  = "transcoding"
)

type job struct {
	id         string
	key        cache.Key
	sourcePath string
	outputPath string
	duration   float64
	createdAt  time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	bufSize   int
	limiter   *rate.Limiter
	idlePol   IdlePolicy
	idleGrace time.Duration

	mu          sync.Mutex
	state       string
	percent     float64
	hasProgress bool
	subs        map[*Subscription]struct{}
	finished    bool
	idleTimer   *time.Timer
}

// JobInfo is a snapshot of an in-flight job.
type JobInfo struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	State       string    `json:"state"`
	Percent     float64   `json:"percent"`
	Subscribers int       `json:"subscribers"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (j *job) info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobInfo{
		ID:          j.id,
		Key:         j.key.String(),
		State:       j.state,
		Percent:     j.percent,
		Subscribers: len(j.subs),
		CreatedAt:   j.createdAt,
	}
}

// Subscription receives the events of one job.
type Subscription struct {
	job    *job
	ch     chan Event
	closed bool
}

// Events returns the event channel. It is closed after the terminal event
// or when the subscription is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

// JobID returns the id of the job this subscription is attached to.
func (s *Subscription) JobID() string { return s.job.id }

// Close detaches the subscriber. It never cancels the job under the
// RunToCompletion policy. Close is idempotent.
func (s *Subscription) Close() {
	j := s.job
	j.mu.Lock()
	defer j.mu.Unlock()
	if s.closed {
		return
	}
	j.detachLocked(s)
	if !j.finished && len(j.subs) == 0 && j.idlePol == CancelWhenIdle {
		j.armIdleTimerLocked()
	}
}

// Wait blocks until the terminal event arrives or ctx is done. On ctx
// expiry the subscription is closed and ctx.Err() returned.
func (s *Subscription) Wait(ctx context.Context) (Event, error) {
	for {
		select {
		case ev, ok := <-s.ch:
			if !ok {
				return Event{}, ErrSubscriptionClosed
			}
			if ev.Terminal() {
				return ev, nil
			}
		case <-ctx.Done():
			s.Close()
			return Event{}, ctx.Err()
		}
	}
}

// attach registers a new subscriber and sends it a Status event carrying
// the latest known percent.
func (j *job) attach() *Subscription {
	s := &Subscription{job: j, ch: make(chan Event, j.bufSize)}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.idleTimer != nil {
		j.idleTimer.Stop()
		j.idleTimer = nil
	}
	j.subs[s] = struct{}{}
	metrics.TranscodeSubscribers.Inc()
	s.ch <- Event{Type: EventStatus, Message: j.state, Percent: j.percent}
	return s
}

func (j *job) detachLocked(s *Subscription) {
	if _, ok := j.subs[s]; ok {
		delete(j.subs, s)
		metrics.TranscodeSubscribers.Dec()
	}
	s.closed = true
	close(s.ch)
}

func (j *job) armIdleTimerLocked() {
	if j.idleTimer != nil {
		return
	}
	j.idleTimer = time.AfterFunc(j.idleGrace, func() {
		j.mu.Lock()
		idle := !j.finished && len(j.subs) == 0
		j.idleTimer = nil
		j.mu.Unlock()
		if idle {
			j.cancel(errIdle)
		}
	})
}

var errIdle = errors.New("no subscribers")

func (j *job) setState(state string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = state
	j.broadcastLocked(Event{Type: EventStatus, Message: state, Percent: j.percent})
}

// onProgress is handed to the Runner. Percent never decreases from a
// subscriber's point of view; intermediate updates are rate limited.
func (j *job) onProgress(p transcoder.Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished {
		return
	}
	if j.hasProgress && p.Percent <= j.percent {
		return
	}
	j.percent = p.Percent
	j.hasProgress = true
	if p.Percent < 100 && !j.limiter.Allow() {
		return
	}
	j.broadcastLocked(Event{
		Type:       EventProgress,
		Percent:    p.Percent,
		ETASeconds: etaSeconds(p.ETA),
	})
}

func (j *job) heartbeat() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished {
		return
	}
	j.broadcastLocked(Event{Type: EventHeartbeat, Message: j.state, Percent: j.percent})
}

// finish delivers the terminal event and closes every subscriber.
func (j *job) finish(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished {
		return
	}
	j.finished = true
	if j.idleTimer != nil {
		j.idleTimer.Stop()
		j.idleTimer = nil
	}
	if ev.Type == EventComplete {
		j.percent = 100
	}
	j.broadcastLocked(ev)
	for s := range j.subs {
		j.detachLocked(s)
	}
}

func (j *job) broadcastLocked(ev Event) {
	for s := range j.subs {
		deliver(s.ch, ev)
	}
}

// deliver never blocks. When the buffer is full the oldest queued event is
// dropped; since every event before the terminal one is informational, a
// terminal event always fits after at most one drop per attempt.
func deliver(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
			metrics.TranscodeEventsDropped.Inc()
		default:
		}
	}
}
