package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"media-vault/internal/cache"
	"media-vault/internal/logging"
	"media-vault/internal/metrics"
	"media-vault/internal/transcoder"
)

// ErrShuttingDown is returned by RequestStream after Shutdown.
var ErrShuttingDown = errors.New("coordinator is shutting down")

// StreamRequest asks for a rendition of a source file.
type StreamRequest struct {
	Key        cache.Key
	SourcePath string
	// Duration of the source in seconds when already known.
	Duration float64
}

// Ticket is the answer to RequestStream. Exactly one of Entry and Sub is
// set: Entry for a cache hit, Sub when the caller is attached to a job.
type Ticket struct {
	Entry *cache.Entry
	Sub   *Subscription
	JobID string
	// Owner is true for the caller whose request started the job.
	Owner bool
}

// Ready reports whether the ticket is a cache hit.
func (t *Ticket) Ready() bool { return t.Entry != nil }

// Coordinator deduplicates transcodes per cache key.
type Coordinator struct {
	cfg    Config
	index  cache.Index
	runner transcoder.Runner
	layout cache.Layout
	sem    *semaphore.Weighted
	log    zerolog.Logger

	now func() time.Time

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
	wg     sync.WaitGroup
}

// New creates a Coordinator. Zero fields in cfg take their defaults.
func New(cfg Config, index cache.Index, runner transcoder.Runner, layout cache.Layout) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:    cfg,
		index:  index,
		runner: runner,
		layout: layout,
		sem:    semaphore.NewWeighted(int64(cfg.Workers)),
		log:    logging.Component("jobs"),
		now:    time.Now,
		jobs:   make(map[string]*job),
	}
}

// Layout returns the cache directory layout used for outputs.
func (c *Coordinator) Layout() cache.Layout { return c.layout }

// RequestStream returns the Ready entry for req.Key or attaches the caller
// to the job producing it, starting one if none is running.
func (c *Coordinator) RequestStream(ctx context.Context, req StreamRequest) (*Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for {
		entry, err := c.lookupReady(ctx, req.Key)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
			return &Ticket{Entry: entry}, nil
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrShuttingDown
		}
		if j, ok := c.jobs[req.Key.String()]; ok {
			sub := j.attach()
			c.mu.Unlock()
			metrics.CacheRequestsTotal.WithLabelValues("attach").Inc()
			return &Ticket{Sub: sub, JobID: j.id}, nil
		}

		// A job for this key may have finished between lookupReady and taking
		// the lock; its Ready record is written before it leaves the table.
		// Only the record is checked here. The file check and touch happen
		// on the next pass, outside the lock.
		ready, err := c.readyRecorded(ctx, req.Key)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		if !ready {
			return c.startLocked(ctx, req), nil
		}
		c.mu.Unlock()
	}
}

// readyRecorded reports whether the index holds a non-expired Ready record
// for key. It does no filesystem work and is safe to call under c.mu.
func (c *Coordinator) readyRecorded(ctx context.Context, key cache.Key) (bool, error) {
	entry, err := c.index.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache lookup failed: %w", err)
	}
	return entry != nil && entry.Status == cache.StatusReady && !entry.IsExpired(c.now()), nil
}

// startLocked registers a new job for req and releases c.mu.
func (c *Coordinator) startLocked(ctx context.Context, req StreamRequest) *Ticket {
	j := c.newJob(req)
	c.jobs[req.Key.String()] = j
	sub := j.attach()
	c.wg.Add(1)
	metrics.TranscodeJobsInProgress.Inc()
	c.mu.Unlock()

	metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()

	pending := &cache.Entry{
		Key:            req.Key,
		Status:         cache.StatusPending,
		FilePath:       j.outputPath,
		CreatedAt:      j.createdAt,
		LastAccessedAt: j.createdAt,
	}
	if err := c.index.Put(ctx, pending); err != nil {
		c.log.Error().Err(err).Str("key", req.Key.String()).Msg("failed to record pending entry")
		go c.abort(j, fmt.Errorf("failed to record pending entry: %w", err))
		return &Ticket{Sub: sub, JobID: j.id, Owner: true}
	}

	go c.run(j)
	return &Ticket{Sub: sub, JobID: j.id, Owner: true}
}

// lookupReady returns the entry for key when it is Ready, non-expired and
// its file is intact. Stale Ready records are removed.
func (c *Coordinator) lookupReady(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	entry, err := c.index.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}
	if entry == nil || entry.Status != cache.StatusReady {
		return nil, nil
	}
	now := c.now()
	if entry.IsExpired(now) {
		return nil, nil
	}

	info, err := os.Stat(entry.FilePath)
	if err != nil || uint64(info.Size()) != entry.SizeBytes {
		c.log.Warn().Str("key", key.String()).Str("path", entry.FilePath).Msg("cached file missing or truncated, discarding entry")
		if rmErr := c.index.Remove(ctx, key); rmErr != nil {
			return nil, fmt.Errorf("failed to drop stale entry: %w", rmErr)
		}
		return nil, nil
	}

	entry.LastAccessedAt = now
	if c.cfg.SlidingTTL && c.cfg.TTL > 0 {
		entry.ExpiresAt = now.Add(c.cfg.TTL)
		if err := c.index.Put(ctx, entry); err != nil {
			return nil, fmt.Errorf("failed to refresh entry: %w", err)
		}
	} else if err := c.index.Touch(ctx, key, now); err != nil {
		return nil, fmt.Errorf("failed to touch entry: %w", err)
	}
	return entry, nil
}

func (c *Coordinator) newJob(req StreamRequest) *job {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &job{
		id:         uuid.NewString(),
		key:        req.Key,
		sourcePath: req.SourcePath,
		outputPath: c.layout.PathFor(req.Key),
		duration:   req.Duration,
		createdAt:  c.now(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		bufSize:    c.cfg.SubscriberBuffer,
		limiter:    rate.NewLimiter(c.cfg.ProgressRate, 1),
		idlePol:    c.cfg.IdlePolicy,
		idleGrace:  c.cfg.IdleGrace,
		state:      stateStarting,
		subs:       make(map[*Subscription]struct{}),
	}
}

func (c *Coordinator) run(j *job) {
	log := c.log.With().Str("job_id", j.id).Str("key", j.key.String()).Logger()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("transcode job panicked")
			c.fail(j, log, fmt.Errorf("internal error: %v", r), time.Since(start))
		}
	}()

	go c.heartbeats(j)

	if !c.sem.TryAcquire(1) {
		metrics.TranscodeJobsQueued.Inc()
		j.setState(stateQueued)
		err := c.sem.Acquire(j.ctx, 1)
		metrics.TranscodeJobsQueued.Dec()
		if err != nil {
			c.fail(j, log, transcoder.ErrCanceled, time.Since(start))
			return
		}
	}
	defer c.sem.Release(1)

	j.setState(stateRunning)
	log.Info().Str("source", j.sourcePath).Msg("transcode started")

	// Restamp the Pending record so time spent queued does not count
	// against the job when cleanup decides whether it is orphaned.
	running := &cache.Entry{
		Key:            j.key,
		Status:         cache.StatusPending,
		FilePath:       j.outputPath,
		CreatedAt:      j.createdAt,
		LastAccessedAt: c.now(),
	}
	if err := c.index.Put(j.ctx, running); err != nil {
		c.fail(j, log, fmt.Errorf("failed to record pending entry: %w", err), time.Since(start))
		return
	}

	if err := c.layout.EnsureDir(j.key); err != nil {
		c.fail(j, log, err, time.Since(start))
		return
	}

	ctx, cancel := context.WithTimeout(j.ctx, c.cfg.JobTimeout)
	defer cancel()

	res, err := c.runner.Transcode(ctx, transcoder.Request{
		InputPath:  j.sourcePath,
		OutputPath: j.outputPath,
		Quality:    j.key.Quality,
		Format:     j.key.Format,
		Duration:   j.duration,
	}, j.onProgress)
	if err != nil {
		c.fail(j, log, err, time.Since(start))
		return
	}

	outPath := j.outputPath
	if res != nil && res.OutputPath != "" {
		outPath = res.OutputPath
	}
	info, err := os.Stat(outPath)
	if err != nil {
		c.fail(j, log, fmt.Errorf("transcode output missing: %w", err), time.Since(start))
		return
	}

	now := c.now()
	entry := &cache.Entry{
		Key:            j.key,
		Status:         cache.StatusReady,
		FilePath:       outPath,
		SizeBytes:      uint64(info.Size()),
		CreatedAt:      j.createdAt,
		LastAccessedAt: now,
	}
	if c.cfg.TTL > 0 {
		entry.ExpiresAt = now.Add(c.cfg.TTL)
	}
	if err := c.index.Put(context.Background(), entry); err != nil {
		c.fail(j, log, fmt.Errorf("failed to record ready entry: %w", err), time.Since(start))
		return
	}

	c.release(j)
	elapsed := time.Since(start)
	metrics.TranscodeJobsTotal.WithLabelValues("success").Inc()
	metrics.TranscodeJobDuration.Observe(elapsed.Seconds())
	log.Info().Uint64("size_bytes", entry.SizeBytes).Dur("elapsed", elapsed).Msg("transcode complete")

	j.finish(Event{
		Type:       EventComplete,
		Percent:    100,
		OutputPath: outPath,
		SizeBytes:  entry.SizeBytes,
	})
}

// abort resolves a job that never reached the runner.
func (c *Coordinator) abort(j *job, err error) {
	c.fail(j, c.log.With().Str("job_id", j.id).Str("key", j.key.String()).Logger(), err, 0)
}

func (c *Coordinator) fail(j *job, log zerolog.Logger, err error, elapsed time.Duration) {
	select {
	case <-j.done:
		log.Error().Err(err).Msg("job already resolved")
		return
	default:
	}

	result := "error"
	msg := err.Error()
	switch {
	case errors.Is(err, transcoder.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		result = "timeout"
		msg = fmt.Sprintf("transcode timed out after %s", c.cfg.JobTimeout)
	case errors.Is(err, transcoder.ErrCanceled), errors.Is(err, context.Canceled):
		result = "canceled"
		msg = "canceled"
		if cause := context.Cause(j.ctx); errors.Is(cause, errIdle) {
			msg = "canceled: no subscribers"
		}
	}

	removeQuietly(j.outputPath)
	removeQuietly(cache.PartialPath(j.outputPath))

	failed := &cache.Entry{
		Key:            j.key,
		Status:         cache.StatusFailed,
		FilePath:       j.outputPath,
		CreatedAt:      j.createdAt,
		LastAccessedAt: c.now(),
		ErrorMessage:   cache.TruncateError(msg),
	}
	if c.cfg.TTL > 0 {
		failed.ExpiresAt = c.now().Add(c.cfg.TTL)
	}
	if putErr := c.index.Put(context.Background(), failed); putErr != nil {
		log.Error().Err(putErr).Msg("failed to record failed entry")
	}

	c.release(j)
	metrics.TranscodeJobsTotal.WithLabelValues(result).Inc()
	if elapsed > 0 {
		metrics.TranscodeJobDuration.Observe(elapsed.Seconds())
	}
	log.Warn().Err(err).Str("result", result).Msg("transcode failed")

	j.finish(Event{Type: EventError, Message: msg, Percent: j.info().Percent})
}

// release removes j from the job table. It runs after the index record is
// written and before subscribers are told.
func (c *Coordinator) release(j *job) {
	c.mu.Lock()
	if c.jobs[j.key.String()] == j {
		delete(c.jobs, j.key.String())
		metrics.TranscodeJobsInProgress.Dec()
	}
	c.mu.Unlock()
	j.cancel(nil)
	close(j.done)
	c.wg.Done()
}

func (c *Coordinator) heartbeats(j *job) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.heartbeat()
		case <-j.done:
			return
		}
	}
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Warn("Failed to remove %s: %v", path, err)
	}
}

// IsActive reports whether a job for key is in the job table.
func (c *Coordinator) IsActive(key cache.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.jobs[key.String()]
	return ok
}

// ActiveKeys returns the serialized keys of every in-flight job.
func (c *Coordinator) ActiveKeys() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.jobs))
	for k := range c.jobs {
		out[k] = true
	}
	return out
}

// Jobs returns a snapshot of in-flight jobs, oldest first.
func (c *Coordinator) Jobs() []JobInfo {
	c.mu.Lock()
	list := make([]*job, 0, len(c.jobs))
	for _, j := range c.jobs {
		list = append(list, j)
	}
	c.mu.Unlock()

	out := make([]JobInfo, 0, len(list))
	for _, j := range list {
		out = append(out, j.info())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// Shutdown refuses new jobs, cancels running ones and waits for them to
// resolve or for ctx to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	for _, j := range c.jobs {
		j.cancel(ErrShuttingDown)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
