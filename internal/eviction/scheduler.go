package eviction

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"media-vault/internal/logging"
)

// DefaultSchedule runs cleanup every fifteen minutes.
const DefaultSchedule = "@every 15m"

// Scheduler triggers Manager cleanups on a cron schedule.
type Scheduler struct {
	manager  *Manager
	cron     *cron.Cron
	onResult func(Result)

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	last *Result
}

// NewScheduler parses spec (standard five-field cron or a descriptor such
// as "@every 15m") and returns a stopped Scheduler. onResult, if non-nil,
// is called after every scheduled run.
func NewScheduler(m *Manager, spec string, onResult func(Result)) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		manager:  m,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		onResult: onResult,
		ctx:      ctx,
		cancel:   cancel,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	res := s.manager.run(s.ctx, "schedule")
	s.mu.Lock()
	s.last = &res
	s.mu.Unlock()
	if s.onResult != nil {
		s.onResult(res)
	}
}

// Start begins running scheduled cleanups in the background.
func (s *Scheduler) Start() {
	logging.Info("Cache cleanup scheduler started")
	s.cron.Start()
}

// Stop cancels a running cleanup and waits for it to return or for ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastResult returns the result of the most recent scheduled run.
func (s *Scheduler) LastResult() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}
