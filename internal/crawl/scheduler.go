package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a crawl job on a cron schedule. A tick that fires while the
// previous run is still going is skipped. An empty schedule gives a
// scheduler that only runs through RunNow.
type Scheduler struct {
	cron    *cron.Cron
	job     func(ctx context.Context)
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	skipped atomic.Int64

	mu      sync.Mutex
	stopped bool
	manual  sync.WaitGroup
}

func NewScheduler(spec string, job func(ctx context.Context), logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:   cron.New(),
		job:    job,
		logger: logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if strings.TrimSpace(spec) == "" {
		return s, nil
	}
	if _, err := s.cron.AddFunc(strings.TrimSpace(spec), s.tick); err != nil {
		s.cancel()
		return nil, fmt.Errorf("crawl schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels a running job and waits for it to return, whether cron or
// RunNow started it. Later RunNow calls do nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	<-s.cron.Stop().Done()
	s.manual.Wait()
}

// RunNow triggers one run outside the schedule, subject to the same overlap
// rule.
func (s *Scheduler) RunNow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.manual.Add(1)
	go func() {
		defer s.manual.Done()
		s.tick()
	}()
}

// Skipped counts ticks dropped because a run was in progress.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Info("crawl still running, tick skipped")
		return
	}
	defer s.running.Store(false)
	if s.ctx.Err() != nil {
		return
	}
	s.job(s.ctx)
}
