package crawl

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewSchedulerRejectsInvalidSpec(t *testing.T) {
	if _, err := NewScheduler("every tuesday", func(context.Context) {}, nil); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var mu sync.Mutex
	runs := 0
	s, err := NewScheduler("@every 1h", func(ctx context.Context) {
		mu.Lock()
		runs++
		mu.Unlock()
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
	}, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	go s.tick()
	<-started
	s.tick()
	s.tick()
	close(release)

	deadline := time.After(time.Second)
	for s.running.Load() {
		select {
		case <-deadline:
			t.Fatal("job did not finish")
		case <-time.After(5 * time.Millisecond):
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if runs != 1 || s.Skipped() != 2 {
		t.Fatalf("expected one run and two skips, got %d runs %d skips", runs, s.Skipped())
	}
}

func TestSchedulerStopCancelsJob(t *testing.T) {
	done := make(chan struct{})
	s, err := NewScheduler("@every 1h", func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	}, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	started := make(chan struct{})
	go func() {
		close(started)
		s.tick()
	}()
	<-started
	for !s.running.Load() {
		time.Sleep(time.Millisecond)
	}
	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the running job")
	}
}

func TestSchedulerStopWaitsForRunNow(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	s, err := NewScheduler("", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	}, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	s.RunNow()
	<-started
	s.Stop()
	if !finished.Load() {
		t.Fatal("Stop returned before the RunNow job finished")
	}

	s.RunNow()
	if s.running.Load() {
		t.Fatal("RunNow after Stop must not start a job")
	}
}
