package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightera/checkin-station/internal/logging"
)

// PeriodicTask runs fn every interval on its own goroutine until stopped.
// Runs never overlap. A paused task skips ticks but still honors RunNow.
type PeriodicTask struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)

	mu       sync.Mutex
	running  bool
	paused   bool
	stopCh   chan struct{}
	runNowCh chan struct{}
	wg       sync.WaitGroup

	runs atomic.Int64
}

// NewPeriodicTask creates a stopped task.
func NewPeriodicTask(name string, interval time.Duration, fn func(ctx context.Context)) *PeriodicTask {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PeriodicTask{
		name:     name,
		interval: interval,
		fn:       fn,
		runNowCh: make(chan struct{}, 1),
	}
}

// Start launches the loop. It returns false if the task is already running.
func (t *PeriodicTask) Start(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	t.running = true
	t.stopCh = make(chan struct{})

	t.wg.Add(1)
	go t.loop(ctx, t.stopCh)

	logging.Debug("Periodic task started", map[string]interface{}{
		"task":     t.name,
		"interval": t.interval.String(),
	})
	return true
}

// Stop ends the loop and waits for an in-flight run to return.
func (t *PeriodicTask) Stop() {
	t.mu.Lock()
	wasRunning := t.running
	if wasRunning {
		t.running = false
		close(t.stopCh)
	}
	t.mu.Unlock()

	t.wg.Wait()
	if wasRunning {
		logging.Debug("Periodic task stopped", map[string]interface{}{"task": t.name})
	}
}

// Pause makes the task skip ticks until Resume.
func (t *PeriodicTask) Pause() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
}

// Resume undoes Pause.
func (t *PeriodicTask) Resume() {
	t.mu.Lock()
	t.paused = false
	t.mu.Unlock()
}

// RunNow asks the loop to run fn as soon as possible. Requests made while
// one is already waiting are coalesced. It has no effect on a stopped task.
func (t *PeriodicTask) RunNow() {
	select {
	case t.runNowCh <- struct{}{}:
	default:
	}
}

// IsRunning reports whether the loop is active.
func (t *PeriodicTask) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// IsPaused reports whether ticks are being skipped.
func (t *PeriodicTask) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Runs returns how many times fn has completed.
func (t *PeriodicTask) Runs() int64 {
	return t.runs.Load()
}

func (t *PeriodicTask) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			if t.stopCh == stopCh {
				t.running = false
			}
			t.mu.Unlock()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if t.IsPaused() {
				continue
			}
			t.run(ctx)
		case <-t.runNowCh:
			t.run(ctx)
		}
	}
}

func (t *PeriodicTask) run(ctx context.Context) {
	t.fn(ctx)
	t.runs.Add(1)
}
