// Package scheduler runs the background work of a check-in station:
// connectivity monitoring and replay of the offline scan queue.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/lightera/checkin-station/internal/errors"
	"github.com/lightera/checkin-station/internal/logging"
	"github.com/lightera/checkin-station/internal/models"
	"github.com/lightera/checkin-station/internal/sync/queue"
)

// ConnectivityMonitor is implemented by sync.Connectivity.
type ConnectivityMonitor interface {
	IsOnline(ctx context.Context) bool
	Refresh(ctx context.Context) bool
}

// Scheduler probes connectivity and replays the offline queue when the
// server becomes reachable.
type Scheduler struct {
	queue        *queue.OfflineScanQueue
	validate     queue.ValidateFunc
	connectivity ConnectivityMonitor
	config       SchedulerConfig

	monitor *PeriodicTask
	retry   *PeriodicTask

	stopCh chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
	runCtx context.Context

	mu           sync.RWMutex
	isRunning    bool
	isOnline     bool
	paused       bool
	lastSyncTime time.Time
	lastReport   *models.SyncReport

	listenerMu    sync.RWMutex
	connListeners  []func(online bool)
	startListeners []func(pending int)
	syncListeners  []func(report models.SyncReport)
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	ProbeInterval    time.Duration // How often connectivity is re-probed (default: 10s)
	RetryInterval    time.Duration // How often pending items are retried while online (default: 30s)
	InitialSyncDelay time.Duration // Delay before replaying a non-empty queue at start (default: 2s)
	SyncTimeout      time.Duration // Upper bound for one pass (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		ProbeInterval:    10 * time.Second,
		RetryInterval:    30 * time.Second,
		InitialSyncDelay: 2 * time.Second,
		SyncTimeout:      5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(q *queue.OfflineScanQueue, validate queue.ValidateFunc, connectivity ConnectivityMonitor, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaults.ProbeInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}
	if cfg.InitialSyncDelay < 0 {
		cfg.InitialSyncDelay = 0
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = defaults.SyncTimeout
	}

	s := &Scheduler{
		queue:        q,
		validate:     validate,
		connectivity: connectivity,
		config:       cfg,
		isOnline:     true, // Assume online until the first probe says otherwise
	}
	s.monitor = NewPeriodicTask("connectivity-monitor", cfg.ProbeInterval, s.checkConnectivity)
	s.retry = NewPeriodicTask("queue-retry", cfg.RetryInterval, s.retryPending)
	q.OnSyncStart(s.notifySyncStart)
	return s
}

// Start starts connectivity monitoring and queue retries. If the queue
// already holds pending items, a first pass runs after InitialSyncDelay.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.runCtx, s.cancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	stopCh := s.stopCh
	s.mu.Unlock()

	if s.connectivity != nil {
		s.SetOnlineStatus(s.connectivity.Refresh(runCtx))
	}

	s.monitor.Start(runCtx)
	s.retry.Start(runCtx)

	if s.queue.PendingCount() > 0 {
		s.wg.Add(1)
		go s.initialSync(runCtx, stopCh)
	}

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"probe_interval": s.config.ProbeInterval.String(),
		"retry_interval": s.config.RetryInterval.String(),
		"pending":        s.queue.PendingCount(),
	})
}

// Stop stops the scheduler gracefully. An in-flight pass is canceled and
// its unresolved items stay pending for the next run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		s.wg.Wait() // passes started by TriggerSync
		return
	}
	s.isRunning = false
	close(s.stopCh)
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.monitor.Stop()
	s.retry.Stop()
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// Pause suspends periodic probing and retries, e.g. while the station's
// screen is hidden. Connectivity events and TriggerSync still work.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.monitor.Pause()
	s.retry.Pause()
}

// Resume restarts periodic work and probes connectivity immediately.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.monitor.Resume()
	s.retry.Resume()
	s.monitor.RunNow()
}

// OnConnectivityChange registers fn to be called on every online/offline
// transition. Listeners run synchronously on the monitoring goroutine.
func (s *Scheduler) OnConnectivityChange(fn func(online bool)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.connListeners = append(s.connListeners, fn)
}

// OnSyncStart registers fn to be called when a pass starts sending
// pending items, whichever trigger ran it. Skipped and empty passes do not
// call it.
func (s *Scheduler) OnSyncStart(fn func(pending int)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.startListeners = append(s.startListeners, fn)
}

// OnSyncComplete registers fn to receive the report of every pass that
// resolved at least one item.
func (s *Scheduler) OnSyncComplete(fn func(report models.SyncReport)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.syncListeners = append(s.syncListeners, fn)
}

// SetOnlineStatus records the connectivity state. A transition from
// offline to online triggers a sync pass.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}

	logging.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  isOnline,
	})

	s.listenerMu.RLock()
	listeners := append([]func(bool){}, s.connListeners...)
	s.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(isOnline)
	}

	if isOnline {
		logging.Info("Connection restored, syncing offline check-ins",
			map[string]interface{}{"pending": s.queue.PendingCount()})
		s.TriggerSync(s.baseContext())
	}
}

// TriggerSync starts a pass in the background. Returns false if a pass is
// already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if s.queue.IsSyncing() {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSync(ctx)
	}()
	return true
}

// SyncNow runs a pass and waits for it. Returns ErrSyncInProgress or
// ErrOffline when the pass was skipped.
func (s *Scheduler) SyncNow(ctx context.Context) (models.SyncReport, error) {
	report := s.runSync(ctx)
	if report.Skipped {
		switch report.Reason {
		case queue.ReasonInProgress:
			return report, errors.New(errors.ErrSyncInProgress, "sync already in progress")
		case queue.ReasonOffline:
			return report, errors.New(errors.ErrOffline, "check-in server unreachable")
		}
	}
	return report, nil
}

// runSync executes a sync pass.
func (s *Scheduler) runSync(ctx context.Context) models.SyncReport {
	syncCtx, cancel := context.WithTimeout(ctx, s.config.SyncTimeout)
	defer cancel()

	report := s.queue.Sync(syncCtx, s.validate)
	if report.Skipped {
		logging.Debug("Sync skipped", map[string]interface{}{"reason": report.Reason})
		if report.Reason == queue.ReasonOffline {
			s.SetOnlineStatus(false)
		}
		return report
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	r := report
	s.lastReport = &r
	s.mu.Unlock()

	if report.SyncedCount == 0 && report.FailedCount == 0 {
		return report
	}

	s.listenerMu.RLock()
	listeners := append([]func(models.SyncReport){}, s.syncListeners...)
	s.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(report)
	}
	return report
}

func (s *Scheduler) notifySyncStart(pending int) {
	s.listenerMu.RLock()
	listeners := append([]func(int){}, s.startListeners...)
	s.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(pending)
	}
}

// CheckConnectivity probes the server now and records the result, e.g.
// after the connectivity mode was switched. Returns the new state.
func (s *Scheduler) CheckConnectivity(ctx context.Context) bool {
	if s.connectivity == nil {
		return s.IsOnline()
	}
	online := s.connectivity.Refresh(ctx)
	s.SetOnlineStatus(online)
	return online
}

// checkConnectivity is the monitor task body.
func (s *Scheduler) checkConnectivity(ctx context.Context) {
	s.CheckConnectivity(ctx)
}

// retryPending is the retry task body.
func (s *Scheduler) retryPending(ctx context.Context) {
	if !s.IsOnline() || s.queue.PendingCount()+s.queue.FailedCount() == 0 {
		return
	}
	if s.queue.IsSyncing() {
		logging.Debug("Sync already in progress, skipping", nil)
		return
	}
	s.runSync(ctx)
}

func (s *Scheduler) initialSync(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	timer := time.NewTimer(s.config.InitialSyncDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-stopCh:
		return
	case <-timer.C:
	}

	if s.IsOnline() {
		logging.Info("Replaying offline check-ins from previous session",
			map[string]interface{}{"pending": s.queue.PendingCount()})
		s.runSync(ctx)
	}
}

// baseContext returns the running scheduler's context, or Background when
// the scheduler is stopped.
func (s *Scheduler) baseContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.isRunning && s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}

// SchedulerStatus is a snapshot of scheduler and queue state.
type SchedulerStatus struct {
	IsRunning      bool               `json:"is_running"`
	IsOnline       bool               `json:"is_online"`
	Paused         bool               `json:"paused"`
	SyncInProgress bool               `json:"sync_in_progress"`
	LastSyncTime   *time.Time         `json:"last_sync_time,omitempty"`
	LastReport     *models.SyncReport `json:"last_report,omitempty"`
	Queue          models.QueueStats  `json:"queue"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning: s.isRunning,
		IsOnline:  s.isOnline,
		Paused:    s.paused,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if s.lastReport != nil {
		r := *s.lastReport
		status.LastReport = &r
	}
	s.mu.RUnlock()

	status.SyncInProgress = s.queue.IsSyncing()
	status.Queue = s.queue.Stats()
	return status
}

// IsOnline returns the last known connectivity state.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
