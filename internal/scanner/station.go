// Package scanner implements a check-in station: it validates scanned
// codes against the check-in server and falls back to the offline queue
// when the server cannot be reached.
package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/lightera/checkin-station/internal/errors"
	"github.com/lightera/checkin-station/internal/logging"
	"github.com/lightera/checkin-station/internal/models"
	"github.com/lightera/checkin-station/internal/stats"
	"github.com/lightera/checkin-station/internal/sync/queue"
)

// Messages shown for outcomes decided locally.
const (
	MessageQueuedOffline = "Saved offline, will sync when the connection returns"
	MessageConnection    = "Connection error, try again"
	MessageQueueFailed   = "Could not save scan offline"
)

// CheckinServer is the subset of the server client the station uses.
type CheckinServer interface {
	ValidateScan(ctx context.Context, req models.ValidationRequest) (*models.ValidationResponse, error)
	ManualCheckin(ctx context.Context, req models.ManualCheckinRequest) (*models.ValidationResponse, error)
	SearchParticipants(ctx context.Context, query string) ([]models.ParticipantSummary, bool, error)
	DashboardStats(ctx context.Context) (*models.DashboardStats, bool, error)
}

// Connectivity is implemented by sync.Connectivity.
type Connectivity interface {
	IsOnline(ctx context.Context) bool
	Invalidate()
}

// EventSink receives station events for connected UIs.
type EventSink interface {
	BroadcastScanResult(result models.ScanResult)
	BroadcastSyncStarted(pending int)
	BroadcastSyncCompleted(report models.SyncReport)
	BroadcastConnectivityChanged(online bool)
}

// Config identifies the station on check-in records.
type Config struct {
	Station        string // Sent as "station" (default: scanner)
	Operator       string // Sent as "operator" (default: Sistema Scanner)
	ManualStation  string // Station name for manual check-ins (default: manual-search)
	ManualOperator string // Operator for manual check-ins (default: Busca Manual)
	RecentLimit    int    // Number of recent scans kept (default: 10)
}

// DefaultConfig returns default station configuration.
func DefaultConfig() *Config {
	return &Config{
		Station:        "scanner",
		Operator:       "Sistema Scanner",
		ManualStation:  "manual-search",
		ManualOperator: "Busca Manual",
		RecentLimit:    10,
	}
}

// Station handles scans for one check-in point.
type Station struct {
	config       Config
	server       CheckinServer
	queue        *queue.OfflineScanQueue
	connectivity Connectivity
	stats        *stats.Tracker

	mu     sync.RWMutex
	recent []models.ScanResult
	events []EventSink

	now func() time.Time
}

// NewStation creates a station.
func NewStation(server CheckinServer, q *queue.OfflineScanQueue, connectivity Connectivity, tracker *stats.Tracker, config *Config) *Station {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.Station == "" {
		cfg.Station = defaults.Station
	}
	if cfg.Operator == "" {
		cfg.Operator = defaults.Operator
	}
	if cfg.ManualStation == "" {
		cfg.ManualStation = defaults.ManualStation
	}
	if cfg.ManualOperator == "" {
		cfg.ManualOperator = defaults.ManualOperator
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = defaults.RecentLimit
	}

	return &Station{
		config:       cfg,
		server:       server,
		queue:        q,
		connectivity: connectivity,
		stats:        tracker,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// AddEventSink registers a receiver for station events.
func (s *Station) AddEventSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sink)
}

// Scan checks in the holder of code. When the server is unreachable the
// scan is queued and reported as queued_offline. The returned error is
// non-nil only when the scan could not be handled at all.
func (s *Station) Scan(ctx context.Context, code string) (models.ScanResult, error) {
	code = models.NormalizeCode(code)
	if code == "" {
		return models.ScanResult{}, errors.New(errors.ErrInvalid, "code is required")
	}

	s.stats.RecordScan()
	req := models.ValidationRequest{Code: code, Station: s.config.Station, Operator: s.config.Operator}

	if !s.connectivity.IsOnline(ctx) {
		return s.queueOffline(code, req)
	}

	resp, err := s.server.ValidateScan(ctx, req)
	switch {
	case err == nil:
		return s.finish(s.checkedIn(code, resp)), nil
	case errors.Is(err, errors.ErrValidationRejected):
		return s.finish(s.refused(code, resp, errors.MessageOf(err))), nil
	}

	logging.WarnWithCode("Scan validation failed", string(errors.CodeOf(err)), err,
		map[string]interface{}{"code": code})
	s.connectivity.Invalidate()
	if !s.connectivity.IsOnline(ctx) {
		return s.queueOffline(code, req)
	}

	s.stats.RecordFailure()
	return s.finish(models.ScanResult{Code: code, Outcome: models.OutcomeError, Message: MessageConnection}), nil
}

// ManualCheckin checks in a participant chosen from search results. It
// requires the server; nothing is queued.
func (s *Station) ManualCheckin(ctx context.Context, participantID int64) (models.ScanResult, error) {
	if participantID <= 0 {
		return models.ScanResult{}, errors.New(errors.ErrInvalid, "participant_id is required")
	}

	resp, err := s.server.ManualCheckin(ctx, models.ManualCheckinRequest{
		ParticipantID: participantID,
		Station:       s.config.ManualStation,
		Operator:      s.config.ManualOperator,
	})
	switch {
	case err == nil:
		return s.finish(s.checkedIn("", resp)), nil
	case errors.Is(err, errors.ErrValidationRejected):
		return s.finish(s.refused("", resp, errors.MessageOf(err))), nil
	}

	s.connectivity.Invalidate()
	return models.ScanResult{}, errors.Wrap(errors.ErrOffline, "manual check-in needs the server", err)
}

// Search finds participants by name. Queries under two characters return
// an empty list. stale reports a cached answer served while offline.
func (s *Station) Search(ctx context.Context, query string) (results []models.ParticipantSummary, stale bool, err error) {
	return s.server.SearchParticipants(ctx, query)
}

// Dashboard returns event-wide totals from the server, or the last cached
// copy while offline.
func (s *Station) Dashboard(ctx context.Context) (*models.DashboardStats, bool, error) {
	return s.server.DashboardStats(ctx)
}

// RecentScans returns the latest scans, newest first.
func (s *Station) RecentScans() []models.ScanResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ScanResult, len(s.recent))
	copy(out, s.recent)
	return out
}

// Stats returns today's scan counters.
func (s *Station) Stats() models.ScannerStats {
	return s.stats.Stats()
}

// NotifySyncStarted forwards the start of a pass over pending items to
// event sinks.
func (s *Station) NotifySyncStarted(pending int) {
	for _, sink := range s.sinks() {
		sink.BroadcastSyncStarted(pending)
	}
}

// NotifySyncCompleted forwards a finished pass to event sinks.
func (s *Station) NotifySyncCompleted(report models.SyncReport) {
	for _, sink := range s.sinks() {
		sink.BroadcastSyncCompleted(report)
	}
}

// NotifyConnectivity forwards a connectivity transition to event sinks.
func (s *Station) NotifyConnectivity(online bool) {
	for _, sink := range s.sinks() {
		sink.BroadcastConnectivityChanged(online)
	}
}

func (s *Station) queueOffline(code string, req models.ValidationRequest) (models.ScanResult, error) {
	item, err := s.queue.Enqueue(code, req)
	if err != nil {
		logging.ErrorWithCode("Failed to queue offline scan", string(errors.CodeOf(err)), err,
			map[string]interface{}{"code": code})
		s.stats.RecordFailure()
		return s.finish(models.ScanResult{Code: code, Outcome: models.OutcomeError, Message: MessageQueueFailed}), err
	}

	logging.Info("Scan queued offline", map[string]interface{}{"code": code, "item_id": item.ID})
	return s.finish(models.ScanResult{
		Code:        code,
		Outcome:     models.OutcomeQueuedOffline,
		Message:     MessageQueuedOffline,
		QueueItemID: item.ID,
	}), nil
}

func (s *Station) checkedIn(code string, resp *models.ValidationResponse) models.ScanResult {
	s.stats.RecordSuccess()
	result := models.ScanResult{Code: code, Outcome: models.OutcomeCheckedIn}
	if resp != nil {
		result.Message = resp.Message
		result.Participant = resp.Participant
	}
	if result.Code == "" && result.Participant != nil {
		result.Code = result.Participant.QRCode
	}
	return result
}

func (s *Station) refused(code string, resp *models.ValidationResponse, message string) models.ScanResult {
	result := models.ScanResult{Code: code, Outcome: models.OutcomeRejected, Message: message}
	if resp != nil && resp.AlreadyCheckedIn {
		result.Outcome = models.OutcomeDuplicate
		s.stats.RecordDuplicate()
	} else {
		s.stats.RecordFailure()
	}
	if resp != nil {
		result.Participant = resp.Participant
	}
	return result
}

// finish stamps the result, records it as recent and broadcasts it.
func (s *Station) finish(result models.ScanResult) models.ScanResult {
	result.ScannedAt = s.now()

	s.mu.Lock()
	s.recent = append([]models.ScanResult{result}, s.recent...)
	if len(s.recent) > s.config.RecentLimit {
		s.recent = s.recent[:s.config.RecentLimit]
	}
	s.mu.Unlock()

	for _, sink := range s.sinks() {
		sink.BroadcastScanResult(result)
	}
	return result
}

func (s *Station) sinks() []EventSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]EventSink(nil), s.events...)
}
