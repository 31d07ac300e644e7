// Package queue provides the offline scan queue: scans that could not be
// validated immediately are held in durable storage and replayed against
// the check-in server once connectivity returns.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightera/checkin-station/internal/db"
	"github.com/lightera/checkin-station/internal/errors"
	"github.com/lightera/checkin-station/internal/logging"
	"github.com/lightera/checkin-station/internal/models"
	"github.com/lightera/checkin-station/internal/uuid"
)

// DefaultStorageKey is the key holding the JSON array of queue items.
const DefaultStorageKey = "offlineCheckinQueue"

// Skip reasons reported in models.SyncReport.Reason.
const (
	ReasonOffline    = "offline"
	ReasonInProgress = "in_progress"
	ReasonEmpty      = "empty"
	ReasonCanceled   = "canceled"
)

// ValidateFunc submits one validation request to the check-in server.
// A transport failure is returned as an error; a completed call that the
// server refused is returned as a response with Success=false (or as an
// error with code VALIDATION_REJECTED).
type ValidateFunc func(ctx context.Context, req models.ValidationRequest) (*models.ValidationResponse, error)

// ConnectivityChecker reports whether the check-in server is reachable.
type ConnectivityChecker interface {
	IsOnline(ctx context.Context) bool
}

// Config holds queue configuration.
type Config struct {
	StorageKey string // Key in the KV store (default: offlineCheckinQueue)
	MaxSize    int    // Maximum number of held items, 0 = unlimited

	// RetryNetworkFailures re-arms items that failed with a network error
	// at the start of every sync pass. Items the server rejected stay
	// failed until RetryFailed is called.
	RetryNetworkFailures bool
}

// DefaultConfig returns default queue configuration.
func DefaultConfig() *Config {
	return &Config{
		StorageKey:           DefaultStorageKey,
		MaxSize:              10000,
		RetryNetworkFailures: true,
	}
}

// OfflineScanQueue holds scans awaiting reconciliation with the server.
// The in-memory list is written through to the KV store after every
// mutation. At most one Sync pass runs at a time.
type OfflineScanQueue struct {
	mu           sync.Mutex
	items        []*models.ScanQueueItem
	store        db.KeyValueStore
	connectivity ConnectivityChecker
	config       Config
	lastStoreErr error

	syncing atomic.Bool

	hookMu     sync.Mutex
	startHooks []func(pending int)

	newID uuid.Generator
	now   func() time.Time
}

// NewOfflineScanQueue creates an empty queue. Call LoadPersisted to pick up
// items stored by a previous run.
func NewOfflineScanQueue(store db.KeyValueStore, connectivity ConnectivityChecker, config *Config) *OfflineScanQueue {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.StorageKey == "" {
		cfg.StorageKey = DefaultStorageKey
	}

	return &OfflineScanQueue{
		store:        store,
		connectivity: connectivity,
		config:       cfg,
		newID:        uuid.New,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue adds a pending scan and persists the queue. It makes no network
// call. payload.Code is filled from code when empty.
func (q *OfflineScanQueue) Enqueue(code string, payload models.ValidationRequest) (*models.ScanQueueItem, error) {
	code = models.NormalizeCode(code)
	if code == "" {
		return nil, errors.New(errors.ErrInvalid, "scan code is required")
	}
	if payload.Code == "" {
		payload.Code = code
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.config.MaxSize > 0 && len(q.items) >= q.config.MaxSize {
		return nil, errors.New(errors.ErrQueueFull, fmt.Sprintf("queue is full (max size: %d)", q.config.MaxSize))
	}

	item := &models.ScanQueueItem{
		ID:             q.uniqueIDLocked(),
		CreatedAt:      q.now(),
		Code:           code,
		RequestPayload: payload,
		Status:         models.ScanStatusPending,
	}
	q.items = append(q.items, item)
	q.persistLocked()

	logging.Info("Queued offline scan", map[string]interface{}{
		"item_id": item.ID,
		"code":    item.Code,
		"size":    len(q.items),
	})

	c := item.Clone()
	return &c, nil
}

// uniqueIDLocked draws IDs until one is not in use.
func (q *OfflineScanQueue) uniqueIDLocked() string {
	for {
		id := q.newID()
		if q.indexLocked(id) < 0 {
			return id
		}
	}
}

func (q *OfflineScanQueue) indexLocked(id string) int {
	for i, item := range q.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// LoadPersisted replaces the in-memory queue with the stored one and
// returns a copy of it. Unreadable or corrupt data resets the queue to
// empty and is logged; it never fails.
func (q *OfflineScanQueue) LoadPersisted() []models.ScanQueueItem {
	loaded := q.readStore()

	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = loaded
	return q.snapshotLocked()
}

func (q *OfflineScanQueue) readStore() []*models.ScanQueueItem {
	key := q.config.StorageKey

	raw, found, err := q.store.Get(key)
	if err != nil {
		logging.ErrorWithCode("Failed to load offline queue, starting empty", string(errors.ErrStorage), err,
			map[string]interface{}{"key": key})
		return nil
	}
	if !found || raw == "" {
		return nil
	}

	var stored []models.ScanQueueItem
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		logging.ErrorWithCode("Offline queue data is corrupt, starting empty", string(errors.ErrStorage), err,
			map[string]interface{}{"key": key, "bytes": len(raw)})
		return nil
	}

	items := make([]*models.ScanQueueItem, 0, len(stored))
	seen := make(map[string]bool, len(stored))
	for i := range stored {
		item := stored[i]
		switch {
		case item.ID == "":
			logging.Warn("Dropping stored queue item without id", map[string]interface{}{"code": item.Code})
			continue
		case seen[item.ID]:
			logging.Warn("Dropping duplicate stored queue item", map[string]interface{}{"item_id": item.ID})
			continue
		case item.Status == models.ScanStatusSynced:
			// synced items are evicted; one left behind was already delivered
			continue
		case !item.Status.Valid():
			logging.Warn("Resetting stored queue item with unknown status",
				map[string]interface{}{"item_id": item.ID, "status": string(item.Status)})
			item.Status = models.ScanStatusPending
			item.Error = ""
			item.ErrorCode = ""
		}
		seen[item.ID] = true
		items = append(items, &item)
	}
	return items
}

// Persist replaces the queue with items and writes it to storage. Synced
// items and repeated IDs are dropped. Storage failures are logged and the
// in-memory queue stays authoritative.
func (q *OfflineScanQueue) Persist(items []models.ScanQueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := make([]*models.ScanQueueItem, 0, len(items))
	seen := make(map[string]bool, len(items))
	for i := range items {
		if items[i].ID == "" || seen[items[i].ID] || items[i].Status == models.ScanStatusSynced {
			continue
		}
		seen[items[i].ID] = true
		c := items[i].Clone()
		next = append(next, &c)
	}
	q.items = next
	q.persistLocked()
}

// persistLocked writes the current in-memory list to storage.
func (q *OfflineScanQueue) persistLocked() {
	list := make([]*models.ScanQueueItem, 0, len(q.items))
	for _, item := range q.items {
		if item.Status != models.ScanStatusSynced {
			list = append(list, item)
		}
	}

	data, err := json.Marshal(list)
	if err != nil {
		q.lastStoreErr = errors.Wrap(errors.ErrStorage, "failed to encode offline queue", err)
		logging.ErrorWithCode("Failed to encode offline queue", string(errors.ErrStorage), err, nil)
		return
	}

	if err := q.store.Set(q.config.StorageKey, string(data)); err != nil {
		q.lastStoreErr = err
		logging.ErrorWithCode("Failed to persist offline queue", string(errors.ErrStorage), err,
			map[string]interface{}{"key": q.config.StorageKey, "items": len(q.items)})
		return
	}
	q.lastStoreErr = nil
}

type itemResult struct {
	status   models.ScanStatus
	message  string
	code     errors.ErrorCode
	syncedAt time.Time
}

type pendingScan struct {
	id      string
	code    string
	payload models.ValidationRequest
}

// OnSyncStart registers fn to be called when a pass has pending items to
// send, before the first validation. fn receives the batch size and must
// not block.
func (q *OfflineScanQueue) OnSyncStart(fn func(pending int)) {
	q.hookMu.Lock()
	defer q.hookMu.Unlock()
	q.startHooks = append(q.startHooks, fn)
}

// Sync replays every pending item against validate, one at a time in
// enqueue order. It is a no-op (empty, Skipped report) when offline or when
// another pass is already running. Items enqueued while the pass runs are
// left for the next pass. Each item moves to synced or failed as soon as
// its validation returns; synced items are dropped and the queue is
// persisted once every item in the pass has resolved.
func (q *OfflineScanQueue) Sync(ctx context.Context, validate ValidateFunc) models.SyncReport {
	if !q.syncing.CompareAndSwap(false, true) {
		logging.Debug("Sync already in progress, skipping", nil)
		return models.SyncReport{Skipped: true, Reason: ReasonInProgress}
	}
	defer q.syncing.Store(false)

	if q.connectivity != nil && !q.connectivity.IsOnline(ctx) {
		logging.Debug("Skipping sync - offline", nil)
		return models.SyncReport{Skipped: true, Reason: ReasonOffline}
	}

	batch := q.takeSnapshot()
	if len(batch) == 0 {
		return models.SyncReport{Reason: ReasonEmpty}
	}

	logging.Info("Syncing offline check-ins", map[string]interface{}{"count": len(batch)})

	q.hookMu.Lock()
	hooks := append([]func(int){}, q.startHooks...)
	q.hookMu.Unlock()
	for _, fn := range hooks {
		fn(len(batch))
	}

	resolved := 0
	for _, scan := range batch {
		if ctx.Err() != nil {
			break
		}
		q.recordResult(scan.id, q.validateOne(ctx, validate, scan))
		resolved++
	}

	report := q.finishPass(batch[:resolved])
	if resolved < len(batch) {
		report.Reason = ReasonCanceled
		logging.Warn("Sync pass canceled, unresolved items stay pending",
			map[string]interface{}{"resolved": resolved, "total": len(batch)})
	}

	logging.Info("Offline sync completed", map[string]interface{}{
		"synced": report.SyncedCount,
		"failed": report.FailedCount,
	})
	return report
}

// takeSnapshot re-arms retryable failures and copies out the pending items.
func (q *OfflineScanQueue) takeSnapshot() []pendingScan {
	q.mu.Lock()
	defer q.mu.Unlock()

	rearmed := 0
	if q.config.RetryNetworkFailures {
		for _, item := range q.items {
			if item.Status == models.ScanStatusFailed && item.ErrorCode == string(errors.ErrValidationNetwork) {
				item.Status = models.ScanStatusPending
				item.Error = ""
				item.ErrorCode = ""
				rearmed++
			}
		}
	}
	if rearmed > 0 {
		q.persistLocked()
	}

	var batch []pendingScan
	for _, item := range q.items {
		if item.Status == models.ScanStatusPending {
			batch = append(batch, pendingScan{id: item.ID, code: item.Code, payload: item.RequestPayload})
		}
	}
	return batch
}

// validateOne runs a single validation and classifies the outcome.
func (q *OfflineScanQueue) validateOne(ctx context.Context, validate ValidateFunc, scan pendingScan) itemResult {
	resp, err := validate(ctx, scan.payload)

	var result itemResult
	switch {
	case err != nil && errors.Is(err, errors.ErrValidationRejected):
		result = itemResult{status: models.ScanStatusFailed, message: errors.MessageOf(err), code: errors.ErrValidationRejected}
	case err != nil:
		result = itemResult{status: models.ScanStatusFailed, message: errors.MessageOf(err), code: errors.ErrValidationNetwork}
	case resp == nil:
		result = itemResult{status: models.ScanStatusFailed, message: "empty response from server", code: errors.ErrValidationNetwork}
	case !resp.Success:
		msg := resp.Message
		if msg == "" {
			msg = "Sync failed"
		}
		result = itemResult{status: models.ScanStatusFailed, message: msg, code: errors.ErrValidationRejected}
	default:
		result = itemResult{status: models.ScanStatusSynced, syncedAt: q.now()}
	}

	if result.status == models.ScanStatusSynced {
		logging.Info("Synced offline check-in", map[string]interface{}{
			"item_id":   scan.id,
			"code":      scan.code,
			"synced_at": result.syncedAt.Format(time.RFC3339),
		})
	} else {
		logging.WarnWithCode("Failed to sync offline check-in", string(result.code), err,
			map[string]interface{}{"item_id": scan.id, "code": scan.code, "message": result.message})
	}
	return result
}

// recordResult applies one outcome to the in-memory item. Storage is not
// touched until the pass finishes. An item discarded mid-pass is ignored.
func (q *OfflineScanQueue) recordResult(id string, res itemResult) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return
	}
	item := q.items[i]
	item.Attempts++
	item.Status = res.status
	if res.status == models.ScanStatusSynced {
		syncedAt := res.syncedAt
		item.SyncedAt = &syncedAt
		item.Error = ""
		item.ErrorCode = ""
		return
	}
	item.Error = res.message
	item.ErrorCode = string(res.code)
}

// finishPass reports the resolved items, evicts the synced ones and
// persists once.
func (q *OfflineScanQueue) finishPass(resolved []pendingScan) models.SyncReport {
	q.mu.Lock()
	defer q.mu.Unlock()

	inPass := make(map[string]bool, len(resolved))
	for _, scan := range resolved {
		inPass[scan.id] = true
	}

	var report models.SyncReport
	kept := q.items[:0:0]
	for _, item := range q.items {
		if inPass[item.ID] {
			switch item.Status {
			case models.ScanStatusSynced:
				report.SyncedCount++
				synced := models.SyncedScan{ID: item.ID, Code: item.Code}
				if item.SyncedAt != nil {
					synced.SyncedAt = *item.SyncedAt
				}
				report.Synced = append(report.Synced, synced)
				continue
			case models.ScanStatusFailed:
				report.FailedCount++
			}
		}
		kept = append(kept, item)
	}
	q.items = kept
	q.persistLocked()

	return report
}

// IsSyncing reports whether a sync pass is running.
func (q *OfflineScanQueue) IsSyncing() bool {
	return q.syncing.Load()
}

// PendingCount returns the number of items awaiting a sync pass.
func (q *OfflineScanQueue) PendingCount() int {
	return q.countStatus(models.ScanStatusPending)
}

// FailedCount returns the number of items whose last sync attempt failed.
func (q *OfflineScanQueue) FailedCount() int {
	return q.countStatus(models.ScanStatusFailed)
}

func (q *OfflineScanQueue) countStatus(status models.ScanStatus) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, item := range q.items {
		if item.Status == status {
			n++
		}
	}
	return n
}

// Size returns the number of items in the queue.
func (q *OfflineScanQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns item counts for UI badges.
func (q *OfflineScanQueue) Stats() models.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := models.QueueStats{Total: len(q.items)}
	for _, item := range q.items {
		switch item.Status {
		case models.ScanStatusPending:
			stats.Pending++
		case models.ScanStatusFailed:
			stats.Failed++
		case models.ScanStatusSynced:
			stats.Synced++
		}
	}
	return stats
}

// Items returns a copy of the queue in enqueue order.
func (q *OfflineScanQueue) Items() []models.ScanQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *OfflineScanQueue) snapshotLocked() []models.ScanQueueItem {
	out := make([]models.ScanQueueItem, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, item.Clone())
	}
	return out
}

// Get returns a copy of a specific item.
func (q *OfflineScanQueue) Get(id string) (*models.ScanQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return nil, errors.New(errors.ErrNotFound, fmt.Sprintf("item %s not found", id))
	}
	c := q.items[i].Clone()
	return &c, nil
}

// RetryFailed resets all failed items to pending so the next pass
// resubmits them. It returns the number of items reset.
func (q *OfflineScanQueue) RetryFailed() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, item := range q.items {
		if item.Status == models.ScanStatusFailed {
			item.Status = models.ScanStatusPending
			item.Error = ""
			item.ErrorCode = ""
			count++
		}
	}

	if count > 0 {
		q.persistLocked()
		logging.Info("Reset failed items for retry", map[string]interface{}{"count": count})
	}
	return count
}

// Discard removes an item the operator has dealt with by other means.
func (q *OfflineScanQueue) Discard(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return errors.New(errors.ErrNotFound, fmt.Sprintf("item %s not found", id))
	}
	q.items = append(q.items[:i], q.items[i+1:]...)
	q.persistLocked()

	logging.Info("Discarded queue item", map[string]interface{}{"item_id": id})
	return nil
}

// LastStorageError returns the error of the most recent failed write, or
// nil if the last write succeeded.
func (q *OfflineScanQueue) LastStorageError() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastStoreErr
}
