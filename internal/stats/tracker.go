// Package stats keeps the station's daily scan counters.
package stats

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/lightera/checkin-station/internal/db"
	"github.com/lightera/checkin-station/internal/errors"
	"github.com/lightera/checkin-station/internal/logging"
	"github.com/lightera/checkin-station/internal/models"
)

// Storage keys.
const (
	StatsKey = "scannerStats"
	ResetKey = "lastStatsReset"
)

const dateLayout = "2006-01-02"

// Tracker counts scans for the current local day. Counters are written
// through to the KV store and start from zero on the first use each day.
type Tracker struct {
	mu    sync.Mutex
	store db.KeyValueStore
	stats models.ScannerStats
	day   string
	now   func() time.Time
}

// NewTracker creates a tracker. Call Load to restore today's counters.
func NewTracker(store db.KeyValueStore) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Load restores stored counters, discarding them if they belong to an
// earlier day.
func (t *Tracker) Load() models.ScannerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats = models.ScannerStats{}
	if raw, found, err := t.store.Get(StatsKey); err != nil {
		logging.WarnWithCode("Failed to load scanner stats", string(errors.CodeOf(err)), err, nil)
	} else if found {
		if err := json.Unmarshal([]byte(raw), &t.stats); err != nil {
			logging.WarnWithCode("Discarding unreadable scanner stats", string(errors.ErrCorrupt), err, nil)
			t.stats = models.ScannerStats{}
		}
	}

	lastReset, _, err := t.store.Get(ResetKey)
	if err != nil {
		logging.WarnWithCode("Failed to load stats reset date", string(errors.CodeOf(err)), err, nil)
	}
	t.day = lastReset
	t.rolloverLocked()
	return t.stats
}

// RecordScan counts a scan attempt.
func (t *Tracker) RecordScan() models.ScannerStats {
	return t.update(func(s *models.ScannerStats) { s.ScansToday++ })
}

// RecordSuccess counts a completed check-in.
func (t *Tracker) RecordSuccess() models.ScannerStats {
	return t.update(func(s *models.ScannerStats) { s.SuccessfulCheckins++ })
}

// RecordFailure counts a rejected or errored scan.
func (t *Tracker) RecordFailure() models.ScannerStats {
	return t.update(func(s *models.ScannerStats) { s.FailedScans++ })
}

// RecordDuplicate counts a scan of an already checked-in participant.
func (t *Tracker) RecordDuplicate() models.ScannerStats {
	return t.update(func(s *models.ScannerStats) { s.DuplicateAttempts++ })
}

// Stats returns today's counters.
func (t *Tracker) Stats() models.ScannerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return t.stats
}

// Reset zeroes the counters.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = models.ScannerStats{}
	t.saveLocked()
}

func (t *Tracker) update(fn func(s *models.ScannerStats)) models.ScannerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	fn(&t.stats)
	t.saveLocked()
	return t.stats
}

// rolloverLocked zeroes the counters when the local date has changed.
func (t *Tracker) rolloverLocked() {
	today := t.now().Format(dateLayout)
	if t.day == today {
		return
	}
	if t.day != "" {
		logging.Info("Resetting daily scanner stats", map[string]interface{}{
			"previous_day": t.day,
			"today":        today,
		})
	}
	t.stats = models.ScannerStats{}
	t.day = today
	if err := t.store.Set(ResetKey, today); err != nil {
		logging.WarnWithCode("Failed to save stats reset date", string(errors.CodeOf(err)), err, nil)
	}
	t.saveLocked()
}

func (t *Tracker) saveLocked() {
	data, err := json.Marshal(t.stats)
	if err != nil {
		logging.Error("Failed to encode scanner stats", err, nil)
		return
	}
	if err := t.store.Set(StatsKey, string(data)); err != nil {
		logging.WarnWithCode("Failed to save scanner stats", string(errors.CodeOf(err)), err, nil)
	}
}
