package models

import "time"

// ScannerStats holds the station's daily counters.
type ScannerStats struct {
	ScansToday         int `json:"scans_today"`
	SuccessfulCheckins int `json:"successful_checkins"`
	FailedScans        int `json:"failed_scans"`
	DuplicateAttempts  int `json:"duplicate_attempts"`
}

// QueueStats counts queue items per status for UI badges.
type QueueStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
	Synced  int `json:"synced,omitempty"` // Only non-zero while a pass is running
}

// SyncReport summarizes one sync pass.
type SyncReport struct {
	SyncedCount int    `json:"synced_count"`
	FailedCount int    `json:"failed_count"`
	Skipped     bool   `json:"skipped,omitempty"`
	Reason      string `json:"reason,omitempty"` // offline, in_progress, empty

	// Synced lists the items the pass checked in, in enqueue order. They
	// are no longer in the queue.
	Synced []SyncedScan `json:"synced,omitempty"`
}

// SyncedScan records one offline scan accepted by the server.
type SyncedScan struct {
	ID       string    `json:"id"`
	Code     string    `json:"code"`
	SyncedAt time.Time `json:"synced_at"`
}
