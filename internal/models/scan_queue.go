// Package models provides data model definitions for the check-in station.
package models

import (
	"strings"
	"time"
)

// ScanStatus is the lifecycle state of an offline scan.
type ScanStatus string

const (
	ScanStatusPending ScanStatus = "pending"
	ScanStatusSynced  ScanStatus = "synced"
	ScanStatusFailed  ScanStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s ScanStatus) Valid() bool {
	switch s {
	case ScanStatusPending, ScanStatusSynced, ScanStatusFailed:
		return true
	}
	return false
}

// ScanQueueItem is one offline-captured validation request awaiting
// reconciliation with the check-in server.
type ScanQueueItem struct {
	ID             string            `json:"id"`
	CreatedAt      time.Time         `json:"created_at"`
	Code           string            `json:"code"`
	RequestPayload ValidationRequest `json:"request_payload"`
	Status         ScanStatus        `json:"status"`
	Error          string            `json:"error,omitempty"`
	ErrorCode      string            `json:"error_code,omitempty"` // VALIDATION_NETWORK_ERROR, VALIDATION_REJECTED
	Attempts       int               `json:"attempts"`
	SyncedAt       *time.Time        `json:"synced_at,omitempty"`
}

// Clone returns a deep copy of the item.
func (i ScanQueueItem) Clone() ScanQueueItem {
	c := i
	if i.SyncedAt != nil {
		t := *i.SyncedAt
		c.SyncedAt = &t
	}
	return c
}

// NormalizeCode trims surrounding whitespace and uppercases a scanned code,
// matching what the check-in server does before lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
