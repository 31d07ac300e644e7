package models

import "time"

// ValidationRequest is the body of POST /api/validate_qr.
type ValidationRequest struct {
	Code     string `json:"qr_code"`
	Station  string `json:"station"`
	Operator string `json:"operator"`
}

// ValidationResponse is the check-in server's answer to a validation or
// manual check-in request.
type ValidationResponse struct {
	Success          bool                `json:"success"`
	Message          string              `json:"message,omitempty"`
	AlreadyCheckedIn bool                `json:"already_checked_in,omitempty"`
	CheckinTime      string              `json:"checkin_time,omitempty"`
	Participant      *ParticipantSummary `json:"participant,omitempty"`
}

// ParticipantSummary is the server's participant projection. Keys follow
// the server's wire contract.
type ParticipantSummary struct {
	ID              int64  `json:"id,omitempty"`
	Name            string `json:"nome"`
	Email           string `json:"email,omitempty"`
	Department      string `json:"departamento,omitempty"`
	DependentsCount int    `json:"dependents_count,omitempty"`
	QRCode          string `json:"qr_code,omitempty"`
	CheckedIn       bool   `json:"checked_in,omitempty"`
	CheckinTime     string `json:"checkin_time,omitempty"`
}

// ManualCheckinRequest is the body of POST /api/manual_checkin.
type ManualCheckinRequest struct {
	ParticipantID int64  `json:"participant_id"`
	Station       string `json:"station"`
	Operator      string `json:"operator"`
}

// RecentCheckin is one row of the dashboard's recent check-ins list.
type RecentCheckin struct {
	Name        string `json:"nome"`
	Department  string `json:"departamento"`
	CheckinTime string `json:"checkin_time"`
	Station     string `json:"station"`
}

// DashboardStats is the body of GET /api/dashboard_stats.
type DashboardStats struct {
	TotalParticipants int             `json:"total_participants"`
	TotalCheckins     int             `json:"total_checkins"`
	PendingCheckins   int             `json:"pending_checkins"`
	RecentCheckins    []RecentCheckin `json:"recent_checkins"`
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
	Database  string `json:"database,omitempty"`
}

// ScanOutcome classifies the result of one station scan.
type ScanOutcome string

const (
	OutcomeCheckedIn     ScanOutcome = "checked_in"
	OutcomeDuplicate     ScanOutcome = "duplicate"
	OutcomeRejected      ScanOutcome = "rejected"
	OutcomeQueuedOffline ScanOutcome = "queued_offline"
	OutcomeError         ScanOutcome = "error"
)

// ScanResult is what the station reports back for a scan.
type ScanResult struct {
	Code        string              `json:"code"`
	Outcome     ScanOutcome         `json:"outcome"`
	Message     string              `json:"message,omitempty"`
	Participant *ParticipantSummary `json:"participant,omitempty"`
	QueueItemID string              `json:"queue_item_id,omitempty"`
	ScannedAt   time.Time           `json:"scanned_at"`
}
