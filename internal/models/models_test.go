// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// TestNormalizeCode verifies trimming and uppercasing.
func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc123", "ABC123"},
		{"  qr-0001 \n", "QR-0001"},
		{"\t", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeCode(tt.in); got != tt.want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestScanStatus_Valid verifies status validation.
func TestScanStatus_Valid(t *testing.T) {
	for _, s := range []ScanStatus{ScanStatusPending, ScanStatusSynced, ScanStatusFailed} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if ScanStatus("in_progress").Valid() {
		t.Error("unknown status should be invalid")
	}
}

// TestScanQueueItem_Clone verifies the clone does not share SyncedAt.
func TestScanQueueItem_Clone(t *testing.T) {
	now := time.Now().UTC()
	item := ScanQueueItem{ID: "1", Status: ScanStatusSynced, SyncedAt: &now}

	c := item.Clone()
	later := now.Add(time.Hour)
	*c.SyncedAt = later

	if !item.SyncedAt.Equal(now) {
		t.Error("Clone() shared the SyncedAt pointer")
	}
}

// TestScanQueueItem_JSON verifies the persisted key names.
func TestScanQueueItem_JSON(t *testing.T) {
	item := ScanQueueItem{
		ID:        "id-1",
		CreatedAt: time.Date(2025, 8, 30, 9, 0, 0, 0, time.UTC),
		Code:      "ABC123",
		RequestPayload: ValidationRequest{
			Code:     "ABC123",
			Station:  "kiosk1",
			Operator: "op1",
		},
		Status: ScanStatusPending,
	}

	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(data)

	for _, key := range []string{`"id"`, `"created_at"`, `"code"`, `"request_payload"`, `"qr_code"`, `"status":"pending"`} {
		if !strings.Contains(s, key) {
			t.Errorf("JSON %s missing %s", s, key)
		}
	}
	for _, key := range []string{`"error"`, `"synced_at"`, `"error_code"`} {
		if strings.Contains(s, key) {
			t.Errorf("JSON %s should omit %s for pending item", s, key)
		}
	}
}

// TestValidationResponse_decode verifies a duplicate check-in response
// from the server decodes as expected.
func TestValidationResponse_decode(t *testing.T) {
	body := `{"success": false, "message": "Participante já fez check-in às 09:15",
		"already_checked_in": true, "checkin_time": "09:15"}`

	var resp ValidationResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if resp.Success || !resp.AlreadyCheckedIn || resp.CheckinTime != "09:15" {
		t.Errorf("decoded = %+v", resp)
	}
}

// TestParticipantSummary_decode verifies the server's participant keys.
func TestParticipantSummary_decode(t *testing.T) {
	body := `{"id": 7, "nome": "Ana Souza", "email": "ana@example.com",
		"departamento": "TI", "dependents_count": 2, "qr_code": "QR7",
		"checked_in": true, "checkin_time": "10:02"}`

	var p ParticipantSummary
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.ID != 7 || p.Name != "Ana Souza" || p.Department != "TI" || p.DependentsCount != 2 || !p.CheckedIn {
		t.Errorf("decoded = %+v", p)
	}
}
