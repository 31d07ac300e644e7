package handlers

import (
	"context"
	"net/http"

	"github.com/lightera/checkin-station/internal/models"
)

// Station is the scanner station the handlers drive.
type Station interface {
	Scan(ctx context.Context, code string) (models.ScanResult, error)
	ManualCheckin(ctx context.Context, participantID int64) (models.ScanResult, error)
	Search(ctx context.Context, query string) ([]models.ParticipantSummary, bool, error)
	Dashboard(ctx context.Context) (*models.DashboardStats, bool, error)
	RecentScans() []models.ScanResult
	Stats() models.ScannerStats
}

// ScanHandler handles scans, manual check-ins and station read models.
type ScanHandler struct {
	station Station
}

// NewScanHandler creates a new ScanHandler.
func NewScanHandler(station Station) *ScanHandler {
	return &ScanHandler{station: station}
}

// Scan handles POST /api/scan
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Code string `json:"code"`
	}
	if err := decodeBody(w, r, &request); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.station.Scan(r.Context(), request.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ManualCheckin handles POST /api/manual_checkin
func (h *ScanHandler) ManualCheckin(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ParticipantID int64 `json:"participant_id"`
	}
	if err := decodeBody(w, r, &request); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.station.ManualCheckin(r.Context(), request.ParticipantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Search handles GET /api/search?q=
func (h *ScanHandler) Search(w http.ResponseWriter, r *http.Request) {
	results, stale, err := h.station.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"stale":   stale,
	})
}

// Dashboard handles GET /api/dashboard
func (h *ScanHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, stale, err := h.station.Dashboard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dashboard": stats,
		"stale":     stale,
	})
}

// Stats handles GET /api/stats
func (h *ScanHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.station.Stats())
}

// Recent handles GET /api/recent
func (h *ScanHandler) Recent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.station.RecentScans())
}
