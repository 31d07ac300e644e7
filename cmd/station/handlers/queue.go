package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/lightera/checkin-station/internal/errors"
	"github.com/lightera/checkin-station/internal/models"
	syncpkg "github.com/lightera/checkin-station/internal/sync"
	"github.com/lightera/checkin-station/internal/sync/queue"
	"github.com/lightera/checkin-station/internal/sync/scheduler"
)

// Syncer runs sync passes and owns the background work.
type Syncer interface {
	SyncNow(ctx context.Context) (models.SyncReport, error)
	GetStatus() scheduler.SchedulerStatus
	CheckConnectivity(ctx context.Context) bool
	Pause()
	Resume()
}

// ModeSwitcher reads and overrides connectivity detection.
type ModeSwitcher interface {
	Mode() syncpkg.Mode
	SetMode(mode syncpkg.Mode)
}

// QueueHandler handles the offline queue, sync and connectivity endpoints.
type QueueHandler struct {
	queue  *queue.OfflineScanQueue
	syncer Syncer
	modes  ModeSwitcher
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(q *queue.OfflineScanQueue, syncer Syncer, modes ModeSwitcher) *QueueHandler {
	return &QueueHandler{queue: q, syncer: syncer, modes: modes}
}

// ListQueue handles GET /api/queue
func (h *QueueHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": h.queue.Items(),
		"stats": h.queue.Stats(),
	})
}

// QueueStats handles GET /api/queue/stats
func (h *QueueHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queue.Stats())
}

// SyncNow handles POST /api/queue/sync
// Runs a pass and waits for its report.
func (h *QueueHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	report, err := h.syncer.SyncNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"report": report,
		"stats":  h.queue.Stats(),
	})
}

// RetryFailed handles POST /api/queue/retry
// Re-arms failed items; they are sent on the next pass.
func (h *QueueHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	rearmed := h.queue.RetryFailed()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rearmed": rearmed,
		"stats":   h.queue.Stats(),
	})
}

// DiscardItem handles DELETE /api/queue/{id}
func (h *QueueHandler) DiscardItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, errors.New(errors.ErrInvalid, "id is required"))
		return
	}
	if err := h.queue.Discard(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /api/health
func (h *QueueHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.syncer.GetStatus()

	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"online":    status.IsOnline,
		"mode":      h.modes.Mode().String(),
		"scheduler": status,
	}
	if err := h.queue.LastStorageError(); err != nil {
		response["status"] = "degraded"
		response["storage_error"] = errors.MessageOf(err)
	}
	writeJSON(w, http.StatusOK, response)
}

// PauseScheduler handles POST /api/scheduler/pause
// The UI calls it when the station screen is hidden.
func (h *QueueHandler) PauseScheduler(w http.ResponseWriter, r *http.Request) {
	h.syncer.Pause()
	writeJSON(w, http.StatusOK, map[string]interface{}{"scheduler": h.syncer.GetStatus()})
}

// ResumeScheduler handles POST /api/scheduler/resume
func (h *QueueHandler) ResumeScheduler(w http.ResponseWriter, r *http.Request) {
	h.syncer.Resume()
	writeJSON(w, http.StatusOK, map[string]interface{}{"scheduler": h.syncer.GetStatus()})
}

// ModeRequest is the body of PUT /api/mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// GetMode handles GET /api/mode
func (h *QueueHandler) GetMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":   h.modes.Mode().String(),
		"online": h.syncer.GetStatus().IsOnline,
	})
}

// SetMode handles PUT /api/mode
// Switches between probing and forced online/offline, then probes at once
// so a switch back online replays the queue.
func (h *QueueHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	mode, ok := syncpkg.ParseMode(req.Mode)
	if !ok || req.Mode == "" {
		writeError(w, errors.New(errors.ErrInvalid, "mode must be auto, online or offline"))
		return
	}

	h.modes.SetMode(mode)
	online := h.syncer.CheckConnectivity(r.Context())

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":   mode.String(),
		"online": online,
	})
}
