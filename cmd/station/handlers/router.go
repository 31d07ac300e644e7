package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lightera/checkin-station/internal/logging"
)

// NewRouter registers the station API routes.
func NewRouter(scan *ScanHandler, q *QueueHandler) *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	// Registered on the root router: mux only answers 405 for a wrong
	// method there, subrouters fall through to 404.
	r.HandleFunc("/api/scan", scan.Scan).Methods(http.MethodPost)
	r.HandleFunc("/api/manual_checkin", scan.ManualCheckin).Methods(http.MethodPost)
	r.HandleFunc("/api/search", scan.Search).Methods(http.MethodGet)
	r.HandleFunc("/api/dashboard", scan.Dashboard).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", scan.Stats).Methods(http.MethodGet)
	r.HandleFunc("/api/recent", scan.Recent).Methods(http.MethodGet)

	r.HandleFunc("/api/queue", q.ListQueue).Methods(http.MethodGet)
	r.HandleFunc("/api/queue/stats", q.QueueStats).Methods(http.MethodGet)
	r.HandleFunc("/api/queue/sync", q.SyncNow).Methods(http.MethodPost)
	r.HandleFunc("/api/queue/retry", q.RetryFailed).Methods(http.MethodPost)
	r.HandleFunc("/api/queue/{id}", q.DiscardItem).Methods(http.MethodDelete)

	r.HandleFunc("/api/scheduler/pause", q.PauseScheduler).Methods(http.MethodPost)
	r.HandleFunc("/api/scheduler/resume", q.ResumeScheduler).Methods(http.MethodPost)
	r.HandleFunc("/api/mode", q.GetMode).Methods(http.MethodGet)
	r.HandleFunc("/api/mode", q.SetMode).Methods(http.MethodPut)
	r.HandleFunc("/api/health", q.Health).Methods(http.MethodGet)

	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.Debug("API request", map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		})
		next.ServeHTTP(w, r)
	})
}
