package main

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/lightera/checkin-station/cmd/station/handlers"
	"github.com/lightera/checkin-station/internal/config"
	"github.com/lightera/checkin-station/internal/db"
	"github.com/lightera/checkin-station/internal/errors"
	"github.com/lightera/checkin-station/internal/logging"
	"github.com/lightera/checkin-station/internal/models"
	"github.com/lightera/checkin-station/internal/scanner"
	"github.com/lightera/checkin-station/internal/stats"
	syncpkg "github.com/lightera/checkin-station/internal/sync"
	"github.com/lightera/checkin-station/internal/sync/queue"
	"github.com/lightera/checkin-station/internal/sync/scheduler"
)

// app holds the wired station components.
type app struct {
	config       *config.Config
	database     *db.DB
	client       *syncpkg.Client
	connectivity *syncpkg.Connectivity
	queue        *queue.OfflineScanQueue
	scheduler    *scheduler.Scheduler
	station      *scanner.Station
	hub          *WSHub
	router       *mux.Router
}

// newApp opens storage and wires the station. The scheduler is not started.
func newApp(cfg *config.Config) (*app, error) {
	database, err := db.OpenAndMigrate(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	client, err := syncpkg.NewClient(cfg.ClientConfig())
	if err != nil {
		database.Close()
		return nil, err
	}

	connectivity := syncpkg.NewConnectivity(client, cfg.Sync.ProbeTTL, cfg.Sync.ProbeTimeout)
	connectivity.SetMode(cfg.Mode())

	store := db.NewSQLiteStore(database.DB)
	q := queue.NewOfflineScanQueue(store, connectivity, cfg.QueueConfig())
	restored := q.LoadPersisted()

	tracker := stats.NewTracker(store)
	tracker.Load()

	station := scanner.NewStation(client, q, connectivity, tracker, cfg.StationConfig())
	hub := NewWSHub()
	station.AddEventSink(hub)

	sched := scheduler.NewScheduler(q, client.Validator(), connectivity, cfg.SchedulerConfig())
	sched.OnConnectivityChange(station.NotifyConnectivity)
	sched.OnSyncStart(station.NotifySyncStarted)
	sched.OnSyncComplete(station.NotifySyncCompleted)

	router := handlers.NewRouter(
		handlers.NewScanHandler(station),
		handlers.NewQueueHandler(q, sched, connectivity),
	)
	router.HandleFunc("/ws", HandleWebSocket(hub))

	logging.Info("Station initialized", map[string]interface{}{
		"station":      cfg.Station.Name,
		"server":       cfg.Server.URL,
		"data_dir":     cfg.DataDir,
		"queued_scans": len(restored),
	})

	return &app{
		config:       cfg,
		database:     database,
		client:       client,
		connectivity: connectivity,
		queue:        q,
		scheduler:    sched,
		station:      station,
		hub:          hub,
		router:       router,
	}, nil
}

// Handler returns the HTTP handler for the local API.
func (a *app) Handler() http.Handler {
	return a.router
}

// Close stops background work and releases storage.
func (a *app) Close() error {
	a.scheduler.Stop()
	a.hub.Close()
	if err := a.database.Close(); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to close database", err)
	}
	return nil
}

// readCodes scans one code per input line until r is exhausted or ctx is
// done. Keyboard-wedge scanners type the code followed by Enter.
func (a *app) readCodes(ctx context.Context, r io.Reader) {
	lines := bufio.NewScanner(r)
	for lines.Scan() {
		if ctx.Err() != nil {
			return
		}
		code := strings.TrimSpace(lines.Text())
		if code == "" {
			continue
		}

		scanCtx, cancel := context.WithTimeout(ctx, a.config.Server.Timeout+time.Second)
		result, err := a.station.Scan(scanCtx, code)
		cancel()
		if err != nil {
			logging.ErrorWithCode("Scan failed", string(errors.CodeOf(err)), err, map[string]interface{}{"code": code})
			continue
		}
		logScanResult(result)
	}
	if err := lines.Err(); err != nil {
		logging.Error("Failed to read scanner input", err, nil)
	}
}

func logScanResult(result models.ScanResult) {
	fields := map[string]interface{}{
		"code":    result.Code,
		"outcome": string(result.Outcome),
		"message": result.Message,
	}
	if result.Participant != nil {
		fields["participant"] = result.Participant.Name
	}

	switch result.Outcome {
	case models.OutcomeCheckedIn, models.OutcomeQueuedOffline:
		logging.Info("Scan processed", fields)
	default:
		logging.Warn("Scan not checked in", fields)
	}
}
