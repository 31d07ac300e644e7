// Package main runs a check-in station: a local API and WebSocket feed for
// the station UI, a stdin reader for keyboard-wedge scanners, and the
// background replay of scans taken while the check-in server was down.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lightera/checkin-station/internal/config"
	"github.com/lightera/checkin-station/internal/db"
	"github.com/lightera/checkin-station/internal/logging"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	dataDir := flag.String("data-dir", "", "directory for the station database (overrides config)")
	readStdin := flag.Bool("stdin", true, "read scanned codes from standard input")
	showVersion := flag.Bool("version", false, "print the version and exit")
	writeConfig := flag.String("write-config", "", "write the effective configuration to this path and exit")
	migrateDown := flag.Bool("migrate-down", false, "roll back the newest database migration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := godotenv.Load(); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logging.Init(os.Stdout, logging.ParseLevel(cfg.Log.Level))

	done, err := runMaintenance(cfg, *writeConfig, *migrateDown, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if done {
		return
	}

	if err := run(cfg, *readStdin); err != nil {
		logging.Error("Station stopped with error", err, nil)
		os.Exit(1)
	}
}

// runMaintenance handles the one-shot flags. It reports whether one ran,
// in which case the station does not start.
func runMaintenance(cfg *config.Config, writeConfig string, migrateDown bool, out io.Writer) (bool, error) {
	switch {
	case writeConfig != "":
		if err := cfg.Save(writeConfig); err != nil {
			return true, err
		}
		fmt.Fprintf(out, "Configuration written to %s\n", writeConfig)
		return true, nil
	case migrateDown:
		version, err := db.RollbackLast(cfg.DataDir)
		if err != nil {
			return true, err
		}
		fmt.Fprintf(out, "Rolled back %s to schema version %d\n", cfg.DataDir, version)
		return true, nil
	}
	return false, nil
}

func run(cfg *config.Config, readStdin bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logging.Info("Station API listening", map[string]interface{}{"addr": server.Addr, "version": version})
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	a.scheduler.Start(ctx)

	if readStdin {
		go a.readCodes(ctx, os.Stdin)
	}

	select {
	case <-ctx.Done():
		logging.Info("Shutting down station", nil)
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
