package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/ec-fan-controller/db"
	"github.com/thatsimonsguy/ec-fan-controller/internal/api"
	"github.com/thatsimonsguy/ec-fan-controller/internal/config"
	"github.com/thatsimonsguy/ec-fan-controller/internal/controller"
	"github.com/thatsimonsguy/ec-fan-controller/internal/datadog"
	"github.com/thatsimonsguy/ec-fan-controller/internal/ec"
	"github.com/thatsimonsguy/ec-fan-controller/internal/env"
	"github.com/thatsimonsguy/ec-fan-controller/internal/ipc"
	"github.com/thatsimonsguy/ec-fan-controller/internal/logging"
	"github.com/thatsimonsguy/ec-fan-controller/internal/notifications"
	"github.com/thatsimonsguy/ec-fan-controller/internal/store"
	"github.com/thatsimonsguy/ec-fan-controller/system/shutdown"
)

func main() {
	cfg := config.Load()
	env.Cfg = &cfg
	logFile := logging.Init(cfg.LogLevel, cfg.LogFile)
	defer logFile.Close()

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("state_dir", cfg.StateDir).
		Str("backend", cfg.ECBackend).
		Msg("Starting EC fan controller")

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		log.Fatal().Err(err).Str("state_dir", cfg.StateDir).Msg("Failed to create state directory")
	}

	dev, err := ec.Open(cfg.ECBackend)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.ECBackend).Msg("Failed to open embedded controller")
	}
	var hw ec.Device = dev
	if cfg.SafeMode {
		hw = ec.NewSafeMode(dev)
		log.Warn().Msg("SAFE MODE ENABLED: EC writes are logged, not performed")
	}

	datadog.InitMetrics()
	notifications.Init()

	opts := controller.Options{
		Interval:     cfg.PollInterval(),
		CriticalTemp: cfg.CriticalTemp,
		Store:        store.New(cfg.ActiveConfigPath()),
	}
	if notifications.Enabled() {
		opts.Notify = notifications.Send
	}

	dbConn, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Str("db_path", cfg.DBPath).Msg("History database unavailable, running without history")
		dbConn = nil
	} else {
		opts.History = &db.Recorder{DB: dbConn}
	}

	ctl := controller.New(hw, opts)

	active, err := opts.Store.Load()
	switch {
	case err != nil:
		log.Error().Err(err).Msg("Stored fan config rejected, waiting for a client to apply one")
	case active == nil:
		log.Info().Msg("No stored fan config, waiting for a client to apply one")
	default:
		if err := ctl.Load(active); err != nil {
			log.Error().Err(err).Msg("Failed to re-apply stored fan config")
		}
	}

	ipcServer := ipc.NewServer(ctl)
	apiServer := api.NewServer(ctl, ipcServer, dbConn)

	runCtx, stopController := context.WithCancel(context.Background())
	go ctl.Run(runCtx)
	if dbConn != nil {
		go pruneHistory(runCtx, dbConn, cfg.HistoryDays)
	}

	// Hooks run last-registered first.
	shutdown.Register("close ec", func() error {
		select {
		case <-ctl.Stopped():
			return hw.Close()
		default:
			return errors.New("controller still running, leaving EC open")
		}
	})
	if dbConn != nil {
		shutdown.Register("close history", dbConn.Close)
	}
	shutdown.Register("close datadog", func() error { datadog.Close(); return nil })
	shutdown.Register("stop controller", func() error {
		stopController()
		select {
		case <-ctl.Stopped():
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("timed out waiting for the tick loop to exit")
		}
	})
	shutdown.Register("revert full blast", ctl.RevertOverrides)
	shutdown.Register("close ipc sessions", func() error { ipcServer.CloseAll(); return nil })
	shutdown.Register("stop api", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return apiServer.Shutdown(ctx)
	})

	go func() {
		if err := apiServer.Start(cfg.ListenAddr); err != nil {
			shutdown.ShutdownWithError(err, "API server failed")
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	log.Info().Msg("Shutting down EC fan controller")
	shutdown.Shutdown()
}

func pruneHistory(ctx context.Context, dbConn *sql.DB, days int) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		cutoff := time.Now().AddDate(0, 0, -days)
		if n, err := db.PruneBefore(dbConn, cutoff); err != nil {
			log.Warn().Err(err).Msg("Failed to prune history")
		} else if n > 0 {
			log.Debug().Int64("samples", n).Msg("Pruned history")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
