package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/horarios-data/internal/common/bootstrap"
	"github.com/horarios-data/internal/common/config"
	"github.com/horarios-data/internal/common/maintenance"
	"github.com/horarios-data/internal/gtfs-static/schedule"
	"github.com/horarios-data/internal/restapi"
)

func main() {
	// Load configuration (.env, optional YAML file, environment)
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log := bootstrap.NewLogger(cfg.Logging)

	log.Info("Horarios service starting",
		"version", "1.0.0",
		"log_level", cfg.Logging.Level,
		"db_driver", cfg.Database.Driver,
		"addr", cfg.Server.Addr,
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, err := bootstrap.OpenStore(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to open store", "error", err)
	}
	defer s.Close()

	imp := bootstrap.NewImporter(s, cfg.Feed, log)
	load := func(ctx context.Context) error {
		_, err := bootstrap.LoadFeeds(ctx, imp, cfg.Feed, log)
		return err
	}

	if cfg.Feed.LoadOnStart {
		if err := load(ctx); err != nil {
			log.Error("Initial feed load failed", "error", err)
		}
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	var refresher *maintenance.RefreshScheduler
	if cfg.Feed.RefreshInterval > 0 {
		refresher = maintenance.NewRefreshScheduler(load, log, maintenance.SchedulerConfig{
			Interval:     cfg.Feed.RefreshInterval,
			InitialDelay: cfg.Feed.RefreshInterval,
		})
		if err := refresher.Start(ctx); err != nil {
			log.Fatal("Failed to start refresh scheduler", "error", err)
		}
	} else {
		log.Info("Feed refresh disabled (FEED_REFRESH_INTERVAL not set)")
	}

	engine := schedule.NewEngine(s, cfg.Schedule.DepartureLimit, log)
	api := restapi.NewRestAPI(engine, log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
			sigChan <- syscall.SIGTERM
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", "error", err)
	}

	if refresher != nil {
		refresher.Stop()
	}
	cancel()

	wg.Wait()

	log.Info("Horarios service stopped")
}
