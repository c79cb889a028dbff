package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/horarios-data/internal/common/bootstrap"
	"github.com/horarios-data/internal/common/config"
	"github.com/horarios-data/internal/common/maintenance"
)

func main() {
	dir := flag.String("dir", "", "unpacked GTFS directory (overrides GTFS_DIR)")
	zipPath := flag.String("zip", "", "zipped GTFS feed (overrides GTFS_ZIP)")
	jsonDir := flag.String("json", "", "directory of JSON route files (overrides JSON_ROUTES_DIR)")
	reload := flag.Bool("reload", false, "delete every stored entity before loading")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	if *dir != "" || *zipPath != "" || *jsonDir != "" {
		// Explicit sources replace the configured ones, download included.
		cfg.Feed.GTFSURL = ""
		cfg.Feed.GTFSDir, cfg.Feed.GTFSZip, cfg.Feed.JSONDir = *dir, *zipPath, *jsonDir
	}

	log := bootstrap.NewLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, database, err := bootstrap.OpenStore(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to open store", "error", err)
	}
	defer s.Close()

	maint := maintenance.New(s, database, log)

	if *reload {
		result, err := maint.Purge(ctx)
		if err != nil {
			log.Fatal("Full reload purge failed", "error", err)
		}
		log.Info("Store purged for full reload", "deleted", result.Total())
	}

	summaries, err := bootstrap.LoadFeeds(ctx, bootstrap.NewImporter(s, cfg.Feed, log), cfg.Feed, log)
	if err != nil {
		log.Fatal("Feed load failed", "error", err)
	}

	if err := maint.Analyze(ctx); err != nil {
		log.Warn("Analyze failed", "error", err)
	}

	counts, err := maint.Counts(ctx)
	if err != nil {
		log.Fatal("Counting rows failed", "error", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]interface{}{
		"loads":  summaries,
		"counts": counts,
	}); err != nil {
		log.Fatal("Writing summary failed", "error", err)
	}
}
