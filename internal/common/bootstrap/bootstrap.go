// Package bootstrap wires configuration into the store, loader and logger
// shared by the binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/horarios-data/internal/common/config"
	"github.com/horarios-data/internal/common/db"
	"github.com/horarios-data/internal/common/logger"
	"github.com/horarios-data/internal/gtfs-static/fetcher"
	"github.com/horarios-data/internal/gtfs-static/importer"
	"github.com/horarios-data/internal/gtfs-static/store"
	"github.com/horarios-data/pkg/gtfs-static/models"
)

// NewLogger builds the process logger from the logging section on top of
// the default rotation settings.
func NewLogger(cfg config.LoggingConfig) logger.Logger {
	lc := logger.DefaultLoggerConfig()
	lc.Level = logger.ParseLogLevel(cfg.Level)
	lc.Console = cfg.Console
	lc.File = cfg.FilePath != ""
	lc.FilePath = cfg.FilePath
	return logger.NewFromConfig(lc)
}

// OpenStore opens the configured backend. The returned *db.DB is nil for the
// memory driver.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (store.Store, *db.DB, error) {
	if cfg.Driver == config.DriverMemory {
		log.Info("Using in-memory store")
		return store.NewMemory(), nil, nil
	}

	database, err := db.New(cfg.Driver, cfg.ConnectionString(), log)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, nil, err
	}
	return store.NewSQL(database, log), database, nil
}

// NewImporter builds the loader with the configured default region.
func NewImporter(s store.Store, cfg config.FeedConfig, log logger.Logger) *importer.Importer {
	return importer.NewImporter(s, models.Region{
		ID:   cfg.DefaultRegionID,
		Name: cfg.DefaultRegionName,
	}, log)
}

// LoadFeeds runs every configured source that exists on disk: the GTFS zip
// (downloaded first when a feed URL is set), then the GTFS directory, then
// the JSON route files.
func LoadFeeds(ctx context.Context, imp *importer.Importer, cfg config.FeedConfig, log logger.Logger) ([]models.LoadSummary, error) {
	var summaries []models.LoadSummary

	switch {
	case cfg.GTFSURL == "":
	case cfg.GTFSZip == "":
		log.Warn("Feed URL set without a zip destination, skipping download", "url", cfg.GTFSURL)
	default:
		if _, err := fetcher.NewHTTPDownloader(log).Download(ctx, cfg.GTFSURL, cfg.GTFSZip); err != nil {
			// A stale local copy is still worth loading.
			log.Error("Feed download failed", "url", cfg.GTFSURL, "error", err)
		}
	}

	if exists(cfg.GTFSZip, log) {
		summary, err := imp.ImportArchive(ctx, cfg.GTFSZip)
		if err != nil {
			return summaries, fmt.Errorf("loading gtfs archive: %w", err)
		}
		summaries = append(summaries, summary)
	}

	if exists(cfg.GTFSDir, log) {
		summary, err := imp.ImportDir(ctx, cfg.GTFSDir)
		if err != nil {
			return summaries, fmt.Errorf("loading gtfs directory: %w", err)
		}
		summaries = append(summaries, summary)
	}

	if exists(cfg.JSONDir, log) {
		routeSummaries, err := imp.ImportRouteFiles(ctx, cfg.JSONDir)
		summaries = append(summaries, routeSummaries...)
		if err != nil {
			return summaries, fmt.Errorf("loading json route files: %w", err)
		}
	}

	return summaries, nil
}

func exists(path string, log logger.Logger) bool {
	if path == "" {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("Feed source not found, skipping", "path", path)
		} else {
			log.Warn("Feed source unreadable, skipping", "path", path, "error", err)
		}
		return false
	}
	return true
}
