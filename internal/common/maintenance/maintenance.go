package maintenance

import (
	"context"
	"fmt"

	"github.com/horarios-data/internal/common/db"
	"github.com/horarios-data/internal/common/logger"
	"github.com/horarios-data/internal/gtfs-static/store"
	"github.com/horarios-data/pkg/gtfs-static/models"
)

// PurgeResult reports how many rows a full purge removed per kind.
type PurgeResult struct {
	RecordsDeleted map[models.EntityKind]int `json:"records_deleted"`
}

func (r PurgeResult) Total() int {
	total := 0
	for _, n := range r.RecordsDeleted {
		total += n
	}
	return total
}

// Maintenance handles full reloads and table housekeeping
type Maintenance struct {
	store  store.Store
	db     *db.DB
	logger logger.Logger
}

// New creates a Maintenance instance. database may be nil for stores that
// are not SQL backed; Analyze is then a no-op.
func New(s store.Store, database *db.DB, logger logger.Logger) *Maintenance {
	return &Maintenance{
		store:  s,
		db:     database,
		logger: logger,
	}
}

// Purge deletes every schedule row in one update, ahead of a full reload.
func (m *Maintenance) Purge(ctx context.Context) (PurgeResult, error) {
	m.logger.Info("Starting purge of schedule data")

	var result PurgeResult
	err := m.store.Update(ctx, func(w store.Writer) error {
		counts, err := w.Counts(ctx)
		if err != nil {
			return err
		}
		if err := w.Purge(ctx); err != nil {
			return err
		}
		result.RecordsDeleted = counts
		return nil
	})
	if err != nil {
		return PurgeResult{}, fmt.Errorf("purging schedule data: %w", err)
	}

	for _, kind := range models.LoadOrder {
		m.logger.Info("Purged table",
			"kind", string(kind),
			"records_deleted", result.RecordsDeleted[kind])
	}
	m.logger.Info("Purge completed", "total_records_deleted", result.Total())
	return result, nil
}

// Counts returns the number of stored rows per kind.
func (m *Maintenance) Counts(ctx context.Context) (map[models.EntityKind]int, error) {
	var counts map[models.EntityKind]int
	err := m.store.View(ctx, func(r store.Reader) error {
		var err error
		counts, err = r.Counts(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("counting schedule data: %w", err)
	}
	return counts, nil
}

// Analyze refreshes planner statistics after a large load. It must run
// outside a transaction.
func (m *Maintenance) Analyze(ctx context.Context) error {
	if m.db == nil {
		return nil
	}

	m.logger.Info("Starting ANALYZE of schedule tables")
	if _, err := m.db.DB().ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("executing ANALYZE: %w", err)
	}
	m.logger.Info("ANALYZE completed", "driver", m.db.Driver())
	return nil
}
