// Package importer merges parsed feed snapshots into the entity store.
//
// Every merge snapshots the keys already stored, rejects rows that break
// referential integrity, skips rows whose key is known and inserts the
// rest. Keys are added to the snapshot as rows are accepted, so a key
// repeated inside one batch is inserted once. Re-running the same snapshot
// inserts nothing.
package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/horarios-data/internal/common/logger"
	"github.com/horarios-data/internal/gtfs-static/parser"
	"github.com/horarios-data/internal/gtfs-static/store"
	"github.com/horarios-data/pkg/gtfs-static/models"
)

type Importer struct {
	store         store.Store
	parser        *parser.Parser
	logger        logger.Logger
	validate      *validator.Validate
	defaultRegion models.Region

	// mu serialises loader runs; readers go through the store and are
	// never blocked by it.
	mu sync.Mutex
}

// NewImporter builds a loader. Routes that arrive without a region are
// attached to defaultRegion, which is created the first time it is needed.
func NewImporter(s store.Store, defaultRegion models.Region, logger logger.Logger) *Importer {
	return &Importer{
		store:         s,
		parser:        parser.New(logger),
		logger:        logger,
		validate:      validator.New(),
		defaultRegion: defaultRegion,
	}
}

// ImportDir parses an unpacked GTFS directory and merges it.
func (i *Importer) ImportDir(ctx context.Context, dir string) (models.LoadSummary, error) {
	feed, err := i.parser.CollectDir(ctx, dir)
	if err != nil {
		return models.LoadSummary{}, fmt.Errorf("parsing feed directory: %w", err)
	}
	return i.Import(ctx, dir, feed)
}

// ImportArchive parses a zipped GTFS feed and merges it.
func (i *Importer) ImportArchive(ctx context.Context, zipPath string) (models.LoadSummary, error) {
	feed, err := i.parser.ParseArchiveFile(zipPath)
	if err != nil {
		return models.LoadSummary{}, fmt.Errorf("parsing feed archive: %w", err)
	}
	return i.Import(ctx, zipPath, feed)
}

// Import merges a whole feed in one store update, parents before children.
func (i *Importer) Import(ctx context.Context, source string, feed *models.Feed) (models.LoadSummary, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	summary := models.LoadSummary{Source: source, StartedAt: time.Now()}
	err := i.store.Update(ctx, func(w store.Writer) error {
		results, err := i.mergeFeed(ctx, w, feed)
		if err != nil {
			return err
		}
		for _, r := range results {
			summary.Kinds = append(summary.Kinds, r.Summary())
		}
		return nil
	})
	if err != nil {
		return models.LoadSummary{}, fmt.Errorf("importing %s: %w", source, err)
	}
	summary.FinishedAt = time.Now()

	i.logger.Info("Import completed successfully",
		"source", source,
		"inserted", summary.TotalInserted(),
		"duration", summary.FinishedAt.Sub(summary.StartedAt).String())
	return summary, nil
}

func (i *Importer) mergeFeed(ctx context.Context, w store.Writer, feed *models.Feed) ([]MergeResult, error) {
	routes := make([]models.Route, len(feed.Routes))
	copy(routes, feed.Routes)
	needDefault := false
	for n := range routes {
		if routes[n].RegionID == "" {
			routes[n].RegionID = i.defaultRegion.ID
			needDefault = true
		}
	}
	regions := feed.Regions
	if needDefault {
		regions = append(append([]models.Region{}, feed.Regions...), i.defaultRegion)
	}

	steps := []func() (MergeResult, error){
		func() (MergeResult, error) { return i.mergeRegions(ctx, w, regions) },
		func() (MergeResult, error) { return i.mergeStops(ctx, w, feed.Stops) },
		func() (MergeResult, error) { return i.mergeRoutes(ctx, w, routes) },
		func() (MergeResult, error) { return i.mergeCalendars(ctx, w, feed.Calendars) },
		func() (MergeResult, error) { return i.mergeCalendarDates(ctx, w, feed.CalendarDates) },
		func() (MergeResult, error) { return i.mergeTrips(ctx, w, feed.Trips) },
		func() (MergeResult, error) { return i.mergeStopTimes(ctx, w, feed.StopTimes) },
	}

	results := make([]MergeResult, 0, len(steps))
	for _, step := range steps {
		r, err := step()
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// update runs one serialised merge of a single kind.
func (i *Importer) update(ctx context.Context, fn func(w store.Writer) (MergeResult, error)) (MergeResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var result MergeResult
	err := i.store.Update(ctx, func(w store.Writer) error {
		var err error
		result, err = fn(w)
		return err
	})
	if err != nil {
		return MergeResult{}, err
	}
	return result, nil
}

func (i *Importer) MergeRegions(ctx context.Context, rows []models.Region) (MergeResult, error) {
	return i.update(ctx, func(w store.Writer) (MergeResult, error) { return i.mergeRegions(ctx, w, rows) })
}

func (i *Importer) MergeStops(ctx context.Context, rows []models.Stop) (MergeResult, error) {
	return i.update(ctx, func(w store.Writer) (MergeResult, error) { return i.mergeStops(ctx, w, rows) })
}

func (i *Importer) MergeRoutes(ctx context.Context, rows []models.Route) (MergeResult, error) {
	return i.update(ctx, func(w store.Writer) (MergeResult, error) { return i.mergeRoutes(ctx, w, rows) })
}

func (i *Importer) MergeTrips(ctx context.Context, rows []models.Trip) (MergeResult, error) {
	return i.update(ctx, func(w store.Writer) (MergeResult, error) { return i.mergeTrips(ctx, w, rows) })
}

func (i *Importer) MergeStopTimes(ctx context.Context, rows []models.StopTime) (MergeResult, error) {
	return i.update(ctx, func(w store.Writer) (MergeResult, error) { return i.mergeStopTimes(ctx, w, rows) })
}

func (i *Importer) MergeCalendars(ctx context.Context, rows []models.Calendar) (MergeResult, error) {
	return i.update(ctx, func(w store.Writer) (MergeResult, error) { return i.mergeCalendars(ctx, w, rows) })
}

func (i *Importer) MergeCalendarDates(ctx context.Context, rows []models.CalendarDate) (MergeResult, error) {
	return i.update(ctx, func(w store.Writer) (MergeResult, error) { return i.mergeCalendarDates(ctx, w, rows) })
}

// dedup applies the snapshot-then-insert rule to rows. check returns a
// rejection reason, or "" when the row's references hold.
func dedup[T any, K comparable](
	i *Importer,
	kind models.EntityKind,
	rows []T,
	known store.Set[K],
	key func(T) K,
	check func(T) string,
) ([]T, MergeResult) {
	result := MergeResult{Kind: kind}
	fresh := make([]T, 0, len(rows))

	for _, row := range rows {
		k := key(row)
		reason := ""
		if err := i.validate.Struct(row); err != nil {
			reason = err.Error()
		} else if check != nil {
			reason = check(row)
		}
		if reason != "" {
			rej := &IntegrityError{Kind: kind, Key: fmt.Sprint(k), Reason: reason}
			result.Rejected = append(result.Rejected, rej)
			i.logger.Warn("Rejected row", "kind", string(kind), "key", rej.Key, "reason", reason)
			continue
		}
		if known.Has(k) {
			result.Skipped++
			continue
		}
		known.Add(k)
		fresh = append(fresh, row)
	}

	result.Inserted = len(fresh)
	return fresh, result
}

func (i *Importer) logMerge(r MergeResult) {
	i.logger.Debug("Merged rows",
		"kind", string(r.Kind), "inserted", r.Inserted, "skipped", r.Skipped, "rejected", len(r.Rejected))
}

func (i *Importer) mergeRegions(ctx context.Context, w store.Writer, rows []models.Region) (MergeResult, error) {
	known, err := w.RegionIDs(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	fresh, result := dedup(i, models.KindRegions, rows, known,
		func(r models.Region) string { return r.ID },
		func(r models.Region) string {
			if r.ID == "" {
				return "missing region_id"
			}
			return ""
		})
	if err := w.InsertRegions(ctx, fresh); err != nil {
		return MergeResult{}, err
	}
	i.logMerge(result)
	return result, nil
}

func (i *Importer) mergeStops(ctx context.Context, w store.Writer, rows []models.Stop) (MergeResult, error) {
	known, err := w.StopIDs(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	fresh, result := dedup(i, models.KindStops, rows, known,
		func(s models.Stop) string { return s.ID }, nil)
	if err := w.InsertStops(ctx, fresh); err != nil {
		return MergeResult{}, err
	}
	i.logMerge(result)
	return result, nil
}

func (i *Importer) mergeRoutes(ctx context.Context, w store.Writer, rows []models.Route) (MergeResult, error) {
	known, err := w.RouteIDs(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	regions, err := w.RegionIDs(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	fresh, result := dedup(i, models.KindRoutes, rows, known,
		func(r models.Route) string { return r.ID },
		func(r models.Route) string {
			if !regions.Has(r.RegionID) {
				return fmt.Sprintf("unknown region_id %q", r.RegionID)
			}
			return ""
		})
	if err := w.InsertRoutes(ctx, fresh); err != nil {
		return MergeResult{}, err
	}
	i.logMerge(result)
	return result, nil
}

func (i *Importer) mergeTrips(ctx context.Context, w store.Writer, rows []models.Trip) (MergeResult, error) {
	known, err := w.TripIDs(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	routes, err := w.RouteIDs(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	// service_id is not checked: a service may be defined by
	// calendar_dates alone, or not at all for unscheduled trips.
	fresh, result := dedup(i, models.KindTrips, rows, known,
		func(t models.Trip) string { return t.ID },
		func(t models.Trip) string {
			if !routes.Has(t.RouteID) {
				return fmt.Sprintf("unknown route_id %q", t.RouteID)
			}
			return ""
		})
	if err := w.InsertTrips(ctx, fresh); err != nil {
		return MergeResult{}, err
	}
	i.logMerge(result)
	return result, nil
}

func (i *Importer) mergeStopTimes(ctx context.Context, w store.Writer, rows []models.StopTime) (MergeResult, error) {
	known, err := w.StopTimeKeys(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	trips, err := w.TripIDs(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	stops, err := w.StopIDs(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	fresh, result := dedup(i, models.KindStopTimes, rows, known,
		models.StopTime.Key,
		func(st models.StopTime) string {
			if !trips.Has(st.TripID) {
				return fmt.Sprintf("unknown trip_id %q", st.TripID)
			}
			if !stops.Has(st.StopID) {
				return fmt.Sprintf("unknown stop_id %q", st.StopID)
			}
			return ""
		})
	if err := w.InsertStopTimes(ctx, fresh); err != nil {
		return MergeResult{}, err
	}
	i.logMerge(result)
	return result, nil
}

func (i *Importer) mergeCalendars(ctx context.Context, w store.Writer, rows []models.Calendar) (MergeResult, error) {
	known, err := w.ServiceIDs(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	fresh, result := dedup(i, models.KindCalendar, rows, known,
		func(c models.Calendar) string { return c.ServiceID },
		func(c models.Calendar) string {
			if c.StartDate.IsZero() || c.EndDate.IsZero() {
				return "missing start_date or end_date"
			}
			if models.DateOf(c.StartDate).After(models.DateOf(c.EndDate)) {
				return "start_date after end_date"
			}
			return ""
		})
	if err := w.InsertCalendars(ctx, fresh); err != nil {
		return MergeResult{}, err
	}
	i.logMerge(result)
	return result, nil
}

func (i *Importer) mergeCalendarDates(ctx context.Context, w store.Writer, rows []models.CalendarDate) (MergeResult, error) {
	known, err := w.CalendarDateKeys(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	fresh, result := dedup(i, models.KindCalendarDates, rows, known,
		models.CalendarDate.Key,
		func(cd models.CalendarDate) string {
			if cd.Date.IsZero() {
				return "missing date"
			}
			if !cd.ExceptionType.Valid() {
				return fmt.Sprintf("exception_type %d is neither 1 nor 2", cd.ExceptionType)
			}
			return ""
		})
	if err := w.InsertCalendarDates(ctx, fresh); err != nil {
		return MergeResult{}, err
	}
	i.logMerge(result)
	return result, nil
}
