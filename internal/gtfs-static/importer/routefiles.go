package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/horarios-data/internal/gtfs-static/parser"
	"github.com/horarios-data/internal/gtfs-static/store"
	"github.com/horarios-data/pkg/gtfs-static/models"
)

// ImportRouteFiles loads every JSON route file in dir. Regions are matched
// by name, routes by long name and stops by name; anything unmatched is
// created. Each file is merged in its own store update.
func (i *Importer) ImportRouteFiles(ctx context.Context, dir string) ([]models.LoadSummary, error) {
	files, err := i.parser.ReadRouteFiles(dir)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	summaries := make([]models.LoadSummary, 0, len(files))
	for _, rf := range files {
		summary := models.LoadSummary{Source: rf.Name, StartedAt: time.Now()}
		err := i.store.Update(ctx, func(w store.Writer) error {
			feed, err := i.routeFileFeed(ctx, w, rf)
			if err != nil {
				return err
			}
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
			return summaries, fmt.Errorf("importing route file %s: %w", rf.Name, err)
		}
		summary.FinishedAt = time.Now()
		summaries = append(summaries, summary)

		i.logger.Info("Route file imported", "file", rf.Name, "inserted", summary.TotalInserted())
	}
	return summaries, nil
}

// routeFileFeed resolves a route file against the stored entities and
// expands it into feed rows. Trips are numbered <route>_t1, <route>_t2, ...
// and call at every stop at the departure's time.
func (i *Importer) routeFileFeed(ctx context.Context, r store.Reader, rf parser.RouteFile) (*models.Feed, error) {
	feed := &models.Feed{}

	region := i.defaultRegion
	if rf.Region != "" {
		regions, err := r.Regions(ctx)
		if err != nil {
			return nil, err
		}
		region = models.Region{ID: uuid.NewString(), Name: rf.Region}
		for _, existing := range regions {
			if existing.Name == rf.Region {
				region = existing
				break
			}
		}
	}
	feed.Regions = append(feed.Regions, region)

	routes, err := r.Routes(ctx, store.RouteFilter{})
	if err != nil {
		return nil, err
	}
	route := models.Route{ID: uuid.NewString(), RegionID: region.ID, ShortName: rf.Route, LongName: rf.Route}
	for _, existing := range routes {
		if existing.LongName == rf.Route {
			route = existing
			break
		}
	}
	feed.Routes = append(feed.Routes, route)

	stops, err := r.Stops(ctx)
	if err != nil {
		return nil, err
	}
	stopByName := make(map[string]string, len(stops))
	for _, s := range stops {
		if _, ok := stopByName[s.Name]; !ok {
			stopByName[s.Name] = s.ID
		}
	}

	stopIDs := make([]string, 0, len(rf.Stops))
	for _, name := range rf.Stops {
		id, ok := stopByName[name]
		if !ok {
			id = strings.ReplaceAll(uuid.NewString(), "-", "")
			stopByName[name] = id
			feed.Stops = append(feed.Stops, models.Stop{ID: id, Name: name})
		}
		stopIDs = append(stopIDs, id)
	}

	for n, dep := range rf.Departures {
		tripID := fmt.Sprintf("%s_t%d", route.ID, n+1)
		feed.Trips = append(feed.Trips, models.Trip{ID: tripID, RouteID: route.ID})
		for seq, stopID := range stopIDs {
			feed.StopTimes = append(feed.StopTimes, models.StopTime{
				TripID:        tripID,
				StopID:        stopID,
				StopSequence:  seq + 1,
				ArrivalTime:   dep.Time,
				DepartureTime: dep.Time,
			})
		}
	}
	return feed, nil
}
