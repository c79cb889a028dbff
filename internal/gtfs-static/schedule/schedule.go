// Package schedule answers "when does route R leave stop P on date D".
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/horarios-data/internal/common/logger"
	"github.com/horarios-data/internal/gtfs-static/calendar"
	"github.com/horarios-data/internal/gtfs-static/store"
	"github.com/horarios-data/pkg/gtfs-static/models"
)

const DefaultLimit = 10

// ErrInvalidArgument marks caller mistakes such as a missing route or stop
// or a malformed date.
var ErrInvalidArgument = errors.New("invalid argument")

type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// Departure is one scheduled call at a stop. Times are feed-local text and
// may exceed 24:00:00.
type Departure struct {
	ArrivalTime   string `json:"arrival_time"`
	DepartureTime string `json:"departure_time"`
}

type Engine struct {
	store        store.Store
	resolver     *calendar.Resolver
	defaultLimit int
	logger       logger.Logger
}

// NewEngine builds a query engine. defaultLimit <= 0 falls back to DefaultLimit.
func NewEngine(s store.Store, defaultLimit int, logger logger.Logger) *Engine {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Engine{
		store:        s,
		resolver:     calendar.NewResolver(s, logger),
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

// NextDepartures returns up to limit departures of routeID at stopID on
// date, ordered by departure time. Service resolution and the stop_times
// read share one snapshot of the store.
func (e *Engine) NextDepartures(ctx context.Context, routeID, stopID string, date time.Time, limit int) ([]Departure, error) {
	if routeID == "" {
		return nil, &InvalidArgumentError{Field: "route", Reason: "must not be empty"}
	}
	if stopID == "" {
		return nil, &InvalidArgumentError{Field: "stop", Reason: "must not be empty"}
	}
	if limit <= 0 {
		limit = e.defaultLimit
	}

	departures := []Departure{}
	err := e.store.View(ctx, func(r store.Reader) error {
		services, err := e.resolver.ActiveServicesIn(ctx, r, date)
		if err != nil {
			return err
		}
		if len(services) == 0 {
			return nil
		}

		rows, err := r.StopTimes(ctx, store.StopTimeFilter{
			RouteID:    routeID,
			StopID:     stopID,
			ServiceIDs: store.Sorted(services),
			Limit:      limit,
		})
		if err != nil {
			return err
		}
		for _, st := range rows {
			departures = append(departures, Departure{
				ArrivalTime:   st.ArrivalTime,
				DepartureTime: st.DepartureTime,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("looking up departures for route %s at stop %s: %w", routeID, stopID, err)
	}

	e.logger.Debug("Resolved departures",
		"route_id", routeID, "stop_id", stopID, "date", models.FormatFeedDate(date), "count", len(departures))
	return departures, nil
}

// Routes lists routes, optionally narrowed to regions whose name contains
// regionName (case-insensitive).
func (e *Engine) Routes(ctx context.Context, regionName string) ([]models.Route, error) {
	var routes []models.Route
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		routes, err = r.Routes(ctx, store.RouteFilter{RegionName: regionName})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing routes: %w", err)
	}
	return routes, nil
}

// StopsForRoute lists the stops a route serves in sequence order.
func (e *Engine) StopsForRoute(ctx context.Context, routeID string) ([]store.RouteStop, error) {
	if routeID == "" {
		return nil, &InvalidArgumentError{Field: "route", Reason: "must not be empty"}
	}
	var stops []store.RouteStop
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		stops, err = r.StopsForRoute(ctx, routeID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing stops for route %s: %w", routeID, err)
	}
	return stops, nil
}

// ParseServiceDate parses a YYYY-MM-DD query date.
func ParseServiceDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, &InvalidArgumentError{Field: "date", Reason: "must not be empty"}
	}
	d, err := models.ParseQueryDate(s)
	if err != nil {
		return time.Time{}, &InvalidArgumentError{Field: "date", Reason: "expected YYYY-MM-DD"}
	}
	return d, nil
}
