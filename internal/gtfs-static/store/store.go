// Package store is the entity store boundary for static schedule data.
//
// Readers run inside View and always see one consistent snapshot; all
// mutation happens inside Update, which is atomic: if the callback returns
// an error nothing it wrote is kept.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/horarios-data/pkg/gtfs-static/models"
)

var (
	// ErrDuplicateKey is returned when an insert collides with an existing natural key.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrMissingReference is returned when an insert names a parent row that does not exist.
	ErrMissingReference = errors.New("missing reference")
)

type Store interface {
	View(ctx context.Context, fn func(Reader) error) error
	Update(ctx context.Context, fn func(Writer) error) error
	Close() error
}

type Reader interface {
	// CalendarsOn returns calendars whose range covers date and whose
	// weekly pattern includes date's weekday.
	CalendarsOn(ctx context.Context, date time.Time) ([]models.Calendar, error)
	// CalendarDatesOn returns every exception row for exactly date.
	CalendarDatesOn(ctx context.Context, date time.Time) ([]models.CalendarDate, error)
	// StopTimes returns stop_times matching filter, ordered by departure
	// time, then trip id, then stop sequence.
	StopTimes(ctx context.Context, filter StopTimeFilter) ([]models.StopTime, error)

	Regions(ctx context.Context) ([]models.Region, error)
	Routes(ctx context.Context, filter RouteFilter) ([]models.Route, error)
	Stops(ctx context.Context) ([]models.Stop, error)
	StopsForRoute(ctx context.Context, routeID string) ([]RouteStop, error)

	RegionIDs(ctx context.Context) (Set[string], error)
	StopIDs(ctx context.Context) (Set[string], error)
	RouteIDs(ctx context.Context) (Set[string], error)
	TripIDs(ctx context.Context) (Set[string], error)
	ServiceIDs(ctx context.Context) (Set[string], error)
	CalendarDateKeys(ctx context.Context) (Set[models.CalendarDateKey], error)
	StopTimeKeys(ctx context.Context) (Set[models.StopTimeKey], error)

	Counts(ctx context.Context) (map[models.EntityKind]int, error)
}

// Writer inserts rows. Inserts enforce natural-key uniqueness and foreign
// keys; a failing batch leaves the store unchanged.
type Writer interface {
	Reader

	InsertRegions(ctx context.Context, rows []models.Region) error
	InsertStops(ctx context.Context, rows []models.Stop) error
	InsertRoutes(ctx context.Context, rows []models.Route) error
	InsertTrips(ctx context.Context, rows []models.Trip) error
	InsertStopTimes(ctx context.Context, rows []models.StopTime) error
	InsertCalendars(ctx context.Context, rows []models.Calendar) error
	InsertCalendarDates(ctx context.Context, rows []models.CalendarDate) error

	// Purge removes every row, for a full reload.
	Purge(ctx context.Context) error
}

// StopTimeFilter selects the stop_times of one route at one stop for a set
// of services. An empty ServiceIDs matches nothing. Limit <= 0 means no limit.
type StopTimeFilter struct {
	RouteID    string
	StopID     string
	ServiceIDs []string
	Limit      int
}

// RouteFilter narrows a route listing. RegionName matches case-insensitively
// anywhere in the region's name.
type RouteFilter struct {
	RegionName string
}

// RouteStop is a stop served by a route with the lowest sequence at which
// any trip of the route visits it.
type RouteStop struct {
	models.Stop
	Sequence int `db:"stop_sequence"`
}

// regionsMatching returns the ids of regions whose name contains needle,
// ignoring case.
func regionsMatching(regions []models.Region, needle string) []string {
	needle = strings.ToLower(needle)
	var ids []string
	for _, r := range regions {
		if strings.Contains(strings.ToLower(r.Name), needle) {
			ids = append(ids, r.ID)
		}
	}
	return ids
}
