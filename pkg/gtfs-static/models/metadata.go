package models

import "time"

// EntityKind names one GTFS file / table the loader merges.
type EntityKind string

const (
	KindRegions       EntityKind = "regions"
	KindStops         EntityKind = "stops"
	KindRoutes        EntityKind = "routes"
	KindTrips         EntityKind = "trips"
	KindStopTimes     EntityKind = "stop_times"
	KindCalendar      EntityKind = "calendar"
	KindCalendarDates EntityKind = "calendar_dates"
)

// LoadOrder is the referential order in which a feed is merged.
var LoadOrder = []EntityKind{
	KindRegions,
	KindStops,
	KindRoutes,
	KindCalendar,
	KindCalendarDates,
	KindTrips,
	KindStopTimes,
}

// KindSummary is the per-kind outcome of one merge.
type KindSummary struct {
	Kind     EntityKind `json:"kind"`
	Inserted int        `json:"inserted"`
	Skipped  int        `json:"skipped"`
	Rejected int        `json:"rejected"`
}

// LoadSummary describes one loader run over a feed source.
type LoadSummary struct {
	Source     string        `json:"source"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Kinds      []KindSummary `json:"kinds"`
}

// Inserted returns the number of rows inserted for kind.
func (s LoadSummary) Inserted(kind EntityKind) int {
	for _, k := range s.Kinds {
		if k.Kind == kind {
			return k.Inserted
		}
	}
	return 0
}

func (s LoadSummary) TotalInserted() int {
	total := 0
	for _, k := range s.Kinds {
		total += k.Inserted
	}
	return total
}
