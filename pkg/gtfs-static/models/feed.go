package models

// Feed is one parsed snapshot of static schedule data, ready to be merged
// into the entity store.
type Feed struct {
	Regions       []Region
	Stops         []Stop
	Routes        []Route
	Trips         []Trip
	StopTimes     []StopTime
	Calendars     []Calendar
	CalendarDates []CalendarDate
}

// Counts reports the number of rows per kind.
func (f *Feed) Counts() map[EntityKind]int {
	return map[EntityKind]int{
		KindRegions:       len(f.Regions),
		KindStops:         len(f.Stops),
		KindRoutes:        len(f.Routes),
		KindTrips:         len(f.Trips),
		KindStopTimes:     len(f.StopTimes),
		KindCalendar:      len(f.Calendars),
		KindCalendarDates: len(f.CalendarDates),
	}
}
