package models

import (
	"fmt"
	"time"
)

type Region struct {
	ID   string `db:"region_id"`
	Name string `db:"region_name" validate:"required"`
}

type Route struct {
	ID        string `db:"route_id" validate:"required"`
	RegionID  string `db:"region_id" validate:"required"`
	ShortName string `db:"route_short_name"`
	LongName  string `db:"route_long_name"`
	Type      int    `db:"route_type"`
}

type Stop struct {
	ID   string  `db:"stop_id" validate:"required"`
	Name string  `db:"stop_name" validate:"required"`
	Lat  float64 `db:"stop_lat" validate:"latitude"`
	Lon  float64 `db:"stop_lon" validate:"longitude"`
}

type Trip struct {
	ID          string `db:"trip_id" validate:"required"`
	RouteID     string `db:"route_id" validate:"required"`
	ServiceID   string `db:"service_id"`
	Headsign    string `db:"trip_headsign"`
	DirectionID int    `db:"direction_id"`
}

type StopTime struct {
	TripID        string `db:"trip_id" validate:"required"`
	StopID        string `db:"stop_id" validate:"required"`
	StopSequence  int    `db:"stop_sequence" validate:"gte=0"`
	ArrivalTime   string `db:"arrival_time"`   // HH:MM:SS, may exceed 24:00:00
	DepartureTime string `db:"departure_time"` // HH:MM:SS, may exceed 24:00:00
}

// StopTimeKey is the natural key of a stop_times row: a trip visits a
// sequence position exactly once.
type StopTimeKey struct {
	TripID       string
	StopID       string
	StopSequence int
}

func (st StopTime) Key() StopTimeKey {
	return StopTimeKey{TripID: st.TripID, StopID: st.StopID, StopSequence: st.StopSequence}
}

func (k StopTimeKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.TripID, k.StopID, k.StopSequence)
}

type Calendar struct {
	ServiceID string `validate:"required"`
	Monday    bool
	Tuesday   bool
	Wednesday bool
	Thursday  bool
	Friday    bool
	Saturday  bool
	Sunday    bool
	StartDate time.Time
	EndDate   time.Time
}

// RunsOn reports whether the weekly pattern includes the given weekday.
func (c Calendar) RunsOn(d time.Weekday) bool {
	switch d {
	case time.Monday:
		return c.Monday
	case time.Tuesday:
		return c.Tuesday
	case time.Wednesday:
		return c.Wednesday
	case time.Thursday:
		return c.Thursday
	case time.Friday:
		return c.Friday
	case time.Saturday:
		return c.Saturday
	case time.Sunday:
		return c.Sunday
	}
	return false
}

// Covers reports whether date falls inside the closed [StartDate, EndDate] range.
func (c Calendar) Covers(date time.Time) bool {
	d := DateOf(date)
	return !d.Before(DateOf(c.StartDate)) && !d.After(DateOf(c.EndDate))
}

// ExceptionType is the calendar_dates.txt exception_type field.
type ExceptionType int

const (
	ExceptionAdded   ExceptionType = 1
	ExceptionRemoved ExceptionType = 2
)

func (e ExceptionType) Valid() bool {
	return e == ExceptionAdded || e == ExceptionRemoved
}

type CalendarDate struct {
	ServiceID     string `validate:"required"`
	Date          time.Time
	ExceptionType ExceptionType
}

type CalendarDateKey struct {
	ServiceID     string
	Date          string // YYYYMMDD
	ExceptionType ExceptionType
}

func (cd CalendarDate) Key() CalendarDateKey {
	return CalendarDateKey{
		ServiceID:     cd.ServiceID,
		Date:          FormatFeedDate(cd.Date),
		ExceptionType: cd.ExceptionType,
	}
}

func (k CalendarDateKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.ServiceID, k.Date, k.ExceptionType)
}
