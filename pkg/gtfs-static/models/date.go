package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	// FeedDateLayout is the GTFS date format used in calendar.txt and calendar_dates.txt.
	FeedDateLayout = "20060102"
	// QueryDateLayout is the date format accepted by the public API.
	QueryDateLayout = "2006-01-02"
)

// DateOf truncates t to its civil date at UTC midnight. Service dates carry
// no time of day and no timezone; every comparison in the calendar logic
// happens on values returned by DateOf.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseFeedDate parses a YYYYMMDD feed date.
func ParseFeedDate(s string) (time.Time, error) {
	t, err := time.Parse(FeedDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing feed date %q: %w", s, err)
	}
	return t, nil
}

func FormatFeedDate(t time.Time) string {
	return DateOf(t).Format(FeedDateLayout)
}

// ParseQueryDate parses a YYYY-MM-DD date as supplied by API callers.
func ParseQueryDate(s string) (time.Time, error) {
	t, err := time.Parse(QueryDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

// WeekdayIndex maps a date to Monday=0 ... Sunday=6.
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// WeekdayColumns are the calendar.txt flag names ordered by WeekdayIndex.
var WeekdayColumns = [7]string{
	"monday",
	"tuesday",
	"wednesday",
	"thursday",
	"friday",
	"saturday",
	"sunday",
}
