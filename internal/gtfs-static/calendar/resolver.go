// Package calendar decides which services operate on a given date.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/horarios-data/internal/common/logger"
	"github.com/horarios-data/internal/gtfs-static/store"
	"github.com/horarios-data/pkg/gtfs-static/models"
)

// ServiceSet is the set of service ids active on a date.
type ServiceSet = store.Set[string]

// Resolve computes (base ∪ added) \ removed for date. Base is every
// calendar whose closed range covers date and whose weekday flag is set.
// Exceptions for other dates are ignored. A removal always wins, including
// over an added exception for the same service and date.
func Resolve(date time.Time, calendars []models.Calendar, exceptions []models.CalendarDate) ServiceSet {
	day := models.DateOf(date)
	active := make(ServiceSet)

	for _, c := range calendars {
		if c.Covers(day) && c.RunsOn(day.Weekday()) {
			active.Add(c.ServiceID)
		}
	}

	removed := make(ServiceSet)
	for _, e := range exceptions {
		if !models.DateOf(e.Date).Equal(day) {
			continue
		}
		switch e.ExceptionType {
		case models.ExceptionAdded:
			active.Add(e.ServiceID)
		case models.ExceptionRemoved:
			removed.Add(e.ServiceID)
		}
	}

	for id := range removed {
		delete(active, id)
	}
	return active
}

// Contradictions lists services that are both added and removed on date.
func Contradictions(date time.Time, exceptions []models.CalendarDate) []string {
	day := models.DateOf(date)
	added := make(ServiceSet)
	removed := make(ServiceSet)
	for _, e := range exceptions {
		if !models.DateOf(e.Date).Equal(day) {
			continue
		}
		switch e.ExceptionType {
		case models.ExceptionAdded:
			added.Add(e.ServiceID)
		case models.ExceptionRemoved:
			removed.Add(e.ServiceID)
		}
	}

	var out []string
	for _, id := range store.Sorted(added) {
		if removed.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Resolver resolves active services against a store.
type Resolver struct {
	store  store.Store
	logger logger.Logger
}

func NewResolver(s store.Store, logger logger.Logger) *Resolver {
	return &Resolver{store: s, logger: logger}
}

// ActiveServices returns the services operating on date. An empty set means
// no service that day.
func (r *Resolver) ActiveServices(ctx context.Context, date time.Time) (ServiceSet, error) {
	var services ServiceSet
	err := r.store.View(ctx, func(rd store.Reader) error {
		var err error
		services, err = r.ActiveServicesIn(ctx, rd, date)
		return err
	})
	if err != nil {
		return nil, err
	}
	return services, nil
}

// ActiveServicesIn resolves inside an open view so callers can combine it
// with further reads on the same snapshot.
func (r *Resolver) ActiveServicesIn(ctx context.Context, rd store.Reader, date time.Time) (ServiceSet, error) {
	calendars, err := rd.CalendarsOn(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("loading calendars: %w", err)
	}
	exceptions, err := rd.CalendarDatesOn(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("loading calendar dates: %w", err)
	}

	for _, id := range Contradictions(date, exceptions) {
		r.logger.Warn("Service both added and removed on the same date, treating as removed",
			"service_id", id, "date", models.FormatFeedDate(date))
	}

	return Resolve(date, calendars, exceptions), nil
}
