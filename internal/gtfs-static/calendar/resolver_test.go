package calendar

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horarios-data/internal/common/logger"
	"github.com/horarios-data/internal/gtfs-static/store"
	"github.com/horarios-data/pkg/gtfs-static/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var mondayOnly = models.Calendar{
	ServiceID: "S1",
	Monday:    true,
	StartDate: day(2024, 1, 1),
	EndDate:   day(2024, 12, 31),
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		date       time.Time
		exceptions []models.CalendarDate
		want       bool
	}{
		{
			name: "weekday in range",
			date: day(2024, 3, 4),
			want: true,
		},
		{
			name: "weekday flag unset",
			date: day(2024, 3, 5),
			want: false,
		},
		{
			name:       "added exception overrides weekday",
			date:       day(2024, 3, 5),
			exceptions: []models.CalendarDate{{ServiceID: "S1", Date: day(2024, 3, 5), ExceptionType: models.ExceptionAdded}},
			want:       true,
		},
		{
			name:       "removed exception overrides weekday",
			date:       day(2024, 3, 4),
			exceptions: []models.CalendarDate{{ServiceID: "S1", Date: day(2024, 3, 4), ExceptionType: models.ExceptionRemoved}},
			want:       false,
		},
		{
			name: "removal wins over addition",
			date: day(2024, 3, 5),
			exceptions: []models.CalendarDate{
				{ServiceID: "S1", Date: day(2024, 3, 5), ExceptionType: models.ExceptionAdded},
				{ServiceID: "S1", Date: day(2024, 3, 5), ExceptionType: models.ExceptionRemoved},
			},
			want: false,
		},
		{
			name:       "exception on another date ignored",
			date:       day(2024, 3, 4),
			exceptions: []models.CalendarDate{{ServiceID: "S1", Date: day(2024, 3, 11), ExceptionType: models.ExceptionRemoved}},
			want:       true,
		},
		{
			name: "range start is inclusive",
			date: day(2024, 1, 1),
			want: true,
		},
		{
			name: "range end is inclusive",
			date: day(2024, 12, 30),
			want: true,
		},
		{
			name: "after range",
			date: day(2025, 1, 6),
			want: false,
		},
		{
			name: "before range",
			date: day(2023, 12, 25),
			want: false,
		},
		{
			name: "time of day is ignored",
			date: time.Date(2024, 3, 4, 23, 59, 0, 0, time.UTC),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.date, []models.Calendar{mondayOnly}, tt.exceptions)
			assert.Equal(t, tt.want, got.Has("S1"))
		})
	}
}

func TestResolveAddedServiceWithoutCalendar(t *testing.T) {
	got := Resolve(day(2024, 3, 5), nil, []models.CalendarDate{
		{ServiceID: "HOLIDAY", Date: day(2024, 3, 5), ExceptionType: models.ExceptionAdded},
	})
	assert.Equal(t, []string{"HOLIDAY"}, store.Sorted(got))
}

func TestResolveOutOfRangeNeverActive(t *testing.T) {
	everyDay := models.Calendar{
		ServiceID: "ALL",
		Monday:    true, Tuesday: true, Wednesday: true, Thursday: true,
		Friday: true, Saturday: true, Sunday: true,
		StartDate: day(2024, 5, 1),
		EndDate:   day(2024, 5, 31),
	}
	for d := day(2024, 4, 1); d.Before(day(2024, 7, 1)); d = d.AddDate(0, 0, 1) {
		inRange := d.Month() == time.May
		assert.Equal(t, inRange, Resolve(d, []models.Calendar{everyDay}, nil).Has("ALL"), d.Format("2006-01-02"))
	}
}

func TestContradictions(t *testing.T) {
	ex := []models.CalendarDate{
		{ServiceID: "B", Date: day(2024, 3, 5), ExceptionType: models.ExceptionAdded},
		{ServiceID: "B", Date: day(2024, 3, 5), ExceptionType: models.ExceptionRemoved},
		{ServiceID: "A", Date: day(2024, 3, 5), ExceptionType: models.ExceptionAdded},
	}
	assert.Equal(t, []string{"B"}, Contradictions(day(2024, 3, 5), ex))
	assert.Empty(t, Contradictions(day(2024, 3, 6), ex))
}

func seededStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.Update(ctx, func(w store.Writer) error {
		if err := w.InsertCalendars(ctx, []models.Calendar{mondayOnly}); err != nil {
			return err
		}
		return w.InsertCalendarDates(ctx, []models.CalendarDate{
			{ServiceID: "S1", Date: day(2024, 3, 5), ExceptionType: models.ExceptionAdded},
			{ServiceID: "S1", Date: day(2024, 3, 11), ExceptionType: models.ExceptionAdded},
			{ServiceID: "S1", Date: day(2024, 3, 11), ExceptionType: models.ExceptionRemoved},
		})
	}))
	return s
}

func TestResolverActiveServices(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(seededStore(t), logger.Nop())

	got, err := r.ActiveServices(ctx, day(2024, 3, 4))
	require.NoError(t, err)
	assert.True(t, got.Has("S1"))

	got, err = r.ActiveServices(ctx, day(2024, 3, 5))
	require.NoError(t, err)
	assert.True(t, got.Has("S1"))

	got, err = r.ActiveServices(ctx, day(2024, 3, 12))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolverIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(seededStore(t), logger.Nop())

	first, err := r.ActiveServices(ctx, day(2024, 3, 4))
	require.NoError(t, err)
	second, err := r.ActiveServices(ctx, day(2024, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolverWarnsOnContradiction(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	r := NewResolver(seededStore(t), logger.New(&buf))

	got, err := r.ActiveServices(ctx, day(2024, 3, 11))
	require.NoError(t, err)
	assert.False(t, got.Has("S1"))
	assert.Contains(t, buf.String(), "both added and removed")
	assert.Contains(t, buf.String(), "20240311")
}
