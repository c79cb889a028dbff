package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horarios-data/internal/common/db"
	"github.com/horarios-data/internal/common/logger"
	"github.com/horarios-data/internal/gtfs-static/store"
	"github.com/horarios-data/pkg/gtfs-static/models"
)

func seed(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(w store.Writer) error {
		if err := w.InsertRegions(ctx, []models.Region{{ID: "1", Name: "Norte"}}); err != nil {
			return err
		}
		if err := w.InsertStops(ctx, []models.Stop{{ID: "P", Name: "Plaza"}}); err != nil {
			return err
		}
		if err := w.InsertRoutes(ctx, []models.Route{{ID: "R", RegionID: "1"}}); err != nil {
			return err
		}
		if err := w.InsertTrips(ctx, []models.Trip{{ID: "T", RouteID: "R"}}); err != nil {
			return err
		}
		return w.InsertStopTimes(ctx, []models.StopTime{{TripID: "T", StopID: "P", StopSequence: 1}})
	}))
}

func TestPurgeMemory(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seed(t, s)
	m := New(s, nil, logger.Nop())

	before, err := m.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, before[models.KindStopTimes])

	result, err := m.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Total())
	assert.Equal(t, 1, result.RecordsDeleted[models.KindTrips])

	after, err := m.Counts(ctx)
	require.NoError(t, err)
	for _, kind := range models.LoadOrder {
		assert.Zero(t, after[kind], kind)
	}

	// Analyze without a database is a no-op.
	assert.NoError(t, m.Analyze(ctx))
}

func TestPurgeSQLite(t *testing.T) {
	ctx := context.Background()
	database, err := db.New(db.DriverSQLite, ":memory:", logger.Nop())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(ctx))
	s := store.NewSQL(database, logger.Nop())
	defer s.Close()

	seed(t, s)
	m := New(s, database, logger.Nop())

	result, err := m.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Total())

	counts, err := m.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[models.KindRegions])

	assert.NoError(t, m.Analyze(ctx))
}

func TestRefreshSchedulerRunsJob(t *testing.T) {
	var calls atomic.Int32
	s := NewRefreshScheduler(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, logger.Nop(), SchedulerConfig{Interval: 10 * time.Millisecond, InitialDelay: time.Millisecond})

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())

	stopped := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
}

func TestRefreshSchedulerTriggerRecordsStatus(t *testing.T) {
	boom := errors.New("feed unavailable")
	s := NewRefreshScheduler(func(ctx context.Context) error { return boom },
		logger.Nop(), DefaultSchedulerConfig())

	err := s.Trigger(context.Background())
	require.ErrorIs(t, err, boom)

	status := s.GetStatus()
	assert.Equal(t, false, status["is_running"])
	assert.Equal(t, 1, status["runs"])
	assert.Equal(t, "feed unavailable", status["last_error"])
	assert.Contains(t, status, "last_run")
}

func TestRefreshSchedulerRejectsZeroInterval(t *testing.T) {
	s := NewRefreshScheduler(func(ctx context.Context) error { return nil }, logger.Nop(), SchedulerConfig{})
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
}
