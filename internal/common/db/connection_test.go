package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horarios-data/internal/common/logger"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	database, err := New(DriverSQLite, ":memory:", logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestMigrateCreatesTables(t *testing.T) {
	database := openMemory(t)
	ctx := context.Background()

	require.NoError(t, database.Migrate(ctx))
	// Idempotent.
	require.NoError(t, database.Migrate(ctx))

	for _, table := range []string{"regions", "routes", "stops", "trips", "stop_times", "calendar", "calendar_dates"} {
		var n int
		err := database.DB().GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table)
		require.NoError(t, err, table)
		assert.Zero(t, n, table)
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	database := openMemory(t)
	ctx := context.Background()
	require.NoError(t, database.Migrate(ctx))

	_, err := database.DB().ExecContext(ctx,
		"INSERT INTO routes (route_id, region_id) VALUES ('R1', 'missing')")
	assert.Error(t, err)
}

func TestStopTimeKeyUnique(t *testing.T) {
	database := openMemory(t)
	ctx := context.Background()
	require.NoError(t, database.Migrate(ctx))

	stmts := []string{
		"INSERT INTO regions (region_id, region_name) VALUES ('1', 'default')",
		"INSERT INTO routes (route_id, region_id) VALUES ('R1', '1')",
		"INSERT INTO stops (stop_id, stop_name, stop_lat, stop_lon) VALUES ('P1', 'Plaza', 12.1, -86.2)",
		"INSERT INTO trips (trip_id, route_id, service_id) VALUES ('T1', 'R1', 'S1')",
		"INSERT INTO stop_times (trip_id, stop_id, stop_sequence, departure_time) VALUES ('T1', 'P1', 1, '07:00:00')",
	}
	for _, s := range stmts {
		_, err := database.DB().ExecContext(ctx, s)
		require.NoError(t, err, s)
	}

	_, err := database.DB().ExecContext(ctx,
		"INSERT INTO stop_times (trip_id, stop_id, stop_sequence, departure_time) VALUES ('T1', 'P1', 1, '08:00:00')")
	assert.Error(t, err)
}

func TestBeginReadTx(t *testing.T) {
	database := openMemory(t)
	ctx := context.Background()

	tx, err := database.BeginReadTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.Equal(t, DriverSQLite, database.Driver())
}

func TestSQLiteDSN(t *testing.T) {
	const pragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	assert.Equal(t, ":memory:", sqliteDSN(":memory:"))
	assert.Equal(t, "horarios.db?"+pragmas, sqliteDSN("horarios.db"))
	assert.Equal(t, "file:horarios.db?cache=shared&"+pragmas, sqliteDSN("file:horarios.db?cache=shared"))
}

func TestFileDatabaseUsesWAL(t *testing.T) {
	database, err := New(DriverSQLite, filepath.Join(t.TempDir(), "horarios.db"), logger.Nop())
	require.NoError(t, err)
	defer database.Close()

	var mode string
	require.NoError(t, database.DB().Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, database.DB().Get(&timeout, "PRAGMA busy_timeout"))
	assert.Equal(t, 5000, timeout)
}
