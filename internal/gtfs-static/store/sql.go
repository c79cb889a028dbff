package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/horarios-data/internal/common/db"
	"github.com/horarios-data/internal/common/logger"
	"github.com/horarios-data/pkg/gtfs-static/models"
)

// SQL is a Store backed by PostgreSQL or SQLite through internal/common/db.
type SQL struct {
	db     *db.DB
	logger logger.Logger
}

// NewSQL wraps an open database. The schema must already be migrated.
func NewSQL(database *db.DB, logger logger.Logger) *SQL {
	return &SQL{db: database, logger: logger}
}

func (s *SQL) View(ctx context.Context, fn func(Reader) error) error {
	tx, err := s.db.BeginReadTx(ctx)
	if err != nil {
		return fmt.Errorf("starting read transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	return fn(&sqlTx{tx: tx, driver: s.db.Driver()})
}

func (s *SQL) Update(ctx context.Context, fn func(Writer) error) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	if err := fn(&sqlTx{tx: tx, driver: s.db.Driver(), writable: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	tx       *sqlx.Tx
	driver   string
	writable bool
}

type calendarRow struct {
	ServiceID string `db:"service_id"`
	Monday    int    `db:"monday"`
	Tuesday   int    `db:"tuesday"`
	Wednesday int    `db:"wednesday"`
	Thursday  int    `db:"thursday"`
	Friday    int    `db:"friday"`
	Saturday  int    `db:"saturday"`
	Sunday    int    `db:"sunday"`
	StartDate string `db:"start_date"`
	EndDate   string `db:"end_date"`
}

func (r calendarRow) model() (models.Calendar, error) {
	start, err := models.ParseFeedDate(r.StartDate)
	if err != nil {
		return models.Calendar{}, err
	}
	end, err := models.ParseFeedDate(r.EndDate)
	if err != nil {
		return models.Calendar{}, err
	}
	return models.Calendar{
		ServiceID: r.ServiceID,
		Monday:    r.Monday == 1,
		Tuesday:   r.Tuesday == 1,
		Wednesday: r.Wednesday == 1,
		Thursday:  r.Thursday == 1,
		Friday:    r.Friday == 1,
		Saturday:  r.Saturday == 1,
		Sunday:    r.Sunday == 1,
		StartDate: start,
		EndDate:   end,
	}, nil
}

type calendarDateRow struct {
	ServiceID     string `db:"service_id"`
	Date          string `db:"date"`
	ExceptionType int    `db:"exception_type"`
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (t *sqlTx) CalendarsOn(ctx context.Context, date time.Time) ([]models.Calendar, error) {
	day := models.FormatFeedDate(date)
	column := models.WeekdayColumns[models.WeekdayIndex(date)]

	query := t.tx.Rebind(`
		SELECT service_id, monday, tuesday, wednesday, thursday, friday, saturday, sunday, start_date, end_date
		FROM calendar
		WHERE start_date <= ? AND end_date >= ? AND ` + column + ` = 1
		ORDER BY service_id`)

	var rows []calendarRow
	if err := t.tx.SelectContext(ctx, &rows, query, day, day); err != nil {
		return nil, fmt.Errorf("querying calendars on %s: %w", day, err)
	}

	out := make([]models.Calendar, 0, len(rows))
	for _, r := range rows {
		c, err := r.model()
		if err != nil {
			return nil, fmt.Errorf("decoding calendar %s: %w", r.ServiceID, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (t *sqlTx) CalendarDatesOn(ctx context.Context, date time.Time) ([]models.CalendarDate, error) {
	day := models.FormatFeedDate(date)
	query := t.tx.Rebind(`
		SELECT service_id, date, exception_type
		FROM calendar_dates
		WHERE date = ?
		ORDER BY service_id, exception_type`)

	var rows []calendarDateRow
	if err := t.tx.SelectContext(ctx, &rows, query, day); err != nil {
		return nil, fmt.Errorf("querying calendar dates on %s: %w", day, err)
	}

	out := make([]models.CalendarDate, 0, len(rows))
	for _, r := range rows {
		d, err := models.ParseFeedDate(r.Date)
		if err != nil {
			return nil, fmt.Errorf("decoding calendar date %s: %w", r.ServiceID, err)
		}
		out = append(out, models.CalendarDate{
			ServiceID:     r.ServiceID,
			Date:          d,
			ExceptionType: models.ExceptionType(r.ExceptionType),
		})
	}
	return out, nil
}

func (t *sqlTx) StopTimes(ctx context.Context, filter StopTimeFilter) ([]models.StopTime, error) {
	if len(filter.ServiceIDs) == 0 {
		return []models.StopTime{}, nil
	}

	// Byte-wise ordering so both drivers agree with SortStopTimes.
	order := "st.departure_time, st.trip_id, st.stop_sequence"
	if t.driver == db.DriverPostgres {
		order = `st.departure_time COLLATE "C", st.trip_id COLLATE "C", st.stop_sequence`
	}

	query := `
		SELECT st.trip_id, st.stop_id, st.stop_sequence, st.arrival_time, st.departure_time
		FROM stop_times st
		JOIN trips t ON t.trip_id = st.trip_id
		WHERE st.stop_id = ? AND t.route_id = ? AND t.service_id IN (?)
		ORDER BY ` + order
	args := []interface{}{filter.StopID, filter.RouteID, filter.ServiceIDs}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("expanding stop_times query: %w", err)
	}

	out := []models.StopTime{}
	if err := t.tx.SelectContext(ctx, &out, t.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying stop_times: %w", err)
	}
	return out, nil
}

func (t *sqlTx) Regions(ctx context.Context) ([]models.Region, error) {
	out := []models.Region{}
	if err := t.tx.SelectContext(ctx, &out, `SELECT region_id, region_name FROM regions ORDER BY region_id`); err != nil {
		return nil, fmt.Errorf("querying regions: %w", err)
	}
	return out, nil
}

func (t *sqlTx) Routes(ctx context.Context, filter RouteFilter) ([]models.Route, error) {
	query := `
		SELECT route_id, region_id, route_short_name, route_long_name, route_type
		FROM routes`
	var args []interface{}
	if filter.RegionName != "" {
		// Region names are matched in Go so every backend folds case the
		// same way, including non-ASCII letters.
		regions, err := t.Regions(ctx)
		if err != nil {
			return nil, err
		}
		ids := regionsMatching(regions, filter.RegionName)
		if len(ids) == 0 {
			return []models.Route{}, nil
		}
		query += " WHERE region_id IN (?)"
		args = append(args, ids)
	}
	query += " ORDER BY route_id"

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("expanding routes query: %w", err)
	}

	out := []models.Route{}
	if err := t.tx.SelectContext(ctx, &out, t.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	return out, nil
}

func (t *sqlTx) Stops(ctx context.Context) ([]models.Stop, error) {
	out := []models.Stop{}
	if err := t.tx.SelectContext(ctx, &out, `SELECT stop_id, stop_name, stop_lat, stop_lon FROM stops ORDER BY stop_id`); err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	return out, nil
}

func (t *sqlTx) StopsForRoute(ctx context.Context, routeID string) ([]RouteStop, error) {
	query := t.tx.Rebind(`
		SELECT s.stop_id, s.stop_name, s.stop_lat, s.stop_lon, MIN(st.stop_sequence) AS stop_sequence
		FROM stop_times st
		JOIN trips t ON t.trip_id = st.trip_id
		JOIN stops s ON s.stop_id = st.stop_id
		WHERE t.route_id = ?
		GROUP BY s.stop_id, s.stop_name, s.stop_lat, s.stop_lon`)

	out := []RouteStop{}
	if err := t.tx.SelectContext(ctx, &out, query, routeID); err != nil {
		return nil, fmt.Errorf("querying stops for route %s: %w", routeID, err)
	}
	sortRouteStops(out)
	return out, nil
}

func (t *sqlTx) stringSet(ctx context.Context, query string) (Set[string], error) {
	var ids []string
	if err := t.tx.SelectContext(ctx, &ids, query); err != nil {
		return nil, err
	}
	return NewSet(ids...), nil
}

func (t *sqlTx) RegionIDs(ctx context.Context) (Set[string], error) {
	ids, err := t.stringSet(ctx, `SELECT region_id FROM regions`)
	if err != nil {
		return nil, fmt.Errorf("querying region ids: %w", err)
	}
	return ids, nil
}

func (t *sqlTx) StopIDs(ctx context.Context) (Set[string], error) {
	ids, err := t.stringSet(ctx, `SELECT stop_id FROM stops`)
	if err != nil {
		return nil, fmt.Errorf("querying stop ids: %w", err)
	}
	return ids, nil
}

func (t *sqlTx) RouteIDs(ctx context.Context) (Set[string], error) {
	ids, err := t.stringSet(ctx, `SELECT route_id FROM routes`)
	if err != nil {
		return nil, fmt.Errorf("querying route ids: %w", err)
	}
	return ids, nil
}

func (t *sqlTx) TripIDs(ctx context.Context) (Set[string], error) {
	ids, err := t.stringSet(ctx, `SELECT trip_id FROM trips`)
	if err != nil {
		return nil, fmt.Errorf("querying trip ids: %w", err)
	}
	return ids, nil
}

func (t *sqlTx) ServiceIDs(ctx context.Context) (Set[string], error) {
	ids, err := t.stringSet(ctx, `SELECT service_id FROM calendar`)
	if err != nil {
		return nil, fmt.Errorf("querying service ids: %w", err)
	}
	return ids, nil
}

func (t *sqlTx) CalendarDateKeys(ctx context.Context) (Set[models.CalendarDateKey], error) {
	var rows []calendarDateRow
	if err := t.tx.SelectContext(ctx, &rows, `SELECT service_id, date, exception_type FROM calendar_dates`); err != nil {
		return nil, fmt.Errorf("querying calendar date keys: %w", err)
	}
	keys := make(Set[models.CalendarDateKey], len(rows))
	for _, r := range rows {
		keys.Add(models.CalendarDateKey{
			ServiceID:     r.ServiceID,
			Date:          r.Date,
			ExceptionType: models.ExceptionType(r.ExceptionType),
		})
	}
	return keys, nil
}

func (t *sqlTx) StopTimeKeys(ctx context.Context) (Set[models.StopTimeKey], error) {
	rows, err := t.tx.QueryxContext(ctx, `SELECT trip_id, stop_id, stop_sequence FROM stop_times`)
	if err != nil {
		return nil, fmt.Errorf("querying stop_time keys: %w", err)
	}
	defer rows.Close() // nolint:errcheck

	keys := make(Set[models.StopTimeKey])
	for rows.Next() {
		var k models.StopTimeKey
		if err := rows.Scan(&k.TripID, &k.StopID, &k.StopSequence); err != nil {
			return nil, fmt.Errorf("scanning stop_time key: %w", err)
		}
		keys.Add(k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stop_time keys: %w", err)
	}
	return keys, nil
}

var countTables = []struct {
	kind  models.EntityKind
	table string
}{
	{models.KindRegions, "regions"},
	{models.KindStops, "stops"},
	{models.KindRoutes, "routes"},
	{models.KindTrips, "trips"},
	{models.KindStopTimes, "stop_times"},
	{models.KindCalendar, "calendar"},
	{models.KindCalendarDates, "calendar_dates"},
}

func (t *sqlTx) Counts(ctx context.Context) (map[models.EntityKind]int, error) {
	counts := make(map[models.EntityKind]int, len(countTables))
	for _, ct := range countTables {
		var n int
		if err := t.tx.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+ct.table); err != nil {
			return nil, fmt.Errorf("counting %s: %w", ct.table, err)
		}
		counts[ct.kind] = n
	}
	return counts, nil
}

// insertBatch executes one prepared INSERT per row.
func insertBatch[T any](ctx context.Context, t *sqlTx, what, query string, rows []T, args func(T) []interface{}) error {
	if !t.writable {
		return fmt.Errorf("store: write outside Update")
	}
	if len(rows) == 0 {
		return nil
	}

	stmt, err := t.tx.PreparexContext(ctx, t.tx.Rebind(query))
	if err != nil {
		return fmt.Errorf("preparing %s insert: %w", what, err)
	}
	defer stmt.Close() // nolint:errcheck

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, args(row)...); err != nil {
			return fmt.Errorf("inserting %s: %w", what, classify(err))
		}
	}
	return nil
}

// classify maps driver constraint violations onto the store's sentinel errors.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		case "foreign_key_violation":
			return fmt.Errorf("%w: %v", ErrMissingReference, err)
		}
		return err
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %v", ErrMissingReference, err)
		}
	}
	return err
}

func (t *sqlTx) InsertRegions(ctx context.Context, rows []models.Region) error {
	return insertBatch(ctx, t, "region",
		`INSERT INTO regions (region_id, region_name) VALUES (?, ?)`,
		rows, func(r models.Region) []interface{} {
			return []interface{}{r.ID, r.Name}
		})
}

func (t *sqlTx) InsertStops(ctx context.Context, rows []models.Stop) error {
	return insertBatch(ctx, t, "stop",
		`INSERT INTO stops (stop_id, stop_name, stop_lat, stop_lon) VALUES (?, ?, ?, ?)`,
		rows, func(s models.Stop) []interface{} {
			return []interface{}{s.ID, s.Name, s.Lat, s.Lon}
		})
}

func (t *sqlTx) InsertRoutes(ctx context.Context, rows []models.Route) error {
	return insertBatch(ctx, t, "route",
		`INSERT INTO routes (route_id, region_id, route_short_name, route_long_name, route_type) VALUES (?, ?, ?, ?, ?)`,
		rows, func(r models.Route) []interface{} {
			return []interface{}{r.ID, r.RegionID, r.ShortName, r.LongName, r.Type}
		})
}

func (t *sqlTx) InsertTrips(ctx context.Context, rows []models.Trip) error {
	return insertBatch(ctx, t, "trip",
		`INSERT INTO trips (trip_id, route_id, service_id, trip_headsign, direction_id) VALUES (?, ?, ?, ?, ?)`,
		rows, func(tr models.Trip) []interface{} {
			return []interface{}{tr.ID, tr.RouteID, tr.ServiceID, tr.Headsign, tr.DirectionID}
		})
}

func (t *sqlTx) InsertStopTimes(ctx context.Context, rows []models.StopTime) error {
	return insertBatch(ctx, t, "stop_time",
		`INSERT INTO stop_times (trip_id, stop_id, stop_sequence, arrival_time, departure_time) VALUES (?, ?, ?, ?, ?)`,
		rows, func(st models.StopTime) []interface{} {
			return []interface{}{st.TripID, st.StopID, st.StopSequence, st.ArrivalTime, st.DepartureTime}
		})
}

func (t *sqlTx) InsertCalendars(ctx context.Context, rows []models.Calendar) error {
	return insertBatch(ctx, t, "calendar",
		`INSERT INTO calendar (service_id, monday, tuesday, wednesday, thursday, friday, saturday, sunday, start_date, end_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rows, func(c models.Calendar) []interface{} {
			return []interface{}{
				c.ServiceID,
				flag(c.Monday), flag(c.Tuesday), flag(c.Wednesday), flag(c.Thursday),
				flag(c.Friday), flag(c.Saturday), flag(c.Sunday),
				models.FormatFeedDate(c.StartDate), models.FormatFeedDate(c.EndDate),
			}
		})
}

func (t *sqlTx) InsertCalendarDates(ctx context.Context, rows []models.CalendarDate) error {
	return insertBatch(ctx, t, "calendar_date",
		`INSERT INTO calendar_dates (service_id, date, exception_type) VALUES (?, ?, ?)`,
		rows, func(cd models.CalendarDate) []interface{} {
			return []interface{}{cd.ServiceID, models.FormatFeedDate(cd.Date), int(cd.ExceptionType)}
		})
}

// Purge deletes children before parents so foreign keys hold throughout.
func (t *sqlTx) Purge(ctx context.Context) error {
	if !t.writable {
		return fmt.Errorf("store: write outside Update")
	}
	for _, table := range []string{"stop_times", "trips", "calendar_dates", "calendar", "routes", "stops", "regions"} {
		if _, err := t.tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("purging %s: %w", table, err)
		}
	}
	return nil
}
