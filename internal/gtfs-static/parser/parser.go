package parser

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/horarios-data/internal/common/logger"
	"github.com/horarios-data/pkg/gtfs-static/models"
)

type Parser struct {
	logger logger.Logger
}

func New(logger logger.Logger) *Parser {
	return &Parser{logger: logger}
}

type ParseCallbacks struct {
	OnStop         func(stop *models.Stop) error
	OnRoute        func(route *models.Route) error
	OnTrip         func(trip *models.Trip) error
	OnStopTime     func(stopTime *models.StopTime) error
	OnCalendar     func(calendar *models.Calendar) error
	OnCalendarDate func(calendarDate *models.CalendarDate) error
	OnFileComplete func(fileName string, records, skipped int) error
}

// parseOrder keeps parents ahead of the rows that reference them.
var parseOrder = []string{
	"stops.txt",
	"routes.txt",
	"calendar.txt",
	"calendar_dates.txt",
	"trips.txt",
	"stop_times.txt",
}

// ParseDir parses the GTFS text files of an unpacked feed directory.
func (p *Parser) ParseDir(ctx context.Context, dir string, callbacks ParseCallbacks) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("opening feed directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("opening feed directory: %s is not a directory", dir)
	}

	p.logger.Info("Parsing GTFS directory", "path", dir)
	return p.ParseFS(ctx, os.DirFS(dir), callbacks)
}

// ParseFS parses GTFS text files at the root of fsys. Missing files are
// skipped; malformed rows are logged and skipped.
func (p *Parser) ParseFS(ctx context.Context, fsys fs.FS, callbacks ParseCallbacks) error {
	for _, fileName := range parseOrder {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f, err := fsys.Open(fileName)
		if errors.Is(err, fs.ErrNotExist) {
			p.logger.Debug("File not found in feed", "file", fileName)
			continue
		}
		if err != nil {
			return fmt.Errorf("opening %s: %w", fileName, err)
		}

		err = p.parseFile(fileName, f, callbacks)
		f.Close()
		if err != nil {
			return fmt.Errorf("parsing %s: %w", fileName, err)
		}
	}

	p.logger.Info("GTFS parsing completed successfully")
	return nil
}

func (p *Parser) parseFile(fileName string, r io.Reader, callbacks ParseCallbacks) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Variable number of fields
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	headerMap := make(map[string]int)
	for i, h := range header {
		// Strip a UTF-8 BOM from the first column name.
		headerMap[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}

	count, skipped := 0, 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading record: %w", err)
		}
		count++
		line, _ := reader.FieldPos(0)

		rowErr := p.dispatch(fileName, record, headerMap, callbacks)
		var bad *rowError
		if errors.As(rowErr, &bad) {
			skipped++
			p.logger.Warn("Skipping malformed record", "error", errors.Wrapf(bad.err, "%s line %d", fileName, line))
			continue
		}
		if rowErr != nil {
			return rowErr
		}

		if count%10000 == 0 {
			p.logger.Debug("Progress", "file", fileName, "records", count)
		}
	}

	p.logger.Info("File parsed", "name", fileName, "records", count, "skipped", skipped)

	if callbacks.OnFileComplete != nil {
		if err := callbacks.OnFileComplete(fileName, count, skipped); err != nil {
			return fmt.Errorf("file complete callback: %w", err)
		}
	}
	return nil
}

// rowError marks a record that could not be decoded. Callback errors are
// returned unwrapped and abort the parse.
type rowError struct {
	err error
}

func (e *rowError) Error() string { return e.err.Error() }

func (p *Parser) dispatch(fileName string, record []string, headerMap map[string]int, callbacks ParseCallbacks) error {
	row := fields{record: record, header: headerMap}

	switch fileName {
	case "stops.txt":
		if callbacks.OnStop == nil {
			return nil
		}
		stop, err := parseStop(row)
		if err != nil {
			return &rowError{err}
		}
		return callbacks.OnStop(stop)
	case "routes.txt":
		if callbacks.OnRoute == nil {
			return nil
		}
		route, err := parseRoute(row)
		if err != nil {
			return &rowError{err}
		}
		return callbacks.OnRoute(route)
	case "trips.txt":
		if callbacks.OnTrip == nil {
			return nil
		}
		trip, err := parseTrip(row)
		if err != nil {
			return &rowError{err}
		}
		return callbacks.OnTrip(trip)
	case "stop_times.txt":
		if callbacks.OnStopTime == nil {
			return nil
		}
		stopTime, err := parseStopTime(row)
		if err != nil {
			return &rowError{err}
		}
		return callbacks.OnStopTime(stopTime)
	case "calendar.txt":
		if callbacks.OnCalendar == nil {
			return nil
		}
		calendar, err := parseCalendar(row)
		if err != nil {
			return &rowError{err}
		}
		return callbacks.OnCalendar(calendar)
	case "calendar_dates.txt":
		if callbacks.OnCalendarDate == nil {
			return nil
		}
		calendarDate, err := parseCalendarDate(row)
		if err != nil {
			return &rowError{err}
		}
		return callbacks.OnCalendarDate(calendarDate)
	}
	return nil
}

type fields struct {
	record []string
	header map[string]int
}

func (f fields) str(field string) string {
	if idx, ok := f.header[field]; ok && idx < len(f.record) {
		return strings.TrimSpace(f.record[idx])
	}
	return ""
}

func (f fields) integer(field string, defaultVal int) (int, error) {
	s := f.str(field)
	if s == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "field %s", field)
	}
	return val, nil
}

func (f fields) float(field string) (float64, error) {
	s := f.str(field)
	if s == "" {
		return 0, nil
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "field %s", field)
	}
	return val, nil
}

func (f fields) flag(field string) (bool, error) {
	switch f.str(field) {
	case "1":
		return true, nil
	case "0", "":
		return false, nil
	}
	return false, errors.Errorf("field %s: expected 0 or 1, got %q", field, f.str(field))
}

func parseStop(f fields) (*models.Stop, error) {
	lat, err := f.float("stop_lat")
	if err != nil {
		return nil, err
	}
	lon, err := f.float("stop_lon")
	if err != nil {
		return nil, err
	}
	return &models.Stop{
		ID:   f.str("stop_id"),
		Name: f.str("stop_name"),
		Lat:  lat,
		Lon:  lon,
	}, nil
}

func parseRoute(f fields) (*models.Route, error) {
	routeType, err := f.integer("route_type", 0)
	if err != nil {
		return nil, err
	}
	return &models.Route{
		ID:        f.str("route_id"),
		ShortName: f.str("route_short_name"),
		LongName:  f.str("route_long_name"),
		Type:      routeType,
	}, nil
}

func parseTrip(f fields) (*models.Trip, error) {
	direction, err := f.integer("direction_id", 0)
	if err != nil {
		return nil, err
	}
	return &models.Trip{
		ID:          f.str("trip_id"),
		RouteID:     f.str("route_id"),
		ServiceID:   f.str("service_id"),
		Headsign:    f.str("trip_headsign"),
		DirectionID: direction,
	}, nil
}

func parseStopTime(f fields) (*models.StopTime, error) {
	seq, err := f.integer("stop_sequence", -1)
	if err != nil {
		return nil, err
	}
	if seq < 0 {
		return nil, errors.New("field stop_sequence: missing or negative")
	}

	arrival := f.str("arrival_time")
	departure := f.str("departure_time")
	// Either time may be omitted; the other one stands in for it.
	if arrival == "" {
		arrival = departure
	}
	if departure == "" {
		departure = arrival
	}

	return &models.StopTime{
		TripID:        f.str("trip_id"),
		StopID:        f.str("stop_id"),
		StopSequence:  seq,
		ArrivalTime:   arrival,
		DepartureTime: departure,
	}, nil
}

func parseCalendar(f fields) (*models.Calendar, error) {
	start, err := models.ParseFeedDate(f.str("start_date"))
	if err != nil {
		return nil, errors.Wrap(err, "field start_date")
	}
	end, err := models.ParseFeedDate(f.str("end_date"))
	if err != nil {
		return nil, errors.Wrap(err, "field end_date")
	}

	c := &models.Calendar{
		ServiceID: f.str("service_id"),
		StartDate: start,
		EndDate:   end,
	}
	days := []*bool{&c.Monday, &c.Tuesday, &c.Wednesday, &c.Thursday, &c.Friday, &c.Saturday, &c.Sunday}
	for i, column := range models.WeekdayColumns {
		if *days[i], err = f.flag(column); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func parseCalendarDate(f fields) (*models.CalendarDate, error) {
	date, err := models.ParseFeedDate(f.str("date"))
	if err != nil {
		return nil, errors.Wrap(err, "field date")
	}
	exception, err := f.integer("exception_type", 0)
	if err != nil {
		return nil, err
	}

	return &models.CalendarDate{
		ServiceID:     f.str("service_id"),
		Date:          date,
		ExceptionType: models.ExceptionType(exception),
	}, nil
}

// CollectDir parses a feed directory into memory.
func (p *Parser) CollectDir(ctx context.Context, dir string) (*models.Feed, error) {
	feed := &models.Feed{}
	err := p.ParseDir(ctx, dir, ParseCallbacks{
		OnStop: func(s *models.Stop) error {
			feed.Stops = append(feed.Stops, *s)
			return nil
		},
		OnRoute: func(r *models.Route) error {
			feed.Routes = append(feed.Routes, *r)
			return nil
		},
		OnTrip: func(t *models.Trip) error {
			feed.Trips = append(feed.Trips, *t)
			return nil
		},
		OnStopTime: func(st *models.StopTime) error {
			feed.StopTimes = append(feed.StopTimes, *st)
			return nil
		},
		OnCalendar: func(c *models.Calendar) error {
			feed.Calendars = append(feed.Calendars, *c)
			return nil
		},
		OnCalendarDate: func(cd *models.CalendarDate) error {
			feed.CalendarDates = append(feed.CalendarDates, *cd)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return feed, nil
}
