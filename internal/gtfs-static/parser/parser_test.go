package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horarios-data/internal/common/logger"
	"github.com/horarios-data/pkg/gtfs-static/models"
)

var feedFiles = map[string]string{
	"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
		"A,Autobuses,https://example.com,America/Santiago\n",
	"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n" +
		"P1,Plaza,-33.45,-70.66\n" +
		"P2,Puerto,-33.04,-71.62\n",
	"routes.txt": "route_id,agency_id,route_short_name,route_long_name,route_type\n" +
		"R1,A,1,Centro - Puerto,3\n",
	"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
		"S1,1,0,0,0,0,0,0,20240101,20241231\n",
	"calendar_dates.txt": "service_id,date,exception_type\n" +
		"S1,20240305,1\n" +
		"S1,20240304,2\n",
	"trips.txt": "route_id,service_id,trip_id,trip_headsign,direction_id\n" +
		"R1,S1,T1,Puerto,1\n",
	"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"T1,07:00:00,07:00:00,P1,1\n" +
		"T1,25:10:00,25:12:00,P2,2\n",
}

func writeFeedDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func zipFeed(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestCollectDir(t *testing.T) {
	files := map[string]string{}
	for name, body := range feedFiles {
		files[name] = body
	}
	// A BOM before the header and a repeated row.
	files["stops.txt"] = "\ufeff" + feedFiles["stops.txt"] + "P1,Plaza,-33.45,-70.66\n"

	p := New(logger.Nop())
	feed, err := p.CollectDir(context.Background(), writeFeedDir(t, files))
	require.NoError(t, err)

	// Duplicates are passed through; deduplication is the loader's job.
	require.Len(t, feed.Stops, 3)
	assert.Equal(t, models.Stop{ID: "P1", Name: "Plaza", Lat: -33.45, Lon: -70.66}, feed.Stops[0])

	require.Len(t, feed.Routes, 1)
	assert.Equal(t, "Centro - Puerto", feed.Routes[0].LongName)
	assert.Equal(t, 3, feed.Routes[0].Type)

	require.Len(t, feed.Calendars, 1)
	cal := feed.Calendars[0]
	assert.True(t, cal.Monday)
	assert.False(t, cal.Tuesday)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), cal.EndDate)

	require.Len(t, feed.CalendarDates, 2)
	assert.Equal(t, models.ExceptionAdded, feed.CalendarDates[0].ExceptionType)

	require.Len(t, feed.Trips, 1)
	assert.Equal(t, models.Trip{ID: "T1", RouteID: "R1", ServiceID: "S1", Headsign: "Puerto", DirectionID: 1}, feed.Trips[0])

	require.Len(t, feed.StopTimes, 2)
	assert.Equal(t, "25:12:00", feed.StopTimes[1].DepartureTime)
}

func TestParseDirSkipsMalformedRows(t *testing.T) {
	files := map[string]string{
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n" +
			"P1,Plaza,north,-70.66\n" +
			"P2,Puerto,-33.04,-71.62\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,07:00:00,,P1,first\n" +
			"T1,,07:05:00,P2,2\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"S1,1,0,0,0,0,0,0,2024-01-01,20241231\n" +
			"S2,yes,0,0,0,0,0,0,20240101,20241231\n",
	}

	var completed []string
	skippedByFile := map[string]int{}
	var stops []models.Stop
	var stopTimes []models.StopTime

	p := New(logger.Nop())
	err := p.ParseDir(context.Background(), writeFeedDir(t, files), ParseCallbacks{
		OnStop: func(s *models.Stop) error {
			stops = append(stops, *s)
			return nil
		},
		OnStopTime: func(st *models.StopTime) error {
			stopTimes = append(stopTimes, *st)
			return nil
		},
		OnCalendar: func(c *models.Calendar) error {
			t.Fatalf("unexpected calendar %+v", c)
			return nil
		},
		OnFileComplete: func(name string, records, skipped int) error {
			completed = append(completed, name)
			skippedByFile[name] = skipped
			return nil
		},
	})
	require.NoError(t, err)

	require.Len(t, stops, 1)
	assert.Equal(t, "P2", stops[0].ID)

	require.Len(t, stopTimes, 1)
	assert.Equal(t, "07:05:00", stopTimes[0].ArrivalTime)

	assert.Equal(t, []string{"stops.txt", "calendar.txt", "stop_times.txt"}, completed)
	assert.Equal(t, 2, skippedByFile["calendar.txt"])
}

func TestParseDirMissing(t *testing.T) {
	p := New(logger.Nop())
	err := p.ParseDir(context.Background(), filepath.Join(t.TempDir(), "nope"), ParseCallbacks{})
	assert.Error(t, err)
}

func TestParseDirCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(logger.Nop())
	err := p.ParseDir(ctx, writeFeedDir(t, feedFiles), ParseCallbacks{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseArchive(t *testing.T) {
	p := New(logger.Nop())
	feed, err := p.ParseArchive(zipFeed(t, feedFiles))
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, s := range feed.Stops {
		ids[s.ID] = true
	}
	assert.True(t, ids["P1"])
	assert.True(t, ids["P2"])

	require.Len(t, feed.Routes, 1)
	assert.Equal(t, "R1", feed.Routes[0].ID)

	require.Len(t, feed.Calendars, 1)
	assert.Equal(t, "S1", feed.Calendars[0].ServiceID)
	assert.True(t, feed.Calendars[0].Monday)

	assert.Len(t, feed.CalendarDates, 2)

	require.Len(t, feed.Trips, 1)
	assert.Equal(t, "R1", feed.Trips[0].RouteID)
	assert.Equal(t, "S1", feed.Trips[0].ServiceID)

	require.Len(t, feed.StopTimes, 2)
	assert.Equal(t, "07:00:00", feed.StopTimes[0].DepartureTime)
}

func TestParseArchiveNested(t *testing.T) {
	inner := zipFeed(t, feedFiles)
	outer := zipFeed(t, map[string]string{
		"readme.txt":           "bundle",
		"2/google_transit.zip": string(inner),
	})

	p := New(logger.Nop())
	feed, err := p.ParseArchive(outer)
	require.NoError(t, err)
	assert.Len(t, feed.Trips, 1)
}

func TestFormatFeedTime(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatFeedTime(0))
	assert.Equal(t, "07:05:09", FormatFeedTime(7*time.Hour+5*time.Minute+9*time.Second))
	assert.Equal(t, "25:10:00", FormatFeedTime(25*time.Hour+10*time.Minute))
}

func TestReadRouteFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{
		"region": " Valparaíso ",
		"ruta": "Viña - Quilpué",
		"paradas": ["Viña", "Quilpué"],
		"salidas": [{"hora": "07:00:00"}, {"hora": "08:30:00"}]
	}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"ruta": "Sola", "paradas": [], "salidas": []}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	p := New(logger.Nop())
	files, err := p.ReadRouteFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "a.json", files[0].Name)
	assert.Equal(t, "", files[0].Region)

	assert.Equal(t, "Valparaíso", files[1].Region)
	assert.Equal(t, []string{"Viña", "Quilpué"}, files[1].Stops)
	assert.Equal(t, []RouteDeparture{{Time: "07:00:00"}, {Time: "08:30:00"}}, files[1].Departures)
}

func TestReadRouteFilesErrors(t *testing.T) {
	p := New(logger.Nop())
	_, err := p.ReadRouteFiles(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"ruta": `), 0o644))
	_, err = p.ReadRouteFiles(dir)
	assert.ErrorContains(t, err, "bad.json")
}
