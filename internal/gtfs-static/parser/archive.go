package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/jamespfennell/gtfs"

	"github.com/horarios-data/pkg/gtfs-static/models"
)

// ParseArchiveFile reads a zipped feed from disk.
func (p *Parser) ParseArchiveFile(zipPath string) (*models.Feed, error) {
	b, err := os.ReadFile(zipPath)
	if err != nil {
		return nil, fmt.Errorf("reading zip file: %w", err)
	}
	p.logger.Info("Parsing GTFS zip file", "path", zipPath, "bytes", len(b))
	return p.ParseArchive(b)
}

// ParseArchive decodes a zipped feed. Archives that bundle the real feed as
// a nested zip (one GTFS zip per mode) are unwrapped first.
func (p *Parser) ParseArchive(b []byte) (*models.Feed, error) {
	b, err := p.unwrapNested(b)
	if err != nil {
		return nil, err
	}

	static, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("parsing GTFS archive: %w", err)
	}
	if len(static.Warnings) > 0 {
		p.logger.Warn("GTFS archive parsed with warnings", "warnings", len(static.Warnings))
	}

	feed := feedFromStatic(static)
	p.logger.Info("GTFS archive parsed",
		"stops", len(feed.Stops), "routes", len(feed.Routes), "trips", len(feed.Trips),
		"stop_times", len(feed.StopTimes), "calendars", len(feed.Calendars),
		"calendar_dates", len(feed.CalendarDates))
	return feed, nil
}

func (p *Parser) unwrapNested(b []byte) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("opening zip archive: %w", err)
	}

	var nested *zip.File
	for _, file := range reader.File {
		if file.Name == "stops.txt" {
			return b, nil
		}
		if path.Ext(file.Name) == ".zip" && nested == nil {
			nested = file
		}
	}
	if nested == nil {
		return b, nil
	}

	p.logger.Info("Detected nested GTFS archive, parsing nested file", "file", nested.Name)
	rc, err := nested.Open()
	if err != nil {
		return nil, fmt.Errorf("opening nested zip: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading nested zip: %w", err)
	}
	return data, nil
}

func feedFromStatic(static *gtfs.Static) *models.Feed {
	feed := &models.Feed{}

	for _, s := range static.Stops {
		stop := models.Stop{ID: s.Id, Name: s.Name}
		if s.Latitude != nil {
			stop.Lat = *s.Latitude
		}
		if s.Longitude != nil {
			stop.Lon = *s.Longitude
		}
		feed.Stops = append(feed.Stops, stop)
	}

	for _, r := range static.Routes {
		feed.Routes = append(feed.Routes, models.Route{
			ID:        r.Id,
			ShortName: r.ShortName,
			LongName:  r.LongName,
			Type:      int(r.Type),
		})
	}

	for _, s := range static.Services {
		// Services defined only through calendar_dates.txt have no weekly pattern.
		if !s.StartDate.IsZero() {
			feed.Calendars = append(feed.Calendars, models.Calendar{
				ServiceID: s.Id,
				Monday:    s.Monday,
				Tuesday:   s.Tuesday,
				Wednesday: s.Wednesday,
				Thursday:  s.Thursday,
				Friday:    s.Friday,
				Saturday:  s.Saturday,
				Sunday:    s.Sunday,
				StartDate: models.DateOf(s.StartDate),
				EndDate:   models.DateOf(s.EndDate),
			})
		}
		for _, d := range s.AddedDates {
			feed.CalendarDates = append(feed.CalendarDates, models.CalendarDate{
				ServiceID: s.Id, Date: models.DateOf(d), ExceptionType: models.ExceptionAdded,
			})
		}
		for _, d := range s.RemovedDates {
			feed.CalendarDates = append(feed.CalendarDates, models.CalendarDate{
				ServiceID: s.Id, Date: models.DateOf(d), ExceptionType: models.ExceptionRemoved,
			})
		}
	}

	for _, t := range static.Trips {
		trip := models.Trip{ID: t.ID, Headsign: t.Headsign}
		if t.Route != nil {
			trip.RouteID = t.Route.Id
		}
		if t.Service != nil {
			trip.ServiceID = t.Service.Id
		}
		// The library encodes direction_id=1 as 1 and direction_id=0 as 2.
		if t.DirectionId == 1 {
			trip.DirectionID = 1
		}
		feed.Trips = append(feed.Trips, trip)

		for _, st := range t.StopTimes {
			if st.Stop == nil {
				continue
			}
			feed.StopTimes = append(feed.StopTimes, models.StopTime{
				TripID:        t.ID,
				StopID:        st.Stop.Id,
				StopSequence:  st.StopSequence,
				ArrivalTime:   FormatFeedTime(st.ArrivalTime),
				DepartureTime: FormatFeedTime(st.DepartureTime),
			})
		}
	}

	return feed
}

// FormatFeedTime renders an offset from service-day midnight as HH:MM:SS.
// Hours run past 24 for trips that continue after midnight.
func FormatFeedTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
