package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/horarios-data/pkg/gtfs-static/models"
)

// Memory is an in-process Store. Readers share a read lock for the whole
// View, so a View never observes half of an Update.
type Memory struct {
	mu   sync.RWMutex
	data *memoryData
}

type memoryData struct {
	regions       map[string]models.Region
	stops         map[string]models.Stop
	routes        map[string]models.Route
	trips         map[string]models.Trip
	stopTimes     map[models.StopTimeKey]models.StopTime
	calendars     map[string]models.Calendar
	calendarDates map[models.CalendarDateKey]models.CalendarDate

	stopTimesByStop     map[string][]models.StopTimeKey
	stopTimesByTrip     map[string][]models.StopTimeKey
	calendarDatesByDate map[string][]models.CalendarDateKey
}

func newMemoryData() *memoryData {
	return &memoryData{
		regions:             make(map[string]models.Region),
		stops:               make(map[string]models.Stop),
		routes:              make(map[string]models.Route),
		trips:               make(map[string]models.Trip),
		stopTimes:           make(map[models.StopTimeKey]models.StopTime),
		calendars:           make(map[string]models.Calendar),
		calendarDates:       make(map[models.CalendarDateKey]models.CalendarDate),
		stopTimesByStop:     make(map[string][]models.StopTimeKey),
		stopTimesByTrip:     make(map[string][]models.StopTimeKey),
		calendarDatesByDate: make(map[string][]models.CalendarDateKey),
	}
}

func NewMemory() *Memory {
	return &Memory{data: newMemoryData()}
}

func (m *Memory) View(ctx context.Context, fn func(Reader) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryTx{data: m.data})
}

// Update runs fn with exclusive access. Inserts are recorded in an undo log
// and reverted if fn fails; a Purge swaps in fresh maps and is reverted by
// restoring the old ones.
func (m *Memory) Update(ctx context.Context, fn func(Writer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{data: m.data, writable: true}
	if err := fn(tx); err != nil {
		tx.rollback()
		m.data = tx.data
		return err
	}
	m.data = tx.data
	return nil
}

func (m *Memory) Close() error {
	return nil
}

type memoryTx struct {
	data     *memoryData
	writable bool

	purged *memoryData
	undo   []func(*memoryData)
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i](tx.data)
	}
	if tx.purged != nil {
		tx.data = tx.purged
	}
}

func (tx *memoryTx) CalendarsOn(ctx context.Context, date time.Time) ([]models.Calendar, error) {
	d := models.DateOf(date)
	var out []models.Calendar
	for _, c := range tx.data.calendars {
		if c.Covers(d) && c.RunsOn(d.Weekday()) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out, nil
}

func (tx *memoryTx) CalendarDatesOn(ctx context.Context, date time.Time) ([]models.CalendarDate, error) {
	keys := tx.data.calendarDatesByDate[models.FormatFeedDate(date)]
	out := make([]models.CalendarDate, 0, len(keys))
	for _, k := range keys {
		out = append(out, tx.data.calendarDates[k])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ServiceID != out[j].ServiceID {
			return out[i].ServiceID < out[j].ServiceID
		}
		return out[i].ExceptionType < out[j].ExceptionType
	})
	return out, nil
}

func (tx *memoryTx) StopTimes(ctx context.Context, filter StopTimeFilter) ([]models.StopTime, error) {
	if len(filter.ServiceIDs) == 0 {
		return []models.StopTime{}, nil
	}
	services := NewSet(filter.ServiceIDs...)

	out := []models.StopTime{}
	for _, k := range tx.data.stopTimesByStop[filter.StopID] {
		trip, ok := tx.data.trips[k.TripID]
		if !ok || trip.RouteID != filter.RouteID || !services.Has(trip.ServiceID) {
			continue
		}
		out = append(out, tx.data.stopTimes[k])
	}
	SortStopTimes(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// SortStopTimes orders rows by departure time text, then trip id, then
// stop sequence.
func SortStopTimes(rows []models.StopTime) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.DepartureTime != b.DepartureTime {
			return a.DepartureTime < b.DepartureTime
		}
		if a.TripID != b.TripID {
			return a.TripID < b.TripID
		}
		return a.StopSequence < b.StopSequence
	})
}

func (tx *memoryTx) Regions(ctx context.Context) ([]models.Region, error) {
	out := make([]models.Region, 0, len(tx.data.regions))
	for _, r := range tx.data.regions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) Routes(ctx context.Context, filter RouteFilter) ([]models.Route, error) {
	var regions Set[string]
	if filter.RegionName != "" {
		all := make([]models.Region, 0, len(tx.data.regions))
		for _, r := range tx.data.regions {
			all = append(all, r)
		}
		regions = NewSet(regionsMatching(all, filter.RegionName)...)
	}
	out := []models.Route{}
	for _, r := range tx.data.routes {
		if regions != nil && !regions.Has(r.RegionID) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) Stops(ctx context.Context) ([]models.Stop, error) {
	out := make([]models.Stop, 0, len(tx.data.stops))
	for _, s := range tx.data.stops {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) StopsForRoute(ctx context.Context, routeID string) ([]RouteStop, error) {
	seq := make(map[string]int)
	for tripID, trip := range tx.data.trips {
		if trip.RouteID != routeID {
			continue
		}
		for _, k := range tx.data.stopTimesByTrip[tripID] {
			if cur, ok := seq[k.StopID]; !ok || k.StopSequence < cur {
				seq[k.StopID] = k.StopSequence
			}
		}
	}

	out := make([]RouteStop, 0, len(seq))
	for stopID, n := range seq {
		out = append(out, RouteStop{Stop: tx.data.stops[stopID], Sequence: n})
	}
	sortRouteStops(out)
	return out, nil
}

func sortRouteStops(rows []RouteStop) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Sequence != rows[j].Sequence {
			return rows[i].Sequence < rows[j].Sequence
		}
		return rows[i].ID < rows[j].ID
	})
}

func keysOf[K comparable, V any](m map[K]V) Set[K] {
	s := make(Set[K], len(m))
	for k := range m {
		s.Add(k)
	}
	return s
}

func (tx *memoryTx) RegionIDs(ctx context.Context) (Set[string], error) {
	return keysOf(tx.data.regions), nil
}

func (tx *memoryTx) StopIDs(ctx context.Context) (Set[string], error) {
	return keysOf(tx.data.stops), nil
}

func (tx *memoryTx) RouteIDs(ctx context.Context) (Set[string], error) {
	return keysOf(tx.data.routes), nil
}

func (tx *memoryTx) TripIDs(ctx context.Context) (Set[string], error) {
	return keysOf(tx.data.trips), nil
}

func (tx *memoryTx) ServiceIDs(ctx context.Context) (Set[string], error) {
	return keysOf(tx.data.calendars), nil
}

func (tx *memoryTx) CalendarDateKeys(ctx context.Context) (Set[models.CalendarDateKey], error) {
	return keysOf(tx.data.calendarDates), nil
}

func (tx *memoryTx) StopTimeKeys(ctx context.Context) (Set[models.StopTimeKey], error) {
	return keysOf(tx.data.stopTimes), nil
}

func (tx *memoryTx) Counts(ctx context.Context) (map[models.EntityKind]int, error) {
	return map[models.EntityKind]int{
		models.KindRegions:       len(tx.data.regions),
		models.KindStops:         len(tx.data.stops),
		models.KindRoutes:        len(tx.data.routes),
		models.KindTrips:         len(tx.data.trips),
		models.KindStopTimes:     len(tx.data.stopTimes),
		models.KindCalendar:      len(tx.data.calendars),
		models.KindCalendarDates: len(tx.data.calendarDates),
	}, nil
}

func (tx *memoryTx) checkWritable() error {
	if !tx.writable {
		return fmt.Errorf("store: write outside Update")
	}
	return nil
}

func (tx *memoryTx) InsertRegions(ctx context.Context, rows []models.Region) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	seen := make(Set[string], len(rows))
	for _, r := range rows {
		if _, ok := tx.data.regions[r.ID]; ok || seen.Has(r.ID) {
			return fmt.Errorf("inserting region %s: %w", r.ID, ErrDuplicateKey)
		}
		seen.Add(r.ID)
	}
	for _, r := range rows {
		tx.data.regions[r.ID] = r
		id := r.ID
		tx.undo = append(tx.undo, func(d *memoryData) { delete(d.regions, id) })
	}
	return nil
}

func (tx *memoryTx) InsertStops(ctx context.Context, rows []models.Stop) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	seen := make(Set[string], len(rows))
	for _, s := range rows {
		if _, ok := tx.data.stops[s.ID]; ok || seen.Has(s.ID) {
			return fmt.Errorf("inserting stop %s: %w", s.ID, ErrDuplicateKey)
		}
		seen.Add(s.ID)
	}
	for _, s := range rows {
		tx.data.stops[s.ID] = s
		id := s.ID
		tx.undo = append(tx.undo, func(d *memoryData) { delete(d.stops, id) })
	}
	return nil
}

func (tx *memoryTx) InsertRoutes(ctx context.Context, rows []models.Route) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	seen := make(Set[string], len(rows))
	for _, r := range rows {
		if _, ok := tx.data.routes[r.ID]; ok || seen.Has(r.ID) {
			return fmt.Errorf("inserting route %s: %w", r.ID, ErrDuplicateKey)
		}
		if _, ok := tx.data.regions[r.RegionID]; !ok {
			return fmt.Errorf("inserting route %s: region %s: %w", r.ID, r.RegionID, ErrMissingReference)
		}
		seen.Add(r.ID)
	}
	for _, r := range rows {
		tx.data.routes[r.ID] = r
		id := r.ID
		tx.undo = append(tx.undo, func(d *memoryData) { delete(d.routes, id) })
	}
	return nil
}

func (tx *memoryTx) InsertTrips(ctx context.Context, rows []models.Trip) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	seen := make(Set[string], len(rows))
	for _, t := range rows {
		if _, ok := tx.data.trips[t.ID]; ok || seen.Has(t.ID) {
			return fmt.Errorf("inserting trip %s: %w", t.ID, ErrDuplicateKey)
		}
		if _, ok := tx.data.routes[t.RouteID]; !ok {
			return fmt.Errorf("inserting trip %s: route %s: %w", t.ID, t.RouteID, ErrMissingReference)
		}
		seen.Add(t.ID)
	}
	for _, t := range rows {
		tx.data.trips[t.ID] = t
		id := t.ID
		tx.undo = append(tx.undo, func(d *memoryData) { delete(d.trips, id) })
	}
	return nil
}

func (tx *memoryTx) InsertStopTimes(ctx context.Context, rows []models.StopTime) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	seen := make(Set[models.StopTimeKey], len(rows))
	for _, st := range rows {
		k := st.Key()
		if _, ok := tx.data.stopTimes[k]; ok || seen.Has(k) {
			return fmt.Errorf("inserting stop_time %s: %w", k, ErrDuplicateKey)
		}
		if _, ok := tx.data.trips[st.TripID]; !ok {
			return fmt.Errorf("inserting stop_time %s: trip %s: %w", k, st.TripID, ErrMissingReference)
		}
		if _, ok := tx.data.stops[st.StopID]; !ok {
			return fmt.Errorf("inserting stop_time %s: stop %s: %w", k, st.StopID, ErrMissingReference)
		}
		seen.Add(k)
	}
	for _, st := range rows {
		k := st.Key()
		tx.data.stopTimes[k] = st
		tx.data.stopTimesByStop[k.StopID] = append(tx.data.stopTimesByStop[k.StopID], k)
		tx.data.stopTimesByTrip[k.TripID] = append(tx.data.stopTimesByTrip[k.TripID], k)
		tx.undo = append(tx.undo, func(d *memoryData) {
			delete(d.stopTimes, k)
			d.stopTimesByStop[k.StopID] = removeKey(d.stopTimesByStop[k.StopID], k)
			d.stopTimesByTrip[k.TripID] = removeKey(d.stopTimesByTrip[k.TripID], k)
		})
	}
	return nil
}

func (tx *memoryTx) InsertCalendars(ctx context.Context, rows []models.Calendar) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	seen := make(Set[string], len(rows))
	for _, c := range rows {
		if _, ok := tx.data.calendars[c.ServiceID]; ok || seen.Has(c.ServiceID) {
			return fmt.Errorf("inserting calendar %s: %w", c.ServiceID, ErrDuplicateKey)
		}
		seen.Add(c.ServiceID)
	}
	for _, c := range rows {
		c.StartDate = models.DateOf(c.StartDate)
		c.EndDate = models.DateOf(c.EndDate)
		tx.data.calendars[c.ServiceID] = c
		id := c.ServiceID
		tx.undo = append(tx.undo, func(d *memoryData) { delete(d.calendars, id) })
	}
	return nil
}

func (tx *memoryTx) InsertCalendarDates(ctx context.Context, rows []models.CalendarDate) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	seen := make(Set[models.CalendarDateKey], len(rows))
	for _, cd := range rows {
		k := cd.Key()
		if _, ok := tx.data.calendarDates[k]; ok || seen.Has(k) {
			return fmt.Errorf("inserting calendar_date %s: %w", k, ErrDuplicateKey)
		}
		seen.Add(k)
	}
	for _, cd := range rows {
		k := cd.Key()
		cd.Date = models.DateOf(cd.Date)
		tx.data.calendarDates[k] = cd
		tx.data.calendarDatesByDate[k.Date] = append(tx.data.calendarDatesByDate[k.Date], k)
		tx.undo = append(tx.undo, func(d *memoryData) {
			delete(d.calendarDates, k)
			d.calendarDatesByDate[k.Date] = removeKey(d.calendarDatesByDate[k.Date], k)
		})
	}
	return nil
}

func (tx *memoryTx) Purge(ctx context.Context) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	// Writes made before the purge are gone with the old maps.
	if tx.purged == nil {
		tx.purged = tx.data
		tx.undo = nil
	}
	tx.data = newMemoryData()
	return nil
}

func removeKey[K comparable](keys []K, k K) []K {
	for i, cur := range keys {
		if cur == k {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}
