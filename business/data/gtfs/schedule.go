package gtfs

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// TripSchedule joins a Trip with its ordered stop times.
// Stop times are assumed chronologically ordered by the loader, the schedule does not re-validate.
type TripSchedule struct {
	*Trip
	StopTimes []*StopTime
}

// FirstDeparture returns the departure seconds at the trip's first stop
func (t *TripSchedule) FirstDeparture() (int, bool) {
	if len(t.StopTimes) == 0 {
		return 0, false
	}
	return t.StopTimes[0].DepartureTime, true
}

// LastArrival returns the arrival seconds at the trip's final stop
func (t *TripSchedule) LastArrival() (int, bool) {
	if len(t.StopTimes) == 0 {
		return 0, false
	}
	return t.StopTimes[len(t.StopTimes)-1].ArrivalTime, true
}

// Schedule is the immutable in-memory snapshot of one DataSet that the estimation
// pipeline queries every tick. Rebuilt from the database on load, never mutated after.
type Schedule struct {
	DataSetId int64

	trips            []*TripSchedule
	tripsById        map[string]*TripSchedule
	stopsById        map[string]*Stop
	routesById       map[string]*Route
	pathsByRouteId   map[string][]*RoutePathPoint
	calendarsById    map[string]*Calendar
	calendarDatesFor map[string][]*CalendarDate
	holidays         *holidayCalendar
}

// NewSchedule assembles a Schedule from loaded gtfs entities.
// stopTimes must be ordered by trip and stop sequence, paths by route and point sequence.
func NewSchedule(dataSetId int64,
	trips []*Trip,
	stopTimes []*StopTime,
	stops []*Stop,
	routes []*Route,
	paths []*RoutePathPoint,
	calendars []*Calendar,
	calendarDates []*CalendarDate) *Schedule {

	s := &Schedule{
		DataSetId:        dataSetId,
		tripsById:        make(map[string]*TripSchedule, len(trips)),
		stopsById:        make(map[string]*Stop, len(stops)),
		routesById:       make(map[string]*Route, len(routes)),
		pathsByRouteId:   make(map[string][]*RoutePathPoint),
		calendarsById:    make(map[string]*Calendar, len(calendars)),
		calendarDatesFor: make(map[string][]*CalendarDate),
		holidays:         makeHolidayCalendar(),
	}
	for _, trip := range trips {
		ts := &TripSchedule{Trip: trip}
		s.trips = append(s.trips, ts)
		s.tripsById[trip.TripId] = ts
	}
	for _, stopTime := range stopTimes {
		if ts, present := s.tripsById[stopTime.TripId]; present {
			ts.StopTimes = append(ts.StopTimes, stopTime)
		}
	}
	for _, stop := range stops {
		s.stopsById[stop.StopId] = stop
	}
	for _, route := range routes {
		s.routesById[route.RouteId] = route
	}
	for _, point := range paths {
		s.pathsByRouteId[point.RouteId] = append(s.pathsByRouteId[point.RouteId], point)
	}
	for _, calendar := range calendars {
		s.calendarsById[calendar.ServiceId] = calendar
	}
	for _, calendarDate := range calendarDates {
		key := dateKey(calendarDate.Date)
		s.calendarDatesFor[key] = append(s.calendarDatesFor[key], calendarDate)
	}
	return s
}

// LoadSchedule builds the in-memory Schedule for dataSetId from the database
func LoadSchedule(db *sqlx.DB, dataSetId int64) (*Schedule, error) {
	trips, err := GetTrips(db, dataSetId)
	if err != nil {
		return nil, fmt.Errorf("loading trips: %w", err)
	}
	stopTimes, err := GetStopTimes(db, dataSetId)
	if err != nil {
		return nil, fmt.Errorf("loading stop times: %w", err)
	}
	stops, err := GetStops(db, dataSetId)
	if err != nil {
		return nil, fmt.Errorf("loading stops: %w", err)
	}
	routes, err := GetRoutes(db, dataSetId)
	if err != nil {
		return nil, fmt.Errorf("loading routes: %w", err)
	}
	paths, err := GetRoutePathPoints(db, dataSetId)
	if err != nil {
		return nil, fmt.Errorf("loading route paths: %w", err)
	}
	calendars, err := GetCalendars(db, dataSetId)
	if err != nil {
		return nil, fmt.Errorf("loading calendars: %w", err)
	}
	calendarDates, err := GetCalendarDates(db, dataSetId)
	if err != nil {
		return nil, fmt.Errorf("loading calendar dates: %w", err)
	}
	return NewSchedule(dataSetId, trips, stopTimes, stops, routes, paths, calendars, calendarDates), nil
}

// Stop resolves a stop reference
func (s *Schedule) Stop(stopId string) (*Stop, bool) {
	stop, present := s.stopsById[stopId]
	return stop, present
}

// Route resolves a route reference
func (s *Schedule) Route(routeId string) (*Route, bool) {
	route, present := s.routesById[routeId]
	return route, present
}

// RoutePath returns the route's physical path points in order, or nil when the route has no path
func (s *Schedule) RoutePath(routeId string) []*RoutePathPoint {
	return s.pathsByRouteId[routeId]
}

// Trip resolves a trip by id
func (s *Schedule) Trip(tripId string) (*TripSchedule, bool) {
	ts, present := s.tripsById[tripId]
	return ts, present
}

// Trips returns every trip in the schedule
func (s *Schedule) Trips() []*TripSchedule {
	return s.trips
}

// ActiveServiceIds returns the service ids running on serviceDate.
// Both calendar and calendar_date records are used. On observed French public
// holidays the Sunday service pattern is substituted for the actual weekday.
func (s *Schedule) ActiveServiceIds(serviceDate time.Time) map[string]bool {
	serviceIdMap := make(map[string]bool)

	weekday := serviceDate.Weekday()
	if s.holidays.isHoliday(serviceDate) {
		weekday = time.Sunday
	}

	for serviceId, calendar := range s.calendarsById {
		if calendar.activeOn(serviceDate, weekday) {
			serviceIdMap[serviceId] = true
		}
	}
	for _, calendarDate := range s.calendarDatesFor[dateKey(serviceDate)] {
		if calendarDate.ExceptionType == 1 {
			serviceIdMap[calendarDate.ServiceId] = true
		} else if calendarDate.ExceptionType == 2 {
			delete(serviceIdMap, calendarDate.ServiceId)
		}
	}
	return serviceIdMap
}

// TripsActiveOn returns the trips whose service runs on serviceDate
func (s *Schedule) TripsActiveOn(serviceDate time.Time) []*TripSchedule {
	serviceIds := s.ActiveServiceIds(serviceDate)
	var results []*TripSchedule
	for _, ts := range s.trips {
		if serviceIds[ts.ServiceId] {
			results = append(results, ts)
		}
	}
	return results
}

func dateKey(at time.Time) string {
	return at.Format("20060102")
}
