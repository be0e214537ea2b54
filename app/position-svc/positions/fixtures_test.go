package positions

import (
	"io"
	"log"
	"time"

	"github.com/perimap/positioncast/business/data/arrivals"
	"github.com/perimap/positioncast/business/data/gtfs"
)

// serviceDay is an ordinary Monday with no holiday or calendar exception
var serviceDay = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func hms(hours, minutes, seconds int) int {
	return hours*3600 + minutes*60 + seconds
}

func headsignOf(value string) *string {
	return &value
}

// testSchedule builds a one-route schedule around Périgueux. Trip t-1 runs
// S1 (dep 08:00) -> S2 (arr 08:09:30, dep 08:10) -> S3 (arr 08:18), trip t-late
// departs at 25:00 to exercise past-midnight evaluation. withPath adds a
// straight northeast path through the stops.
func testSchedule(withPath bool) *gtfs.Schedule {
	trips := []*gtfs.Trip{
		{TripId: "t-1", RouteId: "r-1", ServiceId: "daily", TripHeadsign: headsignOf("Centre Ville")},
		{TripId: "t-late", RouteId: "r-1", ServiceId: "daily"},
		{TripId: "t-single", RouteId: "r-1", ServiceId: "daily"},
	}
	stopTimes := []*gtfs.StopTime{
		{TripId: "t-1", StopSequence: 1, StopId: "s-1", ArrivalTime: hms(8, 0, 0), DepartureTime: hms(8, 0, 0)},
		{TripId: "t-1", StopSequence: 2, StopId: "s-2", ArrivalTime: hms(8, 9, 30), DepartureTime: hms(8, 10, 0)},
		{TripId: "t-1", StopSequence: 3, StopId: "s-3", ArrivalTime: hms(8, 18, 0), DepartureTime: hms(8, 18, 0)},
		{TripId: "t-late", StopSequence: 1, StopId: "s-1", ArrivalTime: hms(25, 0, 0), DepartureTime: hms(25, 0, 0)},
		{TripId: "t-late", StopSequence: 2, StopId: "s-2", ArrivalTime: hms(25, 10, 0), DepartureTime: hms(25, 10, 0)},
		{TripId: "t-single", StopSequence: 1, StopId: "s-1", ArrivalTime: hms(9, 0, 0), DepartureTime: hms(9, 0, 0)},
	}
	stops := []*gtfs.Stop{
		{StopId: "s-1", StopCode: "c-1", StopName: "Gare", StopLat: 45.184, StopLon: 0.721},
		{StopId: "s-2", StopCode: "c-2", StopName: "Montaigne", StopLat: 45.188, StopLon: 0.725},
		{StopId: "s-3", StopCode: "c-3", StopName: "Centre Ville", StopLat: 45.192, StopLon: 0.729},
	}
	routes := []*gtfs.Route{
		{RouteId: "r-1", RouteShortName: "A", RouteLongName: "Gare - Centre Ville"},
	}
	var paths []*gtfs.RoutePathPoint
	if withPath {
		for i := 0; i <= 8; i++ {
			paths = append(paths, &gtfs.RoutePathPoint{
				RouteId:    "r-1",
				PtSequence: i,
				PtLat:      45.184 + float64(i)*0.001,
				PtLon:      0.721 + float64(i)*0.001,
			})
		}
	}
	calendars := []*gtfs.Calendar{
		{
			ServiceId: "daily",
			Monday:    1, Tuesday: 1, Wednesday: 1, Thursday: 1, Friday: 1, Saturday: 1, Sunday: 1,
			StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		},
	}
	return gtfs.NewSchedule(1, trips, stopTimes, stops, routes, paths, calendars, nil)
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// stubSnapshot serves canned estimates keyed "stopId|normalizedLine"
type stubSnapshot struct {
	estimates map[string]*arrivals.Estimate
}

func (s *stubSnapshot) EstimateFor(stopId string, stopCode string, line string) *arrivals.Estimate {
	return s.estimates[stopId+"|"+arrivals.NormalizeLine(line)]
}

// stubDelaySource serves canned per-trip delays
type stubDelaySource map[string]int

func (s stubDelaySource) TripDelaySeconds(tripId string) (int, bool) {
	delay, present := s[tripId]
	return delay, present
}
