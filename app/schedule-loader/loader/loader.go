// Package loader reads the csv files of a gtfs feed and records them as a new
// schedule dataset.
package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/jmoiron/sqlx"
	"github.com/perimap/positioncast/business/data/gtfs"
)

type csvStop struct {
	StopId   string  `csv:"stop_id"`
	StopCode string  `csv:"stop_code"`
	StopName string  `csv:"stop_name"`
	StopLat  float64 `csv:"stop_lat"`
	StopLon  float64 `csv:"stop_lon"`
}

type csvRoute struct {
	RouteId        string `csv:"route_id"`
	RouteShortName string `csv:"route_short_name"`
	RouteLongName  string `csv:"route_long_name"`
}

type csvTrip struct {
	RouteId      string `csv:"route_id"`
	ServiceId    string `csv:"service_id"`
	TripId       string `csv:"trip_id"`
	TripHeadsign string `csv:"trip_headsign"`
	ShapeId      string `csv:"shape_id"`
}

type csvStopTime struct {
	TripId        string `csv:"trip_id"`
	ArrivalTime   string `csv:"arrival_time"`
	DepartureTime string `csv:"departure_time"`
	StopId        string `csv:"stop_id"`
	StopSequence  uint32 `csv:"stop_sequence"`
}

type csvCalendar struct {
	ServiceId string `csv:"service_id"`
	Monday    int    `csv:"monday"`
	Tuesday   int    `csv:"tuesday"`
	Wednesday int    `csv:"wednesday"`
	Thursday  int    `csv:"thursday"`
	Friday    int    `csv:"friday"`
	Saturday  int    `csv:"saturday"`
	Sunday    int    `csv:"sunday"`
	StartDate string `csv:"start_date"`
	EndDate   string `csv:"end_date"`
}

type csvCalendarDate struct {
	ServiceId     string `csv:"service_id"`
	Date          string `csv:"date"`
	ExceptionType int    `csv:"exception_type"`
}

type csvShapePoint struct {
	ShapeId    string  `csv:"shape_id"`
	PtLat      float64 `csv:"shape_pt_lat"`
	PtLon      float64 `csv:"shape_pt_lon"`
	PtSequence int     `csv:"shape_pt_sequence"`
}

// LoadGTFS reads the gtfs csv files in directory and records them as a new
// dataset inside one transaction. The dataset only becomes visible to the
// position service once its saved_at stamp is written at commit.
func LoadGTFS(log *log.Logger, db *sqlx.DB, directory string, source string, location *time.Location) error {
	// feeds with uneven optional columns still parse
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		r := csv.NewReader(in)
		r.FieldsPerRecord = -1
		return r
	})

	var stops []csvStop
	var routes []csvRoute
	var trips []csvTrip
	var stopTimes []csvStopTime
	var calendars []csvCalendar
	var calendarDates []csvCalendarDate
	var shapePoints []csvShapePoint

	files := []struct {
		name        string
		destination interface{}
		required    bool
	}{
		{"stops.txt", &stops, true},
		{"routes.txt", &routes, true},
		{"trips.txt", &trips, true},
		{"stop_times.txt", &stopTimes, true},
		{"calendar.txt", &calendars, true},
		{"calendar_dates.txt", &calendarDates, false},
		{"shapes.txt", &shapePoints, false},
	}
	for _, file := range files {
		err := readCSVFile(filepath.Join(directory, file.name), file.destination)
		if err != nil {
			if os.IsNotExist(err) && !file.required {
				log.Printf("optional file %s not present, skipping", file.name)
				continue
			}
			return fmt.Errorf("unable to read %s: %w", file.name, err)
		}
	}
	log.Printf("parsed %d stops, %d routes, %d trips, %d stop times, %d calendars, %d calendar dates, %d shape points",
		len(stops), len(routes), len(trips), len(stopTimes), len(calendars), len(calendarDates), len(shapePoints))

	gtfsStopTimes, spansByTrip, err := buildStopTimes(stopTimes)
	if err != nil {
		return err
	}
	gtfsTrips := buildTrips(trips, spansByTrip)
	gtfsCalendars, err := buildCalendars(calendars, location)
	if err != nil {
		return err
	}
	gtfsCalendarDates, err := buildCalendarDates(calendarDates, location)
	if err != nil {
		return err
	}
	routePaths := buildRoutePaths(trips, shapePoints)

	now := time.Now()
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("unable to begin dataset transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ds := gtfs.DataSet{Source: source, DownloadedAt: now}
	err = gtfs.SaveDataSet(tx, &ds)
	if err != nil {
		return fmt.Errorf("unable to save dataset: %w", err)
	}
	dsTx := &gtfs.DataSetTransaction{DS: ds, Tx: tx}

	err = gtfs.RecordStops(buildStops(stops), dsTx)
	if err != nil {
		return fmt.Errorf("unable to record stops: %w", err)
	}
	err = gtfs.RecordRoutes(buildRoutes(routes), dsTx)
	if err != nil {
		return fmt.Errorf("unable to record routes: %w", err)
	}
	err = gtfs.RecordTrips(gtfsTrips, dsTx)
	if err != nil {
		return fmt.Errorf("unable to record trips: %w", err)
	}
	err = gtfs.RecordStopTimes(gtfsStopTimes, dsTx)
	if err != nil {
		return fmt.Errorf("unable to record stop times: %w", err)
	}
	err = gtfs.RecordCalendars(gtfsCalendars, dsTx)
	if err != nil {
		return fmt.Errorf("unable to record calendars: %w", err)
	}
	err = gtfs.RecordCalendarDates(gtfsCalendarDates, dsTx)
	if err != nil {
		return fmt.Errorf("unable to record calendar dates: %w", err)
	}
	err = gtfs.RecordRoutePathPoints(routePaths, dsTx)
	if err != nil {
		return fmt.Errorf("unable to record route paths: %w", err)
	}

	savedAt := time.Now()
	ds.SavedAt = &savedAt
	err = gtfs.SaveDataSet(tx, &ds)
	if err != nil {
		return fmt.Errorf("unable to mark dataset saved: %w", err)
	}
	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("unable to commit dataset %d: %w", ds.Id, err)
	}
	log.Printf("saved dataset %d from %s", ds.Id, source)
	return nil
}

func readCSVFile(path string, destination interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()
	return gocsv.Unmarshal(file, destination)
}

func buildStops(rows []csvStop) []*gtfs.Stop {
	stops := make([]*gtfs.Stop, 0, len(rows))
	for _, row := range rows {
		stops = append(stops, &gtfs.Stop{
			StopId:   row.StopId,
			StopCode: row.StopCode,
			StopName: row.StopName,
			StopLat:  row.StopLat,
			StopLon:  row.StopLon,
		})
	}
	return stops
}

func buildRoutes(rows []csvRoute) []*gtfs.Route {
	routes := make([]*gtfs.Route, 0, len(rows))
	for _, row := range rows {
		routes = append(routes, &gtfs.Route{
			RouteId:        row.RouteId,
			RouteShortName: row.RouteShortName,
			RouteLongName:  row.RouteLongName,
		})
	}
	return routes
}

type tripSpan struct {
	start int
	end   int
}

// buildStopTimes converts schedule time strings and derives each trip's overall
// start and end seconds
func buildStopTimes(rows []csvStopTime) ([]*gtfs.StopTime, map[string]tripSpan, error) {
	stopTimes := make([]*gtfs.StopTime, 0, len(rows))
	spans := make(map[string]tripSpan)
	for _, row := range rows {
		arrival, err := gtfs.ParseScheduleTime(row.ArrivalTime)
		if err != nil {
			return nil, nil, fmt.Errorf("trip %s stop sequence %d: bad arrival time: %w",
				row.TripId, row.StopSequence, err)
		}
		departure, err := gtfs.ParseScheduleTime(row.DepartureTime)
		if err != nil {
			return nil, nil, fmt.Errorf("trip %s stop sequence %d: bad departure time: %w",
				row.TripId, row.StopSequence, err)
		}
		stopTimes = append(stopTimes, &gtfs.StopTime{
			TripId:        row.TripId,
			StopSequence:  row.StopSequence,
			StopId:        row.StopId,
			ArrivalTime:   arrival,
			DepartureTime: departure,
		})
		span, present := spans[row.TripId]
		if !present {
			span = tripSpan{start: departure, end: arrival}
		}
		if departure < span.start {
			span.start = departure
		}
		if arrival > span.end {
			span.end = arrival
		}
		spans[row.TripId] = span
	}
	return stopTimes, spans, nil
}

func buildTrips(rows []csvTrip, spans map[string]tripSpan) []*gtfs.Trip {
	trips := make([]*gtfs.Trip, 0, len(rows))
	for _, row := range rows {
		trip := &gtfs.Trip{
			TripId:    row.TripId,
			RouteId:   row.RouteId,
			ServiceId: row.ServiceId,
		}
		if row.TripHeadsign != "" {
			headsign := row.TripHeadsign
			trip.TripHeadsign = &headsign
		}
		if span, present := spans[row.TripId]; present {
			trip.StartTime = span.start
			trip.EndTime = span.end
		}
		trips = append(trips, trip)
	}
	return trips
}

func buildCalendars(rows []csvCalendar, location *time.Location) ([]*gtfs.Calendar, error) {
	calendars := make([]*gtfs.Calendar, 0, len(rows))
	for _, row := range rows {
		start, err := parseGTFSDate(row.StartDate, location)
		if err != nil {
			return nil, fmt.Errorf("calendar %s: %w", row.ServiceId, err)
		}
		end, err := parseGTFSDate(row.EndDate, location)
		if err != nil {
			return nil, fmt.Errorf("calendar %s: %w", row.ServiceId, err)
		}
		calendars = append(calendars, &gtfs.Calendar{
			ServiceId: row.ServiceId,
			Monday:    row.Monday,
			Tuesday:   row.Tuesday,
			Wednesday: row.Wednesday,
			Thursday:  row.Thursday,
			Friday:    row.Friday,
			Saturday:  row.Saturday,
			Sunday:    row.Sunday,
			StartDate: start,
			EndDate:   end,
		})
	}
	return calendars, nil
}

func buildCalendarDates(rows []csvCalendarDate, location *time.Location) ([]*gtfs.CalendarDate, error) {
	calendarDates := make([]*gtfs.CalendarDate, 0, len(rows))
	for _, row := range rows {
		date, err := parseGTFSDate(row.Date, location)
		if err != nil {
			return nil, fmt.Errorf("calendar date %s: %w", row.ServiceId, err)
		}
		calendarDates = append(calendarDates, &gtfs.CalendarDate{
			ServiceId:     row.ServiceId,
			Date:          date,
			ExceptionType: row.ExceptionType,
		})
	}
	return calendarDates, nil
}

// buildRoutePaths picks one representative shape per route, the first one a
// trip of the route references, and emits its points in sequence order
func buildRoutePaths(trips []csvTrip, shapePoints []csvShapePoint) []*gtfs.RoutePathPoint {
	shapeByRoute := make(map[string]string)
	for _, trip := range trips {
		if trip.ShapeId == "" {
			continue
		}
		if _, present := shapeByRoute[trip.RouteId]; !present {
			shapeByRoute[trip.RouteId] = trip.ShapeId
		}
	}
	pointsByShape := make(map[string][]csvShapePoint)
	for _, point := range shapePoints {
		pointsByShape[point.ShapeId] = append(pointsByShape[point.ShapeId], point)
	}

	var routePaths []*gtfs.RoutePathPoint
	for routeId, shapeId := range shapeByRoute {
		points := pointsByShape[shapeId]
		sort.Slice(points, func(i, j int) bool {
			return points[i].PtSequence < points[j].PtSequence
		})
		for i, point := range points {
			routePaths = append(routePaths, &gtfs.RoutePathPoint{
				RouteId:    routeId,
				PtSequence: i,
				PtLat:      point.PtLat,
				PtLon:      point.PtLon,
			})
		}
	}
	return routePaths
}

func parseGTFSDate(value string, location *time.Location) (time.Time, error) {
	date, err := time.ParseInLocation("20060102", value, location)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad gtfs date %q: %w", value, err)
	}
	return date, nil
}
