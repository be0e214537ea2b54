package delays

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/matryer/is"
)

func testObservation(routeId, stopId string, delaySeconds, hour int) Observation {
	return Observation{
		TripId:       "t-1",
		RouteId:      routeId,
		StopId:       stopId,
		DelaySeconds: delaySeconds,
		ObservedAt:   time.Date(2025, 6, 2, hour, 15, 0, 0, time.UTC),
	}
}

func TestRecorder_MinimumThreshold(t *testing.T) {
	is := is.New(t)
	recorder := NewRecorder(log.New(io.Discard, "", 0), nil)

	recorder.Record(testObservation("A", "s-1", 60, 8))
	recorder.Record(testObservation("A", "s-1", -90, 8))
	is.Equal(recorder.Stats().TotalObservations, 0) // jitter under two minutes never counts

	recorder.Record(testObservation("A", "s-1", 120, 8))
	recorder.Record(testObservation("A", "s-1", -150, 8))
	is.Equal(recorder.Stats().TotalObservations, 2)
}

func TestRecorder_LineAggregation(t *testing.T) {
	is := is.New(t)
	recorder := NewRecorder(log.New(io.Discard, "", 0), nil)

	recorder.Record(testObservation("A", "s-1", 180, 8))
	recorder.Record(testObservation("A", "s-2", 420, 9))
	recorder.Record(testObservation("B", "s-3", 240, 8))

	summary := recorder.Stats()
	is.Equal(len(summary.LineStats), 2)

	lineA := summary.LineStats[0]
	is.Equal(lineA.RouteId, "A")
	is.Equal(lineA.Observations, 2)
	is.Equal(lineA.AverageDelay, 300)
	is.Equal(lineA.MaxDelay, 420)
	is.Equal(lineA.MinDelay, 180)
	is.Equal(lineA.MajorCount, 1) // only the 420s observation crosses the major bar
}

func TestRecorder_HourAndStopAggregation(t *testing.T) {
	is := is.New(t)
	recorder := NewRecorder(log.New(io.Discard, "", 0), nil)

	recorder.Record(testObservation("A", "s-1", 180, 8))
	recorder.Record(testObservation("A", "s-1", 300, 8))
	recorder.Record(testObservation("A", "s-2", 600, 17))

	summary := recorder.Stats()
	is.Equal(len(summary.HourlyStats), 2)
	is.Equal(summary.HourlyStats[0].Hour, 8)
	is.Equal(summary.HourlyStats[0].AverageDelay, 240)
	is.Equal(summary.HourlyStats[0].Observations, 2)

	// worst stops sort by average delay descending
	is.Equal(len(summary.WorstStops), 2)
	is.Equal(summary.WorstStops[0].StopId, "s-2")
	is.Equal(summary.WorstStops[0].AverageDelay, 600)
}

func TestRecorder_HistoryRing(t *testing.T) {
	is := is.New(t)
	recorder := NewRecorder(log.New(io.Discard, "", 0), nil)

	for i := 0; i < maxHistorySize+25; i++ {
		recorder.Record(testObservation("A", "s-1", 180, 8))
	}
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	is.Equal(len(recorder.history), maxHistorySize)
}
