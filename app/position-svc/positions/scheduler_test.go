package positions

import (
	"testing"

	"github.com/matryer/is"
)

func findActiveTrip(active []ActiveTrip, tripId string) *ActiveTrip {
	for i := range active {
		if active[i].Trip.TripId == tripId {
			return &active[i]
		}
	}
	return nil
}

func TestScheduler_ActivityWindow(t *testing.T) {
	scheduler := NewScheduler(testSchedule(false))

	tests := []struct {
		name       string
		seconds    int
		active     bool
		fromStopId string
		toStopId   string
		progress   float64
		finalLeg   bool
	}{
		{
			name:    "one second before first departure",
			seconds: hms(7, 59, 59),
			active:  false,
		},
		{
			name:       "exactly at first departure",
			seconds:    hms(8, 0, 0),
			active:     true,
			fromStopId: "s-1",
			toStopId:   "s-2",
			progress:   0,
		},
		{
			name:       "midway through first segment",
			seconds:    hms(8, 5, 0),
			active:     true,
			fromStopId: "s-1",
			toStopId:   "s-2",
			progress:   0.5,
		},
		{
			name:       "dwell time counts toward the approaching leg",
			seconds:    hms(8, 9, 45),
			active:     true,
			fromStopId: "s-1",
			toStopId:   "s-2",
			progress:   0.975,
		},
		{
			name:       "exactly at an interior departure the next leg begins",
			seconds:    hms(8, 10, 0),
			active:     true,
			fromStopId: "s-2",
			toStopId:   "s-3",
			progress:   0,
			finalLeg:   true,
		},
		{
			name:       "after second stop departure the final leg runs to arrival",
			seconds:    hms(8, 14, 0),
			active:     true,
			fromStopId: "s-2",
			toStopId:   "s-3",
			progress:   0.5,
			finalLeg:   true,
		},
		{
			name:       "exactly at last arrival",
			seconds:    hms(8, 18, 0),
			active:     true,
			fromStopId: "s-2",
			toStopId:   "s-3",
			progress:   1,
			finalLeg:   true,
		},
		{
			name:    "one second after last arrival",
			seconds: hms(8, 18, 1),
			active:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			active := scheduler.ActiveSegments(tt.seconds, serviceDay)
			trip := findActiveTrip(active, "t-1")
			if !tt.active {
				if trip != nil {
					t.Fatalf("expected t-1 inactive at %d, found segment %s->%s",
						tt.seconds, trip.Segment.FromStop.StopId, trip.Segment.ToStop.StopId)
				}
				return
			}
			if trip == nil {
				t.Fatalf("expected t-1 active at %d", tt.seconds)
			}
			if trip.Segment.FromStop.StopId != tt.fromStopId || trip.Segment.ToStop.StopId != tt.toStopId {
				t.Errorf("expected segment %s->%s, got %s->%s", tt.fromStopId, tt.toStopId,
					trip.Segment.FromStop.StopId, trip.Segment.ToStop.StopId)
			}
			if trip.Segment.TheoreticalProgress != tt.progress {
				t.Errorf("expected progress %v, got %v", tt.progress, trip.Segment.TheoreticalProgress)
			}
			if trip.Segment.FinalLeg != tt.finalLeg {
				t.Errorf("expected finalLeg %v, got %v", tt.finalLeg, trip.Segment.FinalLeg)
			}
		})
	}
}

func TestScheduler_SingleStopTimeNeverActive(t *testing.T) {
	is := is.New(t)
	scheduler := NewScheduler(testSchedule(false))
	active := scheduler.ActiveSegments(hms(9, 0, 0), serviceDay)
	is.Equal(findActiveTrip(active, "t-single"), nil) // a trip needs two stop times to occupy a segment
}

func TestScheduler_PastMidnightTrips(t *testing.T) {
	is := is.New(t)
	scheduler := NewScheduler(testSchedule(false))

	// the previous service day's 25:05 trip shows up at 01:05 wall time
	nextDay := serviceDay.AddDate(0, 0, 1)
	active := scheduler.ActiveSegments(hms(1, 5, 0), nextDay)
	trip := findActiveTrip(active, "t-late")
	is.True(trip != nil)
	is.Equal(trip.Segment.TheoreticalProgress, 0.5)
	is.Equal(trip.scheduleSeconds, hms(25, 5, 0))

	// the same trip evaluated during its own service day
	active = scheduler.ActiveSegments(hms(25, 5, 0), serviceDay)
	is.True(findActiveTrip(active, "t-late") != nil)
}

func TestScheduler_ProgressMonotonic(t *testing.T) {
	scheduler := NewScheduler(testSchedule(false))

	lastFrom := ""
	lastProgress := -1.0
	for seconds := hms(8, 0, 0); seconds <= hms(8, 18, 0); seconds += 15 {
		active := scheduler.ActiveSegments(seconds, serviceDay)
		trip := findActiveTrip(active, "t-1")
		if trip == nil {
			t.Fatalf("expected t-1 active at %d", seconds)
		}
		if trip.Segment.FromStop.StopId != lastFrom {
			lastFrom = trip.Segment.FromStop.StopId
			lastProgress = -1.0
		}
		if trip.Segment.TheoreticalProgress < lastProgress {
			t.Fatalf("progress went backward at %d: %v -> %v",
				seconds, lastProgress, trip.Segment.TheoreticalProgress)
		}
		lastProgress = trip.Segment.TheoreticalProgress
	}
}

func TestScheduler_ZeroSpanProgress(t *testing.T) {
	is := is.New(t)
	is.Equal(progressBetween(100, 100, 100), 0.0) // a zero-length span never divides
	is.Equal(progressBetween(200, 100, 150), 0.0)
}

func TestScheduler_NextDeparture(t *testing.T) {
	is := is.New(t)
	scheduler := NewScheduler(testSchedule(false))

	next, found := scheduler.NextDeparture(hms(7, 0, 0), serviceDay)
	is.True(found)
	is.Equal(next, hms(8, 0, 0))

	next, found = scheduler.NextDeparture(hms(10, 0, 0), serviceDay)
	is.True(found)
	is.Equal(next, hms(25, 0, 0))

	_, found = scheduler.NextDeparture(hms(26, 0, 0), serviceDay)
	is.True(!found)
}
