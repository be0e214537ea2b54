package positions

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/perimap/positioncast/business/data/arrivals"
)

func testReconciler(withPath bool, snapshot arrivals.Snapshot, deviations arrivals.DelaySource,
	granularLines []string, pivotStops map[string][]string) (*Reconciler, *Scheduler) {

	s := testSchedule(withPath)
	return NewReconciler(testLogger(), s, NewProjector(s), snapshot, deviations, nil,
		granularLines, pivotStops), NewScheduler(s)
}

func activeTripAt(t *testing.T, scheduler *Scheduler, tripId string, seconds int) ActiveTrip {
	t.Helper()
	trip := findActiveTrip(scheduler.ActiveSegments(seconds, serviceDay), tripId)
	if trip == nil {
		t.Fatalf("expected trip %s active at %d", tripId, seconds)
	}
	return *trip
}

func TestRealtimeProgress(t *testing.T) {
	tests := []struct {
		name            string
		estimateMinutes float64
		arriving        bool
		segmentSeconds  int
		expected        float64
	}{
		{
			name:            "arriving flag pins near the next stop",
			estimateMinutes: 3,
			arriving:        true,
			segmentSeconds:  600,
			expected:        0.92,
		},
		{
			name:            "zero minute estimate pins near the next stop, never 1.0",
			estimateMinutes: 0,
			segmentSeconds:  600,
			expected:        0.92,
		},
		{
			name:            "estimate far beyond the segment means not departed",
			estimateMinutes: 15,
			segmentSeconds:  600,
			expected:        0.08,
		},
		{
			name:            "ordinary estimate interpolates by minutes",
			estimateMinutes: 5,
			segmentSeconds:  600,
			expected:        0.5,
		},
		{
			name:            "near-complete estimate clamps at 0.95",
			estimateMinutes: 0.2,
			segmentSeconds:  600,
			expected:        0.95,
		},
		{
			name:            "barely-started estimate clamps at 0.05",
			estimateMinutes: 9.8,
			segmentSeconds:  600,
			expected:        0.05,
		},
		{
			name:            "zero-length segment pins near the next stop",
			estimateMinutes: 2,
			segmentSeconds:  0,
			expected:        0.92,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := realtimeProgress(tt.estimateMinutes, tt.arriving, tt.segmentSeconds)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
			if got > maxRealtimeProgress {
				t.Errorf("progress %v exceeds the hard clamp", got)
			}
		})
	}
}

func TestValidateRealtime_DeviationBands(t *testing.T) {
	r, _ := testReconciler(false, nil, nil, nil, nil)

	tests := []struct {
		name             string
		theoretical      float64
		realtime         float64
		expectedProgress float64
		expectedLevel    ConfidenceLevel
	}{
		{
			name:             "small deviation trusts realtime",
			theoretical:      0.50,
			realtime:         0.60,
			expectedProgress: 0.60,
			expectedLevel:    ConfidenceRealtime,
		},
		{
			name:             "moderate deviation blends 70/30",
			theoretical:      0.50,
			realtime:         0.95,
			expectedProgress: 0.815,
			expectedLevel:    ConfidenceAdjusted,
		},
		{
			name:             "large deviation rejects realtime",
			theoretical:      0.50,
			realtime:         0.02,
			expectedProgress: 0.50,
			expectedLevel:    ConfidenceTheoretical,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			progress, level := r.validateRealtime("t-1", tt.theoretical, tt.realtime)
			if math.Abs(progress-tt.expectedProgress) > 1e-9 {
				t.Errorf("expected progress %v, got %v", tt.expectedProgress, progress)
			}
			if level != tt.expectedLevel {
				t.Errorf("expected level %v, got %v", tt.expectedLevel, level)
			}
		})
	}
}

func TestReconcile_TheoreticalMidpoint(t *testing.T) {
	is := is.New(t)
	r, scheduler := testReconciler(false, nil, nil, nil, nil)
	at := activeTripAt(t, scheduler, "t-1", hms(8, 5, 0))

	estimate := r.Reconcile(at, time.Date(2025, 6, 2, 8, 5, 0, 0, time.UTC))

	from := at.Segment.FromStop
	to := at.Segment.ToStop
	is.Equal(estimate.Progress, 0.5)
	is.Equal(estimate.Confidence.String(), "theoretical")
	is.True(math.Abs(estimate.Latitude-(from.StopLat+to.StopLat)/2) < 1e-12)
	is.True(math.Abs(estimate.Longitude-(from.StopLon+to.StopLon)/2) < 1e-12)
	is.Equal(estimate.NextStopId, "s-2")
	is.Equal(estimate.NextStopETASeconds, 300)
	is.Equal(estimate.Headsign, "Centre Ville")
}

func TestReconcile_DirectArrivalEstimate(t *testing.T) {
	is := is.New(t)
	snapshot := &stubSnapshot{estimates: map[string]*arrivals.Estimate{
		"s-2|A": {Line: "A", StopId: "s-2", Minutes: 5, Live: true},
	}}
	r, scheduler := testReconciler(false, snapshot, nil, []string{"A"}, nil)
	at := activeTripAt(t, scheduler, "t-1", hms(8, 8, 0))

	estimate := r.Reconcile(at, time.Date(2025, 6, 2, 8, 8, 0, 0, time.UTC))

	// 5 of 10 scheduled minutes remain regardless of the 0.8 theoretical progress
	is.Equal(estimate.Progress, 0.5)
	is.Equal(estimate.Confidence.Level, ConfidenceRealtime)
	// est says 5 minutes to s-2, schedule says 2: vehicle runs 180s behind
	is.Equal(estimate.DelaySeconds, 180)
}

func TestReconcile_PivotStopEstimate(t *testing.T) {
	// at 8:05 the pivot s-3 is scheduled 13 minutes out, so its countdown
	// measures the whole remaining trip, not the current segment
	tests := []struct {
		name             string
		estimateMinutes  float64
		expectedProgress float64
		expectedDelay    int
	}{
		{
			name:             "on time pivot countdown matches the schedule",
			estimateMinutes:  13,
			expectedProgress: 0.5,
			expectedDelay:    0,
		},
		{
			name:             "late pivot countdown rewinds the position",
			estimateMinutes:  16,
			expectedProgress: 0.2,
			expectedDelay:    180,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			snapshot := &stubSnapshot{estimates: map[string]*arrivals.Estimate{
				"s-3|A": {Line: "A", StopId: "s-3", Minutes: tt.estimateMinutes, Live: true},
			}}
			r, scheduler := testReconciler(false, snapshot, nil, []string{"A"},
				map[string][]string{"A": {"s-3"}})
			at := activeTripAt(t, scheduler, "t-1", hms(8, 5, 0))

			estimate := r.Reconcile(at, time.Date(2025, 6, 2, 8, 5, 0, 0, time.UTC))

			is.Equal(estimate.Confidence.Level, ConfidencePivotEstimated)
			is.Equal(estimate.Progress, tt.expectedProgress)
			is.Equal(estimate.DelaySeconds, tt.expectedDelay)
		})
	}
}

func TestReconcile_NonLiveEstimateIgnored(t *testing.T) {
	is := is.New(t)
	// a feed entry without a realtime reading is just the timetable again
	snapshot := &stubSnapshot{estimates: map[string]*arrivals.Estimate{
		"s-2|A": {Line: "A", StopId: "s-2", Minutes: 5, Live: false},
	}}
	r, scheduler := testReconciler(false, snapshot, nil, []string{"A"}, nil)
	at := activeTripAt(t, scheduler, "t-1", hms(8, 5, 0))

	estimate := r.Reconcile(at, time.Date(2025, 6, 2, 8, 5, 0, 0, time.UTC))

	is.Equal(estimate.Progress, 0.5)
	is.Equal(estimate.Confidence.Level, ConfidenceTheoretical)
	is.Equal(estimate.DelaySeconds, 0)
}

func TestReconcile_ScheduledDeviation(t *testing.T) {
	is := is.New(t)
	r, scheduler := testReconciler(false, nil, stubDelaySource{"t-1": 120}, nil, nil)
	at := activeTripAt(t, scheduler, "t-1", hms(8, 5, 0))

	estimate := r.Reconcile(at, time.Date(2025, 6, 2, 8, 5, 0, 0, time.UTC))

	// two minutes behind: the vehicle is where the clock said three minutes ago
	is.Equal(estimate.Progress, 0.3)
	is.Equal(estimate.Confidence.Level, ConfidenceRealtimeVirtual)
	is.Equal(estimate.DelaySeconds, 120)
}

func TestReconcile_LineLevelValidation(t *testing.T) {
	is := is.New(t)
	// line A is not granular here, so the estimate goes through the deviation bands
	snapshot := &stubSnapshot{estimates: map[string]*arrivals.Estimate{
		"s-2|A": {Line: "A", StopId: "s-2", Minutes: 4, Live: true},
	}}
	r, scheduler := testReconciler(false, snapshot, nil, nil, nil)
	at := activeTripAt(t, scheduler, "t-1", hms(8, 5, 0))

	estimate := r.Reconcile(at, time.Date(2025, 6, 2, 8, 5, 0, 0, time.UTC))

	// realtime 0.6 vs theoretical 0.5 deviates by 0.1, trusted fully
	is.Equal(estimate.Progress, 0.6)
	is.Equal(estimate.Confidence.Level, ConfidenceRealtime)
}

func TestReconcile_AntiTeleportSmoothing(t *testing.T) {
	is := is.New(t)
	r, scheduler := testReconciler(false, nil, nil, nil, nil)
	at := activeTripAt(t, scheduler, "t-1", hms(8, 5, 0))

	now := time.Date(2025, 6, 2, 8, 5, 0, 0, time.UTC)
	// prior position 2km south of the candidate, 5 seconds ago
	prior := lastPosition{
		latitude:  at.Segment.FromStop.StopLat - 0.018,
		longitude: at.Segment.FromStop.StopLon,
		at:        now.Add(-5 * time.Second),
	}
	r.lastKnown.put("t-1", prior)

	raw := StraightLinePosition(at.Segment.FromStop, at.Segment.ToStop, 0.5)
	estimate := r.Reconcile(at, now)

	is.True(estimate.Confidence.Smoothed)
	is.True(strings.HasSuffix(estimate.Confidence.String(), "-smoothed"))
	// emitted coordinate lies strictly between the prior and the raw candidate
	is.True(estimate.Latitude > prior.latitude)
	is.True(estimate.Latitude < raw.Latitude)
}

func TestReconcile_SmoothingExpiredPrior(t *testing.T) {
	is := is.New(t)
	r, scheduler := testReconciler(false, nil, nil, nil, nil)
	at := activeTripAt(t, scheduler, "t-1", hms(8, 5, 0))

	now := time.Date(2025, 6, 2, 8, 5, 0, 0, time.UTC)
	r.lastKnown.put("t-1", lastPosition{
		latitude:  at.Segment.FromStop.StopLat - 0.018,
		longitude: at.Segment.FromStop.StopLon,
		at:        now.Add(-5 * time.Minute),
	})

	// a prior older than the cache window never smooths
	estimate := r.Reconcile(at, now)
	is.True(!estimate.Confidence.Smoothed)
}

func TestSnap_Band(t *testing.T) {
	// at 45.188 north one degree of longitude is about 78.8 km
	const degreesPerMeter = 1.0 / 78800.0

	r, scheduler := testReconciler(true, nil, nil, nil, nil)
	at := activeTripAt(t, scheduler, "t-1", hms(8, 5, 0))
	onPath, ok := r.projector.Project(at.Trip.RouteId, at.Segment.FromStop, at.Segment.ToStop, 0)
	if !ok {
		t.Fatal("expected a usable path")
	}

	tests := []struct {
		name         string
		offsetMeters float64
		snapped      bool
		offRoute     bool
	}{
		{"below the minimum stays put", 5, false, false},
		{"inside the band snaps", 20, true, false},
		{"beyond the maximum is a genuine detour", 500, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidate := ProjectedPoint{
				Latitude:  onPath.Latitude,
				Longitude: onPath.Longitude + tt.offsetMeters*degreesPerMeter,
			}
			moved, confidence, offRouteMeters := r.snap(at, candidate, Confidence{Level: ConfidenceTheoretical})
			if confidence.Snapped != tt.snapped {
				t.Fatalf("expected snapped %v at %v meters", tt.snapped, tt.offsetMeters)
			}
			if tt.snapped {
				if moved.Latitude != onPath.Latitude || moved.Longitude != onPath.Longitude {
					t.Errorf("expected candidate snapped onto the path point")
				}
			} else if moved != candidate {
				t.Errorf("expected candidate left unmodified")
			}
			if tt.offRoute && offRouteMeters <= snapMaxMeters {
				t.Errorf("expected the off-route distance reported, got %v", offRouteMeters)
			}
			if !tt.offRoute && offRouteMeters != 0 {
				t.Errorf("expected no off-route distance, got %v", offRouteMeters)
			}
		})
	}
}

func TestNextStopETA(t *testing.T) {
	is := is.New(t)
	segment := Segment{SegmentStart: hms(8, 0, 0), SegmentEnd: hms(8, 10, 0)}
	is.Equal(nextStopETA(segment, 0.5), 300)
	is.Equal(nextStopETA(segment, 1), 0) // terminus
	is.Equal(nextStopETA(Segment{SegmentStart: 100, SegmentEnd: 100}, 0.5), 0)
}
