package positions

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/perimap/positioncast/business/data/arrivals"
	"github.com/perimap/positioncast/business/data/delays"
	"github.com/perimap/positioncast/business/data/gtfs"
)

// Progress bounds applied to realtime-derived positions. The estimator never
// claims arrival at the next stop before the schedule itself advances the
// segment, so realtime progress is capped below 1.
const (
	arrivingProgress    = 0.92
	notDepartedProgress = 0.08
	minRealtimeProgress = 0.05
	maxRealtimeProgress = 0.95

	// an estimate this much longer than the whole segment means the
	// vehicle has not departed the previous stop yet
	notDepartedRatio = 1.5
)

// Deviation tolerances for validating a line-level realtime progress against
// the theoretical one, as fractions of the segment
const (
	trustDeviationTolerance = 0.30
	blendDeviationTolerance = 0.45
	realtimeBlendWeight     = 0.70
)

// Plausibility thresholds for anti-teleport smoothing and route snapping
const (
	maxPlausibleSpeedMetersPerSecond = 19.5
	maxPlausibleJumpMeters           = 600.0
	smoothingWeight                  = 0.30
	lastPositionMaxAge               = 3 * time.Minute

	snapMinMeters = 10.0
	snapMaxMeters = 120.0
)

// minRecordableDelaySeconds keeps jitter out of the delay recorder
const minRecordableDelaySeconds = 30

// Reconciler fuses realtime signals with theoretical schedule positions. Each
// layer is tried in order and the first one that produces a progress wins;
// everything below theoretical confidence degrades locally, never errors.
type Reconciler struct {
	log        *log.Logger
	schedule   *gtfs.Schedule
	projector  *Projector
	snapshot   arrivals.Snapshot
	deviations arrivals.DelaySource
	recorder   *delays.Recorder

	// normalized line names with per-stop granular realtime
	granularLines map[string]bool
	// normalized line name -> downstream stops known to carry realtime
	pivotStops map[string][]string

	lastKnown *lastPositionCache
}

func NewReconciler(
	log *log.Logger,
	schedule *gtfs.Schedule,
	projector *Projector,
	snapshot arrivals.Snapshot,
	deviations arrivals.DelaySource,
	recorder *delays.Recorder,
	granularLines []string,
	pivotStops map[string][]string) *Reconciler {

	granular := make(map[string]bool)
	for _, line := range granularLines {
		granular[arrivals.NormalizeLine(line)] = true
	}
	pivots := make(map[string][]string)
	for line, stops := range pivotStops {
		pivots[arrivals.NormalizeLine(line)] = stops
	}
	return &Reconciler{
		log:           log,
		schedule:      schedule,
		projector:     projector,
		snapshot:      snapshot,
		deviations:    deviations,
		recorder:      recorder,
		granularLines: granular,
		pivotStops:    pivots,
		lastKnown:     newLastPositionCache(lastPositionMaxAge),
	}
}

// Reconcile produces the final position estimate for one active trip
func (r *Reconciler) Reconcile(at ActiveTrip, now time.Time) PositionEstimate {
	segment := at.Segment
	line := arrivals.NormalizeLine(at.Route.RouteShortName)

	progress, level, delaySeconds := r.resolveProgress(at, line, now)

	point, projected := r.projector.Project(at.Trip.RouteId, segment.FromStop, segment.ToStop, progress)
	if !projected {
		point = StraightLinePosition(segment.FromStop, segment.ToStop, progress)
	}

	key := smoothingKey(at.Trip.TripId, line, segment.FromStop.StopId)
	confidence := Confidence{Level: level}
	point, confidence = r.smooth(key, point, confidence, now)
	point, confidence, offRouteMeters := r.snap(at, point, confidence)

	r.lastKnown.put(key, lastPosition{
		latitude:  point.Latitude,
		longitude: point.Longitude,
		progress:  progress,
		at:        now,
	})

	return PositionEstimate{
		TripId:             at.Trip.TripId,
		RouteId:            at.Trip.RouteId,
		Line:               at.Route.RouteShortName,
		Headsign:           r.headsign(at.Trip),
		Latitude:           point.Latitude,
		Longitude:          point.Longitude,
		Bearing:            point.Bearing,
		Progress:           progress,
		OffRouteMeters:     offRouteMeters,
		FromStopId:         segment.FromStop.StopId,
		NextStopId:         segment.ToStop.StopId,
		NextStopETASeconds: nextStopETA(segment, progress),
		DelaySeconds:       delaySeconds,
		Confidence:         confidence,
		ObservedAt:         now,
	}
}

// resolveProgress walks the reconciliation layers in order: direct arrival
// estimates for granular lines, per-trip schedule deviation, validated
// line-level adjustment, then the theoretical fallback.
func (r *Reconciler) resolveProgress(at ActiveTrip, line string, now time.Time) (float64, ConfidenceLevel, int) {
	segment := at.Segment
	theoretical := segment.TheoreticalProgress
	segmentSeconds := segment.SegmentEnd - segment.SegmentStart

	if r.snapshot != nil && r.granularLines[line] {
		if estimate := r.segmentEstimate(at, line); estimate != nil {
			progress := realtimeProgress(estimate.Minutes, estimate.Arriving, segmentSeconds)
			delay := r.impliedDelay(at, estimate)
			r.recordDelay(at, delay, now)
			return progress, ConfidenceRealtime, delay
		}
		if estimate, pivotArrival, found := r.pivotEstimate(at, line); found {
			delay := pivotImpliedDelay(at, estimate, pivotArrival)
			virtual := at.scheduleSeconds - delay
			progress := progressBetween(segment.SegmentStart, segment.SegmentEnd, virtual)
			r.recordDelay(at, delay, now)
			return progress, ConfidencePivotEstimated, delay
		}
	}

	if r.deviations != nil {
		if delay, known := r.deviations.TripDelaySeconds(at.Trip.TripId); known && delay != 0 {
			virtual := at.scheduleSeconds - delay
			progress := progressBetween(segment.SegmentStart, segment.SegmentEnd, virtual)
			r.recordDelay(at, delay, now)
			return progress, ConfidenceRealtimeVirtual, delay
		}
	}

	if r.snapshot != nil {
		if estimate := r.liveEstimateFor(segment.ToStop.StopId, segment.ToStop.StopCode, line); estimate != nil {
			realtime := realtimeProgress(estimate.Minutes, estimate.Arriving, segmentSeconds)
			progress, level := r.validateRealtime(at.Trip.TripId, theoretical, realtime)
			return progress, level, 0
		}
	}

	return theoretical, ConfidenceTheoretical, 0
}

// segmentEstimate looks up a direct arrival estimate for the segment, next stop
// first then the current stop
func (r *Reconciler) segmentEstimate(at ActiveTrip, line string) *arrivals.Estimate {
	segment := at.Segment
	if estimate := r.liveEstimateFor(segment.ToStop.StopId, segment.ToStop.StopCode, line); estimate != nil {
		return estimate
	}
	return r.liveEstimateFor(segment.FromStop.StopId, segment.FromStop.StopCode, line)
}

// pivotEstimate scans the line's downstream pivot stops for one the trip has
// not reached yet and returns its estimate along with the pivot's scheduled
// arrival in seconds past midnight
func (r *Reconciler) pivotEstimate(at ActiveTrip, line string) (*arrivals.Estimate, int, bool) {
	for _, stopId := range r.pivotStops[line] {
		pivotArrival, upcoming := r.upcomingOnTrip(at, stopId)
		if !upcoming {
			continue
		}
		stopCode := ""
		if stop, present := r.schedule.Stop(stopId); present {
			stopCode = stop.StopCode
		}
		if estimate := r.liveEstimateFor(stopId, stopCode, line); estimate != nil {
			return estimate, pivotArrival, true
		}
	}
	return nil, 0, false
}

// liveEstimateFor returns a fresh estimate only when it carries a genuine
// realtime reading. Non-live entries echo the printed timetable, which the
// lower layers already cover.
func (r *Reconciler) liveEstimateFor(stopId, stopCode, line string) *arrivals.Estimate {
	estimate := r.snapshot.EstimateFor(stopId, stopCode, line)
	if estimate == nil || !estimate.Live {
		return nil
	}
	return estimate
}

// upcomingOnTrip reports whether the trip still has the stop ahead of it,
// along with the stop's scheduled arrival seconds
func (r *Reconciler) upcomingOnTrip(at ActiveTrip, stopId string) (int, bool) {
	for _, st := range at.Trip.StopTimes {
		if st.StopId == stopId && st.ArrivalTime >= at.scheduleSeconds {
			return st.ArrivalTime, true
		}
	}
	return 0, false
}

// validateRealtime applies the deviation tolerance bands to a line-level
// realtime progress
func (r *Reconciler) validateRealtime(tripId string, theoretical, realtime float64) (float64, ConfidenceLevel) {
	deviation := math.Abs(realtime - theoretical)
	if deviation <= trustDeviationTolerance {
		return realtime, ConfidenceRealtime
	}
	if deviation <= blendDeviationTolerance {
		blended := realtimeBlendWeight*realtime + (1-realtimeBlendWeight)*theoretical
		return blended, ConfidenceAdjusted
	}
	r.log.Printf("trip %s: discarding implausible realtime progress %.2f against theoretical %.2f",
		tripId, realtime, theoretical)
	return theoretical, ConfidenceTheoretical
}

// smooth blends the candidate toward the previously emitted position when the
// implied movement is implausible
func (r *Reconciler) smooth(key string, candidate ProjectedPoint,
	confidence Confidence, now time.Time) (ProjectedPoint, Confidence) {

	previous, present := r.lastKnown.get(key, now)
	if !present {
		return candidate, confidence
	}
	displacement := haversineMeters(previous.latitude, previous.longitude,
		candidate.Latitude, candidate.Longitude)
	elapsed := now.Sub(previous.at).Seconds()
	plausible := elapsed > 0 && displacement <= maxPlausibleSpeedMetersPerSecond*elapsed
	if displacement <= maxPlausibleJumpMeters && plausible {
		return candidate, confidence
	}
	candidate.Latitude = previous.latitude + (candidate.Latitude-previous.latitude)*smoothingWeight
	candidate.Longitude = previous.longitude + (candidate.Longitude-previous.longitude)*smoothingWeight
	confidence.Smoothed = true
	return candidate, confidence
}

// snap moves the candidate onto the nearest route path point when it sits just
// off the path. Points inside the minimum are already on route, points beyond
// the maximum are treated as a genuine detour, left alone with their off-route
// distance reported.
func (r *Reconciler) snap(at ActiveTrip, candidate ProjectedPoint, confidence Confidence) (ProjectedPoint, Confidence, float64) {
	lat, lon, distance, usable := r.projector.NearestOnSegment(
		at.Trip.RouteId, at.Segment.FromStop, at.Segment.ToStop,
		candidate.Latitude, candidate.Longitude)
	if !usable {
		return candidate, confidence, 0
	}
	if distance <= snapMinMeters {
		return candidate, confidence, 0
	}
	if distance > snapMaxMeters {
		return candidate, confidence, distance
	}
	candidate.Latitude = lat
	candidate.Longitude = lon
	confidence.Snapped = true
	return candidate, confidence, 0
}

// impliedDelay turns a direct arrival estimate into seconds behind schedule at
// the segment's next stop
func (r *Reconciler) impliedDelay(at ActiveTrip, estimate *arrivals.Estimate) int {
	remainingScheduled := at.Segment.SegmentEnd - at.scheduleSeconds
	remainingRealtime := int(estimate.Minutes * 60)
	if estimate.Arriving {
		remainingRealtime = 0
	}
	return remainingRealtime - remainingScheduled
}

// pivotImpliedDelay turns a pivot stop estimate into seconds behind schedule.
// The estimate counts down to the pivot stop, so the deficit is measured
// against the pivot's own scheduled arrival rather than the current segment.
func pivotImpliedDelay(at ActiveTrip, estimate *arrivals.Estimate, pivotArrival int) int {
	remainingScheduled := pivotArrival - at.scheduleSeconds
	remainingRealtime := int(estimate.Minutes * 60)
	if estimate.Arriving {
		remainingRealtime = 0
	}
	return remainingRealtime - remainingScheduled
}

// recordDelay hands meaningful positive delays to the recorder, which applies
// its own aggregation thresholds
func (r *Reconciler) recordDelay(at ActiveTrip, delaySeconds int, now time.Time) {
	if r.recorder == nil || delaySeconds < minRecordableDelaySeconds {
		return
	}
	r.recorder.Record(delays.Observation{
		TripId:       at.Trip.TripId,
		RouteId:      at.Trip.RouteId,
		StopId:       at.Segment.ToStop.StopId,
		DelaySeconds: delaySeconds,
		ObservedAt:   now,
	})
}

// headsign prefers the trip's own headsign and falls back to the last stop name
func (r *Reconciler) headsign(trip *gtfs.TripSchedule) string {
	if trip.TripHeadsign != nil && *trip.TripHeadsign != "" {
		return *trip.TripHeadsign
	}
	last := trip.StopTimes[len(trip.StopTimes)-1]
	if stop, present := r.schedule.Stop(last.StopId); present {
		return stop.StopName
	}
	return ""
}

// realtimeProgress converts an arrival estimate into progress within the
// segment. The result never reaches 1 so the display cannot overtake the
// schedule's own segment transition.
func realtimeProgress(estimateMinutes float64, arriving bool, segmentSeconds int) float64 {
	if segmentSeconds <= 0 {
		return arrivingProgress
	}
	if arriving || estimateMinutes <= 0 {
		return arrivingProgress
	}
	estimateSeconds := estimateMinutes * 60
	if estimateSeconds >= notDepartedRatio*float64(segmentSeconds) {
		return notDepartedProgress
	}
	scheduledMinutes := float64(segmentSeconds) / 60
	progress := (scheduledMinutes - estimateMinutes) / scheduledMinutes
	if progress < minRealtimeProgress {
		progress = minRealtimeProgress
	}
	if progress > maxRealtimeProgress {
		progress = maxRealtimeProgress
	}
	return progress
}

// nextStopETA reports the seconds remaining to the segment end at the chosen
// progress, zero at the terminus
func nextStopETA(segment Segment, progress float64) int {
	if progress >= 1 {
		return 0
	}
	span := segment.SegmentEnd - segment.SegmentStart
	if span <= 0 {
		return 0
	}
	return int((1 - progress) * float64(span))
}

func smoothingKey(tripId string, line string, stopId string) string {
	if tripId != "" {
		return tripId
	}
	return fmt.Sprintf("%s|%s", line, stopId)
}
