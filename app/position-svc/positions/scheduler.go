package positions

import (
	"time"

	"github.com/perimap/positioncast/business/data/gtfs"
)

// Segment describes the two-stop span a trip occupies at one schedule instant.
// SegmentStart is the departure from FromStop. SegmentEnd is the departure from
// ToStop, except on the final leg where it is the arrival at the last stop.
type Segment struct {
	FromStop            *gtfs.Stop
	ToStop              *gtfs.Stop
	FromStopTime        *gtfs.StopTime
	ToStopTime          *gtfs.StopTime
	SegmentStart        int
	SegmentEnd          int
	FinalLeg            bool
	TheoreticalProgress float64
}

// ActiveTrip pairs an in-service trip with its current segment
type ActiveTrip struct {
	Trip    *gtfs.TripSchedule
	Route   *gtfs.Route
	Segment Segment

	// scheduleSeconds the trip is being evaluated at. For trips started the
	// previous service day this is a day ahead of the wall clock seconds.
	scheduleSeconds int
}

// Scheduler derives the set of trips in service at a schedule instant and the
// segment each one occupies
type Scheduler struct {
	schedule *gtfs.Schedule
}

func NewScheduler(schedule *gtfs.Schedule) *Scheduler {
	return &Scheduler{schedule: schedule}
}

// ActiveSegments returns an ActiveTrip for every trip whose activity window
// contains currentSeconds on serviceDate. Trips from the previous service day
// still running past midnight are included by evaluating them a day ahead.
func (s *Scheduler) ActiveSegments(currentSeconds int, serviceDate time.Time) []ActiveTrip {
	active := s.activeOn(currentSeconds, serviceDate)

	previousDay := serviceDate.AddDate(0, 0, -1)
	lateSeconds := currentSeconds + 24*60*60
	if lateSeconds <= gtfs.MaximumScheduleSeconds {
		active = append(active, s.activeOn(lateSeconds, previousDay)...)
	}
	return active
}

func (s *Scheduler) activeOn(currentSeconds int, serviceDate time.Time) []ActiveTrip {
	var active []ActiveTrip
	for _, trip := range s.schedule.TripsActiveOn(serviceDate) {
		at, ok := s.activeTrip(trip, currentSeconds)
		if !ok {
			continue
		}
		active = append(active, at)
	}
	return active
}

// activeTrip evaluates a single trip at a schedule instant. Trips with fewer
// than two stop times, trips outside their activity window and trips whose
// stops or route are missing from the dataset are excluded.
func (s *Scheduler) activeTrip(trip *gtfs.TripSchedule, currentSeconds int) (ActiveTrip, bool) {
	if len(trip.StopTimes) < 2 {
		return ActiveTrip{}, false
	}
	first, ok := trip.FirstDeparture()
	if !ok {
		return ActiveTrip{}, false
	}
	last, ok := trip.LastArrival()
	if !ok {
		return ActiveTrip{}, false
	}
	if currentSeconds < first || currentSeconds > last {
		return ActiveTrip{}, false
	}
	segment, ok := s.currentSegment(trip, currentSeconds)
	if !ok {
		return ActiveTrip{}, false
	}
	route, ok := s.schedule.Route(trip.RouteId)
	if !ok {
		return ActiveTrip{}, false
	}
	return ActiveTrip{
		Trip:            trip,
		Route:           route,
		Segment:         segment,
		scheduleSeconds: currentSeconds,
	}, true
}

// currentSegment locates the stop pair whose span contains currentSeconds.
// Every segment runs departure to departure so dwell time at a stop counts
// toward the leg approaching it, matching how riders see the vehicle move.
// Interior spans are half-open so the instant of a departure belongs to the
// leg leaving that stop; only the final leg keeps its arrival endpoint.
func (s *Scheduler) currentSegment(trip *gtfs.TripSchedule, currentSeconds int) (Segment, bool) {
	stopTimes := trip.StopTimes
	lastIndex := len(stopTimes) - 1
	for i := 0; i < lastIndex; i++ {
		from := stopTimes[i]
		to := stopTimes[i+1]
		start := from.DepartureTime
		end := to.DepartureTime
		finalLeg := i+1 == lastIndex
		if finalLeg {
			end = to.ArrivalTime
		}
		if currentSeconds < start {
			continue
		}
		if finalLeg {
			if currentSeconds > end {
				continue
			}
		} else if currentSeconds >= end {
			continue
		}
		fromStop, fromOk := s.schedule.Stop(from.StopId)
		toStop, toOk := s.schedule.Stop(to.StopId)
		if !fromOk || !toOk {
			return Segment{}, false
		}
		return Segment{
			FromStop:            fromStop,
			ToStop:              toStop,
			FromStopTime:        from,
			ToStopTime:          to,
			SegmentStart:        start,
			SegmentEnd:          end,
			FinalLeg:            finalLeg,
			TheoreticalProgress: progressBetween(start, end, currentSeconds),
		}, true
	}
	return Segment{}, false
}

// NextDeparture returns the earliest first departure after currentSeconds among
// trips active on serviceDate. Used to decide how long realtime polling can
// sleep when nothing is running.
func (s *Scheduler) NextDeparture(currentSeconds int, serviceDate time.Time) (int, bool) {
	next := 0
	found := false
	for _, trip := range s.schedule.TripsActiveOn(serviceDate) {
		first, ok := trip.FirstDeparture()
		if !ok || first <= currentSeconds {
			continue
		}
		if !found || first < next {
			next = first
			found = true
		}
	}
	return next, found
}

// progressBetween maps currentSeconds onto [0,1] within a span. A zero or
// negative span reports zero progress rather than dividing by it.
func progressBetween(start, end, currentSeconds int) float64 {
	span := end - start
	if span <= 0 {
		return 0
	}
	p := float64(currentSeconds-start) / float64(span)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
