package positions

import (
	"fmt"
	"time"

	"github.com/perimap/positioncast/business/data/gtfs"
)

// Clock supplies the schedule instant each estimation tick runs at
type Clock interface {
	// Tick returns the schedule seconds past the service day's midnight, the
	// service date, and the wall time of the reading
	Tick() (int, time.Time, time.Time)
}

// wallClock follows the real wall clock in the network's timezone
type wallClock struct {
	location *time.Location
}

func (c *wallClock) Tick() (int, time.Time, time.Time) {
	now := time.Now().In(c.location)
	return gtfs.ScheduleSecondsAt(now), gtfs.Get12AmTime(now), now
}

// SimClock replays a service day at an optional speed multiplier from an
// optional fixed start time. With multiplier 1 and no start time it behaves as
// a plain wall clock.
type SimClock struct {
	location     *time.Location
	multiplier   float64
	startSeconds int
	serviceDate  time.Time
	startedAt    time.Time
	simulated    bool
}

// NewSimClock builds a clock from config. startAt is "HH:MM:SS" schedule time
// or empty for the wall clock, multiplier scales elapsed time when simulating.
func NewSimClock(location *time.Location, startAt string, multiplier float64) (Clock, error) {
	if startAt == "" && multiplier == 1 {
		return &wallClock{location: location}, nil
	}
	if multiplier <= 0 {
		return nil, fmt.Errorf("clock multiplier must be positive, got %v", multiplier)
	}
	now := time.Now().In(location)
	startSeconds := gtfs.ScheduleSecondsAt(now)
	if startAt != "" {
		seconds, err := gtfs.ParseScheduleTime(startAt)
		if err != nil {
			return nil, fmt.Errorf("invalid clock start time %q: %w", startAt, err)
		}
		startSeconds = seconds
	}
	return &SimClock{
		location:     location,
		multiplier:   multiplier,
		startSeconds: startSeconds,
		serviceDate:  gtfs.Get12AmTime(now),
		startedAt:    now,
		simulated:    true,
	}, nil
}

func (c *SimClock) Tick() (int, time.Time, time.Time) {
	now := time.Now().In(c.location)
	elapsed := now.Sub(c.startedAt).Seconds() * c.multiplier
	return c.startSeconds + int(elapsed), c.serviceDate, now
}
