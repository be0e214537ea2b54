package gtfs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// MaximumScheduleSeconds is the largest schedule time a service day can carry.
	// gtfs stop times regularly run past midnight, so a service day spans up to 30 hours.
	MaximumScheduleSeconds = 60 * 60 * 30
)

// ParseScheduleTime converts a gtfs "HH:MM:SS" time to seconds since local midnight.
// Hours may exceed 23 for trips running past midnight.
func ParseScheduleTime(timeString string) (int, error) {
	parts := strings.Split(strings.TrimSpace(timeString), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid gtfs time %q", timeString)
	}
	var seconds int
	for _, part := range parts {
		value, err := strconv.Atoi(part)
		if err != nil || value < 0 {
			return 0, fmt.Errorf("invalid gtfs time %q", timeString)
		}
		seconds = seconds*60 + value
	}
	return seconds, nil
}

// FormatScheduleTime renders seconds since local midnight as "HH:MM:SS"
func FormatScheduleTime(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// getDLSTransitionSeconds provides the number of seconds offset for a 12am date later in the day
// after a day light saving time transition is done
func getDLSTransitionSeconds(timeAt12 time.Time) int {
	before := time.Date(timeAt12.Year(), timeAt12.Month(), timeAt12.Day(), 0, 0, 0, 0, timeAt12.Location())
	after := time.Date(timeAt12.Year(), timeAt12.Month(), timeAt12.Day(), 5, 0, 0, 0, timeAt12.Location())
	_, beforeOffset := before.Zone()
	_, afterOffset := after.Zone()
	return afterOffset - beforeOffset
}

// MakeScheduleTime produces a time by adding schedule seconds to a 12am date.
// Takes day light saving time into account.
func MakeScheduleTime(timeAt12 time.Time, scheduleSeconds int) time.Time {
	offset := getDLSTransitionSeconds(timeAt12)
	scheduleSeconds = scheduleSeconds + (0 - offset)
	return timeAt12.Add(time.Duration(scheduleSeconds) * time.Second)
}

// Get12AmTime returns the midnight starting the day at
func Get12AmTime(at time.Time) time.Time {
	return time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
}

// ScheduleSecondsAt returns the schedule seconds of at relative to its service day midnight
func ScheduleSecondsAt(at time.Time) int {
	return int(at.Sub(Get12AmTime(at)) / time.Second)
}
