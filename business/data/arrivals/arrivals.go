// Package arrivals holds ephemeral realtime arrival estimates collected from the
// operator's departure feed, and the per-trip schedule deviations collected from a
// GTFS-RT trip update feed. The estimation pipeline only ever reads from this package.
package arrivals

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Estimate is one realtime arrival reading for a line at a stop.
// Minutes is the estimated wait until arrival; Arriving marks the qualitative
// "at approach" state the feed reports instead of a minute count.
type Estimate struct {
	Line       string    `json:"line"`
	StopId     string    `json:"stop_id"`
	StopCode   string    `json:"stop_code"`
	Minutes    float64   `json:"minutes"`
	Arriving   bool      `json:"arriving"`
	Live       bool      `json:"live"`
	ObservedAt time.Time `json:"observed_at"`
}

// Snapshot is the read-only realtime view the reconciler is constructed with.
// A nil entry or stale data is a normal state, never an error.
type Snapshot interface {
	// EstimateFor returns the freshest non-stale estimate for line at the stop, or nil
	EstimateFor(stopId string, stopCode string, line string) *Estimate
}

// DelaySource supplies a per-trip schedule deviation in seconds, when one is known.
// Positive values mean the vehicle runs behind schedule.
type DelaySource interface {
	TripDelaySeconds(tripId string) (int, bool)
}

var minutesPattern = regexp.MustCompile(`(\d+)\s*min`)
var clockPattern = regexp.MustCompile(`(\d{1,2}):(\d{2})`)

// ParseWaitingTime interprets the waiting time text the departure feed publishes.
// Accepted forms: "5 min", "à l'approche"/"imminent"/"0" (arriving now), and a
// wall clock "HH:MM" which is converted to minutes from now, rolling to the next
// day when already past. Returns ok false for anything unparseable.
func ParseWaitingTime(text string, now time.Time) (minutes float64, arriving bool, ok bool) {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return 0, false, false
	}

	if match := minutesPattern.FindStringSubmatch(trimmed); match != nil {
		value, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, false, false
		}
		return float64(value), value == 0, true
	}

	if strings.Contains(trimmed, "approche") || strings.Contains(trimmed, "imminent") || trimmed == "0" {
		return 0, true, true
	}

	if match := clockPattern.FindStringSubmatch(trimmed); match != nil {
		targetHour, _ := strconv.Atoi(match[1])
		targetMinute, _ := strconv.Atoi(match[2])
		if targetHour > 23 || targetMinute > 59 {
			return 0, false, false
		}
		nowMinutes := now.Hour()*60 + now.Minute()
		targetMinutes := targetHour*60 + targetMinute
		diff := targetMinutes - nowMinutes
		if diff < 0 {
			// the departure is tomorrow
			diff += 24 * 60
		}
		return float64(diff), diff == 0, true
	}

	return 0, false, false
}

// NormalizeLine reduces a line name to its comparable form
func NormalizeLine(line string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(line) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
