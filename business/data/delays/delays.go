// Package delays collects observed schedule deviations and aggregates them for the
// delay statistics endpoint. Observations come from the estimation pipeline whenever a
// realtime signal shows a trip meaningfully behind its schedule.
package delays

import (
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	// MinRecordSeconds is the smallest deviation worth recording
	MinRecordSeconds = 120
	// MajorSeconds marks a deviation as a major delay
	MajorSeconds = 300
)

// Observation is one observed deviation of a trip from its schedule
type Observation struct {
	TripId       string    `db:"trip_id" json:"trip_id"`
	RouteId      string    `db:"route_id" json:"route_id"`
	StopId       string    `db:"stop_id" json:"stop_id"`
	DelaySeconds int       `db:"delay_seconds" json:"delay_seconds"`
	Major        bool      `db:"major" json:"major"`
	ObservedAt   time.Time `db:"observed_at" json:"observed_at"`
}

// RecordObservation saves one observation to the database
func RecordObservation(db *sqlx.DB, observation *Observation) error {
	statementString := "insert into delay_observation ( " +
		"trip_id, " +
		"route_id, " +
		"stop_id, " +
		"delay_seconds, " +
		"major, " +
		"observed_at) " +
		"values (" +
		":trip_id, " +
		":route_id, " +
		":stop_id, " +
		":delay_seconds, " +
		":major, " +
		":observed_at)"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExec(statementString, observation)
	return err
}

// LineStat aggregates observations for one line
type LineStat struct {
	RouteId      string `json:"route_id"`
	AverageDelay int    `json:"average_delay_seconds"`
	MaxDelay     int    `json:"max_delay_seconds"`
	MinDelay     int    `json:"min_delay_seconds"`
	MajorCount   int    `json:"major_count"`
	Observations int    `json:"observations"`
}

// HourStat aggregates observations for one hour of the service day
type HourStat struct {
	Hour         int `json:"hour"`
	AverageDelay int `json:"average_delay_seconds"`
	Observations int `json:"observations"`
}

// StopStat aggregates observations for one stop
type StopStat struct {
	StopId       string `json:"stop_id"`
	AverageDelay int    `json:"average_delay_seconds"`
	Observations int    `json:"observations"`
}

// Summary is the compiled statistics snapshot served over http
type Summary struct {
	TotalObservations int        `json:"total_observations"`
	LineStats         []LineStat `json:"line_stats"`
	HourlyStats       []HourStat `json:"hourly_stats"`
	WorstStops        []StopStat `json:"worst_stops"`
}
