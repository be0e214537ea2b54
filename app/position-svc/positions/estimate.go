package positions

import "time"

// PositionEstimate is the per-trip result of one estimation tick, ready for
// publishing and for the web service response.
type PositionEstimate struct {
	TripId             string     `json:"trip_id"`
	RouteId            string     `json:"route_id"`
	Line               string     `json:"line"`
	Headsign           string     `json:"headsign,omitempty"`
	Latitude           float64    `json:"latitude"`
	Longitude          float64    `json:"longitude"`
	Bearing            float64    `json:"bearing"`
	Progress           float64    `json:"progress"`
	OffRouteMeters     float64    `json:"off_route_meters,omitempty"`
	FromStopId         string     `json:"from_stop_id"`
	NextStopId         string     `json:"next_stop_id"`
	NextStopETASeconds int        `json:"next_stop_eta_seconds"`
	DelaySeconds       int        `json:"delay_seconds,omitempty"`
	Confidence         Confidence `json:"confidence"`
	ObservedAt         time.Time  `json:"observed_at"`
}
