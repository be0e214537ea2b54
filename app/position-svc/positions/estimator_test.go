package positions

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestEstimator_EstimatePositions(t *testing.T) {
	is := is.New(t)
	estimator := NewEstimator(testLogger(), testSchedule(true), nil, nil, nil, nil, nil)
	now := time.Date(2025, 6, 2, 8, 5, 0, 0, time.UTC)

	estimates := estimator.EstimatePositions(hms(8, 5, 0), serviceDay, now)
	is.Equal(len(estimates), 1)
	is.Equal(estimates[0].TripId, "t-1")
	is.Equal(estimates[0].Line, "A")
	is.Equal(estimates[0].Progress, 0.5)

	// a second tick with the same inputs reuses the geometry cache
	again := estimator.EstimatePositions(hms(8, 5, 0), serviceDay, now.Add(5*time.Second))
	is.Equal(again[0].Latitude, estimates[0].Latitude)
	is.Equal(again[0].Longitude, estimates[0].Longitude)
	is.Equal(estimator.Projector().Extractions(), int64(1))

	// nothing in service before the first departure
	is.Equal(len(estimator.EstimatePositions(hms(6, 0, 0), serviceDay, now)), 0)
}

func TestConfidence_Rendering(t *testing.T) {
	is := is.New(t)
	is.Equal(Confidence{Level: ConfidenceTheoretical}.String(), "theoretical")
	is.Equal(Confidence{Level: ConfidenceAdjusted, Smoothed: true}.String(), "adjusted-smoothed")

	payload, err := json.Marshal(Confidence{Level: ConfidenceRealtimeVirtual, Snapped: true})
	is.NoErr(err)
	is.Equal(string(payload), `{"level":"realtime-virtual","smoothed":false,"snapped":true}`)
}

func TestSimClock(t *testing.T) {
	is := is.New(t)
	clock, err := NewSimClock(time.UTC, "08:00:00", 60)
	is.NoErr(err)

	seconds, serviceDate, _ := clock.Tick()
	is.True(seconds >= hms(8, 0, 0))
	is.True(seconds < hms(8, 1, 0)) // 60x multiplier, well under a wall minute of test time
	is.Equal(serviceDate.Hour(), 0)

	_, err = NewSimClock(time.UTC, "08:00:00", -1)
	is.True(err != nil)

	_, err = NewSimClock(time.UTC, "not a time", 2)
	is.True(err != nil)
}
