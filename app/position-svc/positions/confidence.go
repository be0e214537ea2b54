package positions

import "encoding/json"

// ConfidenceLevel identifies which reconciliation layer produced a position
type ConfidenceLevel int

const (
	// ConfidenceTheoretical position comes from the static schedule alone
	ConfidenceTheoretical ConfidenceLevel = iota
	// ConfidenceRealtime position comes from a validated realtime arrival estimate
	ConfidenceRealtime
	// ConfidenceRealtimeVirtual position derived by rewinding the clock by a known trip delay
	ConfidenceRealtimeVirtual
	// ConfidenceAdjusted realtime and theoretical positions were blended
	ConfidenceAdjusted
	// ConfidencePivotEstimated realtime data came from a pivot stop further down the line
	ConfidencePivotEstimated
)

func (l ConfidenceLevel) String() string {
	switch l {
	case ConfidenceTheoretical:
		return "theoretical"
	case ConfidenceRealtime:
		return "realtime"
	case ConfidenceRealtimeVirtual:
		return "realtime-virtual"
	case ConfidenceAdjusted:
		return "adjusted"
	case ConfidencePivotEstimated:
		return "pivot-estimated"
	}
	return "unknown"
}

// Confidence tags an emitted position with the layer that produced it and whether
// smoothing and snapping were applied. Consumers use it for styling only, never
// for further branching.
type Confidence struct {
	Level    ConfidenceLevel `json:"-"`
	Smoothed bool            `json:"smoothed"`
	Snapped  bool            `json:"snapped"`
}

// String renders the display form, with the smoothed suffix the map styling reads
func (c Confidence) String() string {
	if c.Smoothed {
		return c.Level.String() + "-smoothed"
	}
	return c.Level.String()
}

// MarshalJSON emits the level as its symbolic name alongside the flags
func (c Confidence) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Level    string `json:"level"`
		Smoothed bool   `json:"smoothed"`
		Snapped  bool   `json:"snapped"`
	}{
		Level:    c.Level.String(),
		Smoothed: c.Smoothed,
		Snapped:  c.Snapped,
	})
}
