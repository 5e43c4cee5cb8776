package domain

import "fmt"

// PowerSource identifies where a PowerReading came from.
type PowerSource string

const (
	SourceBattery PowerSource = "battery"
	SourceGPU     PowerSource = "gpu"
)

// PowerReading is an instantaneous power draw. It is never persisted.
type PowerReading struct {
	Watts                float64     `json:"watts"`
	Source               PowerSource `json:"source"`
	TimeRemainingMinutes *int        `json:"time_remaining_minutes,omitempty"`
}

// String renders the reading the way status bars consume it:
// "15.0 W - 120 min", or "15.0 W" when no estimate is available.
func (r PowerReading) String() string {
	if r.TimeRemainingMinutes != nil {
		return fmt.Sprintf("%.1f W - %d min", r.Watts, *r.TimeRemainingMinutes)
	}
	return fmt.Sprintf("%.1f W", r.Watts)
}
