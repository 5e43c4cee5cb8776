// Package metrics exposes power readings as Prometheus gauges written to a
// node_exporter textfile collector file. The tool is single-shot, so there
// is no scrape endpoint; each get-power run rewrites the file.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/power-mode/power-mode/internal/domain"
)

// Registry holds only this tool's gauges, so the textfile carries no Go
// runtime or process collectors.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// ─── Power ──────────────────────────────────────────────────────────────────

// PowerWatts is the instantaneous draw by source.
var PowerWatts = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "power_mode",
	Name:      "power_watts",
	Help:      "Instantaneous power draw in watts.",
}, []string{"source"})

// BatteryTimeRemaining is the estimated runtime left on battery.
var BatteryTimeRemaining = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "power_mode",
	Name:      "battery_time_remaining_minutes",
	Help:      "Estimated battery runtime at the current draw.",
}, nil)

// ACOnline is 1 when a mains supply is online.
var ACOnline = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "power_mode",
	Name:      "ac_online",
	Help:      "Whether a mains power supply is online.",
}, nil)

// ─── Mode ───────────────────────────────────────────────────────────────────

// ActiveMode is 1 for the mode currently applied.
var ActiveMode = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "power_mode",
	Name:      "active_mode_info",
	Help:      "The mode last applied successfully.",
}, []string{"mode"})

// ObservePower records r and the AC state. A nil r or onAC leaves the
// corresponding gauges absent.
func ObservePower(r *domain.PowerReading, onAC *bool) {
	if r != nil {
		PowerWatts.WithLabelValues(string(r.Source)).Set(r.Watts)
		if r.TimeRemainingMinutes != nil {
			BatteryTimeRemaining.WithLabelValues().Set(float64(*r.TimeRemainingMinutes))
		}
	}
	if onAC != nil {
		v := 0.0
		if *onAC {
			v = 1
		}
		ACOnline.WithLabelValues().Set(v)
	}
}

// ObserveActiveMode records the active mode name; "" records nothing.
func ObserveActiveMode(name string) {
	if name != "" {
		ActiveMode.WithLabelValues(name).Set(1)
	}
}

// WriteTextfile atomically writes every gathered gauge to path.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

// Reset clears every gauge.
func Reset() {
	PowerWatts.Reset()
	BatteryTimeRemaining.Reset()
	ACOnline.Reset()
	ActiveMode.Reset()
}
