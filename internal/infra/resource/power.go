// Package resource reads instantaneous host power draw from the battery
// interface or the GPU tool.
package resource

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/prometheus/procfs/sysfs"
	"github.com/sirupsen/logrus"

	"github.com/power-mode/power-mode/internal/domain"
)

const (
	supplyBattery = "Battery"
	supplyMains   = "Mains"
)

// PowerMonitor implements the read-only power telemetry path. It never
// mutates hardware and needs no privilege.
type PowerMonitor struct {
	fs  sysfs.FS
	gpu domain.GpuController
	log logrus.FieldLogger
}

var _ domain.PowerMeter = (*PowerMonitor)(nil)

// NewPowerMonitor creates a monitor over the sysfs mount at root. gpu may
// be nil when GPU readings are not wanted.
func NewPowerMonitor(root string, gpu domain.GpuController, log logrus.FieldLogger) (*PowerMonitor, error) {
	fs, err := sysfs.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSensorUnavailable, err)
	}
	return &PowerMonitor{
		fs:  fs,
		gpu: gpu,
		log: log.WithField("component", "power"),
	}, nil
}

// Read returns the current draw for source. A nil reading with a nil error
// means there is nothing to report: the battery source while on AC.
func (m *PowerMonitor) Read(ctx context.Context, source domain.PowerSource) (*domain.PowerReading, error) {
	switch source {
	case domain.SourceGPU:
		return m.readGPU(ctx)
	case domain.SourceBattery, "":
		return m.readBattery()
	default:
		return nil, fmt.Errorf("unknown power source %q", source)
	}
}

// OnACPower reports whether any mains supply is online.
func (m *PowerMonitor) OnACPower() (bool, error) {
	supplies, err := m.supplies()
	if err != nil {
		return false, err
	}
	found := false
	for _, ps := range supplies {
		if ps.Type != supplyMains {
			continue
		}
		found = true
		if ps.Online != nil && *ps.Online == 1 {
			return true, nil
		}
	}
	if !found {
		return false, fmt.Errorf("%w: no mains supply reported", domain.ErrSensorUnavailable)
	}
	return false, nil
}

func (m *PowerMonitor) readBattery() (*domain.PowerReading, error) {
	onAC, err := m.OnACPower()
	if err == nil && onAC {
		m.log.Debug("On AC power, no battery reading")
		return nil, nil
	}

	bat, err := m.battery()
	if err != nil {
		return nil, err
	}

	microWatts, ok := batteryPower(bat)
	if !ok {
		return nil, fmt.Errorf("%w: %s reports neither power_now nor current_now/voltage_now", domain.ErrSensorUnavailable, bat.Name)
	}
	microWattHours, ok := batteryEnergy(bat)
	if !ok {
		return nil, fmt.Errorf("%w: %s reports neither energy_now nor charge_now/voltage_now", domain.ErrSensorUnavailable, bat.Name)
	}

	reading := &domain.PowerReading{
		Watts:  roundTenth(float64(microWatts) / 1e6),
		Source: domain.SourceBattery,
	}
	if microWatts > 0 {
		minutes := int(float64(microWattHours) / float64(microWatts) * 60)
		reading.TimeRemainingMinutes = &minutes
	}

	m.log.WithFields(logrus.Fields{
		"battery":    bat.Name,
		"power_uw":   microWatts,
		"energy_uwh": microWattHours,
	}).Debug("Read battery power")
	return reading, nil
}

func (m *PowerMonitor) readGPU(ctx context.Context) (*domain.PowerReading, error) {
	if m.gpu == nil || !m.gpu.Available() {
		return nil, fmt.Errorf("%w: GPU tool not available", domain.ErrSensorUnavailable)
	}
	w, err := m.gpu.PowerDraw(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSensorUnavailable, err)
	}
	return &domain.PowerReading{Watts: roundTenth(w), Source: domain.SourceGPU}, nil
}

func (m *PowerMonitor) supplies() (sysfs.PowerSupplyClass, error) {
	psc, err := m.fs.PowerSupplyClass()
	if err != nil {
		return nil, fmt.Errorf("%w: read power supplies: %v", domain.ErrSensorUnavailable, err)
	}
	return psc, nil
}

// battery returns the first battery by name (BAT0 before BAT1).
func (m *PowerMonitor) battery() (sysfs.PowerSupply, error) {
	psc, err := m.supplies()
	if err != nil {
		return sysfs.PowerSupply{}, err
	}
	names := make([]string, 0, len(psc))
	for name, ps := range psc {
		if ps.Type == supplyBattery {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return sysfs.PowerSupply{}, fmt.Errorf("%w: no battery found", domain.ErrSensorUnavailable)
	}
	sort.Strings(names)
	return psc[names[0]], nil
}

// batteryPower returns the discharge rate in µW.
func batteryPower(ps sysfs.PowerSupply) (int64, bool) {
	if ps.PowerNow != nil {
		return abs(*ps.PowerNow), true
	}
	if ps.CurrentNow != nil && ps.VoltageNow != nil {
		return abs(*ps.CurrentNow) * *ps.VoltageNow / 1e6, true
	}
	return 0, false
}

// batteryEnergy returns the remaining energy in µWh.
func batteryEnergy(ps sysfs.PowerSupply) (int64, bool) {
	if ps.EnergyNow != nil {
		return *ps.EnergyNow, true
	}
	if ps.ChargeNow != nil && ps.VoltageNow != nil {
		return *ps.ChargeNow * *ps.VoltageNow / 1e6, true
	}
	return 0, false
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
