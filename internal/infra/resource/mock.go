package resource

import (
	"context"
	"fmt"

	"github.com/power-mode/power-mode/internal/domain"
)

// MockPowerMeter is a scripted PowerMeter for tests.
type MockPowerMeter struct {
	Readings map[domain.PowerSource]*domain.PowerReading
	Errs     map[domain.PowerSource]error
	OnAC     bool
	ACErr    error
	Reads    int
}

var _ domain.PowerMeter = (*MockPowerMeter)(nil)

// NewMockPowerMeter returns a meter discharging at r on battery.
func NewMockPowerMeter(r *domain.PowerReading) *MockPowerMeter {
	return &MockPowerMeter{
		Readings: map[domain.PowerSource]*domain.PowerReading{domain.SourceBattery: r},
		Errs:     map[domain.PowerSource]error{},
	}
}

func (m *MockPowerMeter) Read(_ context.Context, source domain.PowerSource) (*domain.PowerReading, error) {
	m.Reads++
	if source == "" {
		source = domain.SourceBattery
	}
	if err := m.Errs[source]; err != nil {
		return nil, err
	}
	r, ok := m.Readings[source]
	if !ok {
		return nil, fmt.Errorf("%w: no %s reading", domain.ErrSensorUnavailable, source)
	}
	if source == domain.SourceBattery && m.OnAC {
		return nil, nil
	}
	return r, nil
}

func (m *MockPowerMeter) OnACPower() (bool, error) {
	return m.OnAC, m.ACErr
}
