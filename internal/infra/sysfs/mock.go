package sysfs

import (
	"fmt"
	"maps"
	"sync"

	"github.com/power-mode/power-mode/internal/domain"
)

// ─── Mock CPU (for testing without a sysfs tree) ────────────────────────────

// MockCPU implements domain.CPUController in memory. Writes are counted and
// can be made to fail per core.
type MockCPU struct {
	mu       sync.Mutex
	limits   domain.CPULimits
	cores    map[int]domain.CoreState
	retained map[int]domain.CoreState // cpufreq values kept while offline
	failOnce map[int]error
	failAll  map[int]error
	readFail map[int]error
	writes   int

	// AfterWrite, when set, may alter the stored state after a successful
	// write, e.g. to model firmware clamping a frequency.
	AfterWrite func(st *domain.CoreState)
}

var _ domain.CPUController = (*MockCPU)(nil)

// NewMockCPU creates n online cores running schedutil over 400-4800 MHz.
// Core 0 cannot be taken offline.
func NewMockCPU(n int) *MockCPU {
	ids := make([]int, n)
	cores := make(map[int]domain.CoreState, n)
	for i := 0; i < n; i++ {
		ids[i] = i
		cores[i] = domain.CoreState{
			ID:         i,
			Status:     domain.CoreOnline,
			Governor:   domain.GovernorSchedutil,
			MinFreqKHz: 400000,
			MaxFreqKHz: 4800000,
		}
	}
	return &MockCPU{
		limits: domain.CPULimits{
			Cores:        domain.NewCoreSet(ids...),
			MinFreqKHz:   400000,
			MaxFreqKHz:   4800000,
			Governors:    []string{domain.GovernorPerformance, domain.GovernorPowersave, domain.GovernorSchedutil},
			AlwaysOnline: domain.CoreSet{0},
		},
		cores:    cores,
		retained: make(map[int]domain.CoreState),
		failOnce: make(map[int]error),
		failAll:  make(map[int]error),
		readFail: make(map[int]error),
	}
}

// SetLimits replaces the reported limits.
func (m *MockCPU) SetLimits(l domain.CPULimits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = l
}

// SetCore replaces the stored state of one core.
func (m *MockCPU) SetCore(st domain.CoreState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cores[st.ID] = st
}

// FailNextWrite makes the next write to core id return err.
func (m *MockCPU) FailNextWrite(id int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOnce[id] = err
}

// FailWrites makes every write to core id return err.
func (m *MockCPU) FailWrites(id int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll[id] = err
}

// FailReads makes every read of core id return err.
func (m *MockCPU) FailReads(id int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readFail[id] = err
}

// Writes returns the number of WriteCore calls, failed ones included.
func (m *MockCPU) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// State returns a copy of every stored core state.
func (m *MockCPU) State() map[int]domain.CoreState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.cores)
}

func (m *MockCPU) Cores() (domain.CoreSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits.Cores, nil
}

func (m *MockCPU) Limits() (domain.CPULimits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits, nil
}

func (m *MockCPU) ReadCore(id int) (domain.CoreState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.readFail[id]; err != nil {
		return domain.CoreState{ID: id, Status: domain.CoreUnknown}, &domain.CoreError{Core: id, Surface: "cpufreq", Err: err}
	}
	st, ok := m.cores[id]
	if !ok {
		return domain.CoreState{ID: id, Status: domain.CoreUnknown},
			&domain.CoreError{Core: id, Surface: "cpu", Err: domain.ErrIOUnavailable}
	}
	if !st.Online() {
		return domain.CoreState{ID: id, Status: domain.CoreOffline},
			&domain.CoreError{Core: id, Surface: "cpufreq", Err: fmt.Errorf("%w: core is offline", domain.ErrIOUnavailable)}
	}
	return st, nil
}

func (m *MockCPU) WriteCore(id int, desired domain.CoreState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	if err := m.failOnce[id]; err != nil {
		delete(m.failOnce, id)
		return &domain.CoreError{Core: id, Surface: "cpufreq", Err: err}
	}
	if err := m.failAll[id]; err != nil {
		return &domain.CoreError{Core: id, Surface: "cpufreq", Err: err}
	}
	cur, ok := m.cores[id]
	if !ok {
		return &domain.CoreError{Core: id, Surface: "cpu", Err: domain.ErrIOUnavailable}
	}

	if !desired.Online() {
		if m.limits.AlwaysOnline.Contains(id) {
			return &domain.CoreError{Core: id, Surface: "online", Err: domain.ErrIOUnavailable}
		}
		if cur.Online() {
			m.retained[id] = cur
		}
		m.cores[id] = domain.CoreState{ID: id, Status: domain.CoreOffline}
		return nil
	}

	if desired.MinFreqKHz > desired.MaxFreqKHz {
		return &domain.CoreError{Core: id, Surface: "cpufreq/scaling_min_freq", Err: domain.ErrOutOfRange}
	}
	st := desired
	st.ID = id
	st.Status = domain.CoreOnline
	if m.AfterWrite != nil {
		m.AfterWrite(&st)
	}
	m.cores[id] = st
	delete(m.retained, id)
	return nil
}
