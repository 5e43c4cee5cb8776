package domain

import "time"

// CoreStatus classifies what a capture learned about one core.
type CoreStatus string

const (
	CoreOnline  CoreStatus = "online"
	CoreOffline CoreStatus = "offline"
	CoreUnknown CoreStatus = "unknown"
)

// CoreState is the controllable state of one core. Frequencies are kept
// in kHz, the unit sysfs uses, so a restore writes back exact values.
type CoreState struct {
	ID         int        `json:"id"`
	Status     CoreStatus `json:"status"`
	Governor   string     `json:"governor,omitempty"`
	MinFreqKHz int        `json:"min_freq_khz,omitempty"`
	MaxFreqKHz int        `json:"max_freq_khz,omitempty"`
}

// Online reports whether the core is known to be online.
func (c CoreState) Online() bool {
	return c.Status == CoreOnline
}

// MinFreqMHz returns the scaling minimum truncated to MHz.
func (c CoreState) MinFreqMHz() int { return c.MinFreqKHz / 1000 }

// MaxFreqMHz returns the scaling maximum truncated to MHz.
func (c CoreState) MaxFreqMHz() int { return c.MaxFreqKHz / 1000 }

// DesiredCore builds the state a Mode asks of core id.
func DesiredCore(m Mode, id int) CoreState {
	if !m.WantsOnline(id) {
		return CoreState{ID: id, Status: CoreOffline}
	}
	return CoreState{
		ID:         id,
		Status:     CoreOnline,
		Governor:   m.CPU.Governor,
		MinFreqKHz: m.CPU.MinFreqMHz * 1000,
		MaxFreqKHz: m.CPU.MaxFreqMHz * 1000,
	}
}

// GPUState is the GPU half of a HardwareState.
type GPUState struct {
	Available       bool     `json:"available"`
	PowerLimitWatts *float64 `json:"power_limit_watts,omitempty"`
}

// HardwareState is a point-in-time capture of every controlled surface,
// one entry per known core id in ascending order.
type HardwareState struct {
	CapturedAt time.Time   `json:"captured_at"`
	Cores      []CoreState `json:"cores"`
	GPU        GPUState    `json:"gpu"`
	OnACPower  *bool       `json:"on_ac_power,omitempty"`
}

// Core returns the entry for id.
func (s HardwareState) Core(id int) (CoreState, bool) {
	for _, c := range s.Cores {
		if c.ID == id {
			return c, true
		}
	}
	return CoreState{}, false
}

// OnlineCores returns the ids of cores known to be online.
func (s HardwareState) OnlineCores() CoreSet {
	var ids []int
	for _, c := range s.Cores {
		if c.Online() {
			ids = append(ids, c.ID)
		}
	}
	return NewCoreSet(ids...)
}

// ManualBackupMode is recorded as the triggering mode of a backup taken
// by dump-current-params rather than by apply.
const ManualBackupMode = "manual"

// Backup is the single most recent pre-transition HardwareState.
type Backup struct {
	ID        string        `json:"id"`
	Mode      string        `json:"mode"`
	CreatedAt time.Time     `json:"created_at"`
	MachineID string        `json:"machine_id,omitempty"`
	State     HardwareState `json:"state"`
}
