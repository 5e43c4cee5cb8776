package domain

import "time"

// ApplyState is a state of the mode applier.
type ApplyState string

const (
	StateIdle         ApplyState = "idle"
	StateValidating   ApplyState = "validating"
	StateSnapshotting ApplyState = "snapshotting"
	StateWriting      ApplyState = "writing"
	StateVerifying    ApplyState = "verifying"
	StateApplied      ApplyState = "applied"
	StateRolledBack   ApplyState = "rolled-back"
	StateRejected     ApplyState = "rejected"
)

// IsTerminal reports whether the applier stops in this state.
func (s ApplyState) IsTerminal() bool {
	switch s {
	case StateApplied, StateRolledBack, StateRejected:
		return true
	}
	return false
}

// GPUOutcome reports what happened to the GPU half of a transition,
// separately from the CPU result.
type GPUOutcome string

const (
	GPUUnchanged GPUOutcome = "unchanged"
	GPUApplied   GPUOutcome = "applied"
	GPUSkipped   GPUOutcome = "skipped"
	GPUFailed    GPUOutcome = "failed"
)

// TransitionKind is the journal classification of a mutating command.
type TransitionKind string

const (
	KindApply   TransitionKind = "apply"
	KindRestore TransitionKind = "restore"
	KindDump    TransitionKind = "dump"
)

// Transition outcomes recorded in the journal besides ApplyState values.
const (
	OutcomeRestored = "restored"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
	OutcomeSaved    = "saved"
)

// Transition is one journal entry.
type Transition struct {
	ID         string         `json:"id"`
	Kind       TransitionKind `json:"kind"`
	Mode       string         `json:"mode"`
	Outcome    string         `json:"outcome"`
	GPU        GPUOutcome     `json:"gpu,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Duration returns how long the transition took.
func (t Transition) Duration() time.Duration {
	if t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}
