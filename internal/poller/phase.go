package poller

import "time"

// Phase is one step of the per-device polling state machine.
type Phase int

// Polling phases.
const (
	PhaseInitial Phase = iota
	PhaseWaiting
	PhaseWorking
	PhaseNapping
)

// Phase timing.
const (
	// ActivityWindow decides whether a device counts as responsive.
	ActivityWindow = 5 * time.Second

	// DefaultBaseInterval is the worker's pause between two entries.
	DefaultBaseInterval = 500 * time.Millisecond
)

// Interval returns the nominal poll interval of the phase.
func (p Phase) Interval() time.Duration {
	switch p {
	case PhaseWaiting:
		return time.Second
	case PhaseWorking:
		return 100 * time.Millisecond
	case PhaseNapping:
		return 10 * time.Second
	}
	return 0
}

func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "initial"
	case PhaseWaiting:
		return "waiting"
	case PhaseWorking:
		return "working"
	case PhaseNapping:
		return "napping"
	}
	return "unknown"
}
