package cloudsync

// Phase is the coarse state of a sync sweep.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSyncing
	PhaseSuccess
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSyncing:
		return "syncing"
	case PhaseSuccess:
		return "success"
	case PhaseError:
		return "error"
	}
	return "unknown"
}

// State is the observable sync state. Progress runs from 0 to 1 while
// syncing; Message is set on error.
type State struct {
	Phase    Phase
	Progress float64
	Message  string
}

func syncing(fraction float64) State {
	return State{Phase: PhaseSyncing, Progress: fraction}
}
