package persist

import "github.com/bft-labs/statesync/pkg/log"

// Phase is the step a hydration run is in.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseMigrating
	PhaseMerging
	PhaseApplying
	PhaseNotifying
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseLoading:
		return "Loading"
	case PhaseMigrating:
		return "Migrating"
	case PhaseMerging:
		return "Merging"
	case PhaseApplying:
		return "Applying"
	case PhaseNotifying:
		return "Notifying"
	default:
		return "Unknown"
	}
}

// setPhase records the transition and reports it to the logger and event handler.
func (s *Store[S, P]) setPhase(run *hydrationRun, next Phase) {
	run.phase = next
	prev := Phase(s.phase.Swap(int32(next)))
	if prev == next {
		return
	}

	s.events.OnPhaseChange(PhaseChangeEvent{
		RunID:    run.id,
		Name:     run.name,
		Previous: prev,
		Current:  next,
	})

	s.logger.Debug("hydration phase",
		log.String("run", run.id),
		log.String("from", prev.String()),
		log.String("to", next.String()),
	)
}
