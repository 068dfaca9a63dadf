package persist

import "time"

// PhaseChangeEvent is emitted whenever a hydration run moves to another phase.
type PhaseChangeEvent struct {
	RunID    string
	Name     string
	Previous Phase
	Current  Phase
}

// HydrationEvent is emitted once per hydration run, after notification.
type HydrationEvent struct {
	RunID    string
	Name     string
	Migrated bool
	Duration time.Duration
	// Err is nil on success.
	Err error
}

// PersistErrorEvent is emitted when a write to storage fails.
type PersistErrorEvent struct {
	Name    string
	Version int
	Err     error
}

// EventHandler receives store events. Methods are called synchronously from
// the goroutine that drives the operation and must not block.
type EventHandler interface {
	OnPhaseChange(event PhaseChangeEvent)
	OnHydration(event HydrationEvent)
	OnPersistError(event PersistErrorEvent)
}

// NoopEventHandler ignores every event. Embed it to implement only some methods.
type NoopEventHandler struct{}

func (NoopEventHandler) OnPhaseChange(PhaseChangeEvent)   {}
func (NoopEventHandler) OnHydration(HydrationEvent)       {}
func (NoopEventHandler) OnPersistError(PersistErrorEvent) {}
