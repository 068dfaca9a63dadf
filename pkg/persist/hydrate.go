package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/bft-labs/statesync/pkg/deferred"
	"github.com/bft-labs/statesync/pkg/log"
	"github.com/bft-labs/statesync/pkg/storage"
)

// hydrationRun carries the per-run values shared by the pipeline steps.
type hydrationRun struct {
	id       string
	name     string
	ctx      context.Context
	span     trace.Span
	start    time.Time
	phase    Phase
	migrated bool
}

// loaded is the outcome of reading and migrating the stored record.
// state is nil when nothing usable was stored.
type loaded[P any] struct {
	state    *P
	migrated bool
}

// Rehydrate runs the hydration pipeline. The pipeline starts once every
// previously triggered run has finished. The returned Deferred settles when
// this run is done and only fails with ErrClosed; hydration errors go to the
// OnRehydrateStorage callback.
func (s *Store[S, P]) Rehydrate() *deferred.Deferred[struct{}] {
	if s.closed.Load() {
		return deferred.Reject[struct{}](ErrClosed)
	}

	return sequence(&s.hydrateMu, &s.lastHydration, s.hydrate)
}

// HasHydrated reports whether the last hydration run completed successfully.
func (s *Store[S, P]) HasHydrated() bool {
	return s.hydrated.Load()
}

// Phase returns the phase of the hydration run in progress, or PhaseIdle.
func (s *Store[S, P]) Phase() Phase {
	return Phase(s.phase.Load())
}

// OnHydrate registers fn to run with the current state when a hydration run
// starts. The returned func removes the registration.
func (s *Store[S, P]) OnHydrate(fn func(state S)) (remove func()) {
	return s.onHydrate.add(fn)
}

// OnFinishHydration registers fn to run with the live state after a
// successful hydration run. The returned func removes the registration.
func (s *Store[S, P]) OnFinishHydration(fn func(state S)) (remove func()) {
	return s.onFinish.add(fn)
}

func (s *Store[S, P]) hydrate() *deferred.Deferred[struct{}] {
	// One snapshot for the whole run.
	o := s.opts.Load()
	if o.Storage == nil {
		return deferred.Resolve(struct{}{})
	}

	run := &hydrationRun{
		id:    uuid.NewString(),
		name:  o.Name,
		start: time.Now(),
	}
	run.ctx, run.span = startHydrationSpan(s.ctx, s.cfg.tracer, run.id, o.Name, o.Version)

	s.hydrated.Store(false)
	s.setPhase(run, PhaseLoading)

	current := s.container.Get()
	var post func(S, error)
	s.notifying(func() {
		s.onHydrate.each(s.logger, "onHydrate", current)
		if o.OnRehydrateStorage != nil {
			safely(s.logger, "onRehydrateStorage", func() {
				post = o.OnRehydrateStorage(current)
			})
		}
	})

	read := o.Storage.GetItem(run.ctx, o.Name)
	migrated := deferred.Chain(read, func(record *storage.Record) *deferred.Deferred[loaded[P]] {
		return s.migrate(run, o, record)
	})
	applied := deferred.Chain(migrated, func(l loaded[P]) *deferred.Deferred[S] {
		return s.apply(run, o, l)
	})

	return deferred.Always(applied, func(final S, err error) *deferred.Deferred[struct{}] {
		s.finish(run, post, final, err)
		return deferred.Resolve(struct{}{})
	})
}

func (s *Store[S, P]) migrate(run *hydrationRun, o *Options[S, P], record *storage.Record) *deferred.Deferred[loaded[P]] {
	if record == nil {
		return deferred.Resolve(loaded[P]{})
	}

	// A record without a numeric version is read as the current version.
	// A fractional version never matches and migrates from its integral part.
	if record.Version == nil || (*record.Version == o.Version && !record.Fractional) {
		if isNull(record.State) {
			return deferred.Resolve(loaded[P]{})
		}
		var state P
		if err := o.Storage.DecodeState(record.State, &state); err != nil {
			return deferred.Reject[loaded[P]](&storage.DecodeError{Name: o.Name, Err: err})
		}
		return deferred.Resolve(loaded[P]{state: &state})
	}

	from := *record.Version
	if o.Migrate == nil {
		s.logger.Error("stored state ignored",
			log.String("run", run.id),
			log.Int("stored_version", from),
			log.Int("version", o.Version),
			log.Err(ErrMissingMigration))
		return deferred.Resolve(loaded[P]{})
	}

	s.setPhase(run, PhaseMigrating)
	return deferred.Call(func() (loaded[P], error) {
		state, err := o.Migrate(record.State, from)
		if err != nil {
			return loaded[P]{}, fmt.Errorf("migrate from version %d to %d: %w", from, o.Version, err)
		}
		return loaded[P]{state: &state, migrated: true}, nil
	})
}

func (s *Store[S, P]) apply(run *hydrationRun, o *Options[S, P], l loaded[P]) *deferred.Deferred[S] {
	s.setPhase(run, PhaseMerging)
	next, err := o.Merge(l.state, s.container.Get())
	if err != nil {
		return deferred.Reject[S](fmt.Errorf("merge: %w", err))
	}

	s.setPhase(run, PhaseApplying)
	s.container.Replace(next)

	if !l.migrated {
		return deferred.Resolve(next)
	}
	run.migrated = true
	// Rewrite storage so it carries the current version.
	return deferred.Then(s.persist(o), func(struct{}) (S, error) {
		return next, nil
	})
}

func (s *Store[S, P]) finish(run *hydrationRun, post func(S, error), final S, err error) {
	failedIn := run.phase
	s.setPhase(run, PhaseNotifying)

	if err != nil {
		err = &HydrationError{RunID: run.id, Phase: failedIn, Err: err}
		s.logger.Debug("hydration failed", log.String("run", run.id), log.Err(err))
	} else {
		s.hydrated.Store(true)
	}
	s.notifying(func() {
		switch {
		case err != nil && post != nil:
			var zero S
			safely(s.logger, "onRehydrateStorage", func() { post(zero, err) })
		case err == nil:
			if post != nil {
				safely(s.logger, "onRehydrateStorage", func() { post(final, nil) })
			}
			s.onFinish.each(s.logger, "onFinishHydration", s.container.Get())
		}
	})

	duration := time.Since(run.start)
	s.metrics.ObserveHydration(run.name, duration, run.migrated, err)
	s.events.OnHydration(HydrationEvent{
		RunID:    run.id,
		Name:     run.name,
		Migrated: run.migrated,
		Duration: duration,
		Err:      err,
	})
	endSpan(run.span, run.migrated, err)
	s.setPhase(run, PhaseIdle)
}

// notifying runs fn while hydration callbacks are in progress. Close does not
// wait for a run that is calling back into user code.
func (s *Store[S, P]) notifying(fn func()) {
	s.callbacks.Add(1)
	defer s.callbacks.Add(-1)
	fn()
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
