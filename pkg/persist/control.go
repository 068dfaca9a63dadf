package persist

import (
	"context"
	"errors"

	"github.com/bft-labs/statesync/pkg/deferred"
	"github.com/bft-labs/statesync/pkg/log"
)

// SetOptions applies update to a copy of the current options and swaps the
// copy in. Fields update leaves alone keep their value, including Storage.
// update may run more than once when SetOptions races another call.
// When the result is invalid the current options are kept and the error is returned.
func (s *Store[S, P]) SetOptions(update func(o *Options[S, P])) error {
	if update == nil {
		return nil
	}
	for {
		current := s.opts.Load()
		next := *current
		update(&next)

		resolved, err := next.withDefaults()
		if err != nil {
			return err
		}
		if s.opts.CompareAndSwap(current, &resolved) {
			if resolved.Storage != current.Storage || resolved.Name != current.Name {
				s.logger.Info("storage replaced", log.String("name", resolved.Name))
				s.notifyStorageChange(&resolved)
			}
			return nil
		}
	}
}

// notifyStorageChange tells StorageObserver plugins about the new target.
// Their errors are logged; the options are already in place.
func (s *Store[S, P]) notifyStorageChange(o *Options[S, P]) {
	pc := s.pluginConfig(o)
	for _, p := range s.cfg.plugins {
		observer, ok := p.(StorageObserver)
		if !ok {
			continue
		}
		if err := observer.OnStorageChange(s.ctx, pc); err != nil {
			s.logger.Error("plugin could not follow storage change",
				log.String("plugin", p.Name()),
				log.Err(err))
		}
	}
}

// GetOptions returns a copy of the current options.
func (s *Store[S, P]) GetOptions() Options[S, P] {
	return *s.opts.Load()
}

// ClearStorage removes the stored record for the current name. It is queued
// behind pending writes and is a no-op without storage.
func (s *Store[S, P]) ClearStorage() *deferred.Deferred[struct{}] {
	o := s.opts.Load()
	if o.Storage == nil {
		return deferred.Resolve(struct{}{})
	}
	return s.enqueue(func() *deferred.Deferred[struct{}] {
		return o.Storage.RemoveItem(s.ctx, o.Name)
	})
}

// Close waits for pending writes and hydration runs, shuts plugins down and
// cancels in-flight storage calls. Later writes still apply in memory but are
// not persisted. A run that is already calling its hydration callbacks is not
// waited for, so Close may be called from an OnFinishHydration listener or an
// OnRehydrateStorage callback.
func (s *Store[S, P]) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	defer s.cancel()

	var errs []error
	if err := s.Flush(ctx); err != nil && !errors.Is(err, ErrClosed) {
		errs = append(errs, err)
	}

	s.hydrateMu.Lock()
	last := s.lastHydration
	s.hydrateMu.Unlock()
	if s.callbacks.Load() == 0 {
		if _, err := last.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.shutdownPlugins(ctx, s.cfg.plugins); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
