package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/bft-labs/statesync/pkg/deferred"
	"github.com/bft-labs/statesync/pkg/log"
	"github.com/bft-labs/statesync/pkg/storage"
)

// Set applies update to the container and persists the new state.
// The container is updated before Set returns; the write to storage is not
// awaited and its failure is not returned. Use Flush to wait for it.
func (s *Store[S, P]) Set(update func(S) S) {
	s.container.Set(update)
	s.persist(s.opts.Load())
}

// Replace swaps the container state for next and persists it.
func (s *Store[S, P]) Replace(next S) {
	s.container.Replace(next)
	s.persist(s.opts.Load())
}

// Flush waits until the last issued write has completed and returns its error.
func (s *Store[S, P]) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	last := s.lastWrite
	s.writeMu.Unlock()

	_, err := last.Wait(ctx)
	return err
}

// persist writes the projected current state under o. The state is read and
// the write slot is taken in one step, so slots follow the order in which
// states were observed and the last slot always holds the latest state. The
// backend call runs once the previous write has settled.
func (s *Store[S, P]) persist(o *Options[S, P]) *deferred.Deferred[struct{}] {
	if o.Storage == nil {
		s.logger.Warn("unable to update item, the given storage is currently unavailable",
			log.Err(ErrStorageUnavailable))
		return deferred.Resolve(struct{}{})
	}
	if s.closed.Load() {
		s.logger.Debug("write skipped", log.Err(ErrClosed))
		return deferred.Reject[struct{}](ErrClosed)
	}

	s.snapshotMu.Lock()
	value, err := encode(o, s.container.Get())
	s.writeMu.Lock()
	prev, next, settle := reserve(&s.lastWrite)
	s.writeMu.Unlock()
	s.snapshotMu.Unlock()

	if err != nil {
		s.persistFailed(o, err)
		runAfter(prev, func() *deferred.Deferred[struct{}] {
			return deferred.Reject[struct{}](err)
		}, settle)
		return next
	}

	runAfter(prev, func() *deferred.Deferred[struct{}] {
		start := time.Now()
		write := o.Storage.SetEncoded(s.ctx, o.Name, value)
		return deferred.Always(write, func(_ struct{}, err error) *deferred.Deferred[struct{}] {
			s.metrics.ObservePersist(o.Name, time.Since(start), err)
			if err != nil {
				s.persistFailed(o, err)
				return deferred.Reject[struct{}](err)
			}
			s.lastPersisted.Store(&value)
			return deferred.Resolve(struct{}{})
		})
	}, settle)
	return next
}

// enqueue runs op after the previous write has settled, whatever its outcome.
func (s *Store[S, P]) enqueue(op func() *deferred.Deferred[struct{}]) *deferred.Deferred[struct{}] {
	return sequence(&s.writeMu, &s.lastWrite, op)
}

func (s *Store[S, P]) persistFailed(o *Options[S, P], err error) {
	s.logger.Debug("persist failed",
		log.Int("version", o.Version),
		log.Err(err))
	s.events.OnPersistError(PersistErrorEvent{
		Name:    o.Name,
		Version: o.Version,
		Err:     err,
	})
}

func encode[S, P any](o *Options[S, P], state S) (string, error) {
	raw, err := o.Storage.EncodeState(o.Partialize(state))
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	value, err := o.Storage.Encode(storage.NewRecord(raw, o.Version))
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return value, nil
}
