package deferred

import (
	"context"
	"fmt"
	"sync"
)

// Deferred is a result that settles exactly once.
type Deferred[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("deferred: callback panicked: %v", e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func newDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// settle records the outcome. Later calls are ignored.
func (d *Deferred[T]) settle(value T, err error) {
	d.once.Do(func() {
		d.value = value
		d.err = err
		close(d.done)
	})
}

// Resolve returns a Deferred already settled with value.
func Resolve[T any](value T) *Deferred[T] {
	d := newDeferred[T]()
	d.settle(value, nil)
	return d
}

// Reject returns a Deferred already settled with err.
func Reject[T any](err error) *Deferred[T] {
	var zero T
	d := newDeferred[T]()
	d.settle(zero, err)
	return d
}

// Pending returns an unsettled Deferred and the func that settles it.
// Only the first call to settle has an effect.
func Pending[T any]() (*Deferred[T], func(T, error)) {
	d := newDeferred[T]()
	return d, d.settle
}

// Call runs fn on the calling goroutine and returns its settled outcome.
func Call[T any](fn func() (T, error)) *Deferred[T] {
	d := newDeferred[T]()
	d.settle(invoke(fn))
	return d
}

// Go runs fn on a new goroutine. The returned Deferred settles when fn returns.
func Go[T any](fn func() (T, error)) *Deferred[T] {
	d := newDeferred[T]()
	go func() {
		d.settle(invoke(fn))
	}()
	return d
}

// Done is closed once the Deferred has settled.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// Settled reports whether the outcome is already known.
func (d *Deferred[T]) Settled() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome without blocking. ok is false while unsettled.
func (d *Deferred[T]) Result() (value T, ok bool, err error) {
	if !d.Settled() {
		var zero T
		return zero, false, nil
	}
	return d.value, true, d.err
}

// Wait blocks until the Deferred settles or ctx is done.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnFailure calls fn with the error if d fails and returns d unchanged.
// fn never runs for a successful Deferred.
func (d *Deferred[T]) OnFailure(fn func(error)) *Deferred[T] {
	observe(d, func(_ T, err error) {
		if err != nil {
			fn(err)
		}
	})
	return d
}

// Then maps a successful outcome through fn. A failure of d is propagated
// without calling fn.
func Then[T, U any](d *Deferred[T], fn func(T) (U, error)) *Deferred[U] {
	return Chain(d, func(v T) *Deferred[U] {
		return Call(func() (U, error) { return fn(v) })
	})
}

// Chain is Then for continuations that themselves return a Deferred.
func Chain[T, U any](d *Deferred[T], fn func(T) *Deferred[U]) *Deferred[U] {
	if d.Settled() {
		if d.err != nil {
			return Reject[U](d.err)
		}
		return safeChain(fn, d.value)
	}
	out := newDeferred[U]()
	go func() {
		<-d.done
		if d.err != nil {
			var zero U
			out.settle(zero, d.err)
			return
		}
		next := safeChain(fn, d.value)
		<-next.done
		out.settle(next.value, next.err)
	}()
	return out
}

// Recover lets fn turn a failure into a new outcome. Successful values pass through.
func Recover[T any](d *Deferred[T], fn func(error) (T, error)) *Deferred[T] {
	if d.Settled() {
		if d.err == nil {
			return d
		}
		err := d.err
		return Call(func() (T, error) { return fn(err) })
	}
	out := newDeferred[T]()
	go func() {
		<-d.done
		if d.err == nil {
			out.settle(d.value, nil)
			return
		}
		out.settle(invoke(func() (T, error) { return fn(d.err) }))
	}()
	return out
}

// Always runs fn after d settles, whatever the outcome, and settles with fn's result.
func Always[T, U any](d *Deferred[T], fn func(T, error) *Deferred[U]) *Deferred[U] {
	if d.Settled() {
		return safeAlways(fn, d.value, d.err)
	}
	out := newDeferred[U]()
	go func() {
		<-d.done
		next := safeAlways(fn, d.value, d.err)
		<-next.done
		out.settle(next.value, next.err)
	}()
	return out
}

func observe[T any](d *Deferred[T], fn func(T, error)) {
	if d.Settled() {
		fn(d.value, d.err)
		return
	}
	go func() {
		<-d.done
		fn(d.value, d.err)
	}()
}

func invoke[T any](fn func() (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			value = zero
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}

func safeChain[T, U any](fn func(T) *Deferred[U], v T) (out *Deferred[U]) {
	defer func() {
		if r := recover(); r != nil {
			out = Reject[U](&PanicError{Value: r})
		}
	}()
	out = fn(v)
	if out == nil {
		var zero U
		out = Resolve(zero)
	}
	return out
}

func safeAlways[T, U any](fn func(T, error) *Deferred[U], v T, err error) (out *Deferred[U]) {
	defer func() {
		if r := recover(); r != nil {
			out = Reject[U](&PanicError{Value: r})
		}
	}()
	out = fn(v, err)
	if out == nil {
		var zero U
		out = Resolve(zero)
	}
	return out
}
