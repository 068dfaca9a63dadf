// Package deferred provides a chainable result that may be settled
// synchronously or asynchronously.
//
// A Deferred settles exactly once, either with a value or with an error.
// Continuations attached with Then run immediately on the calling goroutine
// when the Deferred is already settled, so code built on top of it does not
// need to branch on whether a backend answered synchronously. Continuations on
// an unsettled Deferred run on a new goroutine once it settles.
//
//	d := deferred.Call(func() (int, error) { return 2, nil })
//	doubled := deferred.Then(d, func(v int) (int, error) { return v * 2, nil })
//	v, err := doubled.Wait(ctx) // 4, nil; already settled
//
// A failure skips every Then in the chain until Recover or OnFailure observes it.
// A panic inside a callback is converted to a *PanicError failure.
package deferred
