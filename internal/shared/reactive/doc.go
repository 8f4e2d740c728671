// Package reactive bridges callback-based backend APIs into two contract
// shapes: Single, a one-shot result that settles exactly once with a value
// or an error, and Stream, a cancellable push stream whose disposal
// releases the backend listener exactly once.
//
// Both types are cold. Nothing reaches the backend until Subscribe (or one
// of the helpers built on it, such as Await or Events) is called, and every
// subscription issues its own backend call or listener registration.
package reactive
