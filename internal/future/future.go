// Package future provides the one-shot asynchronous result primitive used by
// every remote operation in Censer. See doc.go for complete package
// documentation.
package future

import (
	"fmt"
	"sync"
)

// State describes the lifecycle position of a Future.
//
// Every Future starts Pending and transitions exactly once to either
// Finished or Failed. The transition is terminal: later resolution
// attempts are no-ops.
type State int

const (
	// Pending means the operation has not produced a terminal value yet.
	Pending State = iota

	// Finished means the operation completed successfully.
	Finished

	// Failed means the operation failed, or its success callback panicked.
	Failed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Future is a one-shot asynchronous result container parameterized over its
// success type. Failures are ordinary Go errors.
//
// A Future can be looked at from three viewpoints:
//   - The operation body, which runs in its own goroutine and eventually
//     calls Finish or Fail exactly once.
//   - The producer, which constructs the Future and may supply a settle
//     hook that runs after the terminal callback (used by worker handles
//     to release their locks).
//   - The consumer, which registers at most one success and one failure
//     callback, or blocks in Await/Result.
//
// Callback contract: OnSuccess and OnFailure may each be called at most
// once per Future. Registering a second callback of the same kind is
// undefined behavior by contract and is not guarded at runtime.
//
// Resolution order is fixed: state transition, then the matching callback
// (if registered), then the settle hook, then Await callers unblock. If the
// success callback panics, the panic is recovered and the Future is
// retroactively marked Failed; failure is the catch-all terminal state for
// callback errors, and downstream chains rely on that.
//
// Thread Safety:
// All methods are safe for concurrent use. A callback registered after
// settlement fires synchronously in the registering goroutine, exactly once.
type Future[T any] struct {
	mu sync.Mutex

	state State
	value T
	err   error

	onOk     func(T)
	onErr    func(error)
	okFired  bool
	errFired bool
	settle   func()
	done     chan struct{}
}

// New constructs a pending Future and schedules body to run in its own
// goroutine immediately.
//
// The settle hook, if non-nil, runs exactly once right after the terminal
// callback of the winning resolution, before Await callers are released.
// Producers use it to release locks so that a queued operation can proceed
// as soon as the network exchange completes, not merely after the consumer's
// callback chain finishes running.
//
// Parameters:
//   - settle: hook invoked once on settlement (may be nil)
//   - body: the operation; must call Finish or Fail on the passed Future
//
// Example:
//
//	f := future.New(h.unlockIO, func(f *future.Future[bool]) {
//	    h.ioMu.Lock()
//	    // ... protocol exchange ...
//	    f.Finish(true)
//	})
func New[T any](settle func(), body func(f *Future[T])) *Future[T] {
	f := &Future[T]{
		settle: settle,
		done:   make(chan struct{}),
	}
	go body(f)
	return f
}

// Resolved constructs an already-finished Future carrying value.
// Useful for short-circuiting compositions without spawning a goroutine.
func Resolved[T any](value T) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	f.Finish(value)
	return f
}

// OnSuccess registers the success callback. If the Future already finished
// and the callback has not been delivered, it fires synchronously before
// OnSuccess returns. Returns the Future for chaining.
//
// Must be called at most once per Future.
func (f *Future[T]) OnSuccess(cb func(T)) *Future[T] {
	f.mu.Lock()
	if f.state == Finished && !f.okFired {
		f.okFired = true
		v := f.value
		f.mu.Unlock()
		f.invokeSuccess(cb, v)
		return f
	}
	f.onOk = cb
	f.mu.Unlock()
	return f
}

// OnFailure registers the failure callback. If the Future already failed
// and the callback has not been delivered, it fires synchronously before
// OnFailure returns. Returns the Future for chaining.
//
// Must be called at most once per Future.
func (f *Future[T]) OnFailure(cb func(error)) *Future[T] {
	f.mu.Lock()
	if f.state == Failed && !f.errFired && f.err != nil {
		f.errFired = true
		err := f.err
		f.mu.Unlock()
		cb(err)
		return f
	}
	f.onErr = cb
	f.mu.Unlock()
	return f
}

// Finish marks the Future as successfully completed with value.
//
// Producer API: callable only by the operation body. The first resolution
// wins; if the Future already settled, Finish is a no-op.
func (f *Future[T]) Finish(value T) {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return
	}
	f.state = Finished
	f.value = value
	var cb func(T)
	if f.onOk != nil {
		cb = f.onOk
		f.okFired = true
	}
	f.mu.Unlock()

	if cb != nil {
		f.invokeSuccess(cb, value)
	}
	if f.settle != nil {
		f.settle()
	}
	close(f.done)
}

// Fail marks the Future as failed with err.
//
// Producer API: callable only by the operation body. The first resolution
// wins; if the Future already settled, Fail is a no-op.
func (f *Future[T]) Fail(err error) {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return
	}
	f.state = Failed
	f.err = err
	var cb func(error)
	if f.onErr != nil {
		cb = f.onErr
		f.errFired = true
	}
	f.mu.Unlock()

	if cb != nil {
		cb(err)
	}
	if f.settle != nil {
		f.settle()
	}
	close(f.done)
}

// invokeSuccess runs the success callback, converting a panic into the
// retroactive-failure policy: the Future's state flips to Failed and the
// recovered value is recorded as the error. The failure callback is not
// invoked on this path; the panic already consumed the delivery.
func (f *Future[T]) invokeSuccess(cb func(T), value T) {
	defer func() {
		if r := recover(); r != nil {
			f.mu.Lock()
			f.state = Failed
			f.err = fmt.Errorf("success callback panicked: %v", r)
			f.mu.Unlock()
		}
	}()
	cb(value)
}

// Await blocks the calling goroutine until the Future settles. It neither
// consumes the terminal value nor requires callbacks to be registered.
func (f *Future[T]) Await() {
	<-f.done
}

// Result blocks until the Future settles and returns its terminal value.
// For a Failed future the zero value of T is returned alongside the error.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// State returns the Future's current state without blocking.
func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
