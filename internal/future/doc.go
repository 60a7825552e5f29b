// Package future implements Censer's generic one-shot asynchronous result
// container, the primitive behind every remote operation in the fabric.
//
// # Overview
//
// A Future represents the outcome of a single asynchronous operation. It is
// created Pending with an operation body running in its own goroutine, and it
// settles exactly once as either Finished (with a success value) or Failed
// (with an error). Consumers observe the outcome through at-most-one success
// callback, at-most-one failure callback, or by blocking in Await/Result.
//
// # State Machine
//
//	           Finish(v)
//	Pending ──────────────▶ Finished
//	   │
//	   │       Fail(err)              callback
//	   └──────────────────▶ Failed ◀── panic ── Finished
//
// The transition is terminal. A second resolution attempt after settlement
// is a no-op, and each callback fires at most once no matter how resolution
// and late registration interleave.
//
// # Delivery Guarantees
//
// There is no missed-delivery window: a callback registered after the
// terminal value is already known fires immediately and synchronously in the
// registering goroutine. Naive two-field designs (value field plus callback
// field, unsynchronized) can drop a delivery when resolution and
// registration race; this implementation holds both under one mutex and
// hands exactly one of the two racing sides the right to deliver.
//
// # Settle Hook
//
// Producers may attach a fixed settle hook at construction. It runs after
// the terminal callback and before Await callers unblock. Worker handles use
// it to release the locks guarding their connection, so that the next queued
// operation proceeds as soon as the wire exchange is over.
//
// # Callback Panic Policy
//
// A panic raised by the success callback is recovered and the Future is
// retroactively marked Failed, carrying the recovered value as its error.
// This is a documented policy of the primitive, not incidental recovery:
// downstream chains rely on Failed being the catch-all terminal state.
package future
