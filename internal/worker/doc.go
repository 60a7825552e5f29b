// Package worker implements the worker side of the Censer fabric: the
// process that accepts executable work units from a coordinator, runs them,
// and reports results.
//
// # Overview
//
// A worker dials the coordinator, then spends its whole life in a single
// dispatch loop reading one packet at a time and reacting to it. All state
// lives in an Executor: code units arrive as self-contained WebAssembly
// blobs, are compiled and registered under a module group, and can be
// invoked any number of times until their group is unlinked.
//
// # Data Flow
//
//	┌─────────────┐  packets   ┌──────────────┐  Load/Invoke  ┌──────────────┐
//	│ coordinator │ ─────────▶ │ dispatch loop │ ────────────▶ │   Executor   │
//	│  connection │ ◀───────── │   (Serve)     │ ◀──────────── │   (wazero)   │
//	└─────────────┘  acks/     └──────────────┘  results/errs └──────────────┘
//	                 results
//
// # Module Lifecycle
//
// INJECT compiles a unit and files it under its module group. UNLINK drops
// the whole group atomically and closes every compiled unit in it. GC forces
// a reclamation cycle so dropped modules actually release their resources.
// Unit lookup for EXECUTE searches across all loaded groups.
//
// # Fault Tolerance
//
// The loop distinguishes what the coordinator distinguishes: application
// failures (a unit that will not compile, an invocation that errors) are
// reported back over the protocol and the connection stays up; transport
// failures end the loop, because the stream state is beyond recognition.
// A well-framed packet with an unknown tag is logged and skipped.
package worker
