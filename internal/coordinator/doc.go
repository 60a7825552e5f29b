// Package coordinator implements the heart of the Censer fabric: admitting
// remote workers into a live fleet, serializing protocol exchanges over each
// worker's connection, probing liveness, and pruning the dead.
//
// # Overview
//
// The package is built from four cooperating pieces:
//
//	┌────────────────────────────────────────────────────┐
//	│                      Server                        │
//	│  accept → handshake → connect event → admit → beat │
//	├──────────────┬──────────────────┬──────────────────┤
//	│   Registry   │     Handle ×N    │   Heartbeat ×N   │
//	│  live fleet  │  one per socket  │  one per handle  │
//	└──────────────┴──────────────────┴──────────────────┘
//
// The Server owns the listening endpoint. Every accepted connection becomes
// a Handle, whose construction performs the handshake synchronously; only
// handles that survive it are admitted to the Registry and given a
// Heartbeat. External callers enumerate the fleet through the Registry and
// issue operations on Handles, each returning a Future.
//
// # Locking Discipline
//
// Correct concurrent access to a single stateful stream is the crux of this
// package. Each Handle carries two locks:
//
//   - The I/O lock serializes whole protocol exchanges. At most one exchange
//     is in flight per connection; packets from concurrent operations never
//     interleave on the wire.
//   - The resync lock guards the resource snapshot. Resync takes resync lock
//     then I/O lock, always in that order, so no lock-order inversion is
//     possible with any multi-lock operation.
//
// Locks are released in the Future's settle hook: a queued operation
// proceeds as soon as the previous exchange completes, not after its
// consumer callbacks finish.
//
// # Failure Model
//
// Transport faults (I/O errors, decode errors, unexpected packet types) are
// fatal to the connection and never retried: the handle closes its channel,
// broadcasts the disconnect event exactly once and evicts itself. Faults the
// worker itself reports (unit not loadable, execution raised) surface as
// RemoteFault values and leave the connection admitted and live. The
// Registry and Heartbeat only ever observe transport faults, since the
// keepalive probe is their sole interaction with the wire.
//
// # Events
//
// The Server owns two event.Dispatcher channels, "worker connected" and
// "worker disconnected", fired synchronously at admission and teardown.
// There is no global event state.
package coordinator
