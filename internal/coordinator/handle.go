// Package coordinator implements the connection-facing half of the Censer
// fabric. This file implements the per-worker handle: the proxy through
// which every remote operation on one connection is issued.
package coordinator

import (
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dreamware/censer/internal/future"
	"github.com/dreamware/censer/internal/protocol"
)

// Handle is the coordinator-side proxy for one remote worker. It exclusively
// owns the worker's connection and exposes the remote operations (resync,
// liveness probing, module upload/invoke/unlink, forced reclaim and graceful
// disconnect), each returning a Future.
//
// Locking discipline:
//   - The I/O lock serializes protocol exchanges. At most one exchange is in
//     flight per handle; packets from concurrently issued operations never
//     interleave on the wire.
//   - The resync lock guards the resource snapshot. Resync acquires the
//     resync lock and then the I/O lock, always in that order, so a reader
//     of the snapshot is excluded for the duration of an in-progress resync
//     without blocking the queueing of I/O-only operations.
//
// Primitive operations release their lock(s) in the Future's settle hook:
// the next queued operation proceeds as soon as the wire exchange is over,
// not merely after the consumer's callback chain finishes. Composite
// operations (Unlink's reclaim chase, Dispatch) hold no lock themselves and
// let each step acquire its own turn; mutual exclusion per exchange is
// preserved, strict ordering across operations is not promised beyond that.
//
// Failure semantics: any I/O fault, decode fault or unexpected packet during
// an exchange is fatal to the connection. The handle closes the channel,
// fires the disconnect event and requests its own eviction, exactly once,
// however a failing probe and an explicit disconnect race. Faults reported
// by the worker (RemoteFault) leave the connection live.
type Handle struct {
	// id is the coordinator-assigned identity of this connection.
	id string

	// codec frames packets over the exclusively owned connection.
	codec *protocol.Codec

	// ioMu is the I/O lock: held for the whole of any protocol exchange.
	ioMu sync.Mutex

	// resyncMu is the resync lock: guards the resource snapshot fields.
	resyncMu sync.Mutex

	// Resource snapshot, authoritative from the last handshake reply.
	// Written only by Resync while holding resyncMu.
	memoryKiB int64
	storageKB int64
	cpus      int

	// alive flips false on teardown.
	alive atomic.Bool

	// onDown is invoked exactly once when the connection is torn down,
	// after the channel is closed. The server wires it to the disconnect
	// broadcast plus registry eviction.
	onDown func(*Handle)

	// down guards the teardown path.
	down sync.Once

	// beat is the liveness monitor driving this handle, if one was started.
	beat *Heartbeat

	log *logrus.Entry
}

// HandleOptions configures handle construction.
type HandleOptions struct {
	// Logger receives the handle's structured log entries. Defaults to the
	// logrus standard logger.
	Logger *logrus.Logger

	// OnDown is invoked exactly once when the connection is torn down,
	// whether by a transport fault or a graceful disconnect. May be nil.
	OnDown func(*Handle)

	// ReadTimeout bounds every read against the connection. Zero disables
	// the bound. This is the only timeout control the handle offers.
	ReadTimeout time.Duration
}

// NewHandle wraps an accepted connection in a worker handle and performs the
// initial resync synchronously. If the handshake exchange fails the
// connection is closed and construction fails with it; a handle that failed
// construction must never be admitted to the registry.
func NewHandle(conn net.Conn, opts HandleOptions) (*Handle, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	h := &Handle{
		id:     uuid.NewString(),
		codec:  protocol.NewCodec(conn),
		onDown: opts.OnDown,
	}
	h.log = logger.WithFields(logrus.Fields{
		"worker_id": h.id,
		"remote":    conn.RemoteAddr().String(),
	})
	h.alive.Store(true)
	if opts.ReadTimeout > 0 {
		h.codec.SetReadTimeout(opts.ReadTimeout)
	}

	if _, err := h.Resync().Result(); err != nil {
		_ = h.codec.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	h.log.WithFields(logrus.Fields{
		"memory_kib": h.MemoryKiB(),
		"storage_kb": h.StorageKB(),
		"cpus":       h.CPUs(),
	}).Info("worker handshake complete")

	return h, nil
}

// ID returns the coordinator-assigned identity of this worker connection.
func (h *Handle) ID() string { return h.id }

// Alive reports whether the handle still presumes its worker live.
func (h *Handle) Alive() bool { return h.alive.Load() }

// MemoryKiB returns the worker's reported memory capacity in KiB, or
// protocol.Unknown. Reads take the resync lock, so a value observed here was
// produced by a completed resync.
func (h *Handle) MemoryKiB() int64 {
	h.resyncMu.Lock()
	defer h.resyncMu.Unlock()
	return h.memoryKiB
}

// StorageKB returns the worker's reported usable storage in KB, or
// protocol.Unknown.
func (h *Handle) StorageKB() int64 {
	h.resyncMu.Lock()
	defer h.resyncMu.Unlock()
	return h.storageKB
}

// CPUs returns the worker's reported processor count, or protocol.Unknown.
func (h *Handle) CPUs() int {
	h.resyncMu.Lock()
	defer h.resyncMu.Unlock()
	return h.cpus
}

// SetReadTimeout bounds every subsequent read against the worker.
func (h *Handle) SetReadTimeout(d time.Duration) {
	h.codec.SetReadTimeout(d)
}

// unlockIO is the settle hook of every I/O-lock-only operation.
func (h *Handle) unlockIO() { h.ioMu.Unlock() }

// unlockResync is Resync's settle hook: release in reverse acquisition
// order.
func (h *Handle) unlockResync() {
	h.ioMu.Unlock()
	h.resyncMu.Unlock()
}

// teardown closes the channel, marks the handle dead and fires the onDown
// hook. Safe to call from any path any number of times; only the first call
// acts, so the disconnect event fires exactly once however a failed probe
// and an explicit disconnect race.
func (h *Handle) teardown() {
	h.down.Do(func() {
		h.alive.Store(false)
		_ = h.codec.Close()
		if h.beat != nil {
			h.beat.Stop()
		}
		if h.onDown != nil {
			h.onDown(h)
		}
	})
}

// fatal records a transport fault and tears the connection down. The remote
// peer state is no longer known good, so the fault is never retried.
func (h *Handle) fatal(err *TransportError) {
	h.log.WithError(err.Err).Warnf("transport fault during %s, evicting worker", err.Op)
	h.teardown()
}

// Resync performs the handshake exchange and refreshes the resource
// snapshot. It acquires the resync lock and then the I/O lock, always in
// that order, and releases both in the settle hook regardless of outcome.
//
// Resync runs once during construction; construction fails the whole handle
// if it fails, so callers typically never invoke it again. A resync failure
// does not by itself tear the handle down: during construction there is
// nothing admitted to evict.
func (h *Handle) Resync() *future.Future[bool] {
	return future.New(h.unlockResync, func(f *future.Future[bool]) {
		h.resyncMu.Lock()
		h.ioMu.Lock()

		err := h.codec.WritePacket(protocol.HandshakePacket{
			RuntimeVersion: runtime.Version(),
			RuntimeName:    runtime.Compiler,
			MemoryKiB:      protocol.Unknown,
			StorageKB:      protocol.Unknown,
			CPUs:           protocol.Unknown,
		})
		if err != nil {
			f.Fail(&TransportError{Op: "resync", Err: err})
			return
		}

		p, err := h.codec.ReadPacket()
		if err != nil {
			f.Fail(&TransportError{Op: "resync", Err: err})
			return
		}
		reply, ok := p.(protocol.HandshakePacket)
		if !ok {
			f.Fail(&TransportError{Op: "resync", Err: fmt.Errorf("unexpected %s packet", p.Type())})
			return
		}

		// The worker's reply is authoritative.
		h.memoryKiB = reply.MemoryKiB
		h.storageKB = reply.StorageKB
		h.cpus = reply.CPUs

		f.Finish(true)
	})
}

// CheckLiveness sends a KEEPALIVE and expects its echo. Any I/O fault or
// packet mismatch means the worker is presumed dead: the handle tears itself
// down (disconnect event plus eviction) and the Future fails. The heartbeat
// monitor is this operation's only regular caller.
func (h *Handle) CheckLiveness() *future.Future[bool] {
	return future.New(h.unlockIO, func(f *future.Future[bool]) {
		h.ioMu.Lock()

		if err := h.codec.WritePacket(protocol.KeepalivePacket{}); err != nil {
			te := &TransportError{Op: "keepalive", Err: err}
			f.Fail(te)
			h.fatal(te)
			return
		}

		p, err := h.codec.ReadPacket()
		if err != nil {
			te := &TransportError{Op: "keepalive", Err: err}
			f.Fail(te)
			h.fatal(te)
			return
		}
		if p.Type() != protocol.PacketKeepalive {
			te := &TransportError{Op: "keepalive", Err: fmt.Errorf("unexpected %s packet", p.Type())}
			f.Fail(te)
			h.fatal(te)
			return
		}

		f.Finish(true)
	})
}

// ForceReclaim asks the worker to run a resource reclamation cycle.
// Fire-and-forget: no reply is expected, the Future finishes once the write
// succeeds. Needed to make sure an unlinked module actually releases the
// resources bound to it.
func (h *Handle) ForceReclaim() *future.Future[bool] {
	return future.New(h.unlockIO, func(f *future.Future[bool]) {
		h.ioMu.Lock()

		if err := h.codec.WritePacket(protocol.GCPacket{}); err != nil {
			te := &TransportError{Op: "reclaim", Err: err}
			f.Fail(te)
			h.fatal(te)
			return
		}

		f.Finish(true)
	})
}

// Upload ships a code unit to the worker and registers it under module.
// The worker replies with a boolean ack; a false ack is a RemoteFault and
// leaves the connection live.
func (h *Handle) Upload(module string, unit protocol.CodeUnit) *future.Future[bool] {
	return future.New(h.unlockIO, func(f *future.Future[bool]) {
		h.ioMu.Lock()

		if err := h.codec.WritePacket(protocol.InjectPacket{Unit: unit, Module: module}); err != nil {
			te := &TransportError{Op: "upload", Err: err}
			f.Fail(te)
			h.fatal(te)
			return
		}

		ack, err := h.codec.ReadBool()
		if err != nil {
			te := &TransportError{Op: "upload", Err: err}
			f.Fail(te)
			h.fatal(te)
			return
		}
		if !ack {
			f.Fail(&RemoteFault{Op: "upload", Reason: "injection not acknowledged by worker"})
			return
		}

		f.Finish(true)
	})
}

// Invoke runs a previously uploaded code unit with the given parameter and
// finishes with the worker's result. The exchange is two-phase: a boolean
// ack for "unit found and loadable" (a false ack carries the worker's error
// text and yields a RemoteFault), then the parameter, then a boolean ack for
// "ran without error" (likewise), then the result payload.
func (h *Handle) Invoke(unit string, param []byte) *future.Future[[]byte] {
	return future.New(h.unlockIO, func(f *future.Future[[]byte]) {
		h.ioMu.Lock()

		if err := h.codec.WritePacket(protocol.ExecutePacket{Unit: unit}); err != nil {
			te := &TransportError{Op: "invoke", Err: err}
			f.Fail(te)
			h.fatal(te)
			return
		}

		loadable, err := h.codec.ReadBool()
		if err != nil {
			te := &TransportError{Op: "invoke", Err: err}
			f.Fail(te)
			h.fatal(te)
			return
		}
		if !loadable {
			detail, err := h.codec.ReadString()
			if err != nil {
				te := &TransportError{Op: "invoke", Err: err}
				f.Fail(te)
				h.fatal(te)
				return
			}
			f.Fail(&RemoteFault{Op: "invoke", Reason: "code unit not loadable", Detail: detail})
			return
		}

		if err := h.codec.WriteRaw(param); err != nil {
			te := &TransportError{Op: "invoke", Err: err}
			f.Fail(te)
			h.fatal(te)
			return
		}

		ran, err := h.codec.ReadBool()
		if err != nil {
			te := &TransportError{Op: "invoke", Err: err}
			f.Fail(te)
			h.fatal(te)
			return
		}
		if !ran {
			detail, err := h.codec.ReadString()
			if err != nil {
				te := &TransportError{Op: "invoke", Err: err}
				f.Fail(te)
				h.fatal(te)
				return
			}
			f.Fail(&RemoteFault{Op: "invoke", Reason: "execution raised", Detail: detail})
			return
		}

		result, err := h.codec.ReadRaw()
		if err != nil {
			te := &TransportError{Op: "invoke", Err: err}
			f.Fail(te)
			h.fatal(te)
			return
		}

		f.Finish(result)
	})
}

// Unlink drops a module and all its units from the worker. On a positive
// ack the operation chains into ForceReclaim so the worker actually releases
// the resources bound to the unloaded module, and finishes with that chained
// result; a negative ack is a RemoteFault.
//
// Composite: the unlink exchange and the chained reclaim each take their own
// turn on the I/O lock.
func (h *Handle) Unlink(module string) *future.Future[bool] {
	return future.New(nil, func(f *future.Future[bool]) {
		h.ioMu.Lock()
		err := h.codec.WritePacket(protocol.UnlinkPacket{Module: module})
		var ack bool
		if err == nil {
			ack, err = h.codec.ReadBool()
		}
		h.ioMu.Unlock()

		if err != nil {
			te := &TransportError{Op: "unlink", Err: err}
			f.Fail(te)
			h.fatal(te)
			return
		}
		if !ack {
			f.Fail(&RemoteFault{Op: "unlink", Reason: "module not linked on worker"})
			return
		}

		h.ForceReclaim().OnSuccess(f.Finish).OnFailure(f.Fail).Await()
	})
}

// Dispatch is the one-shot composition: upload the unit under a private
// module name, invoke it with param, then unlink the module, each step
// running only if the previous one succeeded, any failure short-circuiting
// the whole chain with that failure. The worker never retains the module
// longer than the single invocation that needed it, except on invoke
// failure: the chain short-circuits entirely and the module is deliberately
// left linked on the worker.
//
// Dispatch finishes with the invocation's result payload.
func (h *Handle) Dispatch(unit protocol.CodeUnit, param []byte) *future.Future[[]byte] {
	return future.New(nil, func(f *future.Future[[]byte]) {
		module := "dispatch-" + uuid.NewString()

		if _, err := h.Upload(module, unit).Result(); err != nil {
			f.Fail(err)
			return
		}

		result, err := h.Invoke(unit.Name, param).Result()
		if err != nil {
			f.Fail(err)
			return
		}

		if _, err := h.Unlink(module).Result(); err != nil {
			f.Fail(err)
			return
		}

		f.Finish(result)
	})
}

// Disconnect sends GOODBYE, closes the channel, fires the disconnect event
// and requests eviction. Best-effort: an I/O fault while saying goodbye is
// reported as failure, but the handle is torn down either way.
func (h *Handle) Disconnect() *future.Future[bool] {
	return future.New(h.unlockIO, func(f *future.Future[bool]) {
		h.ioMu.Lock()

		werr := h.codec.WritePacket(protocol.GoodbyePacket{})
		h.log.Info("disconnecting worker")
		h.teardown()

		if werr != nil {
			f.Fail(&TransportError{Op: "disconnect", Err: werr})
			return
		}
		f.Finish(true)
	})
}
