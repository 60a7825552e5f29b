// Package protocol defines the packet vocabulary and wire framing shared by
// the Censer coordinator and its workers. See doc.go for complete package
// documentation.
package protocol

import "fmt"

// Unknown is the placeholder for handshake resource fields the sender cannot
// or does not report. The coordinator sends all three resource fields as
// Unknown; the worker's reply is authoritative.
const Unknown = -1

// PacketType identifies a packet on the wire. Every packet is
// self-identifying through its Type method.
type PacketType uint8

const (
	// PacketHandshake is the first packet on a connection, flowing in both
	// directions: identity-only from the coordinator, full specs back from
	// the worker.
	PacketHandshake PacketType = iota

	// PacketInject loads a code unit under a module on the worker.
	PacketInject

	// PacketExecute invokes a previously injected code unit.
	PacketExecute

	// PacketKeepalive is an echo-back liveness probe, either direction.
	PacketKeepalive

	// PacketGoodbye is a graceful close notice; the receiver should close
	// the channel.
	PacketGoodbye

	// PacketGC requests resource reclamation on the worker. Fire-and-forget:
	// there is no reply.
	PacketGC

	// PacketUnlink drops a module and all its units on the worker.
	PacketUnlink
)

// String returns the wire tag's conventional name.
func (t PacketType) String() string {
	switch t {
	case PacketHandshake:
		return "HANDSHAKE"
	case PacketInject:
		return "INJECT"
	case PacketExecute:
		return "EXECUTE"
	case PacketKeepalive:
		return "KEEPALIVE"
	case PacketGoodbye:
		return "GOODBYE"
	case PacketGC:
		return "GC"
	case PacketUnlink:
		return "UNLINK"
	default:
		return fmt.Sprintf("PACKET(%d)", uint8(t))
	}
}

// Packet is implemented by every discrete message on the channel.
type Packet interface {
	Type() PacketType
}

// CodeUnit is one executable piece of logic distributed to a worker: a named,
// self-contained WebAssembly module blob. The receiver compiles and loads it
// under an explicit module group so the whole group can be unlinked
// atomically later.
type CodeUnit struct {
	// Name identifies the unit for later EXECUTE packets.
	Name string

	// Wasm is the unit's executable payload, a complete wasm binary.
	Wasm []byte
}

// HandshakePacket carries runtime identity and the resource snapshot.
//
// The coordinator sends it with only the identity fields set and the
// resource fields as Unknown; the worker echoes it with every field filled
// in. The worker-reported resource values are authoritative.
type HandshakePacket struct {
	// RuntimeVersion is the sender's Go runtime version (runtime.Version()).
	// Workers refuse connections whose version differs from their own.
	RuntimeVersion string

	// RuntimeName is the sender's compiler/runtime name (runtime.Compiler).
	// Mismatches are tolerated with a warning.
	RuntimeName string

	// MemoryKiB is the memory capacity of the sending machine, or Unknown.
	MemoryKiB int64

	// StorageKB is the usable storage of the sending machine, or Unknown.
	StorageKB int64

	// CPUs is the processor count of the sending machine, or Unknown.
	CPUs int
}

// Type implements Packet.
func (HandshakePacket) Type() PacketType { return PacketHandshake }

// InjectPacket instructs the worker to load a code unit under a module.
// The worker replies with a boolean ack.
type InjectPacket struct {
	// Unit is the code unit to load.
	Unit CodeUnit

	// Module is the owning module group for later unlinking.
	Module string
}

// Type implements Packet.
func (InjectPacket) Type() PacketType { return PacketInject }

// ExecutePacket invokes a previously injected unit by name. The exchange is
// two-phase: a boolean ack for "unit found and loadable", then the parameter
// payload, a boolean ack for "ran without error", and finally the result.
type ExecutePacket struct {
	// Unit names the code unit to run.
	Unit string
}

// Type implements Packet.
func (ExecutePacket) Type() PacketType { return PacketExecute }

// KeepalivePacket is an empty liveness probe, echoed back verbatim.
type KeepalivePacket struct{}

// Type implements Packet.
func (KeepalivePacket) Type() PacketType { return PacketKeepalive }

// GoodbyePacket is an empty graceful close notice.
type GoodbyePacket struct{}

// Type implements Packet.
func (GoodbyePacket) Type() PacketType { return PacketGoodbye }

// GCPacket is an empty resource reclamation request with no reply.
type GCPacket struct{}

// Type implements Packet.
func (GCPacket) Type() PacketType { return PacketGC }

// UnlinkPacket drops a module and all its units. The worker replies with a
// boolean ack: true if the module existed.
type UnlinkPacket struct {
	// Module is the module group to drop.
	Module string
}

// Type implements Packet.
func (UnlinkPacket) Type() PacketType { return PacketUnlink }
