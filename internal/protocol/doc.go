// Package protocol defines Censer's wire vocabulary: the packets exchanged
// between the coordinator and its workers, and the codec that frames them
// over a single bidirectional TCP stream.
//
// # Packet Vocabulary
//
//	Tag        Direction                 Payload
//	HANDSHAKE  both                      runtime identity ×2, memory, storage, CPUs
//	INJECT     coordinator → worker      unit name, module name, wasm blob
//	EXECUTE    coordinator → worker      unit name
//	KEEPALIVE  both                      none
//	GOODBYE    coordinator → worker      none
//	GC         coordinator → worker      none
//	UNLINK     coordinator → worker      module name
//
// The first packet on every connection is a HANDSHAKE from the coordinator
// carrying identity only (resource fields set to Unknown); the worker echoes
// one back with authoritative specs. INJECT and UNLINK are acknowledged with
// a bare boolean. EXECUTE is a two-phase exchange: load ack, parameter,
// run ack, result. GC has no reply at all.
//
// # Framing
//
// Packets, acks, error strings and payloads travel as values on one gob
// encoder/decoder pair per direction: self-delimiting frames with no length
// prefix. A packet is one flat frame struct tagged with its PacketType and
// carrying the union of all packet fields, so a read yields exactly one
// self-identifying packet or a decode error.
//
// # Locking
//
// The codec performs no locking of its own. Atomicity of a multi-value
// exchange (for example EXECUTE's five-step sequence) is guaranteed by the
// worker handle's I/O lock on the coordinator side and by the single
// dispatch goroutine on the worker side.
package protocol
