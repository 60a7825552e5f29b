package protocol

import (
	"encoding/gob"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrUnknownPacket marks a well-framed packet whose tag is not part of the
// vocabulary. Workers tolerate these and keep reading; the coordinator
// treats any decode failure as fatal.
var ErrUnknownPacket = errors.New("unknown packet tag")

// Codec frames discrete packets over one bidirectional byte stream using a
// gob encoder/decoder pair, the Go analogue of the object streams the
// protocol was designed around. Frames are self-delimiting; there is no
// length prefix.
//
// Contract: writes are atomic per packet only if the caller does not
// interleave two packets from different logical operations. The codec itself
// does not serialize callers; that is the job of the worker handle's I/O
// lock. A read yields exactly one decoded value or fails with a decode
// error, which the coordinator treats as fatal to the connection.
type Codec struct {
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder

	// mu guards the read timeout, which may be set while an operation on
	// another goroutine is mid-exchange.
	mu          sync.Mutex
	readTimeout time.Duration
}

// NewCodec wraps conn in a packet codec. The codec takes no ownership of
// locking; callers serialize access externally.
func NewCodec(conn net.Conn) *Codec {
	return &Codec{
		conn: conn,
		enc:  gob.NewEncoder(conn),
		dec:  gob.NewDecoder(conn),
	}
}

// SetReadTimeout sets the deadline applied before every subsequent read.
// Zero disables the timeout. This is the only timeout control the protocol
// engine offers: an exchange that has started runs to completion, timeout or
// I/O error.
func (c *Codec) SetReadTimeout(d time.Duration) {
	c.mu.Lock()
	c.readTimeout = d
	c.mu.Unlock()
}

// armRead applies the configured read deadline, if any, to the connection.
func (c *Codec) armRead() {
	c.mu.Lock()
	d := c.readTimeout
	c.mu.Unlock()
	if d > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	}
}

// frame is the only packet-carrying unit on the wire: one flat struct with a
// tag and the union of every packet's fields. Only the fields belonging to
// Kind are meaningful; gob elides the zero-valued rest. Flattening sidesteps
// interface registration and keeps the stream self-describing.
type frame struct {
	Kind           PacketType
	RuntimeVersion string
	RuntimeName    string
	MemoryKiB      int64
	StorageKB      int64
	CPUs           int
	UnitName       string
	Module         string
	Wasm           []byte
}

// WritePacket encodes one packet onto the stream.
func (c *Codec) WritePacket(p Packet) error {
	f := frame{Kind: p.Type()}
	switch p := p.(type) {
	case HandshakePacket:
		f.RuntimeVersion = p.RuntimeVersion
		f.RuntimeName = p.RuntimeName
		f.MemoryKiB = p.MemoryKiB
		f.StorageKB = p.StorageKB
		f.CPUs = p.CPUs
	case InjectPacket:
		f.UnitName = p.Unit.Name
		f.Wasm = p.Unit.Wasm
		f.Module = p.Module
	case ExecutePacket:
		f.UnitName = p.Unit
	case UnlinkPacket:
		f.Module = p.Module
	case KeepalivePacket, GoodbyePacket, GCPacket:
		// Tag-only packets.
	default:
		return fmt.Errorf("write packet: unknown packet %T", p)
	}
	if err := c.enc.Encode(f); err != nil {
		return fmt.Errorf("write %s: %w", p.Type(), err)
	}
	return nil
}

// ReadPacket decodes exactly one packet from the stream. An unrecognized tag
// is a decode error.
func (c *Codec) ReadPacket() (Packet, error) {
	c.armRead()
	var f frame
	if err := c.dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("read packet: %w", err)
	}
	switch f.Kind {
	case PacketHandshake:
		return HandshakePacket{
			RuntimeVersion: f.RuntimeVersion,
			RuntimeName:    f.RuntimeName,
			MemoryKiB:      f.MemoryKiB,
			StorageKB:      f.StorageKB,
			CPUs:           f.CPUs,
		}, nil
	case PacketInject:
		return InjectPacket{Unit: CodeUnit{Name: f.UnitName, Wasm: f.Wasm}, Module: f.Module}, nil
	case PacketExecute:
		return ExecutePacket{Unit: f.UnitName}, nil
	case PacketKeepalive:
		return KeepalivePacket{}, nil
	case PacketGoodbye:
		return GoodbyePacket{}, nil
	case PacketGC:
		return GCPacket{}, nil
	case PacketUnlink:
		return UnlinkPacket{Module: f.Module}, nil
	default:
		return nil, fmt.Errorf("read packet: %w %d", ErrUnknownPacket, f.Kind)
	}
}

// WriteBool writes a bare acknowledgement value.
func (c *Codec) WriteBool(v bool) error {
	if err := c.enc.Encode(v); err != nil {
		return fmt.Errorf("write ack: %w", err)
	}
	return nil
}

// ReadBool reads a bare acknowledgement value.
func (c *Codec) ReadBool() (bool, error) {
	c.armRead()
	var v bool
	if err := c.dec.Decode(&v); err != nil {
		return false, fmt.Errorf("read ack: %w", err)
	}
	return v, nil
}

// WriteString writes a bare string, used for worker-reported error detail.
func (c *Codec) WriteString(s string) error {
	if err := c.enc.Encode(s); err != nil {
		return fmt.Errorf("write string: %w", err)
	}
	return nil
}

// ReadString reads a bare string.
func (c *Codec) ReadString() (string, error) {
	c.armRead()
	var s string
	if err := c.dec.Decode(&s); err != nil {
		return "", fmt.Errorf("read string: %w", err)
	}
	return s, nil
}

// WriteRaw writes an opaque payload: an EXECUTE parameter or result.
func (c *Codec) WriteRaw(b []byte) error {
	if err := c.enc.Encode(b); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadRaw reads an opaque payload.
func (c *Codec) ReadRaw() ([]byte, error) {
	c.armRead()
	var b []byte
	if err := c.dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return b, nil
}

// RemoteAddr reports the peer address, for logging.
func (c *Codec) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection. Reads and writes in flight fail
// immediately.
func (c *Codec) Close() error {
	return c.conn.Close()
}
