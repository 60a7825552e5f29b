package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeCodecs returns a connected codec pair over an in-memory full-duplex
// pipe, one per end.
func pipeCodecs(t *testing.T) (*Codec, *Codec) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return NewCodec(a), NewCodec(b)
}

// TestCodecPacketRoundTrip verifies that each packet type survives a trip
// through the codec with its payload intact and its tag self-identifying.
func TestCodecPacketRoundTrip(t *testing.T) {
	left, right := pipeCodecs(t)

	sent := []Packet{
		HandshakePacket{RuntimeVersion: "go1.23.0", RuntimeName: "gc", MemoryKiB: Unknown, StorageKB: Unknown, CPUs: Unknown},
		InjectPacket{Unit: CodeUnit{Name: "Echo", Wasm: []byte{0x00, 0x61, 0x73, 0x6d}}, Module: "m"},
		ExecutePacket{Unit: "Echo"},
		KeepalivePacket{},
		GCPacket{},
		UnlinkPacket{Module: "m"},
		GoodbyePacket{},
	}

	go func() {
		for _, p := range sent {
			_ = left.WritePacket(p)
		}
	}()

	for _, want := range sent {
		got, err := right.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, want.Type(), got.Type())
		assert.Equal(t, want, got)
	}
}

// TestCodecAckAndPayloadValues verifies the bare ack, string and payload
// frames interleaved with packets, which is exactly the EXECUTE exchange
// shape.
func TestCodecAckAndPayloadValues(t *testing.T) {
	left, right := pipeCodecs(t)

	done := make(chan error, 1)
	go func() {
		if err := left.WritePacket(ExecutePacket{Unit: "Echo"}); err != nil {
			done <- err
			return
		}
		if err := left.WriteRaw([]byte(`"ping"`)); err != nil {
			done <- err
			return
		}
		done <- nil
	}()

	p, err := right.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, PacketExecute, p.Type())

	param, err := right.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, []byte(`"ping"`), param)
	require.NoError(t, <-done)

	// Response leg: ack, error string, ack, result.
	go func() {
		_ = right.WriteBool(true)
		_ = right.WriteString("remote detail")
		_ = right.WriteBool(false)
		_ = right.WriteRaw([]byte(`"pong"`))
	}()

	ok, err := left.ReadBool()
	require.NoError(t, err)
	assert.True(t, ok)

	detail, err := left.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "remote detail", detail)

	ok, err = left.ReadBool()
	require.NoError(t, err)
	assert.False(t, ok)

	result, err := left.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, []byte(`"pong"`), result)
}

// TestCodecReadFailsOnClosedPeer verifies that a read against a torn-down
// peer reports an error rather than blocking forever, the transport fault
// the coordinator treats as fatal.
func TestCodecReadFailsOnClosedPeer(t *testing.T) {
	a, b := net.Pipe()
	left := NewCodec(a)
	b.Close()

	_, err := left.ReadPacket()
	assert.Error(t, err)
	a.Close()
}

// TestCodecReadTimeout verifies that an armed read deadline fails a read
// with no incoming data instead of blocking.
func TestCodecReadTimeout(t *testing.T) {
	left, _ := pipeCodecs(t)
	left.SetReadTimeout(20 * time.Millisecond)

	start := time.Now()
	_, err := left.ReadPacket()
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "read must fail by deadline, not block")
}

// TestCodecUnknownTagIsDecodeError verifies that a frame carrying an
// unrecognized tag surfaces as a decode error rather than a zero packet.
func TestCodecUnknownTagIsDecodeError(t *testing.T) {
	left, right := pipeCodecs(t)

	go func() {
		_ = left.enc.Encode(frame{Kind: PacketType(99)})
	}()

	_, err := right.ReadPacket()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownPacket)
}

// TestCodecPacketTypeNames pins the conventional wire tag names used in
// logs.
func TestCodecPacketTypeNames(t *testing.T) {
	assert.Equal(t, "HANDSHAKE", PacketHandshake.String())
	assert.Equal(t, "KEEPALIVE", PacketKeepalive.String())
	assert.Equal(t, "GC", PacketGC.String())
	assert.Equal(t, "UNLINK", PacketUnlink.String())
}
