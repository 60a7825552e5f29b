package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/censer/internal/protocol"
	"github.com/dreamware/censer/internal/worker"
)

// upperExec is an in-process Executor standing in for a wasm runtime: it
// upper-cases whatever parameter it is invoked with.
type upperExec struct {
	mu      sync.Mutex
	modules map[string]map[string][]byte
}

func newUpperExec() *upperExec {
	return &upperExec{modules: map[string]map[string][]byte{}}
}

func (e *upperExec) Load(_ context.Context, module, unit string, wasm []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	group, ok := e.modules[module]
	if !ok {
		group = map[string][]byte{}
		e.modules[module] = group
	}
	group[unit] = wasm
	return nil
}

func (e *upperExec) Lookup(unit string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, group := range e.modules {
		if _, ok := group[unit]; ok {
			return nil
		}
	}
	return fmt.Errorf("unit not loaded: %s", unit)
}

func (e *upperExec) Invoke(_ context.Context, unit string, param []byte) ([]byte, error) {
	if err := e.Lookup(unit); err != nil {
		return nil, err
	}
	return bytes.ToUpper(param), nil
}

func (e *upperExec) Unlink(_ context.Context, module string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.modules[module]
	delete(e.modules, module)
	return ok
}

func (e *upperExec) Reclaim(context.Context) {}

// startServer brings up a coordinator on a loopback port with short timers.
func startServer(t *testing.T) *Server {
	t.Helper()

	srv, err := NewServer(Config{
		Addr:              "127.0.0.1:0",
		HeartbeatInterval: 50 * time.Millisecond,
		Logger:            quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = srv.Close()
		srv.Dispose()
	})
	return srv
}

// dialWorker connects a real worker dispatch loop to the server and returns
// a channel carrying Serve's exit value.
func dialWorker(t *testing.T, srv *Server) chan error {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	exit := make(chan error, 1)
	go func() {
		exit <- worker.Serve(context.Background(), conn, newUpperExec(), quietLogger())
	}()
	return exit
}

// waitForFleet polls until the fleet reaches want workers.
func waitForFleet(t *testing.T, srv *Server, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return srv.WorkerCount() == want
	}, 2*time.Second, 5*time.Millisecond, "fleet never reached %d", want)
}

// TestServerAdmitsFleet tests that connecting workers are handshaken,
// admitted and announced through the connect dispatcher
func TestServerAdmitsFleet(t *testing.T) {
	srv := startServer(t)

	joined := make(chan *Handle, 8)
	srv.OnConnect().Register(func(h *Handle) { joined <- h })

	const fleet = 5
	for i := 0; i < fleet; i++ {
		dialWorker(t, srv)
	}
	waitForFleet(t, srv, fleet)

	assert.Len(t, joined, fleet)
	srv.ForEachWorker(func(h *Handle) {
		assert.True(t, h.Alive())
		assert.Equal(t, runtime.NumCPU(), h.CPUs())
	})
}

// TestServerDispatchAcrossFleet tests the end-to-end path: upload, invoke
// and unlink against every admitted worker through Dispatch
func TestServerDispatchAcrossFleet(t *testing.T) {
	srv := startServer(t)

	const fleet = 5
	for i := 0; i < fleet; i++ {
		dialWorker(t, srv)
	}
	waitForFleet(t, srv, fleet)

	unit := protocol.CodeUnit{Name: "shout", Wasm: []byte{0x00, 0x61, 0x73, 0x6d}}
	var mu sync.Mutex
	var results [][]byte

	srv.ForEachWorker(func(h *Handle) {
		result, err := h.Dispatch(unit, []byte("hello")).Result()
		require.NoError(t, err)
		mu.Lock()
		results = append(results, result)
		mu.Unlock()
	})

	require.Len(t, results, fleet)
	for _, r := range results {
		assert.Equal(t, []byte("HELLO"), r)
	}
}

// TestServerDisposeDrainsFleet tests that disposal sends every worker a
// goodbye and clears the registry
func TestServerDisposeDrainsFleet(t *testing.T) {
	srv := startServer(t)

	left := make(chan *Handle, 8)
	srv.OnDisconnect().Register(func(h *Handle) { left <- h })

	exits := []chan error{dialWorker(t, srv), dialWorker(t, srv)}
	waitForFleet(t, srv, 2)

	srv.Dispose()
	assert.Equal(t, 0, srv.WorkerCount())
	assert.Len(t, left, 2)

	for _, exit := range exits {
		select {
		case err := <-exit:
			assert.NoError(t, err, "goodbye should end the dispatch loop cleanly")
		case <-time.After(2 * time.Second):
			t.Fatal("worker loop never exited")
		}
	}
}

// TestServerEvictsWorkerRejectedAtConnect tests that a worker torn down
// from inside a connect handler never lingers in the registry
func TestServerEvictsWorkerRejectedAtConnect(t *testing.T) {
	srv := startServer(t)

	// A screening policy: refuse every worker the moment it joins.
	rejected := make(chan *Handle, 1)
	srv.OnConnect().Register(func(h *Handle) {
		h.Disconnect().Await()
		rejected <- h
	})

	exit := dialWorker(t, srv)

	var h *Handle
	select {
	case h = <-rejected:
	case <-time.After(2 * time.Second):
		t.Fatal("connect handler never ran")
	}

	require.Eventually(t, func() bool {
		return srv.WorkerCount() == 0
	}, 2*time.Second, 5*time.Millisecond, "rejected worker stayed in the registry")
	assert.False(t, h.Alive())

	// And it stays out: admission must not land after the teardown.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, srv.WorkerCount())

	select {
	case err := <-exit:
		assert.NoError(t, err, "rejected worker should see a clean goodbye")
	case <-time.After(2 * time.Second):
		t.Fatal("worker loop never exited")
	}
}

// TestServerCloseAbandonsStalledHandshake tests that a client that
// connects and never speaks cannot wedge shutdown
func TestServerCloseAbandonsStalledHandshake(t *testing.T) {
	srv := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// Give the accept loop a moment to hand the connection off.
	time.Sleep(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- srv.Close() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on the stalled handshake")
	}
	assert.Equal(t, 0, srv.WorkerCount())
}

// TestServerRejectsFailedHandshake tests that a connection dying during the
// handshake is never admitted
func TestServerRejectsFailedHandshake(t *testing.T) {
	srv := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)

	// Read the coordinator's probe and hang up instead of answering, the
	// observable shape of a version-mismatch refusal.
	c := protocol.NewCodec(conn)
	_, err = c.ReadPacket()
	require.NoError(t, err)
	_ = conn.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, srv.WorkerCount())
}

// TestServerHeartbeatEvictsDeadWorker tests that a worker that stops
// answering probes is evicted without any explicit disconnect
func TestServerHeartbeatEvictsDeadWorker(t *testing.T) {
	srv := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)

	// Answer the handshake by hand, then go silent and hang up.
	c := protocol.NewCodec(conn)
	serveHandshake(t, c, 1024, 1024, 1)
	waitForFleet(t, srv, 1)

	_ = conn.Close()
	waitForFleet(t, srv, 0)
}

// TestServerCloseStopsAccepting tests that Close is final: the listener is
// down while admitted workers stay connected
func TestServerCloseStopsAccepting(t *testing.T) {
	srv := startServer(t)

	dialWorker(t, srv)
	waitForFleet(t, srv, 1)

	addr := srv.Addr().String()
	require.NoError(t, srv.Close())

	_, err := net.Dial("tcp", addr)
	assert.Error(t, err)
	assert.Equal(t, 1, srv.WorkerCount())
}
