package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emptyWasm is the smallest valid WebAssembly module: magic plus version,
// no sections. It compiles but exports nothing.
var emptyWasm = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func newTestExecutor(t *testing.T) *WasmExecutor {
	t.Helper()

	ctx := context.Background()
	exec, err := NewWasmExecutor(ctx, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close(ctx) })
	return exec
}

// TestWasmExecutorLoadLookup tests compilation and unit visibility across
// module groups
func TestWasmExecutorLoadLookup(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	require.NoError(t, exec.Load(ctx, "jobs", "noop", emptyWasm))
	assert.NoError(t, exec.Lookup("noop"))
	assert.Error(t, exec.Lookup("ghost"))

	// Units are visible regardless of which module carries them.
	require.NoError(t, exec.Load(ctx, "other", "second", emptyWasm))
	assert.NoError(t, exec.Lookup("second"))
}

// TestWasmExecutorRejectsBadBytes tests that a blob that is not wasm fails
// at load time, not at invoke time
func TestWasmExecutorRejectsBadBytes(t *testing.T) {
	exec := newTestExecutor(t)

	err := exec.Load(context.Background(), "jobs", "garbage", []byte("not wasm"))
	require.Error(t, err)
	assert.Error(t, exec.Lookup("garbage"))
}

// TestWasmExecutorInvokeMissingExports tests that a unit without the
// process export fails the invocation cleanly
func TestWasmExecutorInvokeMissingExports(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	require.NoError(t, exec.Load(ctx, "jobs", "noop", emptyWasm))

	_, err := exec.Invoke(ctx, "noop", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not export process")
}

// TestWasmExecutorInvokeUnknownUnit tests the not-loaded refusal
func TestWasmExecutorInvokeUnknownUnit(t *testing.T) {
	exec := newTestExecutor(t)

	_, err := exec.Invoke(context.Background(), "ghost", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not loaded")
}

// TestWasmExecutorUnlink tests that unlinking drops a whole module group
// and reports prior existence
func TestWasmExecutorUnlink(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	require.NoError(t, exec.Load(ctx, "jobs", "first", emptyWasm))
	require.NoError(t, exec.Load(ctx, "jobs", "second", emptyWasm))
	require.NoError(t, exec.Load(ctx, "keep", "third", emptyWasm))

	assert.True(t, exec.Unlink(ctx, "jobs"))
	assert.Error(t, exec.Lookup("first"))
	assert.Error(t, exec.Lookup("second"))
	assert.NoError(t, exec.Lookup("third"))

	assert.False(t, exec.Unlink(ctx, "jobs"))
	assert.False(t, exec.Unlink(ctx, "never-linked"))
}

// TestWasmExecutorReload tests that loading the same unit name again
// replaces it within its group
func TestWasmExecutorReload(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	require.NoError(t, exec.Load(ctx, "jobs", "noop", emptyWasm))
	require.NoError(t, exec.Load(ctx, "jobs", "noop", emptyWasm))
	assert.NoError(t, exec.Lookup("noop"))

	assert.True(t, exec.Unlink(ctx, "jobs"))
	assert.Error(t, exec.Lookup("noop"))
}

// TestWasmExecutorReclaim tests that reclamation is a safe no-op whenever
// it runs
func TestWasmExecutorReclaim(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	exec.Reclaim(ctx)
	require.NoError(t, exec.Load(ctx, "jobs", "noop", emptyWasm))
	exec.Reclaim(ctx)
	assert.NoError(t, exec.Lookup("noop"))
}
