// Package worker implements the worker-side half of the Censer fabric.
// This file defines the executor abstraction and its WebAssembly
// implementation.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Executor hosts the code units a worker has been sent. The dispatch loop is
// written against this interface so runtimes can be swapped and tests can
// substitute a fake.
//
// Module semantics: units are grouped under the module name supplied at load
// time, and Unlink drops a whole group atomically. Unit names are looked up
// across all loaded modules.
type Executor interface {
	// Load compiles and registers a code unit under a module group.
	Load(ctx context.Context, module, unit string, wasm []byte) error

	// Lookup reports whether the named unit is loaded and runnable. It
	// backs the first ack of the EXECUTE exchange.
	Lookup(unit string) error

	// Invoke runs the named unit with param and returns its result.
	Invoke(ctx context.Context, unit string, param []byte) ([]byte, error)

	// Unlink drops a module group and all its units. Reports whether the
	// module existed.
	Unlink(ctx context.Context, module string) bool

	// Reclaim runs a resource reclamation cycle.
	Reclaim(ctx context.Context)
}

// WasmExecutor runs code units as WebAssembly modules under a shared wazero
// runtime. Each unit blob is compiled once at load time; every invocation
// gets a fresh anonymous instance, so units cannot observe each other's
// memory or leak state across calls.
//
// Unit ABI, following the alloc/process convention:
//
//	alloc(size: i32) -> i32            allocate guest memory for the parameter
//	process(ptr: i32, len: i32) -> i64 run; returns (resultPtr << 32) | resultLen
//
// Thread Safety:
// All methods are safe for concurrent use, though the dispatch loop drives
// an executor from a single goroutine in practice.
type WasmExecutor struct {
	runtime wazero.Runtime

	mu      sync.RWMutex
	modules map[string]map[string]wazero.CompiledModule // module -> unit -> compiled

	log *logrus.Logger
}

// NewWasmExecutor builds a wazero-backed executor with WASI available to
// the units it hosts.
func NewWasmExecutor(ctx context.Context, logger *logrus.Logger) (*WasmExecutor, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}
	return &WasmExecutor{
		runtime: rt,
		modules: make(map[string]map[string]wazero.CompiledModule),
		log:     logger,
	}, nil
}

// Load compiles wasm and registers it as unit under module. Reloading an
// existing unit name replaces it within its module group.
func (e *WasmExecutor) Load(ctx context.Context, module, unit string, wasm []byte) error {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return fmt.Errorf("compile unit %q: %w", unit, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	group, ok := e.modules[module]
	if !ok {
		group = make(map[string]wazero.CompiledModule)
		e.modules[module] = group
	}
	if old, ok := group[unit]; ok {
		_ = old.Close(ctx)
	}
	group[unit] = compiled

	e.log.WithFields(logrus.Fields{"module": module, "unit": unit}).Info("unit injected")
	return nil
}

// Lookup reports whether unit is loaded in any module group.
func (e *WasmExecutor) Lookup(unit string) error {
	if _, ok := e.find(unit); !ok {
		return fmt.Errorf("unit %q is not loaded", unit)
	}
	return nil
}

// find returns the compiled module for unit, searching every group.
func (e *WasmExecutor) find(unit string) (wazero.CompiledModule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, group := range e.modules {
		if compiled, ok := group[unit]; ok {
			return compiled, true
		}
	}
	return nil, false
}

// Invoke instantiates unit, feeds it param through the alloc/process ABI and
// returns a copy of the result bytes.
func (e *WasmExecutor) Invoke(ctx context.Context, unit string, param []byte) ([]byte, error) {
	compiled, ok := e.find(unit)
	if !ok {
		return nil, fmt.Errorf("unit %q is not loaded", unit)
	}

	// Anonymous instance: repeated invocations must not collide on name.
	instance, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("instantiate unit %q: %w", unit, err)
	}
	defer instance.Close(ctx)

	process := instance.ExportedFunction("process")
	if process == nil {
		return nil, fmt.Errorf("unit %q does not export process", unit)
	}

	var ptr uint64
	if len(param) > 0 {
		alloc := instance.ExportedFunction("alloc")
		if alloc == nil {
			return nil, fmt.Errorf("unit %q does not export alloc", unit)
		}
		ret, err := alloc.Call(ctx, uint64(len(param)))
		if err != nil {
			return nil, fmt.Errorf("alloc in unit %q: %w", unit, err)
		}
		ptr = ret[0]
		if mem := instance.Memory(); mem == nil || !mem.Write(uint32(ptr), param) {
			return nil, fmt.Errorf("unit %q: parameter does not fit guest memory", unit)
		}
	}

	ret, err := process.Call(ctx, ptr, uint64(len(param)))
	if err != nil {
		return nil, fmt.Errorf("process in unit %q: %w", unit, err)
	}

	packed := ret[0]
	resultPtr := uint32(packed >> 32)
	resultLen := uint32(packed)
	if resultLen == 0 {
		return nil, nil
	}
	mem := instance.Memory()
	if mem == nil {
		return nil, fmt.Errorf("unit %q returned %d bytes but exports no memory", unit, resultLen)
	}
	view, ok := mem.Read(resultPtr, resultLen)
	if !ok {
		return nil, fmt.Errorf("unit %q returned an out-of-range result", unit)
	}
	// The view aliases guest memory that dies with the instance.
	result := make([]byte, len(view))
	copy(result, view)
	return result, nil
}

// Unlink drops a module group, closing every compiled unit in it. Reports
// whether the group existed.
func (e *WasmExecutor) Unlink(ctx context.Context, module string) bool {
	e.mu.Lock()
	group, ok := e.modules[module]
	delete(e.modules, module)
	e.mu.Unlock()

	if !ok {
		return false
	}
	for _, compiled := range group {
		_ = compiled.Close(ctx)
	}
	e.log.WithField("module", module).Info("module unlinked")
	return true
}

// Reclaim runs a garbage collection cycle so unlinked modules actually
// release their resources.
func (e *WasmExecutor) Reclaim(ctx context.Context) {
	runtime.GC()
	e.log.Debug("reclaim cycle complete")
}

// Close tears down the runtime and every loaded module.
func (e *WasmExecutor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.modules = make(map[string]map[string]wazero.CompiledModule)
	e.mu.Unlock()
	return e.runtime.Close(ctx)
}
