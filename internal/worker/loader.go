// Package worker implements the per-hart dispatch loop (spec.md §4.F): poll
// broadcast/unicast mailboxes, dispatch on message id, jump into user code
// at compute_pc, and aggregate per-shire completion. spec.md marks kernel
// bodies themselves as out of scope ("user code that the runtime loads and
// jumps to"); this package still needs something callable at compute_pc, so
// it defines KernelLoader with two implementations: WasmLoader for real
// kernels and NativeLoader for deterministic dispatch-loop tests.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// KernelFunc is a loaded, callable kernel body. ctx is cancelled when a
// KERNEL_ABORT arrives for the hart running it; a kernel that wants to
// honor abort checks ctx.Done() the way a real kernel checks for the
// firmware's return-from-kernel syscall having been forced.
type KernelFunc func(ctx context.Context, params []byte) ([]byte, error)

// KernelLoader resolves a compute_pc (the published entry point) to a
// callable kernel body.
type KernelLoader interface {
	Load(computePC uint64) (KernelFunc, error)
}

// NativeLoader is the test path: a table of Go functions keyed by
// compute_pc, standing in for original_source's test-compute-kernels
// (echo, exception, beef) so the dispatch loop can be exercised
// deterministically without a .wasm fixture.
type NativeLoader struct {
	mu  sync.RWMutex
	fns map[uint64]KernelFunc
}

func NewNativeLoader() *NativeLoader {
	return &NativeLoader{fns: make(map[uint64]KernelFunc)}
}

func (n *NativeLoader) Register(computePC uint64, fn KernelFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fns[computePC] = fn
}

func (n *NativeLoader) Load(computePC uint64) (KernelFunc, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	fn, ok := n.fns[computePC]
	if !ok {
		return nil, fmt.Errorf("worker: no native kernel registered for compute_pc %#x", computePC)
	}
	return fn, nil
}

// Built-in native kernels grounded on original_source/test-compute-kernels.

// EchoKernel copies its input params to its output, the Go stand-in for
// test-compute-kernels/echo.c.
func EchoKernel(_ context.Context, params []byte) ([]byte, error) {
	out := make([]byte, len(params))
	copy(out, params)
	return out, nil
}

// ExceptionKernel always faults, the stand-in for
// test-compute-kernels/exception.c, used to exercise the MSG_EXCEPTION
// fast path.
func ExceptionKernel(_ context.Context, _ []byte) ([]byte, error) {
	return nil, fmt.Errorf("worker: kernel raised exception")
}

// BeefKernel is a no-op success, the stand-in for
// test-compute-kernels/beef.c.
func BeefKernel(_ context.Context, _ []byte) ([]byte, error) {
	return nil, nil
}

// WasmLoader is the production path: it executes the published
// kernel_params blob against a WebAssembly module registered by
// compute_pc, grounded on the teacher's wasm.Execute
// (wasmer.NewEngine/NewStore/NewModule/NewInstance,
// Exports.GetFunction("main")), generalized from a single hardcoded entry
// point to a registry.
type WasmLoader struct {
	engine *wasmer.Engine
	store  *wasmer.Store

	mu      sync.RWMutex
	modules map[uint64][]byte
}

func NewWasmLoader() *WasmLoader {
	engine := wasmer.NewEngine()
	return &WasmLoader{
		engine:  engine,
		store:   wasmer.NewStore(engine),
		modules: make(map[uint64][]byte),
	}
}

// RegisterModule associates compute_pc with the wasm binary the host
// published for it (out of band, ahead of any KERNEL_LAUNCH referencing
// it).
func (w *WasmLoader) RegisterModule(computePC uint64, wasmBytes []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.modules[computePC] = wasmBytes
}

func (w *WasmLoader) Load(computePC uint64) (KernelFunc, error) {
	w.mu.RLock()
	bytes, ok := w.modules[computePC]
	w.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("worker: no wasm module registered for compute_pc %#x", computePC)
	}

	return func(_ context.Context, params []byte) ([]byte, error) {
		module, err := wasmer.NewModule(w.store, bytes)
		if err != nil {
			return nil, err
		}
		instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
		if err != nil {
			return nil, err
		}
		mainFunc, err := instance.Exports.GetFunction("main")
		if err != nil {
			return nil, err
		}
		result, err := mainFunc(params)
		if err != nil {
			return nil, err
		}
		if out, ok := result.([]byte); ok {
			return out, nil
		}
		return nil, nil
	}, nil
}
