// Command device-rt boots the many-core accelerator's on-device runtime:
// it wires the chip topology from flags, starts every hart's dispatch
// loop and the host mailbox listener, and runs until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/ridgeline-silicon/manycore-rt/internal/config"
	"github.com/ridgeline-silicon/manycore-rt/internal/logx"
	"github.com/ridgeline-silicon/manycore-rt/internal/runtime"
	"github.com/ridgeline-silicon/manycore-rt/internal/worker"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.FromFlags(args)
	if err != nil {
		return err
	}

	log := logx.New(logx.Config{Level: cfg.LogLevel, Component: "device-rt", Output: os.Stdout, Colorize: true})

	loader, err := buildLoader(cfg)
	if err != nil {
		return fmt.Errorf("device-rt: %w", err)
	}

	rt, err := runtime.New(cfg, loader, log)
	if err != nil {
		return fmt.Errorf("device-rt: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("device runtime booting", logx.Int("shires", cfg.NumShires), logx.Int("harts_per_shire", cfg.HartsPerShire))
	return rt.Run(ctx)
}

// buildLoader selects the kernel loader per -loader: "wasm" preregisters
// every <compute_pc_hex>.wasm file under -wasm-dir against worker.WasmLoader,
// the production path; anything else falls back to the deterministic
// NativeLoader used by the test kernels.
func buildLoader(cfg config.Config) (worker.KernelLoader, error) {
	if cfg.LoaderKind != "wasm" {
		loader := worker.NewNativeLoader()
		loader.Register(0, worker.EchoKernel)
		loader.Register(1, worker.BeefKernel)
		loader.Register(2, worker.ExceptionKernel)
		return loader, nil
	}

	loader := worker.NewWasmLoader()
	if cfg.WasmModuleDir == "" {
		return loader, nil
	}
	entries, err := os.ReadDir(cfg.WasmModuleDir)
	if err != nil {
		return nil, fmt.Errorf("read wasm-dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".wasm") {
			continue
		}
		computePC, err := strconv.ParseUint(strings.TrimSuffix(name, ".wasm"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("wasm module %q: name must be a hex compute_pc: %w", name, err)
		}
		bytes, err := os.ReadFile(filepath.Join(cfg.WasmModuleDir, name))
		if err != nil {
			return nil, fmt.Errorf("read wasm module %q: %w", name, err)
		}
		loader.RegisterModule(computePC, bytes)
	}
	return loader, nil
}
