// Package config holds the runtime's typed configuration, populated from
// flags in cmd/device-rt. Adapted from the teacher's KernelConfig /
// detectOptimalConfig in kernel/main.go, generalized away from its
// browser/WASM core-count autodetection (this is a native re-host, so the
// chip topology is declared, not probed) to the chip-shape and mailbox
// parameters this runtime needs.
package config

import (
	"flag"
	"runtime"

	"github.com/ridgeline-silicon/manycore-rt/internal/logx"
)

// Chip topology constants carried from spec.md §3 ("Hart identity").
const (
	NumWorkerShires = 32
	MasterShire     = 32
	NumShires       = MasterShire + 1
	NeighsPerShire  = 4
	HartsPerNeigh   = 16
	MinionsPerShire = 32
	HartsPerShire   = MinionsPerShire * 2
	NumHarts        = NumShires * HartsPerShire

	MaxSimultaneousKernels      = 4
	FirstKernelLaunchSyncMinion = 0
)

// Config is the runtime's top-level configuration.
type Config struct {
	NumShires              int
	HartsPerShire          int
	MaxSimultaneousKernels int
	ListenAddr             string
	LogLevel               logx.Level
	ArenaBytes             uint32
	LoaderKind             string
	WasmModuleDir          string
}

// Default returns sane defaults sized for the chip topology in spec.md,
// scaled down only where the host machine cannot usefully emulate 2112
// goroutines-per-hart 1:1 (it can; NumCPU is recorded for diagnostics only,
// the way the teacher's detectOptimalConfig records runtime.NumCPU()).
func Default() Config {
	_ = runtime.NumCPU()
	return Config{
		NumShires:              NumShires,
		HartsPerShire:          HartsPerShire,
		MaxSimultaneousKernels: MaxSimultaneousKernels,
		ListenAddr:             "127.0.0.1:7717",
		LogLevel:               logx.INFO,
		ArenaBytes:             4 << 20,
		LoaderKind:             "native",
	}
}

// FromFlags parses args the way cmd/device-rt's main does, overriding
// Default() with anything the operator passed on the command line.
func FromFlags(args []string) (Config, error) {
	cfg := Default()
	fs := flag.NewFlagSet("device-rt", flag.ContinueOnError)
	fs.IntVar(&cfg.NumShires, "shires", cfg.NumShires, "number of shires (including the master shire)")
	fs.IntVar(&cfg.HartsPerShire, "harts-per-shire", cfg.HartsPerShire, "harts per shire")
	fs.IntVar(&cfg.MaxSimultaneousKernels, "max-kernels", cfg.MaxSimultaneousKernels, "max simultaneous kernel slots")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "host mailbox listen address")
	var level int
	fs.IntVar(&level, "log-level", int(cfg.LogLevel), "0=debug 1=info 2=warn 3=error 4=fatal")
	var arenaMB int
	fs.IntVar(&arenaMB, "arena-mb", int(cfg.ArenaBytes>>20), "shared arena size in MiB")
	fs.StringVar(&cfg.LoaderKind, "loader", cfg.LoaderKind, "kernel loader: native or wasm")
	fs.StringVar(&cfg.WasmModuleDir, "wasm-dir", cfg.WasmModuleDir, "directory of <compute_pc_hex>.wasm modules to preregister with -loader=wasm")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.LogLevel = logx.ParseLevel(level)
	cfg.ArenaBytes = uint32(arenaMB) << 20
	return cfg, nil
}
