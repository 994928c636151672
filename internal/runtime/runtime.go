// Package runtime wires every subsystem package into one running device:
// the shared arena and cache-op fences, the message fabric, shire/slot
// state tracking, the kernel launcher, one sync-thread helper per kernel
// slot, one dispatch loop per hart, and the host mailbox server. Grounded
// on the teacher's kernel/threads/supervisor.go Supervisor shape (owns
// ctx/cancel/WaitGroup, a map of subsystems, a LIFO shutdown path), with
// every ML/mesh/economics field stripped in favor of this chip's topology.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ridgeline-silicon/manycore-rt/internal/config"
	"github.com/ridgeline-silicon/manycore-rt/internal/fabric"
	"github.com/ridgeline-silicon/manycore-rt/internal/hostapi"
	"github.com/ridgeline-silicon/manycore-rt/internal/hw"
	"github.com/ridgeline-silicon/manycore-rt/internal/launch"
	"github.com/ridgeline-silicon/manycore-rt/internal/logx"
	"github.com/ridgeline-silicon/manycore-rt/internal/shire"
	"github.com/ridgeline-silicon/manycore-rt/internal/syncthread"
	"github.com/ridgeline-silicon/manycore-rt/internal/trace"
	"github.com/ridgeline-silicon/manycore-rt/internal/worker"
)

// Runtime is the fully wired device: every subsystem plus the goroutines
// that drive them.
type Runtime struct {
	cfg config.Config
	log *logx.Logger

	arena     *hw.Arena
	cache     *hw.CacheOp
	ipi       *hw.IPI
	broadcast *fabric.BroadcastBuffer
	unicast   *fabric.UnicastSlots
	dedup     *fabric.Dedup
	esr       *hw.BroadcastESR
	tracker   *shire.Tracker

	launcher    *launch.Launcher
	slotFCCs    []*hw.FCC
	syncWorkers []*syncthread.Worker

	shireBuffers []*fabric.WorkerBuffers
	dispatches   []*worker.ShireDispatch
	harts        []*worker.Hart
	loader       worker.KernelLoader

	traceCollector *trace.Collector
	pmu            *trace.PMUStub
	syscallGate    *hw.Gate

	masterLog *logx.Logger
	workerLog *logx.Logger

	server   *hostapi.Server
	listener *hostapi.Listener
	httpSrv  *http.Server

	shutdown *logx.GracefulShutdown
	stopHart chan struct{}
	wg       sync.WaitGroup
}

// New wires every subsystem according to cfg but starts nothing; call Run
// to start the dispatch/sync goroutines and the host mailbox listener.
func New(cfg config.Config, loader worker.KernelLoader, log *logx.Logger) (*Runtime, error) {
	if log == nil {
		log = logx.Default("runtime")
	}
	if loader == nil {
		loader = worker.NewNativeLoader()
	}

	arena := hw.NewArena(cfg.ArenaBytes)
	cache := hw.NewCacheOp(arena)
	ipi := hw.NewIPI(cfg.NumShires * cfg.HartsPerShire)
	broadcast, err := fabric.NewBroadcastBuffer(arena, 0, cache, ipi)
	if err != nil {
		return nil, fmt.Errorf("runtime: broadcast buffer: %w", err)
	}
	unicast := fabric.NewUnicastSlots(cfg.NumShires*cfg.HartsPerShire, ipi)
	tracker := shire.NewTracker(cfg.NumShires)
	dedup := fabric.NewDedup(uint(cfg.NumShires*cfg.HartsPerShire*1024), 0.001)

	r := &Runtime{
		cfg:         cfg,
		log:         log,
		arena:       arena,
		cache:       cache,
		ipi:         ipi,
		broadcast:   broadcast,
		unicast:     unicast,
		dedup:       dedup,
		tracker:     tracker,
		masterLog:   log.With("master"),
		workerLog:   log.With("worker"),
		traceCollector: trace.NewCollector(1 << 16),
		pmu:         trace.NewPMUStub(),
		syscallGate: hw.NewGate(),
		loader:      loader,
		stopHart:    make(chan struct{}),
	}

	r.esr = hw.NewBroadcastESR(r.onShireGoReleased)

	r.buildSlots(cfg)
	r.buildShires(cfg)
	r.registerSyscalls()

	r.server = hostapi.NewServer(r.launcher, r.masterLog, r.workerLog, r.log.With("hostapi"))
	r.listener = hostapi.NewListener(r.server, r.log.With("mailbox"))
	r.httpSrv = &http.Server{Addr: cfg.ListenAddr, Handler: r.listener}

	r.shutdown = logx.NewGracefulShutdown(10*time.Second, r.log.With("shutdown"))
	return r, nil
}

func (r *Runtime) buildSlots(cfg config.Config) {
	r.slotFCCs = make([]*hw.FCC, cfg.MaxSimultaneousKernels)
	r.syncWorkers = make([]*syncthread.Worker, cfg.MaxSimultaneousKernels)

	r.launcher = launch.New(cfg.MaxSimultaneousKernels, r.tracker, r.broadcast, r.cache, r.onKernelPublished, r.onKernelResult, r.masterLog)

	for id := 0; id < cfg.MaxSimultaneousKernels; id++ {
		slot, _ := r.launcher.Slot(id)
		fcc := hw.NewFCC()
		r.slotFCCs[id] = fcc
		r.syncWorkers[id] = syncthread.New(id, fcc, r.cache, r.esr, slot, r.log.With("syncthread"))
	}
}

func (r *Runtime) buildShires(cfg config.Config) {
	r.shireBuffers = make([]*fabric.WorkerBuffers, cfg.NumShires)
	r.dispatches = make([]*worker.ShireDispatch, cfg.NumShires)
	r.harts = make([]*worker.Hart, cfg.NumShires*cfg.HartsPerShire)

	for shireIdx := 0; shireIdx < cfg.NumShires; shireIdx++ {
		toMaster := fabric.NewWorkerBuffers(cfg.HartsPerShire)
		r.shireBuffers[shireIdx] = toMaster
		masterHartZero := config.MasterShire * cfg.HartsPerShire
		flb := hw.NewShireFLBs().Barrier(0)
		sd := worker.NewShireDispatch(shireIdx, toMaster, r.ipi, masterHartZero, flb)
		r.dispatches[shireIdx] = sd

		for local := 0; local < cfg.HartsPerShire; local++ {
			global := shireIdx*cfg.HartsPerShire + local
			r.harts[global] = &worker.Hart{
				GlobalID:           global,
				LocalHart:          local,
				Shire:              sd,
				Broadcast:          r.broadcast,
				Unicast:            r.unicast,
				Dedup:              r.dedup,
				Loader:             r.loader,
				Params:             r.resolveParams,
				Trace:              r.traceCollector,
				PMU:                r.pmu,
				Syscall:            r.syscallGate,
				CompletionExpected: completionExpected(cfg.HartsPerShire),
				Log:                r.workerLog,
			}
		}
	}
}

// completionExpected mirrors worker.completionExpected's literal formula
// (expected = minions*2-1); duplicated here because the helper is
// unexported and the wiring needs the same count to size each shire's FLB
// arrivals.
func completionExpected(hartsPerShire int) uint32 {
	return uint32(hartsPerShire - 1)
}

func (r *Runtime) registerSyscalls() {
	r.syscallGate.Register(hw.SyscallConfigurePMCs, func(a1, a2, a3 int64) int64 {
		return r.pmu.Configure(a1, a2)
	})
	r.syscallGate.Register(hw.SyscallSamplePMCs, func(a1, a2, a3 int64) int64 {
		return r.pmu.Sample(a1)
	})
	r.syscallGate.Register(hw.SyscallResetPMCs, func(a1, a2, a3 int64) int64 {
		return r.pmu.Reset()
	})
	r.syscallGate.Register(hw.SyscallCacheOpsEvict, func(a1, a2, a3 int64) int64 {
		r.cache.EvictVA(uint32(a1), uint32(a2), hw.CacheLevel(a3))
		return 0
	})
}

// resolveParams dereferences the KernelParamsPtr surrogate a launch
// published: the slot index itself (internal/launch's design note).
func (r *Runtime) resolveParams(slotID int) []byte {
	slot, err := r.launcher.Slot(slotID)
	if err != nil {
		return nil
	}
	return slot.Params()
}

// onKernelPublished is internal/launch's notify callback: it wakes the
// slot's sync thread. MulticastSend has already blocked until every
// destination shire acked the broadcast, so this hands the sync thread
// both halves of its handshake (the initial WAIT_FCC(0) and every shire's
// WAIT_FCC(1)) as one release rather than modeling a second round trip
// that would observe nothing new.
func (r *Runtime) onKernelPublished(kernelID int) {
	if kernelID < 0 || kernelID >= len(r.slotFCCs) {
		return
	}
	slot, err := r.launcher.Slot(kernelID)
	if err != nil {
		return
	}
	fcc := r.slotFCCs[kernelID]
	fcc.Send(0)
	for i := uint32(0); i < slot.NumShires(); i++ {
		fcc.Send(1)
	}
}

// onShireGoReleased observes a sync thread's ESR write. This re-host's
// worker dispatch loop already begins executing a kernel body as soon as
// it observes the acked KERNEL_LAUNCH broadcast, so the GO pulse has
// nothing further to gate; it is still logged so the handshake stays
// observable end to end.
func (r *Runtime) onShireGoReleased(shireIdx uint32, esr hw.ESRRegion) {
	r.log.Debug("shire GO pulse observed", logx.Uint32("shire", shireIdx), logx.Uint32("reg", esr.RegID))
}

// onKernelResult is internal/launch's OnResult callback: it pushes the
// asynchronous KERNEL_RESULT notification to the host mailbox, if one is
// connected.
func (r *Runtime) onKernelResult(kernelID int, status launch.ResultStatus) {
	msg := hostapi.KernelResult(kernelID, status == launch.ResultError)
	if err := r.listener.PushResult(msg); err != nil {
		r.log.Debug("kernel result not delivered, no mailbox connection", logx.Err(err))
	}
}

// Run starts every hart's dispatch loop, every sync-thread helper, the
// worker->master completion drain, and the host mailbox listener. It
// blocks until ctx is canceled, then runs a bounded graceful shutdown.
func (r *Runtime) Run(ctx context.Context) error {
	for _, h := range r.harts {
		h := h
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			h.Run(r.stopHart)
		}()
	}
	for _, sw := range r.syncWorkers {
		sw := sw
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			sw.Run()
		}()
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.drainCompletions()
	}()

	r.shutdown.Register(func() error {
		close(r.stopHart)
		for _, sw := range r.syncWorkers {
			sw.Stop()
		}
		return nil
	})
	r.shutdown.Register(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return r.httpSrv.Shutdown(shutdownCtx)
	})

	errCh := make(chan error, 1)
	go func() {
		r.log.Info("host mailbox listening", logx.String("addr", r.cfg.ListenAddr))
		if err := r.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			r.log.Error("host mailbox listener failed", logx.Err(err))
		}
	}

	return r.shutdown.Shutdown(context.Background())
}

// drainCompletions scans every shire's worker->master buffer for
// MsgShireComplete/MsgException reports and feeds them to the launcher,
// standing in for the master hart's own poll loop (spec.md §4.F's
// completion path, master side).
func (r *Runtime) drainCompletions() {
	for {
		select {
		case <-r.stopHart:
			return
		default:
		}
		for shireIdx, toMaster := range r.shireBuffers {
			kernelID, ok := r.tracker.GetKernelID(shireIdx)
			if !ok {
				continue
			}
			toMaster.Poll(func(hart int, msg fabric.Message) {
				switch msg.ID {
				case fabric.MsgShireComplete:
					r.launcher.OnShireComplete(int(kernelID), shireIdx, msg.Data[0] == fabric.ShireStatusError)
				case fabric.MsgException:
					// Fast-path notice only (spec.md §4.F): the excepting
					// hart still joins the shire's completion barrier
					// separately, so the shire's real MsgShireComplete
					// (carrying ShireStatusError) is what drives
					// OnShireComplete once the shire's completion barrier
					// releases (CompletionExpected arrivals).
					r.log.Debug("shire exception fast path observed", logx.Int("shire", shireIdx), logx.Int("hart", hart))
				}
			})
		}
		time.Sleep(time.Millisecond)
	}
}
