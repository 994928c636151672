package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ridgeline-silicon/manycore-rt/internal/fabric"
	"github.com/ridgeline-silicon/manycore-rt/internal/hw"
	"github.com/ridgeline-silicon/manycore-rt/internal/logx"
	"github.com/ridgeline-silicon/manycore-rt/internal/trace"
)

// Per-hart user-mode stack layout, carried from mm_iface.c's stack base
// formula. Inert in this goroutine-based re-host (no real stack to place)
// but kept as a named, computed step because spec.md's dispatch table lists
// "Derive per-hart user stack base" as part of handling KERNEL_LAUNCH.
const (
	KernelUmodeStackBase = uint64(0x80000000)
	KernelUmodeStackSize = uint64(0x4000)
)

func stackBaseForHart(localHart int) uint64 {
	return KernelUmodeStackBase - uint64(localHart)*KernelUmodeStackSize
}

// ShireDispatch owns the state shared by every hart in one worker shire:
// the completion barrier, the any-error flag the last arrival reads, and
// the worker->master buffers the shire's designated hart reports through.
// Grounded on spec.md §4.F's per-shire completion aggregation and on
// hw.FLB's single-winner Join semantics.
type ShireDispatch struct {
	ShireIdx       int
	ToMaster       *fabric.WorkerBuffers
	IPI            *hw.IPI
	MasterHartZero int
	completion     *hw.FLB
	anyError       atomic.Bool
}

// completionExpected is carried verbatim from spec.md §4.F
// ("expected = SOC_MINIONS_PER_SHIRE * 2 - 1"); it is intentionally one
// less than HartsPerShire and is not "fixed" here, per the instruction to
// follow ambiguous source behavior rather than silently correct it.
func completionExpected(minionsPerShire int) uint32 {
	return uint32(minionsPerShire*2 - 1)
}

func NewShireDispatch(shireIdx int, toMaster *fabric.WorkerBuffers, ipi *hw.IPI, masterHartZero int, flb *hw.FLB) *ShireDispatch {
	return &ShireDispatch{ShireIdx: shireIdx, ToMaster: toMaster, IPI: ipi, MasterHartZero: masterHartZero, completion: flb}
}

// reportCompletion joins the shire-local barrier with this hart's outcome;
// the single hart whose arrival completes the barrier sends the shire's
// aggregate completion message to the master.
func (sd *ShireDispatch) reportCompletion(localHart int, errored bool, expected uint32) {
	if errored {
		sd.anyError.Store(true)
	}
	if !sd.completion.Join(expected) {
		return
	}
	status := fabric.ShireStatusOK
	if sd.anyError.Swap(false) {
		status = fabric.ShireStatusError
	}
	msg := fabric.Message{ID: fabric.MsgShireComplete}
	msg.Data[0] = status
	sd.ToMaster.Send(localHart, msg)
	sd.IPI.Trigger(1, sd.MasterHartZero)
}

// reportException sends an exception message immediately, bypassing the
// completion barrier, the fast path spec.md §4.F describes ("Exception
// harts take a fast path that sends an exception message directly without
// waiting for peers"). The shire's normal completion aggregation still
// runs separately via reportCompletion so the launch converges.
func (sd *ShireDispatch) reportException(localHart int) {
	msg := fabric.Message{ID: fabric.MsgException}
	sd.ToMaster.Send(localHart, msg)
	sd.IPI.Trigger(1, sd.MasterHartZero)
}

// ParamsResolver looks up the kernel_params blob a launch published for a
// given slot id (the KernelParamsPtr surrogate, see internal/launch).
type ParamsResolver func(slotID int) []byte

// Hart is one worker hardware thread's dispatch loop.
type Hart struct {
	GlobalID  int
	LocalHart int // hart index within its shire, 0..HartsPerShire-1
	Shire     *ShireDispatch

	Broadcast *fabric.BroadcastBuffer
	Unicast   *fabric.UnicastSlots
	Loader    KernelLoader
	Params    ParamsResolver
	Trace     *trace.Collector
	PMU       *trace.PMUStub
	Syscall   *hw.Gate
	Dedup     *fabric.Dedup

	CompletionExpected uint32
	Log                *logx.Logger

	prevBroadcastNumber uint64
	mu                  sync.Mutex
	running             bool
	cancel              context.CancelFunc
}

// Run polls this hart's inboxes until stop is closed. It never blocks the
// whole loop on a running kernel: kernel bodies execute in their own
// goroutine so KERNEL_ABORT can still be observed and delivered via context
// cancellation while the kernel runs.
func (h *Hart) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		h.pollBroadcast()
		h.pollUnicast()
		runtime.Gosched()
	}
}

func (h *Hart) pollBroadcast() {
	msg, number := h.Broadcast.Receive()
	if number == 0 || number == h.prevBroadcastNumber {
		return
	}
	if h.Dedup != nil && h.Dedup.SeenBefore(h.GlobalID, number) {
		// The sequence-number check above already says this number is new
		// to this hart, so a positive here is a bloom false positive: the
		// cost is this log line, never a dropped message.
		h.Log.Debug("dedup filter flagged a broadcast number the sequence check already cleared")
	}
	h.prevBroadcastNumber = number

	mask := msg.Data[fabric.DestShireMaskWord]
	targeted := mask == 0 || mask&(uint64(1)<<uint(h.Shire.ShireIdx)) != 0
	if !targeted {
		return
	}

	// Exactly one hart per targeted shire acks (spec.md §3: "each
	// receiving shire, exactly one hart per shire, atomically
	// increments"); MulticastSend counts one ack per destination shire,
	// not per hart, so every other hart in the shire must stay silent.
	if h.LocalHart == 0 {
		h.Broadcast.Ack()
	}
	h.handle(msg)
}

func (h *Hart) pollUnicast() {
	msg, ok := h.Unicast.Receive(h.GlobalID)
	if !ok {
		return
	}
	h.handle(msg)
}

func (h *Hart) handle(msg fabric.Message) {
	switch msg.ID {
	case fabric.MsgKernelLaunch:
		h.handleLaunch(msg)
	case fabric.MsgKernelAbort:
		h.handleAbort()
	case fabric.MsgSetLogLevel:
		h.Log.SetLevel(logx.ParseLevel(int(msg.Data[0])))
	case fabric.MsgTraceUpdateControl, fabric.MsgTraceBufferReset, fabric.MsgTraceBufferEvict:
		if h.Trace != nil {
			if err := h.Trace.Forward(msg); err != nil {
				h.Log.Error("trace forward failed", logx.Err(err))
			}
		}
	case fabric.MsgPMCConfigure:
		if h.Syscall != nil {
			h.Syscall.Syscall(hw.SyscallConfigurePMCs, int64(msg.Data[0]), int64(msg.Data[1]), 0)
		}
	default:
		h.Log.Error("unknown message id, dropped", logx.Uint64("id", msg.ID))
	}
}

// handleLaunch derives the per-hart stack base, loads the kernel body at
// compute_pc, and jumps into it in a dedicated goroutine so this hart's
// poll loop keeps running (and can deliver KERNEL_ABORT) while the kernel
// executes.
func (h *Hart) handleLaunch(msg fabric.Message) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		h.Log.Error("kernel launch while already running, dropped")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.running = true
	h.cancel = cancel
	h.mu.Unlock()

	_ = stackBaseForHart(h.LocalHart)

	computePC := msg.Data[0]
	slotID := int(msg.Data[1])

	go h.runKernel(ctx, computePC, slotID)
}

func (h *Hart) runKernel(ctx context.Context, computePC uint64, slotID int) {
	var params []byte
	if h.Params != nil {
		params = h.Params(slotID)
	}

	errored := false
	fn, err := h.Loader.Load(computePC)
	if err != nil {
		h.Log.Error("kernel load failed", logx.Err(err))
		errored = true
		h.Shire.reportException(h.LocalHart)
	} else if _, err := fn(ctx, params); err != nil {
		errored = true
		if ctx.Err() == context.Canceled {
			h.Log.Info("kernel aborted", logx.Int("hart", h.LocalHart))
		} else {
			h.Log.Error("kernel exception", logx.Err(err))
			h.Shire.reportException(h.LocalHart)
		}
	}

	h.mu.Lock()
	h.running = false
	h.cancel = nil
	h.mu.Unlock()

	h.Shire.reportCompletion(h.LocalHart, errored, h.CompletionExpected)
}

func (h *Hart) handleAbort() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running && h.cancel != nil {
		h.cancel()
	}
}
