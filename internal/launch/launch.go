// Package launch implements the kernel launcher (spec.md §4.D): slot table,
// LaunchKernel precondition checks and publish-then-broadcast sequence,
// AbortKernel, and the completion path that merges per-shire results into
// one kernel-level outcome. Grounded on the teacher's
// kernel/threads/supervisor/credits.go (fixed-capacity slot table, manual
// field mutation behind a mutex, no dynamic growth) and, for the exact
// ordering, on original_source's kernel.c launch_kernel.
package launch

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/ridgeline-silicon/manycore-rt/internal/fabric"
	"github.com/ridgeline-silicon/manycore-rt/internal/hw"
	"github.com/ridgeline-silicon/manycore-rt/internal/logx"
	"github.com/ridgeline-silicon/manycore-rt/internal/shire"
)

// SlotState mirrors spec.md §3's kernel-slot state machine.
type SlotState uint8

const (
	Unused SlotState = iota
	Running
	Error
	Complete
)

func (s SlotState) String() string {
	switch s {
	case Unused:
		return "unused"
	case Running:
		return "running"
	case Error:
		return "error"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// KernelInfo is the entry point plus the pointer to the shared parameter
// block, published to workers as part of the slot record. In this re-host
// there is no real shared address space to take a pointer into, so
// KernelParamsPtr is the slot's own index: a worker resolves it through
// Launcher.Slot(id).Params() (internal/runtime's resolveParams), the
// equivalent of dereferencing through the coherence plane.
type KernelInfo struct {
	ComputePC       uint64
	KernelParamsPtr uint64
}

// Slot is one entry in the fixed kernel-slot table (spec.md §3).
type Slot struct {
	mu            sync.RWMutex
	state         SlotState
	shireMask     uint64
	info          KernelInfo
	kernelParams  []byte
	numShires     uint32
	anyShireError bool
}

func (s *Slot) State() SlotState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Slot) ShireMask() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shireMask
}

func (s *Slot) Info() KernelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

func (s *Slot) NumShires() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numShires
}

func (s *Slot) Params() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kernelParams
}

var (
	ErrSlotBusy         = fmt.Errorf("launch: slot busy")
	ErrShiresNotReady   = fmt.Errorf("launch: requested shires not ready")
	ErrInvalidShireMask = fmt.Errorf("launch: shire mask is zero or has reserved bits set")
	ErrUnknownSlot      = fmt.Errorf("launch: unknown kernel slot")
)

// validShireMaskBits covers shires 0..32 (32 worker shires plus the master
// shire, spec.md §3: "Shire 32 is the designated master shire").
const validShireMaskBits = (uint64(1) << 33) - 1

// ResultStatus is the outcome reported to the host on KERNEL_RESULT.
type ResultStatus int

const (
	ResultOK ResultStatus = iota
	ResultError
)

// OnResult is invoked once a kernel slot reaches Complete, with the merged
// status for the async KERNEL_RESULT message (spec.md §6/§7).
type OnResult func(kernelID int, status ResultStatus)

// Launcher owns the kernel slot table and drives launch/abort/completion
// against the shire tracker and the broadcast fabric.
type Launcher struct {
	slots     []Slot
	tracker   *shire.Tracker
	broadcast *fabric.BroadcastBuffer
	cache     *hw.CacheOp
	notify    func(kernelID int) // wakes the sync-thread helper for this slot
	onResult  OnResult
	log       *logx.Logger
}

func New(numSlots int, tracker *shire.Tracker, broadcast *fabric.BroadcastBuffer, cache *hw.CacheOp, notify func(kernelID int), onResult OnResult, log *logx.Logger) *Launcher {
	if log == nil {
		log = logx.Default("launch")
	}
	return &Launcher{
		slots:     make([]Slot, numSlots),
		tracker:   tracker,
		broadcast: broadcast,
		cache:     cache,
		notify:    notify,
		onResult:  onResult,
		log:       log,
	}
}

// Slot returns the slot record for kernelID, for read-only inspection (the
// KERNEL_STATE query, §6).
func (l *Launcher) Slot(kernelID int) (*Slot, error) {
	if kernelID < 0 || kernelID >= len(l.slots) {
		return nil, ErrUnknownSlot
	}
	return &l.slots[kernelID], nil
}

// LaunchKernel validates and executes a launch request (spec.md §4.D).
// Preconditions are checked in order; on failure no state is touched.
func (l *Launcher) LaunchKernel(kernelID int, shireMask uint64, computePC uint64, params []byte) error {
	if kernelID < 0 || kernelID >= len(l.slots) {
		return ErrUnknownSlot
	}
	if shireMask == 0 || shireMask&^validShireMaskBits != 0 {
		return ErrInvalidShireMask
	}

	slot := &l.slots[kernelID]
	slot.mu.Lock()
	if slot.state != Unused {
		slot.mu.Unlock()
		return ErrSlotBusy
	}
	slot.mu.Unlock()

	if !l.tracker.AllShiresReady(shireMask) {
		return ErrShiresNotReady
	}

	// Success path: copy params, fix up the pointer, fence, publish.
	slot.mu.Lock()
	slot.kernelParams = append([]byte(nil), params...)
	slot.info = KernelInfo{ComputePC: computePC, KernelParamsPtr: uint64(kernelID)}
	slot.numShires = uint32(bits.OnesCount64(shireMask))
	slot.shireMask = shireMask
	slot.anyShireError = false
	slot.mu.Unlock()

	l.cache.EvictVA(0, uint32(len(params)), hw.L3)
	l.cache.WaitCacheOps()

	msg := fabric.Message{ID: fabric.MsgKernelLaunch}
	msg.Data[0] = computePC
	msg.Data[1] = uint64(kernelID)
	msg.Data[2] = 0
	msg.Data[fabric.DestShireMaskWord] = shireMask
	l.broadcast.MulticastSend(shireMask, msg)

	if l.notify != nil {
		l.notify(kernelID)
	}

	slot.mu.Lock()
	slot.state = Running
	slot.mu.Unlock()

	for shireIdx := 0; shireIdx < 64; shireIdx++ {
		if shireMask&(uint64(1)<<uint(shireIdx)) == 0 {
			continue
		}
		if err := l.tracker.UpdateState(shireIdx, shire.Running); err != nil {
			l.log.Error("shire transition to running rejected", logx.Int("shire", shireIdx), logx.Err(err))
		}
		l.tracker.SetKernelID(shireIdx, uint32(kernelID))
	}

	l.log.Info("kernel launched", logx.Int("kernel_id", kernelID), logx.Uint64("shire_mask", shireMask))
	return nil
}

// AbortKernel broadcasts KERNEL_ABORT to the slot's shires. The completion
// path (OnShireComplete) observes the resulting per-shire returns and
// eventually reports the kernel result, matching spec.md §4.D. Aborting a
// slot that is already Unused is a documented no-op (spec.md §8).
func (l *Launcher) AbortKernel(kernelID int) error {
	slot, err := l.Slot(kernelID)
	if err != nil {
		return err
	}
	slot.mu.RLock()
	state, mask := slot.state, slot.shireMask
	slot.mu.RUnlock()
	if state != Running {
		return nil
	}
	abortMsg := fabric.Message{ID: fabric.MsgKernelAbort}
	abortMsg.Data[fabric.DestShireMaskWord] = mask
	l.broadcast.MulticastSend(mask, abortMsg)
	l.log.Info("kernel abort broadcast", logx.Int("kernel_id", kernelID))
	return nil
}

// OnShireComplete is driven by worker->master completion/exception
// messages: it updates the shire's state and, once every shire in the
// slot's mask has quiesced, moves the slot to Complete, reports the merged
// result, and resets the slot and its shires back to their idle states.
func (l *Launcher) OnShireComplete(kernelID int, shireIdx int, errored bool) {
	slot, err := l.Slot(kernelID)
	if err != nil {
		l.log.Error("completion for unknown slot", logx.Int("kernel_id", kernelID))
		return
	}

	next := shire.Complete
	if errored {
		next = shire.Error
	}
	if err := l.tracker.UpdateState(shireIdx, next); err != nil {
		l.log.Error("shire completion transition rejected", logx.Int("shire", shireIdx), logx.Err(err))
		return
	}

	slot.mu.Lock()
	mask := slot.shireMask
	if errored {
		slot.anyShireError = true
	}
	slot.mu.Unlock()

	done, anyErr := l.tracker.AllShiresComplete(mask)
	if !done {
		return
	}

	slot.mu.Lock()
	slot.state = Complete
	anyErr = anyErr || slot.anyShireError
	slot.mu.Unlock()

	status := ResultOK
	if anyErr {
		status = ResultError
	}
	if l.onResult != nil {
		l.onResult(kernelID, status)
	}

	for shireBit := 0; shireBit < 64; shireBit++ {
		if mask&(uint64(1)<<uint(shireBit)) == 0 {
			continue
		}
		if err := l.tracker.UpdateState(shireBit, shire.Idle); err != nil {
			l.log.Error("shire reset to idle rejected", logx.Int("shire", shireBit), logx.Err(err))
		}
	}

	slot.mu.Lock()
	slot.state = Unused
	slot.shireMask = 0
	slot.kernelParams = nil
	slot.anyShireError = false
	slot.mu.Unlock()

	l.log.Info("kernel complete", logx.Int("kernel_id", kernelID), logx.Any("status", status))
}
