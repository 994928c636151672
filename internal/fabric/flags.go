package fabric

import (
	"runtime"
	"sync/atomic"
)

// FlagWord is a per-shire bitmap of pending worker-to-master messages, one
// bit per hart. SetFlag/ClearFlag use a compare-and-swap loop because Go's
// sync/atomic has no native AMO-OR/AMO-AND, unlike the firmware's
// amoorg.d/amoandg.d. ClearFlag always computes its mask fresh from the
// hart argument — per spec.md §9's caution, never a shared or stale mask —
// so clearing one hart's bit can never race away another hart's pending
// flag, grounded on shared/src/message.c's set_message_flag/
// clear_message_flag.
type FlagWord struct {
	bits atomic.Uint64
}

// SetFlag raises the bit for hart (AMO-OR with 1<<hart).
func (f *FlagWord) SetFlag(hart int) {
	mask := uint64(1) << uint(hart)
	for {
		old := f.bits.Load()
		if f.bits.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// ClearFlag lowers the bit for hart (AMO-AND with ^(1<<hart)).
func (f *FlagWord) ClearFlag(hart int) {
	mask := ^(uint64(1) << uint(hart))
	for {
		old := f.bits.Load()
		if f.bits.CompareAndSwap(old, old&mask) {
			return
		}
	}
}

// IsSet reports whether hart's bit is currently raised.
func (f *FlagWord) IsSet(hart int) bool {
	return f.bits.Load()&(uint64(1)<<uint(hart)) != 0
}

// Snapshot returns the full bitmap, for a master-side poll loop that scans
// all harts in one pass.
func (f *FlagWord) Snapshot() uint64 { return f.bits.Load() }

// WorkerBuffers is the worker-to-master counterpart of UnicastSlots: one
// message buffer per hart plus the shared FlagWord the master polls.
type WorkerBuffers struct {
	flags   FlagWord
	buffers []Message
}

func NewWorkerBuffers(numHarts int) *WorkerBuffers {
	return &WorkerBuffers{buffers: make([]Message, numHarts)}
}

// Send publishes msg into hart's buffer and raises its flag bit for the
// master to observe. While hart's previous message is still unread (its
// flag bit is set), Send spins instead of overwriting it.
func (w *WorkerBuffers) Send(hart int, msg Message) {
	for w.flags.IsSet(hart) {
		runtime.Gosched()
	}
	w.buffers[hart] = msg
	w.flags.SetFlag(hart)
}

// Poll drains every hart whose flag bit is set, invoking fn for each and
// clearing its flag once fn returns.
func (w *WorkerBuffers) Poll(fn func(hart int, msg Message)) {
	snap := w.flags.Snapshot()
	for hart := 0; hart < len(w.buffers); hart++ {
		if snap&(uint64(1)<<uint(hart)) == 0 {
			continue
		}
		fn(hart, w.buffers[hart])
		w.flags.ClearFlag(hart)
	}
}
