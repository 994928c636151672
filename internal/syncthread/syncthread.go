// Package syncthread implements the per-kernel-slot sync-thread helper
// (spec.md §4.E): one long-lived goroutine per slot that gates the
// barrier-synchronized "GO" release until every selected shire has reported
// ready. Grounded verbatim on original_source's kernel.c kernel_sync_thread
// state machine (WAIT_FCC(0) -> re-read slot -> WAIT_FCC(1) x num_shires ->
// broadcast GO on both thread parities -> loop).
package syncthread

import (
	"github.com/ridgeline-silicon/manycore-rt/internal/hw"
	"github.com/ridgeline-silicon/manycore-rt/internal/launch"
	"github.com/ridgeline-silicon/manycore-rt/internal/logx"
)

// SlotReader is the minimal view of a launch.Slot a sync thread needs: its
// current shire mask and shire count, re-read fresh after every wakeup.
type SlotReader interface {
	ShireMask() uint64
	NumShires() uint32
}

var _ SlotReader = (*launch.Slot)(nil)

// Worker is one kernel slot's dedicated sync-thread helper hart.
type Worker struct {
	kernelID int
	fcc      *hw.FCC
	cache    *hw.CacheOp
	esr      *hw.BroadcastESR
	slot     SlotReader
	log      *logx.Logger
	stop     chan struct{}
}

func New(kernelID int, fcc *hw.FCC, cache *hw.CacheOp, esr *hw.BroadcastESR, slot SlotReader, log *logx.Logger) *Worker {
	if log == nil {
		log = logx.Default("syncthread")
	}
	return &Worker{kernelID: kernelID, fcc: fcc, cache: cache, esr: esr, slot: slot, log: log, stop: make(chan struct{})}
}

// Run executes the sync thread's loop. It never returns under normal
// operation; callers start it in its own goroutine once, at Runtime
// construction, and never restart it per-kernel (spec.md: "no dynamic
// allocation after boot", DESIGN NOTES: "prefer an explicit state machine").
func (w *Worker) Run() {
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		w.fcc.Wait(0) // launcher wakes this hart after publishing the slot

		w.cache.EvictVA(0, 0, hw.L3) // invalidate local copy, re-read fresh
		w.cache.WaitCacheOps()

		n := w.slot.NumShires()
		for i := uint32(0); i < n; i++ {
			w.fcc.Wait(1) // one "ready" FCC per selected shire
		}

		mask := w.slot.ShireMask()
		w.esr.Write(mask, hw.ESRRegion{RegID: hw.ESRShireFCC1})
		w.esr.Write(mask, hw.ESRRegion{RegID: hw.ESRShireFCC3})

		w.log.Debug("GO released", logx.Int("kernel_id", w.kernelID), logx.Uint64("shire_mask", mask))
	}
}

// Stop ends the loop after the current WAIT_FCC(0) is satisfied. The real
// firmware never stops this loop except at chip reset; this exists only so
// tests can terminate a Worker's goroutine deterministically.
func (w *Worker) Stop() {
	close(w.stop)
	w.fcc.Send(0) // unblock a pending Wait(0) so the loop observes stop
}
