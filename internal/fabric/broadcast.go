package fabric

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/ridgeline-silicon/manycore-rt/internal/hw"
)

// MasterShire is the reserved shire index that hosts the master core,
// carried from the firmware's MASTER_SHIRE macro.
const MasterShire = 32

// BroadcastBuffer is the master-to-worker broadcast mailbox: one message
// slot, a monotonically increasing sequence number, and an ACK counter that
// every receiving shire increments once it has consumed the slot.
//
// MulticastSend's ordering is grounded verbatim on the firmware's
// MM_To_CM_Iface_Multicast_Send: acquire a local spinlock, reserve the next
// sequence number, write the message and stamp its number, publish it to
// the point of coherence, reset the ACK counter to zero, raise the IPI for
// every destination shire (plus the master-shire self-IPI branch when the
// master shire is itself a destination), then spin until the ACK counter
// reaches the destination shire count.
type slotState struct {
	msg    Message
	number uint64
}

type BroadcastBuffer struct {
	sendMu     sync.Mutex // local_spinlock: serializes senders end-to-end
	lastNumber uint64
	slot       atomic.Pointer[slotState]
	ackCount   *hw.AtomicWord64
	cache      *hw.CacheOp
	ipi        *hw.IPI
}

func NewBroadcastBuffer(arena *hw.Arena, ackOffset uint32, cache *hw.CacheOp, ipi *hw.IPI) (*BroadcastBuffer, error) {
	ack, err := hw.NewAtomicWord64(arena, ackOffset)
	if err != nil {
		return nil, err
	}
	return &BroadcastBuffer{ackCount: ack, cache: cache, ipi: ipi}, nil
}

// MulticastSend delivers msg to every shire set in destShireMask and blocks
// until all of them have ACKed it.
func (b *BroadcastBuffer) MulticastSend(destShireMask uint64, msg Message) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	next := atomic.AddUint64(&b.lastNumber, 1)
	b.slot.Store(&slotState{msg: msg, number: next})
	b.cache.EvictVA(0, 0, hw.L3)
	b.cache.WaitCacheOps()

	// Reset must precede the IPI: a receiver that wakes from the IPI and
	// immediately ACKs must never observe a stale non-zero count.
	b.ackCount.Store(0)

	workerMask := destShireMask & 0xFFFFFFFF
	b.ipi.Trigger(workerMask, 0)
	if destShireMask&(1<<MasterShire) != 0 {
		b.ipi.Trigger(1, MasterShire) // master shire's own self-IPI branch
	}

	shireCount := uint64(bits.OnesCount64(destShireMask))
	for b.ackCount.Load() != shireCount {
		// spin, matching the firmware's fenced busy-wait
	}
}

// Receive returns the current slot contents and its sequence number, for a
// worker's poll loop to compare against the last number it observed.
func (b *BroadcastBuffer) Receive() (Message, uint64) {
	b.cache.WaitCacheOps()
	s := b.slot.Load()
	if s == nil {
		return Message{}, 0
	}
	return s.msg, s.number
}

// Ack increments the ACK counter once for a receiving shire.
func (b *BroadcastBuffer) Ack() { b.ackCount.Add(1) }
