package fabric

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgeline-silicon/manycore-rt/internal/hw"
)

func newBroadcastFixture(t *testing.T, numHarts int) (*BroadcastBuffer, *hw.IPI) {
	t.Helper()
	arena := hw.NewArena(64)
	cache := hw.NewCacheOp(arena)
	ipi := hw.NewIPI(numHarts)
	bb, err := NewBroadcastBuffer(arena, 0, cache, ipi)
	require.NoError(t, err)
	return bb, ipi
}

func TestMulticastSendResetsAckBeforeWaitingAndUnblocksOnAcks(t *testing.T) {
	bb, ipi := newBroadcastFixture(t, 64)
	destMask := uint64(0b101) // shires 0 and 2

	done := make(chan struct{})
	go func() {
		bb.MulticastSend(destMask, Message{ID: MsgKernelLaunch})
		close(done)
	}()

	// Each destination shire's "hart" acks once it observes its IPI.
	for _, shire := range []int{0, 2} {
		<-ipi.Wait(shire)
		bb.Ack()
	}

	<-done
	got, num := bb.Receive()
	assert.Equal(t, MsgKernelLaunch, got.ID)
	assert.EqualValues(t, 1, num)
}

func TestMulticastSendTriggersMasterShireSelfIPIWhenIncluded(t *testing.T) {
	bb, ipi := newBroadcastFixture(t, MasterShire+1)
	destMask := uint64(1) << MasterShire

	done := make(chan struct{})
	go func() {
		bb.MulticastSend(destMask, Message{ID: MsgKernelAbort})
		close(done)
	}()

	<-ipi.Wait(MasterShire)
	bb.Ack()
	<-done
}

func TestUnicastSendReceiveRoundTrip(t *testing.T) {
	ipi := hw.NewIPI(4)
	u := NewUnicastSlots(4, ipi)
	u.Send(1, Message{ID: MsgSetLogLevel, Data: [MessageWords]uint64{3}})

	msg, ok := u.Receive(1)
	require.True(t, ok)
	assert.Equal(t, MsgSetLogLevel, msg.ID)
	assert.EqualValues(t, 3, msg.Data[0])

	_, ok = u.Receive(1)
	assert.False(t, ok, "slot should be empty after drain")
}

func TestFlagWordClearIsPerHartAndNeverClearsOtherBits(t *testing.T) {
	var f FlagWord
	f.SetFlag(1)
	f.SetFlag(5)
	f.ClearFlag(1)
	assert.False(t, f.IsSet(1))
	assert.True(t, f.IsSet(5))
}

func TestWorkerBuffersPollDrainsAllSetHarts(t *testing.T) {
	wb := NewWorkerBuffers(8)
	wb.Send(2, Message{ID: MsgPMCConfigure})
	wb.Send(6, Message{ID: MsgTraceBufferReset})

	seen := map[int]uint64{}
	var mu sync.Mutex
	wb.Poll(func(hart int, msg Message) {
		mu.Lock()
		seen[hart] = msg.ID
		mu.Unlock()
	})

	assert.Equal(t, map[int]uint64{2: MsgPMCConfigure, 6: MsgTraceBufferReset}, seen)
	assert.EqualValues(t, 0, wb.flags.Snapshot())
}

func TestDedupFlagsRepeatNumberOnSameHart(t *testing.T) {
	d := NewDedup(1000, 0.001)
	assert.False(t, d.SeenBefore(3, 10))
	assert.True(t, d.SeenBefore(3, 10))
	assert.False(t, d.SeenBefore(4, 10), "different hart, same number is not a repeat")
}

func TestRingBufferEnqueueDequeueRoundTrip(t *testing.T) {
	r := NewRingBuffer(4)
	require.NoError(t, r.Enqueue([]byte("hello")))
	got, err := r.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, err = r.Dequeue()
	assert.ErrorIs(t, err, ErrRingEmpty)
}

func TestRingBufferFullWhenWrapsToHead(t *testing.T) {
	r := NewRingBuffer(2)
	require.NoError(t, r.Enqueue([]byte("a")))
	err := r.Enqueue([]byte("b"))
	assert.ErrorIs(t, err, ErrRingFull)
}
