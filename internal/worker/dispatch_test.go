package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgeline-silicon/manycore-rt/internal/fabric"
	"github.com/ridgeline-silicon/manycore-rt/internal/hw"
	"github.com/ridgeline-silicon/manycore-rt/internal/logx"
	"github.com/ridgeline-silicon/manycore-rt/internal/testutil"
)

func newHartFixture(t *testing.T, loader KernelLoader) (*Hart, *fabric.WorkerBuffers) {
	t.Helper()
	arena := hw.NewArena(64)
	cache := hw.NewCacheOp(arena)
	ipi := hw.NewIPI(8)
	bb, err := fabric.NewBroadcastBuffer(arena, 0, cache, ipi)
	require.NoError(t, err)
	unicast := fabric.NewUnicastSlots(8, ipi)
	toMaster := fabric.NewWorkerBuffers(4)
	flb := hw.NewShireFLBs().Barrier(0)

	sd := NewShireDispatch(0, toMaster, ipi, 7, flb)
	h := &Hart{
		GlobalID:           0,
		LocalHart:          0,
		Shire:              sd,
		Broadcast:          bb,
		Unicast:            unicast,
		Loader:             loader,
		Params:             func(int) []byte { return []byte("hi") },
		CompletionExpected: 1,
		Log:                logx.Discard(),
	}
	return h, toMaster
}

func anyPending(wb *fabric.WorkerBuffers) (fabric.Message, bool) {
	var got fabric.Message
	found := false
	wb.Poll(func(hart int, msg fabric.Message) {
		got = msg
		found = true
	})
	return got, found
}

func TestHartHandleLaunchRunsKernelAndReportsCompletion(t *testing.T) {
	loader := NewNativeLoader()
	loader.Register(0x1000, EchoKernel)
	h, toMaster := newHartFixture(t, loader)

	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	msg := testutil.MessageFixture(fabric.MsgKernelLaunch, 0x1000, 0)
	h.Unicast.Send(h.GlobalID, msg)

	assert.Eventually(t, func() bool {
		_, ok := anyPending(toMaster)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestHartHandleLaunchExceptionReportsFastPath(t *testing.T) {
	loader := NewNativeLoader()
	loader.Register(0x2000, ExceptionKernel)
	h, toMaster := newHartFixture(t, loader)

	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	msg := fabric.Message{ID: fabric.MsgKernelLaunch}
	msg.Data[0] = 0x2000
	h.Unicast.Send(h.GlobalID, msg)

	assert.Eventually(t, func() bool {
		m, ok := anyPending(toMaster)
		return ok && m.ID == fabric.MsgException
	}, time.Second, 5*time.Millisecond)
}

func TestHartHandleAbortCancelsRunningKernel(t *testing.T) {
	started := make(chan struct{})
	loader := NewNativeLoader()
	loader.Register(0x3000, func(ctx context.Context, _ []byte) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h, toMaster := newHartFixture(t, loader)

	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	msg := fabric.Message{ID: fabric.MsgKernelLaunch}
	msg.Data[0] = 0x3000
	h.Unicast.Send(h.GlobalID, msg)
	<-started

	abort := fabric.Message{ID: fabric.MsgKernelAbort}
	h.Unicast.Send(h.GlobalID, abort)

	assert.Eventually(t, func() bool {
		_, ok := anyPending(toMaster)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestHartUnknownMessageIsDroppedNotFatal(t *testing.T) {
	h, _ := newHartFixture(t, NewNativeLoader())
	h.handle(fabric.Message{ID: 0xDEAD})
}

// TestBroadcastOnlyTargetedShireHandlesAndSingleHartAcks exercises two
// shires of two harts each: a KERNEL_LAUNCH addressed to shire 0 only must
// be handled solely by shire 0's harts, and MulticastSend must see exactly
// one ack (from local hart 0), not one per hart in the shire.
func TestBroadcastOnlyTargetedShireHandlesAndSingleHartAcks(t *testing.T) {
	const hartsPerShire = 4
	arena := hw.NewArena(64)
	cache := hw.NewCacheOp(arena)
	ipi := hw.NewIPI(hartsPerShire * 2)
	bb, err := fabric.NewBroadcastBuffer(arena, 0, cache, ipi)
	require.NoError(t, err)

	loader := NewNativeLoader()
	loader.Register(0x1000, BeefKernel)

	var shireDispatches [2]*ShireDispatch
	var toMasters [2]*fabric.WorkerBuffers
	harts := make([]*Hart, 0, hartsPerShire*2)
	stop := make(chan struct{})
	defer close(stop)

	for shireIdx := 0; shireIdx < 2; shireIdx++ {
		toMaster := fabric.NewWorkerBuffers(hartsPerShire)
		toMasters[shireIdx] = toMaster
		flb := hw.NewShireFLBs().Barrier(0)
		sd := NewShireDispatch(shireIdx, toMaster, ipi, 0, flb)
		shireDispatches[shireIdx] = sd

		for local := 0; local < hartsPerShire; local++ {
			h := &Hart{
				GlobalID:           shireIdx*hartsPerShire + local,
				LocalHart:          local,
				Shire:              sd,
				Broadcast:          bb,
				Unicast:            fabric.NewUnicastSlots(hartsPerShire*2, ipi),
				Loader:             loader,
				Params:             func(int) []byte { return nil },
				CompletionExpected: completionExpected(hartsPerShire / 2),
				Log:                logx.Discard(),
			}
			harts = append(harts, h)
			go h.Run(stop)
		}
	}

	msg := fabric.Message{ID: fabric.MsgKernelLaunch}
	msg.Data[0] = 0x1000
	msg.Data[fabric.DestShireMaskWord] = 0b1 // shire 0 only

	done := make(chan struct{})
	go func() {
		bb.MulticastSend(0b1, msg)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("MulticastSend did not return; ack accounting regressed")
	}

	assert.Eventually(t, func() bool {
		_, ok := anyPending(toMasters[0])
		return ok
	}, time.Second, 5*time.Millisecond, "targeted shire never ran the kernel")

	time.Sleep(20 * time.Millisecond)
	_, ok := anyPending(toMasters[1])
	assert.False(t, ok, "non-targeted shire must not handle a scoped broadcast")
}
