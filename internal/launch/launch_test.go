package launch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgeline-silicon/manycore-rt/internal/fabric"
	"github.com/ridgeline-silicon/manycore-rt/internal/hw"
	"github.com/ridgeline-silicon/manycore-rt/internal/shire"
	"github.com/ridgeline-silicon/manycore-rt/internal/testutil"
)

func newFixture(t *testing.T, numShires, numHarts int) (*Launcher, *shire.Tracker, *fabric.BroadcastBuffer, *hw.IPI) {
	t.Helper()
	arena := hw.NewArena(64)
	cache := hw.NewCacheOp(arena)
	ipi := hw.NewIPI(numHarts)
	bb, err := fabric.NewBroadcastBuffer(arena, 0, cache, ipi)
	require.NoError(t, err)
	tracker := shire.NewTracker(numShires)

	var results []struct {
		id     int
		status ResultStatus
	}
	l := New(4, tracker, bb, cache, nil, func(kernelID int, status ResultStatus) {
		results = append(results, struct {
			id     int
			status ResultStatus
		}{kernelID, status})
	}, nil)
	_ = results
	return l, tracker, bb, ipi
}

func ackAll(bb *fabric.BroadcastBuffer, ipi *hw.IPI, shires []int, done chan struct{}) {
	for _, s := range shires {
		<-ipi.Wait(s)
		bb.Ack()
	}
	<-done
}

func TestLaunchKernelHappyPath(t *testing.T) {
	l, tracker, bb, ipi := newFixture(t, 3, 64)

	params := testutil.KernelParamsFixture(16, 0xA5)
	mask := testutil.ShireMask(0, 1, 2)

	done := make(chan struct{})
	go func() {
		err := l.LaunchKernel(0, mask, 0x1000, params)
		require.NoError(t, err)
		close(done)
	}()
	ackAll(bb, ipi, []int{0, 1, 2}, done)

	slot, err := l.Slot(0)
	require.NoError(t, err)
	assert.Equal(t, Running, slot.State())
	assert.Equal(t, shire.Running, tracker.State(0))
	assert.Equal(t, params, slot.Params())

	for _, s := range []int{0, 1, 2} {
		l.OnShireComplete(0, s, false)
	}
	assert.Equal(t, Unused, slot.State())
	assert.Equal(t, shire.Idle, tracker.State(0))
}

func TestLaunchKernelBusySlotRejected(t *testing.T) {
	l, _, bb, ipi := newFixture(t, 3, 64)

	done := make(chan struct{})
	go func() {
		require.NoError(t, l.LaunchKernel(1, 0b1, 0x1000, nil))
		close(done)
	}()
	ackAll(bb, ipi, []int{0}, done)

	err := l.LaunchKernel(1, 0b10, 0x2000, nil)
	assert.ErrorIs(t, err, ErrSlotBusy)
}

func TestLaunchKernelShireConflictRejected(t *testing.T) {
	l, _, bb, ipi := newFixture(t, 3, 64)

	done := make(chan struct{})
	go func() {
		require.NoError(t, l.LaunchKernel(0, 0b11, 0x1000, nil))
		close(done)
	}()
	ackAll(bb, ipi, []int{0, 1}, done)

	err := l.LaunchKernel(1, 0b10, 0x2000, nil)
	assert.ErrorIs(t, err, ErrShiresNotReady)
}

func TestAbortUnusedSlotIsNoop(t *testing.T) {
	l, _, _, _ := newFixture(t, 3, 64)
	assert.NoError(t, l.AbortKernel(2))
}

func TestOnShireCompleteMergesAnyErrorToKernelError(t *testing.T) {
	l, tracker, bb, ipi := newFixture(t, 2, 64)
	var gotStatus ResultStatus
	l.onResult = func(kernelID int, status ResultStatus) { gotStatus = status }

	done := make(chan struct{})
	go func() {
		require.NoError(t, l.LaunchKernel(0, 0b11, 0x1000, nil))
		close(done)
	}()
	ackAll(bb, ipi, []int{0, 1}, done)

	l.OnShireComplete(0, 0, false)
	l.OnShireComplete(0, 1, true)

	assert.Equal(t, ResultError, gotStatus)
	assert.Equal(t, shire.Idle, tracker.State(0))
	assert.Equal(t, shire.Idle, tracker.State(1))
}
