package syncthread

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ridgeline-silicon/manycore-rt/internal/hw"
)

type fakeSlot struct {
	mask      uint64
	numShires uint32
}

func (f *fakeSlot) ShireMask() uint64 { return f.mask }
func (f *fakeSlot) NumShires() uint32 { return f.numShires }

func TestWorkerReleasesGoAfterExpectedReadyCount(t *testing.T) {
	arena := hw.NewArena(8)
	cache := hw.NewCacheOp(arena)
	fcc := hw.NewFCC()
	slot := &fakeSlot{mask: 0b101, numShires: 2}

	var mu sync.Mutex
	var released []uint32
	esr := hw.NewBroadcastESR(func(shireID uint32, reg hw.ESRRegion) {
		mu.Lock()
		released = append(released, reg.RegID)
		mu.Unlock()
	})

	w := New(0, fcc, cache, esr, slot, nil)
	go w.Run()
	defer w.Stop()

	fcc.Send(0)
	fcc.Send(1)
	fcc.Send(1)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		// Two shires set in mask, released once per shire per register (two
		// registers: ESRShireFCC1 and ESRShireFCC3).
		return len(released) == 4
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Contains(t, released, uint32(hw.ESRShireFCC1))
	assert.Contains(t, released, uint32(hw.ESRShireFCC3))
	mu.Unlock()
}
