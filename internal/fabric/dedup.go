package fabric

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Dedup backs invariant I1 (each numbered broadcast observed exactly once
// per hart) as a belt-and-suspenders check alongside the authoritative
// sequence-number comparison every worker already performs. It is not the
// source of truth for delivery — a false positive here would only cause an
// extra re-check, never a missed message — grounded on the real
// bits-and-blooms/bloom/v3 usage in the teacher's gossip deduplication
// path, preferred over a hand-rolled filter.
type Dedup struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
}

// NewDedup sizes the filter for n expected broadcasts at the given false
// positive rate.
func NewDedup(n uint, falsePositiveRate float64) *Dedup {
	return &Dedup{filter: bloom.NewWithEstimates(n, falsePositiveRate)}
}

// SeenBefore reports whether (hart, number) has been observed before, and
// records it if not.
func (d *Dedup) SeenBefore(hart int, number uint64) bool {
	key := dedupKey(hart, number)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.filter.Test(key) {
		return true
	}
	d.filter.Add(key)
	return false
}

func dedupKey(hart int, number uint64) []byte {
	b := make([]byte, 12)
	for i := 0; i < 4; i++ {
		b[i] = byte(uint32(hart) >> (8 * i))
	}
	for i := 0; i < 8; i++ {
		b[4+i] = byte(number >> (8 * i))
	}
	return b
}
