// Package trace implements the external-collaborator contracts spec.md
// names only as "interfaces the dispatcher pokes" (§1 scope note): the
// trace ring buffer behind TRACE_UPDATE_CONTROL/TRACE_BUFFER_RESET/
// TRACE_BUFFER_EVICT, and the PMU counter bank behind CONFIGURE_PMCS/
// SAMPLE_PMCS/RESET_PMCS. Neither reproduces the original's full
// PMU-derived trace record format; only the contract surface the dispatch
// loop depends on is implemented, per spec.md §1's explicit scope boundary.
package trace

import (
	"sync"

	"github.com/ridgeline-silicon/manycore-rt/internal/fabric"
)

// Collector is the worker-side trace sink: a fixed-capacity ring buffer
// plus the single control word TRACE_UPDATE_CONTROL writes, grounded on
// original_source's Tracing/src/ring_buffer.c head/tail/capacity model
// (re-grounded here on fabric.RingBuffer's Go port of the same shape).
type Collector struct {
	mu      sync.Mutex
	ring    *fabric.RingBuffer
	control uint64
}

func NewCollector(capacity uint32) *Collector {
	return &Collector{ring: fabric.NewRingBuffer(capacity)}
}

// Forward dispatches one of the three trace message ids to the collector,
// matching spec.md §4.F's "Forwarded to the external trace collaborator".
func (c *Collector) Forward(msg fabric.Message) error {
	switch msg.ID {
	case fabric.MsgTraceUpdateControl:
		c.UpdateControl(msg.Data[0])
		return nil
	case fabric.MsgTraceBufferReset:
		c.ResetBuffer()
		return nil
	case fabric.MsgTraceBufferEvict:
		_, err := c.Evict()
		return err
	default:
		return nil
	}
}

func (c *Collector) UpdateControl(word uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.control = word
}

func (c *Collector) Control() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.control
}

// Record appends one trace event to the ring, dropped silently if the
// buffer is full (tracing must never back-pressure a kernel).
func (c *Collector) Record(payload []byte) {
	_ = c.ring.Enqueue(payload)
}

// ResetBuffer drops all pending records without reallocating.
func (c *Collector) ResetBuffer() { c.ring.Reset() }

// Evict drains every pending record for delivery to the host-side trace
// sink (out of scope per spec.md §1; here it just empties the ring).
func (c *Collector) Evict() ([][]byte, error) {
	var out [][]byte
	for {
		rec, err := c.ring.Dequeue()
		if err == fabric.ErrRingEmpty {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// PMUStub is a minimal in-memory counter bank satisfying the
// CONFIGURE_PMCS/SAMPLE_PMCS/RESET_PMCS syscall contract without modeling
// real hardware performance counters (explicitly out of scope, spec.md §1).
type PMUStub struct {
	mu       sync.Mutex
	events   map[int64]int64
	counters map[int64]int64
}

func NewPMUStub() *PMUStub {
	return &PMUStub{events: make(map[int64]int64), counters: make(map[int64]int64)}
}

// Configure assigns event to counterID, returning 0 on success.
func (p *PMUStub) Configure(counterID, event int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[counterID] = event
	p.counters[counterID] = 0
	return 0
}

// Sample returns the current (simulated) count for counterID, or -1 if
// unconfigured.
func (p *PMUStub) Sample(counterID int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.counters[counterID]
	if !ok {
		return -1
	}
	return v
}

// Reset zeroes every configured counter.
func (p *PMUStub) Reset() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.counters {
		p.counters[id] = 0
	}
	return 0
}

// Bump increments counterID, used by test kernels that want to exercise a
// configured counter deterministically.
func (p *PMUStub) Bump(counterID, delta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.counters[counterID]; ok {
		p.counters[counterID] += delta
	}
}
