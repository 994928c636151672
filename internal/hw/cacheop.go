package hw

// CacheLevel names a point in the cache hierarchy a cache-management
// operation targets, mirroring the firmware's L1/L2/L3/DRAM destinations.
type CacheLevel int

const (
	L1 CacheLevel = iota
	L2
	L3
	Mem
)

// CacheOp issues and fences cache-management operations against an Arena.
// On real hardware EvictVA pushes a line to the named level and PrefetchVA
// pulls one in; here both are no-ops over the shared arena except for the
// Arena.Publish/Acquire fence they perform, but they are kept as explicit,
// named calls — never folded into a bare field read or write — so call
// sites read exactly like the firmware's cache-op discipline and so a
// reader can tell where a "point of coherence" is being crossed.
type CacheOp struct {
	arena *Arena
}

func NewCacheOp(arena *Arena) *CacheOp { return &CacheOp{arena: arena} }

// EvictVA pushes the region starting at offset, of the given length, to the
// named cache level (or to L3, "the point of coherence", in the common
// case), then fences so other harts observe the write.
func (c *CacheOp) EvictVA(offset, length uint32, to CacheLevel) {
	_ = offset
	_ = length
	_ = to
	c.arena.Publish()
}

// PrefetchVA requests the region be pulled into the named level ahead of
// use. No-op beyond the acquire fence in this re-host.
func (c *CacheOp) PrefetchVA(offset, length uint32, at CacheLevel) {
	_ = offset
	_ = length
	_ = at
	c.arena.Acquire()
}

// WaitCacheOps blocks until all previously issued evictions/prefetches for
// this hart have completed. In this re-host the fence inside EvictVA/
// PrefetchVA is synchronous, so WaitCacheOps is a second fence for
// documentation parity with the firmware's explicit WAIT_CACHEOPS barrier.
func (c *CacheOp) WaitCacheOps() {
	c.arena.Acquire()
}
