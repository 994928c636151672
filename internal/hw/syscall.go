package hw

// Selector values for the single M-mode syscall gate. A hart calls Syscall
// with a selector and up to three arguments (a1-a3 on the real ISA) and
// gets a single int64 back (a0), matching the firmware's one-trap-does-
// everything convention (device_common syscall.c).
const (
	SyscallCacheOpsEvict    = iota // a1=offset a2=length a3=level
	SyscallCacheOpsWait
	SyscallIPITrigger              // a1=hartMask a2=base
	SyscallBroadcast                // a1=shireMask a2=esr word
	SyscallGetMTime
	SyscallConfigurePMCs            // a1=counter id a2=event
	SyscallSamplePMCs                // a1=counter id
	SyscallResetPMCs
	SyscallLogWrite                  // a1=level a2=component id a3=message id
	SyscallMessageSend                // a1=dest hart a2=message ptr
	SyscallReturnFromKernel           // a1=exit code
)

// Handler implements one syscall selector. Implementations live in the
// package that owns the resource being manipulated (hw itself for cache
// ops/IPI/broadcast, internal/trace for PMU, internal/fabric for message
// send); Gate just dispatches.
type Handler func(a1, a2, a3 int64) int64

// Gate is the single M-mode trap: it holds one Handler per selector and
// returns -1 for anything unregistered, matching the firmware's "unknown
// selector" behavior.
type Gate struct {
	handlers map[int]Handler
}

func NewGate() *Gate { return &Gate{handlers: make(map[int]Handler)} }

// Register installs the handler for a selector. Called once per selector at
// Runtime construction; never mutated afterward.
func (g *Gate) Register(selector int, h Handler) { g.handlers[selector] = h }

// Syscall is the trap entry point: selector in a0, args a1-a3, one int64
// return in a0.
func (g *Gate) Syscall(selector int, a1, a2, a3 int64) int64 {
	h, ok := g.handlers[selector]
	if !ok {
		return -1
	}
	return h(a1, a2, a3)
}
