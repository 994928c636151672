// Package fabric implements the message fabric between the master core and
// worker harts: the fixed 64-byte message, the broadcast mailbox with its
// sequence number and ACK counter, per-hart unicast slots, and the
// worker-to-master flag-word/buffer-slot path.
package fabric

// MessageWords is the number of uint64 payload words carried by a Message,
// taken from the firmware's message_t{ id; data[7]; } __attribute__((aligned(64))).
const MessageWords = 7

// Sentinel message ids.
const (
	MessageIDNone      uint64 = 0
	MessageIDException uint64 = 0xBEEF
)

// Message is the wire-exact 64-byte unit exchanged over every broadcast and
// unicast slot: one id word plus seven data words.
type Message struct {
	ID   uint64
	Data [MessageWords]uint64
}

// Empty reports whether this slot currently holds no message, the
// firmware's ID==MessageIDNone sentinel.
func (m Message) Empty() bool { return m.ID == MessageIDNone }

// Message IDs dispatched by the master-to-worker and worker dispatch paths.
// The numeric values are internal to this re-host (no wire compatibility
// with real silicon is required) but are kept stable and distinct to mirror
// the firmware's dispatch table in mm_iface.c / device_api.c.
const (
	MsgKernelLaunch uint64 = iota + 1
	MsgKernelAbort
	MsgSetLogLevel
	MsgTraceUpdateControl
	MsgTraceBufferReset
	MsgTraceBufferEvict
	MsgPMCConfigure
)

// Worker->master message ids (shire completion report and the fast-path
// exception report). MsgException reuses MessageIDException as its wire id
// so a master-side scan can recognize the fast path without inspecting the
// payload, matching the firmware's dedicated exception sentinel.
const (
	MsgShireComplete uint64 = 0x1000 + iota
	MsgException     uint64 = MessageIDException
)

// Per-shire completion status carried in a MsgShireComplete's Data[0].
const (
	ShireStatusOK uint64 = iota
	ShireStatusError
)

// DestShireMaskWord is the Data word a shire-scoped broadcast (KERNEL_LAUNCH,
// KERNEL_ABORT) carries its destination shire mask in, so a receiving hart
// can tell whether its own shire was addressed without consulting anything
// outside the message itself. A zero value is treated as "every shire" by
// readers, so broadcast kinds that predate this convention (or have no
// per-shire scoping of their own) keep working unchanged.
const DestShireMaskWord = MessageWords - 1
