package fabric

import (
	"runtime"
	"sync"

	"github.com/ridgeline-silicon/manycore-rt/internal/hw"
)

// UnicastSlots is the master-to-worker per-hart mailbox: one Message slot
// per hart, with MessageIDNone marking an empty slot, grounded on
// message_send_master/message_receive_master.
type UnicastSlots struct {
	mu    sync.Mutex
	slots []Message
	ipi   *hw.IPI
}

func NewUnicastSlots(numHarts int, ipi *hw.IPI) *UnicastSlots {
	return &UnicastSlots{slots: make([]Message, numHarts), ipi: ipi}
}

// Send writes msg to hart's slot, spinning first if the slot is still
// occupied (the receiver has not yet drained the previous message), then
// raises an IPI for that hart.
func (u *UnicastSlots) Send(hart int, msg Message) {
	for {
		u.mu.Lock()
		if u.slots[hart].Empty() {
			u.slots[hart] = msg
			u.mu.Unlock()
			break
		}
		u.mu.Unlock()
		runtime.Gosched()
	}
	u.ipi.Trigger(1, hart)
}

// Receive drains hart's slot if occupied, returning ok=false if it was
// empty. Draining resets the slot to MessageIDNone.
func (u *UnicastSlots) Receive(hart int) (msg Message, ok bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.slots[hart].Empty() {
		return Message{}, false
	}
	msg = u.slots[hart]
	u.slots[hart] = Message{}
	return msg, true
}
