// Package wire defines the on-the-wire types the host mailbox exchanges:
// the fixed 20-byte message header (spec.md §6) and the variable-length
// KERNEL_LAUNCH/DEVICE_API_VERSION payloads, the latter framed with
// google.golang.org/protobuf's wire-format helpers the way cmd/inos-node
// frames its Packet type, since a generated .proto stub wasn't part of the
// retrieval pack for this contract.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size of every host<->device message header,
// spec.md §6: {message_id:u16, reserved:u16, host_timestamp:u64,
// device_timestamp:u64}, packed without padding (2+2+8+8 bytes).
const HeaderSize = 20

// Header is the 20-byte envelope every host mailbox message starts with.
// It is simple enough, and wire-exact enough, that hand-packed
// encoding/binary is the right tool (spec.md pins the exact byte layout);
// the variable-length payloads below are where this package reaches for
// protobuf's wire-format runtime instead.
type Header struct {
	MessageID       uint16
	Reserved        uint16
	HostTimestamp   uint64
	DeviceTimestamp uint64
}

func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(buf[0:], h.MessageID)
	binary.LittleEndian.PutUint16(buf[2:], h.Reserved)
	binary.LittleEndian.PutUint64(buf[4:], h.HostTimestamp)
	binary.LittleEndian.PutUint64(buf[12:], h.DeviceTimestamp)
	return buf, nil
}

func (h *Header) UnmarshalBinary(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("wire: header needs %d bytes, got %d", HeaderSize, len(buf))
	}
	h.MessageID = binary.LittleEndian.Uint16(buf[0:])
	h.Reserved = binary.LittleEndian.Uint16(buf[2:])
	h.HostTimestamp = binary.LittleEndian.Uint64(buf[4:])
	h.DeviceTimestamp = binary.LittleEndian.Uint64(buf[12:])
	return nil
}

// Host mailbox message ids, spec.md §6's ID table.
const (
	ReflectTest uint16 = iota + 1
	DeviceFWVersion
	DeviceAPIVersion
	KernelLaunch
	KernelAbort
	KernelState
	SetMasterLogLevel
	SetWorkerLogLevel
	KernelResult
)
