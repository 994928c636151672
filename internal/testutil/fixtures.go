// Package testutil builds deterministic fixtures for table tests across the
// runtime, adapted from the teacher's kernel/threads/testutil/
// mock_sab_builder.go (a byte-arena fixture builder that writes packed
// fields directly into a []byte). Here it builds KernelParams and Message
// fixtures instead of SAB module-registry entries.
package testutil

import (
	"encoding/binary"

	"github.com/ridgeline-silicon/manycore-rt/internal/fabric"
)

// KernelParamsFixture builds a deterministic kernel_params byte blob of the
// requested size, stamped with a recognizable pattern so tests can assert a
// worker saw the exact bytes the launcher published.
func KernelParamsFixture(size int, seed uint32) []byte {
	buf := make([]byte, size)
	for i := 0; i+4 <= size; i += 4 {
		binary.LittleEndian.PutUint32(buf[i:], seed+uint32(i/4))
	}
	return buf
}

// MessageFixture builds a Message with the given id and data words, padding
// unset words with zero, the way a real worker payload would arrive.
func MessageFixture(id uint64, data ...uint64) fabric.Message {
	var m fabric.Message
	m.ID = id
	for i := 0; i < len(data) && i < fabric.MessageWords; i++ {
		m.Data[i] = data[i]
	}
	return m
}

// ShireMask builds a bitmap from a list of shire indices, for tests that
// want to express "shires 0, 2, 5" without hand-computing a bitmask.
func ShireMask(shires ...int) uint64 {
	var mask uint64
	for _, s := range shires {
		mask |= 1 << uint(s)
	}
	return mask
}
