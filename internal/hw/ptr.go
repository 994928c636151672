package hw

import "unsafe"

// wordPtr returns an unsafe.Pointer to the 8-byte-aligned cell at offset
// within data. Bounds and alignment are checked by the caller (Arena.checkWord)
// before this is ever invoked, mirroring the teacher's InMemoryProvider.ptrAt.
func wordPtr(data []byte, offset uint32) unsafe.Pointer {
	return unsafe.Pointer(&data[offset])
}
