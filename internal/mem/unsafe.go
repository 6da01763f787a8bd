package mem

import "unsafe"

// sliceToArray reinterprets a PGSIZE-length byte slice as a pointer
// to a [PGSIZE]uint8 array, the same cast biscuit's Pg2bytes/Dmap
// perform against its direct map.
func sliceToArray(b []uint8) unsafe.Pointer {
	if len(b) < PGSIZE {
		panic("mem: short page slice")
	}
	return unsafe.Pointer(&b[0])
}
