package vm

import "github.com/xnscdev/os0-kernel-sub000/internal/defs"

// Userbuf_t is a cursor over [uva, uva+len) of a live address space,
// letting a single Fdops_i.Read/Write implementation copy to or from
// real user memory a byte at a time without knowing the caller's
// page layout. It satisfies fdops.Userio_i structurally (same
// Uioread/Uiowrite/Remain/Totalsz shape) without importing fdops,
// mirroring biscuit/src/vm/userbuf.go's Userbuf_t split out of its
// Vm_t-embedding original into an AS_t-driven one here.
type Userbuf_t struct {
	as  *AS_t
	uva uintptr
	len int
	off int
}

// NewUserbuf builds a cursor over [uva, uva+ln) of as.
func NewUserbuf(as *AS_t, uva uintptr, ln int) *Userbuf_t {
	if ln < 0 {
		panic("vm: negative user buffer length")
	}
	return &Userbuf_t{as: as, uva: uva, len: ln}
}

// Remain reports the unconsumed byte count.
func (ub *Userbuf_t) Remain() int { return ub.len - ub.off }

// Totalsz reports the buffer's total length.
func (ub *Userbuf_t) Totalsz() int { return ub.len }

// Uioread copies from user memory into dst.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) { return ub.tx(dst, false) }

// Uiowrite copies src into user memory.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) { return ub.tx(src, true) }

func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		va := ub.uva + uintptr(ub.off)
		page, err := ub.as.Userdmap8(va, write)
		if err != 0 {
			return ret, err
		}
		if left := ub.len - ub.off; len(page) > left {
			page = page[:left]
		}
		var c int
		if write {
			c = copy(page, buf)
		} else {
			c = copy(buf, page)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
		if c == 0 {
			break
		}
	}
	return ret, 0
}
