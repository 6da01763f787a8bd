// Package fdops defines the operation vtable an open file installs
// and the user/kernel I/O abstraction that vtable operates over.
// Every concrete file-like object (a pipe end, a devfs device, an
// ext2-backed regular file or directory) implements Fdops_i; the
// process-level open-file table (internal/fd) holds nothing but this
// interface plus the permission bits granted at open time.
//
// Grounded on biscuit/src/fd/fd.go (the Fdops_i shape) and
// biscuit/src/vm/userbuf.go (Userio_i's Uioread/Uiowrite/Remain/
// Totalsz split, here narrowed to the single Fakeubuf_t case this
// core needs — the real Userbuf_t backed by a live address space
// lives in package vm, next to the AS_t it reads from, to avoid an
// import cycle back into fdops).
package fdops

import (
	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/stat"
)

// Userio_i is the read/write side of a syscall buffer: either real
// user memory (vm.Userbuf_t) or a kernel-owned byte slice
// (Fakeubuf_t), so a single Fdops_i.Read/Write implementation works
// for both a user's read(2) and the kernel's own internal use of a
// file (e.g. devfs serving /dev/console to early boot code).
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

// Fdops_i is the per-open-file operation table. Close/Reopen bracket
// dup/fork's shared-underlying-file lifetime (spec.md: "Dup'd
// descriptors share the underlying open file"); Pread's signature
// matches vm.Backing exactly so any Fdops_i can be handed to
// AS_t.Mmap as a file-backing without an adapter.
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(st *stat.Stat_t) defs.Err_t
	Lseek(off int, whence int) (int, defs.Err_t)
	Pread(dst []byte, off int64) (int, defs.Err_t)
	Read(dst Userio_i) (int, defs.Err_t)
	Write(src Userio_i) (int, defs.Err_t)
	Reopen() defs.Err_t
}

// Fakeubuf_t adapts a plain kernel byte slice to Userio_i, for
// internal callers (mkfs-style tooling, devfs boot probes) that need
// to drive an Fdops_i without a real user address space.
type Fakeubuf_t struct {
	buf []uint8
	len int
}

// MkFakeubuf wraps buf for use as a Userio_i.
func MkFakeubuf(buf []uint8) *Fakeubuf_t {
	return &Fakeubuf_t{buf: buf, len: len(buf)}
}

func (fb *Fakeubuf_t) Remain() int  { return len(fb.buf) }
func (fb *Fakeubuf_t) Totalsz() int { return fb.len }

func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	c := copy(dst, fb.buf)
	fb.buf = fb.buf[c:]
	return c, 0
}

func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	c := copy(fb.buf, src)
	fb.buf = fb.buf[c:]
	return c, 0
}
