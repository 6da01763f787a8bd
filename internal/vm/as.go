package vm

import (
	"sort"
	"sync"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/mem"
	"github.com/xnscdev/os0-kernel-sub000/internal/ustr"
	"github.com/xnscdev/os0-kernel-sub000/internal/util"
)

// AS_t is one process's address space: its page directory plus the
// memory-region bookkeeping mmap/munmap/mprotect operate on. It plays
// the role of biscuit's Vm_t, generalized to spec.md's process model
// (spec.md §"Task & process": "an owning page directory" per task,
// "a dynamic list of memory regions... per process").
type AS_t struct {
	mu sync.Mutex

	Pmem *mem.Physmem_t
	PD   mem.Pa_t

	Regions Vmregion_t
}

// NewAS allocates a fresh page directory and returns an empty address
// space over it.
func NewAS(pmem *mem.Physmem_t) (*AS_t, error) {
	pd, err := NewPageDir(pmem)
	if err != nil {
		return nil, err
	}
	return &AS_t{Pmem: pmem, PD: pd}, nil
}

// Fork deep-copies as into a new address space via ClonePD (spec.md:
// "Clone is used by fork"). The returned AS_t's Regions list is a
// value copy of as's, since regions hold no backing-frame ownership
// beyond what ClonePD already duplicated.
func (as *AS_t) Fork() (*AS_t, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	pd, err := ClonePD(as.Pmem, as.PD)
	if err != nil {
		return nil, err
	}
	child := &AS_t{Pmem: as.Pmem, PD: pd}
	child.Regions.regions = make([]*Region, len(as.Regions.regions))
	for i, r := range as.Regions.regions {
		cp := *r
		cp.Frames = append([]mem.Pa_t{}, r.Frames...)
		child.Regions.regions[i] = &cp
	}
	return child, nil
}

// Free releases every frame this address space owns exclusively: its
// mapped regions' frames, its user page tables, and finally its own
// page-directory frame.
func (as *AS_t) Free() {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, r := range as.Regions.regions {
		for i, pa := range r.Frames {
			Unmap(as.Pmem, as.PD, r.Base+uintptr(i)*mem.PGSIZE)
			as.Pmem.FreeFrame(pa)
		}
	}
	as.Regions.regions = nil
	FreePD(as.Pmem, as.PD)
	as.Pmem.FreeFrame(as.PD)
}

func roundup(n uintptr) uintptr {
	return (n + uintptr(mem.PGOFFSET)) &^ uintptr(mem.PGOFFSET)
}

func pteFlags(prot uint32) uint32 {
	f := uint32(PTE_U)
	if prot&defs.PROT_WRITE != 0 {
		f |= PTE_W
	}
	return f
}

// Mmap installs a new memory region, eagerly populating its backing
// pages (spec.md's non-goal list excludes demand paging, so there is
// no later page-fault path to fill these in: anonymous pages are
// zeroed by AllocFrame and file-backed pages are read in full here).
// MAP_SHARED is accepted syntactically but rejected with ENOTSUP, per
// spec.md §4.6: "MAP_SHARED is specified but need not be implemented."
func (as *AS_t) Mmap(hint uintptr, length uintptr, prot, flags uint32, file Backing, off int64) (uintptr, defs.Err_t) {
	if length == 0 {
		return 0, -defs.EINVAL
	}
	as.mu.Lock()
	defer as.mu.Unlock()

	if flags&defs.MAP_SHARED != 0 {
		return 0, -defs.ENOTSUP
	}
	length = roundup(length)

	var base uintptr
	if flags&defs.MAP_FIXED != 0 {
		base = hint &^ uintptr(mem.PGOFFSET)
		if as.Regions.Overlaps(base, length) {
			return 0, -defs.EINVAL
		}
	} else {
		h := hint
		if h == 0 {
			h = MMAPBASE
		}
		base = as.Regions.UnusedRange(h, length)
	}

	frames := make([]mem.Pa_t, 0, length/mem.PGSIZE)
	abort := func() (uintptr, defs.Err_t) {
		for _, pa := range frames {
			as.Pmem.FreeFrame(pa)
		}
		return 0, -defs.ENOMEM
	}
	for pgoff := uintptr(0); pgoff < length; pgoff += mem.PGSIZE {
		pa, err := as.Pmem.AllocFrame()
		if err != nil {
			return abort()
		}
		frames = append(frames, pa)
		if file != nil {
			buf := as.Pmem.Frame(pa)[:]
			if _, rerr := file.Pread(buf, off+int64(pgoff)); rerr != 0 {
				return abort()
			}
		}
		if prot != defs.PROT_NONE {
			if merr := Map(as.Pmem, as.PD, pa, base+pgoff, pteFlags(prot)); merr != nil {
				return abort()
			}
		}
	}
	as.Regions.insert(&Region{Base: base, Len: length, Prot: prot, Flags: flags, File: file, Off: off, Frames: frames})
	return base, 0
}

// splitRegion splits r at va (r.Base < va < r.end()) into two
// regions sharing r's Frames backing array, touching no PTE and no
// physical frame.
func splitRegion(r *Region, va uintptr) (*Region, *Region) {
	n := int((va - r.Base) / mem.PGSIZE)
	left := &Region{Base: r.Base, Len: va - r.Base, Prot: r.Prot, Flags: r.Flags, File: r.File, Off: r.Off, Frames: r.Frames[:n]}
	roff := r.Off
	if r.File != nil {
		roff = r.Off + int64(va-r.Base)
	}
	right := &Region{Base: va, Len: r.end() - va, Prot: r.Prot, Flags: r.Flags, File: r.File, Off: roff, Frames: r.Frames[n:]}
	return left, right
}

// Munmap clears every PTE and frees every frame in [addr, addr+length),
// splitting any region that only partially overlaps the range (spec.md
// §4.6: "munmap splits regions when the range partially covers an
// existing region."). Unmapping a range with no mapping is a no-op,
// matching POSIX.
func (as *AS_t) Munmap(addr, length uintptr) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	addr &^= uintptr(mem.PGOFFSET)
	length = roundup(length)
	end := addr + length

	var kept []*Region
	for _, r := range as.Regions.regions {
		if end <= r.Base || addr >= r.end() {
			kept = append(kept, r)
			continue
		}
		cur := r
		if cur.Base < addr {
			left, right := splitRegion(cur, addr)
			kept = append(kept, left)
			cur = right
		}
		if cur.end() > end {
			mid, right := splitRegion(cur, end)
			kept = append(kept, right)
			cur = mid
		}
		for i, va := 0, cur.Base; va < cur.end(); i, va = i+1, va+mem.PGSIZE {
			Unmap(as.Pmem, as.PD, va)
			as.Pmem.FreeFrame(cur.Frames[i])
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Base < kept[j].Base })
	as.Regions.regions = kept
	return 0
}

// Mprotect remaps [addr, addr+length) with the requested PTE flags
// (spec.md §4.6: "Protection changes via mprotect remap the range
// with the requested PTE flags."). The range must be fully covered by
// existing regions with no gap, matching POSIX mprotect's ENOMEM.
func (as *AS_t) Mprotect(addr, length uintptr, prot uint32) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	addr &^= uintptr(mem.PGOFFSET)
	length = roundup(length)
	end := addr + length
	if !as.Regions.fullyCovered(addr, end) {
		return -defs.ENOMEM
	}

	var next []*Region
	for _, r := range as.Regions.regions {
		if end <= r.Base || addr >= r.end() {
			next = append(next, r)
			continue
		}
		cur := r
		if cur.Base < addr {
			left, right := splitRegion(cur, addr)
			next = append(next, left)
			cur = right
		}
		if cur.end() > end {
			mid, right := splitRegion(cur, end)
			next = append(next, right)
			cur = mid
		}
		cur.Prot = prot
		for i, va := 0, cur.Base; va < cur.end(); i, va = i+1, va+mem.PGSIZE {
			if prot == defs.PROT_NONE {
				Unmap(as.Pmem, as.PD, va)
			} else if merr := Map(as.Pmem, as.PD, cur.Frames[i], va, pteFlags(prot)); merr != nil {
				return -defs.ENOMEM
			}
		}
		next = append(next, cur)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Base < next[j].Base })
	as.Regions.regions = next
	return 0
}

func (v *Vmregion_t) fullyCovered(addr, end uintptr) bool {
	cur := addr
	for cur < end {
		r, ok := v.Lookup(cur)
		if !ok || r.Base > cur {
			return false
		}
		cur = r.end()
	}
	return true
}

// Userdmap8 returns the slice of the mapped page at va, starting at
// va's in-page offset, validating that va falls within a region whose
// Prot allows the access. Unlike biscuit's Userdmap8_inner this never
// takes a page fault: every byte a region covers was already mapped
// by Mmap, so an absent PTE here means the region's bookkeeping and
// its page table have diverged, a kernel bug.
func (as *AS_t) Userdmap8(va uintptr, forWrite bool) ([]byte, defs.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()
	r, ok := as.Regions.Lookup(va)
	if !ok {
		return nil, -defs.EFAULT
	}
	if forWrite && r.Prot&defs.PROT_WRITE == 0 {
		return nil, -defs.EFAULT
	}
	pa := PhysOf(as.Pmem, as.PD, va)
	if pa == 0 {
		return nil, -defs.EFAULT
	}
	voff := va & uintptr(mem.PGOFFSET)
	pg := as.Pmem.Frame(pa)
	return pg[voff:], 0
}

// Userreadn reads n (<= 8) little-endian bytes from user address va.
func (as *AS_t) Userreadn(va uintptr, n int) (uint64, defs.Err_t) {
	if n > 8 {
		panic("vm: large n")
	}
	var ret uint64
	for i := 0; i < n; {
		src, err := as.Userdmap8(va+uintptr(i), false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		ret |= util.Readn(src, l, 0) << (8 * uint(i))
		i += l
	}
	return ret, 0
}

// Userwriten writes n (<= 8) little-endian bytes of val to va.
func (as *AS_t) Userwriten(va uintptr, n int, val uint64) defs.Err_t {
	if n > 8 {
		panic("vm: large n")
	}
	for i := 0; i < n; {
		dst, err := as.Userdmap8(va+uintptr(i), true)
		if err != 0 {
			return err
		}
		l := n - i
		if len(dst) < l {
			l = len(dst)
		}
		util.Writen(dst, l, 0, val>>(8*uint(i)))
		i += l
	}
	return 0
}

// Userstr copies a NUL-terminated string from user memory at uva, up
// to lenmax bytes (spec.md's execve/open/stat path all read a path
// string this way).
func (as *AS_t) Userstr(uva uintptr, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	s := ustr.MkUstr()
	i := uintptr(0)
	for {
		chunk, err := as.Userdmap8(uva+i, false)
		if err != 0 {
			return nil, err
		}
		for j, c := range chunk {
			if c == 0 {
				return append(s, chunk[:j]...), 0
			}
		}
		s = append(s, chunk...)
		i += uintptr(len(chunk))
		if len(s) >= lenmax {
			return nil, -defs.ENAMETOOLONG
		}
	}
}

// K2user copies src into user memory starting at uva.
func (as *AS_t) K2user(src []byte, uva uintptr) defs.Err_t {
	cnt := uintptr(0)
	for int(cnt) != len(src) {
		dst, err := as.Userdmap8(uva+cnt, true)
		if err != 0 {
			return err
		}
		n := copy(dst, src[cnt:])
		cnt += uintptr(n)
	}
	return 0
}

// User2k copies len(dst) bytes from user memory at uva into dst.
func (as *AS_t) User2k(dst []byte, uva uintptr) defs.Err_t {
	cnt := uintptr(0)
	for int(cnt) != len(dst) {
		src, err := as.Userdmap8(uva+cnt, false)
		if err != 0 {
			return err
		}
		n := copy(dst[cnt:], src)
		cnt += uintptr(n)
	}
	return 0
}
