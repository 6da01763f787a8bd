// Package vm implements C2, the paging layer: spec.md §"Virtual
// memory" and §4.2. It owns the two-level x86 page directory/page
// table structure, the five primitives spec.md names (phys_of, map,
// unmap, clone_pd, load), and the TLB bookkeeping that must follow
// any modification of the currently loaded directory.
//
// Grounded on biscuit/src/vm/as.go for the PTE-walk idiom (pmap_walk,
// Page_insert) and on biscuit/src/mem/mem.go's Pg_t for the
// frame-as-array-of-entries view, but cut down to spec.md's simpler
// model: no SMP TLB shootdown, no refcounted physical pages, and no
// copy-on-write page-fault handling (spec.md's non-goals exclude both
// SMP and demand paging/COW fork; clone_pd is specified as an eager
// deep copy, so no fault path is needed to make fork's pages diverge).
package vm

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/xnscdev/os0-kernel-sub000/internal/mem"
)

// PTE/PDE flag bits, matching the i386 page-table entry layout
// spec.md's GLOSSARY describes.
const (
	PTE_P   = 1 << 0 // present
	PTE_W   = 1 << 1 // writable
	PTE_U   = 1 << 2 // user-accessible
	PTE_PWT = 1 << 3
	PTE_PCD = 1 << 4
	PTE_A   = 1 << 5 // accessed
	PTE_D   = 1 << 6 // dirty
	PTE_PS  = 1 << 7 // page size (4 MiB PDE, unused by this core)
	// PTE_COW is a software-only bit (one of the CPU-ignored AVAIL
	// bits in a real PTE) reserved for a future copy-on-write fork;
	// nothing sets it yet since clone_pd always performs an eager
	// copy (see DESIGN.md, "Open Question decisions").
	PTE_COW = 1 << 9

	PTE_ADDR = 0xfffff000
	PTE_FLAGS = 0xfff
)

// NPDENTRIES/NPTENTRIES are the fixed 1024-entry table sizes of
// classic 32-bit two-level paging.
const (
	NPDENTRIES = 1024
	NPTENTRIES = 1024
)

// KERNPDI is the first page-directory index belonging to the shared
// kernel mapping (spec.md: "the top quarter of the virtual range");
// 0xc0000000 >> 22 == 768, i.e. PDEs [768, 1024) are kernel-shared.
const KERNPDI = 0xc0000000 >> 22

// MMAPBASE is where this core starts handing out anonymous mmap
// addresses, chosen so S6 ("mmap... returns addr >= 0xb0000000") holds.
const MMAPBASE = uintptr(0xb0000000)

var ErrNoMem = fmt.Errorf("vm: out of physical memory")

func pdeIndex(va uintptr) uint32 { return uint32(va>>22) & (NPDENTRIES - 1) }
func pteIndex(va uintptr) uint32 { return uint32(va>>12) & (NPTENTRIES - 1) }

func readEntry(pg *mem.Bytepg_t, idx uint32) uint32 {
	off := idx * 4
	return binary.LittleEndian.Uint32(pg[off : off+4])
}

func writeEntry(pg *mem.Bytepg_t, idx uint32, val uint32) {
	off := idx * 4
	binary.LittleEndian.PutUint32(pg[off:off+4], val)
}

// NewPageDir allocates a fresh, all-zero page directory frame.
func NewPageDir(pmem *mem.Physmem_t) (mem.Pa_t, error) {
	pd, err := pmem.AllocFrame()
	if err != nil {
		return 0, ErrNoMem
	}
	return pd, nil
}

// PhysOf walks pd and returns the physical byte address the virtual
// address va maps to, or 0 if no present PTE covers it (spec.md §4.2,
// tested by P1).
func PhysOf(pmem *mem.Physmem_t, pd mem.Pa_t, va uintptr) mem.Pa_t {
	pdpg := pmem.Frame(pd)
	pde := readEntry(pdpg, pdeIndex(va))
	if pde&PTE_P == 0 {
		return 0
	}
	ptpg := pmem.Frame(mem.Pa_t(pde & PTE_ADDR))
	pte := readEntry(ptpg, pteIndex(va))
	if pte&PTE_P == 0 {
		return 0
	}
	return mem.Pa_t(pte&PTE_ADDR) + mem.Pa_t(va&mem.PGOFFSET)
}

// Map installs a PTE translating va to the page-aligned paddr with
// the given flags, allocating a page table frame on demand if the
// covering PDE is absent (spec.md §4.2).
func Map(pmem *mem.Physmem_t, pd mem.Pa_t, paddr mem.Pa_t, va uintptr, flags uint32) error {
	pdpg := pmem.Frame(pd)
	pdi := pdeIndex(va)
	pde := readEntry(pdpg, pdi)
	var ptpa mem.Pa_t
	if pde&PTE_P == 0 {
		npa, err := pmem.AllocFrame()
		if err != nil {
			return ErrNoMem
		}
		ptpa = npa
		writeEntry(pdpg, pdi, uint32(ptpa)|PTE_P|PTE_W|PTE_U)
	} else {
		ptpa = mem.Pa_t(pde & PTE_ADDR)
	}
	ptpg := pmem.Frame(ptpa)
	base := uint32(paddr) &^ uint32(mem.PGOFFSET)
	writeEntry(ptpg, pteIndex(va), base|(flags&PTE_FLAGS)|PTE_P)
	return nil
}

// Unmap clears the PTE for va, if any, and leaves its page table
// frame in place (spec.md §4.2: "Leave the page table in place.").
func Unmap(pmem *mem.Physmem_t, pd mem.Pa_t, va uintptr) {
	pdpg := pmem.Frame(pd)
	pde := readEntry(pdpg, pdeIndex(va))
	if pde&PTE_P == 0 {
		return
	}
	ptpg := pmem.Frame(mem.Pa_t(pde & PTE_ADDR))
	writeEntry(ptpg, pteIndex(va), 0)
}

// ClonePD deep-copies src: every user page table ([0, KERNPDI)) and
// every page it maps is duplicated into freshly allocated frames, and
// every kernel page table ([KERNPDI, NPDENTRIES)) is shared by
// reference (spec.md §"Virtual memory", "clone(pd) produces a deep
// copy..."). On allocation failure, every frame this call has taken
// is freed before returning the error (spec.md §4.2 "Failure").
func ClonePD(pmem *mem.Physmem_t, src mem.Pa_t) (mem.Pa_t, error) {
	dst, err := pmem.AllocFrame()
	if err != nil {
		return 0, ErrNoMem
	}
	taken := []mem.Pa_t{dst}
	rollback := func() {
		for _, pa := range taken {
			pmem.FreeFrame(pa)
		}
	}

	srcpg := pmem.Frame(src)
	dstpg := pmem.Frame(dst)
	for pdi := uint32(0); pdi < NPDENTRIES; pdi++ {
		pde := readEntry(srcpg, pdi)
		if pde&PTE_P == 0 {
			continue
		}
		if pdi >= KERNPDI {
			writeEntry(dstpg, pdi, pde)
			continue
		}

		newpt, err := pmem.AllocFrame()
		if err != nil {
			rollback()
			return 0, ErrNoMem
		}
		taken = append(taken, newpt)

		srcpt := pmem.Frame(mem.Pa_t(pde & PTE_ADDR))
		dstpt := pmem.Frame(newpt)
		for pti := uint32(0); pti < NPTENTRIES; pti++ {
			pte := readEntry(srcpt, pti)
			if pte&PTE_P == 0 {
				continue
			}
			newpg, err := pmem.AllocFrame()
			if err != nil {
				rollback()
				return 0, ErrNoMem
			}
			taken = append(taken, newpg)
			copy(pmem.Frame(newpg)[:], pmem.Frame(mem.Pa_t(pte&PTE_ADDR))[:])
			writeEntry(dstpt, pti, uint32(newpg)|(pte&PTE_FLAGS))
		}
		writeEntry(dstpg, pdi, uint32(newpt)|(pde&PTE_FLAGS))
	}
	return dst, nil
}

// FreePD releases every frame owned exclusively by pd: its user page
// tables and the pages they map. Kernel-shared page tables ([KERNPDI,
// NPDENTRIES)) are left alone, and so is pd's own frame's governance
// decided by the caller (a process's last reference drops the
// directory frame itself too, via an explicit pmem.FreeFrame(pd)).
func FreePD(pmem *mem.Physmem_t, pd mem.Pa_t) {
	pg := pmem.Frame(pd)
	for pdi := uint32(0); pdi < KERNPDI; pdi++ {
		pde := readEntry(pg, pdi)
		if pde&PTE_P == 0 {
			continue
		}
		ptpa := mem.Pa_t(pde & PTE_ADDR)
		pt := pmem.Frame(ptpa)
		for pti := uint32(0); pti < NPTENTRIES; pti++ {
			pte := readEntry(pt, pti)
			if pte&PTE_P == 0 {
				continue
			}
			pmem.FreeFrame(mem.Pa_t(pte & PTE_ADDR))
		}
		pmem.FreeFrame(ptpa)
	}
}

// Cur_t tracks the page directory currently loaded on this core's
// single simulated CPU, and the TLB-discipline invariant spec.md
// requires: "After any modification to cur the caller MUST invoke
// [invalidate or flush_all]; failure to do so is undefined behavior."
// It is a value owned by whatever represents the running machine
// (the scheduler), not a package global, so tests can run independent
// instances without sharing state.
type Cur_t struct {
	mu      sync.Mutex
	pd      mem.Pa_t
	pending bool // a mapping changed in cur since the last invalidate/flush
}

// Load makes pd the current page directory (spec.md §4.2 "load(pd)").
// This is an atomic act per spec.md: "the CPU's CR3-equivalent
// register and the software handle move together."
func (c *Cur_t) Load(pd mem.Pa_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pd = pd
	c.pending = false
}

// Current returns the page directory most recently passed to Load.
func (c *Cur_t) Current() mem.Pa_t {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pd
}

// MarkDirty records that a mapping in the current directory changed,
// for Invalidate/FlushAll to clear and for tests to assert that
// every map/unmap of cur was followed by one of them.
func (c *Cur_t) MarkDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = true
}

// Invalidate invalidates the TLB entry for a single address, if the
// simulated CPU supports selective invalidation (spec.md §"Virtual
// memory": "invalidates a single entry if available").
func (c *Cur_t) Invalidate(va uintptr) {
	_ = va
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = false
}

// FlushAll reloads cur, invalidating every non-global TLB entry
// (spec.md §"Virtual memory": "flush_all() (reloads cur)").
func (c *Cur_t) FlushAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = false
}

// Dirty reports whether cur has been modified since the last
// Invalidate/FlushAll; used by tests to check the TLB-discipline
// invariant is honored by callers.
func (c *Cur_t) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}
