package vm

import (
	"sort"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/mem"
)

// Backing is the read side of a file-backed mapping. It lets vm
// populate mmap'ed pages without importing the vfs package (which
// would create an import cycle, since vfs never needs to know about
// address spaces). proc constructs one from an open file's Pread.
type Backing interface {
	Pread(buf []byte, off int64) (int, defs.Err_t)
}

// Region is one entry of a process's memory-region list (spec.md
// §"Task & process": "a dynamic list of memory regions (mmap areas)
// kept sorted by base virtual address"). Invariant: regions in a
// Regions list are pairwise disjoint, sorted by Base, and Base/Len
// are both page-aligned (enforced by AS_t.Mmap before it inserts).
type Region struct {
	Base  uintptr
	Len   uintptr
	Prot  uint32 // PROT_* bits
	Flags uint32 // MAP_* bits
	File  Backing
	Off   int64

	// Frames holds the physical frame backing each page of the region,
	// in address order, so Munmap/Mprotect can free or remap them
	// without re-walking the page table.
	Frames []mem.Pa_t
}

func (r *Region) end() uintptr { return r.Base + r.Len }

// Vmregion_t is the sorted, disjoint list of a process's memory
// regions, generalizing biscuit's Vmregion_t (biscuit/src/vm/vmregion.go
// equivalent kept in as.go) down to spec.md's eagerly-populated model:
// there is no Vminfo_t/mtype_t fault machinery here because mmap
// installs real PTEs immediately instead of waiting for a page fault.
type Vmregion_t struct {
	regions []*Region
}

// Regions returns the region list in base-address order. The caller
// must not mutate the slice's backing array.
func (v *Vmregion_t) Regions() []*Region { return v.regions }

// Lookup returns the region containing va, if any.
func (v *Vmregion_t) Lookup(va uintptr) (*Region, bool) {
	i := sort.Search(len(v.regions), func(i int) bool { return v.regions[i].end() > va })
	if i < len(v.regions) && v.regions[i].Base <= va {
		return v.regions[i], true
	}
	return nil, false
}

// Overlaps reports whether [base, base+len) intersects any existing
// region.
func (v *Vmregion_t) Overlaps(base, length uintptr) bool {
	end := base + length
	for _, r := range v.regions {
		if base < r.end() && r.Base < end {
			return true
		}
	}
	return false
}

// insert adds r to the list, keeping it sorted by Base. The caller
// must already have verified r does not overlap an existing region.
func (v *Vmregion_t) insert(r *Region) {
	i := sort.Search(len(v.regions), func(i int) bool { return v.regions[i].Base >= r.Base })
	v.regions = append(v.regions, nil)
	copy(v.regions[i+1:], v.regions[i:])
	v.regions[i] = r
}

// remove deletes the region at index i.
func (v *Vmregion_t) remove(i int) {
	v.regions = append(v.regions[:i], v.regions[i+1:]...)
}

// UnusedRange finds the lowest address at or above hint (rounded up
// to a page, and at least MMAPBASE) such that [addr, addr+length) is
// free, scanning the sorted region list the way biscuit's
// Unusedva_inner walks Vmregion.empty.
func (v *Vmregion_t) UnusedRange(hint uintptr, length uintptr) uintptr {
	addr := roundup(hint)
	if addr < MMAPBASE {
		addr = MMAPBASE
	}
	for {
		if !v.Overlaps(addr, length) {
			return addr
		}
		r, ok := v.Lookup(addr)
		if !ok {
			// addr fell inside a gap but Overlaps said yes: some
			// region starting above addr must intersect; advance
			// past the nearest one.
			next := v.nextAfter(addr)
			addr = next
			continue
		}
		addr = r.end()
	}
}

func (v *Vmregion_t) nextAfter(va uintptr) uintptr {
	best := va
	for _, r := range v.regions {
		if r.Base >= va {
			if best == va || r.Base < best {
				best = r.end()
			}
		}
	}
	if best == va {
		return va + mem.PGSIZE
	}
	return best
}
