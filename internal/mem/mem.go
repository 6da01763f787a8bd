// Package mem implements the physical-frame allocator (C1):
// spec.md §3 "Physical memory" and §4.1. It owns every page-aligned
// physical frame above the kernel's static identity-mapped region
// and hands them out via a bump pointer backed by a LIFO free stack.
//
// Grounded on biscuit/src/mem/mem.go for the refcounted-ownership
// idiom (kept as the shape of Physmem_t's API) but rewritten for
// spec.md's single-CPU, bump+freestack, 32-bit model: biscuit's
// mem.go manages a 64-bit PML4/SMP direct map, which spec.md's
// non-goals explicitly exclude (no SMP, no long mode).
package mem

import (
	"fmt"
	"sync"

	"github.com/google/pprof/profile"

	"github.com/xnscdev/os0-kernel-sub000/internal/oommsg"
)

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

// PGSIZE is the size of one physical frame / virtual page in bytes.
const PGSIZE = 1 << PGSHIFT

// PGOFFSET masks the in-page offset bits of an address.
const PGOFFSET = PGSIZE - 1

// PGMASK masks the frame-number bits of an address.
const PGMASK = ^uintptr(PGOFFSET)

// MinRAM is the smallest amount of RAM (in bytes) this core will
// boot with, per spec.md §3: "Minimum usable RAM is 512 KiB; below
// this the kernel refuses to boot."
const MinRAM = 512 * 1024

// Pa_t is a physical address. It is page-aligned whenever it names
// a frame.
type Pa_t uintptr

// Bytepg_t is one physical page viewed as bytes.
type Bytepg_t [PGSIZE]uint8

var ErrOutOfMemory = fmt.Errorf("mem: out of memory")
var ErrTooLittleRAM = fmt.Errorf("mem: installed RAM below minimum")

// Physmem_t is the global physical-frame allocator. It simulates
// physical RAM as a Go byte slice (this core runs as an ordinary Go
// process exercising kernel logic, not on bare metal) addressed by
// Pa_t offsets into that slice; AllocFrame/FreeFrame are the only
// primitives spec.md's C1 requires.
type Physmem_t struct {
	mu sync.Mutex

	ram []byte // simulated physical RAM

	reserved Pa_t // low reservation: kernel image + static page tables
	bump     Pa_t // next never-yet-handed-out frame
	free     []Pa_t // LIFO free stack (back of slice = top)

	allocs int64
	frees  int64

	oom oommsg.Notifier
}

// New builds a frame allocator over ramBytes of simulated physical
// memory, reserving the first reserveBytes (rounded up to a page)
// for the kernel image and its static page tables (spec.md §3: "Low
// physical memory holds the kernel image, its statically allocated
// page directory, and 16 statically allocated page tables").
func New(ramBytes, reserveBytes int) (*Physmem_t, error) {
	if ramBytes < MinRAM {
		return nil, ErrTooLittleRAM
	}
	reserve := Pa_t((reserveBytes + PGOFFSET) &^ PGOFFSET)
	p := &Physmem_t{
		ram:      make([]byte, ramBytes),
		reserved: reserve,
		bump:     reserve,
	}
	return p, nil
}

// Subscribe registers ch to be notified when AllocFrame fails.
func (p *Physmem_t) Subscribe(ch chan oommsg.Oommsg_t) {
	p.oom.Subscribe(ch)
}

// AllocFrame returns a page-aligned physical address, preferring a
// previously freed frame over growing the bump pointer (spec.md
// §4.1: "Prefer the free stack; fall back to the bump pointer.").
func (p *Physmem_t) AllocFrame() (Pa_t, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocLocked()
}

func (p *Physmem_t) allocLocked() (Pa_t, error) {
	if n := len(p.free); n > 0 {
		pa := p.free[n-1]
		p.free = p.free[:n-1]
		p.allocs++
		p.zero(pa)
		return pa, nil
	}
	if int(p.bump)+PGSIZE > len(p.ram) {
		p.oom.Notify(1)
		return 0, ErrOutOfMemory
	}
	pa := p.bump
	p.bump += PGSIZE
	p.allocs++
	p.zero(pa)
	return pa, nil
}

func (p *Physmem_t) zero(pa Pa_t) {
	pg := p.ram[pa : pa+PGSIZE]
	for i := range pg {
		pg[i] = 0
	}
}

// FreeFrame pushes paddr (masked down to its page base) onto the
// free stack. Per spec.md §4.1, "Double-free is silent (guarded
// higher up)" — this layer performs no double-free check.
func (p *Physmem_t) FreeFrame(paddr Pa_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pa := paddr &^ PGOFFSET
	p.free = append(p.free, pa)
	p.frees++
}

// Frame returns the byte backing store for the frame at pa, the
// simulator's equivalent of biscuit's Dmap direct-map lookup: every
// physical frame is already host-addressable since "physical RAM"
// here is a Go slice.
func (p *Physmem_t) Frame(pa Pa_t) *Bytepg_t {
	base := pa &^ PGOFFSET
	return (*Bytepg_t)(sliceToArray(p.ram[base : base+PGSIZE]))
}

// Stats reports the lifetime allocation/free counts and the number
// of frames currently free or never-yet-touched, used by
// ProfileSample.
func (p *Physmem_t) Stats() (allocs, frees int64, freeNow int, untouched int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocs, p.frees, len(p.free), (len(p.ram) - int(p.bump)) / PGSIZE
}

// Capacity returns the total number of allocatable frames (free
// stack entries plus never-touched frames above the bump pointer).
func (p *Physmem_t) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free) + (len(p.ram)-int(p.bump))/PGSIZE
}

// ProfileSample returns a minimal pprof profile sample recording the
// current allocation/free counters. Several snapshots can be combined
// with google/pprof/profile.Merge to see frame-churn over time; no
// code in this tree calls it.
func (p *Physmem_t) ProfileSample() *profile.Profile {
	allocs, frees, freeNow, untouched := p.Stats()
	valType := &profile.ValueType{Type: "frames", Unit: "count"}
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{valType},
		PeriodType: valType,
		Period:     1,
	}
	mk := func(name string, v int64) *profile.Sample {
		fn := &profile.Function{ID: uint64(len(prof.Function) + 1), Name: name}
		prof.Function = append(prof.Function, fn)
		loc := &profile.Location{ID: uint64(len(prof.Location) + 1), Line: []profile.Line{{Function: fn}}}
		prof.Location = append(prof.Location, loc)
		return &profile.Sample{Location: []*profile.Location{loc}, Value: []int64{v}}
	}
	prof.Sample = append(prof.Sample,
		mk("alloc_frame", allocs),
		mk("free_frame", frees),
		mk("free_now", int64(freeNow)),
		mk("untouched", int64(untouched)),
	)
	return prof
}
