// Package heap implements C3, the kernel heap: spec.md §"Kernel heap"
// and §4.3. It is a first-fit allocator over a single fixed-size
// arena, indexed by an external array of free holes kept sorted by
// hole size (ties broken by address) — exactly os0-kernel's
// MemHeap/heap_alloc/heap_free, rewritten over a Go byte slice instead
// of raw pointer arithmetic into mapped virtual memory. The index
// itself is sarray.Sorted, the C4 component that os0-kernel's
// libk/array.c plays the same role for.
//
// Grounded on os0-kernel/kernel/heap.c (heap_new/heap_alloc/heap_free)
// for the header/footer bracket encoding and the coalesce-by-
// footer-backpointer algorithm.
package heap

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/xnscdev/os0-kernel-sub000/internal/mem"
	"github.com/xnscdev/os0-kernel-sub000/internal/sarray"
)

// Off is a byte offset into a Heap_t's arena. Off(0) never names a
// valid block (the arena's first HeaderSize bytes can never be
// returned to a caller, since every payload pointer is biased by
// HeaderSize), so it doubles as a null value.
type Off uint32

// Header/footer layout (spec.md §"Kernel heap": "a 16-byte header
// {magic, size, used}" and "an 8-byte footer {cigam, backptr}").
const (
	HeaderSize = 16
	FooterSize = 8

	// HeaderMagic/FooterCigam are the bracket sentinels os0-kernel
	// calls MEM_MAGIC/MEM_CIGAM; corruption of either panics (spec.md
	// §4.3 "Error policy").
	HeaderMagic uint32 = 0x123890ab
	FooterCigam uint32 = 0xba098321
)

var (
	ErrOutOfHeap   = fmt.Errorf("heap: no hole large enough")
	ErrInvalidSize = fmt.Errorf("heap: zero-size allocation")
)

type header struct {
	Magic uint32
	Size  uint32
	Used  bool
}

type footer struct {
	Cigam   uint32
	Backptr uint32
}

// Heap_t is a single fixed-size heap arena (spec.md: "A single heap
// covers a fixed 256-MiB virtual region"; this core simulates that
// region directly as a byte slice rather than mapping it page by
// page, since the heap is kernel-internal and never faces a user
// page table).
type Heap_t struct {
	mu sync.Mutex

	arena []byte
	// VBase is the virtual address the arena's offset 0 represents,
	// used only to decide page alignment for aligned allocations.
	VBase uint32

	holes *sarray.Sorted[Off]
}

// New creates a heap arena of exactly size bytes, starting as one
// single free hole spanning the whole arena.
func New(size uint32, vbase uint32) *Heap_t {
	if size < HeaderSize+FooterSize {
		size = HeaderSize + FooterSize
	}
	h := &Heap_t{arena: make([]byte, size), VBase: vbase}
	h.holes = sarray.NewSorted(h.holeLess)
	h.writeHeader(0, size, false)
	h.writeFooter(0, size)
	h.holes.Insert(0)
	return h
}

func (h *Heap_t) holeLess(a, b Off) bool {
	sa, sb := h.readHeader(a).Size, h.readHeader(b).Size
	if sa != sb {
		return sa < sb
	}
	return a < b
}

func (h *Heap_t) readHeader(off Off) header {
	b := h.arena[off : off+HeaderSize]
	return header{
		Magic: binary.LittleEndian.Uint32(b[0:4]),
		Size:  binary.LittleEndian.Uint32(b[4:8]),
		Used:  b[8] != 0,
	}
}

func (h *Heap_t) writeHeader(off Off, size uint32, used bool) {
	b := h.arena[off : off+HeaderSize]
	binary.LittleEndian.PutUint32(b[0:4], HeaderMagic)
	binary.LittleEndian.PutUint32(b[4:8], size)
	if used {
		b[8] = 1
	} else {
		b[8] = 0
	}
	b[9], b[10], b[11] = 0, 0, 0
	binary.LittleEndian.PutUint32(b[12:16], 0)
}

// footerOffOf returns the byte offset of the footer belonging to the
// block starting at off with the given total size.
func footerOffOf(off Off, size uint32) Off { return off + Off(size) - FooterSize }

func (h *Heap_t) readFooterAt(off Off) footer {
	b := h.arena[off : off+FooterSize]
	return footer{
		Cigam:   binary.LittleEndian.Uint32(b[0:4]),
		Backptr: binary.LittleEndian.Uint32(b[4:8]),
	}
}

func (h *Heap_t) writeFooter(blockOff Off, size uint32) {
	off := footerOffOf(blockOff, size)
	b := h.arena[off : off+FooterSize]
	binary.LittleEndian.PutUint32(b[0:4], FooterCigam)
	binary.LittleEndian.PutUint32(b[4:8], uint32(blockOff))
}

// search returns the index (in the sorted hole array) of the first
// hole able to satisfy a realsize-byte allocation, honoring the
// page-alignment pad an aligned allocation needs. Unlike
// os0-kernel's heap_search_hole, this always compares against the
// full bracketed block size (realsize), not the bare payload size:
// searching by payload size alone can select a hole that is too
// small once the header/footer overhead is added.
func (h *Heap_t) search(realsize uint32, aligned bool) (int, bool) {
	for i := 0; i < h.holes.Len(); i++ {
		hdr := h.readHeader(h.holes.At(i))
		if aligned {
			off := h.holes.At(i)
			addr := h.VBase + uint32(off)
			var pad uint32
			if (addr+HeaderSize)&uint32(mem.PGOFFSET) != 0 {
				pad = mem.PGSIZE - (addr+HeaderSize)%mem.PGSIZE
			}
			if hdr.Size >= realsize+pad {
				return i, true
			}
		} else if hdr.Size >= realsize {
			return i, true
		}
	}
	return 0, false
}

// Alloc reserves size bytes and returns the offset of the usable
// payload (already biased past the header), or ErrOutOfHeap if no
// hole is big enough (spec.md §4.3).
func (h *Heap_t) Alloc(size uint32, aligned bool) (Off, error) {
	if size == 0 {
		return 0, ErrInvalidSize
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	realsize := size + HeaderSize + FooterSize
	idx, ok := h.search(realsize, aligned)
	if !ok {
		return 0, ErrOutOfHeap
	}
	off := h.holes.At(idx)
	holesize := h.readHeader(off).Size
	h.holes.RemoveAt(idx)

	if aligned {
		addr := h.VBase + uint32(off)
		var pad uint32
		if (addr+HeaderSize)&uint32(mem.PGOFFSET) != 0 {
			pad = mem.PGSIZE - (addr+HeaderSize)%mem.PGSIZE
		}
		if pad > 0 {
			h.writeHeader(off, pad, false)
			h.writeFooter(off, pad)
			h.holes.Insert(off)
			off += Off(pad)
			holesize -= pad
		}
	}

	if holesize-realsize < HeaderSize+FooterSize {
		realsize = holesize
	}

	h.writeHeader(off, realsize, true)
	h.writeFooter(off, realsize)

	if rem := holesize - realsize; rem > 0 {
		holeOff := off + Off(realsize)
		h.writeHeader(holeOff, rem, false)
		h.writeFooter(holeOff, rem)
		h.holes.Insert(holeOff)
	}
	return off + HeaderSize, nil
}

func (h *Heap_t) removeHoleAt(off Off) {
	i := h.holes.Find(func(o Off) bool { return o == off })
	if i < 0 {
		panic("heap: hole not indexed")
	}
	h.holes.RemoveAt(i)
}

// Free releases the block at userOff (a value previously returned by
// Alloc), coalescing with an adjacent free neighbour on either side
// by walking the footer-backpointer / header-magic chain (spec.md
// §4.3: "On free, coalesce left and right neighbours using the
// footer-backpointer / header-magic encoding."). The brackets that
// end up inside a merged hole are zeroed. A corrupted bracket
// panics; this is always a bug, never a recoverable condition
// (spec.md §4.3 "Error policy").
func (h *Heap_t) Free(userOff Off) {
	if userOff == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	off := userOff - HeaderSize
	hdr := h.readHeader(off)
	if hdr.Magic != HeaderMagic {
		panic("heap: corrupted block header")
	}
	ftr := h.readFooterAt(footerOffOf(off, hdr.Size))
	if ftr.Cigam != FooterCigam {
		panic("heap: corrupted block footer")
	}
	size := hdr.Size

	if off >= FooterSize {
		lf := h.readFooterAt(off - FooterSize)
		if lf.Cigam == FooterCigam {
			lh := h.readHeader(Off(lf.Backptr))
			if !lh.Used {
				h.removeHoleAt(Off(lf.Backptr))
				clear(h.arena[off-FooterSize : off+HeaderSize])
				size += lh.Size
				off = Off(lf.Backptr)
			}
		}
	}

	if rightOff := off + Off(size); uint32(rightOff)+HeaderSize <= uint32(len(h.arena)) {
		rh := h.readHeader(rightOff)
		if rh.Magic == HeaderMagic && !rh.Used {
			h.removeHoleAt(rightOff)
			clear(h.arena[rightOff-FooterSize : rightOff+HeaderSize])
			size += rh.Size
		}
	}

	h.writeHeader(off, size, false)
	h.writeFooter(off, size)
	h.holes.Insert(off)
}

// Realloc resizes the block at userOff to newsize bytes, preserving
// its content up to min(oldsize, newsize). userOff == 0 behaves like
// Alloc; newsize == 0 behaves like Free.
func (h *Heap_t) Realloc(userOff Off, newsize uint32) (Off, error) {
	if userOff == 0 {
		return h.Alloc(newsize, false)
	}
	if newsize == 0 {
		h.Free(userOff)
		return 0, nil
	}
	h.mu.Lock()
	hdr := h.readHeader(userOff - HeaderSize)
	oldPayload := hdr.Size - HeaderSize - FooterSize
	h.mu.Unlock()
	if newsize <= oldPayload {
		return userOff, nil
	}

	n, err := h.Alloc(newsize, false)
	if err != nil {
		return 0, err
	}
	copy(h.Bytes(n, int(oldPayload)), h.Bytes(userOff, int(oldPayload)))
	h.Free(userOff)
	return n, nil
}

// Bytes returns the n-byte payload slice starting at a live
// allocation's offset, for callers that store arbitrary kernel data
// in heap-backed blocks.
func (h *Heap_t) Bytes(userOff Off, n int) []byte {
	return h.arena[userOff : int(userOff)+n]
}

// PayloadLen returns the usable (non-bracket) size of the live
// allocation at userOff.
func (h *Heap_t) PayloadLen(userOff Off) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readHeader(userOff - HeaderSize).Size - HeaderSize - FooterSize
}

// HoleCount reports the number of free holes currently indexed, used
// by tests checking that an alloc/free round-trip leaves the heap
// unchanged modulo allocation metadata counters.
func (h *Heap_t) HoleCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.holes.Len()
}

// Snapshot copies out the raw arena bytes, for tests comparing heap
// state before and after an alloc/free pair.
func (h *Heap_t) Snapshot() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]byte, len(h.arena))
	copy(cp, h.arena)
	return cp
}
