package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/mem"
)

func newtest(t *testing.T) (*mem.Physmem_t, mem.Pa_t) {
	t.Helper()
	pmem, err := mem.New(8<<20, 0)
	require.NoError(t, err)
	pd, err := NewPageDir(pmem)
	require.NoError(t, err)
	return pmem, pd
}

// phys_of(pd, v) is nonzero iff a present PTE exists at v; after
// unmap(pd, v), phys_of(pd, v) == 0.
func TestPhysOfTracksPresence(t *testing.T) {
	pmem, pd := newtest(t)
	const va = uintptr(0x40000000)

	require.Zero(t, PhysOf(pmem, pd, va))

	frame, err := pmem.AllocFrame()
	require.NoError(t, err)
	require.NoError(t, Map(pmem, pd, frame, va, PTE_W|PTE_U))

	got := PhysOf(pmem, pd, va)
	require.NotZero(t, got)
	require.Equal(t, mem.Pa_t(frame), got&^mem.Pa_t(mem.PGOFFSET))

	Unmap(pmem, pd, va)
	require.Zero(t, PhysOf(pmem, pd, va))
}

func TestPhysOfHonorsPageOffset(t *testing.T) {
	pmem, pd := newtest(t)
	const va = uintptr(0x40001000)
	frame, err := pmem.AllocFrame()
	require.NoError(t, err)
	require.NoError(t, Map(pmem, pd, frame, va, PTE_W|PTE_U))
	require.Equal(t, mem.Pa_t(frame)+0x123, PhysOf(pmem, pd, va+0x123))
}

func TestMapAllocatesPageTableOnDemand(t *testing.T) {
	pmem, pd := newtest(t)
	before := pmem.Capacity()
	frame, err := pmem.AllocFrame()
	require.NoError(t, err)
	require.NoError(t, Map(pmem, pd, frame, 0x50000000, PTE_W|PTE_U))
	// one frame consumed for the page table, one already taken for
	// `frame` itself before Map was even called.
	require.Equal(t, before-2, pmem.Capacity())
}

func TestClonePDDeepCopiesUserPages(t *testing.T) {
	pmem, pd := newtest(t)
	const va = uintptr(0x40000000)
	frame, err := pmem.AllocFrame()
	require.NoError(t, err)
	pmem.Frame(frame)[0] = 0xAB
	require.NoError(t, Map(pmem, pd, frame, va, PTE_W|PTE_U))

	clone, err := ClonePD(pmem, pd)
	require.NoError(t, err)

	clonedPA := PhysOf(pmem, clone, va)
	require.NotZero(t, clonedPA)
	require.NotEqual(t, frame, clonedPA&^mem.Pa_t(mem.PGOFFSET))
	require.Equal(t, uint8(0xAB), pmem.Frame(clonedPA)[0])

	// writes diverge: parent's page must be untouched by a write
	// through the clone.
	pmem.Frame(clonedPA)[0] = 0xCD
	require.Equal(t, uint8(0xAB), pmem.Frame(frame)[0])
}

func TestClonePDSharesKernelTables(t *testing.T) {
	pmem, pd := newtest(t)
	const kva = uintptr(0xc0001000)
	frame, err := pmem.AllocFrame()
	require.NoError(t, err)
	require.NoError(t, Map(pmem, pd, frame, kva, PTE_W))

	clone, err := ClonePD(pmem, pd)
	require.NoError(t, err)
	require.Equal(t, PhysOf(pmem, pd, kva), PhysOf(pmem, clone, kva))
}

func TestCurTracksDirtyAcrossLoadInvalidate(t *testing.T) {
	var cur Cur_t
	pmem, pd := newtest(t)
	cur.Load(pd)
	require.False(t, cur.Dirty())
	cur.MarkDirty()
	require.True(t, cur.Dirty())
	cur.Invalidate(0x1000)
	require.False(t, cur.Dirty())
	cur.MarkDirty()
	cur.FlushAll()
	require.False(t, cur.Dirty())
	require.Equal(t, pd, cur.Current())
	_ = pmem
}

// mmap then munmap over the same range leaves the region list equal
// to its state before the pair.
func TestMmapMunmapRoundTrip(t *testing.T) {
	pmem, err := mem.New(8<<20, 0)
	require.NoError(t, err)
	as, err := NewAS(pmem)
	require.NoError(t, err)

	before := len(as.Regions.Regions())
	addr, errno := as.Mmap(0, 8192, defs.PROT_READ|defs.PROT_WRITE, defs.MAP_ANONYMOUS|defs.MAP_PRIVATE, nil, 0)
	require.Zero(t, errno)
	require.GreaterOrEqual(t, addr, MMAPBASE)
	require.Zero(t, addr%mem.PGSIZE)

	errno = as.Munmap(addr, 8192)
	require.Zero(t, errno)
	require.Equal(t, before, len(as.Regions.Regions()))
}

// Writing then reading every byte of a fresh anonymous mapping
// succeeds; after munmap, the same address faults.
func TestMmapAnonWriteReadThenFault(t *testing.T) {
	pmem, err := mem.New(8<<20, 0)
	require.NoError(t, err)
	as, err := NewAS(pmem)
	require.NoError(t, err)

	addr, errno := as.Mmap(0, 8192, defs.PROT_READ|defs.PROT_WRITE, defs.MAP_ANONYMOUS|defs.MAP_PRIVATE, nil, 0)
	require.Zero(t, errno)

	errno = as.Userwriten(addr+100, 1, 0x42)
	require.Zero(t, errno)
	v, errno := as.Userreadn(addr+100, 1)
	require.Zero(t, errno)
	require.Equal(t, uint64(0x42), v)

	require.Zero(t, as.Munmap(addr, 8192))
	_, errno = as.Userreadn(addr+100, 1)
	require.Equal(t, -defs.EFAULT, errno)
}

func TestMunmapSplitsPartiallyCoveredRegion(t *testing.T) {
	pmem, err := mem.New(8<<20, 0)
	require.NoError(t, err)
	as, err := NewAS(pmem)
	require.NoError(t, err)

	addr, errno := as.Mmap(0, 3*mem.PGSIZE, defs.PROT_READ|defs.PROT_WRITE, defs.MAP_ANONYMOUS|defs.MAP_PRIVATE, nil, 0)
	require.Zero(t, errno)

	// unmap only the middle page
	require.Zero(t, as.Munmap(addr+mem.PGSIZE, mem.PGSIZE))
	require.Len(t, as.Regions.Regions(), 2)

	require.Zero(t, PhysOf(pmem, as.PD, addr+mem.PGSIZE))
	require.NotZero(t, PhysOf(pmem, as.PD, addr))
	require.NotZero(t, PhysOf(pmem, as.PD, addr+2*mem.PGSIZE))
}

func TestMprotectRemapsFlags(t *testing.T) {
	pmem, err := mem.New(8<<20, 0)
	require.NoError(t, err)
	as, err := NewAS(pmem)
	require.NoError(t, err)

	addr, errno := as.Mmap(0, mem.PGSIZE, defs.PROT_READ|defs.PROT_WRITE, defs.MAP_ANONYMOUS|defs.MAP_PRIVATE, nil, 0)
	require.Zero(t, errno)

	require.Zero(t, as.Mprotect(addr, mem.PGSIZE, defs.PROT_READ))
	_, errno = as.Userdmap8(addr, true)
	require.Equal(t, -defs.EFAULT, errno)
	_, errno = as.Userdmap8(addr, false)
	require.Zero(t, errno)
}

func TestForkCopiesRegionsAndDiverges(t *testing.T) {
	pmem, err := mem.New(8<<20, 0)
	require.NoError(t, err)
	parent, err := NewAS(pmem)
	require.NoError(t, err)

	addr, errno := parent.Mmap(0, mem.PGSIZE, defs.PROT_READ|defs.PROT_WRITE, defs.MAP_ANONYMOUS|defs.MAP_PRIVATE, nil, 0)
	require.Zero(t, errno)
	require.Zero(t, parent.Userwriten(addr, 1, 7))

	child, err := parent.Fork()
	require.NoError(t, err)
	v, errno := child.Userreadn(addr, 1)
	require.Zero(t, errno)
	require.Equal(t, uint64(7), v)

	require.Zero(t, child.Userwriten(addr, 1, 9))
	pv, _ := parent.Userreadn(addr, 1)
	require.Equal(t, uint64(7), pv)
}
