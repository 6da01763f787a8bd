package ext2

import (
	"bytes"
	"encoding/binary"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
)

// blockForOffset returns the physical block backing logical block
// number logical of raw, allocating it (and any indirect/extent
// metadata block needed to address it) when alloc is set. It
// dispatches to the classical 12-direct/indirect/double/triple scheme
// or the ext4 extent tree depending on raw.Flags&ExtentsFlag, exactly
// as os0-kernel's fs/ext2/bmap.c does.
func (fs *Filesystem) blockForOffset(raw *rawInode, logical uint32, alloc bool) (uint32, defs.Err_t) {
	if raw.Flags&ExtentsFlag != 0 {
		return fs.extentBlockForOffset(raw, logical, alloc)
	}
	ppb := uint32(fs.blockSize / 4)
	switch {
	case logical < NDirBlocks:
		return fs.directSlot(&raw.Block[logical], alloc)
	case logical < NDirBlocks+ppb:
		return fs.indirectSlot(&raw.Block[IndBlock], logical-NDirBlocks, alloc)
	case logical < NDirBlocks+ppb+ppb*ppb:
		rel := logical - NDirBlocks - ppb
		return fs.doubleIndirectSlot(&raw.Block[DindBlock], rel, ppb, alloc)
	default:
		rel := logical - NDirBlocks - ppb - ppb*ppb
		return fs.tripleIndirectSlot(&raw.Block[TindBlock], rel, ppb, alloc)
	}
}

func (fs *Filesystem) directSlot(slot *uint32, alloc bool) (uint32, defs.Err_t) {
	if *slot != 0 {
		return *slot, 0
	}
	if !alloc {
		return 0, 0
	}
	nb, err := fs.allocBlock()
	if err != 0 {
		return 0, err
	}
	*slot = nb
	return nb, 0
}

// ensureBlock allocates and zeroes the metadata block *ptr points at
// if it doesn't exist yet.
func (fs *Filesystem) ensureBlock(ptr *uint32, alloc bool) (uint32, defs.Err_t) {
	if *ptr != 0 {
		return *ptr, 0
	}
	if !alloc {
		return 0, 0
	}
	nb, err := fs.allocBlock()
	if err != 0 {
		return 0, err
	}
	zero := make([]byte, fs.blockSize)
	if err := fs.dev.WriteBlock(nb, zero); err != 0 {
		return 0, err
	}
	*ptr = nb
	return nb, 0
}

// ptrSlot reads the idx'th uint32 pointer out of containingBlock,
// allocating a fresh data block for it (and writing the updated
// pointer block back) if it is zero and alloc is set.
func (fs *Filesystem) ptrSlot(containingBlock uint32, idx int, alloc bool) (uint32, defs.Err_t) {
	buf := make([]byte, fs.blockSize)
	if err := fs.dev.ReadBlock(containingBlock, buf); err != 0 {
		return 0, err
	}
	ptrs := make([]uint32, fs.blockSize/4)
	binary.Read(bytes.NewReader(buf), binary.LittleEndian, ptrs)
	if ptrs[idx] != 0 {
		return ptrs[idx], 0
	}
	if !alloc {
		return 0, 0
	}
	nb, err := fs.allocBlock()
	if err != 0 {
		return 0, err
	}
	ptrs[idx] = nb
	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, ptrs)
	if err := fs.dev.WriteBlock(containingBlock, out.Bytes()); err != 0 {
		return 0, err
	}
	return nb, 0
}

func (fs *Filesystem) indirectSlot(indPtr *uint32, idx uint32, alloc bool) (uint32, defs.Err_t) {
	block, err := fs.ensureBlock(indPtr, alloc)
	if err != 0 || block == 0 {
		return 0, err
	}
	return fs.ptrSlot(block, int(idx), alloc)
}

func (fs *Filesystem) doubleIndirectSlot(dindPtr *uint32, rel uint32, ppb uint32, alloc bool) (uint32, defs.Err_t) {
	block, err := fs.ensureBlock(dindPtr, alloc)
	if err != 0 || block == 0 {
		return 0, err
	}
	outer, inner := rel/ppb, rel%ppb
	mid, err := fs.ptrSlot(block, int(outer), alloc)
	if err != 0 || mid == 0 {
		return 0, err
	}
	return fs.ptrSlot(mid, int(inner), alloc)
}

func (fs *Filesystem) tripleIndirectSlot(tindPtr *uint32, rel uint32, ppb uint32, alloc bool) (uint32, defs.Err_t) {
	block, err := fs.ensureBlock(tindPtr, alloc)
	if err != 0 || block == 0 {
		return 0, err
	}
	outer := rel / (ppb * ppb)
	mid := (rel / ppb) % ppb
	inner := rel % ppb
	dind, err := fs.ptrSlot(block, int(outer), alloc)
	if err != 0 || dind == 0 {
		return 0, err
	}
	ind, err := fs.ptrSlot(dind, int(mid), alloc)
	if err != 0 || ind == 0 {
		return 0, err
	}
	return fs.ptrSlot(ind, int(inner), alloc)
}

// blockToBytes/bytesToBlock round-trip an inode's 15-uint32 Block
// array to the raw 60-byte blob an extent header+entries occupy,
// exploiting the fact that decoding 15 little-endian uint32 values
// and re-encoding them reproduces the exact original bytes regardless
// of whether those bytes mean "block pointers" or "an extent tree".
func blockToBytes(block [NBlocks]uint32) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, block[:])
	return b.Bytes()
}

func bytesToBlock(buf []byte) [NBlocks]uint32 {
	var out [NBlocks]uint32
	binary.Read(bytes.NewReader(buf), binary.LittleEndian, out[:])
	return out
}

// extentBlockForOffset maps logical through raw's extent tree,
// growing the (necessarily depth-0, root-inline) tree by one entry
// when alloc is set and no covering extent exists yet.
func (fs *Filesystem) extentBlockForOffset(raw *rawInode, logical uint32, alloc bool) (uint32, defs.Err_t) {
	blob := blockToBytes(raw.Block)
	phys, found, err := fs.extentLookup(blob, logical)
	if err != 0 {
		return 0, err
	}
	if found {
		return phys, 0
	}
	if !alloc {
		return 0, 0
	}
	nb, err := fs.allocBlock()
	if err != 0 {
		return 0, err
	}
	if err := extentInsertRoot(blob, logical, nb); err != 0 {
		return 0, err
	}
	raw.Block = bytesToBlock(blob)
	return nb, 0
}

func decodeExtentHeader(blob []byte) extentHeader {
	var h extentHeader
	binary.Read(bytes.NewReader(blob[:12]), binary.LittleEndian, &h)
	return h
}

func encodeExtentHeader(blob []byte, h extentHeader) {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, &h)
	copy(blob[:12], b.Bytes())
}

func decodeExtentLeaf(blob []byte, i int) extentLeaf {
	var e extentLeaf
	off := 12 + i*12
	binary.Read(bytes.NewReader(blob[off:off+12]), binary.LittleEndian, &e)
	return e
}

func encodeExtentLeaf(blob []byte, i int, e extentLeaf) {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, &e)
	off := 12 + i*12
	copy(blob[off:off+12], b.Bytes())
}

func decodeExtentIndex(blob []byte, i int) extentIndexEnt {
	var e extentIndexEnt
	off := 12 + i*12
	binary.Read(bytes.NewReader(blob[off:off+12]), binary.LittleEndian, &e)
	return e
}

// extentLookup walks one extent header (inline-root or a full
// on-disk extent block) for the leaf covering logical, recursing into
// a child block when depth > 0.
func (fs *Filesystem) extentLookup(blob []byte, logical uint32) (uint32, bool, defs.Err_t) {
	h := decodeExtentHeader(blob)
	if h.Magic != ExtentMagic {
		if h.Entries == 0 && h.Max == 0 {
			return 0, false, 0 // never-initialized inode: no extents yet
		}
		return 0, false, -defs.EIO
	}
	if h.Depth == 0 {
		for i := 0; i < int(h.Entries); i++ {
			e := decodeExtentLeaf(blob, i)
			length := uint32(e.Len &^ 0x8000)
			if logical >= e.Block && logical < e.Block+length {
				return uint32(e.physStart()) + (logical - e.Block), true, 0
			}
		}
		return 0, false, 0
	}
	var chosen *extentIndexEnt
	for i := 0; i < int(h.Entries); i++ {
		e := decodeExtentIndex(blob, i)
		if e.Block <= logical {
			ec := e
			chosen = &ec
		} else {
			break
		}
	}
	if chosen == nil {
		return 0, false, 0
	}
	childBuf := make([]byte, fs.blockSize)
	if err := fs.dev.ReadBlock(uint32(chosen.child()), childBuf); err != 0 {
		return 0, false, err
	}
	return fs.extentLookup(childBuf, logical)
}

// extentInsertRoot appends (or extends, if contiguous) a depth-0 leaf
// covering logical -> phys in the root header. Tree growth past the
// root's inline 4-entry capacity is not implemented (ENOSPC instead).
func extentInsertRoot(blob []byte, logical, phys uint32) defs.Err_t {
	h := decodeExtentHeader(blob)
	if h.Magic != ExtentMagic {
		h = extentHeader{Magic: ExtentMagic, Entries: 0, Max: 4, Depth: 0}
	}
	if h.Depth != 0 {
		return -defs.ENOTSUP
	}
	if h.Entries > 0 {
		last := decodeExtentLeaf(blob, int(h.Entries)-1)
		length := uint32(last.Len &^ 0x8000)
		if last.Block+length == logical && uint32(last.physStart())+length == phys {
			last.Len = uint16(length + 1)
			encodeExtentLeaf(blob, int(h.Entries)-1, last)
			return 0
		}
	}
	if h.Entries >= h.Max {
		return -defs.ENOSPC
	}
	encodeExtentLeaf(blob, int(h.Entries), extentLeaf{Block: logical, Len: 1, Start: phys})
	h.Entries++
	encodeExtentHeader(blob, h)
	return 0
}
