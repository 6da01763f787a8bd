package ext2

import "github.com/xnscdev/os0-kernel-sub000/internal/defs"

// allocBlock finds the first free block (scanning groups in order,
// lowest free index within a group's bitmap wins) and marks it used,
// the allocation rule os0-kernel's fs/ext2/bitmap.c documents for
// EXT2_BMAP_MAGIC_BLOCK.
func (fs *Filesystem) allocBlock() (uint32, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for g := range fs.groups {
		bm := make([]byte, fs.blockSize)
		if err := fs.dev.ReadBlock(fs.groups[g].BlockBitmap, bm); err != 0 {
			return 0, err
		}
		n := int(fs.sb.BlocksPerGroup)
		if g == len(fs.groups)-1 {
			last := int(fs.sb.BlocksCount) - g*int(fs.sb.BlocksPerGroup)
			if last < n {
				n = last
			}
		}
		idx, ok := firstClearBit(bm, n)
		if !ok {
			continue
		}
		bitmapSet(bm, idx, true)
		if err := fs.dev.WriteBlock(fs.groups[g].BlockBitmap, bm); err != 0 {
			return 0, err
		}
		fs.groups[g].FreeBlocksCount--
		fs.sb.FreeBlocksCount--
		if err := fs.flushMeta(); err != 0 {
			return 0, err
		}
		phys := fs.sb.FirstDataBlock + uint32(g)*fs.sb.BlocksPerGroup + uint32(idx)
		return phys, 0
	}
	return 0, -defs.ENOSPC
}

// freeBlock clears phys's bitmap bit and restores the free counters.
func (fs *Filesystem) freeBlock(phys uint32) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rel := phys - fs.sb.FirstDataBlock
	g := rel / fs.sb.BlocksPerGroup
	idx := rel % fs.sb.BlocksPerGroup
	bm := make([]byte, fs.blockSize)
	if fs.dev.ReadBlock(fs.groups[g].BlockBitmap, bm) != 0 {
		return
	}
	bitmapSet(bm, int(idx), false)
	fs.dev.WriteBlock(fs.groups[g].BlockBitmap, bm)
	fs.groups[g].FreeBlocksCount++
	fs.sb.FreeBlocksCount++
	fs.flushMeta()
}

// allocInode finds the first free inode number, marks it used, and
// updates the group's directory count when isDir is set.
func (fs *Filesystem) allocInode(isDir bool) (uint64, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for g := range fs.groups {
		bm := make([]byte, fs.blockSize)
		if err := fs.dev.ReadBlock(fs.groups[g].InodeBitmap, bm); err != 0 {
			return 0, err
		}
		idx, ok := firstClearBit(bm, int(fs.sb.InodesPerGroup))
		if !ok {
			continue
		}
		bitmapSet(bm, idx, true)
		if err := fs.dev.WriteBlock(fs.groups[g].InodeBitmap, bm); err != 0 {
			return 0, err
		}
		fs.groups[g].FreeInodesCount--
		fs.sb.FreeInodesCount--
		if isDir {
			fs.groups[g].UsedDirsCount++
		}
		if err := fs.flushMeta(); err != 0 {
			return 0, err
		}
		ino := uint64(g)*uint64(fs.sb.InodesPerGroup) + uint64(idx) + 1
		return ino, 0
	}
	return 0, -defs.ENOSPC
}

// freeInode clears ino's bitmap bit and restores the free counters.
func (fs *Filesystem) freeInode(ino uint64, isDir bool) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	idx := uint32(ino - 1)
	g := idx / fs.sb.InodesPerGroup
	within := idx % fs.sb.InodesPerGroup
	bm := make([]byte, fs.blockSize)
	if err := fs.dev.ReadBlock(fs.groups[g].InodeBitmap, bm); err != 0 {
		return err
	}
	bitmapSet(bm, int(within), false)
	if err := fs.dev.WriteBlock(fs.groups[g].InodeBitmap, bm); err != 0 {
		return err
	}
	fs.groups[g].FreeInodesCount++
	fs.sb.FreeInodesCount++
	if isDir {
		fs.groups[g].UsedDirsCount--
	}
	return fs.flushMeta()
}

// flushMeta writes the superblock and group descriptor table back to
// disk; called after every allocation/free so the on-disk free
// counters never lag the in-core state (this driver keeps no other
// write-back cache).
func (fs *Filesystem) flushMeta() defs.Err_t {
	sbBlock := uint32(1024 / fs.blockSize)
	buf := make([]byte, fs.blockSize)
	copy(buf, fs.sb.encode())
	if err := fs.dev.WriteBlock(sbBlock, buf); err != 0 {
		return err
	}

	descPerBlock := fs.blockSize / GroupDescSize
	gdtBlock := fs.sb.FirstDataBlock + 1
	gdtBlocks := (len(fs.groups) + descPerBlock - 1) / descPerBlock
	raw := make([]byte, gdtBlocks*fs.blockSize)
	for i := range fs.groups {
		fs.groups[i].encode(raw[i*GroupDescSize : (i+1)*GroupDescSize])
	}
	for i := 0; i < gdtBlocks; i++ {
		if err := fs.dev.WriteBlock(gdtBlock+uint32(i), raw[i*fs.blockSize:(i+1)*fs.blockSize]); err != 0 {
			return err
		}
	}
	return 0
}
