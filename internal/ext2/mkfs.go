package ext2

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/ustr"
	"github.com/xnscdev/os0-kernel-sub000/internal/vfs"
)

// MkfsOptions configures Mkfs's layout decisions; zero values pick
// os0-kernel's defaults (1024-byte blocks, one inode per 4 blocks).
type MkfsOptions struct {
	BlockSize      int
	InodesPerGroup uint32
	BlocksPerGroup uint32
}

func (o *MkfsOptions) fill(totalBlocks uint32) {
	if o.BlockSize == 0 {
		o.BlockSize = 1024
	}
	if o.BlocksPerGroup == 0 {
		o.BlocksPerGroup = uint32(o.BlockSize * 8) // one bitmap block's worth of bits
	}
	if o.BlocksPerGroup > totalBlocks {
		o.BlocksPerGroup = totalBlocks
	}
	if o.InodesPerGroup == 0 {
		o.InodesPerGroup = o.BlocksPerGroup / 4
		if o.InodesPerGroup == 0 {
			o.InodesPerGroup = 32
		}
	}
}

// Mkfs formats dev with a fresh ext2 filesystem: superblock, group
// descriptor table, per-group block/inode bitmaps, inode tables, and
// a root directory inode — the layout os0-kernel's fs/ext2-util.c
// ext2_initialize lays down, reduced to what a single-disk-image
// cmd/osctl invocation needs. Each block group's bitmaps and inode
// table are zeroed concurrently via an errgroup.Group, since they are
// disjoint block ranges and formatting is otherwise I/O-bound.
func Mkfs(dev BlockDevice, opts MkfsOptions) (*Filesystem, defs.Err_t) {
	total := dev.BlockCount()
	opts.fill(total)
	bs := opts.BlockSize

	groupCount := (total + opts.BlocksPerGroup - 1) / opts.BlocksPerGroup
	descPerBlock := bs / GroupDescSize
	gdtBlocks := uint32((int(groupCount) + descPerBlock - 1) / descPerBlock)
	inodesPerBlock := uint32(bs / OldInodeSize)
	itableBlocks := (opts.InodesPerGroup + inodesPerBlock - 1) / inodesPerBlock

	firstDataBlock := uint32(1)
	if bs > 1024 {
		firstDataBlock = 0
	}

	groups := make([]rawGroupDesc, groupCount)
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(context.Background())
	for gi := uint32(0); gi < groupCount; gi++ {
		gi := gi
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			base := firstDataBlock + 1 + gdtBlocks + gi*opts.BlocksPerGroup
			blockBitmap := base
			inodeBitmap := base + 1
			inodeTable := base + 2

			zero := make([]byte, bs)
			if err := dev.WriteBlock(blockBitmap, zero); err != 0 {
				return errFrom(err)
			}
			if err := dev.WriteBlock(inodeBitmap, zero); err != 0 {
				return errFrom(err)
			}
			for b := uint32(0); b < itableBlocks; b++ {
				if err := dev.WriteBlock(inodeTable+b, zero); err != 0 {
					return errFrom(err)
				}
			}
			mu.Lock()
			groups[gi] = rawGroupDesc{
				BlockBitmap:     blockBitmap,
				InodeBitmap:     inodeBitmap,
				InodeTable:      inodeTable,
				FreeBlocksCount: uint16(opts.BlocksPerGroup),
				FreeInodesCount: uint16(opts.InodesPerGroup),
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, -defs.EIO
	}

	// Reserve the metadata blocks (superblock, GDT, bitmaps, inode
	// table) of every group in that group's own block bitmap.
	metaBlocksPerGroup := 2 + itableBlocks
	for gi := range groups {
		bm := make([]byte, bs)
		dev.ReadBlock(groups[gi].BlockBitmap, bm)
		// Every group's bitmaps start 1+gdtBlocks blocks past the group's
		// first block, so that leading gap is reserved in every group.
		reserveCount := metaBlocksPerGroup + 1 + gdtBlocks
		for i := uint32(0); i < reserveCount; i++ {
			bitmapSet(bm, int(i), true)
		}
		groups[gi].FreeBlocksCount -= uint16(reserveCount)
		dev.WriteBlock(groups[gi].BlockBitmap, bm)
	}

	sb := rawSuperblock{
		InodesCount:     opts.InodesPerGroup * groupCount,
		BlocksCount:     total,
		FirstDataBlock:  firstDataBlock,
		LogBlockSize:    log2(bs / 1024),
		BlocksPerGroup:  opts.BlocksPerGroup,
		FragsPerGroup:   opts.BlocksPerGroup,
		InodesPerGroup:  opts.InodesPerGroup,
		Magic:           Magic,
		State:           1,
		RevLevel:        1,
		FirstIno:        11,
		InodeSize:       OldInodeSize,
		FeatureIncompat: 0x0002, // EXT2_FT_INCOMPAT_FILETYPE: dirents carry a file-type byte
	}
	var freeBlocks, freeInodes uint32
	for _, grp := range groups {
		freeBlocks += uint32(grp.FreeBlocksCount)
		freeInodes += uint32(grp.FreeInodesCount)
	}
	sb.FreeBlocksCount = freeBlocks
	sb.FreeInodesCount = freeInodes

	fs := &Filesystem{
		dev:            dev,
		blockSize:      bs,
		sb:             sb,
		groups:         groups,
		inodesPerBlock: int(inodesPerBlock),
		itableBlocks:   itableBlocks,
		icache:         make(map[uint64]*vfs.Inode),
	}
	if err := fs.flushMeta(); err != 0 {
		return nil, err
	}

	// Root inode 2: a directory owned by root containing "." and "..".
	now := now32()
	rootRaw := &rawInode{
		Mode:       0040755,
		LinksCount: 2,
		Atime:      now,
		Ctime:      now,
		Mtime:      now,
	}
	ibm := make([]byte, bs)
	if err := dev.ReadBlock(groups[0].InodeBitmap, ibm); err != 0 {
		return nil, err
	}
	bitmapSet(ibm, RootIno-1, true)
	if err := dev.WriteBlock(groups[0].InodeBitmap, ibm); err != 0 {
		return nil, err
	}
	fs.mu.Lock()
	fs.groups[0].FreeInodesCount--
	fs.sb.FreeInodesCount--
	fs.groups[0].UsedDirsCount++
	fs.mu.Unlock()
	if err := fs.writeRawInode(RootIno, rootRaw); err != 0 {
		return nil, err
	}
	if err := fs.flushMeta(); err != 0 {
		return nil, err
	}

	root := &vfs.Inode{
		Sb:    fs,
		Ino:   RootIno,
		Mode:  uint32(rootRaw.Mode),
		Nlink: uint32(rootRaw.LinksCount),
		Atime: int64(now),
		Mtime: int64(now),
		Ctime: int64(now),
		Priv:  rootRaw,
	}
	fs.icache[RootIno] = root
	fs.root = root

	if err := fs.addDirEntry(root, ustr.MkUstrDot(), uint32(RootIno), FtDir); err != 0 {
		return nil, err
	}
	if err := fs.addDirEntry(root, ustr.DotDot, uint32(RootIno), FtDir); err != 0 {
		return nil, err
	}
	return fs, 0
}

func log2(n int) uint32 {
	v := uint32(0)
	for n > 1 {
		n >>= 1
		v++
	}
	return v
}

func errFrom(e defs.Err_t) error {
	if e == 0 {
		return nil
	}
	return errcodeError(e)
}

type errcodeError defs.Err_t

func (e errcodeError) Error() string { return "ext2: mkfs I/O error" }
