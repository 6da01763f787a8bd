package ext2

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
)

// GroupStat is the subset of a block group's descriptor cmd/osctl's
// stat/fsck subcommands report, exported so that package (and no
// other caller) can read an otherwise-internal rawGroupDesc.
type GroupStat struct {
	Index           int
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
}

// SuperblockStat is the subset of the on-disk superblock cmd/osctl's
// stat subcommand reports.
type SuperblockStat struct {
	InodesCount     uint32
	BlocksCount     uint32
	FreeBlocksCount uint32
	FreeInodesCount uint32
	BlocksPerGroup  uint32
	InodesPerGroup  uint32
	BlockSize       int
	GroupCount      int
}

// Stat summarizes fs's on-disk layout for reporting, the read side of
// what cmd/osctl stat prints in a tablewriter table.
func (fs *Filesystem) Stat() SuperblockStat {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return SuperblockStat{
		InodesCount:     fs.sb.InodesCount,
		BlocksCount:     fs.sb.BlocksCount,
		FreeBlocksCount: fs.sb.FreeBlocksCount,
		FreeInodesCount: fs.sb.FreeInodesCount,
		BlocksPerGroup:  fs.sb.BlocksPerGroup,
		InodesPerGroup:  fs.sb.InodesPerGroup,
		BlockSize:       fs.blockSize,
		GroupCount:      len(fs.groups),
	}
}

// GroupStats returns one GroupStat per block group, in on-disk order.
func (fs *Filesystem) GroupStats() []GroupStat {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]GroupStat, len(fs.groups))
	for i, g := range fs.groups {
		out[i] = GroupStat{
			Index: i, BlockBitmap: g.BlockBitmap, InodeBitmap: g.InodeBitmap,
			InodeTable: g.InodeTable, FreeBlocksCount: g.FreeBlocksCount,
			FreeInodesCount: g.FreeInodesCount, UsedDirsCount: g.UsedDirsCount,
		}
	}
	return out
}

// Fsck recomputes each block group's free-block and free-inode counts
// from its bitmap and compares them against the group descriptor's
// cached counters, concurrently across groups via errgroup.Group
// (the groups' bitmaps live on disjoint blocks, so verifying them is
// embarrassingly parallel, the same posture Mkfs's concurrent group
// formatting already takes). It returns one mismatch description per
// inconsistent group; an empty, non-nil slice means the filesystem is
// consistent.
func (fs *Filesystem) Fsck() ([]string, defs.Err_t) {
	fs.mu.Lock()
	groups := append([]rawGroupDesc{}, fs.groups...)
	sb := fs.sb
	bs := fs.blockSize
	dev := fs.dev
	fs.mu.Unlock()

	mismatches := make([]string, len(groups))
	g, ctx := errgroup.WithContext(context.Background())
	for gi := range groups {
		gi := gi
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			desc := groups[gi]

			blockBm := make([]byte, bs)
			if err := dev.ReadBlock(desc.BlockBitmap, blockBm); err != 0 {
				return errFrom(err)
			}
			blocksInGroup := int(sb.BlocksPerGroup)
			if gi == len(groups)-1 {
				last := int(sb.BlocksCount) - gi*int(sb.BlocksPerGroup)
				if last < blocksInGroup {
					blocksInGroup = last
				}
			}
			freeBlocks := countClearBits(blockBm, blocksInGroup)

			inodeBm := make([]byte, bs)
			if err := dev.ReadBlock(desc.InodeBitmap, inodeBm); err != 0 {
				return errFrom(err)
			}
			freeInodes := countClearBits(inodeBm, int(sb.InodesPerGroup))

			if uint16(freeBlocks) != desc.FreeBlocksCount || uint16(freeInodes) != desc.FreeInodesCount {
				mismatches[gi] = fmt.Sprintf(
					"group %d: free blocks recorded=%d actual=%d, free inodes recorded=%d actual=%d",
					gi, desc.FreeBlocksCount, freeBlocks, desc.FreeInodesCount, freeInodes)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, -defs.EIO
	}

	out := make([]string, 0, len(mismatches))
	for _, m := range mismatches {
		if m != "" {
			out = append(out, m)
		}
	}
	return out, 0
}
