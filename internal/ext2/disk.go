// Package ext2 implements C12, the on-disk filesystem driver: an
// ext2-family block device format with classical indirect block
// mapping, the ext4 extent-tree alternative, a bitmap-based block and
// inode allocator, and directory entries with POSIX semantics —
// wired into internal/vfs by implementing vfs.Superblock. Grounded
// bit-for-bit on os0-kernel's original_source/include/fs/ext2.h
// struct layouts (Ext2Superblock, Ext2Inode, Ext2GroupDesc,
// Ext2DirEntry, Ext3ExtentHeader/Ext3Extent/Ext3ExtentIndex) and its
// fs/ext2*.c drivers, since biscuit's own on-disk filesystem
// (biscuit/src/ufs) is a different, non-ext2 format and so only
// supplies the surrounding Go idiom (a mockable in-memory block
// device, the style of a From-disk/To-disk codec), not the layout.
package ext2

import (
	"os"
	"sync"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
)

// BlockDevice is the minimal block-addressed storage interface ext2
// drives. This core ships two implementations: MemDisk (in memory)
// and FileDisk (a disk-image file, used by cmd/osctl's mkfs, fsck
// and stat subcommands).
type BlockDevice interface {
	ReadBlock(n uint32, buf []byte) defs.Err_t
	WriteBlock(n uint32, buf []byte) defs.Err_t
	BlockCount() uint32
	BlockSize() int
}

// MemDisk is an in-memory BlockDevice, standing in for the AHCI/IDE
// block driver spec.md's non-goals exclude ("block device drivers
// beyond an in-memory/test backing are out of scope"). The ext2
// tests format and mount MemDisk; only the FileDisk round-trip test
// uses a file.
type MemDisk struct {
	mu        sync.Mutex
	blockSize int
	blocks    [][]byte
}

// NewMemDisk allocates an all-zero disk of nblocks blocks of size
// blockSize bytes each.
func NewMemDisk(nblocks int, blockSize int) *MemDisk {
	d := &MemDisk{blockSize: blockSize, blocks: make([][]byte, nblocks)}
	for i := range d.blocks {
		d.blocks[i] = make([]byte, blockSize)
	}
	return d
}

func (d *MemDisk) BlockCount() uint32 { return uint32(len(d.blocks)) }
func (d *MemDisk) BlockSize() int     { return d.blockSize }

func (d *MemDisk) ReadBlock(n uint32, buf []byte) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(n) >= len(d.blocks) {
		return -defs.EIO
	}
	copy(buf, d.blocks[n])
	return 0
}

func (d *MemDisk) WriteBlock(n uint32, buf []byte) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(n) >= len(d.blocks) {
		return -defs.EIO
	}
	copy(d.blocks[n], buf)
	return 0
}

// FileDisk is a BlockDevice over a real disk-image file, for
// cmd/osctl's mkfs/fsck/stat subcommands to
// drive the same ext2 code this core's tests exercise against
// MemDisk, just pointed at a file instead of memory.
type FileDisk struct {
	mu        sync.Mutex
	f         *os.File
	blockSize int
	nblocks   uint32
}

// CreateFileDisk truncates (or creates) path to hold nblocks blocks
// of blockSize bytes and wraps it as a BlockDevice.
func CreateFileDisk(path string, nblocks uint32, blockSize int) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(nblocks) * int64(blockSize)); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDisk{f: f, blockSize: blockSize, nblocks: nblocks}, nil
}

// OpenFileDisk opens an existing disk-image file of nblocks blocks of
// blockSize bytes each (the caller already knows the geometry, the
// same way mounting a real block device requires out-of-band
// knowledge of its size before the superblock can even be read).
func OpenFileDisk(path string, nblocks uint32, blockSize int) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &FileDisk{f: f, blockSize: blockSize, nblocks: nblocks}, nil
}

func (d *FileDisk) BlockCount() uint32 { return d.nblocks }
func (d *FileDisk) BlockSize() int     { return d.blockSize }

func (d *FileDisk) ReadBlock(n uint32, buf []byte) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n >= d.nblocks {
		return -defs.EIO
	}
	if _, err := d.f.ReadAt(buf[:d.blockSize], int64(n)*int64(d.blockSize)); err != nil {
		return -defs.EIO
	}
	return 0
}

func (d *FileDisk) WriteBlock(n uint32, buf []byte) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n >= d.nblocks {
		return -defs.EIO
	}
	if _, err := d.f.WriteAt(buf[:d.blockSize], int64(n)*int64(d.blockSize)); err != nil {
		return -defs.EIO
	}
	return 0
}

// Close flushes and closes the backing file.
func (d *FileDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
