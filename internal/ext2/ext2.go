package ext2

import (
	"sync"
	"time"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/vfs"
)

// Filesystem is the in-core ext2 mount state: the superblock, the
// group descriptor table, and the inode cache. It implements
// vfs.Superblock directly, so internal/vfs never needs to know this
// driver exists beyond the FSType it registers.
type Filesystem struct {
	mu        sync.Mutex
	dev       BlockDevice
	blockSize int

	sb     rawSuperblock
	groups []rawGroupDesc

	inodesPerBlock int
	itableBlocks   uint32

	icache map[uint64]*vfs.Inode
	root   *vfs.Inode
}

// FSType is the vfs.FSType this driver registers under the name
// "ext2", for a VFS_t.RegisterType(ext2.FSType) call at boot.
var FSType = &vfs.FSType{Name: "ext2", Mount: mount}

func mount(dev interface{}, data string) (vfs.Superblock, defs.Err_t) {
	bd, ok := dev.(BlockDevice)
	if !ok {
		return nil, -defs.ENODEV
	}
	return Open(bd)
}

// Open reads an existing ext2 filesystem off dev and builds the
// in-core Filesystem state, failing with EIO if the superblock magic
// doesn't match and with ENOTSUP if the superblock sets an incompat
// feature other than filetype.
func Open(dev BlockDevice) (*Filesystem, defs.Err_t) {
	bs := dev.BlockSize()
	fs := &Filesystem{dev: dev, blockSize: bs, icache: make(map[uint64]*vfs.Inode)}

	sbBuf := make([]byte, SuperblockSize)
	sbBlock := uint32(1024 / bs)
	if err := dev.ReadBlock(sbBlock, sbBuf[:bs]); err != 0 {
		return nil, err
	}
	if bs < SuperblockSize {
		// superblock spans more than one block when block size < 1024
		rest := make([]byte, bs)
		if err := dev.ReadBlock(sbBlock+1, rest); err != 0 {
			return nil, err
		}
		copy(sbBuf[bs:], rest)
	}
	if err := fs.sb.decode(sbBuf); err != nil {
		return nil, -defs.EIO
	}
	if fs.sb.Magic != Magic {
		return nil, -defs.EIO
	}
	// Only the filetype incompat feature (0x0002) is understood.
	if fs.sb.RevLevel >= 1 && fs.sb.FeatureIncompat&^0x0002 != 0 {
		return nil, -defs.ENOTSUP
	}
	fs.inodesPerBlock = bs / int(inodeSize(&fs.sb))
	fs.itableBlocks = (fs.sb.InodesPerGroup + uint32(fs.inodesPerBlock) - 1) / uint32(fs.inodesPerBlock)

	groupCount := (fs.sb.BlocksCount + fs.sb.BlocksPerGroup - 1) / fs.sb.BlocksPerGroup
	gdtBlock := fs.sb.FirstDataBlock + 1
	descPerBlock := bs / GroupDescSize
	gdtBlocks := (int(groupCount) + descPerBlock - 1) / descPerBlock
	gdtBuf := make([]byte, gdtBlocks*bs)
	for i := 0; i < gdtBlocks; i++ {
		if err := dev.ReadBlock(gdtBlock+uint32(i), gdtBuf[i*bs:(i+1)*bs]); err != 0 {
			return nil, err
		}
	}
	fs.groups = make([]rawGroupDesc, groupCount)
	for i := range fs.groups {
		if err := fs.groups[i].decode(gdtBuf[i*GroupDescSize : (i+1)*GroupDescSize]); err != nil {
			return nil, -defs.EIO
		}
	}

	root, err := fs.getInode(RootIno)
	if err != 0 {
		return nil, err
	}
	fs.root = root
	return fs, 0
}

func inodeSize(sb *rawSuperblock) uint16 {
	if sb.RevLevel == 0 {
		return OldInodeSize
	}
	return sb.InodeSize
}

// Root returns the filesystem's root directory inode.
func (fs *Filesystem) Root() *vfs.Inode { return fs.root }

func inodeLocation(sb *rawSuperblock, groups []rawGroupDesc, inodesPerBlock, bs int, ino uint64) (group uint32, block uint32, off int) {
	idx := uint32(ino - 1)
	group = idx / sb.InodesPerGroup
	within := idx % sb.InodesPerGroup
	block = groups[group].InodeTable + within/uint32(inodesPerBlock)
	off = int(within%uint32(inodesPerBlock)) * int(inodeSize(sb))
	return
}

func (fs *Filesystem) readRawInode(ino uint64) (*rawInode, defs.Err_t) {
	_, block, off := inodeLocation(&fs.sb, fs.groups, fs.inodesPerBlock, fs.blockSize, ino)
	buf := make([]byte, fs.blockSize)
	if err := fs.dev.ReadBlock(block, buf); err != 0 {
		return nil, err
	}
	var raw rawInode
	if err := raw.decode(buf[off : off+OldInodeSize]); err != nil {
		return nil, -defs.EIO
	}
	return &raw, 0
}

func (fs *Filesystem) writeRawInode(ino uint64, raw *rawInode) defs.Err_t {
	_, block, off := inodeLocation(&fs.sb, fs.groups, fs.inodesPerBlock, fs.blockSize, ino)
	buf := make([]byte, fs.blockSize)
	if err := fs.dev.ReadBlock(block, buf); err != 0 {
		return err
	}
	raw.encode(buf[off : off+OldInodeSize])
	return fs.dev.WriteBlock(block, buf)
}

// getInode loads ino into the in-core cache (or returns the cached
// entry), building a vfs.Inode whose Priv field carries the decoded
// rawInode for blockForOffset/directory code to use.
func (fs *Filesystem) getInode(ino uint64) (*vfs.Inode, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if i, ok := fs.icache[ino]; ok {
		return i, 0
	}
	raw, err := fs.readRawInode(ino)
	if err != 0 {
		return nil, err
	}
	i := &vfs.Inode{
		Sb:    fs,
		Ino:   ino,
		Mode:  uint32(raw.Mode),
		Nlink: uint32(raw.LinksCount),
		Uid:   uint32(raw.Uid),
		Gid:   uint32(raw.Gid),
		Size:  int64(raw.Size),
		Atime: int64(raw.Atime),
		Mtime: int64(raw.Mtime),
		Ctime: int64(raw.Ctime),
		Priv:  raw,
	}
	fs.icache[ino] = i
	return i, 0
}

func now32() uint32 { return uint32(time.Now().Unix()) }

// WriteInode flushes i's in-core fields (and its cached rawInode,
// whose Block array may have just been extended by a write) back to
// the inode table.
func (fs *Filesystem) WriteInode(i *vfs.Inode) defs.Err_t {
	raw, ok := i.Priv.(*rawInode)
	if !ok {
		return -defs.EIO
	}
	raw.Mode = uint16(i.Mode)
	raw.LinksCount = uint16(i.Nlink)
	raw.Uid = uint16(i.Uid)
	raw.Gid = uint16(i.Gid)
	raw.Size = uint32(i.Size)
	raw.Mtime = now32()
	return fs.writeRawInode(i.Ino, raw)
}

// DestroyInode drops i from the in-core cache; ext2 keeps no other
// per-open-inode state, so there is nothing else to release.
func (fs *Filesystem) DestroyInode(i *vfs.Inode) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.icache, i.Ino)
}

// DeleteInode frees every block an unlinked, no-longer-referenced
// inode owned and returns its inode number to the free pool.
func (fs *Filesystem) DeleteInode(i *vfs.Inode) defs.Err_t {
	raw, ok := i.Priv.(*rawInode)
	if !ok {
		return -defs.EIO
	}
	nblocks := (i.Size + int64(fs.blockSize) - 1) / int64(fs.blockSize)
	for lb := int64(0); lb < nblocks; lb++ {
		pb, err := fs.blockForOffset(raw, uint32(lb), false)
		if err == 0 && pb != 0 {
			fs.freeBlock(pb)
		}
	}
	return fs.freeInode(i.Ino, i.IsDir())
}

// Sync is a no-op: MemDisk writes are synchronous, so there is no
// write-back cache to flush. A real block device backing would write
// dirty superblock/group-descriptor state here.
func (fs *Filesystem) Sync() defs.Err_t { return 0 }

// Read copies up to len(dst) bytes of i's data starting at off,
// stopping at i.Size (spec.md: "reads past end-of-file return 0").
func (fs *Filesystem) Read(i *vfs.Inode, dst []byte, off int64) (int, defs.Err_t) {
	raw := i.Priv.(*rawInode)
	if off >= i.Size {
		return 0, 0
	}
	if off+int64(len(dst)) > i.Size {
		dst = dst[:i.Size-off]
	}
	total := 0
	for total < len(dst) {
		lb := uint32((off + int64(total)) / int64(fs.blockSize))
		inBlock := int((off + int64(total)) % int64(fs.blockSize))
		pb, err := fs.blockForOffset(raw, lb, false)
		if err != 0 {
			return total, err
		}
		n := fs.blockSize - inBlock
		if n > len(dst)-total {
			n = len(dst) - total
		}
		if pb == 0 {
			for k := 0; k < n; k++ {
				dst[total+k] = 0
			}
		} else {
			buf := make([]byte, fs.blockSize)
			if err := fs.dev.ReadBlock(pb, buf); err != 0 {
				return total, err
			}
			copy(dst[total:total+n], buf[inBlock:inBlock+n])
		}
		total += n
	}
	return total, 0
}

// Write stores src at offset off in i, allocating blocks as needed
// and growing i.Size when the write extends past it.
func (fs *Filesystem) Write(i *vfs.Inode, src []byte, off int64) (int, defs.Err_t) {
	raw := i.Priv.(*rawInode)
	total := 0
	for total < len(src) {
		lb := uint32((off + int64(total)) / int64(fs.blockSize))
		inBlock := int((off + int64(total)) % int64(fs.blockSize))
		pb, err := fs.blockForOffset(raw, lb, true)
		if err != 0 {
			return total, err
		}
		n := fs.blockSize - inBlock
		if n > len(src)-total {
			n = len(src) - total
		}
		buf := make([]byte, fs.blockSize)
		if err := fs.dev.ReadBlock(pb, buf); err != 0 {
			return total, err
		}
		copy(buf[inBlock:inBlock+n], src[total:total+n])
		if err := fs.dev.WriteBlock(pb, buf); err != 0 {
			return total, err
		}
		total += n
	}
	if off+int64(total) > i.Size {
		i.Size = off + int64(total)
	}
	if err := fs.WriteInode(i); err != 0 {
		return total, err
	}
	return total, 0
}

// Truncate shrinks or grows i to size, freeing any blocks past the
// new end when shrinking.
func (fs *Filesystem) Truncate(i *vfs.Inode, size int64) defs.Err_t {
	raw := i.Priv.(*rawInode)
	if size < i.Size {
		oldBlocks := (i.Size + int64(fs.blockSize) - 1) / int64(fs.blockSize)
		newBlocks := (size + int64(fs.blockSize) - 1) / int64(fs.blockSize)
		for lb := newBlocks; lb < oldBlocks; lb++ {
			pb, err := fs.blockForOffset(raw, uint32(lb), false)
			if err == 0 && pb != 0 {
				fs.freeBlock(pb)
			}
		}
	}
	i.Size = size
	return fs.WriteInode(i)
}
