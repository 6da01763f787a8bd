package ext2

import (
	"encoding/binary"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/ustr"
	"github.com/xnscdev/os0-kernel-sub000/internal/vfs"
)

func decodeDirHeader(buf []byte, off int) rawDirEntry {
	var de rawDirEntry
	de.Inode = binary.LittleEndian.Uint32(buf[off:])
	de.RecLen = binary.LittleEndian.Uint16(buf[off+4:])
	de.NameLen = buf[off+6]
	de.FileType = buf[off+7]
	return de
}

func encodeDirHeader(buf []byte, off int, de rawDirEntry) {
	binary.LittleEndian.PutUint32(buf[off:], de.Inode)
	binary.LittleEndian.PutUint16(buf[off+4:], de.RecLen)
	buf[off+6] = de.NameLen
	buf[off+7] = de.FileType
}

func (fs *Filesystem) readDirBlock(dir *vfs.Inode, lb uint32) ([]byte, defs.Err_t) {
	raw := dir.Priv.(*rawInode)
	pb, err := fs.blockForOffset(raw, lb, false)
	if err != 0 {
		return nil, err
	}
	buf := make([]byte, fs.blockSize)
	if pb == 0 {
		return buf, 0
	}
	if err := fs.dev.ReadBlock(pb, buf); err != 0 {
		return nil, err
	}
	return buf, 0
}

func (fs *Filesystem) writeDirBlock(dir *vfs.Inode, lb uint32, buf []byte) defs.Err_t {
	raw := dir.Priv.(*rawInode)
	pb, err := fs.blockForOffset(raw, lb, true)
	if err != 0 {
		return err
	}
	if err := fs.dev.WriteBlock(pb, buf); err != 0 {
		return err
	}
	if int64(lb+1)*int64(fs.blockSize) > dir.Size {
		dir.Size = int64(lb+1) * int64(fs.blockSize)
		return fs.WriteInode(dir)
	}
	return 0
}

func dirBlockCount(dir *vfs.Inode, blockSize int) uint32 {
	return uint32((dir.Size + int64(blockSize) - 1) / int64(blockSize))
}

// Lookup scans dir's directory entries for name, matching
// os0-kernel's fs/ext2/dir.c linear scan (this core favors small
// directories over hashed-index lookup, per spec.md's scope).
func (fs *Filesystem) Lookup(dir *vfs.Inode, name ustr.Ustr) (*vfs.Inode, defs.Err_t) {
	n := dirBlockCount(dir, fs.blockSize)
	for lb := uint32(0); lb < n; lb++ {
		buf, err := fs.readDirBlock(dir, lb)
		if err != 0 {
			return nil, err
		}
		off := 0
		for off+dirEntryHeaderLen <= fs.blockSize {
			de := decodeDirHeader(buf, off)
			if de.RecLen == 0 {
				break
			}
			if de.Inode != 0 && ustr.Ustr(buf[off+dirEntryHeaderLen:off+dirEntryHeaderLen+int(de.NameLen)]).Eq(name) {
				return fs.getInode(uint64(de.Inode))
			}
			off += int(de.RecLen)
		}
	}
	return nil, -defs.ENOENT
}

// addDirEntry inserts a {ino, name, ftype} entry into dir, reusing
// tombstoned space or an existing entry's padding slack before
// allocating a fresh block, matching the space-reuse strategy
// os0-kernel's fs/ext2/dir.c block_iterate insert pass uses.
func (fs *Filesystem) addDirEntry(dir *vfs.Inode, name ustr.Ustr, ino uint32, ftype uint8) defs.Err_t {
	needed := direntPaddedLen(len(name))
	n := dirBlockCount(dir, fs.blockSize)
	for lb := uint32(0); lb < n; lb++ {
		buf, err := fs.readDirBlock(dir, lb)
		if err != 0 {
			return err
		}
		off := 0
		for off+dirEntryHeaderLen <= fs.blockSize {
			de := decodeDirHeader(buf, off)
			if de.RecLen == 0 {
				break
			}
			if de.Inode == 0 && de.RecLen >= needed {
				encodeDirHeader(buf, off, rawDirEntry{Inode: ino, RecLen: de.RecLen, NameLen: uint8(len(name)), FileType: ftype})
				copy(buf[off+dirEntryHeaderLen:], name)
				return fs.writeDirBlock(dir, lb, buf)
			}
			used := direntPaddedLen(int(de.NameLen))
			if de.Inode != 0 && de.RecLen-used >= needed {
				newOff := off + int(used)
				newLen := de.RecLen - used
				de.RecLen = used
				encodeDirHeader(buf, off, de)
				encodeDirHeader(buf, newOff, rawDirEntry{Inode: ino, RecLen: newLen, NameLen: uint8(len(name)), FileType: ftype})
				copy(buf[newOff+dirEntryHeaderLen:], name)
				return fs.writeDirBlock(dir, lb, buf)
			}
			off += int(de.RecLen)
		}
	}
	buf := make([]byte, fs.blockSize)
	encodeDirHeader(buf, 0, rawDirEntry{Inode: ino, RecLen: uint16(fs.blockSize), NameLen: uint8(len(name)), FileType: ftype})
	copy(buf[dirEntryHeaderLen:], name)
	return fs.writeDirBlock(dir, n, buf)
}

// removeDirEntry tombstones name's entry, merging its space into the
// previous entry's RecLen when one shares the block (so the freed
// slack is immediately reusable by the next addDirEntry).
func (fs *Filesystem) removeDirEntry(dir *vfs.Inode, name ustr.Ustr) defs.Err_t {
	n := dirBlockCount(dir, fs.blockSize)
	for lb := uint32(0); lb < n; lb++ {
		buf, err := fs.readDirBlock(dir, lb)
		if err != 0 {
			return err
		}
		off := 0
		prevOff := -1
		for off+dirEntryHeaderLen <= fs.blockSize {
			de := decodeDirHeader(buf, off)
			if de.RecLen == 0 {
				break
			}
			if de.Inode != 0 && ustr.Ustr(buf[off+dirEntryHeaderLen:off+dirEntryHeaderLen+int(de.NameLen)]).Eq(name) {
				if prevOff >= 0 {
					prev := decodeDirHeader(buf, prevOff)
					prev.RecLen += de.RecLen
					encodeDirHeader(buf, prevOff, prev)
				} else {
					de.Inode = 0
					encodeDirHeader(buf, off, de)
				}
				return fs.dev.WriteBlock(mustBlock(fs, dir, lb), buf)
			}
			prevOff = off
			off += int(de.RecLen)
		}
	}
	return -defs.ENOENT
}

func mustBlock(fs *Filesystem, dir *vfs.Inode, lb uint32) uint32 {
	raw := dir.Priv.(*rawInode)
	pb, _ := fs.blockForOffset(raw, lb, false)
	return pb
}

// Readdir lists dir's non-tombstoned entries starting at the index
// cursor counts; it always returns every remaining entry in one call
// and reports -1 as the next cursor (no further batching), since this
// core's directories are small enough that paging them is unneeded.
func (fs *Filesystem) Readdir(dir *vfs.Inode, cursor int) ([]vfs.Dirent_t, int, defs.Err_t) {
	if cursor < 0 {
		return nil, -1, 0
	}
	var out []vfs.Dirent_t
	idx := 0
	n := dirBlockCount(dir, fs.blockSize)
	for lb := uint32(0); lb < n; lb++ {
		buf, err := fs.readDirBlock(dir, lb)
		if err != 0 {
			return nil, 0, err
		}
		off := 0
		for off+dirEntryHeaderLen <= fs.blockSize {
			de := decodeDirHeader(buf, off)
			if de.RecLen == 0 {
				break
			}
			if de.Inode != 0 {
				if idx >= cursor {
					name := make(ustr.Ustr, de.NameLen)
					copy(name, buf[off+dirEntryHeaderLen:off+dirEntryHeaderLen+int(de.NameLen)])
					out = append(out, vfs.Dirent_t{Ino: uint64(de.Inode), Name: name, Type: de.FileType})
				}
				idx++
			}
			off += int(de.RecLen)
		}
	}
	return out, -1, 0
}

func fileTypeOf(mode uint32) uint8 {
	switch mode & defs.S_IFMT {
	case defs.S_IFDIR:
		return FtDir
	case defs.S_IFCHR:
		return FtChr
	case defs.S_IFBLK:
		return FtBlk
	case defs.S_IFIFO:
		return FtFifo
	case defs.S_IFSOCK:
		return FtSock
	case defs.S_IFLNK:
		return FtLnk
	default:
		return FtReg
	}
}

func (fs *Filesystem) newInode(mode uint16, nlink uint16) (*vfs.Inode, *rawInode, defs.Err_t) {
	ino, err := fs.allocInode(mode&defs.S_IFMT == defs.S_IFDIR)
	if err != 0 {
		return nil, nil, err
	}
	raw := &rawInode{Mode: mode, LinksCount: nlink, Atime: now32(), Ctime: now32(), Mtime: now32()}
	if err := fs.writeRawInode(ino, raw); err != 0 {
		return nil, nil, err
	}
	vi := &vfs.Inode{Sb: fs, Ino: ino, Mode: uint32(mode), Nlink: uint32(nlink), Priv: raw}
	fs.mu.Lock()
	fs.icache[ino] = vi
	fs.mu.Unlock()
	return vi, raw, 0
}

// Create makes a new regular file named name in dir.
func (fs *Filesystem) Create(dir *vfs.Inode, name ustr.Ustr, mode uint32) (*vfs.Inode, defs.Err_t) {
	vi, _, err := fs.newInode(uint16(defs.S_IFREG|(mode&0777)), 1)
	if err != 0 {
		return nil, err
	}
	if err := fs.addDirEntry(dir, name, uint32(vi.Ino), FtReg); err != 0 {
		return nil, err
	}
	return vi, 0
}

// Mkdir makes a new subdirectory named name in dir, populating its
// "." and ".." entries and bumping dir's link count for the new
// ".." reference.
func (fs *Filesystem) Mkdir(dir *vfs.Inode, name ustr.Ustr, mode uint32) (*vfs.Inode, defs.Err_t) {
	vi, _, err := fs.newInode(uint16(defs.S_IFDIR|(mode&0777)), 2)
	if err != 0 {
		return nil, err
	}
	if err := fs.addDirEntry(vi, ustr.MkUstrDot(), uint32(vi.Ino), FtDir); err != 0 {
		return nil, err
	}
	if err := fs.addDirEntry(vi, ustr.DotDot, uint32(dir.Ino), FtDir); err != 0 {
		return nil, err
	}
	if err := fs.addDirEntry(dir, name, uint32(vi.Ino), FtDir); err != 0 {
		return nil, err
	}
	dir.Nlink++
	if err := fs.WriteInode(dir); err != 0 {
		return nil, err
	}
	return vi, 0
}

// Unlink removes a non-directory name from dir.
func (fs *Filesystem) Unlink(dir *vfs.Inode, name ustr.Ustr) defs.Err_t {
	child, err := fs.Lookup(dir, name)
	if err != 0 {
		return err
	}
	if child.IsDir() {
		return -defs.EISDIR
	}
	if err := fs.removeDirEntry(dir, name); err != 0 {
		return err
	}
	child.Nlink--
	return fs.WriteInode(child)
}

// Rmdir removes an empty subdirectory named name from dir.
func (fs *Filesystem) Rmdir(dir *vfs.Inode, name ustr.Ustr) defs.Err_t {
	child, err := fs.Lookup(dir, name)
	if err != 0 {
		return err
	}
	if !child.IsDir() {
		return -defs.ENOTDIR
	}
	entries, _, err := fs.Readdir(child, 0)
	if err != 0 {
		return err
	}
	for _, e := range entries {
		if !e.Name.Isdot() && !e.Name.Isdotdot() {
			return -defs.ENOTEMPTY
		}
	}
	if err := fs.removeDirEntry(dir, name); err != 0 {
		return err
	}
	dir.Nlink--
	if err := fs.WriteInode(dir); err != 0 {
		return err
	}
	child.Nlink = 0
	return fs.WriteInode(child)
}

// Link adds another name (a hard link) for target within dir.
// Directories can never be hard-linked (spec.md: "link(2) on a
// directory fails with EPERM").
func (fs *Filesystem) Link(dir *vfs.Inode, name ustr.Ustr, target *vfs.Inode) defs.Err_t {
	if target.IsDir() {
		return -defs.EPERM
	}
	if err := fs.addDirEntry(dir, name, uint32(target.Ino), fileTypeOf(target.Mode)); err != 0 {
		return err
	}
	target.Nlink++
	return fs.WriteInode(target)
}

// Symlink creates a symbolic link named name in dir whose target path
// text is stored as the new inode's file data.
func (fs *Filesystem) Symlink(dir *vfs.Inode, name ustr.Ustr, target ustr.Ustr) (*vfs.Inode, defs.Err_t) {
	vi, _, err := fs.newInode(uint16(defs.S_IFLNK|0777), 1)
	if err != 0 {
		return nil, err
	}
	if _, err := fs.Write(vi, target, 0); err != 0 {
		return nil, err
	}
	if err := fs.addDirEntry(dir, name, uint32(vi.Ino), FtLnk); err != 0 {
		return nil, err
	}
	return vi, 0
}

// Readlink returns the path text stored in a symlink inode's data.
func (fs *Filesystem) Readlink(i *vfs.Inode) (ustr.Ustr, defs.Err_t) {
	buf := make([]byte, i.Size)
	n, err := fs.Read(i, buf, 0)
	if err != 0 {
		return nil, err
	}
	return ustr.Ustr(buf[:n]), 0
}
