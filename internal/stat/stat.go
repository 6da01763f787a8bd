// Package stat implements the POSIX stat(2) result and its on-the-
// wire encoding for copy-to-user. Grounded on biscuit/src/stat/
// stat.go's field set, rewritten to encode via encoding/binary
// instead of an unsafe.Sizeof/pointer-cast trick: this core's
// "physical memory" is already a plain Go byte slice (internal/mem),
// so there is no alignment mismatch an unsafe cast would be working
// around, and binary.Write keeps the layout explicit.
package stat

import (
	"bytes"
	"encoding/binary"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
)

// wireStat is the little-endian, fixed-layout struct copied to user
// memory by fstat/stat/lstat, following the classic i386 struct stat
// field order closely enough for a libc shim to consume directly.
type wireStat struct {
	Dev, Ino      uint64
	Mode          uint32
	Nlink         uint32
	Uid, Gid      uint32
	Rdev          uint64
	Size          int64
	Blksize       int64
	Blocks        int64
	Atime, Mtime, Ctime int64
}

// Size is the encoded length in bytes, for callers sizing a user
// buffer before calling Fstat.
const Size = 8 + 8 + 4 + 4 + 4 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 8

// Stat_t is the in-memory form of a stat(2) result, filled in by a
// filesystem's Fstat implementation from its on-disk inode.
type Stat_t struct {
	Dev, Ino     uint64
	Mode         uint32
	Nlink        uint32
	Uid, Gid     uint32
	Rdev         uint64
	Size         int64
	Blksize      int64
	Blocks       int64
	Atime, Mtime, Ctime int64
}

// Wdev sets the device id.
func (s *Stat_t) Wdev(v uint64) { s.Dev = v }

// Wino sets the inode number.
func (s *Stat_t) Wino(v uint64) { s.Ino = v }

// Wmode sets the mode (type bits + permission bits).
func (s *Stat_t) Wmode(v uint32) { s.Mode = v }

// Wsize sets the file size in bytes.
func (s *Stat_t) Wsize(v int64) { s.Size = v }

// Wrdev sets the device id a character/block special file names.
func (s *Stat_t) Wrdev(v uint64) { s.Rdev = v }

// IsDir reports whether the S_IFDIR bit is set.
func (s *Stat_t) IsDir() bool { return s.Mode&defs.S_IFMT == defs.S_IFDIR }

// Bytes encodes s into its fixed little-endian wire form, ready for
// AS_t.K2user.
func (s *Stat_t) Bytes() []byte {
	w := wireStat{
		Dev: s.Dev, Ino: s.Ino, Mode: s.Mode, Nlink: s.Nlink,
		Uid: s.Uid, Gid: s.Gid, Rdev: s.Rdev, Size: s.Size,
		Blksize: s.Blksize, Blocks: s.Blocks,
		Atime: s.Atime, Mtime: s.Mtime, Ctime: s.Ctime,
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &w); err != nil {
		panic("stat: fixed-layout struct must always encode: " + err.Error())
	}
	return buf.Bytes()
}
