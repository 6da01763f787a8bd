package ext2

import (
	"sync"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/fdops"
	"github.com/xnscdev/os0-kernel-sub000/internal/stat"
	"github.com/xnscdev/os0-kernel-sub000/internal/vfs"
)

// file is the fdops.Fdops_i an open(2) of an ext2-backed inode
// installs in a process's descriptor table. Its own off field is the
// file position; Copyfd's Reopen shares the same *file (and so the
// same position) between dup'd descriptors, matching spec.md's
// "dup'd descriptors share the underlying open file."
type file struct {
	mu   sync.Mutex
	fs   *Filesystem
	ino  *vfs.Inode
	off  int64
	refs int32
}

// Fops builds the Fdops_i for i, taking a reference that Close
// releases.
func (fs *Filesystem) Fops(i *vfs.Inode) fdops.Fdops_i {
	i.Ref()
	return &file{fs: fs, ino: i, refs: 1}
}

func (f *file) Close() defs.Err_t {
	f.mu.Lock()
	f.refs--
	done := f.refs <= 0
	f.mu.Unlock()
	if done {
		return f.ino.Unref()
	}
	return 0
}

func (f *file) Reopen() defs.Err_t {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
	f.ino.Ref()
	return 0
}

func (f *file) Lseek(off int, whence int) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case defs.SEEK_SET:
		f.off = int64(off)
	case defs.SEEK_CUR:
		f.off += int64(off)
	case defs.SEEK_END:
		f.off = f.ino.Size + int64(off)
	default:
		return 0, -defs.EINVAL
	}
	if f.off < 0 {
		f.off = 0
		return 0, -defs.EINVAL
	}
	return int(f.off), 0
}

func (f *file) Pread(dst []byte, off int64) (int, defs.Err_t) {
	return f.fs.Read(f.ino, dst, off)
}

func (f *file) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	off := f.off
	f.mu.Unlock()
	buf := make([]byte, dst.Remain())
	n, err := f.fs.Read(f.ino, buf, off)
	if err != 0 {
		return 0, err
	}
	got, err := dst.Uiowrite(buf[:n])
	if err != 0 {
		return got, err
	}
	f.mu.Lock()
	f.off += int64(got)
	f.mu.Unlock()
	return got, 0
}

func (f *file) Write(src fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]byte, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	f.mu.Lock()
	off := f.off
	f.mu.Unlock()
	written, err := f.fs.Write(f.ino, buf[:n], off)
	if err != 0 {
		return written, err
	}
	f.mu.Lock()
	f.off += int64(written)
	f.mu.Unlock()
	return written, 0
}

func (f *file) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wino(f.ino.Ino)
	st.Wmode(f.ino.Mode)
	st.Wsize(f.ino.Size)
	return 0
}
