// Package fd implements the open-file-descriptor table entry and a
// process's working-directory tracker. Grounded on biscuit/src/fd/
// fd.go, generalized to this core's fdops.Fdops_i vtable and
// bpath-based canonicalization.
package fd

import (
	"sync"

	"github.com/xnscdev/os0-kernel-sub000/internal/bpath"
	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/fdops"
	"github.com/xnscdev/os0-kernel-sub000/internal/ustr"
	"github.com/xnscdev/os0-kernel-sub000/internal/vfs"
)

// Permission bits recorded alongside an open file's operation table.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fd_t is one process's slot in its open-file table. Several Fd_t
// values (one per fd number) can point at the same Fops when
// dup/fork share an open file, matching spec.md's "Dup'd descriptors
// share the underlying open file."
type Fd_t struct {
	Fops  fdops.Fdops_i
	Perms int
}

// Copyfd duplicates fd by asking its Fops to account for one more
// reference (Reopen), returning a new Fd_t pointing at the same
// underlying open file.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// ClosePanic closes f and panics if the underlying Fops reports
// failure, for call sites (process teardown) where a close failure
// would indicate corrupted kernel bookkeeping rather than a
// recoverable user error.
func ClosePanic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("fd: close must succeed")
	}
}

// Cwd_t tracks a process's current working directory: the open
// directory fd (for fstat/fchdir-style use), the resolved dentry
// (what internal/vfs.Resolve actually walks relative paths from),
// and the canonical path string (for getcwd).
type Cwd_t struct {
	sync.Mutex
	Fd     *Fd_t
	Dentry *vfs.Dentry
	Path   ustr.Ustr
}

// Fullpath joins cwd with p, unless p is already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	return cwd.Path.Extend(p)
}

// Canonicalpath resolves "." and ".." components of p relative to
// cwd purely lexically, via bpath.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	return bpath.Canonicalize(cwd.Fullpath(p))
}

// MkRootCwd builds a Cwd_t rooted at "/" with the given open
// directory fd (the mount table's root inode, opened once at boot).
func MkRootCwd(rootfd *Fd_t) *Cwd_t {
	return &Cwd_t{Fd: rootfd, Path: ustr.MkUstrRoot()}
}

// MkCwd builds a Cwd_t rooted at dentry/path, for a process whose
// working directory is a resolved VFS location rather than the
// global root.
func MkCwd(rootfd *Fd_t, dentry *vfs.Dentry, path ustr.Ustr) *Cwd_t {
	return &Cwd_t{Fd: rootfd, Dentry: dentry, Path: path}
}

// Clone copies cwd's fields into a fresh Cwd_t (fork inherits the
// parent's working directory by value, not by shared pointer, so a
// later chdir in one process never moves the other's).
func (cwd *Cwd_t) Clone() *Cwd_t {
	cwd.Lock()
	defer cwd.Unlock()
	return &Cwd_t{Fd: cwd.Fd, Dentry: cwd.Dentry, Path: append(ustr.Ustr{}, cwd.Path...)}
}
