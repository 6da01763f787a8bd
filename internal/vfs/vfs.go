// Package vfs implements C10, the filesystem-independent core: the
// Superblock/Inode/Dentry abstraction, the mount table, and path
// resolution (spec.md §4.8 "VFS core"). Every on-disk format (ext2)
// and synthetic format (devfs) plugs in by implementing Superblock;
// vfs itself never touches a disk block.
//
// There is no single biscuit file devoted to a generic VFS layer —
// biscuit's fs package wires its vnode cache directly to its one ext2
// driver — so the split here follows os0-kernel's fs/vfs.c shape
// instead: a Superblock per mounted filesystem, an Inode cache keyed
// by {Superblock, inode number}, and a Dentry tree layered on top for
// path lookup, with "." and ".." folded out by bpath before any
// filesystem driver is consulted (spec.md §4.8: "the VFS — not the
// filesystem driver — resolves '.' and '..'").
package vfs

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/davecgh/go-spew/spew"

	"github.com/xnscdev/os0-kernel-sub000/internal/bpath"
	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/fdops"
	"github.com/xnscdev/os0-kernel-sub000/internal/hashtable"
	"github.com/xnscdev/os0-kernel-sub000/internal/ustr"
)

// MaxSymlinks bounds symlink-following recursion (spec.md: "resolving
// a path follows at most 8 symlinks before failing with ELOOP").
const MaxSymlinks = 8

// Dirent_t is one directory entry a Superblock's Readdir returns.
type Dirent_t struct {
	Ino  uint64
	Name ustr.Ustr
	Type uint8
}

// Inode is the filesystem-independent in-core inode: the fields every
// caller (vfs, a process's fstat, ext2) needs regardless of which
// Superblock backs it. Priv holds the driver's private per-inode
// state (e.g. an *ext2.Inode's block pointers).
type Inode struct {
	mu sync.RWMutex

	Sb   Superblock
	Ino  uint64
	Mode uint32
	Nlink uint32
	Uid, Gid uint32
	Size  int64
	Rdev  uint64
	Atime, Mtime, Ctime int64
	Priv  interface{}

	refs int32
}

// Lock/Unlock/RLock/RUnlock expose the inode's content lock directly,
// the way biscuit's Imemnode_t embeds its mutex for fs callers to
// take around multi-step updates (truncate-then-write, etc).
func (i *Inode) Lock()    { i.mu.Lock() }
func (i *Inode) Unlock()  { i.mu.Unlock() }
func (i *Inode) RLock()   { i.mu.RLock() }
func (i *Inode) RUnlock() { i.mu.RUnlock() }

// IsDir/IsReg/IsLnk/IsChr classify an inode by its mode's file-type bits.
func (i *Inode) IsDir() bool { return i.Mode&defs.S_IFMT == defs.S_IFDIR }
func (i *Inode) IsReg() bool { return i.Mode&defs.S_IFMT == defs.S_IFREG }
func (i *Inode) IsLnk() bool { return i.Mode&defs.S_IFMT == defs.S_IFLNK }
func (i *Inode) IsChr() bool { return i.Mode&defs.S_IFMT == defs.S_IFCHR }

// Ref/Unref implement inode refcounting: the last Unref asks the
// owning Superblock to destroy its in-core state, and — if the link
// count has dropped to zero (spec.md: "an unlinked-but-open file is
// destroyed when its last reference closes") — to delete the inode
// from disk.
func (i *Inode) Ref() { atomic.AddInt32(&i.refs, 1) }

func (i *Inode) Unref() defs.Err_t {
	if atomic.AddInt32(&i.refs, -1) > 0 {
		return 0
	}
	i.Sb.DestroyInode(i)
	if i.Nlink == 0 {
		return i.Sb.DeleteInode(i)
	}
	return 0
}

// Dentry is a name bound to an Inode within a directory tree; it is
// the unit the path-resolution cache stores, distinct from the Inode
// it names so the same inode can be reached by more than one hard
// link.
type Dentry struct {
	Name   ustr.Ustr
	Inode  *Inode
	Parent *Dentry
}

// Superblock is the interface every filesystem driver (ext2, devfs)
// implements; vfs calls it for every directory-tree operation once a
// path has been split into a parent dentry plus a name.
type Superblock interface {
	// Root returns the filesystem's root inode.
	Root() *Inode
	Lookup(dir *Inode, name ustr.Ustr) (*Inode, defs.Err_t)
	Create(dir *Inode, name ustr.Ustr, mode uint32) (*Inode, defs.Err_t)
	Mkdir(dir *Inode, name ustr.Ustr, mode uint32) (*Inode, defs.Err_t)
	Unlink(dir *Inode, name ustr.Ustr) defs.Err_t
	Rmdir(dir *Inode, name ustr.Ustr) defs.Err_t
	Link(dir *Inode, name ustr.Ustr, target *Inode) defs.Err_t
	Symlink(dir *Inode, name ustr.Ustr, target ustr.Ustr) (*Inode, defs.Err_t)
	Readlink(i *Inode) (ustr.Ustr, defs.Err_t)
	Readdir(dir *Inode, cursor int) ([]Dirent_t, int, defs.Err_t)
	Read(i *Inode, dst []byte, off int64) (int, defs.Err_t)
	Write(i *Inode, src []byte, off int64) (int, defs.Err_t)
	Truncate(i *Inode, size int64) defs.Err_t
	WriteInode(i *Inode) defs.Err_t
	DestroyInode(i *Inode)
	DeleteInode(i *Inode) defs.Err_t
	Sync() defs.Err_t
	// Fops builds the Fdops_i an open(2) of i should install in the
	// caller's descriptor table; regular/dir superblocks return a
	// file-backed implementation, devfs returns the device's own.
	Fops(i *Inode) fdops.Fdops_i
}

// FSType names a mountable filesystem driver and its factory.
type FSType struct {
	Name  string
	Mount func(dev interface{}, data string) (Superblock, defs.Err_t)
}

// mountEntry records one mounted filesystem: its Superblock, the
// dentry of its root, and the dentry it covers (nil for the root
// mount).
type mountEntry struct {
	Sb      Superblock
	Root    *Dentry
	Covered *Dentry
}

// VFS_t is the whole-kernel filesystem namespace: the mount table,
// the registered filesystem types, and the dentry cache.
type VFS_t struct {
	mu      sync.RWMutex
	types   map[string]*FSType
	mounts  map[*Inode]*mountEntry // keyed by the covered directory's inode
	rootmnt *mountEntry
	dcache  *hashtable.Hashtable_t[string, *Dentry]
}

// New builds an empty, unmounted VFS_t.
func New() *VFS_t {
	return &VFS_t{
		types:  make(map[string]*FSType),
		mounts: make(map[*Inode]*mountEntry),
		dcache: hashtable.MkHash[string, *Dentry](512),
	}
}

// RegisterType adds a mountable filesystem driver, the way os0-kernel's
// fs/vfs.c keeps a static table of {name, mount_fn} pairs.
func (v *VFS_t) RegisterType(t *FSType) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.types[t.Name] = t
}

// MountRoot mounts fstype as "/", the first mount every boot performs
// before any path can resolve at all.
func (v *VFS_t) MountRoot(fstype string, dev interface{}, data string) defs.Err_t {
	v.mu.Lock()
	defer v.mu.Unlock()
	t, ok := v.types[fstype]
	if !ok {
		return -defs.ENODEV
	}
	sb, err := t.Mount(dev, data)
	if err != 0 {
		return err
	}
	root := sb.Root()
	me := &mountEntry{Sb: sb, Root: &Dentry{Name: ustr.MkUstrRoot(), Inode: root}}
	v.rootmnt = me
	return 0
}

// Mount grafts fstype onto the directory dentry dir (already resolved
// by the caller), the way mount(2) covers an existing directory with
// a fresh filesystem's root.
func (v *VFS_t) Mount(dir *Dentry, fstype string, dev interface{}, data string) defs.Err_t {
	if !dir.Inode.IsDir() {
		return -defs.ENOTDIR
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	t, ok := v.types[fstype]
	if !ok {
		return -defs.ENODEV
	}
	sb, err := t.Mount(dev, data)
	if err != 0 {
		return err
	}
	v.mounts[dir.Inode] = &mountEntry{Sb: sb, Root: &Dentry{Name: dir.Name, Inode: sb.Root(), Parent: dir.Parent}, Covered: dir}
	return 0
}

// Unmount removes the mount covering dir, failing with EINVAL if
// nothing is mounted there.
func (v *VFS_t) Unmount(dir *Dentry) defs.Err_t {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.mounts[dir.Inode]; !ok {
		return -defs.EINVAL
	}
	delete(v.mounts, dir.Inode)
	return 0
}

// Root returns the dentry of the filesystem root; callers must
// MountRoot before calling this.
func (v *VFS_t) Root() *Dentry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.rootmnt.Root
}

// crossMount substitutes a mounted-over directory's dentry for the
// mount's root dentry, the way a path walk transparently steps onto
// the covering filesystem when it passes through a mountpoint.
func (v *VFS_t) crossMount(d *Dentry) *Dentry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if me, ok := v.mounts[d.Inode]; ok {
		return me.Root
	}
	return d
}

func cacheKey(parent *Inode, name ustr.Ustr) string {
	return fmt.Sprintf("%p/%s", parent, name.String())
}

// lookupChild resolves one path component under parent, consulting
// (and populating) the dentry cache before asking the Superblock.
func (v *VFS_t) lookupChild(parent *Dentry, name ustr.Ustr) (*Dentry, defs.Err_t) {
	if !parent.Inode.IsDir() {
		return nil, -defs.ENOTDIR
	}
	key := cacheKey(parent.Inode, name)
	if d, ok := v.dcache.Get(key); ok {
		return v.crossMount(d), 0
	}
	ino, err := parent.Inode.Sb.Lookup(parent.Inode, name)
	if err != 0 {
		return nil, err
	}
	d := &Dentry{Name: name, Inode: ino, Parent: parent}
	v.dcache.Set(key, d)
	return v.crossMount(d), 0
}

// invalidate drops a cached child entry, for callers (unlink, rmdir,
// rename) that change what a name resolves to.
func (v *VFS_t) invalidate(parent *Dentry, name ustr.Ustr) {
	v.dcache.Del(cacheKey(parent.Inode, name))
}

// Resolve walks path starting from cwd (ignored if path is absolute),
// handling mount crossing and following at most MaxSymlinks symlinks.
// "." and ".." are folded out lexically by bpath before any
// Superblock is consulted, per spec.md §4.8.
func (v *VFS_t) Resolve(cwd *Dentry, path ustr.Ustr, followFinal bool) (*Dentry, defs.Err_t) {
	return v.resolve(cwd, path, followFinal, 0)
}

func (v *VFS_t) resolve(cwd *Dentry, path ustr.Ustr, followFinal bool, depth int) (*Dentry, defs.Err_t) {
	if depth > MaxSymlinks {
		return nil, -defs.ELOOP
	}
	comps := bpath.Components(path)
	cur := cwd
	if path.IsAbsolute() || cwd == nil {
		cur = v.Root()
	}
	for i, name := range comps {
		child, err := v.lookupChild(cur, name)
		if err != 0 {
			return nil, err
		}
		last := i == len(comps)-1
		if child.Inode.IsLnk() && (!last || followFinal) {
			target, err := child.Inode.Sb.Readlink(child.Inode)
			if err != 0 {
				return nil, err
			}
			base := cur
			if target.IsAbsolute() {
				base = nil
			}
			resolved, err := v.resolve(base, target, true, depth+1)
			if err != 0 {
				return nil, err
			}
			cur = resolved
			continue
		}
		cur = child
	}
	return cur, 0
}

// Access permission bits, matching access(2)'s R_OK/W_OK/X_OK.
const (
	R_OK = 0x4
	W_OK = 0x2
	X_OK = 0x1
)

// Access checks uid/gid against inode's owner/group/other mode bits
// for the requested permission bits, the way os0-kernel's
// fs/permission.c does (root bypasses every check).
func Access(i *Inode, uid, gid uint32, want int) defs.Err_t {
	if uid == 0 {
		return 0
	}
	i.RLock()
	mode := i.Mode
	owner, group := i.Uid, i.Gid
	i.RUnlock()

	var bits uint32
	switch {
	case uid == owner:
		bits = (mode >> 6) & 07
	case gid == group:
		bits = (mode >> 3) & 07
	default:
		bits = mode & 07
	}
	if uint32(want)&bits != uint32(want) {
		return -defs.EACCES
	}
	return 0
}

// Open resolves path for open(2) semantics: O_CREAT makes a missing
// leaf (failing with EEXIST if O_EXCL also set and it already
// exists), O_DIRECTORY demands the result be a directory, and
// O_NOFOLLOW refuses to follow a symlink leaf.
func (v *VFS_t) Open(cwd *Dentry, path ustr.Ustr, flags int, mode uint32, uid, gid uint32) (*Dentry, defs.Err_t) {
	followFinal := flags&defs.O_NOFOLLOW == 0
	d, err := v.Resolve(cwd, path, followFinal)
	if err == 0 {
		if flags&defs.O_CREAT != 0 && flags&defs.O_EXCL != 0 {
			return nil, -defs.EEXIST
		}
		if flags&defs.O_DIRECTORY != 0 && !d.Inode.IsDir() {
			return nil, -defs.ENOTDIR
		}
		want := R_OK
		if flags&defs.O_ACCMODE == defs.O_WRONLY || flags&defs.O_ACCMODE == defs.O_RDWR {
			want |= W_OK
		}
		if perr := Access(d.Inode, uid, gid, want); perr != 0 {
			return nil, perr
		}
		return d, 0
	}
	if err != -defs.ENOENT || flags&defs.O_CREAT == 0 {
		return nil, err
	}

	dir := bpath.Dir(path)
	leaf := bpath.Base(path)
	parent, perr := v.Resolve(cwd, dir, true)
	if perr != 0 {
		return nil, perr
	}
	if aerr := Access(parent.Inode, uid, gid, W_OK|X_OK); aerr != 0 {
		return nil, aerr
	}
	ino, cerr := parent.Inode.Sb.Create(parent.Inode, leaf, mode)
	if cerr != 0 {
		return nil, cerr
	}
	child := &Dentry{Name: leaf, Inode: ino, Parent: parent}
	v.dcache.Set(cacheKey(parent.Inode, leaf), child)
	return child, 0
}

// Mkdir creates a directory at path, failing with EEXIST if the leaf
// already exists.
func (v *VFS_t) Mkdir(cwd *Dentry, path ustr.Ustr, mode uint32, uid, gid uint32) defs.Err_t {
	if _, err := v.Resolve(cwd, path, true); err == 0 {
		return -defs.EEXIST
	}
	dir := bpath.Dir(path)
	leaf := bpath.Base(path)
	parent, err := v.Resolve(cwd, dir, true)
	if err != 0 {
		return err
	}
	if aerr := Access(parent.Inode, uid, gid, W_OK|X_OK); aerr != 0 {
		return aerr
	}
	ino, err := parent.Inode.Sb.Mkdir(parent.Inode, leaf, mode)
	if err != 0 {
		return err
	}
	v.dcache.Set(cacheKey(parent.Inode, leaf), &Dentry{Name: leaf, Inode: ino, Parent: parent})
	return 0
}

// Unlink removes a non-directory name from its parent.
func (v *VFS_t) Unlink(cwd *Dentry, path ustr.Ustr, uid, gid uint32) defs.Err_t {
	dir := bpath.Dir(path)
	leaf := bpath.Base(path)
	parent, err := v.Resolve(cwd, dir, true)
	if err != 0 {
		return err
	}
	if aerr := Access(parent.Inode, uid, gid, W_OK|X_OK); aerr != 0 {
		return aerr
	}
	if err := parent.Inode.Sb.Unlink(parent.Inode, leaf); err != 0 {
		return err
	}
	v.invalidate(parent, leaf)
	return 0
}

// Rmdir removes an empty directory name from its parent.
func (v *VFS_t) Rmdir(cwd *Dentry, path ustr.Ustr, uid, gid uint32) defs.Err_t {
	dir := bpath.Dir(path)
	leaf := bpath.Base(path)
	parent, err := v.Resolve(cwd, dir, true)
	if err != 0 {
		return err
	}
	if aerr := Access(parent.Inode, uid, gid, W_OK|X_OK); aerr != 0 {
		return aerr
	}
	if err := parent.Inode.Sb.Rmdir(parent.Inode, leaf); err != 0 {
		return err
	}
	v.invalidate(parent, leaf)
	return 0
}

// Dump renders a dentry's subtree for debug logging via go-spew, the
// way a panic handler might dump kernel state before halting.
func Dump(d *Dentry) string {
	return spew.Sdump(d)
}
