package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/fdops"
	"github.com/xnscdev/os0-kernel-sub000/internal/ustr"
)

// memSb is a minimal in-memory Superblock used only to exercise vfs's
// path resolution, mount crossing, and permission logic without
// depending on internal/ext2.
type memSb struct {
	nextIno uint64
	inodes  map[uint64]*memInode
	root    *Inode
}

type memInode struct {
	ino      *Inode
	children map[string]uint64
	data     []byte
	link     ustr.Ustr
}

func newMemSb() *memSb {
	sb := &memSb{inodes: make(map[uint64]*memInode)}
	root := &Inode{Ino: 1, Mode: defs.S_IFDIR | 0755, Nlink: 2}
	sb.root = root
	root.Sb = sb
	sb.nextIno = 2
	sb.inodes[1] = &memInode{ino: root, children: map[string]uint64{}}
	return sb
}

func (sb *memSb) Root() *Inode { return sb.root }

func (sb *memSb) mkInode(mode uint32) *memInode {
	ino := sb.nextIno
	sb.nextIno++
	i := &Inode{Ino: ino, Mode: mode, Nlink: 1, Sb: sb}
	mi := &memInode{ino: i}
	if mode&defs.S_IFMT == defs.S_IFDIR {
		mi.children = map[string]uint64{}
	}
	sb.inodes[ino] = mi
	return mi
}

func (sb *memSb) Lookup(dir *Inode, name ustr.Ustr) (*Inode, defs.Err_t) {
	d := sb.inodes[dir.Ino]
	ino, ok := d.children[name.String()]
	if !ok {
		return nil, -defs.ENOENT
	}
	return sb.inodes[ino].ino, 0
}

func (sb *memSb) Create(dir *Inode, name ustr.Ustr, mode uint32) (*Inode, defs.Err_t) {
	mi := sb.mkInode(defs.S_IFREG | mode)
	sb.inodes[dir.Ino].children[name.String()] = mi.ino.Ino
	return mi.ino, 0
}

func (sb *memSb) Mkdir(dir *Inode, name ustr.Ustr, mode uint32) (*Inode, defs.Err_t) {
	mi := sb.mkInode(defs.S_IFDIR | mode)
	sb.inodes[dir.Ino].children[name.String()] = mi.ino.Ino
	return mi.ino, 0
}

func (sb *memSb) Unlink(dir *Inode, name ustr.Ustr) defs.Err_t {
	delete(sb.inodes[dir.Ino].children, name.String())
	return 0
}

func (sb *memSb) Rmdir(dir *Inode, name ustr.Ustr) defs.Err_t {
	delete(sb.inodes[dir.Ino].children, name.String())
	return 0
}

func (sb *memSb) Link(dir *Inode, name ustr.Ustr, target *Inode) defs.Err_t {
	sb.inodes[dir.Ino].children[name.String()] = target.Ino
	target.Nlink++
	return 0
}

func (sb *memSb) Symlink(dir *Inode, name ustr.Ustr, target ustr.Ustr) (*Inode, defs.Err_t) {
	mi := sb.mkInode(defs.S_IFLNK | 0777)
	mi.link = target
	sb.inodes[dir.Ino].children[name.String()] = mi.ino.Ino
	return mi.ino, 0
}

func (sb *memSb) Readlink(i *Inode) (ustr.Ustr, defs.Err_t) {
	return sb.inodes[i.Ino].link, 0
}

func (sb *memSb) Readdir(dir *Inode, cursor int) ([]Dirent_t, int, defs.Err_t) {
	return nil, 0, 0
}

func (sb *memSb) Read(i *Inode, dst []byte, off int64) (int, defs.Err_t) {
	data := sb.inodes[i.Ino].data
	if off >= int64(len(data)) {
		return 0, 0
	}
	n := copy(dst, data[off:])
	return n, 0
}

func (sb *memSb) Write(i *Inode, src []byte, off int64) (int, defs.Err_t) {
	mi := sb.inodes[i.Ino]
	need := off + int64(len(src))
	if int64(len(mi.data)) < need {
		grown := make([]byte, need)
		copy(grown, mi.data)
		mi.data = grown
	}
	copy(mi.data[off:], src)
	i.Size = int64(len(mi.data))
	return len(src), 0
}

func (sb *memSb) Truncate(i *Inode, size int64) defs.Err_t { return 0 }
func (sb *memSb) WriteInode(i *Inode) defs.Err_t            { return 0 }
func (sb *memSb) DestroyInode(i *Inode)                     {}
func (sb *memSb) DeleteInode(i *Inode) defs.Err_t            { return 0 }
func (sb *memSb) Sync() defs.Err_t                           { return 0 }
func (sb *memSb) Fops(i *Inode) fdops.Fdops_i                { return nil }

func mkTestVFS(t *testing.T) (*VFS_t, *Dentry) {
	v := New()
	sb := newMemSb()
	require.Zero(t, v.MountRoot("memfs", nil, ""))
	_ = sb
	return v, v.Root()
}

func TestMountRootFailsForUnregisteredType(t *testing.T) {
	v := New()
	require.Equal(t, -defs.ENODEV, v.MountRoot("nope", nil, ""))
}

func TestRegisterTypeThenMountRootSucceeds(t *testing.T) {
	v := New()
	v.RegisterType(&FSType{Name: "memfs", Mount: func(dev interface{}, data string) (Superblock, defs.Err_t) {
		return newMemSb(), 0
	}})
	require.Zero(t, v.MountRoot("memfs", nil, ""))
	require.True(t, v.Root().Inode.IsDir())
}

func setupVFS(t *testing.T) *VFS_t {
	v := New()
	v.RegisterType(&FSType{Name: "memfs", Mount: func(dev interface{}, data string) (Superblock, defs.Err_t) {
		return newMemSb(), 0
	}})
	require.Zero(t, v.MountRoot("memfs", nil, ""))
	return v
}

func TestMkdirThenResolveFindsDirectory(t *testing.T) {
	v := setupVFS(t)
	root := v.Root()
	require.Zero(t, v.Mkdir(root, ustr.Ustr("/etc"), 0755, 0, 0))
	d, err := v.Resolve(root, ustr.Ustr("/etc"), true)
	require.Zero(t, err)
	require.True(t, d.Inode.IsDir())
}

func TestResolveFoldsDotDotLexically(t *testing.T) {
	v := setupVFS(t)
	root := v.Root()
	require.Zero(t, v.Mkdir(root, ustr.Ustr("/a"), 0755, 0, 0))
	require.Zero(t, v.Mkdir(root, ustr.Ustr("/a/b"), 0755, 0, 0))
	d, err := v.Resolve(root, ustr.Ustr("/a/b/../b"), true)
	require.Zero(t, err)
	require.Equal(t, ustr.Ustr("b"), d.Name)
}

func TestOpenWithCreatMakesMissingFile(t *testing.T) {
	v := setupVFS(t)
	root := v.Root()
	d, err := v.Open(root, ustr.Ustr("/new.txt"), defs.O_CREAT|defs.O_WRONLY, 0644, 0, 0)
	require.Zero(t, err)
	require.True(t, d.Inode.IsReg())
}

func TestOpenCreatExclFailsIfExists(t *testing.T) {
	v := setupVFS(t)
	root := v.Root()
	_, err := v.Open(root, ustr.Ustr("/x"), defs.O_CREAT, 0644, 0, 0)
	require.Zero(t, err)
	_, err = v.Open(root, ustr.Ustr("/x"), defs.O_CREAT|defs.O_EXCL, 0644, 0, 0)
	require.Equal(t, -defs.EEXIST, err)
}

func TestOpenMissingWithoutCreatFails(t *testing.T) {
	v := setupVFS(t)
	root := v.Root()
	_, err := v.Open(root, ustr.Ustr("/missing"), defs.O_RDONLY, 0, 0, 0)
	require.Equal(t, -defs.ENOENT, err)
}

func TestSymlinkIsFollowedByDefault(t *testing.T) {
	v := setupVFS(t)
	root := v.Root()
	_, err := v.Open(root, ustr.Ustr("/target"), defs.O_CREAT, 0644, 0, 0)
	require.Zero(t, err)
	sb := root.Inode.Sb.(*memSb)
	_, err = sb.Symlink(root.Inode, ustr.Ustr("link"), ustr.Ustr("/target"))
	require.Zero(t, err)
	v.invalidate(root, ustr.Ustr("link"))

	d, err := v.Resolve(root, ustr.Ustr("/link"), true)
	require.Zero(t, err)
	require.True(t, d.Inode.IsReg())
}

func TestOpenNoFollowStopsAtSymlink(t *testing.T) {
	v := setupVFS(t)
	root := v.Root()
	sb := root.Inode.Sb.(*memSb)
	_, err := sb.Symlink(root.Inode, ustr.Ustr("dangling"), ustr.Ustr("/nowhere"))
	require.Zero(t, err)
	v.invalidate(root, ustr.Ustr("dangling"))

	d, err := v.Open(root, ustr.Ustr("/dangling"), defs.O_RDONLY|defs.O_NOFOLLOW, 0, 0, 0)
	require.Zero(t, err)
	require.True(t, d.Inode.IsLnk())
}

func TestMountCrossesIntoSubFilesystem(t *testing.T) {
	v := setupVFS(t)
	root := v.Root()
	require.Zero(t, v.Mkdir(root, ustr.Ustr("/mnt"), 0755, 0, 0))
	mntDir, err := v.Resolve(root, ustr.Ustr("/mnt"), true)
	require.Zero(t, err)

	require.Zero(t, v.Mount(mntDir, "memfs", nil, ""))
	d, err := v.Resolve(root, ustr.Ustr("/mnt"), true)
	require.Zero(t, err)
	require.NotEqual(t, mntDir.Inode, d.Inode, "crossing the mountpoint must land on the child fs's root, not the covered dir")
}

func TestAccessRootBypassesPermissionBits(t *testing.T) {
	i := &Inode{Mode: defs.S_IFREG, Uid: 1, Gid: 1}
	require.Zero(t, Access(i, 0, 0, R_OK|W_OK|X_OK))
}

func TestAccessDeniesOtherWithoutPermission(t *testing.T) {
	i := &Inode{Mode: defs.S_IFREG | 0600, Uid: 1, Gid: 1}
	require.Equal(t, -defs.EACCES, Access(i, 2, 2, R_OK))
}

func TestAccessGrantsOwnerFromOwnerBits(t *testing.T) {
	i := &Inode{Mode: defs.S_IFREG | 0600, Uid: 1, Gid: 1}
	require.Zero(t, Access(i, 1, 1, R_OK|W_OK))
}

func TestUnlinkRemovesNameAndInvalidatesCache(t *testing.T) {
	v := setupVFS(t)
	root := v.Root()
	_, err := v.Open(root, ustr.Ustr("/gone"), defs.O_CREAT, 0644, 0, 0)
	require.Zero(t, err)
	require.Zero(t, v.Unlink(root, ustr.Ustr("/gone"), 0, 0))
	_, err = v.Resolve(root, ustr.Ustr("/gone"), true)
	require.Equal(t, -defs.ENOENT, err)
}
