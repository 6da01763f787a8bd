// Package syscall implements C8, the syscall dispatch table: spec.md
// §4.5 "a static table keyed by syscall number, indexed by the
// trapped eax; unrecognized numbers return -ENOSYS." There is no
// biscuit file devoted to a generic dispatch table (biscuit wires
// each syscall as a standalone case in a giant switch bolted directly
// onto its trap handler) — this package follows os0-kernel's
// table-of-function-pointers shape instead, the same map-keyed-by-
// small-integer idiom internal/devfs's device table and internal/
// signal's action table already use in this tree.
//
// Numbering matches the classic i386 Linux syscall ABI (spec.md §6:
// "matching the classic i386 Linux errno table") so a libc shim needs
// no remapping; only the subset this core actually implements is
// registered; everything else falls through to -ENOSYS via the plain
// map lookup.
package syscall

import (
	"github.com/xnscdev/os0-kernel-sub000/internal/accnt"
	"github.com/xnscdev/os0-kernel-sub000/internal/bpath"
	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/fd"
	"github.com/xnscdev/os0-kernel-sub000/internal/irq"
	"github.com/xnscdev/os0-kernel-sub000/internal/pipe"
	"github.com/xnscdev/os0-kernel-sub000/internal/proc"
	"github.com/xnscdev/os0-kernel-sub000/internal/signal"
	"github.com/xnscdev/os0-kernel-sub000/internal/stat"
	"github.com/xnscdev/os0-kernel-sub000/internal/vfs"
	"github.com/xnscdev/os0-kernel-sub000/internal/vm"
)

// Syscall numbers, the classic i386 Linux subset this core serves.
const (
	SYS_EXIT        = 1
	SYS_FORK        = 2
	SYS_READ        = 3
	SYS_WRITE       = 4
	SYS_OPEN        = 5
	SYS_CLOSE       = 6
	SYS_WAITPID     = 7
	SYS_LINK        = 9
	SYS_UNLINK      = 10
	SYS_EXECVE      = 11
	SYS_CHDIR       = 12
	SYS_LSEEK       = 19
	SYS_GETPID      = 20
	SYS_KILL        = 37
	SYS_MKDIR       = 39
	SYS_RMDIR       = 40
	SYS_DUP         = 41
	SYS_PIPE        = 42
	SYS_BRK         = 45
	SYS_SIGACTION   = 67
	SYS_DUP2        = 63
	SYS_GETPPID     = 64
	SYS_SYMLINK     = 83
	SYS_READLINK    = 85
	SYS_MMAP        = 90
	SYS_MUNMAP      = 91
	SYS_FSTAT       = 108
	SYS_MPROTECT    = 125
	SYS_SIGPROCMASK = 126
)

// MaxSyscalls bounds the dispatch table's key space (spec.md §4.5:
// "≤300 entries"); numbers at or above it are rejected the same as
// any other unregistered number.
const MaxSyscalls = 300

// handlerFunc is one dispatch-table entry: given the process that
// trapped and its raw trap frame, perform the call and return the
// value Eax should carry back to user mode (a negative Err_t on
// failure, matching every other layer's convention).
type handlerFunc func(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64

// Table is the syscall dispatch table plus the process/VFS registries
// its handlers need. Wire it in via irq.Dispatcher.SetSyscallHandler(
// table.Dispatch) at boot.
type Table struct {
	procs    *proc.Table_t
	vfs      *vfs.VFS_t
	handlers map[uint32]handlerFunc
}

// New builds a dispatch table over procs/vfsys, registering every
// syscall this core implements.
func New(procs *proc.Table_t, vfsys *vfs.VFS_t) *Table {
	t := &Table{procs: procs, vfs: vfsys, handlers: make(map[uint32]handlerFunc)}
	t.handlers[SYS_EXIT] = sysExit
	t.handlers[SYS_FORK] = sysFork
	t.handlers[SYS_READ] = sysRead
	t.handlers[SYS_WRITE] = sysWrite
	t.handlers[SYS_OPEN] = sysOpen
	t.handlers[SYS_CLOSE] = sysClose
	t.handlers[SYS_WAITPID] = sysWait4
	t.handlers[SYS_LINK] = sysLink
	t.handlers[SYS_UNLINK] = sysUnlink
	t.handlers[SYS_EXECVE] = sysExecve
	t.handlers[SYS_CHDIR] = sysChdir
	t.handlers[SYS_LSEEK] = sysLseek
	t.handlers[SYS_GETPID] = sysGetpid
	t.handlers[SYS_KILL] = sysKill
	t.handlers[SYS_MKDIR] = sysMkdir
	t.handlers[SYS_RMDIR] = sysRmdir
	t.handlers[SYS_DUP] = sysDup
	t.handlers[SYS_PIPE] = sysPipe
	t.handlers[SYS_BRK] = sysBrk
	t.handlers[SYS_SIGACTION] = sysSigaction
	t.handlers[SYS_DUP2] = sysDup2
	t.handlers[SYS_GETPPID] = sysGetppid
	t.handlers[SYS_SYMLINK] = sysSymlink
	t.handlers[SYS_READLINK] = sysReadlink
	t.handlers[SYS_MMAP] = sysMmap
	t.handlers[SYS_MUNMAP] = sysMunmap
	t.handlers[SYS_FSTAT] = sysFstat
	t.handlers[SYS_MPROTECT] = sysMprotect
	t.handlers[SYS_SIGPROCMASK] = sysSigprocmask
	return t
}

// Dispatch is the irq.SyscallFunc this table exposes: it looks up
// the trapping process, looks up its syscall number's handler, and
// runs it, falling through to -ENOSYS for anything unregistered
// (spec.md §4.5) or -ESRCH if no process is currently running (a
// trap with no process context is a kernel bug, not a user error, but
// a hard errno return is preferable to a panic on the return path).
func (t *Table) Dispatch(tf *irq.TrapFrame) int64 {
	no := tf.Syscallno()
	if no >= MaxSyscalls {
		return int64(-defs.ENOSYS)
	}
	h, ok := t.handlers[no]
	if !ok {
		return int64(-defs.ENOSYS)
	}
	p, ok := t.procs.Current()
	if !ok {
		return int64(-defs.ESRCH)
	}
	return h(t, p, tf)
}

func sysExit(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	t.procs.Exit(p, int(int32(tf.Arg(0))))
	return 0
}

func sysFork(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	child, err := t.procs.Fork(p)
	if err != 0 {
		return int64(err)
	}
	return int64(child.Pid)
}

func sysGetpid(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	return int64(p.Pid)
}

func sysGetppid(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	return int64(p.Ppid)
}

func sysBrk(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	got, err := t.procs.Brk(p, uintptr(tf.Arg(0)))
	if err != 0 {
		return int64(err)
	}
	return int64(got)
}

func sysKill(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	return int64(t.procs.Kill(defs.Pid_t(int32(tf.Arg(0))), int(tf.Arg(1)), p.Pid))
}

func sysWait4(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	pid := defs.Pid_t(int32(tf.Arg(0)))
	statusUva := uintptr(tf.Arg(1))
	rusageUva := uintptr(tf.Arg(3))

	reaped, status, acc, err := t.procs.Wait4(p, pid)
	if err != 0 {
		return int64(err)
	}
	if statusUva != 0 {
		if werr := p.AS.Userwriten(statusUva, 4, uint64(uint32(status))); werr != 0 {
			return int64(werr)
		}
	}
	if rusageUva != 0 && acc != nil {
		buf := make([]byte, accnt.RusageSize)
		acc.To_rusage(buf)
		if werr := p.AS.K2user(buf, rusageUva); werr != 0 {
			return int64(werr)
		}
	}
	return int64(reaped)
}

func sysExecve(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	path, err := p.AS.Userstr(uintptr(tf.Arg(0)), 256)
	if err != 0 {
		return int64(err)
	}
	return int64(t.procs.Execve(p, path, tf.Arg(1)))
}

func sysOpen(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	path, err := p.AS.Userstr(uintptr(tf.Arg(0)), 256)
	if err != 0 {
		return int64(err)
	}
	flags := int(tf.Arg(1))
	d, operr := t.vfs.Open(p.Cwd.Dentry, path, flags, tf.Arg(2), p.Euid, p.Egid)
	if operr != 0 {
		return int64(operr)
	}
	fops := d.Inode.Sb.Fops(d.Inode)
	perms := fd.FD_READ
	switch flags & defs.O_ACCMODE {
	case defs.O_WRONLY:
		perms = fd.FD_WRITE
	case defs.O_RDWR:
		perms = fd.FD_READ | fd.FD_WRITE
	}
	if flags&defs.O_CLOEXEC != 0 {
		perms |= fd.FD_CLOEXEC
	}
	return int64(p.AddFd(&fd.Fd_t{Fops: fops, Perms: perms}))
}

func sysClose(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	return int64(p.CloseFd(int(tf.Arg(0))))
}

func sysRead(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	f, err := p.GetFd(int(tf.Arg(0)))
	if err != 0 {
		return int64(err)
	}
	ub := vm.NewUserbuf(p.AS, uintptr(tf.Arg(1)), int(tf.Arg(2)))
	n, rerr := f.Fops.Read(ub)
	if rerr != 0 {
		return int64(rerr)
	}
	return int64(n)
}

func sysWrite(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	f, err := p.GetFd(int(tf.Arg(0)))
	if err != 0 {
		return int64(err)
	}
	ub := vm.NewUserbuf(p.AS, uintptr(tf.Arg(1)), int(tf.Arg(2)))
	n, werr := f.Fops.Write(ub)
	if werr != 0 {
		return int64(werr)
	}
	return int64(n)
}

func sysLseek(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	f, err := p.GetFd(int(tf.Arg(0)))
	if err != 0 {
		return int64(err)
	}
	n, lerr := f.Fops.Lseek(int(int32(tf.Arg(1))), int(tf.Arg(2)))
	if lerr != 0 {
		return int64(lerr)
	}
	return int64(n)
}

func sysFstat(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	f, err := p.GetFd(int(tf.Arg(0)))
	if err != 0 {
		return int64(err)
	}
	var st stat.Stat_t
	if serr := f.Fops.Fstat(&st); serr != 0 {
		return int64(serr)
	}
	if werr := p.AS.K2user(st.Bytes(), uintptr(tf.Arg(1))); werr != 0 {
		return int64(werr)
	}
	return 0
}

func sysDup(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	f, err := p.GetFd(int(tf.Arg(0)))
	if err != 0 {
		return int64(err)
	}
	nf, derr := fd.Copyfd(f)
	if derr != 0 {
		return int64(derr)
	}
	return int64(p.AddFd(nf))
}

func sysDup2(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	if err := p.Dup2(int(tf.Arg(0)), int(tf.Arg(1))); err != 0 {
		return int64(err)
	}
	return int64(tf.Arg(1))
}

func sysPipe(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	pp := pipe.New()
	rn := p.AddFd(&fd.Fd_t{Fops: pp.ReadEnd(), Perms: fd.FD_READ})
	wn := p.AddFd(&fd.Fd_t{Fops: pp.WriteEnd(), Perms: fd.FD_WRITE})
	uva := uintptr(tf.Arg(0))
	if err := p.AS.Userwriten(uva, 4, uint64(uint32(rn))); err != 0 {
		return int64(err)
	}
	if err := p.AS.Userwriten(uva+4, 4, uint64(uint32(wn))); err != 0 {
		return int64(err)
	}
	return 0
}

func sysMkdir(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	path, err := p.AS.Userstr(uintptr(tf.Arg(0)), 256)
	if err != 0 {
		return int64(err)
	}
	return int64(t.vfs.Mkdir(p.Cwd.Dentry, path, tf.Arg(1), p.Euid, p.Egid))
}

func sysUnlink(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	path, err := p.AS.Userstr(uintptr(tf.Arg(0)), 256)
	if err != 0 {
		return int64(err)
	}
	return int64(t.vfs.Unlink(p.Cwd.Dentry, path, p.Euid, p.Egid))
}

func sysRmdir(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	path, err := p.AS.Userstr(uintptr(tf.Arg(0)), 256)
	if err != 0 {
		return int64(err)
	}
	return int64(t.vfs.Rmdir(p.Cwd.Dentry, path, p.Euid, p.Egid))
}

func sysChdir(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	path, err := p.AS.Userstr(uintptr(tf.Arg(0)), 256)
	if err != 0 {
		return int64(err)
	}
	d, rerr := t.vfs.Resolve(p.Cwd.Dentry, path, true)
	if rerr != 0 {
		return int64(rerr)
	}
	if !d.Inode.IsDir() {
		return int64(-defs.ENOTDIR)
	}
	p.Cwd.Lock()
	p.Cwd.Dentry = d
	p.Cwd.Unlock()
	return 0
}

// sysLink/sysSymlink/sysReadlink resolve the parent directory
// themselves and call the target Superblock directly, the same way
// vfs.VFS_t's own Mkdir/Unlink do internally — vfs has no Link/
// Symlink/Readlink wrapper of its own since those three are a
// two-path operation (source plus destination) rather than the
// single cwd-relative path every other VFS_t method takes.
func sysLink(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	oldpath, err := p.AS.Userstr(uintptr(tf.Arg(0)), 256)
	if err != 0 {
		return int64(err)
	}
	newpath, err2 := p.AS.Userstr(uintptr(tf.Arg(1)), 256)
	if err2 != 0 {
		return int64(err2)
	}
	target, terr := t.vfs.Resolve(p.Cwd.Dentry, oldpath, true)
	if terr != 0 {
		return int64(terr)
	}
	dir := bpath.Dir(newpath)
	leaf := bpath.Base(newpath)
	parent, perr := t.vfs.Resolve(p.Cwd.Dentry, dir, true)
	if perr != 0 {
		return int64(perr)
	}
	if aerr := vfs.Access(parent.Inode, p.Euid, p.Egid, vfs.W_OK|vfs.X_OK); aerr != 0 {
		return int64(aerr)
	}
	return int64(parent.Inode.Sb.Link(parent.Inode, leaf, target.Inode))
}

func sysSymlink(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	target, err := p.AS.Userstr(uintptr(tf.Arg(0)), 256)
	if err != 0 {
		return int64(err)
	}
	linkpath, err2 := p.AS.Userstr(uintptr(tf.Arg(1)), 256)
	if err2 != 0 {
		return int64(err2)
	}
	dir := bpath.Dir(linkpath)
	leaf := bpath.Base(linkpath)
	parent, perr := t.vfs.Resolve(p.Cwd.Dentry, dir, true)
	if perr != 0 {
		return int64(perr)
	}
	if aerr := vfs.Access(parent.Inode, p.Euid, p.Egid, vfs.W_OK|vfs.X_OK); aerr != 0 {
		return int64(aerr)
	}
	_, serr := parent.Inode.Sb.Symlink(parent.Inode, leaf, target)
	return int64(serr)
}

func sysReadlink(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	path, err := p.AS.Userstr(uintptr(tf.Arg(0)), 256)
	if err != 0 {
		return int64(err)
	}
	d, rerr := t.vfs.Resolve(p.Cwd.Dentry, path, false)
	if rerr != 0 {
		return int64(rerr)
	}
	target, lerr := d.Inode.Sb.Readlink(d.Inode)
	if lerr != 0 {
		return int64(lerr)
	}
	n := len(target)
	if max := int(tf.Arg(2)); n > max {
		n = max
	}
	if werr := p.AS.K2user([]byte(target)[:n], uintptr(tf.Arg(1))); werr != 0 {
		return int64(werr)
	}
	return int64(n)
}

func sysMmap(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	base, err := p.AS.Mmap(uintptr(tf.Arg(0)), uintptr(tf.Arg(1)), tf.Arg(2), tf.Arg(3), nil, 0)
	if err != 0 {
		return int64(err)
	}
	return int64(base)
}

func sysMunmap(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	return int64(p.AS.Munmap(uintptr(tf.Arg(0)), uintptr(tf.Arg(1))))
}

func sysMprotect(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	return int64(p.AS.Mprotect(uintptr(tf.Arg(0)), uintptr(tf.Arg(1)), tf.Arg(2)))
}

// sigaction/sigprocmask wire format: a fixed 16-byte little-endian
// record {handler uint32, mask uint64, flags uint32}, the subset of
// struct sigaction a libc shim needs to round-trip through this
// core's Sigaction_t.
const sigactionWireSize = 16

func readSigaction(as *vm.AS_t, uva uintptr) (signal.Sigaction_t, defs.Err_t) {
	var act signal.Sigaction_t
	h, err := as.Userreadn(uva, 4)
	if err != 0 {
		return act, err
	}
	m, err := as.Userreadn(uva+4, 8)
	if err != 0 {
		return act, err
	}
	f, err := as.Userreadn(uva+12, 4)
	if err != 0 {
		return act, err
	}
	act.Handler = uintptr(h)
	act.Mask = signal.Sigset_t(m)
	act.Flags = uint32(f)
	return act, 0
}

func writeSigaction(as *vm.AS_t, uva uintptr, act signal.Sigaction_t) defs.Err_t {
	if err := as.Userwriten(uva, 4, uint64(act.Handler)); err != 0 {
		return err
	}
	if err := as.Userwriten(uva+4, 8, uint64(act.Mask)); err != 0 {
		return err
	}
	return as.Userwriten(uva+12, 4, uint64(act.Flags))
}

func sysSigaction(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	sig := int(tf.Arg(0))
	var act, old *signal.Sigaction_t
	if u := uintptr(tf.Arg(1)); u != 0 {
		a, err := readSigaction(p.AS, u)
		if err != 0 {
			return int64(err)
		}
		act = &a
	}
	var oldVal signal.Sigaction_t
	oldUva := uintptr(tf.Arg(2))
	if oldUva != 0 {
		old = &oldVal
	}
	if err := p.Sig.Sigaction(sig, act, old); err != 0 {
		return int64(err)
	}
	if old != nil {
		if err := writeSigaction(p.AS, oldUva, oldVal); err != 0 {
			return int64(err)
		}
	}
	return 0
}

func sysSigprocmask(t *Table, p *proc.Process_t, tf *irq.TrapFrame) int64 {
	var set, old *signal.Sigset_t
	var sVal, oVal signal.Sigset_t
	if u := uintptr(tf.Arg(1)); u != 0 {
		v, err := p.AS.Userreadn(u, 8)
		if err != 0 {
			return int64(err)
		}
		sVal = signal.Sigset_t(v)
		set = &sVal
	}
	oldUva := uintptr(tf.Arg(2))
	if oldUva != 0 {
		old = &oVal
	}
	if err := p.Sig.Sigprocmask(int(tf.Arg(0)), set, old); err != 0 {
		return int64(err)
	}
	if old != nil {
		if err := p.AS.Userwriten(oldUva, 8, uint64(oVal)); err != 0 {
			return int64(err)
		}
	}
	return 0
}
