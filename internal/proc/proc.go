// Package proc implements C7, the POSIX process model built on top
// of sched's bare task list: spec.md §3 "Process" and §4.6 "fork,
// execve, exit, wait4" plus the credential/working-directory/open-
// file-table bookkeeping a task alone has no notion of. There is no
// biscuit file devoted to this split (biscuit/src/proc/ carries only
// a go.mod, no source — its process logic lived in runtime fragments
// this pack does not retrieve), so Table_t is authored fresh against
// spec.md, following the {registry wrapping a lower layer, map keyed
// by id, a mutex} idiom internal/sched.Sched_t and internal/vfs.VFS_t
// both already establish in this tree.
package proc

import (
	"sync"

	"github.com/xnscdev/os0-kernel-sub000/internal/accnt"
	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/devfs"
	"github.com/xnscdev/os0-kernel-sub000/internal/fd"
	"github.com/xnscdev/os0-kernel-sub000/internal/mem"
	"github.com/xnscdev/os0-kernel-sub000/internal/sched"
	"github.com/xnscdev/os0-kernel-sub000/internal/signal"
	"github.com/xnscdev/os0-kernel-sub000/internal/ustr"
	"github.com/xnscdev/os0-kernel-sub000/internal/vfs"
	"github.com/xnscdev/os0-kernel-sub000/internal/vm"
)

// BrkBase is the fixed virtual address a freshly exec'd process's
// program break starts growing from, chosen well clear of
// vm.MMAPBASE so brk growth and mmap placement never collide.
const BrkBase = uintptr(0x08000000)

// Process_t is one entry of the process table: the POSIX-level state
// layered on top of a sched.Task_t (spec.md §3: "pid/ppid, an owning
// page directory... an open-file-descriptor table... a signal-action
// table... credentials... a 'cumulative resource usage' accumulator").
type Process_t struct {
	mu sync.Mutex

	Pid, Ppid defs.Pid_t

	AS  *vm.AS_t
	Cwd *fd.Cwd_t

	fds    map[int]*fd.Fd_t
	nextFd int

	Sig *signal.Table_t
	Acc *accnt.Accnt_t

	Uid, Gid, Euid, Egid, Pgid, Sid uint32

	brk     uintptr
	brkBase uintptr

	children map[defs.Pid_t]bool

	exited     bool
	exitStatus int
	waitc      chan struct{}
}

// Fds returns p's open-file table snapshot under lock, for callers
// (devfs's fd/ provider) that need to enumerate it without racing a
// concurrent open/close.
func (p *Process_t) Fds() map[int]*fd.Fd_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int]*fd.Fd_t, len(p.fds))
	for n, f := range p.fds {
		out[n] = f
	}
	return out
}

// AddFd installs fops at the lowest unused descriptor number and
// returns it.
func (p *Process_t) AddFd(fops *fd.Fd_t) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for {
		if _, used := p.fds[n]; !used {
			break
		}
		n++
	}
	p.fds[n] = fops
	return n
}

// GetFd looks up descriptor n.
func (p *Process_t) GetFd(n int) (*fd.Fd_t, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.fds[n]
	if !ok {
		return nil, -defs.EBADF
	}
	return f, 0
}

// CloseFd closes and removes descriptor n.
func (p *Process_t) CloseFd(n int) defs.Err_t {
	p.mu.Lock()
	f, ok := p.fds[n]
	if !ok {
		p.mu.Unlock()
		return -defs.EBADF
	}
	delete(p.fds, n)
	p.mu.Unlock()
	return f.Fops.Close()
}

// Dup2 installs a copy of the open file at oldfd onto descriptor
// number newfd, closing whatever newfd previously named first
// (dup2(2) semantics: "if newfd was open, it is closed silently
// first"). Duplicating a descriptor onto itself is a no-op.
func (p *Process_t) Dup2(oldfd, newfd int) defs.Err_t {
	if oldfd == newfd {
		p.mu.Lock()
		_, ok := p.fds[oldfd]
		p.mu.Unlock()
		if !ok {
			return -defs.EBADF
		}
		return 0
	}
	of, err := p.GetFd(oldfd)
	if err != 0 {
		return err
	}
	nf, derr := fd.Copyfd(of)
	if derr != 0 {
		return derr
	}
	p.mu.Lock()
	if existing, ok := p.fds[newfd]; ok {
		existing.Fops.Close()
	}
	p.fds[newfd] = nf
	p.mu.Unlock()
	return 0
}

// Table_t is the whole-kernel process table (spec.md §3: "keyed by
// pid"), wrapping the task scheduler, the physical allocator (for
// address-space construction) and the VFS namespace every process
// resolves paths against.
type Table_t struct {
	mu    sync.Mutex
	procs map[defs.Pid_t]*Process_t

	sched *sched.Sched_t
	pmem  *mem.Physmem_t
	vfs   *vfs.VFS_t
}

// NewTable builds an empty process table over an already-booted
// physical allocator and mounted VFS namespace, and wires devfs's
// fd/ subdirectory to read back through it (spec.md §4.10: "a
// subdirectory fd/ exposes the calling process's open file
// descriptors as inodes").
func NewTable(pmem *mem.Physmem_t, vfsys *vfs.VFS_t) *Table_t {
	t := &Table_t{
		procs: make(map[defs.Pid_t]*Process_t),
		sched: sched.NewSched(pmem),
		pmem:  pmem,
		vfs:   vfsys,
	}
	devfs.SetFDProvider(t.fdProvider)
	return t
}

func (t *Table_t) fdProvider(pid int) []devfs.FDEntry {
	t.mu.Lock()
	p, ok := t.procs[defs.Pid_t(pid)]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	fds := p.Fds()
	out := make([]devfs.FDEntry, 0, len(fds))
	for n, f := range fds {
		out = append(out, devfs.FDEntry{Num: n, Fops: f.Fops})
	}
	return out
}

// Get looks up a live process by pid.
func (t *Table_t) Get(pid defs.Pid_t) (*Process_t, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	return p, ok
}

// Current returns the scheduler's currently running process, for the
// syscall dispatcher to resolve "this trap came from which process."
func (t *Table_t) Current() (*Process_t, bool) {
	cur := t.sched.Current()
	if cur == nil {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[cur.Pid]
	return p, ok
}

// Boot creates pid 0, the kernel's bootstrap process (spec.md §3:
// "pid 0 is the kernel's bootstrap task and never exits"), rooted at
// the VFS's mounted root directory.
func (t *Table_t) Boot(uid, gid uint32) (*Process_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, err := t.sched.TaskNew(0)
	if err != 0 {
		return nil, err
	}
	as, aerr := vm.NewAS(t.pmem)
	if aerr != nil {
		t.sched.TaskFree(task.Pid)
		return nil, -defs.ENOMEM
	}
	root := t.vfs.Root()
	p := &Process_t{
		Pid: task.Pid, Ppid: -1,
		AS:       as,
		Cwd:      fd.MkCwd(nil, root, ustr.MkUstrRoot()),
		fds:      make(map[int]*fd.Fd_t),
		Sig:      &signal.Table_t{},
		Acc:      &accnt.Accnt_t{},
		Uid:      uid, Gid: gid, Euid: uid, Egid: gid,
		brkBase:  BrkBase,
		children: make(map[defs.Pid_t]bool),
		waitc:    make(chan struct{}),
	}
	t.procs[p.Pid] = p
	return p, 0
}

// Fork clones parent into a new process (spec.md §4.6 fork: "clone
// the task, the address space, the fd table (bumping refs, not
// copying content), the cwd, and the signal-action table; pending
// signals start empty"). parent must be the scheduler's current
// task — the only task sched.TaskFork can clone from — matching this
// core's single running-task-at-a-time simulation (see DESIGN.md
// "task-level fork reachability").
//
// sched.Task_t.Regs_t tracks only esp/ebp/eip, not an accumulator
// register, so the classic "parent sees the child's pid, child sees
// 0" split cannot be represented at the register level here; Fork
// returns the child's pid to its caller (the parent's perspective)
// and does not attempt to simulate the child's own return value.
func (t *Table_t) Fork(parent *Process_t) (*Process_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur := t.sched.Current(); cur == nil || cur.Pid != parent.Pid {
		return nil, -defs.ESRCH
	}

	task, err := t.sched.TaskFork()
	if err != 0 {
		return nil, err
	}
	as, aerr := parent.AS.Fork()
	if aerr != nil {
		t.sched.TaskFree(task.Pid)
		return nil, -defs.ENOMEM
	}

	parent.mu.Lock()
	childFds := make(map[int]*fd.Fd_t, len(parent.fds))
	for n, f := range parent.fds {
		nf, ferr := fd.Copyfd(f)
		if ferr == 0 {
			childFds[n] = nf
		}
	}
	cwd := parent.Cwd.Clone()
	sig := parent.Sig.ForkChild()
	uid, gid, euid, egid, pgid, sid := parent.Uid, parent.Gid, parent.Euid, parent.Egid, parent.Pgid, parent.Sid
	brk, brkBase := parent.brk, parent.brkBase
	parent.mu.Unlock()

	child := &Process_t{
		Pid: task.Pid, Ppid: parent.Pid,
		AS: as, Cwd: cwd, fds: childFds,
		Sig: sig, Acc: &accnt.Accnt_t{},
		Uid: uid, Gid: gid, Euid: euid, Egid: egid, Pgid: pgid, Sid: sid,
		brk: brk, brkBase: brkBase,
		children: make(map[defs.Pid_t]bool),
		waitc:    make(chan struct{}),
	}
	t.procs[child.Pid] = child

	parent.mu.Lock()
	parent.children[child.Pid] = true
	parent.mu.Unlock()
	return child, 0
}

// Execve replaces p's address space and signal-handler table with a
// fresh image (spec.md §4.6 execve: "resolve path, check X_OK,
// replace the address space, reset the signal-action table to
// defaults except for SIG_IGN entries, close O_CLOEXEC descriptors,
// set pc to the new image's entry point"). This core has no ELF
// loader or user-mode execution (spec.md's non-goals exclude running
// real user binaries), so entryEip is supplied by the caller rather
// than read out of a loaded image; everything else — path
// resolution, permission check, address-space replacement, signal
// and fd-table reset — is real.
func (t *Table_t) Execve(p *Process_t, path ustr.Ustr, entryEip uint32) defs.Err_t {
	p.mu.Lock()
	cwdDentry := p.Cwd.Dentry
	euid, egid := p.Euid, p.Egid
	p.mu.Unlock()

	d, err := t.vfs.Resolve(cwdDentry, path, true)
	if err != 0 {
		return err
	}
	if d.Inode.IsDir() {
		return -defs.EACCES
	}
	if aerr := vfs.Access(d.Inode, euid, egid, vfs.X_OK); aerr != 0 {
		return aerr
	}

	newAS, aerr := vm.NewAS(t.pmem)
	if aerr != nil {
		return -defs.ENOMEM
	}

	serr := t.sched.SetRegs(p.Pid, sched.Regs_t{Eip: entryEip})
	if serr != 0 {
		newAS.Free()
		return serr
	}

	p.mu.Lock()
	oldAS := p.AS
	p.AS = newAS
	p.brk = 0
	p.Cwd.Dentry = d
	for n, f := range p.fds {
		if f.Perms&fd.FD_CLOEXEC != 0 {
			delete(p.fds, n)
			f.Fops.Close()
		}
	}
	p.mu.Unlock()
	oldAS.Free()
	p.Sig.ResetOnExec()
	return 0
}

// Exit tears p down (spec.md §4.6 exit: "mark Terminated, store the
// exit status, close every fd, free the address space, reparent
// live children to pid 1 (or pid 0 if 1 doesn't exist), fold rusage
// into the parent, and deliver SIGCHLD"). Exit never fails; a second
// call on an already-exited process is a no-op.
func (t *Table_t) Exit(p *Process_t, status int) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.exitStatus = status
	fds := p.fds
	p.fds = make(map[int]*fd.Fd_t)
	as := p.AS
	waitc := p.waitc
	ppid := p.Ppid
	p.mu.Unlock()

	for _, f := range fds {
		f.Fops.Close()
	}
	as.Free()
	t.sched.Terminate(p.Pid, status)
	close(waitc)

	t.mu.Lock()
	parent, hasParent := t.procs[ppid]
	newParent, hasInit := t.procs[1]
	if !hasInit || newParent == p {
		newParent, hasInit = t.procs[0]
	}
	t.mu.Unlock()

	if hasParent {
		parent.mu.Lock()
		parent.Acc.Add(p.Acc)
		parent.mu.Unlock()
		parent.Sig.Kill(signal.SIGCHLD, signal.Siginfo_t{Signo: signal.SIGCHLD, Pid: p.Pid})
	}

	if hasInit && newParent != p {
		for _, child := range t.reparentable(p) {
			t.mu.Lock()
			t.procs[child].Ppid = newParent.Pid
			t.mu.Unlock()
			newParent.mu.Lock()
			newParent.children[child] = true
			newParent.mu.Unlock()
		}
	}
}

func (t *Table_t) reparentable(p *Process_t) []defs.Pid_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]defs.Pid_t, 0, len(p.children))
	for c := range p.children {
		out = append(out, c)
	}
	return out
}

// Wait4 blocks until a child of parent (pid == -1 selects "any
// child") has exited, then reaps it: removes it from the table and
// returns its pid, exit status and rusage (spec.md §4.6 wait4).
func (t *Table_t) Wait4(parent *Process_t, pid defs.Pid_t) (defs.Pid_t, int, *accnt.Accnt_t, defs.Err_t) {
	for {
		parent.mu.Lock()
		var target defs.Pid_t = -1
		if pid == -1 {
			for c := range parent.children {
				target = c
				break
			}
		} else if parent.children[pid] {
			target = pid
		}
		parent.mu.Unlock()

		if target == -1 {
			return 0, 0, nil, -defs.ECHILD
		}

		t.mu.Lock()
		child, ok := t.procs[target]
		t.mu.Unlock()
		if !ok {
			parent.mu.Lock()
			delete(parent.children, target)
			parent.mu.Unlock()
			continue
		}

		child.mu.Lock()
		exited := child.exited
		child.mu.Unlock()
		if !exited {
			<-child.waitc
		}

		child.mu.Lock()
		status := child.exitStatus
		acc := child.Acc
		child.mu.Unlock()

		parent.mu.Lock()
		delete(parent.children, target)
		parent.mu.Unlock()
		t.mu.Lock()
		delete(t.procs, target)
		t.mu.Unlock()
		return target, status, acc, 0
	}
}

// Kill delivers sig to the process identified by pid (spec.md §4.7
// kill: "deliver a signal to a pid's action table; SIGKILL forces
// termination regardless of the table"). SIGKILL bypasses the action
// table's disposition entirely, since a caught or ignored SIGKILL is
// not meaningful.
func (t *Table_t) Kill(pid defs.Pid_t, sig int, sender defs.Pid_t) defs.Err_t {
	target, ok := t.Get(pid)
	if !ok {
		return -defs.ESRCH
	}
	if sig == signal.SIGKILL {
		t.Exit(target, signal.SIGKILL)
		return 0
	}
	return target.Sig.Kill(sig, signal.Siginfo_t{Signo: sig, Pid: sender})
}

// DeliverPending consumes p's next deliverable signal, if any, and
// reports what the return-to-user path must do about it: terminate
// the process, or nothing further (a caught handler's invocation is
// outside this core's scope, matching spec.md's non-goals excluding
// real user-mode execution).
func (t *Table_t) DeliverPending(p *Process_t) (acted bool, terminate bool) {
	sig, ok := p.Sig.Deliverable()
	if !ok {
		return false, false
	}
	act, _ := p.Sig.Consume(sig)
	if act.Handler == signal.SIG_IGN {
		return true, false
	}
	if act.Handler != signal.SIG_DFL {
		return true, false
	}
	switch signal.Default(sig) {
	case signal.DispTerm, signal.DispCore:
		t.Exit(p, sig)
		return true, true
	case signal.DispStop, signal.DispCont, signal.DispIgnore:
		return true, false
	}
	return true, false
}

// Brk grows or shrinks p's program break to newBrk, returning the
// resulting break (spec.md §4.6: "brk grows/shrinks the process's
// data segment"). vm.AS_t has no dedicated heap-region primitive, so
// growth is modeled as an incremental MAP_FIXED anonymous mapping
// and shrink as an Munmap of the vacated tail, both page-aligned.
func (t *Table_t) Brk(p *Process_t, newBrk uintptr) (uintptr, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.brk == 0 {
		p.brk = p.brkBase
	}
	if newBrk == 0 {
		return p.brk, 0
	}
	if newBrk < p.brkBase {
		return p.brk, -defs.EINVAL
	}

	curPage := roundupPage(p.brk)
	newPage := roundupPage(newBrk)
	if newPage > curPage {
		if _, err := p.AS.Mmap(curPage, newPage-curPage,
			defs.PROT_READ|defs.PROT_WRITE,
			defs.MAP_PRIVATE|defs.MAP_FIXED|defs.MAP_ANONYMOUS, nil, 0); err != 0 {
			return p.brk, err
		}
	} else if newPage < curPage {
		if err := p.AS.Munmap(newPage, curPage-newPage); err != 0 {
			return p.brk, err
		}
	}
	p.brk = newBrk
	return p.brk, 0
}

func roundupPage(n uintptr) uintptr {
	return (n + uintptr(mem.PGOFFSET)) &^ uintptr(mem.PGOFFSET)
}
