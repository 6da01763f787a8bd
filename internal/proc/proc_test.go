package proc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xnscdev/os0-kernel-sub000/internal/accnt"
	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/ext2"
	"github.com/xnscdev/os0-kernel-sub000/internal/fd"
	"github.com/xnscdev/os0-kernel-sub000/internal/fdops"
	"github.com/xnscdev/os0-kernel-sub000/internal/mem"
	"github.com/xnscdev/os0-kernel-sub000/internal/signal"
	"github.com/xnscdev/os0-kernel-sub000/internal/stat"
	"github.com/xnscdev/os0-kernel-sub000/internal/ustr"
	"github.com/xnscdev/os0-kernel-sub000/internal/vfs"
)

// fakeFops is a no-op Fdops_i for exercising the fd-table bookkeeping
// without depending on a real ext2 or devfs file.
type fakeFops struct{}

func (fakeFops) Close() defs.Err_t                            { return 0 }
func (fakeFops) Fstat(st *stat.Stat_t) defs.Err_t              { return 0 }
func (fakeFops) Lseek(off int, whence int) (int, defs.Err_t)   { return 0, 0 }
func (fakeFops) Pread(dst []byte, off int64) (int, defs.Err_t) { return 0, 0 }
func (fakeFops) Read(dst fdops.Userio_i) (int, defs.Err_t)     { return 0, 0 }
func (fakeFops) Write(src fdops.Userio_i) (int, defs.Err_t)    { return 0, 0 }
func (fakeFops) Reopen() defs.Err_t                            { return 0 }

func freshTable(t *testing.T) *Table_t {
	t.Helper()
	pmem, err := mem.New(2*1024*1024, 0)
	require.NoError(t, err)

	disk := ext2.NewMemDisk(512, 1024)
	_, ferr := ext2.Mkfs(disk, ext2.MkfsOptions{})
	require.Zero(t, ferr)

	v := vfs.New()
	v.RegisterType(ext2.FSType)
	require.Zero(t, v.MountRoot("ext2", disk, ""))

	return NewTable(pmem, v)
}

func TestBootCreatesPidZero(t *testing.T) {
	tbl := freshTable(t)
	p, err := tbl.Boot(0, 0)
	require.Zero(t, err)
	require.EqualValues(t, 0, p.Pid)
	require.EqualValues(t, -1, p.Ppid)
}

func TestForkRequiresParentIsCurrent(t *testing.T) {
	tbl := freshTable(t)
	init, err := tbl.Boot(0, 0)
	require.Zero(t, err)

	child, ferr := tbl.Fork(init)
	require.Zero(t, ferr)
	require.NotEqual(t, init.Pid, child.Pid)
	require.Equal(t, init.Pid, child.Ppid)
}

func TestForkDuplicatesFdTableAndCwd(t *testing.T) {
	tbl := freshTable(t)
	init, err := tbl.Boot(0, 0)
	require.Zero(t, err)

	init.Cwd.Path = ustr.Ustr("/somewhere")
	child, ferr := tbl.Fork(init)
	require.Zero(t, ferr)

	child.Cwd.Path = ustr.Ustr("/elsewhere")
	require.Equal(t, "/somewhere", init.Cwd.Path.String())
}

func TestForkOnNonCurrentProcessFails(t *testing.T) {
	tbl := freshTable(t)
	init, err := tbl.Boot(0, 0)
	require.Zero(t, err)
	child, ferr := tbl.Fork(init)
	require.Zero(t, ferr)

	// child is not the scheduler's current task (sched only switches
	// cur via Yield/TimerTick, neither called here), so forking from
	// it must fail rather than silently fork off the wrong task.
	_, ferr2 := tbl.Fork(child)
	require.Equal(t, -defs.ESRCH, ferr2)
}

func TestExitThenWait4ReapsChild(t *testing.T) {
	tbl := freshTable(t)
	init, err := tbl.Boot(0, 0)
	require.Zero(t, err)
	child, ferr := tbl.Fork(init)
	require.Zero(t, ferr)

	go tbl.Exit(child, 7)

	pid, status, acc, werr := tbl.Wait4(init, -1)
	require.Zero(t, werr)
	require.Equal(t, child.Pid, pid)
	require.Equal(t, 7, status)
	require.NotNil(t, acc)

	_, stillThere := tbl.Get(child.Pid)
	require.False(t, stillThere)
}

func TestWait4WithNoChildrenFailsWithECHILD(t *testing.T) {
	tbl := freshTable(t)
	init, err := tbl.Boot(0, 0)
	require.Zero(t, err)
	_, _, _, werr := tbl.Wait4(init, -1)
	require.Equal(t, -defs.ECHILD, werr)
}

func TestExitReparentsOrphanedGrandchildren(t *testing.T) {
	tbl := freshTable(t)
	init, err := tbl.Boot(0, 0)
	require.Zero(t, err)
	mid, ferr := tbl.Fork(init)
	require.Zero(t, ferr)

	// mid is not sched's current task, so it cannot itself fork here;
	// instead verify init directly reparents mid's own orphan set via
	// the exit path by forging one into mid's children.
	orphan := &Process_t{Pid: 99, Ppid: mid.Pid, children: map[defs.Pid_t]bool{}, waitc: make(chan struct{}), Acc: &accnt.Accnt_t{}}
	tbl.mu.Lock()
	tbl.procs[orphan.Pid] = orphan
	tbl.mu.Unlock()
	mid.children[orphan.Pid] = true

	tbl.Exit(mid, 0)

	require.Equal(t, init.Pid, orphan.Ppid)
	require.True(t, init.children[orphan.Pid])
}

func TestKillSigkillTerminatesImmediately(t *testing.T) {
	tbl := freshTable(t)
	init, err := tbl.Boot(0, 0)
	require.Zero(t, err)
	child, ferr := tbl.Fork(init)
	require.Zero(t, ferr)

	require.Zero(t, tbl.Kill(child.Pid, signal.SIGKILL, init.Pid))
	pid, status, _, werr := tbl.Wait4(init, -1)
	require.Zero(t, werr)
	require.Equal(t, child.Pid, pid)
	require.Equal(t, signal.SIGKILL, status)
}

func TestKillNonFatalSignalSetsPending(t *testing.T) {
	tbl := freshTable(t)
	init, err := tbl.Boot(0, 0)
	require.Zero(t, err)
	require.Zero(t, tbl.Kill(init.Pid, signal.SIGUSR1, init.Pid))
	require.True(t, init.Sig.Sigpending().Has(signal.SIGUSR1))
}

func TestKillUnknownPidFailsWithESRCH(t *testing.T) {
	tbl := freshTable(t)
	require.Equal(t, -defs.ESRCH, tbl.Kill(42, signal.SIGTERM, 0))
}

func TestDeliverPendingDefaultTermKillsProcess(t *testing.T) {
	tbl := freshTable(t)
	init, err := tbl.Boot(0, 0)
	require.Zero(t, err)
	init.Sig.Kill(signal.SIGTERM, signal.Siginfo_t{Signo: signal.SIGTERM})

	acted, terminated := tbl.DeliverPending(init)
	require.True(t, acted)
	require.True(t, terminated)
}

func TestDeliverPendingIgnoredSignalDoesNotTerminate(t *testing.T) {
	tbl := freshTable(t)
	init, err := tbl.Boot(0, 0)
	require.Zero(t, err)
	init.Sig.Kill(signal.SIGCHLD, signal.Siginfo_t{Signo: signal.SIGCHLD})

	acted, terminated := tbl.DeliverPending(init)
	require.True(t, acted)
	require.False(t, terminated)
}

func TestBrkGrowsThenShrinksPageAligned(t *testing.T) {
	tbl := freshTable(t)
	init, err := tbl.Boot(0, 0)
	require.Zero(t, err)

	got, berr2 := tbl.Brk(init, BrkBase+8192)
	require.Zero(t, berr2)
	require.Equal(t, BrkBase+8192, got)

	got2, berr3 := tbl.Brk(init, BrkBase+100)
	require.Zero(t, berr3)
	require.Equal(t, BrkBase+100, got2)
}

func TestBrkQueryWithZeroReturnsCurrentBreak(t *testing.T) {
	tbl := freshTable(t)
	init, err := tbl.Boot(0, 0)
	require.Zero(t, err)
	got, berr := tbl.Brk(init, 0)
	require.Zero(t, berr)
	require.Equal(t, BrkBase, got)
}

func TestAddFdGetFdCloseFdRoundTrip(t *testing.T) {
	tbl := freshTable(t)
	init, err := tbl.Boot(0, 0)
	require.Zero(t, err)

	n := init.AddFd(&fd.Fd_t{Fops: fakeFops{}, Perms: fd.FD_READ})
	f, gerr := init.GetFd(n)
	require.Zero(t, gerr)
	require.NotNil(t, f)

	require.Zero(t, init.CloseFd(n))
	_, gerr2 := init.GetFd(n)
	require.Equal(t, -defs.EBADF, gerr2)
}
