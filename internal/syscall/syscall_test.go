package syscall

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/ext2"
	"github.com/xnscdev/os0-kernel-sub000/internal/irq"
	"github.com/xnscdev/os0-kernel-sub000/internal/mem"
	"github.com/xnscdev/os0-kernel-sub000/internal/proc"
	"github.com/xnscdev/os0-kernel-sub000/internal/signal"
	"github.com/xnscdev/os0-kernel-sub000/internal/vfs"
)

// trapFrame builds a bare trap frame carrying only a syscall number,
// for tests that only need to exercise argument-free handlers (the
// boot process is always sched's current task in these tests, so
// procs.Current() resolves it without a real trap having occurred).
func trapFrame(no uint32) *irq.TrapFrame {
	return &irq.TrapFrame{Eax: no}
}

func freshTable(t *testing.T) (*proc.Table_t, *vfs.VFS_t, *proc.Process_t) {
	t.Helper()
	pmem, err := mem.New(2*1024*1024, 0)
	require.NoError(t, err)

	disk := ext2.NewMemDisk(512, 1024)
	_, ferr := ext2.Mkfs(disk, ext2.MkfsOptions{})
	require.Zero(t, ferr)

	v := vfs.New()
	v.RegisterType(ext2.FSType)
	require.Zero(t, v.MountRoot("ext2", disk, ""))

	procs := proc.NewTable(pmem, v)
	init, berr := procs.Boot(0, 0)
	require.Zero(t, berr)
	return procs, v, init
}

func TestDispatchUnknownSyscallReturnsENOSYS(t *testing.T) {
	procs, v, _ := freshTable(t)
	tbl := New(procs, v)

	got := tbl.Dispatch(trapFrame(299))
	require.Equal(t, int64(-defs.ENOSYS), got)
}

func TestDispatchOutOfRangeSyscallReturnsENOSYS(t *testing.T) {
	procs, v, _ := freshTable(t)
	tbl := New(procs, v)

	got := tbl.Dispatch(trapFrame(MaxSyscalls + 1))
	require.Equal(t, int64(-defs.ENOSYS), got)
}

func TestGetpidGetppidReturnRealPids(t *testing.T) {
	procs, v, init := freshTable(t)
	tbl := New(procs, v)

	got := tbl.Dispatch(trapFrame(SYS_GETPID))
	require.EqualValues(t, init.Pid, got)

	got2 := tbl.Dispatch(trapFrame(SYS_GETPPID))
	require.EqualValues(t, init.Ppid, got2)
}

func TestBrkViaDispatchGrowsBreak(t *testing.T) {
	procs, v, _ := freshTable(t)
	tbl := New(procs, v)

	tf := trapFrame(SYS_BRK)
	tf.Ebx = uint32(proc.BrkBase + 4096)
	got := tbl.Dispatch(tf)
	require.EqualValues(t, proc.BrkBase+4096, got)
}

func TestBrkQueryReturnsCurrentBreak(t *testing.T) {
	procs, v, _ := freshTable(t)
	tbl := New(procs, v)

	got := tbl.Dispatch(trapFrame(SYS_BRK))
	require.EqualValues(t, proc.BrkBase, got)
}

func TestKillViaDispatchSetsPendingSignal(t *testing.T) {
	procs, v, init := freshTable(t)
	tbl := New(procs, v)

	tf := trapFrame(SYS_KILL)
	tf.Ebx = uint32(int32(init.Pid))
	tf.Ecx = signal.SIGUSR1
	got := tbl.Dispatch(tf)
	require.EqualValues(t, 0, got)
	require.True(t, init.Sig.Sigpending().Has(signal.SIGUSR1))
}

func TestKillUnknownPidReturnsESRCH(t *testing.T) {
	procs, v, _ := freshTable(t)
	tbl := New(procs, v)

	tf := trapFrame(SYS_KILL)
	tf.Ebx = 999
	tf.Ecx = signal.SIGTERM
	got := tbl.Dispatch(tf)
	require.Equal(t, int64(-defs.ESRCH), got)
}

func TestForkViaDispatchReturnsChildPid(t *testing.T) {
	procs, v, init := freshTable(t)
	tbl := New(procs, v)

	got := tbl.Dispatch(trapFrame(SYS_FORK))
	require.Greater(t, got, int64(0))
	require.NotEqual(t, int64(init.Pid), got)
}

func TestOpenWriteCloseRoundTrip(t *testing.T) {
	procs, v, init := freshTable(t)
	tbl := New(procs, v)

	_, merr := init.AS.Mmap(0x1000, 2*4096, defs.PROT_READ|defs.PROT_WRITE, defs.MAP_PRIVATE|defs.MAP_FIXED|defs.MAP_ANONYMOUS, nil, 0)
	require.Zero(t, merr)

	path := "/greeting"
	pathUva := uintptr(0x1000)
	require.Zero(t, init.AS.K2user(append([]byte(path), 0), pathUva))

	tf := trapFrame(SYS_OPEN)
	tf.Ebx = uint32(pathUva)
	tf.Ecx = defs.O_CREAT | defs.O_RDWR
	tf.Edx = defs.S_IRUSR | defs.S_IWUSR
	got := tbl.Dispatch(tf)
	require.GreaterOrEqual(t, got, int64(0))
	fdNum := uint32(got)

	data := []byte("hello")
	dataUva := uintptr(0x2000)
	require.Zero(t, init.AS.K2user(data, dataUva))

	wtf := trapFrame(SYS_WRITE)
	wtf.Ebx = fdNum
	wtf.Ecx = uint32(dataUva)
	wtf.Edx = uint32(len(data))
	wgot := tbl.Dispatch(wtf)
	require.EqualValues(t, len(data), wgot)

	ctf := trapFrame(SYS_CLOSE)
	ctf.Ebx = fdNum
	require.EqualValues(t, 0, tbl.Dispatch(ctf))
}
