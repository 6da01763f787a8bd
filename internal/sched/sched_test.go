package sched

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xnscdev/os0-kernel-sub000/internal/mem"
)

func newtest(t *testing.T) *Sched_t {
	t.Helper()
	pmem, err := mem.New(8<<20, 0)
	require.NoError(t, err)
	return NewSched(pmem)
}

func TestFirstTaskBecomesRunningPidZero(t *testing.T) {
	s := newtest(t)
	boot, errno := s.TaskNew(0xc0100000)
	require.Zero(t, errno)
	require.Zero(t, boot.Pid)
	require.Equal(t, Running, boot.State)
	require.Equal(t, boot, s.Current())
}

func TestTaskNewLinksIntoCircularList(t *testing.T) {
	s := newtest(t)
	boot, errno := s.TaskNew(0)
	require.Zero(t, errno)
	child, errno := s.TaskNew(0x1000)
	require.Zero(t, errno)
	require.Equal(t, boot.Pid+1, child.Pid)
	require.Equal(t, Ready, child.State)
}

func TestYieldRoundRobinsBetweenReadyTasks(t *testing.T) {
	s := newtest(t)
	boot, _ := s.TaskNew(0)
	child, _ := s.TaskNew(0)
	require.Equal(t, boot, s.Current())

	next := s.Yield(Regs_t{Eip: 0x111})
	require.Equal(t, child, next)
	require.Equal(t, Ready, boot.State)
	require.Equal(t, uint32(0x111), boot.Regs.Eip)

	next = s.Yield(Regs_t{})
	require.Equal(t, boot, next)
}

func TestPausedTaskIsSkippedByScheduler(t *testing.T) {
	s := newtest(t)
	boot, _ := s.TaskNew(0)
	child, _ := s.TaskNew(0)
	require.Zero(t, s.SetState(child.Pid, Paused))

	next := s.Yield(Regs_t{})
	require.Equal(t, boot, next)
}

func TestTimerTickHonorsDisableSwitch(t *testing.T) {
	s := newtest(t)
	boot, _ := s.TaskNew(0)
	s.TaskNew(0)

	s.DisableSwitch()
	next := s.TimerTick(Regs_t{})
	require.Equal(t, boot, next)
	require.Equal(t, uint64(1), s.Ticks())

	s.EnableSwitch()
	next = s.TimerTick(Regs_t{})
	require.NotEqual(t, boot, next)
}

func TestTaskFreeUnlinksAndFreesPageDirectory(t *testing.T) {
	s := newtest(t)
	s.TaskNew(0)
	child, _ := s.TaskNew(0)
	require.Equal(t, 2, s.Len())

	require.Zero(t, s.TaskFree(child.Pid))
	require.Equal(t, 1, s.Len())
	_, ok := s.Get(child.Pid)
	require.False(t, ok)
}

func TestTaskForkCopiesParentRegsAndPid(t *testing.T) {
	s := newtest(t)
	boot, _ := s.TaskNew(0)
	boot.Regs = Regs_t{Eip: 0x4000, Esp: 0x8000, Ebp: 0x8000}

	child, errno := s.TaskFork()
	require.Zero(t, errno)
	require.Equal(t, boot.Pid, child.Ppid)
	require.Equal(t, boot.Regs, child.Regs)
	require.NotEqual(t, boot.PD, child.PD)
}

func TestTerminateRecordsWaitStatus(t *testing.T) {
	s := newtest(t)
	boot, _ := s.TaskNew(0)
	require.Zero(t, s.Terminate(boot.Pid, 9))
	got, ok := s.Get(boot.Pid)
	require.True(t, ok)
	require.Equal(t, Terminated, got.State)
	require.Equal(t, 9, got.Waitstatus)
}
