package signal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
)

// If a process has SIGINT blocked, kill(pid, SIGINT) sets bit SIGINT
// in pending. After sigprocmask unblocks SIGINT, it becomes
// deliverable, and consuming it once clears it from pending.
func TestBlockedSignalStaysPendingUntilUnblocked(t *testing.T) {
	var tbl Table_t
	blocked := Sigset_t(0)
	blocked.Add(SIGINT)
	require.Zero(t, tbl.Sigprocmask(SIG_SETMASK, &blocked, nil))

	require.Zero(t, tbl.Kill(SIGINT, Siginfo_t{Signo: SIGINT}))
	require.True(t, tbl.Sigpending().Has(SIGINT))

	_, ok := tbl.Deliverable()
	require.False(t, ok, "blocked signal must not be deliverable")

	unblock := Sigset_t(0)
	require.Zero(t, tbl.Sigprocmask(SIG_UNBLOCK, &blocked, nil))
	_ = unblock

	sig, ok := tbl.Deliverable()
	require.True(t, ok)
	require.Equal(t, SIGINT, sig)

	act, info := tbl.Consume(sig)
	require.Equal(t, SIG_DFL, act.Handler)
	require.Equal(t, SIGINT, info.Signo)

	_, ok = tbl.Deliverable()
	require.False(t, ok, "consuming must clear pending")
}

func TestKillRejectsOutOfRangeSignal(t *testing.T) {
	var tbl Table_t
	require.Equal(t, -defs.EINVAL, tbl.Kill(0, Siginfo_t{}))
	require.Equal(t, -defs.EINVAL, tbl.Kill(NSIG, Siginfo_t{}))
}

func TestSigactionRejectsSIGKILLAndSIGSTOP(t *testing.T) {
	var tbl Table_t
	act := Sigaction_t{Handler: 0x1000}
	require.Equal(t, -defs.EINVAL, tbl.Sigaction(SIGKILL, &act, nil))
	require.Equal(t, -defs.EINVAL, tbl.Sigaction(SIGSTOP, &act, nil))
}

func TestSigprocmaskNeverBlocksSIGKILLOrSIGSTOP(t *testing.T) {
	var tbl Table_t
	set := Sigset_t(0)
	set.Add(SIGKILL)
	set.Add(SIGSTOP)
	set.Add(SIGTERM)
	require.Zero(t, tbl.Sigprocmask(SIG_BLOCK, &set, nil))

	var old Sigset_t
	tbl.Sigprocmask(SIG_BLOCK, nil, &old)
	require.False(t, old.Has(SIGKILL))
	require.False(t, old.Has(SIGSTOP))
	require.True(t, old.Has(SIGTERM))
}

func TestDeliverablePicksLowestNumberedBit(t *testing.T) {
	var tbl Table_t
	tbl.Kill(SIGTERM, Siginfo_t{Signo: SIGTERM})
	tbl.Kill(SIGINT, Siginfo_t{Signo: SIGINT})
	sig, ok := tbl.Deliverable()
	require.True(t, ok)
	require.Equal(t, SIGINT, sig)
}

func TestForkChildInheritsActionsAndBlockedButNotPending(t *testing.T) {
	var parent Table_t
	act := Sigaction_t{Handler: 0x2000}
	parent.Sigaction(SIGUSR1, &act, nil)
	parent.Kill(SIGUSR1, Siginfo_t{Signo: SIGUSR1})

	child := parent.ForkChild()
	require.Equal(t, uintptr(0x2000), child.Action(SIGUSR1).Handler)
	require.False(t, child.Sigpending().Has(SIGUSR1))
}

func TestResetOnExecClearsHandlersButKeepsIgnore(t *testing.T) {
	var tbl Table_t
	caught := Sigaction_t{Handler: 0x3000}
	ignored := Sigaction_t{Handler: SIG_IGN}
	tbl.Sigaction(SIGUSR1, &caught, nil)
	tbl.Sigaction(SIGUSR2, &ignored, nil)

	tbl.ResetOnExec()
	require.Equal(t, SIG_DFL, tbl.Action(SIGUSR1).Handler)
	require.Equal(t, SIG_IGN, tbl.Action(SIGUSR2).Handler)
}

func TestDefaultDispositionMatchesPOSIXClasses(t *testing.T) {
	require.Equal(t, DispIgnore, Default(SIGCHLD))
	require.Equal(t, DispStop, Default(SIGSTOP))
	require.Equal(t, DispCont, Default(SIGCONT))
	require.Equal(t, DispCore, Default(SIGSEGV))
	require.Equal(t, DispTerm, Default(SIGTERM))
}
