// Package signal implements C9, per-process signal state: spec.md
// §4.7 "Each process carries a 48-slot action table," plus the
// pending/blocked bitmasks and the kill/sigaction/sigprocmask/
// sigpending/sigsuspend operations. There is no biscuit file devoted
// to this (biscuit's fork carried its own POSIX signal support
// directly in deleted runtime fragments), so this package is
// authored fresh against spec.md, following the table-of-structs +
// bitmask idiom the rest of this pack uses for fixed-size kernel
// tables (internal/sched.Sched_t's task map, internal/vm.Vmregion_t's
// sorted slice).
package signal

import (
	"sync"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
)

// NSIG is the size of the per-process action table (spec.md: "a
// 48-slot action table"). Signal numbers are 1-indexed, as POSIX
// requires; slot 0 is unused.
const NSIG = 48

// The signal numbers this core's syscall surface recognizes, using
// the classic i386 Linux numbering so a libc shim needs no remapping.
const (
	SIGHUP  = 1
	SIGINT  = 2
	SIGQUIT = 3
	SIGILL  = 4
	SIGTRAP = 5
	SIGABRT = 6
	SIGBUS  = 7
	SIGFPE  = 8
	SIGKILL = 9
	SIGUSR1 = 10
	SIGSEGV = 11
	SIGUSR2 = 12
	SIGPIPE = 13
	SIGALRM = 14
	SIGTERM = 15
	SIGCHLD = 17
	SIGCONT = 18
	SIGSTOP = 19
	SIGTSTP = 20
	SIGTTIN = 21
	SIGTTOU = 22
)

// Disposition categorizes a signal's default action when its
// handler is SIG_DFL.
type Disposition int

const (
	DispTerm Disposition = iota
	DispIgnore
	DispCore
	DispStop
	DispCont
)

func defaultDisposition(sig int) Disposition {
	switch sig {
	case SIGCHLD:
		return DispIgnore
	case SIGSTOP, SIGTSTP, SIGTTIN, SIGTTOU:
		return DispStop
	case SIGCONT:
		return DispCont
	case SIGQUIT, SIGILL, SIGABRT, SIGFPE, SIGSEGV, SIGBUS, SIGTRAP:
		return DispCore
	default:
		return DispTerm
	}
}

// Handler values a Sigaction_t's Handler field may hold; any other
// value is a user-mode handler address.
const (
	SIG_DFL uintptr = 0
	SIG_IGN uintptr = 1
)

// SA_* flags (the subset spec.md's action table needs).
const (
	SA_SIGINFO = 0x4
	SA_RESTART = 0x10000000
)

// Sigaction_t is one process's disposition for one signal number.
type Sigaction_t struct {
	Handler uintptr
	Mask    Sigset_t
	Flags   uint32
}

// Sigset_t is a bitmask over signal numbers 1..NSIG-1.
type Sigset_t uint64

func bit(sig int) Sigset_t { return 1 << uint(sig) }

// Add sets sig's bit.
func (s *Sigset_t) Add(sig int) { *s |= bit(sig) }

// Del clears sig's bit.
func (s *Sigset_t) Del(sig int) { *s &^= bit(sig) }

// Has reports whether sig's bit is set.
func (s Sigset_t) Has(sig int) bool { return s&bit(sig) != 0 }

// SI_* siginfo.si_code values (the subset kill(2)/sigaction(2) need).
const (
	SI_USER  = 0
	SI_KERNEL = 0x80
)

// Siginfo_t is the extra delivery context passed to an SA_SIGINFO
// handler.
type Siginfo_t struct {
	Signo  int
	Code   int
	Pid    defs.Pid_t
	Status int
}

// Table_t is a process's complete signal state: its 48-slot action
// table and its pending/blocked bitmasks (spec.md §3).
type Table_t struct {
	mu      sync.Mutex
	actions [NSIG]Sigaction_t
	pending Sigset_t
	blocked Sigset_t
	info    [NSIG]Siginfo_t

	// Wake, if set, is called whenever Kill makes a signal
	// deliverable, so a paused task can be marked runnable (spec.md
	// §4.7: "if the target is paused, mark it runnable").
	Wake func()
}

func validSig(sig int) bool { return sig > 0 && sig < NSIG }

// Kill delivers sig to tbl: spec.md's kill(pid, sig), minus the pid
// lookup, which proc performs before calling this. Returns EINVAL for
// an out-of-range signal number. The caller (proc.Kill) is
// responsible for forcing termination when sig == SIGKILL; this
// layer only records SIGKILL like any other pending bit, since
// Table_t has no notion of a task to terminate.
func (t *Table_t) Kill(sig int, info Siginfo_t) defs.Err_t {
	if !validSig(sig) {
		return -defs.EINVAL
	}
	t.mu.Lock()
	t.pending.Add(sig)
	t.info[sig] = info
	wake := t.Wake
	t.mu.Unlock()
	if wake != nil {
		wake()
	}
	return 0
}

// Sigaction installs act for sig, returning the previous action in
// old if non-nil. SIGKILL and SIGSTOP cannot be caught, blocked, or
// ignored (spec.md §4.7), so any attempt to change their disposition
// fails with EINVAL.
func (t *Table_t) Sigaction(sig int, act, old *Sigaction_t) defs.Err_t {
	if !validSig(sig) {
		return -defs.EINVAL
	}
	if (sig == SIGKILL || sig == SIGSTOP) && act != nil {
		return -defs.EINVAL
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if old != nil {
		*old = t.actions[sig]
	}
	if act != nil {
		t.actions[sig] = *act
	}
	return 0
}

// SIG_BLOCK/SIG_UNBLOCK/SIG_SETMASK, sigprocmask's how argument.
const (
	SIG_BLOCK = iota
	SIG_UNBLOCK
	SIG_SETMASK
)

// Sigprocmask changes tbl's blocked set per how/set, reporting the
// previous mask in old if non-nil. SIGKILL and SIGSTOP can never be
// blocked, so their bits are forced clear regardless of set.
func (t *Table_t) Sigprocmask(how int, set *Sigset_t, old *Sigset_t) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old != nil {
		*old = t.blocked
	}
	if set == nil {
		return 0
	}
	s := *set
	s.Del(SIGKILL)
	s.Del(SIGSTOP)
	switch how {
	case SIG_BLOCK:
		t.blocked |= s
	case SIG_UNBLOCK:
		t.blocked &^= s
	case SIG_SETMASK:
		t.blocked = s
	default:
		return -defs.EINVAL
	}
	return 0
}

// Sigpending returns tbl's pending set.
func (t *Table_t) Sigpending() Sigset_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Deliverable computes pending &^ blocked and returns its lowest
// numbered set bit (spec.md §4.7: "pick the lowest numbered bit").
func (t *Table_t) Deliverable() (sig int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.pending &^ t.blocked
	for s := 1; s < NSIG; s++ {
		if d.Has(s) {
			return s, true
		}
	}
	return 0, false
}

// Consume clears sig's pending bit and returns the action and
// siginfo that were recorded for it, for the return-to-user delivery
// path to act on.
func (t *Table_t) Consume(sig int) (Sigaction_t, Siginfo_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending.Del(sig)
	return t.actions[sig], t.info[sig]
}

// Default reports sig's default disposition, for the delivery loop
// to apply when the action is SIG_DFL.
func Default(sig int) Disposition { return defaultDisposition(sig) }

// Action returns a copy of tbl's current action for sig.
func (t *Table_t) Action(sig int) Sigaction_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.actions[sig]
}

// ForkChild builds the child's signal table per spec.md §4.6 fork:
// "duplicate the signal-action table, clear pending signals." The
// blocked mask is inherited (POSIX fork semantics), since spec.md
// does not call for clearing it.
func (t *Table_t) ForkChild() *Table_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	child := &Table_t{actions: t.actions, blocked: t.blocked}
	return child
}

// ResetOnExec clears every caught handler back to SIG_DFL, matching
// POSIX execve semantics (a handler address in the old image is
// meaningless in the new one); SIG_IGN dispositions and the blocked
// mask survive exec.
func (t *Table_t) ResetOnExec() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.actions {
		if t.actions[i].Handler != SIG_IGN {
			t.actions[i] = Sigaction_t{}
		}
	}
}
