// Package sched implements C6, the task and scheduler: spec.md §3
// "Task & process" and §4.4. A task is the minimal schedulable unit
// (saved registers, owning page directory, link to the next task);
// the scheduler is a single-CPU, cooperative-with-timer-preemption
// round robin over a circular list of tasks.
//
// Grounded on os0-kernel/arch/i386/task.c for the task-list shape
// (a singly linked circular list with a running cursor) and on
// biscuit's arena-of-objects-indexed-by-id idiom (biscuit/src/vm/
// as.go's page-table bookkeeping, biscuit/src/tinfo's doomed/killed
// flag pair — the thread-local "current" pointer itself has no
// analog here, see DESIGN.md) for the PROCESS_LIMIT-sized task table.
package sched

import (
	"sync"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/mem"
	"github.com/xnscdev/os0-kernel-sub000/internal/vm"
)

// TaskLimit bounds the pid space (spec.md §3: "keyed by pid ∈
// [0, PROCESS_LIMIT)").
const TaskLimit = 512

// State is a task's position in spec.md §4.4's state machine:
// "Ready ↔ Running; Paused ...; Terminated ...".
type State int

const (
	Ready State = iota
	Running
	Paused
	Terminated
)

// Regs_t is the subset of machine state a context switch saves and
// restores (spec.md §3: "saved esp, saved ebp, saved eip"). This
// core never runs real machine code, so these fields are bookkeeping
// a simulated switch copies verbatim rather than registers a real
// assembly stub would push/pop.
type Regs_t struct {
	Esp, Ebp, Eip uint32
}

// Task_t is spec.md's minimal schedulable unit.
type Task_t struct {
	Pid, Ppid defs.Pid_t

	Regs Regs_t
	PD   mem.Pa_t

	State State
	// Waitstatus is valid once State == Terminated (spec.md §4.6
	// wait4: "copy its exit status").
	Waitstatus int

	// Doomed/Killed mirror biscuit's tinfo.Tnote_t flag pair, moved
	// here since there is no per-goroutine thread-local slot to hang
	// them off in stock Go.
	Doomed bool
	Killed bool

	next *Task_t
}

// Sched_t is the scheduler. Its noSwitch field is the "disable
// switch" nesting counter spec.md §4.4 requires around critical
// sections ("raise a per-CPU 'disable switch' counter around
// VGA-buffer writes and similar races"), raised and lowered by the
// DisableSwitch/EnableSwitch methods. It is a field on Sched_t rather
// than a package global so tests can run independent schedulers
// without sharing state.
type Sched_t struct {
	mu sync.Mutex

	tasks map[defs.Pid_t]*Task_t
	// cur is the running task; its `next` pointer and those of every
	// other live task together form the circular list spec.md
	// describes. An empty scheduler (cur == nil) has no tasks at all.
	cur *Task_t

	nextPid   defs.Pid_t
	noSwitch  int
	tickCount uint64

	pmem *mem.Physmem_t
}

// NewSched builds an empty scheduler; pid 0, the kernel's bootstrap
// task (spec.md §3: "pid 0 is the kernel's bootstrap task and never
// exits"), is created by the first call to TaskNew, which the boot
// sequence is expected to make with pid 0 reserved.
func NewSched(pmem *mem.Physmem_t) *Sched_t {
	return &Sched_t{tasks: make(map[defs.Pid_t]*Task_t), pmem: pmem}
}

// DisableSwitch raises the preemption-disable counter; TimerTick is
// a no-op while it is nonzero.
func (s *Sched_t) DisableSwitch() {
	s.mu.Lock()
	s.noSwitch++
	s.mu.Unlock()
}

// EnableSwitch lowers the preemption-disable counter.
func (s *Sched_t) EnableSwitch() {
	s.mu.Lock()
	if s.noSwitch == 0 {
		s.mu.Unlock()
		panic("sched: EnableSwitch without matching DisableSwitch")
	}
	s.noSwitch--
	s.mu.Unlock()
}

// Current returns the currently running task, or nil if the
// scheduler has none.
func (s *Sched_t) Current() *Task_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Get looks up a task by pid.
func (s *Sched_t) Get(pid defs.Pid_t) (*Task_t, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[pid]
	return t, ok
}

// allocPid picks the lowest free pid, or fails with EAGAIN once
// TaskLimit live tasks exist. Callers must hold s.mu.
func (s *Sched_t) allocPid() (defs.Pid_t, defs.Err_t) {
	if len(s.tasks) == 0 {
		return 0, 0
	}
	pid := s.nextPid
	if _, taken := s.tasks[pid]; !taken && pid < TaskLimit {
		return pid, 0
	}
	for p := defs.Pid_t(0); p < TaskLimit; p++ {
		if _, taken := s.tasks[p]; !taken {
			return p, 0
		}
	}
	return 0, -defs.EAGAIN
}

// insert finishes constructing a new task (links it into the
// circular list, indexes it by pid, and makes it Running if it is
// the very first task the scheduler has ever held). Callers must
// hold s.mu.
func (s *Sched_t) insert(pid defs.Pid_t, pd mem.Pa_t, regs Regs_t) *Task_t {
	ppid := defs.Pid_t(-1)
	if s.cur != nil {
		ppid = s.cur.Pid
	}
	t := &Task_t{Pid: pid, Ppid: ppid, PD: pd, Regs: regs, State: Ready}
	s.link(t)
	s.tasks[pid] = t
	s.nextPid = pid + 1
	if s.cur == nil {
		s.cur = t
		t.State = Running
	}
	return t
}

// TaskNew allocates a pid and clones the parent's (the current
// task's, if any) page directory, so the child sees the same kernel
// mappings (spec.md §4.4: "clone the current page directory"),
// wires a fresh entry eip, and links it into the task list.
func (s *Sched_t) TaskNew(entryEip uint32) (*Task_t, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pid, errno := s.allocPid()
	if errno != 0 {
		return nil, errno
	}

	var pd mem.Pa_t
	var err error
	if s.cur != nil {
		pd, err = vm.ClonePD(s.pmem, s.cur.PD)
	} else {
		pd, err = vm.NewPageDir(s.pmem)
	}
	if err != nil {
		return nil, -defs.ENOMEM
	}

	return s.insert(pid, pd, Regs_t{Eip: entryEip}), 0
}

// TaskFork is the one fork primitive this rewrite has (spec.md
// §4.6's `fork` calls down to it): it clones the current task's page
// directory and copies its saved register state verbatim, so the
// child resumes exactly where the parent was. `proc.Fork` builds the
// POSIX-level process object (open-file table, signal state,
// credentials) around the task this returns; the syscall-number
// return-value difference between parent and child is a `proc`
// concern, not a `sched` one, since `sched` has no notion of a
// syscall's accumulator.
func (s *Sched_t) TaskFork() (*Task_t, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		panic("sched: TaskFork with no running task")
	}

	pid, errno := s.allocPid()
	if errno != 0 {
		return nil, errno
	}
	pd, err := vm.ClonePD(s.pmem, s.cur.PD)
	if err != nil {
		return nil, -defs.ENOMEM
	}
	return s.insert(pid, pd, s.cur.Regs), 0
}

// link inserts t into the circular task list right after cur (or
// makes it the sole element of an empty list).
func (s *Sched_t) link(t *Task_t) {
	if s.cur == nil {
		t.next = t
		return
	}
	t.next = s.cur.next
	s.cur.next = t
}

// unlink removes t from the circular list. Callers must hold s.mu.
func (s *Sched_t) unlink(t *Task_t) {
	if t.next == t {
		return
	}
	p := t.next
	for p.next != t {
		p = p.next
	}
	p.next = t.next
}

// TaskFree unlinks pid from the scheduler and frees its page
// directory frames (spec.md §4.4: "unlink from the list, free its
// page directory frames and its kernel stack" — the kernel-stack
// half has no analog here since this core keeps no simulated stack
// memory beyond Regs_t's saved pointers).
func (s *Sched_t) TaskFree(pid defs.Pid_t) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[pid]
	if !ok {
		return -defs.ESRCH
	}
	if pid == 0 {
		panic("sched: pid 0 never exits")
	}
	if s.cur == t {
		if t.next == t {
			s.cur = nil
		} else {
			s.cur = t.next
		}
	}
	s.unlink(t)
	delete(s.tasks, pid)
	vm.FreePD(s.pmem, t.PD)
	return 0
}

// Yield voluntarily advances the running cursor to the next Ready
// task, saving/restoring Regs_t as a real context switch would
// save/restore the CPU's registers.
func (s *Sched_t) Yield(save Regs_t) (next *Task_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advance(save)
}

// advance picks the next runnable task after cur, skipping Paused
// and Terminated ones, and returns it (or cur itself if it is the
// only runnable task). Callers must hold s.mu.
func (s *Sched_t) advance(save Regs_t) *Task_t {
	if s.cur == nil {
		return nil
	}
	s.cur.Regs = save
	if s.cur.State == Running {
		s.cur.State = Ready
	}

	n := s.cur.next
	for i := 0; i < len(s.tasks); i++ {
		if n.State == Ready {
			break
		}
		n = n.next
	}
	n.State = Running
	s.cur = n
	return n
}

// TimerTick is the IRQ0 hook (spec.md §4.4: "A hardware timer fires
// at a fixed tick rate; the handler advances the cursor in the task
// list"). It is a no-op while DisableSwitch is outstanding or fewer
// than two runnable tasks exist. save is the interrupted task's
// register state at the point of the tick.
func (s *Sched_t) TimerTick(save Regs_t) *Task_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickCount++
	if s.noSwitch > 0 {
		return s.cur
	}
	return s.advance(save)
}

// Ticks reports how many timer ticks have been observed, for tests.
func (s *Sched_t) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickCount
}

// SetState transitions pid's state (Pause/Resume/Terminate use
// this), matching spec.md's "Paused (set by pause/sigsuspend/
// terminal read ...); Terminated (set by exit or a fatal signal)".
func (s *Sched_t) SetState(pid defs.Pid_t, st State) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[pid]
	if !ok {
		return -defs.ESRCH
	}
	t.State = st
	return 0
}

// Terminate marks pid Terminated with the given wait status
// (spec.md §4.6 wait4 reads this back).
func (s *Sched_t) Terminate(pid defs.Pid_t, waitstatus int) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[pid]
	if !ok {
		return -defs.ESRCH
	}
	t.State = Terminated
	t.Waitstatus = waitstatus
	return 0
}

// SetRegs overwrites pid's saved register state, the way execve
// resets a task's pc (and stack pointer) to a freshly loaded image's
// entry point (spec.md §4.6 execve: "set pc to the new image's entry
// point"). There is no dedicated exec primitive in this package —
// proc.Execve calls this directly after swapping in the new address
// space, the same split TaskFork's doc comment draws for fork's
// return-value handling.
func (s *Sched_t) SetRegs(pid defs.Pid_t, regs Regs_t) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[pid]
	if !ok {
		return -defs.ESRCH
	}
	t.Regs = regs
	return 0
}

// Len reports the number of live tasks, for tests.
func (s *Sched_t) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
