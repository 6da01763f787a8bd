// Package limits enforces the system-wide resource ceilings spec.md
// §7 names under "resource exhaustion": out of pids, fds, heap,
// frames, disk blocks, inodes. Grounded on biscuit/src/limits/
// limits.go's Sysatomic_t take/give counter, narrowed to the fields
// this kernel actually tracks — biscuit's Syslimit_t also carried
// Arpents/Routes/Tcpsegs/Socks (ARP table, routing table, TCP
// segment, and socket ceilings), all networking-stack resources this
// core's non-goals exclude (spec.md carries no network stack), so
// they are dropped rather than carried as dead fields.
package limits

import (
	"sync/atomic"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
)

// Sysatomic_t is an atomic "at most N outstanding" counter: Take
// fails once Given-Taken would go negative, matching biscuit's
// lock-free limit-checking idiom.
type Sysatomic_t struct {
	Given int64
	taken int64
}

// Take reserves one unit, returning false if the limit is exhausted.
func (s *Sysatomic_t) Take() bool {
	for {
		cur := atomic.LoadInt64(&s.taken)
		if cur >= atomic.LoadInt64(&s.Given) {
			return false
		}
		if atomic.CompareAndSwapInt64(&s.taken, cur, cur+1) {
			return true
		}
	}
}

// Give releases one previously Take'n unit.
func (s *Sysatomic_t) Give() {
	if atomic.AddInt64(&s.taken, -1) < 0 {
		panic("limits: Give without matching Take")
	}
}

// Taken reports the number of units currently outstanding.
func (s *Sysatomic_t) Taken() int64 { return atomic.LoadInt64(&s.taken) }

// Syslimit_t is the system-wide ceiling set: process-table slots
// (spec.md §3: "pid ∈ [0, PROCESS_LIMIT)"), in-memory vnodes (VFS
// inode cache entries), open pipes, and disk blocks reserved for
// pending writes.
type Syslimit_t struct {
	Sysprocs Sysatomic_t
	Vnodes   Sysatomic_t
	Pipes    Sysatomic_t
	Blocks   Sysatomic_t
}

// MkSysLimit builds the default system limit set, sized the way
// spec.md's task/process invariants require (PROCESS_LIMIT pids;
// generous vnode/pipe/block ceilings above what any test scenario
// needs, so a test failure reflects a real bug rather than the
// ceiling itself).
func MkSysLimit() *Syslimit_t {
	sl := &Syslimit_t{}
	sl.Sysprocs.Given = 512
	sl.Vnodes.Given = 1 << 16
	sl.Pipes.Given = 1 << 10
	sl.Blocks.Given = 1 << 20
	return sl
}

// Syslimit is the process-wide default limit set every subsystem
// that allocates a scarce resource consults.
var Syslimit = MkSysLimit()

// TakeOrErr is a convenience wrapper turning a failed Take into the
// errno spec.md §7 names for that resource kind.
func TakeOrErr(s *Sysatomic_t, onExhausted defs.Err_t) defs.Err_t {
	if !s.Take() {
		return onExhausted
	}
	return 0
}
