// Package accnt tracks per-process CPU-time accounting for rusage
// (spec.md §3: "cumulative resource usage for self and reaped
// children"). Grounded on biscuit/src/accnt/accnt.go, adapted to
// this core's time source: biscuit measured real elapsed nanoseconds
// around each context switch, which this rewrite keeps, and uses
// internal/stats.Cycles_t-style time.Now() deltas rather than a
// hardware counter.
package accnt

import (
	"sync"
	"time"

	"github.com/xnscdev/os0-kernel-sub000/internal/util"
)

// Accnt_t accumulates nanoseconds of user-mode and system-mode time
// for one process, plus the same totals inherited from reaped
// children (spec.md: "cumulative resource usage for self and reaped
// children").
type Accnt_t struct {
	sync.Mutex
	Userns int64
	Sysns  int64
}

// Utadd adds ns nanoseconds of user-mode time.
func (a *Accnt_t) Utadd(ns int64) {
	a.Lock()
	a.Userns += ns
	a.Unlock()
}

// Systadd adds ns nanoseconds of system-mode time.
func (a *Accnt_t) Systadd(ns int64) {
	a.Lock()
	a.Sysns += ns
	a.Unlock()
}

// Now returns the current time in nanoseconds, the timebase every
// other method on this type measures against.
func Now() int64 { return time.Now().UnixNano() }

// Add folds other's totals into a (used when a parent reaps a
// terminated child: spec.md "cumulative resource usage for self and
// reaped children").
func (a *Accnt_t) Add(other *Accnt_t) {
	other.Lock()
	u, s := other.Userns, other.Sysns
	other.Unlock()
	a.Lock()
	a.Userns += u
	a.Sysns += s
	a.Unlock()
}

// Fetch returns a's current totals.
func (a *Accnt_t) Fetch() (userns, sysns int64) {
	a.Lock()
	defer a.Unlock()
	return a.Userns, a.Sysns
}

// To_rusage encodes a getrusage-shaped result into ret: four
// little-endian int64 fields, {utime_sec, utime_usec, stime_sec,
// stime_usec}, the subset of struct rusage spec.md's wait4/getrusage
// syscalls need to report.
func (a *Accnt_t) To_rusage(ret []uint8) {
	userns, sysns := a.Fetch()
	const nsPerSec = int64(time.Second)
	const nsPerUsec = int64(time.Microsecond)
	util.Writen(ret, 8, 0, uint64(userns/nsPerSec))
	util.Writen(ret, 8, 8, uint64((userns%nsPerSec)/nsPerUsec))
	util.Writen(ret, 8, 16, uint64(sysns/nsPerSec))
	util.Writen(ret, 8, 24, uint64((sysns%nsPerSec)/nsPerUsec))
}

// RusageSize is the byte length To_rusage expects ret to have.
const RusageSize = 32
