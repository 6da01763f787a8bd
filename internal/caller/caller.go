// Package caller formats Go call stacks for kernel panic/debug
// output, standing in for the stack-walk a real implementation would
// do from saved frame pointers. Grounded on biscuit/src/caller/
// caller.go, generalized to drop its networking-specific whitelist
// use (packet-handler dedup) since this core carries no network
// stack.
package caller

import (
	"fmt"
	"runtime"
	"sync"
)

// Callerdump prints the call stack starting at the given depth to
// stdout, one frame per line with "<-" continuation markers, the
// same shape irq's panic dump wants for a CPU exception.
func Callerdump(start int) {
	fmt.Print(Trace(start))
}

// Trace renders the call stack starting at depth start as a string,
// without printing it, for callers (tests, cmd/osctl) that want the
// text rather than a side effect.
func Trace(start int) string {
	s := ""
	for i := start; ; i++ {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	return s
}

// Distinct_caller_t deduplicates repeated call chains so a noisy
// diagnostic (e.g. "page fault in kernel" during fuzzing) prints
// once per distinct ancestor chain rather than once per occurrence.
type Distinct_caller_t struct {
	sync.Mutex
	Enabled bool
	did     map[uintptr]bool
}

func pchash(pcs []uintptr) uintptr {
	if len(pcs) == 0 {
		panic("caller: empty pc slice")
	}
	var ret uintptr
	for _, pc := range pcs {
		pc = pc*1103515245 + 12345
		ret ^= pc
	}
	return ret
}

// Len returns the number of unique caller paths recorded so far.
func (dc *Distinct_caller_t) Len() int {
	dc.Lock()
	defer dc.Unlock()
	return len(dc.did)
}

// Distinct reports whether the current call chain has not been seen
// before, returning a formatted trace the first time each chain is
// observed and ("", false) on every repeat.
func (dc *Distinct_caller_t) Distinct() (bool, string) {
	dc.Lock()
	defer dc.Unlock()
	if !dc.Enabled {
		return false, ""
	}
	if dc.did == nil {
		dc.did = make(map[uintptr]bool)
	}

	var pcs []uintptr
	for sz, got := 30, 30; got >= sz; sz *= 2 {
		pcs = make([]uintptr, sz)
		got = runtime.Callers(3, pcs)
		if got == 0 {
			return false, ""
		}
		pcs = pcs[:got]
	}
	h := pchash(pcs)
	if dc.did[h] {
		return false, ""
	}
	dc.did[h] = true

	frames := runtime.CallersFrames(pcs)
	fs := ""
	for {
		fr, more := frames.Next()
		if fs == "" {
			fs = fmt.Sprintf("%s (%s:%d)\n", fr.Function, fr.File, fr.Line)
		} else {
			fs += fmt.Sprintf("\t%s (%s:%d)\n", fr.Function, fr.File, fr.Line)
		}
		if !more || fr.Function == "runtime.goexit" {
			break
		}
	}
	return true, fs
}
