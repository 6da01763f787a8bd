// Package stats collects lightweight kernel counters (interrupt
// tallies, scheduler ticks) and formats them as a text report.
// Grounded on biscuit/src/stats/stats.go's
// Counter_t/Cycles_t shape, with one substitution: biscuit's
// Rdtsc() called into its forked Go runtime's runtime.Rdtsc(), a
// real cycle-counter read with no stock-Go equivalent; here Cycles_t
// times with time.Now()/time.Since instead, which is the honest
// thing to do once there is no real CPU underneath to read a
// timestamp counter from.
package stats

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NumIRQLines bounds the per-line interrupt tally, matching irq.NumIRQ.
const NumIRQLines = 16

// Counter_t is a simple monotonic count.
type Counter_t struct{ n int64 }

// Inc increments the counter by one.
func (c *Counter_t) Inc() { c.n++ }

// Add increments the counter by n.
func (c *Counter_t) Add(n int64) { c.n += n }

// N reports the current count.
func (c *Counter_t) N() int64 { return c.n }

// Cycles_t accumulates elapsed wall-clock time across a sequence of
// Start/Stop pairs, standing in for a cycle counter on a simulated
// CPU that has no TSC to read.
type Cycles_t struct {
	total time.Duration
	start time.Time
}

// Start begins timing an interval.
func (c *Cycles_t) Start() { c.start = time.Now() }

// Stop ends the interval started by Start and accumulates it.
func (c *Cycles_t) Stop() { c.total += time.Since(c.start) }

// Total reports the accumulated duration.
func (c *Cycles_t) Total() time.Duration { return c.total }

// Stats_t is the full counter set a kernel build collects.
type Stats_t struct {
	Nirqs    [NumIRQLines]Counter_t
	Irqs     Counter_t
	Ticks    Counter_t
	Syscalls Counter_t
	Sched    Cycles_t
}

// String renders the irq, tick, syscall and scheduler totals (always,
// even when zero) and each nonzero per-line IRQ count, group-separating large
// numbers via x/text/message the way a real diagnostics report would
// (nirqs easily reaches six figures on a long-running test).
func (st *Stats_t) String() string {
	p := message.NewPrinter(language.English)
	s := p.Sprintf("irqs=%d ticks=%d syscalls=%d sched=%s\n",
		st.Irqs.N(), st.Ticks.N(), st.Syscalls.N(), st.Sched.Total())
	for i, c := range st.Nirqs {
		if c.N() != 0 {
			s += p.Sprintf("  irq%d: %d\n", i, c.N())
		}
	}
	return s
}

// RecordIRQ tallies one occurrence of IRQ line irq.
func (st *Stats_t) RecordIRQ(irq int) {
	if irq < 0 || irq >= NumIRQLines {
		panic(fmt.Sprintf("stats: IRQ line %d out of range", irq))
	}
	st.Nirqs[irq].Inc()
	st.Irqs.Inc()
}
