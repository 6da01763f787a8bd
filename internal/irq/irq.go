// Package irq implements C5, the interrupt/trap entry point: spec.md
// §2 ("Demultiplex CPU exceptions, PIC IRQs, and the syscall trap")
// and §6 "Syscall ABI". There is no real IDT or CPU here — this core
// runs as an ordinary Go process exercising kernel logic rather than
// on bare metal — so Dispatch stands in for the assembly trap stub:
// whatever drives the simulated CPU (a test, or eventually a
// simulated fetch-decode-execute loop) builds a TrapFrame and calls
// Dispatch on it, exactly as real hardware would push a trap frame
// and jump through the IDT gate.
//
// Grounded on os0-kernel/arch/i386/isr.c (the exc<N>_handler/
// irq<N>_handler table and their panic-with-message / EOI bodies)
// and arch/i386/pic.c (idt_init's PIC remap sequence and its int
// 0x80/0x81 gate assignments for syscall and task-finaliser
// teardown). biscuit's forked Go runtime owned trap dispatch
// directly in its runtime fork, which this project's pack does not
// carry (out of scope per the earlier teardown of biscuit's deleted
// runtime fragments), so this package is authored fresh against the
// C original rather than adapted from a biscuit file.
package irq

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/xnscdev/os0-kernel-sub000/internal/caller"
	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
)

// Vector numbers. Exceptions occupy 0-31; IRQs are remapped to
// 32-47 by NewDispatcher's PIC_t (pic.c remaps the master/slave PIC
// to offsets 0x20/0x28, i.e. decimal 32/40); the syscall and
// teardown gates sit at the traditional os0-kernel slots 0x80/0x81.
const (
	ExcDivideError        = 0
	ExcDebug              = 1
	ExcNMI                = 2
	ExcBreakpoint         = 3
	ExcOverflow           = 4
	ExcBoundRange         = 5
	ExcInvalidOpcode      = 6
	ExcDeviceNotAvailable = 7
	ExcDoubleFault        = 8
	ExcInvalidTSS         = 10
	ExcSegmentNotPresent  = 11
	ExcStackFault         = 12
	ExcGeneralProtection  = 13
	ExcPageFault          = 14
	ExcX87FP              = 16
	ExcAlignmentCheck     = 17
	ExcMachineCheck       = 18
	ExcSIMDFP             = 19
	ExcVirtualization     = 20
	ExcSecurity           = 30

	IRQBase = 32
	NumIRQ  = 16

	VecSyscall  = 0x80
	VecTeardown = 0x81
)

// excNames mirrors isr.c's per-vector panic message literally; a
// vector isr.c never wires a handler for (9, 15, 21-29, 31) has no
// entry and falls back to a generic "Reserved Exception" message.
var excNames = map[uint32]string{
	ExcDivideError:        "Divide-by-zero Fault",
	ExcDebug:              "Debug Trap",
	ExcNMI:                "Non-maskable Interrupt",
	ExcBreakpoint:         "Breakpoint Trap",
	ExcOverflow:           "Overflow Trap",
	ExcBoundRange:         "Bound Range Exceeded",
	ExcInvalidOpcode:      "Invalid Opcode",
	ExcDeviceNotAvailable: "Device Not Available",
	ExcDoubleFault:        "Double Fault",
	ExcInvalidTSS:         "Invalid TSS",
	ExcSegmentNotPresent:  "Segment Not Present",
	ExcStackFault:         "Stack-Segment Fault",
	ExcGeneralProtection:  "General Protection Fault",
	ExcPageFault:          "Page Fault",
	ExcX87FP:              "x87 Floating-Point Exception",
	ExcAlignmentCheck:     "Alignment Check",
	ExcMachineCheck:       "Machine Check",
	ExcSIMDFP:             "SIMD Floating-Point Exception",
	ExcVirtualization:     "Virtualization Exception",
	ExcSecurity:           "Security Exception",
}

// TrapFrame is the register state saved by a trap entry, in `pusha`
// order for the general-purpose registers plus the hardware-pushed
// vector/error-code/return-state words. Useresp/Ss are only
// meaningful when the trap crossed a privilege level (ring 3 to
// ring 0); Cr2 is only meaningful for ExcPageFault. CodeBytes, when
// non-nil, holds the instruction bytes starting at Eip, which
// panicException disassembles into the register dump — real
// hardware would fetch these from the faulting code segment, but a
// simulated CPU has no memory of its own to fetch from, so whatever
// drives Dispatch supplies them.
type TrapFrame struct {
	Edi, Esi, Ebp, Ebx, Edx, Ecx, Eax uint32

	Vector, Errcode uint32

	Eip, Cs, Eflags uint32
	Useresp, Ss     uint32

	Cr2 uint32

	CodeBytes []byte
}

// Syscallno returns the call number, conventionally held in Eax for
// an int 0x80 trap (spec.md §6: "Call number in the accumulator").
func (tf *TrapFrame) Syscallno() uint32 { return tf.Eax }

// Arg returns the i'th syscall argument (i in [0,5]), following the
// classic i386 ABI of ebx, ecx, edx, esi, edi, ebp.
func (tf *TrapFrame) Arg(i int) uint32 {
	switch i {
	case 0:
		return tf.Ebx
	case 1:
		return tf.Ecx
	case 2:
		return tf.Edx
	case 3:
		return tf.Esi
	case 4:
		return tf.Edi
	case 5:
		return tf.Ebp
	default:
		panic("irq: syscall argument index out of range")
	}
}

// SetReturn stores a syscall's result (spec.md: "result in the
// accumulator on return"). Negative values are errno values in
// -1..-4095 and are stored as their two's-complement uint32.
func (tf *TrapFrame) SetReturn(v int64) { tf.Eax = uint32(int32(v)) }

// TickFunc is called once per timer IRQ (IRQ0); it is how C6's
// scheduler registers its preemption tick.
type TickFunc func()

// SyscallFunc dispatches a syscall trap and returns the value to
// store in the accumulator; C8 registers this.
type SyscallFunc func(tf *TrapFrame) int64

// TeardownFunc handles the int 0x81 finaliser-teardown trap
// (spec.md §6: "requests teardown of the current task's kernel-side
// finalisers and is used only by the userland runtime").
type TeardownFunc func(tf *TrapFrame)

// Dispatcher is the demultiplexer every trap entry funnels through.
// It owns no locking of its own beyond what PIC_t needs: on a
// single-CPU kernel, traps are handled to completion before the
// next one can be taken, exactly as spec.md's switch-point ordering
// requires (interrupts disabled for the duration of a dispatch).
type Dispatcher struct {
	pic PIC_t

	tick       TickFunc
	syscall    SyscallFunc
	teardown   TeardownFunc
	irqHooks   [NumIRQ]func()
	panicHook  func(string)
}

// NewDispatcher builds a Dispatcher with its PIC remapped to
// vectors 32-47, matching pic.c's idt_init (master command 0x20,
// offsets reprogrammed to 0x20/0x28).
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{}
	d.pic.remap()
	return d
}

// SetTickHandler registers the IRQ0 (timer) callback.
func (d *Dispatcher) SetTickHandler(fn TickFunc) { d.tick = fn }

// SetSyscallHandler registers the int 0x80 callback.
func (d *Dispatcher) SetSyscallHandler(fn SyscallFunc) { d.syscall = fn }

// SetTeardownHandler registers the int 0x81 callback.
func (d *Dispatcher) SetTeardownHandler(fn TeardownFunc) { d.teardown = fn }

// SetIRQHook registers a driver callback run before EOI for a given
// IRQ line (isr.c's irq14/irq15 handlers set an `ide_irq` flag
// before acknowledging; a registered hook here plays that role for
// whatever driver owns that line).
func (d *Dispatcher) SetIRQHook(irq int, fn func()) {
	if irq < 0 || irq >= NumIRQ {
		panic("irq: IRQ line out of range")
	}
	d.irqHooks[irq] = fn
}

// SetPanicHook overrides how an unrecoverable condition is reported
// (tests use this to capture the message instead of crashing the
// process).
func (d *Dispatcher) SetPanicHook(fn func(string)) { d.panicHook = fn }

// PIC returns the dispatcher's simulated 8259 pair, for tests and
// drivers that need to inspect EOI/mask state.
func (d *Dispatcher) PIC() *PIC_t { return &d.pic }

// Dispatch demultiplexes a single trap. Exceptions (vector < 32)
// never return: they panic with a register dump (spec.md §7: "CPU
// exceptions ... panic with a register dump"). IRQs acknowledge the
// PIC unconditionally, even when no hook is registered, matching
// isr.c's every irq<N>_handler ending in outb(PIC_EOI, ...)
// regardless of whether it did other work first.
func (d *Dispatcher) Dispatch(tf *TrapFrame) {
	switch {
	case tf.Vector < 32:
		d.panicException(tf)
	case tf.Vector == VecSyscall:
		if d.syscall == nil {
			tf.SetReturn(int64(-defs.ENOSYS))
			return
		}
		tf.SetReturn(d.syscall(tf))
	case tf.Vector == VecTeardown:
		if d.teardown != nil {
			d.teardown(tf)
		}
	case tf.Vector >= IRQBase && tf.Vector < IRQBase+NumIRQ:
		d.dispatchIRQ(int(tf.Vector - IRQBase))
	default:
		d.panicf("unhandled interrupt vector %d", tf.Vector)
	}
}

func (d *Dispatcher) dispatchIRQ(irq int) {
	// IRQ8 (RTC) has no handler in isr.c's table; reaching it is a
	// PIC programming bug.
	if irq == 8 {
		d.panicf("unhandled IRQ line 8")
	}
	if hook := d.irqHooks[irq]; hook != nil {
		hook()
	}
	if irq == 0 && d.tick != nil {
		d.tick()
	}
	d.pic.SendEOI(irq)
}

func (d *Dispatcher) panicException(tf *TrapFrame) {
	name, ok := excNames[tf.Vector]
	if !ok {
		name = fmt.Sprintf("Reserved Exception %d", tf.Vector)
	}
	d.panicf("%s", dumpRegisters(name, tf))
}

func (d *Dispatcher) panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if d.panicHook != nil {
		d.panicHook(msg)
		return
	}
	caller.Callerdump(2)
	panic("irq: " + msg)
}

// dumpRegisters formats the register-dump panic message spec.md §7
// requires for a CPU exception, including the faulting address for
// a page fault and a best-effort disassembly of the faulting
// instruction when CodeBytes was supplied.
func dumpRegisters(name string, tf *TrapFrame) string {
	s := fmt.Sprintf("CPU Exception: %s\n"+
		"eip=%#08x cs=%#04x eflags=%#08x errcode=%#x\n"+
		"eax=%#08x ebx=%#08x ecx=%#08x edx=%#08x\n"+
		"esi=%#08x edi=%#08x ebp=%#08x\n",
		name, tf.Eip, tf.Cs, tf.Eflags, tf.Errcode,
		tf.Eax, tf.Ebx, tf.Ecx, tf.Edx,
		tf.Esi, tf.Edi, tf.Ebp)
	if tf.Vector == ExcPageFault {
		s += fmt.Sprintf("fault address (cr2)=%#08x\n", tf.Cr2)
	}
	if len(tf.CodeBytes) > 0 {
		if inst, err := x86asm.Decode(tf.CodeBytes, 32); err == nil {
			s += fmt.Sprintf("faulting instruction: %s\n", x86asm.GNUSyntax(inst, uint64(tf.Eip), nil))
		} else {
			s += fmt.Sprintf("faulting instruction: <undecodable: %v, bytes % x>\n", err, tf.CodeBytes)
		}
	}
	return s
}
