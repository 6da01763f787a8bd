package irq

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
)

func TestUnregisteredSyscallReturnsENOSYS(t *testing.T) {
	d := NewDispatcher()
	tf := &TrapFrame{Vector: VecSyscall, Eax: 999}
	d.Dispatch(tf)
	require.Equal(t, int32(-defs.ENOSYS), int32(tf.Eax))
}

func TestSyscallHandlerReceivesArgsAndReturnsResult(t *testing.T) {
	d := NewDispatcher()
	var gotNo, gotArg0 uint32
	d.SetSyscallHandler(func(tf *TrapFrame) int64 {
		gotNo = tf.Syscallno()
		gotArg0 = tf.Arg(0)
		return 42
	})
	tf := &TrapFrame{Vector: VecSyscall, Eax: 7, Ebx: 0xcafe}
	d.Dispatch(tf)
	require.Equal(t, uint32(7), gotNo)
	require.Equal(t, uint32(0xcafe), gotArg0)
	require.Equal(t, uint32(42), tf.Eax)
}

func TestTeardownTrapInvokesHandler(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.SetTeardownHandler(func(tf *TrapFrame) { called = true })
	d.Dispatch(&TrapFrame{Vector: VecTeardown})
	require.True(t, called)
}

func TestTimerIRQCallsTickAndAcknowledgesPIC(t *testing.T) {
	d := NewDispatcher()
	ticks := 0
	d.SetTickHandler(func() { ticks++ })
	d.Dispatch(&TrapFrame{Vector: IRQBase + 0})
	require.Equal(t, 1, ticks)
	require.Equal(t, 1, d.PIC().EOICount(0))
}

func TestSlaveIRQAcknowledgesOnlyItsOwnLine(t *testing.T) {
	d := NewDispatcher()
	d.Dispatch(&TrapFrame{Vector: IRQBase + 11})
	require.Equal(t, 1, d.PIC().EOICount(11))
	require.Zero(t, d.PIC().EOICount(0))
}

func TestIRQHookRunsBeforeAcknowledgement(t *testing.T) {
	d := NewDispatcher()
	var order []string
	d.SetIRQHook(14, func() { order = append(order, "hook") })
	d.Dispatch(&TrapFrame{Vector: IRQBase + 14})
	require.Equal(t, d.PIC().EOICount(14), 1)
	require.Equal(t, []string{"hook"}, order)
}

func TestUnwiredIRQ8Panics(t *testing.T) {
	d := NewDispatcher()
	var msg string
	d.SetPanicHook(func(m string) { msg = m })
	d.Dispatch(&TrapFrame{Vector: IRQBase + 8})
	require.Contains(t, msg, "IRQ line 8")
}

func TestPageFaultPanicsWithFaultAddress(t *testing.T) {
	d := NewDispatcher()
	var msg string
	d.SetPanicHook(func(m string) { msg = m })
	d.Dispatch(&TrapFrame{Vector: ExcPageFault, Cr2: 0xdeadb000, Eip: 0xc0101000})
	require.Contains(t, msg, "Page Fault")
	require.Contains(t, msg, "deadb000")
}

func TestGeneralProtectionFaultIncludesDisassembly(t *testing.T) {
	d := NewDispatcher()
	var msg string
	d.SetPanicHook(func(m string) { msg = m })
	// 0x90 is the one-byte NOP instruction; any valid encoding works here
	// since this only exercises that the disassembler is wired in.
	d.Dispatch(&TrapFrame{Vector: ExcGeneralProtection, CodeBytes: []byte{0x90}})
	require.Contains(t, msg, "General Protection Fault")
	require.True(t, strings.Contains(msg, "faulting instruction"))
}

func TestReservedVectorUsesGenericName(t *testing.T) {
	d := NewDispatcher()
	var msg string
	d.SetPanicHook(func(m string) { msg = m })
	d.Dispatch(&TrapFrame{Vector: 9})
	require.Contains(t, msg, "Reserved Exception 9")
}

func TestUnknownVectorPanics(t *testing.T) {
	d := NewDispatcher()
	var msg string
	d.SetPanicHook(func(m string) { msg = m })
	d.Dispatch(&TrapFrame{Vector: 200})
	require.Contains(t, msg, "unhandled interrupt vector 200")
}
