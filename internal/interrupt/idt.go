// Package interrupt implements spec §4.B: a 256-gate interrupt/exception
// table, the legacy-PIC remap, and dispatch for CPU exceptions (0-31),
// hardware IRQs (32-47) and the syscall trap gate (0x80).
//
// There is no real IDTR to load in a hosted Go process, so Controller
// plays the role the reference's assembly entry stubs play: it is the
// single place every exception, IRQ and syscall trap flows through, and
// it carries the same GPR-frame contract (Regs) the reference's
// push/pop-all entry macros build on the stack.
package interrupt

import "github.com/cottonos/kernel/internal/cpu"

// Regs is the saved general-purpose register frame a vector handler sees,
// matching the fields an x86_64 entry stub would have pushed (spec §9).
type Regs struct {
	RAX, RBX, RCX, RDX    uint64
	RSI, RDI, RBP         uint64
	R8, R9, R10, R11      uint64
	R12, R13, R14, R15    uint64
	RIP, CS, RFLAGS, RSP, SS uint64
	ErrorCode uint64 // valid only for vectors 8, 10-14, 17
	Vector    uint8
}

// Handler processes one interrupt/exception/syscall occurrence.
type Handler func(f *Regs)

// Exception vector numbers used by name elsewhere in the kernel.
const (
	VecDivideError   = 0
	VecDebug         = 1
	VecNMI           = 2
	VecBreakpoint    = 3
	VecOverflow      = 4
	VecBoundRange    = 5
	VecInvalidOpcode = 6
	VecDeviceNotAvail = 7
	VecDoubleFault   = 8
	VecInvalidTSS    = 10
	VecSegmentNotPresent = 11
	VecStackFault    = 12
	VecGeneralProtection = 13
	VecPageFault     = 14
	VecFPError       = 16
	VecAlignmentCheck = 17
	VecMachineCheck  = 18
	VecSIMDError     = 19

	IRQBase     = 32 // IRQ 0 lands on vector 32
	VecSyscall  = 0x80
)

// hasErrorCode reports whether the CPU itself pushes an error code for
// this vector (spec §9: "with-error-code vectors (8, 10-14, 17)").
func hasErrorCode(vector uint8) bool {
	switch vector {
	case 8, 10, 11, 12, 13, 14, 17:
		return true
	}
	return false
}

// Controller owns the gate table and the PIC.
type Controller struct {
	bus   *cpu.Bus
	pic   *PIC
	gates [256]Handler

	// DoubleFaultStack models the dedicated stack vector 8 runs on; it
	// is never switched to automatically here (there is no real TSS
	// IST in this simulation) but its presence documents the contract.
	DoubleFaultStack []byte

	// OnUnhandled, if set, is invoked for a vector with no registered
	// handler. It is nil by default, and such a vector is then dropped;
	// exceptions are not made fatal here. An unbound IRQ is still
	// acknowledged at the PIC.
	OnUnhandled func(vector uint8, f *Regs)
}

// New builds the table, installs the PIC at the given bus and remaps it
// to [32,40) / [40,48) as required by spec §4.B.
func New(bus *cpu.Bus) *Controller {
	c := &Controller{
		bus:              bus,
		pic:              NewPIC(bus),
		DoubleFaultStack: make([]byte, 16*1024),
	}
	c.pic.Remap(IRQBase, IRQBase+8)
	return c
}

// PIC exposes the interrupt controller. Dispatch itself sends the EOI for
// every IRQ vector, so drivers do not acknowledge their IRQs through it.
func (c *Controller) PIC() *PIC { return c.pic }

// SetHandler installs a handler for an exception or IRQ vector.
func (c *Controller) SetHandler(vector uint8, h Handler) {
	c.gates[vector] = h
}

// SetIRQHandler is a convenience wrapper for binding IRQ lines (0-15)
// rather than raw vector numbers.
func (c *Controller) SetIRQHandler(irq uint8, h Handler) {
	c.SetHandler(IRQBase+irq, h)
}

// SetSyscallHandler installs the ring-3-accessible trap gate at 0x80.
func (c *Controller) SetSyscallHandler(h Handler) {
	c.SetHandler(VecSyscall, h)
}

// Dispatch delivers one interrupt/exception occurrence. It is the
// simulation's substitute for the CPU's own gate-table lookup: whatever
// drives the machine (PIT tick, keyboard scancode, page-fault injector,
// syscall trap) calls this directly with the vector and register frame.
func (c *Controller) Dispatch(vector uint8, f *Regs) {
	f.Vector = vector
	if !hasErrorCode(vector) {
		f.ErrorCode = 0
	}
	h := c.gates[vector]
	if h != nil {
		h(f)
	} else if c.OnUnhandled != nil {
		c.OnUnhandled(vector, f)
	}
	if vector >= IRQBase && vector < IRQBase+16 {
		c.pic.EOI(uint8(vector - IRQBase))
	}
}

// RaisePageFault is a convenience used by the paging/fault-injection
// paths: it stores the faulting address in CR2 before dispatching vector
// 14, as the CPU itself would.
func (c *Controller) RaisePageFault(addr uint64, errorCode uint64) {
	c.bus.SetCR2(addr)
	c.Dispatch(VecPageFault, &Regs{ErrorCode: errorCode})
}

// RaiseIRQ dispatches IRQ line irq (0-15) through its bound vector.
func (c *Controller) RaiseIRQ(irq uint8, f *Regs) {
	if f == nil {
		f = &Regs{}
	}
	c.Dispatch(IRQBase+irq, f)
}
