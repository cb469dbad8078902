package interrupt

import "github.com/cottonos/kernel/internal/cpu"

// Legacy 8259 PIC ports (spec §4.B).
const (
	masterCmd  = 0x20
	masterData = 0x21
	slaveCmd   = 0xA0
	slaveData  = 0xA1

	icw1Init = 0x11 // ICW1, cascade mode, ICW4 needed
	icw4Mode = 0x01 // 8086 mode

	eoi = 0x20
)

// PIC models the two cascaded 8259 chips. It is a cpu.PortDevice so the
// remap sequence really does flow through Bus.Out8/In8 the way the
// reference's port-write loop does.
type PIC struct {
	bus *cpu.Bus

	masterOffset, slaveOffset uint8
	masterMask, slaveMask     uint8
}

// NewPIC constructs a PIC and registers it on the bus at its four ports.
func NewPIC(bus *cpu.Bus) *PIC {
	p := &PIC{bus: bus, masterMask: 0xFF, slaveMask: 0xFF}
	bus.RegisterPort(masterCmd, p)
	bus.RegisterPort(masterData, p)
	bus.RegisterPort(slaveCmd, p)
	bus.RegisterPort(slaveData, p)
	return p
}

// In/Out implement cpu.PortDevice; only the two data ports are readable
// (the mask registers), matching real 8259 behavior closely enough.
func (p *PIC) In(port uint16, w cpu.Width) uint32 {
	switch port {
	case masterData:
		return uint32(p.masterMask)
	case slaveData:
		return uint32(p.slaveMask)
	}
	return 0
}

func (p *PIC) Out(port uint16, w cpu.Width, val uint32) {
	switch port {
	case masterData:
		p.masterMask = uint8(val)
	case slaveData:
		p.slaveMask = uint8(val)
	}
}

// Remap reprograms both chips so master serves vectors
// [masterOffset, masterOffset+8) and slave serves [slaveOffset, slaveOffset+8),
// per spec §4.B: master 32-39, slave 40-47. It runs the real ICW1-4
// sequence through the bus ports, then clears both masks so all IRQs are
// enabled.
func (p *PIC) Remap(masterOffset, slaveOffset uint8) {
	p.masterOffset, p.slaveOffset = masterOffset, slaveOffset

	p.bus.Out8(masterCmd, icw1Init)
	p.bus.Out8(slaveCmd, icw1Init)
	p.bus.Out8(masterData, masterOffset) // ICW2: vector offset
	p.bus.Out8(slaveData, slaveOffset)
	p.bus.Out8(masterData, 1<<2) // ICW3: slave attached on IRQ2
	p.bus.Out8(slaveData, 2)
	p.bus.Out8(masterData, icw4Mode) // ICW4: 8086 mode
	p.bus.Out8(slaveData, icw4Mode)

	p.bus.Out8(masterData, 0x00) // OCW1: clear masks, enable all IRQs
	p.bus.Out8(slaveData, 0x00)
}

// EOI sends end-of-interrupt for the given IRQ line. For any IRQ >= 8 the
// slave is acknowledged first, then the master is always acknowledged
// (spec §4.B).
func (p *PIC) EOI(irq uint8) {
	if irq >= 8 {
		p.bus.Out8(slaveCmd, eoi)
	}
	p.bus.Out8(masterCmd, eoi)
}

// Mask/Unmask gate a single IRQ line (0-15) without touching the others.
func (p *PIC) Mask(irq uint8) {
	if irq < 8 {
		p.masterMask |= 1 << irq
		p.bus.Out8(masterData, p.masterMask)
	} else {
		p.slaveMask |= 1 << (irq - 8)
		p.bus.Out8(slaveData, p.slaveMask)
	}
}

func (p *PIC) Unmask(irq uint8) {
	if irq < 8 {
		p.masterMask &^= 1 << irq
		p.bus.Out8(masterData, p.masterMask)
	} else {
		p.slaveMask &^= 1 << (irq - 8)
		p.bus.Out8(slaveData, p.slaveMask)
	}
}
