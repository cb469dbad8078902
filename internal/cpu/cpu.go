// Package cpu models the hardware primitives spec §4.A assigns to the
// "only component allowed to issue raw privileged instructions": port I/O,
// MSRs, control registers, TLB invalidation, fences, CPUID and halt.
//
// A freestanding Go kernel cannot actually execute IN/OUT/MOV-CR/INVLPG —
// Go has no no_std mode and its runtime itself needs an OS underneath it.
// Bus instead gives every other component the exact same call surface
// (In/Out, RDMSR/WRMSR, CR0..CR4, Invlpg, Halt, CPUID) backed by explicit,
// inspectable Go state: a byte arena standing in for physical RAM
// (golang.org/x/sys/unix.Mmap-backed, like real physical memory, so every
// layer above still reasons in terms of physical addresses and byte
// offsets) and a port space of registered device handlers. See
// SPEC_FULL.md §0.
package cpu

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Width identifies the operand size of a port or MMIO access.
type Width int

const (
	Width8  Width = 1
	Width16 Width = 2
	Width32 Width = 4
)

// PortDevice is implemented by anything mapped into the port-I/O space
// (PIC, PIT, ATA controllers, PS/2 controller, ...).
type PortDevice interface {
	In(port uint16, w Width) uint32
	Out(port uint16, w Width, val uint32)
}

// Bus is the simulated machine: physical memory, the port-I/O space, MSRs,
// control registers and the interrupt-enable flag. There is exactly one
// Bus per running kernel instance.
type Bus struct {
	mu sync.Mutex

	mem     []byte
	memSize uint64

	ports map[uint16]PortDevice

	msr map[uint32]uint64
	cr0, cr2, cr3, cr4 uint64

	ifFlag bool // interrupts enabled

	cpuidLeaves map[uint32][4]uint32
}

// DefaultMemSize is the simulated RAM size when the caller doesn't ask for
// a specific amount; large enough to back the kernel's frame allocator,
// heap and a handful of process address spaces in tests.
const DefaultMemSize = 256 * 1024 * 1024

// NewBus allocates a Bus with memSize bytes of simulated physical memory.
// The backing store is an anonymous mmap, mirroring how a real kernel's
// physical memory is just address space the firmware handed it.
func NewBus(memSize uint64) (*Bus, error) {
	if memSize == 0 {
		memSize = DefaultMemSize
	}
	mem, err := unix.Mmap(-1, 0, int(memSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	b := &Bus{
		mem:     mem,
		memSize: memSize,
		ports:   make(map[uint16]PortDevice),
		msr:     make(map[uint32]uint64),
	}
	b.cpuidLeaves = defaultCPUID()
	return b, nil
}

// Close releases the simulated physical memory.
func (b *Bus) Close() error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	return err
}

// MemSize returns the total simulated physical RAM in bytes.
func (b *Bus) MemSize() uint64 { return b.memSize }

// Mem exposes the raw physical memory arena. Callers (pmm, paging) treat
// indices into it as physical addresses.
func (b *Bus) Mem() []byte { return b.mem }

// RegisterPort attaches a device to a single port address. A device
// occupying several ports (ATA's command block, the PIC's two chips)
// registers once per port.
func (b *Bus) RegisterPort(port uint16, d PortDevice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ports[port] = d
}

// In reads from a port. An unmapped port reads as all-ones, matching real
// hardware's floating-bus behavior closely enough for our purposes.
func (b *Bus) In(port uint16, w Width) uint32 {
	b.mu.Lock()
	d := b.ports[port]
	b.mu.Unlock()
	if d == nil {
		return 0xFFFFFFFF
	}
	return d.In(port, w)
}

// Out writes to a port. Writes to unmapped ports are discarded.
func (b *Bus) Out(port uint16, w Width, val uint32) {
	b.mu.Lock()
	d := b.ports[port]
	b.mu.Unlock()
	if d == nil {
		return
	}
	d.Out(port, w, val)
}

// In8/Out8/In16/Out16/In32/Out32 are narrow convenience wrappers around
// In/Out, matching the width-specific instructions (INB/OUTB/...) drivers
// actually use.
func (b *Bus) In8(port uint16) uint8   { return uint8(b.In(port, Width8)) }
func (b *Bus) Out8(port uint16, v uint8) { b.Out(port, Width8, uint32(v)) }
func (b *Bus) In16(port uint16) uint16 { return uint16(b.In(port, Width16)) }
func (b *Bus) Out16(port uint16, v uint16) { b.Out(port, Width16, uint32(v)) }
func (b *Bus) In32(port uint16) uint32 { return b.In(port, Width32) }
func (b *Bus) Out32(port uint16, v uint32) { b.Out(port, Width32, v) }

// RDMSR/WRMSR model model-specific register access.
func (b *Bus) RDMSR(reg uint32) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.msr[reg]
}

func (b *Bus) WRMSR(reg uint32, val uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msr[reg] = val
}

// CR0/CR2/CR3/CR4 read and write the control registers. CR3 holds the
// current PML4 physical address; CR2 holds the last page-fault address.
func (b *Bus) CR0() uint64        { b.mu.Lock(); defer b.mu.Unlock(); return b.cr0 }
func (b *Bus) SetCR0(v uint64)    { b.mu.Lock(); defer b.mu.Unlock(); b.cr0 = v }
func (b *Bus) CR2() uint64        { b.mu.Lock(); defer b.mu.Unlock(); return b.cr2 }
func (b *Bus) SetCR2(v uint64)    { b.mu.Lock(); defer b.mu.Unlock(); b.cr2 = v }
func (b *Bus) CR3() uint64        { b.mu.Lock(); defer b.mu.Unlock(); return b.cr3 }
func (b *Bus) SetCR3(v uint64)    { b.mu.Lock(); defer b.mu.Unlock(); b.cr3 = v }
func (b *Bus) CR4() uint64        { b.mu.Lock(); defer b.mu.Unlock(); return b.cr4 }
func (b *Bus) SetCR4(v uint64)    { b.mu.Lock(); defer b.mu.Unlock(); b.cr4 = v }

// Invlpg invalidates a single TLB entry. The simulated bus has no TLB
// cache of its own (every translate() call walks the tables fresh), so
// this is a hook callers must still invoke for correctness under a real
// MMU, kept here so paging's call sites read the same as the reference.
func (b *Bus) Invlpg(virt uint64) { _ = virt }

// MFence/LFence/SFence model the memory/load/store fence instructions.
// The simulation is single-threaded per Bus, so these are documentation
// markers for where real hardware would need them.
func (b *Bus) MFence() {}
func (b *Bus) LFence() {}
func (b *Bus) SFence() {}

// InterruptsEnabled, EnableInterrupts and DisableInterrupts model
// STI/CLI and the IF flag.
func (b *Bus) InterruptsEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ifFlag
}

func (b *Bus) EnableInterrupts() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ifFlag = true
}

func (b *Bus) DisableInterrupts() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ifFlag = false
}

// CPUID returns the 4 result registers (EAX, EBX, ECX, EDX) for a leaf.
func (b *Bus) CPUID(leaf uint32) [4]uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cpuidLeaves[leaf]
}

// SetCPUID overrides a leaf, used by tests that need to simulate a
// specific feature set (e.g. the APIC-presence probe in SPEC_FULL.md §4).
func (b *Bus) SetCPUID(leaf uint32, regs [4]uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cpuidLeaves[leaf] = regs
}

// Halt models HLT. The simulation has no asynchronous interrupt source for
// it to wait on, so it returns immediately; callers that loop on it
// (kpanic.Fatal, timer.PIT.SleepMs) spin.
func (b *Bus) Halt() {}

func defaultCPUID() map[uint32][4]uint32 {
	m := map[uint32][4]uint32{
		0: {1, 0x756e6547, 0x6c65746e, 0x49656e69}, // "GenuineIntel", max leaf 1
		1: {0x000106A5, 0, 0, 1 << 9},               // bit 9 = APIC present (acknowledged, unused; SPEC_FULL.md §4)
	}
	return m
}
