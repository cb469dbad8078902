package cpu

import "testing"

type fakePort struct {
	lastOut uint32
	outs    int
	val     uint32
}

func (f *fakePort) In(port uint16, w Width) uint32 {
	return f.val
}

func (f *fakePort) Out(port uint16, w Width, val uint32) {
	f.lastOut = val
	f.outs++
}

func TestUnmappedPortReadsAllOnes(t *testing.T) {
	b, err := NewBus(1 << 20)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer b.Close()

	if got := b.In8(0x1F7); got != 0xFF {
		t.Fatalf("In8 on unmapped port = %#x, want 0xff", got)
	}
}

func TestRegisteredPortRoundTrips(t *testing.T) {
	b, err := NewBus(1 << 20)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer b.Close()

	dev := &fakePort{val: 0x42}
	b.RegisterPort(0x60, dev)

	if got := b.In8(0x60); got != 0x42 {
		t.Fatalf("In8 = %#x, want 0x42", got)
	}
	b.Out8(0x60, 0x13)
	if dev.lastOut != 0x13 || dev.outs != 1 {
		t.Fatalf("Out8 didn't reach the registered device: lastOut=%#x outs=%d", dev.lastOut, dev.outs)
	}
}

func TestControlRegistersAndMSRRoundTrip(t *testing.T) {
	b, err := NewBus(1 << 20)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer b.Close()

	b.SetCR3(0x1000)
	if b.CR3() != 0x1000 {
		t.Fatalf("CR3 = %#x, want 0x1000", b.CR3())
	}
	b.SetCR2(0xDEADBEEF)
	if b.CR2() != 0xDEADBEEF {
		t.Fatalf("CR2 = %#x, want 0xdeadbeef", b.CR2())
	}
	b.WRMSR(0xC0000080, 0x901)
	if got := b.RDMSR(0xC0000080); got != 0x901 {
		t.Fatalf("RDMSR = %#x, want 0x901", got)
	}
}

func TestInterruptFlagDefaultsDisabled(t *testing.T) {
	b, err := NewBus(1 << 20)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer b.Close()

	if b.InterruptsEnabled() {
		t.Fatal("interrupts should start disabled, matching CLI at boot")
	}
	b.EnableInterrupts()
	if !b.InterruptsEnabled() {
		t.Fatal("EnableInterrupts should set the IF flag")
	}
	b.DisableInterrupts()
	if b.InterruptsEnabled() {
		t.Fatal("DisableInterrupts should clear the IF flag")
	}
}

func TestCPUIDDefaultsAndOverride(t *testing.T) {
	b, err := NewBus(1 << 20)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer b.Close()

	regs := b.CPUID(1)
	if regs[3]&(1<<9) == 0 {
		t.Fatal("leaf 1 EDX bit 9 (APIC present) should be set by default")
	}

	b.SetCPUID(1, [4]uint32{0, 0, 0, 0})
	if got := b.CPUID(1); got[3]&(1<<9) != 0 {
		t.Fatal("SetCPUID should override the default leaf")
	}
}

func TestMemArenaIsAddressable(t *testing.T) {
	b, err := NewBus(4096)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer b.Close()

	mem := b.Mem()
	if len(mem) != 4096 {
		t.Fatalf("Mem() length = %d, want 4096", len(mem))
	}
	mem[0] = 0xAB
	if b.Mem()[0] != 0xAB {
		t.Fatal("writes through the returned slice should be visible to later Mem() calls")
	}
}
