package input

import (
	"testing"

	"github.com/cottonos/kernel/internal/cpu"
	"github.com/cottonos/kernel/internal/interrupt"
)

func newTestMouse(t *testing.T) (*Mouse, *Controller, *interrupt.Controller) {
	t.Helper()
	bus, err := cpu.NewBus(4 << 20)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	ctl := NewController(bus)
	ic := interrupt.New(bus)
	m := NewMouse(bus, ctl, ic, 800, 600)
	return m, ctl, ic
}

func TestMouseNegotiatesIntelliMouse(t *testing.T) {
	m, _, _ := newTestMouse(t)
	if !m.FourByte() {
		t.Fatal("expected IntelliMouse wheel negotiation to succeed (device ID 3)")
	}
}

func TestMouseDecodesBasicPacket(t *testing.T) {
	m, ctl, ic := newTestMouse(t)

	// byte0: bit3 set, no buttons, no sign/overflow; dx=+5, dy=+3 (on the
	// wire; inverted to -3 on screen since Y grows downward).
	ctl.InjectMouseByte(byteAlwaysSet)
	ctl.InjectMouseByte(5)
	ctl.InjectMouseByte(3)
	ctl.InjectMouseByte(0) // scroll delta, fourByte negotiated
	for i := 0; i < 4; i++ {
		ic.RaiseIRQ(12, &interrupt.Regs{})
	}

	pkt, ok := m.ReadPacket()
	if !ok {
		t.Fatal("expected a queued mouse packet")
	}
	if pkt.X != 5 || pkt.Y != 0 {
		// clamp keeps Y >= 0; dy=+3 on the wire inverts to -3, clamped to 0
		t.Fatalf("expected X=5 Y=0 (clamped), got X=%d Y=%d", pkt.X, pkt.Y)
	}
}

func TestMouseByte0WithoutAlwaysSetBitIsDropped(t *testing.T) {
	m, ctl, ic := newTestMouse(t)

	ctl.InjectMouseByte(0x00) // bit 3 clear: must be dropped
	ic.RaiseIRQ(12, &interrupt.Regs{})
	if _, ok := m.ReadPacket(); ok {
		t.Fatal("byte with bit 3 clear should never start a packet")
	}

	// The driver should treat the next byte as byte 0 again.
	ctl.InjectMouseByte(byteAlwaysSet)
	ctl.InjectMouseByte(0)
	ctl.InjectMouseByte(0)
	ctl.InjectMouseByte(0)
	for i := 0; i < 4; i++ {
		ic.RaiseIRQ(12, &interrupt.Regs{})
	}
	if _, ok := m.ReadPacket(); !ok {
		t.Fatal("expected resynchronized packet to be accepted")
	}
}

func TestMouseOverflowBitsDiscardPacket(t *testing.T) {
	m, ctl, ic := newTestMouse(t)

	ctl.InjectMouseByte(byteAlwaysSet | byteOverflow)
	ctl.InjectMouseByte(10)
	ctl.InjectMouseByte(10)
	ctl.InjectMouseByte(0)
	for i := 0; i < 4; i++ {
		ic.RaiseIRQ(12, &interrupt.Regs{})
	}
	if _, ok := m.ReadPacket(); ok {
		t.Fatal("overflow packet should be discarded, not enqueued")
	}
}

func TestMousePositionClampsToScreenRect(t *testing.T) {
	m, ctl, ic := newTestMouse(t)

	// Push far past the right edge with repeated maximal positive dx.
	for i := 0; i < 20; i++ {
		ctl.InjectMouseByte(byteAlwaysSet)
		ctl.InjectMouseByte(127)
		ctl.InjectMouseByte(0)
		ctl.InjectMouseByte(0)
		for j := 0; j < 4; j++ {
			ic.RaiseIRQ(12, &interrupt.Regs{})
		}
	}
	x, _ := m.Position()
	if x != 799 {
		t.Fatalf("expected X clamped to 799, got %d", x)
	}
}
