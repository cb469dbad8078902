package input

import (
	"testing"

	"github.com/cottonos/kernel/internal/cpu"
	"github.com/cottonos/kernel/internal/interrupt"
)

func newTestKeyboard(t *testing.T) (*Keyboard, *Controller, *interrupt.Controller) {
	t.Helper()
	bus, err := cpu.NewBus(4 << 20)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	ctl := NewController(bus)
	ic := interrupt.New(bus)
	kb := NewKeyboard(bus, ctl, ic)
	return kb, ctl, ic
}

// TestKeyboardDecodesScancode exercises spec §8 S5: scancode 0x1E
// (physically the 'A' key) should decode to keycode 'A' pressed.
func TestKeyboardDecodesScancode(t *testing.T) {
	kb, ctl, ic := newTestKeyboard(t)

	ctl.InjectKeyboardByte(0x1E)
	ic.RaiseIRQ(1, &interrupt.Regs{})

	ev, ok := kb.ReadKey()
	if !ok {
		t.Fatal("expected a queued key event")
	}
	if ev.Keycode != Keycode('A') || !ev.Pressed {
		t.Fatalf("expected pressed 'A', got %+v", ev)
	}
	ch, ok := GetChar(ev)
	if !ok || ch != 'a' {
		t.Fatalf("expected lowercase 'a', got %q ok=%v", ch, ok)
	}
}

func TestKeyboardShiftUppercases(t *testing.T) {
	kb, ctl, ic := newTestKeyboard(t)

	ctl.InjectKeyboardByte(0x2A) // left shift down
	ic.RaiseIRQ(1, &interrupt.Regs{})
	kb.ReadKey()

	ctl.InjectKeyboardByte(0x1E) // 'A' key
	ic.RaiseIRQ(1, &interrupt.Regs{})
	ev, ok := kb.ReadKey()
	if !ok {
		t.Fatal("expected a queued key event")
	}
	if !ev.Modifiers.Shift {
		t.Fatal("expected shift modifier set")
	}
	ch, ok := GetChar(ev)
	if !ok || ch != 'A' {
		t.Fatalf("expected uppercase 'A', got %q ok=%v", ch, ok)
	}
}

func TestKeyboardReleaseSetsPressedFalse(t *testing.T) {
	kb, ctl, ic := newTestKeyboard(t)

	ctl.InjectKeyboardByte(0x1E | 0x80) // release bit set
	ic.RaiseIRQ(1, &interrupt.Regs{})
	ev, ok := kb.ReadKey()
	if !ok {
		t.Fatal("expected a queued key event")
	}
	if ev.Pressed {
		t.Fatal("expected release event, Pressed=false")
	}
	if _, ok := GetChar(ev); ok {
		t.Fatal("release events should not produce a char")
	}
}

func TestKeyboardCapsLockTogglesOnce(t *testing.T) {
	kb, ctl, ic := newTestKeyboard(t)

	ctl.InjectKeyboardByte(0x3A) // caps lock press
	ic.RaiseIRQ(1, &interrupt.Regs{})
	ev, _ := kb.ReadKey()
	if !ev.Modifiers.Caps {
		t.Fatal("expected caps lock toggled on")
	}

	ctl.InjectKeyboardByte(0x3A | 0x80) // caps lock release: must not toggle again
	ic.RaiseIRQ(1, &interrupt.Regs{})
	ev, _ = kb.ReadKey()
	if !ev.Modifiers.Caps {
		t.Fatal("caps lock should remain on across the release edge")
	}
}

func TestKeyboardRingDropsNewestOnOverflow(t *testing.T) {
	kb, ctl, ic := newTestKeyboard(t)

	for i := 0; i < keyRingCapacity+10; i++ {
		ctl.InjectKeyboardByte(0x1E)
		ic.RaiseIRQ(1, &interrupt.Regs{})
	}
	if got := kb.Pending(); got != keyRingCapacity {
		t.Fatalf("expected ring capped at %d, got %d", keyRingCapacity, got)
	}
}

func TestKeyboardExtendedPrefixConsumesNextByteOnly(t *testing.T) {
	kb, ctl, ic := newTestKeyboard(t)

	ctl.InjectKeyboardByte(0xE0) // extended prefix: should not itself enqueue
	ic.RaiseIRQ(1, &interrupt.Regs{})
	if kb.Pending() != 0 {
		t.Fatal("extended prefix byte should not enqueue a KeyEvent")
	}

	ctl.InjectKeyboardByte(0x1E)
	ic.RaiseIRQ(1, &interrupt.Regs{})
	if kb.Pending() != 1 {
		t.Fatal("byte following extended prefix should enqueue exactly one event")
	}
}
