package timer

import (
	"testing"

	"github.com/cottonos/kernel/internal/cpu"
	"github.com/cottonos/kernel/internal/interrupt"
)

func TestTickAdvancesCounterAndCallsHook(t *testing.T) {
	bus, err := cpu.NewBus(1 << 20)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer bus.Close()
	ic := interrupt.New(bus)

	hookCalls := 0
	p := New(bus, ic, func() { hookCalls++ })

	for i := 0; i < 5; i++ {
		p.Tick()
	}
	if p.Ticks() != 5 {
		t.Fatalf("Ticks() = %d, want 5", p.Ticks())
	}
	if hookCalls != 5 {
		t.Fatalf("onTick called %d times, want 5", hookCalls)
	}
}

func TestUptimeMsAtTargetHz(t *testing.T) {
	bus, _ := cpu.NewBus(1 << 20)
	defer bus.Close()
	ic := interrupt.New(bus)
	p := New(bus, ic, nil)
	for i := 0; i < 1000; i++ {
		p.Tick()
	}
	if got := p.UptimeMs(); got != 1000 {
		t.Fatalf("UptimeMs() = %d, want 1000 at 1kHz after 1000 ticks", got)
	}
}

func TestDivisorApproximates1kHz(t *testing.T) {
	bus, _ := cpu.NewBus(1 << 20)
	defer bus.Close()
	ic := interrupt.New(bus)
	p := New(bus, ic, nil)
	if p.divisor != 1193 {
		t.Fatalf("divisor = %d, want 1193 (1193182/1000)", p.divisor)
	}
}
