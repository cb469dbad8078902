// Package timer implements the PIT tick source of spec §4.F: channel 0
// programmed for rate-generator mode at (approximately) 1 kHz, raising
// IRQ 0 and driving a monotonic tick counter.
package timer

import (
	"sync/atomic"

	"github.com/cottonos/kernel/internal/cpu"
	"github.com/cottonos/kernel/internal/interrupt"
)

const (
	channel0Data = 0x40
	commandPort  = 0x43

	baseFrequencyHz = 1193182
	TargetHz        = 1000

	modeCommand = 0x36 // channel 0, lobyte/hibyte access, rate generator
)

// OnTick is called once per simulated PIT interrupt, after the global
// tick counter has advanced; the scheduler binds its timer_tick here.
type OnTick func()

// PIT is a cpu.PortDevice modeling channel 0 of the Programmable
// Interval Timer.
type PIT struct {
	bus      *cpu.Bus
	ic       *interrupt.Controller
	divisor  uint16
	ticks    uint64
	onTick   OnTick
	latchLow bool
}

// New programs the PIT for TargetHz and binds its IRQ 0 handler, which
// advances the tick counter and invokes onTick (spec §4.F).
func New(bus *cpu.Bus, ic *interrupt.Controller, onTick OnTick) *PIT {
	p := &PIT{bus: bus, ic: ic, onTick: onTick}
	p.divisor = uint16(baseFrequencyHz / TargetHz)
	bus.RegisterPort(commandPort, p)
	bus.RegisterPort(channel0Data, p)
	bus.Out8(commandPort, modeCommand)
	bus.Out8(channel0Data, uint8(p.divisor&0xFF))
	bus.Out8(channel0Data, uint8(p.divisor>>8))
	ic.SetIRQHandler(0, p.handleIRQ)
	return p
}

func (p *PIT) In(port uint16, w cpu.Width) uint32 { return 0 }

func (p *PIT) Out(port uint16, w cpu.Width, val uint32) {
	switch port {
	case commandPort:
		// command byte recorded implicitly by reprogram sequence
	case channel0Data:
		if !p.latchLow {
			p.divisor = (p.divisor &^ 0xFF) | uint16(val)
			p.latchLow = true
		} else {
			p.divisor = (p.divisor & 0xFF) | uint16(val)<<8
			p.latchLow = false
		}
	}
}

func (p *PIT) handleIRQ(f *interrupt.Regs) {
	atomic.AddUint64(&p.ticks, 1)
	if p.onTick != nil {
		p.onTick()
	}
}

// Tick raises IRQ 0 once, the simulation's substitute for a real
// hardware tick. Callers (the harness driving test scenarios, or a
// dedicated goroutine in cmd/cottonkernel) call this at TargetHz.
func (p *PIT) Tick() {
	p.ic.RaiseIRQ(0, &interrupt.Regs{})
}

// Ticks returns the current tick count.
func (p *PIT) Ticks() uint64 { return atomic.LoadUint64(&p.ticks) }

// UptimeMs returns milliseconds elapsed since boot, at TargetHz one tick
// is one millisecond.
func (p *PIT) UptimeMs() uint64 { return p.Ticks() * 1000 / TargetHz }

// SleepMs busy-halts (spinning on Bus.Halt) until uptime has advanced by
// n milliseconds. In the simulation, forward progress of the tick
// counter requires something else to be calling Tick concurrently (the
// harness's driver goroutine, or the test itself); this function only
// polls.
func (p *PIT) SleepMs(n uint64) {
	target := p.UptimeMs() + n
	for p.UptimeMs() < target {
		p.bus.Halt()
	}
}
