// Package input implements the spec §4.N PS/2 keyboard and mouse
// drivers: controller init sequences, the keyboard scancode decoder with
// a 256-entry ring buffer, and the mouse packet state machine.
//
// Controller plays the same dual role ata.Channel does: it is both the
// simulated i8042 hardware registered on the bus and the thing Init
// talks to through ordinary port reads/writes, so the init sequence
// below exercises the real ATA-style port protocol rather than calling
// into Go methods directly.
package input

import (
	"sync"

	"github.com/cottonos/kernel/internal/cpu"
)

// PS/2 controller ports, commands and status bits.
const (
	portData    = 0x60
	portStatus  = 0x64
	portCommand = 0x64

	statusOutputFull = 0x01
	statusAuxData    = 0x20

	cmdReadConfig   = 0x20
	cmdWriteConfig  = 0x60
	cmdDisablePort1 = 0xAD
	cmdEnablePort1  = 0xAE
	cmdDisablePort2 = 0xA7
	cmdEnablePort2  = 0xA8
	cmdWriteToPort2 = 0xD4

	ConfigIRQ1      = 1 << 0
	ConfigIRQ12     = 1 << 1
	ConfigTranslate = 1 << 6

	devReset           = 0xFF
	devSetRate         = 0xF3
	devEnableStreaming = 0xF4
	devGetID           = 0xF2

	RespACK = 0xFA
	RespBAT = 0xAA
)

type queuedByte struct {
	val byte
	aux bool
}

// Controller models the shared 8042 controller both PS/2 devices sit
// behind: an output queue multiplexing keyboard and mouse bytes, a
// config register, and a tiny command state machine that answers
// recognized device commands the way real PS/2 firmware does (ACK, then
// BAT success for RESET).
type Controller struct {
	bus *cpu.Bus

	mu             sync.Mutex
	queue          []queuedByte
	config         uint8
	port1Enabled   bool
	port2Enabled   bool
	awaitingConfig bool
	nextCmdIsAux   bool

	// awaitingRate/auxRateHistory/auxWheel simulate the firmware side of
	// IntelliMouse wheel negotiation: the 0xF3,200 / 0xF3,100 / 0xF3,80
	// sample-rate sequence on the aux port, answered afterward by a
	// devGetID response of 3 instead of 0 (spec §4.N).
	awaitingRate   bool
	auxRateHistory []uint8
	auxWheel       bool
}

// NewController registers the controller's ports on bus.
func NewController(bus *cpu.Bus) *Controller {
	c := &Controller{bus: bus, port1Enabled: true}
	bus.RegisterPort(portData, c)
	bus.RegisterPort(portStatus, c)
	return c
}

func (c *Controller) In(port uint16, w cpu.Width) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch port {
	case portStatus:
		var s uint8
		if len(c.queue) > 0 {
			s |= statusOutputFull
			if c.queue[0].aux {
				s |= statusAuxData
			}
		}
		return uint32(s)
	case portData:
		if len(c.queue) == 0 {
			return 0
		}
		v := c.queue[0].val
		c.queue = c.queue[1:]
		return uint32(v)
	}
	return 0
}

func (c *Controller) Out(port uint16, w cpu.Width, val uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch port {
	case portCommand:
		c.handleCommand(uint8(val))
	case portData:
		c.handleData(uint8(val))
	}
}

func (c *Controller) handleCommand(cmd uint8) {
	switch cmd {
	case cmdReadConfig:
		c.queue = append(c.queue, queuedByte{val: c.config})
	case cmdWriteConfig:
		c.awaitingConfig = true
	case cmdDisablePort1:
		c.port1Enabled = false
	case cmdEnablePort1:
		c.port1Enabled = true
	case cmdDisablePort2:
		c.port2Enabled = false
	case cmdEnablePort2:
		c.port2Enabled = true
	case cmdWriteToPort2:
		c.nextCmdIsAux = true
	}
}

func (c *Controller) handleData(val uint8) {
	if c.awaitingConfig {
		c.config = val
		c.awaitingConfig = false
		return
	}
	aux := c.nextCmdIsAux
	c.nextCmdIsAux = false

	if c.awaitingRate {
		c.awaitingRate = false
		if aux {
			c.auxRateHistory = append(c.auxRateHistory, val)
			if len(c.auxRateHistory) > 3 {
				c.auxRateHistory = c.auxRateHistory[len(c.auxRateHistory)-3:]
			}
			if len(c.auxRateHistory) == 3 &&
				c.auxRateHistory[0] == 200 && c.auxRateHistory[1] == 100 && c.auxRateHistory[2] == 80 {
				c.auxWheel = true
			}
		}
		c.queue = append(c.queue, queuedByte{val: RespACK, aux: aux})
		return
	}

	switch val {
	case devReset:
		c.queue = append(c.queue, queuedByte{val: RespACK, aux: aux}, queuedByte{val: RespBAT, aux: aux})
	case devSetRate:
		c.awaitingRate = true
		c.queue = append(c.queue, queuedByte{val: RespACK, aux: aux})
	case devEnableStreaming:
		c.queue = append(c.queue, queuedByte{val: RespACK, aux: aux})
	case devGetID:
		id := uint8(0x00)
		if aux && c.auxWheel {
			id = 0x03
		}
		c.queue = append(c.queue, queuedByte{val: RespACK, aux: aux}, queuedByte{val: id, aux: aux})
	default:
		c.queue = append(c.queue, queuedByte{val: RespACK, aux: aux})
	}
}

// InjectKeyboardByte simulates an incoming scancode byte arriving at
// port 0x60, as if a real key event had just fired IRQ1.
func (c *Controller) InjectKeyboardByte(b byte) {
	c.mu.Lock()
	c.queue = append(c.queue, queuedByte{val: b})
	c.mu.Unlock()
}

// InjectMouseByte is the IRQ12 equivalent of InjectKeyboardByte.
func (c *Controller) InjectMouseByte(b byte) {
	c.mu.Lock()
	c.queue = append(c.queue, queuedByte{val: b, aux: true})
	c.mu.Unlock()
}

const maxInitRetries = 10000

func (c *Controller) waitOutputFull() (byte, bool) {
	for i := 0; i < maxInitRetries; i++ {
		if c.bus.In8(portStatus)&statusOutputFull != 0 {
			return c.bus.In8(portData), true
		}
	}
	return 0, false
}

func (c *Controller) sendCommand(cmd uint8) { c.bus.Out8(portCommand, cmd) }

func (c *Controller) readConfig() uint8 {
	c.sendCommand(cmdReadConfig)
	v, _ := c.waitOutputFull()
	return v
}

func (c *Controller) writeConfig(cfg uint8) {
	c.sendCommand(cmdWriteConfig)
	c.bus.Out8(portData, cfg)
}

// Config returns the controller's current configuration byte, for tests.
func (c *Controller) Config() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}
