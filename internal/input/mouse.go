package input

import (
	"sync"

	"github.com/cottonos/kernel/internal/cpu"
	"github.com/cottonos/kernel/internal/interrupt"
)

// Mouse-specific 8042 commands not already declared in ps2.go.
const (
	cmdSetDefaults = 0xF6

	byteAlwaysSet = 0x08 // bit 3 of byte 0 must be set (spec §3, §4.N)
	byteOverflow  = 0xC0 // bits 6-7: X/Y overflow, packet is discarded
	byteXSign     = 0x10
	byteYSign     = 0x20
	byteButtons   = 0x07
)

// MousePacket is one decoded, clamped pointer update (spec §3 "Mouse
// packet state").
type MousePacket struct {
	X, Y        int32
	Buttons     uint8
	ScrollDelta int8
}

const mouseRingCapacity = 256

// Mouse is the spec §4.N PS/2 mouse driver: IntelliMouse negotiation,
// the 3/4-byte packet accumulator state machine (with bit-3
// resynchronization and overflow discard), and screen-rectangle clamped
// position tracking.
type Mouse struct {
	bus *cpu.Bus
	ctl *Controller

	fourByte bool

	mu      sync.Mutex
	acc     []byte
	x, y    int32
	clampW  int32
	clampH  int32
	buttons uint8
	ring    []MousePacket
}

// NewMouse enables the auxiliary PS/2 port, negotiates IntelliMouse
// scroll-wheel mode, and binds IRQ12 on ic. Position is clamped to
// [0, width) x [0, height) (spec §4.N, §3).
func NewMouse(bus *cpu.Bus, ctl *Controller, ic *interrupt.Controller, width, height int32) *Mouse {
	m := &Mouse{bus: bus, ctl: ctl, clampW: width, clampH: height}
	m.init()
	ic.SetIRQHandler(12, m.handleIRQ)
	return m
}

func (m *Mouse) init() {
	m.bus.Out8(portCommand, cmdEnablePort2)

	cfg := m.ctl.readConfig()
	cfg |= ConfigIRQ12
	m.ctl.writeConfig(cfg)

	m.auxWrite(cmdSetDefaults)
	m.waitAux()

	// Negotiate IntelliMouse: sample-rate sequence 200, 100, 80 then
	// query device ID; ID 3 (or 4, wheel+5-button) means 4-byte packets
	// with a scroll field are available (spec §4.N).
	for _, rate := range []byte{200, 100, 80} {
		m.auxWrite(devSetRate)
		m.waitAux()
		m.auxWrite(rate)
		m.waitAux()
	}
	m.auxWrite(devGetID)
	m.waitAux()
	id, _ := m.waitAux()
	if id == 3 || id == 4 {
		m.fourByte = true
	}

	m.auxWrite(devEnableStreaming)
	m.waitAux()
}

func (m *Mouse) auxWrite(b byte) {
	m.bus.Out8(portCommand, cmdWriteToPort2)
	m.bus.Out8(portData, b)
}

func (m *Mouse) waitAux() (byte, bool) {
	for i := 0; i < maxInitRetries; i++ {
		if m.bus.In8(portStatus)&statusOutputFull != 0 {
			return m.bus.In8(portData), true
		}
	}
	return 0, false
}

func (m *Mouse) packetSize() int {
	if m.fourByte {
		return 4
	}
	return 3
}

// handleIRQ is bound to IRQ12: feeds one accumulated byte through the
// packet state machine (spec §4.N).
func (m *Mouse) handleIRQ(f *interrupt.Regs) {
	b := m.bus.In8(portData)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.acc) == 0 && b&byteAlwaysSet == 0 {
		// Byte 0 must carry the always-set bit; drop and resynchronize
		// at the next byte (spec §3, §4.N).
		return
	}
	m.acc = append(m.acc, b)
	if len(m.acc) < m.packetSize() {
		return
	}

	pkt := m.acc
	m.acc = nil

	if pkt[0]&byteOverflow != 0 {
		return
	}

	dx := int32(pkt[1])
	if pkt[0]&byteXSign != 0 {
		dx -= 256
	}
	dy := int32(pkt[2])
	if pkt[0]&byteYSign != 0 {
		dy -= 256
	}
	dy = -dy // screen Y grows downward (spec §4.N)

	m.x = clamp32(m.x+dx, 0, m.clampW-1)
	m.y = clamp32(m.y+dy, 0, m.clampH-1)
	m.buttons = pkt[0] & byteButtons

	var scroll int8
	if m.fourByte {
		scroll = int8(pkt[3])
	}

	ev := MousePacket{X: m.x, Y: m.y, Buttons: m.buttons, ScrollDelta: scroll}
	if len(m.ring) < mouseRingCapacity {
		m.ring = append(m.ring, ev)
	}
}

func clamp32(v, lo, hi int32) int32 {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ReadPacket dequeues the oldest pending MousePacket, if any.
func (m *Mouse) ReadPacket() (MousePacket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ring) == 0 {
		return MousePacket{}, false
	}
	p := m.ring[0]
	m.ring = m.ring[1:]
	return p, true
}

// Position returns the mouse's current clamped (x, y).
func (m *Mouse) Position() (int32, int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.x, m.y
}

// FourByte reports whether IntelliMouse scroll-wheel mode was negotiated.
func (m *Mouse) FourByte() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fourByte
}
