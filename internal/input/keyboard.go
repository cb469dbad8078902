package input

import (
	"strings"
	"sync"

	"github.com/cottonos/kernel/internal/cpu"
	"github.com/cottonos/kernel/internal/interrupt"
)

// Keycode is a decoded, layout-independent key identity (spec §3 "Key
// event"). Values below the printable-ASCII range are used for keys that
// have no ASCII rendering.
type Keycode uint8

const (
	KeyNone Keycode = iota
	KeyEscape
	KeyBackspace
	KeyTab
	KeyEnter
	KeyLeftShift
	KeyRightShift
	KeyLeftCtrl
	KeyLeftAlt
	KeyCapsLock
	KeyNumLock
	KeySpace
	keyPrintableBase // 'A'..'Z', '0'..'9' and punctuation map onto their ASCII value above this
)

// set1ToKeycode maps the low 7 bits of a scancode-set-1 byte (the
// controller always hands the driver set-1 bytes once translate mode is
// on, spec §4.N) to a Keycode. Unlisted codes decode to KeyNone.
var set1ToKeycode = map[uint8]Keycode{
	0x01: KeyEscape,
	0x0E: KeyBackspace,
	0x0F: KeyTab,
	0x1C: KeyEnter,
	0x2A: KeyLeftShift,
	0x36: KeyRightShift,
	0x1D: KeyLeftCtrl,
	0x38: KeyLeftAlt,
	0x3A: KeyCapsLock,
	0x45: KeyNumLock,
	0x39: KeySpace,

	0x1E: Keycode('A'), 0x30: Keycode('B'), 0x2E: Keycode('C'), 0x20: Keycode('D'),
	0x12: Keycode('E'), 0x21: Keycode('F'), 0x22: Keycode('G'), 0x23: Keycode('H'),
	0x17: Keycode('I'), 0x24: Keycode('J'), 0x25: Keycode('K'), 0x26: Keycode('L'),
	0x32: Keycode('M'), 0x31: Keycode('N'), 0x18: Keycode('O'), 0x19: Keycode('P'),
	0x10: Keycode('Q'), 0x13: Keycode('R'), 0x1F: Keycode('S'), 0x14: Keycode('T'),
	0x16: Keycode('U'), 0x2F: Keycode('V'), 0x11: Keycode('W'), 0x2D: Keycode('X'),
	0x15: Keycode('Y'), 0x2C: Keycode('Z'),

	0x02: Keycode('1'), 0x03: Keycode('2'), 0x04: Keycode('3'), 0x05: Keycode('4'),
	0x06: Keycode('5'), 0x07: Keycode('6'), 0x08: Keycode('7'), 0x09: Keycode('8'),
	0x0A: Keycode('9'), 0x0B: Keycode('0'),

	0x0C: Keycode('-'), 0x0D: Keycode('='), 0x1A: Keycode('['), 0x1B: Keycode(']'),
	0x27: Keycode(';'), 0x28: Keycode('\''), 0x33: Keycode(','), 0x34: Keycode('.'),
	0x35: Keycode('/'), 0x29: Keycode('`'), 0x2B: Keycode('\\'),
}

// shiftedPunct maps an unshifted punctuation Keycode to its shifted
// glyph, the same pairs a US QWERTY keycap carries.
var shiftedPunct = map[byte]byte{
	'1': '!', '2': '@', '3': '#', '4': '$', '5': '%',
	'6': '^', '7': '&', '8': '*', '9': '(', '0': ')',
	'-': '_', '=': '+', '[': '{', ']': '}', ';': ':',
	'\'': '"', ',': '<', '.': '>', '/': '?', '`': '~', '\\': '|',
}

// Modifiers is the shared modifier-key snapshot every KeyEvent carries
// (spec §3). Shift/Ctrl/Alt level-track the physical key; Caps/Num toggle
// on each press.
type Modifiers struct {
	Shift, Ctrl, Alt, Caps, Num bool
}

// KeyEvent is one decoded keyboard occurrence (spec §3).
type KeyEvent struct {
	Scancode  uint8
	Keycode   Keycode
	Modifiers Modifiers
	Pressed   bool
}

// keyRingCapacity is the bounded ring buffer size spec §3/§4.N require
// (256 events); IRQ handlers drop the newest event on overflow rather
// than block (spec §5).
const keyRingCapacity = 256

// Keyboard is the spec §4.N PS/2 keyboard driver: controller init
// sequence, IRQ1 scancode decode and modifier tracking, and the bounded
// KeyEvent ring the rest of the kernel reads from.
type Keyboard struct {
	bus *cpu.Bus
	ctl *Controller

	mu          sync.Mutex
	mods        Modifiers
	extendedNext bool
	ring        []KeyEvent
}

// NewKeyboard drives the controller init sequence (drain, disable both
// ports, flush, reconfigure for IRQ1 + scancode translation, re-enable
// port 1, reset the device) and binds IRQ1 on ic (spec §4.N).
func NewKeyboard(bus *cpu.Bus, ctl *Controller, ic *interrupt.Controller) *Keyboard {
	k := &Keyboard{bus: bus, ctl: ctl}
	k.init()
	ic.SetIRQHandler(1, k.handleIRQ)
	return k
}

func (k *Keyboard) init() {
	for i := 0; i < maxInitRetries && k.bus.In8(portStatus)&statusOutputFull != 0; i++ {
		k.bus.In8(portData)
	}
	k.bus.Out8(portCommand, cmdDisablePort1)
	k.bus.Out8(portCommand, cmdDisablePort2)
	for i := 0; i < maxInitRetries && k.bus.In8(portStatus)&statusOutputFull != 0; i++ {
		k.bus.In8(portData)
	}

	cfg := k.ctl.readConfig()
	cfg |= ConfigIRQ1 | ConfigTranslate
	k.ctl.writeConfig(cfg)

	k.bus.Out8(portCommand, cmdEnablePort1)
	k.bus.Out8(portData, devReset)
	k.waitOutputFull()
	k.waitOutputFull()
}

func (k *Keyboard) waitOutputFull() (byte, bool) {
	for i := 0; i < maxInitRetries; i++ {
		if k.bus.In8(portStatus)&statusOutputFull != 0 {
			return k.bus.In8(portData), true
		}
	}
	return 0, false
}

// handleIRQ is bound to IRQ1: reads the pending scancode byte, tracks the
// 0xE0 extended-key prefix across calls, decodes it, updates the shared
// modifier snapshot, and enqueues a KeyEvent if the ring has room (spec
// §4.N, §5).
func (k *Keyboard) handleIRQ(f *interrupt.Regs) {
	b := k.bus.In8(portData)
	if b == 0xE0 {
		k.mu.Lock()
		k.extendedNext = true
		k.mu.Unlock()
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.extendedNext = false
	pressed := b&0x80 == 0
	code := b &^ 0x80
	keycode := set1ToKeycode[code]

	switch keycode {
	case KeyCapsLock:
		if pressed {
			k.mods.Caps = !k.mods.Caps
		}
	case KeyNumLock:
		if pressed {
			k.mods.Num = !k.mods.Num
		}
	case KeyLeftShift, KeyRightShift:
		k.mods.Shift = pressed
	case KeyLeftCtrl:
		k.mods.Ctrl = pressed
	case KeyLeftAlt:
		k.mods.Alt = pressed
	}

	ev := KeyEvent{Scancode: b, Keycode: keycode, Modifiers: k.mods, Pressed: pressed}
	if len(k.ring) < keyRingCapacity {
		k.ring = append(k.ring, ev)
	}
}

// ReadKey dequeues the oldest pending KeyEvent, if any.
func (k *Keyboard) ReadKey() (KeyEvent, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.ring) == 0 {
		return KeyEvent{}, false
	}
	ev := k.ring[0]
	k.ring = k.ring[1:]
	return ev, true
}

// Pending reports how many KeyEvents are queued, for tests and diagnostics.
func (k *Keyboard) Pending() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.ring)
}

// GetChar decodes a pressed KeyEvent to its ASCII rendering under its own
// modifier snapshot, honoring shift and caps-lock the way a US QWERTY
// layout would. It returns ok=false for non-printable keys or release
// events.
func GetChar(ev KeyEvent) (ch byte, ok bool) {
	if !ev.Pressed {
		return 0, false
	}
	switch ev.Keycode {
	case KeySpace:
		return ' ', true
	case KeyEnter:
		return '\n', true
	case KeyBackspace:
		return 0x08, true
	case KeyTab:
		return '\t', true
	}
	c := byte(ev.Keycode)
	if c >= 'A' && c <= 'Z' {
		upper := ev.Modifiers.Shift != ev.Modifiers.Caps
		if !upper {
			c += 'a' - 'A'
		}
		return c, true
	}
	if shifted, ok := shiftedPunct[c]; ok && ev.Modifiers.Shift {
		return shifted, true
	}
	if c >= '0' && c <= '9' || strings.IndexByte("-=[];',./`\\", c) >= 0 {
		return c, true
	}
	return 0, false
}
