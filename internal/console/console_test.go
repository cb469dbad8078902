package console

import (
	"bytes"
	"testing"

	"github.com/cottonos/kernel/internal/cpu"
)

func TestVGAFiltersNonASCII(t *testing.T) {
	v := NewVGA()
	v.WriteByte('A')
	v.WriteByte(200) // non-ASCII, must be dropped
	cells := v.Cells()
	if cells[0] != uint16(defaultAttr)<<8|'A' {
		t.Fatalf("expected cell 0 to hold 'A', got %#x", cells[0])
	}
	if cells[1] != uint16(defaultAttr)<<8|' ' {
		t.Fatalf("expected cell 1 untouched by non-ASCII write, got %#x", cells[1])
	}
}

func TestVGAWrapsAndScrolls(t *testing.T) {
	v := NewVGA()
	for row := 0; row < VGAHeight+1; row++ {
		for col := 0; col < VGAWidth; col++ {
			v.WriteByte('x')
		}
	}
	// One extra row was written than fits: the buffer should have
	// scrolled rather than panicked or silently stopped.
	cells := v.Cells()
	last := cells[len(cells)-1]
	if last != uint16(defaultAttr)<<8|'x' {
		t.Fatalf("expected bottom-right cell to hold the final write, got %#x", last)
	}
}

func TestSerialTranslatesLoneLF(t *testing.T) {
	bus, err := cpu.NewBus(1 << 20)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer bus.Close()
	s := NewSerial(bus)
	s.WriteByte('h')
	s.WriteByte('i')
	s.WriteByte('\n')
	got := s.Output()
	want := []byte("hi\r\n")
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSerialDivisorProgrammedFor115200(t *testing.T) {
	bus, err := cpu.NewBus(1 << 20)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer bus.Close()
	s := NewSerial(bus)
	if got := s.Divisor(); got != 1 {
		t.Fatalf("expected divisor 1 for 115200 baud off a 115200 base, got %d", got)
	}
}

func TestWriterFansOutToVGAAndSerialAndMirror(t *testing.T) {
	bus, err := cpu.NewBus(1 << 20)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer bus.Close()
	vga := NewVGA()
	serial := NewSerial(bus)
	var mirror bytes.Buffer

	w := New(vga, serial, &mirror)
	w.Print("hi\n")

	if mirror.String() != "hi\n" {
		t.Fatalf("expected mirror to see raw bytes, got %q", mirror.String())
	}
	if !bytes.Equal(serial.Output(), []byte("hi\r\n")) {
		t.Fatalf("expected serial CRLF translation, got %q", serial.Output())
	}
	cells := vga.Cells()
	if cells[0] != uint16(defaultAttr)<<8|'h' || cells[1] != uint16(defaultAttr)<<8|'i' {
		t.Fatalf("expected VGA cells to show 'hi', got %#x %#x", cells[0], cells[1])
	}
}

func TestFramebufferSetPixel(t *testing.T) {
	fb := NewFramebuffer(640, 480, 640*4, 32)
	if !fb.Usable() {
		t.Fatal("640x480x32 should be a usable graphics mode")
	}
	fb.SetPixel(10, 20, 0xFF112233)
	if got := fb.Pixel(10, 20); got != 0xFF112233 {
		t.Fatalf("expected pixel roundtrip, got %#x", got)
	}
}

func TestFramebufferUnusableBelowThreshold(t *testing.T) {
	fb := NewFramebuffer(320, 200, 320, 8)
	if fb.Usable() {
		t.Fatal("320x200 should fall back to VGA text mode, not be usable")
	}
}
