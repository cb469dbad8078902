package bootinfo

import (
	"encoding/binary"
	"testing"
)

func buildStream(tags ...[]byte) []byte {
	body := []byte{}
	for _, t := range tags {
		body = append(body, t...)
	}
	end := make([]byte, 8)
	body = append(body, end...)
	total := headerSize + len(body)
	out := make([]byte, 8)
	binary.LittleEndian.PutUint32(out[0:4], uint32(total))
	out = append(out, body...)
	return out
}

func framebufferTag(addr uint64, pitch, width, height uint32, bpp, colorType uint8) []byte {
	body := make([]byte, framebufferBodyMinSize)
	binary.LittleEndian.PutUint64(body[0:8], addr)
	binary.LittleEndian.PutUint32(body[8:12], pitch)
	binary.LittleEndian.PutUint32(body[12:16], width)
	binary.LittleEndian.PutUint32(body[16:20], height)
	body[20] = bpp
	body[21] = colorType
	size := tagHeaderSize + len(body)
	tag := make([]byte, 8)
	binary.LittleEndian.PutUint32(tag[0:4], tagTypeFramebuffer)
	binary.LittleEndian.PutUint32(tag[4:8], uint32(size))
	tag = append(tag, body...)
	for len(tag)%8 != 0 {
		tag = append(tag, 0)
	}
	return tag
}

func TestParseNilFallsBackToDefaults(t *testing.T) {
	info := Parse(nil)
	if info.Framebuffer != nil {
		t.Fatal("expected no framebuffer in the default fallback")
	}
}

func TestParseFramebufferTag(t *testing.T) {
	stream := buildStream(framebufferTag(0xFD000000, 640*4, 640, 480, 32, ColorDirectRGB))
	info := Parse(stream)
	if info.Framebuffer == nil {
		t.Fatal("expected a parsed framebuffer tag")
	}
	if info.Framebuffer.Width != 640 || info.Framebuffer.Height != 480 {
		t.Fatalf("expected 640x480, got %dx%d", info.Framebuffer.Width, info.Framebuffer.Height)
	}
	if !info.Framebuffer.Usable() {
		t.Fatal("640x480x32 direct-RGB should be usable")
	}
}

func TestParseEGATextTagIsNotUsable(t *testing.T) {
	stream := buildStream(framebufferTag(0xB8000, 80*2, 80, 25, 4, ColorEGAText))
	info := Parse(stream)
	if info.Framebuffer == nil {
		t.Fatal("expected a parsed framebuffer tag")
	}
	if info.Framebuffer.Usable() {
		t.Fatal("EGA text tag should never be reported usable")
	}
}

func TestParseTruncatedStreamFallsBack(t *testing.T) {
	info := Parse([]byte{1, 2, 3})
	if info.Framebuffer != nil {
		t.Fatal("expected truncated stream to fall back to defaults")
	}
}
