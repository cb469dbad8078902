// Package bootinfo parses the multiboot2-style tag stream spec §4.P/§6
// describes: an 8-byte header (total_size, reserved) followed by 8-byte
// padded (type, size, ...) tags terminated by a type-0 tag. Only the
// framebuffer tag (type 8) is interpreted; everything else is skipped.
// A nil or malformed stream falls back to compiled-in VGA-text defaults.
package bootinfo

import "encoding/binary"

const (
	tagTypeEnd         = 0
	tagTypeFramebuffer = 8

	headerSize = 8
	tagHeaderSize = 8

	// ColorType values carried in the framebuffer tag (spec §6).
	ColorIndexed  = 0
	ColorDirectRGB = 1
	ColorEGAText  = 2
)

// Framebuffer is the subset of the multiboot2 framebuffer tag the kernel
// acts on (spec §6).
type Framebuffer struct {
	Address   uint64
	Pitch     uint32
	Width     uint32
	Height    uint32
	BPP       uint8
	ColorType uint8
}

// Info is the canonical BootInfo struct §4.P asks kernel_main to build
// from the raw tag stream (or compiled-in defaults when there is none).
type Info struct {
	Framebuffer *Framebuffer
}

// DefaultVGAWidth/Height are the 80x25 text-mode fallback spec §4.P
// names when no usable boot info is supplied.
const (
	DefaultVGAWidth  = 80
	DefaultVGAHeight = 25
)

// Defaults returns the fallback Info used when the boot-info pointer is
// null or the stream carries no usable framebuffer tag (spec §4.P:
// "Fall back to 80x25 VGA text mode if absent or unusable").
func Defaults() Info { return Info{} }

func align8(n int) int { return (n + 7) &^ 7 }

// Parse decodes a raw multiboot2-style tag stream. A nil or too-short
// buffer returns Defaults(), not an error, matching the spec's "null
// pointer means use defaults" contract.
func Parse(data []byte) Info {
	if len(data) < headerSize {
		return Defaults()
	}
	total := int(binary.LittleEndian.Uint32(data[0:4]))
	if total < headerSize || total > len(data) {
		total = len(data)
	}

	info := Defaults()
	offset := headerSize
	for offset+tagHeaderSize <= total {
		typ := binary.LittleEndian.Uint32(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		if typ == tagTypeEnd {
			break
		}
		if size < tagHeaderSize || offset+size > total {
			break
		}
		if typ == tagTypeFramebuffer {
			if fb, ok := parseFramebuffer(data[offset+tagHeaderSize : offset+size]); ok {
				info.Framebuffer = &fb
			}
		}
		offset += align8(size)
	}
	return info
}

// framebuffer tag body layout: u64 addr, u32 pitch, u32 width, u32
// height, u8 bpp, u8 color type, u8 reserved, then a palette/mask that
// this kernel never reads (spec §6).
const framebufferBodyMinSize = 8 + 4 + 4 + 4 + 1 + 1

func parseFramebuffer(body []byte) (Framebuffer, bool) {
	if len(body) < framebufferBodyMinSize {
		return Framebuffer{}, false
	}
	fb := Framebuffer{
		Address:   binary.LittleEndian.Uint64(body[0:8]),
		Pitch:     binary.LittleEndian.Uint32(body[8:12]),
		Width:     binary.LittleEndian.Uint32(body[12:16]),
		Height:    binary.LittleEndian.Uint32(body[16:20]),
		BPP:       body[20],
		ColorType: body[21],
	}
	return fb, true
}

// Usable reports whether the parsed framebuffer meets the graphics
// threshold spec §6 sets (>= 640x480, bpp >= 8) and isn't EGA text.
func (fb *Framebuffer) Usable() bool {
	return fb != nil && fb.Width >= 640 && fb.Height >= 480 && fb.BPP >= 8 && fb.ColorType != ColorEGAText
}
