package ata

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/cottonos/kernel/internal/cpu"
)

func newTestDevice(t *testing.T) (*Device, *cpu.Bus) {
	t.Helper()
	bus, err := cpu.NewBus(1 << 20)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	backing := NewMemBacking(64 * 1024 * 1024)
	ch := NewChannel(bus, 0x1F0, backing, nil)
	return NewDevice("hda", ch, 0), bus
}

func TestWriteReadRoundTrip(t *testing.T) {
	dev, _ := newTestDevice(t)
	want := bytes.Repeat([]byte{0xAB}, int(SectorSize)*3)
	if e := dev.Write(10, 3, want); e != 0 {
		t.Fatalf("Write: %v", e)
	}
	got := make([]byte, len(want))
	if e := dev.Read(10, 3, got); e != 0 {
		t.Fatalf("Read: %v", e)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("read back data does not match written data")
	}
}

func TestCountZeroIsNoop(t *testing.T) {
	dev, _ := newTestDevice(t)
	if e := dev.Read(0, 0, nil); e != 0 {
		t.Fatalf("count=0 should be a no-op Ok, got %v", e)
	}
}

func TestCountTooLarge(t *testing.T) {
	dev, _ := newTestDevice(t)
	buf := make([]byte, 256*SectorSize)
	if e := dev.Read(0, 256, buf); e == 0 {
		t.Fatal("count=256 should return an error")
	}
}

func TestAbsentDriveRejected(t *testing.T) {
	bus, err := cpu.NewBus(1 << 20)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer bus.Close()
	ch := NewChannel(bus, 0x1F0, nil, nil)
	dev := NewDevice("hda", ch, 0)
	buf := make([]byte, SectorSize)
	if e := dev.Read(0, 1, buf); e == 0 {
		t.Fatal("expected error reading from an absent drive")
	}
}

func TestFileBackingPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	fb, err := OpenFileBacking(path, 1<<20)
	if err != nil {
		t.Fatalf("OpenFileBacking: %v", err)
	}
	bus, err := cpu.NewBus(1 << 20)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	dev := NewDevice("hda", NewChannel(bus, 0x1F0, fb, nil), 0)

	want := bytes.Repeat([]byte{0x5A}, SectorSize)
	if e := dev.Write(7, 1, want); e != 0 {
		t.Fatalf("Write: %v", e)
	}
	if err := fb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fb2, err := OpenFileBacking(path, 1<<20)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer fb2.Close()
	got := make([]byte, SectorSize)
	if err := fb2.ReadSector(7, got); err != nil {
		t.Fatalf("ReadSector: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("sector did not survive close and reopen")
	}
}

func TestFileBackingLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	fb, err := OpenFileBacking(path, 1<<20)
	if err != nil {
		t.Fatalf("OpenFileBacking: %v", err)
	}
	defer fb.Close()

	if _, err := OpenFileBacking(path, 1<<20); err == nil {
		t.Fatal("expected the advisory lock to refuse a second open")
	}
}

func TestIdentifyProtocol(t *testing.T) {
	dev, bus := newTestDevice(t)
	bus.Out8(dev.channel.base+regDriveHead, 0xA0)
	bus.Out8(dev.channel.base+regStatus, cmdIdentify)
	status := bus.In8(dev.channel.base + regStatus)
	if status&statusDRQ == 0 {
		t.Fatal("IDENTIFY should set DRQ")
	}
	words := make([]uint16, 256)
	for i := range words {
		words[i] = bus.In16(dev.channel.base + regData)
	}
	if words[60] == 0 && words[61] == 0 && words[100] == 0 {
		t.Fatal("IDENTIFY result has no sector count encoded")
	}
}
