package paging

import (
	"testing"

	"github.com/cottonos/kernel/internal/cpu"
	"github.com/cottonos/kernel/internal/mm/pmm"
)

func newMapper(t *testing.T) (*Mapper, *pmm.Allocator, *cpu.Bus) {
	t.Helper()
	bus, err := cpu.NewBus(64 * 1024 * 1024)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	alloc := pmm.New(bus.MemSize(), nil, 0, 2*1024*1024) // reserve low 2MiB for identity tables
	m, e := New(bus, alloc)
	if e != 0 {
		t.Fatalf("New: %v", e)
	}
	return m, alloc, bus
}

func TestIdentityMapFirst4GiB(t *testing.T) {
	m, _, _ := newMapper(t)
	for _, virt := range []uint64{0, 0x100000, 0x40000000, 3*1024*1024*1024 + 4096} {
		phys, ok := m.Translate(virt)
		if !ok {
			t.Fatalf("identity translate %#x: not mapped", virt)
		}
		if phys != virt {
			t.Fatalf("identity translate %#x = %#x, want equal", virt, phys)
		}
	}
}

func TestMapUnmapRoundTrip(t *testing.T) {
	m, alloc, _ := newMapper(t)
	frame, e := alloc.Alloc()
	if e != 0 {
		t.Fatalf("Alloc: %v", e)
	}
	virt := uint64(8 * 1024 * 1024 * 1024) // well above identity-mapped region
	if e := m.MapPage(virt, frame, Present|Writable); e != 0 {
		t.Fatalf("MapPage: %v", e)
	}
	got, ok := m.Translate(virt)
	if !ok || got != frame+ (virt%PageSize) {
		t.Fatalf("Translate after map = %#x,%v, want %#x,true", got, ok, frame)
	}

	unmapped, e := m.UnmapPage(virt)
	if e != 0 {
		t.Fatalf("UnmapPage: %v", e)
	}
	if unmapped != frame {
		t.Fatalf("UnmapPage returned %#x, want %#x", unmapped, frame)
	}
	if _, ok := m.Translate(virt); ok {
		t.Fatal("Translate should fail after unmap")
	}
}

func TestMapPageRejectsHugeCoveredRange(t *testing.T) {
	m, alloc, _ := newMapper(t)
	frame, _ := alloc.Alloc()
	// 32 MiB sits inside the identity map's 2 MiB huge pages; a 4 KiB
	// mapping there must be refused, not scribbled into the leaf.
	if e := m.MapPage(32*1024*1024, frame, Present|Writable); e == 0 {
		t.Fatal("expected MapPage inside a huge-page mapping to fail")
	}
}

func TestMapPageExhaustionIsGraceful(t *testing.T) {
	m, alloc, _ := newMapper(t)
	base := uint64(8) << 30
	frame, e := alloc.Alloc()
	if e != 0 {
		t.Fatalf("Alloc: %v", e)
	}
	if e := m.MapPage(base, frame, Present|Writable); e != 0 {
		t.Fatalf("MapPage: %v", e)
	}

	var last uint64
	for {
		a, e := alloc.Alloc()
		if e != 0 {
			break
		}
		last = a
	}

	// Same PD as base but a different PT: needs one fresh table frame,
	// and there are none left.
	next := base + HugePageSize2M
	if e := m.MapPage(next, frame, Present|Writable); e == 0 {
		t.Fatal("expected MapPage to fail with the frame allocator empty")
	}
	if _, ok := m.Translate(next); ok {
		t.Fatal("a failed MapPage must not leave a live translation")
	}

	if e := alloc.Free(last); e != 0 {
		t.Fatalf("Free: %v", e)
	}
	if e := m.MapPage(next, frame, Present|Writable); e != 0 {
		t.Fatalf("MapPage after freeing a frame should succeed: %v", e)
	}
}

func TestMapPageRollsBackIntermediateTables(t *testing.T) {
	m, alloc, _ := newMapper(t)

	// Drain the allocator, then hand back exactly one frame: enough for
	// the PD a fresh PDPT slot needs, but not the PT below it.
	var frames []uint64
	for {
		a, e := alloc.Alloc()
		if e != 0 {
			break
		}
		frames = append(frames, a)
	}
	if e := alloc.Free(frames[len(frames)-1]); e != 0 {
		t.Fatalf("Free: %v", e)
	}

	virt := uint64(16) << 30 // untouched PDPT slot: the walk needs PD + PT
	if e := m.MapPage(virt, frames[0], Present|Writable); e == 0 {
		t.Fatal("expected MapPage to fail with only one free frame")
	}
	if got := alloc.FreeFrames(); got != 1 {
		t.Fatalf("a failed walk must free the intermediate tables it installed: %d frames free, want 1", got)
	}
	if _, ok := m.Translate(virt); ok {
		t.Fatal("a failed MapPage must not leave a live translation")
	}

	// With the rollback done, two free frames are exactly enough to
	// redo the PD+PT walk.
	if e := alloc.Free(frames[len(frames)-2]); e != 0 {
		t.Fatalf("Free: %v", e)
	}
	if e := m.MapPage(virt, frames[0], Present|Writable); e != 0 {
		t.Fatalf("MapPage with enough frames should succeed: %v", e)
	}
}

func TestUnmapUnmappedFails(t *testing.T) {
	m, _, _ := newMapper(t)
	if _, e := m.UnmapPage(8 * 1024 * 1024 * 1024); e == 0 {
		t.Fatal("expected error unmapping a never-mapped address")
	}
}

func TestMapPageOffsetPreserved(t *testing.T) {
	m, alloc, _ := newMapper(t)
	frame, _ := alloc.Alloc()
	virt := uint64(9*1024*1024*1024) + 0x123
	if e := m.MapPage(virt&^(PageSize-1), frame, Present|Writable); e != 0 {
		t.Fatalf("MapPage: %v", e)
	}
	got, ok := m.Translate(virt)
	if !ok {
		t.Fatal("translate failed")
	}
	if got != frame+0x123 {
		t.Fatalf("translate = %#x, want %#x", got, frame+0x123)
	}
}
