package paging

import (
	"testing"

	"github.com/cottonos/kernel/internal/cpu"
	"github.com/cottonos/kernel/internal/mm/pmm"
)

func newSpace(t *testing.T) (*AddressSpace, *pmm.Allocator) {
	t.Helper()
	bus, err := cpu.NewBus(32 * 1024 * 1024)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	alloc := pmm.New(bus.MemSize(), nil, 0, 0)
	s, e := NewAddressSpace(bus, alloc)
	if e != 0 {
		t.Fatalf("NewAddressSpace: %v", e)
	}
	return s, alloc
}

func TestMapRegionBacksEveryPage(t *testing.T) {
	s, _ := newSpace(t)
	r := Region{Start: 0x7000_0000_0000, End: 0x7000_0000_0000 + 4*PageSize,
		Flags: RegionRead | RegionWrite | RegionUser | RegionStack}
	if e := s.MapRegion(r); e != 0 {
		t.Fatalf("MapRegion: %v", e)
	}
	for virt := r.Start; virt < r.End; virt += PageSize {
		if _, ok := s.Mapper().Translate(virt); !ok {
			t.Fatalf("page %#x of the region is not mapped", virt)
		}
	}
	if got := s.Regions(); len(got) != 1 || got[0] != r {
		t.Fatalf("Regions() = %v, want exactly the mapped region", got)
	}
}

func TestMapRegionRejectsOverlap(t *testing.T) {
	s, _ := newSpace(t)
	a := Region{Start: 0x1000_0000, End: 0x1000_0000 + 4*PageSize, Flags: RegionRead | RegionWrite}
	if e := s.MapRegion(a); e != 0 {
		t.Fatalf("MapRegion: %v", e)
	}
	b := Region{Start: a.Start + 2*PageSize, End: a.End + 2*PageSize, Flags: RegionRead}
	if e := s.MapRegion(b); e == 0 {
		t.Fatal("expected overlapping region to be rejected")
	}
	if got := s.Regions(); len(got) != 1 {
		t.Fatalf("rejected region must not appear in the list, got %v", got)
	}
}

func TestMapRegionRejectsUnaligned(t *testing.T) {
	s, _ := newSpace(t)
	r := Region{Start: 0x1000_0123, End: 0x1000_0123 + PageSize, Flags: RegionRead}
	if e := s.MapRegion(r); e == 0 {
		t.Fatal("expected unaligned region to be rejected")
	}
}

func TestMapRegionUnwindsOnExhaustion(t *testing.T) {
	s, alloc := newSpace(t)

	// Drain the allocator, then hand back three frames: the first page
	// of the region needs PDPT+PT+PD plus a data frame, so its walk
	// fails partway down and must roll everything back.
	var frames []uint64
	for {
		a, e := alloc.Alloc()
		if e != 0 {
			break
		}
		frames = append(frames, a)
	}
	for _, f := range frames[len(frames)-3:] {
		if e := alloc.Free(f); e != 0 {
			t.Fatalf("Free: %v", e)
		}
	}

	r := Region{Start: 0x2000_0000, End: 0x2000_0000 + 4*PageSize, Flags: RegionRead | RegionWrite}
	if e := s.MapRegion(r); e == 0 {
		t.Fatal("expected MapRegion to fail with too few frames for the first page")
	}
	if got := alloc.FreeFrames(); got != 3 {
		t.Fatalf("failed MapRegion must leak no frames: %d free, want 3", got)
	}
	if _, ok := s.Mapper().Translate(r.Start); ok {
		t.Fatal("failed MapRegion must not leave pages mapped")
	}
	if got := s.Regions(); len(got) != 0 {
		t.Fatalf("failed region must be unwound from the list, got %v", got)
	}
}
