package paging

import (
	"sync"

	"github.com/cottonos/kernel/internal/cpu"
	"github.com/cottonos/kernel/internal/errno"
	"github.com/cottonos/kernel/internal/mm/pmm"
)

// RegionFlags is the spec §3 virtual-memory-region flag set.
type RegionFlags uint32

const (
	RegionRead RegionFlags = 1 << iota
	RegionWrite
	RegionExecute
	RegionUser
	RegionShared
	RegionStack
	RegionHeap
	RegionMMIO
)

// Region is a contiguous [Start, End) span of virtual addresses with a
// uniform flag set. Start and End are page-aligned.
type Region struct {
	Start, End uint64
	Flags      RegionFlags
}

// pteFlags derives the page-table entry bits every page in the region is
// mapped with, keeping the spec §3 invariant that mapped pages carry
// flags consistent with their region's flag set.
func (r Region) pteFlags() Flags {
	f := Flags(0)
	if r.Flags&RegionWrite != 0 {
		f |= Writable
	}
	if r.Flags&RegionUser != 0 {
		f |= User
	}
	if r.Flags&RegionExecute == 0 {
		f |= NoExecute
	}
	return f
}

func (r Region) overlaps(other Region) bool {
	return r.Start < other.End && other.Start < r.End
}

// AddressSpace is one process's virtual address space: a root page-table
// mapper plus its list of non-overlapping regions (spec §3).
type AddressSpace struct {
	mapper *Mapper

	mu      sync.Mutex
	regions []Region
}

// NewAddressSpace builds an empty address space around a fresh zeroed
// PML4.
func NewAddressSpace(bus *cpu.Bus, alloc *pmm.Allocator) (*AddressSpace, errno.Errno) {
	m, e := NewEmpty(bus, alloc)
	if e != errno.OK {
		return nil, e
	}
	return &AddressSpace{mapper: m}, errno.OK
}

// Mapper exposes the space's page-table mapper for translation.
func (s *AddressSpace) Mapper() *Mapper { return s.mapper }

// Regions returns a snapshot of the space's region list.
func (s *AddressSpace) Regions() []Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Region(nil), s.regions...)
}

// MapRegion records r in the region list and backs every page in it with
// a freshly allocated frame, mapped with flags derived from r.Flags. A
// region overlapping an existing one is rejected. On a mid-region
// allocation failure the failing page's partial table walk is unwound by
// MapPage itself, the pages already mapped for r are unmapped with their
// frames returned, and r is dropped from the region list, so no
// half-installed entries remain. Intermediate page tables brought into
// existence by the already-completed pages stay allocated; they are
// empty and serve later mappings.
func (s *AddressSpace) MapRegion(r Region) errno.Errno {
	if r.End <= r.Start || r.Start%PageSize != 0 || r.End%PageSize != 0 {
		return errno.EINVAL
	}
	s.mu.Lock()
	for _, existing := range s.regions {
		if r.overlaps(existing) {
			s.mu.Unlock()
			return errno.EEXIST
		}
	}
	s.regions = append(s.regions, r)
	s.mu.Unlock()

	flags := r.pteFlags()
	for virt := r.Start; virt < r.End; virt += PageSize {
		frame, e := s.mapper.alloc.Alloc()
		if e == errno.OK {
			e = s.mapper.MapPage(virt, frame, flags)
			if e != errno.OK {
				s.mapper.alloc.Free(frame)
			}
		}
		if e != errno.OK {
			s.unwind(r, virt)
			return e
		}
	}
	return errno.OK
}

// unwind unmaps and frees the pages of r below failedAt and drops r from
// the region list.
func (s *AddressSpace) unwind(r Region, failedAt uint64) {
	for virt := r.Start; virt < failedAt; virt += PageSize {
		if phys, e := s.mapper.UnmapPage(virt); e == errno.OK {
			s.mapper.alloc.Free(phys)
		}
	}
	s.mu.Lock()
	for i, existing := range s.regions {
		if existing == r {
			s.regions = append(s.regions[:i], s.regions[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}
