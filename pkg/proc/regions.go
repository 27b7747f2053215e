package proc

import "sort"

// RegionKind classifies what backs a memory region.
type RegionKind uint8

const (
	// RegionAnonymous is a mapping with no special backing.
	RegionAnonymous RegionKind = iota
	// RegionModule is backed by a loaded executable or library image.
	RegionModule
	// RegionHeap is the process heap.
	RegionHeap
	// RegionStack is a thread stack.
	RegionStack
)

func (k RegionKind) String() string {
	switch k {
	case RegionModule:
		return "module"
	case RegionHeap:
		return "heap"
	case RegionStack:
		return "stack"
	}
	return "anonymous"
}

// MemRegion is a contiguous, uniformly-protected span of the target's
// address space.
type MemRegion struct {
	Base uint64
	Size uint64

	Read  bool
	Write bool
	Exec  bool

	Kind RegionKind
	// Module is the image name backing the region, set only when Kind is
	// RegionModule.
	Module string
}

// End returns the first address past the region.
func (r MemRegion) End() uint64 { return r.Base + r.Size }

// Contains returns true if addr falls inside the region.
func (r MemRegion) Contains(addr uint64) bool {
	return addr >= r.Base && addr < r.End()
}

// RegionCatalog is an immutable snapshot of the target's memory layout,
// taken at one instant. It is never refreshed: callers that need a current
// view must enumerate again.
type RegionCatalog struct {
	regions []MemRegion
}

// EnumerateRegions queries the target's memory map once and returns a
// snapshot with regions ordered by base address.
func EnumerateRegions(h *Handle) (*RegionCatalog, error) {
	if err := h.Valid(); err != nil {
		return nil, err
	}
	regions, err := h.acc.Regions(h.raw)
	if err != nil {
		return nil, RegionEnumerationError{Err: err}
	}
	return NewRegionCatalog(regions), nil
}

// NewRegionCatalog builds a snapshot from an already collected region list.
func NewRegionCatalog(regions []MemRegion) *RegionCatalog {
	rs := make([]MemRegion, len(regions))
	copy(rs, regions)
	sort.Slice(rs, func(i, j int) bool { return rs[i].Base < rs[j].Base })
	return &RegionCatalog{regions: rs}
}

// Len returns the number of regions in the snapshot.
func (c *RegionCatalog) Len() int { return len(c.regions) }

// Regions returns the snapshot's regions ordered by base address. The
// returned slice must not be modified.
func (c *RegionCatalog) Regions() []MemRegion { return c.regions }

// FindRegion returns the region containing addr.
func (c *RegionCatalog) FindRegion(addr uint64) (MemRegion, bool) {
	i := sort.Search(len(c.regions), func(i int) bool {
		return c.regions[i].End() > addr
	})
	if i < len(c.regions) && c.regions[i].Contains(addr) {
		return c.regions[i], true
	}
	return MemRegion{}, false
}

// Contains returns true if addr falls inside any region of the snapshot.
func (c *RegionCatalog) Contains(addr uint64) bool {
	_, ok := c.FindRegion(addr)
	return ok
}

// Readable returns the readable regions of the snapshot.
func (c *RegionCatalog) Readable() []MemRegion {
	rs := make([]MemRegion, 0, len(c.regions))
	for _, r := range c.regions {
		if r.Read {
			rs = append(rs, r)
		}
	}
	return rs
}

// ModuleRegions returns the module-backed regions of the snapshot. These
// are the static anchors usable by pointer path generation.
func (c *RegionCatalog) ModuleRegions() []MemRegion {
	rs := make([]MemRegion, 0, len(c.regions))
	for _, r := range c.regions {
		if r.Kind == RegionModule {
			rs = append(rs, r)
		}
	}
	return rs
}
