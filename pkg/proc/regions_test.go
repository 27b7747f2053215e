package proc_test

import (
	"errors"
	"testing"

	"github.com/memscout/memscout/pkg/proc"
	"github.com/memscout/memscout/pkg/proc/proctest"
)

func TestRegionCatalogOrdering(t *testing.T) {
	catalog := proc.NewRegionCatalog([]proc.MemRegion{
		{Base: 0x3000, Size: 0x1000},
		{Base: 0x1000, Size: 0x1000},
		{Base: 0x2000, Size: 0x1000},
	})
	regions := catalog.Regions()
	for i := 1; i < len(regions); i++ {
		if regions[i-1].Base >= regions[i].Base {
			t.Fatalf("catalog not sorted by base: %#x >= %#x", regions[i-1].Base, regions[i].Base)
		}
	}
}

func TestFindRegion(t *testing.T) {
	catalog := proc.NewRegionCatalog([]proc.MemRegion{
		{Base: 0x1000, Size: 0x1000, Kind: proc.RegionModule, Module: "app"},
		{Base: 0x4000, Size: 0x1000, Kind: proc.RegionHeap},
	})

	for _, tc := range []struct {
		addr uint64
		ok   bool
		kind proc.RegionKind
	}{
		{0xfff, false, 0},
		{0x1000, true, proc.RegionModule},
		{0x1fff, true, proc.RegionModule},
		{0x2000, false, 0},
		{0x4800, true, proc.RegionHeap},
		{0x5000, false, 0},
	} {
		r, ok := catalog.FindRegion(tc.addr)
		if ok != tc.ok {
			t.Errorf("FindRegion(%#x): want ok=%v, got %v", tc.addr, tc.ok, ok)
			continue
		}
		if ok && r.Kind != tc.kind {
			t.Errorf("FindRegion(%#x): want kind %v, got %v", tc.addr, tc.kind, r.Kind)
		}
		if catalog.Contains(tc.addr) != tc.ok {
			t.Errorf("Contains(%#x): want %v", tc.addr, tc.ok)
		}
	}
}

func TestRegionCatalogFilters(t *testing.T) {
	catalog := proc.NewRegionCatalog([]proc.MemRegion{
		{Base: 0x1000, Size: 0x1000, Read: true, Kind: proc.RegionModule, Module: "app"},
		{Base: 0x2000, Size: 0x1000, Read: false, Kind: proc.RegionModule, Module: "app"},
		{Base: 0x4000, Size: 0x1000, Read: true, Kind: proc.RegionHeap},
	})
	if got := len(catalog.Readable()); got != 2 {
		t.Fatalf("want 2 readable regions, got %d", got)
	}
	if got := len(catalog.ModuleRegions()); got != 2 {
		t.Fatalf("want 2 module regions, got %d", got)
	}
}

func TestEnumerateRegionsDetached(t *testing.T) {
	target := proctest.NewTarget(1, "victim", 8, 4)
	target.Map(0x1000, 0x1000, proc.RegionHeap, "")
	h, err := proc.OpenHandle(proctest.NewAccessor(target), 1)
	assertNoError(err, t, "OpenHandle()")
	assertNoError(h.Detach(), t, "Detach()")

	if _, err := proc.EnumerateRegions(h); !errors.Is(err, proc.ErrProcessDetached) {
		t.Fatalf("expected ErrProcessDetached, got %v", err)
	}
}
