package pathfind

import (
	"context"
	"reflect"
	"testing"

	"github.com/memscout/memscout/pkg/proc"
	"github.com/memscout/memscout/pkg/proc/proctest"
)

func assertNoError(err error, t *testing.T, s string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", s, err)
	}
}

func findPaths(t *testing.T, target *proctest.Target, addr uint64, opts Options) Result {
	t.Helper()
	res, err := Find(context.Background(), target, target.Catalog(), addr, target.PtrSize, opts)
	assertNoError(err, t, "Find()")
	return res
}

func TestSingleHopStaticPath(t *testing.T) {
	target := proctest.NewTarget(1, "victim", 8, 4)
	target.Map(0x1000, 0x1000, proc.RegionModule, "app")
	target.Map(0x10000, 0x1000, proc.RegionHeap, "")

	// app+0x20 points at a heap object; the target is 8 bytes inside it.
	target.PutUint64(0x1020, 0x10000)

	res := findPaths(t, target, 0x10008, Options{MaxDepth: 3})
	if res.Timeout {
		t.Fatal("unexpected timeout")
	}
	if len(res.Paths) != 1 {
		t.Fatalf("want 1 path, got %d: %+v", len(res.Paths), res.Paths)
	}
	p := res.Paths[0]
	if !p.Static || p.Module != "app" || p.Base != 0x1000 {
		t.Fatalf("wrong anchor: %+v", p)
	}
	if !reflect.DeepEqual(p.Offsets, []uint64{0x20, 0x8}) {
		t.Fatalf("wrong offsets: %#x", p.Offsets)
	}
}

func TestTwoHopStaticPath(t *testing.T) {
	target := proctest.NewTarget(1, "victim", 8, 4)
	target.Map(0x1000, 0x1000, proc.RegionModule, "app")
	target.Map(0x10000, 0x1000, proc.RegionHeap, "")
	target.Map(0x20000, 0x1000, proc.RegionHeap, "")

	// app+0x40 -> obj1; obj1+0x10 -> obj2; target is obj2+0x18.
	target.PutUint64(0x1040, 0x10000)
	target.PutUint64(0x10010, 0x20000)

	res := findPaths(t, target, 0x20018, Options{MaxDepth: 3})
	if len(res.Paths) != 1 {
		t.Fatalf("want 1 path, got %d: %+v", len(res.Paths), res.Paths)
	}
	p := res.Paths[0]
	if !p.Static || !reflect.DeepEqual(p.Offsets, []uint64{0x40, 0x10, 0x18}) {
		t.Fatalf("wrong path: %+v", p)
	}
	if addr, ok := p.Resolve(target, target.PtrSize); !ok || addr != 0x20018 {
		t.Fatalf("path does not resolve to target: %#x %v", addr, ok)
	}
}

func TestDepthBound(t *testing.T) {
	target := proctest.NewTarget(1, "victim", 8, 4)
	target.Map(0x1000, 0x1000, proc.RegionModule, "app")
	target.Map(0x10000, 0x1000, proc.RegionHeap, "")
	target.Map(0x20000, 0x1000, proc.RegionHeap, "")

	target.PutUint64(0x1040, 0x10000)
	target.PutUint64(0x10010, 0x20000)

	// The only static chain needs two dereferences; MaxDepth 1 must not
	// find it.
	res := findPaths(t, target, 0x20018, Options{MaxDepth: 1})
	for _, p := range res.Paths {
		if p.Static {
			t.Fatalf("static path beyond depth bound: %+v", p)
		}
	}
}

func TestOffsetBound(t *testing.T) {
	target := proctest.NewTarget(1, "victim", 8, 4)
	target.Map(0x1000, 0x1000, proc.RegionModule, "app")
	target.Map(0x10000, 0x1000, proc.RegionHeap, "")

	target.PutUint64(0x1020, 0x10000)

	// The final hop offset is 0x200; an offset cap below that hides the path.
	res := findPaths(t, target, 0x10200, Options{MaxDepth: 3, MaxOffset: 0x100})
	if len(res.Paths) != 0 {
		t.Fatalf("expected no paths, got %+v", res.Paths)
	}
	res = findPaths(t, target, 0x10200, Options{MaxDepth: 3, MaxOffset: 0x200})
	if len(res.Paths) != 1 {
		t.Fatalf("expected 1 path, got %+v", res.Paths)
	}
}

func TestDynamicPathFallback(t *testing.T) {
	target := proctest.NewTarget(1, "victim", 8, 4)
	target.Map(0x10000, 0x1000, proc.RegionHeap, "")
	target.Map(0x20000, 0x1000, proc.RegionHeap, "")

	// Heap-to-heap chain with no module anchor anywhere. The chain must be
	// reported whether the search stops right at it or dead-ends trying to
	// extend it further.
	target.PutUint64(0x20040, 0x10000)

	for _, depth := range []int{1, 3} {
		res := findPaths(t, target, 0x10008, Options{MaxDepth: depth})
		if len(res.Paths) != 1 {
			t.Fatalf("depth %d: want 1 dynamic path, got %d: %+v", depth, len(res.Paths), res.Paths)
		}
		p := res.Paths[0]
		if p.Static || p.Module != "" {
			t.Fatalf("depth %d: path should be dynamic: %+v", depth, p)
		}
		if p.Base != 0x20040 || !reflect.DeepEqual(p.Offsets, []uint64{0, 0x8}) {
			t.Fatalf("depth %d: wrong dynamic anchor: %+v", depth, p)
		}
		if addr, ok := p.Resolve(target, target.PtrSize); !ok || addr != 0x10008 {
			t.Fatalf("depth %d: dynamic path does not resolve: %#x %v", depth, addr, ok)
		}
	}
}

func TestStaticPathsRankFirst(t *testing.T) {
	target := proctest.NewTarget(1, "victim", 8, 4)
	target.Map(0x1000, 0x1000, proc.RegionModule, "app")
	target.Map(0x10000, 0x1000, proc.RegionHeap, "")
	target.Map(0x20000, 0x1000, proc.RegionHeap, "")

	// Static single-hop and a dangling heap chain to the same target.
	target.PutUint64(0x1020, 0x10000)
	target.PutUint64(0x20040, 0x10000)

	res := findPaths(t, target, 0x10008, Options{MaxDepth: 1})
	if len(res.Paths) < 2 {
		t.Fatalf("want static and dynamic paths, got %+v", res.Paths)
	}
	if !res.Paths[0].Static {
		t.Fatalf("static path should rank first: %+v", res.Paths)
	}
}

func TestMaxResults(t *testing.T) {
	target := proctest.NewTarget(1, "victim", 8, 4)
	target.Map(0x1000, 0x1000, proc.RegionModule, "app")
	target.Map(0x10000, 0x1000, proc.RegionHeap, "")

	for i := uint64(0); i < 8; i++ {
		target.PutUint64(0x1000+i*8, 0x10000)
	}

	res := findPaths(t, target, 0x10008, Options{MaxDepth: 1, MaxResults: 3})
	if len(res.Paths) != 3 {
		t.Fatalf("want 3 paths, got %d", len(res.Paths))
	}
}

func TestCancelledSearchIsPartial(t *testing.T) {
	target := proctest.NewTarget(1, "victim", 8, 4)
	target.Map(0x1000, 0x1000, proc.RegionModule, "app")
	target.Map(0x10000, 0x1000, proc.RegionHeap, "")
	target.PutUint64(0x1020, 0x10000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Find(ctx, target, target.Catalog(), 0x10008, target.PtrSize, Options{})
	assertNoError(err, t, "Find()")
	if !res.Timeout {
		t.Fatal("cancelled search should report Timeout")
	}
}

func TestStalePathRevalidated(t *testing.T) {
	target := proctest.NewTarget(1, "victim", 8, 4)
	target.Map(0x1000, 0x1000, proc.RegionModule, "app")
	target.Map(0x10000, 0x1000, proc.RegionHeap, "")
	target.PutUint64(0x1020, 0x10000)

	res := findPaths(t, target, 0x10008, Options{MaxDepth: 3})
	if len(res.Paths) != 1 {
		t.Fatalf("want 1 path, got %+v", res.Paths)
	}
	p := res.Paths[0]

	// The pointer moves; the recorded chain no longer reaches the target.
	target.PutUint64(0x1020, 0x10800)
	if addr, ok := p.Resolve(target, target.PtrSize); ok && addr == 0x10008 {
		t.Fatal("stale path should no longer resolve to the target")
	}
}
