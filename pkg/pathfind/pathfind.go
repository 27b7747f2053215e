// Package pathfind discovers pointer paths: chains of base+offset
// dereferences that locate a dynamic target address starting from a static,
// module-backed anchor.
package pathfind

import (
	"context"
	"encoding/binary"
	"errors"
	"sort"

	"github.com/memscout/memscout/pkg/logflags"
	"github.com/memscout/memscout/pkg/proc"
)

// Options bounds a path search.
type Options struct {
	// MaxDepth is the maximum number of dereference hops.
	MaxDepth int
	// MaxOffset is the largest positive offset allowed per hop.
	MaxOffset uint64
	// MaxResults caps the number of returned paths.
	MaxResults int
}

const (
	// DefaultMaxDepth is the default hop bound.
	DefaultMaxDepth = 5
	// DefaultMaxOffset is the default per-hop offset bound.
	DefaultMaxOffset = 4096
	// DefaultMaxResults is the default result cap.
	DefaultMaxResults = 1000

	indexChunk = 1 << 20
)

// Path locates a target through a fixed chain of dereferences. Resolution:
//
//	addr = Base + Offsets[0]
//	for each subsequent offset: addr = deref(addr) + offset
//
// The final addr is the located address. A Path is valid only relative to
// the region snapshot it was computed against.
type Path struct {
	// Module is the image anchoring the chain; empty for a chain anchored
	// at a raw dynamic address.
	Module string
	// Base is the anchor: the base of the module mapping containing the
	// first hop, or the raw address itself.
	Base uint64
	// Offsets is the hop sequence, first entry relative to Base.
	Offsets []uint64
	// Static is true when the anchor is module-backed.
	Static bool
}

// Result carries the discovered paths. Timeout reports that the search was
// cut short by cancellation or deadline: the paths present are valid but
// possibly incomplete (partial success, not failure).
type Result struct {
	Paths   []Path
	Timeout bool
}

type ptrWord struct {
	addr  uint64
	value uint64
}

type node struct {
	addr    uint64
	offsets []uint64
}

// Find performs an iterative breadth-first search over the reverse pointer
// graph of the snapshot. Depth 0 collects words pointing within MaxOffset
// below the target; each further depth repeats the search for words
// pointing into the previous hit set. Branches terminate with priority at
// module-backed anchors. Chains are deduplicated by offset sequence, ranked
// static-and-shortest-first, truncated to MaxResults and revalidated
// hop-by-hop before return.
func Find(ctx context.Context, mem proc.MemoryReader, catalog *proc.RegionCatalog, target uint64, ptrSize int, opts Options) (Result, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxOffset == 0 {
		opts.MaxOffset = DefaultMaxOffset
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	log := logflags.PathFindLogger()

	index, timedOut, err := buildIndex(ctx, mem, catalog, ptrSize)
	if err != nil {
		return Result{}, err
	}
	log.Debugf("pointer index: %d words", len(index))

	var static, dynamic []Path
	seen := make(map[string]bool)
	visited := map[uint64]bool{target: true}
	frontier := []node{{addr: target}}

	// Chains that never reach a module are reported anchored at the raw
	// address of their last discovered hop.
	emitDynamic := func(nd node) {
		if len(nd.offsets) == 0 {
			return
		}
		p := Path{
			Base:    nd.addr,
			Offsets: append([]uint64{0}, nd.offsets...),
		}
		if key := p.key(); !seen[key] {
			seen[key] = true
			dynamic = append(dynamic, p)
		}
	}

	if !timedOut {
	search:
		for depth := 0; depth < opts.MaxDepth && len(frontier) > 0; depth++ {
			var next []node
			for _, nd := range frontier {
				if ctx.Err() != nil {
					timedOut = true
					break search
				}
				lo := uint64(0)
				if nd.addr > opts.MaxOffset {
					lo = nd.addr - opts.MaxOffset
				}
				progressed := false
				i := sort.Search(len(index), func(i int) bool { return index[i].value >= lo })
				for ; i < len(index) && index[i].value <= nd.addr; i++ {
					w := index[i]
					chain := make([]uint64, 0, len(nd.offsets)+1)
					chain = append(chain, nd.addr-w.value)
					chain = append(chain, nd.offsets...)

					if region, ok := catalog.FindRegion(w.addr); ok && region.Kind == proc.RegionModule {
						// Static anchor: the branch terminates here.
						progressed = true
						p := Path{
							Module:  region.Module,
							Base:    region.Base,
							Offsets: append([]uint64{w.addr - region.Base}, chain...),
							Static:  true,
						}
						if key := p.key(); !seen[key] {
							seen[key] = true
							static = append(static, p)
							if len(static) >= opts.MaxResults {
								break search
							}
						}
						continue
					}
					if !visited[w.addr] {
						visited[w.addr] = true
						progressed = true
						next = append(next, node{addr: w.addr, offsets: chain})
					}
				}
				if !progressed {
					// Dead end below the depth bound: no word points at this
					// node, so the chain can only be reported dynamic.
					emitDynamic(nd)
				}
			}
			frontier = next
		}
	}

	// Whatever survived to the depth bound is dynamic too.
	for _, nd := range frontier {
		emitDynamic(nd)
	}

	sort.SliceStable(static, func(i, j int) bool { return len(static[i].Offsets) < len(static[j].Offsets) })
	sort.SliceStable(dynamic, func(i, j int) bool { return len(dynamic[i].Offsets) < len(dynamic[j].Offsets) })
	paths := append(static, dynamic...)
	if len(paths) > opts.MaxResults {
		paths = paths[:opts.MaxResults]
	}

	// Guard against a racing mutation of the target since the index was
	// built: every returned chain must still dereference as recorded.
	valid := paths[:0]
	for _, p := range paths {
		if addr, ok := p.Resolve(mem, ptrSize); ok && addr == target {
			valid = append(valid, p)
		}
	}

	log.Debugf("pathfind target %#x: %d paths (%d static), timeout=%v", target, len(valid), len(static), timedOut)
	return Result{Paths: valid, Timeout: timedOut}, nil
}

// Resolve walks the chain against mem and reports the located address.
func (p Path) Resolve(mem proc.MemoryReader, ptrSize int) (uint64, bool) {
	if len(p.Offsets) == 0 {
		return 0, false
	}
	addr := p.Base + p.Offsets[0]
	for _, off := range p.Offsets[1:] {
		v, err := readPointer(mem, addr, ptrSize)
		if err != nil {
			return 0, false
		}
		addr = v + off
	}
	return addr, true
}

func (p Path) key() string {
	buf := make([]byte, 0, (len(p.Offsets)+1)*8+len(p.Module))
	buf = append(buf, p.Module...)
	buf = binary.LittleEndian.AppendUint64(buf, p.Base)
	for _, off := range p.Offsets {
		buf = binary.LittleEndian.AppendUint64(buf, off)
	}
	return string(buf)
}

// buildIndex collects every aligned pointer-width word whose stored value
// lands inside the snapshot, sorted by stored value so the reverse search
// is a range query.
func buildIndex(ctx context.Context, mem proc.MemoryReader, catalog *proc.RegionCatalog, ptrSize int) ([]ptrWord, bool, error) {
	var index []ptrWord
	timedOut := false

	buf := make([]byte, indexChunk)
scanregions:
	for _, region := range catalog.Readable() {
		for chunkBase := region.Base; chunkBase < region.End(); chunkBase += indexChunk {
			if ctx.Err() != nil {
				timedOut = true
				break scanregions
			}
			want := minu64(indexChunk, region.End()-chunkBase)
			n, err := mem.ReadMemory(buf[:want], chunkBase)
			if errors.Is(err, proc.ErrProcessDetached) {
				return nil, false, proc.ErrProcessDetached
			}
			if n < ptrSize {
				continue
			}
			start := alignUp(chunkBase, uint64(ptrSize))
			for addr := start; addr+uint64(ptrSize) <= chunkBase+uint64(n); addr += uint64(ptrSize) {
				v := decodePointer(buf[addr-chunkBase:], ptrSize)
				if v != 0 && catalog.Contains(v) {
					index = append(index, ptrWord{addr: addr, value: v})
				}
			}
		}
	}

	sort.Slice(index, func(i, j int) bool { return index[i].value < index[j].value })
	return index, timedOut, nil
}

func readPointer(mem proc.MemoryReader, addr uint64, ptrSize int) (uint64, error) {
	buf := make([]byte, ptrSize)
	if _, err := mem.ReadMemory(buf, addr); err != nil {
		return 0, err
	}
	return decodePointer(buf, ptrSize), nil
}

func decodePointer(b []byte, ptrSize int) uint64 {
	if ptrSize == 4 {
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

func alignUp(addr, stride uint64) uint64 {
	if rem := addr % stride; rem != 0 {
		return addr + stride - rem
	}
	return addr
}

func minu64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
