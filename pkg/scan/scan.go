// Package scan implements the candidate-set memory scanner: a first scan
// over a region snapshot followed by monotonically narrowing filter rounds.
package scan

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/memscout/memscout/pkg/logflags"
	"github.com/memscout/memscout/pkg/proc"
)

// ErrScanTooLarge is returned when a first scan would produce more
// candidates than the configured ceiling. Narrow the alignment or the
// region scope and retry.
var ErrScanTooLarge = errors.New("scan would exceed candidate ceiling")

// ErrNoActiveScan is returned by Filter before any successful first scan.
var ErrNoActiveScan = errors.New("no active scan")

// DefaultMaxCandidates is the default candidate ceiling for first scans.
const DefaultMaxCandidates = 10_000_000

const (
	scanChunk       = 1 << 20
	filterPageSize  = 1 << 12
	filterPageCache = 256
)

// Candidate is an address currently believed to hold a matching value.
// Prev retains the value observed by the round before the current one, for
// trend comparisons.
type Candidate struct {
	Addr  uint64
	Value []byte
	Prev  []byte
}

// Result reports the outcome of a scan round. DroppedReads counts
// addresses skipped because they could not be read; per-address read
// failure is a local, counted event, never an abort.
type Result struct {
	MatchCount   int
	DroppedReads uint64
}

// Options configures a scanner.
type Options struct {
	// Alignment is the address stride of the first scan. Zero means the
	// value size.
	Alignment int
	// MaxCandidates overrides DefaultMaxCandidates when positive.
	MaxCandidates int
	// ModulesOnly restricts the first scan to module-backed regions.
	ModulesOnly bool
}

// Scanner owns one candidate set over one region snapshot. It is bound to
// the session that created it: a new first scan replaces it wholesale, and
// it fails with ErrProcessDetached once the handle is invalidated.
//
// Methods are not safe for concurrent use; the owning session serializes
// rounds.
type Scanner struct {
	mem     proc.MemoryReader
	catalog *proc.RegionCatalog
	vt      ValueType
	opts    Options
	log     *logrus.Entry

	started    bool
	candidates []Candidate
}

// New creates a scanner for the given snapshot. mem is an immutable view of
// the handle: the scanner never holds the session lock while reading.
func New(mem proc.MemoryReader, catalog *proc.RegionCatalog, vt ValueType, opts Options) *Scanner {
	if opts.Alignment <= 0 {
		opts.Alignment = vt.Size()
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultMaxCandidates
	}
	return &Scanner{
		mem:     mem,
		catalog: catalog,
		vt:      vt,
		opts:    opts,
		log:     logflags.ScannerLogger(),
	}
}

// ValueType returns the declared value type of the scan.
func (s *Scanner) ValueType() ValueType { return s.vt }

// Count returns the current candidate count.
func (s *Scanner) Count() int { return len(s.candidates) }

// Candidates returns the current candidate set. The returned slice must
// not be modified.
func (s *Scanner) Candidates() []Candidate { return s.candidates }

// First performs the initial full-space scan, discarding any prior
// candidate set. Unreadable stretches are skipped and counted, a candidate
// count above the ceiling aborts with ErrScanTooLarge.
func (s *Scanner) First(ctx context.Context, cmp Comparison) (Result, error) {
	s.started = false
	s.candidates = nil

	size := s.vt.Size()
	stride := uint64(s.opts.Alignment)
	var res Result
	var cands []Candidate

	buf := make([]byte, scanChunk+size-1)
	for _, region := range s.catalog.Readable() {
		if s.opts.ModulesOnly && region.Kind != proc.RegionModule {
			continue
		}
		for chunkBase := region.Base; chunkBase < region.End(); chunkBase += scanChunk {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}

			want := region.End() - chunkBase
			if want > uint64(len(buf)) {
				// Overlap into the next chunk so windows spanning the
				// boundary are still seen.
				want = uint64(len(buf))
			}
			n, err := s.mem.ReadMemory(buf[:want], chunkBase)
			if errors.Is(err, proc.ErrProcessDetached) {
				return Result{}, proc.ErrProcessDetached
			}
			if n < size {
				res.DroppedReads += strideCount(chunkBase, minu64(uint64(scanChunk), region.End()-chunkBase), stride)
				continue
			}

			limit := uint64(n - size + 1)
			if limit > scanChunk {
				limit = scanChunk
			}
			start := alignUp(chunkBase, stride)
			for addr := start; addr-chunkBase < limit; addr += stride {
				window := buf[addr-chunkBase : addr-chunkBase+uint64(size)]
				if eval(s.vt, cmp, window, nil) {
					if len(cands) >= s.opts.MaxCandidates {
						return Result{}, ErrScanTooLarge
					}
					v := make([]byte, size)
					copy(v, window)
					cands = append(cands, Candidate{Addr: addr, Value: v})
				}
			}
			if err != nil {
				// Tail of the chunk was unreadable. Drops start at the
				// first window not fully covered by the read, which begins
				// size-1 bytes before the read boundary.
				covered := limit
				span := minu64(uint64(scanChunk), region.End()-chunkBase)
				if covered < span {
					res.DroppedReads += strideCount(chunkBase+covered, span-covered, stride)
				}
			}
		}
	}

	s.candidates = cands
	s.started = true
	res.MatchCount = len(cands)
	s.log.Debugf("first scan: %d candidates, %d dropped reads", res.MatchCount, res.DroppedReads)
	return res, nil
}

// Filter re-reads only the current candidates and keeps those satisfying
// cmp. The result is always a subset of the prior candidate set; an address
// that became unreadable is dropped and counted.
func (s *Scanner) Filter(ctx context.Context, cmp Comparison) (Result, error) {
	if !s.started {
		return Result{}, ErrNoActiveScan
	}

	size := s.vt.Size()
	var res Result
	// The prior set must survive an aborted round intact: collect into a
	// fresh slice and install it only on success.
	kept := make([]Candidate, 0, len(s.candidates))

	// Candidates cluster on pages; one native read serves every candidate
	// on the same page.
	pages, _ := lru.New(filterPageCache)
	readWindow := func(addr uint64) ([]byte, error) {
		page := addr &^ uint64(filterPageSize-1)
		if addr+uint64(size) > page+filterPageSize {
			// Window straddles a page boundary, read it directly.
			w := make([]byte, size)
			if _, err := s.mem.ReadMemory(w, addr); err != nil {
				return nil, err
			}
			return w, nil
		}
		if v, ok := pages.Get(page); ok {
			data := v.([]byte)
			return data[addr-page : addr-page+uint64(size)], nil
		}
		data := make([]byte, filterPageSize)
		if _, err := s.mem.ReadMemory(data, page); err != nil {
			if errors.Is(err, proc.ErrProcessDetached) {
				return nil, err
			}
			// The page may be partially mapped: each candidate on it gets
			// its own direct read, only readable pages are cached.
			w := make([]byte, size)
			if _, derr := s.mem.ReadMemory(w, addr); derr != nil {
				return nil, derr
			}
			return w, nil
		}
		pages.Add(page, data)
		return data[addr-page : addr-page+uint64(size)], nil
	}

	for i := range s.candidates {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
		cand := s.candidates[i]
		window, err := readWindow(cand.Addr)
		if errors.Is(err, proc.ErrProcessDetached) {
			return Result{}, proc.ErrProcessDetached
		}
		if err != nil {
			res.DroppedReads++
			continue
		}
		if !eval(s.vt, cmp, window, cand.Value) {
			continue
		}
		prev := cand.Value
		v := make([]byte, size)
		copy(v, window)
		kept = append(kept, Candidate{Addr: cand.Addr, Value: v, Prev: prev})
	}

	s.candidates = kept
	res.MatchCount = len(kept)
	s.log.Debugf("filter (%s): %d candidates, %d dropped reads", cmp.Kind, res.MatchCount, res.DroppedReads)
	return res, nil
}

func alignUp(addr, stride uint64) uint64 {
	if rem := addr % stride; rem != 0 {
		return addr + stride - rem
	}
	return addr
}

// strideCount returns how many aligned addresses fall in [base, base+span).
func strideCount(base, span, stride uint64) uint64 {
	if span == 0 {
		return 0
	}
	first := alignUp(base, stride)
	if first >= base+span {
		return 0
	}
	return (base + span - first + stride - 1) / stride
}

func minu64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
