// Package debugger owns the process session: at most one attached process
// handle at a time, the breakpoint/watchpoint registry bound to it, and the
// scanner and region snapshots derived from it.
package debugger

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/derekparker/trie"
	"github.com/sirupsen/logrus"

	"github.com/memscout/memscout/pkg/logflags"
	"github.com/memscout/memscout/pkg/pathfind"
	"github.com/memscout/memscout/pkg/proc"
	"github.com/memscout/memscout/pkg/scan"
)

// ErrAlreadyOpen is returned by Attach while a process is open. The session
// never auto-closes the previous target: that would silently orphan its
// breakpoints, an explicit Detach is required first.
var ErrAlreadyOpen = errors.New("a process is already open")

// ErrModuleNotFound is returned when resolving an offset against an
// unknown module name.
var ErrModuleNotFound = errors.New("module not found")

// Config provides the configuration to start a Debugger.
type Config struct {
	// Accessor is the platform process access capability.
	Accessor proc.Accessor

	// ScanMaxCandidates overrides the first-scan candidate ceiling when
	// positive.
	ScanMaxCandidates int
	// ScanAlignment is the default first-scan alignment when positive.
	ScanAlignment int

	// PointerMaxDepth, PointerMaxOffset and PointerMaxResults are the
	// defaults applied to pointer path requests that leave them zero.
	PointerMaxDepth   int
	PointerMaxOffset  uint64
	PointerMaxResults int
}

// Debugger is the process session.
//
// The session lock serializes open/close, state changes and registry
// mutation. It is held only to validate and mutate bookkeeping, never
// across bulk memory I/O: reads, writes, scans and path searches snapshot
// the handle under the lock and then operate on it lock-free, relying on
// the handle's detach flag to observe teardown. Hardware slot programming
// is the one native call made under the lock, the slot pool is tiny and
// must be allocated atomically.
type Debugger struct {
	config *Config
	log    *logrus.Entry

	processMutex sync.Mutex
	target       *proc.Handle
	registry     *proc.Registry
	scanner      *scan.Scanner
	catalog      *proc.RegionCatalog

	// scanMutex serializes scan rounds: the scanner mutates its candidate
	// set during a round and is not safe for concurrent use. It is never
	// held together with bulk I/O under processMutex; lock order is
	// scanMutex before processMutex.
	scanMutex sync.Mutex
}

// New creates a Debugger with no process attached.
func New(config *Config) *Debugger {
	return &Debugger{
		config: config,
		log:    logflags.DebuggerLogger(),
	}
}

// Attach opens the process identified by pid. Fails with
// proc.ErrProcessNotFound if no such process exists and ErrAlreadyOpen if a
// target is already open.
func (d *Debugger) Attach(pid int) (*proc.Handle, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	if d.target != nil {
		return nil, ErrAlreadyOpen
	}
	h, err := proc.OpenHandle(d.config.Accessor, pid)
	if err != nil {
		return nil, err
	}
	d.log.Infof("attached to pid %d", pid)
	d.target = h
	d.registry = proc.NewRegistry(h)
	return h, nil
}

// Detach closes the current session: every hardware trigger is removed,
// the handle is invalidated and all derived state (scanner, region
// snapshot) is dropped. Detaching with no open process is a no-op.
func (d *Debugger) Detach() error {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.detachLocked()
}

func (d *Debugger) detachLocked() error {
	if d.target == nil {
		return nil
	}
	d.registry.ClearAll()
	err := d.target.Detach()
	d.log.Infof("detached from pid %d", d.target.Pid())
	d.target = nil
	d.registry = nil
	d.scanner = nil
	d.catalog = nil
	return err
}

// handle returns the current target or ErrProcessDetached.
func (d *Debugger) handle() (*proc.Handle, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.target == nil {
		return nil, proc.ErrProcessDetached
	}
	return d.target, nil
}

// observe force-closes the session when the native capability itself is
// gone; partially valid state must not survive that.
func (d *Debugger) observe(err error) error {
	if errors.Is(err, proc.ErrCapabilityLost) {
		d.log.Errorf("native access lost, closing session: %v", err)
		d.Detach()
	}
	return err
}

// AttachedPid reports the pid of the open target, if any.
func (d *Debugger) AttachedPid() (int, bool) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.target == nil {
		return 0, false
	}
	return d.target.Pid(), true
}

// Status returns the lifecycle state of the session target.
func (d *Debugger) Status() proc.Status {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.target == nil {
		return proc.StatusDetached
	}
	return d.target.Status()
}

// Suspend stops the target process.
func (d *Debugger) Suspend() error {
	h, err := d.handle()
	if err != nil {
		return err
	}
	return d.observe(h.Suspend())
}

// Resume continues the target process.
func (d *Debugger) Resume() error {
	h, err := d.handle()
	if err != nil {
		return err
	}
	return d.observe(h.Resume())
}

// ReadMemory reads size bytes at addr from the target. Unlike scan rounds,
// explicit reads surface failures to the caller.
func (d *Debugger) ReadMemory(addr uint64, size int) ([]byte, error) {
	h, err := d.handle()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := h.ReadMemory(buf, addr)
	if err != nil {
		return nil, d.observe(err)
	}
	return buf[:n], nil
}

// WriteMemory writes data at addr in the target. Write failures are always
// surfaced, never silently dropped.
func (d *Debugger) WriteMemory(addr uint64, data []byte) (int, error) {
	h, err := d.handle()
	if err != nil {
		return 0, err
	}
	n, err := h.WriteMemory(addr, data)
	return n, d.observe(err)
}

// BatchRead is one window of a batched memory read.
type BatchRead struct {
	Addr uint64
	Size int
}

// BatchResult is the outcome of one batched read window. A failed window
// carries its error and does not abort the batch.
type BatchResult struct {
	Data []byte
	Err  error
}

// ReadMemoryBatch reads several windows in one call. Windows fail
// independently.
func (d *Debugger) ReadMemoryBatch(reqs []BatchRead) ([]BatchResult, error) {
	h, err := d.handle()
	if err != nil {
		return nil, err
	}
	results := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		buf := make([]byte, req.Size)
		n, err := h.ReadMemory(buf, req.Addr)
		if err != nil {
			if errors.Is(err, proc.ErrProcessDetached) {
				return nil, err
			}
			results[i].Err = d.observe(err)
			continue
		}
		results[i].Data = buf[:n]
	}
	return results, nil
}

// Regions enumerates the target's memory map and returns a fresh immutable
// snapshot. The snapshot is retained as the scan/path-find default; it is
// never refreshed implicitly, callers observe layout changes only by
// calling Regions again.
func (d *Debugger) Regions() (*proc.RegionCatalog, error) {
	h, err := d.handle()
	if err != nil {
		return nil, err
	}
	catalog, err := proc.EnumerateRegions(h)
	if err != nil {
		return nil, d.observe(err)
	}
	d.processMutex.Lock()
	if d.target == h {
		d.catalog = catalog
	}
	d.processMutex.Unlock()
	return catalog, nil
}

// snapshot returns the current handle plus the catalog to scan against,
// enumerating one if none has been taken yet.
func (d *Debugger) snapshot() (*proc.Handle, *proc.RegionCatalog, error) {
	d.processMutex.Lock()
	h, catalog := d.target, d.catalog
	d.processMutex.Unlock()
	if h == nil {
		return nil, nil, proc.ErrProcessDetached
	}
	if catalog != nil {
		return h, catalog, nil
	}
	catalog, err := proc.EnumerateRegions(h)
	if err != nil {
		return nil, nil, d.observe(err)
	}
	d.processMutex.Lock()
	if d.target == h {
		d.catalog = catalog
	}
	d.processMutex.Unlock()
	return h, catalog, nil
}

// Modules lists the images loaded in the target.
func (d *Debugger) Modules() ([]proc.Module, error) {
	h, err := d.handle()
	if err != nil {
		return nil, err
	}
	mods, err := h.Accessor().Modules(h.Raw())
	if err != nil {
		return nil, d.observe(err)
	}
	return mods, nil
}

// ResolveModuleOffset resolves module+offset to an absolute address.
func (d *Debugger) ResolveModuleOffset(module string, offset uint64) (uint64, error) {
	mods, err := d.Modules()
	if err != nil {
		return 0, err
	}
	for _, m := range mods {
		if m.Name == module {
			return m.Base + offset, nil
		}
	}
	return 0, ErrModuleNotFound
}

// Processes enumerates host processes, filtered to names starting with
// prefix when it is non-empty. Matching is case-insensitive.
func (d *Debugger) Processes(prefix string) ([]proc.ProcessInfo, error) {
	infos, err := d.config.Accessor.Processes()
	if err != nil {
		return nil, err
	}
	if prefix != "" {
		t := trie.New()
		for _, info := range infos {
			key := strings.ToLower(info.Name)
			if node, ok := t.Find(key); ok {
				t.Add(key, append(node.Meta().([]proc.ProcessInfo), info))
				continue
			}
			t.Add(key, []proc.ProcessInfo{info})
		}
		var matched []proc.ProcessInfo
		for _, key := range t.PrefixSearch(strings.ToLower(prefix)) {
			node, _ := t.Find(key)
			matched = append(matched, node.Meta().([]proc.ProcessInfo)...)
		}
		infos = matched
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Pid < infos[j].Pid })
	return infos, nil
}

// ScanParams configures a first scan.
type ScanParams struct {
	ValueType   scan.ValueType
	Alignment   int
	ModulesOnly bool
}

// StartScan begins a new scan domain, discarding any previous candidate
// set. The scan runs against an immutable handle snapshot without holding
// the session lock.
func (d *Debugger) StartScan(ctx context.Context, params ScanParams, cmp scan.Comparison) (scan.Result, error) {
	d.scanMutex.Lock()
	defer d.scanMutex.Unlock()

	h, catalog, err := d.snapshot()
	if err != nil {
		return scan.Result{}, err
	}
	alignment := params.Alignment
	if alignment <= 0 {
		alignment = d.config.ScanAlignment
	}
	s := scan.New(h, catalog, params.ValueType, scan.Options{
		Alignment:     alignment,
		MaxCandidates: d.config.ScanMaxCandidates,
		ModulesOnly:   params.ModulesOnly,
	})
	res, err := s.First(ctx, cmp)
	if err != nil {
		return scan.Result{}, d.observe(err)
	}
	d.processMutex.Lock()
	if d.target == h {
		d.scanner = s
	} else {
		err = proc.ErrProcessDetached
	}
	d.processMutex.Unlock()
	return res, err
}

// activeScanner returns the scanner of the active scan. With no open
// process it fails with ErrProcessDetached; ErrNoActiveScan is reserved for
// an attached session that has not run a first scan.
func (d *Debugger) activeScanner() (*scan.Scanner, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.target == nil {
		return nil, proc.ErrProcessDetached
	}
	if d.scanner == nil {
		return nil, scan.ErrNoActiveScan
	}
	return d.scanner, nil
}

// FilterScan narrows the active candidate set with one more round. Rounds
// are serialized by scanMutex, which is held across the round's memory
// reads so the session lock does not have to be.
func (d *Debugger) FilterScan(ctx context.Context, cmp scan.Comparison) (scan.Result, error) {
	d.scanMutex.Lock()
	defer d.scanMutex.Unlock()
	s, err := d.activeScanner()
	if err != nil {
		return scan.Result{}, err
	}
	res, err := s.Filter(ctx, cmp)
	return res, d.observe(err)
}

// ScanValueType reports the value type of the active scan.
func (d *Debugger) ScanValueType() (scan.ValueType, error) {
	s, err := d.activeScanner()
	if err != nil {
		return 0, err
	}
	return s.ValueType(), nil
}

// ScanCandidates returns up to max candidates of the active scan. The
// returned slice is a copy: a concurrent filter round must not mutate it
// under the caller.
func (d *Debugger) ScanCandidates(max int) ([]scan.Candidate, error) {
	d.scanMutex.Lock()
	defer d.scanMutex.Unlock()
	s, err := d.activeScanner()
	if err != nil {
		return nil, err
	}
	cands := s.Candidates()
	if max > 0 && len(cands) > max {
		cands = cands[:max]
	}
	out := make([]scan.Candidate, len(cands))
	copy(out, cands)
	return out, nil
}

// PointerPaths searches for static pointer paths locating target. The
// search honors ctx: on deadline it reports whatever chains were already
// discovered with the Timeout flag set.
func (d *Debugger) PointerPaths(ctx context.Context, target uint64, opts pathfind.Options) (pathfind.Result, error) {
	h, catalog, err := d.snapshot()
	if err != nil {
		return pathfind.Result{}, err
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = d.config.PointerMaxDepth
	}
	if opts.MaxOffset == 0 {
		opts.MaxOffset = d.config.PointerMaxOffset
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = d.config.PointerMaxResults
	}
	res, err := pathfind.Find(ctx, h, catalog, target, h.PointerSize(), opts)
	return res, d.observe(err)
}

// CreateBreakpoint installs a hardware execution breakpoint.
func (d *Debugger) CreateBreakpoint(addr uint64) (*proc.Breakpoint, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.registry == nil {
		return nil, proc.ErrProcessDetached
	}
	bp, err := d.registry.SetBreakpoint(addr)
	if err != nil {
		return nil, err
	}
	d.log.Infof("set breakpoint at %#x (slot %d)", bp.Addr, bp.Slot)
	return bp, nil
}

// ClearBreakpoint removes the breakpoint at addr.
func (d *Debugger) ClearBreakpoint(addr uint64) error {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.registry == nil {
		return proc.ErrProcessDetached
	}
	return d.registry.RemoveBreakpoint(addr)
}

// CreateWatchpoint installs a hardware data watchpoint.
func (d *Debugger) CreateWatchpoint(addr uint64, size int, cond proc.WatchType) (*proc.Watchpoint, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.registry == nil {
		return nil, proc.ErrProcessDetached
	}
	wp, err := d.registry.SetWatchpoint(addr, size, cond)
	if err != nil {
		return nil, err
	}
	d.log.Infof("set watchpoint at %#x (size %d, %s, slot %d)", wp.Addr, wp.Size, wp.Cond, wp.Slot)
	return wp, nil
}

// ClearWatchpoint removes the watchpoint at addr.
func (d *Debugger) ClearWatchpoint(addr uint64) error {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.registry == nil {
		return proc.ErrProcessDetached
	}
	return d.registry.RemoveWatchpoint(addr)
}

// Breakpoints lists the installed breakpoints.
func (d *Debugger) Breakpoints() []*proc.Breakpoint {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.registry == nil {
		return nil
	}
	return d.registry.Breakpoints()
}

// ExceptionInfo describes a hardware debug condition that fired in the
// target, matched against the installed registry entries.
type ExceptionInfo struct {
	Slot       int
	Breakpoint *proc.Breakpoint
	Watchpoint *proc.Watchpoint
}

// HardwareException queries the target's debug status for a fired slot and
// clears the condition. It returns nil when nothing fired since the last
// query.
func (d *Debugger) HardwareException() (*ExceptionInfo, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.target == nil {
		return nil, proc.ErrProcessDetached
	}
	slot, fired, err := d.target.ActiveHardwareSlot()
	if err != nil {
		return nil, err
	}
	if !fired {
		return nil, nil
	}
	info := &ExceptionInfo{Slot: slot}
	for _, bp := range d.registry.Breakpoints() {
		if bp.Slot == slot {
			info.Breakpoint = bp
		}
	}
	for _, wp := range d.registry.Watchpoints() {
		if wp.Slot == slot {
			info.Watchpoint = wp
		}
	}
	return info, nil
}

// Watchpoints lists the installed watchpoints.
func (d *Debugger) Watchpoints() []*proc.Watchpoint {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	if d.registry == nil {
		return nil
	}
	return d.registry.Watchpoints()
}
