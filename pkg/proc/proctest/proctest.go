// Package proctest provides an in-memory implementation of the process
// access capability for tests.
package proctest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/memscout/memscout/pkg/proc"
)

// ErrUnmapped is returned for accesses outside any mapped region.
var ErrUnmapped = errors.New("address not mapped")

// Region is a mapped span of fake target memory.
type Region struct {
	proc.MemRegion
	Data []byte
}

// Slot records one programmed hardware debug slot.
type Slot struct {
	Addr uint64
	Size int
	Cond proc.WatchType
	Exec bool
}

// Target is a fake process. It implements proc.MemoryReadWriter directly so
// scanner and path finder tests can use it without an accessor.
type Target struct {
	Pid     int
	Name    string
	PtrSize int

	// HWErr, when set, makes every hardware programming call fail.
	HWErr error

	mu        sync.Mutex
	regions   []*Region
	slots     []*Slot
	fired     int
	suspended bool
}

// NewTarget creates a fake process with the given hardware slot count.
func NewTarget(pid int, name string, ptrSize, hwslots int) *Target {
	return &Target{Pid: pid, Name: name, PtrSize: ptrSize, slots: make([]*Slot, hwslots), fired: -1}
}

// Trigger marks slot as fired, as if the target tripped its hardware
// condition. The mark is consumed by the next ActiveHardwareSlot query.
func (t *Target) Trigger(slot int) {
	t.mu.Lock()
	t.fired = slot
	t.mu.Unlock()
}

// Map adds a readable, writable region at base and returns it.
func (t *Target) Map(base uint64, size int, kind proc.RegionKind, module string) *Region {
	r := &Region{
		MemRegion: proc.MemRegion{
			Base: base, Size: uint64(size),
			Read: true, Write: true,
			Kind: kind, Module: module,
		},
		Data: make([]byte, size),
	}
	t.mu.Lock()
	t.regions = append(t.regions, r)
	t.mu.Unlock()
	return r
}

// Regions returns the current fake memory map.
func (t *Target) Regions() []proc.MemRegion {
	t.mu.Lock()
	defer t.mu.Unlock()
	rs := make([]proc.MemRegion, len(t.regions))
	for i, r := range t.regions {
		rs[i] = r.MemRegion
	}
	return rs
}

// Catalog returns a region snapshot for the current fake memory map.
func (t *Target) Catalog() *proc.RegionCatalog {
	return proc.NewRegionCatalog(t.Regions())
}

func (t *Target) find(addr uint64) *Region {
	for _, r := range t.regions {
		if r.Contains(addr) {
			return r
		}
	}
	return nil
}

// ReadMemory implements proc.MemoryReader.
func (t *Target) ReadMemory(buf []byte, addr uint64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.find(addr)
	if r == nil || !r.Read {
		return 0, ErrUnmapped
	}
	n := copy(buf, r.Data[addr-r.Base:])
	if n < len(buf) {
		return n, fmt.Errorf("short read at %#x: %w", addr+uint64(n), ErrUnmapped)
	}
	return n, nil
}

// WriteMemory implements proc.MemoryReadWriter.
func (t *Target) WriteMemory(addr uint64, data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.find(addr)
	if r == nil || !r.Write {
		return 0, ErrUnmapped
	}
	n := copy(r.Data[addr-r.Base:], data)
	if n < len(data) {
		return n, fmt.Errorf("short write at %#x: %w", addr+uint64(n), ErrUnmapped)
	}
	return n, nil
}

// PutUint64 stores a little-endian uint64 at addr.
func (t *Target) PutUint64(addr, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if _, err := t.WriteMemory(addr, buf[:]); err != nil {
		panic(err)
	}
}

// PutUint32 stores a little-endian uint32 at addr.
func (t *Target) PutUint32(addr uint64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if _, err := t.WriteMemory(addr, buf[:]); err != nil {
		panic(err)
	}
}

// ProgrammedSlots returns the currently programmed hardware slots keyed by
// index.
func (t *Target) ProgrammedSlots() map[int]Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]Slot)
	for i, s := range t.slots {
		if s != nil {
			out[i] = *s
		}
	}
	return out
}

func (t *Target) program(s *Slot) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.HWErr != nil {
		return -1, t.HWErr
	}
	for i := range t.slots {
		if t.slots[i] == nil {
			t.slots[i] = s
			return i, nil
		}
	}
	return -1, proc.ErrNoFreeSlot
}

// Accessor is a fake proc.Accessor serving a set of fake targets.
type Accessor struct {
	mu      sync.Mutex
	targets map[int]*Target
	hwslots int
}

// NewAccessor creates a fake accessor with 4 hardware slots.
func NewAccessor(targets ...*Target) *Accessor {
	a := &Accessor{targets: make(map[int]*Target), hwslots: 4}
	for _, t := range targets {
		a.targets[t.Pid] = t
	}
	return a
}

func (a *Accessor) Open(pid int) (proc.RawHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.targets[pid]
	if !ok {
		return nil, proc.ErrProcessNotFound
	}
	return t, nil
}

func (a *Accessor) Close(h proc.RawHandle) error { return nil }

func (a *Accessor) Suspend(h proc.RawHandle) error {
	t := h.(*Target)
	t.mu.Lock()
	t.suspended = true
	t.mu.Unlock()
	return nil
}

func (a *Accessor) Resume(h proc.RawHandle) error {
	t := h.(*Target)
	t.mu.Lock()
	t.suspended = false
	t.mu.Unlock()
	return nil
}

func (a *Accessor) ReadMemory(h proc.RawHandle, addr uint64, buf []byte) (int, error) {
	return h.(*Target).ReadMemory(buf, addr)
}

func (a *Accessor) WriteMemory(h proc.RawHandle, addr uint64, data []byte) (int, error) {
	return h.(*Target).WriteMemory(addr, data)
}

func (a *Accessor) Regions(h proc.RawHandle) ([]proc.MemRegion, error) {
	return h.(*Target).Regions(), nil
}

func (a *Accessor) Modules(h proc.RawHandle) ([]proc.Module, error) {
	t := h.(*Target)
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := make(map[string]int)
	var mods []proc.Module
	for _, r := range t.regions {
		if r.Kind != proc.RegionModule {
			continue
		}
		i, ok := idx[r.Module]
		if !ok {
			idx[r.Module] = len(mods)
			mods = append(mods, proc.Module{Name: r.Module, Base: r.Base, Size: r.Size})
			continue
		}
		if end := r.End(); end > mods[i].Base+mods[i].Size {
			mods[i].Size = end - mods[i].Base
		}
	}
	return mods, nil
}

func (a *Accessor) Processes() ([]proc.ProcessInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	infos := make([]proc.ProcessInfo, 0, len(a.targets))
	for _, t := range a.targets {
		infos = append(infos, proc.ProcessInfo{Pid: t.Pid, Name: t.Name})
	}
	return infos, nil
}

func (a *Accessor) SetHardwareBreakpoint(h proc.RawHandle, addr uint64) (int, error) {
	return h.(*Target).program(&Slot{Addr: addr, Size: 1, Exec: true})
}

func (a *Accessor) SetHardwareWatchpoint(h proc.RawHandle, addr uint64, size int, cond proc.WatchType) (int, error) {
	return h.(*Target).program(&Slot{Addr: addr, Size: size, Cond: cond})
}

func (a *Accessor) ClearHardwareSlot(h proc.RawHandle, slot int) error {
	t := h.(*Target)
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot < 0 || slot >= len(t.slots) {
		return nil
	}
	t.slots[slot] = nil
	return nil
}

func (a *Accessor) ActiveHardwareSlot(h proc.RawHandle) (int, bool, error) {
	t := h.(*Target)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired < 0 {
		return -1, false, nil
	}
	slot := t.fired
	t.fired = -1
	return slot, true, nil
}

func (a *Accessor) HardwareSlots() int { return a.hwslots }

func (a *Accessor) PointerSize(h proc.RawHandle) int {
	return h.(*Target).PtrSize
}
