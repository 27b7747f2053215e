package proc

// BreakState is the lifecycle state of a registry entry. An entry is never
// observably Active without a confirmed hardware write.
type BreakState int8

const (
	// StateRequested means the entry exists but hardware has not been
	// programmed yet.
	StateRequested BreakState = iota
	// StateActive means the hardware slot is confirmed programmed.
	StateActive
	// StateRemoved means the entry has been torn down, either explicitly or
	// because programming failed.
	StateRemoved
)

func (s BreakState) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateActive:
		return "active"
	case StateRemoved:
		return "removed"
	}
	return "unknown"
}

// Breakpoint is a hardware execution breakpoint at an instruction address.
type Breakpoint struct {
	Addr  uint64
	Slot  int
	State BreakState
	// Instr is a best-effort disassembly of the instruction at Addr.
	Instr string
}

// Watchpoint is a hardware data watchpoint.
type Watchpoint struct {
	Addr  uint64
	Size  int
	Cond  WatchType
	Slot  int
	State BreakState
}

// MaxWatchSize is the largest data width a hardware watchpoint can cover.
const MaxWatchSize = 8

// Registry tracks the hardware breakpoints and watchpoints installed for
// one process handle. Entries are unique by address and never outlive the
// handle: session teardown calls ClearAll.
//
// Registry is not internally synchronized; the owning session serializes
// all mutations under its lock. The hardware slot pool is small and fixed,
// keeping allocation under that lock prevents double-programming a slot.
type Registry struct {
	h     *Handle
	slots int

	breakpoints map[uint64]*Breakpoint
	watchpoints map[uint64]*Watchpoint
}

// NewRegistry creates an empty registry for h.
func NewRegistry(h *Handle) *Registry {
	return &Registry{
		h:           h,
		slots:       h.acc.HardwareSlots(),
		breakpoints: make(map[uint64]*Breakpoint),
		watchpoints: make(map[uint64]*Watchpoint),
	}
}

func (r *Registry) used() int {
	return len(r.breakpoints) + len(r.watchpoints)
}

func (r *Registry) inUse(addr uint64) bool {
	_, bp := r.breakpoints[addr]
	_, wp := r.watchpoints[addr]
	return bp || wp
}

// SetBreakpoint installs a hardware execution breakpoint at addr.
func (r *Registry) SetBreakpoint(addr uint64) (*Breakpoint, error) {
	if err := r.h.Valid(); err != nil {
		return nil, err
	}
	if r.inUse(addr) {
		return nil, AddressInUseError{Addr: addr}
	}
	if r.used() >= r.slots {
		return nil, ErrNoFreeSlot
	}

	bp := &Breakpoint{Addr: addr, Slot: -1, State: StateRequested}
	slot, err := r.h.acc.SetHardwareBreakpoint(r.h.raw, addr)
	if err != nil {
		bp.State = StateRemoved
		return nil, err
	}
	bp.Slot = slot
	bp.State = StateActive
	bp.Instr = PeekInstruction(r.h, addr, r.h.ptrSize)
	r.breakpoints[addr] = bp
	return bp, nil
}

// SetWatchpoint installs a hardware data watchpoint covering size bytes at
// addr. size must be a power of two no larger than MaxWatchSize and addr
// must be aligned to size; violations fail before any hardware call.
func (r *Registry) SetWatchpoint(addr uint64, size int, cond WatchType) (*Watchpoint, error) {
	if err := r.h.Valid(); err != nil {
		return nil, err
	}
	if size <= 0 || size > MaxWatchSize || size&(size-1) != 0 || addr%uint64(size) != 0 {
		return nil, ErrInvalidAlignment
	}
	if r.inUse(addr) {
		return nil, AddressInUseError{Addr: addr}
	}
	if r.used() >= r.slots {
		return nil, ErrNoFreeSlot
	}

	wp := &Watchpoint{Addr: addr, Size: size, Cond: cond, Slot: -1, State: StateRequested}
	slot, err := r.h.acc.SetHardwareWatchpoint(r.h.raw, addr, size, cond)
	if err != nil {
		wp.State = StateRemoved
		return nil, err
	}
	wp.Slot = slot
	wp.State = StateActive
	r.watchpoints[addr] = wp
	return wp, nil
}

// RemoveBreakpoint clears the breakpoint at addr. Removing an absent entry
// returns ErrNotFound without side effect.
func (r *Registry) RemoveBreakpoint(addr uint64) error {
	bp, ok := r.breakpoints[addr]
	if !ok {
		return ErrNotFound
	}
	delete(r.breakpoints, addr)
	err := r.h.acc.ClearHardwareSlot(r.h.raw, bp.Slot)
	bp.State = StateRemoved
	return err
}

// RemoveWatchpoint clears the watchpoint at addr. Removing an absent entry
// returns ErrNotFound without side effect.
func (r *Registry) RemoveWatchpoint(addr uint64) error {
	wp, ok := r.watchpoints[addr]
	if !ok {
		return ErrNotFound
	}
	delete(r.watchpoints, addr)
	err := r.h.acc.ClearHardwareSlot(r.h.raw, wp.Slot)
	wp.State = StateRemoved
	return err
}

// ClearAll removes every entry unconditionally. Hardware errors are ignored
// so teardown of an exited target still empties the registry.
func (r *Registry) ClearAll() {
	for addr, bp := range r.breakpoints {
		r.h.acc.ClearHardwareSlot(r.h.raw, bp.Slot)
		bp.State = StateRemoved
		delete(r.breakpoints, addr)
	}
	for addr, wp := range r.watchpoints {
		r.h.acc.ClearHardwareSlot(r.h.raw, wp.Slot)
		wp.State = StateRemoved
		delete(r.watchpoints, addr)
	}
}

// Breakpoints returns the installed breakpoints.
func (r *Registry) Breakpoints() []*Breakpoint {
	bps := make([]*Breakpoint, 0, len(r.breakpoints))
	for _, bp := range r.breakpoints {
		bps = append(bps, bp)
	}
	return bps
}

// Watchpoints returns the installed watchpoints.
func (r *Registry) Watchpoints() []*Watchpoint {
	wps := make([]*Watchpoint, 0, len(r.watchpoints))
	for _, wp := range r.watchpoints {
		wps = append(wps, wp)
	}
	return wps
}
