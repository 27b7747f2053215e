package proc

// RawHandle is an opaque, accessor-owned reference to an open process.
type RawHandle interface{}

// ProcessInfo describes one running process on the host.
type ProcessInfo struct {
	Pid  int
	Name string
}

// Module describes a loaded executable or library image in the target.
type Module struct {
	Name string
	Base uint64
	Size uint64
}

// WatchType specifies the access kind a hardware slot triggers on.
type WatchType uint8

const (
	// WatchRead triggers on data reads.
	WatchRead WatchType = 1 << iota
	// WatchWrite triggers on data writes.
	WatchWrite
	// WatchExec triggers on instruction execution.
	WatchExec
)

// Read returns true if the hardware slot should trigger on memory reads.
func (wtype WatchType) Read() bool {
	return wtype&WatchRead != 0
}

// Write returns true if the hardware slot should trigger on memory writes.
func (wtype WatchType) Write() bool {
	return wtype&WatchWrite != 0
}

// Exec returns true if the hardware slot should trigger on execution.
func (wtype WatchType) Exec() bool {
	return wtype&WatchExec != 0
}

func (wtype WatchType) String() string {
	switch {
	case wtype.Exec():
		return "execute"
	case wtype.Read() && wtype.Write():
		return "read-write"
	case wtype.Read():
		return "read"
	case wtype.Write():
		return "write"
	}
	return "none"
}

// Accessor is the platform capability used to observe and manipulate another
// process. One implementation is selected per platform at startup; the
// engine never depends on anything below this interface.
//
// Accessor implementations must be safe for concurrent use: memory reads
// and writes are issued without any engine-level lock held.
type Accessor interface {
	// Open attaches to the process identified by pid.
	Open(pid int) (RawHandle, error)
	// Close releases h. The handle must not be used afterwards.
	Close(h RawHandle) error

	// Suspend stops execution of the target.
	Suspend(h RawHandle) error
	// Resume continues execution of the target.
	Resume(h RawHandle) error

	// ReadMemory fills buf from the target's address space starting at addr.
	ReadMemory(h RawHandle, addr uint64, buf []byte) (int, error)
	// WriteMemory copies data into the target's address space at addr.
	WriteMemory(h RawHandle, addr uint64, data []byte) (int, error)

	// Regions returns the target's current memory map.
	Regions(h RawHandle) ([]MemRegion, error)
	// Modules returns the images currently loaded in the target.
	Modules(h RawHandle) ([]Module, error)
	// Processes enumerates processes on the host.
	Processes() ([]ProcessInfo, error)

	// SetHardwareBreakpoint programs a free debug slot to break on
	// execution at addr and returns the slot index.
	SetHardwareBreakpoint(h RawHandle, addr uint64) (int, error)
	// SetHardwareWatchpoint programs a free debug slot to trigger on data
	// access at addr and returns the slot index.
	SetHardwareWatchpoint(h RawHandle, addr uint64, size int, cond WatchType) (int, error)
	// ClearHardwareSlot releases a previously programmed debug slot.
	ClearHardwareSlot(h RawHandle, slot int) error
	// ActiveHardwareSlot reports the debug slot whose condition fired in
	// the target since the last query and clears the condition. fired is
	// false when no slot triggered.
	ActiveHardwareSlot(h RawHandle) (slot int, fired bool, err error)
	// HardwareSlots returns the number of hardware debug slots on this
	// platform.
	HardwareSlots() int

	// PointerSize returns the size in bytes of a pointer in the target (4
	// or 8).
	PointerSize(h RawHandle) int
}
