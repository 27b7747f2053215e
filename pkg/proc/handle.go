package proc

import (
	"sync"
	"sync/atomic"
)

// Status describes the lifecycle state of a process handle.
type Status int8

const (
	// StatusAttached means the target is attached and running.
	StatusAttached Status = iota
	// StatusSuspended means the target is attached and stopped.
	StatusSuspended
	// StatusDetached means the handle has been closed.
	StatusDetached
)

func (s Status) String() string {
	switch s {
	case StatusAttached:
		return "attached"
	case StatusSuspended:
		return "suspended"
	case StatusDetached:
		return "detached"
	}
	return "unknown"
}

// Handle is an attached process. It is exclusively owned by the session
// that opened it; every component deriving state from a Handle must observe
// ErrProcessDetached once the handle is closed, never operate on a stale
// target.
//
// ReadMemory and WriteMemory are safe for concurrent use and are issued
// without any session lock held.
type Handle struct {
	pid     int
	raw     RawHandle
	acc     Accessor
	ptrSize int

	detached atomic.Bool

	mu        sync.Mutex
	suspended bool
}

// OpenHandle attaches to pid through acc.
func OpenHandle(acc Accessor, pid int) (*Handle, error) {
	raw, err := acc.Open(pid)
	if err != nil {
		return nil, err
	}
	return &Handle{
		pid:     pid,
		raw:     raw,
		acc:     acc,
		ptrSize: acc.PointerSize(raw),
	}, nil
}

// Pid returns the process identifier of the target.
func (h *Handle) Pid() int { return h.pid }

// PointerSize returns the size in bytes of a pointer in the target.
func (h *Handle) PointerSize() int { return h.ptrSize }

// Status returns the current lifecycle state of the handle.
func (h *Handle) Status() Status {
	if h.detached.Load() {
		return StatusDetached
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.suspended {
		return StatusSuspended
	}
	return StatusAttached
}

// Valid returns ErrProcessDetached if the handle has been closed.
func (h *Handle) Valid() error {
	if h.detached.Load() {
		return ErrProcessDetached
	}
	return nil
}

// Suspend stops the target. Returns ErrInvalidTransition if it is already
// stopped.
func (h *Handle) Suspend() error {
	if err := h.Valid(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.suspended {
		return ErrInvalidTransition
	}
	if err := h.acc.Suspend(h.raw); err != nil {
		return err
	}
	h.suspended = true
	return nil
}

// Resume continues the target. Returns ErrInvalidTransition if it is not
// stopped.
func (h *Handle) Resume() error {
	if err := h.Valid(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.suspended {
		return ErrInvalidTransition
	}
	if err := h.acc.Resume(h.raw); err != nil {
		return err
	}
	h.suspended = false
	return nil
}

// Detach closes the handle. It is idempotent; only the first call reaches
// the accessor. In-flight readers observe ErrProcessDetached.
func (h *Handle) Detach() error {
	if h.detached.Swap(true) {
		return nil
	}
	return h.acc.Close(h.raw)
}

// ReadMemory reads len(buf) bytes from the target at addr.
func (h *Handle) ReadMemory(buf []byte, addr uint64) (int, error) {
	if h.detached.Load() {
		return 0, ErrProcessDetached
	}
	return h.acc.ReadMemory(h.raw, addr, buf)
}

// WriteMemory writes data into the target at addr. Write failures are
// always surfaced, never absorbed.
func (h *Handle) WriteMemory(addr uint64, data []byte) (int, error) {
	if h.detached.Load() {
		return 0, ErrProcessDetached
	}
	return h.acc.WriteMemory(h.raw, addr, data)
}

// ActiveHardwareSlot reports the hardware debug slot whose condition fired
// in the target since the last query, clearing the condition.
func (h *Handle) ActiveHardwareSlot() (int, bool, error) {
	if err := h.Valid(); err != nil {
		return -1, false, err
	}
	return h.acc.ActiveHardwareSlot(h.raw)
}

// Accessor returns the capability this handle was opened through.
func (h *Handle) Accessor() Accessor { return h.acc }

// Raw returns the accessor-owned reference for this handle.
func (h *Handle) Raw() RawHandle { return h.raw }
