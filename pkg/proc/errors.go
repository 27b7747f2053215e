package proc

import (
	"errors"
	"fmt"
)

// ErrProcessDetached is returned by every operation invoked against a
// handle that has been closed, or whose target has exited.
var ErrProcessDetached = errors.New("process detached")

// ErrProcessNotFound is returned by Open when the target pid does not exist.
var ErrProcessNotFound = errors.New("no process found")

// ErrInvalidTransition is returned by Suspend/Resume when the process is
// already in the requested state.
var ErrInvalidTransition = errors.New("process already in requested state")

// ErrCapabilityLost indicates the native access capability itself failed
// (permission revoked, driver gone). The session must close unconditionally
// when it observes this error.
var ErrCapabilityLost = errors.New("native process access lost")

// ErrNoFreeSlot is returned when every hardware debug slot is occupied.
var ErrNoFreeSlot = errors.New("no free hardware slot")

// ErrInvalidAlignment is returned when a watchpoint size is not a supported
// power of two or its address is not aligned to its size.
var ErrInvalidAlignment = errors.New("watchpoint address not aligned to size")

// ErrNotFound is returned when removing a breakpoint or watchpoint that was
// never set.
var ErrNotFound = errors.New("no breakpoint or watchpoint at address")

// AddressInUseError is returned when trying to set a breakpoint or
// watchpoint at an address that already has an entry.
type AddressInUseError struct {
	Addr uint64
}

func (e AddressInUseError) Error() string {
	return fmt.Sprintf("entry exists at %#x", e.Addr)
}

// RegionEnumerationError wraps a failure to read the target's memory map.
type RegionEnumerationError struct {
	Err error
}

func (e RegionEnumerationError) Error() string {
	return fmt.Sprintf("could not enumerate regions: %v", e.Err)
}

func (e RegionEnumerationError) Unwrap() error { return e.Err }
