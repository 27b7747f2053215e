//go:build linux && !amd64

package native

import (
	"errors"

	"github.com/memscout/memscout/pkg/proc"
)

const hwSlotCount = 4

var errHWBreakUnsupported = errors.New("hardware breakpoints not supported on this architecture")

func (a *linuxAccessor) SetHardwareBreakpoint(h proc.RawHandle, addr uint64) (int, error) {
	return -1, errHWBreakUnsupported
}

func (a *linuxAccessor) SetHardwareWatchpoint(h proc.RawHandle, addr uint64, size int, cond proc.WatchType) (int, error) {
	return -1, errHWBreakUnsupported
}

func (a *linuxAccessor) ClearHardwareSlot(h proc.RawHandle, slot int) error {
	return errHWBreakUnsupported
}

func (a *linuxAccessor) ActiveHardwareSlot(h proc.RawHandle) (int, bool, error) {
	return -1, false, errHWBreakUnsupported
}
