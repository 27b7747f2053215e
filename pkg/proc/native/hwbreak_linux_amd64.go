//go:build linux && amd64

package native

import (
	"runtime"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/memscout/memscout/pkg/proc"
	"github.com/memscout/memscout/pkg/proc/amd64util"
)

const hwSlotCount = amd64util.HWSlots

// debugRegUserOffset is the offset of the debug registers in the user
// struct, see source/arch/x86/kernel/ptrace.c.
const debugRegUserOffset = 848

func (a *linuxAccessor) SetHardwareBreakpoint(h proc.RawHandle, addr uint64) (int, error) {
	slot := -1
	err := a.withDebugRegisters(h.(*linuxHandle).pid, func(drs *amd64util.DebugRegisters) error {
		idx, ok := drs.FreeSlot()
		if !ok {
			return proc.ErrNoFreeSlot
		}
		if err := drs.SetSlot(idx, addr, false, false, true, 1); err != nil {
			return err
		}
		slot = int(idx)
		return nil
	})
	return slot, err
}

func (a *linuxAccessor) SetHardwareWatchpoint(h proc.RawHandle, addr uint64, size int, cond proc.WatchType) (int, error) {
	slot := -1
	err := a.withDebugRegisters(h.(*linuxHandle).pid, func(drs *amd64util.DebugRegisters) error {
		idx, ok := drs.FreeSlot()
		if !ok {
			return proc.ErrNoFreeSlot
		}
		if err := drs.SetSlot(idx, addr, cond.Read(), cond.Write(), cond.Exec(), size); err != nil {
			return err
		}
		slot = int(idx)
		return nil
	})
	return slot, err
}

func (a *linuxAccessor) ActiveHardwareSlot(h proc.RawHandle) (int, bool, error) {
	slot, fired := -1, false
	err := a.withDebugRegisters(h.(*linuxHandle).pid, func(drs *amd64util.DebugRegisters) error {
		if ok, idx := drs.ActiveSlot(); ok {
			slot, fired = int(idx), true
		}
		return nil
	})
	return slot, fired, err
}

func (a *linuxAccessor) ClearHardwareSlot(h proc.RawHandle, slot int) error {
	if slot < 0 || slot >= hwSlotCount {
		return nil
	}
	return a.withDebugRegisters(h.(*linuxHandle).pid, func(drs *amd64util.DebugRegisters) error {
		drs.ClearSlot(uint8(slot))
		return nil
	})
}

// withDebugRegisters stops the target's main thread, reads DR0-DR7, runs f
// against the image and writes the registers back if f changed them.
// Ptrace requests must all originate from the same OS thread.
func (a *linuxAccessor) withDebugRegisters(tid int, f func(*amd64util.DebugRegisters) error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unix.PtraceAttach(tid); err != nil {
		return translateErr(err)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(tid, &ws, 0, nil); err != nil {
		unix.PtraceDetach(tid)
		return translateErr(err)
	}
	defer unix.PtraceDetach(tid)

	debugregs := make([]uint64, 8)
	for i := range debugregs {
		if i == 4 || i == 5 {
			continue
		}
		if err := peekUser(tid, drOffset(i), &debugregs[i]); err != nil {
			return translateErr(err)
		}
	}

	drs := amd64util.NewDebugRegisters(&debugregs[0], &debugregs[1], &debugregs[2], &debugregs[3], &debugregs[6], &debugregs[7])
	if err := f(drs); err != nil {
		return err
	}

	if drs.Dirty {
		for i := range debugregs {
			if i == 4 || i == 5 {
				// Linux returns EIO for DR4 and DR5.
				continue
			}
			if err := pokeUser(tid, drOffset(i), debugregs[i]); err != nil {
				return translateErr(err)
			}
		}
	}
	return nil
}

func drOffset(i int) uintptr {
	return debugRegUserOffset + uintptr(i)*unsafe.Sizeof(uint64(0))
}

func peekUser(tid int, off uintptr, out *uint64) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_PEEKUSR, uintptr(tid), off, uintptr(unsafe.Pointer(out)), 0, 0)
	if errno != syscall.Errno(0) {
		return errno
	}
	return nil
}

func pokeUser(tid int, off uintptr, val uint64) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_POKEUSR, uintptr(tid), off, uintptr(val), 0, 0)
	if errno != syscall.Errno(0) {
		return errno
	}
	return nil
}
