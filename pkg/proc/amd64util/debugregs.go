// Package amd64util models the x86 debug registers described in the Intel
// 64 and IA-32 Architectures Software Developer's Manual, Vol. 3B, section
// 17.2.
package amd64util

import (
	"errors"
	"fmt"
)

// HWSlots is the number of hardware debug address registers (DR0-DR3).
const HWSlots = 4

// DebugRegisters is an in-memory image of DR0-DR7 for one thread. Mutations
// set Dirty; the caller is responsible for writing the registers back when
// Dirty is set.
type DebugRegisters struct {
	pAddrs     [HWSlots]*uint64
	pDR6, pDR7 *uint64
	Dirty      bool
}

func NewDebugRegisters(pDR0, pDR1, pDR2, pDR3, pDR6, pDR7 *uint64) *DebugRegisters {
	return &DebugRegisters{
		pAddrs: [HWSlots]*uint64{pDR0, pDR1, pDR2, pDR3},
		pDR6:   pDR6,
		pDR7:   pDR7,
		Dirty:  false,
	}
}

func lenrwBitsOffset(idx uint8) uint8 {
	return 16 + idx*4
}

func enableBitOffset(idx uint8) uint8 {
	return idx * 2
}

// Enabled returns true if slot idx is currently programmed.
func (drs *DebugRegisters) Enabled(idx uint8) bool {
	return *(drs.pDR7)&(1<<enableBitOffset(idx)) != 0
}

// FreeSlot returns the index of the first unprogrammed slot.
func (drs *DebugRegisters) FreeSlot() (uint8, bool) {
	for idx := uint8(0); idx < HWSlots; idx++ {
		if !drs.Enabled(idx) {
			return idx, true
		}
	}
	return 0, false
}

// SetSlot programs slot idx to trigger at addr. With exec set the slot
// breaks on instruction execution (sz must be 1); otherwise it watches sz
// bytes of data for the requested access kinds.
func (drs *DebugRegisters) SetSlot(idx uint8, addr uint64, read, write, exec bool, sz int) error {
	if int(idx) >= len(drs.pAddrs) {
		return errors.New("hardware slots exhausted")
	}
	if drs.Enabled(idx) {
		return fmt.Errorf("hardware slot %d already in use (address %#x)", idx, *(drs.pAddrs[idx]))
	}

	var lenrw uint64
	switch {
	case exec:
		// lenrw 0b0000: instruction execution, length must encode as 1.
		if sz != 1 {
			return fmt.Errorf("execution breakpoint of size %d not supported", sz)
		}
	case read && !write:
		return errors.New("break on read only not supported")
	default:
		if write {
			lenrw |= 0x1
		}
		if read {
			lenrw |= 0x2
		}
		switch sz {
		case 1:
			// already ok
		case 2:
			lenrw |= 0x1 << 2
		case 4:
			lenrw |= 0x3 << 2
		case 8:
			lenrw |= 0x2 << 2 // sic
		default:
			return fmt.Errorf("data watchpoint of size %d not supported", sz)
		}
	}

	*(drs.pAddrs[idx]) = addr
	*(drs.pDR7) &^= (0xf << lenrwBitsOffset(idx)) // clear old settings
	*(drs.pDR7) |= lenrw << lenrwBitsOffset(idx)
	*(drs.pDR7) |= 1 << enableBitOffset(idx) // enable
	drs.Dirty = true
	return nil
}

// ClearSlot disables slot idx. If the slot was already disabled it does
// nothing.
func (drs *DebugRegisters) ClearSlot(idx uint8) {
	if !drs.Enabled(idx) {
		return
	}
	*(drs.pAddrs[idx]) = 0
	*(drs.pDR7) &^= (0xf << lenrwBitsOffset(idx))
	*(drs.pDR7) &^= (1 << enableBitOffset(idx))
	drs.Dirty = true
}

// ActiveSlot returns the slot whose condition fired and resets the
// condition flags in DR6.
func (drs *DebugRegisters) ActiveSlot() (ok bool, idx uint8) {
	for idx := uint8(0); idx < HWSlots; idx++ {
		if !drs.Enabled(idx) {
			continue
		}
		if *(drs.pDR6)&(1<<idx) != 0 {
			*drs.pDR6 &^= 0xf // it is our responsibility to clear the condition bits
			drs.Dirty = true
			return true, idx
		}
	}
	return false, 0
}
