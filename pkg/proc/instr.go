package proc

import (
	"golang.org/x/arch/x86/x86asm"
)

const maxInstructionLength = 15

// PeekInstruction disassembles the instruction at addr in the target.
// It is best effort, used only to annotate breakpoint entries: any decode
// or read failure yields an empty string.
func PeekInstruction(mem MemoryReader, addr uint64, ptrSize int) string {
	buf := make([]byte, maxInstructionLength)
	if _, err := mem.ReadMemory(buf, addr); err != nil {
		return ""
	}
	mode := 64
	if ptrSize == 4 {
		mode = 32
	}
	inst, err := x86asm.Decode(buf, mode)
	if err != nil {
		return ""
	}
	return x86asm.GoSyntax(inst, addr, nil)
}
