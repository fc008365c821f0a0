// x86.go - x86-64 single-instruction disassembler
//
// Trimmed from the teacher's debug_disasm_x86.go: same register name
// tables and ModRM/SIB decoding approach, cut down from "decode a
// listing of `count` instructions for an interactive monitor" to "name
// and measure the one instruction at addr", which is all
// engine.TraceRecorder needs. Branch-target annotation and multi-line
// formatting (teacher-only UI concerns) are dropped.

package disasm

import "fmt"

var reg64 = [16]string{
	"RAX", "RCX", "RDX", "RBX", "RSP", "RBP", "RSI", "RDI",
	"R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15",
}

// X86 decodes one x86-64 instruction from up to 4 bytes at addr. It
// covers the common single- and two-byte opcodes a trace recorder
// encounters in practice (moves, arithmetic, call/jmp/ret, int3, nop);
// anything it doesn't recognize is reported with length 1 so the
// caller can still advance and keep tracing.
func X86(addr uint64, b [4]byte) (string, int) {
	op := b[0]

	switch op {
	case 0x90:
		return "nop", 1
	case 0xc3:
		return "ret", 1
	case 0xcc:
		return "int3", 1
	case 0xc9:
		return "leave", 1
	case 0xf4:
		return "hlt", 1
	case 0xe8:
		return fmt.Sprintf("call 0x%x", addr+5+uint64(int32(le32(b[1:])))), 5
	case 0xe9:
		return fmt.Sprintf("jmp 0x%x", addr+5+uint64(int32(le32(b[1:])))), 5
	case 0xeb:
		return fmt.Sprintf("jmp 0x%x", addr+2+uint64(int8(b[1]))), 2
	}

	if op >= 0x50 && op <= 0x57 {
		return fmt.Sprintf("push %s", reg64[op-0x50]), 1
	}
	if op >= 0x58 && op <= 0x5f {
		return fmt.Sprintf("pop %s", reg64[op-0x58]), 1
	}
	if op >= 0x70 && op <= 0x7f {
		return fmt.Sprintf("j%s 0x%x", condName[op-0x70], addr+2+uint64(int8(b[1]))), 2
	}
	if op == 0x0f && len(b) > 1 && b[1] >= 0x80 && b[1] <= 0x8f {
		// near conditional jump; full rel32 needs 6 bytes total, beyond
		// the 4-byte window this function is given, so length is
		// reported without resolving the target.
		return fmt.Sprintf("j%s near", condName[b[1]-0x80]), 6
	}
	if op == 0x89 {
		return "mov r/m64, r64", modrmLen(b[1:])
	}
	if op == 0x8b {
		return "mov r64, r/m64", modrmLen(b[1:])
	}
	if op == 0x01 {
		return "add r/m64, r64", modrmLen(b[1:])
	}
	if op == 0x29 {
		return "sub r/m64, r64", modrmLen(b[1:])
	}
	if op == 0x39 {
		return "cmp r/m64, r64", modrmLen(b[1:])
	}

	return fmt.Sprintf("db 0x%02x", op), 1
}

var condName = [16]string{
	"o", "no", "b", "nb", "z", "nz", "be", "a",
	"s", "ns", "p", "np", "l", "ge", "le", "g",
}

// le32 reads a little-endian 32-bit value. Given only 3 bytes (a rel32
// cut off by the 4-byte window) it sign-extends the low 24 bits.
func le32(b []byte) uint32 {
	if len(b) == 3 {
		v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
		if v&0x800000 != 0 {
			v |= 0xff000000
		}
		return v
	}
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// modrmLen estimates instruction length from a ModRM byte alone: it
// adds the disp8/disp32 that mod selects, but does not count a SIB byte
// or the disp32 of the mod=00, rm=101 (RIP-relative) form.
func modrmLen(b []byte) int {
	if len(b) == 0 {
		return 2
	}
	mod := (b[0] >> 6) & 3
	switch mod {
	case 3:
		return 2 // opcode + modrm, register-direct
	case 1:
		return 3 // + 1-byte displacement
	case 2:
		return 6 // + 4-byte displacement
	default:
		return 2
	}
}
