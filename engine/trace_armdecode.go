// trace_armdecode.go - best-effort ARM64 load/store decode for the
// memory-access log (component E)
//
// Covers the immediate LDR/STR and LDP/STP forms the trace recorder
// needs to log accessed ranges without a full disassembler; anything
// else is reported as "not decoded" rather than guessed at.

package engine

import "github.com/intuitionamiga/nativedbg/engine/osbridge"

// ARMMemAccess describes one memory reference extracted from a decoded
// load/store instruction.
type ARMMemAccess struct {
	Write     bool
	Size      int // bytes per access
	Pair      bool
	Decoded   bool
}

// DecodeARMLoadStoreAccess extracts the size/direction of a 32-bit
// AArch64 load/store instruction word for access logging. The target
// address itself is computed by the caller (it needs the live base
// register value); this only classifies op and width.
func DecodeARMLoadStoreAccess(instr uint32) ARMMemAccess {
	// LDR/STR (immediate, unsigned offset): bits [29:27]=111, [25:24]=01
	if instr&0x3b000000 == 0x39000000 {
		size := 1 << (instr >> 30)
		isLoad := instr&(1<<22) != 0
		return ARMMemAccess{Write: !isLoad, Size: size, Decoded: true}
	}
	// LDP/STP (signed offset / pre/post index): bits [29:25] = 0b10100, opc bit 31 selects width
	if instr&0x3e000000 == 0x28000000 {
		isLoad := instr&(1<<22) != 0
		size := 4
		if instr&(1<<31) != 0 {
			size = 8
		}
		return ARMMemAccess{Write: !isLoad, Size: size, Pair: true, Decoded: true}
	}
	return ARMMemAccess{Decoded: false}
}

// armLoadStoreAddress computes the effective address a decoded
// load/store instruction touches, given the live register snapshot.
// Rn (the base register) occupies bits [9:5]; index 31 in
// osbridge.Arm64RegisterNames is "SP", matching the ARM64 convention
// that register number 31 denotes SP in these encodings.
func armLoadStoreAddress(instr uint32, regs osbridge.Registers) (uint64, bool) {
	base, ok := regs.Get(osbridge.Arm64RegisterNames[(instr>>5)&0x1f])
	if !ok {
		return 0, false
	}
	return uint64(int64(base) + armLoadStoreOffset(instr)), true
}

// armLoadStoreOffset extracts the immediate byte offset for the same
// instruction forms DecodeARMLoadStoreAccess classifies.
func armLoadStoreOffset(instr uint32) int64 {
	if instr&0x3b000000 == 0x39000000 {
		size := int64(1) << (instr >> 30)
		imm12 := int64((instr >> 10) & 0xfff)
		return imm12 * size
	}
	if instr&0x3e000000 == 0x28000000 {
		scale := int64(4)
		if instr&(1<<31) != 0 {
			scale = 8
		}
		return signExtend7((instr>>15)&0x7f) * scale
	}
	return 0
}

// signExtend7 sign-extends a 7-bit two's-complement field.
func signExtend7(v uint32) int64 {
	if v&0x40 != 0 {
		v |= 0xffffff80
	}
	return int64(int32(v))
}
