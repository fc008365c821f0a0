// regs_amd64.go - x86-64 register name table and DR7 encoding

package osbridge

// Amd64RegisterNames is the full general-purpose + flags + segment
// register set exposed to callers, the amd64 analogue of
// DebugX86.GetRegisters' field list.
var Amd64RegisterNames = []string{
	"RAX", "RBX", "RCX", "RDX", "RSI", "RDI", "RBP", "RSP",
	"R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15",
	"RIP", "RFLAGS",
	"CS", "SS", "DS", "ES", "FS", "GS",
}

// Amd64ArgRegisterNames are the first six System V AMD64 ABI integer
// argument registers, in argument order.
var Amd64ArgRegisterNames = []string{"RDI", "RSI", "RDX", "RCX", "R8", "R9"}

// DR7Length encodes the DR7 LENn field for a watchpoint byte width.
type DR7Length uint64

const (
	DR7Len1 DR7Length = 0x0
	DR7Len2 DR7Length = 0x1
	DR7Len8 DR7Length = 0x2
	DR7Len4 DR7Length = 0x3
)

// DR7RW encodes the DR7 R/Wn field.
type DR7RW uint64

const (
	DR7RWExecute DR7RW = 0x0
	DR7RWWrite   DR7RW = 0x1
	DR7RWIO      DR7RW = 0x2
	DR7RWAccess  DR7RW = 0x3 // read or write
)

func dr7LenField(size int) DR7Length {
	switch size {
	case 1:
		return DR7Len1
	case 2:
		return DR7Len2
	case 8:
		return DR7Len8
	default:
		return DR7Len4
	}
}

// EncodeDR7Slot sets the local-enable, R/W and LEN bits for hardware
// slot index (0-3) within dr7 and returns the updated value. With rw ==
// DR7RWExecute the slot is an execute breakpoint: size is ignored and
// LEN is forced to 00, per the Intel SDM.
func EncodeDR7Slot(dr7 uint64, index int, rw DR7RW, size int) uint64 {
	if rw == DR7RWExecute {
		size = 1
	}
	enableBit := uint64(1) << uint(index*2)      // L0..L3
	rwShift := uint(16 + index*4)
	lenShift := uint(18 + index*4)
	mask := uint64(0x3) << rwShift
	mask |= uint64(0x3) << lenShift
	dr7 &^= mask
	dr7 |= enableBit
	dr7 |= uint64(rw) << rwShift
	dr7 |= uint64(dr7LenField(size)) << lenShift
	return dr7
}

// ClearDR7Slot clears the local-enable bit for hardware slot index,
// leaving its R/W and LEN fields untouched (matching how real
// debuggers disable without losing the stale encoding, since it is
// inert once the enable bit is zero).
func ClearDR7Slot(dr7 uint64, index int) uint64 {
	return dr7 &^ (uint64(1) << uint(index*2))
}

// DR7SlotHit reports whether dr6's B0..B3 status bits mark index as the
// slot that trapped.
func DR7SlotHit(dr6 uint64, index int) bool {
	return dr6&(uint64(1)<<uint(index)) != 0
}
