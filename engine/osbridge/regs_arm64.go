// regs_arm64.go - ARM64 register name table and hardware BP/WP control
// word encoding

package osbridge

// Arm64RegisterNames is the general-purpose + PC + pstate register set.
// X30 is also exposed as the alias "LR" and X29 as "FP", matching the
// AArch64 procedure call standard.
var Arm64RegisterNames = []string{
	"X0", "X1", "X2", "X3", "X4", "X5", "X6", "X7",
	"X8", "X9", "X10", "X11", "X12", "X13", "X14", "X15",
	"X16", "X17", "X18", "X19", "X20", "X21", "X22", "X23",
	"X24", "X25", "X26", "X27", "X28", "X29", "X30",
	"SP", "PC", "PSTATE",
	"FP", "LR",
}

// Arm64ArgRegisterNames are the first six AAPCS64 integer argument
// registers, in argument order.
var Arm64ArgRegisterNames = []string{"X0", "X1", "X2", "X3", "X4", "X5"}

// CanonicalArm64Name resolves the LR/FP aliases to their canonical X30/
// X29 form; all other names pass through unchanged.
func CanonicalArm64Name(name string) string {
	switch name {
	case "LR":
		return "X30"
	case "FP":
		return "X29"
	default:
		return name
	}
}

// ARM64 DBGBCR_EL1 / DBGWCR_EL1 control word bit layout (ARMv8-A ARM,
// D13.3). BAS selects which of the 4 bytes at the (word-aligned)
// address are watched; LSC selects load/store/both for watchpoints.

const (
	arm64CtrlEnable    = 1 << 0
	arm64CtrlPrivShift = 1 // PMC field, bits [2:1]
	arm64CtrlPrivEL0   = 0x2 << arm64CtrlPrivShift
	arm64CtrlBASShift  = 5 // bits [12:5]
	arm64CtrlLSCShift  = 3 // bits [4:3], watchpoints only
)

// Arm64LSC selects watchpoint access type for DBGWCR.
type Arm64LSC uint32

const (
	Arm64LSCLoad   Arm64LSC = 0x1
	Arm64LSCStore  Arm64LSC = 0x2
	Arm64LSCAccess Arm64LSC = 0x3
)

// EncodeBCR builds a DBGBCRn_EL1 value for an EL0 execute breakpoint.
func EncodeBCR() uint32 {
	return arm64CtrlEnable | arm64CtrlPrivEL0 | (0xf << arm64CtrlBASShift)
}

// EncodeWCR builds a DBGWCRn_EL1 value for an EL0 watchpoint of size
// bytes (1, 2, 4 or 8) starting at a word-aligned offset byteOffset
// (0-7) from the watched word, matching lsc's access type.
func EncodeWCR(lsc Arm64LSC, byteOffset, size int) uint32 {
	bas := uint32(0)
	for i := byteOffset; i < byteOffset+size && i < 8; i++ {
		bas |= 1 << uint(i)
	}
	return arm64CtrlEnable | arm64CtrlPrivEL0 |
		(uint32(lsc) << arm64CtrlLSCShift) |
		(bas << arm64CtrlBASShift)
}

// CtrlEnabled reports whether a DBGBCR/DBGWCR control word's enable bit
// is set.
func CtrlEnabled(ctrl uint32) bool {
	return ctrl&arm64CtrlEnable != 0
}

// ClearCtrl clears a control word's enable bit, leaving the rest of the
// encoding in place.
func ClearCtrl(ctrl uint32) uint32 {
	return ctrl &^ arm64CtrlEnable
}

const arm64MDSCRSingleStep = 1 << 0 // MDSCR_EL1.SS
