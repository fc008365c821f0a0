// disasm.go - single-function disassembler plug-in contract
//
// Deliberately minimal: a full disassembler is out of scope (spec.md
// §1), so the engine consumes disassembly through one function value
// rather than an interface, same idea as the teacher's
// disassembleX86(readMem, addr, count) helper in debug_disasm_x86.go
// but trimmed to a single instruction per call, which is all the trace
// recorder ever needs.

package disasm

// Func decodes one instruction at addr given up to 4 raw bytes
// starting there, returning its mnemonic text and length in bytes.
// An implementation may report bytes it does not recognise with a
// placeholder mnemonic and a non-zero length (X86 uses "db 0x.." and
// length 1) so that callers can keep advancing.
type Func func(addr uint64, bytes [4]byte) (mnemonic string, length int)
