//go:build amd64

// linux_amd64.go - x86-64 register access and DR0-7 debug register
// plumbing
//
// x/sys/unix has no wrapper for PTRACE_PEEKUSER/POKEUSER against
// struct user's u_debugreg array, so this pokes it directly via
// unix.Syscall6, using the stable struct-user offset that aarzilli-delve
// reaches for through a cgo offsetof (other_examples/5d45cfe1_...).
// struct user on linux/amd64: { user_regs_struct regs (27*8=216B);
// int u_fpvalid; int pad0; user_fpregs_struct i387 (512B); 5 longs
// (40B); long signal; int reserved; int pad1; 2 pointers (16B); long
// magic; char u_comm[32]; } -> u_debugreg starts at offset 848.
package osbridge

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const ptraceUserDebugregOffset = 848

func (b *LinuxBridge) GetRegisters(h Handle, tid int) (Registers, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return Registers{}, &fault{err: err}
	}
	r := NewRegisters(ArchAMD64)
	r.Set("RAX", regs.Rax)
	r.Set("RBX", regs.Rbx)
	r.Set("RCX", regs.Rcx)
	r.Set("RDX", regs.Rdx)
	r.Set("RSI", regs.Rsi)
	r.Set("RDI", regs.Rdi)
	r.Set("RBP", regs.Rbp)
	r.Set("RSP", regs.Rsp)
	r.Set("R8", regs.R8)
	r.Set("R9", regs.R9)
	r.Set("R10", regs.R10)
	r.Set("R11", regs.R11)
	r.Set("R12", regs.R12)
	r.Set("R13", regs.R13)
	r.Set("R14", regs.R14)
	r.Set("R15", regs.R15)
	r.Set("RIP", regs.Rip)
	r.Set("RFLAGS", regs.Eflags)
	r.Set("CS", regs.Cs)
	r.Set("SS", regs.Ss)
	r.Set("DS", regs.Ds)
	r.Set("ES", regs.Es)
	r.Set("FS", regs.Fs)
	r.Set("GS", regs.Gs)
	return r, nil
}

func (b *LinuxBridge) SetRegisters(h Handle, tid int, r Registers) error {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return &fault{err: err}
	}
	assign := func(name string, dst *uint64) {
		if v, ok := r.Get(name); ok {
			*dst = v
		}
	}
	assign("RAX", &regs.Rax)
	assign("RBX", &regs.Rbx)
	assign("RCX", &regs.Rcx)
	assign("RDX", &regs.Rdx)
	assign("RSI", &regs.Rsi)
	assign("RDI", &regs.Rdi)
	assign("RBP", &regs.Rbp)
	assign("RSP", &regs.Rsp)
	assign("R8", &regs.R8)
	assign("R9", &regs.R9)
	assign("R10", &regs.R10)
	assign("R11", &regs.R11)
	assign("R12", &regs.R12)
	assign("R13", &regs.R13)
	assign("R14", &regs.R14)
	assign("R15", &regs.R15)
	assign("RIP", &regs.Rip)
	assign("RFLAGS", &regs.Eflags)
	if err := unix.PtraceSetRegs(tid, &regs); err != nil {
		return &fault{err: err}
	}
	return nil
}

func peekUser(tid int, offset uintptr) (uint64, error) {
	var val uint64
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_PEEKUSER,
		uintptr(tid), offset, uintptr(unsafe.Pointer(&val)), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return val, nil
}

func pokeUser(tid int, offset uintptr, val uint64) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_POKEUSER,
		uintptr(tid), offset, uintptr(val), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func (b *LinuxBridge) GetDebugRegisters(h Handle, tid int) (DebugRegisters, error) {
	var dr DebugRegisters
	for i := 0; i < 4; i++ {
		v, err := peekUser(tid, ptraceUserDebugregOffset+uintptr(i)*8)
		if err != nil {
			return dr, &fault{err: err}
		}
		dr.DR[i] = v
	}
	dr7, err := peekUser(tid, ptraceUserDebugregOffset+7*8)
	if err != nil {
		return dr, &fault{err: err}
	}
	dr.DR7 = dr7
	dr6, err := peekUser(tid, ptraceUserDebugregOffset+6*8)
	if err != nil {
		return dr, &fault{err: err}
	}
	dr.DR6 = dr6
	dr.HaveDR6 = true
	return dr, nil
}

func (b *LinuxBridge) SetDebugRegisters(h Handle, tid int, dr DebugRegisters) error {
	for i := 0; i < 4; i++ {
		if err := pokeUser(tid, ptraceUserDebugregOffset+uintptr(i)*8, dr.DR[i]); err != nil {
			return &fault{err: err}
		}
	}
	if err := pokeUser(tid, ptraceUserDebugregOffset+7*8, dr.DR7); err != nil {
		return &fault{err: err}
	}
	// Clearing DR6 acknowledges the trap; writers that don't touch it
	// pass DR6 == 0 with HaveDR6 == false and this is skipped.
	if dr.HaveDR6 {
		if err := pokeUser(tid, ptraceUserDebugregOffset+6*8, dr.DR6); err != nil {
			return &fault{err: err}
		}
	}
	return nil
}
