//go:build arm64

// linux_arm64.go - ARM64 register access and hardware BP/WP register
// plumbing via PTRACE_GETREGSET/SETREGSET.

package osbridge

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ntPRStatus   = 1
	ntArmHWBreak = 0x402
	ntArmHWWatch = 0x403
)

func (b *LinuxBridge) GetRegisters(h Handle, tid int) (Registers, error) {
	var regs unix.PtraceRegsArm64
	iov := unix.Iovec{Base: (*byte)(unsafe.Pointer(&regs)), Len: uint64(unsafe.Sizeof(regs))}
	if err := ptraceGetRegSet(tid, ntPRStatus, &iov); err != nil {
		return Registers{}, &fault{err: err}
	}
	r := NewRegisters(ArchARM64)
	for i := 0; i < 31; i++ {
		r.Set(Arm64RegisterNames[i], regs.Regs[i])
	}
	r.Set("SP", regs.Sp)
	r.Set("PC", regs.Pc)
	r.Set("PSTATE", regs.Pstate)
	return r, nil
}

func (b *LinuxBridge) SetRegisters(h Handle, tid int, r Registers) error {
	var regs unix.PtraceRegsArm64
	iov := unix.Iovec{Base: (*byte)(unsafe.Pointer(&regs)), Len: uint64(unsafe.Sizeof(regs))}
	if err := ptraceGetRegSet(tid, ntPRStatus, &iov); err != nil {
		return &fault{err: err}
	}
	for i := 0; i < 31; i++ {
		if v, ok := r.Get(Arm64RegisterNames[i]); ok {
			regs.Regs[i] = v
		}
	}
	if v, ok := r.Get("SP"); ok {
		regs.Sp = v
	}
	if v, ok := r.Get("PC"); ok {
		regs.Pc = v
	}
	if v, ok := r.Get("PSTATE"); ok {
		regs.Pstate = v
	}
	if err := ptraceSetRegSet(tid, ntPRStatus, &iov); err != nil {
		return &fault{err: err}
	}
	return nil
}

// userHWDebugReg mirrors the kernel's struct user_hwdebug_state single
// register slot: { addr uint64; ctrl uint32; pad uint32 }.
type userHWDebugReg struct {
	Addr uint64
	Ctrl uint32
	_    uint32
}

// userHWDebugState mirrors struct user_hwdebug_state for up to 16 BP or
// WP slots (the engine only ever uses the first 4).
type userHWDebugState struct {
	DbgInfo uint32
	_       uint32
	Regs    [16]userHWDebugReg
}

func (b *LinuxBridge) GetDebugRegisters(h Handle, tid int) (DebugRegisters, error) {
	var dr DebugRegisters
	var bp, wp userHWDebugState
	biov := unix.Iovec{Base: (*byte)(unsafe.Pointer(&bp)), Len: uint64(unsafe.Sizeof(bp))}
	wiov := unix.Iovec{Base: (*byte)(unsafe.Pointer(&wp)), Len: uint64(unsafe.Sizeof(wp))}
	if err := ptraceGetRegSet(tid, ntArmHWBreak, &biov); err != nil {
		return dr, &fault{err: err}
	}
	if err := ptraceGetRegSet(tid, ntArmHWWatch, &wiov); err != nil {
		return dr, &fault{err: err}
	}
	for i := 0; i < 4; i++ {
		dr.BVR[i] = bp.Regs[i].Addr
		dr.BCR[i] = bp.Regs[i].Ctrl
		dr.WVR[i] = wp.Regs[i].Addr
		dr.WCR[i] = wp.Regs[i].Ctrl
	}
	return dr, nil
}

func (b *LinuxBridge) SetDebugRegisters(h Handle, tid int, dr DebugRegisters) error {
	var bp, wp userHWDebugState
	for i := 0; i < 4; i++ {
		bp.Regs[i] = userHWDebugReg{Addr: dr.BVR[i], Ctrl: dr.BCR[i]}
		wp.Regs[i] = userHWDebugReg{Addr: dr.WVR[i], Ctrl: dr.WCR[i]}
	}
	biov := unix.Iovec{Base: (*byte)(unsafe.Pointer(&bp)), Len: uint64(unsafe.Sizeof(bp))}
	wiov := unix.Iovec{Base: (*byte)(unsafe.Pointer(&wp)), Len: uint64(unsafe.Sizeof(wp))}
	if err := ptraceSetRegSet(tid, ntArmHWBreak, &biov); err != nil {
		return &fault{err: err}
	}
	if err := ptraceSetRegSet(tid, ntArmHWWatch, &wiov); err != nil {
		return &fault{err: err}
	}
	return nil
}

func ptraceGetRegSet(tid int, note uintptr, iov *unix.Iovec) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETREGSET,
		uintptr(tid), note, uintptr(unsafe.Pointer(iov)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func ptraceSetRegSet(tid int, note uintptr, iov *unix.Iovec) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SETREGSET,
		uintptr(tid), note, uintptr(unsafe.Pointer(iov)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
