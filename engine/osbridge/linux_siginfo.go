// linux_siginfo.go - PTRACE_GETSIGINFO plumbing shared by all linux arches

package osbridge

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/unix"
)

func ptraceGetSiginfo(tid int, out *[128]byte) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETSIGINFO,
		uintptr(tid), 0, uintptr(unsafe.Pointer(out)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func nativeUint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}
