package proc

import (
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

// ptraceAttach executes the sys.PtraceAttach call.
func ptraceAttach(pid int) error {
	return sys.PtraceAttach(pid)
}

// ptraceDetach calls ptrace(PTRACE_DETACH).
func ptraceDetach(pid, sig int) error {
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_DETACH, uintptr(pid), 1, uintptr(sig), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ptraceCont executes ptrace PTRACE_CONT, optionally delivering a signal.
func ptraceCont(pid, sig int) error {
	return sys.PtraceCont(pid, sig)
}

// ptraceSingleStep executes ptrace PTRACE_SINGLESTEP.
func ptraceSingleStep(pid int) error {
	return sys.PtraceSingleStep(pid)
}

// ptraceGetRegs fetches the general purpose registers.
func ptraceGetRegs(pid int, regs *sys.PtraceRegs) error {
	return sys.PtraceGetRegs(pid, regs)
}

// ptraceSetRegs writes back the general purpose registers.
func ptraceSetRegs(pid int, regs *sys.PtraceRegs) error {
	return sys.PtraceSetRegs(pid, regs)
}

// ptraceGetFpRegs fetches the legacy FP/SSE register area with
// PTRACE_GETFPREGS. ENODEV just means the CPU has no x87 state.
func ptraceGetFpRegs(pid int, fpregs *amd64PtraceFpRegs) error {
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_GETFPREGS, uintptr(pid), 0, uintptr(unsafe.Pointer(fpregs)), 0, 0)
	if err == syscall.Errno(0) || err == syscall.ENODEV {
		return nil
	}
	return err
}

// ptracePeek reads len(out) bytes of target memory at addr.
func ptracePeek(pid int, addr uint64, out []byte) error {
	n, err := sys.PtracePeekData(pid, uintptr(addr), out)
	if err != nil {
		return err
	}
	if n != len(out) {
		return syscall.EIO
	}
	return nil
}

// ptracePoke writes data to target memory at addr.
func ptracePoke(pid int, addr uint64, data []byte) error {
	n, err := sys.PtracePokeData(pid, uintptr(addr), data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return syscall.EIO
	}
	return nil
}
