package proc

import (
	"encoding/binary"
	"math"

	sys "golang.org/x/sys/unix"
)

// Regs is a snapshot of the target's general purpose registers.
type Regs struct {
	regs sys.PtraceRegs
}

// PC returns the instruction pointer.
func (r *Regs) PC() uint64 { return r.regs.Rip }

// SetPC changes the instruction pointer in the snapshot; the change takes
// effect when the snapshot is written back with SetRegisters.
func (r *Regs) SetPC(pc uint64) { r.regs.Rip = pc }

// SP returns the stack pointer.
func (r *Regs) SP() uint64 { return r.regs.Rsp }

// Arg returns the n-th (0-based) integer-class argument register per the
// System V AMD64 calling convention.
func (r *Regs) Arg(n int) uint64 {
	switch n {
	case 0:
		return r.regs.Rdi
	case 1:
		return r.regs.Rsi
	case 2:
		return r.regs.Rdx
	case 3:
		return r.regs.Rcx
	case 4:
		return r.regs.R8
	case 5:
		return r.regs.R9
	}
	return 0
}

// Registers reads the target's general purpose register set.
func (p *Process) Registers() (*Regs, error) {
	if p.exited {
		return nil, ProcessExitedError{Pid: p.pid}
	}
	var (
		r   Regs
		err error
	)
	p.execPtraceFunc(func() { err = ptraceGetRegs(p.pid, &r.regs) })
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SetRegisters writes a register snapshot back to the target.
func (p *Process) SetRegisters(r *Regs) error {
	if p.exited {
		return ProcessExitedError{Pid: p.pid}
	}
	var err error
	p.execPtraceFunc(func() { err = ptraceSetRegs(p.pid, &r.regs) })
	return err
}

// amd64PtraceFpRegs tracks user_fpregs_struct in
// /usr/include/x86_64-linux-gnu/sys/user.h.
type amd64PtraceFpRegs struct {
	Cwd      uint16
	Swd      uint16
	Ftw      uint16
	Fop      uint16
	Rip      uint64
	Rdp      uint64
	Mxcsr    uint32
	MxcrMask uint32
	StSpace  [32]uint32
	XmmSpace [256]byte
	Padding  [24]uint32
}

// FPRegs is a snapshot of the target's FP/SSE register bank.
type FPRegs struct {
	fpregs amd64PtraceFpRegs
}

// XMM0Float64 returns the low lane of XMM0 interpreted as a float64,
// where the calling convention places the first floating point argument.
func (r *FPRegs) XMM0Float64() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(r.fpregs.XmmSpace[:8]))
}

// FPRegisters reads the target's FP/SSE register bank.
func (p *Process) FPRegisters() (*FPRegs, error) {
	if p.exited {
		return nil, ProcessExitedError{Pid: p.pid}
	}
	var (
		r   FPRegs
		err error
	)
	p.execPtraceFunc(func() { err = ptraceGetFpRegs(p.pid, &r.fpregs) })
	if err != nil {
		return nil, err
	}
	return &r, nil
}
