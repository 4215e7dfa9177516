package proc

import (
	"encoding/binary"

	"golang.org/x/arch/x86/x86asm"

	"github.com/bptrace/bptrace/pkg/logflags"
)

const (
	breakpointInstruction     = 0xCC
	breakpointInstructionSize = 1
)

// Breakpoint is a software breakpoint: a single trap byte spliced over
// live code. The eclipsed byte is held until the breakpoint is removed so
// restoration is always possible.
type Breakpoint struct {
	Addr         uint64
	originalByte byte
	armed        bool
}

// Armed reports whether the trap byte is currently live in the target.
func (bp *Breakpoint) Armed() bool { return bp.armed }

// OriginalByte returns the byte eclipsed by the trap instruction.
func (bp *Breakpoint) OriginalByte() byte { return bp.originalByte }

// spliceTrap replaces the lowest byte of word with the trap opcode.
func spliceTrap(word uint64) (orig byte, patched uint64) {
	return byte(word), (word &^ 0xff) | breakpointInstruction
}

// restoreByte puts orig back into the lowest byte of word.
func restoreByte(word uint64, orig byte) uint64 {
	return (word &^ 0xff) | uint64(orig)
}

// SetBreakpoint installs a trap instruction at addr and verifies the
// write took effect.
func (p *Process) SetBreakpoint(addr uint64) (*Breakpoint, error) {
	orig, err := p.writeTrap(addr)
	if err != nil {
		return nil, err
	}
	p.log.Debugf("breakpoint installed at %#x (original byte %#x)", addr, orig)
	return &Breakpoint{Addr: addr, originalByte: orig, armed: true}, nil
}

func (p *Process) writeTrap(addr uint64) (byte, error) {
	word, err := p.ReadMemoryWord(addr)
	if err != nil {
		return 0, &PatchFailedError{Addr: addr, Err: err}
	}
	orig, patched := spliceTrap(word)
	if logflags.Proc() {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, word)
		// best effort: instructions longer than the word read are not decodable here
		if inst, err := x86asm.Decode(buf, 64); err == nil {
			p.log.Debugf("patching %#x over %q", addr, inst.String())
		}
	}
	if err := p.WriteMemoryWord(addr, patched); err != nil {
		return 0, &PatchFailedError{Addr: addr, Err: err}
	}
	readback, err := p.ReadMemoryWord(addr)
	if err != nil {
		return 0, &PatchFailedError{Addr: addr, Err: err}
	}
	if byte(readback) != breakpointInstruction {
		return 0, &PatchFailedError{Addr: addr}
	}
	return orig, nil
}

// ClearBreakpoint restores the original byte at the breakpoint address
// and verifies the restore. It is a no-op if the breakpoint is not armed.
func (p *Process) ClearBreakpoint(bp *Breakpoint) error {
	if !bp.armed {
		return nil
	}
	word, err := p.ReadMemoryWord(bp.Addr)
	if err != nil {
		return &PatchFailedError{Addr: bp.Addr, Err: err}
	}
	if err := p.WriteMemoryWord(bp.Addr, restoreByte(word, bp.originalByte)); err != nil {
		return &PatchFailedError{Addr: bp.Addr, Err: err}
	}
	readback, err := p.ReadMemoryWord(bp.Addr)
	if err != nil {
		return &PatchFailedError{Addr: bp.Addr, Err: err}
	}
	if byte(readback) != bp.originalByte {
		return &PatchFailedError{Addr: bp.Addr}
	}
	bp.armed = false
	p.log.Debugf("breakpoint at %#x removed", bp.Addr)
	return nil
}

// StepOverBreakpoint crosses a trapped breakpoint without losing the
// original control flow: restore the byte, rewind the instruction
// pointer onto it, execute one instruction, re-arm. The breakpoint is
// re-armed even when the step fails; a re-arm failure is surfaced rather
// than leaving the target silently un-instrumented.
func (p *Process) StepOverBreakpoint(bp *Breakpoint) error {
	regs, err := p.Registers()
	if err != nil {
		return &StepOverFailedError{Addr: bp.Addr, Rearmed: bp.armed, Err: err}
	}
	if err := p.ClearBreakpoint(bp); err != nil {
		return &StepOverFailedError{Addr: bp.Addr, Rearmed: bp.armed, Err: err}
	}
	regs.SetPC(bp.Addr)
	if err := p.SetRegisters(regs); err != nil {
		return &StepOverFailedError{Addr: bp.Addr, Rearmed: false, Err: err}
	}

	stepErr := p.StepInstruction()
	if p.exited {
		// nothing left to re-arm
		return stepErr
	}

	_, rearmErr := p.writeTrap(bp.Addr)
	if rearmErr == nil {
		bp.armed = true
	}
	if stepErr != nil {
		return &StepOverFailedError{Addr: bp.Addr, Rearmed: bp.armed, Err: stepErr}
	}
	if rearmErr != nil {
		return &StepOverFailedError{Addr: bp.Addr, Rearmed: false, Err: rearmErr}
	}
	return nil
}
