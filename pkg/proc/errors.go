package proc

import "fmt"

// SpawnError means the target executable could not be started under trace.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("could not spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// AttachError means attaching to a running process failed.
type AttachError struct {
	Pid int
	Err error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("could not attach to pid %d: %v", e.Pid, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// ProcessExitedError means the trace operation found the target already gone.
type ProcessExitedError struct {
	Pid    int
	Status int
}

func (e ProcessExitedError) Error() string {
	return fmt.Sprintf("process %d has exited with status %d", e.Pid, e.Status)
}

// ModuleNotFoundError means no executable mapping matching the requested
// module fragment appeared in the target within the retry budget.
type ModuleNotFoundError struct {
	Fragment string
	Attempts int
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("no loaded module matching %q after %d attempts", e.Fragment, e.Attempts)
}

// SymbolNotFoundError means the symbol is not dynamically exported by the
// module it was looked up in.
type SymbolNotFoundError struct {
	Symbol string
	Path   string
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("symbol %q not exported by %s", e.Symbol, e.Path)
}

// PatchFailedError means writing or verifying a breakpoint byte failed.
type PatchFailedError struct {
	Addr uint64
	Err  error
}

func (e *PatchFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not patch %#x: %v", e.Addr, e.Err)
	}
	return fmt.Sprintf("patch verification mismatch at %#x", e.Addr)
}

func (e *PatchFailedError) Unwrap() error { return e.Err }

// StepOverFailedError means the step past a trapped breakpoint did not
// complete; Rearmed reports whether the breakpoint is armed again.
type StepOverFailedError struct {
	Addr    uint64
	Rearmed bool
	Err     error
}

func (e *StepOverFailedError) Error() string {
	return fmt.Sprintf("step over breakpoint at %#x failed (rearmed=%v): %v", e.Addr, e.Rearmed, e.Err)
}

func (e *StepOverFailedError) Unwrap() error { return e.Err }
