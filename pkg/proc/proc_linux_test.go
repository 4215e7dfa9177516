package proc

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// launchOrSkip spawns a throwaway traced target, skipping the test in
// environments that forbid ptrace.
func launchOrSkip(t *testing.T) *Process {
	return launchCmdOrSkip(t, "true")
}

func launchCmdOrSkip(t *testing.T, name string, args ...string) *Process {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("no %q binary in PATH", name)
	}
	p, err := Launch(append([]string{path}, args...))
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("ptrace not permitted: %v", err)
		}
		t.Fatal(err)
	}
	return p
}

func runToExit(t *testing.T, p *Process) StopReason {
	t.Helper()
	require.NoError(t, p.Continue(0))
	for {
		reason, err := p.WaitForStop()
		require.NoError(t, err)
		switch reason.Kind {
		case StopExited, StopKilled:
			return reason
		case StopTrapped:
			require.NoError(t, p.Continue(0))
		case StopSignalled:
			require.NoError(t, p.Continue(int(reason.Signal)))
		}
	}
}

func TestLaunchBadPath(t *testing.T) {
	_, err := Launch([]string{"/no/such/binary/anywhere"})
	var se *SpawnError
	require.ErrorAs(t, err, &se)
}

func TestAttachNonexistentPid(t *testing.T) {
	pid := unusedPid(t)
	p, err := Attach(pid)
	var ae *AttachError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, pid, ae.Pid)
	assert.Nil(t, p, "failed attach must not leave engine state behind")
}

func TestLaunchRunsToExit(t *testing.T) {
	p := launchOrSkip(t)
	reason := runToExit(t, p)
	assert.Equal(t, StopExited, reason.Kind)
	assert.Equal(t, 0, reason.ExitStatus)
	assert.True(t, p.Exited())

	// detach after exit is a no-op
	assert.NoError(t, p.Detach())
}

func TestRegistersAndStep(t *testing.T) {
	p := launchOrSkip(t)
	defer p.Detach()

	regs, err := p.Registers()
	require.NoError(t, err)
	require.NotZero(t, regs.PC())

	before := regs.PC()
	require.NoError(t, p.StepInstruction())

	regs, err = p.Registers()
	require.NoError(t, err)
	assert.NotEqual(t, before, regs.PC())
}

func TestBreakpointInstallRemoveLive(t *testing.T) {
	p := launchOrSkip(t)
	defer p.Detach()

	regs, err := p.Registers()
	require.NoError(t, err)
	addr := regs.PC()

	original, err := p.ReadMemoryWord(addr)
	require.NoError(t, err)

	bp, err := p.SetBreakpoint(addr)
	require.NoError(t, err)
	assert.True(t, bp.Armed())

	word, err := p.ReadMemoryWord(addr)
	require.NoError(t, err)
	assert.Equal(t, byte(breakpointInstruction), byte(word), "armed site must carry the trap opcode")

	require.NoError(t, p.ClearBreakpoint(bp))
	assert.False(t, bp.Armed())

	word, err = p.ReadMemoryWord(addr)
	require.NoError(t, err)
	assert.Equal(t, original, word, "remove must restore the exact original memory content")

	// removing again is a no-op
	assert.NoError(t, p.ClearBreakpoint(bp))
}

func TestMemoryWordRoundTripLive(t *testing.T) {
	p := launchOrSkip(t)
	defer p.Detach()

	regs, err := p.Registers()
	require.NoError(t, err)
	addr := regs.SP()

	require.NoError(t, p.WriteMemoryWord(addr, 0x1234567890abcdef))
	word, err := p.ReadMemoryWord(addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234567890abcdef), word)
}

func unusedPid(t *testing.T) int {
	t.Helper()
	for pid := 999999; pid > 400000; pid-- {
		if _, err := os.Stat("/proc/" + strconv.Itoa(pid)); errors.Is(err, os.ErrNotExist) {
			return pid
		}
	}
	t.Skip("could not find an unused pid")
	return 0
}
