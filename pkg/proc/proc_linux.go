package proc

import (
	"encoding/binary"
	"os"
	"os/exec"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sys "golang.org/x/sys/unix"
)

// Launch spawns cmd[0] with arguments cmd[1:] under trace and returns once
// the child is stopped at its first instruction.
func Launch(cmd []string) (*Process, error) {
	if len(cmd) == 0 {
		return nil, &SpawnError{Path: "", Err: syscall.EINVAL}
	}
	if _, err := os.Stat(cmd[0]); err != nil {
		return nil, &SpawnError{Path: cmd[0], Err: err}
	}

	p := newProcess(0)
	var (
		child *exec.Cmd
		err   error
	)
	p.execPtraceFunc(func() {
		child = exec.Command(cmd[0])
		child.Args = cmd
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		child.SysProcAttr = &syscall.SysProcAttr{Ptrace: true, Setpgid: true}
		err = child.Start()
	})
	if err != nil {
		p.closeFunnel()
		return nil, &SpawnError{Path: cmd[0], Err: err}
	}
	p.pid = child.Process.Pid
	p.childProcess = true

	// the child delivers a SIGTRAP stop on execve
	if _, _, err := p.wait(); err != nil {
		p.closeFunnel()
		return nil, &SpawnError{Path: cmd[0], Err: err}
	}
	p.log.Debugf("launched %v as pid %d", cmd, p.pid)
	return p, nil
}

// Attach attaches to a running process and blocks until the kernel
// confirms it stopped. Engine state is only created once the attach
// succeeded.
func Attach(pid int) (*Process, error) {
	gp, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil, &AttachError{Pid: pid, Err: err}
	}

	p := newProcess(pid)
	p.execPtraceFunc(func() { err = ptraceAttach(pid) })
	if err != nil {
		p.closeFunnel()
		return nil, &AttachError{Pid: pid, Err: err}
	}
	if _, _, err := p.wait(); err != nil {
		p.execPtraceFunc(func() { _ = ptraceDetach(pid, 0) })
		p.closeFunnel()
		return nil, &AttachError{Pid: pid, Err: err}
	}

	if name, err := gp.Name(); err == nil {
		p.log.Debugf("attached to pid %d (%s)", pid, name)
	}
	return p, nil
}

// Detach releases control of the target. It is a no-op on an already
// detached or exited process.
func (p *Process) Detach() error {
	if p.detached || p.exited {
		return nil
	}
	var err error
	p.execPtraceFunc(func() { err = ptraceDetach(p.pid, 0) })
	p.detached = true
	p.closeFunnel()
	if err != nil {
		return err
	}
	p.log.Debugf("detached from pid %d", p.pid)
	return nil
}

// Continue resumes the target, optionally re-delivering signal sig. It
// does not wait for the next stop.
func (p *Process) Continue(sig int) error {
	if p.exited {
		return ProcessExitedError{Pid: p.pid}
	}
	var err error
	p.execPtraceFunc(func() { err = ptraceCont(p.pid, sig) })
	return err
}

// StepInstruction executes exactly one instruction and waits for the
// target to stop again.
func (p *Process) StepInstruction() error {
	if p.exited {
		return ProcessExitedError{Pid: p.pid}
	}
	var err error
	p.execPtraceFunc(func() { err = ptraceSingleStep(p.pid) })
	if err != nil {
		return err
	}
	_, status, err := p.wait()
	if err != nil {
		return err
	}
	if status.Exited() {
		p.postExit(status.ExitStatus())
		return ProcessExitedError{Pid: p.pid, Status: status.ExitStatus()}
	}
	if status.Signaled() {
		p.postExit(128 + int(status.Signal()))
		return ProcessExitedError{Pid: p.pid, Status: 128 + int(status.Signal())}
	}
	return nil
}

// WaitForStop blocks until the target stops or terminates. This is the
// engine's only suspension point.
func (p *Process) WaitForStop() (StopReason, error) {
	if p.exited {
		return StopReason{Kind: StopExited, ExitStatus: p.exitStatus}, nil
	}
	for {
		wpid, status, err := p.wait()
		if err != nil {
			return StopReason{}, err
		}
		if wpid != p.pid {
			continue
		}
		switch {
		case status.Exited():
			p.postExit(status.ExitStatus())
			return StopReason{Kind: StopExited, ExitStatus: status.ExitStatus()}, nil
		case status.Signaled():
			p.postExit(128 + int(status.Signal()))
			return StopReason{Kind: StopKilled, Signal: status.Signal()}, nil
		case status.Stopped():
			sig := status.StopSignal()
			if sig == sys.SIGTRAP {
				return StopReason{Kind: StopTrapped}, nil
			}
			return StopReason{Kind: StopSignalled, Signal: sig}, nil
		}
	}
}

func (p *Process) wait() (int, sys.WaitStatus, error) {
	var status sys.WaitStatus
	wpid, err := sys.Wait4(p.pid, &status, 0, nil)
	return wpid, status, err
}

// ReadMemoryWord reads one machine word of target memory at addr.
func (p *Process) ReadMemoryWord(addr uint64) (uint64, error) {
	if p.exited {
		return 0, ProcessExitedError{Pid: p.pid}
	}
	buf := make([]byte, 8)
	var err error
	p.execPtraceFunc(func() { err = ptracePeek(p.pid, addr, buf) })
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// WriteMemoryWord writes one machine word of target memory at addr.
func (p *Process) WriteMemoryWord(addr uint64, word uint64) error {
	if p.exited {
		return ProcessExitedError{Pid: p.pid}
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, word)
	var err error
	p.execPtraceFunc(func() { err = ptracePoke(p.pid, addr, buf) })
	return err
}

// stopAndWait interrupts a running target with SIGSTOP and swallows the
// resulting stop. Used by the resolver's polling cycle.
func (p *Process) stopAndWait() error {
	if p.exited {
		return ProcessExitedError{Pid: p.pid}
	}
	if err := sys.Kill(p.pid, sys.SIGSTOP); err != nil {
		return err
	}
	for {
		wpid, status, err := p.wait()
		if err != nil {
			return err
		}
		if wpid != p.pid {
			continue
		}
		switch {
		case status.Exited():
			p.postExit(status.ExitStatus())
			return ProcessExitedError{Pid: p.pid, Status: status.ExitStatus()}
		case status.Signaled():
			p.postExit(128 + int(status.Signal()))
			return ProcessExitedError{Pid: p.pid, Status: 128 + int(status.Signal())}
		case status.Stopped():
			return nil
		}
	}
}
