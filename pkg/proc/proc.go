// Package proc implements the debug-trap instrumentation engine: process
// control through ptrace, runtime symbol resolution and software
// breakpoints.
package proc

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	sys "golang.org/x/sys/unix"

	"github.com/bptrace/bptrace/pkg/logflags"
)

// StopKind classifies why the target stopped running.
type StopKind int

const (
	// StopTrapped is a debug trap (SIGTRAP) stop.
	StopTrapped StopKind = iota
	// StopSignalled is a stop caused by any other signal.
	StopSignalled
	// StopExited means the target exited normally.
	StopExited
	// StopKilled means the target was terminated by a signal.
	StopKilled
)

// StopReason describes a single stop reported by WaitForStop.
type StopReason struct {
	Kind       StopKind
	Signal     sys.Signal // set for StopSignalled and StopKilled
	ExitStatus int        // set for StopExited
}

// Process represents a traced target process. A Process is owned by a
// single trace session; all mutation of its state is sequential.
type Process struct {
	pid          int
	childProcess bool // this process was launched, not attached to

	exited     bool
	exitStatus int
	detached   bool

	stopRequested atomic.Bool

	// Linux requires all ptrace requests after PTRACE_ATTACH to come from
	// the same thread, so they are funneled through a locked goroutine.
	ptraceChan     chan func()
	ptraceDoneChan chan struct{}
	closeOnce      sync.Once

	log *logrus.Entry
}

func newProcess(pid int) *Process {
	p := &Process{
		pid:            pid,
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan struct{}),
		log:            logflags.ProcLogger(),
	}
	go p.handlePtraceFuncs()
	return p
}

func (p *Process) handlePtraceFuncs() {
	runtime.LockOSThread()
	for fn := range p.ptraceChan {
		fn()
		p.ptraceDoneChan <- struct{}{}
	}
}

func (p *Process) execPtraceFunc(fn func()) {
	p.ptraceChan <- fn
	<-p.ptraceDoneChan
}

func (p *Process) closeFunnel() {
	p.closeOnce.Do(func() {
		close(p.ptraceChan)
	})
}

func (p *Process) postExit(status int) {
	p.exited = true
	p.exitStatus = status
	p.closeFunnel()
}

// Pid returns the target's process id.
func (p *Process) Pid() int { return p.pid }

// Exited reports whether the target is known to have terminated.
func (p *Process) Exited() bool { return p.exited }

// Detached reports whether the engine has released the target.
func (p *Process) Detached() bool { return p.detached }

// RequestStop asks the trace loop to unwind at the next stop. It is safe
// to call from a signal handler goroutine while the loop is parked in
// WaitForStop: the target is stopped with SIGSTOP to wake the wait.
func (p *Process) RequestStop() {
	p.stopRequested.Store(true)
	if p.exited || p.detached {
		return
	}
	_ = sys.Kill(p.pid, sys.SIGSTOP)
}

// StopRequested reports whether RequestStop was called.
func (p *Process) StopRequested() bool {
	return p.stopRequested.Load()
}
