package proc

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	sys "golang.org/x/sys/unix"

	"github.com/bptrace/bptrace/pkg/logflags"
	"github.com/bptrace/bptrace/pkg/trace"
)

// Stats are session totals reported when the trace loop unwinds.
type Stats struct {
	Calls            uint64
	Entries          uint64
	Exits            uint64
	ForeignTraps     uint64
	SignalsForwarded uint64
}

// TracerConfig configures a trace session.
type TracerConfig struct {
	Sink trace.Sink
	// SampleEvery emits only every Nth entry/exit pair; 0 or 1 emits all.
	SampleEvery int
}

// Tracer drives a single trace session over one target process and one
// breakpoint site.
type Tracer struct {
	p       *Process
	sym     *ResolvedSymbol
	bp      *Breakpoint
	sink    trace.Sink
	session string
	sample  int
	seq     uint64
	stats   Stats
	log     *logrus.Entry
}

// NewTracer prepares a trace session for a resolved symbol inside p. The
// target must be stopped.
func NewTracer(p *Process, sym *ResolvedSymbol, cfg TracerConfig) *Tracer {
	sample := cfg.SampleEvery
	if sample < 1 {
		sample = 1
	}
	return &Tracer{
		p:       p,
		sym:     sym,
		sink:    cfg.Sink,
		session: uuid.New().String(),
		sample:  sample,
		log:     logflags.TracerLogger(),
	}
}

// Stats returns the session totals collected so far.
func (t *Tracer) Stats() Stats { return t.stats }

// Run installs the breakpoint and drives the wait loop until the target
// terminates or a stop is requested. The breakpoint byte is restored and
// the target detached on every exit path.
func (t *Tracer) Run() (err error) {
	bp, err := t.p.SetBreakpoint(t.sym.Address)
	if err != nil {
		t.p.Detach()
		return err
	}
	t.bp = bp
	defer t.unwind()

	t.log.Infof("session %s: tracing %s!0x%x in pid %d", t.session, t.sym.ModulePath, t.sym.Offset, t.p.Pid())

	if err := t.p.Continue(0); err != nil {
		return err
	}

	for {
		reason, err := t.p.WaitForStop()
		if err != nil {
			return err
		}

		switch reason.Kind {
		case StopExited:
			t.log.Infof("target exited with status %d", reason.ExitStatus)
			return nil
		case StopKilled:
			t.log.Infof("target killed by signal %v", reason.Signal)
			return nil
		case StopSignalled:
			if t.p.StopRequested() && reason.Signal == sys.SIGSTOP {
				// operator interrupt: swallow our own SIGSTOP and unwind
				return nil
			}
			t.stats.SignalsForwarded++
			if err := t.p.Continue(int(reason.Signal)); err != nil {
				return err
			}
		case StopTrapped:
			if t.p.StopRequested() {
				// the target may be parked one byte past our trap; put the
				// instruction pointer back on the restored instruction
				t.rewindIfAtTrap()
				return nil
			}
			if err := t.onTrap(); err != nil {
				return err
			}
		}
	}
}

// onTrap handles one SIGTRAP stop: validate the site, decode arguments,
// emit the entry event, step past the trap, emit the synthesized exit.
func (t *Tracer) onTrap() error {
	regs, err := t.p.Registers()
	if err != nil {
		return err
	}
	trapPC := regs.PC() - breakpointInstructionSize
	if trapPC != t.bp.Addr {
		// not our trap, hand it back to the target untouched
		t.stats.ForeignTraps++
		t.log.Debugf("foreign trap at %#x forwarded", regs.PC())
		return t.p.Continue(int(sys.SIGTRAP))
	}

	t.stats.Calls++
	emit := (t.stats.Calls-1)%uint64(t.sample) == 0

	if emit {
		args := t.decodeArgs(regs)
		t.seq++
		t.sink.Emit(trace.Event{
			Kind:    trace.EventEntry,
			Session: t.session,
			Seq:     t.seq,
			Time:    time.Now(),
			PC:      t.bp.Addr,
			Args:    args,
		})
		t.stats.Entries++
	}

	if err := t.p.StepOverBreakpoint(t.bp); err != nil {
		if isExited(err) {
			// loop will pick up the exit; counted as a normal terminal state
			return nil
		}
		return err
	}

	if emit {
		// the return site is not trapped, the exit event is synthesized here
		t.seq++
		t.sink.Emit(trace.Event{
			Kind:    trace.EventExit,
			Session: t.session,
			Seq:     t.seq,
			Time:    time.Now(),
			PC:      t.bp.Addr,
		})
		t.stats.Exits++
	}

	return t.p.Continue(0)
}

func (t *Tracer) rewindIfAtTrap() {
	regs, err := t.p.Registers()
	if err != nil {
		return
	}
	if regs.PC()-breakpointInstructionSize != t.bp.Addr {
		return
	}
	regs.SetPC(t.bp.Addr)
	if err := t.p.SetRegisters(regs); err != nil {
		t.log.Errorf("could not rewind instruction pointer: %v", err)
	}
}

// decodeArgs maps the register snapshot to the traced function's fixed
// four-argument contract: (int32, uint64, float64, pointer) under the
// System V AMD64 calling convention. The float argument lives in XMM0
// and needs the FP register bank; if that read fails the argument is
// marked invalid instead of guessed.
func (t *Tracer) decodeArgs(regs *Regs) *trace.Args {
	args := &trace.Args{
		Arg1: int32(uint32(regs.Arg(0))),
		Arg2: regs.Arg(1),
		Arg4: regs.Arg(2),
	}
	fpregs, err := t.p.FPRegisters()
	if err != nil {
		t.log.Warnf("could not read FP registers: %v", err)
		return args
	}
	args.Arg3 = fpregs.XMM0Float64()
	args.Arg3OK = true
	return args
}

// unwind restores the target on every exit path: remove the breakpoint
// (verified against the saved byte), detach, report totals.
func (t *Tracer) unwind() {
	if t.bp != nil && t.bp.Armed() && !t.p.Exited() {
		if err := t.p.ClearBreakpoint(t.bp); err != nil {
			t.log.Errorf("could not restore breakpoint byte: %v", err)
		}
	}
	if err := t.p.Detach(); err != nil {
		t.log.Errorf("detach failed: %v", err)
	}
	t.log.Infof("session %s: %d calls, %d entry / %d exit events, %d foreign traps, %d signals forwarded",
		t.session, t.stats.Calls, t.stats.Entries, t.stats.Exits, t.stats.ForeignTraps, t.stats.SignalsForwarded)
}
