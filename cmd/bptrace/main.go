// Command bptrace traces calls to an exported function of a shared
// library inside another process, using ptrace and a software breakpoint.
// It attaches to a running process or spawns one, resolves the symbol's
// runtime address, and emits one entry and one exit event per call.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bptrace/bptrace/pkg/config"
	"github.com/bptrace/bptrace/pkg/logflags"
	"github.com/bptrace/bptrace/pkg/proc"
	"github.com/bptrace/bptrace/pkg/trace"
	"github.com/bptrace/bptrace/pkg/version"
)

var (
	logFlag   bool
	logOutput string

	moduleFragment  string
	symbolName      string
	sinkKind        string
	outputPath      string
	sampleEvery     int
	resolveAttempts int
	resolveInterval time.Duration

	conf *config.Config
)

func main() {
	os.Exit(run())
}

func run() int {
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		conf = &config.Config{}
	}

	rootCommand := &cobra.Command{
		Use:           "bptrace",
		Short:         "bptrace traces calls to a shared-library function in another process.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logflags.Setup(logFlag, logOutput)
		},
	}
	fl := rootCommand.PersistentFlags()
	fl.BoolVar(&logFlag, "log", false, "Enable engine logging.")
	fl.StringVar(&logOutput, "log-output", "", "Comma separated list of log layers (tracer,proc,sink).")
	fl.StringVarP(&moduleFragment, "module", "m", orDefault(conf.Module, "libmylib.so"), "Loaded-module path fragment to search for.")
	fl.StringVarP(&symbolName, "symbol", "s", orDefault(conf.Symbol, "my_traced_function"), "Exported symbol to trace.")
	fl.StringVar(&sinkKind, "sink", orDefault(conf.Sink, "log"), "Event sink: log, jsonl or ring.")
	fl.StringVarP(&outputPath, "output", "o", orDefault(conf.Output, "trace.jsonl"), "Output path for the jsonl sink.")
	fl.IntVar(&sampleEvery, "sample-every", orDefaultInt(conf.SampleEvery, 1), "Emit only every Nth entry/exit pair.")
	fl.IntVar(&resolveAttempts, "resolve-attempts", orDefaultInt(conf.ResolveAttempts, 20), "Module map polls before giving up.")
	fl.DurationVar(&resolveInterval, "resolve-interval", orDefaultDuration(conf.ResolveIntervalMs, 100*time.Millisecond), "Pause between module map polls.")

	execCommand := &cobra.Command{
		Use:   "exec <path> [args...]",
		Short: "Spawn a program under trace and instrument it.",
		Long: `Spawns the program stopped at its first instruction, resolves the traced
symbol once the dynamic loader has mapped the module, then lets the
program run with the breakpoint armed. With no arguments the target-cmd
line from the config file is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				var err error
				args, err = config.SplitTargetCmd(conf.TargetCmd)
				if err != nil {
					return err
				}
				if len(args) == 0 {
					return fmt.Errorf("no target given and no target-cmd configured")
				}
			}
			return traceSession(func() (*proc.Process, error) {
				return proc.Launch(args)
			})
		},
	}

	attachCommand := &cobra.Command{
		Use:   "attach <pid>",
		Short: "Attach to a running process and instrument it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid pid %q", args[0])
			}
			return traceSession(func() (*proc.Process, error) {
				return proc.Attach(pid)
			})
		},
	}

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bptrace\n%s\n", version.BptraceVersion)
		},
	}

	rootCommand.AddCommand(execCommand, attachCommand, versionCommand)

	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func traceSession(start func() (*proc.Process, error)) error {
	sink, ring, err := buildSink()
	if err != nil {
		return err
	}
	defer sink.Close()

	p, err := start()
	if err != nil {
		return err
	}

	// operator interrupt: the handler only records intent and wakes the
	// wait loop, cleanup runs inside the loop's unwind path
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)
	go func() {
		<-ch
		p.RequestStop()
	}()

	resolver := proc.NewResolver()
	sym, err := resolver.Resolve(p, moduleFragment, symbolName, proc.RetryPolicy{
		Attempts: resolveAttempts,
		Interval: resolveInterval,
	})
	if err != nil {
		p.Detach()
		return err
	}

	tracer := proc.NewTracer(p, sym, proc.TracerConfig{Sink: sink, SampleEvery: sampleEvery})
	if err := tracer.Run(); err != nil {
		return err
	}

	if ring != nil {
		replay := trace.NewLogSink(os.Stdout)
		for _, ev := range ring.Events() {
			replay.Emit(ev)
		}
	}
	return nil
}

func buildSink() (trace.Sink, *trace.RingSink, error) {
	switch sinkKind {
	case "log":
		return trace.NewLogSink(os.Stdout), nil, nil
	case "jsonl":
		s, err := trace.NewJSONLSink(outputPath)
		return s, nil, err
	case "ring":
		r := trace.NewRingSink(1024)
		return r, r, nil
	}
	return nil, nil, fmt.Errorf("unknown sink %q", sinkKind)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultDuration(ms int, def time.Duration) time.Duration {
	if ms == 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
