// Package logflags configures the per-layer loggers used by the rest of
// the codebase.
package logflags

import (
	"errors"
	"os"
	"strings"

	isatty "github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	tracer bool
	proc   bool
	sink   bool
)

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New()
	logger.Formatter = &logrus.TextFormatter{
		ForceColors:     isatty.IsTerminal(os.Stderr.Fd()),
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000000",
	}
	logger.Out = os.Stderr
	logger.Level = logrus.DebugLevel
	if !flag {
		logger.Level = logrus.ErrorLevel
	}
	return logger.WithFields(fields)
}

// Tracer returns true if the trace session layer should log.
func Tracer() bool {
	return tracer
}

// TracerLogger returns a logger for the trace session layer.
func TracerLogger() *logrus.Entry {
	return makeLogger(tracer, logrus.Fields{"layer": "tracer"})
}

// Proc returns true if the process control layer should log.
func Proc() bool {
	return proc
}

// ProcLogger returns a logger for the process control layer.
func ProcLogger() *logrus.Entry {
	return makeLogger(proc, logrus.Fields{"layer": "proc"})
}

// Sink returns true if event sinks should log.
func Sink() bool {
	return sink
}

// SinkLogger returns a logger for event sinks.
func SinkLogger() *logrus.Entry {
	return makeLogger(sink, logrus.Fields{"layer": "sink"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the layer log flags from the comma separated list in logstr.
// An empty logstr with logFlag set enables the tracer layer only.
func Setup(logFlag bool, logstr string) error {
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "tracer"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "tracer":
			tracer = true
		case "proc":
			proc = true
		case "sink":
			sink = true
		default:
			return errors.New("unknown log layer " + logcmd)
		}
	}
	return nil
}
