package trace

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bptrace/bptrace/pkg/logflags"
)

// Sink consumes events emitted by the engine. Emit is fire and forget and
// must not block the trace loop; implementations report their own failures.
type Sink interface {
	Emit(ev Event)
	Close() error
}

// LogSink writes human readable events through logrus.
type LogSink struct {
	entry *logrus.Entry
}

// NewLogSink returns a sink logging events to out.
func NewLogSink(out io.Writer) *LogSink {
	logger := logrus.New()
	logger.Out = out
	logger.Level = logrus.InfoLevel
	logger.Formatter = &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000000"}
	return &LogSink{entry: logger.WithField("layer", "events")}
}

func (s *LogSink) Emit(ev Event) {
	entry := s.entry.WithFields(logrus.Fields{"kind": ev.Kind.String(), "seq": ev.Seq, "pc": ev.PC})
	if ev.Args != nil {
		entry = entry.WithFields(logrus.Fields{
			"arg1": ev.Args.Arg1,
			"arg2": ev.Args.Arg2,
			"arg3": ev.Args.Arg3,
			"arg4": ev.Args.Arg4,
		})
		if !ev.Args.Arg3OK {
			entry = entry.WithField("arg3_ok", false)
		}
	}
	entry.Info("traced call")
}

func (s *LogSink) Close() error { return nil }

// JSONLSink writes one JSON document per line to a file.
type JSONLSink struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	enc    *json.Encoder
	failed bool
}

// NewJSONLSink creates or truncates path and returns a sink writing JSON
// lines to it.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	return &JSONLSink{f: f, w: w, enc: json.NewEncoder(w)}, nil
}

func (s *JSONLSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return
	}
	if err := s.enc.Encode(ev); err != nil {
		// report once, drop the rest
		s.failed = true
		logflags.SinkLogger().Errorf("writing event: %v", err)
	}
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// RingSink keeps the last N events in memory, overwriting the oldest.
type RingSink struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	count int
}

// NewRingSink returns a ring sink holding at most capacity events.
func NewRingSink(capacity int) *RingSink {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingSink{buf: make([]Event, capacity)}
}

func (s *RingSink) Emit(ev Event) {
	s.mu.Lock()
	s.buf[s.next] = ev
	s.next = (s.next + 1) % len(s.buf)
	if s.count < len(s.buf) {
		s.count++
	}
	s.mu.Unlock()
}

// Events returns the buffered events, oldest first.
func (s *RingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, s.count)
	start := s.next - s.count
	if start < 0 {
		start += len(s.buf)
	}
	for i := 0; i < s.count; i++ {
		out = append(out, s.buf[(start+i)%len(s.buf)])
	}
	return out
}

func (s *RingSink) Close() error { return nil }

// MultiSink fans events out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

func (m MultiSink) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
