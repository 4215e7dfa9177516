// Package trace defines the events produced by the instrumentation engine
// and the sinks that consume them.
package trace

import (
	"time"
)

// EventKind distinguishes function entry from function exit events.
type EventKind int

const (
	// EventEntry marks the traced function being entered.
	EventEntry EventKind = iota
	// EventExit marks the traced function returning. Exit events are
	// synthesized right after the entry is processed, the return site is
	// not independently trapped.
	EventExit
)

func (k EventKind) String() string {
	switch k {
	case EventEntry:
		return "entry"
	case EventExit:
		return "exit"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler so kinds serialize as
// their names.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Args holds the decoded arguments of the traced function, following its
// fixed four argument contract.
type Args struct {
	Arg1 int32   `json:"arg1"`
	Arg2 uint64  `json:"arg2"`
	Arg3 float64 `json:"arg3"`
	// Arg3OK is false when the floating point register bank could not be
	// read; Arg3 is zero in that case.
	Arg3OK bool   `json:"arg3_ok"`
	Arg4   uint64 `json:"arg4"`
}

// Event is a single function call observation. Events are immutable after
// construction and owned by the sink once emitted.
type Event struct {
	Kind    EventKind `json:"kind"`
	Session string    `json:"session"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	PC      uint64    `json:"pc"`
	// Args is set on entry events only.
	Args *Args `json:"args,omitempty"`
}
