package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryEvent(seq uint64) Event {
	return Event{
		Kind:    EventEntry,
		Session: "test",
		Seq:     seq,
		Time:    time.Now(),
		PC:      0x7f0000001000,
		Args:    &Args{Arg1: int32(seq), Arg2: 0x1234567890abcdef, Arg3: 3.14159, Arg3OK: true, Arg4: 0x12345678},
	}
}

func TestRingSinkOverwritesOldest(t *testing.T) {
	s := NewRingSink(3)
	for i := uint64(0); i < 5; i++ {
		s.Emit(entryEvent(i))
	}
	evs := s.Events()
	require.Len(t, evs, 3)
	assert.Equal(t, uint64(2), evs[0].Seq)
	assert.Equal(t, uint64(3), evs[1].Seq)
	assert.Equal(t, uint64(4), evs[2].Seq)
}

func TestRingSinkPartialFill(t *testing.T) {
	s := NewRingSink(8)
	s.Emit(entryEvent(0))
	s.Emit(entryEvent(1))
	evs := s.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(0), evs[0].Seq)
	assert.Equal(t, uint64(1), evs[1].Seq)
}

func TestJSONLSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	s, err := NewJSONLSink(path)
	require.NoError(t, err)

	in := entryEvent(7)
	s.Emit(in)
	s.Emit(Event{Kind: EventExit, Session: "test", Seq: 8, Time: time.Now(), PC: in.PC})
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scan := bufio.NewScanner(f)
	require.True(t, scan.Scan())
	var out struct {
		Kind string `json:"kind"`
		Seq  uint64 `json:"seq"`
		Args *Args  `json:"args"`
	}
	require.NoError(t, json.Unmarshal(scan.Bytes(), &out))
	assert.Equal(t, "entry", out.Kind)
	assert.Equal(t, uint64(7), out.Seq)
	require.NotNil(t, out.Args)
	assert.Equal(t, int32(7), out.Args.Arg1)
	assert.Equal(t, uint64(0x1234567890abcdef), out.Args.Arg2)

	require.True(t, scan.Scan())
	out.Args = nil
	require.NoError(t, json.Unmarshal(scan.Bytes(), &out))
	assert.Equal(t, "exit", out.Kind)
	assert.Nil(t, out.Args)
	require.False(t, scan.Scan())
}

func TestLogSinkWrites(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(&buf)
	s.Emit(entryEvent(1))
	require.NoError(t, s.Close())
	assert.Contains(t, buf.String(), "kind=entry")
	assert.Contains(t, buf.String(), "arg2=1311768467294899695")
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := NewRingSink(4), NewRingSink(4)
	m := MultiSink{a, b}
	m.Emit(entryEvent(1))
	require.NoError(t, m.Close())
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}
