package proc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTarget scripts the sequence of memory maps the resolver sees, one
// per poll.
type fakeTarget struct {
	pid       int
	maps      [][]MemoryRegion
	polls     int
	continues int
	stops     int
	exitOn    int // poll index at which the target "exits", -1 for never
}

func (f *fakeTarget) Pid() int { return f.pid }

func (f *fakeTarget) MemoryMap() ([]MemoryRegion, error) {
	m := f.maps[f.polls]
	if f.polls < len(f.maps)-1 {
		f.polls++
	}
	return m, nil
}

func (f *fakeTarget) Continue(sig int) error {
	f.continues++
	return nil
}

func (f *fakeTarget) stopAndWait() error {
	f.stops++
	if f.exitOn >= 0 && f.polls >= f.exitOn {
		return ProcessExitedError{Pid: f.pid}
	}
	return nil
}

func libRegions(path string) []MemoryRegion {
	return []MemoryRegion{
		{Start: 0x7f0000000000, End: 0x7f0000001000, Read: true, Offset: 0, Path: path},
		{Start: 0x7f0000001000, End: 0x7f0000003000, Read: true, Exec: true, Offset: 0x1000, Path: path},
	}
}

func TestResolveRetriesUntilModuleAppears(t *testing.T) {
	libc := findLibc(t)
	ft := &fakeTarget{
		pid:    123,
		maps:   [][]MemoryRegion{nil, nil, libRegions(libc)},
		exitOn: -1,
	}
	var slept []time.Duration
	policy := RetryPolicy{
		Attempts: 10,
		Interval: 50 * time.Millisecond,
		sleep:    func(d time.Duration) { slept = append(slept, d) },
	}

	r := NewResolver()
	_, err := r.resolve(ft, filepath.Base(libc), "no_such_symbol", policy)
	// module was found, so the failure must be about the symbol
	var snf *SymbolNotFoundError
	require.ErrorAs(t, err, &snf)

	assert.Equal(t, 2, ft.continues, "target resumed once per empty poll")
	assert.Equal(t, 2, ft.stops)
	require.Len(t, slept, 2)
	assert.Equal(t, 50*time.Millisecond, slept[0])
}

func TestResolveModuleNeverLoaded(t *testing.T) {
	ft := &fakeTarget{pid: 123, maps: [][]MemoryRegion{nil}, exitOn: -1}
	policy := RetryPolicy{Attempts: 5, Interval: time.Millisecond, sleep: func(time.Duration) {}}

	r := NewResolver()
	_, err := r.resolve(ft, "libmylib.so", "my_traced_function", policy)
	var mnf *ModuleNotFoundError
	require.ErrorAs(t, err, &mnf)
	assert.Equal(t, 5, mnf.Attempts)
	// attempts are bounded: 4 resume/stop cycles for 5 polls
	assert.Equal(t, 4, ft.continues)
}

func TestResolveTargetExitsWhileLoading(t *testing.T) {
	ft := &fakeTarget{pid: 123, maps: [][]MemoryRegion{nil, nil}, exitOn: 0}
	policy := RetryPolicy{Attempts: 5, Interval: time.Millisecond, sleep: func(time.Duration) {}}

	r := NewResolver()
	_, err := r.resolve(ft, "libmylib.so", "my_traced_function", policy)
	var mnf *ModuleNotFoundError
	require.ErrorAs(t, err, &mnf)
}

func TestResolveCaches(t *testing.T) {
	// point the module path at a real shared object so the symbol lookup succeeds
	libc := findLibc(t)
	regions := []MemoryRegion{
		{Start: 0x7f0000000000, End: 0x7f0000200000, Read: true, Exec: true, Offset: 0, Path: libc},
	}
	ft := &fakeTarget{pid: 123, maps: [][]MemoryRegion{regions}, exitOn: -1}
	policy := RetryPolicy{Attempts: 1, sleep: func(time.Duration) {}}

	r := NewResolver()
	first, err := r.resolve(ft, filepath.Base(libc), "malloc", policy)
	require.NoError(t, err)
	assert.Equal(t, first.ModuleBase+first.Offset, first.Address)

	// second resolution is served from cache without polling again
	polls := ft.polls
	second, err := r.resolve(ft, filepath.Base(libc), "malloc", policy)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, polls, ft.polls)
}

func TestElfSymbolOffset(t *testing.T) {
	libc := findLibc(t)

	off, err := elfSymbolOffset(libc, "malloc")
	require.NoError(t, err)
	assert.NotZero(t, off)

	_, err = elfSymbolOffset(libc, "definitely_not_a_symbol")
	var snf *SymbolNotFoundError
	require.ErrorAs(t, err, &snf)
}

func findLibc(t *testing.T) string {
	t.Helper()
	candidates := []string{
		"/lib/x86_64-linux-gnu/libc.so.6",
		"/usr/lib/x86_64-linux-gnu/libc.so.6",
		"/usr/lib64/libc.so.6",
		"/lib64/libc.so.6",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	t.Skip("no libc.so.6 found")
	return ""
}
