package proc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// MemoryRegion is one mapping from the target's /proc/<pid>/maps.
type MemoryRegion struct {
	Start  uint64
	End    uint64
	Read   bool
	Write  bool
	Exec   bool
	Offset uint64
	Path   string
}

// MemoryMap returns the target's current virtual memory map.
func (p *Process) MemoryMap() ([]MemoryRegion, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseProcMaps(f)
}

func parseProcMaps(r io.Reader) ([]MemoryRegion, error) {
	var regions []MemoryRegion
	scan := bufio.NewScanner(r)
	for lineno := 1; scan.Scan(); lineno++ {
		line := scan.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			return nil, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (wrong number of fields)", lineno, line)
		}
		addrs := strings.Split(fields[0], "-")
		if len(addrs) != 2 {
			return nil, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (bad address range)", lineno, line)
		}
		start, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, line, err)
		}
		end, err := strconv.ParseUint(addrs[1], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, line, err)
		}
		perms := fields[1]
		if len(perms) < 4 {
			return nil, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (permissions column too short)", lineno, line)
		}
		offset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, line, err)
		}
		var path string
		if len(fields) > 5 {
			path = strings.Join(fields[5:], " ")
		}
		regions = append(regions, MemoryRegion{
			Start:  start,
			End:    end,
			Read:   perms[0] == 'r',
			Write:  perms[1] == 'w',
			Exec:   perms[2] == 'x',
			Offset: offset,
			Path:   path,
		})
	}
	return regions, scan.Err()
}

// findModule scans regions for a module whose path contains fragment. The
// module counts as loaded only once an executable mapping of it exists;
// the returned base is the lowest address the file is mapped at.
func findModule(regions []MemoryRegion, fragment string) (base uint64, path string, ok bool) {
	hasExec := false
	for _, r := range regions {
		if r.Path == "" || !strings.Contains(r.Path, fragment) {
			continue
		}
		if !ok || r.Start < base {
			base = r.Start
		}
		if r.Exec {
			hasExec = true
			path = r.Path
		}
		ok = true
	}
	if !hasExec {
		return 0, "", false
	}
	return base, path, true
}
