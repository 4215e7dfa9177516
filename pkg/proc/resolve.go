package proc

import (
	"debug/elf"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/bptrace/bptrace/pkg/logflags"
)

// ResolvedSymbol is the runtime location of a symbol inside the target.
// It is immutable after resolution and becomes stale if the target
// reloads the module.
type ResolvedSymbol struct {
	ModuleBase uint64
	ModulePath string
	Offset     uint64
	Address    uint64
}

// RetryPolicy bounds the polling done while the target's dynamic loader
// finishes mapping the module.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration

	sleep func(time.Duration)
}

// DefaultRetryPolicy polls for roughly two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 20, Interval: 100 * time.Millisecond}
}

// Resolver computes runtime symbol addresses, caching results per
// process/module/symbol.
type Resolver struct {
	cache *lru.Cache
	log   *logrus.Entry
}

// NewResolver returns an empty Resolver.
func NewResolver() *Resolver {
	cache, _ := lru.New(64)
	return &Resolver{cache: cache, log: logflags.TracerLogger()}
}

// resolveTarget is the slice of Process the resolver needs; tests provide
// fakes.
type resolveTarget interface {
	Pid() int
	MemoryMap() ([]MemoryRegion, error)
	Continue(sig int) error
	stopAndWait() error
}

// Resolve determines the absolute runtime address of symbol inside the
// module whose mapped path contains fragment. The target must be stopped;
// it is briefly resumed between map polls and is stopped again when
// Resolve returns.
func (r *Resolver) Resolve(p *Process, fragment, symbol string, policy RetryPolicy) (*ResolvedSymbol, error) {
	return r.resolve(p, fragment, symbol, policy)
}

func (r *Resolver) resolve(t resolveTarget, fragment, symbol string, policy RetryPolicy) (*ResolvedSymbol, error) {
	key := fmt.Sprintf("%d:%s:%s", t.Pid(), fragment, symbol)
	if v, ok := r.cache.Get(key); ok {
		return v.(*ResolvedSymbol), nil
	}

	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := policy.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var (
		base  uint64
		path  string
		found bool
	)
	for i := 0; i < attempts; i++ {
		regions, err := t.MemoryMap()
		if err != nil {
			return nil, err
		}
		if b, pth, ok := findModule(regions, fragment); ok {
			base, path, found = b, pth, true
			break
		}
		if i == attempts-1 {
			break
		}
		// let the dynamic loader make progress before the next poll
		if err := t.Continue(0); err != nil {
			if isExited(err) {
				return nil, &ModuleNotFoundError{Fragment: fragment, Attempts: i + 1}
			}
			return nil, err
		}
		sleep(policy.Interval)
		if err := t.stopAndWait(); err != nil {
			if isExited(err) {
				return nil, &ModuleNotFoundError{Fragment: fragment, Attempts: i + 1}
			}
			return nil, err
		}
	}
	if !found {
		return nil, &ModuleNotFoundError{Fragment: fragment, Attempts: attempts}
	}

	offset, err := elfSymbolOffset(path, symbol)
	if err != nil {
		return nil, err
	}

	rs := &ResolvedSymbol{
		ModuleBase: base,
		ModulePath: path,
		Offset:     offset,
		Address:    base + offset,
	}
	r.cache.Add(key, rs)
	r.log.Debugf("resolved %s!%s to %#x (base %#x + offset %#x)", path, symbol, rs.Address, base, offset)
	return rs, nil
}

func isExited(err error) bool {
	var pe ProcessExitedError
	return errors.As(err, &pe)
}

// elfSymbolOffset loads the shared object independently and computes the
// symbol's load-relative offset from its dynamic symbol table. This
// reuses the linker's view of the file instead of parsing the target's
// memory.
func elfSymbolOffset(path, symbol string) (uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("could not open module %s: %w", path, err)
	}
	defer f.Close()

	syms, err := f.DynamicSymbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return 0, &SymbolNotFoundError{Symbol: symbol, Path: path}
		}
		return 0, err
	}

	minVaddr := ^uint64(0)
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD && prog.Vaddr < minVaddr {
			minVaddr = prog.Vaddr
		}
	}
	if minVaddr == ^uint64(0) {
		minVaddr = 0
	}

	for _, sym := range syms {
		if sym.Name != symbol || sym.Section == elf.SHN_UNDEF {
			continue
		}
		return sym.Value - minVaddr, nil
	}
	return 0, &SymbolNotFoundError{Symbol: symbol, Path: path}
}
