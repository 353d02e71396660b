package gpio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sweeney/garden-controller/internal/logic"
)

// RelayOp is one recorded call on a FakeRelayBank.
type RelayOp struct {
	Name string
	On   bool
}

// FakeRelayBank is a test double that tracks relay states in memory.
// Safe for concurrent use.
type FakeRelayBank struct {
	mu     sync.Mutex
	names  []string
	on     map[string]bool
	ops    []RelayOp
	fail   map[string]error
	closed bool
}

// NewFakeRelayBank creates a bank with the given relay names, all off.
func NewFakeRelayBank(names ...string) *FakeRelayBank {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return &FakeRelayBank{
		names: sorted,
		on:    make(map[string]bool),
		fail:  make(map[string]error),
	}
}

// Activate turns the named relay on.
func (f *FakeRelayBank) Activate(name string) error {
	return f.set(name, true)
}

// Deactivate turns the named relay off.
func (f *FakeRelayBank) Deactivate(name string) error {
	return f.set(name, false)
}

func (f *FakeRelayBank) set(name string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known(name) {
		return fmt.Errorf("unknown relay %q", name)
	}
	// Failures only affect activation so tests can still observe cleanup.
	if err := f.fail[name]; err != nil && on {
		return err
	}
	f.on[name] = on
	f.ops = append(f.ops, RelayOp{Name: name, On: on})
	return nil
}

func (f *FakeRelayBank) known(name string) bool {
	for _, n := range f.names {
		if n == name {
			return true
		}
	}
	return false
}

// Names returns the relay names.
func (f *FakeRelayBank) Names() []string {
	return append([]string(nil), f.names...)
}

// Close turns every relay off and marks the bank closed.
func (f *FakeRelayBank) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.names {
		f.on[n] = false
	}
	f.closed = true
	return nil
}

// FailActivate makes Activate(name) return err until cleared with nil.
func (f *FakeRelayBank) FailActivate(name string, err error) {
	f.mu.Lock()
	f.fail[name] = err
	f.mu.Unlock()
}

// IsOn reports the current state of a relay.
func (f *FakeRelayBank) IsOn(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on[name]
}

// ActiveRelays returns the names of relays currently on, sorted.
func (f *FakeRelayBank) ActiveRelays() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active []string
	for _, n := range f.names {
		if f.on[n] {
			active = append(active, n)
		}
	}
	return active
}

// Ops returns every recorded relay call in order.
func (f *FakeRelayBank) Ops() []RelayOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RelayOp(nil), f.ops...)
}

// Activations counts how many times name was switched on.
func (f *FakeRelayBank) Activations(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, op := range f.ops {
		if op.Name == name && op.On {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (f *FakeRelayBank) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeRangeFinder is a test double that returns scripted samples.
type FakeRangeFinder struct {
	mu sync.Mutex

	// Samples contains scripted readings. Each call to Sample consumes the
	// next one; when exhausted the last is repeated.
	Samples []logic.LevelSample

	// Errors, if set, is consulted by index before Samples.
	Errors []error

	index  int
	calls  int
	Closed bool
}

// NewFakeRangeFinder creates a FakeRangeFinder with the given samples.
func NewFakeRangeFinder(samples ...logic.LevelSample) *FakeRangeFinder {
	return &FakeRangeFinder{Samples: samples}
}

// Sample returns the next scripted sample.
func (f *FakeRangeFinder) Sample(ctx context.Context) (logic.LevelSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	if i < len(f.Errors) && f.Errors[i] != nil {
		return logic.LevelSample{}, f.Errors[i]
	}
	if len(f.Samples) == 0 {
		return logic.LevelSample{}, errors.New("no samples configured")
	}
	s := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return s, nil
}

// Calls returns how many samples were taken.
func (f *FakeRangeFinder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Close marks the sensor as closed.
func (f *FakeRangeFinder) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// FakeButtonWatcher lets tests inject presses.
type FakeButtonWatcher struct {
	C      chan logic.Press
	closed bool
}

// NewFakeButtonWatcher creates a watcher with a buffered press channel.
func NewFakeButtonWatcher() *FakeButtonWatcher {
	return &FakeButtonWatcher{C: make(chan logic.Press, 16)}
}

// Presses returns the press channel.
func (f *FakeButtonWatcher) Presses() <-chan logic.Press {
	return f.C
}

// Close closes the press channel once.
func (f *FakeButtonWatcher) Close() error {
	if !f.closed {
		f.closed = true
		close(f.C)
	}
	return nil
}
