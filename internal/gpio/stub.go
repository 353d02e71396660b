//go:build !linux

package gpio

import (
	"context"
	"time"

	"github.com/sweeney/garden-controller/internal/logic"
)

// RealRelayBank is not available on non-Linux platforms.
type RealRelayBank struct{}

// NewRealRelayBank returns ErrNotSupported on non-Linux platforms.
func NewRealRelayBank(chipName string, pins map[string]int, activeLow bool) (*RealRelayBank, error) {
	return nil, ErrNotSupported
}

func (b *RealRelayBank) Activate(name string) error   { return ErrNotSupported }
func (b *RealRelayBank) Deactivate(name string) error { return ErrNotSupported }
func (b *RealRelayBank) Names() []string              { return nil }
func (b *RealRelayBank) Close() error                 { return nil }

// RealButtonWatcher is not available on non-Linux platforms.
type RealButtonWatcher struct{}

// NewRealButtonWatcher returns ErrNotSupported on non-Linux platforms.
func NewRealButtonWatcher(chipName string, pins []int, debounce time.Duration) (*RealButtonWatcher, error) {
	return nil, ErrNotSupported
}

func (w *RealButtonWatcher) Presses() <-chan logic.Press { return nil }
func (w *RealButtonWatcher) Close() error                { return nil }

// RealRangeFinder is not available on non-Linux platforms.
type RealRangeFinder struct{}

// NewRealRangeFinder returns ErrNotSupported on non-Linux platforms.
func NewRealRangeFinder(chipName string, trigPin, echoPin int, ceiling float64) (*RealRangeFinder, error) {
	return nil, ErrNotSupported
}

func (r *RealRangeFinder) Sample(ctx context.Context) (logic.LevelSample, error) {
	return logic.LevelSample{}, ErrNotSupported
}
func (r *RealRangeFinder) Close() error { return nil }
