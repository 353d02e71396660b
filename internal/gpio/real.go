//go:build linux

package gpio

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/garden-controller/internal/logic"
)

// RealRelayBank drives relay boards wired to output lines.
type RealRelayBank struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines map[string]*gpiocdev.Line
}

// NewRealRelayBank requests every pin as an output, initially off.
// activeLow suits the common opto-isolated boards that switch on a low level.
func NewRealRelayBank(chipName string, pins map[string]int, activeLow bool) (*RealRelayBank, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	b := &RealRelayBank{chip: chip, lines: make(map[string]*gpiocdev.Line, len(pins))}
	for name, pin := range pins {
		opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0), gpiocdev.WithConsumer("garden-" + name)}
		if activeLow {
			opts = append(opts, gpiocdev.AsActiveLow)
		}
		line, err := chip.RequestLine(pin, opts...)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request relay %s pin %d: %w", name, pin, err)
		}
		b.lines[name] = line
	}
	return b, nil
}

// Activate energizes the named relay.
func (b *RealRelayBank) Activate(name string) error {
	return b.set(name, 1)
}

// Deactivate releases the named relay.
func (b *RealRelayBank) Deactivate(name string) error {
	return b.set(name, 0)
}

func (b *RealRelayBank) set(name string, v int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	line, ok := b.lines[name]
	if !ok {
		return fmt.Errorf("unknown relay %q", name)
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set relay %s=%d: %w", name, v, err)
	}
	return nil
}

// Names returns the relay names in sorted order.
func (b *RealRelayBank) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.lines))
	for name := range b.lines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close drives every relay off, then returns the lines to inputs so the
// boards stay released across a reboot.
func (b *RealRelayBank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for name, line := range b.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release relay %s: %w", name, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure relay %s: %w", name, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay %s: %w", name, err))
		}
	}
	b.lines = nil
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		b.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealButtonWatcher delivers falling edges from pulled-up push buttons.
type RealButtonWatcher struct {
	lines   *gpiocdev.Lines
	presses chan logic.Press
}

// NewRealButtonWatcher requests the button pins with the kernel debouncer set
// to debounce. Presses are dropped when the consumer falls behind.
func NewRealButtonWatcher(chipName string, pins []int, debounce time.Duration) (*RealButtonWatcher, error) {
	w := &RealButtonWatcher{presses: make(chan logic.Press, 16)}

	lines, err := gpiocdev.RequestLines(chipName, pins,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithDebounce(debounce),
		gpiocdev.WithConsumer("garden-buttons"),
		gpiocdev.WithEventHandler(w.handle),
	)
	if err != nil {
		return nil, fmt.Errorf("request button pins %v: %w", pins, err)
	}
	w.lines = lines
	return w, nil
}

func (w *RealButtonWatcher) handle(evt gpiocdev.LineEvent) {
	select {
	case w.presses <- logic.Press{Pin: evt.Offset, Time: time.Now()}:
	default:
	}
}

// Presses returns the channel of button presses.
func (w *RealButtonWatcher) Presses() <-chan logic.Press {
	return w.presses
}

// Close releases the button lines.
func (w *RealButtonWatcher) Close() error {
	if w.lines == nil {
		return nil
	}
	err := w.lines.Close()
	w.lines = nil
	if err != nil {
		return fmt.Errorf("close button lines: %w", err)
	}
	return nil
}
