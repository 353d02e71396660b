// Package gpio drives the irrigation hardware with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"context"
	"errors"

	"github.com/sweeney/garden-controller/internal/logic"
)

// ErrNotSupported is returned by the real drivers on non-Linux platforms.
var ErrNotSupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RelayBank switches named relays. Activate and Deactivate are idempotent.
type RelayBank interface {
	Activate(name string) error
	Deactivate(name string) error

	// Names returns every relay the bank controls.
	Names() []string

	// Close drives every relay off and releases GPIO resources.
	Close() error
}

// RangeFinder takes single readings from the tank ultrasonic sensor.
type RangeFinder interface {
	// Sample fires one pulse and waits, bounded by a timeout, for the echo.
	// A timed-out or out-of-range echo is an invalid sample, not an error.
	Sample(ctx context.Context) (logic.LevelSample, error)

	Close() error
}

// ButtonWatcher reports presses of the physical buttons.
type ButtonWatcher interface {
	Presses() <-chan logic.Press
	Close() error
}

// Relay names used in configuration.
const (
	RelayTomato    = "tomato"
	RelayGarden    = "garden"
	RelayAnnex     = "annex"
	RelayTankValve = "tank_valve"
	RelayPump      = "pump"
	RelayCityMain  = "city_main"
)

// Default pin definitions (BCM numbering)
const (
	PinTomato    = 17
	PinGarden    = 27
	PinAnnex     = 22
	PinTankValve = 23
	PinPump      = 24
	PinCityMain  = 25

	PinButtonTomato = 5
	PinButtonGarden = 6
	PinButtonAnnex  = 13
	PinButtonStop   = 19

	PinTrigger = 20
	PinEcho    = 21
)

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"
