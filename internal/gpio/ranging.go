//go:build linux

package gpio

import (
	"context"
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/garden-controller/internal/logic"
)

// RealRangeFinder drives an HC-SR04 style sensor: a 10us pulse on the
// trigger line, then an echo high for the round trip time.
type RealRangeFinder struct {
	trig    *gpiocdev.Line
	echo    *gpiocdev.Line
	edges   chan gpiocdev.LineEvent
	ceiling float64
	timeout time.Duration
}

// NewRealRangeFinder requests the trigger and echo pins. Echoes that would
// place the surface beyond ceiling cm are reported as invalid samples.
func NewRealRangeFinder(chipName string, trigPin, echoPin int, ceiling float64) (*RealRangeFinder, error) {
	r := &RealRangeFinder{
		edges:   make(chan gpiocdev.LineEvent, 8),
		ceiling: ceiling,
		timeout: logic.EchoTimeout(ceiling),
	}

	trig, err := gpiocdev.RequestLine(chipName, trigPin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("garden-trig"))
	if err != nil {
		return nil, fmt.Errorf("request trigger pin %d: %w", trigPin, err)
	}
	echo, err := gpiocdev.RequestLine(chipName, echoPin,
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithConsumer("garden-echo"),
		gpiocdev.WithEventHandler(r.handle),
	)
	if err != nil {
		trig.Close()
		return nil, fmt.Errorf("request echo pin %d: %w", echoPin, err)
	}
	r.trig = trig
	r.echo = echo
	return r, nil
}

func (r *RealRangeFinder) handle(evt gpiocdev.LineEvent) {
	select {
	case r.edges <- evt:
	default:
	}
}

// Sample fires one pulse and measures the echo width from kernel timestamps.
func (r *RealRangeFinder) Sample(ctx context.Context) (logic.LevelSample, error) {
	// Drop edges left over from a previous, timed-out pulse.
	for {
		select {
		case <-r.edges:
			continue
		default:
		}
		break
	}

	if err := r.trig.SetValue(1); err != nil {
		return logic.LevelSample{}, fmt.Errorf("trigger high: %w", err)
	}
	time.Sleep(10 * time.Microsecond)
	if err := r.trig.SetValue(0); err != nil {
		return logic.LevelSample{}, fmt.Errorf("trigger low: %w", err)
	}

	deadline := time.NewTimer(r.timeout)
	defer deadline.Stop()

	var rise time.Duration
	risen := false
	for {
		select {
		case <-ctx.Done():
			return logic.LevelSample{}, ctx.Err()
		case <-deadline.C:
			return logic.LevelSample{}, nil
		case evt := <-r.edges:
			switch evt.Type {
			case gpiocdev.LineEventRisingEdge:
				rise = evt.Timestamp
				risen = true
			case gpiocdev.LineEventFallingEdge:
				if !risen {
					continue
				}
				d := logic.DistanceFromEcho(evt.Timestamp - rise)
				return logic.ClassifyDistance(d, r.ceiling), nil
			}
		}
	}
}

// Close releases both lines.
func (r *RealRangeFinder) Close() error {
	var errs []error
	if r.echo != nil {
		if err := r.echo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close echo pin: %w", err))
		}
	}
	if r.trig != nil {
		if err := r.trig.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trigger pin: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
