// Package probe turns raw ultrasonic readings into a tank level estimate.
package probe

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/garden-controller/internal/gpio"
	"github.com/sweeney/garden-controller/internal/logic"
	"github.com/sweeney/garden-controller/internal/notify"
)

// Config holds the tank geometry and sampling parameters.
type Config struct {
	Samples         int           // readings per estimate
	Ceiling         float64       // cm; farther readings are invalid
	ReferenceHeight float64       // cm from sensor to tank floor
	Fallback        float64       // level reported when every reading fails
	Pause           time.Duration // gap between pulses so echoes do not overlap
}

// DefaultConfig matches the installed 95cm tank.
func DefaultConfig() Config {
	return Config{
		Samples:         5,
		Ceiling:         98,
		ReferenceHeight: 95,
		Fallback:        10,
		Pause:           60 * time.Millisecond,
	}
}

// Probe samples the tank level. It never returns an error: a dead sensor
// yields the fallback level and one alert per failed estimate.
type Probe struct {
	sensor gpio.RangeFinder
	notify notify.Sink
	cfg    Config
	sleep  func(ctx context.Context, d time.Duration)
}

// New creates a Probe reading from sensor.
func New(sensor gpio.RangeFinder, sink notify.Sink, cfg Config) *Probe {
	return &Probe{sensor: sensor, notify: sink, cfg: cfg, sleep: sleepCtx}
}

// Level takes a burst of readings and returns the averaged estimate.
// A cancelled ctx ends the burst early with the fallback level and no alert;
// callers that cancel discard the estimate.
func (p *Probe) Level(ctx context.Context) logic.LevelEstimate {
	samples := make([]logic.LevelSample, 0, p.cfg.Samples)
	for i := 0; i < p.cfg.Samples; i++ {
		if i > 0 && p.cfg.Pause > 0 {
			p.sleep(ctx, p.cfg.Pause)
		}
		if ctx.Err() != nil {
			return p.cancelled(ctx, i)
		}
		s, err := p.sensor.Sample(ctx)
		if err != nil && ctx.Err() != nil {
			return p.cancelled(ctx, i)
		}
		if err != nil {
			log.Printf("probe: reading %d failed: %v", i+1, err)
			s = logic.LevelSample{}
		} else if s.Valid && s.Distance > p.cfg.Ceiling {
			s.Valid = false
		}
		samples = append(samples, s)
	}

	est := logic.EstimateLevel(samples, p.cfg.ReferenceHeight, p.cfg.Fallback)
	if est.Fallback {
		log.Printf("probe: all %d readings invalid, using fallback level %.1f", p.cfg.Samples, est.Level)
		p.notify.Notify("Tank level sensor failure",
			fmt.Sprintf("All %d distance readings were invalid. Using fallback level %.1f cm.", p.cfg.Samples, est.Level))
		return est
	}
	log.Printf("probe: level %.1f cm from %d/%d readings", est.Level, est.Valid, p.cfg.Samples)
	return est
}

func (p *Probe) cancelled(ctx context.Context, taken int) logic.LevelEstimate {
	log.Printf("probe: cancelled after %d/%d readings: %v", taken, p.cfg.Samples, ctx.Err())
	return logic.LevelEstimate{Level: p.cfg.Fallback, Fallback: true}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
