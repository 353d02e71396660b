package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sweeney/garden-controller/internal/logic"
	"github.com/sweeney/garden-controller/internal/notify"
)

// Guard alerts on telemetry failures without flooding the operator: each
// zone (and each rain feed) alerts once, then stays quiet until it recovers
// or ResetAlerts is called.
type Guard struct {
	p    Provider
	sink notify.Sink

	mu       sync.Mutex
	reported map[string]bool
}

// NewGuard wraps p.
func NewGuard(p Provider, sink notify.Sink) *Guard {
	return &Guard{p: p, sink: sink, reported: make(map[string]bool)}
}

// SoilMoisture forwards to the provider and alerts on the first failure.
// A zone without a sensor is not monitored and never alerts.
func (g *Guard) SoilMoisture(ctx context.Context, zone logic.Zone) (float64, error) {
	v, err := g.p.SoilMoisture(ctx, zone)
	if errors.Is(err, ErrNoChannel) {
		return v, err
	}
	g.observe("moisture:"+string(zone), err,
		fmt.Sprintf("Soil moisture unavailable for %s", zone))
	return v, err
}

// RainForecast forwards to the provider and alerts on the first failure.
func (g *Guard) RainForecast(ctx context.Context, hours int) (float64, error) {
	v, err := g.p.RainForecast(ctx, hours)
	g.observe("forecast", err, "Rain forecast unavailable")
	return v, err
}

// RainHistory forwards to the provider and alerts on the first failure.
func (g *Guard) RainHistory(ctx context.Context, hours int) (float64, error) {
	v, err := g.p.RainHistory(ctx, hours)
	g.observe("history", err, "Rain history unavailable")
	return v, err
}

// StationHistory forwards to the provider and alerts on the first failure.
func (g *Guard) StationHistory(ctx context.Context, hours int) (Station, error) {
	st, err := g.p.StationHistory(ctx, hours)
	g.observe("station", err, "Weather station history unavailable")
	return st, err
}

func (g *Guard) observe(key string, err error, subject string) {
	g.mu.Lock()
	if err == nil {
		g.reported[key] = false
		g.mu.Unlock()
		return
	}
	first := !g.reported[key]
	g.reported[key] = true
	g.mu.Unlock()

	log.Printf("telemetry: %s: %v", key, err)
	if first {
		g.sink.Notify(subject, err.Error())
	}
}

// ResetAlerts re-arms every alert. Run once a day.
func (g *Guard) ResetAlerts() {
	g.mu.Lock()
	g.reported = make(map[string]bool)
	g.mu.Unlock()
	log.Printf("telemetry: reported errors reset")
}
