// Package telemetry fetches soil moisture and rain data from the Ecowitt
// weather station cloud and the weatherapi.com forecast service.
package telemetry

import (
	"context"
	"errors"

	"github.com/sweeney/garden-controller/internal/logic"
)

// Provider is the source of remote telemetry. Every call may fail; callers
// decide on defaults.
type Provider interface {
	SoilMoisture(ctx context.Context, zone logic.Zone) (float64, error)
	RainForecast(ctx context.Context, hours int) (float64, error)
	RainHistory(ctx context.Context, hours int) (float64, error)
	StationHistory(ctx context.Context, hours int) (Station, error)
}

// Station holds outdoor sensor averages. Nil fields were not reported.
type Station struct {
	Temperature *float64 // °C
	Humidity    *float64 // %
	WindSpeed   *float64 // km/h
	Solar       *float64 // W/m²
}

// Empty reports whether no series was present.
func (s Station) Empty() bool {
	return s.Temperature == nil && s.Humidity == nil && s.WindSpeed == nil && s.Solar == nil
}

var (
	// ErrNoChannel is returned for zones without a moisture sensor.
	ErrNoChannel = errors.New("telemetry: zone has no moisture channel")

	// ErrMalformed is returned when a response lacks the expected fields.
	ErrMalformed = errors.New("telemetry: malformed response")
)
