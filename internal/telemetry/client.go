package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/sweeney/garden-controller/internal/logic"
)

// Config holds API endpoints and credentials.
type Config struct {
	EcowittURL     string
	ApplicationKey string
	APIKey         string
	MAC            string
	Channels       map[logic.Zone]string // zone -> soil channel, e.g. "soil_ch1"

	WeatherAPIURL string
	WeatherAPIKey string
	Latitude      float64
	Longitude     float64

	Timeout time.Duration // per HTTP request
	Retries int           // attempts per call, including the first
}

// DefaultConfig returns the public endpoints and the installed channel map.
func DefaultConfig() Config {
	return Config{
		EcowittURL: "https://api.ecowitt.net/api/v3",
		Channels: map[logic.Zone]string{
			logic.ZoneTomato: "soil_ch1",
			logic.ZoneGarden: "soil_ch3",
		},
		WeatherAPIURL: "http://api.weatherapi.com/v1",
		Timeout:       10 * time.Second,
		Retries:       3,
	}
}

// Client talks to both services. Each service sits behind its own circuit
// breaker so a dead API fails fast instead of stalling every scheduled run.
type Client struct {
	cfg        Config
	http       *http.Client
	ecowitt    *gobreaker.CircuitBreaker
	weather    *gobreaker.CircuitBreaker
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// NewClient creates a Client for cfg.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		ecowitt: newBreaker("ecowitt"),
		weather: newBreaker("weatherapi"),
		now:     time.Now,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxElapsedTime = 30 * time.Second
			return bo
		},
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: 10 * time.Minute,
		Timeout:  time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})
}

type ecowittValue struct {
	Time  string `json:"time"`
	Unit  string `json:"unit"`
	Value string `json:"value"`
}

type ecowittRealtime struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data map[string]struct {
		SoilMoisture *ecowittValue `json:"soilmoisture"`
	} `json:"data"`
}

type ecowittSeries struct {
	Unit string            `json:"unit"`
	List map[string]string `json:"list"`
}

type ecowittHistory struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Rainfall *struct {
			RainRate *ecowittSeries `json:"rain_rate"`
		} `json:"rainfall"`
		Outdoor *struct {
			Temperature *ecowittSeries `json:"temperature"`
			Humidity    *ecowittSeries `json:"humidity"`
		} `json:"outdoor"`
		Wind *struct {
			WindSpeed *ecowittSeries `json:"wind_speed"`
		} `json:"wind"`
		SolarAndUVI *struct {
			Solar *ecowittSeries `json:"solar"`
		} `json:"solar_and_uvi"`
	} `json:"data"`
}

type forecastResponse struct {
	Forecast struct {
		ForecastDay []struct {
			Hour []struct {
				TimeEpoch int64   `json:"time_epoch"`
				PrecipMM  float64 `json:"precip_mm"`
			} `json:"hour"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

// SoilMoisture returns the current moisture percentage for zone.
func (c *Client) SoilMoisture(ctx context.Context, zone logic.Zone) (float64, error) {
	channel, ok := c.cfg.Channels[zone]
	if !ok || channel == "" {
		return 0, fmt.Errorf("%s: %w", zone, ErrNoChannel)
	}

	params := c.ecowittParams()
	params.Set("call_back", channel+".soilmoisture")

	var resp ecowittRealtime
	if err := c.get(ctx, c.ecowitt, c.cfg.EcowittURL+"/device/real_time", params, &resp); err != nil {
		return 0, fmt.Errorf("soil moisture %s: %w", zone, err)
	}
	if resp.Code != 0 {
		return 0, fmt.Errorf("soil moisture %s: ecowitt code %d: %s", zone, resp.Code, resp.Msg)
	}
	ch, ok := resp.Data[channel]
	if !ok || ch.SoilMoisture == nil {
		return 0, fmt.Errorf("soil moisture %s: %s missing: %w", zone, channel, ErrMalformed)
	}
	v, err := strconv.ParseFloat(ch.SoilMoisture.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("soil moisture %s: value %q: %w", zone, ch.SoilMoisture.Value, ErrMalformed)
	}
	return logic.ClampPercent(v), nil
}

// RainHistory sums the station's rain rate samples over the last hours.
func (c *Client) RainHistory(ctx context.Context, hours int) (float64, error) {
	params := c.historyParams(hours)
	params.Set("call_back", "rainfall")
	params.Set("rainfall_unitid", "12") // mm

	var resp ecowittHistory
	if err := c.get(ctx, c.ecowitt, c.cfg.EcowittURL+"/device/history", params, &resp); err != nil {
		return 0, fmt.Errorf("rain history: %w", err)
	}
	if resp.Code != 0 {
		return 0, fmt.Errorf("rain history: ecowitt code %d: %s", resp.Code, resp.Msg)
	}
	if resp.Data.Rainfall == nil || resp.Data.Rainfall.RainRate == nil {
		return 0, fmt.Errorf("rain history: rain_rate missing: %w", ErrMalformed)
	}

	total, _, err := sumSeries(resp.Data.Rainfall.RainRate)
	if err != nil {
		return 0, fmt.Errorf("rain history: %w", err)
	}
	return total, nil
}

// StationHistory averages the outdoor sensors over the last hours in one
// history call. A series the station did not report is left nil.
func (c *Client) StationHistory(ctx context.Context, hours int) (Station, error) {
	params := c.historyParams(hours)
	params.Set("call_back", "outdoor.temperature,outdoor.humidity,wind.wind_speed,solar_and_uvi.solar")
	params.Set("temp_unitid", "1")              // °C
	params.Set("wind_speed_unitid", "7")        // km/h
	params.Set("solar_irradiance_unitid", "16") // W/m²

	var resp ecowittHistory
	if err := c.get(ctx, c.ecowitt, c.cfg.EcowittURL+"/device/history", params, &resp); err != nil {
		return Station{}, fmt.Errorf("station history: %w", err)
	}
	if resp.Code != 0 {
		return Station{}, fmt.Errorf("station history: ecowitt code %d: %s", resp.Code, resp.Msg)
	}

	d := resp.Data
	var st Station
	var err error
	if d.Outdoor != nil {
		if st.Temperature, err = averageSeries(d.Outdoor.Temperature); err != nil {
			return Station{}, fmt.Errorf("station history: temperature: %w", err)
		}
		if st.Humidity, err = averageSeries(d.Outdoor.Humidity); err != nil {
			return Station{}, fmt.Errorf("station history: humidity: %w", err)
		}
	}
	if d.Wind != nil {
		if st.WindSpeed, err = averageSeries(d.Wind.WindSpeed); err != nil {
			return Station{}, fmt.Errorf("station history: wind speed: %w", err)
		}
	}
	if d.SolarAndUVI != nil {
		if st.Solar, err = averageSeries(d.SolarAndUVI.Solar); err != nil {
			return Station{}, fmt.Errorf("station history: solar: %w", err)
		}
	}
	if st.Empty() {
		return Station{}, fmt.Errorf("station history: no outdoor series: %w", ErrMalformed)
	}
	return st, nil
}

func sumSeries(s *ecowittSeries) (float64, int, error) {
	var total float64
	for ts, raw := range s.List {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("sample %s=%q: %w", ts, raw, ErrMalformed)
		}
		total += v
	}
	return total, len(s.List), nil
}

func averageSeries(s *ecowittSeries) (*float64, error) {
	if s == nil || len(s.List) == 0 {
		return nil, nil
	}
	total, n, err := sumSeries(s)
	if err != nil {
		return nil, err
	}
	avg := total / float64(n)
	return &avg, nil
}

// RainForecast sums forecast precipitation over the next hours.
func (c *Client) RainForecast(ctx context.Context, hours int) (float64, error) {
	params := url.Values{}
	params.Set("key", c.cfg.WeatherAPIKey)
	params.Set("q", fmt.Sprintf("%g,%g", c.cfg.Latitude, c.cfg.Longitude))
	params.Set("days", "2")

	var resp forecastResponse
	if err := c.get(ctx, c.weather, c.cfg.WeatherAPIURL+"/forecast.json", params, &resp); err != nil {
		return 0, fmt.Errorf("rain forecast: %w", err)
	}
	if len(resp.Forecast.ForecastDay) == 0 {
		return 0, fmt.Errorf("rain forecast: no forecastday: %w", ErrMalformed)
	}

	from := c.now().Truncate(time.Hour).Unix()
	to := from + int64(hours)*3600
	var total float64
	for _, day := range resp.Forecast.ForecastDay {
		for _, h := range day.Hour {
			if h.TimeEpoch >= from && h.TimeEpoch < to {
				total += h.PrecipMM
			}
		}
	}
	return total, nil
}

func (c *Client) ecowittParams() url.Values {
	params := url.Values{}
	params.Set("application_key", c.cfg.ApplicationKey)
	params.Set("api_key", c.cfg.APIKey)
	params.Set("mac", c.cfg.MAC)
	return params
}

func (c *Client) historyParams(hours int) url.Values {
	end := c.now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)
	params := c.ecowittParams()
	params.Set("start_date", start.Format("2006-01-02 15:04:05"))
	params.Set("end_date", end.Format("2006-01-02 15:04:05"))
	return params
}

// get performs a GET with retries inside the breaker. Client errors (4xx)
// and undecodable bodies are not retried.
func (c *Client) get(ctx context.Context, cb *gobreaker.CircuitBreaker, endpoint string, params url.Values, out interface{}) error {
	_, err := cb.Execute(func() (interface{}, error) {
		op := func() error {
			return c.fetch(ctx, endpoint, params, out)
		}
		attempts := c.cfg.Retries
		if attempts < 1 {
			attempts = 1
		}
		bo := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(attempts-1)), ctx)
		return nil, backoff.Retry(op, bo)
	})
	return err
}

func (c *Client) fetch(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode: %v: %w", err, ErrMalformed))
	}
	return nil
}
