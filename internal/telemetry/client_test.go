package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/sweeney/garden-controller/internal/logic"
)

var testNow = time.Date(2026, 6, 1, 8, 20, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(ts.Close)

	cfg := DefaultConfig()
	cfg.EcowittURL = ts.URL + "/api/v3"
	cfg.WeatherAPIURL = ts.URL + "/v1"
	cfg.ApplicationKey = "app"
	cfg.APIKey = "key"
	cfg.MAC = "AA:BB"
	cfg.WeatherAPIKey = "wkey"
	cfg.Latitude = 45.5
	cfg.Longitude = -73.6

	c := NewClient(cfg)
	c.now = func() time.Time { return testNow }
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c, &hits
}

func TestSoilMoisture(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/device/real_time" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("call_back") != "soil_ch1.soilmoisture" || q.Get("mac") != "AA:BB" || q.Get("application_key") != "app" {
			t.Errorf("unexpected query: %v", q)
		}
		fmt.Fprint(w, `{"code":0,"msg":"success","data":{"soil_ch1":{"soilmoisture":{"time":"1717229000","unit":"%","value":"37.5"}}}}`)
	})

	v, err := c.SoilMoisture(context.Background(), logic.ZoneTomato)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 37.5 {
		t.Errorf("got %v, want 37.5", v)
	}
}

func TestSoilMoistureErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		zone logic.Zone
		want error
	}{
		{"missing channel", `{"code":0,"data":{}}`, logic.ZoneGarden, ErrMalformed},
		{"bad value", `{"code":0,"data":{"soil_ch3":{"soilmoisture":{"value":"n/a"}}}}`, logic.ZoneGarden, ErrMalformed},
		{"not json", `<html>`, logic.ZoneGarden, ErrMalformed},
		{"no sensor", `{}`, logic.ZoneAnnex, ErrNoChannel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})
			_, err := c.SoilMoisture(context.Background(), tt.zone)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSoilMoistureAPIErrorCode(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":40010,"msg":"Illegal Application_Key Parameter","data":[]}`)
	})
	_, err := c.SoilMoisture(context.Background(), logic.ZoneTomato)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls int32
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"code":0,"data":{"soil_ch1":{"soilmoisture":{"value":"41"}}}}`)
	})

	v, err := c.SoilMoisture(context.Background(), logic.ZoneTomato)
	if err != nil || v != 41 {
		t.Fatalf("got (%v, %v), want 41", v, err)
	}
	if n := atomic.LoadInt32(hits); n != 2 {
		t.Errorf("expected 2 requests, got %d", n)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	if _, err := c.RainForecast(context.Background(), 12); err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c.cfg.Retries = 1

	for i := 0; i < 3; i++ {
		if _, err := c.SoilMoisture(context.Background(), logic.ZoneTomato); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	_, err := c.SoilMoisture(context.Background(), logic.ZoneTomato)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected open breaker, got %v", err)
	}
	if n := atomic.LoadInt32(hits); n != 3 {
		t.Errorf("open breaker should not reach the server, got %d requests", n)
	}

	// The forecast API has its own breaker.
	if _, err := c.RainForecast(context.Background(), 12); errors.Is(err, gobreaker.ErrOpenState) {
		t.Error("weather breaker should still be closed")
	}
}

func TestRainHistory(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("start_date") != "2026-05-31 20:20:00" || q.Get("end_date") != "2026-06-01 08:20:00" {
			t.Errorf("unexpected window: %s .. %s", q.Get("start_date"), q.Get("end_date"))
		}
		if q.Get("call_back") != "rainfall" {
			t.Errorf("call_back: got %q", q.Get("call_back"))
		}
		fmt.Fprint(w, `{"code":0,"data":{"rainfall":{"rain_rate":{"unit":"mm/hr","list":{"1":"0.5","2":"1.25","3":"0"}}}}}`)
	})

	v, err := c.RainHistory(context.Background(), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1.75 {
		t.Errorf("got %v, want 1.75", v)
	}
}

func TestRainHistoryMissingData(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"data":{}}`)
	})
	if _, err := c.RainHistory(context.Background(), 12); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestStationHistoryAveragesLastHour(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/api/v3/device/history" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if q.Get("start_date") != "2026-06-01 07:20:00" || q.Get("end_date") != "2026-06-01 08:20:00" {
			t.Errorf("unexpected window: %s .. %s", q.Get("start_date"), q.Get("end_date"))
		}
		if q.Get("temp_unitid") != "1" || q.Get("wind_speed_unitid") != "7" || q.Get("solar_irradiance_unitid") != "16" {
			t.Errorf("units: %v", q)
		}
		fmt.Fprint(w, `{"code":0,"data":{
			"outdoor":{"temperature":{"unit":"℃","list":{"1":"18.0","2":"20.0"}},"humidity":{"unit":"%","list":{"1":"60","2":"70","3":"80"}}},
			"wind":{"wind_speed":{"unit":"km/h","list":{"1":"4.5"}}},
			"solar_and_uvi":{"solar":{"unit":"W/m²","list":{}}}}}`)
	})

	st, err := c.StationHistory(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Temperature == nil || *st.Temperature != 19 {
		t.Errorf("temperature: got %v, want 19", st.Temperature)
	}
	if st.Humidity == nil || *st.Humidity != 70 {
		t.Errorf("humidity: got %v, want 70", st.Humidity)
	}
	if st.WindSpeed == nil || *st.WindSpeed != 4.5 {
		t.Errorf("wind: got %v, want 4.5", st.WindSpeed)
	}
	if st.Solar != nil {
		t.Errorf("empty solar series should be nil, got %v", *st.Solar)
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Errorf("expected one request, got %d", n)
	}
}

func TestStationHistoryErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no series", `{"code":0,"data":{}}`},
		{"bad sample", `{"code":0,"data":{"outdoor":{"temperature":{"list":{"1":"warm"}}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})
			if _, err := c.StationHistory(context.Background(), 1); !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestRainForecastSumsNextHours(t *testing.T) {
	base := testNow.Truncate(time.Hour)
	var hours []string
	// 24 hours starting 2h in the past, 1mm each.
	for i := -2; i < 22; i++ {
		hours = append(hours, fmt.Sprintf(`{"time_epoch":%d,"precip_mm":1}`, base.Add(time.Duration(i)*time.Hour).Unix()))
	}
	body := fmt.Sprintf(`{"forecast":{"forecastday":[{"hour":[%s]}]}}`, strings.Join(hours, ","))

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/forecast.json" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if q := r.URL.Query(); q.Get("key") != "wkey" || q.Get("q") != "45.5,-73.6" {
			t.Errorf("unexpected query: %v", q)
		}
		fmt.Fprint(w, body)
	})

	v, err := c.RainForecast(context.Background(), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 12 {
		t.Errorf("got %v, want 12", v)
	}
}

func TestRainForecastNoDays(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"forecast":{"forecastday":[]}}`)
	})
	if _, err := c.RainForecast(context.Background(), 12); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}
