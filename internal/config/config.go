// Package config loads the controller configuration from a YAML file, with
// secrets and endpoints overridable from the environment (and a .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v2"

	"github.com/sweeney/garden-controller/internal/gpio"
	"github.com/sweeney/garden-controller/internal/logic"
	"github.com/sweeney/garden-controller/internal/mqtt"
	"github.com/sweeney/garden-controller/internal/notify"
	"github.com/sweeney/garden-controller/internal/orchestrator"
	"github.com/sweeney/garden-controller/internal/probe"
	"github.com/sweeney/garden-controller/internal/telemetry"
)

// DefaultPath is where the daemon looks for its config file.
const DefaultPath = "/etc/garden-controller/config.yaml"

// Environment overrides.
const (
	EnvSMTPUsername   = "GARDEN_SMTP_USERNAME"
	EnvSMTPPassword   = "GARDEN_SMTP_PASSWORD"
	EnvEcowittAppKey  = "GARDEN_ECOWITT_APP_KEY"
	EnvEcowittAPIKey  = "GARDEN_ECOWITT_API_KEY"
	EnvEcowittMAC     = "GARDEN_ECOWITT_MAC"
	EnvWeatherAPIKey  = "GARDEN_WEATHERAPI_KEY"
	EnvMQTTBroker     = "GARDEN_MQTT_BROKER"
	EnvMQTTUsername   = "GARDEN_MQTT_USERNAME"
	EnvMQTTPassword   = "GARDEN_MQTT_PASSWORD"
	EnvLevelThreshold = "GARDEN_LEVEL_THRESHOLD"
)

// Config is the full daemon configuration.
type Config struct {
	LogFile  string `yaml:"log_file"`
	Timezone string `yaml:"timezone"`
	DBPath   string `yaml:"db_path"`
	HTTPAddr string `yaml:"http_addr"`

	GPIO      GPIO      `yaml:"gpio"`
	Zones     []Zone    `yaml:"zones"`
	Watering  Watering  `yaml:"watering"`
	Tank      Tank      `yaml:"tank"`
	Schedule  Schedule  `yaml:"schedule"`
	MQTT      MQTT      `yaml:"mqtt"`
	Telemetry Telemetry `yaml:"telemetry"`
	SMTP      SMTP      `yaml:"smtp"`
}

// GPIO describes the wiring.
type GPIO struct {
	Chip           string         `yaml:"chip"`
	ActiveLow      bool           `yaml:"active_low"`
	Relays         map[string]int `yaml:"relays"`  // relay name -> BCM line
	Buttons        map[string]int `yaml:"buttons"` // action -> BCM line
	ButtonDebounce time.Duration  `yaml:"button_debounce"`
	TriggerPin     int            `yaml:"trigger_pin"`
	EchoPin        int            `yaml:"echo_pin"`
}

// Zone binds a zone name to its valve relay and soil channel.
type Zone struct {
	Name           string        `yaml:"name"`
	Relay          string        `yaml:"relay"`
	ManualDuration time.Duration `yaml:"manual_duration"`
	Scheduled      bool          `yaml:"scheduled"`
	SoilChannel    string        `yaml:"soil_channel"`
}

// Watering holds source selection and gating rules.
type Watering struct {
	LevelThreshold  float64       `yaml:"level_threshold"`
	Cooldown        time.Duration `yaml:"cooldown"`
	DefaultMoisture float64       `yaml:"default_moisture"`
	RainHours       int           `yaml:"rain_hours"`
	TankRelays      []string      `yaml:"tank_relays"`
	MainRelay       string        `yaml:"main_relay"`
}

// Tank holds the ranging sensor geometry.
type Tank struct {
	Samples         int           `yaml:"samples"`
	Ceiling         float64       `yaml:"ceiling"`
	ReferenceHeight float64       `yaml:"reference_height"`
	Fallback        float64       `yaml:"fallback"`
	Pause           time.Duration `yaml:"pause"`
}

// Schedule holds cron specs.
type Schedule struct {
	Watering    []string `yaml:"watering"`
	Telemetry   string   `yaml:"telemetry"`
	AlertReset  string   `yaml:"alert_reset"`
	Heartbeat   string   `yaml:"heartbeat"`
	Prune       string   `yaml:"prune"`
	KeepRecords int      `yaml:"keep_records"`
}

// MQTT holds broker settings. An empty broker disables MQTT.
type MQTT struct {
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"client_id"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	BufferSize int    `yaml:"buffer_size"`
}

// Telemetry holds weather station and forecast API settings.
type Telemetry struct {
	EcowittURL     string        `yaml:"ecowitt_url"`
	ApplicationKey string        `yaml:"application_key"`
	APIKey         string        `yaml:"api_key"`
	MAC            string        `yaml:"mac"`
	WeatherAPIURL  string        `yaml:"weatherapi_url"`
	WeatherAPIKey  string        `yaml:"weatherapi_key"`
	Latitude       float64       `yaml:"latitude"`
	Longitude      float64       `yaml:"longitude"`
	Timeout        time.Duration `yaml:"timeout"`
	Retries        int           `yaml:"retries"`
	CPULimit       float64       `yaml:"cpu_limit"`
}

// SMTP holds alert email settings.
type SMTP struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// Default returns the configuration of the installed garden.
func Default() Config {
	tel := telemetry.DefaultConfig()
	pc := probe.DefaultConfig()
	return Config{
		Timezone: "Local",
		DBPath:   "/var/lib/garden-controller/garden.db",
		HTTPAddr: ":80",
		GPIO: GPIO{
			Chip: gpio.DefaultChip,
			Relays: map[string]int{
				gpio.RelayTomato:    gpio.PinTomato,
				gpio.RelayGarden:    gpio.PinGarden,
				gpio.RelayAnnex:     gpio.PinAnnex,
				gpio.RelayTankValve: gpio.PinTankValve,
				gpio.RelayPump:      gpio.PinPump,
				gpio.RelayCityMain:  gpio.PinCityMain,
			},
			Buttons: map[string]int{
				string(logic.ActionWaterTomato): gpio.PinButtonTomato,
				string(logic.ActionWaterGarden): gpio.PinButtonGarden,
				string(logic.ActionWaterAnnex):  gpio.PinButtonAnnex,
				string(logic.ActionStop):        gpio.PinButtonStop,
			},
			ButtonDebounce: 300 * time.Millisecond,
			TriggerPin:     gpio.PinTrigger,
			EchoPin:        gpio.PinEcho,
		},
		Zones: []Zone{
			{Name: string(logic.ZoneTomato), Relay: gpio.RelayTomato, ManualDuration: 5 * time.Minute, Scheduled: true, SoilChannel: tel.Channels[logic.ZoneTomato]},
			{Name: string(logic.ZoneGarden), Relay: gpio.RelayGarden, ManualDuration: 10 * time.Minute, Scheduled: true, SoilChannel: tel.Channels[logic.ZoneGarden]},
			{Name: string(logic.ZoneAnnex), Relay: gpio.RelayAnnex, ManualDuration: 5 * time.Minute},
		},
		Watering: Watering{
			LevelThreshold:  15,
			Cooldown:        300 * time.Second,
			DefaultMoisture: 50,
			RainHours:       12,
			TankRelays:      []string{gpio.RelayTankValve, gpio.RelayPump},
			MainRelay:       gpio.RelayCityMain,
		},
		Tank: Tank{
			Samples:         pc.Samples,
			Ceiling:         pc.Ceiling,
			ReferenceHeight: pc.ReferenceHeight,
			Fallback:        pc.Fallback,
			Pause:           pc.Pause,
		},
		Schedule: Schedule{
			Watering:    []string{"0 8 * * *", "0 20 * * *"},
			Telemetry:   "0 * * * *",
			AlertReset:  "0 0 * * *",
			Heartbeat:   "*/15 * * * *",
			Prune:       "30 3 * * *",
			KeepRecords: 50000,
		},
		MQTT: MQTT{
			Broker:     "tcp://localhost:1883",
			ClientID:   "garden-controller",
			BufferSize: 256,
		},
		Telemetry: Telemetry{
			EcowittURL:    tel.EcowittURL,
			WeatherAPIURL: tel.WeatherAPIURL,
			Timeout:       tel.Timeout,
			Retries:       tel.Retries,
			CPULimit:      70,
		},
		SMTP: SMTP{Host: "smtp.gmail.com", Port: 587},
	}
}

// Load reads path over Default, then applies a .env file (if present) and
// environment overrides. A missing file is not an error when path is the
// default location.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	_ = godotenv.Load()
	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.SMTP.Username, EnvSMTPUsername)
	set(&c.SMTP.Password, EnvSMTPPassword)
	set(&c.Telemetry.ApplicationKey, EnvEcowittAppKey)
	set(&c.Telemetry.APIKey, EnvEcowittAPIKey)
	set(&c.Telemetry.MAC, EnvEcowittMAC)
	set(&c.Telemetry.WeatherAPIKey, EnvWeatherAPIKey)
	set(&c.MQTT.Broker, EnvMQTTBroker)
	set(&c.MQTT.Username, EnvMQTTUsername)
	set(&c.MQTT.Password, EnvMQTTPassword)
	if v := getenv(EnvLevelThreshold); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Watering.LevelThreshold = f
		}
	}
}

// Validate reports the first configuration error found.
func (c Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if len(c.Zones) == 0 {
		return errors.New("config: no zones")
	}
	seen := make(map[logic.Zone]bool)
	for _, z := range c.Zones {
		zone, ok := logic.ParseZone(z.Name)
		if !ok {
			return fmt.Errorf("config: unknown zone %q", z.Name)
		}
		if seen[zone] {
			return fmt.Errorf("config: duplicate zone %s", zone)
		}
		seen[zone] = true
		if z.Relay == "" {
			return fmt.Errorf("config: zone %s has no relay", zone)
		}
		if z.ManualDuration <= 0 {
			return fmt.Errorf("config: zone %s manual_duration must be positive", zone)
		}
	}

	relays := append([]string{c.Watering.MainRelay}, c.Watering.TankRelays...)
	for _, z := range c.Zones {
		relays = append(relays, z.Relay)
	}
	used := make(map[string]bool)
	for _, r := range relays {
		if r == "" {
			return errors.New("config: empty relay name")
		}
		if used[r] {
			return fmt.Errorf("config: relay %q used twice", r)
		}
		used[r] = true
		if _, ok := c.GPIO.Relays[r]; !ok {
			return fmt.Errorf("config: relay %q has no gpio line", r)
		}
	}
	if len(c.Watering.TankRelays) == 0 {
		return errors.New("config: no tank relays")
	}
	if c.Watering.Cooldown <= 0 {
		return errors.New("config: cooldown must be positive")
	}
	for action := range c.GPIO.Buttons {
		if _, ok := parseAction(action); !ok {
			return fmt.Errorf("config: unknown button action %q", action)
		}
	}

	if len(c.Schedule.Watering) == 0 {
		return errors.New("config: no watering schedule")
	}
	specs := append([]string{c.Schedule.Telemetry, c.Schedule.AlertReset}, c.Schedule.Watering...)
	if c.Schedule.Heartbeat != "" {
		specs = append(specs, c.Schedule.Heartbeat)
	}
	if c.Schedule.Prune != "" {
		specs = append(specs, c.Schedule.Prune)
	}
	for _, s := range specs {
		if _, err := cron.ParseStandard(s); err != nil {
			return fmt.Errorf("config: bad cron spec %q: %w", s, err)
		}
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone: %w", err)
	}
	return loc, nil
}

func parseAction(s string) (logic.ButtonAction, bool) {
	switch a := logic.ButtonAction(s); a {
	case logic.ActionWaterTomato, logic.ActionWaterGarden, logic.ActionWaterAnnex, logic.ActionStop:
		return a, true
	}
	return "", false
}

// Orchestrator converts to the orchestrator's watering rules.
func (c Config) Orchestrator() orchestrator.Config {
	oc := orchestrator.Config{
		TankRelays:      c.Watering.TankRelays,
		MainRelay:       c.Watering.MainRelay,
		LevelThreshold:  c.Watering.LevelThreshold,
		Cooldown:        c.Watering.Cooldown,
		DefaultMoisture: c.Watering.DefaultMoisture,
		RainHours:       c.Watering.RainHours,
	}
	for _, z := range c.Zones {
		zone, _ := logic.ParseZone(z.Name)
		oc.Zones = append(oc.Zones, orchestrator.ZoneConfig{
			Zone:           zone,
			Relay:          z.Relay,
			ManualDuration: z.ManualDuration,
			Scheduled:      z.Scheduled,
		})
	}
	return oc
}

// ZoneNames returns the configured zones in order.
func (c Config) ZoneNames() []logic.Zone {
	var zs []logic.Zone
	for _, z := range c.Zones {
		zone, _ := logic.ParseZone(z.Name)
		zs = append(zs, zone)
	}
	return zs
}

// MoistureZones returns the configured zones that have a soil sensor, in order.
func (c Config) MoistureZones() []logic.Zone {
	var zs []logic.Zone
	for _, z := range c.Zones {
		if z.SoilChannel == "" {
			continue
		}
		zone, _ := logic.ParseZone(z.Name)
		zs = append(zs, zone)
	}
	return zs
}

// RelayPins returns the relay lines used by the configured zones and sources.
func (c Config) RelayPins() map[string]int {
	pins := make(map[string]int)
	add := func(name string) { pins[name] = c.GPIO.Relays[name] }
	add(c.Watering.MainRelay)
	for _, r := range c.Watering.TankRelays {
		add(r)
	}
	for _, z := range c.Zones {
		add(z.Relay)
	}
	return pins
}

// ButtonActions maps button lines to actions.
func (c Config) ButtonActions() map[int]logic.ButtonAction {
	m := make(map[int]logic.ButtonAction)
	for name, pin := range c.GPIO.Buttons {
		if a, ok := parseAction(name); ok {
			m[pin] = a
		}
	}
	return m
}

// Probe converts to the level probe settings.
func (c Config) Probe() probe.Config {
	return probe.Config{
		Samples:         c.Tank.Samples,
		Ceiling:         c.Tank.Ceiling,
		ReferenceHeight: c.Tank.ReferenceHeight,
		Fallback:        c.Tank.Fallback,
		Pause:           c.Tank.Pause,
	}
}

// TelemetryClient converts to the telemetry client settings.
func (c Config) TelemetryClient() telemetry.Config {
	tc := telemetry.Config{
		EcowittURL:     c.Telemetry.EcowittURL,
		ApplicationKey: c.Telemetry.ApplicationKey,
		APIKey:         c.Telemetry.APIKey,
		MAC:            c.Telemetry.MAC,
		Channels:       make(map[logic.Zone]string),
		WeatherAPIURL:  c.Telemetry.WeatherAPIURL,
		WeatherAPIKey:  c.Telemetry.WeatherAPIKey,
		Latitude:       c.Telemetry.Latitude,
		Longitude:      c.Telemetry.Longitude,
		Timeout:        c.Telemetry.Timeout,
		Retries:        c.Telemetry.Retries,
	}
	for _, z := range c.Zones {
		if z.SoilChannel == "" {
			continue
		}
		zone, _ := logic.ParseZone(z.Name)
		tc.Channels[zone] = z.SoilChannel
	}
	return tc
}

// MQTTOptions converts to broker connection options.
func (c Config) MQTTOptions() mqtt.Options {
	o := mqtt.DefaultOptions(c.MQTT.Broker)
	if c.MQTT.ClientID != "" {
		o.ClientID = c.MQTT.ClientID
	}
	if c.MQTT.BufferSize > 0 {
		o.BufferSize = c.MQTT.BufferSize
	}
	o.Username = c.MQTT.Username
	o.Password = c.MQTT.Password
	return o
}

// SMTPConfig converts to the email sink settings.
func (c Config) SMTPConfig() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		To:       c.SMTP.To,
	}
}
