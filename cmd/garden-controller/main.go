// Command garden-controller waters the garden zones from the rain tank or the
// city main, on a schedule and on request from buttons, MQTT and HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sweeney/garden-controller/internal/config"
	"github.com/sweeney/garden-controller/internal/gpio"
	"github.com/sweeney/garden-controller/internal/logic"
	"github.com/sweeney/garden-controller/internal/mqtt"
	"github.com/sweeney/garden-controller/internal/notify"
	"github.com/sweeney/garden-controller/internal/probe"
	"github.com/sweeney/garden-controller/internal/status"
	"github.com/sweeney/garden-controller/internal/store"
	"github.com/sweeney/garden-controller/internal/telemetry"
	"github.com/sweeney/garden-controller/internal/web"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the YAML config file")
	broker := flag.String("broker", "", `MQTT broker address, overrides config ("off" disables)`)
	httpAddr := flag.String("http", "", `HTTP status address, overrides config ("off" disables)`)
	printState := flag.Bool("print-state", false, "Print tank level and last watering state and exit")
	fakeHardware := flag.Bool("fake-hardware", false, "Use in-memory relays, tank sensor and buttons")

	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	applyFlags(&cfg, *broker, *httpAddr)

	if err := run(cfg, *printState, *fakeHardware); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// applyFlags overrides config values with non-empty flags. "off" clears the value.
func applyFlags(cfg *config.Config, broker, httpAddr string) {
	if v, ok := override(broker); ok {
		cfg.MQTT.Broker = v
	}
	if v, ok := override(httpAddr); ok {
		cfg.HTTPAddr = v
	}
}

func override(flagValue string) (string, bool) {
	switch flagValue {
	case "":
		return "", false
	case "off":
		return "", true
	}
	return flagValue, true
}

func run(cfg config.Config, printState, fakeHardware bool) error {
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	hw, err := openHardware(cfg, fakeHardware)
	if err != nil {
		return err
	}
	defer hw.Close()

	// Print state mode
	if printState {
		return printCurrentState(cfg, hw.ranger)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	var (
		pub  mqtt.Publisher = offline{}
		sub  mqtt.Subscriber
		conn mqtt.ConnectionStatus
	)
	if cfg.MQTT.Broker != "" {
		rp, err := mqtt.NewRealPublisher(cfg.MQTTOptions())
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		pub, sub, conn = rp, rp, rp
		log.Printf("mqtt: connected to %s", cfg.MQTT.Broker)
	} else {
		log.Printf("mqtt: no broker configured, publishing disabled")
	}
	defer pub.Close()

	hostname, _ := os.Hostname()
	alerts := notify.Multi{notify.LogSink{}, mqtt.AlertSink{P: pub, Now: time.Now}}
	if smtp := cfg.SMTPConfig(); smtp.Configured() {
		email := notify.NewAsync(notify.NewEmailSink(smtp, hostname), 16)
		defer email.Close()
		alerts = append(alerts, email)
	} else {
		log.Printf("notify: smtp not configured, alerts go to the log and mqtt only")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(cfg, components{
		Relays:       hw.relays,
		Ranger:       hw.ranger,
		Buttons:      hw.buttons,
		Telemetry:    telemetry.NewClient(cfg.TelemetryClient()),
		CPU:          telemetry.CPUTemperature,
		Store:        db,
		Publisher:    pub,
		Subscriber:   sub,
		Conn:         conn,
		Notify:       alerts,
		Registry:     reg,
		FakeHardware: fakeHardware,
	})
	if err != nil {
		return err
	}
	if net := readNetworkInfo(); net != nil {
		a.tracker.SetNetwork(net)
	}

	a.publishStartup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.start(ctx)

	// Start HTTP status server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, web.Options{
			Tracker:  a.tracker,
			History:  db,
			Commands: a.cmds,
			Gatherer: reg,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http server error: %v", err)
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			srv.Shutdown(sctx)
		}()
		log.Printf("http status server listening on %s", cfg.HTTPAddr)
	}

	log.Printf("started: zones=%v schedule=%v broker=%q fake-hardware=%v",
		cfg.ZoneNames(), cfg.Schedule.Watering, cfg.MQTT.Broker, fakeHardware)
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("sd_notify ready: %v", err)
	} else if ok {
		log.Printf("sd_notify: ready")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(a, sigCh, func() {
		daemon.SdNotify(false, daemon.SdNotifyStopping)
	})
}

// hardware holds the GPIO devices for the lifetime of the process.
type hardware struct {
	relays  gpio.RelayBank
	ranger  gpio.RangeFinder
	buttons gpio.ButtonWatcher
}

func openHardware(cfg config.Config, fake bool) (hardware, error) {
	if fake {
		log.Printf("gpio: using fake hardware")
		return newFakeHardware(cfg), nil
	}

	relays, err := gpio.NewRealRelayBank(cfg.GPIO.Chip, cfg.RelayPins(), cfg.GPIO.ActiveLow)
	if err != nil {
		return hardware{}, fmt.Errorf("init relays: %w", err)
	}
	ranger, err := gpio.NewRealRangeFinder(cfg.GPIO.Chip, cfg.GPIO.TriggerPin, cfg.GPIO.EchoPin, cfg.Tank.Ceiling)
	if err != nil {
		relays.Close()
		return hardware{}, fmt.Errorf("init range finder: %w", err)
	}
	hw := hardware{relays: relays, ranger: ranger}

	actions := cfg.ButtonActions()
	if len(actions) == 0 {
		return hw, nil
	}
	pins := make([]int, 0, len(actions))
	for pin := range actions {
		pins = append(pins, pin)
	}
	sort.Ints(pins)
	buttons, err := gpio.NewRealButtonWatcher(cfg.GPIO.Chip, pins, cfg.GPIO.ButtonDebounce)
	if err != nil {
		hw.Close()
		return hardware{}, fmt.Errorf("init buttons: %w", err)
	}
	hw.buttons = buttons
	return hw, nil
}

// newFakeHardware reports a tank filled to 60cm below the sensor.
func newFakeHardware(cfg config.Config) hardware {
	names := make([]string, 0, len(cfg.GPIO.Relays))
	for name := range cfg.RelayPins() {
		names = append(names, name)
	}
	sort.Strings(names)
	return hardware{
		relays:  gpio.NewFakeRelayBank(names...),
		ranger:  gpio.NewFakeRangeFinder(logic.LevelSample{Distance: 60, Valid: true}),
		buttons: gpio.NewFakeButtonWatcher(),
	}
}

// Close drives every relay off and releases the lines.
func (h hardware) Close() {
	if h.buttons != nil {
		h.buttons.Close()
	}
	if h.ranger != nil {
		h.ranger.Close()
	}
	if h.relays != nil {
		if err := h.relays.Close(); err != nil {
			log.Printf("gpio: close relays: %v", err)
		}
	}
}

func printCurrentState(cfg config.Config, ranger gpio.RangeFinder) error {
	p := probe.New(ranger, notify.LogSink{}, cfg.Probe())
	est := p.Level(context.Background())
	fallback := ""
	if est.Fallback {
		fallback = " (fallback)"
	}
	fmt.Printf("Tank: %.1f cm%s, %d/%d valid readings\n", est.Level, fallback, est.Valid, cfg.Tank.Samples)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Printf("Last state: unavailable (%v)\n", err)
		return nil
	}
	defer db.Close()
	last, err := db.LastState()
	switch {
	case errors.Is(err, store.ErrNotFound):
		fmt.Println("Last state: none recorded")
	case err != nil:
		return fmt.Errorf("read last state: %w", err)
	default:
		fmt.Printf("Last state: %s zone=%s source=%s mode=%s at %s\n",
			last.State, last.Zone, last.Source, last.Mode, last.Timestamp.Format(time.RFC3339))
	}
	return nil
}

// runLoop blocks until a signal arrives, then shuts the app down.
func runLoop(a *app, sig <-chan os.Signal, stopping func()) error {
	s := <-sig
	log.Printf("received %v, shutting down", s)
	if stopping != nil {
		stopping()
	}
	a.shutdown(signalName(s))
	return nil
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
