package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/garden-controller/internal/config"
	"github.com/sweeney/garden-controller/internal/gpio"
	"github.com/sweeney/garden-controller/internal/logic"
	"github.com/sweeney/garden-controller/internal/monitor"
	"github.com/sweeney/garden-controller/internal/mqtt"
	"github.com/sweeney/garden-controller/internal/notify"
	"github.com/sweeney/garden-controller/internal/orchestrator"
	"github.com/sweeney/garden-controller/internal/probe"
	"github.com/sweeney/garden-controller/internal/schedule"
	"github.com/sweeney/garden-controller/internal/status"
	"github.com/sweeney/garden-controller/internal/store"
	"github.com/sweeney/garden-controller/internal/telemetry"
	"github.com/sweeney/garden-controller/internal/trigger"
)

// commandQueue is the number of pending button, MQTT and HTTP commands.
const commandQueue = 8

// components are the devices and services the app is wired from.
type components struct {
	Relays     gpio.RelayBank
	Ranger     gpio.RangeFinder
	Buttons    gpio.ButtonWatcher // optional
	Telemetry  telemetry.Provider
	CPU        func(ctx context.Context) (float64, error) // optional
	Store      *store.Store                               // optional
	Publisher  mqtt.Publisher
	Subscriber mqtt.Subscriber       // optional; nil disables remote commands
	Conn       mqtt.ConnectionStatus // optional
	Notify     notify.Sink
	Registry   *prometheus.Registry // optional
	Clock      orchestrator.Clock   // optional
	Now        func() time.Time     // optional

	FakeHardware bool
}

// app owns the running controller between startup and shutdown.
type app struct {
	cfg     config.Config
	orch    *orchestrator.Orchestrator
	mon     *monitor.Monitor
	guard   *telemetry.Guard
	sched   *schedule.Scheduler
	disp    *trigger.Dispatcher
	cmds    chan trigger.Command
	pub     mqtt.Publisher
	sub     mqtt.Subscriber
	conn    mqtt.ConnectionStatus
	tracker *status.Tracker
	db      *store.Store
	buttons gpio.ButtonWatcher
	deb     *logic.PressDebouncer
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func newApp(cfg config.Config, c components) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}
	sink := c.Notify
	if sink == nil {
		sink = notify.LogSink{}
	}

	var metrics *orchestrator.Metrics
	if c.Registry != nil {
		metrics = orchestrator.NewMetrics(c.Registry)
	}

	recorders := orchestrator.Recorders{mqtt.Recorder{P: c.Publisher}}
	if c.Store != nil {
		recorders = append(orchestrator.Recorders{c.Store}, recorders...)
	}

	guard := telemetry.NewGuard(c.Telemetry, sink)
	level := probe.New(c.Ranger, sink, cfg.Probe())

	orch := orchestrator.New(cfg.Orchestrator(), orchestrator.Deps{
		Relays:    c.Relays,
		Level:     level,
		Telemetry: guard,
		Recorder:  recorders,
		Notify:    sink,
		Clock:     c.Clock,
		Metrics:   metrics,
	})
	if c.Store != nil {
		last, err := c.Store.LastState()
		switch {
		case err == nil:
			orch.Restore(last)
			log.Printf("store: restored last state %s zone=%s source=%s", last.State, last.Zone, last.Source)
		case !errors.Is(err, store.ErrNotFound):
			log.Printf("store: read last state: %v", err)
		}
	}

	md := monitor.Deps{
		Level:     level,
		Telemetry: guard,
		CPU:       c.CPU,
		Readings:  orch,
		Notify:    sink,
		Zones:     cfg.MoistureZones(),
		CPULimit:  cfg.Telemetry.CPULimit,
		Now:       now,
	}
	if metrics != nil {
		md.Gauge = metrics
	}

	cmds := make(chan trigger.Command, commandQueue)
	a := &app{
		cfg:     cfg,
		orch:    orch,
		mon:     monitor.New(md),
		guard:   guard,
		sched:   schedule.New(loc),
		disp:    trigger.NewDispatcher(orch, cmds),
		cmds:    cmds,
		pub:     c.Publisher,
		sub:     c.Subscriber,
		conn:    c.Conn,
		db:      c.Store,
		buttons: c.Buttons,
		deb:     logic.NewPressDebouncer(cfg.GPIO.ButtonDebounce, cfg.ButtonActions()),
		now:     now,
	}
	if err := a.registerJobs(); err != nil {
		return nil, err
	}

	zones := make([]string, 0, len(cfg.Zones))
	for _, z := range cfg.Zones {
		zones = append(zones, z.Name)
	}
	a.tracker = status.NewTracker(now(), status.Config{
		Broker:         cfg.MQTT.Broker,
		HTTPAddr:       cfg.HTTPAddr,
		Zones:          zones,
		Schedule:       cfg.Schedule.Watering,
		LevelThreshold: cfg.Watering.LevelThreshold,
		Cooldown:       cfg.Watering.Cooldown,
		FakeHardware:   c.FakeHardware,
	})
	src := status.Sources{
		Watering:     orch.Status,
		Telemetry:    a.mon.Last,
		NextWatering: a.nextWatering,
	}
	if c.Conn != nil {
		src.MQTT = c.Conn
	}
	a.tracker.Attach(src)
	return a, nil
}

func (a *app) registerJobs() error {
	for i, spec := range a.cfg.Schedule.Watering {
		name := fmt.Sprintf("watering-%d", i+1)
		err := a.sched.Every(name, spec, func(ctx context.Context) {
			out := a.orch.StartScheduled(ctx)
			log.Printf("schedule: %s finished: %s", name, out)
		})
		if err != nil {
			return err
		}
	}
	if err := a.sched.Every("telemetry", a.cfg.Schedule.Telemetry, a.mon.Run); err != nil {
		return err
	}
	if err := a.sched.Every("alert-reset", a.cfg.Schedule.AlertReset, func(context.Context) {
		a.guard.ResetAlerts()
	}); err != nil {
		return err
	}
	if a.cfg.Schedule.Heartbeat != "" {
		if err := a.sched.Every("heartbeat", a.cfg.Schedule.Heartbeat, a.heartbeat); err != nil {
			return err
		}
	}
	if a.db != nil && a.cfg.Schedule.Prune != "" && a.cfg.Schedule.KeepRecords > 0 {
		if err := a.sched.Every("prune", a.cfg.Schedule.Prune, a.prune); err != nil {
			return err
		}
	}
	return nil
}

// nextWatering returns the earliest upcoming scheduled watering.
func (a *app) nextWatering() time.Time {
	var next time.Time
	for i := range a.cfg.Schedule.Watering {
		t := a.sched.Next(fmt.Sprintf("watering-%d", i+1))
		if t.IsZero() {
			continue
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}

// start launches the command dispatcher, the button reader, the remote
// command subscription and the scheduler.
func (a *app) start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.disp.Run(ctx)
	}()

	if a.buttons != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			trigger.Buttons(ctx, a.buttons, a.deb, a.cmds)
		}()
	}

	if a.sub != nil {
		if err := a.sub.Subscribe(mqtt.TopicCommand, trigger.MQTTHandler(a.cmds)); err != nil {
			log.Printf("mqtt: subscribe %s: %v", mqtt.TopicCommand, err)
		} else {
			log.Printf("mqtt: listening for commands on %s", mqtt.TopicCommand)
		}
	}

	a.sched.Start()
	if next := a.nextWatering(); !next.IsZero() {
		log.Printf("schedule: next watering at %s", next.Format(time.RFC1123))
	}
}

// shutdown stops every input, forces the relays off, drains the journal and
// announces SHUTDOWN. Safe to call more than once.
func (a *app) shutdown(reason string) {
	a.once.Do(func() {
		a.sched.Stop()
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
		a.disp.Wait()
		a.orch.Shutdown()
		a.publishSystem("SHUTDOWN", reason, true)
	})
}

func (a *app) publishStartup() {
	a.publishSystem("STARTUP", "", true)
}

func (a *app) heartbeat(context.Context) {
	if net := readNetworkInfo(); net != nil {
		a.tracker.SetNetwork(net)
	}
	st := a.orch.Status()
	log.Printf("heartbeat: state=%s zone=%s busy=%v", st.State, st.CurrentZone, st.Busy())
	a.publishSystem("HEARTBEAT", "", false)
}

func (a *app) prune(context.Context) {
	for _, bucket := range []string{store.StateBucket, store.SessionBucket, store.ReadingsBucket} {
		n, err := a.db.Prune(bucket, a.cfg.Schedule.KeepRecords)
		if err != nil {
			log.Printf("store: prune %s: %v", bucket, err)
			continue
		}
		if n > 0 {
			log.Printf("store: pruned %d records from %s", n, bucket)
		}
	}
}

func (a *app) publishSystem(event, reason string, retained bool) {
	if a.conn != nil {
		a.tracker.SetMQTTConnected(a.conn.IsConnected())
	}
	snap := a.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  a.now(),
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := a.pub.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}

// offline stands in for the broker when MQTT is disabled.
type offline struct{}

func (offline) PublishState(logic.StateRecord) error         { return nil }
func (offline) PublishSession(logic.Session) error           { return nil }
func (offline) PublishReading(logic.Reading) error           { return nil }
func (offline) PublishSystem(mqtt.SystemEvent) error         { return nil }
func (offline) PublishAlert(string, string, time.Time) error { return nil }
func (offline) Close() error                                 { return nil }
