// Package orchestrator serializes scheduled and manual watering requests,
// drives the relays for a bounded, cancellable time and records every state
// transition.
//
// All mutable state lives in the Orchestrator and is guarded by one mutex.
// The mutex is held only for flag checks, relay switching and bookkeeping;
// the watering wait itself runs unlocked so Stop never waits for it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/garden-controller/internal/gpio"
	"github.com/sweeney/garden-controller/internal/logic"
	"github.com/sweeney/garden-controller/internal/notify"
)

// Outcome is the result of a start or stop request.
type Outcome string

const (
	OutcomeStarted             Outcome = "started"
	OutcomeRejectedBusy        Outcome = "busy"
	OutcomeRejectedCooldown    Outcome = "cooldown"
	OutcomeRejectedUnknownZone Outcome = "unknown_zone"
	OutcomeStopped             Outcome = "stopped"
	OutcomeNothingToStop       Outcome = "nothing_to_stop"
)

// Accepted reports whether the request took effect.
func (o Outcome) Accepted() bool {
	return o == OutcomeStarted || o == OutcomeStopped
}

// LevelSampler estimates the tank water level.
type LevelSampler interface {
	Level(ctx context.Context) logic.LevelEstimate
}

// Telemetry supplies soil moisture and rain data.
type Telemetry interface {
	SoilMoisture(ctx context.Context, zone logic.Zone) (float64, error)
	RainForecast(ctx context.Context, hours int) (float64, error)
	RainHistory(ctx context.Context, hours int) (float64, error)
}

// ZoneConfig binds a zone to its valve relay.
type ZoneConfig struct {
	Zone           logic.Zone
	Relay          string
	ManualDuration time.Duration
	Scheduled      bool // included in scheduled runs
}

// Config holds the watering rules.
type Config struct {
	Zones           []ZoneConfig
	TankRelays      []string // energized together for SourcePump
	MainRelay       string   // energized for SourceCityMain
	LevelThreshold  float64  // cm; pump when the tank holds at least this much
	Cooldown        time.Duration
	DefaultMoisture float64 // used when telemetry fails
	RainHours       int     // forecast and history window
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Relays    gpio.RelayBank
	Level     LevelSampler
	Telemetry Telemetry
	Recorder  Recorder
	Notify    notify.Sink
	Clock     Clock    // defaults to SystemClock
	Metrics   *Metrics // optional
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	ScheduledInProgress bool
	ManualInProgress    bool
	State               logic.SystemState
	Mode                logic.Mode
	CurrentZone         logic.Zone
	CurrentSource       logic.WaterSource
	ActiveZones         []logic.Zone
	LastManualStart     time.Time
	CooldownRemaining   time.Duration
	LastRecord          *logic.StateRecord
}

// Busy reports whether any session is running.
func (s Status) Busy() bool {
	return s.ScheduledInProgress || s.ManualInProgress
}

// run is one accepted start request. stopped is set under the orchestrator
// lock by Stop; a stopped run must not touch relays or flags again.
type run struct {
	ctx     context.Context
	cancel  context.CancelFunc
	mode    logic.Mode
	stopped bool
}

var errRunStopped = errors.New("run stopped")

// Orchestrator is the watering state machine.
type Orchestrator struct {
	cfg     Config
	relays  gpio.RelayBank
	level   LevelSampler
	tel     Telemetry
	notify  notify.Sink
	clock   Clock
	metrics *Metrics
	journal *journal

	// srcMu serializes source selection so concurrent zones of one run
	// sample the tank once and share the result.
	srcMu sync.Mutex

	mu          sync.Mutex
	scheduled   bool
	manual      bool
	current     *run
	state       logic.SystemState
	mode        logic.Mode
	activeZones map[logic.Zone]bool
	currentZone logic.Zone
	lastSource  logic.WaterSource
	held        logic.WaterSource
	holders     int
	heldBy      *run
	cooldown    logic.Cooldown
	last        *logic.StateRecord
}

// New creates an Orchestrator. Every relay named in cfg must exist in deps.Relays.
func New(cfg Config, deps Deps) *Orchestrator {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	sink := deps.Notify
	if sink == nil {
		sink = notify.LogSink{}
	}
	rec := deps.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Orchestrator{
		cfg:         cfg,
		relays:      deps.Relays,
		level:       deps.Level,
		tel:         deps.Telemetry,
		notify:      sink,
		clock:       clock,
		metrics:     deps.Metrics,
		journal:     newJournal(rec),
		state:       logic.StateStopped,
		mode:        logic.ModeAutomatic,
		activeZones: make(map[logic.Zone]bool),
		lastSource:  logic.SourceUnknown,
		held:        logic.SourceUnknown,
		cooldown:    logic.Cooldown{Period: cfg.Cooldown},
	}
}

// Restore seeds the deduplication state from the last persisted record so a
// restart does not write a duplicate transition.
func (o *Orchestrator) Restore(last logic.StateRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.last = &last
	if last.Source != "" {
		o.lastSource = last.Source
	}
}

// StartScheduled waters every scheduled zone according to its soil moisture.
// It blocks until all zones finish or Stop is called.
func (o *Orchestrator) StartScheduled(ctx context.Context) Outcome {
	o.mu.Lock()
	if o.scheduled || o.manual {
		o.mu.Unlock()
		log.Printf("orchestrator: skip scheduled watering, session active")
		o.metrics.rejected(OutcomeRejectedBusy)
		return OutcomeRejectedBusy
	}
	r := o.beginLocked(ctx, logic.ModeAutomatic)
	o.scheduled = true
	o.mu.Unlock()
	defer o.finish(r)

	log.Printf("orchestrator: scheduled watering started")
	o.recordRain(r.ctx)

	var wg sync.WaitGroup
	for _, z := range o.cfg.Zones {
		if !z.Scheduled {
			continue
		}
		wg.Add(1)
		go func(z ZoneConfig) {
			defer wg.Done()
			o.waterByMoisture(r, z)
		}(z)
	}
	wg.Wait()
	log.Printf("orchestrator: scheduled watering finished")
	return OutcomeStarted
}

// StartManual waters one zone for its configured duration. It blocks until
// the duration elapses or Stop is called.
func (o *Orchestrator) StartManual(ctx context.Context, zone logic.Zone) Outcome {
	zc, ok := o.zone(zone)
	if !ok {
		log.Printf("orchestrator: reject manual watering, unknown zone %q", zone)
		o.metrics.rejected(OutcomeRejectedUnknownZone)
		return OutcomeRejectedUnknownZone
	}

	o.mu.Lock()
	if o.scheduled || o.manual {
		o.mu.Unlock()
		log.Printf("orchestrator: reject manual %s, session active", zone)
		o.metrics.rejected(OutcomeRejectedBusy)
		return OutcomeRejectedBusy
	}
	now := o.clock.Now()
	if !o.cooldown.Allows(now) {
		remaining := o.cooldown.Remaining(now)
		o.mu.Unlock()
		log.Printf("orchestrator: reject manual %s, cooldown %v remaining", zone, remaining.Round(time.Second))
		o.metrics.rejected(OutcomeRejectedCooldown)
		return OutcomeRejectedCooldown
	}
	o.cooldown.LastStart = now
	r := o.beginLocked(ctx, logic.ModeManual)
	o.manual = true
	o.mu.Unlock()
	defer o.finish(r)

	log.Printf("orchestrator: manual watering %s for %v", zone, zc.ManualDuration)
	o.actuate(r, zc, zc.ManualDuration, nil)
	return OutcomeStarted
}

// Stop cancels any running session and forces every relay off. It is always
// safe to call and never waits for a watering duration.
func (o *Orchestrator) Stop() Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()

	active := o.current != nil
	if active {
		o.current.stopped = true
		o.current.cancel()
	}

	o.forceAllOffLocked()
	o.scheduled = false
	o.manual = false
	o.current = nil
	o.activeZones = make(map[logic.Zone]bool)
	o.currentZone = ""
	o.held = logic.SourceUnknown
	o.holders = 0
	o.heldBy = nil
	o.state = logic.StateStopped
	o.mode = logic.ModeManual
	o.recordStateLocked(logic.StateStopped, logic.ZoneAll, o.lastSource, logic.ModeManual)
	o.metrics.setActive(false)

	if !active {
		log.Printf("orchestrator: stop requested, nothing active")
		return OutcomeNothingToStop
	}
	log.Printf("orchestrator: watering stopped")
	return OutcomeStopped
}

// Status returns a snapshot of the current state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Status{
		ScheduledInProgress: o.scheduled,
		ManualInProgress:    o.manual,
		State:               o.state,
		Mode:                o.mode,
		CurrentZone:         o.currentZone,
		CurrentSource:       o.held,
		LastManualStart:     o.cooldown.LastStart,
		CooldownRemaining:   o.cooldown.Remaining(o.clock.Now()),
	}
	for _, z := range o.cfg.Zones {
		if o.activeZones[z.Zone] {
			s.ActiveZones = append(s.ActiveZones, z.Zone)
		}
	}
	if o.last != nil {
		rec := *o.last
		s.LastRecord = &rec
	}
	return s
}

// Zones returns the configured zones.
func (o *Orchestrator) Zones() []ZoneConfig {
	return append([]ZoneConfig(nil), o.cfg.Zones...)
}

// RecordReading queues a telemetry reading for the recorder.
func (o *Orchestrator) RecordReading(r logic.Reading) {
	o.journal.reading(r)
}

// Flush waits until every queued record has reached the recorder.
func (o *Orchestrator) Flush() {
	o.journal.flush()
}

// Shutdown stops any session, forces the relays off and drains the journal.
func (o *Orchestrator) Shutdown() {
	o.Stop()
	o.journal.close()
}

func (o *Orchestrator) beginLocked(ctx context.Context, mode logic.Mode) *run {
	rctx, cancel := context.WithCancel(ctx)
	r := &run{ctx: rctx, cancel: cancel, mode: mode}
	o.current = r
	o.mode = mode
	o.metrics.setActive(true)
	return r
}

// finish runs when a start request returns. A stopped run leaves the flags
// alone: Stop already cleared them and a new run may own them now.
func (o *Orchestrator) finish(r *run) {
	o.mu.Lock()
	if !r.stopped {
		if r.mode == logic.ModeManual {
			o.manual = false
		} else {
			o.scheduled = false
		}
		o.current = nil
		o.state = logic.StateStopped
		o.currentZone = ""
		o.metrics.setActive(false)
	}
	o.mu.Unlock()
	r.cancel()
}

func (o *Orchestrator) waterByMoisture(r *run, z ZoneConfig) {
	if r.ctx.Err() != nil {
		return
	}
	moisture, err := o.tel.SoilMoisture(r.ctx, z.Zone)
	if err != nil {
		log.Printf("orchestrator: moisture for %s unavailable, assuming %.0f%%: %v", z.Zone, o.cfg.DefaultMoisture, err)
		moisture = o.cfg.DefaultMoisture
	} else {
		o.journal.reading(logic.Reading{
			Kind:      logic.ReadingMoisture,
			Zone:      z.Zone,
			Value:     moisture,
			Unit:      "%",
			Timestamp: o.clock.Now(),
		})
	}

	d := logic.WateringDuration(moisture)
	if d == 0 {
		log.Printf("orchestrator: %s moisture %.1f%%, no watering needed", z.Zone, moisture)
		return
	}
	log.Printf("orchestrator: %s moisture %.1f%%, watering for %v", z.Zone, moisture, d)
	o.actuate(r, z, d, &moisture)
}

// actuate opens the zone valve on a selected source for d, or until the run
// is cancelled. Cleanup always runs.
func (o *Orchestrator) actuate(r *run, z ZoneConfig, d time.Duration, moisture *float64) {
	src, err := o.acquireSource(r)
	if err != nil {
		if !errors.Is(err, errRunStopped) {
			o.actuatorFailure(z.Zone, err)
		}
		return
	}
	defer o.releaseSource(r)

	o.mu.Lock()
	if r.stopped {
		o.mu.Unlock()
		return
	}
	if err := o.relays.Activate(z.Relay); err != nil {
		o.deactivateLocked(z.Relay)
		o.mu.Unlock()
		o.actuatorFailure(z.Zone, fmt.Errorf("open %s valve: %w", z.Zone, err))
		return
	}
	o.activeZones[z.Zone] = true
	o.currentZone = z.Zone
	o.state = logic.StateWatering
	o.recordStateLocked(logic.StateWatering, z.Zone, src, r.mode)
	o.mu.Unlock()

	o.metrics.sessionStarted(z.Zone, r.mode, src)
	start := o.clock.Now()
	completed := o.wait(r.ctx, d)
	elapsed := o.clock.Now().Sub(start)

	o.mu.Lock()
	if !r.stopped {
		o.deactivateLocked(z.Relay)
		delete(o.activeZones, z.Zone)
		o.recordStateLocked(logic.StateStopped, z.Zone, src, r.mode)
		if len(o.activeZones) == 0 {
			o.currentZone = ""
		} else if o.currentZone == z.Zone {
			for zone := range o.activeZones {
				o.currentZone = zone
				break
			}
		}
	}
	o.mu.Unlock()

	o.metrics.watered(z.Zone, elapsed.Seconds())
	o.journal.session(logic.Session{
		ID:             uuid.NewString(),
		Zone:           z.Zone,
		Planned:        d,
		Duration:       elapsed,
		Source:         src,
		MoistureBefore: moisture,
		Mode:           r.mode,
		StartedAt:      start,
		Cancelled:      !completed,
	})
	if completed {
		log.Printf("orchestrator: %s watered for %v from %s", z.Zone, d, src)
	} else {
		log.Printf("orchestrator: %s watering cancelled after %v", z.Zone, elapsed.Round(time.Second))
	}
}

// wait returns true if d elapsed, false if ctx was cancelled first.
func (o *Orchestrator) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-o.clock.After(d):
		return true
	}
}

// acquireSource returns the source held by r, activating one first if
// needed. The tank is sampled without holding the state lock.
func (o *Orchestrator) acquireSource(r *run) (logic.WaterSource, error) {
	o.srcMu.Lock()
	defer o.srcMu.Unlock()

	o.mu.Lock()
	if r.stopped {
		o.mu.Unlock()
		return logic.SourceUnknown, errRunStopped
	}
	if o.heldBy == r && o.holders > 0 {
		o.holders++
		src := o.held
		o.mu.Unlock()
		return src, nil
	}
	o.mu.Unlock()

	est := o.level.Level(r.ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	// A stop during the read cancels it; the partial estimate is not a level.
	if r.stopped {
		return logic.SourceUnknown, errRunStopped
	}
	o.metrics.SetTankLevel(est.Level)
	o.journal.reading(logic.Reading{
		Kind:      logic.ReadingTankLevel,
		Value:     est.Level,
		Unit:      "cm",
		Timestamp: o.clock.Now(),
	})
	src := logic.SelectSource(est.Level, o.cfg.LevelThreshold)
	log.Printf("orchestrator: tank level %.1f cm, using %s", est.Level, src)
	if err := o.activateSourceLocked(src); err != nil {
		o.deactivateSourceLocked(src)
		return logic.SourceUnknown, fmt.Errorf("activate %s: %w", src, err)
	}
	o.held = src
	o.holders = 1
	o.heldBy = r
	o.lastSource = src
	return src, nil
}

// releaseSource drops r's hold and deactivates the source after the last
// zone finishes.
func (o *Orchestrator) releaseSource(r *run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r.stopped || o.heldBy != r {
		return
	}
	o.holders--
	if o.holders > 0 {
		return
	}
	o.deactivateSourceLocked(o.held)
	o.held = logic.SourceUnknown
	o.heldBy = nil
}

func (o *Orchestrator) sourceRelays(src logic.WaterSource) []string {
	switch src {
	case logic.SourcePump:
		return o.cfg.TankRelays
	case logic.SourceCityMain:
		return []string{o.cfg.MainRelay}
	}
	return nil
}

func (o *Orchestrator) activateSourceLocked(src logic.WaterSource) error {
	for _, name := range o.sourceRelays(src) {
		if err := o.relays.Activate(name); err != nil {
			return err
		}
	}
	return nil
}

// deactivateSourceLocked is idempotent; SourceUnknown is a no-op.
func (o *Orchestrator) deactivateSourceLocked(src logic.WaterSource) {
	for _, name := range o.sourceRelays(src) {
		o.deactivateLocked(name)
	}
}

func (o *Orchestrator) deactivateLocked(name string) {
	if err := o.relays.Deactivate(name); err != nil {
		log.Printf("orchestrator: deactivate relay %s: %v", name, err)
		o.metrics.actuatorFailed()
	}
}

// forceAllOffLocked deactivates every configured relay without consulting
// the flags.
func (o *Orchestrator) forceAllOffLocked() {
	for _, name := range o.allRelays() {
		o.deactivateLocked(name)
	}
}

func (o *Orchestrator) allRelays() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, z := range o.cfg.Zones {
		add(z.Relay)
	}
	for _, n := range o.cfg.TankRelays {
		add(n)
	}
	add(o.cfg.MainRelay)
	return names
}

// recordStateLocked persists a transition unless it repeats the previous
// (state, zone, source).
func (o *Orchestrator) recordStateLocked(state logic.SystemState, zone logic.Zone, src logic.WaterSource, mode logic.Mode) {
	rec := logic.StateRecord{
		State:     state,
		Zone:      zone,
		Source:    src,
		Mode:      mode,
		Timestamp: o.clock.Now(),
	}
	if o.last != nil && o.last.SameTransition(rec) {
		return
	}
	o.last = &rec
	o.journal.state(rec)
}

func (o *Orchestrator) actuatorFailure(zone logic.Zone, err error) {
	log.Printf("orchestrator: actuator failure on %s: %v", zone, err)
	o.metrics.actuatorFailed()
	o.notify.Notify("Watering actuator failure",
		fmt.Sprintf("Watering %s could not start: %v", zone, err))
}

func (o *Orchestrator) recordRain(ctx context.Context) {
	hours := o.cfg.RainHours
	now := o.clock.Now()
	if mm, err := o.tel.RainForecast(ctx, hours); err != nil {
		log.Printf("orchestrator: rain forecast unavailable: %v", err)
	} else {
		log.Printf("orchestrator: rain forecast next %dh: %.1f mm", hours, mm)
		o.journal.reading(logic.Reading{Kind: logic.ReadingRainForecast, Value: mm, Unit: "mm", Timestamp: now})
	}
	if mm, err := o.tel.RainHistory(ctx, hours); err != nil {
		log.Printf("orchestrator: rain history unavailable: %v", err)
	} else {
		log.Printf("orchestrator: rain last %dh: %.1f mm", hours, mm)
		o.journal.reading(logic.Reading{Kind: logic.ReadingRainHistory, Value: mm, Unit: "mm", Timestamp: now})
	}
}

func (o *Orchestrator) zone(z logic.Zone) (ZoneConfig, bool) {
	for _, zc := range o.cfg.Zones {
		if zc.Zone == z {
			return zc, true
		}
	}
	return ZoneConfig{}, false
}
