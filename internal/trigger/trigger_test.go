package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/garden-controller/internal/gpio"
	"github.com/sweeney/garden-controller/internal/logic"
	"github.com/sweeney/garden-controller/internal/mqtt"
	"github.com/sweeney/garden-controller/internal/orchestrator"
)

// blockingController blocks StartManual until Stop is called.
type blockingController struct {
	mu      sync.Mutex
	started []logic.Zone
	stops   int
	release chan struct{}
	once    sync.Once
}

func newBlockingController() *blockingController {
	return &blockingController{release: make(chan struct{})}
}

func (b *blockingController) StartManual(ctx context.Context, zone logic.Zone) orchestrator.Outcome {
	b.mu.Lock()
	b.started = append(b.started, zone)
	b.mu.Unlock()
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return orchestrator.OutcomeStarted
}

func (b *blockingController) Stop() orchestrator.Outcome {
	b.mu.Lock()
	b.stops++
	b.mu.Unlock()
	b.once.Do(func() { close(b.release) })
	return orchestrator.OutcomeStopped
}

func (b *blockingController) Started() []logic.Zone {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]logic.Zone(nil), b.started...)
}

func TestDispatcherDeliversStopWhileStartBlocked(t *testing.T) {
	ctl := newBlockingController()
	cmds := make(chan Command, 4)
	d := NewDispatcher(ctl, cmds)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	waterReply := make(chan orchestrator.Outcome, 1)
	cmds <- Command{Kind: KindWater, Zone: logic.ZoneTomato, Origin: OriginHTTP, Reply: waterReply}

	stopReply := make(chan orchestrator.Outcome, 1)
	cmds <- Command{Kind: KindStop, Origin: OriginButton, Reply: stopReply}

	select {
	case out := <-stopReply:
		if out != orchestrator.OutcomeStopped {
			t.Errorf("stop outcome: got %s", out)
		}
	case <-time.After(time.Second):
		t.Fatal("stop was not dispatched while a start was blocked")
	}

	select {
	case out := <-waterReply:
		if out != orchestrator.OutcomeStarted {
			t.Errorf("water outcome: got %s", out)
		}
	case <-time.After(time.Second):
		t.Fatal("water command never returned after stop")
	}
	d.Wait()

	if got := ctl.Started(); len(got) != 1 || got[0] != logic.ZoneTomato {
		t.Errorf("started: got %v", got)
	}
	if d.Handled(KindWater) != 1 || d.Handled(KindStop) != 1 {
		t.Errorf("handled: water=%d stop=%d", d.Handled(KindWater), d.Handled(KindStop))
	}
}

func TestDispatcherExitsOnClosedChannel(t *testing.T) {
	cmds := make(chan Command)
	d := NewDispatcher(newBlockingController(), cmds)
	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	close(cmds)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}
}

func TestSendDropsWaterWhenFull(t *testing.T) {
	out := make(chan Command, 1)
	if !Send(out, Command{Kind: KindWater, Zone: logic.ZoneAnnex}) {
		t.Fatal("first send should succeed")
	}
	if Send(out, Command{Kind: KindWater, Zone: logic.ZoneGarden}) {
		t.Error("second water send should be dropped when full")
	}
}

func TestSendContextStopHonoursCancel(t *testing.T) {
	out := make(chan Command)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if SendContext(ctx, out, Command{Kind: KindStop, Origin: OriginHTTP}) {
		t.Error("stop should not be queued once ctx is done")
	}

	buf := make(chan Command, 1)
	if !SendContext(context.Background(), buf, Command{Kind: KindStop}) {
		t.Fatal("stop should be queued when there is room")
	}
	if c := <-buf; c.Kind != KindStop {
		t.Errorf("queued %s", c.Kind)
	}
}

func TestFromAction(t *testing.T) {
	tests := []struct {
		action logic.ButtonAction
		kind   Kind
		zone   logic.Zone
	}{
		{logic.ActionWaterTomato, KindWater, logic.ZoneTomato},
		{logic.ActionWaterGarden, KindWater, logic.ZoneGarden},
		{logic.ActionWaterAnnex, KindWater, logic.ZoneAnnex},
		{logic.ActionStop, KindStop, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			c, ok := FromAction(tt.action)
			if !ok || c.Kind != tt.kind || c.Zone != tt.zone || c.Origin != OriginButton {
				t.Errorf("got (%+v, %v)", c, ok)
			}
		})
	}
	if _, ok := FromAction("DANCE"); ok {
		t.Error("unknown action should not map")
	}
}

func TestButtonsDebounce(t *testing.T) {
	w := gpio.NewFakeButtonWatcher()
	deb := logic.NewPressDebouncer(300*time.Millisecond, ButtonActions())
	out := make(chan Command, 8)

	t0 := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	w.C <- logic.Press{Pin: gpio.PinButtonTomato, Time: t0}
	w.C <- logic.Press{Pin: gpio.PinButtonTomato, Time: t0.Add(50 * time.Millisecond)} // bounce
	w.C <- logic.Press{Pin: 99, Time: t0}                                              // unmapped
	w.C <- logic.Press{Pin: gpio.PinButtonStop, Time: t0.Add(100 * time.Millisecond)}
	w.C <- logic.Press{Pin: gpio.PinButtonTomato, Time: t0.Add(time.Second)}
	w.Close()

	Buttons(context.Background(), w, deb, out)
	close(out)

	var got []Command
	for c := range out {
		got = append(got, c)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 commands, got %d: %+v", len(got), got)
	}
	if got[0].Zone != logic.ZoneTomato || got[1].Kind != KindStop || got[2].Zone != logic.ZoneTomato {
		t.Errorf("unexpected commands: %+v", got)
	}
	if accepted, dropped := deb.Counts(); accepted != 3 || dropped != 1 {
		t.Errorf("counts: accepted=%d dropped=%d", accepted, dropped)
	}
}

func TestMQTTHandler(t *testing.T) {
	out := make(chan Command, 4)
	pub := mqtt.NewFakePublisher()
	pub.Subscribe(mqtt.TopicCommand, MQTTHandler(out))

	pub.Deliver(mqtt.TopicCommand, []byte(`{"command":"water","zone":"garden"}`))
	pub.Deliver(mqtt.TopicCommand, []byte(`{"command":"water","zone":"lawn"}`))
	pub.Deliver(mqtt.TopicCommand, []byte(`{"command":"stop"}`))

	if len(out) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(out))
	}
	c := <-out
	if c.Kind != KindWater || c.Zone != logic.ZoneGarden || c.Origin != OriginMQTT {
		t.Errorf("first: %+v", c)
	}
	c = <-out
	if c.Kind != KindStop || c.Origin != OriginMQTT {
		t.Errorf("second: %+v", c)
	}
}
