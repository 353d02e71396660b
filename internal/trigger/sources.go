package trigger

import (
	"context"
	"log"

	"github.com/sweeney/garden-controller/internal/gpio"
	"github.com/sweeney/garden-controller/internal/logic"
	"github.com/sweeney/garden-controller/internal/mqtt"
)

// ButtonActions is the default pin to action wiring.
func ButtonActions() map[int]logic.ButtonAction {
	return map[int]logic.ButtonAction{
		gpio.PinButtonTomato: logic.ActionWaterTomato,
		gpio.PinButtonGarden: logic.ActionWaterGarden,
		gpio.PinButtonAnnex:  logic.ActionWaterAnnex,
		gpio.PinButtonStop:   logic.ActionStop,
	}
}

// FromAction converts a button action into a command.
func FromAction(a logic.ButtonAction) (Command, bool) {
	switch a {
	case logic.ActionWaterTomato:
		return Command{Kind: KindWater, Zone: logic.ZoneTomato, Origin: OriginButton}, true
	case logic.ActionWaterGarden:
		return Command{Kind: KindWater, Zone: logic.ZoneGarden, Origin: OriginButton}, true
	case logic.ActionWaterAnnex:
		return Command{Kind: KindWater, Zone: logic.ZoneAnnex, Origin: OriginButton}, true
	case logic.ActionStop:
		return Command{Kind: KindStop, Origin: OriginButton}, true
	}
	return Command{}, false
}

// Buttons debounces presses from w and forwards them to out until the
// watcher closes or ctx is cancelled.
func Buttons(ctx context.Context, w gpio.ButtonWatcher, deb *logic.PressDebouncer, out chan<- Command) {
	presses := w.Presses()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-presses:
			if !ok {
				return
			}
			action, ok := deb.Process(p)
			if !ok {
				continue
			}
			c, ok := FromAction(action)
			if !ok {
				continue
			}
			Send(out, c)
		}
	}
}

// MQTTHandler returns a subscription handler that parses remote commands
// and forwards them to out.
func MQTTHandler(out chan<- Command) func(payload []byte) {
	return func(payload []byte) {
		rc, err := mqtt.ParseCommand(payload)
		if err != nil {
			log.Printf("trigger: bad remote command: %v", err)
			return
		}
		c := Command{Kind: KindStop, Origin: OriginMQTT}
		if rc.Action == mqtt.ActionWater {
			c = Command{Kind: KindWater, Zone: rc.Zone, Origin: OriginMQTT}
		}
		Send(out, c)
	}
}
