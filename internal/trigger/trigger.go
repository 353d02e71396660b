// Package trigger turns button presses and remote requests into commands
// and feeds them to the orchestrator from a single dispatcher goroutine.
package trigger

import (
	"context"
	"log"
	"sync"

	"github.com/sweeney/garden-controller/internal/logic"
	"github.com/sweeney/garden-controller/internal/orchestrator"
)

// Kind is what a command asks for.
type Kind string

const (
	KindWater Kind = "water"
	KindStop  Kind = "stop"
)

// Origin tells where a command came from, for logs.
type Origin string

const (
	OriginButton Origin = "button"
	OriginMQTT   Origin = "mqtt"
	OriginHTTP   Origin = "http"
)

// Command is a request to water one zone or to stop.
type Command struct {
	Kind   Kind
	Zone   logic.Zone
	Origin Origin

	// Reply, if set, receives the outcome. Stop replies immediately; a
	// water command replies when the watering ends or is rejected.
	// It must be buffered.
	Reply chan<- orchestrator.Outcome
}

// Controller is the part of the orchestrator the dispatcher drives.
type Controller interface {
	StartManual(ctx context.Context, zone logic.Zone) orchestrator.Outcome
	Stop() orchestrator.Outcome
}

// Send queues c without blocking for water commands. Stop commands always
// block until queued so they are never lost.
func Send(out chan<- Command, c Command) bool {
	return SendContext(context.Background(), out, c)
}

// SendContext is Send with a bound on how long a stop may wait for room in
// the queue. It reports false if ctx ends first.
func SendContext(ctx context.Context, out chan<- Command, c Command) bool {
	if c.Kind == KindStop {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			log.Printf("trigger: stop from %s not queued: %v", c.Origin, ctx.Err())
			return false
		}
	}
	select {
	case out <- c:
		return true
	default:
		log.Printf("trigger: command queue full, dropping %s %s from %s", c.Kind, c.Zone, c.Origin)
		return false
	}
}

// Dispatcher consumes commands. Stop is handled inline so it is never
// queued behind a running watering; starts run on their own goroutines.
type Dispatcher struct {
	ctl  Controller
	cmds <-chan Command
	wg   sync.WaitGroup

	mu      sync.Mutex
	handled map[Kind]int
}

// NewDispatcher creates a dispatcher reading from cmds.
func NewDispatcher(ctl Controller, cmds <-chan Command) *Dispatcher {
	return &Dispatcher{ctl: ctl, cmds: cmds, handled: make(map[Kind]int)}
}

// Run dispatches until ctx is cancelled or cmds is closed. Starts in flight
// keep running; use Wait to join them.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-d.cmds:
			if !ok {
				return
			}
			d.dispatch(ctx, c)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, c Command) {
	d.mu.Lock()
	d.handled[c.Kind]++
	d.mu.Unlock()

	switch c.Kind {
	case KindStop:
		log.Printf("trigger: stop from %s", c.Origin)
		reply(c, d.ctl.Stop())
	case KindWater:
		log.Printf("trigger: water %s from %s", c.Zone, c.Origin)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			reply(c, d.ctl.StartManual(ctx, c.Zone))
		}()
	default:
		log.Printf("trigger: ignoring unknown command %q from %s", c.Kind, c.Origin)
	}
}

func reply(c Command, out orchestrator.Outcome) {
	if c.Reply == nil {
		return
	}
	select {
	case c.Reply <- out:
	default:
	}
}

// Wait blocks until every start spawned by the dispatcher has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Handled returns how many commands of kind were dispatched.
func (d *Dispatcher) Handled(kind Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handled[kind]
}
