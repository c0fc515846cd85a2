// Package dispatcher decides which audio source is on air. It consumes
// studio button events and timer events through a state machine over the
// roles (X, Y), drives the per-studio LEDs and reconciles the source
// selector on the DSP with the decision.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/studiokoppel/onair/studio"
	"github.com/studiokoppel/onair/symnet"
)

// AutomatName is the reserved pseudo-studio name of the automation source.
const AutomatName = "automat"

// Selector is the slice of a source selector the dispatcher needs.
type Selector interface {
	PositionCount() int
	Position(ctx context.Context) (int, error)
	SetPosition(ctx context.Context, position int) error
	AddObserver(symnet.Observer) int
	RemoveObserver(int)
}

// StudioDefinition couples a studio with its selector position.
type StudioDefinition struct {
	Studio        *studio.Studio
	SelectorValue int
}

// Options carries the tunables; zero values select the defaults.
type Options struct {
	ImmediateStateTime   time.Duration // default 300s
	ImmediateReleaseTime time.Duration // default 30s
	StateFile            string        // default state.json
	Log                  *slog.Logger
	Audit                *slog.Logger
}

// Dispatcher is the on-air state machine of one routing matrix.
//
// A state binds at most two studios: X is on air or about to be, Y may only
// signal a takeover request. The automat is the default source and has no
// studio object. The mutex is held for the whole of every transition; all
// state-machine callbacks run under it.
type Dispatcher struct {
	log   *slog.Logger
	audit *slog.Logger

	selector             Selector
	automatValue         int
	studios              []*studio.Studio
	valueByStudio        map[*studio.Studio]int
	studioByValue        map[int]*studio.Studio
	studioByName         map[string]*studio.Studio
	immediateStateTime   time.Duration
	immediateReleaseTime time.Duration
	stateFile            string

	events chan studio.ButtonEvent

	mu                    sync.Mutex
	machine               *fsm.FSM
	x                     *studio.Studio
	y                     *studio.Studio
	onAirValue            int
	nextHourTimer         *timerHandle
	immediateStateTimer   *timerHandle
	immediateReleaseTimer *timerHandle
	observers             map[int]func(*Dispatcher)
	nextObserverID        int
	started               bool

	selObserverID int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a dispatcher for the given selector and studios. The automat
// value and every studio value must be distinct valid selector positions.
func New(selector Selector, automatValue int, defs []StudioDefinition, opts Options) (*Dispatcher, error) {
	if opts.ImmediateStateTime <= 0 {
		opts.ImmediateStateTime = 300 * time.Second
	}
	if opts.ImmediateReleaseTime <= 0 {
		opts.ImmediateReleaseTime = 30 * time.Second
	}
	if opts.StateFile == "" {
		opts.StateFile = "state.json"
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Audit == nil {
		opts.Audit = opts.Log
	}

	if automatValue < 1 || automatValue > selector.PositionCount() {
		return nil, fmt.Errorf("dispatcher: automat selector value %d out of range [1, %d]",
			automatValue, selector.PositionCount())
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		log:                  opts.Log,
		audit:                opts.Audit,
		selector:             selector,
		automatValue:         automatValue,
		valueByStudio:        make(map[*studio.Studio]int),
		studioByValue:        make(map[int]*studio.Studio),
		studioByName:         make(map[string]*studio.Studio),
		immediateStateTime:   opts.ImmediateStateTime,
		immediateReleaseTime: opts.ImmediateReleaseTime,
		stateFile:            opts.StateFile,
		events:               make(chan studio.ButtonEvent, 1),
		observers:            make(map[int]func(*Dispatcher)),
		onAirValue:           automatValue,
		ctx:                  ctx,
		cancel:               cancel,
	}

	for _, def := range defs {
		s := def.Studio
		if s.Name() == AutomatName {
			cancel()
			return nil, fmt.Errorf("dispatcher: studio may not use the reserved name %q", AutomatName)
		}
		if _, dup := d.studioByName[s.Name()]; dup {
			cancel()
			return nil, fmt.Errorf("dispatcher: duplicate studio name %q", s.Name())
		}
		if def.SelectorValue < 1 || def.SelectorValue > selector.PositionCount() {
			cancel()
			return nil, fmt.Errorf("dispatcher: studio %s selector value %d out of range [1, %d]",
				s.Name(), def.SelectorValue, selector.PositionCount())
		}
		if _, dup := d.studioByValue[def.SelectorValue]; dup || def.SelectorValue == automatValue {
			cancel()
			return nil, fmt.Errorf("dispatcher: selector value %d assigned twice", def.SelectorValue)
		}
		d.studios = append(d.studios, s)
		d.valueByStudio[s] = def.SelectorValue
		d.studioByValue[def.SelectorValue] = s
		d.studioByName[s.Name()] = s
		s.BindEvents(d.events)
	}

	d.machine = fsm.NewFSM(StateAutomatOnAir, buildEvents(), fsm.Callbacks{
		"before_event":                d.beforeStateChange,
		"enter_" + StateAutomatOnAir:  func(context.Context, *fsm.Event) { d.changeToAutomat() },
		"enter_" + StateStudioXOnAir:  func(context.Context, *fsm.Event) { d.changeToStudio() },
		"after_event":                 d.afterStateChange,
	})
	return d, nil
}

// buildEvents turns the transition table into event descriptors, completes
// the button-trigger vocabulary with noop self-transitions and adds the
// restore triggers.
func buildEvents() fsm.Events {
	events := make(fsm.Events, 0, len(machineTransitions)+len(states))
	known := make(map[string]bool)
	for _, t := range machineTransitions {
		events = append(events, fsm.EventDesc{Name: t.trigger, Src: []string{t.src}, Dst: t.dst})
		known[t.trigger] = true
	}
	for _, kind := range []studio.ButtonKind{studio.ButtonTakeover, studio.ButtonRelease, studio.ButtonImmediate} {
		for _, role := range []string{"_X", "_Y"} {
			name := kind.String() + role
			if !known[name] {
				events = append(events, fsm.EventDesc{Name: name, Src: []string{StateNoop}, Dst: StateNoop})
			}
		}
	}
	allNames := make([]string, len(states))
	for i, s := range states {
		allNames[i] = s.name
	}
	for _, s := range states {
		events = append(events, fsm.EventDesc{Name: restoreTriggerPrefix + s.name, Src: allNames, Dst: s.name})
	}
	return events
}

var switchToY = func() map[[2]string]bool {
	m := make(map[[2]string]bool)
	for _, t := range machineTransitions {
		if t.switchToY {
			m[[2]string{t.trigger, t.src}] = true
		}
	}
	return m
}()

// Start launches the long running loops. Safe to call once.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	// Observers run on their own goroutine already.
	d.selObserverID = d.selector.AddObserver(func(_ *symnet.Controller, _, _ int) {
		d.setCurrentState()
	})

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.assureCurrentStateLoop()
	}()
	go func() {
		defer d.wg.Done()
		d.processButtonEvents()
	}()
}

// Stop halts the event loop, cancels the timers, waits for the loops to
// drain and saves the state snapshot.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.mu.Lock()
	d.stopNextHourTimerLocked()
	d.stopImmediateStateTimerLocked()
	d.stopImmediateReleaseTimerLocked()
	started := d.started
	d.mu.Unlock()
	if started {
		d.selector.RemoveObserver(d.selObserverID)
	}
	d.wg.Wait()
	if err := d.Save(); err != nil {
		d.log.Error("saving dispatcher state", "err", err)
	}
}

// Observe registers a callback invoked after every finalized transition and
// returns its removal function.
func (d *Dispatcher) Observe(fn func(*Dispatcher)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextObserverID
	d.nextObserverID++
	d.observers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.observers, id)
	}
}

// State reports the current machine state name.
func (d *Dispatcher) State() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.machine.Current()
}

// OnAirStudioName resolves the intended selector value to a studio name, or
// the automat.
func (d *Dispatcher) OnAirStudioName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onAirStudioNameLocked()
}

func (d *Dispatcher) onAirStudioNameLocked() string {
	if d.onAirValue == d.automatValue {
		return AutomatName
	}
	return d.studioByValue[d.onAirValue].Name()
}

// Status is a point-in-time snapshot for logs and status dumps.
type Status struct {
	State       string
	OnAirStudio string
	X           string
	Y           string
}

func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		State:       d.machine.Current(),
		OnAirStudio: d.onAirStudioNameLocked(),
		X:           studioName(d.x),
		Y:           studioName(d.y),
	}
}

func studioName(s *studio.Studio) string {
	if s == nil {
		return ""
	}
	return s.Name()
}

// processButtonEvents maps each physical button event onto an X or Y trigger
// and feeds the machine. Events arrive through a bounded channel, so studios
// block while a transition is in flight.
func (d *Dispatcher) processButtonEvents() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev := <-d.events:
			d.log.Debug("button event", "studio", ev.Studio.Name(), "button", ev.Button.String())
			d.mu.Lock()
			var role string
			switch {
			case d.x == nil || d.x == ev.Studio:
				// No active studio yet, or the active one pressed.
				role = "_X"
			case d.y == nil || d.y == ev.Studio:
				role = "_Y"
			}
			if role == "" {
				d.log.Debug("both roles taken, dropping event",
					"studio", ev.Studio.Name(), "button", ev.Button.String())
			} else {
				d.triggerLocked(ev.Button.String()+role, &ev)
			}
			d.auditStateLocked()
			d.assureLedStatusLocked()
			d.mu.Unlock()
		}
	}
}

// triggerLocked fires one machine event. Invalid triggers are ignored, per
// design: the machine never errors on unexpected input.
func (d *Dispatcher) triggerLocked(name string, ev *studio.ButtonEvent) {
	d.log.Debug("trigger", "name", name, "state", d.machine.Current(),
		"x", studioName(d.x), "y", studioName(d.y))
	var err error
	if ev != nil {
		err = d.machine.Event(d.ctx, name, ev)
	} else {
		err = d.machine.Event(d.ctx, name)
	}
	if err == nil {
		return
	}
	var (
		invalid      fsm.InvalidEventError
		unknown      fsm.UnknownEventError
		noTransition fsm.NoTransitionError
	)
	switch {
	case errors.As(err, &noTransition):
		// Self-transition, nothing moved.
	case errors.As(err, &invalid), errors.As(err, &unknown):
		d.log.Info("ignoring invalid trigger", "name", name, "state", d.machine.Current())
	default:
		d.log.Error("trigger failed", "name", name, "err", err)
	}
}

// beforeStateChange binds roles from the button event, runs the tagged
// switch-to-Y promotion and cancels timers the destination does not carry.
func (d *Dispatcher) beforeStateChange(_ context.Context, e *fsm.Event) {
	if len(e.Args) > 0 {
		if ev, ok := e.Args[0].(*studio.ButtonEvent); ok {
			if roleSuffix(e.Event) == "_X" {
				d.x = ev.Studio
			} else if roleSuffix(e.Event) == "_Y" {
				d.y = ev.Studio
			}
		}
	}

	if switchToY[[2]string{e.Event, e.Src}] {
		d.x, d.y = d.y, nil
	}

	dst := stateByName[e.Dst]
	if !dst.timers.nextHour {
		d.stopNextHourTimerLocked()
	}
	if !dst.timers.immediateState {
		d.stopImmediateStateTimerLocked()
	}
	if !dst.timers.immediateRelease {
		d.stopImmediateReleaseTimerLocked()
	}
}

// afterStateChange clears unbound roles, starts the destination's timers and
// finalizes with audit, LED fan-out and observer notification.
func (d *Dispatcher) afterStateChange(_ context.Context, e *fsm.Event) {
	dst := stateByName[e.Dst]
	if !dst.hasX {
		d.x = nil
	}
	if !dst.hasY {
		d.y = nil
	}

	if dst.timers.nextHour {
		d.startNextHourTimerLocked()
	}
	if dst.timers.immediateState {
		d.startImmediateStateTimerLocked()
	}
	if dst.timers.immediateRelease {
		d.startImmediateReleaseTimerLocked()
	}

	d.audit.Info("transition",
		"trigger", e.Event,
		"src", e.Src,
		"dst", e.Dst,
		"on_air", d.onAirStudioNameLocked(),
		"x", studioName(d.x),
		"y", studioName(d.y))

	d.auditStateLocked()
	d.assureLedStatusLocked()
	for _, fn := range d.observers {
		fn(d)
	}
}

func roleSuffix(trigger string) string {
	if len(trigger) < 2 {
		return ""
	}
	return trigger[len(trigger)-2:]
}

// changeToAutomat is the entry action of automat_on_air.
func (d *Dispatcher) changeToAutomat() {
	d.log.Debug("change to automat")
	d.onAirValue = d.automatValue
	go d.setCurrentState()
}

// changeToStudio is the entry action of studio_X_on_air.
func (d *Dispatcher) changeToStudio() {
	if d.x == nil {
		d.log.Error("entering studio_X_on_air without a studio X")
		return
	}
	d.log.Debug("change to studio", "studio", d.x.Name())
	d.onAirValue = d.valueByStudio[d.x]
	go d.setCurrentState()
}

// auditStateLocked verifies the role invariants. Violations are logged and
// left alone; the machine never auto-corrects.
func (d *Dispatcher) auditStateLocked() {
	def := stateByName[d.machine.Current()]
	if def.hasX && d.x == nil {
		d.audit.Error("audit: state requires X but no studio is bound", "state", def.name)
	}
	if !def.hasX && d.x != nil {
		d.audit.Error("audit: state has no X but a studio is bound", "state", def.name, "x", d.x.Name())
	}
	if def.hasY && d.y == nil {
		d.audit.Error("audit: state requires Y but no studio is bound", "state", def.name)
	}
	if !def.hasY && d.y != nil {
		d.audit.Error("audit: state has no Y but a studio is bound", "state", def.name, "y", d.y.Name())
	}
}

// assureLedStatusLocked pushes the current state's recipe to every studio,
// partitioned by role.
func (d *Dispatcher) assureLedStatusLocked() {
	target := stateByName[d.machine.Current()].leds
	for _, s := range d.studios {
		switch s {
		case d.x:
			s.SetLedStatus(target.X)
		case d.y:
			s.SetLedStatus(target.Y)
		default:
			s.SetLedStatus(target.Other)
		}
	}
}

// setCurrentState asserts the intended selector position on the device.
// Failures are logged only; the reconciliation loop retries.
func (d *Dispatcher) setCurrentState() {
	d.mu.Lock()
	value := d.onAirValue
	d.mu.Unlock()
	d.log.Info("asserting selector position", "position", value)
	if err := d.selector.SetPosition(d.ctx, value); err != nil {
		d.log.Error("setting selector position", "position", value, "err", err)
	}
}

// assureCurrentStateLoop re-asserts the selector on a randomized interval in
// case device communication went wrong in between.
func (d *Dispatcher) assureCurrentStateLoop() {
	for {
		d.setCurrentState()
		sleep := time.Duration(300+rand.Intn(301)) * time.Second
		d.log.Debug("reconciliation sleep", "duration", sleep)
		select {
		case <-d.ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}
