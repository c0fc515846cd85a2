// Package studio models the operator-facing side of the broadcast chain: a
// studio identity, its three signal lamps and the buttons operators press to
// request or release the air.
package studio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// LampState is the basic on/off/blink condition of a single lamp.
type LampState int

const (
	LampOff LampState = iota
	LampOn
	LampBlink
)

func (s LampState) String() string {
	switch s {
	case LampOff:
		return "off"
	case LampOn:
		return "on"
	case LampBlink:
		return "blink"
	}
	return fmt.Sprintf("LampState(%d)", int(s))
}

// LedStatus describes the target condition of one lamp. BlinkFreq is in Hz
// and only meaningful while State is LampBlink.
type LedStatus struct {
	State     LampState
	BlinkFreq int
}

func (l LedStatus) String() string {
	if l.State == LampBlink {
		return fmt.Sprintf("blink@%dHz", l.BlinkFreq)
	}
	return l.State.String()
}

// The four lamp conditions. The dispatcher's recipes use LedOff, LedOn and
// LedBlink; LedBlinkFast is the 4 Hz blink.
var (
	LedOff       = LedStatus{State: LampOff, BlinkFreq: 2}
	LedOn        = LedStatus{State: LampOn, BlinkFreq: 2}
	LedBlink     = LedStatus{State: LampBlink, BlinkFreq: 2}
	LedBlinkFast = LedStatus{State: LampBlink, BlinkFreq: 4}
)

// StudioLedStatus is the complete tri-color recipe for one studio.
type StudioLedStatus struct {
	Green  LedStatus
	Yellow LedStatus
	Red    LedStatus
}

// ButtonKind identifies one of the three physical buttons in a studio.
type ButtonKind int

const (
	ButtonTakeover ButtonKind = iota
	ButtonRelease
	ButtonImmediate
)

func (b ButtonKind) String() string {
	switch b {
	case ButtonTakeover:
		return "takeover"
	case ButtonRelease:
		return "release"
	case ButtonImmediate:
		return "immediate"
	}
	return fmt.Sprintf("ButtonKind(%d)", int(b))
}

// ButtonEvent is what a studio emits towards the dispatcher.
type ButtonEvent struct {
	Studio *Studio
	Button ButtonKind
}

// Lamp is one physical lamp. Implementations are expected to be cheap; the
// dispatcher re-asserts lamp states liberally.
type Lamp interface {
	Name() string
	SetStatus(LedStatus)
	Status() LedStatus
}

// Button is one physical button. Handlers run on the driver's goroutine and
// may block until the dispatcher has accepted the event.
type Button interface {
	Name() string
	AddHandler(func())
}

// Studio owns three lamps and forwards button presses as ButtonEvents into
// the channel bound by the dispatcher.
type Studio struct {
	name string
	log  *slog.Logger

	green  Lamp
	yellow Lamp
	red    Lamp

	mu     sync.Mutex
	events chan<- ButtonEvent
}

// New returns a Studio with the given lamps. Any lamp may be nil if the
// installation lacks it.
func New(name string, green, yellow, red Lamp) *Studio {
	return &Studio{
		name:   name,
		log:    slog.Default().With("studio", name),
		green:  green,
		yellow: yellow,
		red:    red,
	}
}

func (s *Studio) Name() string { return s.name }

func (s *Studio) String() string { return s.name }

// BindEvents attaches the dispatcher's button event channel. The channel is
// bounded; senders block while the dispatcher is busy.
func (s *Studio) BindEvents(ch chan<- ButtonEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = ch
}

// Press emits a ButtonEvent for this studio, blocking until the dispatcher
// accepts it or ctx is done.
func (s *Studio) Press(ctx context.Context, kind ButtonKind) error {
	s.mu.Lock()
	ch := s.events
	s.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("studio %s: no dispatcher bound", s.name)
	}
	select {
	case ch <- ButtonEvent{Studio: s, Button: kind}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AttachButton wires a physical button to Press. The handler blocks the
// button driver while the dispatcher is busy, which is the intended
// backpressure.
func (s *Studio) AttachButton(kind ButtonKind, b Button) {
	b.AddHandler(func() {
		if err := s.Press(context.Background(), kind); err != nil {
			s.log.Error("dropping button press", "button", kind, "err", err)
		}
	})
}

// SetLedStatus applies a tri-color recipe to the studio's lamps.
func (s *Studio) SetLedStatus(status StudioLedStatus) {
	if s.green != nil {
		s.green.SetStatus(status.Green)
	}
	if s.yellow != nil {
		s.yellow.SetStatus(status.Yellow)
	}
	if s.red != nil {
		s.red.SetStatus(status.Red)
	}
}

// LedStatus reports the current lamp states.
func (s *Studio) LedStatus() StudioLedStatus {
	var status StudioLedStatus
	if s.green != nil {
		status.Green = s.green.Status()
	}
	if s.yellow != nil {
		status.Yellow = s.yellow.Status()
	}
	if s.red != nil {
		status.Red = s.red.Status()
	}
	return status
}
