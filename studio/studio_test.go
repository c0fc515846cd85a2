package studio_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiokoppel/onair/studio"
)

func newTestStudio(name string) *studio.Studio {
	return studio.New(name,
		studio.NewDummyLamp(name+"/green"),
		studio.NewDummyLamp(name+"/yellow"),
		studio.NewDummyLamp(name+"/red"),
	)
}

func TestStudio_PressDeliversEvent(t *testing.T) {
	s := newTestStudio("A")
	events := make(chan studio.ButtonEvent, 1)
	s.BindEvents(events)

	require.NoError(t, s.Press(context.Background(), studio.ButtonTakeover))

	ev := <-events
	assert.Same(t, s, ev.Studio)
	assert.Equal(t, studio.ButtonTakeover, ev.Button)
}

func TestStudio_PressWithoutDispatcherFails(t *testing.T) {
	s := newTestStudio("A")
	assert.Error(t, s.Press(context.Background(), studio.ButtonRelease))
}

func TestStudio_PressHonorsContext(t *testing.T) {
	s := newTestStudio("A")
	events := make(chan studio.ButtonEvent) // nobody reading
	s.BindEvents(events)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Press(ctx, studio.ButtonImmediate), context.DeadlineExceeded)
}

func TestStudio_AttachButtonForwardsPresses(t *testing.T) {
	s := newTestStudio("A")
	events := make(chan studio.ButtonEvent, 1)
	s.BindEvents(events)

	btn := studio.NewDummyButton("A/immediate")
	s.AttachButton(studio.ButtonImmediate, btn)
	btn.Press()

	ev := <-events
	assert.Equal(t, studio.ButtonImmediate, ev.Button)
}

func TestStudio_LedStatusRoundTrip(t *testing.T) {
	s := newTestStudio("A")
	want := studio.StudioLedStatus{
		Green:  studio.LedOn,
		Yellow: studio.LedBlink,
		Red:    studio.LedBlinkFast,
	}
	s.SetLedStatus(want)
	assert.Equal(t, want, s.LedStatus())
}

func TestStudio_NilLampsTolerated(t *testing.T) {
	s := studio.New("bare", nil, nil, nil)
	s.SetLedStatus(studio.StudioLedStatus{Green: studio.LedOn})
	assert.Equal(t, studio.StudioLedStatus{}, s.LedStatus())
}

func TestLedStatusString(t *testing.T) {
	assert.Equal(t, "off", studio.LedOff.String())
	assert.Equal(t, "on", studio.LedOn.String())
	assert.Equal(t, "blink@2Hz", studio.LedBlink.String())
	assert.Equal(t, "blink@4Hz", studio.LedBlinkFast.String())
}

func TestButtonKindString(t *testing.T) {
	assert.Equal(t, "takeover", studio.ButtonTakeover.String())
	assert.Equal(t, "release", studio.ButtonRelease.String())
	assert.Equal(t, "immediate", studio.ButtonImmediate.String())
}
