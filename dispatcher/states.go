package dispatcher

import "github.com/studiokoppel/onair/studio"

// State names. Operators read these in logs, so they spell out who holds the
// air and what is pending; the X and Y tokens track which roles are bound.
const (
	StateAutomatOnAir                       = "automat_on_air"
	StateAutomatOnAirImmediateStateX        = "automat_on_air_immediate_state_X"
	StateFromAutomatToStudioXNextHour       = "from_automat_change_to_studio_X_on_next_hour"
	StateStudioXOnAir                       = "studio_X_on_air"
	StateFromStudioXToAutomatNextHour       = "from_studio_X_change_to_automat_on_next_hour"
	StateStudioXOnAirImmediateState         = "studio_X_on_air_immediate_state"
	StateStudioXOnAirImmediateRelease       = "studio_X_on_air_immediate_release"
	StateFromStudioXToStudioYNextHour       = "from_studio_X_change_to_studio_Y_on_next_hour"
	StateStudioXOnAirStudioYTakeoverRequest = "studio_X_on_air_studio_Y_takeover_request"
	StateNoop                               = "noop"
)

// Internal triggers fired by the timers.
const (
	triggerNextHour                = "next_hour"
	triggerImmediateStateTimeout   = "immediate_state_timeout"
	triggerImmediateReleaseTimeout = "immediate_release_timeout"
)

// restoreTriggerPrefix prefixes the per-state triggers used to drive the
// machine into a persisted state.
const restoreTriggerPrefix = "to_"

// timerSet says which timers a state keeps running. A timer active in both
// ends of a transition is left alone, so a countdown survives moving between
// two states that share it.
type timerSet struct {
	nextHour         bool
	immediateState   bool
	immediateRelease bool
}

// LedStateTarget is the per-role LED recipe of one state.
type LedStateTarget struct {
	X     studio.StudioLedStatus
	Y     studio.StudioLedStatus
	Other studio.StudioLedStatus
}

type stateDef struct {
	name   string
	hasX   bool
	hasY   bool
	timers timerSet
	leds   LedStateTarget
}

func leds(green, yellow, red studio.LedStatus) studio.StudioLedStatus {
	return studio.StudioLedStatus{Green: green, Yellow: yellow, Red: red}
}

var allDark = leds(studio.LedOff, studio.LedOff, studio.LedOff)

var states = []stateDef{
	{
		name: StateAutomatOnAir,
		leds: LedStateTarget{X: allDark, Y: allDark, Other: allDark},
	},
	{
		name:   StateAutomatOnAirImmediateStateX,
		hasX:   true,
		timers: timerSet{immediateState: true},
		leds: LedStateTarget{
			X:     leds(studio.LedOff, studio.LedOff, studio.LedOn),
			Y:     allDark,
			Other: allDark,
		},
	},
	{
		name:   StateFromAutomatToStudioXNextHour,
		hasX:   true,
		timers: timerSet{nextHour: true},
		leds: LedStateTarget{
			X:     leds(studio.LedBlink, studio.LedOff, studio.LedOff),
			Y:     allDark,
			Other: allDark,
		},
	},
	{
		name: StateStudioXOnAir,
		hasX: true,
		leds: LedStateTarget{
			X:     leds(studio.LedOn, studio.LedOff, studio.LedOff),
			Y:     allDark,
			Other: allDark,
		},
	},
	{
		name:   StateFromStudioXToAutomatNextHour,
		hasX:   true,
		timers: timerSet{nextHour: true},
		leds: LedStateTarget{
			X:     leds(studio.LedOn, studio.LedBlink, studio.LedOff),
			Y:     allDark,
			Other: allDark,
		},
	},
	{
		name:   StateStudioXOnAirImmediateState,
		hasX:   true,
		timers: timerSet{immediateState: true},
		leds: LedStateTarget{
			X:     leds(studio.LedOn, studio.LedOff, studio.LedOn),
			Y:     allDark,
			Other: allDark,
		},
	},
	{
		name:   StateStudioXOnAirImmediateRelease,
		hasX:   true,
		timers: timerSet{immediateRelease: true},
		leds: LedStateTarget{
			X:     leds(studio.LedOn, studio.LedBlink, studio.LedOn),
			Y:     allDark,
			Other: leds(studio.LedOff, studio.LedBlink, studio.LedBlink),
		},
	},
	{
		name:   StateFromStudioXToStudioYNextHour,
		hasX:   true,
		hasY:   true,
		timers: timerSet{nextHour: true},
		leds: LedStateTarget{
			X:     leds(studio.LedOn, studio.LedOn, studio.LedOff),
			Y:     leds(studio.LedBlink, studio.LedOff, studio.LedOff),
			Other: allDark,
		},
	},
	{
		name: StateStudioXOnAirStudioYTakeoverRequest,
		hasX: true,
		hasY: true,
		leds: LedStateTarget{
			X:     leds(studio.LedOn, studio.LedBlink, studio.LedOff),
			Y:     leds(studio.LedOff, studio.LedOn, studio.LedOff),
			Other: allDark,
		},
	},
	{
		name: StateNoop,
		leds: LedStateTarget{X: allDark, Y: allDark, Other: allDark},
	},
}

var stateByName = func() map[string]stateDef {
	m := make(map[string]stateDef, len(states))
	for _, s := range states {
		m[s.name] = s
	}
	return m
}()

type transitionDef struct {
	trigger string
	src     string
	dst     string
	// switchToY promotes Y to X before the destination is entered.
	switchToY bool
}

// machineTransitions is the authoritative transition table.
var machineTransitions = []transitionDef{
	{trigger: "takeover_X", src: StateAutomatOnAir, dst: StateFromAutomatToStudioXNextHour},
	{trigger: "takeover_X", src: StateAutomatOnAirImmediateStateX, dst: StateStudioXOnAir},
	{trigger: "takeover_X", src: StateFromStudioXToAutomatNextHour, dst: StateStudioXOnAir},
	{trigger: "takeover_X", src: StateStudioXOnAirImmediateRelease, dst: StateStudioXOnAir},
	{trigger: "takeover_X", src: StateFromStudioXToStudioYNextHour, dst: StateStudioXOnAirStudioYTakeoverRequest},

	{trigger: "release_X", src: StateFromAutomatToStudioXNextHour, dst: StateAutomatOnAir},
	{trigger: "release_X", src: StateStudioXOnAir, dst: StateFromStudioXToAutomatNextHour},
	{trigger: "release_X", src: StateStudioXOnAirImmediateState, dst: StateStudioXOnAirImmediateRelease},
	{trigger: "release_X", src: StateStudioXOnAirStudioYTakeoverRequest, dst: StateFromStudioXToStudioYNextHour},

	{trigger: "immediate_X", src: StateAutomatOnAir, dst: StateAutomatOnAirImmediateStateX},
	{trigger: "immediate_X", src: StateAutomatOnAirImmediateStateX, dst: StateAutomatOnAir},
	{trigger: "immediate_X", src: StateFromAutomatToStudioXNextHour, dst: StateAutomatOnAirImmediateStateX},
	{trigger: "immediate_X", src: StateStudioXOnAir, dst: StateStudioXOnAirImmediateState},
	{trigger: "immediate_X", src: StateStudioXOnAirImmediateState, dst: StateStudioXOnAir},

	{trigger: "takeover_Y", src: StateStudioXOnAir, dst: StateStudioXOnAirStudioYTakeoverRequest},
	{trigger: "takeover_Y", src: StateFromStudioXToAutomatNextHour, dst: StateFromStudioXToStudioYNextHour},

	{trigger: "release_Y", src: StateStudioXOnAirStudioYTakeoverRequest, dst: StateStudioXOnAir},
	{trigger: "release_Y", src: StateFromStudioXToStudioYNextHour, dst: StateFromStudioXToAutomatNextHour},

	{trigger: triggerNextHour, src: StateFromAutomatToStudioXNextHour, dst: StateStudioXOnAir},
	{trigger: triggerNextHour, src: StateFromStudioXToAutomatNextHour, dst: StateAutomatOnAir},
	{trigger: triggerNextHour, src: StateFromStudioXToStudioYNextHour, dst: StateStudioXOnAir, switchToY: true},

	{trigger: triggerImmediateStateTimeout, src: StateAutomatOnAirImmediateStateX, dst: StateAutomatOnAir},
	{trigger: triggerImmediateStateTimeout, src: StateStudioXOnAirImmediateState, dst: StateStudioXOnAir},

	{trigger: triggerImmediateReleaseTimeout, src: StateStudioXOnAirImmediateRelease, dst: StateAutomatOnAir},
}
