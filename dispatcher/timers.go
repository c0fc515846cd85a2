package dispatcher

import (
	"time"

	"github.com/lestrrat-go/strftime"
)

var hourStamp = func() *strftime.Strftime {
	f, err := strftime.New(`%Y-%m-%dT%H:%M:%S%z`)
	if err != nil {
		panic(err)
	}
	return f
}()

// timerHandle identifies one running timer goroutine; closing stop cancels
// it without firing.
type timerHandle struct {
	stop chan struct{}
}

func newTimerHandle() *timerHandle {
	return &timerHandle{stop: make(chan struct{})}
}

func (h *timerHandle) stopped() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// NextFullHour returns the wall-clock instant of the next HH:00:00 after
// now, in now's location.
func NextFullHour(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location()).Add(time.Hour)
	if next.Sub(now) > time.Hour {
		next = next.Add(-time.Hour)
	}
	return next
}

// startNextHourTimerLocked arms the hour timer unless one is running.
func (d *Dispatcher) startNextHourTimerLocked() {
	if d.nextHourTimer != nil {
		return
	}
	h := newTimerHandle()
	d.nextHourTimer = h
	d.wg.Add(1)
	go d.runNextHourTimer(h)
}

// runNextHourTimer fires the next_hour trigger as closely as possible to the
// full hour: sleep until 2 s before, then until 0.3 s before. The target is
// recomputed on each wake so clock adjustments cannot strand the timer.
func (d *Dispatcher) runNextHourTimer(h *timerHandle) {
	defer d.wg.Done()
	fire := d.sleepUntilNextHour(h)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.nextHourTimer == h {
		d.nextHourTimer = nil
	}
	if h.stopped() {
		return
	}
	if fire {
		d.log.Info("hourly boundary", "at", hourStamp.FormatString(time.Now()))
		d.triggerLocked(triggerNextHour, nil)
		d.assureLedStatusLocked()
	}
}

func (d *Dispatcher) sleepUntilNextHour(h *timerHandle) bool {
	for {
		remaining := time.Until(NextFullHour(time.Now()))
		if remaining <= 300*time.Millisecond {
			return true
		}
		sleep := remaining - 300*time.Millisecond
		if remaining > 2*time.Second {
			sleep = remaining - 2*time.Second
		}
		d.log.Debug("sleep towards next full hour", "remaining", remaining, "sleep", sleep)
		t := time.NewTimer(sleep)
		select {
		case <-h.stop:
			t.Stop()
			return false
		case <-t.C:
		}
		if remaining <= 2*time.Second {
			return true
		}
	}
}

func (d *Dispatcher) stopNextHourTimerLocked() {
	if d.nextHourTimer != nil {
		d.log.Debug("stop next hour timer")
		close(d.nextHourTimer.stop)
		d.nextHourTimer = nil
	}
}

// startImmediateStateTimerLocked arms the immediate-state countdown unless
// one is running.
func (d *Dispatcher) startImmediateStateTimerLocked() {
	if d.immediateStateTimer != nil {
		return
	}
	h := newTimerHandle()
	d.immediateStateTimer = h
	d.wg.Add(1)
	go d.runDurationTimer(h, d.immediateStateTime, triggerImmediateStateTimeout, &d.immediateStateTimer)
}

func (d *Dispatcher) stopImmediateStateTimerLocked() {
	if d.immediateStateTimer != nil {
		d.log.Debug("stop immediate state timer")
		close(d.immediateStateTimer.stop)
		d.immediateStateTimer = nil
	}
}

// startImmediateReleaseTimerLocked arms the immediate-release countdown
// unless one is running.
func (d *Dispatcher) startImmediateReleaseTimerLocked() {
	if d.immediateReleaseTimer != nil {
		return
	}
	h := newTimerHandle()
	d.immediateReleaseTimer = h
	d.wg.Add(1)
	go d.runDurationTimer(h, d.immediateReleaseTime, triggerImmediateReleaseTimeout, &d.immediateReleaseTimer)
}

func (d *Dispatcher) stopImmediateReleaseTimerLocked() {
	if d.immediateReleaseTimer != nil {
		d.log.Debug("stop immediate release timer")
		close(d.immediateReleaseTimer.stop)
		d.immediateReleaseTimer = nil
	}
}

// runDurationTimer waits for dur and fires trigger, unless cancelled. slot
// is the dispatcher field holding this timer; it is cleared under the mutex.
func (d *Dispatcher) runDurationTimer(h *timerHandle, dur time.Duration, trigger string, slot **timerHandle) {
	defer d.wg.Done()
	t := time.NewTimer(dur)
	fired := false
	select {
	case <-h.stop:
		t.Stop()
	case <-t.C:
		fired = true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if *slot == h {
		*slot = nil
	}
	if fired && !h.stopped() {
		d.triggerLocked(trigger, nil)
	}
}
