package dispatcher

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// savedState is the persisted snapshot of the machine.
type savedState struct {
	X     *string `json:"x"`
	Y     *string `json:"y"`
	State string  `json:"state"`
}

// Save writes the (x, y, state) snapshot to the configured path.
func (d *Dispatcher) Save() error {
	d.mu.Lock()
	st := savedState{State: d.machine.Current()}
	if d.x != nil {
		name := d.x.Name()
		st.X = &name
	}
	if d.y != nil {
		name := d.y.Name()
		st.Y = &name
	}
	d.mu.Unlock()

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("dispatcher: encoding state: %w", err)
	}
	if err := os.WriteFile(d.stateFile, data, 0o644); err != nil {
		return fmt.Errorf("dispatcher: writing %s: %w", d.stateFile, err)
	}
	d.log.Debug("saved dispatcher state", "file", d.stateFile, "state", st.State)
	return nil
}

// Load restores a persisted snapshot. A missing file means a cold start and
// is only worth a warning; anything else is logged as a serious condition.
// Neither aborts startup.
func (d *Dispatcher) Load() {
	data, err := os.ReadFile(d.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			d.log.Warn("no dispatcher state to load", "file", d.stateFile)
		} else {
			d.log.Error("could not load dispatcher state", "file", d.stateFile, "err", err)
		}
		return
	}
	var st savedState
	if err := json.Unmarshal(data, &st); err != nil {
		d.log.Error("could not load dispatcher state", "file", d.stateFile, "err", err)
		return
	}
	if _, ok := stateByName[st.State]; !ok {
		d.log.Error("persisted state is unknown", "file", d.stateFile, "state", st.State)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if st.X != nil {
		s, ok := d.studioByName[*st.X]
		if !ok {
			d.log.Error("persisted studio X is not configured", "name", *st.X)
			return
		}
		d.x = s
		if st.Y != nil {
			s, ok := d.studioByName[*st.Y]
			if !ok {
				d.log.Error("persisted studio Y is not configured", "name", *st.Y)
				return
			}
			d.y = s
		}
	}

	// Re-assert who holds the air before walking the machine over.
	switch {
	case strings.Contains(st.State, "automat_on_air"):
		d.changeToAutomat()
	case strings.Contains(st.State, "studio_X_on_air"):
		d.changeToStudio()
	}

	d.triggerLocked(restoreTriggerPrefix+st.State, nil)
	d.log.Info("restored dispatcher state", "state", st.State,
		"x", studioName(d.x), "y", studioName(d.y))
}
