package dispatcher

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiokoppel/onair/studio"
)

func TestPersist_SaveLoadRoundTrip(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")

	rig := newTestRig(t, Options{StateFile: stateFile})
	rig.d.Start()

	press(t, rig.a, studio.ButtonTakeover)
	waitForState(t, rig.d, StateFromAutomatToStudioXNextHour)
	fire(rig.d, triggerNextHour)
	waitForState(t, rig.d, StateStudioXOnAir)
	press(t, rig.b, studio.ButtonTakeover)
	waitForState(t, rig.d, StateStudioXOnAirStudioYTakeoverRequest)

	require.NoError(t, rig.d.Save())

	var onDisk savedState
	data, err := os.ReadFile(stateFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.NotNil(t, onDisk.X)
	require.NotNil(t, onDisk.Y)
	assert.Equal(t, "A", *onDisk.X)
	assert.Equal(t, "B", *onDisk.Y)
	assert.Equal(t, StateStudioXOnAirStudioYTakeoverRequest, onDisk.State)

	// A fresh dispatcher over the same file replays to the same tuple.
	other := newTestRig(t, Options{StateFile: stateFile})
	other.d.Load()

	status := other.d.Status()
	assert.Equal(t, StateStudioXOnAirStudioYTakeoverRequest, status.State)
	assert.Equal(t, "A", status.X)
	assert.Equal(t, "B", status.Y)
	assert.Equal(t, "A", status.OnAirStudio)
	assertRoleInvariant(t, other.d)
}

func TestPersist_MissingFileIsColdStart(t *testing.T) {
	rig := newTestRig(t, Options{StateFile: filepath.Join(t.TempDir(), "absent.json")})
	rig.d.Load()
	assert.Equal(t, StateAutomatOnAir, rig.d.State())
}

func TestPersist_MalformedFileIgnored(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(stateFile, []byte("{not json"), 0o644))

	rig := newTestRig(t, Options{StateFile: stateFile})
	rig.d.Load()
	assert.Equal(t, StateAutomatOnAir, rig.d.State())
}

func TestPersist_UnknownStateIgnored(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(stateFile, []byte(`{"x":null,"y":null,"state":"studio_Z_on_fire"}`), 0o644))

	rig := newTestRig(t, Options{StateFile: stateFile})
	rig.d.Load()
	assert.Equal(t, StateAutomatOnAir, rig.d.State())
}

func TestPersist_UnknownStudioIgnored(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(stateFile, []byte(`{"x":"Z","y":null,"state":"studio_X_on_air"}`), 0o644))

	rig := newTestRig(t, Options{StateFile: stateFile})
	rig.d.Load()
	assert.Equal(t, StateAutomatOnAir, rig.d.State())
}

func TestPersist_RestoreArmsTimers(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(stateFile,
		[]byte(`{"x":"A","y":null,"state":"from_studio_X_change_to_automat_on_next_hour"}`), 0o644))

	rig := newTestRig(t, Options{StateFile: stateFile})
	rig.d.Load()

	assert.Equal(t, StateFromStudioXToAutomatNextHour, rig.d.State())
	rig.d.mu.Lock()
	assert.Same(t, rig.a, rig.d.x)
	assert.NotNil(t, rig.d.nextHourTimer)
	rig.d.mu.Unlock()
	assertRoleInvariant(t, rig.d)
}
