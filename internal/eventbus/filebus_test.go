package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myotronics/k7sweep/internal/fsutil"
)

func TestParseKind(t *testing.T) {
	t.Parallel()

	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := ParseKind("cms-playback")
	require.NoError(t, err)
	assert.Equal(t, CMSPlaybackRequest, got)
	got, err = ParseKind("playback")
	require.NoError(t, err)
	assert.Equal(t, CMSStartPlayback, got)

	_, err = ParseKind("explode")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestFileBus_SingleSlot(t *testing.T) {
	t.Parallel()

	bus, err := Open(fsutil.NewMemoryFileSystem(), "/state", true)
	require.NoError(t, err)

	snap, err := bus.Poll()
	require.NoError(t, err)
	assert.False(t, snap.HasEvent)

	require.NoError(t, bus.Publish(Event{Kind: CMSPlaybackRequest, Payload: "visitA"}))
	err = bus.Publish(Event{Kind: CMSStartPlayback})
	assert.ErrorIs(t, err, ErrSlotOccupied)

	// Toggle, save and redraw may replace a pending request.
	require.NoError(t, bus.Publish(Event{Kind: UserRecordSaved, Payload: "visitB"}))

	snap, err = bus.Poll()
	require.NoError(t, err)
	require.True(t, snap.HasEvent)
	assert.Equal(t, Event{Kind: UserRecordSaved, Payload: "visitB"}, snap.Event)

	snap, err = bus.Poll()
	require.NoError(t, err)
	assert.False(t, snap.HasEvent, "taking an event clears the slot")

	assert.ErrorIs(t, bus.Publish(Event{Kind: 42}), ErrUnknownKind)
}

func TestFileBus_FlagsAreShared(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	engineSide, err := Open(fsys, "/state", true)
	require.NoError(t, err)
	guiSide, err := Open(fsys, "/state", false)
	require.NoError(t, err)

	require.NoError(t, engineSide.SetAppReady(true))
	require.NoError(t, guiSide.SetOptionsDisplay(true))
	require.NoError(t, guiSide.SetRequestedPlaybackFileName("visitA"))
	require.NoError(t, guiSide.Publish(Event{Kind: ToggleRecording}))

	peek, err := engineSide.Peek()
	require.NoError(t, err)
	assert.True(t, peek.HasEvent)

	snap, err := engineSide.Poll()
	require.NoError(t, err)
	assert.True(t, snap.AppReady)
	assert.True(t, snap.OptionsDisplay)
	assert.Equal(t, "visitA", snap.RequestedPlaybackFileName)
	assert.Equal(t, ToggleRecording, snap.Event.Kind)

	require.NoError(t, guiSide.SetExit(true))
	snap, err = engineSide.Poll()
	require.NoError(t, err)
	assert.True(t, snap.ExitThread)
}

func TestFileBus_LegacyNamesOnDisk(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	bus, err := Open(fsys, "/state", true)
	require.NoError(t, err)
	require.NoError(t, fsys.WriteFile(bus.Path(), []byte(`{"event":{"kind":"playback"}}`), 0o644))

	snap, err := bus.Poll()
	require.NoError(t, err)
	assert.Equal(t, CMSStartPlayback, snap.Event.Kind)
}

func TestFileBus_ReadFailure(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	bus, err := Open(fsys, "/state", true)
	require.NoError(t, err)

	require.NoError(t, fsys.Remove(bus.Path()))
	_, err = bus.Poll()
	assert.Error(t, err)

	require.NoError(t, fsys.WriteFile(bus.Path(), []byte("{garbage"), 0o644))
	_, err = bus.Poll()
	assert.Error(t, err)
}

func TestOpen_KeepsExistingState(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	bus, err := Open(fsys, "/state", true)
	require.NoError(t, err)
	require.NoError(t, bus.SetOptionsDisplay(true))

	again, err := Open(fsys, "/state", false)
	require.NoError(t, err)
	snap, err := again.Peek()
	require.NoError(t, err)
	assert.True(t, snap.OptionsDisplay)

	reset, err := Open(fsys, "/state", true)
	require.NoError(t, err)
	snap, err = reset.Peek()
	require.NoError(t, err)
	assert.False(t, snap.OptionsDisplay)
}
