package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myotronics/k7sweep/internal/eventbus"
	"github.com/myotronics/k7sweep/internal/fsutil"
	"github.com/myotronics/k7sweep/internal/sessionstore"
	"github.com/myotronics/k7sweep/internal/sweep"
	"github.com/myotronics/k7sweep/internal/timeutil"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	fs      *fsutil.MemoryFileSystem
	clock   *timeutil.MockClock
	bus     *eventbus.FileBus
	store   *sessionstore.Store
	queue   *sweep.Queue
	rec     *sweep.Recorder
	stager  *sweep.Stager
	engine  *Engine
	frames  []sweep.Frame
	nextT   time.Time
	modeOn  bool
	reviews []string
}

func newHarness(t *testing.T, review bool) *harness {
	t.Helper()
	h := &harness{fs: fsutil.NewMemoryFileSystem(), clock: timeutil.NewMockClock(t0), nextT: t0}

	var err error
	h.bus, err = eventbus.Open(h.fs, "/state", true)
	require.NoError(t, err)
	h.store = sessionstore.New(h.fs, "/archive/Doe/Jane/sweep_data/2.0")
	h.queue = sweep.NewQueue(64)
	h.rec = sweep.NewRecorder(h.clock, sweep.NewDisplayState(),
		sweep.WithModeFlag(func() (bool, error) { return h.modeOn, nil }))
	h.stager = sweep.NewStager(h.store)

	opts := Options{
		Clock:  h.clock,
		Render: func(f sweep.Frame) { h.frames = append(h.frames, f) },
	}
	if review {
		opts.Review = func(_ *sweep.Recorder, tag string, _ sweep.PlaybackOptions) error {
			h.reviews = append(h.reviews, tag)
			return nil
		}
	}
	h.engine = New(h.rec, h.queue, h.bus, h.store, h.stager, opts)
	h.engine.Start()
	return h
}

// feed queues n samples at 100 ms spacing continuing from the last one.
func (h *harness) feed(n int) {
	for i := 0; i < n; i++ {
		v := float64(h.nextT.Sub(t0) / (100 * time.Millisecond))
		h.queue.Offer(sweep.Sample{Time: h.nextT, Frontal: v, Sagittal: -v})
		h.nextT = h.nextT.Add(100 * time.Millisecond)
	}
}

func (h *harness) publish(t *testing.T, kind eventbus.Kind, payload string) {
	t.Helper()
	require.NoError(t, h.bus.Publish(eventbus.Event{Kind: kind, Payload: payload}))
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.Tick())
}

func TestStartAnnouncesReadiness(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	snap, err := h.bus.Peek()
	require.NoError(t, err)
	assert.True(t, snap.AppReady)

	h.engine.Start()
	h.engine.Stop()
	h.engine.Stop()
	snap, err = h.bus.Peek()
	require.NoError(t, err)
	assert.False(t, snap.AppReady)
	assert.False(t, h.engine.Active())

	require.NoError(t, h.engine.Tick(), "ticks after stop are no-ops")
	assert.Empty(t, h.frames)
}

func TestExitSignals(t *testing.T) {
	t.Parallel()

	t.Run("exit flag", func(t *testing.T) {
		h := newHarness(t, false)
		require.NoError(t, h.bus.SetExit(true))
		assert.ErrorIs(t, h.engine.Tick(), ErrExitRequested)
		assert.False(t, h.engine.Active())
	})

	t.Run("bus unreadable", func(t *testing.T) {
		h := newHarness(t, false)
		require.NoError(t, h.fs.Remove(h.bus.Path()))
		assert.ErrorIs(t, h.engine.Tick(), ErrExitRequested)
		assert.False(t, h.engine.Active())
	})
}

func TestToggleEventRecordsCMS(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.publish(t, eventbus.ToggleRecording, "")
	h.tick(t)
	assert.Equal(t, sweep.StateRecording, h.rec.State())
	assert.Equal(t, sweep.ScanCMS, h.rec.Session().ScanType)

	h.feed(5)
	h.tick(t)
	assert.Equal(t, 5, h.rec.Live().Len())

	h.publish(t, eventbus.ToggleRecording, "")
	h.tick(t)
	assert.Equal(t, sweep.StateStopped, h.rec.State())

	last := h.frames[len(h.frames)-1]
	assert.Equal(t, sweep.StatusRecordingDone, last.Status)
	assert.Equal(t, 5, last.Live.Len())
}

func TestSaveThenReviewByTag(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.publish(t, eventbus.ToggleRecording, "")
	h.tick(t)
	h.feed(10)
	h.tick(t)
	recorded := h.rec.Live().Clone()

	h.publish(t, eventbus.UserRecordSaved, "visitA")
	h.tick(t)
	assert.NotEmpty(t, h.rec.SavedAs())

	// A request for another tag finds nothing and leaves the buffers alone.
	h.publish(t, eventbus.CMSPlaybackRequest, "visitB")
	h.tick(t)
	assert.Nil(t, h.rec.Player())

	h.publish(t, eventbus.CMSPlaybackRequest, "visitA")
	h.tick(t)
	require.Equal(t, sweep.StatePlayback, h.rec.State())
	snap, err := h.bus.Peek()
	require.NoError(t, err)
	assert.Equal(t, "visitA", snap.RequestedPlaybackFileName)

	for i := 0; i < 20 && h.rec.Player() != nil; i++ {
		h.tick(t)
	}
	assert.Nil(t, h.rec.Player())
	if diff := cmp.Diff(recorded.Samples(), h.rec.Live().Samples()); diff != "" {
		t.Errorf("review replay (-recorded +replayed):\n%s", diff)
	}
	assert.True(t, h.rec.Display().Snapshot().HasRange)

	// Start playback replays the requested tag fast.
	h.publish(t, eventbus.CMSStartPlayback, "")
	h.tick(t)
	assert.Nil(t, h.rec.Player(), "fast replay completes within one tick")
	assert.Equal(t, 10, h.rec.Live().Len())
}

func TestReviewIgnoredWhileRecording(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.publish(t, eventbus.CMSStartPlayback, "")
	h.tick(t)
	assert.Empty(t, h.reviews, "start without a request does nothing")

	h.engine.StartRecording(sweep.ScanCMS)
	h.publish(t, eventbus.CMSPlaybackRequest, "visitA")
	h.tick(t)
	assert.Empty(t, h.reviews)
	_, ok := h.engine.RequestedTag()
	assert.False(t, ok)

	h.engine.StopRecording()
	h.publish(t, eventbus.CMSPlaybackRequest, "visitA")
	h.tick(t)
	h.publish(t, eventbus.MarkRedrawTool, "")
	h.tick(t)
	assert.Equal(t, []string{"visitA", "visitA"}, h.reviews)
	assert.False(t, h.stager.Staged(), "redraw after a review does not stage")
}

func TestRedrawDetourRestoresLiveBuffers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.engine.StartRecording(sweep.ScanCMS)
	h.feed(8)
	h.tick(t)
	before := h.rec.Live().Clone()

	h.publish(t, eventbus.MarkRedrawTool, "")
	h.feed(3)
	h.tick(t)
	require.True(t, h.stager.Staged())
	snapPath := filepath.Join(h.store.Dir(), sessionstore.TempDir, h.stager.ID()+sessionstore.Ext)
	assert.True(t, h.fs.Exists(snapPath))
	assert.Equal(t, sweep.StateRecording, h.rec.State(), "fast replay finished in the same tick")
	assert.Equal(t, 8, h.rec.Live().Len(), "samples arriving during the detour are dropped")

	// Redraw again reuses the same snapshot.
	id := h.stager.ID()
	h.publish(t, eventbus.MarkRedrawTool, "")
	h.tick(t)
	assert.Equal(t, id, h.stager.ID())

	h.publish(t, eventbus.ToggleRecording, "")
	h.tick(t)
	assert.False(t, h.stager.Staged())
	assert.False(t, h.fs.Exists(snapPath))
	assert.Equal(t, sweep.StateStopped, h.rec.State())
	if diff := cmp.Diff(before, *h.rec.Live()); diff != "" {
		t.Errorf("restored buffers (-before +after):\n%s", diff)
	}
}

func TestRedrawThenSaveArchivesSnapshot(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.engine.StartRecording(sweep.ScanCMS)
	h.feed(4)
	h.tick(t)

	h.publish(t, eventbus.MarkRedrawTool, "")
	h.tick(t)
	h.publish(t, eventbus.UserRecordSaved, "visitC")
	h.tick(t)
	assert.Equal(t, sweep.StageConsumed, h.stager.State())

	e, err := h.store.Latest(sweep.ScanCMS, "visitC")
	require.NoError(t, err)
	assert.Equal(t, 4, e.Record.Buffers.Len())
}

func TestMissingSnapshotIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.engine.StartRecording(sweep.ScanCMS)
	h.feed(2)
	h.tick(t)
	h.publish(t, eventbus.MarkRedrawTool, "")
	h.tick(t)

	require.NoError(t, h.fs.Remove(filepath.Join(h.store.Dir(), sessionstore.TempDir, h.stager.ID()+sessionstore.Ext)))
	h.publish(t, eventbus.ToggleRecording, "")
	err := h.engine.Tick()
	assert.ErrorIs(t, err, sweep.ErrNoSnapshot)
	assert.False(t, h.engine.Active())
}

func TestSaveFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.publish(t, eventbus.UserRecordSaved, "x")
	h.tick(t)
	assert.True(t, h.engine.Active())
	assert.Equal(t, sweep.StatusNothingToSave, h.frames[len(h.frames)-1].Status)
}

func TestAutoStopInTick(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.modeOn = true
	require.NoError(t, h.engine.Configure(sweep.SessionConfig{ScanType: sweep.ScanAPPitch, Gain: 45, Speed: 2.0}))
	h.engine.StartRecording(sweep.ScanAPPitch)

	h.clock.Advance(31 * time.Second)
	h.tick(t)
	assert.Equal(t, sweep.StateRecording, h.rec.State())

	h.clock.Advance(time.Second)
	h.tick(t)
	assert.Equal(t, sweep.StateStopped, h.rec.State())
}

func TestOverlayFlagMirrored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	require.NoError(t, h.bus.SetOptionsDisplay(true))
	h.tick(t)
	assert.True(t, h.frames[0].Display.OverlayVisible)
}

func TestPlayFileAndControls(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.engine.StartRecording(sweep.ScanLatRoll)
	h.feed(20)
	h.tick(t)
	name, err := h.engine.Save("")
	require.NoError(t, err)

	require.NoError(t, h.engine.PlayFile(name, sweep.PlaybackOptions{}))
	require.NoError(t, h.engine.PausePlayback())
	h.tick(t)
	assert.Equal(t, sweep.StatePlaybackPaused, h.engine.Frame().State)
	require.NoError(t, h.engine.ResumePlayback())
	require.NoError(t, h.engine.SetPlaybackSpeed(4))
	h.tick(t)
	assert.Equal(t, 5, h.rec.Live().Len())

	h.engine.StopPlayback()
	assert.ErrorIs(t, h.engine.PausePlayback(), sweep.ErrNotPlaying)
	assert.ErrorIs(t, h.engine.PlayFile("nope.k7s", sweep.PlaybackOptions{}), sessionstore.ErrNotFound)

	h.engine.ClearAll(true)
	assert.Equal(t, sweep.StateIdle, h.engine.Frame().State)
}

func TestRunStopsOnExit(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(t0)
	bus, err := eventbus.Open(fsys, "/state", true)
	require.NoError(t, err)
	store := sessionstore.New(fsys, "/archive")
	e := New(sweep.NewRecorder(clock, nil), sweep.NewQueue(8), bus, store, sweep.NewStager(store), Options{Clock: clock})

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	require.Eventually(t, e.Active, time.Second, time.Millisecond)
	require.NoError(t, bus.SetExit(true))

	deadline := time.After(5 * time.Second)
	for stopped := false; !stopped; {
		select {
		case err := <-done:
			require.NoError(t, err)
			stopped = true
		case <-deadline:
			t.Fatal("engine did not stop after exit was requested")
		default:
			clock.Advance(DefaultPeriod)
			time.Sleep(time.Millisecond)
		}
	}

	snap, err := bus.Peek()
	require.NoError(t, err)
	assert.False(t, snap.AppReady)
}

func TestRunStopsOnContext(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	bus, err := eventbus.Open(fsys, "/state", true)
	require.NoError(t, err)
	store := sessionstore.New(fsys, "/archive")
	e := New(sweep.NewRecorder(timeutil.RealClock{}, nil), sweep.NewQueue(8), bus, store, sweep.NewStager(store),
		Options{Period: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	require.Eventually(t, e.Active, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.False(t, e.Active())
}

func TestUnknownEventLogged(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	err := h.engine.handle(eventbus.Event{Kind: 99}, "")
	assert.True(t, errors.Is(err, eventbus.ErrUnknownKind))
}

func TestRenderMayStopTheEngine(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.engine.render = func(sweep.Frame) {
		h.engine.PauseCapture()
		h.engine.Stop()
	}

	done := make(chan error, 1)
	go func() { done <- h.engine.Tick() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tick blocked when the render callback stopped the engine")
	}
	assert.False(t, h.engine.Active())
	assert.True(t, h.rec.CapturePaused())
}

func TestRedrawDetourOutlastingWindowKeepsTrace(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.modeOn = true
	h.engine.StartRecording(sweep.ScanCMS)
	h.feed(8)
	h.tick(t)
	before := h.rec.Live().Clone()

	h.publish(t, eventbus.MarkRedrawTool, "")
	h.tick(t)
	h.clock.Advance(20 * time.Second)
	h.tick(t)
	assert.Equal(t, sweep.StateRecording, h.rec.State(), "no auto-stop while the detour holds the buffers")

	h.publish(t, eventbus.ToggleRecording, "")
	h.tick(t)
	assert.Equal(t, sweep.StateStopped, h.rec.State())
	if diff := cmp.Diff(before, *h.rec.Live()); diff != "" {
		t.Errorf("restored buffers (-before +after):\n%s", diff)
	}
}

func TestRedrawReviewUsesBusTag(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.publish(t, eventbus.CMSPlaybackRequest, "visitA")
	h.tick(t)

	require.NoError(t, h.bus.SetRequestedPlaybackFileName("visitB"))
	h.publish(t, eventbus.MarkRedrawTool, "")
	h.tick(t)
	h.publish(t, eventbus.CMSStartPlayback, "")
	h.tick(t)
	assert.Equal(t, []string{"visitA", "visitB", "visitB"}, h.reviews)
}
