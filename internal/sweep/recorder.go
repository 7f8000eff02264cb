package sweep

import (
	"errors"
	"fmt"
	"time"

	"github.com/myotronics/k7sweep/internal/monitoring"
	"github.com/myotronics/k7sweep/internal/timeutil"
)

var (
	// ErrNothingRecorded is returned by Save when no session has been recorded.
	ErrNothingRecorded = errors.New("nothing recorded")
	// ErrNotPlaying is returned by playback controls when nothing is playing.
	ErrNotPlaying = errors.New("no playback active")
)

// ModeFlagFunc reports whether the sweep graph display mode is active, which
// enables auto-stop.
type ModeFlagFunc func() (bool, error)

// Recorder is the recording session controller. It owns the live buffers and
// the playback cursor. It is not safe for concurrent use; the engine
// serialises access.
type Recorder struct {
	clock    timeutil.Clock
	display  *DisplayState
	modeFlag ModeFlagFunc

	defaults SessionConfig
	config   SessionConfig
	session  SessionConfig

	live          Buffers
	startedAt     time.Time
	recording     bool
	held          bool
	capturePaused bool
	reviewing     bool
	savedAs       string
	note          string

	player   *Player
	autoStop *bool
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithModeFlag sets the source of the auto-stop display-mode flag.
func WithModeFlag(f ModeFlagFunc) RecorderOption {
	return func(r *Recorder) { r.modeFlag = f }
}

// WithDefaults sets the configuration ClearAll(true) restores.
func WithDefaults(cfg SessionConfig) RecorderOption {
	return func(r *Recorder) {
		r.defaults = cfg
		r.config = cfg
	}
}

// NewRecorder creates an idle recorder.
func NewRecorder(clock timeutil.Clock, display *DisplayState, opts ...RecorderOption) *Recorder {
	if display == nil {
		display = NewDisplayState()
	}
	r := &Recorder{
		clock:    clock,
		display:  display,
		defaults: DefaultSessionConfig(),
		config:   DefaultSessionConfig(),
	}
	for _, o := range opts {
		o(r)
	}
	r.session = r.config
	return r
}

// Display returns the shared display state.
func (r *Recorder) Display() *DisplayState { return r.display }

// Config returns the configuration the next session starts with.
func (r *Recorder) Config() SessionConfig { return r.config }

// Session returns the configuration of the current or last session.
func (r *Recorder) Session() SessionConfig { return r.session }

// Configure validates and stores the configuration for the next session.
func (r *Recorder) Configure(cfg SessionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.config = cfg
	return nil
}

// Live returns the live buffers. The result aliases internal state and is only
// valid until the next call on r.
func (r *Recorder) Live() *Buffers { return &r.live }

// Recording reports whether a session is being recorded.
func (r *Recorder) Recording() bool { return r.recording }

// Held reports whether a finished recording is waiting to be saved or cleared.
func (r *Recorder) Held() bool { return r.held }

// Player returns the active playback cursor, or nil.
func (r *Recorder) Player() *Player { return r.player }

// StartedAt returns when the current session started.
func (r *Recorder) StartedAt() time.Time { return r.startedAt }

// Elapsed is the time since the session started, zero when not recording.
func (r *Recorder) Elapsed() time.Duration {
	if !r.recording {
		return 0
	}
	return r.clock.Since(r.startedAt)
}

// State derives the controller state.
func (r *Recorder) State() State {
	switch {
	case r.player != nil && r.player.Paused():
		return StatePlaybackPaused
	case r.player != nil:
		return StatePlayback
	case r.recording && r.capturePaused:
		return StateRecordingPaused
	case r.recording:
		return StateRecording
	case r.held:
		return StateStopped
	}
	return StateIdle
}

// Status returns the operator facing label for the current state.
func (r *Recorder) Status() string {
	switch r.State() {
	case StateRecording:
		return statusRecordingPrefix + r.session.ScanType.Label()
	case StateRecordingPaused:
		return StatusRecordingPaused
	case StateStopped:
		return StatusRecordingDone
	case StatePlayback:
		return StatusPlaying
	case StatePlaybackPaused:
		return StatusPlaybackPaused
	}
	if r.note != "" {
		return r.note
	}
	return StatusNotRecording
}

// StartRecording begins a session of the given scan type. It is a no-op when
// a session is already being recorded.
func (r *Recorder) StartRecording(scan ScanType) {
	if r.recording {
		return
	}
	r.player = nil
	r.held = false
	r.reviewing = false
	r.savedAs = ""
	r.note = ""
	r.live.Reset()
	r.display.ResetRange()

	r.session = r.config
	r.session.ScanType = scan
	r.startedAt = r.clock.Now()
	r.recording = true
	r.autoStop = nil
	monitoring.Logf("sweep: recording %s gain=%d speed=%.1f", scan, r.session.Gain, r.session.Speed)
}

// StopRecording freezes the live buffers. It is idempotent.
func (r *Recorder) StopRecording() {
	if !r.recording {
		return
	}
	r.recording = false
	r.held = true
	if rg, ok := r.live.Range(); ok {
		r.display.SetRange(rg)
	}
	monitoring.Logf("sweep: recording stopped after %s with %d samples",
		r.clock.Since(r.startedAt).Round(time.Millisecond), r.live.Len())
}

// ToggleRecording stops an active session or starts a new one.
func (r *Recorder) ToggleRecording(scan ScanType) {
	if r.recording {
		r.StopRecording()
		return
	}
	r.StartRecording(scan)
}

// PauseCapture suspends ingestion without touching the buffers.
func (r *Recorder) PauseCapture() { r.capturePaused = true }

// ResumeCapture resumes ingestion.
func (r *Recorder) ResumeCapture() { r.capturePaused = false }

// CapturePaused reports whether ingestion is suspended.
func (r *Recorder) CapturePaused() bool { return r.capturePaused }

// ClearAll ends playback, empties the buffers and drops a held recording. With
// all set the session configuration returns to its defaults.
func (r *Recorder) ClearAll(all bool) {
	r.player = nil
	r.recording = false
	r.held = false
	r.reviewing = false
	r.capturePaused = false
	r.savedAs = ""
	r.note = ""
	r.autoStop = nil
	r.live.Reset()
	r.display.ResetRange()
	if all {
		r.config = r.defaults
		r.session = r.defaults
	}
}

// Restore replaces the live buffers with b, ending any playback or review.
func (r *Recorder) Restore(b Buffers) {
	r.player = nil
	r.reviewing = false
	r.live = b.Clone()
	if n := r.live.Len(); n > 0 {
		s := r.live.At(n - 1)
		r.display.SetCurrent(s.Frontal, s.Sagittal)
	}
}

// Ingest appends s to the live buffers when capture is running. While idle the
// buffers keep a rolling preview one window long. It reports whether s was kept.
func (r *Recorder) Ingest(s Sample) bool {
	if r.capturePaused || r.held || r.reviewing || r.player != nil {
		return false
	}
	if err := r.live.Append(s); err != nil {
		monitoring.Debugf("sweep: dropped sample at %s: %v", s.Time.Format(time.RFC3339Nano), err)
		return false
	}
	r.display.SetCurrent(s.Frontal, s.Sagittal)
	if !r.recording {
		r.live.TrimBefore(s.Time.Add(-r.config.Window()))
	}
	return true
}

// CheckAutoStop stops the session once it has filled its window, if the
// sweep graph display mode is active. The mode flag is read once per session.
// A replay holding the buffers suspends the check.
func (r *Recorder) CheckAutoStop() bool {
	if !r.recording || r.capturePaused || r.reviewing || r.player != nil || !r.autoStopEnabled() {
		return false
	}
	if r.clock.Since(r.startedAt) < r.session.Window() {
		return false
	}
	r.StopRecording()
	return true
}

func (r *Recorder) autoStopEnabled() bool {
	if r.autoStop != nil {
		return *r.autoStop
	}
	enabled := false
	if r.modeFlag != nil {
		v, err := r.modeFlag()
		if err != nil {
			monitoring.Debugf("sweep: display mode unavailable, auto-stop disabled: %v", err)
		} else {
			enabled = v
		}
	}
	r.autoStop = &enabled
	return enabled
}

// Save archives a session. With explicit buffers they are written as a CMS
// scan tagged with filter. Otherwise the live session is saved, stopping it
// first if needed. A held session is written once; later calls return the
// first artifact name.
func (r *Recorder) Save(archive Archive, filter string, explicit *Buffers) (string, error) {
	if explicit != nil {
		name, err := archive.Save(Record{
			ScanType:    ScanCMS,
			ExtraFilter: filter,
			SavedAt:     r.clock.Now(),
			Buffers:     explicit.Clone(),
		})
		if err != nil {
			return "", fmt.Errorf("archive staged session: %w", err)
		}
		return name, nil
	}

	r.StopRecording()
	if !r.held || r.live.Len() == 0 {
		r.note = StatusNothingToSave
		return "", ErrNothingRecorded
	}
	if r.savedAs != "" {
		return r.savedAs, nil
	}
	name, err := archive.Save(Record{
		ScanType:    r.session.ScanType,
		ExtraFilter: filter,
		SavedAt:     r.clock.Now(),
		Buffers:     r.live.Clone(),
	})
	if err != nil {
		return "", fmt.Errorf("archive session: %w", err)
	}
	r.savedAs = name
	return name, nil
}

// SavedAs returns the artifact name of the held session once saved.
func (r *Recorder) SavedAs() string { return r.savedAs }

// StartPlayback replays src into the live buffers. A held recording is
// dropped; the recording flag is left alone so a redraw detour can return to
// the session it interrupted.
func (r *Recorder) StartPlayback(src Buffers, opts PlaybackOptions) error {
	p, err := NewPlayer(src, opts)
	if err != nil {
		return err
	}
	r.player = p
	r.held = false
	r.savedAs = ""
	r.reviewing = true
	r.note = ""
	r.live.Reset()
	r.display.ResetRange()
	monitoring.Debugf("sweep: playback of %d samples speed=%.2f fast=%t", src.Len(), p.opts.Speed, p.opts.FastReplay)
	return nil
}

// StopPlayback ends playback. The replayed trace stays on screen.
func (r *Recorder) StopPlayback() bool {
	if r.player == nil {
		return false
	}
	r.player = nil
	return true
}

// PausePlayback pauses the virtual clock.
func (r *Recorder) PausePlayback() bool {
	if r.player == nil {
		return false
	}
	r.player.Pause()
	return true
}

// ResumePlayback resumes the virtual clock.
func (r *Recorder) ResumePlayback() bool {
	if r.player == nil {
		return false
	}
	r.player.Resume()
	return true
}

// SetPlaybackSpeed changes the speed of the active playback.
func (r *Recorder) SetPlaybackSpeed(x float64) error {
	if r.player == nil {
		return ErrNotPlaying
	}
	return r.player.SetSpeed(x)
}

// StepPlayback advances playback one tick. It returns true on the tick the
// playback completes.
func (r *Recorder) StepPlayback() bool {
	if r.player == nil {
		return false
	}
	if !r.player.Step(&r.live, r.display) {
		return false
	}
	if r.player.Options().WithSummary {
		if rg, ok := r.live.Range(); ok {
			r.display.SetRange(rg)
		}
	}
	monitoring.Debugf("sweep: playback complete, %d samples", r.player.Consumed())
	r.player = nil
	r.note = StatusPlaybackDone
	return true
}

// Frame captures the state handed to the renderer.
func (r *Recorder) Frame() Frame {
	return Frame{
		State:   r.State(),
		Status:  r.Status(),
		Elapsed: r.Elapsed(),
		Live:    r.live.Clone(),
		Display: r.display.Snapshot(),
	}
}
