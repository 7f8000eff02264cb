package engine

import (
	"github.com/myotronics/k7sweep/internal/sweep"
)

// Operator actions take the tick lock so they never interleave with a tick.

func (e *Engine) with(fn func(r *sweep.Recorder) error) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return fn(e.recorder)
}

// Configure sets the configuration of the next session.
func (e *Engine) Configure(cfg sweep.SessionConfig) error {
	return e.with(func(r *sweep.Recorder) error { return r.Configure(cfg) })
}

// StartRecording starts a session of the given scan type.
func (e *Engine) StartRecording(scan sweep.ScanType) {
	_ = e.with(func(r *sweep.Recorder) error { r.StartRecording(scan); return nil })
}

// StopRecording freezes the current session.
func (e *Engine) StopRecording() {
	_ = e.with(func(r *sweep.Recorder) error { r.StopRecording(); return nil })
}

// ToggleRecording starts or stops a session.
func (e *Engine) ToggleRecording(scan sweep.ScanType) {
	_ = e.with(func(r *sweep.Recorder) error { r.ToggleRecording(scan); return nil })
}

// PauseCapture suspends ingestion while a modal window is open.
func (e *Engine) PauseCapture() {
	_ = e.with(func(r *sweep.Recorder) error { r.PauseCapture(); return nil })
}

// ResumeCapture resumes ingestion.
func (e *Engine) ResumeCapture() {
	_ = e.with(func(r *sweep.Recorder) error { r.ResumeCapture(); return nil })
}

// Save archives the current session with an optional filter tag.
func (e *Engine) Save(filter string) (name string, err error) {
	err = e.with(func(r *sweep.Recorder) error {
		name, err = r.Save(e.archive, filter, nil)
		return err
	})
	return name, err
}

// ClearAll resets the recorder, and its configuration when all is set.
func (e *Engine) ClearAll(all bool) {
	_ = e.with(func(r *sweep.Recorder) error { r.ClearAll(all); return nil })
}

// PlayFile replays an archived session chosen by name.
func (e *Engine) PlayFile(name string, opts sweep.PlaybackOptions) error {
	rec, err := e.archive.Load(name)
	if err != nil {
		return err
	}
	if opts.Speed == 0 {
		opts.Speed = e.playbackSpeed
	}
	return e.with(func(r *sweep.Recorder) error { return r.StartPlayback(rec.Buffers, opts) })
}

// StopPlayback ends playback.
func (e *Engine) StopPlayback() {
	_ = e.with(func(r *sweep.Recorder) error { r.StopPlayback(); return nil })
}

// PausePlayback pauses playback.
func (e *Engine) PausePlayback() error {
	return e.with(func(r *sweep.Recorder) error {
		if !r.PausePlayback() {
			return sweep.ErrNotPlaying
		}
		return nil
	})
}

// ResumePlayback resumes playback.
func (e *Engine) ResumePlayback() error {
	return e.with(func(r *sweep.Recorder) error {
		if !r.ResumePlayback() {
			return sweep.ErrNotPlaying
		}
		return nil
	})
}

// SetPlaybackSpeed changes the speed of the active playback.
func (e *Engine) SetPlaybackSpeed(x float64) error {
	return e.with(func(r *sweep.Recorder) error { return r.SetPlaybackSpeed(x) })
}

// Frame returns the current frame.
func (e *Engine) Frame() (f sweep.Frame) {
	_ = e.with(func(r *sweep.Recorder) error { f = r.Frame(); return nil })
	return f
}
