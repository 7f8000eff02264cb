// Package engine runs the sweep tick loop: it polls the event bus, drains the
// sample queue into the recorder, advances playback and hands a frame to the
// renderer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/myotronics/k7sweep/internal/eventbus"
	"github.com/myotronics/k7sweep/internal/monitoring"
	"github.com/myotronics/k7sweep/internal/sessionstore"
	"github.com/myotronics/k7sweep/internal/sweep"
	"github.com/myotronics/k7sweep/internal/timeutil"
)

// DefaultPeriod is the tick period.
const DefaultPeriod = 80 * time.Millisecond

// ErrExitRequested is returned by Tick when the bus asks the engine to exit
// or can no longer be read.
var ErrExitRequested = errors.New("exit requested")

// Bus is the shared state the engine polls each tick.
type Bus interface {
	Poll() (eventbus.Snapshot, error)
	SetAppReady(bool) error
	SetRequestedPlaybackFileName(string) error
}

// Archive stores and looks up sessions.
type Archive interface {
	sweep.Archive
	Load(name string) (sweep.Record, error)
	Latest(scan sweep.ScanType, filter string) (sessionstore.Entry, error)
}

// ReviewFunc opens the CMS review for a filter tag. It runs inside the tick
// and must act on rec directly; the engine's operator actions would wait for
// the tick to finish.
type ReviewFunc func(rec *sweep.Recorder, tag string, opts sweep.PlaybackOptions) error

// Options configure an Engine. Zero values select defaults.
type Options struct {
	Clock         timeutil.Clock
	Period        time.Duration
	PlaybackSpeed float64
	// Render receives a frame after every tick, outside the tick lock, so it
	// may call Stop or any operator action.
	Render func(sweep.Frame)
	// Review replaces the default review, which replays the latest archived
	// CMS scan with the requested tag.
	Review ReviewFunc
}

// Engine ties the recorder, the sample queue, the bus and the archive
// together.
type Engine struct {
	runMu   sync.Mutex
	running bool

	// tickMu serialises ticks with operator actions.
	tickMu sync.Mutex
	active atomic.Bool

	recorder *sweep.Recorder
	queue    *sweep.Queue
	bus      Bus
	archive  Archive
	stager   *sweep.Stager

	clock         timeutil.Clock
	period        time.Duration
	playbackSpeed float64
	render        func(sweep.Frame)
	review        ReviewFunc

	requested   string
	hasRequest  bool
	streamEnded bool
}

// New creates a stopped engine.
func New(rec *sweep.Recorder, queue *sweep.Queue, bus Bus, archive Archive, stager *sweep.Stager, opts Options) *Engine {
	e := &Engine{
		recorder:      rec,
		queue:         queue,
		bus:           bus,
		archive:       archive,
		stager:        stager,
		clock:         opts.Clock,
		period:        opts.Period,
		playbackSpeed: opts.PlaybackSpeed,
		render:        opts.Render,
		review:        opts.Review,
	}
	if e.clock == nil {
		e.clock = timeutil.RealClock{}
	}
	if e.period <= 0 {
		e.period = DefaultPeriod
	}
	if e.playbackSpeed <= 0 {
		e.playbackSpeed = 1.0
	}
	if e.review == nil {
		e.review = e.reviewLatest
	}
	return e
}

// Start resets the recorder, discards stale samples and announces readiness
// on the bus. Calling Start on a running engine does nothing.
func (e *Engine) Start() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return
	}

	e.tickMu.Lock()
	e.recorder.ClearAll(true)
	n, _ := e.queue.Drain(func(sweep.Sample) {})
	e.active.Store(true)
	e.streamEnded = false
	e.tickMu.Unlock()

	e.running = true
	if err := e.bus.SetAppReady(true); err != nil {
		monitoring.Logf("engine: set app_ready: %v", err)
	}
	monitoring.Logf("engine: started, discarded %d stale samples", n)
}

// Stop marks the engine inactive. A tick already running completes; later
// ticks do nothing. Stop is idempotent.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.running {
		return
	}

	e.active.Store(false)
	e.running = false
	if err := e.bus.SetAppReady(false); err != nil {
		monitoring.Logf("engine: clear app_ready: %v", err)
	}
	monitoring.Logf("engine: stopped")
}

// Active reports whether ticks currently take effect.
func (e *Engine) Active() bool { return e.active.Load() }

// Run starts the engine and ticks every period until ctx is done or the bus
// requests an exit. An invariant violation inside a tick is returned.
func (e *Engine) Run(ctx context.Context) error {
	e.Start()
	t := e.clock.NewTicker(e.period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Stop()
			return nil
		case <-t.C():
			if err := e.Tick(); err != nil {
				e.Stop()
				if errors.Is(err, ErrExitRequested) {
					monitoring.Logf("engine: %v", err)
					return nil
				}
				return err
			}
			if !e.Active() {
				return nil
			}
		}
	}
}

// Tick runs one cycle. It is a no-op while the engine is inactive.
func (e *Engine) Tick() error {
	frame, ok, err := e.step()
	if err != nil || !ok {
		return err
	}
	if e.render != nil {
		e.render(frame)
	}
	return nil
}

// step runs the locked part of a tick and returns the frame to render.
func (e *Engine) step() (sweep.Frame, bool, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	if !e.active.Load() {
		return sweep.Frame{}, false, nil
	}

	snap, err := e.bus.Poll()
	if err != nil {
		e.active.Store(false)
		return sweep.Frame{}, false, fmt.Errorf("%w: %w", ErrExitRequested, err)
	}
	if snap.ExitThread {
		e.active.Store(false)
		return sweep.Frame{}, false, ErrExitRequested
	}
	e.recorder.Display().SetOverlayVisible(snap.OptionsDisplay)

	if snap.HasEvent {
		if err := e.handle(snap.Event, snap.RequestedPlaybackFileName); err != nil {
			if errors.Is(err, sweep.ErrNoSnapshot) {
				e.active.Store(false)
				return sweep.Frame{}, false, fmt.Errorf("handle %s: %w", snap.Event.Kind, err)
			}
			monitoring.Logf("engine: %s: %v", snap.Event.Kind, err)
		}
	}

	e.drain()
	if e.recorder.Player() != nil {
		e.recorder.StepPlayback()
	} else if e.recorder.CheckAutoStop() {
		monitoring.Logf("engine: recording auto-stopped after %s", e.recorder.Session().Window())
	}

	return e.recorder.Frame(), true, nil
}

// drain empties the queue into the recorder, which discards samples while
// playback or a review holds the buffers.
func (e *Engine) drain() {
	_, ended := e.queue.Drain(func(s sweep.Sample) { e.recorder.Ingest(s) })
	if ended && !e.streamEnded {
		e.streamEnded = true
		monitoring.Logf("engine: sample stream ended")
	}
}

func (e *Engine) handle(ev eventbus.Event, busTag string) error {
	monitoring.Debugf("engine: event %s %q", ev.Kind, ev.Payload)
	switch ev.Kind {
	case eventbus.ToggleRecording:
		if e.stager.Staged() {
			b, err := e.stager.Take()
			if err != nil {
				return err
			}
			e.recorder.Restore(b)
		}
		e.requested, e.hasRequest = "", false
		e.recorder.ToggleRecording(sweep.ScanCMS)
		return nil

	case eventbus.UserRecordSaved:
		if e.stager.Staged() {
			b, err := e.stager.Peek()
			if err != nil {
				return err
			}
			if _, err := e.recorder.Save(e.archive, ev.Payload, &b); err != nil {
				return err
			}
			return e.stager.Discard()
		}
		_, err := e.recorder.Save(e.archive, ev.Payload, nil)
		return err

	case eventbus.CMSPlaybackRequest:
		if e.recorder.Recording() {
			monitoring.Logf("engine: review of %q ignored while recording", ev.Payload)
			return nil
		}
		e.requested, e.hasRequest = ev.Payload, true
		if err := e.bus.SetRequestedPlaybackFileName(ev.Payload); err != nil {
			monitoring.Logf("engine: publish requested tag: %v", err)
		}
		return e.review(e.recorder, ev.Payload, sweep.PlaybackOptions{Speed: e.playbackSpeed, WithSummary: true})

	case eventbus.CMSStartPlayback:
		if !e.hasRequest {
			return nil
		}
		return e.review(e.recorder, e.reviewTag(busTag), sweep.PlaybackOptions{Speed: e.playbackSpeed, FastReplay: true, WithSummary: true})

	case eventbus.MarkRedrawTool:
		if e.hasRequest {
			return e.review(e.recorder, e.reviewTag(busTag), sweep.PlaybackOptions{Speed: e.playbackSpeed, FastReplay: true})
		}
		b, err := e.stager.Stage(e.recorder.Live().Clone())
		if err != nil {
			return err
		}
		return e.recorder.StartPlayback(b, sweep.PlaybackOptions{Speed: e.playbackSpeed, FastReplay: true})
	}
	return fmt.Errorf("%w: %d", eventbus.ErrUnknownKind, int(ev.Kind))
}

// reviewTag prefers the tag published on the bus, which other windows may
// have changed since the request.
func (e *Engine) reviewTag(busTag string) string {
	if busTag != "" {
		return busTag
	}
	return e.requested
}

func (e *Engine) reviewLatest(rec *sweep.Recorder, tag string, opts sweep.PlaybackOptions) error {
	entry, err := e.archive.Latest(sweep.ScanCMS, tag)
	if err != nil {
		return err
	}
	monitoring.Logf("engine: reviewing %s (filter %q)", entry.Name, tag)
	return rec.StartPlayback(entry.Record.Buffers, opts)
}

// RequestedTag returns the filter tag of the last review request.
func (e *Engine) RequestedTag() (string, bool) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return e.requested, e.hasRequest
}
