package sweep

import (
	"errors"
	"time"
)

// PlaybackStep is the virtual time advanced per tick at speed 1.0.
const PlaybackStep = 100 * time.Millisecond

var (
	// ErrEmptySource is returned when playback is started without samples.
	ErrEmptySource = errors.New("playback source is empty")
	// ErrInvalidSpeed is returned for a non-positive speed multiplier.
	ErrInvalidSpeed = errors.New("playback speed must be positive")
)

// PlaybackOptions control a playback run.
type PlaybackOptions struct {
	// Speed multiplies the virtual time advanced per tick. Zero means 1.0.
	Speed float64
	// FastReplay reconstructs the whole trace on the first tick.
	FastReplay bool
	// WithSummary publishes the replayed min/max once playback completes.
	WithSummary bool
}

// Player reconstructs a recorded trace tick by tick against a virtual clock.
// It owns a private copy of the source and drops the consumed prefix as it
// goes, so a run cannot be rewound.
type Player struct {
	src      Buffers
	opts     PlaybackOptions
	clock    time.Time
	started  bool
	paused   bool
	done     bool
	consumed int
}

// NewPlayer prepares a run over a copy of src.
func NewPlayer(src Buffers, opts PlaybackOptions) (*Player, error) {
	if src.Len() == 0 {
		return nil, ErrEmptySource
	}
	if opts.Speed == 0 {
		opts.Speed = 1.0
	}
	if opts.Speed < 0 {
		return nil, ErrInvalidSpeed
	}
	return &Player{src: src.Clone(), opts: opts}, nil
}

// Options returns the options the run was started with, including speed changes.
func (p *Player) Options() PlaybackOptions { return p.opts }

// Remaining returns the number of samples not yet replayed.
func (p *Player) Remaining() int { return p.src.Len() }

// Consumed returns the number of samples replayed so far.
func (p *Player) Consumed() int { return p.consumed }

// Clock returns the virtual clock.
func (p *Player) Clock() time.Time { return p.clock }

// Paused reports whether the run is paused.
func (p *Player) Paused() bool { return p.paused }

// Done reports whether the source is exhausted.
func (p *Player) Done() bool { return p.done }

// SetSpeed changes the multiplier for subsequent ticks.
func (p *Player) SetSpeed(x float64) error {
	if x <= 0 {
		return ErrInvalidSpeed
	}
	p.opts.Speed = x
	return nil
}

// Pause stops the virtual clock.
func (p *Player) Pause() { p.paused = true }

// Resume restarts the virtual clock.
func (p *Player) Resume() { p.paused = false }

// Step advances the virtual clock one tick, appends every due sample to dst
// and reports the latest one to display. It returns true exactly once, on the
// tick the source runs out.
func (p *Player) Step(dst *Buffers, display *DisplayState) bool {
	if p.paused || p.done {
		return false
	}

	n := p.src.Len()
	if !p.started {
		p.started = true
		p.clock = p.src.Frontal.Times[0]
		if p.opts.FastReplay {
			p.clock = p.src.Frontal.Times[n-1]
		}
	}
	p.clock = p.clock.Add(time.Duration(float64(PlaybackStep) * p.opts.Speed))

	i := 0
	for i < n && !p.src.Frontal.Times[i].After(p.clock) {
		i++
	}
	if i == 0 {
		// Very slow speeds still move forward one sample per tick.
		i = 1
		p.clock = p.src.Frontal.Times[0]
	}

	for k := 0; k < i; k++ {
		s := p.src.At(k)
		if err := dst.Append(s); err != nil {
			continue
		}
		if display != nil {
			display.SetCurrent(s.Frontal, s.Sagittal)
		}
	}
	p.src.Frontal.DropFront(i)
	p.src.Sagittal.DropFront(i)
	p.consumed += i

	if p.src.Frontal.Len() == 0 || p.src.Sagittal.Len() == 0 {
		p.done = true
		return true
	}
	return false
}
