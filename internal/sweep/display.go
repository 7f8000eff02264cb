package sweep

import "sync"

// DisplayValues is a point-in-time copy of the display state.
type DisplayValues struct {
	FrontalCurrent  float64
	SagittalCurrent float64
	Range           Range
	HasRange        bool
	OverlayVisible  bool
}

// DisplayState is shared with the rendering collaborators. The engine writes
// it every tick; renderers only read Snapshot.
type DisplayState struct {
	mu sync.RWMutex
	v  DisplayValues
}

// NewDisplayState returns an empty display state.
func NewDisplayState() *DisplayState {
	return &DisplayState{}
}

// SetCurrent records the latest angle of both channels.
func (d *DisplayState) SetCurrent(frontal, sagittal float64) {
	d.mu.Lock()
	d.v.FrontalCurrent = frontal
	d.v.SagittalCurrent = sagittal
	d.mu.Unlock()
}

// SetRange publishes per-channel extremes.
func (d *DisplayState) SetRange(r Range) {
	d.mu.Lock()
	d.v.Range = r
	d.v.HasRange = true
	d.mu.Unlock()
}

// ResetRange clears the published extremes.
func (d *DisplayState) ResetRange() {
	d.mu.Lock()
	d.v.Range = Range{}
	d.v.HasRange = false
	d.mu.Unlock()
}

// SetOverlayVisible mirrors the bus options_display flag.
func (d *DisplayState) SetOverlayVisible(visible bool) {
	d.mu.Lock()
	d.v.OverlayVisible = visible
	d.mu.Unlock()
}

// Snapshot returns a copy of the current values.
func (d *DisplayState) Snapshot() DisplayValues {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.v
}
