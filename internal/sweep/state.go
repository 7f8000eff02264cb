package sweep

import "time"

// State is the derived controller state. Exactly one holds at any time.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateRecordingPaused
	StateStopped
	StatePlayback
	StatePlaybackPaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateRecordingPaused:
		return "paused-recording"
	case StateStopped:
		return "stopped"
	case StatePlayback:
		return "playback"
	case StatePlaybackPaused:
		return "paused-playback"
	}
	return "unknown"
}

// Status labels shown next to the sweep graph.
const (
	StatusNotRecording    = "Not Recording"
	StatusRecordingPaused = "Recording Paused"
	StatusRecordingDone   = "Recording Complete"
	StatusPlaying         = "Playing"
	StatusPlaybackDone    = "Playback Complete"
	StatusPlaybackPaused  = "Playback Paused"
	StatusNothingToSave   = "Error: Not recording data yet"
	statusRecordingPrefix = "Recording: "
)

// Frame is what the engine hands to the renderer after every tick.
type Frame struct {
	State   State
	Status  string
	Elapsed time.Duration
	Live    Buffers
	Display DisplayValues
}
