package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/myotronics/k7sweep/internal/fsutil"
	"github.com/myotronics/k7sweep/internal/monitoring"
)

// FileName is the shared state document inside the state directory.
const FileName = "namespace_options.json"

// ErrSlotOccupied is returned when a pending event may not be replaced.
var ErrSlotOccupied = errors.New("event slot occupied")

// Snapshot is the shared state as seen by one poll.
type Snapshot struct {
	ExitThread                bool
	AppReady                  bool
	OptionsDisplay            bool
	RequestedPlaybackFileName string
	Event                     Event
	HasEvent                  bool
}

type document struct {
	ExitThread                bool   `json:"exit_thread"`
	AppReady                  bool   `json:"app_ready"`
	OptionsDisplay            bool   `json:"options_display"`
	RequestedPlaybackFileName string `json:"requested_playback_file_name"`
	Event                     *Event `json:"event,omitempty"`
}

func (d document) snapshot() Snapshot {
	s := Snapshot{
		ExitThread:                d.ExitThread,
		AppReady:                  d.AppReady,
		OptionsDisplay:            d.OptionsDisplay,
		RequestedPlaybackFileName: d.RequestedPlaybackFileName,
	}
	if d.Event != nil {
		s.Event = *d.Event
		s.HasEvent = true
	}
	return s
}

// FileBus keeps the shared state in a JSON document that every process polls.
// Each write replaces the document atomically.
type FileBus struct {
	fs   fsutil.FileSystem
	path string
	mu   sync.Mutex
}

// Open attaches to the bus in dir. With reset, or when no document exists
// yet, the state is initialised to all flags cleared and an empty slot.
func Open(fsys fsutil.FileSystem, dir string, reset bool) (*FileBus, error) {
	b := &FileBus{fs: fsys, path: filepath.Join(dir, FileName)}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if reset || !fsys.Exists(b.path) {
		if err := b.write(document{}); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Path returns the location of the shared document.
func (b *FileBus) Path() string { return b.path }

func (b *FileBus) read() (document, error) {
	var d document
	data, err := b.fs.ReadFile(b.path)
	if err != nil {
		return d, fmt.Errorf("read bus state: %w", err)
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("decode bus state: %w", err)
	}
	return d, nil
}

func (b *FileBus) write(d document) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(b.fs, b.path, data, 0o644); err != nil {
		return fmt.Errorf("write bus state: %w", err)
	}
	return nil
}

func (b *FileBus) update(fn func(*document) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, err := b.read()
	if err != nil {
		return err
	}
	if err := fn(&d); err != nil {
		return err
	}
	return b.write(d)
}

// Poll returns the shared state and takes the pending event, leaving the slot
// empty. Any read failure is returned; callers treat it as an exit signal.
func (b *FileBus) Poll() (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, err := b.read()
	if err != nil {
		return Snapshot{}, err
	}
	s := d.snapshot()
	if d.Event != nil {
		d.Event = nil
		if err := b.write(d); err != nil {
			return Snapshot{}, err
		}
		monitoring.Debugf("eventbus: took %s %q", s.Event.Kind, s.Event.Payload)
	}
	return s, nil
}

// Peek returns the shared state without taking the event.
func (b *FileBus) Peek() (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, err := b.read()
	if err != nil {
		return Snapshot{}, err
	}
	return d.snapshot(), nil
}

// Publish places ev in the slot. A pending event is only replaced when ev's
// kind overrides it.
func (b *FileBus) Publish(ev Event) error {
	if _, ok := kindNames[ev.Kind]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(ev.Kind))
	}
	return b.update(func(d *document) error {
		if d.Event != nil && !ev.Kind.Overrides() {
			return fmt.Errorf("%w: %s pending", ErrSlotOccupied, d.Event.Kind)
		}
		d.Event = &ev
		return nil
	})
}

// SetExit raises or clears the exit_thread flag.
func (b *FileBus) SetExit(v bool) error {
	return b.update(func(d *document) error { d.ExitThread = v; return nil })
}

// SetAppReady raises or clears the app_ready flag.
func (b *FileBus) SetAppReady(v bool) error {
	return b.update(func(d *document) error { d.AppReady = v; return nil })
}

// SetOptionsDisplay shows or hides the picture overlays.
func (b *FileBus) SetOptionsDisplay(v bool) error {
	return b.update(func(d *document) error { d.OptionsDisplay = v; return nil })
}

// SetRequestedPlaybackFileName records the filter tag of the last review request.
func (b *FileBus) SetRequestedPlaybackFileName(name string) error {
	return b.update(func(d *document) error { d.RequestedPlaybackFileName = name; return nil })
}
