package sweep

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/myotronics/k7sweep/internal/monitoring"
)

// ErrNoSnapshot means a snapshot was expected on a reload path but none was
// staged. With a single mailbox and a single snapshot this cannot happen, so
// callers treat it as fatal.
var ErrNoSnapshot = errors.New("no staged snapshot")

// SnapshotStore persists staged snapshots by id.
type SnapshotStore interface {
	WriteSnapshot(id string, b Buffers) error
	ReadSnapshot(id string) (Buffers, error)
	RemoveSnapshot(id string) error
}

// StageState tracks the redraw detour.
type StageState int

const (
	StageNone StageState = iota
	StageStaged
	StageConsumed
)

func (s StageState) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageStaged:
		return "staged"
	case StageConsumed:
		return "consumed"
	}
	return "unknown"
}

// Stager keeps at most one snapshot of the live buffers on disk while the
// operator takes a detour through the redraw tool.
type Stager struct {
	store SnapshotStore
	state StageState
	id    string
	newID func() string
}

// NewStager creates a stager writing to store.
func NewStager(store SnapshotStore) *Stager {
	return &Stager{store: store, newID: uuid.NewString}
}

// State returns the current stage.
func (s *Stager) State() StageState { return s.state }

// Staged reports whether a snapshot exists.
func (s *Stager) Staged() bool { return s.state == StageStaged }

// ID returns the identifier of the staged snapshot, or "".
func (s *Stager) ID() string { return s.id }

// Stage writes b as the snapshot and returns the buffers now staged. If a
// snapshot already exists it is reused and b is ignored.
func (s *Stager) Stage(b Buffers) (Buffers, error) {
	if s.state == StageStaged {
		staged, err := s.store.ReadSnapshot(s.id)
		if err != nil {
			return Buffers{}, fmt.Errorf("reuse snapshot %s: %w: %w", s.id, ErrNoSnapshot, err)
		}
		return staged, nil
	}
	id := s.newID()
	if err := s.store.WriteSnapshot(id, b); err != nil {
		return Buffers{}, fmt.Errorf("write snapshot %s: %w", id, err)
	}
	s.id = id
	s.state = StageStaged
	monitoring.Debugf("sweep: staged snapshot %s (%d samples)", id, b.Len())
	return b.Clone(), nil
}

// Peek reads the staged snapshot without consuming it.
func (s *Stager) Peek() (Buffers, error) {
	if s.state != StageStaged {
		return Buffers{}, ErrNoSnapshot
	}
	b, err := s.store.ReadSnapshot(s.id)
	if err != nil {
		return Buffers{}, fmt.Errorf("read snapshot %s: %w: %w", s.id, ErrNoSnapshot, err)
	}
	return b, nil
}

// Discard removes the staged snapshot.
func (s *Stager) Discard() error {
	if s.state != StageStaged {
		return ErrNoSnapshot
	}
	id := s.id
	s.id = ""
	s.state = StageConsumed
	if err := s.store.RemoveSnapshot(id); err != nil {
		return fmt.Errorf("remove snapshot %s: %w", id, err)
	}
	return nil
}

// Take reads the staged snapshot and removes it.
func (s *Stager) Take() (Buffers, error) {
	b, err := s.Peek()
	if err != nil {
		return Buffers{}, err
	}
	if err := s.Discard(); err != nil {
		monitoring.Logf("sweep: %v", err)
	}
	return b, nil
}
