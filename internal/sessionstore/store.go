// Package sessionstore archives recorded sweep sessions, one artifact per
// session, under a per-patient directory, and keeps the staging area used by
// the redraw tool.
package sessionstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/myotronics/k7sweep/internal/fsutil"
	"github.com/myotronics/k7sweep/internal/monitoring"
	"github.com/myotronics/k7sweep/internal/sweep"
)

const (
	// Ext is the artifact file extension.
	Ext = ".k7s"
	// TempDir is the reserved staging sub-directory, excluded from scans.
	TempDir = "temp"

	nameLayout = "2006-01-02_15-04-05.000000"
)

var (
	// ErrNotFound is returned when no artifact matches a lookup.
	ErrNotFound = errors.New("session not found")
	// ErrBadName is returned for artifact names that are not plain file names.
	ErrBadName = errors.New("invalid session name")
)

// PatientPath returns the archive directory for a patient given as
// "first+last": <root>/<last>/<first>/sweep_data/<FormatVersion>.
func PatientPath(root, patient string) (string, error) {
	first, last, ok := strings.Cut(patient, "+")
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	if !ok || first == "" || last == "" {
		return "", fmt.Errorf("patient name %q is not in first+last form", patient)
	}
	for _, part := range []string{first, last} {
		if strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
			return "", fmt.Errorf("patient name %q contains a path element", patient)
		}
	}
	return filepath.Join(root, last, first, "sweep_data", FormatVersion), nil
}

// Indexer is notified of every saved session.
type Indexer interface {
	Index(name string, rec sweep.Record) error
}

// Entry is an artifact read back during a scan.
type Entry struct {
	Name   string
	Record sweep.Record
}

// Store reads and writes session artifacts in one directory.
type Store struct {
	fs      fsutil.FileSystem
	dir     string
	indexer Indexer
}

// New creates a store rooted at dir.
func New(fsys fsutil.FileSystem, dir string) *Store {
	return &Store{fs: fsys, dir: dir}
}

// Dir returns the archive directory.
func (s *Store) Dir() string { return s.dir }

// SetIndexer installs an index hook for saved sessions.
func (s *Store) SetIndexer(ix Indexer) { s.indexer = ix }

// Save writes rec as a new artifact and returns its name.
func (s *Store) Save(rec sweep.Record) (string, error) {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	data, err := Encode(rec)
	if err != nil {
		return "", err
	}

	base := rec.SavedAt.UTC().Format(nameLayout)
	name := base + Ext
	for i := 1; s.fs.Exists(filepath.Join(s.dir, name)); i++ {
		name = fmt.Sprintf("%s-%d%s", base, i, Ext)
	}
	if err := fsutil.WriteFileAtomic(s.fs, filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write session %s: %w", name, err)
	}
	monitoring.Logf("sessionstore: saved %s (%s, filter=%q, %d samples)",
		name, rec.ScanType, rec.ExtraFilter, rec.Buffers.Len())

	if s.indexer != nil {
		if err := s.indexer.Index(name, rec); err != nil {
			monitoring.Logf("sessionstore: index %s: %v", name, err)
		}
	}
	return name, nil
}

func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return nil
}

// Load reads one artifact by name.
func (s *Store) Load(name string) (sweep.Record, error) {
	if err := checkName(name); err != nil {
		return sweep.Record{}, err
	}
	data, err := s.fs.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return sweep.Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return sweep.Record{}, err
	}
	rec, err := Decode(data)
	if err != nil {
		return sweep.Record{}, fmt.Errorf("load %s: %w", name, err)
	}
	return rec, nil
}

// Scan reads every artifact in the directory except the staging area.
// Artifacts that cannot be read or decoded are logged and skipped.
func (s *Store) Scan() ([]Entry, error) {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan %s: %w", s.dir, err)
	}

	var out []Entry
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == TempDir || strings.HasSuffix(name, fsutil.TempSuffix) {
			continue
		}
		rec, err := s.Load(name)
		if err != nil {
			monitoring.Logf("sessionstore: skipping %s: %v", name, err)
			continue
		}
		out = append(out, Entry{Name: name, Record: rec})
	}
	return out, nil
}

// Find returns the artifacts with the given scan type and extra filter, oldest
// first. An empty filter matches only untagged sessions.
func (s *Store) Find(scan sweep.ScanType, filter string) ([]Entry, error) {
	all, err := s.Scan()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if e.Record.ScanType == scan && e.Record.ExtraFilter == filter {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return entryBefore(out[i], out[j]) })
	return out, nil
}

// entryBefore orders entries by save time, then by the collision counter Save
// appends to names saved within the same microsecond.
func entryBefore(a, b Entry) bool {
	if !a.Record.SavedAt.Equal(b.Record.SavedAt) {
		return a.Record.SavedAt.Before(b.Record.SavedAt)
	}
	if sa, sb := nameSeq(a.Name), nameSeq(b.Name); sa != sb {
		return sa < sb
	}
	return a.Name < b.Name
}

// nameSeq returns the collision counter of an artifact name, 0 for none.
func nameSeq(name string) int {
	stem := strings.TrimSuffix(name, Ext)
	if len(stem) <= len(nameLayout)+1 || stem[len(nameLayout)] != '-' {
		return 0
	}
	n, err := strconv.Atoi(stem[len(nameLayout)+1:])
	if err != nil {
		return 0
	}
	return n
}

// Remove deletes one artifact. The staging area is not reachable by name.
func (s *Store) Remove(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	path := filepath.Join(s.dir, name)
	info, err := s.fs.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %q is a directory", ErrBadName, name)
	}
	if err := s.fs.Remove(path); err != nil {
		return fmt.Errorf("remove session %s: %w", name, err)
	}
	monitoring.Logf("sessionstore: removed %s", name)
	return nil
}

// Latest returns the most recent match of Find.
func (s *Store) Latest(scan sweep.ScanType, filter string) (Entry, error) {
	matches, err := s.Find(scan, filter)
	if err != nil {
		return Entry{}, err
	}
	if len(matches) == 0 {
		return Entry{}, fmt.Errorf("%w: %s filter=%q", ErrNotFound, scan, filter)
	}
	return matches[len(matches)-1], nil
}

func (s *Store) snapshotPath(id string) (string, error) {
	if err := checkName(id); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, TempDir, id+Ext), nil
}

// WriteSnapshot stores a staged copy of the live buffers.
func (s *Store) WriteSnapshot(id string, b sweep.Buffers) error {
	path, err := s.snapshotPath(id)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := Encode(sweep.Record{ScanType: sweep.ScanCMS, Buffers: b})
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.fs, path, data, 0o644)
}

// ReadSnapshot loads a staged copy.
func (s *Store) ReadSnapshot(id string) (sweep.Buffers, error) {
	path, err := s.snapshotPath(id)
	if err != nil {
		return sweep.Buffers{}, err
	}
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return sweep.Buffers{}, err
	}
	rec, err := Decode(data)
	if err != nil {
		return sweep.Buffers{}, err
	}
	return rec.Buffers, nil
}

// RemoveSnapshot deletes a staged copy.
func (s *Store) RemoveSnapshot(id string) error {
	path, err := s.snapshotPath(id)
	if err != nil {
		return err
	}
	return s.fs.Remove(path)
}
