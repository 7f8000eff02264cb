package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystem_ReadWrite(t *testing.T) {
	m := NewMemoryFileSystem()

	require.NoError(t, m.WriteFile("/data/a.bin", []byte("hello"), 0o644))

	got, err := m.ReadFile("/data/a.bin")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	got[0] = 'X'
	again, _ := m.ReadFile("/data/a.bin")
	assert.Equal(t, "hello", string(again), "returned slice must be a copy")

	_, err = m.ReadFile("/data/missing")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestMemoryFileSystem_ReadDir(t *testing.T) {
	m := NewMemoryFileSystem()
	require.NoError(t, m.MkdirAll("/root/temp", 0o755))
	require.NoError(t, m.WriteFile("/root/b.k7s", []byte("b"), 0o644))
	require.NoError(t, m.WriteFile("/root/a.k7s", []byte("aa"), 0o644))
	require.NoError(t, m.WriteFile("/root/nested/deep/c.k7s", []byte("c"), 0o644))

	entries, err := m.ReadDir("/root")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"a.k7s", "b.k7s", "nested", "temp"}, names)
	assert.False(t, entries[0].IsDir())
	assert.True(t, entries[2].IsDir())
	assert.True(t, entries[3].IsDir())

	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size())

	_, err = m.ReadDir("/nowhere")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestMemoryFileSystem_EmptyDir(t *testing.T) {
	m := NewMemoryFileSystem()
	require.NoError(t, m.MkdirAll("/empty", 0o755))

	entries, err := m.ReadDir("/empty")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryFileSystem_RenameRemove(t *testing.T) {
	m := NewMemoryFileSystem()
	require.NoError(t, m.WriteFile("/x/old", []byte("1"), 0o644))
	require.NoError(t, m.WriteFile("/x/new", []byte("2"), 0o644))

	require.NoError(t, m.Rename("/x/old", "/x/new"))
	assert.False(t, m.Exists("/x/old"))
	got, err := m.ReadFile("/x/new")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))

	require.NoError(t, m.Remove("/x/new"))
	assert.False(t, m.Exists("/x/new"))
	assert.Error(t, m.Remove("/x/new"))
	assert.Error(t, m.Rename("/x/gone", "/x/other"))
}

func TestMemoryFileSystem_Stat(t *testing.T) {
	m := NewMemoryFileSystem()
	require.NoError(t, m.MkdirAll("/a/b", 0o755))
	require.NoError(t, m.WriteFile("/a/b/f", []byte("abc"), 0o600))

	info, err := m.Stat("/a")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	info, err = m.Stat("/a/b/f")
	require.NoError(t, err)
	assert.Equal(t, "f", info.Name())
	assert.Equal(t, int64(3), info.Size())
	assert.False(t, info.IsDir())
}

func TestWriteFileAtomic(t *testing.T) {
	m := NewMemoryFileSystem()
	require.NoError(t, WriteFileAtomic(m, "/state/opts.json", []byte("{}"), 0o644))
	require.NoError(t, WriteFileAtomic(m, "/state/opts.json", []byte(`{"a":1}`), 0o644))

	got, err := m.ReadFile("/state/opts.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	entries, err := m.ReadDir("/state")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, strings.HasSuffix(entries[0].Name(), TempSuffix))
}

func TestOSFileSystem(t *testing.T) {
	dir := t.TempDir()
	var o OSFileSystem

	path := filepath.Join(dir, "sub", "file.txt")
	require.NoError(t, o.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, WriteFileAtomic(o, path, []byte("data"), 0o644))
	assert.True(t, o.Exists(path))

	got, err := o.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))

	entries, err := o.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file.txt", entries[0].Name())

	info, err := o.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())

	require.NoError(t, o.Remove(path))
	assert.False(t, o.Exists(path))
}
