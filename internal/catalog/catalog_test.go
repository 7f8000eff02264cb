package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myotronics/k7sweep/internal/fsutil"
	"github.com/myotronics/k7sweep/internal/sessionstore"
	"github.com/myotronics/k7sweep/internal/sweep"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func record(scan sweep.ScanType, filter string, at time.Time, values ...float64) sweep.Record {
	var b sweep.Buffers
	for i, v := range values {
		_ = b.Append(sweep.Sample{Time: at.Add(time.Duration(i) * 500 * time.Millisecond), Frontal: v, Sagittal: -v})
	}
	return sweep.Record{ScanType: scan, ExtraFilter: filter, SavedAt: at, Buffers: b}
}

func TestOpen_Migrates(t *testing.T) {
	t.Parallel()

	c := openTestCatalog(t)
	v, dirty, err := c.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)
}

func TestIndexAndList(t *testing.T) {
	t.Parallel()

	c := openTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.Index("a.k7s", record(sweep.ScanAPPitch, "", t0, 1, 5, -2)))
	require.NoError(t, c.Index("b.k7s", record(sweep.ScanCMS, "visitA", t0.Add(time.Minute), 3, 4)))
	require.NoError(t, c.Index("c.k7s", record(sweep.ScanCMS, "visitB", t0.Add(2*time.Minute), 0)))

	all, err := c.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c.k7s", all[0].Name, "newest first")

	first := all[2]
	assert.Equal(t, sweep.ScanAPPitch, first.ScanType)
	assert.Equal(t, t0, first.SavedAt)
	assert.Equal(t, 3, first.Summary.Count)
	assert.Equal(t, time.Second, first.Summary.Duration)
	assert.Equal(t, -2.0, first.Summary.Range.FrontalMin)
	assert.Equal(t, 5.0, first.Summary.Range.FrontalMax)
	assert.Equal(t, -5.0, first.Summary.Range.SagittalMin)
	assert.InDelta(t, 4.0/3.0, first.Summary.FrontalMean, 1e-9)

	cms := sweep.ScanCMS
	visitA := "visitA"
	got, err := c.List(ctx, Filter{ScanType: &cms, ExtraFilter: &visitA})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b.k7s", got[0].Name)

	// Re-indexing the same name replaces the row.
	require.NoError(t, c.Index("b.k7s", record(sweep.ScanCMS, "visitA", t0.Add(time.Minute), 9)))
	got, err = c.List(ctx, Filter{ScanType: &cms, ExtraFilter: &visitA})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Summary.Count)

	require.NoError(t, c.Remove(ctx, "b.k7s"))
	got, err = c.List(ctx, Filter{ScanType: &cms})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c.k7s", got[0].Name)
}

func TestReindexFromStore(t *testing.T) {
	t.Parallel()

	c := openTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Index("stale.k7s", record(sweep.ScanOther, "", t0, 1)))

	fsys := fsutil.NewMemoryFileSystem()
	store := sessionstore.New(fsys, "/archive")
	for i := 0; i < 3; i++ {
		_, err := store.Save(record(sweep.ScanLatRoll, "", t0.Add(time.Duration(i)*time.Hour), 1, 2))
		require.NoError(t, err)
	}
	require.NoError(t, fsys.WriteFile("/archive/broken.k7s", []byte("K7SW"), 0o644))

	n, err := c.Reindex(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err := c.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, e := range all {
		assert.Equal(t, sweep.ScanLatRoll, e.ScanType)
	}
}

func TestStoreIndexerHook(t *testing.T) {
	t.Parallel()

	c := openTestCatalog(t)
	store := sessionstore.New(fsutil.NewMemoryFileSystem(), "/archive")
	store.SetIndexer(c)

	name, err := store.Save(record(sweep.ScanCMS, "visitA", t0, 1, 2, 3))
	require.NoError(t, err)

	all, err := c.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, name, all[0].Name)
	assert.Equal(t, "visitA", all[0].ExtraFilter)
}
