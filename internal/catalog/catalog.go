// Package catalog keeps an SQLite index of archived sessions so review tables
// can be listed without decoding every artifact.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/myotronics/k7sweep/internal/sessionstore"
	"github.com/myotronics/k7sweep/internal/sweep"
	"github.com/myotronics/k7sweep/internal/timeutil"
)

// Catalog is the session index.
type Catalog struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens or creates the catalog database at path and migrates it.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	// A single connection keeps writes from the tick loop and the CLI ordered.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	c := &Catalog{db: db, clock: timeutil.RealClock{}}
	if err := c.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the database.
func (c *Catalog) Close() error { return c.db.Close() }

// Entry is one indexed session.
type Entry struct {
	Name        string
	SavedAt     time.Time
	ScanType    sweep.ScanType
	ExtraFilter string
	Summary     sweep.Summary
}

const upsertSQL = `
INSERT INTO sessions (
	name, saved_at, scan_type, extra_filter, sample_count, duration_ms,
	frontal_min, frontal_max, frontal_mean,
	sagittal_min, sagittal_max, sagittal_mean, indexed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	saved_at = excluded.saved_at,
	scan_type = excluded.scan_type,
	extra_filter = excluded.extra_filter,
	sample_count = excluded.sample_count,
	duration_ms = excluded.duration_ms,
	frontal_min = excluded.frontal_min,
	frontal_max = excluded.frontal_max,
	frontal_mean = excluded.frontal_mean,
	sagittal_min = excluded.sagittal_min,
	sagittal_max = excluded.sagittal_max,
	sagittal_mean = excluded.sagittal_mean,
	indexed_at = excluded.indexed_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *Catalog) index(ctx context.Context, ex execer, name string, rec sweep.Record) error {
	sum := rec.Buffers.Summarize()
	_, err := ex.ExecContext(ctx, upsertSQL,
		name, rec.SavedAt.UnixNano(), rec.ScanType.String(), rec.ExtraFilter,
		sum.Count, sum.Duration.Milliseconds(),
		sum.Range.FrontalMin, sum.Range.FrontalMax, sum.FrontalMean,
		sum.Range.SagittalMin, sum.Range.SagittalMax, sum.SagittalMean,
		c.clock.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("index %s: %w", name, err)
	}
	return nil
}

// Index records or refreshes the summary of one session. It satisfies
// sessionstore.Indexer.
func (c *Catalog) Index(name string, rec sweep.Record) error {
	return c.index(context.Background(), c.db, name, rec)
}

// Remove drops a session from the index.
func (c *Catalog) Remove(ctx context.Context, name string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM sessions WHERE name = ?`, name); err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	ScanType    *sweep.ScanType
	ExtraFilter *string
}

// List returns indexed sessions, newest first.
func (c *Catalog) List(ctx context.Context, f Filter) ([]Entry, error) {
	q := `SELECT name, saved_at, scan_type, extra_filter, sample_count, duration_ms,
		frontal_min, frontal_max, frontal_mean, sagittal_min, sagittal_max, sagittal_mean
		FROM sessions WHERE 1=1`
	var args []any
	if f.ScanType != nil {
		q += ` AND scan_type = ?`
		args = append(args, f.ScanType.String())
	}
	if f.ExtraFilter != nil {
		q += ` AND extra_filter = ?`
		args = append(args, *f.ExtraFilter)
	}
	q += ` ORDER BY saved_at DESC, name DESC`

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			savedAt    int64
			scan       string
			durationMs int64
		)
		if err := rows.Scan(&e.Name, &savedAt, &scan, &e.ExtraFilter, &e.Summary.Count, &durationMs,
			&e.Summary.Range.FrontalMin, &e.Summary.Range.FrontalMax, &e.Summary.FrontalMean,
			&e.Summary.Range.SagittalMin, &e.Summary.Range.SagittalMax, &e.Summary.SagittalMean); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		st, err := sweep.ParseScanType(scan)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", e.Name, err)
		}
		e.ScanType = st
		e.SavedAt = time.Unix(0, savedAt).UTC()
		e.Summary.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Scanner lists archived sessions.
type Scanner interface {
	Scan() ([]sessionstore.Entry, error)
}

// Reindex rebuilds the index from the archive and returns the number of
// sessions indexed.
func (c *Catalog) Reindex(ctx context.Context, src Scanner) (int, error) {
	entries, err := src.Scan()
	if err != nil {
		return 0, err
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reindex: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return 0, fmt.Errorf("clear index: %w", err)
	}
	for _, e := range entries {
		if err := c.index(ctx, tx, e.Name, e.Record); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reindex: %w", err)
	}
	return len(entries), nil
}
