package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// Catalog is the SQLite ledger of ingested incidents. It backs ingestion dedupe
// and lets the vector index be rebuilt without re-reading the source export.
type Catalog struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates or opens a catalog at the given path.
func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging catalog: %w", err)
	}

	c := &Catalog{db: db, path: path, now: time.Now}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return c, nil
}

// OpenMemory creates an in-memory catalog for tests.
func OpenMemory() (*Catalog, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory catalog: %w", err)
	}
	// Every pooled connection would otherwise see its own empty database.
	db.SetMaxOpenConns(1)

	c := &Catalog{db: db, path: ":memory:", now: time.Now}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return c, nil
}

// Close releases the database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) migrate() error {
	_, err := c.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS incidents (
    id TEXT PRIMARY KEY,
    short_description TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL DEFAULT '',
    assignee TEXT NOT NULL DEFAULT '',
    assignment_group TEXT NOT NULL DEFAULT '',
    created_by TEXT NOT NULL DEFAULT '',
    updated_by TEXT NOT NULL DEFAULT '',
    indexed INTEGER NOT NULL DEFAULT 0,
    ingested_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_incidents_group ON incidents(assignment_group);
CREATE INDEX IF NOT EXISTS idx_incidents_assignee ON incidents(assignee);
`

// Exists reports whether an incident ID has already been ingested.
func (c *Catalog) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM incidents WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking incident %s: %w", id, err)
	}
	return n > 0, nil
}

// KnownIDs returns the set of ingested IDs.
func (c *Catalog) KnownIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id FROM incidents`)
	if err != nil {
		return nil, fmt.Errorf("listing incident ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning incident id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// InsertBatch records a batch in one transaction. Already-known IDs are ignored
// and the number of newly inserted rows is returned. Records carrying an
// embedding are flagged as indexed.
func (c *Catalog) InsertBatch(ctx context.Context, records []models.IncidentRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO incidents
		(id, short_description, created_at, updated_at, assignee, assignment_group, created_by, updated_by, indexed, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	ingestedAt := c.now().UTC().Format(time.RFC3339)
	inserted := 0
	for _, rec := range records {
		res, err := stmt.ExecContext(ctx, rec.ID, rec.ShortDescription,
			formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
			rec.Assignee, rec.Group, rec.CreatedBy, rec.UpdatedBy, len(rec.Embedding) > 0, ingestedAt)
		if err != nil {
			return 0, fmt.Errorf("inserting incident %s: %w", rec.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}
	return inserted, nil
}

// Get returns a catalogued incident without its embedding.
func (c *Catalog) Get(ctx context.Context, id string) (models.IncidentRecord, error) {
	row := c.db.QueryRowContext(ctx, `SELECT id, short_description, created_at, updated_at,
		assignee, assignment_group, created_by, updated_by FROM incidents WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return models.IncidentRecord{}, fmt.Errorf("incident %s not found", id)
	}
	return rec, err
}

// Count returns the number of catalogued incidents.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM incidents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting incidents: %w", err)
	}
	return n, nil
}

// IndexedCount returns the number of catalogued incidents that were written to the vector index.
func (c *Catalog) IndexedCount(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM incidents WHERE indexed = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting indexed incidents: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (models.IncidentRecord, error) {
	var (
		rec              models.IncidentRecord
		created, updated string
	)
	if err := s.Scan(&rec.ID, &rec.ShortDescription, &created, &updated,
		&rec.Assignee, &rec.Group, &rec.CreatedBy, &rec.UpdatedBy); err != nil {
		return models.IncidentRecord{}, err
	}
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	return rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
