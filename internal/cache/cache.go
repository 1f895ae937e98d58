// Package cache maintains a local SQLite mirror of remote graph
// records under .tether/cache.db.
//
// The mirror exists so `status` and `diff` can answer from disk
// without a network round trip. It is refreshed by pull: state fields
// overwrite unconditionally (the graph is their authority), content
// fields mirror whatever the remote held at pull time. The mirror is
// never an authority itself and can be deleted and rebuilt at any
// time.
//
// The database is embedded SQLite with WAL mode so a watch daemon can
// read while a CLI invocation writes.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tetherdev/tether/internal/entity"
	"github.com/tetherdev/tether/internal/graph"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite mirror connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the mirror database at path and
// applies the schema. The caller must Close it.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := db.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}
	db.conn = nil
	return nil
}

func (db *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		parent_id TEXT,  -- derived from the id prefix; NULL for epics
		kind TEXT NOT NULL,
		title TEXT NOT NULL,

		problem TEXT NOT NULL DEFAULT '',
		solution TEXT NOT NULL DEFAULT '',
		approach TEXT NOT NULL DEFAULT '',
		files TEXT NOT NULL DEFAULT '',
		acceptance_criteria TEXT NOT NULL DEFAULT '',

		status TEXT NOT NULL,
		assignee TEXT NOT NULL DEFAULT '',
		blocked_reason TEXT NOT NULL DEFAULT '',

		content_hash TEXT NOT NULL DEFAULT '',
		graph_hash TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		synced_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entities_parent ON entities(parent_id);
	CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
	CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(status);
	CREATE INDEX IF NOT EXISTS idx_entities_assignee ON entities(assignee);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return nil
}

// Upsert mirrors one remote record. Repeated calls with the same id
// update in place.
func (db *DB) Upsert(ctx context.Context, rec *graph.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("cannot cache record without id")
	}
	parent := entity.ParentID(rec.ID)

	query := `
	INSERT INTO entities (
		id, parent_id, kind, title,
		problem, solution, approach, files, acceptance_criteria,
		status, assignee, blocked_reason,
		content_hash, graph_hash, updated_at, synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		parent_id = excluded.parent_id,
		kind = excluded.kind,
		title = excluded.title,
		problem = excluded.problem,
		solution = excluded.solution,
		approach = excluded.approach,
		files = excluded.files,
		acceptance_criteria = excluded.acceptance_criteria,
		status = excluded.status,
		assignee = excluded.assignee,
		blocked_reason = excluded.blocked_reason,
		content_hash = excluded.content_hash,
		graph_hash = excluded.graph_hash,
		updated_at = excluded.updated_at,
		synced_at = excluded.synced_at
	`
	_, err := db.conn.ExecContext(ctx, query,
		rec.ID,
		nullIfEmpty(parent),
		string(rec.Kind),
		rec.Title,
		rec.Content.Problem,
		rec.Content.Solution,
		rec.Content.Approach,
		rec.Content.Files,
		rec.Content.AcceptanceCriteria,
		string(rec.State.Status),
		rec.State.Assignee,
		rec.State.BlockedReason,
		rec.ContentHash,
		rec.GraphHash,
		rec.UpdatedAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to cache %s: %w", rec.ID, err)
	}
	return nil
}

// SetState overwrites only the state columns for id, leaving mirrored
// content untouched. Used when a state mutation succeeds remotely and
// the mirror should reflect it without a full pull.
func (db *DB) SetState(ctx context.Context, id string, st entity.State, graphHash string) error {
	query := `
	UPDATE entities SET
		status = ?, assignee = ?, blocked_reason = ?,
		graph_hash = ?, synced_at = ?
	WHERE id = ?
	`
	_, err := db.conn.ExecContext(ctx, query,
		string(st.Status), st.Assignee, st.BlockedReason,
		graphHash, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update cached state for %s: %w", id, err)
	}
	return nil
}

// Delete removes one mirrored record. Missing ids are a no-op.
func (db *DB) Delete(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to evict %s from cache: %w", id, err)
	}
	return nil
}

// Get fetches one mirrored record, or nil if the id is not cached.
func (db *DB) Get(ctx context.Context, id string) (*graph.Record, error) {
	rows, err := db.conn.QueryContext(ctx, selectColumns+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache for %s: %w", id, err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// ListOptions filters a List query. Zero values match everything.
type ListOptions struct {
	Kind     entity.Kind
	Status   entity.Status
	Assignee string
	Parent   string // direct children of this id
}

// List returns mirrored records matching opts, ordered by id so
// output is stable across runs.
func (db *DB) List(ctx context.Context, opts ListOptions) ([]*graph.Record, error) {
	var conditions []string
	var args []any

	if opts.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(opts.Kind))
	}
	if opts.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Assignee != "" {
		conditions = append(conditions, "assignee = ?")
		args = append(args, opts.Assignee)
	}
	if opts.Parent != "" {
		conditions = append(conditions, "parent_id = ?")
		args = append(args, opts.Parent)
	}

	query := selectColumns
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Count returns the number of mirrored records.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache: %w", err)
	}
	return n, nil
}

// Orphans returns ids whose derived parent is absent from the mirror.
// Epics have no parent and never appear here.
func (db *DB) Orphans(ctx context.Context) ([]string, error) {
	query := `
	SELECT id FROM entities
	WHERE parent_id IS NOT NULL
	  AND parent_id NOT IN (SELECT id FROM entities)
	ORDER BY id ASC
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphans: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan orphan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orphans: %w", err)
	}
	return ids, nil
}

const selectColumns = `
	SELECT id, kind, title,
	       problem, solution, approach, files, acceptance_criteria,
	       status, assignee, blocked_reason,
	       content_hash, graph_hash, updated_at
	FROM entities`

func scanRecords(rows *sql.Rows) ([]*graph.Record, error) {
	var recs []*graph.Record
	for rows.Next() {
		var rec graph.Record
		var kind, status, updatedAt string
		err := rows.Scan(
			&rec.ID, &kind, &rec.Title,
			&rec.Content.Problem, &rec.Content.Solution, &rec.Content.Approach,
			&rec.Content.Files, &rec.Content.AcceptanceCriteria,
			&status, &rec.State.Assignee, &rec.State.BlockedReason,
			&rec.ContentHash, &rec.GraphHash, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cached record: %w", err)
		}
		rec.Kind = entity.Kind(kind)
		rec.State.Status = entity.Status(status)
		if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			rec.UpdatedAt = t
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cached records: %w", err)
	}
	return recs, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
