// Package cache keeps exported results in a local SQLite database so later
// exports only fetch results newer than the latest cached reference.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsexport/fsexport/internal/engine"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotCached = errors.New("form is not cached")

// Entry is the cached export of one form.
type Entry struct {
	FormID          string
	Table           *engine.Table
	Items           json.RawMessage
	LatestReference int64
	UpdatedAt       time.Time
}

// Store is a SQLite backed result cache.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS forms (
			form_id TEXT PRIMARY KEY,
			columns TEXT NOT NULL,
			items TEXT,
			latest_ref INTEGER NOT NULL DEFAULT 0,
			row_count INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS results (
			form_id TEXT NOT NULL REFERENCES forms(form_id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			ref INTEGER,
			data TEXT NOT NULL,
			PRIMARY KEY (form_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_ref ON results(form_id, ref)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Save replaces the cached export of a form.
func (s *Store) Save(ctx context.Context, formID string, table *engine.Table, items json.RawMessage) error {
	columns, err := json.Marshal(table.Columns)
	if err != nil {
		return fmt.Errorf("encoding columns: %w", err)
	}

	latest, _ := table.LatestReference()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var itemsValue any
	if len(items) > 0 {
		itemsValue = string(items)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO forms (form_id, columns, items, latest_ref, row_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(form_id) DO UPDATE SET
			columns = excluded.columns,
			items = excluded.items,
			latest_ref = excluded.latest_ref,
			row_count = excluded.row_count,
			updated_at = excluded.updated_at`,
		formID, string(columns), itemsValue, latest, table.Len(), s.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("saving form %s: %w", formID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE form_id = ?`, formID); err != nil {
		return fmt.Errorf("clearing results of form %s: %w", formID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO results (form_id, position, ref, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, row := range table.Rows {
		data, err := encodeRow(row)
		if err != nil {
			return fmt.Errorf("encoding row %d: %w", i, err)
		}

		var ref any
		if r, ok := row.Reference(); ok {
			ref = r
		}

		if _, err := stmt.ExecContext(ctx, formID, i, ref, data); err != nil {
			return fmt.Errorf("saving row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cache: %w", err)
	}
	return nil
}

// Load returns the cached export of a form, or ErrNotCached.
func (s *Store) Load(ctx context.Context, formID string) (*Entry, error) {
	entry := &Entry{FormID: formID}

	var (
		columns   string
		items     sql.NullString
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT columns, items, latest_ref, updated_at FROM forms WHERE form_id = ?`, formID,
	).Scan(&columns, &items, &entry.LatestReference, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("loading form %s: %w", formID, err)
	}

	table := &engine.Table{}
	if err := json.Unmarshal([]byte(columns), &table.Columns); err != nil {
		return nil, fmt.Errorf("decoding columns of form %s: %w", formID, err)
	}
	if items.Valid {
		entry.Items = json.RawMessage(items.String)
	}
	entry.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM results WHERE form_id = ? ORDER BY position`, formID)
	if err != nil {
		return nil, fmt.Errorf("loading results of form %s: %w", formID, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		row, err := decodeRow(data)
		if err != nil {
			return nil, fmt.Errorf("decoding result of form %s: %w", formID, err)
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results of form %s: %w", formID, err)
	}

	entry.Table = table
	return entry, nil
}

// Update merges fresh results over the cached ones and saves the result.
// Fresh rows come first and win on equal reference numbers. Items are kept
// from the cache when items is empty.
func (s *Store) Update(ctx context.Context, formID string, fresh *engine.Table, items json.RawMessage) (*engine.Table, error) {
	merged := fresh
	entry, err := s.Load(ctx, formID)
	switch {
	case errors.Is(err, ErrNotCached):
	case err != nil:
		return nil, err
	default:
		merged = fresh.Merge(entry.Table)
		if len(items) == 0 {
			items = entry.Items
		}
	}

	if err := s.Save(ctx, formID, merged, items); err != nil {
		return nil, err
	}
	return merged, nil
}

// LatestReference returns the highest cached reference number of a form.
func (s *Store) LatestReference(ctx context.Context, formID string) (int64, bool, error) {
	var latest int64
	err := s.db.QueryRowContext(ctx, `SELECT latest_ref FROM forms WHERE form_id = ?`, formID).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("loading latest reference of form %s: %w", formID, err)
	}
	return latest, latest > 0, nil
}
