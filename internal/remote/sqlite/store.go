// Package sqlite is a RemoteStore backed by a SQLite database with
// enforced foreign keys. It stands in for a hosted relational backend:
// mutations issued out of dependency order fail the same way.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	apperrors "github.com/alexjbarnes/retro-sync/internal/errors"
	"github.com/alexjbarnes/retro-sync/internal/models"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const schema = `
CREATE TABLE IF NOT EXISTS places (
	id TEXT PRIMARY KEY,
	doc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	id TEXT PRIMARY KEY,
	place_id TEXT NOT NULL,
	doc TEXT NOT NULL,
	FOREIGN KEY (place_id) REFERENCES places(id)
);

CREATE TABLE IF NOT EXISTS transfers (
	id TEXT PRIMARY KEY,
	place_id TEXT NOT NULL,
	doc TEXT NOT NULL,
	FOREIGN KEY (place_id) REFERENCES places(id)
);

CREATE INDEX IF NOT EXISTS idx_entries_place ON entries(place_id);
CREATE INDEX IF NOT EXISTS idx_transfers_place ON transfers(place_id);
`

var tables = map[models.EntityType]string{
	models.EntityPlace:        "places",
	models.EntityRevenueEntry: "entries",
	models.EntityTransfer:     "transfers",
}

// Store is a SQLite-backed remote replica.
type Store struct {
	conn *sql.DB
}

// Open opens or creates the database at path and its schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := url.URL{
		Scheme:   "file",
		OmitHost: true,
		Path:     filepath.ToSlash(path),
		RawQuery: url.Values{
			"_pragma": {"foreign_keys(1)", "busy_timeout(5000)", "journal_mode(wal)"},
		}.Encode(),
	}

	conn, err := sql.Open("sqlite3", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One writer at a time; concurrent callers queue in database/sql.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

func tableFor(entity models.EntityType) (string, error) {
	table, ok := tables[entity]
	if !ok {
		return "", fmt.Errorf("no table for entity type %q", entity)
	}

	return table, nil
}

// Insert creates rec. It fails when rec references a missing place or
// when the id is taken.
func (s *Store) Insert(ctx context.Context, rec models.Record) error {
	table, err := tableFor(rec.Entity())
	if err != nil {
		return err
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding %s %s: %w", rec.Entity(), rec.RecordID(), err)
	}

	if dep, ok := rec.(models.Dependent); ok {
		_, err = s.conn.ExecContext(ctx,
			"INSERT INTO "+table+" (id, place_id, doc) VALUES (?, ?, ?)",
			rec.RecordID(), dep.PlaceRef(), string(doc))
	} else {
		_, err = s.conn.ExecContext(ctx,
			"INSERT INTO "+table+" (id, doc) VALUES (?, ?)",
			rec.RecordID(), string(doc))
	}

	if err != nil {
		return fmt.Errorf("inserting %s %s: %w", rec.Entity(), rec.RecordID(), classify(err, apperrors.ErrNotFound))
	}

	return nil
}

// Update replaces the row id with rec.
func (s *Store) Update(ctx context.Context, id string, rec models.Record) error {
	table, err := tableFor(rec.Entity())
	if err != nil {
		return err
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding %s %s: %w", rec.Entity(), id, err)
	}

	var res sql.Result

	if dep, ok := rec.(models.Dependent); ok {
		res, err = s.conn.ExecContext(ctx,
			"UPDATE "+table+" SET place_id = ?, doc = ? WHERE id = ?",
			dep.PlaceRef(), string(doc), id)
	} else {
		res, err = s.conn.ExecContext(ctx,
			"UPDATE "+table+" SET doc = ? WHERE id = ?",
			string(doc), id)
	}

	if err != nil {
		return fmt.Errorf("updating %s %s: %w", rec.Entity(), id, classify(err, apperrors.ErrNotFound))
	}

	return requireRow(res, fmt.Sprintf("updating %s %s", rec.Entity(), id))
}

// Delete removes the row id. Deleting a place still referenced fails.
func (s *Store) Delete(ctx context.Context, entity models.EntityType, id string) error {
	table, err := tableFor(entity)
	if err != nil {
		return err
	}

	res, err := s.conn.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", entity, id, classify(err, apperrors.ErrConflict))
	}

	return requireRow(res, fmt.Sprintf("deleting %s %s", entity, id))
}

// ListAll returns every row of entity ordered by id.
func (s *Store) ListAll(ctx context.Context, entity models.EntityType) ([]models.Record, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, "SELECT id, doc FROM "+table+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", entity, err)
	}
	defer rows.Close()

	var out []models.Record

	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", entity, err)
		}

		rec, err := models.DecodeRecord(entity, []byte(doc))
		if err != nil {
			return nil, fmt.Errorf("decoding %s %s: %w", entity, id, err)
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing %s: %w", entity, err)
	}

	return out, nil
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if n == 0 {
		return fmt.Errorf("%s: %w", op, apperrors.ErrNotFound)
	}

	return nil
}

// classify maps constraint violations onto the store sentinels. A foreign
// key violation means a missing place on write and a still referenced
// place on delete, so the caller picks its sentinel.
func classify(err, foreignKey error) error {
	var serr *sqlite3.Error
	if !errors.As(err, &serr) {
		return err
	}

	switch serr.ExtendedCode() {
	case sqlite3.CONSTRAINT_FOREIGNKEY:
		return fmt.Errorf("%w: %w", foreignKey, err)
	case sqlite3.CONSTRAINT_PRIMARYKEY, sqlite3.CONSTRAINT_UNIQUE:
		return fmt.Errorf("%w: %w", apperrors.ErrConflict, err)
	}

	switch serr.Code() {
	case sqlite3.BUSY, sqlite3.LOCKED:
		return &apperrors.TransientError{Err: err}
	}

	return err
}
