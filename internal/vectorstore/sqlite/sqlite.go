// Package sqlite stores index generations in a SQLite database using the
// pure-Go modernc.org/sqlite driver. A generation and its sentences are
// written and activated in a single transaction.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"medrag/internal/domain"
	"medrag/internal/index"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS generations (
    id TEXT PRIMARY KEY,
    model TEXT NOT NULL,
    built_at INTEGER NOT NULL,
    vectors BLOB NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS sentences (
    generation_id TEXT NOT NULL,
    id INTEGER NOT NULL,
    text TEXT NOT NULL,
    source_entity TEXT NOT NULL,
    category TEXT NOT NULL,
    PRIMARY KEY (generation_id, id)
)`, `
CREATE TABLE IF NOT EXISTS active_generation (
    slot INTEGER PRIMARY KEY CHECK (slot = 0),
    generation_id TEXT NOT NULL
)`,
}

// Open opens a SQLite database. For file-based databases pass a path like
// "./index.sqlite"; ":memory:" gives a private in-memory database.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite", goerr.V("dsn", dsn))
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)
	return db, nil
}

// Storage keeps generations in SQLite.
type Storage struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStorage ensures the schema exists in db.
func NewStorage(ctx context.Context, db *sql.DB) (*Storage, error) {
	if db == nil {
		return nil, goerr.Wrap(domain.ErrInvalidArgument, "db is nil")
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, goerr.Wrap(err, "failed to create schema")
		}
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Save inserts g, activates it and deletes older generations in one
// transaction.
func (s *Storage) Save(ctx context.Context, g *index.Generation) error {
	if err := g.Validate(); err != nil {
		return goerr.Wrap(err, "refusing to save invalid generation")
	}
	if !s.mu.TryLock() {
		return goerr.Wrap(domain.ErrBuildInProgress, "another save is running")
	}
	defer s.mu.Unlock()

	var blob bytes.Buffer
	if err := index.Encode(&blob, g.Index, g.Header()); err != nil {
		return goerr.Wrap(err, "failed to encode index")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO generations(id, model, built_at, vectors) VALUES(?, ?, ?, ?)`,
		g.ID, g.Model, g.BuiltAt.UnixNano(), blob.Bytes()); err != nil {
		return goerr.Wrap(err, "failed to insert generation", goerr.V("generation", g.ID))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sentences WHERE generation_id = ?`, g.ID); err != nil {
		return goerr.Wrap(err, "failed to clear sentences", goerr.V("generation", g.ID))
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sentences(generation_id, id, text, source_entity, category) VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		return goerr.Wrap(err, "failed to prepare sentence insert")
	}
	defer stmt.Close() //nolint:errcheck // closed with the transaction
	for _, snt := range g.Sentences {
		if _, err := stmt.ExecContext(ctx, g.ID, snt.ID, snt.Text, snt.SourceEntity, string(snt.Category)); err != nil {
			return goerr.Wrap(err, "failed to insert sentence", goerr.V("generation", g.ID), goerr.V("id", snt.ID))
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO active_generation(slot, generation_id) VALUES(0, ?)
		 ON CONFLICT(slot) DO UPDATE SET generation_id = excluded.generation_id`, g.ID); err != nil {
		return goerr.Wrap(err, "failed to activate generation", goerr.V("generation", g.ID))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sentences WHERE generation_id <> ?`, g.ID); err != nil {
		return goerr.Wrap(err, "failed to prune sentences")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE id <> ?`, g.ID); err != nil {
		return goerr.Wrap(err, "failed to prune generations")
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit generation", goerr.V("generation", g.ID))
	}
	return nil
}

// Load reads the active generation inside one read transaction.
func (s *Storage) Load(ctx context.Context) (*index.Generation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id      string
		model   string
		builtAt int64
		blob    []byte
	)
	err = tx.QueryRowContext(ctx, `
		SELECT g.id, g.model, g.built_at, g.vectors
		FROM active_generation a JOIN generations g ON g.id = a.generation_id
		WHERE a.slot = 0`).Scan(&id, &model, &builtAt, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "no active generation")
	}
	if err != nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "failed to read active generation", goerr.V("cause", err.Error()))
	}

	idx, h, err := index.Decode(bytes.NewReader(blob))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode stored index", goerr.V("generation", id))
	}
	if h.Model != model {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "stored model does not match index header",
			goerr.V("generation", id), goerr.V("row", model), goerr.V("header", h.Model))
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, text, source_entity, category FROM sentences WHERE generation_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "failed to read sentences", goerr.V("cause", err.Error()))
	}
	defer rows.Close() //nolint:errcheck // read only
	var sentences []domain.Sentence
	for rows.Next() {
		var (
			snt domain.Sentence
			cat string
		)
		if err := rows.Scan(&snt.ID, &snt.Text, &snt.SourceEntity, &cat); err != nil {
			return nil, goerr.Wrap(domain.ErrIndexUnavailable, "failed to scan sentence", goerr.V("cause", err.Error()))
		}
		snt.Category = domain.Category(cat)
		sentences = append(sentences, snt)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "failed to read sentences", goerr.V("cause", err.Error()))
	}

	return index.Restore(id, time.Unix(0, builtAt), idx, h, sentences)
}
