// Package db implements SQLite storage for normalized sessions,
// messages, file sync state, and full-text search.
package db

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SchemaVersion is the schema this binary writes. Databases at a
// newer version are refused; older databases are migrated forward
// on open.
const SchemaVersion = 2

// ErrStorage marks database-layer failures so callers can bucket
// them apart from parse and IO errors.
var ErrStorage = errors.New("storage error")

const schemaFTS = `
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content='messages',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content)
        VALUES('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content)
        VALUES('delete', old.id, old.content);
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;
`

// DB manages a write connection and a read-only pool.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	path   string
	mu     sync.Mutex // serializes writes
}

// makeDSN builds a SQLite connection string with shared pragmas.
func makeDSN(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "ON")
	params.Set("_mmap_size", "268435456")
	params.Set("_cache_size", "-64000")
	if readOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_synchronous", "NORMAL")
	}
	return path + "?" + params.Encode()
}

// Open creates or opens a SQLite database at the given path. It
// configures WAL mode and mmap, applies pending migrations, and
// returns a DB with separate writer and reader connections.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	writer, err := sql.Open("sqlite3", makeDSN(path, false))
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite3", makeDSN(path, true))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	db := &DB{writer: writer, reader: reader, path: path}
	if err := db.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w (%w)", err, ErrStorage)
	}
	return db, nil
}

// HasFTS checks whether full-text search is available. The table
// may exist in sqlite_master yet fail to load when the fts5
// module is missing in the current runtime, so try a query.
func (db *DB) HasFTS() bool {
	_, err := db.reader.Exec("SELECT 1 FROM messages_fts LIMIT 1")
	return err == nil
}

// ensureColumn adds a column if it doesn't already exist.
func (db *DB) ensureColumn(table, column, definition string) error {
	var count int
	err := db.writer.QueryRow(
		fmt.Sprintf(
			"SELECT count(*) FROM pragma_table_info('%s')"+
				" WHERE name='%s'",
			table, column,
		),
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.writer.Exec(fmt.Sprintf(
		"ALTER TABLE %s ADD COLUMN %s %s",
		table, column, definition,
	))
	if err == nil {
		return nil
	}
	// If ALTER TABLE failed, check whether the column exists now.
	// Handles another process adding it concurrently without
	// relying on error string matching.
	var check int
	if checkErr := db.writer.QueryRow(
		fmt.Sprintf(
			"SELECT count(*) FROM pragma_table_info('%s')"+
				" WHERE name='%s'",
			table, column,
		),
	).Scan(&check); checkErr == nil && check > 0 {
		return nil
	}
	return err
}

func (db *DB) init() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.writer.Exec(schemaSQL); err != nil {
		return err
	}

	if err := db.migrate(); err != nil {
		return err
	}

	// Check whether FTS existed before trying to create it.
	var ftsCount int
	if err := db.writer.QueryRow(
		"SELECT count(*) FROM sqlite_master WHERE type='table' AND name='messages_fts'",
	).Scan(&ftsCount); err != nil {
		return fmt.Errorf("checking fts table: %w", err)
	}
	hadFTS := ftsCount > 0

	// Attempt to initialize FTS. A missing fts5 module is
	// non-fatal; search just reports unavailable.
	if _, err := db.writer.Exec(schemaFTS); err != nil {
		if !strings.Contains(err.Error(), "no such module") {
			return fmt.Errorf("initializing FTS: %w", err)
		}
	} else if !hadFTS {
		// FTS newly created; index any existing messages.
		if _, err := db.writer.Exec(
			"INSERT INTO messages_fts(messages_fts) VALUES('rebuild')",
		); err != nil {
			return fmt.Errorf("backfilling FTS: %w", err)
		}
	}

	return nil
}

// migrate brings the schema_version row up to SchemaVersion,
// applying forward-only steps. Opening a database written by a
// newer binary fails rather than guessing at its shape.
func (db *DB) migrate() error {
	var stored sql.NullInt64
	err := db.writer.QueryRow(
		"SELECT version FROM schema_version LIMIT 1",
	).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		// Fresh database; schema.sql is already current.
		if _, err := db.writer.Exec(
			"INSERT INTO schema_version(version) VALUES (?)",
			SchemaVersion,
		); err != nil {
			return fmt.Errorf("recording schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("reading schema version: %w", err)
	}

	version := int(stored.Int64)
	if version > SchemaVersion {
		return fmt.Errorf(
			"database schema version %d is newer than supported %d",
			version, SchemaVersion,
		)
	}

	for v := version; v < SchemaVersion; v++ {
		if err := db.applyMigration(v + 1); err != nil {
			return fmt.Errorf("migrating to version %d: %w", v+1, err)
		}
		if _, err := db.writer.Exec(
			"UPDATE schema_version SET version = ?", v+1,
		); err != nil {
			return fmt.Errorf("recording schema version %d: %w", v+1, err)
		}
	}
	return nil
}

// applyMigration runs one forward schema step. Steps must stay
// idempotent since schema.sql already creates the current shape
// for fresh databases.
func (db *DB) applyMigration(to int) error {
	switch to {
	case 2:
		// v2 added fork lineage and orphan tracking.
		if err := db.ensureColumn("sessions", "forked_from", "TEXT"); err != nil {
			return err
		}
		return db.ensureColumn(
			"sessions", "orphaned", "INTEGER NOT NULL DEFAULT 0",
		)
	default:
		return fmt.Errorf("unknown migration target %d", to)
	}
}

// Close closes both writer and reader connections.
func (db *DB) Close() error {
	return errors.Join(db.writer.Close(), db.reader.Close())
}

// Update executes fn within a write lock and transaction. The
// transaction is committed if fn returns nil, rolled back
// otherwise.
func (db *DB) Update(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.writer.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Reader returns the read-only connection pool.
func (db *DB) Reader() *sql.DB {
	return db.reader
}
