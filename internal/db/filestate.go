package db

import (
	"database/sql"
	"fmt"
)

// Sync outcomes recorded per file.
const (
	OutcomeImported = "imported"
	OutcomeUpdated  = "updated"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// FileState tracks one source file across syncs so unchanged
// files can be skipped without re-parsing.
type FileState struct {
	Path        string
	Source      string
	Size        int64
	Mtime       int64
	Hash        string
	Outcome     string
	Error       string
	ProcessedAt string
}

// LoadFileStates returns all tracked file states keyed by path.
func (db *DB) LoadFileStates() (map[string]FileState, error) {
	rows, err := db.reader.Query(`
		SELECT path, source, size, mtime, hash, outcome, error,
			COALESCE(processed_at, '')
		FROM file_states`)
	if err != nil {
		return nil, fmt.Errorf("querying file states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]FileState)
	for rows.Next() {
		var fs FileState
		if err := rows.Scan(
			&fs.Path, &fs.Source, &fs.Size, &fs.Mtime, &fs.Hash,
			&fs.Outcome, &fs.Error, &fs.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning file state: %w", err)
		}
		states[fs.Path] = fs
	}
	return states, rows.Err()
}

// upsertFileStateTx records a file's sync outcome within an
// existing transaction, so state lands atomically with the
// session rows it describes.
func upsertFileStateTx(tx *sql.Tx, fs FileState) error {
	_, err := tx.Exec(`
		INSERT INTO file_states
			(path, source, size, mtime, hash, outcome, error,
			 processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			source = excluded.source,
			size = excluded.size,
			mtime = excluded.mtime,
			hash = excluded.hash,
			outcome = excluded.outcome,
			error = excluded.error,
			processed_at = excluded.processed_at`,
		fs.Path, fs.Source, fs.Size, fs.Mtime, fs.Hash,
		fs.Outcome, fs.Error, nilIfEmpty(fs.ProcessedAt))
	if err != nil {
		return fmt.Errorf("upserting file state %s: %w", fs.Path, err)
	}
	return nil
}

// deleteFileStateTx drops tracking for a file that no longer
// exists on disk.
func deleteFileStateTx(tx *sql.Tx, path string) error {
	if _, err := tx.Exec(
		"DELETE FROM file_states WHERE path = ?", path,
	); err != nil {
		return fmt.Errorf("deleting file state %s: %w", path, err)
	}
	return nil
}

// ClearFileStates wipes all file tracking, forcing the next sync
// to re-ingest everything.
func (db *DB) ClearFileStates() error {
	return db.Update(func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM file_states")
		return err
	})
}
