package db

import (
	"database/sql"
	"fmt"
)

// SessionIngest pairs a session row with its full message set.
type SessionIngest struct {
	Session  Session
	Messages []Message
}

// ReplaceFileSessions applies the parse result of one source file
// in a single transaction: sessions are upserted with their
// messages replaced, sessions previously derived from the file
// but absent from the new parse are removed, and the file state
// is recorded. Either everything lands or nothing does.
func (db *DB) ReplaceFileSessions(
	state FileState, sessions []SessionIngest,
) error {
	return db.Update(func(tx *sql.Tx) error {
		existing, err := sessionKeysForFileTx(tx, state.Path)
		if err != nil {
			return fmt.Errorf(
				"listing sessions for %s: %w", state.Path, err,
			)
		}

		seen := make(map[string]bool, len(sessions))
		for _, in := range sessions {
			seen[in.Session.SessionKey] = true
			if err := upsertSessionTx(tx, in.Session); err != nil {
				return err
			}
			if err := replaceMessagesTx(
				tx, in.Session.SessionKey, in.Messages,
			); err != nil {
				return err
			}
		}

		var gone []string
		for _, key := range existing {
			if !seen[key] {
				gone = append(gone, key)
			}
		}
		if _, err := deleteSessionsTx(tx, gone); err != nil {
			return err
		}

		return upsertFileStateTx(tx, state)
	})
}

// RecordFileFailure records a failed parse without touching any
// sessions previously ingested from the file.
func (db *DB) RecordFileFailure(state FileState) error {
	return db.Update(func(tx *sql.Tx) error {
		return upsertFileStateTx(tx, state)
	})
}

// RecordFileSkipped refreshes tracking for an unchanged file.
func (db *DB) RecordFileSkipped(state FileState) error {
	return db.Update(func(tx *sql.Tx) error {
		return upsertFileStateTx(tx, state)
	})
}

// RemoveFile handles a source file that disappeared from disk.
// With deleteSessions the file's sessions are removed outright;
// otherwise they are kept and flagged orphaned. Tracking for the
// file is dropped either way. Returns the number of sessions
// affected.
func (db *DB) RemoveFile(
	path string, deleteSessions bool,
) (int, error) {
	var affected int
	err := db.Update(func(tx *sql.Tx) error {
		keys, err := sessionKeysForFileTx(tx, path)
		if err != nil {
			return fmt.Errorf("listing sessions for %s: %w", path, err)
		}
		affected = len(keys)

		if deleteSessions {
			if _, err := deleteSessionsTx(tx, keys); err != nil {
				return err
			}
		} else if err := markOrphanedTx(tx, keys); err != nil {
			return err
		}

		return deleteFileStateTx(tx, path)
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Reset wipes sessions, messages, and file tracking ahead of a
// full rebuild. Starred flags and fork lineage should be captured
// with SnapshotPreserved first.
func (db *DB) Reset() error {
	return db.Update(func(tx *sql.Tx) error {
		for _, stmt := range []string{
			"DELETE FROM messages",
			"DELETE FROM sessions",
			"DELETE FROM file_states",
		} {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("resetting: %w", err)
			}
		}
		return nil
	})
}
