package db

import (
	"database/sql"
	"fmt"
	"os"
)

// CleanReport summarizes what Clean removed or would remove.
type CleanReport struct {
	OrphanedSessions int   `json:"orphaned_sessions"`
	OrphansRemoved   bool  `json:"orphans_removed"`
	StaleFileStates  int   `json:"stale_file_states"`
	BytesReclaimed   int64 `json:"bytes_reclaimed"`
	DryRun           bool  `json:"dry_run"`
}

// Clean removes file states whose files no longer exist, then
// checkpoints the WAL and vacuums. Orphaned sessions are counted
// always but removed only with removeOrphans; under the default
// keep policy they stay. With dryRun it only reports what would
// be removed.
func (db *DB) Clean(dryRun, removeOrphans bool) (CleanReport, error) {
	report := CleanReport{DryRun: dryRun, OrphansRemoved: removeOrphans}

	if err := db.reader.QueryRow(
		"SELECT COUNT(*) FROM sessions WHERE orphaned = 1",
	).Scan(&report.OrphanedSessions); err != nil {
		return report, fmt.Errorf("counting orphans: %w", err)
	}

	stale, err := db.staleFileStates()
	if err != nil {
		return report, err
	}
	report.StaleFileStates = len(stale)

	if dryRun {
		return report, nil
	}

	sizeBefore := db.diskSize()

	err = db.Update(func(tx *sql.Tx) error {
		if removeOrphans {
			if _, err := tx.Exec(
				"DELETE FROM sessions WHERE orphaned = 1",
			); err != nil {
				return fmt.Errorf("deleting orphaned sessions: %w", err)
			}
		}
		for _, path := range stale {
			if err := deleteFileStateTx(tx, path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.writer.Exec(
		"PRAGMA wal_checkpoint(TRUNCATE)",
	); err != nil {
		return report, fmt.Errorf("checkpointing WAL: %w", err)
	}
	if _, err := db.writer.Exec("VACUUM"); err != nil {
		return report, fmt.Errorf("vacuuming: %w", err)
	}

	if after := db.diskSize(); after < sizeBefore {
		report.BytesReclaimed = sizeBefore - after
	}
	return report, nil
}

// staleFileStates returns tracked paths whose files are gone.
// Virtual row paths (path#rowKey) never appear in file_states, so
// a plain stat suffices.
func (db *DB) staleFileStates() ([]string, error) {
	rows, err := db.reader.Query("SELECT path FROM file_states")
	if err != nil {
		return nil, fmt.Errorf("querying file states: %w", err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			stale = append(stale, path)
		}
	}
	return stale, rows.Err()
}

func (db *DB) diskSize() int64 {
	var total int64
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if st, err := os.Stat(db.path + suffix); err == nil {
			total += st.Size()
		}
	}
	return total
}
