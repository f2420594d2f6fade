package db

import (
	"context"
	"fmt"
	"os"
)

// Info describes the database for diagnostics.
type Info struct {
	Path           string `json:"path"`
	SchemaVersion  int    `json:"schema_version"`
	FTSAvailable   bool   `json:"fts_available"`
	FileSize       int64  `json:"file_size"`
	WALSize        int64  `json:"wal_size"`
	SessionCount   int    `json:"session_count"`
	MessageCount   int    `json:"message_count"`
	FileCount      int    `json:"file_count"`
	ProjectCount   int    `json:"project_count"`
	StarredCount   int    `json:"starred_count"`
	OrphanedCount  int    `json:"orphaned_count"`
	OldestSession  string `json:"oldest_session,omitempty"`
	NewestSession  string `json:"newest_session,omitempty"`
}

// GetInfo returns database diagnostics. Row counts come from the
// trigger-maintained stats table; the remaining aggregates hit
// indexed columns.
func (db *DB) GetInfo(ctx context.Context) (Info, error) {
	info := Info{Path: db.path, FTSAvailable: db.HasFTS()}

	if err := db.reader.QueryRowContext(
		ctx, "SELECT version FROM schema_version LIMIT 1",
	).Scan(&info.SchemaVersion); err != nil {
		return Info{}, fmt.Errorf("reading schema version: %w", err)
	}

	const query = `
		SELECT
			(SELECT value FROM stats WHERE name = 'sessions'),
			(SELECT value FROM stats WHERE name = 'messages'),
			(SELECT value FROM stats WHERE name = 'file_states'),
			(SELECT COUNT(DISTINCT project) FROM sessions),
			(SELECT COUNT(*) FROM sessions WHERE starred = 1),
			(SELECT COUNT(*) FROM sessions WHERE orphaned = 1),
			(SELECT COALESCE(MIN(started_at), '') FROM sessions),
			(SELECT COALESCE(MAX(ended_at), '') FROM sessions)`

	if err := db.reader.QueryRowContext(ctx, query).Scan(
		&info.SessionCount,
		&info.MessageCount,
		&info.FileCount,
		&info.ProjectCount,
		&info.StarredCount,
		&info.OrphanedCount,
		&info.OldestSession,
		&info.NewestSession,
	); err != nil {
		return Info{}, fmt.Errorf("fetching stats: %w", err)
	}

	if st, err := os.Stat(db.path); err == nil {
		info.FileSize = st.Size()
	}
	if st, err := os.Stat(db.path + "-wal"); err == nil {
		info.WALSize = st.Size()
	}

	return info, nil
}
