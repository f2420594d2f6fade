package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a session key does not exist.
var ErrNotFound = errors.New("session not found")

// sessionCols is the column list for session queries. Keep in
// sync with scanSessionRow.
const sessionCols = `session_key, source, project, title, model,
	started_at, ended_at, message_count, user_message_count,
	tokens_used, starred, forked_from, orphaned,
	file_path, file_size, file_mtime, file_hash`

const (
	// DefaultSessionLimit is the default number of sessions returned.
	DefaultSessionLimit = 200
	// MaxSessionLimit is the maximum number of sessions returned.
	MaxSessionLimit = 500
)

// Session represents a row in the sessions table.
type Session struct {
	SessionKey       string  `json:"session_key"`
	Source           string  `json:"source"`
	Project          string  `json:"project"`
	Title            string  `json:"title"`
	Model            string  `json:"model,omitempty"`
	StartedAt        *string `json:"started_at"`
	EndedAt          *string `json:"ended_at"`
	MessageCount     int     `json:"message_count"`
	UserMessageCount int     `json:"user_message_count"`
	TokensUsed       int64   `json:"tokens_used,omitempty"`
	Starred          bool    `json:"starred"`
	ForkedFrom       *string `json:"forked_from,omitempty"`
	Orphaned         bool    `json:"orphaned,omitempty"`
	FilePath         string  `json:"file_path"`
	FileSize         int64   `json:"file_size"`
	FileMtime        int64   `json:"file_mtime"`
	FileHash         string  `json:"file_hash"`
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows,
// allowing a single scan helper for both.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSessionRow scans sessionCols into a Session.
func scanSessionRow(rs rowScanner) (Session, error) {
	var s Session
	err := rs.Scan(
		&s.SessionKey, &s.Source, &s.Project, &s.Title, &s.Model,
		&s.StartedAt, &s.EndedAt, &s.MessageCount,
		&s.UserMessageCount, &s.TokensUsed, &s.Starred,
		&s.ForkedFrom, &s.Orphaned,
		&s.FilePath, &s.FileSize, &s.FileMtime, &s.FileHash,
	)
	return s, err
}

// SessionFilter specifies how to query sessions.
type SessionFilter struct {
	Source  string
	Project string
	Starred *bool // nil = no filter
	Limit   int
	Offset  int
}

// SessionPage is a page of session results.
type SessionPage struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"has_more"`
}

// buildSessionFilter returns a WHERE clause and args for the
// predicates in SessionFilter.
func buildSessionFilter(f SessionFilter) (string, []any) {
	preds := []string{"message_count > 0"}
	var args []any

	if f.Source != "" {
		preds = append(preds, "source = ?")
		args = append(args, f.Source)
	}
	if f.Project != "" {
		preds = append(preds, "project = ?")
		args = append(args, f.Project)
	}
	if f.Starred != nil {
		preds = append(preds, "starred = ?")
		args = append(args, *f.Starred)
	}

	return strings.Join(preds, " AND "), args
}

// ListSessions returns sessions newest-first, filtered and
// offset-paginated. One row past the limit is fetched to detect
// whether more pages exist.
func (db *DB) ListSessions(
	ctx context.Context, f SessionFilter,
) (SessionPage, error) {
	if f.Limit <= 0 || f.Limit > MaxSessionLimit {
		f.Limit = DefaultSessionLimit
	}

	where, args := buildSessionFilter(f)

	var total int
	if err := db.reader.QueryRowContext(
		ctx, "SELECT COUNT(*) FROM sessions WHERE "+where, args...,
	).Scan(&total); err != nil {
		return SessionPage{}, fmt.Errorf("counting sessions: %w", err)
	}

	query := "SELECT " + sessionCols +
		" FROM sessions WHERE " + where + `
		ORDER BY COALESCE(ended_at, started_at) DESC, session_key DESC
		LIMIT ? OFFSET ?`
	queryArgs := append(append([]any{}, args...), f.Limit+1, f.Offset)

	rows, err := db.reader.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return SessionPage{}, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return SessionPage{}, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return SessionPage{}, err
	}

	page := SessionPage{Sessions: sessions, Total: total}
	if len(sessions) > f.Limit {
		page.Sessions = sessions[:f.Limit]
		page.HasMore = true
	}
	return page, nil
}

// GetSession returns a single session by key, or nil when the
// key does not exist.
func (db *DB) GetSession(
	ctx context.Context, key string,
) (*Session, error) {
	row := db.reader.QueryRowContext(
		ctx,
		"SELECT "+sessionCols+" FROM sessions WHERE session_key = ?",
		key,
	)

	s, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", key, err)
	}
	return &s, nil
}

// upsertSessionTx inserts or updates a session within a
// transaction. starred and forked_from are store-owned: starred
// survives re-ingestion untouched, and forked_from is write-once
// (a fork registration before first ingest wins over NULL and is
// never overwritten afterwards).
func upsertSessionTx(tx *sql.Tx, s Session) error {
	_, err := tx.Exec(`
		INSERT INTO sessions (
			session_key, source, project, title, model,
			started_at, ended_at, message_count,
			user_message_count, tokens_used, forked_from,
			file_path, file_size, file_mtime, file_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			source = excluded.source,
			project = excluded.project,
			title = excluded.title,
			model = excluded.model,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			message_count = excluded.message_count,
			user_message_count = excluded.user_message_count,
			tokens_used = excluded.tokens_used,
			forked_from = COALESCE(sessions.forked_from, excluded.forked_from),
			orphaned = 0,
			file_path = excluded.file_path,
			file_size = excluded.file_size,
			file_mtime = excluded.file_mtime,
			file_hash = excluded.file_hash`,
		s.SessionKey, s.Source, s.Project, s.Title, s.Model,
		s.StartedAt, s.EndedAt, s.MessageCount,
		s.UserMessageCount, s.TokensUsed, s.ForkedFrom,
		s.FilePath, s.FileSize, s.FileMtime, s.FileHash)
	if err != nil {
		return fmt.Errorf("upserting session %s: %w", s.SessionKey, err)
	}
	return nil
}

// SetStarred flags or unflags a session.
func (db *DB) SetStarred(key string, starred bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.writer.Exec(
		"UPDATE sessions SET starred = ? WHERE session_key = ?",
		starred, key,
	)
	if err != nil {
		return fmt.Errorf("starring session %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return nil
}

// RegisterFork records fork lineage for a session that may not
// have been ingested yet. A stub row carries the link until sync
// fills in the rest; an existing link is never overwritten.
func (db *DB) RegisterFork(key, source, parentKey, filePath string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.writer.Exec(`
		INSERT INTO sessions (session_key, source, forked_from, file_path)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			forked_from = COALESCE(sessions.forked_from, excluded.forked_from)`,
		key, source, parentKey, filePath)
	if err != nil {
		return fmt.Errorf("registering fork %s: %w", key, err)
	}
	return nil
}

// PreservedMeta is the per-session state that must survive a
// full rebuild.
type PreservedMeta struct {
	Starred    bool
	ForkedFrom *string
}

// SnapshotPreserved captures starred flags and fork lineage by
// session key before a rebuild wipes the tables.
func (db *DB) SnapshotPreserved() (map[string]PreservedMeta, error) {
	rows, err := db.reader.Query(`
		SELECT session_key, starred, forked_from FROM sessions
		WHERE starred = 1 OR forked_from IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("snapshotting session meta: %w", err)
	}
	defer rows.Close()

	snap := make(map[string]PreservedMeta)
	for rows.Next() {
		var key string
		var m PreservedMeta
		if err := rows.Scan(&key, &m.Starred, &m.ForkedFrom); err != nil {
			return nil, fmt.Errorf("scanning session meta: %w", err)
		}
		snap[key] = m
	}
	return snap, rows.Err()
}

// RestorePreserved reapplies a SnapshotPreserved result after
// rebuild re-ingestion. Keys whose sessions did not come back are
// ignored.
func (db *DB) RestorePreserved(snap map[string]PreservedMeta) error {
	return db.Update(func(tx *sql.Tx) error {
		for key, m := range snap {
			if _, err := tx.Exec(
				`UPDATE sessions SET starred = ?,
					forked_from = COALESCE(forked_from, ?)
				 WHERE session_key = ?`,
				m.Starred, m.ForkedFrom, key,
			); err != nil {
				return fmt.Errorf("restoring session meta %s: %w", key, err)
			}
		}
		return nil
	})
}

// SourceInfo holds a source name and its session count.
type SourceInfo struct {
	Name         string `json:"name"`
	SessionCount int    `json:"session_count"`
}

// GetSources returns source names with session counts.
func (db *DB) GetSources(ctx context.Context) ([]SourceInfo, error) {
	rows, err := db.reader.QueryContext(ctx, `
		SELECT source, COUNT(*) FROM sessions
		WHERE message_count > 0
		GROUP BY source
		ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	var sources []SourceInfo
	for rows.Next() {
		var s SourceInfo
		if err := rows.Scan(&s.Name, &s.SessionCount); err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// ProjectInfo holds a project name and its session count.
type ProjectInfo struct {
	Name         string `json:"name"`
	SessionCount int    `json:"session_count"`
}

// GetProjects returns project names with session counts,
// optionally limited to one source.
func (db *DB) GetProjects(
	ctx context.Context, source string,
) ([]ProjectInfo, error) {
	query := `
		SELECT project, COUNT(*) FROM sessions
		WHERE message_count > 0`
	var args []any
	if source != "" {
		query += " AND source = ?"
		args = append(args, source)
	}
	query += `
		GROUP BY project
		ORDER BY project`

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var projects []ProjectInfo
	for rows.Next() {
		var p ProjectInfo
		if err := rows.Scan(&p.Name, &p.SessionCount); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// sessionKeysForFileTx returns the keys of sessions derived from
// path, including per-row sessions of a store file (virtual paths
// of the form path#rowKey).
func sessionKeysForFileTx(tx *sql.Tx, path string) ([]string, error) {
	rows, err := tx.Query(
		`SELECT session_key FROM sessions
		 WHERE file_path = ? OR file_path LIKE ? ESCAPE '\'`,
		path, escapeLike(path)+"#%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// deleteSessionsTx removes sessions (messages cascade) in
// batches of 500 to stay under SQLite variable limits.
func deleteSessionsTx(tx *sql.Tx, keys []string) (int, error) {
	total := 0
	const batchSize = 500
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		batch := keys[i:end]

		args := make([]any, len(batch))
		for j, k := range batch {
			args[j] = k
		}
		placeholders := strings.Repeat(",?", len(batch))[1:]

		res, err := tx.Exec(
			"DELETE FROM sessions WHERE session_key IN ("+placeholders+")",
			args...,
		)
		if err != nil {
			return 0, fmt.Errorf("deleting session batch: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// markOrphanedTx flags sessions from a deleted file without
// removing them (orphan policy "keep").
func markOrphanedTx(tx *sql.Tx, keys []string) error {
	for _, k := range keys {
		if _, err := tx.Exec(
			"UPDATE sessions SET orphaned = 1 WHERE session_key = ?", k,
		); err != nil {
			return fmt.Errorf("marking session %s orphaned: %w", k, err)
		}
	}
	return nil
}

// escapeLike escapes SQL LIKE wildcard characters so input is
// matched literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`, `%`, `\%`, `_`, `\_`,
	)
	return r.Replace(s)
}
