package db

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	selectMessageCols = `id, session_key, ordinal, role, content,
		timestamp, meta`

	// DefaultMessageLimit is the default number of messages returned.
	DefaultMessageLimit = 100
	// MaxMessageLimit is the maximum number of messages returned.
	MaxMessageLimit = 1000
)

// Message represents a row in the messages table. Meta is a JSON
// object carrying source-specific annotations (thinking, tools)
// or empty.
type Message struct {
	ID         int64  `json:"id"`
	SessionKey string `json:"session_key"`
	Ordinal    int    `json:"ordinal"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp,omitempty"`
	Meta       string `json:"meta,omitempty"`
}

// GetMessages returns paginated messages for a session starting
// at ordinal from (inclusive), ascending.
func (db *DB) GetMessages(
	ctx context.Context, sessionKey string, from, limit int,
) ([]Message, error) {
	if limit <= 0 || limit > MaxMessageLimit {
		limit = DefaultMessageLimit
	}

	rows, err := db.reader.QueryContext(ctx, `
		SELECT `+selectMessageCols+`
		FROM messages
		WHERE session_key = ? AND ordinal >= ?
		ORDER BY ordinal ASC
		LIMIT ?`, sessionKey, from, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetTranscript returns all messages for a session in ordinal
// order.
func (db *DB) GetTranscript(
	ctx context.Context, sessionKey string,
) ([]Message, error) {
	rows, err := db.reader.QueryContext(ctx, `
		SELECT `+selectMessageCols+`
		FROM messages
		WHERE session_key = ?
		ORDER BY ordinal ASC`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("querying transcript: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// insertMessagesTx batch-inserts messages within an existing
// transaction.
func insertMessagesTx(tx *sql.Tx, msgs []Message) error {
	stmt, err := tx.Prepare(`
		INSERT INTO messages
			(session_key, ordinal, role, content, timestamp, meta)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing message insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.Exec(
			m.SessionKey, m.Ordinal, m.Role, m.Content,
			nilIfEmpty(m.Timestamp), nilIfEmpty(m.Meta),
		); err != nil {
			return fmt.Errorf(
				"inserting message ord=%d: %w", m.Ordinal, err,
			)
		}
	}
	return nil
}

// replaceMessagesTx deletes a session's existing messages and
// inserts the new set within an existing transaction, so a
// re-ingested file swaps atomically with the session row update.
func replaceMessagesTx(
	tx *sql.Tx, sessionKey string, msgs []Message,
) error {
	if _, err := tx.Exec(
		"DELETE FROM messages WHERE session_key = ?", sessionKey,
	); err != nil {
		return fmt.Errorf("deleting old messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}
	return insertMessagesTx(tx, msgs)
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var ts, meta sql.NullString
		err := rows.Scan(
			&m.ID, &m.SessionKey, &m.Ordinal, &m.Role,
			&m.Content, &ts, &meta,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Timestamp = ts.String
		m.Meta = meta.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of messages for a session.
func (db *DB) MessageCount(sessionKey string) (int, error) {
	var count int
	err := db.reader.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE session_key = ?",
		sessionKey,
	).Scan(&count)
	return count, err
}
