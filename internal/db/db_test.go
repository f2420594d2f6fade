package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func strPtr(s string) *string { return &s }

// testSession returns a minimal valid session row for key.
func testSession(key string) Session {
	return Session{
		SessionKey:       key,
		Source:           "claude",
		Project:          "/home/u/proj",
		Title:            "test session",
		StartedAt:        strPtr("2026-01-02T10:00:00Z"),
		EndedAt:          strPtr("2026-01-02T10:05:00Z"),
		MessageCount:     2,
		UserMessageCount: 1,
		FilePath:         "/logs/" + key + ".jsonl",
		FileSize:         100,
		FileMtime:        1700000000,
		FileHash:         "abc",
	}
}

func testMessages(key string) []Message {
	return []Message{
		{SessionKey: key, Ordinal: 0, Role: "user",
			Content: "hello there", Timestamp: "2026-01-02T10:00:00Z"},
		{SessionKey: key, Ordinal: 1, Role: "assistant",
			Content: "general reply", Timestamp: "2026-01-02T10:05:00Z"},
	}
}

func ingestSession(t *testing.T, d *DB, key string) {
	t.Helper()
	s := testSession(key)
	err := d.ReplaceFileSessions(
		FileState{Path: s.FilePath, Source: s.Source,
			Size: s.FileSize, Mtime: s.FileMtime, Hash: s.FileHash,
			Outcome: OutcomeImported},
		[]SessionIngest{{Session: s, Messages: testMessages(key)}},
	)
	require.NoError(t, err)
}

func TestOpenCreatesSchema(t *testing.T) {
	d := openTestDB(t)

	var version int
	err := d.reader.QueryRow(
		"SELECT version FROM schema_version",
	).Scan(&version)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, version)
}

func TestOpenRefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	d, err := Open(path)
	require.NoError(t, err)
	_, err = d.writer.Exec(
		"UPDATE schema_version SET version = ?", SchemaVersion+1,
	)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = Open(path)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrStorage)
	require.Contains(t, err.Error(), "newer than supported")
}

func TestMigrateFromV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	d, err := Open(path)
	require.NoError(t, err)
	// Simulate a v1 database: version 1 with the v2 columns absent
	// is hard to reproduce against the current schema.sql, so just
	// check the migration step is idempotent over existing columns.
	_, err = d.writer.Exec("UPDATE schema_version SET version = 1")
	require.NoError(t, err)
	require.NoError(t, d.Close())

	d, err = Open(path)
	require.NoError(t, err)
	defer d.Close()

	var version int
	require.NoError(t, d.reader.QueryRow(
		"SELECT version FROM schema_version",
	).Scan(&version))
	require.Equal(t, SchemaVersion, version)
}

func TestEnsureColumn(t *testing.T) {
	d := openTestDB(t)

	require.NoError(t, d.ensureColumn("sessions", "extra", "TEXT"))
	// Second call is a no-op.
	require.NoError(t, d.ensureColumn("sessions", "extra", "TEXT"))

	var count int
	require.NoError(t, d.writer.QueryRow(
		"SELECT count(*) FROM pragma_table_info('sessions')"+
			" WHERE name='extra'",
	).Scan(&count))
	require.Equal(t, 1, count)
}

func TestStatsTriggers(t *testing.T) {
	d := openTestDB(t)
	ingestSession(t, d, "s1")
	ingestSession(t, d, "s2")

	info, err := d.GetInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, info.SessionCount)
	require.Equal(t, 4, info.MessageCount)
	require.Equal(t, 2, info.FileCount)

	_, err = d.RemoveFile("/logs/s1.jsonl", true)
	require.NoError(t, err)

	info, err = d.GetInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, info.SessionCount)
	require.Equal(t, 2, info.MessageCount)
	require.Equal(t, 1, info.FileCount)
}
