package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/promptdex/promptdex/internal/parser"
)

func classifyEngine(t *testing.T) (*Engine, map[parser.SourceType]string) {
	t.Helper()
	roots := map[parser.SourceType]string{
		parser.SourceClaude: t.TempDir(),
		parser.SourceCodex:  t.TempDir(),
		parser.SourceCursor: t.TempDir(),
		parser.SourceAider:  t.TempDir(),
		parser.SourceGemini: t.TempDir(),
		parser.SourceAmp:    t.TempDir(),
	}
	dirs := make(map[parser.SourceType][]string, len(roots))
	for src, root := range roots {
		dirs[src] = []string{root}
	}
	return NewEngine(newTestDB(t), dirs, false), roots
}

func TestClassifyClaudePath(t *testing.T) {
	e, roots := classifyEngine(t)

	path := filepath.Join(roots[parser.SourceClaude], "-home-u-p", "s.jsonl")
	df, ok := e.classifyOnePath(path, nil)
	require.True(t, ok)
	require.Equal(t, parser.SourceClaude, df.Source)
	require.Equal(t, "-home-u-p", df.Project)

	// Wrong depth or extension is rejected.
	_, ok = e.classifyOnePath(
		filepath.Join(roots[parser.SourceClaude], "s.jsonl"), nil)
	require.False(t, ok)
	_, ok = e.classifyOnePath(
		filepath.Join(roots[parser.SourceClaude], "-home-u-p", "s.txt"), nil)
	require.False(t, ok)
}

func TestClassifyCodexPath(t *testing.T) {
	e, roots := classifyEngine(t)
	root := roots[parser.SourceCodex]

	df, ok := e.classifyOnePath(
		filepath.Join(root, "2026", "01", "02", "rollout-x.jsonl"), nil)
	require.True(t, ok)
	require.Equal(t, parser.SourceCodex, df.Source)

	_, ok = e.classifyOnePath(
		filepath.Join(root, "2026", "jan", "02", "rollout-x.jsonl"), nil)
	require.False(t, ok)
}

func TestClassifyCursorWALMapsToStore(t *testing.T) {
	e, roots := classifyEngine(t)
	root := roots[parser.SourceCursor]

	store := filepath.Join(root, "chats", "abc", "store.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(store), 0o755))
	require.NoError(t, os.WriteFile(store, []byte("x"), 0o644))

	df, ok := e.classifyOnePath(store+"-wal", nil)
	require.True(t, ok)
	require.Equal(t, store, df.Path)
	require.Equal(t, parser.SourceCursor, df.Source)

	// Sidecar without a store file is ignored.
	_, ok = e.classifyOnePath(
		filepath.Join(root, "other", "store.db-wal"), nil)
	require.False(t, ok)
}

func TestClassifyAiderPath(t *testing.T) {
	e, roots := classifyEngine(t)
	root := roots[parser.SourceAider]

	df, ok := e.classifyOnePath(
		filepath.Join(root, "repo", ".aider.chat.history.md"), nil)
	require.True(t, ok)
	require.Equal(t, parser.SourceAider, df.Source)
	require.Equal(t, filepath.Join(root, "repo"), df.Project)

	_, ok = e.classifyOnePath(
		filepath.Join(root, "repo", "notes.md"), nil)
	require.False(t, ok)
}

func TestClassifyGeminiPath(t *testing.T) {
	e, roots := classifyEngine(t)
	root := roots[parser.SourceGemini]

	maps := make(map[string]map[string]string)
	df, ok := e.classifyOnePath(filepath.Join(
		root, "tmp", "deadbeef", "chats", "session-1.json"), maps)
	require.True(t, ok)
	require.Equal(t, parser.SourceGemini, df.Source)

	_, ok = e.classifyOnePath(filepath.Join(
		root, "tmp", "deadbeef", "chats", "notes.json"), maps)
	require.False(t, ok)
}

func TestClassifyAmpPath(t *testing.T) {
	e, roots := classifyEngine(t)
	root := roots[parser.SourceAmp]

	df, ok := e.classifyOnePath(
		filepath.Join(root, "threads", "T-0196a.json"), nil)
	require.True(t, ok)
	require.Equal(t, parser.SourceAmp, df.Source)

	_, ok = e.classifyOnePath(
		filepath.Join(root, "threads", "settings.json"), nil)
	require.False(t, ok)
	_, ok = e.classifyOnePath(
		filepath.Join(root, "T-0196a.json"), nil)
	require.False(t, ok)
}

func TestClassifyPathsDeduplicates(t *testing.T) {
	e, roots := classifyEngine(t)
	root := roots[parser.SourceCursor]

	store := filepath.Join(root, "abc", "state.vscdb")
	require.NoError(t, os.MkdirAll(filepath.Dir(store), 0o755))
	require.NoError(t, os.WriteFile(store, []byte("x"), 0o644))

	files := e.classifyPaths([]string{store, store + "-wal", store + "-shm"})
	require.Len(t, files, 1)
	require.Equal(t, store, files[0].Path)
}
