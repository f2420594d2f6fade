package parser

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func mkfile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
}

func TestDiscoverClaudeProjects(t *testing.T) {
	root := t.TempDir()
	mkfile(t, filepath.Join(root, "-home-u-alpha", "s1.jsonl"))
	mkfile(t, filepath.Join(root, "-home-u-alpha", "s2.jsonl"))
	mkfile(t, filepath.Join(root, "-home-u-beta", "s3.jsonl"))
	mkfile(t, filepath.Join(root, "-home-u-beta", "notes.txt"))
	mkfile(t, filepath.Join(root, "stray.jsonl"))

	files := DiscoverClaudeProjects(root)
	require.Len(t, files, 3)
	require.Equal(t, "-home-u-alpha", files[0].Project)
	require.Equal(t, SourceClaude, files[0].Source)

	require.Empty(t, DiscoverClaudeProjects(filepath.Join(root, "nope")))
}

func TestFindClaudeSourceFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "-home-u-proj", "abc-123.jsonl")
	mkfile(t, path)

	require.Equal(t, path, FindClaudeSourceFile(root, "abc-123"))
	require.Empty(t, FindClaudeSourceFile(root, "missing"))
	require.Empty(t, FindClaudeSourceFile(root, "../escape"))
}

func TestDiscoverCodexSessions(t *testing.T) {
	root := t.TempDir()
	mkfile(t, filepath.Join(root, "2026", "01", "02", "rollout-a.jsonl"))
	mkfile(t, filepath.Join(root, "2026", "01", "03", "rollout-b.jsonl"))
	mkfile(t, filepath.Join(root, "2026", "01", "notes", "skip.jsonl"))
	mkfile(t, filepath.Join(root, "archive", "01", "02", "skip.jsonl"))

	files := DiscoverCodexSessions(root)
	require.Len(t, files, 2)
	require.Equal(t, SourceCodex, files[0].Source)
}

func TestFindCodexSourceFile(t *testing.T) {
	root := t.TempDir()
	id := "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	path := filepath.Join(root, "2026", "01", "02",
		"rollout-2026-01-02T10-00-00-"+id+".jsonl")
	mkfile(t, path)

	require.Equal(t, path, FindCodexSourceFile(root, id))
	require.Empty(t, FindCodexSourceFile(root,
		"11111111-2222-3333-4444-555555555555"))
}

func TestExtractUUIDFromRollout(t *testing.T) {
	id := "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	require.Equal(t, id, extractUUIDFromRollout(
		"rollout-2026-01-02T10-00-00-"+id+".jsonl"))
	require.Empty(t, extractUUIDFromRollout("rollout-no-uuid.jsonl"))
	require.Empty(t, extractUUIDFromRollout("other.jsonl"))
}

func TestDiscoverCursorStores(t *testing.T) {
	root := t.TempDir()
	mkfile(t, filepath.Join(root, "state.vscdb"))
	mkfile(t, filepath.Join(root, "ws1", "store.db"))
	mkfile(t, filepath.Join(root, "ws2", "state.vscdb"))
	mkfile(t, filepath.Join(root, "ws2", "other.db"))

	files := DiscoverCursorStores(root)
	require.Len(t, files, 3)
	for _, f := range files {
		require.Equal(t, SourceCursor, f.Source)
	}

	require.Empty(t, DiscoverCursorStores(""))
}

func TestDiscoverCursorStoresSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	mkfile(t, filepath.Join(outside, "store.db"))

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ws"), 0o755))
	require.NoError(t, os.Symlink(
		filepath.Join(outside, "store.db"),
		filepath.Join(root, "ws", "store.db")))

	require.Empty(t, DiscoverCursorStores(root))
}

func TestDiscoverAiderHistories(t *testing.T) {
	root := t.TempDir()
	mkfile(t, filepath.Join(root, ".aider.chat.history.md"))
	mkfile(t, filepath.Join(root, "repo-a", ".aider.chat.history.md"))
	mkfile(t, filepath.Join(root, "repo-b", "unrelated.md"))

	files := DiscoverAiderHistories(root)
	require.Len(t, files, 2)
	require.Equal(t, SourceAider, files[0].Source)
}

func TestDiscoverGeminiSessions(t *testing.T) {
	root := t.TempDir()
	projectPath := "/home/u/proj"
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(projectPath)))

	require.NoError(t, os.WriteFile(
		filepath.Join(root, "projects.json"),
		fmt.Appendf(nil, `{"projects":{%q:"id"}}`, projectPath), 0o644))

	mkfile(t, filepath.Join(root, "tmp", hash, "chats", "session-1.json"))
	mkfile(t, filepath.Join(root, "tmp", "plain-dir", "chats",
		"session-2.json"))
	mkfile(t, filepath.Join(root, "tmp", hash, "chats", "logs.txt"))

	files := DiscoverGeminiSessions(root)
	require.Len(t, files, 2)

	byPath := make(map[string]DiscoveredFile, len(files))
	for _, f := range files {
		byPath[filepath.Base(f.Path)] = f
	}
	require.Equal(t, projectPath, byPath["session-1.json"].Project)
	// Plain directory names stand for themselves.
	require.Equal(t, "plain-dir", byPath["session-2.json"].Project)
}

func TestFindGeminiSourceFile(t *testing.T) {
	root := t.TempDir()
	id := "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	path := filepath.Join(root, "tmp", "h1", "chats",
		"session-"+id[:8]+".json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path,
		fmt.Appendf(nil, `{"sessionId":%q}`, id), 0o644))

	require.Equal(t, path, FindGeminiSourceFile(root, id))
	require.Empty(t, FindGeminiSourceFile(root,
		"11111111-2222-3333-4444-555555555555"))
	require.Empty(t, FindGeminiSourceFile(root, "short"))
}

func TestResolveGeminiProject(t *testing.T) {
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte("/p")))
	pm := map[string]string{hash: "/p"}

	require.Equal(t, "/p", ResolveGeminiProject(hash, pm))
	require.Equal(t, "plain", ResolveGeminiProject("plain", pm))

	unmapped := fmt.Sprintf("%x", sha256.Sum256([]byte("/other")))
	require.Empty(t, ResolveGeminiProject(unmapped, pm))
}

func TestIsDigits(t *testing.T) {
	require.True(t, IsDigits("2026"))
	require.False(t, IsDigits(""))
	require.False(t, IsDigits("20a6"))
}

func TestIsValidSessionID(t *testing.T) {
	require.True(t, IsValidSessionID("abc-123_X"))
	require.False(t, IsValidSessionID(""))
	require.False(t, IsValidSessionID("../../etc/passwd"))
	require.False(t, IsValidSessionID("a b"))
}

func TestIsRegularFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	mkfile(t, file)

	require.True(t, IsRegularFile(file))
	require.False(t, IsRegularFile(dir))
	require.False(t, IsRegularFile(filepath.Join(dir, "missing")))
}
