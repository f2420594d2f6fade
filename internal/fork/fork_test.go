package fork

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/promptdex/promptdex/internal/db"
	"github.com/promptdex/promptdex/internal/parser"
	"github.com/promptdex/promptdex/internal/sync"
	"github.com/promptdex/promptdex/internal/testlogs"
)

var uuidRe = regexp.MustCompile(
	`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`,
)

func TestNewUUIDShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newUUID()
		require.Regexp(t, uuidRe, id)
		require.False(t, seen[id], "uuid collision")
		seen[id] = true
	}
}

func forkFixture(
	t *testing.T, launchers map[parser.SourceType]string,
) (*Forker, *db.DB, map[parser.SourceType]string) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	roots := map[parser.SourceType]string{
		parser.SourceClaude: t.TempDir(),
		parser.SourceCodex:  t.TempDir(),
	}
	dirs := make(map[parser.SourceType][]string)
	for src, root := range roots {
		dirs[src] = []string{root}
	}
	engine := sync.NewEngine(d, dirs, false)
	return New(d, engine, launchers), d, roots
}

func writeClaudeSession(t *testing.T, root, id string) string {
	t.Helper()
	dir := filepath.Join(root, "-home-u-proj")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, id+".jsonl")

	lines := []string{
		`{"type":"user","sessionId":"` + id + `","timestamp":"2026-01-02T10:00:00Z","cwd":"/home/u/proj","message":{"content":"hello"}}`,
		`{"type":"assistant","sessionId":"` + id + `","timestamp":"2026-01-02T10:01:00Z","message":{"content":[{"type":"text","text":"hi"}]}}`,
	}
	require.NoError(t, os.WriteFile(
		path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestForkClaudeSession(t *testing.T) {
	f, d, roots := forkFixture(t, nil)
	parentID := "11111111-2222-4333-8444-555555555555"
	writeClaudeSession(t, roots[parser.SourceClaude], parentID)

	res, err := f.Fork(parentID)
	require.NoError(t, err)
	require.Regexp(t, uuidRe, res.SessionKey)
	require.NotEqual(t, parentID, res.SessionKey)
	require.Equal(t, parentID, res.ParentKey)
	require.Equal(t,
		"claude --resume "+res.SessionKey+" --fork-session",
		res.ResumeCommand)

	// The copy sits next to the original, named by the new ID.
	require.Equal(t,
		filepath.Join(roots[parser.SourceClaude],
			"-home-u-proj", res.SessionKey+".jsonl"),
		res.Path)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		require.Equal(t, res.SessionKey,
			gjson.Get(line, "sessionId").String())
	}

	// Lineage is registered before any sync sees the file.
	sess, err := d.GetSession(context.Background(), res.SessionKey)
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.NotNil(t, sess.ForkedFrom)
	require.Equal(t, parentID, *sess.ForkedFrom)
}

func TestForkCodexSession(t *testing.T) {
	f, d, roots := forkFixture(t, nil)
	parentID := "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee"

	dayDir := filepath.Join(roots[parser.SourceCodex], "2026", "01", "02")
	require.NoError(t, os.MkdirAll(dayDir, 0o755))
	src := filepath.Join(dayDir,
		"rollout-2026-01-02T10-00-00-"+parentID+".jsonl")
	content := testlogs.NewSessionBuilder().
		AddCodexMeta("2026-01-02T10:00:00Z", parentID,
			"/home/u/proj", "codex").
		AddCodexEvent("2026-01-02T10:00:01Z", "user_message", "hi").
		String()
	require.NoError(t, os.WriteFile(src, []byte(content), 0o644))

	res, err := f.Fork("codex:" + parentID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.SessionKey, "codex:"))
	newID := strings.TrimPrefix(res.SessionKey, "codex:")
	require.Regexp(t, uuidRe, newID)
	require.Equal(t, "codex resume "+newID, res.ResumeCommand)

	// The copy lands in a dated directory under the codex root
	// with the new ID in both filename and session_meta.
	rel, err := filepath.Rel(roots[parser.SourceCodex], res.Path)
	require.NoError(t, err)
	parts := strings.Split(rel, string(filepath.Separator))
	require.Len(t, parts, 4)
	require.Contains(t, parts[3], newID)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.Equal(t, newID,
		gjson.Get(strings.Split(string(data), "\n")[0], "payload.id").String())

	sess, err := d.GetSession(context.Background(), res.SessionKey)
	require.NoError(t, err)
	require.Equal(t, "codex:"+parentID, *sess.ForkedFrom)
}

func TestForkPreservesUntouchedRecordBytes(t *testing.T) {
	f, _, roots := forkFixture(t, nil)
	parentID := "11111111-2222-4333-8444-555555555555"
	dir := filepath.Join(roots[parser.SourceClaude], "-home-u-proj")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, parentID+".jsonl")

	// Key order, a counter above 2^53, and the trailing zero on
	// the cost all have to survive the copy byte for byte.
	user := `{"type":"user","sessionId":"` + parentID +
		`","timestamp":"2026-01-02T10:00:00Z","message":{"content":"hello"}}`
	assistant := `{"usage":{"total_tokens":9007199254740993,"cost":1.50},` +
		`"type":"assistant","timestamp":"2026-01-02T10:01:00Z",` +
		`"message":{"content":"hi"}}`
	require.NoError(t, os.WriteFile(path,
		[]byte(user+"\n"+assistant+"\n"), 0o644))

	res, err := f.Fork(parentID)
	require.NoError(t, err)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.Equal(t,
		strings.Replace(user, parentID, res.SessionKey, 1), lines[0])
	require.Equal(t, assistant, lines[1])
}

func TestForkUnsupportedSource(t *testing.T) {
	f, _, _ := forkFixture(t, nil)

	_, err := f.Fork("cursor:abc123")
	require.ErrorIs(t, err, ErrUnsupportedSource)

	_, err = f.Fork("aider:repo-2026")
	require.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestForkMissingSourceFile(t *testing.T) {
	f, _, _ := forkFixture(t, nil)

	_, err := f.Fork("11111111-2222-4333-8444-555555555555")
	require.ErrorIs(t, err, ErrFork)
}

func TestForkLauncherOverride(t *testing.T) {
	f, _, roots := forkFixture(t, map[parser.SourceType]string{
		parser.SourceClaude: "npx claude --verbose",
	})
	parentID := "11111111-2222-4333-8444-555555555555"
	writeClaudeSession(t, roots[parser.SourceClaude], parentID)

	res, err := f.Fork(parentID)
	require.NoError(t, err)
	require.Equal(t,
		"npx claude --verbose --resume "+res.SessionKey+" --fork-session",
		res.ResumeCommand)
}
