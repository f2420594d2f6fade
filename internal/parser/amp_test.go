package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/promptdex/promptdex/internal/testlogs"
)

const ampFixtureMs = int64(1767348000000) // 2026-01-02T10:00:00Z

func TestParseAmpFile(t *testing.T) {
	content := testlogs.AmpThreadJSON(
		"T-0196a", "", "file:///home/u/proj", ampFixtureMs,
		[]map[string]any{
			testlogs.AmpMsg("user", ampFixtureMs+1000,
				testlogs.AmpTextBlock("explain the sync engine")),
			testlogs.AmpMsg("assistant", ampFixtureMs+5000,
				testlogs.AmpTextBlock("It runs in three tiers."),
				map[string]any{"type": "tool_use", "name": "Read",
					"input": map[string]any{"file_path": "engine.go"}}),
		},
	)
	path := writeTranscript(t, "T-0196a.json", content)

	results, err := ParseAmpFile(path)
	require.NoError(t, err)
	require.Len(t, results, 1)

	sess := results[0].Session
	require.Equal(t, "amp:T-0196a", sess.Key)
	require.Equal(t, SourceAmp, sess.Source)
	require.Equal(t, "/home/u/proj", sess.Project)
	require.Equal(t, "explain the sync engine", sess.Title)
	require.Equal(t, 2, sess.MessageCount)
	require.Equal(t, 1, sess.UserMessageCount)

	// created (epoch ms) is the authoritative start.
	require.Equal(t, "2026-01-02T10:00:00Z",
		sess.StartedAt.UTC().Format("2006-01-02T15:04:05Z"))

	msgs := results[0].Messages
	require.Equal(t, RoleUser, msgs[0].Role)
	require.Equal(t, RoleAssistant, msgs[1].Role)
	require.Contains(t, msgs[1].Content, "[Read: engine.go]")
	require.Equal(t, "Read", msgs[1].Meta["tools"])
}

func TestParseAmpFileTitleWins(t *testing.T) {
	content := testlogs.AmpThreadJSON(
		"T-1", "rework the watcher", "", ampFixtureMs,
		[]map[string]any{
			testlogs.AmpMsg("user", 0, testlogs.AmpTextBlock("hi")),
		},
	)
	path := writeTranscript(t, "T-1.json", content)

	results, err := ParseAmpFile(path)
	require.NoError(t, err)
	require.Equal(t, "rework the watcher", results[0].Session.Title)
}

func TestParseAmpFileEmptyThreadSkipped(t *testing.T) {
	content := testlogs.AmpThreadJSON(
		"T-2", "", "", ampFixtureMs, nil,
	)
	path := writeTranscript(t, "T-2.json", content)

	results, err := ParseAmpFile(path)
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestParseAmpFileMissingID(t *testing.T) {
	path := writeTranscript(t, "T-3.json", `{"messages":[]}`)

	_, err := ParseAmpFile(path)
	require.ErrorIs(t, err, ErrParse)
}

func TestParseAmpFileInvalidJSON(t *testing.T) {
	path := writeTranscript(t, "T-4.json", "{broken")

	_, err := ParseAmpFile(path)
	require.ErrorIs(t, err, ErrParse)
}

func TestFileURIPath(t *testing.T) {
	require.Equal(t, "/home/u/proj",
		fileURIPath("file:///home/u/proj"))
	require.Equal(t, "/home/u/my proj",
		fileURIPath("file:///home/u/my%20proj"))
	require.Empty(t, fileURIPath("https://example.com/x"))
	require.Empty(t, fileURIPath(""))
}

func TestDiscoverAmpThreads(t *testing.T) {
	root := t.TempDir()
	threads := filepath.Join(root, "threads")
	require.NoError(t, os.MkdirAll(threads, 0o755))

	for _, name := range []string{
		"T-b.json", "T-a.json", "notes.txt", "U-x.json",
	} {
		require.NoError(t, os.WriteFile(
			filepath.Join(threads, name), []byte("{}"), 0o644))
	}

	files := DiscoverAmpThreads(root)
	require.Len(t, files, 2)
	require.Equal(t, filepath.Join(threads, "T-a.json"), files[0].Path)
	require.Equal(t, filepath.Join(threads, "T-b.json"), files[1].Path)
	require.Equal(t, SourceAmp, files[0].Source)

	require.Empty(t, DiscoverAmpThreads(t.TempDir()))
	require.Empty(t, DiscoverAmpThreads(""))
}

func TestFindAmpSourceFile(t *testing.T) {
	root := t.TempDir()
	threads := filepath.Join(root, "threads")
	require.NoError(t, os.MkdirAll(threads, 0o755))
	path := filepath.Join(threads, "T-abc.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	require.Equal(t, path, FindAmpSourceFile(root, "T-abc"))
	require.Empty(t, FindAmpSourceFile(root, "T-missing"))
	require.Empty(t, FindAmpSourceFile(root, "../escape"))
}
