package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/promptdex/promptdex/internal/testlogs"
)

func TestParseGeminiFile(t *testing.T) {
	content := testlogs.GeminiSessionJSON(
		"sess-1", "deadbeef",
		"2026-01-02T10:00:00Z", "2026-01-02T11:00:00Z",
		[]map[string]any{
			testlogs.GeminiMsg("user", "2026-01-02T10:00:01Z",
				"summarize this repo"),
			testlogs.GeminiMsg("gemini", "2026-01-02T10:00:05Z",
				"It is a CLI for notes."),
			testlogs.GeminiMsg("info", "2026-01-02T10:00:06Z",
				"model switched"),
			testlogs.GeminiMsg("debug", "2026-01-02T10:00:07Z",
				"internal noise"),
		},
	)
	path := writeTranscript(t, "session-1.json", content)

	results, err := ParseGeminiFile(path, "/home/u/proj")
	require.NoError(t, err)
	require.Len(t, results, 1)

	sess := results[0].Session
	require.Equal(t, "gemini:sess-1", sess.Key)
	require.Equal(t, SourceGemini, sess.Source)
	require.Equal(t, "/home/u/proj", sess.Project)
	require.Equal(t, "summarize this repo", sess.Title)

	// Document-level bounds win over message timestamps.
	require.Equal(t, "2026-01-02T10:00:00Z",
		sess.StartedAt.UTC().Format("2006-01-02T15:04:05Z"))
	require.Equal(t, "2026-01-02T11:00:00Z",
		sess.EndedAt.UTC().Format("2006-01-02T15:04:05Z"))

	msgs := results[0].Messages
	require.Len(t, msgs, 3)
	require.Equal(t, RoleUser, msgs[0].Role)
	require.Equal(t, RoleAssistant, msgs[1].Role)
	require.Equal(t, RoleSystem, msgs[2].Role)
}

func TestParseGeminiFileWarnsOnUnknownType(t *testing.T) {
	content := testlogs.GeminiSessionJSON(
		"sess-3", "deadbeef",
		"2026-01-02T10:00:00Z", "2026-01-02T10:01:00Z",
		[]map[string]any{
			testlogs.GeminiMsg("user", "2026-01-02T10:00:01Z", "hi"),
			testlogs.GeminiMsg("debug", "2026-01-02T10:00:02Z", "noise"),
		},
	)
	path := writeTranscript(t, "session-3.json", content)

	buf := captureLog(t)
	results, err := ParseGeminiFile(path, "")
	require.NoError(t, err)
	require.Len(t, results[0].Messages, 1)
	require.Contains(t, buf.String(), "unknown message type")
	require.Contains(t, buf.String(), `"debug"`)
}

func TestParseGeminiFileMissingSessionID(t *testing.T) {
	path := writeTranscript(t, "session-x.json", `{"messages":[]}`)

	_, err := ParseGeminiFile(path, "")
	require.ErrorIs(t, err, ErrParse)
}

func TestParseGeminiFileInvalidJSON(t *testing.T) {
	path := writeTranscript(t, "session-x.json", "{broken")

	_, err := ParseGeminiFile(path, "")
	require.ErrorIs(t, err, ErrParse)
}

func TestExtractGeminiContentThoughtsAndTools(t *testing.T) {
	content := testlogs.GeminiSessionJSON(
		"sess-2", "deadbeef",
		"2026-01-02T10:00:00Z", "2026-01-02T10:01:00Z",
		[]map[string]any{
			{
				"type":      "gemini",
				"timestamp": "2026-01-02T10:00:05Z",
				"thoughts": []map[string]any{
					{"subject": "Plan", "description": "read the file first"},
				},
				"content": "Reading it now.",
				"toolCalls": []map[string]any{
					{"name": "read_file",
						"args": map[string]any{"file_path": "main.go"}},
					{"name": "run_command",
						"args": map[string]any{"command": "go vet ./..."}},
				},
			},
		},
	)
	path := writeTranscript(t, "session-2.json", content)

	results, err := ParseGeminiFile(path, "")
	require.NoError(t, err)

	msg := results[0].Messages[0]
	require.Contains(t, msg.Content, "[Thinking]\nPlan\nread the file first")
	require.Contains(t, msg.Content, "Reading it now.")
	require.Contains(t, msg.Content, "[Read: main.go]")
	require.Contains(t, msg.Content, "[Bash]\n$ go vet ./...")
	require.Equal(t, "true", msg.Meta["thinking"])
	require.Equal(t, "read_file,run_command", msg.Meta["tools"])
}

func TestGeminiSessionID(t *testing.T) {
	require.Equal(t, "abc",
		GeminiSessionID([]byte(`{"sessionId":"abc"}`)))
	require.Empty(t, GeminiSessionID([]byte(`{}`)))
}
