package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSourceByType(t *testing.T) {
	def, ok := SourceByType(SourceCursor)
	require.True(t, ok)
	require.Equal(t, "cursor:", def.KeyPrefix)

	_, ok = SourceByType(SourceType("vim"))
	require.False(t, ok)
}

func TestSourceByPrefix(t *testing.T) {
	cases := map[string]SourceType{
		"codex:abc":          SourceCodex,
		"cursor:composer-1":  SourceCursor,
		"aider:history-2026": SourceAider,
		"gemini:abc":         SourceGemini,
		"amp:T-123":          SourceAmp,
		"0196a-bare-uuid":    SourceClaude,
	}
	for key, want := range cases {
		def, ok := SourceByPrefix(key)
		require.True(t, ok, key)
		require.Equal(t, want, def.Type, key)
	}

	// A colon without a known prefix matches nothing, not Claude.
	_, ok := SourceByPrefix("unknown:abc")
	require.False(t, ok)
}

func TestStripKeyPrefix(t *testing.T) {
	codex, _ := SourceByType(SourceCodex)
	require.Equal(t, "abc", StripKeyPrefix(codex, "codex:abc"))

	claude, _ := SourceByType(SourceClaude)
	require.Equal(t, "abc", StripKeyPrefix(claude, "abc"))
}

func TestRegistryKeyPrefixesUnique(t *testing.T) {
	seen := make(map[string]SourceType)
	for _, def := range Registry {
		prev, dup := seen[def.KeyPrefix]
		require.False(t, dup,
			"prefix %q used by %s and %s", def.KeyPrefix, prev, def.Type)
		seen[def.KeyPrefix] = def.Type
		require.NotNil(t, def.DiscoverFunc, def.Type)
	}
}

func TestFinalizeResult(t *testing.T) {
	ts := func(s string) time.Time {
		parsed, err := time.Parse(time.RFC3339, s)
		require.NoError(t, err)
		return parsed
	}

	res := ParseResult{
		Messages: []ParsedMessage{
			{Role: RoleAssistant, Content: "preamble"},
			{Role: RoleUser, Content: "first\nquestion",
				Timestamp: ts("2026-01-02T10:05:00Z")},
			{Role: RoleAssistant, Content: "answer",
				Timestamp: ts("2026-01-02T10:00:00Z")},
		},
	}
	FinalizeResult(&res)

	require.Equal(t, 3, res.Session.MessageCount)
	require.Equal(t, 1, res.Session.UserMessageCount)
	require.Equal(t, "first question", res.Session.Title)
	require.Equal(t, []int{0, 1, 2}, []int{
		res.Messages[0].Ordinal,
		res.Messages[1].Ordinal,
		res.Messages[2].Ordinal,
	})
	// Bounds come from timestamps, not message order.
	require.Equal(t, ts("2026-01-02T10:00:00Z"), res.Session.StartedAt)
	require.Equal(t, ts("2026-01-02T10:05:00Z"), res.Session.EndedAt)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", Truncate("short", 10))
	require.Equal(t, "spaced", Truncate("  spaced  ", 10))

	long := strings.Repeat("ab", 200)
	got := Truncate(long, 10)
	require.Equal(t, long[:10]+"...", got)

	// Rune-aware: multibyte input is not split mid-rune.
	require.Equal(t, "héllo...", Truncate("héllo wörld", 5))
}
