package parser

import (
	"strings"
	"time"
)

// SourceType identifies the AI coding tool that produced a session.
type SourceType string

const (
	SourceClaude SourceType = "claude"
	SourceCodex  SourceType = "codex"
	SourceCursor SourceType = "cursor"
	SourceAider  SourceType = "aider"
	SourceGemini SourceType = "gemini"
	SourceAmp    SourceType = "amp"
)

// SourceDef describes a supported source's filesystem layout,
// configuration keys, and session key conventions.
type SourceDef struct {
	Type        SourceType
	DisplayName string   // "Claude Code", "Codex", etc.
	EnvVar      string   // env var for dir override
	ConfigKey   string   // JSON key in config.json
	DefaultDirs []string // paths relative to $HOME
	KeyPrefix   string   // session key prefix ("" for Claude)
	WatchSubdir string   // subdir to watch ("" = watch root)
	Forkable    bool     // supports writing continuation files

	// DiscoverFunc finds ingestable files under a root directory.
	DiscoverFunc func(string) []DiscoveredFile

	// FindSourceFunc locates a single session's source file given
	// a root directory and the raw session ID (prefix already
	// stripped). Nil for sources whose files carry many sessions.
	FindSourceFunc func(string, string) string
}

// Registry lists all supported sources. Order is stable and used
// for iteration in config, sync, and watcher setup.
var Registry = []SourceDef{
	{
		Type:           SourceClaude,
		DisplayName:    "Claude Code",
		EnvVar:         "CLAUDE_PROJECTS_DIR",
		ConfigKey:      "claude_project_dirs",
		DefaultDirs:    []string{".claude/projects"},
		KeyPrefix:      "",
		Forkable:       true,
		DiscoverFunc:   DiscoverClaudeProjects,
		FindSourceFunc: FindClaudeSourceFile,
	},
	{
		Type:           SourceCodex,
		DisplayName:    "Codex",
		EnvVar:         "CODEX_SESSIONS_DIR",
		ConfigKey:      "codex_sessions_dirs",
		DefaultDirs:    []string{".codex/sessions"},
		KeyPrefix:      "codex:",
		Forkable:       true,
		DiscoverFunc:   DiscoverCodexSessions,
		FindSourceFunc: FindCodexSourceFile,
	},
	{
		Type:         SourceCursor,
		DisplayName:  "Cursor",
		EnvVar:       "CURSOR_DIR",
		ConfigKey:    "cursor_dirs",
		DefaultDirs:  []string{".cursor"},
		KeyPrefix:    "cursor:",
		DiscoverFunc: DiscoverCursorStores,
	},
	{
		Type:         SourceAider,
		DisplayName:  "Aider",
		EnvVar:       "AIDER_HISTORY_DIR",
		ConfigKey:    "aider_dirs",
		DefaultDirs:  []string{},
		KeyPrefix:    "aider:",
		DiscoverFunc: DiscoverAiderHistories,
	},
	{
		Type:           SourceGemini,
		DisplayName:    "Gemini",
		EnvVar:         "GEMINI_DIR",
		ConfigKey:      "gemini_dirs",
		DefaultDirs:    []string{".gemini"},
		KeyPrefix:      "gemini:",
		WatchSubdir:    "tmp",
		DiscoverFunc:   DiscoverGeminiSessions,
		FindSourceFunc: FindGeminiSourceFile,
	},
	{
		Type:           SourceAmp,
		DisplayName:    "Amp",
		EnvVar:         "AMP_DATA_DIR",
		ConfigKey:      "amp_dirs",
		DefaultDirs:    []string{".local/share/amp"},
		KeyPrefix:      "amp:",
		WatchSubdir:    "threads",
		DiscoverFunc:   DiscoverAmpThreads,
		FindSourceFunc: FindAmpSourceFile,
	},
}

// SourceByType returns the SourceDef for the given type.
func SourceByType(t SourceType) (SourceDef, bool) {
	for _, def := range Registry {
		if def.Type == t {
			return def, true
		}
	}
	return SourceDef{}, false
}

// SourceByPrefix returns the SourceDef whose KeyPrefix matches the
// session key. For Claude (empty prefix), the match succeeds only
// when no other prefix matches and the key contains no colon.
func SourceByPrefix(sessionKey string) (SourceDef, bool) {
	for _, def := range Registry {
		if def.KeyPrefix != "" &&
			strings.HasPrefix(sessionKey, def.KeyPrefix) {
			return def, true
		}
	}
	if !strings.Contains(sessionKey, ":") {
		if def, ok := SourceByType(SourceClaude); ok {
			return def, true
		}
	}
	return SourceDef{}, false
}

// StripKeyPrefix returns the raw session ID with the source's key
// prefix removed.
func StripKeyPrefix(def SourceDef, sessionKey string) string {
	return strings.TrimPrefix(sessionKey, def.KeyPrefix)
}

// RoleType identifies the role of a message sender.
type RoleType string

const (
	RoleUser      RoleType = "user"
	RoleAssistant RoleType = "assistant"
	RoleSystem    RoleType = "system"
	RoleTool      RoleType = "tool"
)

// FileInfo holds file system metadata for an ingested source file.
// For Cursor store rows Path is a virtual path (store path plus a
// "#rowKey" suffix) so each conversation tracks independently.
type FileInfo struct {
	Path  string
	Size  int64
	Mtime int64
	Hash  string
}

// ParsedSession holds session metadata extracted from one source
// file (or one store row).
type ParsedSession struct {
	Key              string
	Project          string
	Source           SourceType
	Title            string
	Model            string
	StartedAt        time.Time
	EndedAt          time.Time
	MessageCount     int
	UserMessageCount int
	TokensUsed       int64
	File             FileInfo
}

// ParsedMessage holds a single extracted message. Meta carries
// source-specific extras (tool names, thought subjects, models)
// stored as a JSON bag.
type ParsedMessage struct {
	Ordinal   int
	Role      RoleType
	Content   string
	Timestamp time.Time
	Meta      map[string]string
}

// ParseResult pairs a parsed session with its messages.
type ParseResult struct {
	Session  ParsedSession
	Messages []ParsedMessage
}

// FinalizeResult fills derived session fields from the message
// list: ordinals, counts, title, and start/end bounds. Parsers
// call it once per assembled session.
func FinalizeResult(res *ParseResult) {
	msgs := res.Messages
	sess := &res.Session
	sess.MessageCount = len(msgs)
	sess.UserMessageCount = 0
	for i := range msgs {
		msgs[i].Ordinal = i
		if msgs[i].Role == RoleUser {
			sess.UserMessageCount++
			if sess.Title == "" {
				oneLine := strings.ReplaceAll(msgs[i].Content, "\n", " ")
				sess.Title = Truncate(oneLine, titleMaxLen)
			}
		}
		ts := msgs[i].Timestamp
		if ts.IsZero() {
			continue
		}
		if sess.StartedAt.IsZero() || ts.Before(sess.StartedAt) {
			sess.StartedAt = ts
		}
		if sess.EndedAt.IsZero() || ts.After(sess.EndedAt) {
			sess.EndedAt = ts
		}
	}
}

const titleMaxLen = 300

// Truncate shortens s to max runes, appending an ellipsis when
// anything was cut.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}
