package parser

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/promptdex/promptdex/internal/timeutil"
	"github.com/tidwall/gjson"
)

// ParseClaudeFile parses a Claude Code JSONL transcript. The
// session key is the file's UUID stem; a file is one session.
func ParseClaudeFile(path string) ([]ParseResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sessionKey := strings.TrimSuffix(filepath.Base(path), ".jsonl")

	res := ParseResult{
		Session: ParsedSession{
			Key:    sessionKey,
			Source: SourceClaude,
			File: FileInfo{
				Path:  path,
				Size:  info.Size(),
				Mtime: info.ModTime().UnixNano(),
			},
		},
	}

	lr := newLineReader(f, maxLineLen)
	for recNo := 1; ; recNo++ {
		line, ok := lr.next()
		if !ok {
			break
		}
		if !gjson.Valid(line) {
			log.Printf("claude %s record %d: invalid JSON, skipped",
				filepath.Base(path), recNo)
			continue
		}

		if res.Session.Project == "" {
			res.Session.Project = gjson.Get(line, "cwd").Str
		}

		// Snapshot records carry file state, not conversation.
		if gjson.Get(line, "snapshot").Exists() {
			continue
		}

		entryType := gjson.Get(line, "type").Str
		if entryType != "user" && entryType != "assistant" {
			continue
		}

		if entryType == "user" {
			if gjson.Get(line, "isMeta").Bool() ||
				gjson.Get(line, "isCompactSummary").Bool() {
				continue
			}
		}

		text, meta := extractText(gjson.Get(line, "message.content"))
		if strings.TrimSpace(text) == "" {
			continue
		}
		if entryType == "user" && isClaudeSystemMessage(text) {
			continue
		}

		if res.Session.Model == "" {
			res.Session.Model = gjson.Get(line, "message.model").Str
		}

		res.Messages = append(res.Messages, ParsedMessage{
			Role:      RoleType(entryType),
			Content:   text,
			Timestamp: parseTimestamp(gjson.Get(line, "timestamp").Str),
			Meta:      meta,
		})
	}

	if len(res.Messages) == 0 {
		return nil, fmt.Errorf("%s: no messages: %w", path, ErrParse)
	}

	FinalizeResult(&res)
	return []ParseResult{res}, nil
}

// ExtractClaudeCwd reads the first cwd field from a Claude Code
// JSONL transcript, for project inference without a full parse.
func ExtractClaudeCwd(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	lr := newLineReader(f, maxLineLen)
	for {
		line, ok := lr.next()
		if !ok {
			return ""
		}
		if !gjson.Valid(line) {
			continue
		}
		if cwd := gjson.Get(line, "cwd").Str; cwd != "" {
			return cwd
		}
	}
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := timeutil.Parse(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// isClaudeSystemMessage reports whether the content matches a
// known system-injected user message pattern.
func isClaudeSystemMessage(content string) bool {
	trimmed := strings.TrimSpace(content)
	prefixes := [...]string{
		"This session is being continued",
		"[Request interrupted",
		"<command-message>",
		"<command-name>",
		"<local-command-",
	}
	for _, p := range prefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}
