package parser

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseGeminiFile parses a Gemini CLI session file. Unlike the
// JSONL sources, each Gemini file is a single JSON document
// containing all messages. project maps the file's projectHash
// back to a real directory (may be empty).
func ParseGeminiFile(path, project string) ([]ParseResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: invalid JSON: %w", path, ErrParse)
	}
	root := gjson.ParseBytes(data)

	sessionID := root.Get("sessionId").Str
	if sessionID == "" {
		return nil, fmt.Errorf("%s: missing sessionId: %w", path, ErrParse)
	}

	res := ParseResult{
		Session: ParsedSession{
			Key:     "gemini:" + sessionID,
			Project: project,
			Source:  SourceGemini,
			File: FileInfo{
				Path:  path,
				Size:  info.Size(),
				Mtime: info.ModTime().UnixNano(),
			},
		},
	}

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		role := geminiRole(msg.Get("type").Str)
		if role == "" {
			log.Printf("gemini %s: unknown message type %q, skipped",
				filepath.Base(path), msg.Get("type").Str)
			return true
		}

		content, meta := extractGeminiContent(msg)
		if strings.TrimSpace(content) == "" {
			return true
		}

		if res.Session.Model == "" {
			res.Session.Model = msg.Get("model").Str
		}

		res.Messages = append(res.Messages, ParsedMessage{
			Role:      role,
			Content:   content,
			Timestamp: parseTimestamp(msg.Get("timestamp").Str),
			Meta:      meta,
		})
		return true
	})

	FinalizeResult(&res)

	// The document-level bounds are authoritative when present.
	if t := parseTimestamp(root.Get("startTime").Str); !t.IsZero() {
		res.Session.StartedAt = t
	}
	if t := parseTimestamp(root.Get("lastUpdated").Str); !t.IsZero() {
		res.Session.EndedAt = t
	}

	return []ParseResult{res}, nil
}

// geminiRole maps the message type vocabulary onto roles. Info
// and error records become system messages.
func geminiRole(msgType string) RoleType {
	switch msgType {
	case "user":
		return RoleUser
	case "gemini":
		return RoleAssistant
	case "info", "error":
		return RoleSystem
	default:
		return ""
	}
}

// extractGeminiContent builds readable text from a Gemini
// message, folding thoughts and tool calls into the body and the
// metadata bag.
func extractGeminiContent(
	msg gjson.Result,
) (string, map[string]string) {
	var (
		parts []string
		tools []string
		meta  map[string]string
	)
	note := func(k, v string) {
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[k] = v
	}

	// Thoughts appear before content chronologically.
	msg.Get("thoughts").ForEach(func(_, thought gjson.Result) bool {
		desc := thought.Get("description").Str
		if desc == "" {
			return true
		}
		note("thinking", "true")
		if subj := thought.Get("subject").Str; subj != "" {
			parts = append(parts,
				fmt.Sprintf("[Thinking]\n%s\n%s", subj, desc))
		} else {
			parts = append(parts, "[Thinking]\n"+desc)
		}
		return true
	})

	content := msg.Get("content")
	if content.Type == gjson.String {
		if content.Str != "" {
			parts = append(parts, content.Str)
		}
	} else if content.IsArray() {
		content.ForEach(func(_, part gjson.Result) bool {
			if t := part.Get("text").Str; t != "" {
				parts = append(parts, t)
			}
			return true
		})
	}

	msg.Get("toolCalls").ForEach(func(_, tc gjson.Result) bool {
		if name := tc.Get("name").Str; name != "" {
			tools = append(tools, name)
		}
		parts = append(parts, formatGeminiToolCall(tc))
		return true
	})

	if len(tools) > 0 {
		note("tools", strings.Join(tools, ","))
	}
	return strings.Join(parts, "\n"), meta
}

func formatGeminiToolCall(tc gjson.Result) string {
	name := tc.Get("name").Str
	args := tc.Get("args")

	switch name {
	case "read_file":
		return fmt.Sprintf("[Read: %s]", args.Get("file_path").Str)
	case "write_file", "edit_file":
		return fmt.Sprintf("[Write: %s]", args.Get("file_path").Str)
	case "run_command", "execute_command":
		return fmt.Sprintf("[Bash]\n$ %s", args.Get("command").Str)
	case "list_directory":
		return fmt.Sprintf("[List: %s]", args.Get("dir_path").Str)
	case "search_files", "grep":
		query := args.Get("query").Str
		if query == "" {
			query = args.Get("pattern").Str
		}
		return fmt.Sprintf("[Grep: %s]", query)
	default:
		label := tc.Get("displayName").Str
		if label == "" {
			label = name
		}
		return fmt.Sprintf("[Tool: %s]", label)
	}
}

// GeminiSessionID extracts the sessionId field from raw Gemini
// session JSON without fully parsing.
func GeminiSessionID(data []byte) string {
	return gjson.GetBytes(data, "sessionId").Str
}
