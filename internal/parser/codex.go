package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Codex rollout entry types.
const (
	codexTypeSessionMeta  = "session_meta"
	codexTypeResponseItem = "response_item"
	codexTypeEventMsg     = "event_msg"
	codexOriginatorExec   = "codex_exec"
)

// codexBuilder accumulates state while scanning a Codex rollout
// file line by line.
type codexBuilder struct {
	messages  []ParsedMessage
	sessionID string
	project   string
	model     string
	tokens    int64
}

// processLine handles a single valid JSON line. Returns skip=true
// when the whole file should be discarded (non-interactive
// codex_exec rollouts).
func (b *codexBuilder) processLine(line string) (skip bool) {
	ts := parseTimestamp(gjson.Get(line, "timestamp").Str)
	payload := gjson.Get(line, "payload")

	switch gjson.Get(line, "type").Str {
	case codexTypeSessionMeta:
		return b.handleSessionMeta(payload)
	case codexTypeEventMsg:
		b.handleEventMsg(payload, ts)
	case codexTypeResponseItem:
		b.handleResponseItem(payload, ts)
	}
	return false
}

func (b *codexBuilder) handleSessionMeta(
	payload gjson.Result,
) (skip bool) {
	b.sessionID = payload.Get("id").Str
	if cwd := payload.Get("cwd").Str; cwd != "" {
		b.project = cwd
	}
	if m := payload.Get("model").Str; m != "" {
		b.model = m
	}
	return payload.Get("originator").Str == codexOriginatorExec
}

// handleEventMsg maps rollout event records onto messages. Token
// counts update the session total instead of producing a message.
func (b *codexBuilder) handleEventMsg(
	payload gjson.Result, ts time.Time,
) {
	switch payload.Get("type").Str {
	case "user_message":
		b.add(RoleUser, payload.Get("message").Str, ts, nil)
	case "agent_message":
		b.add(RoleAssistant, payload.Get("message").Str, ts, nil)
	case "agent_reasoning":
		b.add(RoleAssistant, payload.Get("text").Str, ts,
			map[string]string{"thinking": "true"})
	case "token_count":
		if n := payload.Get("info.total_token_usage.total_tokens"); n.Exists() {
			b.tokens = n.Int()
		}
	}
}

func (b *codexBuilder) handleResponseItem(
	payload gjson.Result, ts time.Time,
) {
	if payload.Get("type").Str == "function_call" {
		b.handleFunctionCall(payload, ts)
		return
	}

	role := payload.Get("role").Str
	if role != "user" && role != "assistant" {
		return
	}

	content := extractCodexContent(payload)
	if strings.TrimSpace(content) == "" {
		return
	}
	if role == "user" && isCodexSystemMessage(content) {
		return
	}
	b.add(RoleType(role), content, ts, nil)
}

func (b *codexBuilder) handleFunctionCall(
	payload gjson.Result, ts time.Time,
) {
	name := payload.Get("name").Str
	if name == "" {
		return
	}
	b.add(RoleTool, formatCodexFunctionCall(name, payload), ts,
		map[string]string{"tools": name})
}

func (b *codexBuilder) add(
	role RoleType, content string, ts time.Time,
	meta map[string]string,
) {
	if strings.TrimSpace(content) == "" {
		return
	}
	b.messages = append(b.messages, ParsedMessage{
		Role:      role,
		Content:   content,
		Timestamp: ts,
		Meta:      meta,
	})
}

func formatCodexFunctionCall(
	name string, payload gjson.Result,
) string {
	summary := sanitizeToolLabel(payload.Get("summary").Str)
	args := parseCodexFunctionArgs(payload)

	switch name {
	case "exec_command", "shell_command", "shell":
		cmd := codexArgValue(args, "cmd", "command")
		header := formatToolHeader("Bash", summary)
		if cmd != "" {
			return header + "\n$ " + cmd
		}
		return header
	case "apply_patch":
		detail := firstNonEmpty(summary,
			codexArgValue(args, "path", "file_path"))
		return formatToolHeader("Edit", detail)
	}

	header := formatToolHeader("Tool", name)
	if summary != "" {
		return header + "\n" + summary
	}
	return header
}

// parseCodexFunctionArgs resolves the arguments payload, which
// may be an object or a JSON-encoded string.
func parseCodexFunctionArgs(payload gjson.Result) gjson.Result {
	for _, key := range []string{"arguments", "input"} {
		arg := payload.Get(key)
		if !arg.Exists() {
			continue
		}
		if arg.Type == gjson.String {
			s := strings.TrimSpace(arg.Str)
			if s != "" && gjson.Valid(s) {
				return gjson.Parse(s)
			}
			continue
		}
		if arg.IsObject() && len(arg.Map()) > 0 {
			return arg
		}
	}
	return gjson.Result{}
}

func codexArgValue(args gjson.Result, paths ...string) string {
	for _, path := range paths {
		v := args.Get(path)
		if v.Type == gjson.String &&
			strings.TrimSpace(v.Str) != "" {
			return strings.TrimSpace(v.Str)
		}
	}
	return ""
}

func formatToolHeader(label, detail string) string {
	label = sanitizeToolLabel(label)
	if label == "" {
		label = "Tool"
	}
	detail = sanitizeToolLabel(detail)
	if detail != "" {
		return fmt.Sprintf("[%s: %s]", label, detail)
	}
	return fmt.Sprintf("[%s]", label)
}

func sanitizeToolLabel(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "]", ")")
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

// extractCodexContent joins all text blocks from a response
// item's content array.
func extractCodexContent(payload gjson.Result) string {
	var texts []string
	payload.Get("content").ForEach(
		func(_, block gjson.Result) bool {
			switch block.Get("type").Str {
			case "input_text", "output_text", "text":
				if t := block.Get("text").Str; t != "" {
					texts = append(texts, t)
				}
			}
			return true
		},
	)
	return strings.Join(texts, "\n")
}

// ParseCodexFile parses a Codex rollout JSONL file. The session
// key comes from the session_meta id, falling back to the file
// stem. Rollouts written by codex_exec are skipped (zero results,
// nil error).
func ParseCodexFile(path string) ([]ParseResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	b := &codexBuilder{}
	lr := newLineReader(f, maxLineLen)
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		if !gjson.Valid(line) {
			continue
		}
		if b.processLine(line) {
			return nil, nil
		}
	}

	if b.sessionID == "" && len(b.messages) == 0 {
		return nil, fmt.Errorf("%s: not a rollout file: %w", path, ErrParse)
	}

	sessionID := b.sessionID
	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(path), ".jsonl")
	}

	res := ParseResult{
		Session: ParsedSession{
			Key:        "codex:" + sessionID,
			Project:    b.project,
			Source:     SourceCodex,
			Model:      b.model,
			TokensUsed: b.tokens,
			File: FileInfo{
				Path:  path,
				Size:  info.Size(),
				Mtime: info.ModTime().UnixNano(),
			},
		},
		Messages: b.messages,
	}
	FinalizeResult(&res)
	return []ParseResult{res}, nil
}

func isCodexSystemMessage(content string) bool {
	return strings.HasPrefix(content, "# AGENTS.md") ||
		strings.HasPrefix(content, "<environment_context>") ||
		strings.HasPrefix(content, "<INSTRUCTIONS>")
}
