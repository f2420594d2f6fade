// Package testlogs provides shared fixture builders for source
// log test data: Claude and Codex JSONL, aider markdown history,
// and Gemini session JSON. Used by parser, sync, and fork test
// packages.
package testlogs

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ClaudeUserJSON returns a Claude user record as a JSON line.
func ClaudeUserJSON(content, timestamp string, cwd ...string) string {
	m := map[string]any{
		"type":      "user",
		"timestamp": timestamp,
		"message": map[string]any{
			"content": content,
		},
	}
	if len(cwd) > 0 {
		m["cwd"] = cwd[0]
	}
	return mustMarshal(m)
}

// ClaudeMetaUserJSON returns a Claude user record with optional
// isMeta and isCompactSummary flags as a JSON line.
func ClaudeMetaUserJSON(
	content, timestamp string, meta, compact bool,
) string {
	m := map[string]any{
		"type":      "user",
		"timestamp": timestamp,
		"message": map[string]any{
			"content": content,
		},
	}
	if meta {
		m["isMeta"] = true
	}
	if compact {
		m["isCompactSummary"] = true
	}
	return mustMarshal(m)
}

// ClaudeAssistantJSON returns a Claude assistant record as a JSON
// line. content may be a string or a block array.
func ClaudeAssistantJSON(content any, timestamp string) string {
	m := map[string]any{
		"type":      "assistant",
		"timestamp": timestamp,
		"message": map[string]any{
			"content": content,
		},
	}
	return mustMarshal(m)
}

// CodexSessionMetaJSON returns a Codex session_meta record as a
// JSON line.
func CodexSessionMetaJSON(
	id, cwd, originator, timestamp string,
) string {
	m := map[string]any{
		"type":      "session_meta",
		"timestamp": timestamp,
		"payload": map[string]any{
			"id":         id,
			"cwd":        cwd,
			"originator": originator,
		},
	}
	return mustMarshal(m)
}

// CodexEventMsgJSON returns a Codex event_msg record as a JSON
// line. eventType is user_message, agent_message, or
// agent_reasoning.
func CodexEventMsgJSON(eventType, text, timestamp string) string {
	payload := map[string]any{"type": eventType}
	if eventType == "agent_reasoning" {
		payload["text"] = text
	} else {
		payload["message"] = text
	}
	m := map[string]any{
		"type":      "event_msg",
		"timestamp": timestamp,
		"payload":   payload,
	}
	return mustMarshal(m)
}

// CodexTokenCountJSON returns a Codex token_count event record.
func CodexTokenCountJSON(total int64, timestamp string) string {
	m := map[string]any{
		"type":      "event_msg",
		"timestamp": timestamp,
		"payload": map[string]any{
			"type": "token_count",
			"info": map[string]any{
				"total_token_usage": map[string]any{
					"total_tokens": total,
				},
			},
		},
	}
	return mustMarshal(m)
}

// CodexMsgJSON returns a Codex response_item record as a JSON
// line.
func CodexMsgJSON(role, text, timestamp string) string {
	contentType := "output_text"
	if role == "user" {
		contentType = "input_text"
	}
	m := map[string]any{
		"type":      "response_item",
		"timestamp": timestamp,
		"payload": map[string]any{
			"role": role,
			"content": []map[string]string{
				{"type": contentType, "text": text},
			},
		},
	}
	return mustMarshal(m)
}

// JoinJSONL joins JSON lines with newlines and appends a
// trailing newline.
func JoinJSONL(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

// SessionBuilder constructs JSONL session content using a fluent
// API.
type SessionBuilder struct {
	lines []string
}

// NewSessionBuilder returns a new empty SessionBuilder.
func NewSessionBuilder() *SessionBuilder {
	return &SessionBuilder{}
}

// AddClaudeUser appends a Claude user record line.
func (b *SessionBuilder) AddClaudeUser(
	timestamp, content string, cwd ...string,
) *SessionBuilder {
	b.lines = append(b.lines, ClaudeUserJSON(content, timestamp, cwd...))
	return b
}

// AddClaudeMetaUser appends a Claude user record line with
// isMeta and/or isCompactSummary flags.
func (b *SessionBuilder) AddClaudeMetaUser(
	timestamp, content string, meta, compact bool,
) *SessionBuilder {
	b.lines = append(
		b.lines,
		ClaudeMetaUserJSON(content, timestamp, meta, compact),
	)
	return b
}

// AddClaudeAssistant appends a Claude assistant record line.
func (b *SessionBuilder) AddClaudeAssistant(
	timestamp, text string,
) *SessionBuilder {
	b.lines = append(b.lines, ClaudeAssistantJSON(
		[]map[string]string{{"type": "text", "text": text}},
		timestamp,
	))
	return b
}

// AddCodexMeta appends a Codex session_meta line.
func (b *SessionBuilder) AddCodexMeta(
	timestamp, id, cwd, originator string,
) *SessionBuilder {
	b.lines = append(
		b.lines,
		CodexSessionMetaJSON(id, cwd, originator, timestamp),
	)
	return b
}

// AddCodexEvent appends a Codex event_msg line.
func (b *SessionBuilder) AddCodexEvent(
	timestamp, eventType, text string,
) *SessionBuilder {
	b.lines = append(b.lines, CodexEventMsgJSON(eventType, text, timestamp))
	return b
}

// AddCodexMessage appends a Codex response_item line.
func (b *SessionBuilder) AddCodexMessage(
	timestamp, role, text string,
) *SessionBuilder {
	b.lines = append(b.lines, CodexMsgJSON(role, text, timestamp))
	return b
}

// AddRaw appends an arbitrary raw line.
func (b *SessionBuilder) AddRaw(line string) *SessionBuilder {
	b.lines = append(b.lines, line)
	return b
}

// String returns the JSONL content with a trailing newline.
func (b *SessionBuilder) String() string {
	return strings.Join(b.lines, "\n") + "\n"
}

// AiderSession holds one session's worth of aider history
// content for fixture building.
type AiderSession struct {
	StartedAt string // "2006-01-02 15:04:05" heading format
	Turns     []AiderTurn
}

// AiderTurn is one user/assistant exchange in an aider session.
type AiderTurn struct {
	User      string
	Assistant string
}

// AiderHistory renders sessions as an aider markdown history
// file.
func AiderHistory(sessions ...AiderSession) string {
	var sb strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&sb, "# aider chat started at %s\n\n", s.StartedAt)
		for _, turn := range s.Turns {
			if turn.User != "" {
				for _, line := range strings.Split(turn.User, "\n") {
					sb.WriteString("> " + line + "\n")
				}
				sb.WriteString("\n")
			}
			if turn.Assistant != "" {
				sb.WriteString(turn.Assistant + "\n\n")
			}
		}
	}
	return sb.String()
}

// GeminiMsg builds one Gemini message object.
func GeminiMsg(msgType, timestamp, content string) map[string]any {
	return map[string]any{
		"timestamp": timestamp,
		"type":      msgType,
		"content":   content,
	}
}

// GeminiSessionJSON builds a complete Gemini session JSON string.
func GeminiSessionJSON(
	sessionID, projectHash, startTime, lastUpdated string,
	messages []map[string]any,
) string {
	session := map[string]any{
		"sessionId":   sessionID,
		"projectHash": projectHash,
		"startTime":   startTime,
		"lastUpdated": lastUpdated,
		"messages":    messages,
	}
	b, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		panic(err)
	}
	return string(b)
}

// AmpMsg builds one Amp thread message with typed content blocks.
func AmpMsg(role string, sentAtMs int64, blocks ...map[string]any) map[string]any {
	m := map[string]any{
		"role":    role,
		"content": blocks,
	}
	if sentAtMs > 0 {
		m["meta"] = map[string]any{"sentAt": sentAtMs}
	}
	return m
}

// AmpTextBlock builds a text content block for AmpMsg.
func AmpTextBlock(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

// AmpThreadJSON builds a complete Amp thread JSON string.
func AmpThreadJSON(
	threadID, title, projectURI string, createdMs int64,
	messages []map[string]any,
) string {
	thread := map[string]any{
		"v":        5,
		"id":       threadID,
		"created":  createdMs,
		"messages": messages,
	}
	if title != "" {
		thread["title"] = title
	}
	if projectURI != "" {
		thread["env"] = map[string]any{
			"initial": map[string]any{
				"trees": []map[string]any{{"uri": projectURI}},
			},
		}
	}
	return mustMarshal(thread)
}

// CursorBubbleJSON builds a modern-store bubble value.
// bubbleType is 1 for user, 2 for assistant.
func CursorBubbleJSON(bubbleType int, text string, createdAtMs int64) string {
	m := map[string]any{
		"type": bubbleType,
		"text": text,
	}
	if createdAtMs != 0 {
		m["createdAt"] = createdAtMs
	}
	return mustMarshal(m)
}

// CursorComposerJSON builds a modern-store composerData value.
func CursorComposerJSON(name string, createdAtMs int64) string {
	m := map[string]any{"name": name}
	if createdAtMs != 0 {
		m["createdAt"] = createdAtMs
	}
	return mustMarshal(m)
}

func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
