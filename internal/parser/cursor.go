package parser

import (
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tidwall/gjson"
)

// Cursor persists chats in two generations of SQLite stores: a
// legacy per-workspace store.db whose blobs table holds binary
// payloads, and the modern state.vscdb whose cursorDiskKV table
// holds JSON (sometimes base64-wrapped) composer and bubble rows.
// Both are opened read-only; a bad row is logged and skipped, a
// missing table fails the whole store file.

const cursorDedupePrefixLen = 200

// ParseCursorStore parses a Cursor chat store, dispatching on the
// store generation by filename.
func ParseCursorStore(path string) ([]ParseResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	db, err := openCursorDB(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if filepath.Base(path) == "state.vscdb" {
		return parseCursorKVStore(db, path, info)
	}
	return parseCursorLegacyStore(db, path, info)
}

func openCursorDB(path string) (*sql.DB, error) {
	dsn := path + "?mode=ro&_journal_mode=WAL&_busy_timeout=3000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening cursor store %s: %w", path, err)
	}
	return db, nil
}

// parseCursorLegacyStore reads the blobs table of a legacy
// store.db. One store file is one session, keyed by the workspace
// directory that contains it.
func parseCursorLegacyStore(
	db *sql.DB, path string, info os.FileInfo,
) ([]ParseResult, error) {
	rows, err := db.Query("SELECT id, data FROM blobs ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("%s: reading blobs: %w (%w)", path, err, ErrParse)
	}
	defer rows.Close()

	var (
		messages []ParsedMessage
		seen     = make(map[string]struct{})
	)
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			log.Printf("cursor blob %s: %v", id, err)
			continue
		}

		role, content, err := decodeCursorBlob(data)
		if err != nil || strings.TrimSpace(content) == "" {
			continue
		}

		key := dedupeKey(content)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		messages = append(messages, ParsedMessage{
			Role:    role,
			Content: content,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: scanning blobs: %w", path, err)
	}

	if len(messages) == 0 {
		return nil, nil
	}

	workspace := filepath.Base(filepath.Dir(path))
	res := ParseResult{
		Session: ParsedSession{
			Key:    "cursor:" + workspace,
			Source: SourceCursor,
			File: FileInfo{
				Path:  path,
				Size:  info.Size(),
				Mtime: info.ModTime().UnixNano(),
			},
		},
		Messages: messages,
	}

	if name, createdAt := readCursorMeta(db); name != "" || !createdAt.IsZero() {
		res.Session.Title = Truncate(name, titleMaxLen)
		res.Session.StartedAt = createdAt
	}

	FinalizeResult(&res)
	if res.Session.EndedAt.IsZero() {
		res.Session.EndedAt = info.ModTime().UTC()
	}
	return []ParseResult{res}, nil
}

// decodeCursorBlob extracts a role and content from one blob
// payload. UTF-8 JSON payloads are tried first; everything else
// goes through the wire-format scanner.
func decodeCursorBlob(data []byte) (RoleType, string, error) {
	if gjson.ValidBytes(data) {
		parsed := gjson.ParseBytes(data)
		role := normalizeCursorRole(parsed.Get("role").Str)
		content := parsed.Get("content").Str
		if role != "" && content != "" {
			return role, content, nil
		}
	}

	role, content := scanCursorWire(data, 0)
	if content == "" {
		return "", "", fmt.Errorf("undecodable blob: %w", ErrRowDecode)
	}
	if role == "" {
		role = RoleUser
	}
	return role, content, nil
}

// scanCursorWire walks a wire-format payload looking for an
// embedded JSON message (field 4) or raw prompt text (field 1),
// recursing into nested length-delimited fields.
func scanCursorWire(data []byte, depth int) (RoleType, string) {
	if depth > maxWireDepth {
		return "", ""
	}
	fields, ok := scanWireFields(data)
	if !ok {
		return "", ""
	}

	for _, f := range fields {
		if f.wire != wireBytes || len(f.data) == 0 {
			continue
		}

		if f.num == 4 && f.data[0] == '{' &&
			gjson.ValidBytes(f.data) {
			parsed := gjson.ParseBytes(f.data)
			role := normalizeCursorRole(parsed.Get("role").Str)
			content := parsed.Get("content").Str
			if content == "" {
				content = parsed.Get("text").Str
			}
			if content != "" {
				if role == "" {
					role = RoleUser
				}
				return role, content
			}
		}

		if isPrintableText(f.data) {
			if f.num == 1 && looksLikePrompt(string(f.data)) {
				return RoleUser, string(f.data)
			}
			continue
		}

		if role, content := scanCursorWire(f.data, depth+1); content != "" {
			return role, content
		}
	}
	return "", ""
}

// readCursorMeta pulls the session name and creation time from
// the legacy meta table, whose values are hex-encoded JSON. A
// missing table is not an error.
func readCursorMeta(db *sql.DB) (string, time.Time) {
	rows, err := db.Query("SELECT value FROM meta")
	if err != nil {
		return "", time.Time{}
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		decoded, err := hex.DecodeString(strings.TrimSpace(raw))
		if err != nil || !gjson.ValidBytes(decoded) {
			continue
		}
		parsed := gjson.ParseBytes(decoded)
		name := parsed.Get("name").Str
		created := cursorTimestamp(parsed.Get("createdAt"))
		if name != "" || !created.IsZero() {
			return name, created
		}
	}
	return "", time.Time{}
}

// parseCursorKVStore reads composers and their bubbles from the
// modern cursorDiskKV table. Each composer is one session with a
// virtual file path (store path + "#" + composer ID).
func parseCursorKVStore(
	db *sql.DB, path string, info os.FileInfo,
) ([]ParseResult, error) {
	rows, err := db.Query(`
		SELECT key, value FROM cursorDiskKV
		WHERE key LIKE 'composerData:%'
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("%s: reading composers: %w (%w)", path, err, ErrParse)
	}
	defer rows.Close()

	type composer struct {
		id   string
		data gjson.Result
	}
	var composers []composer
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			log.Printf("cursor composer row: %v", err)
			continue
		}
		id := strings.TrimPrefix(key, "composerData:")
		data, ok := decodeCursorKVValue(value)
		if !ok {
			log.Printf("cursor composer %s: undecodable value", id)
			continue
		}
		composers = append(composers, composer{id: id, data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: scanning composers: %w", path, err)
	}

	var results []ParseResult
	for _, c := range composers {
		res, err := buildCursorComposer(db, c.id, c.data, path, info)
		if err != nil {
			log.Printf("cursor composer %s: %v", c.id, err)
			continue
		}
		if res == nil {
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

func buildCursorComposer(
	db *sql.DB, composerID string, data gjson.Result,
	path string, info os.FileInfo,
) (*ParseResult, error) {
	rows, err := db.Query(`
		SELECT key, value FROM cursorDiskKV
		WHERE key LIKE 'bubbleId:' || ? || ':%'
		ORDER BY rowid
	`, composerID)
	if err != nil {
		return nil, fmt.Errorf("reading bubbles: %w", err)
	}
	defer rows.Close()

	var (
		messages []ParsedMessage
		project  string
	)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			log.Printf("cursor bubble row: %v", err)
			continue
		}
		bubble, ok := decodeCursorKVValue(value)
		if !ok {
			continue
		}

		role := cursorBubbleRole(bubble.Get("type").Int())
		text := bubble.Get("text").Str
		if role == "" || strings.TrimSpace(text) == "" {
			continue
		}

		if project == "" {
			project = cursorProjectFromBubble(bubble)
		}

		ts := cursorTimestamp(bubble.Get("createdAt"))
		if ts.IsZero() {
			ts = cursorTimestamp(bubble.Get("timingInfo.clientEndTime"))
		}

		messages = append(messages, ParsedMessage{
			Role:      role,
			Content:   text,
			Timestamp: ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning bubbles: %w", err)
	}

	if len(messages) == 0 {
		return nil, nil
	}

	res := ParseResult{
		Session: ParsedSession{
			Key:       "cursor:" + composerID,
			Project:   project,
			Source:    SourceCursor,
			Title:     Truncate(data.Get("name").Str, titleMaxLen),
			StartedAt: cursorTimestamp(data.Get("createdAt")),
			File: FileInfo{
				Path:  path + "#" + composerID,
				Size:  info.Size(),
				Mtime: info.ModTime().UnixNano(),
			},
		},
		Messages: messages,
	}
	FinalizeResult(&res)
	return &res, nil
}

// decodeCursorKVValue interprets a cursorDiskKV value as JSON,
// unwrapping base64 when the raw bytes are not valid JSON.
func decodeCursorKVValue(value []byte) (gjson.Result, bool) {
	if gjson.ValidBytes(value) {
		return gjson.ParseBytes(value), true
	}
	decoded, err := base64.StdEncoding.DecodeString(
		strings.TrimSpace(string(value)),
	)
	if err == nil && gjson.ValidBytes(decoded) {
		return gjson.ParseBytes(decoded), true
	}
	return gjson.Result{}, false
}

func cursorBubbleRole(bubbleType int64) RoleType {
	switch bubbleType {
	case 1:
		return RoleUser
	case 2:
		return RoleAssistant
	default:
		return ""
	}
}

func normalizeCursorRole(role string) RoleType {
	switch role {
	case "user", "human":
		return RoleUser
	case "assistant", "ai":
		return RoleAssistant
	case "system":
		return RoleSystem
	default:
		return ""
	}
}

// cursorProjectFromBubble infers the working project from code
// block file paths attached to a bubble.
func cursorProjectFromBubble(bubble gjson.Result) string {
	var project string
	bubble.Get("codeBlockData").ForEach(
		func(_, block gjson.Result) bool {
			fsPath := block.Get("uri.fsPath").Str
			if fsPath == "" {
				fsPath = block.Get("fsPath").Str
			}
			if fsPath != "" {
				project = filepath.Dir(fsPath)
				return false
			}
			return true
		},
	)
	return project
}

// cursorTimestamp accepts epoch-millisecond numbers and RFC 3339
// strings, which both occur in Cursor stores.
func cursorTimestamp(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		ms := v.Int()
		if ms == 0 {
			return time.Time{}
		}
		return time.UnixMilli(ms).UTC()
	case gjson.String:
		return parseTimestamp(v.Str)
	default:
		return time.Time{}
	}
}

func dedupeKey(content string) string {
	runes := []rune(content)
	if len(runes) > cursorDedupePrefixLen {
		runes = runes[:cursorDedupePrefixLen]
	}
	return string(runes)
}
