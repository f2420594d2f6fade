package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Aider appends every chat to a single markdown history file
// (.aider.chat.history.md). Sessions are delimited by heading
// lines; user input is blockquoted with "> ", everything else in
// a session body is assistant output.

var aiderSessionHeading = regexp.MustCompile(
	`(?m)^# aider chat started at (.+)$`,
)

const aiderHeadingTimeLayout = "2006-01-02 15:04:05"

// ParseAiderHistory parses an aider markdown history file into
// one session per heading. Session keys combine the file stem
// with the sanitized heading timestamp so keys stay stable across
// appends.
func ParseAiderHistory(path string) ([]ParseResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	content := string(raw)

	headings := aiderSessionHeading.FindAllStringSubmatchIndex(content, -1)
	if len(headings) == 0 {
		return nil, fmt.Errorf("%s: no session headings: %w", path, ErrParse)
	}

	stem := strings.TrimSuffix(filepath.Base(path), ".md")
	file := FileInfo{
		Path:  path,
		Size:  info.Size(),
		Mtime: info.ModTime().UnixNano(),
	}

	// Aider history files live alongside the repo they drove.
	project := filepath.Dir(path)

	var results []ParseResult
	for i, h := range headings {
		tsRaw := strings.TrimSpace(content[h[2]:h[3]])
		bodyStart := h[1]
		bodyEnd := len(content)
		if i+1 < len(headings) {
			bodyEnd = headings[i+1][0]
		}

		startedAt := parseAiderTimestamp(tsRaw)
		messages := parseAiderBody(content[bodyStart:bodyEnd], startedAt)
		if len(messages) == 0 {
			continue
		}

		res := ParseResult{
			Session: ParsedSession{
				Key:       "aider:" + stem + "-" + sanitizeAiderKey(tsRaw),
				Project:   project,
				Source:    SourceAider,
				StartedAt: startedAt,
				File:      file,
			},
			Messages: messages,
		}
		FinalizeResult(&res)
		if res.Session.StartedAt.IsZero() {
			res.Session.StartedAt = startedAt
		}
		if res.Session.EndedAt.IsZero() {
			res.Session.EndedAt = startedAt
		}
		results = append(results, res)
	}
	return results, nil
}

// parseAiderBody splits a session body into alternating user and
// assistant messages. "> " lines are user input (a bare ">" is an
// empty continuation line inside a user block); runs of other
// non-blank lines are assistant output.
func parseAiderBody(body string, ts time.Time) []ParsedMessage {
	var (
		messages  []ParsedMessage
		userLines []string
		asstLines []string
	)

	flushUser := func() {
		text := strings.TrimSpace(strings.Join(userLines, "\n"))
		userLines = nil
		if text != "" {
			messages = append(messages, ParsedMessage{
				Role:      RoleUser,
				Content:   text,
				Timestamp: ts,
			})
		}
	}
	flushAssistant := func() {
		text := strings.TrimSpace(strings.Join(asstLines, "\n"))
		asstLines = nil
		if text != "" {
			messages = append(messages, ParsedMessage{
				Role:      RoleAssistant,
				Content:   text,
				Timestamp: ts,
			})
		}
	}

	for _, line := range strings.Split(body, "\n") {
		switch {
		case strings.HasPrefix(line, "> "):
			flushAssistant()
			userLines = append(userLines, strings.TrimPrefix(line, "> "))
		case strings.TrimSpace(line) == ">":
			flushAssistant()
			userLines = append(userLines, "")
		case strings.TrimSpace(line) == "":
			// Blank lines end a user block but are kept inside
			// assistant output so markdown stays readable.
			flushUser()
			if len(asstLines) > 0 {
				asstLines = append(asstLines, "")
			}
		default:
			flushUser()
			asstLines = append(asstLines, line)
		}
	}
	flushUser()
	flushAssistant()
	return messages
}

// parseAiderTimestamp accepts the "2006-01-02 15:04:05" heading
// format and falls back to RFC 3339.
func parseAiderTimestamp(s string) time.Time {
	if t, err := time.ParseInLocation(
		aiderHeadingTimeLayout, s, time.Local,
	); err == nil {
		return t
	}
	return parseTimestamp(s)
}

var aiderKeyUnsafe = regexp.MustCompile(`[^0-9A-Za-z]+`)

func sanitizeAiderKey(ts string) string {
	return strings.Trim(aiderKeyUnsafe.ReplaceAllString(ts, "-"), "-")
}
