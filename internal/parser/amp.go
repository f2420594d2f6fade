package parser

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ParseAmpFile parses an Amp CLI thread file. Each thread is a
// single JSON document under <data dir>/threads/T-*.json. Threads
// with no conversation are skipped as non-interactive.
func ParseAmpFile(path string) ([]ParseResult, error) {
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

	threadID := root.Get("id").Str
	if threadID == "" {
		return nil, fmt.Errorf("%s: missing thread id: %w", path, ErrParse)
	}

	res := ParseResult{
		Session: ParsedSession{
			Key:     "amp:" + threadID,
			Project: ampProject(root),
			Source:  SourceAmp,
			Title:   root.Get("title").Str,
			File: FileInfo{
				Path:  path,
				Size:  info.Size(),
				Mtime: info.ModTime().UnixNano(),
			},
		},
	}

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").Str
		if role != "user" && role != "assistant" {
			return true
		}

		content, meta := extractText(msg.Get("content"))
		if strings.TrimSpace(content) == "" {
			return true
		}

		res.Messages = append(res.Messages, ParsedMessage{
			Role:      RoleType(role),
			Content:   content,
			Timestamp: ampMsgTime(msg),
			Meta:      meta,
		})
		return true
	})

	if len(res.Messages) == 0 {
		return nil, nil
	}

	FinalizeResult(&res)

	// The thread's created stamp and the last trace end are
	// authoritative when present.
	if created := root.Get("created"); created.Type == gjson.Number {
		if ms := created.Int(); ms > 0 {
			res.Session.StartedAt = time.UnixMilli(ms).UTC()
		}
	}
	if traces := root.Get("meta.traces"); traces.IsArray() {
		list := traces.Array()
		if len(list) > 0 {
			last := parseTimestamp(list[len(list)-1].Get("endTime").Str)
			if !last.IsZero() {
				res.Session.EndedAt = last
			}
		}
	}

	return []ParseResult{res}, nil
}

// ampMsgTime reads a message's sentAt stamp (epoch ms).
func ampMsgTime(msg gjson.Result) time.Time {
	if ms := msg.Get("meta.sentAt").Int(); ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

// ampProject derives the working directory from the thread's
// initial environment. The first tree's uri is a file:// URL.
func ampProject(root gjson.Result) string {
	tree := root.Get("env.initial.trees.0")
	if p := fileURIPath(tree.Get("uri").Str); p != "" {
		return p
	}
	return tree.Get("displayName").Str
}

// fileURIPath converts a file:// URI to a filesystem path, or ""
// when the URI is not a file URL.
func fileURIPath(uri string) string {
	if !strings.HasPrefix(uri, "file://") {
		return ""
	}
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	path := u.Path
	if u.Host != "" {
		path = "//" + u.Host + path
	}
	return path
}

// AmpThreadID extracts the id field from raw Amp thread JSON
// without fully parsing.
func AmpThreadID(data []byte) string {
	return gjson.GetBytes(data, "id").Str
}

// DiscoverAmpThreads finds thread files under an Amp data dir
// (<root>/threads/T-*.json).
func DiscoverAmpThreads(root string) []DiscoveredFile {
	if root == "" {
		return nil
	}

	threadsDir := filepath.Join(root, "threads")
	entries, err := os.ReadDir(threadsDir)
	if err != nil {
		return nil
	}

	var files []DiscoveredFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "T-") ||
			!strings.HasSuffix(name, ".json") {
			continue
		}
		files = append(files, DiscoveredFile{
			Path:   filepath.Join(threadsDir, name),
			Source: SourceAmp,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files
}

// FindAmpSourceFile locates a thread file by its thread ID. The
// ID is the filename stem, so no scan is needed.
func FindAmpSourceFile(root, threadID string) string {
	if root == "" || !IsValidSessionID(threadID) {
		return ""
	}
	path := filepath.Join(root, "threads", threadID+".json")
	if !IsRegularFile(path) {
		return ""
	}
	return path
}
