package sync

import (
	"path/filepath"
	"strings"

	"github.com/promptdex/promptdex/internal/parser"
)

// classifyPaths maps changed filesystem paths to discovered
// files, dropping paths that don't match a known source layout.
func (e *Engine) classifyPaths(paths []string) []parser.DiscoveredFile {
	geminiMaps := make(map[string]map[string]string)
	seen := make(map[string]bool)

	var files []parser.DiscoveredFile
	for _, p := range paths {
		df, ok := e.classifyOnePath(p, geminiMaps)
		if !ok || seen[df.Path] {
			continue
		}
		seen[df.Path] = true
		files = append(files, df)
	}
	return files
}

// isUnder checks whether path is strictly inside dir after
// cleaning both. Returns the relative path on success.
func isUnder(dir, path string) (string, bool) {
	dir = filepath.Clean(dir)
	path = filepath.Clean(path)
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return "", false
	}
	sep := string(filepath.Separator)
	if rel == "." || rel == ".." ||
		strings.HasPrefix(rel, ".."+sep) {
		return "", false
	}
	return rel, true
}

func (e *Engine) classifyOnePath(
	path string,
	geminiMaps map[string]map[string]string,
) (parser.DiscoveredFile, bool) {
	sep := string(filepath.Separator)

	// Claude: <root>/<project>/<session>.jsonl
	for _, root := range e.dirs[parser.SourceClaude] {
		if root == "" {
			continue
		}
		rel, ok := isUnder(root, path)
		if !ok || !strings.HasSuffix(path, ".jsonl") {
			continue
		}
		if parts := strings.Split(rel, sep); len(parts) == 2 {
			return parser.DiscoveredFile{
				Path:    path,
				Project: parts[0],
				Source:  parser.SourceClaude,
			}, true
		}
	}

	// Codex: <root>/<year>/<month>/<day>/<rollout>.jsonl
	for _, root := range e.dirs[parser.SourceCodex] {
		if root == "" {
			continue
		}
		rel, ok := isUnder(root, path)
		if !ok {
			continue
		}
		parts := strings.Split(rel, sep)
		if len(parts) != 4 ||
			!parser.IsDigits(parts[0]) ||
			!parser.IsDigits(parts[1]) ||
			!parser.IsDigits(parts[2]) ||
			!strings.HasSuffix(parts[3], ".jsonl") {
			continue
		}
		return parser.DiscoveredFile{
			Path:   path,
			Source: parser.SourceCodex,
		}, true
	}

	// Cursor: any store.db or state.vscdb under the root. Writes
	// to WAL sidecars map back to the store file itself.
	for _, root := range e.dirs[parser.SourceCursor] {
		if root == "" {
			continue
		}
		if _, ok := isUnder(root, path); !ok {
			continue
		}
		base := filepath.Base(path)
		for _, suffix := range []string{"-wal", "-shm"} {
			base = strings.TrimSuffix(base, suffix)
		}
		if base != "store.db" && base != "state.vscdb" {
			continue
		}
		store := filepath.Join(filepath.Dir(path), base)
		if !parser.IsRegularFile(store) {
			continue
		}
		return parser.DiscoveredFile{
			Path:   store,
			Source: parser.SourceCursor,
		}, true
	}

	// Aider: <root>/**/.aider.chat.history.md
	for _, root := range e.dirs[parser.SourceAider] {
		if root == "" {
			continue
		}
		if _, ok := isUnder(root, path); !ok {
			continue
		}
		if filepath.Base(path) != ".aider.chat.history.md" {
			continue
		}
		return parser.DiscoveredFile{
			Path:    path,
			Project: filepath.Dir(path),
			Source:  parser.SourceAider,
		}, true
	}

	// Gemini: <root>/tmp/<dir>/chats/session-*.json
	for _, root := range e.dirs[parser.SourceGemini] {
		if root == "" {
			continue
		}
		rel, ok := isUnder(root, path)
		if !ok {
			continue
		}
		parts := strings.Split(rel, sep)
		if len(parts) != 4 || parts[0] != "tmp" || parts[2] != "chats" {
			continue
		}
		name := parts[3]
		if !strings.HasPrefix(name, "session-") ||
			!strings.HasSuffix(name, ".json") {
			continue
		}
		if _, ok := geminiMaps[root]; !ok {
			geminiMaps[root] = parser.BuildGeminiProjectMap(root)
		}
		return parser.DiscoveredFile{
			Path:    path,
			Project: parser.ResolveGeminiProject(parts[1], geminiMaps[root]),
			Source:  parser.SourceGemini,
		}, true
	}

	// Amp: <root>/threads/T-*.json
	for _, root := range e.dirs[parser.SourceAmp] {
		if root == "" {
			continue
		}
		rel, ok := isUnder(root, path)
		if !ok {
			continue
		}
		parts := strings.Split(rel, sep)
		if len(parts) != 2 || parts[0] != "threads" {
			continue
		}
		name := parts[1]
		if !strings.HasPrefix(name, "T-") ||
			!strings.HasSuffix(name, ".json") {
			continue
		}
		return parser.DiscoveredFile{
			Path:   path,
			Source: parser.SourceAmp,
		}, true
	}

	return parser.DiscoveredFile{}, false
}
