// Package fork writes source-native continuation files so a
// stored session can be resumed in its original tool under a new
// session identity.
package fork

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/promptdex/promptdex/internal/db"
	"github.com/promptdex/promptdex/internal/parser"
	"github.com/promptdex/promptdex/internal/sync"
)

var (
	// ErrFork marks fork failures other than source support.
	ErrFork = errors.New("fork error")
	// ErrUnsupportedSource is returned for sources whose native
	// format has no continuation layout we can write.
	ErrUnsupportedSource = errors.New("source does not support forking")
)

// Result describes a completed fork.
type Result struct {
	SessionKey    string `json:"session_key"`
	ParentKey     string `json:"parent_key"`
	Path          string `json:"path"`
	ResumeCommand string `json:"resume_command"`
}

// Forker clones session files. Launchers overrides the command
// used in resume hints, keyed by source type (values are parsed
// shell-style, so flags are allowed).
type Forker struct {
	db        *db.DB
	engine    *sync.Engine
	launchers map[parser.SourceType]string
}

// New creates a Forker.
func New(
	database *db.DB,
	engine *sync.Engine,
	launchers map[parser.SourceType]string,
) *Forker {
	return &Forker{
		db:        database,
		engine:    engine,
		launchers: launchers,
	}
}

// Fork clones the session's source file under a fresh session ID
// and registers the lineage before returning, so the next sync
// ingests the copy with forked_from already set.
func (f *Forker) Fork(sessionKey string) (Result, error) {
	def, ok := parser.SourceByPrefix(sessionKey)
	if !ok {
		return Result{}, fmt.Errorf(
			"%s: unknown source: %w", sessionKey, ErrFork,
		)
	}
	if !def.Forkable {
		return Result{}, fmt.Errorf(
			"%s: %w", def.DisplayName, ErrUnsupportedSource,
		)
	}

	srcPath := f.engine.FindSourceFile(sessionKey)
	if srcPath == "" {
		return Result{}, fmt.Errorf(
			"%s: source file not found: %w", sessionKey, ErrFork,
		)
	}

	newID := newUUID()

	var newPath string
	var err error
	switch def.Type {
	case parser.SourceClaude:
		newPath, err = f.forkClaude(srcPath, newID)
	case parser.SourceCodex:
		newPath, err = f.forkCodex(srcPath, newID)
	default:
		return Result{}, fmt.Errorf(
			"%s: %w", def.DisplayName, ErrUnsupportedSource,
		)
	}
	if err != nil {
		return Result{}, fmt.Errorf("forking %s: %w (%w)",
			sessionKey, err, ErrFork)
	}

	newKey := def.KeyPrefix + newID
	if err := f.db.RegisterFork(
		newKey, string(def.Type), sessionKey, newPath,
	); err != nil {
		// The copy exists but lineage could not be recorded;
		// remove the copy so a retry starts clean.
		os.Remove(newPath)
		return Result{}, fmt.Errorf("forking %s: %w (%w)",
			sessionKey, err, ErrFork)
	}

	return Result{
		SessionKey:    newKey,
		ParentKey:     sessionKey,
		Path:          newPath,
		ResumeCommand: f.resumeCommand(def, newID),
	}, nil
}

// forkClaude copies a Claude transcript next to the original with
// every record's sessionId rewritten to newID. The filename stem
// is the session ID, so the copy is <newID>.jsonl.
func (f *Forker) forkClaude(srcPath, newID string) (string, error) {
	newPath := filepath.Join(filepath.Dir(srcPath), newID+".jsonl")
	return newPath, rewriteJSONL(srcPath, newPath,
		func(line string) (string, error) {
			if !gjson.Get(line, "sessionId").Exists() {
				return line, nil
			}
			return sjson.Set(line, "sessionId", newID)
		})
}

// forkCodex copies a Codex rollout into today's dated directory
// under the first configured root, with the session_meta payload
// carrying the new ID.
func (f *Forker) forkCodex(srcPath, newID string) (string, error) {
	now := time.Now()

	dir := filepath.Dir(srcPath)
	if roots := f.engine.SourceDirs(parser.SourceCodex); len(roots) > 0 {
		dir = filepath.Join(roots[0],
			now.Format("2006"), now.Format("01"), now.Format("02"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := fmt.Sprintf("rollout-%s-%s.jsonl",
		now.Format("2006-01-02T15-04-05"), newID)
	newPath := filepath.Join(dir, name)

	return newPath, rewriteJSONL(srcPath, newPath,
		func(line string) (string, error) {
			if gjson.Get(line, "type").Str != "session_meta" ||
				!gjson.Get(line, "payload").IsObject() {
				return line, nil
			}
			return sjson.Set(line, "payload.id", newID)
		})
}

// rewriteJSONL copies src line by line, applying transform to
// each JSON record. Rewrites are surgical (sjson), so key order,
// number representation, and all untouched bytes survive the
// copy. The output goes through a temp file renamed into place so
// readers never observe a partial copy. Non-JSON lines pass
// through unchanged.
func rewriteJSONL(
	src, dst string, transform func(line string) (string, error),
) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	var out strings.Builder
	out.Grow(len(data))
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if gjson.Valid(line) {
			rewritten, err := transform(line)
			if err != nil {
				return err
			}
			line = rewritten
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fork-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(out.String()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, dst)
}

// resumeCommand renders the shell command that resumes the fork
// in its native tool, honoring any configured launcher override.
func (f *Forker) resumeCommand(
	def parser.SourceDef, newID string,
) string {
	launcher := string(def.Type)
	if override := f.launchers[def.Type]; override != "" {
		launcher = override
	}

	args, err := shlex.Split(launcher)
	if err != nil || len(args) == 0 {
		args = []string{string(def.Type)}
	}

	switch def.Type {
	case parser.SourceCodex:
		args = append(args, "resume", newID)
	default:
		args = append(args, "--resume", newID, "--fork-session")
	}
	return strings.Join(args, " ")
}

// newUUID returns a random version 4 UUID string.
func newUUID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err) // crypto/rand does not fail on supported platforms
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x",
		b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
