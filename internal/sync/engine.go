// Package sync discovers session files across all configured
// sources and reconciles them into the database incrementally.
package sync

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"runtime"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/promptdex/promptdex/internal/db"
	"github.com/promptdex/promptdex/internal/parser"
	"github.com/promptdex/promptdex/internal/timeutil"
)

const maxWorkers = 8

// Engine orchestrates session file discovery and sync.
type Engine struct {
	db            *db.DB
	dirs          map[parser.SourceType][]string
	deleteOrphans bool

	syncMu     gosync.Mutex // serializes sync runs
	mu         gosync.RWMutex
	lastSync   time.Time
	lastReport Report
}

// NewEngine creates a sync engine reading from the given source
// root directories. With deleteOrphans, sessions whose files
// vanish are removed instead of being kept and flagged.
func NewEngine(
	database *db.DB,
	dirs map[parser.SourceType][]string,
	deleteOrphans bool,
) *Engine {
	return &Engine{
		db:            database,
		dirs:          dirs,
		deleteOrphans: deleteOrphans,
	}
}

// LastSync returns the time of the last completed sync.
func (e *Engine) LastSync() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// LastReport returns the report from the last sync.
func (e *Engine) LastReport() Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastReport
}

// Sync runs an incremental sync: unchanged files are skipped on
// size+mtime, then on content hash; everything else is re-parsed
// and swapped in atomically per file.
func (e *Engine) Sync(
	ctx context.Context, onProgress ProgressFunc,
) (Report, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	return e.run(ctx, onProgress, false)
}

// Rebuild wipes all ingested data and re-parses every file.
// Starred flags and fork lineage survive the wipe.
func (e *Engine) Rebuild(
	ctx context.Context, onProgress ProgressFunc,
) (Report, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	snap, err := e.db.SnapshotPreserved()
	if err != nil {
		return Report{}, err
	}
	if err := e.db.Reset(); err != nil {
		return Report{}, err
	}

	report, runErr := e.run(ctx, onProgress, true)
	if err := e.db.RestorePreserved(snap); err != nil {
		log.Printf("rebuild: restoring session meta: %v", err)
	}
	return report, runErr
}

// SyncPaths syncs only the given changed paths, ignoring any that
// don't match a known source file layout. Used by the watcher.
func (e *Engine) SyncPaths(
	ctx context.Context, paths []string,
) Report {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	files := e.classifyPaths(paths)
	if len(files) == 0 {
		return Report{}
	}

	t0 := time.Now()
	states, err := e.db.LoadFileStates()
	if err != nil {
		log.Printf("sync: loading file states: %v", err)
		return Report{}
	}

	var report Report
	results := e.startWorkers(ctx, files, states, false)
	for res := range results {
		e.apply(&report, res)
	}
	report.Duration = time.Since(t0)

	e.recordRun(report)
	if n := report.Imported + report.Updated; n > 0 {
		log.Printf("sync: %d file(s) updated", n)
	}
	return report
}

func (e *Engine) run(
	ctx context.Context, onProgress ProgressFunc, rebuild bool,
) (Report, error) {
	t0 := time.Now()
	if onProgress != nil {
		onProgress(Progress{Phase: PhaseDiscovering})
	}

	files := e.discoverAll()
	states, err := e.db.LoadFileStates()
	if err != nil {
		return Report{}, err
	}

	prog := Progress{Phase: PhaseSyncing, FilesTotal: len(files)}
	if onProgress != nil {
		onProgress(prog)
	}

	var report Report
	results := e.startWorkers(ctx, files, states, rebuild)
	for res := range results {
		e.apply(&report, res)
		prog.FilesDone++
		prog.SessionsIngested += len(res.sessions)
		if onProgress != nil {
			onProgress(prog)
		}
	}

	if err := ctx.Err(); err != nil {
		report.Duration = time.Since(t0)
		e.recordRun(report)
		return report, err
	}

	e.reconcileDeleted(&report, files, states)

	report.Duration = time.Since(t0)
	prog.Phase = PhaseDone
	if onProgress != nil {
		onProgress(prog)
	}

	e.recordRun(report)
	return report, nil
}

func (e *Engine) recordRun(report Report) {
	e.mu.Lock()
	e.lastSync = time.Now()
	e.lastReport = report
	e.mu.Unlock()
}

// reconcileDeleted handles tracked files that are gone from disk.
func (e *Engine) reconcileDeleted(
	report *Report,
	files []parser.DiscoveredFile,
	states map[string]db.FileState,
) {
	discovered := make(map[string]bool, len(files))
	for _, f := range files {
		discovered[f.Path] = true
	}

	for path, st := range states {
		if discovered[path] {
			continue
		}
		// Undiscovered but still present means the root moved out
		// of the configuration, not that the file was deleted.
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if _, err := e.db.RemoveFile(path, e.deleteOrphans); err != nil {
			report.RecordFailure(path, st.Source, errReason(err))
			continue
		}
		report.Deleted++
	}
}

// discoverAll walks every configured root of every source and
// returns the union, sorted by path for deterministic runs.
func (e *Engine) discoverAll() []parser.DiscoveredFile {
	var all []parser.DiscoveredFile
	for _, def := range parser.Registry {
		for _, dir := range e.dirs[def.Type] {
			if dir == "" {
				continue
			}
			all = append(all, def.DiscoverFunc(dir)...)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Path < all[j].Path
	})
	return all
}

type fileAction int

const (
	actionSkipped fileAction = iota
	actionImported
	actionUpdated
	actionFailed
)

type fileResult struct {
	file     parser.DiscoveredFile
	action   fileAction
	state    db.FileState
	sessions []db.SessionIngest
	reason   string // failure reason, when actionFailed
	persist  bool   // whether state needs writing
}

// startWorkers fans file processing out across a bounded pool.
// Workers only read and parse; all database writes happen on the
// collector side.
func (e *Engine) startWorkers(
	ctx context.Context,
	files []parser.DiscoveredFile,
	states map[string]db.FileState,
	rebuild bool,
) <-chan fileResult {
	workers := min(max(runtime.NumCPU(), 2), maxWorkers)

	jobs := make(chan parser.DiscoveredFile)
	results := make(chan fileResult, len(files))

	var wg gosync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range jobs {
				if ctx.Err() != nil {
					return
				}
				var prev *db.FileState
				if st, ok := states[file.Path]; ok {
					prev = &st
				}
				results <- e.processFile(file, prev, rebuild)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, f := range files {
			select {
			case <-ctx.Done():
				return
			case jobs <- f:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// processFile classifies one file against its stored state and
// parses it when changed. A failed parse never touches the
// sessions previously ingested from the file.
func (e *Engine) processFile(
	file parser.DiscoveredFile, prev *db.FileState, rebuild bool,
) fileResult {
	res := fileResult{file: file}
	res.state = db.FileState{
		Path:        file.Path,
		Source:      string(file.Source),
		ProcessedAt: timeutil.Format(time.Now().UTC()),
	}

	info, err := os.Stat(file.Path)
	if err != nil {
		// Unreadable by stat is transient from sync's point of
		// view: report the failure but leave any stored state
		// alone. Real deletions are reconciled separately.
		res = e.fail(res, prev, err)
		res.persist = false
		return res
	}
	size := info.Size()
	mtime := info.ModTime().UnixNano()
	res.state.Size = size
	res.state.Mtime = mtime

	if !rebuild && prev != nil &&
		prev.Size == size && prev.Mtime == mtime {
		// Unchanged by stat. A previously failed file stays
		// failed without a re-parse until its content changes.
		if prev.Outcome == db.OutcomeFailed {
			res.action = actionFailed
			res.reason = prev.Error
			return res
		}
		res.action = actionSkipped
		return res
	}

	hash, err := ComputeFileHash(file.Path)
	if err != nil {
		return e.fail(res, prev, err)
	}
	res.state.Hash = hash

	if !rebuild && prev != nil && prev.Hash == hash &&
		prev.Outcome != db.OutcomeFailed {
		// Content identical despite new stat values; refresh the
		// stored size/mtime so the next pass skips on stat alone.
		res.action = actionSkipped
		res.state.Outcome = db.OutcomeSkipped
		res.persist = true
		return res
	}

	parsed, err := parseSourceFile(file)
	if err != nil {
		return e.fail(res, prev, err)
	}
	if len(parsed) == 0 {
		// Non-interactive content, nothing to ingest.
		res.action = actionSkipped
		res.state.Outcome = db.OutcomeSkipped
		res.persist = true
		return res
	}

	res.sessions = make([]db.SessionIngest, len(parsed))
	for i := range parsed {
		parsed[i].Session.File.Hash = hash
		res.sessions[i] = toIngest(parsed[i])
	}

	if prev != nil {
		res.action = actionUpdated
		res.state.Outcome = db.OutcomeUpdated
	} else {
		res.action = actionImported
		res.state.Outcome = db.OutcomeImported
	}
	res.persist = true
	return res
}

// fail builds a failed result. Persist only when the failure is
// new so a repeated broken file does not churn writes.
func (e *Engine) fail(
	res fileResult, prev *db.FileState, err error,
) fileResult {
	res.action = actionFailed
	res.reason = errReason(err)
	res.state.Outcome = db.OutcomeFailed
	res.state.Error = res.reason
	res.persist = prev == nil || prev.Error != res.reason
	return res
}

// apply commits one file result to the database and report.
func (e *Engine) apply(report *Report, res fileResult) {
	switch res.action {
	case actionSkipped:
		report.Skipped++
		if res.persist {
			if err := e.db.RecordFileSkipped(res.state); err != nil {
				log.Printf("sync: recording %s: %v", res.file.Path, err)
			}
		}
	case actionFailed:
		report.RecordFailure(
			res.file.Path, string(res.file.Source), res.reason,
		)
		if res.persist {
			if err := e.db.RecordFileFailure(res.state); err != nil {
				log.Printf("sync: recording %s: %v", res.file.Path, err)
			}
		}
	case actionImported, actionUpdated:
		if err := e.db.ReplaceFileSessions(
			res.state, res.sessions,
		); err != nil {
			report.RecordFailure(
				res.file.Path, string(res.file.Source), errReason(err),
			)
			return
		}
		if res.action == actionImported {
			report.Imported++
		} else {
			report.Updated++
		}
	}
}

// parseSourceFile dispatches to the parser for the file's source.
func parseSourceFile(
	file parser.DiscoveredFile,
) ([]parser.ParseResult, error) {
	switch file.Source {
	case parser.SourceClaude:
		return parser.ParseClaudeFile(file.Path)
	case parser.SourceCodex:
		return parser.ParseCodexFile(file.Path)
	case parser.SourceCursor:
		return parser.ParseCursorStore(file.Path)
	case parser.SourceAider:
		return parser.ParseAiderHistory(file.Path)
	case parser.SourceGemini:
		return parser.ParseGeminiFile(file.Path, file.Project)
	case parser.SourceAmp:
		return parser.ParseAmpFile(file.Path)
	default:
		return nil, nil
	}
}

// toIngest converts a parse result into database rows.
func toIngest(res parser.ParseResult) db.SessionIngest {
	sess := res.Session
	row := db.Session{
		SessionKey:       sess.Key,
		Source:           string(sess.Source),
		Project:          sess.Project,
		Title:            sess.Title,
		Model:            sess.Model,
		StartedAt:        timeutil.Ptr(sess.StartedAt),
		EndedAt:          timeutil.Ptr(sess.EndedAt),
		MessageCount:     sess.MessageCount,
		UserMessageCount: sess.UserMessageCount,
		TokensUsed:       sess.TokensUsed,
		FilePath:         sess.File.Path,
		FileSize:         sess.File.Size,
		FileMtime:        sess.File.Mtime,
		FileHash:         sess.File.Hash,
	}

	msgs := make([]db.Message, len(res.Messages))
	for i, m := range res.Messages {
		msgs[i] = db.Message{
			SessionKey: sess.Key,
			Ordinal:    m.Ordinal,
			Role:       string(m.Role),
			Content:    m.Content,
			Timestamp:  timeutil.Format(m.Timestamp),
			Meta:       encodeMeta(m.Meta),
		}
	}
	return db.SessionIngest{Session: row, Messages: msgs}
}

func encodeMeta(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(b)
}

// errReason renders an error for the failure report, keeping it
// to a single line.
func errReason(err error) string {
	s := err.Error()
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// FindSourceFile locates the on-disk file backing a session key,
// or "" when the source layout doesn't support direct lookup.
func (e *Engine) FindSourceFile(sessionKey string) string {
	def, ok := parser.SourceByPrefix(sessionKey)
	if !ok || def.FindSourceFunc == nil {
		return ""
	}
	rawID := parser.StripKeyPrefix(def, sessionKey)
	for _, dir := range e.dirs[def.Type] {
		if f := def.FindSourceFunc(dir, rawID); f != "" {
			return f
		}
	}
	return ""
}

// SourceDirs returns the configured roots for a source.
func (e *Engine) SourceDirs(t parser.SourceType) []string {
	return e.dirs[t]
}
