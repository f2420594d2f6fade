package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/promptdex/promptdex/internal/config"
	"github.com/promptdex/promptdex/internal/db"
	"github.com/promptdex/promptdex/internal/sync"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const watcherDebounce = 500 * time.Millisecond

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "sync":
		runSync(os.Args[2:])
	case "rebuild":
		runRebuild(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "sessions":
		runSessions(os.Args[2:])
	case "projects":
		runProjects(os.Args[2:])
	case "sources":
		runSources(os.Args[2:])
	case "show":
		runShow(os.Args[2:])
	case "search":
		runSearch(os.Args[2:])
	case "star":
		runStar(os.Args[2:], true)
	case "unstar":
		runStar(os.Args[2:], false)
	case "fork":
		runFork(os.Args[2:])
	case "info":
		runInfo(os.Args[2:])
	case "clean":
		runClean(os.Args[2:])
	case "update":
		runUpdate(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("promptdex %s (commit %s, built %s)\n",
			version, commit, buildDate)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "promptdex: unknown command %q\n\n",
			os.Args[1])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Printf(`promptdex %s - index and search AI coding sessions

Usage:
  promptdex <command> [flags]

Commands:
  sync       Scan source directories and update the index
  rebuild    Wipe the index and re-ingest everything
  watch      Sync, then keep the index current as files change
  sessions   List indexed sessions
  projects   List projects with session counts
  sources    List sources with session counts
  show       Print a session transcript
  search     Full-text search across messages
  star       Star a session
  unstar     Unstar a session
  fork       Clone a session under a new ID for resumption
  info       Show index diagnostics
  clean      Remove orphaned sessions and compact the index
  update     Check for and install a newer release
  version    Print version information
  help       Show this help

Global flags (accepted by every command):
  -data-dir string
        Data directory (default ~/.promptdex)
  -orphan-policy string
        What to do with sessions whose files vanish:
        keep or delete (default keep)

Environment variables:
  PROMPTDEX_DATA_DIR    Override the data directory
  CLAUDE_PROJECTS_DIR   Claude Code projects directory
  CODEX_SESSIONS_DIR    Codex sessions directory
  CURSOR_DIR            Cursor home directory
  AIDER_HISTORY_DIR     Directory scanned for aider histories
  GEMINI_DIR            Gemini CLI home directory
  AMP_DATA_DIR          Amp data directory

Run 'promptdex <command> -h' for command-specific flags.
`, version)
}

// newFlagSet creates a named FlagSet carrying the global flags.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	config.RegisterGlobalFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: promptdex %s [flags]\n\nFlags:\n",
			name)
		fs.PrintDefaults()
	}
	return fs
}

func mustLoadConfig(fs *flag.FlagSet) config.Config {
	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	return cfg
}

func mustOpenDB(cfg config.Config) *db.DB {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("opening database %s: %v", cfg.DBPath, err)
	}
	return database
}

func newEngine(cfg config.Config, database *db.DB) *sync.Engine {
	return sync.NewEngine(database, cfg.SourceDirs, cfg.DeleteOrphans())
}

// printSyncProgress renders in-place progress on a terminal line.
func printSyncProgress(p sync.Progress) {
	if p.FilesTotal == 0 {
		return
	}
	fmt.Printf("\r  %d/%d files (%.0f%%)",
		p.FilesDone, p.FilesTotal, p.Percent())
}

func printSyncReport(report sync.Report) {
	fmt.Printf("\r  imported %d, updated %d, skipped %d, "+
		"failed %d, deleted %d in %s\n",
		report.Imported, report.Updated, report.Skipped,
		report.Failed, report.Deleted,
		report.Duration.Round(time.Millisecond))
	for _, f := range report.Failures {
		fmt.Printf("  failed: %s (%s): %s\n", f.Path, f.Source, f.Reason)
	}
}
