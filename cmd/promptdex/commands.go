package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/promptdex/promptdex/internal/config"
	"github.com/promptdex/promptdex/internal/db"
	"github.com/promptdex/promptdex/internal/fork"
	"github.com/promptdex/promptdex/internal/parser"
	"github.com/promptdex/promptdex/internal/sync"
	"github.com/promptdex/promptdex/internal/update"
)

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encoding output: %v", err)
	}
}

func runSync(args []string) {
	fs := newFlagSet("sync")
	quiet := fs.Bool("quiet", false, "Suppress progress output")
	fs.Parse(args)

	cfg := mustLoadConfig(fs)
	database := mustOpenDB(cfg)
	defer database.Close()

	engine := newEngine(cfg, database)
	onProgress := printSyncProgress
	if *quiet {
		onProgress = nil
	}
	report, err := engine.Sync(context.Background(), onProgress)
	if err != nil {
		log.Fatalf("sync: %v", err)
	}
	printSyncReport(report)
}

func runRebuild(args []string) {
	fs := newFlagSet("rebuild")
	fs.Parse(args)

	cfg := mustLoadConfig(fs)
	database := mustOpenDB(cfg)
	defer database.Close()

	engine := newEngine(cfg, database)
	report, err := engine.Rebuild(context.Background(), printSyncProgress)
	if err != nil {
		log.Fatalf("rebuild: %v", err)
	}
	printSyncReport(report)
}

func runWatch(args []string) {
	fs := newFlagSet("watch")
	interval := fs.Duration("interval", sync.DefaultSyncInterval,
		"Safety-net full sync interval")
	fs.Parse(args)

	cfg := mustLoadConfig(fs)
	database := mustOpenDB(cfg)
	defer database.Close()

	engine := newEngine(cfg, database)

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	fmt.Println("Initial sync...")
	report, err := engine.Sync(ctx, printSyncProgress)
	if err != nil {
		log.Fatalf("sync: %v", err)
	}
	printSyncReport(report)

	watcher, err := sync.NewWatcher(watcherDebounce,
		func(paths []string) {
			engine.SyncPaths(context.Background(), paths)
		})
	if err != nil {
		log.Fatalf("starting watcher: %v", err)
	}
	defer watcher.Stop()

	watchSourceDirs(cfg, watcher)
	watcher.Start()

	fmt.Println("Watching for changes (Ctrl-C to stop)...")
	sync.RunPeriodic(ctx, engine, *interval)
}

// watchSourceDirs registers every existing source root with the
// watcher. Sources that write under a subdirectory (Gemini keeps
// chats under tmp/) watch that subdirectory instead of the root.
func watchSourceDirs(cfg config.Config, watcher *sync.Watcher) {
	total := 0
	for _, def := range parser.Registry {
		for _, dir := range cfg.SourceDirs[def.Type] {
			if def.WatchSubdir != "" {
				dir = filepath.Join(dir, def.WatchSubdir)
			}
			if _, err := os.Stat(dir); err != nil {
				continue
			}
			watched, failed, err := watcher.WatchRecursive(dir)
			if err != nil {
				log.Printf("watch %s: %v", dir, err)
				continue
			}
			total += watched
			if failed > 0 {
				log.Printf("watch %s: %d subdirectories skipped",
					dir, failed)
			}
		}
	}
	fmt.Printf("Watching %d directories\n", total)
}

func runSessions(args []string) {
	fs := newFlagSet("sessions")
	source := fs.String("source", "", "Filter by source")
	project := fs.String("project", "", "Filter by project")
	starred := fs.Bool("starred", false, "Only starred sessions")
	limit := fs.Int("limit", db.DefaultSessionLimit, "Max sessions")
	offset := fs.Int("offset", 0, "Pagination offset")
	asJSON := fs.Bool("json", false, "Output JSON")
	fs.Parse(args)

	cfg := mustLoadConfig(fs)
	database := mustOpenDB(cfg)
	defer database.Close()

	filter := db.SessionFilter{
		Source:  *source,
		Project: *project,
		Limit:   *limit,
		Offset:  *offset,
	}
	if *starred {
		v := true
		filter.Starred = &v
	}
	page, err := database.ListSessions(context.Background(), filter)
	if err != nil {
		log.Fatalf("listing sessions: %v", err)
	}

	if *asJSON {
		printJSON(page)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSOURCE\tPROJECT\tMSGS\tSTARTED\tTITLE")
	for _, s := range page.Sessions {
		star := " "
		if s.Starred {
			star = "*"
		}
		started := ""
		if s.StartedAt != nil {
			started = *s.StartedAt
		}
		fmt.Fprintf(w, "%s%s\t%s\t%s\t%d\t%s\t%s\n",
			star, s.SessionKey, s.Source, s.Project,
			s.MessageCount, started, truncate(s.Title, 60))
	}
	w.Flush()
	fmt.Printf("%d of %d session(s)", len(page.Sessions), page.Total)
	if page.HasMore {
		fmt.Printf(" (more with -offset %d)", *offset+len(page.Sessions))
	}
	fmt.Println()
}

func runProjects(args []string) {
	fs := newFlagSet("projects")
	source := fs.String("source", "", "Filter by source")
	asJSON := fs.Bool("json", false, "Output JSON")
	fs.Parse(args)

	cfg := mustLoadConfig(fs)
	database := mustOpenDB(cfg)
	defer database.Close()

	projects, err := database.GetProjects(context.Background(), *source)
	if err != nil {
		log.Fatalf("listing projects: %v", err)
	}
	if *asJSON {
		printJSON(projects)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tSESSIONS")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%d\n", p.Name, p.SessionCount)
	}
	w.Flush()
}

func runSources(args []string) {
	fs := newFlagSet("sources")
	asJSON := fs.Bool("json", false, "Output JSON")
	fs.Parse(args)

	cfg := mustLoadConfig(fs)
	database := mustOpenDB(cfg)
	defer database.Close()

	sources, err := database.GetSources(context.Background())
	if err != nil {
		log.Fatalf("listing sources: %v", err)
	}
	if *asJSON {
		printJSON(sources)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tSESSIONS")
	for _, s := range sources {
		fmt.Fprintf(w, "%s\t%d\n", s.Name, s.SessionCount)
	}
	w.Flush()
}

func runShow(args []string) {
	fs := newFlagSet("show")
	asJSON := fs.Bool("json", false, "Output JSON")
	fs.Parse(args)
	if fs.NArg() != 1 {
		log.Fatal("usage: promptdex show <session-key>")
	}
	key := fs.Arg(0)

	cfg := mustLoadConfig(fs)
	database := mustOpenDB(cfg)
	defer database.Close()

	ctx := context.Background()
	sess, err := database.GetSession(ctx, key)
	if err != nil {
		log.Fatalf("loading session: %v", err)
	}
	if sess == nil {
		log.Fatalf("session %s not found", key)
	}
	msgs, err := database.GetTranscript(ctx, key)
	if err != nil {
		log.Fatalf("loading transcript: %v", err)
	}

	if *asJSON {
		printJSON(struct {
			Session  *db.Session  `json:"session"`
			Messages []db.Message `json:"messages"`
		}{sess, msgs})
		return
	}

	fmt.Printf("Session:  %s (%s)\n", sess.SessionKey, sess.Source)
	fmt.Printf("Project:  %s\n", sess.Project)
	if sess.Title != "" {
		fmt.Printf("Title:    %s\n", sess.Title)
	}
	if sess.ForkedFrom != nil {
		fmt.Printf("Forked:   from %s\n", *sess.ForkedFrom)
	}
	fmt.Printf("Messages: %d\n\n", sess.MessageCount)
	for _, m := range msgs {
		ts := ""
		if m.Timestamp != "" {
			ts = " " + m.Timestamp
		}
		fmt.Printf("[%s]%s\n%s\n\n", m.Role, ts, m.Content)
	}
}

func runSearch(args []string) {
	fs := newFlagSet("search")
	source := fs.String("source", "", "Filter by source")
	project := fs.String("project", "", "Filter by project")
	starred := fs.Bool("starred", false, "Only starred sessions")
	limit := fs.Int("limit", db.DefaultSearchLimit, "Max results")
	offset := fs.Int("offset", 0, "Pagination offset")
	asJSON := fs.Bool("json", false, "Output JSON")
	fs.Parse(args)
	if fs.NArg() == 0 {
		log.Fatal("usage: promptdex search [flags] <query>")
	}

	cfg := mustLoadConfig(fs)
	database := mustOpenDB(cfg)
	defer database.Close()

	filter := db.SearchFilter{
		Query:   strings.Join(fs.Args(), " "),
		Source:  *source,
		Project: *project,
		Limit:   *limit,
		Offset:  *offset,
	}
	if *starred {
		v := true
		filter.Starred = &v
	}
	page, err := database.Search(context.Background(), filter)
	if err != nil {
		log.Fatalf("search: %v", err)
	}

	if *asJSON {
		printJSON(page)
		return
	}
	for _, r := range page.Results {
		snippet := strings.NewReplacer(
			"<mark>", "", "</mark>", "", "\n", " ",
		).Replace(r.Snippet)
		fmt.Printf("%s #%d (%s, %s)\n  %s\n",
			r.SessionKey, r.Ordinal, r.Role, r.Project, snippet)
	}
	fmt.Printf("%d result(s)", len(page.Results))
	if page.NextOffset > 0 {
		fmt.Printf(" (more with -offset %d)", page.NextOffset)
	}
	fmt.Println()
}

func runStar(args []string, starred bool) {
	name := "star"
	if !starred {
		name = "unstar"
	}
	fs := newFlagSet(name)
	fs.Parse(args)
	if fs.NArg() != 1 {
		log.Fatalf("usage: promptdex %s <session-key>", name)
	}
	key := fs.Arg(0)

	cfg := mustLoadConfig(fs)
	database := mustOpenDB(cfg)
	defer database.Close()

	if err := database.SetStarred(key, starred); err != nil {
		log.Fatalf("%s %s: %v", name, key, err)
	}
	fmt.Printf("%sred %s\n", name, key)
}

func runFork(args []string) {
	fs := newFlagSet("fork")
	asJSON := fs.Bool("json", false, "Output JSON")
	fs.Parse(args)
	if fs.NArg() != 1 {
		log.Fatal("usage: promptdex fork <session-key>")
	}
	key := fs.Arg(0)

	cfg := mustLoadConfig(fs)
	database := mustOpenDB(cfg)
	defer database.Close()

	engine := newEngine(cfg, database)
	res, err := fork.New(database, engine, cfg.Launchers).Fork(key)
	if err != nil {
		log.Fatalf("fork %s: %v", key, err)
	}

	if *asJSON {
		printJSON(res)
		return
	}
	fmt.Printf("Forked %s\n  new session: %s\n  file:        %s\n"+
		"  resume with: %s\n",
		res.ParentKey, res.SessionKey, res.Path, res.ResumeCommand)
}

func runInfo(args []string) {
	fs := newFlagSet("info")
	asJSON := fs.Bool("json", false, "Output JSON")
	fs.Parse(args)

	cfg := mustLoadConfig(fs)
	database := mustOpenDB(cfg)
	defer database.Close()

	info, err := database.GetInfo(context.Background())
	if err != nil {
		log.Fatalf("reading info: %v", err)
	}
	if *asJSON {
		printJSON(info)
		return
	}
	fmt.Printf("Database:  %s (%s",
		info.Path, update.FormatSize(info.FileSize))
	if info.WALSize > 0 {
		fmt.Printf(" + %s WAL", update.FormatSize(info.WALSize))
	}
	fmt.Println(")")
	fmt.Printf("Schema:    v%d\n", info.SchemaVersion)
	fmt.Printf("FTS:       %v\n", info.FTSAvailable)
	fmt.Printf("Sessions:  %d (%d starred, %d orphaned)\n",
		info.SessionCount, info.StarredCount, info.OrphanedCount)
	fmt.Printf("Messages:  %d\n", info.MessageCount)
	fmt.Printf("Files:     %d\n", info.FileCount)
	fmt.Printf("Projects:  %d\n", info.ProjectCount)
	if info.OldestSession != "" {
		fmt.Printf("Range:     %s .. %s\n",
			info.OldestSession, info.NewestSession)
	}
}

func runClean(args []string) {
	fs := newFlagSet("clean")
	dryRun := fs.Bool("dry-run", false, "Report without removing")
	fs.Parse(args)

	cfg := mustLoadConfig(fs)
	database := mustOpenDB(cfg)
	defer database.Close()

	// Orphaned sessions go only under the delete orphan policy.
	report, err := database.Clean(*dryRun, cfg.DeleteOrphans())
	if err != nil {
		log.Fatalf("clean: %v", err)
	}
	verb := "removed"
	if report.DryRun {
		verb = "would remove"
	}
	if report.OrphansRemoved {
		fmt.Printf("%s %d orphaned session(s)\n",
			verb, report.OrphanedSessions)
	} else if report.OrphanedSessions > 0 {
		fmt.Printf("kept %d orphaned session(s) (orphan_policy keep)\n",
			report.OrphanedSessions)
	}
	fmt.Printf("%s %d stale file record(s)\n",
		verb, report.StaleFileStates)
	if !report.DryRun && report.BytesReclaimed > 0 {
		fmt.Printf("reclaimed %s\n",
			update.FormatSize(report.BytesReclaimed))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
