package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/promptdex/promptdex/internal/update"
)

func runUpdate(args []string) {
	fs := newFlagSet("update")
	check := fs.Bool("check", false,
		"Check for updates without installing")
	yes := fs.Bool("yes", false,
		"Install without confirmation prompt")
	force := fs.Bool("force", false,
		"Force check (ignore cache)")
	fs.Parse(args)

	cfg := mustLoadConfig(fs)

	checker := update.NewChecker(cfg.DataDir, cfg.GithubToken)
	info, err := checker.Check(version, *force)
	if err != nil {
		log.Fatalf("checking for updates: %v", err)
	}

	if info == nil {
		fmt.Printf("promptdex %s is up to date.\n", version)
		return
	}

	if info.IsDevBuild {
		fmt.Printf("Running dev build (%s). Latest release: %s\n",
			info.CurrentVersion, info.LatestVersion)
	} else {
		fmt.Printf("Update available: %s -> %s",
			info.CurrentVersion, info.LatestVersion)
		if info.Size > 0 {
			fmt.Printf(" (%s)", update.FormatSize(info.Size))
		}
		fmt.Println()
	}
	if *check {
		return
	}

	if !*yes {
		fmt.Print("Install update? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Update cancelled.")
			return
		}
	}

	fmt.Printf("Downloading %s...\n", info.AssetName)
	progressFn := func(downloaded, total int64) {
		if total > 0 {
			pct := float64(downloaded) / float64(total) * 100
			fmt.Printf("\r  %s / %s (%.0f%%)",
				update.FormatSize(downloaded),
				update.FormatSize(total), pct)
		}
	}

	if err := checker.Install(info, progressFn); err != nil {
		fmt.Println()
		log.Fatalf("update failed: %v", err)
	}
	fmt.Println("\nUpdate installed. Restart promptdex to use it.")
}
