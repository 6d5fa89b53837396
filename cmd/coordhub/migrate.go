package main

import (
	"flag"
	"fmt"

	"github.com/leapmux/leapmux/internal/historystore/migrate"
)

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	sessionDir := fs.String("session-dir", "", "legacy session directory containing root.json")
	dryRun := fs.Bool("dry-run", false, "write migrated output to a sibling .migration-preview directory instead of in place")
	_ = fs.Parse(args)

	if *sessionDir == "" {
		return fmt.Errorf("migrate: --session-dir is required")
	}

	stats, err := migrate.Migrate(*sessionDir, *dryRun)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	fmt.Printf("migrated %s\n", stats.SessionDir)
	fmt.Printf("  messages: %d\n", stats.MessageCount)
	fmt.Printf("  usage records: %d\n", stats.UsageCount)
	fmt.Printf("  files created: %d\n", len(stats.FilesCreated))
	if stats.DryRun {
		fmt.Println("  dry run: no files were modified in place")
	} else {
		fmt.Printf("  files backed up: %d\n", len(stats.FilesBackedUp))
	}
	return nil
}
