package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/idempotency"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/impact"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/output"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/sqlparse"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/statecache"
)

var (
	fixFiles     bool
	withState    bool
	backupMaxAge time.Duration
	cleanBackups bool
)

var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Check migration files for statements that fail when re-run",
	Long: `Check migration files for statements that are not safe to run twice.

Without arguments every migration file on disk is checked. --fix rewrites
each file in place with existence guards, keeping the original as a
timestamped .bak next to it. --with-state also reports which existing tables
each file touches, using the cached system state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := newLoader(cfg)

		var paths []string
		if len(args) == 0 {
			files, err := loader.Discover()
			if err != nil {
				return err
			}
			for _, f := range files {
				paths = append(paths, f.Path)
			}
		} else {
			for _, arg := range args {
				f, err := loader.Resolve(arg)
				if err != nil {
					return err
				}
				paths = append(paths, f.Path)
			}
		}

		var snapshot *statecache.Snapshot
		if withState {
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if snapshot, err = a.cache.Get(cmd.Context(), false); err != nil {
				return err
			}
		}

		results, err := validateFiles(paths, fixFiles, snapshot)
		if err != nil {
			return err
		}

		if cleanBackups {
			for _, dir := range loader.Dirs() {
				removed, err := idempotency.CleanupBackups(dir, backupMaxAge, time.Now())
				if err != nil {
					logger.Warnf("Failed to clean backups in %s: %v", dir, err)
					continue
				}
				for _, r := range removed {
					logger.Infof("Removed old backup %s", r)
				}
			}
		}

		renderer().RenderValidation(results)
		if n := countNonIdempotent(results); n > 0 {
			return fmt.Errorf("%d file(s) are not idempotent", n)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&fixFiles, "fix", false, "Rewrite files in place with idempotency guards")
	validateCmd.Flags().BoolVar(&withState, "with-state", false, "Report tables each file touches using the system state")
	validateCmd.Flags().BoolVar(&cleanBackups, "clean-backups", false, "Remove .bak files older than --backup-max-age")
	validateCmd.Flags().DurationVar(&backupMaxAge, "backup-max-age", 7*24*time.Hour, "Age after which backups are removed")
}

// validateFiles checks each file, rewriting it first when fix is set.
// snapshot may be nil, in which case no impact or execution state is reported.
func validateFiles(paths []string, fix bool, snapshot *statecache.Snapshot) ([]output.FileValidation, error) {
	results := make([]output.FileValidation, 0, len(paths))
	for _, path := range paths {
		result := output.FileValidation{Path: path}
		if fix {
			processed, err := idempotency.ProcessFile(path)
			if err != nil {
				return nil, err
			}
			result.Fixed = processed.Changed
			result.BackupPath = processed.BackupPath
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		script := string(content)
		result.Statements = len(sqlparse.Split(script))
		result.Validation = idempotency.Validate(script)
		if snapshot != nil {
			result.Impact = impact.Analyze(script, snapshot)
			result.Executed = snapshot.MigrationExecuted(filepath.Base(path))
		}
		results = append(results, result)
	}
	return results, nil
}

func countNonIdempotent(results []output.FileValidation) int {
	n := 0
	for _, r := range results {
		if !r.Validation.IsIdempotent {
			n++
		}
	}
	return n
}
