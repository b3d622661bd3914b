package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/executor"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/sqlparse"
)

var (
	assumeYes   bool
	executedBy  string
	errDeclined = errors.New("rollback cancelled")
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [files...]",
	Short: "Apply pending migrations, or the given files in order",
	Long: `Apply migrations one statement at a time.

Without arguments every migration file that has no tracking record is applied
in filename order. With arguments the given files are applied in the order
listed. The run stops at the first failing file; a script for manual
execution is written when the database cannot run statements directly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := executor.WithExecutedBy(cmd.Context(), executedBy)
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var results []*executor.MigrationResult
		if len(args) == 0 {
			results, err = a.exec.RunPending(ctx)
			if err != nil {
				return err
			}
		} else {
			paths := make([]string, 0, len(args))
			for _, arg := range args {
				file, err := a.exec.Loader().Resolve(arg)
				if err != nil {
					return err
				}
				paths = append(paths, file.Path)
			}
			results = a.exec.ExecuteMigrations(ctx, paths)
		}

		if anyApplied(results) {
			a.invalidateState(ctx)
		}
		renderer().RenderResults(results)

		if n := len(results); n > 0 && !results[n-1].Success {
			return fmt.Errorf("migration %s failed", results[n-1].Migration.Filename)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show executed, pending and orphaned migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.exec.Status(cmd.Context())
		if err != nil {
			return err
		}
		renderer().RenderStatus(status)
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <filename>",
	Short: "Run the stored rollback SQL of an executed migration",
	Long: `Run the rollback SQL captured when the migration was applied and remove
its tracking record. Statements that could not be reversed automatically
(data changes, dropped objects) are not undone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := confirm(fmt.Sprintf("Roll back %s", args[0]), assumeYes, isInteractive(), promptConfirm); err != nil {
			return err
		}

		ctx := executor.WithExecutedBy(cmd.Context(), executedBy)
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.exec.Rollback(ctx, args[0])
		if result != nil {
			renderer().RenderRollback(result)
		}
		if err != nil {
			return err
		}
		a.invalidateState(ctx)
		return nil
	},
}

var debugCmd = &cobra.Command{
	Use:   "debug-sql <file>",
	Short: "Show how a migration file splits into statements",
	Long: `Parse a migration file without touching the database and print each
statement with its line, kind and lint result, the idempotency issues and the
rollback that would be recorded. The split is cross-checked against the
PostgreSQL grammar.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := newLoader(cfg).Resolve(args[0])
		if err != nil {
			return err
		}
		report, err := executor.Debug(file.Path)
		if err != nil {
			return err
		}
		renderer().RenderDebug(report)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [tables...]",
	Short: "Compare expected tables with the live database",
	Long: `Check that the expected tables exist and report unexpected ones.

Without arguments the expected tables are those created by the migration
files on disk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		expected := args
		if len(expected) == 0 {
			files, err := a.exec.Loader().Discover()
			if err != nil {
				return err
			}
			if expected, err = createdTables(files); err != nil {
				return err
			}
		}

		report, err := a.exec.VerifyDatabaseSchema(cmd.Context(), expected)
		if err != nil {
			return err
		}
		renderer().RenderSchema(report)
		if !report.Valid {
			return fmt.Errorf("%d expected table(s) missing", len(report.Missing))
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&executedBy, "executed-by", "cli", "Name recorded with migration events")
	rollbackCmd.Flags().StringVar(&executedBy, "executed-by", "cli", "Name recorded with migration events")
	rollbackCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
}

func anyApplied(results []*executor.MigrationResult) bool {
	for _, r := range results {
		if r.Outcome == executor.OutcomeSuccess {
			return true
		}
	}
	return false
}

// createdTables lists the tables created by files, sorted and without duplicates
func createdTables(files []executor.MigrationFile) ([]string, error) {
	seen := make(map[string]bool)
	var tables []string
	for _, f := range files {
		content, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Path, err)
		}
		for _, t := range sqlparse.CreatedTables(string(content)) {
			t = strings.ToLower(t)
			if !seen[t] {
				seen[t] = true
				tables = append(tables, t)
			}
		}
	}
	sort.Strings(tables)
	return tables, nil
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func promptConfirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	_, err := prompt.Run()
	if errors.Is(err, promptui.ErrAbort) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// confirm asks before a destructive action. Non-interactive sessions must
// pass --yes.
func confirm(label string, yes, interactive bool, ask func(string) (bool, error)) error {
	if yes {
		return nil
	}
	if !interactive {
		return fmt.Errorf("%s requires confirmation; re-run with --yes", strings.ToLower(label[:1])+label[1:])
	}
	ok, err := ask(label)
	if err != nil {
		return err
	}
	if !ok {
		return errDeclined
	}
	return nil
}
