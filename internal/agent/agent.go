// Package agent ties generation, idempotency processing, impact analysis and
// execution together for adding new tables without duplicating existing ones.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/executor"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/generator"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/idempotency"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/impact"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/statecache"
)

// StateCache is the part of statecache.Cache the agent uses
type StateCache interface {
	Get(ctx context.Context, force bool) (*statecache.Snapshot, error)
	Invalidate(ctx context.Context) error
	TableExists(ctx context.Context, table string) (bool, error)
}

// Generator produces migration SQL for a table request
type Generator interface {
	Generate(ctx context.Context, req *generator.TableRequest) (string, error)
}

// Runner executes a migration file
type Runner interface {
	ExecuteMigration(ctx context.Context, path string) *executor.MigrationResult
}

// Options control AddTable
type Options struct {
	// Execute runs the written migration immediately
	Execute bool
	// DryRun returns the SQL without writing a file
	DryRun bool
}

// AddTableResult reports what AddTable did
type AddTableResult struct {
	Table      string                    `json:"table"`
	Skipped    bool                      `json:"skipped"`
	Reason     string                    `json:"reason,omitempty"`
	Path       string                    `json:"path,omitempty"`
	SQL        string                    `json:"sql,omitempty"`
	Validation idempotency.Report        `json:"validation"`
	Impact     *impact.Report            `json:"impact,omitempty"`
	Execution  *executor.MigrationResult `json:"execution,omitempty"`
}

// Agent adds tables to the target database through migration files
type Agent struct {
	cache     StateCache
	generator Generator
	runner    Runner
	dir       string
	processor *idempotency.Processor
	now       func() time.Time
}

// New creates an agent writing migrations into dir. runner may be nil when
// migrations are never executed directly.
func New(cache StateCache, gen Generator, runner Runner, dir string) *Agent {
	return &Agent{
		cache:     cache,
		generator: gen,
		runner:    runner,
		dir:       dir,
		processor: idempotency.NewProcessor(),
		now:       time.Now,
	}
}

// AddTable creates a migration for req unless the table already exists
func (a *Agent) AddTable(ctx context.Context, req *generator.TableRequest, opts Options) (*AddTableResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	result := &AddTableResult{Table: req.Table}

	snapshot, err := a.cache.Get(ctx, false)
	if err != nil {
		logger.Warnf("System state unavailable, continuing without it: %v", err)
		snapshot = nil
	}

	exists, err := a.tableExists(ctx, snapshot, req.Table)
	if err != nil {
		return nil, err
	}
	if exists {
		logger.Infof("Table %s already exists, skipping", req.Table)
		result.Skipped = true
		result.Reason = "table already exists"
		return result, nil
	}

	if snapshot != nil && len(req.ExistingTables) == 0 {
		req.ExistingTables = snapshot.Database.Tables
	}
	sql, err := a.generator.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	filename := executor.NewFilename(a.now(), "create_"+req.Table)
	result.SQL = a.processor.Process(sql, strings.TrimSuffix(filename, ".sql"))
	result.Validation = idempotency.Validate(result.SQL)
	result.Impact = impact.Analyze(result.SQL, snapshot)

	if !result.Validation.IsIdempotent {
		for _, issue := range result.Validation.Issues {
			logger.Warnf("Idempotency issue in %s: %s", filename, issue)
		}
	}
	if result.Impact.RequiresIdempotencyReview() {
		logger.Warnf("Migration %s touches existing tables %v; review idempotency before running it",
			filename, result.Impact.TablesModified)
	}

	if opts.DryRun {
		return result, nil
	}

	path, err := a.write(filename, result.SQL)
	if err != nil {
		return nil, err
	}
	result.Path = path
	logger.Infof("Wrote migration %s", path)

	if !opts.Execute {
		return result, nil
	}
	if a.runner == nil {
		return result, fmt.Errorf("cannot execute %s: no executor configured", filename)
	}

	result.Execution = a.runner.ExecuteMigration(ctx, path)
	if err := a.cache.Invalidate(ctx); err != nil {
		logger.Warnf("Could not invalidate system state cache: %v", err)
	}
	if !result.Execution.Success {
		return result, fmt.Errorf("migration %s failed: %s", filename, result.Execution.Error)
	}
	return result, nil
}

// tableExists asks the live database. The snapshot is only a hint: when the
// live check fails, a table listed in the snapshot is treated as present.
func (a *Agent) tableExists(ctx context.Context, snapshot *statecache.Snapshot, table string) (bool, error) {
	listed := snapshot != nil && snapshot.HasTable(table)
	exists, err := a.cache.TableExists(ctx, table)
	if err == nil {
		if listed && !exists {
			logger.Debugf("Table %s is in cached state but not in the database", table)
		}
		return exists, nil
	}
	if listed {
		logger.Warnf("Could not verify table %s (%v); cached state lists it", table, err)
		return true, nil
	}
	logger.Warnf("Could not verify table %s: %v", table, err)
	return false, nil
}

func (a *Agent) write(filename, sql string) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create migration directory: %w", err)
	}
	path := filepath.Join(a.dir, filename)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create migration %s: %w", filename, err)
	}
	if _, err := f.WriteString(sql); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write migration %s: %w", filename, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write migration %s: %w", filename, err)
	}
	return path, nil
}
