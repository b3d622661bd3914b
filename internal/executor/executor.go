package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/backends"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/events"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/rollback"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/sqlparse"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/state"
)

var (
	// ErrMigrationNotFound is returned when a migration file or tracking record does not exist
	ErrMigrationNotFound = errors.New("migration not found")

	// ErrRollbackUnavailable is returned when a migration was recorded without rollback SQL
	ErrRollbackUnavailable = errors.New("no rollback available")
)

// Context keys for execution metadata
type contextKey string

const executedByKey contextKey = "executed_by"

// WithExecutedBy records who triggered an execution; it is attached to published events
func WithExecutedBy(ctx context.Context, executedBy string) context.Context {
	return context.WithValue(ctx, executedByKey, executedBy)
}

// ExecutedBy returns the value set by WithExecutedBy, or "system"
func ExecutedBy(ctx context.Context) string {
	if s, ok := ctx.Value(executedByKey).(string); ok && s != "" {
		return s
	}
	return "system"
}

// Outcome is the terminal state of one migration file
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// RollbackInfo describes the rollback captured for a migration
type RollbackInfo struct {
	CanRollback  bool              `json:"canRollback"`
	RollbackSQL  string            `json:"rollbackSql,omitempty"`
	Irreversible []rollback.Action `json:"irreversible,omitempty"`
}

// MigrationResult is the outcome of executing one migration file
type MigrationResult struct {
	Success            bool              `json:"success"`
	Outcome            Outcome           `json:"outcome"`
	Migration          MigrationFile     `json:"migration"`
	StatementsExecuted int               `json:"statementsExecuted"`
	Error              string            `json:"error,omitempty"`
	FailedStatement    string            `json:"failedStatement,omitempty"`
	TablesCreated      []string          `json:"tablesCreated,omitempty"`
	Verification       map[string]string `json:"verification,omitempty"`
	RollbackInfo       RollbackInfo      `json:"rollbackInfo"`
	FallbackPath       string            `json:"fallbackPath,omitempty"`
	Duration           time.Duration     `json:"duration"`
}

// Table verification states reported in MigrationResult.Verification
const (
	TableVerified   = "verified"
	TableMissing    = "missing"
	TableUnverified = "could not verify"
)

// Options tune executor behavior
type Options struct {
	// TrackingTable is used to exclude the tracking table from schema checks
	TrackingTable string

	// FallbackDir receives manual fallback scripts; defaults to <migration dir>/manual
	FallbackDir string

	// RequireReversible fails a migration before execution when any statement
	// has no reverse action
	RequireReversible bool

	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// Executor applies migration files one statement at a time, records them in
// the tracking table and captures rollback SQL. Operations are serialized.
type Executor struct {
	db        backends.Database
	tracker   state.Tracker
	loader    *Loader
	publisher events.Publisher
	opts      Options
	mu        sync.Mutex
}

// NewExecutor creates a new migration executor
func NewExecutor(db backends.Database, tracker state.Tracker, loader *Loader, opts Options) *Executor {
	if loader == nil {
		loader = NewLoader("", nil)
	}
	if opts.TrackingTable == "" {
		opts.TrackingTable = "migrations"
	}
	return &Executor{
		db:        db,
		tracker:   tracker,
		loader:    loader,
		publisher: events.Noop{},
		opts:      opts,
	}
}

// SetPublisher sets the publisher for lifecycle events
func (e *Executor) SetPublisher(p events.Publisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p == nil {
		p = events.Noop{}
	}
	e.publisher = p
}

// Loader returns the migration file loader
func (e *Executor) Loader() *Loader {
	return e.loader
}

// Tracker returns the tracking table
func (e *Executor) Tracker() state.Tracker {
	return e.tracker
}

func (e *Executor) now() time.Time {
	if e.opts.Now != nil {
		return e.opts.Now()
	}
	return time.Now()
}

// Initialize checks the database connection and ensures the tracking table exists
func (e *Executor) Initialize(ctx context.Context) error {
	if err := e.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}
	if err := e.tracker.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize tracking table: %w", err)
	}
	logger.Debugf("Migration tracking table %s is ready", e.opts.TrackingTable)
	return nil
}

// HealthCheck performs health checks on the executor
func (e *Executor) HealthCheck(ctx context.Context) error {
	return e.db.HealthCheck(ctx)
}

// ExecuteMigration applies a single migration file
func (e *Executor) ExecuteMigration(ctx context.Context, path string) *MigrationResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executeMigration(ctx, NewMigrationFile(path))
}

// ExecuteMigrations applies files strictly in the given order and stops at the
// first failure. The returned results end with the failing file; later files
// are never attempted. Cancellation is checked between files only.
func (e *Executor) ExecuteMigrations(ctx context.Context, paths []string) []*MigrationResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	results := make([]*MigrationResult, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			logger.Warnf("Stopping migration run before %s: %v", path, err)
			break
		}
		result := e.executeMigration(ctx, NewMigrationFile(path))
		results = append(results, result)
		if !result.Success {
			logger.Errorf("Migration %s failed; remaining %d migration(s) not attempted",
				result.Migration.Filename, len(paths)-len(results))
			break
		}
	}
	return results
}

// RunPending discovers migration files and applies those not yet recorded
func (e *Executor) RunPending(ctx context.Context) ([]*MigrationResult, error) {
	status, err := e.Status(ctx)
	if err != nil {
		return nil, err
	}
	if len(status.Pending) == 0 {
		logger.Info("No pending migrations")
		return nil, nil
	}

	paths := make([]string, 0, len(status.Pending))
	for _, m := range status.Pending {
		paths = append(paths, m.Path)
	}
	logger.Infof("Running %d pending migration(s)", len(paths))
	return e.ExecuteMigrations(ctx, paths), nil
}

func (e *Executor) executeMigration(ctx context.Context, file MigrationFile) *MigrationResult {
	start := time.Now()
	result := &MigrationResult{Migration: file}
	defer func() { result.Duration = time.Since(start) }()
	log := logger.WithField("migration", file.Filename)

	executed, err := e.tracker.IsExecuted(ctx, file.Filename)
	if err != nil {
		e.fail(ctx, result, nil, nil, fmt.Sprintf("failed to check migration status: %v", err))
		return result
	}
	if executed {
		log.Info("Skipping: already executed")
		result.Success = true
		result.Outcome = OutcomeSkipped
		e.publish(ctx, events.TypeSkipped, result)
		return result
	}

	content, err := os.ReadFile(file.Path)
	if err != nil {
		e.fail(ctx, result, nil, nil, fmt.Sprintf("failed to read migration file: %v", err))
		return result
	}

	statements := sqlparse.Split(string(content))
	actions := rollback.Plan(statements)
	rollbackSQL, irreversible := rollback.Script(actions)
	result.RollbackInfo = RollbackInfo{
		CanRollback:  rollbackSQL != "",
		RollbackSQL:  rollbackSQL,
		Irreversible: irreversible,
	}
	result.TablesCreated = sqlparse.CreatedTables(string(content))

	for _, a := range irreversible {
		log.Warnf("%s statement cannot be rolled back: %s", a.Kind, a.Reason)
	}
	if e.opts.RequireReversible && len(irreversible) > 0 {
		e.fail(ctx, result, statements, nil,
			fmt.Sprintf("%d statement(s) have no rollback and reversible migrations are required", len(irreversible)))
		return result
	}

	log.Infof("Executing %d statement(s)", len(statements))
	for i, stmt := range statements {
		if err := e.db.ExecSQL(ctx, stmt); err != nil {
			result.FailedStatement = stmt
			failure := StatementFailure{Index: i, Statement: stmt, Error: err.Error()}

			if errors.Is(err, backends.ErrExecUnavailable) {
				e.fail(ctx, result, statements, []StatementFailure{failure},
					"the SQL execution function is not installed; run this script manually")
				e.publish(ctx, events.TypeManual, result)
				return result
			}

			log.Errorf("Statement %d failed: %v", i+1, err)
			e.fail(ctx, result, statements, []StatementFailure{failure},
				fmt.Sprintf("statement %d failed: %v", i+1, err))
			return result
		}
		result.StatementsExecuted++
	}

	record := &state.MigrationRecord{
		Filename:    file.Filename,
		Description: file.Description,
		RollbackSQL: rollbackSQL,
		Checksum:    file.Checksum(),
	}
	if err := e.tracker.Record(ctx, record); err != nil {
		e.fail(ctx, result, statements, nil, fmt.Sprintf("statements applied but recording failed: %v", err))
		return result
	}

	result.Success = true
	result.Outcome = OutcomeSuccess
	result.Verification = e.verifyTables(ctx, result.TablesCreated)
	log.Info("Applied")
	e.publish(ctx, events.TypeApplied, result)
	return result
}

// fail marks result as failed and writes the manual fallback script when the
// statements are known
func (e *Executor) fail(ctx context.Context, result *MigrationResult, statements []string, failures []StatementFailure, reason string) {
	result.Success = false
	result.Outcome = OutcomeFailed
	result.Error = reason

	if statements == nil {
		if content, err := os.ReadFile(result.Migration.Path); err == nil {
			statements = sqlparse.Split(string(content))
		}
	}
	if len(statements) > 0 {
		path, err := e.writeFallback(result.Migration, statements, failures, reason)
		if err != nil {
			logger.Errorf("Could not write fallback script for %s: %v", result.Migration.Filename, err)
		} else {
			result.FallbackPath = path
			logger.Warnf("Wrote manual fallback script %s", path)
		}
	}
	e.publish(ctx, events.TypeFailed, result)
}

// verifyTables probes each created table. Failures here never fail the migration.
func (e *Executor) verifyTables(ctx context.Context, tables []string) map[string]string {
	if len(tables) == 0 {
		return nil
	}
	verification := make(map[string]string, len(tables))
	for _, table := range tables {
		if err := e.db.TableQueryable(ctx, table); err == nil {
			verification[table] = TableVerified
			logger.Debugf("Verified table %s", table)
			continue
		}
		exists, err := e.db.TableExists(ctx, table)
		switch {
		case err != nil:
			verification[table] = TableUnverified
			logger.Warnf("Could not verify table %s: %v", table, err)
		case exists:
			verification[table] = TableUnverified
			logger.Warnf("Table %s exists but could not be queried", table)
		default:
			verification[table] = TableMissing
			logger.Warnf("Table %s was not found after migration", table)
		}
	}
	return verification
}

func (e *Executor) publish(ctx context.Context, t events.Type, result *MigrationResult) {
	event := events.NewEvent(t, result.Migration.Filename)
	event.Statements = result.StatementsExecuted
	event.Tables = result.TablesCreated
	event.Error = result.Error
	event.ExecutedBy = ExecutedBy(ctx)
	if err := e.publisher.Publish(ctx, event); err != nil {
		logger.Warnf("Failed to publish %s event for %s: %v", t, result.Migration.Filename, err)
	}
}

// RollbackResult represents the result of a rollback operation
type RollbackResult struct {
	Success     bool   `json:"success"`
	Filename    string `json:"filename"`
	RollbackSQL string `json:"rollbackSql,omitempty"`
	Message     string `json:"message"`
}

// Rollback executes the stored rollback SQL of filename and deletes its
// tracking record
func (e *Executor) Rollback(ctx context.Context, filename string) (*RollbackResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, err := e.tracker.Get(ctx, filename)
	if errors.Is(err, state.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMigrationNotFound, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load migration record: %w", err)
	}
	if !record.HasRollback() {
		return nil, fmt.Errorf("%w for %s", ErrRollbackUnavailable, filename)
	}

	logger.Infof("Rolling back %s", filename)
	if err := e.db.ExecSQL(ctx, record.RollbackSQL); err != nil {
		return &RollbackResult{
			Filename:    filename,
			RollbackSQL: record.RollbackSQL,
			Message:     fmt.Sprintf("rollback failed: %v", err),
		}, fmt.Errorf("failed to execute rollback for %s: %w", filename, err)
	}
	if err := e.tracker.Delete(ctx, filename); err != nil {
		return &RollbackResult{
			Filename:    filename,
			RollbackSQL: record.RollbackSQL,
			Message:     "rollback executed but the tracking record could not be removed",
		}, fmt.Errorf("failed to delete migration record for %s: %w", filename, err)
	}

	event := events.NewEvent(events.TypeRolledBack, filename)
	event.ExecutedBy = ExecutedBy(ctx)
	if err := e.publisher.Publish(ctx, event); err != nil {
		logger.Warnf("Failed to publish rollback event for %s: %v", filename, err)
	}

	return &RollbackResult{
		Success:     true,
		Filename:    filename,
		RollbackSQL: record.RollbackSQL,
		Message:     "rollback completed successfully",
	}, nil
}

// Status compares the tracking table with the migration files on disk
type Status struct {
	Executed []*state.MigrationRecord `json:"executed"`
	Pending  []MigrationFile          `json:"pending"`
	// Orphaned records have no matching file in any migration directory
	Orphaned []*state.MigrationRecord `json:"orphaned,omitempty"`
}

// Status returns executed, pending and orphaned migrations
func (e *Executor) Status(ctx context.Context) (*Status, error) {
	files, err := e.loader.Discover()
	if err != nil {
		return nil, err
	}
	records, err := e.tracker.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list executed migrations: %w", err)
	}

	executed := make(map[string]bool, len(records))
	for _, r := range records {
		executed[r.Filename] = true
	}
	onDisk := make(map[string]bool, len(files))

	status := &Status{Executed: records}
	for _, f := range files {
		onDisk[f.Filename] = true
		if !executed[f.Filename] {
			status.Pending = append(status.Pending, f)
		}
	}
	for _, r := range records {
		if !onDisk[r.Filename] {
			status.Orphaned = append(status.Orphaned, r)
		}
	}
	return status, nil
}
