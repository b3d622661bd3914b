package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/state"
)

// DefaultTable is the tracking table name used when none is configured
const DefaultTable = "migrations"

// Tracker implements state.Tracker for PostgreSQL
type Tracker struct {
	db     *sql.DB
	schema string
	table  string
}

// NewTracker creates a tracker over an open connection pool. Call Initialize
// before use.
func NewTracker(db *sql.DB, schema, table string) *Tracker {
	if table == "" {
		table = DefaultTable
	}
	return &Tracker{
		db:     db,
		schema: schema,
		table:  table,
	}
}

// Table returns the unqualified tracking table name
func (t *Tracker) Table() string {
	return t.table
}

func (t *Tracker) tableName() string {
	if t.schema != "" && t.schema != "public" {
		return fmt.Sprintf("%s.%s", pq.QuoteIdentifier(t.schema), pq.QuoteIdentifier(t.table))
	}
	return pq.QuoteIdentifier(t.table)
}

// Initialize creates the tracking table
func (t *Tracker) Initialize(ctx context.Context) error {
	// Ensure schema exists
	if t.schema != "" && t.schema != "public" {
		schemaQuery := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(t.schema))
		if _, err := t.db.ExecContext(ctx, schemaQuery); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	tableName := t.tableName()
	createTableSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			filename TEXT UNIQUE NOT NULL,
			description TEXT,
			executed_at TIMESTAMPTZ DEFAULT NOW(),
			rollback_sql TEXT,
			checksum TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)
	`, tableName)

	if _, err := t.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create %s table: %w", t.table, err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (filename)", pq.QuoteIdentifier("idx_"+t.table+"_filename"), tableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (executed_at)", pq.QuoteIdentifier("idx_"+t.table+"_executed_at"), tableName),
	}
	for _, indexSQL := range indexes {
		if _, err := t.db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("failed to create %s index: %w", t.table, err)
		}
	}

	return nil
}

// IsExecuted checks if a migration file has been recorded
func (t *Tracker) IsExecuted(ctx context.Context, filename string) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE filename = $1)", t.tableName())
	var exists bool
	if err := t.db.QueryRowContext(ctx, query, filename).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check migration %s: %w", filename, err)
	}
	return exists, nil
}

// Record inserts a tracking record. ID and ExecutedAt are filled in when empty.
func (t *Tracker) Record(ctx context.Context, record *state.MigrationRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.ExecutedAt.IsZero() {
		record.ExecutedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, filename, description, executed_at, rollback_sql, checksum)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.tableName())

	_, err := t.db.ExecContext(ctx, query,
		record.ID, record.Filename, record.Description, record.ExecutedAt,
		nullString(record.RollbackSQL), record.Checksum)
	if err != nil {
		return fmt.Errorf("failed to record migration %s: %w", record.Filename, err)
	}
	return nil
}

// Get returns the tracking record for filename
func (t *Tracker) Get(ctx context.Context, filename string) (*state.MigrationRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, filename, COALESCE(description, ''), executed_at, rollback_sql, COALESCE(checksum, '')
		FROM %s
		WHERE filename = $1
	`, t.tableName())

	record, err := scanRecord(t.db.QueryRowContext(ctx, query, filename))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get migration %s: %w", filename, err)
	}
	return record, nil
}

// Delete removes the tracking record for filename
func (t *Tracker) Delete(ctx context.Context, filename string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE filename = $1", t.tableName())
	result, err := t.db.ExecContext(ctx, query, filename)
	if err != nil {
		return fmt.Errorf("failed to delete migration %s: %w", filename, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return state.ErrRecordNotFound
	}
	return nil
}

// List returns every tracking record, oldest first
func (t *Tracker) List(ctx context.Context) ([]*state.MigrationRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, filename, COALESCE(description, ''), executed_at, rollback_sql, COALESCE(checksum, '')
		FROM %s
		ORDER BY executed_at ASC, filename ASC
	`, t.tableName())

	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	var records []*state.MigrationRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*state.MigrationRecord, error) {
	var (
		record     state.MigrationRecord
		executedAt sql.NullTime
		rollback   sql.NullString
	)
	if err := row.Scan(&record.ID, &record.Filename, &record.Description, &executedAt, &rollback, &record.Checksum); err != nil {
		return nil, err
	}
	if executedAt.Valid {
		record.ExecutedAt = executedAt.Time
	}
	record.RollbackSQL = strings.TrimSpace(rollback.String)
	return &record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
